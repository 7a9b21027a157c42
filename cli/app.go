package cli

import (
	"context"
	"crypto"
	"errors"
	"fmt"
	"os"

	"github.com/digitorus/signflow"
	"github.com/digitorus/signflow/config"
	"github.com/digitorus/signflow/fonts"
	"github.com/digitorus/signflow/internal/logger"
	"github.com/digitorus/signflow/lock"
	"github.com/digitorus/signflow/notify"
	"github.com/digitorus/signflow/seal"
	"github.com/digitorus/signflow/seal/awskms"
	"github.com/digitorus/signflow/seal/azurekv"
	"github.com/digitorus/signflow/seal/csc"
	"github.com/digitorus/signflow/seal/gcpkms"
	"github.com/digitorus/signflow/seal/pkcs11"
	"github.com/digitorus/signflow/sharelink"
	"github.com/digitorus/signflow/storage/fsblob"
	"github.com/digitorus/signflow/storage/memory"
	"github.com/digitorus/signflow/storage/s3blob"
	"github.com/digitorus/signflow/storage/sqlite"
)

// app is a workflow wired from the config and the resources to release
// when the command ends.
type app struct {
	cfg      config.Config
	log      *logger.Logger
	workflow *signflow.Workflow
	closers  []func() error
}

// Close releases everything newApp opened, in reverse order.
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func loadApp(ctx context.Context) (*app, error) {
	cfg, err := config.Read(configPath)
	if err != nil {
		return nil, err
	}
	return newApp(ctx, cfg)
}

func newApp(ctx context.Context, cfg config.Config) (a *app, err error) {
	a = &app{cfg: cfg}
	defer func() {
		if err != nil {
			_ = a.Close()
		}
	}()

	build := logger.New().Level(cfg.Log.Level).Format(cfg.Log.Format)
	if cfg.Log.Path != "" {
		build = build.FromPath(cfg.Log.Path)
	}
	if a.log, err = build.Make(); err != nil {
		return a, err
	}
	a.closers = append(a.closers, a.log.Close)
	log := a.log.Logger

	store, err := a.openStore()
	if err != nil {
		return a, err
	}
	blobs, err := openBlobs(ctx, cfg.Blobs)
	if err != nil {
		return a, err
	}
	links, err := sharelink.New([]byte(cfg.Links.Secret))
	if err != nil {
		return a, err
	}

	opts := []signflow.Option{
		signflow.WithLogger(log.With().Str("component", "workflow").Logger()),
		signflow.WithNotifier(notify.Log{Logger: log.With().Str("component", "notify").Logger()}),
		signflow.WithMaxUploadBytes(cfg.Server.MaxUploadBytes),
	}
	if cfg.Redis.Addr != "" {
		client := lock.NewRedisClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		a.closers = append(a.closers, client.Close)
		opts = append(opts, signflow.WithLocker(lock.NewRedis(client, cfg.Redis.Prefix)))
	}
	if cfg.Seal.Enabled() {
		s, err := a.loadSealer(ctx, cfg.Seal)
		if err != nil {
			return a, err
		}
		opts = append(opts, signflow.WithSealer(s))
	}
	if cfg.Server.Font != "" {
		f, err := loadFont(cfg.Server.Font)
		if err != nil {
			return a, err
		}
		opts = append(opts, signflow.WithFont(f))
	}

	if a.workflow, err = signflow.New(store, blobs, links, opts...); err != nil {
		return a, err
	}
	return a, nil
}

func (a *app) openStore() (signflow.Store, error) {
	switch a.cfg.Storage.Driver {
	case "sqlite":
		s, err := sqlite.NewStore(a.cfg.Storage.Path)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, s.Close)
		return s, nil
	default:
		return memory.NewStore(), nil
	}
}

func openBlobs(ctx context.Context, cfg config.Blobs) (signflow.BlobStore, error) {
	switch cfg.Driver {
	case "fs":
		return fsblob.New(cfg.Dir)
	case "s3":
		return s3blob.New(ctx, s3blob.Config{
			Bucket:   cfg.Bucket,
			Region:   cfg.Region,
			Endpoint: cfg.Endpoint,
			Prefix:   cfg.Prefix,
		})
	default:
		return memory.NewBlobs(), nil
	}
}

// loadSealer reads the seal certificate and opens the configured key. The
// chain file, if any, is appended to the certificate so its intermediates
// travel with the seal.
func (a *app) loadSealer(ctx context.Context, cfg config.Seal) (*seal.Sealer, error) {
	var opts []seal.Option
	if cfg.TSAURL != "" {
		opts = append(opts, seal.WithTSA(seal.TSA{
			URL:      cfg.TSAURL,
			Username: cfg.TSAUsername,
			Password: cfg.TSAPassword,
		}))
	}
	if cfg.EmbedOCSP || cfg.EmbedCRL {
		opts = append(opts, seal.WithRevocation(seal.Revocation{
			OCSP:      cfg.EmbedOCSP,
			CRL:       cfg.EmbedCRL,
			PreferCRL: cfg.PreferCRL,
		}))
	}

	// A CSC credential carries its own certificates.
	if cfg.Provider == "csc" {
		key, err := csc.Dial(ctx, csc.Config{
			BaseURL:      cfg.Endpoint,
			CredentialID: cfg.KeyID,
			AuthToken:    cfg.AuthToken,
			PIN:          cfg.PIN,
			OTP:          cfg.OTP,
		})
		if err != nil {
			return nil, fmt.Errorf("open seal key: %w", err)
		}
		return seal.New(key.Certificate(), key, append([]seal.Option{seal.WithChain(key.Chain())}, opts...)...)
	}

	certPEM, err := os.ReadFile(cfg.Cert)
	if err != nil {
		return nil, fmt.Errorf("read seal certificate: %w", err)
	}
	if cfg.Chain != "" {
		chainPEM, err := os.ReadFile(cfg.Chain)
		if err != nil {
			return nil, fmt.Errorf("read seal chain: %w", err)
		}
		certPEM = append(append(certPEM, '\n'), chainPEM...)
	}

	if cfg.Provider == "" || cfg.Provider == "file" {
		keyPEM, err := os.ReadFile(cfg.Key)
		if err != nil {
			return nil, fmt.Errorf("read seal key: %w", err)
		}
		return seal.LoadPEM(certPEM, keyPEM, opts...)
	}

	certs, err := seal.ParseCertificates(certPEM)
	if err != nil {
		return nil, err
	}
	pub := certs[0].PublicKey
	var key crypto.Signer
	switch cfg.Provider {
	case "aws":
		key, err = awskms.NewFromConfig(ctx, cfg.Region, cfg.KeyID, pub)
	case "gcp":
		var s *gcpkms.Signer
		if s, err = gcpkms.Dial(ctx, cfg.KeyID, pub); err == nil {
			a.closers = append(a.closers, s.Close)
			key = s
		}
	case "azure":
		key, err = azurekv.Dial(cfg.Vault, nil, cfg.KeyID, cfg.KeyVersion, pub)
	case "pkcs11":
		key, err = pkcs11.New(pkcs11.Config{
			Module: cfg.Module,
			Token:  cfg.Token,
			Key:    cfg.Label,
			PIN:    cfg.PIN,
		}, pub)
	default:
		err = fmt.Errorf("unknown seal provider %q", cfg.Provider)
	}
	if err != nil {
		return nil, fmt.Errorf("open seal key: %w", err)
	}
	return seal.New(certs[0], key, append([]seal.Option{seal.WithChain(certs[1:])}, opts...)...)
}

// loadFont returns the standard font called name, or the TrueType font at
// that path.
func loadFont(name string) (*fonts.Font, error) {
	if f, err := fonts.ByName(name); err == nil {
		return f, nil
	}
	data, err := os.ReadFile(name)
	if err != nil {
		return nil, fmt.Errorf("font %q is neither a standard font nor a readable file: %w", name, err)
	}
	return fonts.Load(data)
}
