// Package config reads the signflow service configuration from a TOML file.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/asaskevich/govalidator"
)

var DefaultLocation = "./signflow.toml" // Default location of the config file

// Config is the root of the config
type Config struct {
	Server  Server  `toml:"server"`
	Storage Storage `toml:"storage"`
	Blobs   Blobs   `toml:"blobs"`
	Redis   Redis   `toml:"redis"`
	Links   Links   `toml:"links"`
	Seal    Seal    `toml:"seal"`
	Log     Log     `toml:"log"`
}

// Server configures the HTTP API and the workflow limits.
type Server struct {
	Addr           string        `toml:"addr" valid:"required"`
	MaxUploadBytes int64         `toml:"max_upload_bytes" valid:"optional"`
	SweepInterval  time.Duration `toml:"sweep_interval" valid:"optional"`
	// LinkRPS limits share link requests per client address. Zero disables it.
	LinkRPS   float64 `toml:"link_rps" valid:"optional"`
	LinkBurst int     `toml:"link_burst" valid:"optional"`
	// Font is a standard PDF font name or the path of a TrueType file.
	Font string `toml:"font" valid:"optional"`
}

// Storage selects the document store.
type Storage struct {
	Driver string `toml:"driver" valid:"in(memory|sqlite),required"`
	Path   string `toml:"path" valid:"optional"`
}

// Blobs selects where PDF files are kept.
type Blobs struct {
	Driver   string `toml:"driver" valid:"in(memory|fs|s3),required"`
	Dir      string `toml:"dir" valid:"optional"`
	Bucket   string `toml:"bucket" valid:"optional"`
	Region   string `toml:"region" valid:"optional"`
	Endpoint string `toml:"endpoint" valid:"url,optional"`
	Prefix   string `toml:"prefix" valid:"optional"`
}

// Redis enables the shared document lock when Addr is set.
type Redis struct {
	Addr     string `toml:"addr" valid:"dialstring,optional"`
	Password string `toml:"password" valid:"optional"`
	DB       int    `toml:"db" valid:"optional"`
	Prefix   string `toml:"prefix" valid:"optional"`
}

// Links configures share link tokens.
type Links struct {
	Secret string `toml:"secret" valid:"required,minstringlength(16)"`
	// BaseURL is prefixed to tokens in notifications, e.g. https://sign.example.com/s/
	BaseURL string `toml:"base_url" valid:"url,optional"`
}

// Seal configures the seal applied to completed documents. Sealing is off
// unless a certificate or key is configured.
type Seal struct {
	// Provider holds the private key: a PEM file, a cloud KMS, a PKCS#11
	// token or a CSC remote signing service.
	Provider string `toml:"provider" valid:"in(file|aws|gcp|azure|pkcs11|csc),optional"`
	Cert     string `toml:"cert" valid:"optional"`
	Chain    string `toml:"chain" valid:"optional"`

	Key string `toml:"key" valid:"optional"` // file

	// KeyID is the AWS key id or alias, the GCP key version name, the
	// Azure key name or the CSC credential id.
	KeyID      string `toml:"key_id" valid:"optional"`
	KeyVersion string `toml:"key_version" valid:"optional"` // azure
	Region     string `toml:"region" valid:"optional"`      // aws
	Vault      string `toml:"vault" valid:"url,optional"`   // azure

	Module string `toml:"module" valid:"optional"` // pkcs11
	Token  string `toml:"token" valid:"optional"`  // token label
	Label  string `toml:"label" valid:"optional"`  // key label
	PIN    string `toml:"pin" valid:"optional"`    // pkcs11, csc

	Endpoint  string `toml:"endpoint" valid:"url,optional"` // csc
	AuthToken string `toml:"auth_token" valid:"optional"`
	OTP       string `toml:"otp" valid:"optional"`

	TSAURL      string `toml:"tsa_url" valid:"url,optional"`
	TSAUsername string `toml:"tsa_username" valid:"optional"`
	TSAPassword string `toml:"tsa_password" valid:"optional"`

	// Revocation status of the certificate embedded in every seal.
	EmbedOCSP bool `toml:"embed_ocsp" valid:"optional"`
	EmbedCRL  bool `toml:"embed_crl" valid:"optional"`
	PreferCRL bool `toml:"prefer_crl" valid:"optional"`
}

// Enabled reports whether sealing is configured.
func (s Seal) Enabled() bool {
	return s.Cert != "" || s.Key != "" || s.KeyID != "" || s.Module != "" || s.Endpoint != ""
}

func (s Seal) validate() []error {
	if !s.Enabled() {
		return nil
	}
	var errs []error
	if s.Cert == "" && s.Provider != "csc" {
		errs = append(errs, errors.New("seal.cert is required when sealing"))
	}
	switch s.Provider {
	case "", "file":
		if s.Key == "" {
			errs = append(errs, errors.New("seal.key is required for the file provider"))
		}
	case "aws", "gcp":
		if s.KeyID == "" {
			errs = append(errs, fmt.Errorf("seal.key_id is required for the %s provider", s.Provider))
		}
	case "azure":
		if s.KeyID == "" || s.Vault == "" {
			errs = append(errs, errors.New("seal.vault and seal.key_id are required for the azure provider"))
		}
	case "pkcs11":
		if s.Module == "" {
			errs = append(errs, errors.New("seal.module is required for the pkcs11 provider"))
		}
	case "csc":
		if s.Endpoint == "" || s.KeyID == "" {
			errs = append(errs, errors.New("seal.endpoint and seal.key_id are required for the csc provider"))
		}
	}
	return errs
}

// Log configures the service logger.
type Log struct {
	Level  string `toml:"level" valid:"in(debug|info|warn|error),optional"`
	Format string `toml:"format" valid:"in(json|console),optional"`
	Path   string `toml:"path" valid:"optional"`
}

// Default returns a configuration that runs entirely in memory. The link
// secret must still be supplied.
func Default() Config {
	return Config{
		Server:  Server{Addr: ":8080", SweepInterval: time.Minute, LinkRPS: 5, LinkBurst: 20},
		Storage: Storage{Driver: "memory"},
		Blobs:   Blobs{Driver: "memory"},
		Redis:   Redis{Prefix: "signflow:lock:"},
		Seal:    Seal{Provider: "file"},
		Log:     Log{Level: "info", Format: "json"},
	}
}

// ValidateFields validates all the fields of the config
func (c Config) ValidateFields() error {
	if _, err := govalidator.ValidateStruct(c); err != nil {
		return err
	}

	var errs []error
	if c.Storage.Driver == "sqlite" && c.Storage.Path == "" {
		errs = append(errs, errors.New("storage.path is required for the sqlite driver"))
	}
	switch c.Blobs.Driver {
	case "fs":
		if c.Blobs.Dir == "" {
			errs = append(errs, errors.New("blobs.dir is required for the fs driver"))
		}
	case "s3":
		if c.Blobs.Bucket == "" {
			errs = append(errs, errors.New("blobs.bucket is required for the s3 driver"))
		}
	}
	errs = append(errs, c.Seal.validate()...)
	if c.Server.SweepInterval < 0 {
		errs = append(errs, errors.New("server.sweep_interval must not be negative"))
	}
	if c.Server.LinkRPS < 0 || c.Server.LinkBurst < 0 {
		errs = append(errs, errors.New("server.link_rps and server.link_burst must not be negative"))
	}
	return errors.Join(errs...)
}

// Decode parses a TOML document over the defaults and validates it.
func Decode(data string) (Config, error) {
	c := Default()
	md, err := toml.Decode(data, &c)
	if err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return Config{}, fmt.Errorf("unknown config keys: %v", undecoded)
	}
	if err := c.ValidateFields(); err != nil {
		return Config{}, fmt.Errorf("config is not valid: %w", err)
	}
	return c, nil
}

// Read loads and validates the config file.
func Read(configfile string) (Config, error) {
	data, err := os.ReadFile(configfile)
	if err != nil {
		return Config{}, fmt.Errorf("config file is missing: %w", err)
	}
	return Decode(string(data))
}
