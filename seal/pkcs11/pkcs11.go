// Package pkcs11 seals documents with a key stored on a PKCS#11 token or
// HSM.
package pkcs11

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/rsa"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/miekg/pkcs11"

	"github.com/digitorus/signflow/internal/sigfmt"
)

// Module is the subset of *pkcs11.Ctx used by Signer.
type Module interface {
	Initialize() error
	Finalize() error
	Destroy()
	GetSlotList(tokenPresent bool) ([]uint, error)
	GetTokenInfo(slotID uint) (pkcs11.TokenInfo, error)
	OpenSession(slotID uint, flags uint) (pkcs11.SessionHandle, error)
	CloseSession(sh pkcs11.SessionHandle) error
	Login(sh pkcs11.SessionHandle, userType uint, pin string) error
	Logout(sh pkcs11.SessionHandle) error
	FindObjectsInit(sh pkcs11.SessionHandle, temp []*pkcs11.Attribute) error
	FindObjects(sh pkcs11.SessionHandle, max int) ([]pkcs11.ObjectHandle, bool, error)
	FindObjectsFinal(sh pkcs11.SessionHandle) error
	SignInit(sh pkcs11.SessionHandle, m []*pkcs11.Mechanism, o pkcs11.ObjectHandle) error
	Sign(sh pkcs11.SessionHandle, message []byte) ([]byte, error)
}

// Config selects the token and key.
type Config struct {
	Module string // path to the PKCS#11 library
	Token  string // token label, empty for the first token present
	Key    string // private key label, empty for the first private key
	PIN    string
}

// Signer implements crypto.Signer with a token key. Every signature opens
// and closes its own session.
type Signer struct {
	cfg  Config
	pub  crypto.PublicKey
	open func(path string) (Module, error)

	// serializes sessions on the token
	mu sync.Mutex
}

var _ crypto.Signer = (*Signer)(nil)

// New returns a Signer loading cfg.Module on every signature.
func New(cfg Config, pub crypto.PublicKey) (*Signer, error) {
	return NewWithModule(cfg, pub, func(path string) (Module, error) {
		p := pkcs11.New(path)
		if p == nil {
			return nil, fmt.Errorf("pkcs11: failed to load module %s", path)
		}
		return p, nil
	})
}

// NewWithModule returns a Signer using open to load the module.
func NewWithModule(cfg Config, pub crypto.PublicKey, open func(path string) (Module, error)) (*Signer, error) {
	if cfg.Module == "" {
		return nil, errors.New("pkcs11: module path is required")
	}
	switch pub.(type) {
	case *rsa.PublicKey, *ecdsa.PublicKey:
	default:
		return nil, fmt.Errorf("pkcs11: unsupported public key %T", pub)
	}
	return &Signer{cfg: cfg, pub: pub, open: open}, nil
}

// Public returns the public key.
func (s *Signer) Public() crypto.PublicKey {
	return s.pub
}

// Sign signs digest on the token. RSA keys use CKM_RSA_PKCS over a
// DigestInfo and ECDSA keys use CKM_ECDSA with the result converted to DER.
func (s *Signer) Sign(_ io.Reader, digest []byte, opts crypto.SignerOpts) ([]byte, error) {
	if _, ok := opts.(*rsa.PSSOptions); ok {
		return nil, errors.New("pkcs11: PSS is not supported")
	}

	var (
		mechanism *pkcs11.Mechanism
		message   = digest
	)
	switch s.pub.(type) {
	case *rsa.PublicKey:
		info, err := sigfmt.DigestInfo(opts.HashFunc(), digest)
		if err != nil {
			return nil, fmt.Errorf("pkcs11: %w", err)
		}
		mechanism, message = pkcs11.NewMechanism(pkcs11.CKM_RSA_PKCS, nil), info
	case *ecdsa.PublicKey:
		mechanism = pkcs11.NewMechanism(pkcs11.CKM_ECDSA, nil)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	p, err := s.open(s.cfg.Module)
	if err != nil {
		return nil, err
	}
	if err := p.Initialize(); err != nil {
		p.Destroy()
		return nil, fmt.Errorf("pkcs11: error initializing module: %w", err)
	}
	defer func() {
		_ = p.Finalize()
		p.Destroy()
	}()

	session, err := s.openSession(p)
	if err != nil {
		return nil, err
	}
	defer func() { _ = p.CloseSession(session) }()

	if s.cfg.PIN != "" {
		if err := p.Login(session, pkcs11.CKU_USER, s.cfg.PIN); err != nil {
			return nil, fmt.Errorf("pkcs11: error logging in: %w", err)
		}
		defer func() { _ = p.Logout(session) }()
	}

	key, err := s.findKey(p, session)
	if err != nil {
		return nil, err
	}
	if err := p.SignInit(session, []*pkcs11.Mechanism{mechanism}, key); err != nil {
		return nil, fmt.Errorf("pkcs11: sign init failed: %w", err)
	}
	sig, err := p.Sign(session, message)
	if err != nil {
		return nil, fmt.Errorf("pkcs11: sign failed: %w", err)
	}
	if _, ok := s.pub.(*ecdsa.PublicKey); ok {
		return sigfmt.ECDSAToASN1(sig)
	}
	return sig, nil
}

func (s *Signer) openSession(p Module) (pkcs11.SessionHandle, error) {
	slots, err := p.GetSlotList(true)
	if err != nil {
		return 0, fmt.Errorf("pkcs11: error getting slots: %w", err)
	}
	for _, id := range slots {
		info, err := p.GetTokenInfo(id)
		if err != nil {
			continue
		}
		if s.cfg.Token == "" || info.Label == s.cfg.Token {
			session, err := p.OpenSession(id, pkcs11.CKF_SERIAL_SESSION)
			if err != nil {
				return 0, fmt.Errorf("pkcs11: error opening session: %w", err)
			}
			return session, nil
		}
	}
	return 0, fmt.Errorf("pkcs11: token with label %q not found", s.cfg.Token)
}

func (s *Signer) findKey(p Module, session pkcs11.SessionHandle) (pkcs11.ObjectHandle, error) {
	template := []*pkcs11.Attribute{
		pkcs11.NewAttribute(pkcs11.CKA_CLASS, pkcs11.CKO_PRIVATE_KEY),
	}
	if s.cfg.Key != "" {
		template = append(template, pkcs11.NewAttribute(pkcs11.CKA_LABEL, s.cfg.Key))
	}
	if err := p.FindObjectsInit(session, template); err != nil {
		return 0, fmt.Errorf("pkcs11: error finding objects: %w", err)
	}
	objs, _, err := p.FindObjects(session, 1)
	if ferr := p.FindObjectsFinal(session); err == nil && ferr != nil {
		err = ferr
	}
	if err != nil {
		return 0, fmt.Errorf("pkcs11: error finding objects: %w", err)
	}
	if len(objs) == 0 {
		return 0, errors.New("pkcs11: private key not found")
	}
	return objs[0], nil
}
