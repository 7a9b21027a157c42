package pkcs11

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"errors"
	"math/big"
	"testing"

	"github.com/miekg/pkcs11"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// softToken emulates a single token holding one private key.
type softToken struct {
	label     string
	key       crypto.Signer
	pin       string
	mechanism uint
	loggedIn  bool
	closed    bool
	finalized bool
}

func (m *softToken) Initialize() error { return nil }
func (m *softToken) Finalize() error   { m.finalized = true; return nil }
func (m *softToken) Destroy()          {}

func (m *softToken) GetSlotList(bool) ([]uint, error) { return []uint{0, 1}, nil }

func (m *softToken) GetTokenInfo(slot uint) (pkcs11.TokenInfo, error) {
	if slot == 0 {
		return pkcs11.TokenInfo{Label: "other"}, nil
	}
	return pkcs11.TokenInfo{Label: m.label}, nil
}

func (m *softToken) OpenSession(slot uint, _ uint) (pkcs11.SessionHandle, error) {
	return pkcs11.SessionHandle(slot + 10), nil
}

func (m *softToken) CloseSession(pkcs11.SessionHandle) error { m.closed = true; return nil }

func (m *softToken) Login(_ pkcs11.SessionHandle, _ uint, pin string) error {
	if pin != m.pin {
		return errors.New("CKR_PIN_INCORRECT")
	}
	m.loggedIn = true
	return nil
}

func (m *softToken) Logout(pkcs11.SessionHandle) error { m.loggedIn = false; return nil }

func (m *softToken) FindObjectsInit(pkcs11.SessionHandle, []*pkcs11.Attribute) error { return nil }

func (m *softToken) FindObjects(pkcs11.SessionHandle, int) ([]pkcs11.ObjectHandle, bool, error) {
	return []pkcs11.ObjectHandle{7}, false, nil
}

func (m *softToken) FindObjectsFinal(pkcs11.SessionHandle) error { return nil }

func (m *softToken) SignInit(_ pkcs11.SessionHandle, mech []*pkcs11.Mechanism, _ pkcs11.ObjectHandle) error {
	m.mechanism = mech[0].Mechanism
	return nil
}

func (m *softToken) Sign(_ pkcs11.SessionHandle, msg []byte) ([]byte, error) {
	if !m.loggedIn {
		return nil, errors.New("CKR_USER_NOT_LOGGED_IN")
	}
	switch k := m.key.(type) {
	case *rsa.PrivateKey:
		// CKM_RSA_PKCS pads the DigestInfo as given.
		return rsa.SignPKCS1v15(nil, k, 0, msg)
	case *ecdsa.PrivateKey:
		r, s, err := ecdsa.Sign(rand.Reader, k, msg)
		if err != nil {
			return nil, err
		}
		raw := make([]byte, 64)
		r.FillBytes(raw[:32])
		s.FillBytes(raw[32:])
		return raw, nil
	}
	return nil, errors.New("CKR_KEY_TYPE_INCONSISTENT")
}

func signer(t *testing.T, tok *softToken, cfg Config) *Signer {
	t.Helper()
	s, err := NewWithModule(cfg, tok.key.Public(), func(string) (Module, error) { return tok, nil })
	require.NoError(t, err)
	return s
}

func TestSignRSA(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	tok := &softToken{label: "seal", key: key, pin: "1234"}
	s := signer(t, tok, Config{Module: "softhsm2.so", Token: "seal", PIN: "1234"})

	digest := sha256.Sum256([]byte("completed document"))
	sig, err := s.Sign(nil, digest[:], crypto.SHA256)
	require.NoError(t, err)
	assert.NoError(t, rsa.VerifyPKCS1v15(&key.PublicKey, crypto.SHA256, digest[:], sig))
	assert.Equal(t, uint(pkcs11.CKM_RSA_PKCS), tok.mechanism)
	assert.False(t, tok.loggedIn)
	assert.True(t, tok.closed)
	assert.True(t, tok.finalized)
}

func TestSignECDSA(t *testing.T) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	tok := &softToken{label: "seal", key: key, pin: "1234"}
	s := signer(t, tok, Config{Module: "softhsm2.so", PIN: "1234"})

	digest := sha256.Sum256([]byte("completed document"))
	sig, err := s.Sign(nil, digest[:], crypto.SHA256)
	require.NoError(t, err)
	assert.True(t, ecdsa.VerifyASN1(&key.PublicKey, digest[:], sig))
	assert.Equal(t, uint(pkcs11.CKM_ECDSA), tok.mechanism)
}

func TestSignErrors(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	digest := sha256.Sum256([]byte("completed document"))

	s := signer(t, &softToken{label: "seal", key: key, pin: "1234"}, Config{Module: "softhsm2.so", PIN: "0000"})
	_, err = s.Sign(nil, digest[:], crypto.SHA256)
	assert.ErrorContains(t, err, "CKR_PIN_INCORRECT")

	s = signer(t, &softToken{label: "seal", key: key}, Config{Module: "softhsm2.so", Token: "missing"})
	_, err = s.Sign(nil, digest[:], crypto.SHA256)
	assert.ErrorContains(t, err, `"missing" not found`)

	_, err = s.Sign(nil, digest[:], &rsa.PSSOptions{Hash: crypto.SHA256})
	assert.Error(t, err)

	_, err = s.Sign(nil, make([]byte, 20), crypto.SHA1)
	assert.Error(t, err)
}

func TestNew(t *testing.T) {
	pub := &rsa.PublicKey{N: big.NewInt(1), E: 65537}
	_, err := New(Config{}, pub)
	assert.Error(t, err)
	_, err = New(Config{Module: "softhsm2.so"}, "not a key")
	assert.Error(t, err)

	s, err := New(Config{Module: "softhsm2.so"}, pub)
	require.NoError(t, err)
	assert.Same(t, pub, s.Public())
}
