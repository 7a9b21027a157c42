// Package sharelink issues and resolves the per-signer links that grant
// access to a document.
//
// A link is a deterministic, HMAC signed encoding of (document, signer email,
// signer id, notify flag). Issuing the same tuple twice yields the same token
// and nothing is stored. It is a low-assurance bearer capability: anyone
// holding the token can act as the signer, so it must be delivered only to
// the signer and never be treated as a secret beyond the HMAC key.
package sharelink

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/hkdf"
)

// IssuerName is the JWT issuer claim of every link.
const IssuerName = "signflow"

// MinSecretLength is the shortest accepted link secret, in bytes.
const MinSecretLength = 16

var (
	// ErrMalformedToken is returned for tokens that fail to decode or verify.
	ErrMalformedToken = errors.New("malformed share link token")
	// ErrWeakSecret is returned for secrets shorter than MinSecretLength.
	ErrWeakSecret = errors.New("share link secret too short")
)

// Link identifies one signer of one document.
type Link struct {
	DocumentID  string `json:"documentId"`
	SignerEmail string `json:"signerEmail"`
	SignerID    string `json:"signerId"`
	Notify      bool   `json:"notify"`
}

type claims struct {
	jwt.RegisteredClaims
	DocumentID  string `json:"doc"`
	SignerEmail string `json:"email"`
	SignerID    string `json:"sid"`
	Notify      bool   `json:"notify,omitempty"`
}

// Issuer signs and verifies links with a key derived from a secret.
type Issuer struct {
	key []byte
}

// New derives the signing key from secret.
func New(secret []byte) (*Issuer, error) {
	if len(secret) < MinSecretLength {
		return nil, fmt.Errorf("%w: %d bytes, need %d", ErrWeakSecret, len(secret), MinSecretLength)
	}
	key := make([]byte, 32)
	if _, err := io.ReadFull(hkdf.New(sha256.New, secret, nil, []byte("signflow share link v1")), key); err != nil {
		return nil, fmt.Errorf("derive share link key: %w", err)
	}
	return &Issuer{key: key}, nil
}

// Issue returns the token for l.
func (i *Issuer) Issue(l Link) (string, error) {
	if l.DocumentID == "" || l.SignerID == "" {
		return "", fmt.Errorf("share link needs a document and a signer")
	}
	c := claims{
		RegisteredClaims: jwt.RegisteredClaims{Issuer: IssuerName},
		DocumentID:       l.DocumentID,
		SignerEmail:      l.SignerEmail,
		SignerID:         l.SignerID,
		Notify:           l.Notify,
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, c).SignedString(i.key)
}

// Resolve verifies token and returns the link it encodes.
func (i *Issuer) Resolve(token string) (Link, error) {
	var c claims
	parsed, err := jwt.ParseWithClaims(token, &c, func(*jwt.Token) (interface{}, error) {
		return i.key, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithIssuer(IssuerName))
	if err != nil {
		return Link{}, fmt.Errorf("%w: %v", ErrMalformedToken, err)
	}
	if !parsed.Valid || c.DocumentID == "" || c.SignerID == "" {
		return Link{}, ErrMalformedToken
	}
	return Link{
		DocumentID:  c.DocumentID,
		SignerEmail: c.SignerEmail,
		SignerID:    c.SignerID,
		Notify:      c.Notify,
	}, nil
}
