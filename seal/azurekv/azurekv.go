// Package azurekv seals documents with a key held in Azure Key Vault.
package azurekv

import (
	"context"
	"crypto"
	"crypto/ecdsa"
	"crypto/rsa"
	"errors"
	"fmt"
	"io"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/Azure/azure-sdk-for-go/sdk/security/keyvault/azkeys"

	"github.com/digitorus/signflow/internal/sigfmt"
)

// API is the subset of the Key Vault client used by Signer.
type API interface {
	Sign(ctx context.Context, name string, version string, parameters azkeys.SignParameters, options *azkeys.SignOptions) (azkeys.SignResponse, error)
}

// Signer implements crypto.Signer with a Key Vault key. An empty version
// selects the latest version of the key.
type Signer struct {
	client  API
	name    string
	version string
	pub     crypto.PublicKey
}

var _ crypto.Signer = (*Signer)(nil)

// New returns a Signer using an existing client.
func New(client API, name, version string, pub crypto.PublicKey) (*Signer, error) {
	if client == nil {
		return nil, errors.New("azurekv: client is required")
	}
	if name == "" {
		return nil, errors.New("azurekv: key name is required")
	}
	switch pub.(type) {
	case *rsa.PublicKey, *ecdsa.PublicKey:
	default:
		return nil, fmt.Errorf("azurekv: unsupported public key %T", pub)
	}
	return &Signer{client: client, name: name, version: version, pub: pub}, nil
}

// Dial connects to the vault at vaultURL. A nil credential uses the
// default Azure credential chain.
func Dial(vaultURL string, cred azcore.TokenCredential, name, version string, pub crypto.PublicKey) (*Signer, error) {
	if cred == nil {
		c, err := azidentity.NewDefaultAzureCredential(nil)
		if err != nil {
			return nil, fmt.Errorf("azurekv: credential: %w", err)
		}
		cred = c
	}
	client, err := azkeys.NewClient(vaultURL, cred, nil)
	if err != nil {
		return nil, fmt.Errorf("azurekv: client: %w", err)
	}
	return New(client, name, version, pub)
}

// Public returns the public key.
func (s *Signer) Public() crypto.PublicKey {
	return s.pub
}

// Sign signs digest with Key Vault. rand is ignored.
func (s *Signer) Sign(_ io.Reader, digest []byte, opts crypto.SignerOpts) ([]byte, error) {
	return s.SignContext(context.Background(), digest, opts)
}

// SignContext signs digest with Key Vault. ECDSA results are converted from
// the JWS r||s form to DER.
func (s *Signer) SignContext(ctx context.Context, digest []byte, opts crypto.SignerOpts) ([]byte, error) {
	if _, ok := opts.(*rsa.PSSOptions); ok {
		return nil, errors.New("azurekv: PSS is not supported")
	}
	algo := signingAlgorithm(s.pub, opts.HashFunc())
	if algo == "" {
		return nil, fmt.Errorf("azurekv: unsupported hash function %v", opts.HashFunc())
	}

	resp, err := s.client.Sign(ctx, s.name, s.version, azkeys.SignParameters{
		Algorithm: &algo,
		Value:     digest,
	}, nil)
	if err != nil {
		return nil, fmt.Errorf("azurekv: sign failed: %w", err)
	}
	if _, ok := s.pub.(*ecdsa.PublicKey); ok {
		return sigfmt.ECDSAToASN1(resp.Result)
	}
	return resp.Result, nil
}

func signingAlgorithm(pub crypto.PublicKey, hash crypto.Hash) azkeys.SignatureAlgorithm {
	switch pub.(type) {
	case *rsa.PublicKey:
		switch hash {
		case crypto.SHA256:
			return azkeys.SignatureAlgorithmRS256
		case crypto.SHA384:
			return azkeys.SignatureAlgorithmRS384
		case crypto.SHA512:
			return azkeys.SignatureAlgorithmRS512
		}
	case *ecdsa.PublicKey:
		switch hash {
		case crypto.SHA256:
			return azkeys.SignatureAlgorithmES256
		case crypto.SHA384:
			return azkeys.SignatureAlgorithmES384
		case crypto.SHA512:
			return azkeys.SignatureAlgorithmES512
		}
	}
	return ""
}
