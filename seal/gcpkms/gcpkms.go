// Package gcpkms seals documents with a Google Cloud KMS key version.
//
// RSA key versions must use one of the RSA_SIGN_PKCS1 algorithms.
package gcpkms

import (
	"context"
	"crypto"
	"crypto/ecdsa"
	"crypto/rsa"
	"errors"
	"fmt"
	"io"

	kms "cloud.google.com/go/kms/apiv1"
	"cloud.google.com/go/kms/apiv1/kmspb"
	"github.com/googleapis/gax-go/v2"
)

// API is the subset of the KMS client used by Signer.
type API interface {
	AsymmetricSign(ctx context.Context, req *kmspb.AsymmetricSignRequest, opts ...gax.CallOption) (*kmspb.AsymmetricSignResponse, error)
}

// Signer implements crypto.Signer with a KMS key version, named
// projects/*/locations/*/keyRings/*/cryptoKeys/*/cryptoKeyVersions/*.
type Signer struct {
	client API
	name   string
	pub    crypto.PublicKey
	closer io.Closer
}

var _ crypto.Signer = (*Signer)(nil)

// New returns a Signer using an existing client.
func New(client API, name string, pub crypto.PublicKey) (*Signer, error) {
	if client == nil {
		return nil, errors.New("gcpkms: client is required")
	}
	if name == "" {
		return nil, errors.New("gcpkms: key version name is required")
	}
	switch pub.(type) {
	case *rsa.PublicKey, *ecdsa.PublicKey:
	default:
		return nil, fmt.Errorf("gcpkms: unsupported public key %T", pub)
	}
	return &Signer{client: client, name: name, pub: pub}, nil
}

// Dial connects to Cloud KMS with application default credentials. Close
// releases the connection.
func Dial(ctx context.Context, name string, pub crypto.PublicKey) (*Signer, error) {
	client, err := kms.NewKeyManagementClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("gcpkms: dial: %w", err)
	}
	s, err := New(client, name, pub)
	if err != nil {
		_ = client.Close()
		return nil, err
	}
	s.closer = client
	return s, nil
}

// Close closes the client opened by Dial.
func (s *Signer) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer.Close()
}

// Public returns the public key.
func (s *Signer) Public() crypto.PublicKey {
	return s.pub
}

// Sign signs digest with KMS. rand is ignored.
func (s *Signer) Sign(_ io.Reader, digest []byte, opts crypto.SignerOpts) ([]byte, error) {
	return s.SignContext(context.Background(), digest, opts)
}

// SignContext signs digest with KMS.
func (s *Signer) SignContext(ctx context.Context, digest []byte, opts crypto.SignerOpts) ([]byte, error) {
	if _, ok := opts.(*rsa.PSSOptions); ok {
		return nil, errors.New("gcpkms: PSS is not supported")
	}
	req := &kmspb.AsymmetricSignRequest{Name: s.name, Digest: &kmspb.Digest{}}
	switch opts.HashFunc() {
	case crypto.SHA256:
		req.Digest.Digest = &kmspb.Digest_Sha256{Sha256: digest}
	case crypto.SHA384:
		req.Digest.Digest = &kmspb.Digest_Sha384{Sha384: digest}
	case crypto.SHA512:
		req.Digest.Digest = &kmspb.Digest_Sha512{Sha512: digest}
	default:
		return nil, fmt.Errorf("gcpkms: unsupported hash function %v", opts.HashFunc())
	}

	resp, err := s.client.AsymmetricSign(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("gcpkms: sign failed: %w", err)
	}
	if resp.Name != "" && resp.Name != s.name {
		return nil, fmt.Errorf("gcpkms: signed by %s, want %s", resp.Name, s.name)
	}
	return resp.Signature, nil
}
