// Package awskms seals documents with a key held in AWS KMS.
package awskms

import (
	"context"
	"crypto"
	"crypto/ecdsa"
	"crypto/rsa"
	"errors"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	"github.com/aws/aws-sdk-go-v2/service/kms/types"
)

// API is the subset of the KMS client used by Signer.
type API interface {
	Sign(ctx context.Context, params *kms.SignInput, optFns ...func(*kms.Options)) (*kms.SignOutput, error)
}

// Signer implements crypto.Signer with an asymmetric KMS key. The public
// key must be the one in the sealing certificate.
type Signer struct {
	client API
	keyID  string
	pub    crypto.PublicKey
}

var _ crypto.Signer = (*Signer)(nil)

// New returns a Signer using an existing client.
func New(client API, keyID string, pub crypto.PublicKey) (*Signer, error) {
	if client == nil {
		return nil, errors.New("awskms: client is required")
	}
	if keyID == "" {
		return nil, errors.New("awskms: key id is required")
	}
	switch pub.(type) {
	case *rsa.PublicKey, *ecdsa.PublicKey:
	default:
		return nil, fmt.Errorf("awskms: unsupported public key %T", pub)
	}
	return &Signer{client: client, keyID: keyID, pub: pub}, nil
}

// NewFromConfig loads the default AWS configuration for region.
func NewFromConfig(ctx context.Context, region, keyID string, pub crypto.PublicKey) (*Signer, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return New(kms.NewFromConfig(cfg), keyID, pub)
}

// Public returns the public key.
func (s *Signer) Public() crypto.PublicKey {
	return s.pub
}

// Sign signs digest with KMS. rand is ignored.
func (s *Signer) Sign(_ io.Reader, digest []byte, opts crypto.SignerOpts) ([]byte, error) {
	return s.SignContext(context.Background(), digest, opts)
}

// SignContext signs digest with KMS. RSA keys sign with PKCS#1 v1.5 and
// ECDSA keys return a DER signature.
func (s *Signer) SignContext(ctx context.Context, digest []byte, opts crypto.SignerOpts) ([]byte, error) {
	if _, ok := opts.(*rsa.PSSOptions); ok {
		return nil, errors.New("awskms: PSS is not supported")
	}
	algo := signingAlgorithm(s.pub, opts.HashFunc())
	if algo == "" {
		return nil, fmt.Errorf("awskms: unsupported hash function %v", opts.HashFunc())
	}

	out, err := s.client.Sign(ctx, &kms.SignInput{
		KeyId:            aws.String(s.keyID),
		Message:          digest,
		MessageType:      types.MessageTypeDigest,
		SigningAlgorithm: algo,
	})
	if err != nil {
		return nil, fmt.Errorf("awskms: sign failed: %w", err)
	}
	return out.Signature, nil
}

func signingAlgorithm(pub crypto.PublicKey, hash crypto.Hash) types.SigningAlgorithmSpec {
	switch pub.(type) {
	case *rsa.PublicKey:
		switch hash {
		case crypto.SHA256:
			return types.SigningAlgorithmSpecRsassaPkcs1V15Sha256
		case crypto.SHA384:
			return types.SigningAlgorithmSpecRsassaPkcs1V15Sha384
		case crypto.SHA512:
			return types.SigningAlgorithmSpecRsassaPkcs1V15Sha512
		}
	case *ecdsa.PublicKey:
		switch hash {
		case crypto.SHA256:
			return types.SigningAlgorithmSpecEcdsaSha256
		case crypto.SHA384:
			return types.SigningAlgorithmSpecEcdsaSha384
		case crypto.SHA512:
			return types.SigningAlgorithmSpecEcdsaSha512
		}
	}
	return ""
}
