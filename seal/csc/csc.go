// Package csc seals documents with a remote credential exposed through the
// Cloud Signature Consortium API (v1.0.4 and v2).
package csc

import (
	"bytes"
	"context"
	"crypto"
	"crypto/ecdsa"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"slices"
	"strings"
)

// Config configures the CSC signer.
type Config struct {
	// BaseURL is the API root, e.g. https://example.com/csc/v1
	BaseURL      string
	CredentialID string
	// AuthToken is sent as the Authorization header, e.g. "Bearer ey...".
	AuthToken string
	PIN       string
	OTP       string

	HTTPClient *http.Client
}

// Signer implements crypto.Signer with a CSC credential.
type Signer struct {
	cfg      Config
	client   *http.Client
	chain    []*x509.Certificate
	algos    []string
	explicit bool
}

var _ crypto.Signer = (*Signer)(nil)

// Dial fetches the credential's certificates and key algorithms.
func Dial(ctx context.Context, cfg Config) (*Signer, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("csc: base url is required")
	}
	if cfg.CredentialID == "" {
		return nil, errors.New("csc: credential id is required")
	}
	s := &Signer{cfg: cfg, client: cfg.HTTPClient}
	if s.client == nil {
		s.client = http.DefaultClient
	}
	if err := s.fetchCredentialInfo(ctx); err != nil {
		return nil, fmt.Errorf("csc: failed to fetch credential info: %w", err)
	}
	return s, nil
}

type credentialInfoRequest struct {
	CredentialID string `json:"credentialID"`
	Certificates string `json:"certificates"`
}

type credentialInfoResponse struct {
	Key struct {
		Status string   `json:"status"`
		Algo   []string `json:"algo"`
		Len    int      `json:"len"`
	} `json:"key"`
	Cert struct {
		Status       string   `json:"status"`
		Certificates []string `json:"certificates"`
	} `json:"cert"`
	AuthMode string `json:"authMode"`
}

func (s *Signer) fetchCredentialInfo(ctx context.Context) error {
	var info credentialInfoResponse
	if err := s.call(ctx, "credentials/info", credentialInfoRequest{
		CredentialID: s.cfg.CredentialID,
		Certificates: "chain",
	}, &info); err != nil {
		return err
	}
	if info.Key.Status != "" && info.Key.Status != "enabled" {
		return fmt.Errorf("key is %s", info.Key.Status)
	}
	if len(info.Cert.Certificates) == 0 {
		return errors.New("credential has no certificate")
	}
	for _, b64 := range info.Cert.Certificates {
		der, err := base64.StdEncoding.DecodeString(b64)
		if err != nil {
			return fmt.Errorf("failed to decode certificate: %w", err)
		}
		cert, err := x509.ParseCertificate(der)
		if err != nil {
			return fmt.Errorf("failed to parse certificate: %w", err)
		}
		s.chain = append(s.chain, cert)
	}
	switch s.chain[0].PublicKey.(type) {
	case *rsa.PublicKey, *ecdsa.PublicKey:
	default:
		return fmt.Errorf("unsupported public key %T", s.chain[0].PublicKey)
	}
	s.algos = info.Key.Algo
	s.explicit = info.AuthMode == "explicit"
	return nil
}

// Certificate returns the credential's end entity certificate.
func (s *Signer) Certificate() *x509.Certificate {
	return s.chain[0]
}

// Chain returns the certificates issuing the credential's certificate.
func (s *Signer) Chain() []*x509.Certificate {
	return s.chain[1:]
}

// Public returns the public key of the credential's certificate.
func (s *Signer) Public() crypto.PublicKey {
	return s.chain[0].PublicKey
}

type authorizeRequest struct {
	CredentialID  string   `json:"credentialID"`
	NumSignatures int      `json:"numSignatures"`
	Hashes        []string `json:"hash,omitempty"`
	PIN           string   `json:"PIN,omitempty"`
	OTP           string   `json:"OTP,omitempty"`
}

type authorizeResponse struct {
	SAD string `json:"SAD"`
}

type signHashRequest struct {
	CredentialID string   `json:"credentialID"`
	SAD          string   `json:"SAD,omitempty"`
	Hashes       []string `json:"hash"`
	HashAlgo     string   `json:"hashAlgo"`
	SignAlgo     string   `json:"signAlgo"`
}

type signHashResponse struct {
	Signatures []string `json:"signatures"`
}

// Sign signs digest remotely. rand is ignored.
func (s *Signer) Sign(_ io.Reader, digest []byte, opts crypto.SignerOpts) ([]byte, error) {
	return s.SignContext(context.Background(), digest, opts)
}

// SignContext authorizes the credential for one signature when the
// credential requires it, then signs digest.
func (s *Signer) SignContext(ctx context.Context, digest []byte, opts crypto.SignerOpts) ([]byte, error) {
	if _, ok := opts.(*rsa.PSSOptions); ok {
		return nil, errors.New("csc: PSS is not supported")
	}
	hashAlgo := hashAlgoName(opts.HashFunc())
	if hashAlgo == "" {
		return nil, fmt.Errorf("csc: unsupported hash algorithm %v", opts.HashFunc())
	}
	signAlgo := s.signAlgo(opts.HashFunc())
	if signAlgo == "" {
		return nil, fmt.Errorf("csc: credential supports none of the signature algorithms for %v", opts.HashFunc())
	}
	hash := base64.StdEncoding.EncodeToString(digest)

	var sad string
	if s.explicit || s.cfg.PIN != "" || s.cfg.OTP != "" {
		var auth authorizeResponse
		if err := s.call(ctx, "credentials/authorize", authorizeRequest{
			CredentialID:  s.cfg.CredentialID,
			NumSignatures: 1,
			Hashes:        []string{hash},
			PIN:           s.cfg.PIN,
			OTP:           s.cfg.OTP,
		}, &auth); err != nil {
			return nil, fmt.Errorf("csc: failed to authorize credential: %w", err)
		}
		sad = auth.SAD
	}

	var resp signHashResponse
	if err := s.call(ctx, "signatures/signHash", signHashRequest{
		CredentialID: s.cfg.CredentialID,
		SAD:          sad,
		Hashes:       []string{hash},
		HashAlgo:     hashAlgo,
		SignAlgo:     signAlgo,
	}, &resp); err != nil {
		return nil, fmt.Errorf("csc: sign request failed: %w", err)
	}
	if len(resp.Signatures) == 0 {
		return nil, errors.New("csc: no signatures returned")
	}
	sig, err := base64.StdEncoding.DecodeString(resp.Signatures[0])
	if err != nil {
		return nil, fmt.Errorf("csc: failed to decode signature: %w", err)
	}
	return sig, nil
}

// signAlgo picks the first algorithm the credential offers that yields a
// PKCS#1 v1.5 or ECDSA signature over a digest of the given hash.
func (s *Signer) signAlgo(h crypto.Hash) string {
	var candidates []string
	switch s.Public().(type) {
	case *rsa.PublicKey:
		candidates = []string{oidRSAEncryption, rsaOIDs[h]}
	case *ecdsa.PublicKey:
		candidates = []string{ecdsaOIDs[h], oidECPublicKey}
	}
	for _, c := range candidates {
		if c == "" {
			continue
		}
		if len(s.algos) == 0 || slices.Contains(s.algos, c) {
			return c
		}
	}
	return ""
}

const (
	oidRSAEncryption = "1.2.840.113549.1.1.1"
	oidECPublicKey   = "1.2.840.10045.2.1"
)

var rsaOIDs = map[crypto.Hash]string{
	crypto.SHA256: "1.2.840.113549.1.1.11",
	crypto.SHA384: "1.2.840.113549.1.1.12",
	crypto.SHA512: "1.2.840.113549.1.1.13",
}

var ecdsaOIDs = map[crypto.Hash]string{
	crypto.SHA256: "1.2.840.10045.4.3.2",
	crypto.SHA384: "1.2.840.10045.4.3.3",
	crypto.SHA512: "1.2.840.10045.4.3.4",
}

// call posts body as JSON to the endpoint and decodes the response into out.
func (s *Signer) call(ctx context.Context, endpoint string, body, out any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}
	url := strings.TrimRight(s.cfg.BaseURL, "/") + "/" + endpoint
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if s.cfg.AuthToken != "" {
		req.Header.Set("Authorization", s.cfg.AuthToken)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(respBody))
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}

func hashAlgoName(h crypto.Hash) string {
	switch h {
	case crypto.SHA256:
		return "2.16.840.1.101.3.4.2.1"
	case crypto.SHA384:
		return "2.16.840.1.101.3.4.2.2"
	case crypto.SHA512:
		return "2.16.840.1.101.3.4.2.3"
	default:
		return ""
	}
}
