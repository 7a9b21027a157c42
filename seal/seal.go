// Package seal adds a detached PKCS#7 signature over a completed document,
// optionally countersigned by an RFC 3161 timestamp authority.
//
// A seal lets anyone holding the completed file check that it has not been
// modified since it was baked. It says nothing about the identity of the
// signers.
package seal

import (
	"bytes"
	"context"
	"crypto"
	"crypto/ecdsa"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/asn1"
	"encoding/pem"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/digitorus/pkcs7"
	"github.com/digitorus/timestamp"
	"golang.org/x/crypto/cryptobyte"
	cryptobyte_asn1 "golang.org/x/crypto/cryptobyte/asn1"
)

var (
	oidSigningCertificateV2 = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 9, 16, 2, 47}
	oidTimeStampToken       = asn1.ObjectIdentifier{1, 2, 840, 113549, 1, 9, 16, 2, 14}
)

// ErrInvalidSeal is returned by Verify when the seal does not match the data.
var ErrInvalidSeal = errors.New("invalid seal")

// TSA configures the timestamp authority.
type TSA struct {
	URL      string
	Username string
	Password string
}

// Sealer produces seals with one certificate and key.
type Sealer struct {
	cert   *x509.Certificate
	key    crypto.Signer
	chain  []*x509.Certificate
	tsa    TSA
	client *http.Client

	revocation Revocation
	cache      *revocationCache
}

// Option configures a Sealer.
type Option func(*Sealer)

// WithChain adds intermediate certificates to every seal.
func WithChain(chain []*x509.Certificate) Option {
	return func(s *Sealer) { s.chain = chain }
}

// WithTSA timestamps every seal.
func WithTSA(tsa TSA) Option {
	return func(s *Sealer) { s.tsa = tsa }
}

// WithHTTPClient sets the client used to reach the timestamp authority.
func WithHTTPClient(c *http.Client) Option {
	return func(s *Sealer) { s.client = c }
}

// New returns a Sealer signing with cert and key.
func New(cert *x509.Certificate, key crypto.Signer, opts ...Option) (*Sealer, error) {
	if cert == nil || key == nil {
		return nil, errors.New("seal: certificate and key are required")
	}
	s := &Sealer{cert: cert, key: key, client: &http.Client{Timeout: 30 * time.Second}}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// LoadPEM parses a PEM certificate (followed by any intermediates) and a
// PEM private key in PKCS#8, PKCS#1 or SEC 1 form.
func LoadPEM(certPEM, keyPEM []byte, opts ...Option) (*Sealer, error) {
	certs, err := ParseCertificates(certPEM)
	if err != nil {
		return nil, err
	}

	block, _ := pem.Decode(keyPEM)
	if block == nil {
		return nil, errors.New("seal: no private key found")
	}
	key, err := parseKey(block.Bytes)
	if err != nil {
		return nil, err
	}
	return New(certs[0], key, append([]Option{WithChain(certs[1:])}, opts...)...)
}

// ParseCertificates returns every certificate in certPEM in order. The first
// one is the signing certificate.
func ParseCertificates(certPEM []byte) ([]*x509.Certificate, error) {
	var certs []*x509.Certificate
	for rest := certPEM; ; {
		var block *pem.Block
		block, rest = pem.Decode(rest)
		if block == nil {
			break
		}
		if block.Type != "CERTIFICATE" {
			continue
		}
		c, err := x509.ParseCertificate(block.Bytes)
		if err != nil {
			return nil, fmt.Errorf("seal: parse certificate: %w", err)
		}
		certs = append(certs, c)
	}
	if len(certs) == 0 {
		return nil, errors.New("seal: no certificate found")
	}
	return certs, nil
}

func parseKey(der []byte) (crypto.Signer, error) {
	if k, err := x509.ParsePKCS8PrivateKey(der); err == nil {
		signer, ok := k.(crypto.Signer)
		if !ok {
			return nil, fmt.Errorf("seal: unsupported key type %T", k)
		}
		return signer, nil
	}
	if k, err := x509.ParsePKCS1PrivateKey(der); err == nil {
		return k, nil
	}
	if k, err := x509.ParseECPrivateKey(der); err == nil {
		return k, nil
	}
	return nil, errors.New("seal: unsupported private key encoding")
}

// Seal returns a DER encoded detached SignedData over data.
func (s *Sealer) Seal(ctx context.Context, data []byte) ([]byte, error) {
	// Remote keys only expose their public half.
	switch s.key.Public().(type) {
	case *rsa.PublicKey, *ecdsa.PublicKey:
	default:
		return nil, fmt.Errorf("seal: unsupported key type %T", s.key.Public())
	}

	signedData, err := pkcs7.NewSignedData(data)
	if err != nil {
		return nil, fmt.Errorf("new signed data: %w", err)
	}
	signedData.SetDigestAlgorithm(pkcs7.OIDDigestAlgorithmSHA256)

	signingCertificate, err := s.signingCertificateAttribute()
	if err != nil {
		return nil, err
	}
	config := pkcs7.SignerInfoConfig{ExtraSignedAttributes: []pkcs7.Attribute{signingCertificate}}
	if s.revocation.OCSP || s.revocation.CRL {
		info, err := s.revocationAttribute(ctx)
		if err != nil {
			return nil, fmt.Errorf("embed revocation status: %w", err)
		}
		if info != nil {
			config.ExtraSignedAttributes = append(config.ExtraSignedAttributes,
				pkcs7.Attribute{Type: oidRevocationInfoArchival, Value: *info})
		}
	}
	if err := signedData.AddSignerChain(s.cert, s.key, s.chain, config); err != nil {
		return nil, fmt.Errorf("add signer chain: %w", err)
	}
	signedData.Detach()

	if s.tsa.URL != "" {
		sd := signedData.GetSignedData()
		resp, err := s.requestTimestamp(ctx, sd.SignerInfos[0].EncryptedDigest)
		if err != nil {
			return nil, fmt.Errorf("get timestamp: %w", err)
		}
		ts, err := timestamp.ParseResponse(resp)
		if err != nil {
			return nil, fmt.Errorf("parse timestamp: %w", err)
		}
		if _, err := pkcs7.Parse(ts.RawToken); err != nil {
			return nil, fmt.Errorf("parse timestamp token: %w", err)
		}
		attr := pkcs7.Attribute{Type: oidTimeStampToken, Value: asn1.RawValue{FullBytes: ts.RawToken}}
		if err := sd.SignerInfos[0].SetUnauthenticatedAttributes([]pkcs7.Attribute{attr}); err != nil {
			return nil, err
		}
	}

	return signedData.Finish()
}

// signingCertificateAttribute binds the seal to the signing certificate
// (ESS signing-certificate-v2 with the default SHA-256 hash).
func (s *Sealer) signingCertificateAttribute() (pkcs7.Attribute, error) {
	sum := sha256.Sum256(s.cert.Raw)

	var b cryptobyte.Builder
	b.AddASN1(cryptobyte_asn1.SEQUENCE, func(b *cryptobyte.Builder) { // SigningCertificateV2
		b.AddASN1(cryptobyte_asn1.SEQUENCE, func(b *cryptobyte.Builder) { // []ESSCertIDv2
			b.AddASN1(cryptobyte_asn1.SEQUENCE, func(b *cryptobyte.Builder) { // ESSCertIDv2
				b.AddASN1OctetString(sum[:])
			})
		})
	})
	der, err := b.Bytes()
	if err != nil {
		return pkcs7.Attribute{}, err
	}
	return pkcs7.Attribute{Type: oidSigningCertificateV2, Value: asn1.RawValue{FullBytes: der}}, nil
}

func (s *Sealer) requestTimestamp(ctx context.Context, digest []byte) ([]byte, error) {
	tsReq, err := timestamp.CreateRequest(bytes.NewReader(digest), &timestamp.RequestOptions{
		Certificates: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.tsa.URL, bytes.NewReader(tsReq))
	if err != nil {
		return nil, fmt.Errorf("failed to prepare request (%s): %w", s.tsa.URL, err)
	}
	req.Header.Add("Content-Type", "application/timestamp-query")
	req.Header.Add("Content-Transfer-Encoding", "binary")
	if s.tsa.Username != "" && s.tsa.Password != "" {
		req.SetBasicAuth(s.tsa.Username, s.tsa.Password)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, errors.New("non success response (" + strconv.Itoa(resp.StatusCode) + "): " + string(body))
	}
	return body, nil
}

// Verify checks that sig is a valid seal over data. The signer certificate
// is not checked against any trust store.
func Verify(data, sig []byte) error {
	p7, err := pkcs7.Parse(sig)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSeal, err)
	}
	p7.Content = data
	if err := p7.Verify(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSeal, err)
	}
	return nil
}
