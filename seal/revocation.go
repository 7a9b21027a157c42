package seal

import (
	"context"
	"crypto/x509"
	"encoding/asn1"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/ocsp"
)

// Adobe revocation info archival, the signed attribute PDF readers look for.
var oidRevocationInfoArchival = asn1.ObjectIdentifier{1, 2, 840, 113583, 1, 1, 8}

// InfoArchival holds the revocation status of the sealing certificate at
// the time of sealing.
type InfoArchival struct {
	CRL   []asn1.RawValue `asn1:"tag:0,optional,explicit"`
	OCSP  []asn1.RawValue `asn1:"tag:1,optional,explicit"`
	Other []OtherRevInfo  `asn1:"tag:2,optional,explicit"`
}

// OtherRevInfo is any other kind of revocation data.
type OtherRevInfo struct {
	Type  asn1.ObjectIdentifier
	Value []byte
}

// Revocation selects which revocation data is embedded in a seal. OCSP is
// tried first unless PreferCRL is set; the second source is only consulted
// when the first fails.
type Revocation struct {
	OCSP      bool
	CRL       bool
	PreferCRL bool
}

// WithRevocation embeds the revocation status of the sealing certificate.
// Responses are cached until their next update.
func WithRevocation(r Revocation) Option {
	return func(s *Sealer) {
		s.revocation = r
		s.cache = &revocationCache{items: make(map[string]cached)}
	}
}

type cached struct {
	data    []byte
	expires time.Time
}

type revocationCache struct {
	mu    sync.Mutex
	items map[string]cached
	now   func() time.Time
}

func (c *revocationCache) get(key string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	item, ok := c.items[key]
	if !ok || !c.clock().Before(item.expires) {
		delete(c.items, key)
		return nil, false
	}
	return item.data, true
}

func (c *revocationCache) put(key string, data []byte, expires time.Time) {
	if expires.IsZero() {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items[key] = cached{data: data, expires: expires}
}

func (c *revocationCache) clock() time.Time {
	if c.now != nil {
		return c.now()
	}
	return time.Now()
}

// revocationAttribute collects revocation data for the sealing certificate.
// The issuer is the first certificate of the chain; without it only a CRL
// can be embedded.
func (s *Sealer) revocationAttribute(ctx context.Context) (*asn1.RawValue, error) {
	var issuer *x509.Certificate
	if len(s.chain) > 0 {
		issuer = s.chain[0]
	}

	var info InfoArchival
	tryOCSP := func() error {
		if !s.revocation.OCSP || issuer == nil || len(s.cert.OCSPServer) == 0 {
			return errSkipped
		}
		b, err := s.fetchOCSP(ctx, issuer)
		if err != nil {
			return err
		}
		info.OCSP = append(info.OCSP, asn1.RawValue{FullBytes: b})
		return nil
	}
	tryCRL := func() error {
		if !s.revocation.CRL || len(s.cert.CRLDistributionPoints) == 0 {
			return errSkipped
		}
		b, err := s.fetchCRL(ctx, issuer)
		if err != nil {
			return err
		}
		info.CRL = append(info.CRL, asn1.RawValue{FullBytes: b})
		return nil
	}

	first, second := tryOCSP, tryCRL
	if s.revocation.PreferCRL {
		first, second = tryCRL, tryOCSP
	}
	err1 := first()
	if err1 == nil {
		return s.marshalArchival(info)
	}
	err2 := second()
	switch {
	case err2 == nil:
		return s.marshalArchival(info)
	case errors.Is(err1, errSkipped) && errors.Is(err2, errSkipped):
		return nil, nil
	case errors.Is(err1, errSkipped):
		return nil, err2
	case errors.Is(err2, errSkipped):
		return nil, err1
	}
	return nil, fmt.Errorf("revocation check failed: primary=%v, secondary=%v", err1, err2)
}

var errSkipped = errors.New("revocation source not available")

func (s *Sealer) marshalArchival(info InfoArchival) (*asn1.RawValue, error) {
	der, err := asn1.Marshal(info)
	if err != nil {
		return nil, fmt.Errorf("marshal revocation info: %w", err)
	}
	return &asn1.RawValue{FullBytes: der}, nil
}

func (s *Sealer) fetchOCSP(ctx context.Context, issuer *x509.Certificate) ([]byte, error) {
	req, err := ocsp.CreateRequest(s.cert, issuer, nil)
	if err != nil {
		return nil, err
	}
	url := fmt.Sprintf("%s/%s", strings.TrimRight(s.cert.OCSPServer[0], "/"),
		base64.StdEncoding.EncodeToString(req))
	if data, ok := s.cache.get(url); ok {
		return data, nil
	}

	body, err := s.download(ctx, url)
	if err != nil {
		return nil, err
	}
	resp, err := ocsp.ParseResponseForCert(body, s.cert, issuer)
	if err != nil {
		return nil, err
	}
	if resp.Status != ocsp.Good {
		return nil, fmt.Errorf("OCSP status is not 'Good': %v", resp.Status)
	}
	s.cache.put(url, body, resp.NextUpdate)
	return body, nil
}

func (s *Sealer) fetchCRL(ctx context.Context, issuer *x509.Certificate) ([]byte, error) {
	url := s.cert.CRLDistributionPoints[0]
	if data, ok := s.cache.get(url); ok {
		return data, nil
	}

	body, err := s.download(ctx, url)
	if err != nil {
		return nil, err
	}
	crl, err := x509.ParseRevocationList(body)
	if err != nil {
		return nil, fmt.Errorf("failed to parse CRL: %w", err)
	}
	if issuer != nil {
		if err := crl.CheckSignatureFrom(issuer); err != nil {
			return nil, fmt.Errorf("CRL signature invalid: %w", err)
		}
	}
	for _, revoked := range crl.RevokedCertificateEntries {
		if revoked.SerialNumber.Cmp(s.cert.SerialNumber) == 0 {
			return nil, errors.New("certificate is revoked in CRL")
		}
	}
	s.cache.put(url, body, crl.NextUpdate)
	return body, nil
}

func (s *Sealer) download(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("GET %s: %s", url, resp.Status)
	}
	return io.ReadAll(io.LimitReader(resp.Body, 10<<20))
}
