package seal

import (
	"context"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/digitorus/pkcs7"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ocsp"
)

type testPKI struct {
	ca, leaf       *x509.Certificate
	caKey, leafKey *rsa.PrivateKey
	ocspStatus     int
	revokedInCRL   bool
	ocspHits       atomic.Int32
	crlHits        atomic.Int32
}

// newPKI issues a sealing certificate whose OCSP responder and CRL are
// served by srv.
func newPKI(t *testing.T) (*testPKI, *httptest.Server) {
	t.Helper()
	p := &testPKI{ocspStatus: ocsp.Good}
	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	var err error
	p.caKey, err = rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	caTmpl := &x509.Certificate{
		SerialNumber:          big.NewInt(1),
		Subject:               pkix.Name{CommonName: "signflow test CA"},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(24 * time.Hour),
		KeyUsage:              x509.KeyUsageCertSign | x509.KeyUsageCRLSign,
		BasicConstraintsValid: true,
		IsCA:                  true,
	}
	der, err := x509.CreateCertificate(rand.Reader, caTmpl, caTmpl, &p.caKey.PublicKey, p.caKey)
	require.NoError(t, err)
	p.ca, err = x509.ParseCertificate(der)
	require.NoError(t, err)

	p.leafKey, err = rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	leafTmpl := &x509.Certificate{
		SerialNumber:          big.NewInt(42),
		Subject:               pkix.Name{CommonName: "signflow seal"},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(24 * time.Hour),
		KeyUsage:              x509.KeyUsageDigitalSignature,
		OCSPServer:            []string{srv.URL + "/ocsp"},
		CRLDistributionPoints: []string{srv.URL + "/ca.crl"},
	}
	der, err = x509.CreateCertificate(rand.Reader, leafTmpl, p.ca, &p.leafKey.PublicKey, p.caKey)
	require.NoError(t, err)
	p.leaf, err = x509.ParseCertificate(der)
	require.NoError(t, err)

	mux.HandleFunc("/ocsp/", func(w http.ResponseWriter, r *http.Request) {
		p.ocspHits.Add(1)
		resp, err := ocsp.CreateResponse(p.ca, p.ca, ocsp.Response{
			Status:       p.ocspStatus,
			SerialNumber: p.leaf.SerialNumber,
			ThisUpdate:   time.Now().Add(-time.Minute),
			NextUpdate:   time.Now().Add(time.Hour),
			RevokedAt:    time.Now().Add(-time.Minute),
		}, p.caKey)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		_, _ = w.Write(resp)
	})
	mux.HandleFunc("/ca.crl", func(w http.ResponseWriter, r *http.Request) {
		p.crlHits.Add(1)
		tmpl := &x509.RevocationList{
			Number:     big.NewInt(1),
			ThisUpdate: time.Now().Add(-time.Minute),
			NextUpdate: time.Now().Add(time.Hour),
		}
		if p.revokedInCRL {
			tmpl.RevokedCertificateEntries = []x509.RevocationListEntry{{
				SerialNumber:   p.leaf.SerialNumber,
				RevocationTime: time.Now().Add(-time.Minute),
			}}
		}
		crl, err := x509.CreateRevocationList(rand.Reader, tmpl, p.ca, p.caKey)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		_, _ = w.Write(crl)
	})
	return p, srv
}

func (p *testPKI) sealer(t *testing.T, r Revocation) *Sealer {
	t.Helper()
	s, err := New(p.leaf, crypto.Signer(p.leafKey), WithChain([]*x509.Certificate{p.ca}), WithRevocation(r))
	require.NoError(t, err)
	return s
}

func embedded(t *testing.T, sig []byte) InfoArchival {
	t.Helper()
	p7, err := pkcs7.Parse(sig)
	require.NoError(t, err)
	var info InfoArchival
	require.NoError(t, p7.UnmarshalSignedAttribute(oidRevocationInfoArchival, &info))
	return info
}

func TestSealEmbedsOCSP(t *testing.T) {
	pki, _ := newPKI(t)
	s := pki.sealer(t, Revocation{OCSP: true, CRL: true})
	doc := []byte("%PDF-1.7 baked document")

	sig, err := s.Seal(context.Background(), doc)
	require.NoError(t, err)
	require.NoError(t, Verify(doc, sig))

	info := embedded(t, sig)
	assert.Len(t, info.OCSP, 1)
	assert.Empty(t, info.CRL)
	assert.Zero(t, pki.crlHits.Load())

	// A second seal reuses the cached response.
	_, err = s.Seal(context.Background(), doc)
	require.NoError(t, err)
	assert.Equal(t, int32(1), pki.ocspHits.Load())
}

func TestSealFallsBackToCRL(t *testing.T) {
	pki, _ := newPKI(t)
	pki.ocspStatus = ocsp.Unknown
	s := pki.sealer(t, Revocation{OCSP: true, CRL: true})

	sig, err := s.Seal(context.Background(), []byte("%PDF-1.7 baked document"))
	require.NoError(t, err)
	info := embedded(t, sig)
	assert.Empty(t, info.OCSP)
	assert.Len(t, info.CRL, 1)
}

func TestSealPrefersCRL(t *testing.T) {
	pki, _ := newPKI(t)
	s := pki.sealer(t, Revocation{OCSP: true, CRL: true, PreferCRL: true})

	sig, err := s.Seal(context.Background(), []byte("%PDF-1.7 baked document"))
	require.NoError(t, err)
	assert.Len(t, embedded(t, sig).CRL, 1)
	assert.Zero(t, pki.ocspHits.Load())
}

func TestSealRevokedCertificate(t *testing.T) {
	pki, _ := newPKI(t)
	pki.ocspStatus = ocsp.Revoked
	pki.revokedInCRL = true
	s := pki.sealer(t, Revocation{OCSP: true, CRL: true})

	_, err := s.Seal(context.Background(), []byte("%PDF-1.7 baked document"))
	assert.ErrorContains(t, err, "revocation check failed")
}

func TestSealWithoutRevocationSources(t *testing.T) {
	cert, key := selfSigned(t)
	s, err := New(cert, key, WithRevocation(Revocation{OCSP: true, CRL: true}))
	require.NoError(t, err)

	doc := []byte("%PDF-1.7 baked document")
	sig, err := s.Seal(context.Background(), doc)
	require.NoError(t, err)
	require.NoError(t, Verify(doc, sig))
}

func TestRevocationCacheExpires(t *testing.T) {
	now := time.Now()
	c := &revocationCache{items: make(map[string]cached), now: func() time.Time { return now }}
	c.put("a", []byte("x"), now.Add(time.Minute))
	c.put("b", []byte("y"), time.Time{})

	data, ok := c.get("a")
	assert.True(t, ok)
	assert.Equal(t, []byte("x"), data)
	_, ok = c.get("b")
	assert.False(t, ok)

	now = now.Add(2 * time.Minute)
	_, ok = c.get("a")
	assert.False(t, ok)
}
