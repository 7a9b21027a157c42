package signflow_test

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"fmt"
	"math/big"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/digitorus/signflow"
	"github.com/digitorus/signflow/audit"
	"github.com/digitorus/signflow/internal/pdftest"
	"github.com/digitorus/signflow/placement"
	"github.com/digitorus/signflow/routing"
	"github.com/digitorus/signflow/seal"
)

func sealer(t *testing.T) *seal.Sealer {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(7),
		Subject:      pkix.Name{CommonName: "signflow document seal"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	require.NoError(t, err)
	cert, err := x509.ParseCertificate(der)
	require.NoError(t, err)
	s, err := seal.New(cert, key)
	require.NoError(t, err)
	return s
}

func TestCompletedDocumentIsSealed(t *testing.T) {
	f := setup(t, signflow.WithSealer(sealer(t)))
	doc := f.sent(t, routing.Parallel)
	_, err := f.w.SubmitSignature(signer, doc.ID, "alice", nil, "")
	require.NoError(t, err)
	doc, err = f.w.SubmitSignature(signer, doc.ID, "bob", nil, "")
	require.NoError(t, err)
	assert.Equal(t, doc.CompletedFile+".p7s", doc.Seal)

	file, err := f.w.CompletedFile(ownerCtx, doc.ID)
	require.NoError(t, err)
	require.NotEmpty(t, file.Seal)
	require.NoError(t, seal.Verify(file.PDF, file.Seal))
}

type brokenSealer struct{}

func (brokenSealer) Seal(context.Context, []byte) ([]byte, error) {
	return nil, fmt.Errorf("hsm offline")
}

func TestSealFailureStillCompletes(t *testing.T) {
	f := setup(t, signflow.WithSealer(brokenSealer{}))
	doc := f.sent(t, routing.Parallel)
	_, err := f.w.SubmitSignature(signer, doc.ID, "alice", nil, "")
	require.NoError(t, err)
	doc, err = f.w.SubmitSignature(signer, doc.ID, "bob", nil, "")
	require.NoError(t, err)
	assert.Equal(t, signflow.Completed, doc.Status)
	assert.Empty(t, doc.Seal)
}

func TestCompletionProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 25
	properties := gopter.NewProperties(parameters)

	properties.Property("completed exactly when every signer submitted", prop.ForAll(
		func(n int, submissions []int) bool {
			f := setup(t)
			req := signflow.CreateRequest{Name: "Property", File: pdftest.Blank(1)}
			for i := 0; i < n; i++ {
				id := fmt.Sprintf("s%d", i)
				req.Signers = append(req.Signers, signflow.Signer{ID: id, Email: id + "@example.com"})
				req.Placeholders = append(req.Placeholders, placement.Placement{
					SignerID: id, Page: 1, Kind: placement.Date,
					Position: placement.Position{X: 10, Y: float64(10 + 20*i), Width: 60, Height: 12},
				})
			}
			doc, err := f.w.CreateDocument(ownerCtx, req)
			if err != nil {
				return false
			}
			if _, err := f.w.SendDocument(ownerCtx, doc.ID); err != nil {
				return false
			}

			distinct := map[int]bool{}
			for _, s := range submissions {
				if s >= n {
					continue
				}
				if _, err := f.w.SubmitSignature(signer, doc.ID, fmt.Sprintf("s%d", s), nil, ""); err != nil {
					// Only a completed document refuses further submissions.
					if !distinctAll(distinct, n) {
						return false
					}
					continue
				}
				distinct[s] = true
			}

			stored, err := f.store.Load(context.Background(), doc.ID)
			if err != nil {
				return false
			}
			complete := distinctAll(distinct, n)
			return (stored.Status == signflow.Completed) == complete &&
				stored.AuditTrail.Count(audit.Signed) == len(distinct) &&
				stored.AuditTrail.Count(audit.Completed) == map[bool]int{true: 1, false: 0}[complete] &&
				stored.AuditTrail.Verify() == nil
		},
		gen.IntRange(1, 3),
		gen.SliceOf(gen.IntRange(0, 2)),
	))

	properties.TestingRun(t)
}

func distinctAll(seen map[int]bool, n int) bool {
	return len(seen) == n
}
