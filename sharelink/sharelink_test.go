package sharelink

import (
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var secret = []byte("0123456789abcdef0123456789abcdef")

func TestIssueIsDeterministic(t *testing.T) {
	iss, err := New(secret)
	require.NoError(t, err)

	l := Link{DocumentID: "doc-1", SignerEmail: "a@example.com", SignerID: "s-1", Notify: true}
	a, err := iss.Issue(l)
	require.NoError(t, err)
	b, err := iss.Issue(l)
	require.NoError(t, err)
	assert.Equal(t, a, b)

	other, err := New([]byte("another secret of sufficient size"))
	require.NoError(t, err)
	c, err := other.Issue(l)
	require.NoError(t, err)
	assert.NotEqual(t, a, c)
}

func TestResolve(t *testing.T) {
	iss, err := New(secret)
	require.NoError(t, err)
	l := Link{DocumentID: "doc-1", SignerEmail: "a@example.com", SignerID: "s-1"}
	tok, err := iss.Issue(l)
	require.NoError(t, err)

	got, err := iss.Resolve(tok)
	require.NoError(t, err)
	assert.Equal(t, l, got)
}

func TestResolveRejects(t *testing.T) {
	iss, err := New(secret)
	require.NoError(t, err)
	tok, err := iss.Issue(Link{DocumentID: "doc-1", SignerID: "s-1"})
	require.NoError(t, err)

	parts := strings.Split(tok, ".")
	require.Len(t, parts, 3)
	sig := []byte(parts[2])
	if sig[0] == 'A' {
		sig[0] = 'B'
	} else {
		sig[0] = 'A'
	}

	other, err := New([]byte("another secret of sufficient size"))
	require.NoError(t, err)
	foreign, err := other.Issue(Link{DocumentID: "doc-1", SignerID: "s-1"})
	require.NoError(t, err)

	for name, bad := range map[string]string{
		"empty":       "",
		"garbage":     "not-a-token",
		"tampered":    parts[0] + "." + parts[1] + "." + string(sig),
		"wrong key":   foreign,
		"unsigned":    parts[0] + "." + parts[1] + ".",
		"alg none":    "eyJhbGciOiJub25lIiwidHlwIjoiSldUIn0." + parts[1] + ".",
		"extra parts": tok + ".x",
	} {
		t.Run(name, func(t *testing.T) {
			_, err := iss.Resolve(bad)
			assert.ErrorIs(t, err, ErrMalformedToken)
		})
	}
}

func TestWeakSecret(t *testing.T) {
	_, err := New([]byte("short"))
	assert.ErrorIs(t, err, ErrWeakSecret)
}

func TestRoundTripProperty(t *testing.T) {
	iss, err := New(secret)
	require.NoError(t, err)

	properties := gopter.NewProperties(gopter.DefaultTestParameters())
	properties.Property("resolve(issue(l)) == l", prop.ForAll(
		func(doc, email, sid string, notify bool) bool {
			l := Link{DocumentID: "d" + doc, SignerEmail: email, SignerID: "s" + sid, Notify: notify}
			tok, err := iss.Issue(l)
			if err != nil {
				return false
			}
			got, err := iss.Resolve(tok)
			return err == nil && got == l
		},
		gen.AlphaString(),
		gen.AnyString(),
		gen.Identifier(),
		gen.Bool(),
	))
	properties.TestingRun(t)
}
