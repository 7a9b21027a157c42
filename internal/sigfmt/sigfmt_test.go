package sigfmt

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestECDSAToASN1(t *testing.T) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	digest := sha256.Sum256([]byte("completed document"))

	r, s, err := ecdsa.Sign(rand.Reader, key, digest[:])
	require.NoError(t, err)
	raw := make([]byte, 64)
	r.FillBytes(raw[:32])
	s.FillBytes(raw[32:])

	der, err := ECDSAToASN1(raw)
	require.NoError(t, err)
	assert.True(t, ecdsa.VerifyASN1(&key.PublicKey, digest[:], der))

	_, err = ECDSAToASN1(raw[:63])
	assert.Error(t, err)
	_, err = ECDSAToASN1(nil)
	assert.Error(t, err)
}

func TestDigestInfo(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	digest := sha256.Sum256([]byte("completed document"))

	info, err := DigestInfo(crypto.SHA256, digest[:])
	require.NoError(t, err)
	// Signing the prefixed digest without a hash must match a regular
	// SHA-256 PKCS#1 v1.5 signature.
	raw, err := rsa.SignPKCS1v15(nil, key, 0, info)
	require.NoError(t, err)
	want, err := rsa.SignPKCS1v15(nil, key, crypto.SHA256, digest[:])
	require.NoError(t, err)
	assert.Equal(t, want, raw)

	_, err = DigestInfo(crypto.SHA1, make([]byte, 20))
	assert.Error(t, err)
	_, err = DigestInfo(crypto.SHA256, digest[:16])
	assert.Error(t, err)
}
