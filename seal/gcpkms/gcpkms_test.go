package gcpkms

import (
	"context"
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha512"
	"errors"
	"math/big"
	"testing"

	"cloud.google.com/go/kms/apiv1/kmspb"
	"github.com/googleapis/gax-go/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const keyName = "projects/p/locations/global/keyRings/r/cryptoKeys/seal/cryptoKeyVersions/1"

type mockKMS struct {
	sign func(req *kmspb.AsymmetricSignRequest) (*kmspb.AsymmetricSignResponse, error)
}

func (m *mockKMS) AsymmetricSign(_ context.Context, req *kmspb.AsymmetricSignRequest, _ ...gax.CallOption) (*kmspb.AsymmetricSignResponse, error) {
	return m.sign(req)
}

func TestSignECDSA(t *testing.T) {
	key, err := ecdsa.GenerateKey(elliptic.P384(), rand.Reader)
	require.NoError(t, err)
	mock := &mockKMS{sign: func(req *kmspb.AsymmetricSignRequest) (*kmspb.AsymmetricSignResponse, error) {
		digest := req.GetDigest().GetSha384()
		require.Len(t, digest, sha512.Size384)
		sig, err := ecdsa.SignASN1(rand.Reader, key, digest)
		return &kmspb.AsymmetricSignResponse{Name: req.Name, Signature: sig}, err
	}}

	s, err := New(mock, keyName, &key.PublicKey)
	require.NoError(t, err)
	digest := sha512.Sum384([]byte("completed document"))
	sig, err := s.Sign(nil, digest[:], crypto.SHA384)
	require.NoError(t, err)
	assert.True(t, ecdsa.VerifyASN1(&key.PublicKey, digest[:], sig))
}

func TestSignErrors(t *testing.T) {
	pub := &rsa.PublicKey{N: big.NewInt(1), E: 65537}

	s, err := New(&mockKMS{sign: func(*kmspb.AsymmetricSignRequest) (*kmspb.AsymmetricSignResponse, error) {
		return nil, errors.New("permission denied")
	}}, keyName, pub)
	require.NoError(t, err)
	_, err = s.Sign(nil, make([]byte, 32), crypto.SHA256)
	assert.ErrorContains(t, err, "permission denied")
	_, err = s.Sign(nil, make([]byte, 28), crypto.SHA224)
	assert.Error(t, err)

	s, err = New(&mockKMS{sign: func(*kmspb.AsymmetricSignRequest) (*kmspb.AsymmetricSignResponse, error) {
		return &kmspb.AsymmetricSignResponse{Name: "other", Signature: []byte("sig")}, nil
	}}, keyName, pub)
	require.NoError(t, err)
	_, err = s.Sign(nil, make([]byte, 32), crypto.SHA256)
	assert.ErrorContains(t, err, "signed by other")
}

func TestNew(t *testing.T) {
	pub := &rsa.PublicKey{N: big.NewInt(1), E: 65537}
	_, err := New(nil, keyName, pub)
	assert.Error(t, err)
	_, err = New(&mockKMS{}, "", pub)
	assert.Error(t, err)

	s, err := New(&mockKMS{}, keyName, pub)
	require.NoError(t, err)
	assert.NoError(t, s.Close())
}
