package jwtkey

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"testing"
	"time"

	"github.com/MicahParks/jwkset"
	"github.com/stretchr/testify/require"
)

func newTestStorage(t *testing.T, keyID string, pub *rsa.PublicKey) jwkset.Storage {
	t.Helper()
	storage := jwkset.NewMemoryStorage()

	jwk, err := jwkset.NewJWKFromKey(pub, jwkset.JWKOptions{
		Metadata: jwkset.JWKMetadataOptions{KID: keyID},
	})
	require.NoError(t, err)
	require.NoError(t, storage.KeyWrite(context.Background(), jwk))
	return storage
}

func TestIssueValidate_RoundTrip(t *testing.T) {
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	storage := newTestStorage(t, "key-1", &priv.PublicKey)
	v, err := NewValidator(context.Background(), storage)
	require.NoError(t, err)

	token, err := Issue(priv, "key-1", "client-a", time.Now().Add(time.Hour))
	require.NoError(t, err)
	require.NoError(t, v.Validate(token))
}

func TestValidate_ExpiredTokenRejected(t *testing.T) {
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	storage := newTestStorage(t, "key-1", &priv.PublicKey)
	v, err := NewValidator(context.Background(), storage)
	require.NoError(t, err)

	token, err := Issue(priv, "key-1", "client-a", time.Now().Add(-time.Hour))
	require.NoError(t, err)
	require.ErrorIs(t, v.Validate(token), ErrInvalidToken)
}

func TestValidate_UnknownKeyIDRejected(t *testing.T) {
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	storage := newTestStorage(t, "key-1", &priv.PublicKey)
	v, err := NewValidator(context.Background(), storage)
	require.NoError(t, err)

	other, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	token, err := Issue(other, "key-2", "client-a", time.Time{})
	require.NoError(t, err)
	require.ErrorIs(t, v.Validate(token), ErrInvalidToken)
}

func TestRevokeKeyID_UnknownIDErrors(t *testing.T) {
	storage := jwkset.NewMemoryStorage()
	err := RevokeKeyID(context.Background(), storage, "nope")
	require.ErrorIs(t, err, ErrNoSuchKeyID)
}
