// Package jwtkey implements an alternative to auth.KeyStore's plain
// 32-character opaque token: a signed JWT "key" validated against a
// locally-held JWK set rather than looked up row-by-row in the `keys`
// table. Validator is standalone: auth.Authenticate consults only an
// auth.KeyStore and does not call into this package.
package jwtkey

import (
	"context"
	"errors"
	"time"

	"github.com/MicahParks/jwkset"
	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"

	"github.com/dkbame/mactracker/bittorrent"
)

// Claims is the payload a tracker-issued JWT key carries. Subject
// identifies the issued-to client; the standard exp/nbf/iat claims govern
// validity the same way auth.KeyStore's ValidUntil does for opaque tokens.
type Claims struct {
	jwt.RegisteredClaims
}

// ErrInvalidToken wraps any JWT parse/verify failure as the same
// protocol-surfaced error an unknown opaque key produces, so callers don't
// need to know which key scheme rejected the request.
var ErrInvalidToken = bittorrent.ClientError("unknown authentication key")

// Validator validates JWT-encoded authentication keys against a JWK set
// held in memory, refreshed from its Storage on each Validate call per
// keyfunc's own caching policy.
type Validator struct {
	keyfunc keyfunc.Keyfunc
}

// NewValidator builds a Validator whose JWK set is the given jwkset.Storage
// — typically a jwkset.NewMemoryStorage() populated at startup from a
// local JSON document, rather than fetched from a remote issuer, since
// this tracker issues its own keys.
func NewValidator(ctx context.Context, storage jwkset.Storage) (*Validator, error) {
	kf, err := keyfunc.New(keyfunc.Options{
		Ctx:     ctx,
		Storage: storage,
	})
	if err != nil {
		return nil, err
	}
	return &Validator{keyfunc: kf}, nil
}

// Validate parses and verifies a JWT key, reporting ErrInvalidToken for
// any signature, expiry, or not-before failure.
func (v *Validator) Validate(token string) error {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(token, claims, v.keyfunc.Keyfunc)
	if err != nil {
		return ErrInvalidToken
	}
	return nil
}

// Issue mints a new JWT key for subject, valid until validUntil (zero
// means no expiry), signed with signingKey under the given key ID — the
// key ID must match an entry already present in the Validator's JWK set
// storage for Validate to later accept it.
func Issue(signingKey any, keyID, subject string, validUntil time.Time) (string, error) {
	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:  subject,
			IssuedAt: jwt.NewNumericDate(now),
		},
	}
	if !validUntil.IsZero() {
		claims.ExpiresAt = jwt.NewNumericDate(validUntil)
	}

	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = keyID
	return token.SignedString(signingKey)
}

// ErrNoSuchKeyID is returned by RevokeKeyID when a JWK set does not
// contain the requested key ID.
var ErrNoSuchKeyID = errors.New("jwtkey: no such key id in JWK set")

// RevokeKeyID removes keyID from storage, the JWT analogue of
// auth.KeyStore.Revoke for the opaque-token scheme.
func RevokeKeyID(ctx context.Context, storage jwkset.Storage, keyID string) error {
	deleted, err := storage.KeyDelete(ctx, keyID)
	if err != nil {
		return err
	}
	if !deleted {
		return ErrNoSuchKeyID
	}
	return nil
}
