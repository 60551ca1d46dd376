// Package internal holds the opaque-token codec shared by the refresh,
// password-reset, and email-verification stores.
package internal

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
)

// TokenID is the random identifier half of an opaque token. The identifier
// is the storage key; the secret never touches storage in plaintext.
type TokenID [16]byte

const (
	// SecretSize is 32 bytes, 256 bits of entropy per token.
	SecretSize = 32

	rawTokenSize = len(TokenID{}) + SecretSize
)

// ErrTokenMalformed is returned when an opaque token fails to decode.
var ErrTokenMalformed = errors.New("malformed opaque token")

// NewTokenID returns a random token identifier.
func NewTokenID() (TokenID, error) {
	var id TokenID
	_, err := rand.Read(id[:])
	return id, err
}

func (id TokenID) String() string {
	return base64.RawURLEncoding.EncodeToString(id[:])
}

// ParseTokenID decodes the string form produced by TokenID.String.
func ParseTokenID(s string) (TokenID, error) {
	var id TokenID

	raw, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return id, ErrTokenMalformed
	}
	if len(raw) != len(id) {
		return id, ErrTokenMalformed
	}

	copy(id[:], raw)
	return id, nil
}

// NewSecret returns a fresh random token secret.
func NewSecret() ([SecretSize]byte, error) {
	var secret [SecretSize]byte
	_, err := rand.Read(secret[:])
	return secret, err
}

// HashSecret is the digest persisted in place of the secret itself.
func HashSecret(secret [SecretSize]byte) [32]byte {
	return sha256.Sum256(secret[:])
}

// EncodeToken packs id and secret into the single opaque string handed to
// clients.
func EncodeToken(id TokenID, secret [SecretSize]byte) string {
	var raw [rawTokenSize]byte
	copy(raw[:len(id)], id[:])
	copy(raw[len(id):], secret[:])

	return base64.RawURLEncoding.EncodeToString(raw[:])
}

// DecodeToken splits an opaque token back into identifier and secret.
func DecodeToken(token string) (TokenID, [SecretSize]byte, error) {
	var (
		id     TokenID
		secret [SecretSize]byte
	)

	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return id, secret, ErrTokenMalformed
	}
	if len(raw) != rawTokenSize {
		return id, secret, ErrTokenMalformed
	}

	copy(id[:], raw[:len(id)])
	copy(secret[:], raw[len(id):])

	return id, secret, nil
}
