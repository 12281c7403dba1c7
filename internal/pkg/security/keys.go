package security

import (
	"crypto/hmac"
	"crypto/sha256"
	"errors"
	"io"
	"strings"

	"golang.org/x/crypto/hkdf"
)

const PurposeStreamToken = "streampass/stream-token/v1"

const minSecretLength = 16

var ErrWeakSecret = errors.New("APP_SECRET must be at least 16 characters")

// DeriveKey expands the application secret into an independent 32 byte key
// per purpose, so rotating one consumer never requires sharing raw secrets.
func DeriveKey(secret, purpose string) ([]byte, error) {
	secret = strings.TrimSpace(secret)
	if len(secret) < minSecretLength {
		return nil, ErrWeakSecret
	}
	r := hkdf.New(sha256.New, []byte(secret), nil, []byte(purpose))
	key := make([]byte, 32)
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, err
	}
	return key, nil
}

// EqualKeys compares two shared secrets in constant time.
func EqualKeys(got, want string) bool {
	if got == "" || want == "" {
		return false
	}
	return hmac.Equal([]byte(got), []byte(want))
}
