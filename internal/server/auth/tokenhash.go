package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
)

// HMAC algorithms accepted by NewTokenHasher.
const (
	HMACSHA256 = "HS256"
	HMACSHA512 = "HS512"
)

// MinHMACKeyLen is the shortest accepted HMAC secret, in bytes.
const MinHMACKeyLen = 32

// ErrHMACKeyMissing is returned when the token hashing secret is absent or too short.
var ErrHMACKeyMissing = errors.New("token hmac key missing or too short")

// TokenHasher maps opaque tokens to the keyed digest kept at rest. Lookups
// hash the presented token again and compare digests, so the raw value is
// never stored.
type TokenHasher struct {
	key     []byte
	newHash func() hash.Hash
}

// NewTokenHasher copies key; algorithm defaults to HS256.
func NewTokenHasher(key []byte, algorithm string) (*TokenHasher, error) {
	if len(key) < MinHMACKeyLen {
		return nil, ErrHMACKeyMissing
	}

	var h func() hash.Hash
	switch algorithm {
	case "", HMACSHA256:
		h = sha256.New
	case HMACSHA512:
		h = sha512.New
	default:
		return nil, fmt.Errorf("unsupported token hmac algorithm %q", algorithm)
	}

	return &TokenHasher{key: append([]byte(nil), key...), newHash: h}, nil
}

// Hash returns the hex digest of raw.
func (t *TokenHasher) Hash(raw string) string {
	mac := hmac.New(t.newHash, t.key)
	mac.Write([]byte(raw))
	return hex.EncodeToString(mac.Sum(nil))
}
