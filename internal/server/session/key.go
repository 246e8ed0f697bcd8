package session

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
)

// MinKeyLen is the shortest secret accepted for signing session cookies.
const MinKeyLen = 32

// ErrWeakKey is returned for secrets shorter than MinKeyLen.
var ErrWeakKey = errors.New("session key too short")

// Key is the secret used to sign one trust domain's cookies. It is built
// once at startup and never changes; Key values are safe to share between
// goroutines.
type Key struct {
	b []byte
}

// NewKey copies secret into a Key.
func NewKey(secret []byte) (Key, error) {
	if len(secret) < MinKeyLen {
		return Key{}, fmt.Errorf("%w: %d bytes, need at least %d", ErrWeakKey, len(secret), MinKeyLen)
	}
	b := make([]byte, len(secret))
	copy(b, secret)
	return Key{b: b}, nil
}

// ParseKey reads a key from configuration. Values prefixed with "base64:"
// are decoded; anything else is used as raw bytes.
func ParseKey(s string) (Key, error) {
	if enc, ok := strings.CutPrefix(s, "base64:"); ok {
		b, err := base64.StdEncoding.DecodeString(enc)
		if err != nil {
			return Key{}, fmt.Errorf("decode session key: %w", err)
		}
		return NewKey(b)
	}
	return NewKey([]byte(s))
}

// GenerateKey returns a fresh random key rendered in the "base64:" form
// accepted by ParseKey.
func GenerateKey() (string, error) {
	b := make([]byte, MinKeyLen)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return "base64:" + base64.StdEncoding.EncodeToString(b), nil
}

// Equal reports whether k and other hold the same secret.
func (k Key) Equal(other Key) bool {
	return subtle.ConstantTimeCompare(k.b, other.b) == 1
}

func (k Key) bytes() []byte {
	return k.b
}

// String never reveals the secret.
func (k Key) String() string {
	return "session.Key(redacted)"
}
