package cryptox

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// cheap parameters keep the suite fast; the encoding is the same.
var testParams = Params{Time: 1, Memory: 1024, Threads: 1, SaltLen: 16, KeyLen: 32}

func TestHashPassword_VerifyRoundTrip(t *testing.T) {
	encoded, err := HashPasswordWithParams("correct horse", testParams)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(encoded, "$argon2id$v=19$m=1024,t=1,p=1$"), encoded)

	ok, err := VerifyPassword("correct horse", encoded)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = VerifyPassword("correct horsf", encoded)
	require.NoError(t, err, "a mismatch is a result, not an error")
	assert.False(t, ok)
}

func TestHashPassword_SaltIsRandom(t *testing.T) {
	a, err := HashPasswordWithParams("same", testParams)
	require.NoError(t, err)
	b, err := HashPasswordWithParams("same", testParams)
	require.NoError(t, err)

	assert.NotEqual(t, a, b)
}

func TestVerifyPassword_DefaultParams(t *testing.T) {
	if testing.Short() {
		t.Skip("64 MiB argon2 pass")
	}
	encoded, err := HashPassword("pw")
	require.NoError(t, err)
	assert.Contains(t, encoded, "m=65536,t=1,p=4")

	ok, err := VerifyPassword("pw", encoded)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestVerifyPassword_MalformedHash(t *testing.T) {
	tests := []struct {
		name    string
		encoded string
	}{
		{"empty", ""},
		{"plain text", "hunter2"},
		{"bcrypt", "$2a$10$N9qo8uLOickgx2ZMRZoMyeIjZAgcfl7p92ldGxad68LJZdL17lhWy"},
		{"wrong version", "$argon2id$v=16$m=1024,t=1,p=1$c2FsdHNhbHRzYWx0$a2V5a2V5a2V5"},
		{"bad params", "$argon2id$v=19$m=x,t=1,p=1$c2FsdHNhbHRzYWx0$a2V5a2V5a2V5"},
		{"zero memory", "$argon2id$v=19$m=0,t=1,p=1$c2FsdHNhbHRzYWx0$a2V5a2V5a2V5"},
		{"bad salt", "$argon2id$v=19$m=1024,t=1,p=1$!!!$a2V5a2V5a2V5"},
		{"empty key", "$argon2id$v=19$m=1024,t=1,p=1$c2FsdHNhbHRzYWx0$"},
		{"too many parts", "$argon2id$v=19$m=1024,t=1,p=1$c2FsdA$a2V5$extra"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			ok, err := VerifyPassword("pw", tc.encoded)
			assert.False(t, ok)
			assert.True(t, errors.Is(err, ErrMalformedHash), "got %v", err)
		})
	}
}

func TestHasher_HashAndVerify(t *testing.T) {
	h := NewHasher(testParams, 2)
	ctx := context.Background()

	encoded, err := h.Hash(ctx, "secret")
	require.NoError(t, err)

	ok, err := h.Verify(ctx, "secret", encoded)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = h.Verify(ctx, "other", encoded)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestHasher_CancelledWhileWaiting(t *testing.T) {
	h := NewHasher(testParams, 1)

	// occupy the only slot
	require.NoError(t, h.sem.Acquire(context.Background(), 1))
	defer h.sem.Release(1)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := h.Verify(ctx, "pw", "$argon2id$v=19$m=1024,t=1,p=1$c2FsdHNhbHRzYWx0$a2V5a2V5a2V5")
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	_, err = h.Hash(ctx, "pw")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestNewHasher_ClampsConcurrency(t *testing.T) {
	h := NewHasher(testParams, 0)
	assert.True(t, h.sem.TryAcquire(1))
	assert.False(t, h.sem.TryAcquire(1))
	h.sem.Release(1)
}

func TestRandomBytes(t *testing.T) {
	b, err := RandomBytes(24)
	require.NoError(t, err)
	assert.Len(t, b, 24)

	empty, err := RandomBytes(0)
	require.NoError(t, err)
	assert.Empty(t, empty)
}
