package cryptox

import (
	"context"

	"golang.org/x/sync/semaphore"
)

// Hasher runs argon2id computations on a bounded number of goroutines so a
// burst of logins cannot take every CPU away from request handling. Waiting
// for a slot honours ctx; once a computation has started it runs to
// completion.
type Hasher struct {
	params Params
	sem    *semaphore.Weighted
}

// NewHasher creates a Hasher allowing at most concurrency parallel hashes.
// Values below 1 are treated as 1.
func NewHasher(params Params, concurrency int) *Hasher {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Hasher{params: params, sem: semaphore.NewWeighted(int64(concurrency))}
}

// Hash hashes plain for storage.
func (h *Hasher) Hash(ctx context.Context, plain string) (string, error) {
	if err := h.sem.Acquire(ctx, 1); err != nil {
		return "", err
	}
	defer h.sem.Release(1)

	return HashPasswordWithParams(plain, h.params)
}

// Verify checks plain against encoded.
func (h *Hasher) Verify(ctx context.Context, plain, encoded string) (bool, error) {
	if err := h.sem.Acquire(ctx, 1); err != nil {
		return false, err
	}
	defer h.sem.Release(1)

	return VerifyPassword(plain, encoded)
}
