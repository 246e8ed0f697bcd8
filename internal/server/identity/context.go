package identity

import (
	"context"

	"github.com/dmitrijs2005/tagify/internal/server/models"
)

type contextKey struct{}

// WithAccount attaches a validated account to ctx. Only the middleware and
// tests should call it.
func WithAccount(ctx context.Context, account models.Account) context.Context {
	return context.WithValue(ctx, contextKey{}, account)
}

// FromContext returns the account validated for the current request.
func FromContext(ctx context.Context) (models.Account, bool) {
	account, ok := ctx.Value(contextKey{}).(models.Account)
	return account, ok
}

// MustFromContext is FromContext for handlers mounted behind the
// middleware. A missing identity there is a routing bug, so it panics.
func MustFromContext(ctx context.Context) models.Account {
	account, ok := FromContext(ctx)
	if !ok {
		panic("identity: handler reached without a validated account")
	}
	return account
}
