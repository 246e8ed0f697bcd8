// Package common defines sentinel errors shared by the repository, service
// and transport layers of the tagify server. Callers should use errors.Is to
// match these values.
package common

import "errors"

var (
	// Repository-level errors.
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")

	// Service-level errors.
	ErrInternal   = errors.New("internal error")
	ErrValidation = errors.New("validation error")

	// ErrAuthenticationFailed is returned by login for both an unknown
	// username and a wrong password.
	ErrAuthenticationFailed = errors.New("authentication failed")

	// ErrUnauthenticated is the only rejection a protected route reports
	// for a missing, broken, expired or revoked session.
	ErrUnauthenticated = errors.New("unauthenticated")
)
