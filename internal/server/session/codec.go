// Package session implements the signed session cookie: the payload it
// carries, the codec that signs and verifies it, and the issue/clear
// transitions used by login and logout.
//
// A cookie value has the form
//
//	base64url(json(payload)) "." base64url(HMAC-SHA256(key, base64url(json(payload))))
//
// The cookie only proves that the server issued a session for a subject id
// at a given time; the account itself is re-read from the store on every
// request.
package session

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Decode failures. None of them is ever shown to the client.
var (
	ErrMalformed        = errors.New("malformed session cookie")
	ErrTamperedOrForged = errors.New("session cookie signature mismatch")
	ErrExpired          = errors.New("session cookie expired")
)

// ErrInvalidConfig is returned by NewCodec for unusable settings.
var ErrInvalidConfig = errors.New("invalid session cookie config")

// clockSkew is how far in the future issued_at may lie before the payload
// is refused.
const clockSkew = time.Minute

const separator = "."

var (
	enc     = base64.RawURLEncoding.Strict()
	signing = jwt.SigningMethodHS256
)

// Scope names the trust domain that issued a payload.
type Scope string

const (
	ScopeUser  Scope = "user"
	ScopeAdmin Scope = "admin"
)

func (s Scope) valid() bool {
	return s == ScopeUser || s == ScopeAdmin
}

// Payload is the immutable content of a session cookie.
type Payload struct {
	SubjectID int64
	IssuedAt  time.Time
	Scope     Scope
	SessionID string
}

// wirePayload is the JSON shape of Payload. IssuedAt travels as unix
// seconds.
type wirePayload struct {
	Sub   int64  `json:"sub"`
	Iat   int64  `json:"iat"`
	Scope Scope  `json:"scope"`
	Sid   string `json:"sid"`
}

// Config describes the cookie of one trust domain.
type Config struct {
	Name     string
	Path     string
	Domain   string
	Secure   bool
	MaxAge   time.Duration
	SameSite http.SameSite
}

// Codec signs and verifies the session cookies of one trust domain.
type Codec struct {
	key   Key
	scope Scope
	cfg   Config
	now   func() time.Time
}

// Option customises a Codec.
type Option func(*Codec)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Codec) {
		c.now = now
	}
}

// NewCodec validates cfg and returns a codec for scope.
func NewCodec(key Key, scope Scope, cfg Config, opts ...Option) (*Codec, error) {
	if len(key.bytes()) < MinKeyLen {
		return nil, ErrWeakKey
	}
	if !scope.valid() {
		return nil, fmt.Errorf("%w: unknown scope %q", ErrInvalidConfig, scope)
	}
	if cfg.Name == "" || (&http.Cookie{Name: cfg.Name, Value: "x"}).Valid() != nil {
		return nil, fmt.Errorf("%w: bad cookie name %q", ErrInvalidConfig, cfg.Name)
	}
	if cfg.MaxAge < time.Second {
		return nil, fmt.Errorf("%w: max age %s", ErrInvalidConfig, cfg.MaxAge)
	}
	switch cfg.SameSite {
	case http.SameSiteStrictMode, http.SameSiteLaxMode:
	case http.SameSiteNoneMode:
		if !cfg.Secure {
			return nil, fmt.Errorf("%w: SameSite=None requires Secure", ErrInvalidConfig)
		}
	default:
		return nil, fmt.Errorf("%w: SameSite must be Strict, Lax or None", ErrInvalidConfig)
	}
	if cfg.Path == "" {
		cfg.Path = "/"
	}

	c := &Codec{key: key, scope: scope, cfg: cfg, now: time.Now}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Name is the cookie name.
func (c *Codec) Name() string { return c.cfg.Name }

// Scope is the trust domain the codec signs for.
func (c *Codec) Scope() Scope { return c.scope }

// MaxAge is the session lifetime.
func (c *Codec) MaxAge() time.Duration { return c.cfg.MaxAge }

// NewPayload mints a payload for subjectID issued now, with a fresh session
// id. IssuedAt is truncated to whole seconds, the wire precision.
func (c *Codec) NewPayload(subjectID int64) Payload {
	return Payload{
		SubjectID: subjectID,
		IssuedAt:  time.Unix(c.now().Unix(), 0).UTC(),
		Scope:     c.scope,
		SessionID: uuid.NewString(),
	}
}

// Encode signs p and returns the cookie value.
func (c *Codec) Encode(p Payload) (string, error) {
	if p.Scope != c.scope {
		return "", fmt.Errorf("encode: payload scope %q does not match codec scope %q", p.Scope, c.scope)
	}
	if p.SubjectID == 0 || p.IssuedAt.IsZero() || p.SessionID == "" {
		return "", errors.New("encode: incomplete payload")
	}

	raw, err := json.Marshal(wirePayload{
		Sub:   p.SubjectID,
		Iat:   p.IssuedAt.Unix(),
		Scope: p.Scope,
		Sid:   p.SessionID,
	})
	if err != nil {
		return "", fmt.Errorf("encode: %w", err)
	}

	body := enc.EncodeToString(raw)
	sig, err := signing.Sign(body, c.key.bytes())
	if err != nil {
		return "", fmt.Errorf("encode: sign: %w", err)
	}

	return body + separator + enc.EncodeToString(sig), nil
}

// Decode verifies value and returns its payload. Checks run in a fixed
// order: structure, signature, payload shape, freshness. It never panics,
// whatever the input.
func (c *Codec) Decode(value string) (Payload, error) {
	body, sigText, ok := strings.Cut(value, separator)
	if !ok || body == "" || sigText == "" {
		return Payload{}, ErrMalformed
	}

	sig, err := enc.DecodeString(sigText)
	if err != nil {
		return Payload{}, ErrMalformed
	}

	if err := signing.Verify(body, sig, c.key.bytes()); err != nil {
		return Payload{}, ErrTamperedOrForged
	}

	raw, err := enc.DecodeString(body)
	if err != nil {
		return Payload{}, ErrMalformed
	}

	var w wirePayload
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&w); err != nil || dec.More() {
		return Payload{}, ErrMalformed
	}
	if w.Sub == 0 || w.Iat <= 0 || w.Sid == "" || !w.Scope.valid() {
		return Payload{}, ErrMalformed
	}
	// Correctly signed for another domain: only possible when keys are shared.
	if w.Scope != c.scope {
		return Payload{}, ErrTamperedOrForged
	}

	p := Payload{
		SubjectID: w.Sub,
		IssuedAt:  time.Unix(w.Iat, 0).UTC(),
		Scope:     w.Scope,
		SessionID: w.Sid,
	}

	now := c.now()
	if p.IssuedAt.After(now.Add(clockSkew)) {
		return Payload{}, ErrMalformed
	}
	if now.Sub(p.IssuedAt) > c.cfg.MaxAge {
		return Payload{}, ErrExpired
	}

	return p, nil
}
