// Package identity gates route scopes behind a trust domain.
//
// The session cookie is treated only as proof that the server once issued a
// session for an account id. The account is re-read from the store on every
// request, so deletions and role changes apply to the very next request.
package identity

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/middleware"

	"github.com/dmitrijs2005/tagify/internal/common"
	"github.com/dmitrijs2005/tagify/internal/logging"
	"github.com/dmitrijs2005/tagify/internal/server/metrics"
	"github.com/dmitrijs2005/tagify/internal/server/models"
	"github.com/dmitrijs2005/tagify/internal/server/session"
)

const (
	unauthenticatedBody = `{"error":"unauthenticated"}`
	internalBody        = `{"error":"internal server error"}`
)

// errAbandoned means the client went away during the check. Nothing is
// written and nothing is counted as a failure.
var errAbandoned = errors.New("request abandoned")

// AccountStore is the part of the credential store the middleware reads.
type AccountStore interface {
	GetByID(ctx context.Context, id int64) (*models.Account, error)
}

// Domain is the policy of one trust domain.
type Domain struct {
	Name  string
	Codec *session.Codec
	// Allow is applied to the freshly loaded account. Nil allows every
	// account.
	Allow func(models.Account) bool
}

// UserDomain admits any existing account holding a user-domain session.
func UserDomain(codec *session.Codec) Domain {
	return Domain{Name: string(session.ScopeUser), Codec: codec}
}

// AdminDomain admits only accounts whose current role is admin.
func AdminDomain(codec *session.Codec) Domain {
	return Domain{Name: string(session.ScopeAdmin), Codec: codec, Allow: models.Account.IsAdmin}
}

// Middleware enforces one Domain on the handlers it wraps.
type Middleware struct {
	domain   Domain
	store    AccountStore
	logger   logging.Logger
	recorder metrics.Recorder
}

// New builds the middleware for domain. A nil recorder disables metrics.
func New(domain Domain, store AccountStore, logger logging.Logger, recorder metrics.Recorder) *Middleware {
	if recorder == nil {
		recorder = metrics.Nop{}
	}
	return &Middleware{
		domain:   domain,
		store:    store,
		logger:   logger.With("domain", domain.Name),
		recorder: recorder,
	}
}

// NewMiddleware is New in the form chi's Use and With expect.
func NewMiddleware(domain Domain, store AccountStore, logger logging.Logger, recorder metrics.Recorder) func(http.Handler) http.Handler {
	return New(domain, store, logger, recorder).Wrap
}

// Wrap returns next guarded by the domain's checks.
func (m *Middleware) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		account, err := m.authenticate(r)
		if err != nil {
			if errors.Is(err, errAbandoned) {
				return
			}
			if errors.Is(err, common.ErrInternal) {
				writeError(w, http.StatusInternalServerError, internalBody)
				return
			}
			writeError(w, http.StatusUnauthorized, unauthenticatedBody)
			return
		}

		next.ServeHTTP(w, r.WithContext(WithAccount(r.Context(), account)))
	})
}

// authenticate runs the per-request checks. The error is
// common.ErrUnauthenticated, common.ErrInternal or errAbandoned.
func (m *Middleware) authenticate(r *http.Request) (models.Account, error) {
	ctx := r.Context()
	log := m.logger.With("request_id", middleware.GetReqID(ctx), "remote_addr", r.RemoteAddr)

	cookies := r.CookiesNamed(m.domain.Codec.Name())
	if len(cookies) == 0 {
		m.recorder.AuthOutcome(m.domain.Name, metrics.OutcomeMissing)
		return models.Account{}, common.ErrUnauthenticated
	}

	payload, err := m.decodeAny(cookies)
	switch {
	case err == nil:
	case errors.Is(err, session.ErrTamperedOrForged):
		m.recorder.AuthOutcome(m.domain.Name, metrics.OutcomeForged)
		log.Warn(ctx, "security.cookie_forged", "path", r.URL.Path, "user_agent", r.UserAgent())
		return models.Account{}, common.ErrUnauthenticated
	case errors.Is(err, session.ErrExpired):
		m.recorder.AuthOutcome(m.domain.Name, metrics.OutcomeExpired)
		log.Debug(ctx, "session expired")
		return models.Account{}, common.ErrUnauthenticated
	default:
		m.recorder.AuthOutcome(m.domain.Name, metrics.OutcomeMalformed)
		log.Info(ctx, "malformed session cookie", "error", err)
		return models.Account{}, common.ErrUnauthenticated
	}

	account, err := m.store.GetByID(ctx, payload.SubjectID)
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			m.recorder.AuthOutcome(m.domain.Name, metrics.OutcomeUnknownAccount)
			log.Info(ctx, "session for missing account", "account_id", payload.SubjectID)
			return models.Account{}, common.ErrUnauthenticated
		}
		if ctx.Err() != nil || errors.Is(err, context.Canceled) {
			m.recorder.AuthOutcome(m.domain.Name, metrics.OutcomeCancelled)
			log.Debug(ctx, "request cancelled during account lookup", "account_id", payload.SubjectID)
			return models.Account{}, errAbandoned
		}
		m.recorder.AuthOutcome(m.domain.Name, metrics.OutcomeStoreError)
		log.Error(ctx, "load session account", "account_id", payload.SubjectID, "error", err)
		return models.Account{}, common.ErrInternal
	}

	if m.domain.Allow != nil && !m.domain.Allow(*account) {
		m.recorder.AuthOutcome(m.domain.Name, metrics.OutcomeForbidden)
		log.Info(ctx, "account not allowed in domain", "account_id", account.ID, "role", account.Role)
		return models.Account{}, common.ErrUnauthenticated
	}

	m.recorder.AuthOutcome(m.domain.Name, metrics.OutcomeAccepted)
	return *account, nil
}

// decodeAny accepts the first cookie that decodes. A browser may send
// several cookies of one name (parent domain, narrower path), and a stale
// one must not hide a valid session. When none decodes, the first error is
// reported.
func (m *Middleware) decodeAny(cookies []*http.Cookie) (session.Payload, error) {
	var firstErr error
	for _, c := range cookies {
		p, err := m.domain.Codec.Decode(c.Value)
		if err == nil {
			return p, nil
		}
		if firstErr == nil {
			firstErr = err
		}
	}
	return session.Payload{}, firstErr
}

func writeError(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(body))
}
