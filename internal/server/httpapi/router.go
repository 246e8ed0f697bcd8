// Package httpapi is the HTTP surface of the server: routing, request
// decoding, status mapping and access logging. Protected scopes are mounted
// behind identity middleware, one per trust domain.
package httpapi

import (
	"context"
	"net/http"

	"github.com/go-chi/chi"
	"github.com/go-chi/chi/middleware"

	"github.com/dmitrijs2005/tagify/internal/logging"
	"github.com/dmitrijs2005/tagify/internal/server/identity"
	"github.com/dmitrijs2005/tagify/internal/server/metrics"
	"github.com/dmitrijs2005/tagify/internal/server/models"
	"github.com/dmitrijs2005/tagify/internal/server/services"
	"github.com/dmitrijs2005/tagify/internal/server/session"
)

// Accounts is the business logic the handlers call.
type Accounts interface {
	Login(ctx context.Context, username, password string, scope session.Scope) (*models.Account, error)
	Get(ctx context.Context, id int64) (*models.Account, error)
	List(ctx context.Context) ([]models.Account, error)
	UpdateNickname(ctx context.Context, id int64, nickname string) error
	ChangePassword(ctx context.Context, id int64, password string) error
	DeleteSelf(ctx context.Context, actor models.Account) error
	Create(ctx context.Context, in services.NewAccount) (*models.Account, error)
	Update(ctx context.Context, actor models.Account, id int64, u services.AccountUpdate) (*models.Account, error)
	DeleteByAdmin(ctx context.Context, actor models.Account, id int64) error
}

// Deps are the collaborators of the router.
type Deps struct {
	Accounts   Accounts
	Store      identity.AccountStore
	UserCodec  *session.Codec
	AdminCodec *session.Codec
	Logger     logging.Logger
	// Metrics is optional; when set, GET /metrics serves it.
	Metrics *metrics.Prometheus
	// Health is optional; when set, GET /api/health reports it.
	Health       HealthReporter
	MaxBodyBytes int64
}

// HealthReporter reports whether the backing store is reachable.
type HealthReporter interface {
	Healthy() bool
}

type api struct {
	accounts Accounts
	user     *session.Codec
	admin    *session.Codec
	logger   logging.Logger
}

// NewRouter wires every route.
//
//	GET  /api/status
//	GET  /api/health
//	POST /api/login                 user domain
//	POST /api/admin/login           admin domain
//	POST /api/{user,admin}/logout   clears the domain cookie
//	     /api/user/me...            user domain
//	     /api/admin/...             admin domain
func NewRouter(d Deps) http.Handler {
	a := &api{accounts: d.Accounts, user: d.UserCodec, admin: d.AdminCodec, logger: d.Logger}

	var recorder metrics.Recorder = metrics.Nop{}
	if d.Metrics != nil {
		recorder = d.Metrics
	}
	userOnly := identity.NewMiddleware(identity.UserDomain(d.UserCodec), d.Store, d.Logger, recorder)
	adminOnly := identity.NewMiddleware(identity.AdminDomain(d.AdminCodec), d.Store, d.Logger, recorder)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(AccessLog(d.Logger))
	r.Use(middleware.Recoverer)
	r.Use(LimitBody(d.MaxBodyBytes))

	if d.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", d.Metrics.Handler())
	}

	r.Route("/api", func(r chi.Router) {
		r.Get("/status", a.status)
		if d.Health != nil {
			r.Get("/health", health(d.Health))
		}
		r.Post("/login", a.login(session.ScopeUser, d.UserCodec))

		r.Route("/user", func(r chi.Router) {
			r.Post("/logout", a.logout(d.UserCodec))

			r.Group(func(r chi.Router) {
				r.Use(userOnly)
				r.Get("/me", a.me)
				r.Put("/me", a.updateMe)
				r.Delete("/me", a.deleteMe)
				r.Put("/me/password", a.changeMyPassword)
			})
		})

		r.Route("/admin", func(r chi.Router) {
			r.Post("/login", a.login(session.ScopeAdmin, d.AdminCodec))
			r.Post("/logout", a.logout(d.AdminCodec))

			r.Group(func(r chi.Router) {
				r.Use(adminOnly)
				r.Get("/me", a.me)
				r.Get("/users", a.listUsers)
				r.Post("/users", a.createUser)
				r.Get("/users/{id}", a.getUser)
				r.Put("/users/{id}", a.updateUser)
				r.Delete("/users/{id}", a.deleteUser)
			})
		})
	})

	return r
}
