package httpapi

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/steinfletcher/apitest"
	jsonpath "github.com/steinfletcher/apitest-jsonpath"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrijs2005/tagify/internal/common"
	"github.com/dmitrijs2005/tagify/internal/cryptox"
	"github.com/dmitrijs2005/tagify/internal/dbx"
	"github.com/dmitrijs2005/tagify/internal/logging"
	"github.com/dmitrijs2005/tagify/internal/server/metrics"
	"github.com/dmitrijs2005/tagify/internal/server/models"
	"github.com/dmitrijs2005/tagify/internal/server/repositories/users"
	"github.com/dmitrijs2005/tagify/internal/server/services"
	"github.com/dmitrijs2005/tagify/internal/server/session"
)

// memRepo is an in-memory credential store.
type memRepo struct {
	mu       sync.Mutex
	nextID   int64
	accounts map[int64]models.Account
	failGet  bool
}

func (m *memRepo) Create(_ context.Context, a *models.Account) (*models.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.accounts {
		if existing.Username == a.Username {
			return nil, common.ErrAlreadyExists
		}
	}
	m.nextID++
	a.ID = m.nextID
	m.accounts[a.ID] = *a
	return a, nil
}

func (m *memRepo) GetByID(_ context.Context, id int64) (*models.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failGet {
		return nil, errors.New("db error: too many connections")
	}
	a, ok := m.accounts[id]
	if !ok {
		return nil, common.ErrNotFound
	}
	return &a, nil
}

func (m *memRepo) GetByUsername(_ context.Context, username string) (*models.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.accounts {
		if a.Username == username {
			return &a, nil
		}
	}
	return nil, common.ErrNotFound
}

func (m *memRepo) List(context.Context) ([]models.Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.Account, 0, len(m.accounts))
	for _, a := range m.accounts {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memRepo) mutate(id int64, fn func(*models.Account)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[id]
	if !ok {
		return common.ErrNotFound
	}
	fn(&a)
	m.accounts[id] = a
	return nil
}

func (m *memRepo) UpdateNickname(_ context.Context, id int64, nickname string) error {
	return m.mutate(id, func(a *models.Account) { a.Nickname = nickname })
}

func (m *memRepo) UpdatePassword(_ context.Context, id int64, hash string) error {
	return m.mutate(id, func(a *models.Account) { a.PasswordHash = hash })
}

func (m *memRepo) UpdateRole(_ context.Context, id int64, role models.Role) error {
	return m.mutate(id, func(a *models.Account) { a.Role = role })
}

func (m *memRepo) Delete(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.accounts[id]; !ok {
		return common.ErrNotFound
	}
	delete(m.accounts, id)
	return nil
}

type memManager struct{ repo *memRepo }

func (m memManager) RunMigrations(context.Context, *sql.DB) error { return nil }
func (m memManager) Users(dbx.DBTX) users.Repository              { return m.repo }

type testEnv struct {
	handler http.Handler
	repo    *memRepo
	mock    sqlmock.Sqlmock
	metrics *metrics.Prometheus
	alice   *models.Account
	root    *models.Account
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	repo := &memRepo{accounts: map[int64]models.Account{}}
	hasher := cryptox.NewHasher(cryptox.Params{Time: 1, Memory: 1024, Threads: 1, SaltLen: 16, KeyLen: 32}, 2)
	prom := metrics.NewPrometheus()
	svc, err := services.NewAccountService(db, memManager{repo: repo}, hasher, logging.Nop{}, prom)
	require.NoError(t, err)

	root, err := svc.Create(context.Background(), services.NewAccount{Username: "root", Password: "root-password", Role: models.RoleAdmin})
	require.NoError(t, err)
	alice, err := svc.Create(context.Background(), services.NewAccount{Username: "alice", Password: "alice-password", Nickname: "Alice"})
	require.NoError(t, err)

	handler := NewRouter(Deps{
		Accounts:     svc,
		Store:        repo,
		UserCodec:    newCodec(t, "user-key-user-key-user-key-user-key", session.ScopeUser, "user"),
		AdminCodec:   newCodec(t, "admin-key-admin-key-admin-key-admin-key", session.ScopeAdmin, "admin"),
		Logger:       logging.Nop{},
		Metrics:      prom,
		MaxBodyBytes: 4096,
	})

	return &testEnv{handler: handler, repo: repo, mock: mock, metrics: prom, alice: alice, root: root}
}

func newCodec(t *testing.T, secret string, scope session.Scope, name string) *session.Codec {
	t.Helper()
	key, err := session.ParseKey(secret)
	require.NoError(t, err)
	c, err := session.NewCodec(key, scope, session.Config{
		Name:     name,
		MaxAge:   24 * time.Hour,
		Secure:   true,
		SameSite: http.SameSiteStrictMode,
	})
	require.NoError(t, err)
	return c
}

func (e *testEnv) login(t *testing.T, path, username, password string) *http.Cookie {
	t.Helper()
	res := apitest.New().
		Handler(e.handler).
		Post(path).
		JSON(`{"username":"` + username + `","password":"` + password + `"}`).
		Expect(t).
		Status(http.StatusOK).
		End()

	cookies := res.Response.Cookies()
	require.Len(t, cookies, 1)
	return cookies[0]
}

func TestStatus(t *testing.T) {
	e := newTestEnv(t)

	apitest.New().
		Handler(e.handler).
		Get("/api/status").
		Expect(t).
		Status(http.StatusOK).
		Body(`{"status":"server is working!"}`).
		End()
}

func TestLogin_User(t *testing.T) {
	e := newTestEnv(t)

	res := apitest.New().
		Handler(e.handler).
		Post("/api/login").
		JSON(`{"username":"alice","password":"alice-password"}`).
		Expect(t).
		Status(http.StatusOK).
		CookiePresent("user").
		CookieNotPresent("admin").
		Assert(jsonpath.Equal("$.username", "alice")).
		Assert(jsonpath.Equal("$.role", "user")).
		Assert(jsonpath.NotPresent("$.password_hash")).
		Assert(jsonpath.NotPresent("$.PasswordHash")).
		End()

	c := res.Response.Cookies()[0]
	assert.True(t, c.HttpOnly)
	assert.True(t, c.Secure)
	assert.Equal(t, http.SameSiteStrictMode, c.SameSite)
	assert.Equal(t, "/", c.Path)
	assert.Equal(t, int((24 * time.Hour).Seconds()), c.MaxAge)
}

func TestLogin_FailuresAreIndistinguishable(t *testing.T) {
	e := newTestEnv(t)

	for _, body := range []string{
		`{"username":"alice","password":"wrong-password"}`,
		`{"username":"nobody","password":"wrong-password"}`,
	} {
		apitest.New().
			Handler(e.handler).
			Post("/api/login").
			JSON(body).
			Expect(t).
			Status(http.StatusUnauthorized).
			Body(`{"error":"authentication failed"}`).
			CookieNotPresent("user").
			End()
	}
}

func TestLogin_AdminDomainRejectsUserRole(t *testing.T) {
	e := newTestEnv(t)

	apitest.New().
		Handler(e.handler).
		Post("/api/admin/login").
		JSON(`{"username":"alice","password":"alice-password"}`).
		Expect(t).
		Status(http.StatusUnauthorized).
		CookieNotPresent("admin").
		End()

	apitest.New().
		Handler(e.handler).
		Post("/api/admin/login").
		JSON(`{"username":"root","password":"root-password"}`).
		Expect(t).
		Status(http.StatusOK).
		CookiePresent("admin").
		CookieNotPresent("user").
		End()
}

func TestLogin_BadRequests(t *testing.T) {
	e := newTestEnv(t)

	apitest.New().Handler(e.handler).
		Post("/api/login").JSON(`{"username":`).
		Expect(t).Status(http.StatusBadRequest).End()

	apitest.New().Handler(e.handler).
		Post("/api/login").JSON(`{"username":"alice","password":"x","role":"admin"}`).
		Expect(t).Status(http.StatusBadRequest).End()

	apitest.New().Handler(e.handler).
		Post("/api/login").JSON(`{"username":"alice","password":"` + strings.Repeat("a", 5000) + `"}`).
		Expect(t).Status(http.StatusRequestEntityTooLarge).End()

	apitest.New().Handler(e.handler).
		Post("/api/login").Header("Content-Type", "text/plain").Body("username=alice").
		Expect(t).Status(http.StatusUnsupportedMediaType).End()
}

func TestProtectedRoutesWithoutSession(t *testing.T) {
	e := newTestEnv(t)

	for _, path := range []string{"/api/user/me", "/api/admin/me", "/api/admin/users"} {
		apitest.New().
			Handler(e.handler).
			Get(path).
			Expect(t).
			Status(http.StatusUnauthorized).
			Body(`{"error":"unauthenticated"}`).
			End()
	}
}

func TestUserCookieCannotReachAdminScope(t *testing.T) {
	e := newTestEnv(t)
	c := e.login(t, "/api/login", "alice", "alice-password")

	apitest.New().Handler(e.handler).
		Get("/api/user/me").Cookie(c.Name, c.Value).
		Expect(t).Status(http.StatusOK).Assert(jsonpath.Equal("$.id", float64(e.alice.ID))).End()

	apitest.New().Handler(e.handler).
		Get("/api/admin/me").Cookie(c.Name, c.Value).
		Expect(t).Status(http.StatusUnauthorized).End()

	// Same value presented under the admin cookie name.
	apitest.New().Handler(e.handler).
		Get("/api/admin/me").Cookie("admin", c.Value).
		Expect(t).Status(http.StatusUnauthorized).End()
}

func TestDeletedAccountLosesSessionImmediately(t *testing.T) {
	e := newTestEnv(t)
	aliceCookie := e.login(t, "/api/login", "alice", "alice-password")
	adminCookie := e.login(t, "/api/admin/login", "root", "root-password")

	apitest.New().Handler(e.handler).
		Get("/api/user/me").Cookie(aliceCookie.Name, aliceCookie.Value).
		Expect(t).Status(http.StatusOK).End()

	apitest.New().Handler(e.handler).
		Deletef("/api/admin/users/%d", e.alice.ID).Cookie(adminCookie.Name, adminCookie.Value).
		Expect(t).Status(http.StatusNoContent).End()

	apitest.New().Handler(e.handler).
		Get("/api/user/me").Cookie(aliceCookie.Name, aliceCookie.Value).
		Expect(t).Status(http.StatusUnauthorized).End()
}

func TestLiveProfileChanges(t *testing.T) {
	e := newTestEnv(t)
	aliceCookie := e.login(t, "/api/login", "alice", "alice-password")
	adminCookie := e.login(t, "/api/admin/login", "root", "root-password")

	apitest.New().Handler(e.handler).
		Put("/api/user/me").Cookie(aliceCookie.Name, aliceCookie.Value).
		JSON(`{"nickname":"Ally"}`).
		Expect(t).Status(http.StatusOK).Assert(jsonpath.Equal("$.nickname", "Ally")).End()

	apitest.New().Handler(e.handler).
		Get("/api/user/me").Cookie(aliceCookie.Name, aliceCookie.Value).
		Expect(t).Status(http.StatusOK).Assert(jsonpath.Equal("$.nickname", "Ally")).End()

	e.mock.ExpectBegin()
	e.mock.ExpectCommit()
	apitest.New().Handler(e.handler).
		Putf("/api/admin/users/%d", e.alice.ID).Cookie(adminCookie.Name, adminCookie.Value).
		JSON(`{"role":"admin","nickname":"Boss"}`).
		Expect(t).Status(http.StatusOK).Assert(jsonpath.Equal("$.role", "admin")).End()
	require.NoError(t, e.mock.ExpectationsWereMet())

	// The old user-domain cookie now sees the new role without logging in again.
	apitest.New().Handler(e.handler).
		Get("/api/user/me").Cookie(aliceCookie.Name, aliceCookie.Value).
		Expect(t).Status(http.StatusOK).
		Assert(jsonpath.Equal("$.role", "admin")).
		Assert(jsonpath.Equal("$.nickname", "Boss")).
		End()
}

func TestDemotedAdminLosesAdminScope(t *testing.T) {
	e := newTestEnv(t)
	adminCookie := e.login(t, "/api/admin/login", "root", "root-password")

	require.NoError(t, e.repo.UpdateRole(context.Background(), e.root.ID, models.RoleUser))

	apitest.New().Handler(e.handler).
		Get("/api/admin/me").Cookie(adminCookie.Name, adminCookie.Value).
		Expect(t).Status(http.StatusUnauthorized).Body(`{"error":"unauthenticated"}`).End()
}

func TestLogout(t *testing.T) {
	e := newTestEnv(t)
	c := e.login(t, "/api/login", "alice", "alice-password")

	res := apitest.New().Handler(e.handler).
		Post("/api/user/logout").Cookie(c.Name, c.Value).
		Expect(t).Status(http.StatusOK).End()

	cleared := res.Response.Cookies()
	require.Len(t, cleared, 1)
	assert.Equal(t, "user", cleared[0].Name)
	assert.Empty(t, cleared[0].Value)
	assert.Negative(t, cleared[0].MaxAge)

	// Replaying what the server just served never authenticates.
	apitest.New().Handler(e.handler).
		Get("/api/user/me").Cookie(cleared[0].Name, cleared[0].Value).
		Expect(t).Status(http.StatusUnauthorized).End()

	// Logout without any session is fine, and repeatable.
	for i := 0; i < 2; i++ {
		apitest.New().Handler(e.handler).
			Post("/api/admin/logout").
			Expect(t).Status(http.StatusOK).CookiePresent("admin").End()
	}
}

func TestStoreFailureIsInternalError(t *testing.T) {
	e := newTestEnv(t)
	c := e.login(t, "/api/login", "alice", "alice-password")

	e.repo.failGet = true
	apitest.New().Handler(e.handler).
		Get("/api/user/me").Cookie(c.Name, c.Value).
		Expect(t).
		Status(http.StatusInternalServerError).
		Body(`{"error":"internal server error"}`).
		End()
}

func TestAdminUserManagement(t *testing.T) {
	e := newTestEnv(t)
	c := e.login(t, "/api/admin/login", "root", "root-password")

	apitest.New().Handler(e.handler).
		Get("/api/admin/users").Cookie(c.Name, c.Value).
		Expect(t).Status(http.StatusOK).Assert(jsonpath.Len("$", 2)).End()

	apitest.New().Handler(e.handler).
		Post("/api/admin/users").Cookie(c.Name, c.Value).
		JSON(`{"username":"bob","password":"bob-password","nickname":"Bob"}`).
		Expect(t).Status(http.StatusCreated).
		Assert(jsonpath.Equal("$.username", "bob")).
		Assert(jsonpath.Equal("$.role", "user")).
		End()

	apitest.New().Handler(e.handler).
		Post("/api/admin/users").Cookie(c.Name, c.Value).
		JSON(`{"username":"bob","password":"bob-password"}`).
		Expect(t).Status(http.StatusConflict).End()

	apitest.New().Handler(e.handler).
		Post("/api/admin/users").Cookie(c.Name, c.Value).
		JSON(`{"username":"carol","password":"short"}`).
		Expect(t).Status(http.StatusBadRequest).End()

	apitest.New().Handler(e.handler).
		Getf("/api/admin/users/%d", e.alice.ID).Cookie(c.Name, c.Value).
		Expect(t).Status(http.StatusOK).Assert(jsonpath.Equal("$.username", "alice")).End()

	apitest.New().Handler(e.handler).
		Get("/api/admin/users/9999").Cookie(c.Name, c.Value).
		Expect(t).Status(http.StatusNotFound).End()

	apitest.New().Handler(e.handler).
		Get("/api/admin/users/abc").Cookie(c.Name, c.Value).
		Expect(t).Status(http.StatusBadRequest).End()

	apitest.New().Handler(e.handler).
		Deletef("/api/admin/users/%d", e.root.ID).Cookie(c.Name, c.Value).
		Expect(t).Status(http.StatusBadRequest).End()
}

func TestChangePasswordAndDeleteMe(t *testing.T) {
	e := newTestEnv(t)
	c := e.login(t, "/api/login", "alice", "alice-password")

	apitest.New().Handler(e.handler).
		Put("/api/user/me/password").Cookie(c.Name, c.Value).
		JSON(`{"password":"new-alice-password"}`).
		Expect(t).Status(http.StatusNoContent).End()

	e.login(t, "/api/login", "alice", "new-alice-password")

	apitest.New().Handler(e.handler).
		Delete("/api/user/me").Cookie(c.Name, c.Value).
		Expect(t).Status(http.StatusNoContent).CookiePresent("user").End()

	apitest.New().Handler(e.handler).
		Get("/api/user/me").Cookie(c.Name, c.Value).
		Expect(t).Status(http.StatusUnauthorized).End()
}

func TestAdminCannotDeleteSelfThroughUserDomain(t *testing.T) {
	e := newTestEnv(t)
	c := e.login(t, "/api/login", "root", "root-password")

	apitest.New().Handler(e.handler).
		Delete("/api/user/me").Cookie(c.Name, c.Value).
		Expect(t).Status(http.StatusBadRequest).CookieNotPresent("user").End()

	apitest.New().Handler(e.handler).
		Get("/api/user/me").Cookie(c.Name, c.Value).
		Expect(t).Status(http.StatusOK).
		Assert(jsonpath.Equal("$.username", "root")).End()
}

func TestMetricsEndpoint(t *testing.T) {
	e := newTestEnv(t)
	e.login(t, "/api/login", "alice", "alice-password")

	apitest.New().Handler(e.handler).
		Get("/api/user/me").
		Expect(t).Status(http.StatusUnauthorized).End()

	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body := rec.Body.String()
	assert.Contains(t, body, `tagify_logins_total{domain="user",result="succeeded"} 1`)
	assert.Contains(t, body, `tagify_auth_requests_total{domain="user",outcome="missing"} 1`)
}

type staticHealth bool

func (h staticHealth) Healthy() bool { return bool(h) }

func TestHealth(t *testing.T) {
	for healthy, status := range map[bool]int{true: http.StatusOK, false: http.StatusServiceUnavailable} {
		handler := NewRouter(Deps{
			UserCodec:  newCodec(t, "user-key-user-key-user-key-user-key", session.ScopeUser, "user"),
			AdminCodec: newCodec(t, "admin-key-admin-key-admin-key-admin-key", session.ScopeAdmin, "admin"),
			Logger:     logging.Nop{},
			Health:     staticHealth(healthy),
		})

		apitest.New().Handler(handler).
			Get("/api/health").
			Expect(t).Status(status).End()
	}
}
