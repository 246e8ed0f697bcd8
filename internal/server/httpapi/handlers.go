package httpapi

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi"

	"github.com/dmitrijs2005/tagify/internal/server/identity"
	"github.com/dmitrijs2005/tagify/internal/server/models"
	"github.com/dmitrijs2005/tagify/internal/server/services"
	"github.com/dmitrijs2005/tagify/internal/server/session"
)

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type nicknameRequest struct {
	Nickname string `json:"nickname"`
}

type passwordRequest struct {
	Password string `json:"password"`
}

type createUserRequest struct {
	Username string      `json:"username"`
	Password string      `json:"password"`
	Nickname string      `json:"nickname"`
	Role     models.Role `json:"role"`
}

type updateUserRequest struct {
	Nickname *string      `json:"nickname"`
	Password *string      `json:"password"`
	Role     *models.Role `json:"role"`
}

func (a *api) status(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "server is working!"})
}

func health(h HealthReporter) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		if !h.Healthy() {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "database unavailable"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

func (a *api) login(scope session.Scope, codec *session.Codec) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req loginRequest
		if !decodeJSON(w, r, &req) {
			return
		}

		account, err := a.accounts.Login(r.Context(), req.Username, req.Password, scope)
		if err != nil {
			a.writeError(w, r, err)
			return
		}

		if _, err := codec.Issue(w, account.ID); err != nil {
			a.logger.Error(r.Context(), "issue session cookie", "account_id", account.ID, "error", err)
			writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal server error"})
			return
		}
		writeJSON(w, http.StatusOK, account)
	}
}

// logout works with or without a valid session.
func (a *api) logout(codec *session.Codec) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		codec.Clear(w)
		writeJSON(w, http.StatusOK, map[string]string{"status": "logged out"})
	}
}

func (a *api) me(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, identity.MustFromContext(r.Context()))
}

func (a *api) updateMe(w http.ResponseWriter, r *http.Request) {
	me := identity.MustFromContext(r.Context())

	var req nicknameRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := a.accounts.UpdateNickname(r.Context(), me.ID, req.Nickname); err != nil {
		a.writeError(w, r, err)
		return
	}
	me.Nickname = req.Nickname
	writeJSON(w, http.StatusOK, me)
}

func (a *api) changeMyPassword(w http.ResponseWriter, r *http.Request) {
	me := identity.MustFromContext(r.Context())

	var req passwordRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if err := a.accounts.ChangePassword(r.Context(), me.ID, req.Password); err != nil {
		a.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *api) deleteMe(w http.ResponseWriter, r *http.Request) {
	me := identity.MustFromContext(r.Context())

	if err := a.accounts.DeleteSelf(r.Context(), me); err != nil {
		a.writeError(w, r, err)
		return
	}
	a.user.Clear(w)
	w.WriteHeader(http.StatusNoContent)
}

func (a *api) listUsers(w http.ResponseWriter, r *http.Request) {
	accounts, err := a.accounts.List(r.Context())
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, accounts)
}

func (a *api) createUser(w http.ResponseWriter, r *http.Request) {
	var req createUserRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	account, err := a.accounts.Create(r.Context(), services.NewAccount{
		Username: req.Username,
		Password: req.Password,
		Nickname: req.Nickname,
		Role:     req.Role,
	})
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, account)
}

func (a *api) getUser(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	account, err := a.accounts.Get(r.Context(), id)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, account)
}

func (a *api) updateUser(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	var req updateUserRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	account, err := a.accounts.Update(r.Context(), identity.MustFromContext(r.Context()), id, services.AccountUpdate{
		Nickname: req.Nickname,
		Password: req.Password,
		Role:     req.Role,
	})
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, account)
}

func (a *api) deleteUser(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	if err := a.accounts.DeleteByAdmin(r.Context(), identity.MustFromContext(r.Context()), id); err != nil {
		a.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid id"})
		return 0, false
	}
	return id, true
}
