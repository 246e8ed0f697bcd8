// Package services contains server-side business logic. This file implements
// AccountService: login for both trust domains, account self-service and
// the admin user management operations.
package services

import (
	"context"
	"database/sql"
	"encoding/base64"
	"errors"
	"fmt"
	"regexp"
	"time"
	"unicode/utf8"

	"github.com/dmitrijs2005/tagify/internal/common"
	"github.com/dmitrijs2005/tagify/internal/cryptox"
	"github.com/dmitrijs2005/tagify/internal/dbx"
	"github.com/dmitrijs2005/tagify/internal/logging"
	"github.com/dmitrijs2005/tagify/internal/server/metrics"
	"github.com/dmitrijs2005/tagify/internal/server/models"
	"github.com/dmitrijs2005/tagify/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/tagify/internal/server/session"
)

const (
	MinPasswordLen = 8
	MaxPasswordLen = 128
	MaxNicknameLen = 64
)

var usernamePattern = regexp.MustCompile(`^[A-Za-z0-9_.-]{3,32}$`)

// NewAccount is the input for creating an account.
type NewAccount struct {
	Username string
	Password string
	Nickname string
	Role     models.Role
}

// AccountUpdate lists the fields an admin may change; nil leaves a field
// untouched.
type AccountUpdate struct {
	Nickname *string
	Password *string
	Role     *models.Role
}

// AccountService provides the account operations behind the HTTP API.
type AccountService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	hasher      *cryptox.Hasher
	logger      logging.Logger
	recorder    metrics.Recorder
	// dummyHash is verified for unknown usernames so that a miss costs the
	// same argon2 work as a wrong password.
	dummyHash string
}

// NewAccountService constructs an AccountService. A nil recorder disables
// metrics.
func NewAccountService(db *sql.DB, m repomanager.RepositoryManager, hasher *cryptox.Hasher,
	logger logging.Logger, recorder metrics.Recorder) (*AccountService, error) {
	if recorder == nil {
		recorder = metrics.Nop{}
	}

	seed, err := cryptox.RandomBytes(24)
	if err != nil {
		return nil, err
	}
	dummy, err := hasher.Hash(context.Background(), base64.RawStdEncoding.EncodeToString(seed))
	if err != nil {
		return nil, fmt.Errorf("dummy hash: %w", err)
	}

	return &AccountService{
		db:          db,
		repomanager: m,
		hasher:      hasher,
		logger:      logger,
		recorder:    recorder,
		dummyHash:   dummy,
	}, nil
}

// Login checks username and password for the given trust domain. An unknown
// username, a wrong password and a non-admin account logging into the admin
// domain all return common.ErrAuthenticationFailed.
func (s *AccountService) Login(ctx context.Context, username, password string, scope session.Scope) (*models.Account, error) {
	domain := string(scope)
	if scope != session.ScopeUser && scope != session.ScopeAdmin {
		return nil, fmt.Errorf("%w: unknown scope %q", common.ErrValidation, scope)
	}

	account, err := s.repomanager.Users(s.db).GetByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, common.ErrNotFound) {
			_, _ = s.verify(ctx, password, s.dummyHash)
			s.recorder.Login(domain, metrics.LoginFailed)
			s.logger.Info(ctx, "login failed", "domain", domain)
			return nil, common.ErrAuthenticationFailed
		}
		s.recorder.Login(domain, metrics.LoginError)
		s.logger.Error(ctx, "login: load account", "domain", domain, "error", err)
		return nil, common.ErrInternal
	}

	ok, err := s.verify(ctx, password, account.PasswordHash)
	if err != nil {
		s.recorder.Login(domain, metrics.LoginError)
		s.logger.Error(ctx, "login: verify password", "account_id", account.ID, "error", err)
		return nil, common.ErrInternal
	}
	if !ok || (scope == session.ScopeAdmin && !account.IsAdmin()) {
		s.recorder.Login(domain, metrics.LoginFailed)
		s.logger.Info(ctx, "login failed", "domain", domain)
		return nil, common.ErrAuthenticationFailed
	}

	s.recorder.Login(domain, metrics.LoginSucceeded)
	s.logger.Debug(ctx, "login succeeded", "domain", domain, "account_id", account.ID)
	return account, nil
}

// Get returns the account with id.
func (s *AccountService) Get(ctx context.Context, id int64) (*models.Account, error) {
	account, err := s.repomanager.Users(s.db).GetByID(ctx, id)
	if err != nil {
		return nil, s.mapStoreError(ctx, "get account", err)
	}
	return account, nil
}

// List returns all accounts ordered by id.
func (s *AccountService) List(ctx context.Context) ([]models.Account, error) {
	accounts, err := s.repomanager.Users(s.db).List(ctx)
	if err != nil {
		return nil, s.mapStoreError(ctx, "list accounts", err)
	}
	return accounts, nil
}

// UpdateNickname changes the nickname of account id.
func (s *AccountService) UpdateNickname(ctx context.Context, id int64, nickname string) error {
	if err := validateNickname(nickname); err != nil {
		return err
	}
	if err := s.repomanager.Users(s.db).UpdateNickname(ctx, id, nickname); err != nil {
		return s.mapStoreError(ctx, "update nickname", err)
	}
	return nil
}

// ChangePassword replaces the password of account id.
func (s *AccountService) ChangePassword(ctx context.Context, id int64, password string) error {
	hash, err := s.hashNew(ctx, password)
	if err != nil {
		return err
	}
	if err := s.repomanager.Users(s.db).UpdatePassword(ctx, id, hash); err != nil {
		return s.mapStoreError(ctx, "update password", err)
	}
	return nil
}

// Delete removes account id. Sessions of the account stop working on their
// next request.
func (s *AccountService) Delete(ctx context.Context, id int64) error {
	if err := s.repomanager.Users(s.db).Delete(ctx, id); err != nil {
		return s.mapStoreError(ctx, "delete account", err)
	}
	s.logger.Info(ctx, "account deleted", "account_id", id)
	return nil
}

// DeleteSelf removes actor's own account. Admin accounts are refused so
// that the last admin cannot disappear through self-service.
func (s *AccountService) DeleteSelf(ctx context.Context, actor models.Account) error {
	if actor.IsAdmin() {
		return fmt.Errorf("%w: admin accounts cannot delete themselves", common.ErrValidation)
	}
	return s.Delete(ctx, actor.ID)
}

// Create validates in and stores a new account.
func (s *AccountService) Create(ctx context.Context, in NewAccount) (*models.Account, error) {
	account, err := s.prepare(ctx, in)
	if err != nil {
		return nil, err
	}

	created, err := s.repomanager.Users(s.db).Create(ctx, account)
	if err != nil {
		return nil, s.mapStoreError(ctx, "create account", err)
	}
	s.logger.Info(ctx, "account created", "account_id", created.ID, "role", created.Role)
	return created, nil
}

// Update applies u to account id in one transaction and returns the result.
// An admin cannot change their own role.
func (s *AccountService) Update(ctx context.Context, actor models.Account, id int64, u AccountUpdate) (*models.Account, error) {
	if u.Nickname != nil {
		if err := validateNickname(*u.Nickname); err != nil {
			return nil, err
		}
	}
	if u.Role != nil {
		if !u.Role.Valid() {
			return nil, fmt.Errorf("%w: unknown role %q", common.ErrValidation, *u.Role)
		}
		if id == actor.ID && *u.Role != actor.Role {
			return nil, fmt.Errorf("%w: cannot change own role", common.ErrValidation)
		}
	}
	var hash string
	if u.Password != nil {
		var err error
		if hash, err = s.hashNew(ctx, *u.Password); err != nil {
			return nil, err
		}
	}

	var updated *models.Account
	err := dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		repo := s.repomanager.Users(tx)
		if u.Nickname != nil {
			if err := repo.UpdateNickname(ctx, id, *u.Nickname); err != nil {
				return err
			}
		}
		if u.Password != nil {
			if err := repo.UpdatePassword(ctx, id, hash); err != nil {
				return err
			}
		}
		if u.Role != nil {
			if err := repo.UpdateRole(ctx, id, *u.Role); err != nil {
				return err
			}
		}
		var err error
		updated, err = repo.GetByID(ctx, id)
		return err
	})
	if err != nil {
		return nil, s.mapStoreError(ctx, "update account", err)
	}
	return updated, nil
}

// DeleteByAdmin removes account id on behalf of actor, who may not delete
// their own account this way.
func (s *AccountService) DeleteByAdmin(ctx context.Context, actor models.Account, id int64) error {
	if id == actor.ID {
		return fmt.Errorf("%w: cannot delete own account", common.ErrValidation)
	}
	return s.Delete(ctx, id)
}

// EnsureAccounts creates each account whose username is not taken yet, all
// in one transaction. It reports how many were created.
func (s *AccountService) EnsureAccounts(ctx context.Context, accounts ...NewAccount) (int, error) {
	prepared := make([]*models.Account, 0, len(accounts))
	for _, in := range accounts {
		account, err := s.prepare(ctx, in)
		if err != nil {
			return 0, fmt.Errorf("account %q: %w", in.Username, err)
		}
		prepared = append(prepared, account)
	}

	created := 0
	err := dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		repo := s.repomanager.Users(tx)
		for _, account := range prepared {
			_, err := repo.GetByUsername(ctx, account.Username)
			if err == nil {
				continue
			}
			if !errors.Is(err, common.ErrNotFound) {
				return err
			}
			if _, err := repo.Create(ctx, account); err != nil {
				return err
			}
			created++
		}
		return nil
	})
	if err != nil {
		return 0, s.mapStoreError(ctx, "ensure accounts", err)
	}
	return created, nil
}

// --- helpers below ---

func (s *AccountService) prepare(ctx context.Context, in NewAccount) (*models.Account, error) {
	if !usernamePattern.MatchString(in.Username) {
		return nil, fmt.Errorf("%w: username must be 3-32 letters, digits, '.', '_' or '-'", common.ErrValidation)
	}
	if in.Nickname == "" {
		in.Nickname = in.Username
	}
	if err := validateNickname(in.Nickname); err != nil {
		return nil, err
	}
	if in.Role == "" {
		in.Role = models.RoleUser
	}
	if !in.Role.Valid() {
		return nil, fmt.Errorf("%w: unknown role %q", common.ErrValidation, in.Role)
	}
	hash, err := s.hashNew(ctx, in.Password)
	if err != nil {
		return nil, err
	}
	return &models.Account{
		Username:     in.Username,
		PasswordHash: hash,
		Nickname:     in.Nickname,
		Role:         in.Role,
	}, nil
}

func (s *AccountService) hashNew(ctx context.Context, password string) (string, error) {
	if n := utf8.RuneCountInString(password); n < MinPasswordLen || len(password) > MaxPasswordLen {
		return "", fmt.Errorf("%w: password must be %d-%d characters", common.ErrValidation, MinPasswordLen, MaxPasswordLen)
	}
	start := time.Now()
	hash, err := s.hasher.Hash(ctx, password)
	s.recorder.PasswordHash(time.Since(start))
	if err != nil {
		s.logger.Error(ctx, "hash password", "error", err)
		return "", common.ErrInternal
	}
	return hash, nil
}

func (s *AccountService) verify(ctx context.Context, password, encoded string) (bool, error) {
	start := time.Now()
	defer func() { s.recorder.PasswordHash(time.Since(start)) }()
	return s.hasher.Verify(ctx, password, encoded)
}

func (s *AccountService) mapStoreError(ctx context.Context, op string, err error) error {
	switch {
	case errors.Is(err, common.ErrNotFound):
		return common.ErrNotFound
	case errors.Is(err, common.ErrAlreadyExists):
		return common.ErrAlreadyExists
	}
	s.logger.Error(ctx, op, "error", err)
	return common.ErrInternal
}

func validateNickname(nickname string) error {
	if nickname == "" || utf8.RuneCountInString(nickname) > MaxNicknameLen {
		return fmt.Errorf("%w: nickname must be 1-%d characters", common.ErrValidation, MaxNicknameLen)
	}
	return nil
}
