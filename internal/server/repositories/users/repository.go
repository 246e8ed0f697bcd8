package users

import (
	"context"

	"github.com/dmitrijs2005/tagify/internal/server/models"
)

// Repository is the credential store. GetByID and GetByUsername return
// common.ErrNotFound for a missing row; any other error is a store failure.
type Repository interface {
	Create(ctx context.Context, account *models.Account) (*models.Account, error)
	GetByID(ctx context.Context, id int64) (*models.Account, error)
	GetByUsername(ctx context.Context, username string) (*models.Account, error)
	List(ctx context.Context) ([]models.Account, error)
	UpdateNickname(ctx context.Context, id int64, nickname string) error
	UpdatePassword(ctx context.Context, id int64, passwordHash string) error
	UpdateRole(ctx context.Context, id int64, role models.Role) error
	Delete(ctx context.Context, id int64) error
}
