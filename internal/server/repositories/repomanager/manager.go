package repomanager

import (
	"context"
	"database/sql"

	"github.com/dmitrijs2005/tagify/internal/dbx"
	"github.com/dmitrijs2005/tagify/internal/server/repositories/users"
)

// RepositoryManager vends repositories bound to a DBTX (pool or
// transaction) and applies the schema.
type RepositoryManager interface {
	RunMigrations(context.Context, *sql.DB) error
	Users(db dbx.DBTX) users.Repository
}
