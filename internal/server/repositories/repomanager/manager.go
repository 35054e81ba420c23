package repomanager

import (
	"context"
	"database/sql"

	"github.com/dmitrijs2005/credkeeper/internal/dbx"
	"github.com/dmitrijs2005/credkeeper/internal/server/repositories/refreshtokens"
	"github.com/dmitrijs2005/credkeeper/internal/server/repositories/users"
)

// RepositoryManager vends repositories bound to a DBTX, so services can pick
// the pool or an open transaction per call.
type RepositoryManager interface {
	RunMigrations(context.Context, *sql.DB) error
	Users(db dbx.DBTX) users.Repository
	RefreshTokens(db dbx.DBTX) refreshtokens.Repository
}
