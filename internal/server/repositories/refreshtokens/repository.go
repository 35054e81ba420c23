// Package refreshtokens declares the server-side repository contract for
// refresh tokens kept at rest in hashed form.
package refreshtokens

import (
	"context"
	"time"

	"github.com/dmitrijs2005/credkeeper/internal/server/models"
)

// Repository stores refresh token records keyed by their HMAC digest. Every
// method is a single statement, so several calls compose into one transaction
// when the repository is bound to a *sql.Tx.
type Repository interface {
	// Insert stores a new record. The raw token is never written.
	Insert(ctx context.Context, token *models.RefreshToken) error

	// FindByHash returns the record for hash or common.ErrorNotFound.
	FindByHash(ctx context.Context, hash string) (*models.RefreshToken, error)

	// MarkUsed stamps last_used_at on an unused record and returns it. It
	// returns common.ErrorNotFound when no unused record matches, which is how
	// concurrent redemptions of the same token lose.
	MarkUsed(ctx context.Context, hash string, at time.Time) (*models.RefreshToken, error)

	// DeleteByHash removes a record. Deleting a missing record is not an error.
	DeleteByHash(ctx context.Context, hash string) error

	// DeleteFamily removes every record descending from one login.
	DeleteFamily(ctx context.Context, familyID string) (int64, error)

	// DeleteByUser removes every record of a user.
	DeleteByUser(ctx context.Context, userID string) (int64, error)

	// DeleteExpired removes records whose expiry is not after now.
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}
