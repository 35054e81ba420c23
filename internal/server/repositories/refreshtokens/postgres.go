package refreshtokens

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/credkeeper/internal/common"
	"github.com/dmitrijs2005/credkeeper/internal/dbx"
	"github.com/dmitrijs2005/credkeeper/internal/server/models"
)

// PostgresRepository implements Repository over dbx.DBTX. The statements only
// use syntax shared by PostgreSQL and SQLite, and every timestamp comes from
// the caller, so the same repository serves both backends.
type PostgresRepository struct {
	db dbx.DBTX
}

// NewPostgresRepository constructs a repository bound to the given DBTX.
func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Insert stores token.
func (r *PostgresRepository) Insert(ctx context.Context, token *models.RefreshToken) error {
	query := `
		INSERT INTO refresh_tokens (id, user_id, family_id, token_hash, issued_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	if _, err := r.db.ExecContext(ctx, query,
		token.ID, token.UserID, token.FamilyID, token.TokenHash, token.IssuedAt, token.ExpiresAt); err != nil {
		return fmt.Errorf("error performing sql request: %w", err)
	}
	return nil
}

// FindByHash returns the record for hash.
func (r *PostgresRepository) FindByHash(ctx context.Context, hash string) (*models.RefreshToken, error) {
	query := `
		SELECT id, user_id, family_id, token_hash, issued_at, expires_at, last_used_at
		FROM refresh_tokens
		WHERE token_hash = $1
	`
	return scanToken(r.db.QueryRowContext(ctx, query, hash))
}

// MarkUsed atomically flips an unused record to used.
func (r *PostgresRepository) MarkUsed(ctx context.Context, hash string, at time.Time) (*models.RefreshToken, error) {
	query := `
		UPDATE refresh_tokens
		SET last_used_at = $2
		WHERE token_hash = $1 AND last_used_at IS NULL
		RETURNING id, user_id, family_id, token_hash, issued_at, expires_at, last_used_at
	`
	return scanToken(r.db.QueryRowContext(ctx, query, hash, at))
}

// DeleteByHash removes a refresh token by its digest.
func (r *PostgresRepository) DeleteByHash(ctx context.Context, hash string) error {
	query := `
		DELETE FROM refresh_tokens
		WHERE token_hash = $1
	`
	if _, err := r.db.ExecContext(ctx, query, hash); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

// DeleteFamily removes all tokens of a family.
func (r *PostgresRepository) DeleteFamily(ctx context.Context, familyID string) (int64, error) {
	return r.exec(ctx, `
		DELETE FROM refresh_tokens
		WHERE family_id = $1
	`, familyID)
}

// DeleteByUser removes all tokens of a user.
func (r *PostgresRepository) DeleteByUser(ctx context.Context, userID string) (int64, error) {
	return r.exec(ctx, `
		DELETE FROM refresh_tokens
		WHERE user_id = $1
	`, userID)
}

// DeleteExpired removes tokens that expired at or before now.
func (r *PostgresRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	return r.exec(ctx, `
		DELETE FROM refresh_tokens
		WHERE expires_at <= $1
	`, now)
}

func (r *PostgresRepository) exec(ctx context.Context, query string, args ...any) (int64, error) {
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return n, nil
}

func scanToken(row *sql.Row) (*models.RefreshToken, error) {
	t := &models.RefreshToken{}
	var lastUsed sql.NullTime

	err := row.Scan(&t.ID, &t.UserID, &t.FamilyID, &t.TokenHash, &t.IssuedAt, &t.ExpiresAt, &lastUsed)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	if lastUsed.Valid {
		t.LastUsedAt = &lastUsed.Time
	}
	return t, nil
}
