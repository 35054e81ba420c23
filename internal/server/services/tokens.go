package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/credkeeper/internal/common"
	"github.com/dmitrijs2005/credkeeper/internal/dbx"
	"github.com/dmitrijs2005/credkeeper/internal/logging"
	"github.com/dmitrijs2005/credkeeper/internal/server/auth"
	"github.com/dmitrijs2005/credkeeper/internal/server/models"
	"github.com/dmitrijs2005/credkeeper/internal/server/repositories/repomanager"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// refreshTokenBytes is the entropy of a raw refresh token.
const refreshTokenBytes = 32

const tracerName = "github.com/dmitrijs2005/credkeeper/internal/server/services"

// TokenManagerOption customizes a RefreshTokenManager.
type TokenManagerOption func(*RefreshTokenManager)

// WithTokenClock replaces time.Now.
func WithTokenClock(now func() time.Time) TokenManagerOption {
	return func(m *RefreshTokenManager) { m.now = now }
}

// WithTokenLogger sets the logger.
func WithTokenLogger(l logging.Logger) TokenManagerOption {
	return func(m *RefreshTokenManager) { m.logger = l }
}

// WithFamilyRevocationOnReplay makes a replayed token revoke every token
// descending from the same login.
func WithFamilyRevocationOnReplay(enabled bool) TokenManagerOption {
	return func(m *RefreshTokenManager) { m.revokeFamilyOnReplay = enabled }
}

// RefreshTokenManager mints opaque refresh tokens, keeps only their HMAC at
// rest and rotates them on every redemption.
//
// A token moves from issued to used exactly once. The transition is a single
// conditional UPDATE, so when two redemptions of the same token race, the
// database lets only one of them through and the other sees InvalidToken.
type RefreshTokenManager struct {
	db                   *sql.DB
	repomanager          repomanager.RepositoryManager
	hasher               *auth.TokenHasher
	ttl                  time.Duration
	revokeFamilyOnReplay bool
	now                  func() time.Time
	logger               logging.Logger
	tracer               trace.Tracer
}

// NewRefreshTokenManager constructs a manager issuing tokens valid for ttl.
func NewRefreshTokenManager(db *sql.DB, m repomanager.RepositoryManager, hasher *auth.TokenHasher, ttl time.Duration, opts ...TokenManagerOption) *RefreshTokenManager {
	r := &RefreshTokenManager{
		db:          db,
		repomanager: m,
		hasher:      hasher,
		ttl:         ttl,
		now:         time.Now,
		logger:      logging.Nop{},
		tracer:      otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Generate mints a token for userID starting a new family. tx may be the
// pool or an open transaction. The raw value is only in the returned record.
func (m *RefreshTokenManager) Generate(ctx context.Context, tx dbx.DBTX, userID string) (*models.RefreshToken, error) {
	return m.mint(ctx, tx, userID, uuid.NewString())
}

// Redeem consumes raw and returns its owner plus the replacement token.
// Unknown, expired and already used tokens all yield common.ErrInvalidToken.
func (m *RefreshTokenManager) Redeem(ctx context.Context, raw string) (string, *models.RefreshToken, error) {
	ctx, span := m.tracer.Start(ctx, "RefreshTokenManager.Redeem")
	defer span.End()

	if raw == "" {
		span.SetAttributes(attribute.String("outcome", "empty"))
		return "", nil, common.ErrInvalidToken
	}

	hash := m.hasher.Hash(raw)
	now := m.now().UTC()

	var (
		next    *models.RefreshToken
		outcome = "rotated"
	)

	err := dbx.WithTx(ctx, m.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		repo := m.repomanager.RefreshTokens(tx)

		cur, err := repo.MarkUsed(ctx, hash, now)
		if errors.Is(err, common.ErrorNotFound) {
			outcome, err = m.reject(ctx, tx, hash)
			return err
		}
		if err != nil {
			return fmt.Errorf("error marking refresh token used: %w", err)
		}

		// consumed either way; an expired token cannot be retried
		if cur.Expired(now) {
			outcome = "expired"
			return nil
		}

		next, err = m.mint(ctx, tx, cur.UserID, cur.FamilyID)
		return err
	})

	span.SetAttributes(attribute.String("outcome", outcome))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "redeem failed")
		return "", nil, err
	}
	if next == nil {
		m.logger.Info(ctx, "refresh token rejected", "outcome", outcome)
		return "", nil, common.ErrInvalidToken
	}

	return next.UserID, next, nil
}

// reject classifies a token that could not be marked used.
func (m *RefreshTokenManager) reject(ctx context.Context, tx dbx.DBTX, hash string) (string, error) {
	repo := m.repomanager.RefreshTokens(tx)

	prev, err := repo.FindByHash(ctx, hash)
	if errors.Is(err, common.ErrorNotFound) {
		return "unknown", nil
	}
	if err != nil {
		return "", fmt.Errorf("error searching refresh token: %w", err)
	}

	m.logger.Warn(ctx, "refresh token replayed", "user_id", prev.UserID, "family_id", prev.FamilyID)

	if m.revokeFamilyOnReplay {
		n, err := repo.DeleteFamily(ctx, prev.FamilyID)
		if err != nil {
			return "", fmt.Errorf("error revoking token family: %w", err)
		}
		m.logger.Warn(ctx, "refresh token family revoked", "user_id", prev.UserID, "family_id", prev.FamilyID, "count", n)
	}

	return "replayed", nil
}

// Revoke deletes the record of raw. Unknown tokens are ignored.
func (m *RefreshTokenManager) Revoke(ctx context.Context, raw string) error {
	if raw == "" {
		return nil
	}
	if err := m.repomanager.RefreshTokens(m.db).DeleteByHash(ctx, m.hasher.Hash(raw)); err != nil {
		return fmt.Errorf("error revoking refresh token: %w", err)
	}
	return nil
}

// RevokeAllForUser deletes every refresh token of userID.
func (m *RefreshTokenManager) RevokeAllForUser(ctx context.Context, tx dbx.DBTX, userID string) (int64, error) {
	n, err := m.repomanager.RefreshTokens(tx).DeleteByUser(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("error revoking refresh tokens: %w", err)
	}
	return n, nil
}

// SweepExpired deletes expired records and returns how many went away.
func (m *RefreshTokenManager) SweepExpired(ctx context.Context) (int64, error) {
	n, err := m.repomanager.RefreshTokens(m.db).DeleteExpired(ctx, m.now().UTC())
	if err != nil {
		return 0, fmt.Errorf("error sweeping refresh tokens: %w", err)
	}
	return n, nil
}

// RunSweeper calls SweepExpired every interval until ctx is done. Sweep
// errors are logged and do not stop the loop.
func (m *RefreshTokenManager) RunSweeper(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			n, err := m.SweepExpired(ctx)
			if err != nil {
				m.logger.Error(ctx, "refresh token sweep failed", "error", err)
				continue
			}
			if n > 0 {
				m.logger.Info(ctx, "expired refresh tokens removed", "count", n)
			}
		}
	}
}

func (m *RefreshTokenManager) mint(ctx context.Context, tx dbx.DBTX, userID, familyID string) (*models.RefreshToken, error) {
	raw, err := common.MakeRandURLString(refreshTokenBytes)
	if err != nil {
		return nil, fmt.Errorf("error generating refresh token: %w", err)
	}

	now := m.now().UTC()
	t := &models.RefreshToken{
		ID:        uuid.NewString(),
		UserID:    userID,
		FamilyID:  familyID,
		TokenHash: m.hasher.Hash(raw),
		IssuedAt:  now,
		ExpiresAt: now.Add(m.ttl),
		RawToken:  raw,
	}

	if err := m.repomanager.RefreshTokens(tx).Insert(ctx, t); err != nil {
		return nil, fmt.Errorf("error storing refresh token: %w", err)
	}
	return t, nil
}
