// Package services contains server-side business logic. UserService handles
// registration, login and password changes, and turns authenticated users
// into access/refresh token pairs.
package services

import (
	"context"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dmitrijs2005/credkeeper/internal/common"
	"github.com/dmitrijs2005/credkeeper/internal/dbx"
	"github.com/dmitrijs2005/credkeeper/internal/logging"
	"github.com/dmitrijs2005/credkeeper/internal/server/auth"
	"github.com/dmitrijs2005/credkeeper/internal/server/models"
	"github.com/dmitrijs2005/credkeeper/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/credkeeper/internal/server/validation"
	"github.com/google/uuid"
)

// TokenPair bundles a short-lived access token and a long-lived refresh token.
type TokenPair struct {
	AccessToken           string
	AccessTokenExpiresAt  time.Time
	RefreshToken          string
	RefreshTokenExpiresAt time.Time
}

// RegisterRequest is the input of Register.
type RegisterRequest struct {
	UserName    string
	Email       string
	DisplayName string
	Password    string
}

// UserService provides authentication-related operations:
// - Register: create users
// - Login: verify credentials and mint tokens
// - Refresh: rotate refresh tokens and mint new access tokens
type UserService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	passwords   *auth.PasswordHasher
	issuer      *auth.AccessTokenIssuer
	tokens      *RefreshTokenManager
	validator   *validation.Validator
	logger      logging.Logger
	now         func() time.Time

	dummyOnce sync.Once
	dummyHash string
}

// NewUserService wires a UserService from its collaborators.
func NewUserService(db *sql.DB, m repomanager.RepositoryManager, passwords *auth.PasswordHasher,
	issuer *auth.AccessTokenIssuer, tokens *RefreshTokenManager, v *validation.Validator, logger logging.Logger) *UserService {
	return &UserService{
		db:          db,
		repomanager: m,
		passwords:   passwords,
		issuer:      issuer,
		tokens:      tokens,
		validator:   v,
		logger:      logger,
		now:         time.Now,
	}
}

// Register validates and stores a new user and logs them in.
func (s *UserService) Register(ctx context.Context, req RegisterRequest) (*models.User, *TokenPair, error) {
	if err := s.validator.Registration(validation.Registration{
		UserName:    req.UserName,
		Email:       req.Email,
		DisplayName: req.DisplayName,
		Password:    req.Password,
	}); err != nil {
		return nil, nil, err
	}

	hash, err := s.passwords.Hash(req.Password)
	if err != nil {
		return nil, nil, fmt.Errorf("error hashing password: %w", err)
	}

	user := &models.User{
		ID:           uuid.NewString(),
		UserName:     req.UserName,
		Email:        req.Email,
		DisplayName:  req.DisplayName,
		PasswordHash: hash,
		CreatedAt:    s.now().UTC(),
	}

	var refresh *models.RefreshToken
	err = dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		if _, err := s.repomanager.Users(tx).Create(ctx, user); err != nil {
			return err
		}
		refresh, err = s.tokens.Generate(ctx, tx, user.ID)
		return err
	})
	if err != nil {
		if errors.Is(err, common.ErrAlreadyExists) {
			return nil, nil, err
		}
		return nil, nil, fmt.Errorf("error creating user: %w", err)
	}

	pair, err := s.pair(user.ID, user.Email, refresh)
	if err != nil {
		return nil, nil, err
	}
	return user, pair, nil
}

// Login verifies the password of the user known by username or email and,
// on success, returns a new TokenPair. Hashes made with outdated parameters
// are upgraded on the way.
func (s *UserService) Login(ctx context.Context, login, password string) (*TokenPair, error) {
	user, err := s.repomanager.Users(s.db).GetByLogin(ctx, login)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			// same cost as a real check so timing does not reveal unknown logins
			s.passwords.Verify(password, s.fakeHash())
			return nil, common.ErrInvalidCredentials
		}
		return nil, fmt.Errorf("error searching user: %w", err)
	}

	if !s.passwords.Verify(password, user.PasswordHash) {
		return nil, common.ErrInvalidCredentials
	}

	if s.passwords.NeedsRehash(user.PasswordHash) {
		s.rehash(ctx, user.ID, password)
	}

	return s.IssueTokensForUser(ctx, user.ID, user.Email)
}

// IssueTokensForUser mints a fresh access token and starts a new refresh
// token family for the user.
func (s *UserService) IssueTokensForUser(ctx context.Context, userID, email string) (*TokenPair, error) {
	refresh, err := s.tokens.Generate(ctx, s.db, userID)
	if err != nil {
		return nil, err
	}
	return s.pair(userID, email, refresh)
}

// Refresh redeems and rotates a refresh token and returns a new pair. Any
// rejected token yields common.ErrInvalidToken.
func (s *UserService) Refresh(ctx context.Context, rawRefreshToken string) (*TokenPair, error) {
	userID, next, err := s.tokens.Redeem(ctx, rawRefreshToken)
	if err != nil {
		return nil, err
	}

	user, err := s.repomanager.Users(s.db).GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil, common.ErrInvalidToken
		}
		return nil, fmt.Errorf("error searching user: %w", err)
	}

	return s.pair(user.ID, user.Email, next)
}

// VerifyAccessToken returns the claims of a valid access token.
func (s *UserService) VerifyAccessToken(_ context.Context, token string) (*auth.Claims, error) {
	return s.issuer.Verify(token)
}

// HashNewPassword checks the password policy and hashes password.
func (s *UserService) HashNewPassword(password string) (string, error) {
	if err := s.validator.Password(password); err != nil {
		return "", err
	}
	hash, err := s.passwords.Hash(password)
	if err != nil {
		return "", fmt.Errorf("error hashing password: %w", err)
	}
	return hash, nil
}

// ChangePassword replaces the user's password hash after checking the
// current password. Every refresh token of the user is revoked with it.
func (s *UserService) ChangePassword(ctx context.Context, userID, oldPassword, newPassword string) error {
	user, err := s.repomanager.Users(s.db).GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return common.ErrInvalidCredentials
		}
		return fmt.Errorf("error searching user: %w", err)
	}

	if !s.passwords.Verify(oldPassword, user.PasswordHash) {
		return common.ErrInvalidCredentials
	}

	hash, err := s.HashNewPassword(newPassword)
	if err != nil {
		return err
	}

	return dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		if err := s.repomanager.Users(tx).UpdatePasswordHash(ctx, userID, hash); err != nil {
			return fmt.Errorf("error updating password: %w", err)
		}
		_, err := s.tokens.RevokeAllForUser(ctx, tx, userID)
		return err
	})
}

// Logout revokes one refresh token. Unknown tokens are not an error.
func (s *UserService) Logout(ctx context.Context, rawRefreshToken string) error {
	return s.tokens.Revoke(ctx, rawRefreshToken)
}

// LogoutAll revokes every refresh token of the user.
func (s *UserService) LogoutAll(ctx context.Context, userID string) (int64, error) {
	return s.tokens.RevokeAllForUser(ctx, s.db, userID)
}

// --- helpers below ---

func (s *UserService) pair(userID, email string, refresh *models.RefreshToken) (*TokenPair, error) {
	access, err := s.issuer.Issue(userID, email)
	if err != nil {
		return nil, fmt.Errorf("error issuing access token: %w", err)
	}
	return &TokenPair{
		AccessToken:           access.Token,
		AccessTokenExpiresAt:  access.ExpiresAt,
		RefreshToken:          refresh.RawToken,
		RefreshTokenExpiresAt: refresh.ExpiresAt,
	}, nil
}

func (s *UserService) rehash(ctx context.Context, userID, password string) {
	hash, err := s.passwords.Hash(password)
	if err == nil {
		err = s.repomanager.Users(s.db).UpdatePasswordHash(ctx, userID, hash)
	}
	if err != nil {
		s.logger.Warn(ctx, "password rehash failed", "user_id", userID, "error", err)
		return
	}
	s.logger.Info(ctx, "password hash upgraded", "user_id", userID)
}

func (s *UserService) fakeHash() string {
	s.dummyOnce.Do(func() {
		h, err := s.passwords.Hash(hex.EncodeToString(common.GenerateRandByteArray(16)))
		if err == nil {
			s.dummyHash = h
		}
	})
	return s.dummyHash
}
