package services

import (
	"context"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/dmitrijs2005/credkeeper/internal/common"
	"github.com/dmitrijs2005/credkeeper/internal/server/auth"
	"github.com/dmitrijs2005/credkeeper/internal/server/models"
	"github.com/dmitrijs2005/credkeeper/internal/server/validation"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func register(t *testing.T, s *UserService) (*models.User, *TokenPair) {
	t.Helper()
	u, pair, err := s.Register(context.Background(), RegisterRequest{
		UserName:    "alice",
		Email:       "alice@example.com",
		DisplayName: "Alice",
		Password:    "Correct-Horse-1",
	})
	require.NoError(t, err)
	return u, pair
}

// Issue a pair, let the access token lapse, then refresh with the still
// valid refresh token and check the new access token.
func TestAccessTokenExpiryAndRefresh(t *testing.T) {
	db, rm := newSQLiteDB(t)
	clock := newTestClock()
	s := newTestUserService(t, db, rm, clock)
	ctx := context.Background()

	_, err := rm.Users(db).Create(ctx, &models.User{
		ID: "U1", UserName: "u1", Email: "u1@example.com", PasswordHash: "x", CreatedAt: clock.Now(),
	})
	require.NoError(t, err)

	pair, err := s.IssueTokensForUser(ctx, "U1", "u1@example.com")
	require.NoError(t, err)

	claims, err := s.VerifyAccessToken(ctx, pair.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "U1", claims.UserID)

	clock.Advance(testAccessTTL + time.Second)

	_, err = s.VerifyAccessToken(ctx, pair.AccessToken)
	require.ErrorIs(t, err, common.ErrorUnauthorized)

	next, err := s.Refresh(ctx, pair.RefreshToken)
	require.NoError(t, err)
	assert.NotEqual(t, pair.RefreshToken, next.RefreshToken)

	claims, err = s.VerifyAccessToken(ctx, next.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "U1", claims.UserID)
	assert.Equal(t, "u1@example.com", claims.Email)

	_, err = s.Refresh(ctx, pair.RefreshToken)
	assert.ErrorIs(t, err, common.ErrInvalidToken)
}

func TestRegisterAndLogin(t *testing.T) {
	db, rm := newSQLiteDB(t)
	s := newTestUserService(t, db, rm, newTestClock())
	ctx := context.Background()

	u, pair := register(t, s)
	assert.NotEmpty(t, u.ID)
	assert.NotEqual(t, "Correct-Horse-1", u.PasswordHash)
	assert.NotEmpty(t, pair.AccessToken)
	assert.NotEmpty(t, pair.RefreshToken)

	for _, login := range []string{"alice", "alice@example.com"} {
		p, err := s.Login(ctx, login, "Correct-Horse-1")
		require.NoError(t, err, login)
		claims, err := s.VerifyAccessToken(ctx, p.AccessToken)
		require.NoError(t, err)
		assert.Equal(t, u.ID, claims.UserID)
	}

	_, err := s.Login(ctx, "alice", "Wrong-Horse-1")
	assert.ErrorIs(t, err, common.ErrInvalidCredentials)

	_, err = s.Login(ctx, "nobody", "Correct-Horse-1")
	assert.ErrorIs(t, err, common.ErrInvalidCredentials)
	assert.ErrorIs(t, err, common.ErrorUnauthorized)
}

func TestRegister_DuplicateAndInvalid(t *testing.T) {
	db, rm := newSQLiteDB(t)
	s := newTestUserService(t, db, rm, newTestClock())
	ctx := context.Background()

	register(t, s)

	_, _, err := s.Register(ctx, RegisterRequest{UserName: "alice", Email: "other@example.com", Password: "Correct-Horse-1"})
	assert.ErrorIs(t, err, common.ErrAlreadyExists)

	_, _, err = s.Register(ctx, RegisterRequest{UserName: "bob", Email: "alice@example.com", Password: "Correct-Horse-1"})
	assert.ErrorIs(t, err, common.ErrorConflict)

	_, _, err = s.Register(ctx, RegisterRequest{UserName: "bob", Email: "bob@example.com", Password: "short"})
	var verr *validation.Error
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, validation.FieldPassword, verr.Field)
	assert.ErrorIs(t, err, common.ErrorBadRequest)
}

func TestLogin_UpgradesWeakHash(t *testing.T) {
	db, rm := newSQLiteDB(t)
	clock := newTestClock()
	s := newTestUserService(t, db, rm, clock)
	ctx := context.Background()

	weak, err := bcrypt.GenerateFromPassword([]byte("Correct-Horse-1"), bcrypt.MinCost)
	require.NoError(t, err)
	_, err = rm.Users(db).Create(ctx, &models.User{
		ID: "u-weak", UserName: "weak", Email: "weak@example.com", PasswordHash: string(weak), CreatedAt: clock.Now(),
	})
	require.NoError(t, err)

	_, err = s.Login(ctx, "weak", "Correct-Horse-1")
	require.NoError(t, err)

	u, err := rm.Users(db).GetByID(ctx, "u-weak")
	require.NoError(t, err)
	cost, err := bcrypt.Cost([]byte(u.PasswordHash))
	require.NoError(t, err)
	assert.Equal(t, auth.DefaultBcryptCost, cost)
}

func TestChangePassword_RevokesSessions(t *testing.T) {
	db, rm := newSQLiteDB(t)
	s := newTestUserService(t, db, rm, newTestClock())
	ctx := context.Background()

	u, pair := register(t, s)

	err := s.ChangePassword(ctx, u.ID, "Wrong-Horse-1", "New-Battery-2")
	assert.ErrorIs(t, err, common.ErrInvalidCredentials)

	err = s.ChangePassword(ctx, u.ID, "Correct-Horse-1", "weak")
	assert.ErrorIs(t, err, common.ErrorBadRequest)

	require.NoError(t, s.ChangePassword(ctx, u.ID, "Correct-Horse-1", "New-Battery-2"))

	_, err = s.Login(ctx, "alice", "Correct-Horse-1")
	assert.ErrorIs(t, err, common.ErrInvalidCredentials)
	_, err = s.Login(ctx, "alice", "New-Battery-2")
	assert.NoError(t, err)

	_, err = s.Refresh(ctx, pair.RefreshToken)
	assert.ErrorIs(t, err, common.ErrInvalidToken)
}

func TestLogoutAndLogoutAll(t *testing.T) {
	db, rm := newSQLiteDB(t)
	s := newTestUserService(t, db, rm, newTestClock())
	ctx := context.Background()

	u, first := register(t, s)
	second, err := s.Login(ctx, "alice", "Correct-Horse-1")
	require.NoError(t, err)
	third, err := s.Login(ctx, "alice", "Correct-Horse-1")
	require.NoError(t, err)

	require.NoError(t, s.Logout(ctx, first.RefreshToken))
	require.NoError(t, s.Logout(ctx, first.RefreshToken))

	_, err = s.Refresh(ctx, first.RefreshToken)
	assert.ErrorIs(t, err, common.ErrInvalidToken)

	n, err := s.LogoutAll(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	for _, p := range []*TokenPair{second, third} {
		_, err = s.Refresh(ctx, p.RefreshToken)
		assert.ErrorIs(t, err, common.ErrInvalidToken)
	}
}

func TestHashNewPassword(t *testing.T) {
	db, rm := newSQLiteDB(t)
	s := newTestUserService(t, db, rm, newTestClock())

	h, err := s.HashNewPassword("Correct-Horse-1")
	require.NoError(t, err)
	assert.True(t, s.passwords.Verify("Correct-Horse-1", h))

	_, err = s.HashNewPassword("nouppercase1!")
	assert.ErrorIs(t, err, common.ErrorBadRequest)
}

func TestLogin_RepositoryErrors(t *testing.T) {
	db, _ := newSQLMockDB(t)
	defer db.Close()

	rm := &fakeRepoManager{u: &fakeUsersRepo{getErr: errBoom{}}, r: &fakeRefreshRepo{}}
	s := newTestUserService(t, db, rm, newTestClock())

	_, err := s.Login(context.Background(), "alice", "pw")
	if err == nil || !regexp.MustCompile(`error searching user: .*boom`).MatchString(err.Error()) {
		t.Fatalf("expected wrapped error, got %v", err)
	}
	if errors.Is(err, common.ErrorUnauthorized) {
		t.Fatalf("store failure must not look like bad credentials: %v", err)
	}
}

func TestRefresh_UserGone(t *testing.T) {
	db, mock := newSQLMockDB(t)
	defer db.Close()
	mock.ExpectBegin()
	mock.ExpectCommit()

	rm := &fakeRepoManager{
		u: &fakeUsersRepo{getErr: common.ErrorNotFound},
		r: &fakeRefreshRepo{markOut: &models.RefreshToken{UserID: "u1", FamilyID: "f1", ExpiresAt: time.Now().Add(time.Hour)}},
	}
	s := newTestUserService(t, db, rm, newTestClock())

	_, err := s.Refresh(context.Background(), "tok")
	if !errors.Is(err, common.ErrInvalidToken) {
		t.Fatalf("want ErrInvalidToken, got %v", err)
	}
}

func TestRehash_FailureDoesNotBlockLogin(t *testing.T) {
	db, _ := newSQLMockDB(t)
	defer db.Close()

	weak, err := bcrypt.GenerateFromPassword([]byte("Correct-Horse-1"), bcrypt.MinCost)
	require.NoError(t, err)

	users := &fakeUsersRepo{
		getOut:    &models.User{ID: "u1", Email: "a@example.com", PasswordHash: string(weak)},
		updateErr: errBoom{},
	}
	rm := &fakeRepoManager{u: users, r: &fakeRefreshRepo{}}
	s := newTestUserService(t, db, rm, newTestClock())

	pair, err := s.Login(context.Background(), "alice", "Correct-Horse-1")
	require.NoError(t, err)
	assert.NotEmpty(t, pair.AccessToken)
	assert.NotEmpty(t, users.updated)
}
