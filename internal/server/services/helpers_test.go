package services

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"database/sql"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/dmitrijs2005/credkeeper/internal/common"
	"github.com/dmitrijs2005/credkeeper/internal/dbx"
	"github.com/dmitrijs2005/credkeeper/internal/logging"
	"github.com/dmitrijs2005/credkeeper/internal/server/auth"
	"github.com/dmitrijs2005/credkeeper/internal/server/models"
	refreshtokensrepo "github.com/dmitrijs2005/credkeeper/internal/server/repositories/refreshtokens"
	"github.com/dmitrijs2005/credkeeper/internal/server/repositories/repomanager"
	usersrepo "github.com/dmitrijs2005/credkeeper/internal/server/repositories/users"
	"github.com/dmitrijs2005/credkeeper/internal/server/validation"
	"github.com/stretchr/testify/require"
)

const (
	testAccessTTL  = 15 * time.Minute
	testRefreshTTL = 24 * time.Hour
)

type errBoom struct{}

func (errBoom) Error() string { return "boom" }

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func newTestClock() *testClock {
	return &testClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func newSQLMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New error: %v", err)
	}
	return db, mock
}

// newSQLiteDB returns a migrated private in-memory database.
func newSQLiteDB(t *testing.T) (*sql.DB, repomanager.RepositoryManager) {
	t.Helper()
	ctx := context.Background()

	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	db, err := repomanager.Open(ctx, repomanager.DriverSQLite, "file:"+name+"?mode=memory&cache=shared")
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	rm := repomanager.NewSQLiteRepositoryManager()
	require.NoError(t, rm.RunMigrations(ctx, db))
	return db, rm
}

func newTestHasher(t *testing.T) *auth.TokenHasher {
	t.Helper()
	h, err := auth.NewTokenHasher(bytes.Repeat([]byte{0x5a}, 32), auth.HMACSHA256)
	require.NoError(t, err)
	return h
}

func newTestIssuer(t *testing.T, clock *testClock) *auth.AccessTokenIssuer {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	i, err := auth.NewAccessTokenIssuer(priv, nil, "credkeeper", "credkeeper-api", testAccessTTL, auth.WithClock(clock.Now))
	require.NoError(t, err)
	return i
}

func newTestManager(t *testing.T, db *sql.DB, rm repomanager.RepositoryManager, clock *testClock, opts ...TokenManagerOption) *RefreshTokenManager {
	t.Helper()
	opts = append([]TokenManagerOption{WithTokenClock(clock.Now)}, opts...)
	return NewRefreshTokenManager(db, rm, newTestHasher(t), testRefreshTTL, opts...)
}

func newTestUserService(t *testing.T, db *sql.DB, rm repomanager.RepositoryManager, clock *testClock) *UserService {
	t.Helper()
	passwords, err := auth.NewPasswordHasher(auth.AlgorithmBcrypt, auth.DefaultBcryptCost)
	require.NoError(t, err)

	s := NewUserService(db, rm, passwords, newTestIssuer(t, clock), newTestManager(t, db, rm, clock), validation.New(), logging.Nop{})
	s.now = clock.Now
	return s
}

// --- fakes ---

type fakeUsersRepo struct {
	createErr error

	getOut *models.User
	getErr error

	updateErr error
	updated   string
}

func (f *fakeUsersRepo) Create(ctx context.Context, u *models.User) (*models.User, error) {
	if f.createErr != nil {
		return nil, f.createErr
	}
	return u, nil
}

func (f *fakeUsersRepo) GetByLogin(ctx context.Context, login string) (*models.User, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	return f.getOut, nil
}

func (f *fakeUsersRepo) GetByID(ctx context.Context, id string) (*models.User, error) {
	return f.GetByLogin(ctx, id)
}

func (f *fakeUsersRepo) UpdatePasswordHash(ctx context.Context, id string, hash string) error {
	f.updated = hash
	return f.updateErr
}

type fakeRefreshRepo struct {
	insertErr error

	findOut *models.RefreshToken
	findErr error

	markOut *models.RefreshToken
	markErr error

	delErr error

	inserted []*models.RefreshToken
}

func (f *fakeRefreshRepo) Insert(ctx context.Context, t *models.RefreshToken) error {
	if f.insertErr != nil {
		return f.insertErr
	}
	f.inserted = append(f.inserted, t)
	return nil
}

func (f *fakeRefreshRepo) FindByHash(ctx context.Context, hash string) (*models.RefreshToken, error) {
	if f.findErr != nil {
		return nil, f.findErr
	}
	if f.findOut == nil {
		return nil, common.ErrorNotFound
	}
	return f.findOut, nil
}

func (f *fakeRefreshRepo) MarkUsed(ctx context.Context, hash string, at time.Time) (*models.RefreshToken, error) {
	if f.markErr != nil {
		return nil, f.markErr
	}
	return f.markOut, nil
}

func (f *fakeRefreshRepo) DeleteByHash(ctx context.Context, hash string) error { return f.delErr }

func (f *fakeRefreshRepo) DeleteFamily(ctx context.Context, familyID string) (int64, error) {
	return 0, f.delErr
}

func (f *fakeRefreshRepo) DeleteByUser(ctx context.Context, userID string) (int64, error) {
	return 0, f.delErr
}

func (f *fakeRefreshRepo) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	return 0, f.delErr
}

type fakeRepoManager struct {
	u *fakeUsersRepo
	r *fakeRefreshRepo
}

func (m *fakeRepoManager) RunMigrations(context.Context, *sql.DB) error           { return nil }
func (m *fakeRepoManager) Users(db dbx.DBTX) usersrepo.Repository                 { return m.u }
func (m *fakeRepoManager) RefreshTokens(db dbx.DBTX) refreshtokensrepo.Repository { return m.r }
