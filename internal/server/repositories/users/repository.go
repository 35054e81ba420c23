// Package users declares the repository contract for user accounts and a
// SQL implementation of it.
package users

import (
	"context"

	"github.com/dmitrijs2005/credkeeper/internal/server/models"
)

// Repository persists user accounts.
type Repository interface {
	// Create inserts user. A duplicate username or email yields common.ErrAlreadyExists.
	Create(ctx context.Context, user *models.User) (*models.User, error)
	// GetByLogin finds a user by username or email.
	GetByLogin(ctx context.Context, login string) (*models.User, error)
	GetByID(ctx context.Context, id string) (*models.User, error)
	UpdatePasswordHash(ctx context.Context, id string, hash string) error
}
