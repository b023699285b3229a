// Package users declares the server-side repository contract for user
// accounts and its implementation over the generic credential store.
package users

import (
	"context"

	"github.com/dmitrijs2005/passkeeper/internal/server/models"
)

// Repository defines account persistence. Lookups return common.ErrorNotFound
// when no row matches.
type Repository interface {
	// Create inserts user, assigning a new id when user.ID is empty, and
	// returns the stored row.
	Create(ctx context.Context, user *models.User) (*models.User, error)

	GetByID(ctx context.Context, id string) (*models.User, error)
	GetByUsername(ctx context.Context, username string) (*models.User, error)
	GetByEmail(ctx context.Context, email string) (*models.User, error)

	UpdateUsername(ctx context.Context, id string, username string) error
	UpdatePasswordHash(ctx context.Context, id string, hash string) error

	// Delete removes the user row; dependent rows go with it through the
	// schema's ON DELETE CASCADE.
	Delete(ctx context.Context, id string) error
}
