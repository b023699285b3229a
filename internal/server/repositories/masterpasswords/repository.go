// Package masterpasswords persists the master-password hash kept 1:1 with
// each user account.
package masterpasswords

import (
	"context"

	"github.com/dmitrijs2005/passkeeper/internal/server/models"
)

// Repository defines master credential persistence.
type Repository interface {
	Create(ctx context.Context, userID string, hash string) error
	// GetByUserID returns common.ErrorNotFound when the user has no row.
	GetByUserID(ctx context.Context, userID string) (*models.MasterCredential, error)
	UpdateHash(ctx context.Context, userID string, hash string) error
}
