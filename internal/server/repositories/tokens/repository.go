// Package tokens persists refresh tokens. A user may hold several rows;
// expiry is enforced by readers, never by deleting on read.
package tokens

import (
	"context"
	"time"

	"github.com/dmitrijs2005/passkeeper/internal/server/models"
)

type Repository interface {
	Create(ctx context.Context, userID string, token string, expiresAt time.Time) error
	// Find returns common.ErrorNotFound when no row carries token.
	Find(ctx context.Context, token string) (*models.RefreshToken, error)
	// ListByUser returns the user's rows in insertion order.
	ListByUser(ctx context.Context, userID string) ([]models.RefreshToken, error)
	Delete(ctx context.Context, token string) error
	// DeleteByUser removes every row of the user and reports how many went.
	DeleteByUser(ctx context.Context, userID string) (int64, error)
}
