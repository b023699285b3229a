package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/passkeeper/internal/common"
	"github.com/dmitrijs2005/passkeeper/internal/server/repositories/tokens"
	"github.com/dmitrijs2005/passkeeper/internal/timex"
)

// refreshTokenBytes is 256 bits of entropy.
const refreshTokenBytes = 32

// RefreshIssuer mints opaque refresh tokens and checks them against the
// tokens table. The repository passed to each call decides which
// transaction the statement runs in.
type RefreshIssuer struct {
	ttl time.Duration
	now timex.Clock
}

func NewRefreshIssuer(ttl time.Duration, now timex.Clock) *RefreshIssuer {
	if now == nil {
		now = timex.UTCNow
	}
	return &RefreshIssuer{ttl: ttl, now: now}
}

// IssueAndStore generates a token for userID and persists it with
// expires_at = now + ttl.
func (r *RefreshIssuer) IssueAndStore(ctx context.Context, repo tokens.Repository, userID string) (string, time.Time, error) {
	token, err := common.MakeRandHexString(refreshTokenBytes)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("generate refresh token: %w", err)
	}
	expires := r.now().Add(r.ttl)
	if err := repo.Create(ctx, userID, token, expires); err != nil {
		return "", time.Time{}, err
	}
	return token, expires, nil
}

// Verify returns the user bound to token. Absent and expired rows both
// yield common.ErrInvalidToken; expired rows are left in place.
func (r *RefreshIssuer) Verify(ctx context.Context, repo tokens.Repository, token string) (string, error) {
	if token == "" {
		return "", common.ErrInvalidToken
	}
	rec, err := repo.Find(ctx, token)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return "", common.ErrInvalidToken
		}
		return "", err
	}
	if !rec.Live(r.now()) {
		return "", common.ErrInvalidToken
	}
	return rec.UserID, nil
}

// TTL is the lifetime given to new tokens.
func (r *RefreshIssuer) TTL() time.Duration {
	return r.ttl
}
