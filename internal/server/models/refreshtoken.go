package models

import "time"

// RefreshToken is a persisted row of the tokens table.
type RefreshToken struct {
	UserID    string
	Token     string
	Expires   time.Time
	CreatedAt time.Time
}

// Live reports whether the token is still usable at now.
func (t *RefreshToken) Live(now time.Time) bool {
	return t.Expires.After(now)
}
