package models

import "time"

// MasterCredential is the 1:1 master-password row of a user.
type MasterCredential struct {
	UserID             string
	MasterPasswordHash string
	CreatedAt          time.Time
}
