// Package models defines server-side data models persisted in the database.
package models

import "time"

// User is a row of the users table.
type User struct {
	ID           string
	Username     string
	Email        string
	PasswordHash string
	CreatedAt    time.Time
}

// Profile is the public view of a user returned to callers.
type Profile struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
	Email    string `json:"email"`
}

// Profile strips credential material from u.
func (u *User) Profile() *Profile {
	return &Profile{UserID: u.ID, Username: u.Username, Email: u.Email}
}
