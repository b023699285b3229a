// Package passwords hashes and verifies user secrets with bcrypt. The login
// password and the master password use independent salts and costs.
package passwords

import (
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// Class names a kind of secret; each class has its own bcrypt cost.
type Class int

const (
	Login Class = iota
	Master
)

func (c Class) String() string {
	if c == Master {
		return "master"
	}
	return "login"
}

// Hasher holds the per-class work factors.
type Hasher struct {
	loginCost  int
	masterCost int
}

// NewHasher validates both costs against bcrypt's bounds.
func NewHasher(loginCost, masterCost int) (*Hasher, error) {
	for _, c := range []int{loginCost, masterCost} {
		if c < bcrypt.MinCost || c > bcrypt.MaxCost {
			return nil, fmt.Errorf("bcrypt cost %d out of range [%d, %d]", c, bcrypt.MinCost, bcrypt.MaxCost)
		}
	}
	return &Hasher{loginCost: loginCost, masterCost: masterCost}, nil
}

func (h *Hasher) cost(c Class) int {
	if c == Master {
		return h.masterCost
	}
	return h.loginCost
}

// Hash returns the bcrypt digest of secret for its class.
func (h *Hasher) Hash(class Class, secret string) (string, error) {
	digest, err := bcrypt.GenerateFromPassword([]byte(secret), h.cost(class))
	if err != nil {
		return "", fmt.Errorf("hash %s password: %w", class, err)
	}
	return string(digest), nil
}

// Verify reports whether secret matches digest. A mismatch is false with a
// nil error; only a corrupt digest is an error.
func (h *Hasher) Verify(secret, digest string) (bool, error) {
	err := bcrypt.CompareHashAndPassword([]byte(digest), []byte(secret))
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, bcrypt.ErrMismatchedHashAndPassword):
		return false, nil
	default:
		return false, fmt.Errorf("verify password: %w", err)
	}
}
