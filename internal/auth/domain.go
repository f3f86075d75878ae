package auth

import (
	"errors"
	"time"
)

// ErrAccountInactive is returned for correct credentials on an account that
// has not been approved yet.
var ErrAccountInactive = errors.New("account pending approval")

// User is the slice of an account the login flow needs.
type User struct {
	ID           int64     `json:"id"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	NameFirst    string    `json:"name_first"`
	NameLast     string    `json:"name_last"`
	Role         string    `json:"role"`
	Active       bool      `json:"active"`
	CreatedAt    time.Time `json:"created_at"`
}
