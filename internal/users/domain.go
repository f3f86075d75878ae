package users

import (
	"errors"
	"time"
)

var (
	// ErrEmailTaken is returned by Create when the unique email index rejects a row.
	ErrEmailTaken = errors.New("users: email already registered")
	// ErrAlreadyVerified is returned when a confirmation code is set on a verified account.
	ErrAlreadyVerified = errors.New("users: email already verified")
)

// User is an account together with its registration workflow flags.
type User struct {
	ID            int64  `json:"id"`
	Email         string `json:"email"`
	PasswordHash  string `json:"-"`
	NameFirst     string `json:"name_first"`
	NameLast      string `json:"name_last"`
	Rank          string `json:"rank"`
	Phone         string `json:"phone"`
	AffiliationID *int64 `json:"affiliation_id"`
	Role          string `json:"role"`

	// ConfirmationCode is set while a verification email is outstanding and
	// cleared once the address is verified.
	ConfirmationCode  *string `json:"-"`
	ConfirmationEmail bool    `json:"confirmation_email"`
	EmailVerified     bool    `json:"email_verified"`
	Approved          bool    `json:"approved"`
	Active            bool    `json:"active"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewUser carries the fields written when an account is first created.
type NewUser struct {
	Email         string
	PasswordHash  string
	NameFirst     string
	NameLast      string
	Rank          string
	Phone         string
	AffiliationID *int64
}

// NameFull joins first and last name.
func (u User) NameFull() string {
	switch {
	case u.NameFirst == "":
		return u.NameLast
	case u.NameLast == "":
		return u.NameFirst
	}
	return u.NameFirst + " " + u.NameLast
}

// PendingApproval reports whether the account waits on an administrator.
func (u User) PendingApproval() bool {
	return u.EmailVerified && !u.Approved
}
