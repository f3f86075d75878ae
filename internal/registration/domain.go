package registration

import (
	"errors"

	"github.com/giftdrive/casework/internal/users"
)

// Business failures surfaced to callers. Internal causes are logged, never
// returned.
var (
	ErrCodeMismatch = errors.New("confirmation code does not match")
	ErrUnknownUser  = errors.New("unknown user")
	ErrUnknown      = errors.New("unknown error")
)

// Messages attached to field errors.
const (
	msgEmailTaken      = "An account with that email already exists"
	msgInvalidPassword = "Invalid password: "
)

// FieldError reports a problem tied to one input field.
type FieldError struct {
	Field   string
	Message string
}

func (e *FieldError) Error() string {
	return e.Field + ": " + e.Message
}

// PublicMessage is safe to show to the end user.
func (e *FieldError) PublicMessage() string {
	return e.Message
}

// Config carries the deployment values the workflow needs.
type Config struct {
	// AdminAddress receives the "new user needs approval" notice.
	AdminAddress string
	// RootURL is the public base URL. Callers fall back to the request host
	// when it is empty.
	RootURL string
}

// RegistrationInput is the body of a registration request.
type RegistrationInput struct {
	Email         string `json:"email" validate:"required,email,max=254"`
	RawPassword   string `json:"raw_password" validate:"required"`
	NameFirst     string `json:"name_first" validate:"required,max=100"`
	NameLast      string `json:"name_last" validate:"required,max=100"`
	Rank          string `json:"rank" validate:"max=100"`
	Phone         string `json:"phone" validate:"max=40"`
	AffiliationID *int64 `json:"affiliation_id" validate:"omitempty,gt=0"`
}

// ConfirmInput is the body of an email confirmation request.
type ConfirmInput struct {
	UserID           int64  `json:"user_id" validate:"required,gt=0"`
	ConfirmationCode string `json:"confirmation_code"`
}

// State is the workflow position of an account.
type State string

const (
	StateRegistered       State = "registered"
	StateVerificationSent State = "verification_sent"
	StateEmailVerified    State = "email_verified"
	StateActive           State = "active"
)

// StateOf derives the workflow state from the stored flags.
func StateOf(u users.User) State {
	switch {
	case u.Approved && u.Active:
		return StateActive
	case u.EmailVerified:
		return StateEmailVerified
	case u.ConfirmationEmail:
		return StateVerificationSent
	default:
		return StateRegistered
	}
}

// Mail template payloads.

// mailUser is the subset of an account that templates may render.
type mailUser struct {
	ID        int64
	Email     string
	NameFirst string
	NameLast  string
	Rank      string
	Phone     string
}

func newMailUser(u *users.User) mailUser {
	return mailUser{
		ID:        u.ID,
		Email:     u.Email,
		NameFirst: u.NameFirst,
		NameLast:  u.NameLast,
		Rank:      u.Rank,
		Phone:     u.Phone,
	}
}

type verifyEmailData struct {
	User             mailUser
	ConfirmationCode string
	ConfirmEmailURL  string
}

type adminApprovalData struct {
	User mailUser
	URL  string
}

type accountActivatedData struct {
	User     mailUser
	LoginURL string
}
