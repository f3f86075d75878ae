package shared

import "errors"

var (
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrInvalidCredentials indicates login failure.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrForbidden indicates the actor may not touch the resource.
	ErrForbidden = errors.New("forbidden")
	// ErrCSRFTokenMissing occurs when CSRF token missing.
	ErrCSRFTokenMissing = errors.New("csrf token missing")
	// ErrCSRFTokenMismatch occurs when CSRF tokens do not match.
	ErrCSRFTokenMismatch = errors.New("csrf token mismatch")
)

// safeMessages lists errors whose text may be shown to end users verbatim.
var safeMessages = []error{ErrNotFound, ErrInvalidCredentials, ErrForbidden}

// UserSafeMessage returns text that can be shown to an end user without
// leaking internal details.
func UserSafeMessage(err error) string {
	if err == nil {
		return ""
	}
	for _, safe := range safeMessages {
		if errors.Is(err, safe) {
			return safe.Error()
		}
	}
	var public interface{ PublicMessage() string }
	if errors.As(err, &public) {
		return public.PublicMessage()
	}
	return "unknown error"
}
