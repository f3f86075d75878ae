package rbac

import (
	"context"
	"errors"
	"strings"

	"github.com/giftdrive/casework/internal/shared"
)

var (
	// ErrInactive is returned for accounts that have not been approved.
	ErrInactive = errors.New("rbac: account not active")
	// ErrUnknownRole rejects role names outside Roles.
	ErrUnknownRole = errors.New("rbac: unknown role")
)

// Roles lists every assignable role.
var Roles = []string{shared.RoleAdmin, shared.RoleNominator}

// RoleStore reads and writes the role column of users.
type RoleStore interface {
	Role(ctx context.Context, userID int64) (role string, active bool, err error)
	SetRole(ctx context.Context, userID int64, role string) error
}

func normalizeRole(role string) string {
	return strings.TrimSpace(strings.ToLower(role))
}

// ValidRole reports whether role is one of Roles.
func ValidRole(role string) bool {
	role = normalizeRole(role)
	for _, r := range Roles {
		if r == role {
			return true
		}
	}
	return false
}
