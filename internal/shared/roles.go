package shared

// Roles known to the RBAC middleware.
const (
	RoleAdmin     = "admin"
	RoleNominator = "nominator"
)
