package models

import "time"

// UserRole orders account privileges from none to full control.
type UserRole string

const (
	RoleInactive UserRole = "inactive"
	RoleGuest    UserRole = "guest"
	RoleUser     UserRole = "user"
	RoleOperator UserRole = "operator"
)

// IsValid reports whether r is a known role.
func (r UserRole) IsValid() bool {
	switch r {
	case RoleInactive, RoleGuest, RoleUser, RoleOperator:
		return true
	}
	return false
}

func (r UserRole) rank() int {
	switch r {
	case RoleGuest:
		return 1
	case RoleUser:
		return 2
	case RoleOperator:
		return 3
	default:
		return 0
	}
}

// AtLeast reports whether the role grants at least the given privilege.
func (r UserRole) AtLeast(required UserRole) bool {
	return r.rank() >= required.rank()
}

// User is an operator account. Password hashes live in a separate password
// store, never on the user record.
type User struct {
	Name      string    `json:"name"`
	Role      UserRole  `json:"role"`
	CreatedAt time.Time `json:"created_at"`
}
