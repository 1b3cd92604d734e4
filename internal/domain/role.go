package domain

import "fmt"

// Roles a user row may carry. Only RoleAdmin grants the admin capability.
const (
	RoleCustomer = "customer"
	RoleAdmin    = "admin"
)

var knownRoles = map[string]struct{}{
	RoleCustomer: {},
	RoleAdmin:    {},
}

// IsValidRole reports whether role is one a user may carry. Matching is exact.
func IsValidRole(role string) bool {
	_, ok := knownRoles[role]
	return ok
}

// CheckRole returns an error naming the role when it is not known.
func CheckRole(role string) error {
	if !IsValidRole(role) {
		return fmt.Errorf("unknown role %q", role)
	}
	return nil
}
