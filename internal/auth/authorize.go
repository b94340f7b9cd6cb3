package auth

import (
	"slices"

	"garage.app/internal/apperr"
)

// Authorize fails with an AuthorizationError naming the required roles when
// p's role is not among allowed.
func Authorize(p Principal, allowed ...int) error {
	if slices.Contains(allowed, p.RoleID) {
		return nil
	}
	return apperr.Authorization("insufficient permissions: requires one of " + formatRoles(allowed)).
		WithDetails(map[string]any{
			"required_roles": allowed,
			"actual_role":    p.RoleID,
		})
}
