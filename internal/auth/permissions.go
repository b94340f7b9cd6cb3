package auth

import (
	"fmt"
	"strconv"
	"strings"
)

// Company role identifiers as stored in company_roles.
const (
	RoleEmployee = 1
	RoleManager  = 2
	RoleAdmin    = 3
)

var roleNames = map[int]string{
	RoleEmployee: "Employee",
	RoleManager:  "Manager",
	RoleAdmin:    "Admin",
}

// AllRoles lists every role, lowest privilege first.
var AllRoles = []int{RoleEmployee, RoleManager, RoleAdmin}

// RoleName returns the display name of a role id.
func RoleName(id int) string {
	if name, ok := roleNames[id]; ok {
		return name
	}
	return "role " + strconv.Itoa(id)
}

func formatRoles(roles []int) string {
	names := make([]string, len(roles))
	for i, r := range roles {
		names[i] = fmt.Sprintf("%s (%d)", RoleName(r), r)
	}
	return strings.Join(names, ", ")
}
