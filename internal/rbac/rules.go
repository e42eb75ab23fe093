package rbac

import "strings"

const (
	RoleStudent = "STUDENT"
	RoleParent  = "PARENT"
	RoleTutor   = "TUTOR"
	RoleAdmin   = "ADMIN"
)

// NormalizeRole upper-cases a role name; unknown roles pass through and
// simply hold no permissions.
func NormalizeRole(role string) string {
	return strings.ToUpper(strings.TrimSpace(role))
}

// Default policy. Parents only read their own (linked) attempts.
var RolePermissions = map[string][]string{
	RoleStudent: {
		"assessment:view",
		"assessment:start",
		"attempt:answer",
		"attempt:submit",
		"attempt:view-own",
		"user:change_password",
	},
	RoleParent: {
		"assessment:view",
		"attempt:view-own",
		"user:change_password",
	},
	RoleTutor: {
		"assessment:view",
		"assessment:create",
		"attempt:view-all",
		"users:list",
		"user:change_password",
	},
	RoleAdmin: {
		"*", // everything
	},
}
