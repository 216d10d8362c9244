package models

import "strings"

// Role is the capacity in which a user acts on a bug.
type Role string

const (
	RoleReporter  Role = "reporter"
	RoleDeveloper Role = "developer"
	RoleTester    Role = "tester"
	RoleTeamLead  Role = "teamlead"
	RoleAdmin     Role = "admin"
)

// Roles lists every known role.
var Roles = []Role{RoleReporter, RoleDeveloper, RoleTester, RoleTeamLead, RoleAdmin}

// ParseRole resolves a user-supplied role case-insensitively. "lead" and
// "team-lead" are accepted for teamlead.
func ParseRole(v string) (Role, bool) {
	v = strings.ToLower(strings.TrimSpace(v))
	switch v {
	case "lead", "team-lead", "team_lead":
		return RoleTeamLead, true
	case "user":
		return RoleReporter, true
	}
	for _, r := range Roles {
		if string(r) == v {
			return r, true
		}
	}
	return "", false
}

// WorkRole reports whether r is one of the two roles that own bug work
// (and can therefore be reallocated or request a reopen).
func (r Role) WorkRole() bool {
	return r == RoleDeveloper || r == RoleTester
}

// Reviewer reports whether r may approve or reject requests.
func (r Role) Reviewer() bool {
	return r == RoleTeamLead || r == RoleAdmin
}

// ActingUser identifies who is invoking an operation and in which role.
// It is supplied by the identity collaborator on every call.
type ActingUser struct {
	Email string `json:"email"`
	Role  Role   `json:"role"`
}

func (u ActingUser) String() string {
	if u.Role == "" {
		return u.Email
	}
	return u.Email + " (" + string(u.Role) + ")"
}
