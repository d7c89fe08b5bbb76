package domain

import dErrors "hycredit/pkg/domain-errors"

// Role is the closed set of actor kinds. Capability checks are explicit
// methods rather than per-role types.
type Role string

const (
	RolePlant    Role = "plant"
	RoleIndustry Role = "industry"
	RoleAuditor  Role = "auditor"
)

func (r Role) IsValid() bool {
	switch r {
	case RolePlant, RoleIndustry, RoleAuditor:
		return true
	}
	return false
}

// CanIssue reports whether the role may originate credits.
func (r Role) CanIssue() bool { return r == RolePlant }

// CanHold reports whether the role may own, transfer and retire credits.
func (r Role) CanHold() bool { return r == RolePlant || r == RoleIndustry }

// CanDecide reports whether the role may approve or reject requests.
func (r Role) CanDecide() bool { return r == RoleAuditor }

func ParseRole(s string) (Role, error) {
	r := Role(s)
	if !r.IsValid() {
		return "", dErrors.New(dErrors.CodeInvalidInput, "invalid role: "+s)
	}
	return r, nil
}

// Actor is an authenticated principal as delivered by the authentication layer.
type Actor struct {
	ID   ActorID
	Role Role
}
