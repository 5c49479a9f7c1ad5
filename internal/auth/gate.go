package auth

import (
	"github.com/abkawan/banka-ledger/internal/models"
)

// Requirement names the role a call demands.
type Requirement int

const (
	RequireAuthenticated Requirement = iota
	RequireClient
	RequireStaff
	RequireAdmin
)

func (r Requirement) String() string {
	switch r {
	case RequireClient:
		return "client"
	case RequireStaff:
		return "staff"
	case RequireAdmin:
		return "admin"
	}
	return "authenticated"
}

// Require passes when actor satisfies req.
//
// Admin requires IsAdmin and ignores the role. Staff is satisfied by the staff
// role and also by admins (role admin or IsAdmin), so admins can run every
// staff operation. Client requires the client role exactly.
func Require(actor *Actor, req Requirement) error {
	if actor == nil || actor.ID == "" {
		return models.ErrUnauthenticated
	}
	if _, err := ParseRole(string(actor.Role)); err != nil {
		return err
	}

	var ok bool
	switch req {
	case RequireAuthenticated:
		ok = true
	case RequireAdmin:
		ok = actor.IsAdmin
	case RequireStaff:
		ok = actor.IsStaffOrAdmin()
	case RequireClient:
		ok = actor.Role == RoleClient
	}
	if !ok {
		return models.NewForbiddenError("forbidden: requires " + req.String() + " role")
	}
	return nil
}

// CanAccess implements the ownership rule for reads: owners see their own
// resources and staff or admins see everything.
func CanAccess(actor *Actor, ownerID string) bool {
	if actor == nil {
		return false
	}
	return actor.ID == ownerID || actor.IsStaffOrAdmin()
}
