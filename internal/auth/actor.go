// Package auth resolves the acting user of a request and guards service calls by role.
package auth

import (
	"context"

	"github.com/abkawan/banka-ledger/internal/models"
)

type Role string

const (
	RoleClient Role = "client"
	RoleStaff  Role = "staff"
	RoleAdmin  Role = "admin"
)

// ParseRole returns the role named by s. Anything outside the three roles is rejected.
func ParseRole(s string) (Role, error) {
	switch Role(s) {
	case RoleClient, RoleStaff, RoleAdmin:
		return Role(s), nil
	}
	return "", &models.Error{Kind: models.KindUnauthenticated, Message: "unknown role"}
}

// Actor is the authenticated identity performing an operation.
type Actor struct {
	ID      string `json:"id"`
	Role    Role   `json:"role"`
	IsAdmin bool   `json:"isAdmin"`
}

// IsStaffOrAdmin reports whether the actor holds a privileged role.
func (a *Actor) IsStaffOrAdmin() bool {
	return a != nil && (a.Role == RoleStaff || a.Role == RoleAdmin || a.IsAdmin)
}

type contextKey string

const actorKey contextKey = "actor"

// WithActor returns a copy of ctx carrying actor.
func WithActor(ctx context.Context, actor *Actor) context.Context {
	return context.WithValue(ctx, actorKey, actor)
}

// FromContext returns the actor stored by the middleware, or nil.
func FromContext(ctx context.Context) *Actor {
	actor, _ := ctx.Value(actorKey).(*Actor)
	return actor
}
