package auth

import (
	"strings"

	"github.com/jmehdipour/tokengen/internal/apperr"
)

// Role is the closed set of capabilities the identity provider can grant.
type Role int

const (
	RoleUser Role = iota + 1
	RoleAdmin
)

func (r Role) String() string {
	switch r {
	case RoleUser:
		return "user"
	case RoleAdmin:
		return "admin"
	default:
		return "unknown"
	}
}

// ParseRole maps the identity provider's role claim. An empty claim is a plain user;
// any other unknown value is rejected.
func ParseRole(raw string) (Role, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "user":
		return RoleUser, true
	case "admin":
		return RoleAdmin, true
	default:
		return 0, false
	}
}

// Actor is the authenticated caller of a request.
type Actor struct {
	UserID string
	Role   Role
	Email  string
}

func (a Actor) IsAdmin() bool { return a.Role == RoleAdmin }

// Policy is the one authorization check every service goes through.
type Policy interface {
	// Authenticated fails with Unauthorized when there is no valid caller.
	Authenticated(a Actor) error
	// Admin fails unless the caller holds the admin capability.
	Admin(a Actor) error
	// OwnerOrAdmin fails unless the caller owns the resource or is admin.
	OwnerOrAdmin(a Actor, ownerID string) error
	// Owner fails unless the caller owns the resource.
	Owner(a Actor, ownerID string) error
}

type rolePolicy struct{}

// NewPolicy returns the role-based Policy.
func NewPolicy() Policy { return rolePolicy{} }

func (rolePolicy) Authenticated(a Actor) error {
	if strings.TrimSpace(a.UserID) == "" || (a.Role != RoleUser && a.Role != RoleAdmin) {
		return apperr.Unauthorized("authentication required")
	}
	return nil
}

func (p rolePolicy) Admin(a Actor) error {
	if err := p.Authenticated(a); err != nil {
		return err
	}
	if a.Role != RoleAdmin {
		return apperr.Forbidden("admin access required")
	}
	return nil
}

func (p rolePolicy) OwnerOrAdmin(a Actor, ownerID string) error {
	if err := p.Authenticated(a); err != nil {
		return err
	}
	if a.Role == RoleAdmin || a.UserID == ownerID {
		return nil
	}
	return apperr.Forbidden("not the owner of this resource")
}

func (p rolePolicy) Owner(a Actor, ownerID string) error {
	if err := p.Authenticated(a); err != nil {
		return err
	}
	if a.UserID != ownerID {
		return apperr.Forbidden("not the owner of this resource")
	}
	return nil
}
