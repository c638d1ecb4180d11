// Package httpkit provides HTTP utilities including caller identity.
package httpkit

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// Identity is the caller the auth middleware resolved for a request. The zero
// value is an anonymous caller.
type Identity struct {
	UserID        uuid.UUID
	Roles         []string
	Authenticated bool
}

// HasRole reports whether the caller carries the given role claim.
func (id Identity) HasRole(role string) bool {
	for _, r := range id.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// IdentityFrom reads the identity AuthRequired stored on the gin context.
// Handlers mounted outside the protected group get the anonymous identity.
func IdentityFrom(c *gin.Context) Identity {
	raw, ok := c.Get(ContextUserIDKey)
	if !ok {
		return Identity{}
	}
	userID, ok := raw.(uuid.UUID)
	if !ok {
		return Identity{}
	}

	var roles []string
	if rawRoles, ok := c.Get(ContextRolesKey); ok {
		roles, _ = rawRoles.([]string)
	}

	return Identity{UserID: userID, Roles: roles, Authenticated: true}
}
