// Package auth decodes the signed principal token carried by every request.
// It authenticates only; authorization lives in rbac.
package auth

import (
	"context"
	"errors"
)

var (
	ErrTokenExpired = errors.New("token expired")
	ErrTokenInvalid = errors.New("token invalid")
)

const TokenTypeAccess = "access"

// Principal is the authenticated actor of one request.
type Principal struct {
	UserID              string   `json:"user_id"`
	Role                string   `json:"role"`
	ExplicitPermissions []string `json:"explicit_permissions,omitempty"`
	// Hierarchy is the role's level at token issue time.
	Hierarchy int    `json:"hierarchy"`
	TokenType string `json:"token_type"`
}

type principalContextKey struct{}

// WithPrincipal returns a copy of ctx carrying p.
func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, principalContextKey{}, p)
}

// GetPrincipal retrieves the authenticated principal from the request context.
func GetPrincipal(ctx context.Context) *Principal {
	p, _ := ctx.Value(principalContextKey{}).(*Principal)
	return p
}
