package auth

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Role is the permission level carried by an API token.
type Role string

const (
	// RoleClient may submit labels and read jobs.
	RoleClient Role = "client"

	// RoleOperator may additionally reset stale jobs and credential quotas.
	RoleOperator Role = "operator"
)

// ParseRole converts a string into a Role.
func ParseRole(s string) (Role, error) {
	role := Role(strings.ToLower(strings.TrimSpace(s)))
	if !role.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidRole, s)
	}
	return role, nil
}

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	return r == RoleClient || r == RoleOperator
}

// Allows reports whether a token with role r may act with role required.
func (r Role) Allows(required Role) bool {
	switch required {
	case RoleClient:
		return r == RoleClient || r == RoleOperator
	case RoleOperator:
		return r == RoleOperator
	default:
		return false
	}
}

// JWTService defines operations for issuing and checking API bearer tokens.
type JWTService interface {
	// GenerateToken creates a signed token for subject with the given role.
	// A non-positive lifetime uses the configured default.
	GenerateToken(ctx context.Context, subject string, role Role, lifetime time.Duration) (string, error)

	// ValidateToken validates the provided token string and extracts the claims.
	// Returns ErrExpiredToken, ErrTokenNotYetValid or ErrInvalidToken on failure.
	ValidateToken(ctx context.Context, tokenString string) (*Claims, error)
}

// Claims represents the validated contents of an API token.
type Claims struct {
	// Subject names the API client the token was issued to.
	Subject string `json:"sub,omitempty"`

	Role Role `json:"role,omitempty"`

	IssuedAt  time.Time `json:"iat,omitempty"`
	ExpiresAt time.Time `json:"exp,omitempty"`
	ID        string    `json:"jti,omitempty"`
}
