package auth

import "errors"

// Token errors. Handlers map them to 401, except ErrInsufficientRole (403).
var (
	ErrInvalidToken     = errors.New("invalid authentication token")
	ErrExpiredToken     = errors.New("authentication token has expired")
	ErrTokenNotYetValid = errors.New("authentication token not yet valid")
	ErrMissingToken     = errors.New("authentication token is missing")
	ErrInvalidRole      = errors.New("invalid token role")
	ErrInsufficientRole = errors.New("token role does not permit this operation")
)

// ErrWeakSecret is returned by NewJWTService when the signing secret is
// shorter than MinSecretLength.
var ErrWeakSecret = errors.New("jwt secret must be at least 32 characters")
