package auth

import "errors"

// errors
var (
	ErrInvalidCredentials  = errors.New("invalid credentials")
	ErrInvalidAlgorithm    = errors.New("invalid algorithm")
	ErrInvalidToken        = errors.New("invalid token")
	ErrTokenExpired        = errors.New("token is expired")
	ErrInvalidTokenType    = errors.New("invalid token type")
	ErrUserInactive        = errors.New("user is locked or disabled")
	ErrInvalidPasswordHash = errors.New("invalid password hash")
)
