package service

import "errors"

// Domain errors returned by AuthService. Anything else is an infrastructure
// failure wrapped with oops.
var (
	ErrUsernameRequired   = errors.New("username is required")
	ErrEmailRequired      = errors.New("email is required")
	ErrPasswordRequired   = errors.New("password is required")
	ErrDuplicateEmail     = errors.New("email already in use")
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrNotFound           = errors.New("user not found")

	// ErrUserNotFound is only returned by ForgotPassword.
	ErrUserNotFound          = errors.New("user not found")
	ErrInvalidOrExpiredToken = errors.New("token is invalid or expired")
)
