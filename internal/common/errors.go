// Package common defines shared constants and sentinel errors used across
// the server layers of authkeeper. Callers should use errors.Is to match
// these values.
package common

import (
	"errors"
	"fmt"
)

var (
	// Repository-level errors.
	ErrorNotFound    = errors.New("not found")
	ErrAlreadyExists = errors.New("account already exists")

	// Service-level errors (generic/internal flow control).
	ErrorInternal     = errors.New("internal error")
	ErrorUnauthorized = errors.New("unauthorized")
	ErrorValidation   = errors.New("validation error")

	// Login and refresh failures. All of them are ErrorUnauthorized.
	ErrUnknownEmail      = fmt.Errorf("%w: invalid email", ErrorUnauthorized)
	ErrEmailNotConfirmed = fmt.Errorf("%w: email not confirmed", ErrorUnauthorized)
	ErrInvalidPassword   = fmt.Errorf("%w: invalid password", ErrorUnauthorized)
	ErrReplayDetected    = fmt.Errorf("%w: invalid refresh token", ErrorUnauthorized)

	// Email-confirmation and password-reset failures.
	ErrInvalidToken     = errors.New("invalid token")
	ErrPasswordMismatch = fmt.Errorf("%w: passwords do not match", ErrorValidation)

	// Token codec errors.
	ErrTokenExpired     = errors.New("token expired")
	ErrInvalidSignature = errors.New("invalid token signature")
	ErrWrongPurpose     = errors.New("invalid token scope")
)

// IsTokenError reports whether err was produced by the token codec.
func IsTokenError(err error) bool {
	return errors.Is(err, ErrTokenExpired) ||
		errors.Is(err, ErrInvalidSignature) ||
		errors.Is(err, ErrWrongPurpose)
}
