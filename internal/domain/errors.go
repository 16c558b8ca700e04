package domain

import (
	"errors"
	"fmt"
)

// Error kinds. Every error returned by the stores, the auth gateway and the
// live player registry wraps exactly one of these.
var (
	ErrValidation      = errors.New("invalid request")
	ErrConflict        = errors.New("conflict")
	ErrUnauthenticated = errors.New("not authenticated")
	ErrForbidden       = errors.New("forbidden")
	ErrNotFound        = errors.New("not found")
	ErrUnavailable     = errors.New("service unavailable")
)

// Domain errors
var (
	ErrInvalidMode      = fmt.Errorf("%w: unknown game mode", ErrValidation)
	ErrInvalidDirection = fmt.Errorf("%w: unknown direction", ErrValidation)
	ErrInvalidScore     = fmt.Errorf("%w: score must be non-negative", ErrValidation)
	ErrInvalidEmail     = fmt.Errorf("%w: invalid email address", ErrValidation)
	ErrInvalidPassword  = fmt.Errorf("%w: password is required", ErrValidation)
	ErrInvalidUsername  = fmt.Errorf("%w: invalid username", ErrValidation)
	ErrDeleteSelf       = fmt.Errorf("%w: users can not delete themselves", ErrValidation)

	ErrEmailTaken    = fmt.Errorf("%w: email already registered", ErrConflict)
	ErrUsernameTaken = fmt.Errorf("%w: username already taken", ErrConflict)

	ErrInvalidCredentials = fmt.Errorf("%w: invalid credentials", ErrUnauthenticated)
	ErrInvalidToken       = fmt.Errorf("%w: could not validate credentials", ErrUnauthenticated)

	ErrNotSuperuser = fmt.Errorf("%w: the user doesn't have enough privileges", ErrForbidden)

	ErrUserNotFound       = fmt.Errorf("%w: user not found", ErrNotFound)
	ErrLivePlayerNotFound = fmt.Errorf("%w: player not found", ErrNotFound)
	ErrRankNotFound       = fmt.Errorf("%w: no ranked score", ErrNotFound)
)

// IsNotFoundError checks if an error is a not-found type error
func IsNotFoundError(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// Unavailable wraps a datastore failure so the boundary reports it as
// ErrUnavailable while keeping the cause for logs.
func Unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrUnavailable, err)
}
