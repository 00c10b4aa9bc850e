// Package domain holds the thin HTTP-facing layer shared by internal/api and
// internal/backoffice: operator roles and the predicates that translate
// internal/vault's error taxonomy into HTTP status codes. The accounting
// and settlement logic itself lives in internal/vault — this package never
// duplicates it.
package domain

import (
	"errors"

	"github.com/evetabi/vault/internal/vault"
)

// Auth errors — distinct from vault's own taxonomy since they describe the
// HTTP session boundary, not a ledger operation.
var (
	ErrUnauthorized       = errors.New("unauthorized")
	ErrForbidden          = errors.New("forbidden: insufficient permissions")
	ErrTokenExpired       = errors.New("token has expired")
	ErrTokenInvalid       = errors.New("token is invalid")
	ErrInvalidCredentials = errors.New("invalid username or password")
)

// IsNotFound reports whether err represents a missing resource.
func IsNotFound(err error) bool {
	return errors.Is(err, vault.ErrNoPendingTransfer)
}

// IsConflict reports whether err represents a state conflict that a retry
// without backing off would not resolve.
func IsConflict(err error) bool {
	conflicts := []error{
		vault.ErrConcurrentOperation,
		vault.ErrAccountLocked,
		vault.ErrTransferInFlight,
	}
	for _, target := range conflicts {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// IsValidation reports whether err is a caller-input error that produced no
// state change, as opposed to a resource or concurrency condition.
func IsValidation(err error) bool {
	validation := []error{
		vault.ErrBelowMinimum,
		vault.ErrAboveMaximum,
		vault.ErrInvalidTarget,
		vault.ErrZeroAmount,
	}
	for _, target := range validation {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// IsAuthError reports whether err is an authentication/authorization error.
func IsAuthError(err error) bool {
	authErrors := []error{ErrUnauthorized, ErrForbidden, ErrTokenExpired, ErrTokenInvalid, ErrInvalidCredentials}
	for _, target := range authErrors {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
