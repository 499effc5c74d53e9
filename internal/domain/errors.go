/**
 * @description
 * This file defines the typed error taxonomy shared by the app and api layers.
 * The boundary layer maps these values to HTTP status codes with errors.Is and
 * errors.As; nothing in the codebase branches on error message text.
 */

package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrAccountNotFound is returned when an account id or email resolves to nothing.
	ErrAccountNotFound = errors.New("account not found")

	// ErrOwnIBAN rejects a transfer whose destination is the sender's own IBAN.
	ErrOwnIBAN = errors.New("cannot transfer to own iban")

	// ErrInsufficientFunds rejects a transfer the sender's balance cannot cover.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrBalanceNotInitialized signals a provisioning bug: an account reached the
	// transfer path without an encrypted balance. Distinct from insufficient funds.
	ErrBalanceNotInitialized = errors.New("balance not initialized")

	// ErrEmailTaken rejects registration with an email that is already in use.
	ErrEmailTaken = errors.New("email already registered")

	// ErrInvalidCredentials is returned for any login failure, without revealing
	// whether the email or the password was wrong.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrTooManyAttempts is returned when the login rate limit window is exhausted.
	ErrTooManyAttempts = errors.New("too many attempts")
)

// ValidationError describes a caller-correctable problem with one request field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

// NewValidationError builds a ValidationError for a named request field.
func NewValidationError(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}
