package model

import "errors"

var (
	// ErrNotFound is returned when a requested entity does not exist.
	// Callers wrap it with the entity name: fmt.Errorf("%w: asset", ErrNotFound).
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists is returned when provisioning an existing account.
	ErrAlreadyExists = errors.New("already exists")

	ErrInsufficientFunds    = errors.New("insufficient funds")
	ErrInsufficientQuantity = errors.New("insufficient quantity")
	ErrInvalidQuantity      = errors.New("quantity must be positive")

	// ErrQuoteUnavailable is returned in live mode when the feed fails.
	// It is retryable.
	ErrQuoteUnavailable = errors.New("quote unavailable")

	// ErrIntegrityViolation means a reward targets a user without a wallet
	// or pet. The surrounding unit of work must be aborted.
	ErrIntegrityViolation = errors.New("integrity violation")
)
