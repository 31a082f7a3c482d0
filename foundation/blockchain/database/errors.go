package database

import (
	"errors"
	"fmt"
)

// Set of validation failure kinds. A ValidationError always wraps one of
// these so callers can branch with errors.Is.
var (
	ErrInvalidSignature     = errors.New("invalid signature")
	ErrHashMismatch         = errors.New("hash mismatch")
	ErrBrokenLinkage        = errors.New("broken chain linkage")
	ErrIndexOutOfOrder      = errors.New("block index out of order")
	ErrMalformedTransaction = errors.New("malformed transaction")
	ErrMalformedBlock       = errors.New("malformed block")
	ErrInsufficientWork     = errors.New("insufficient proof of work")
	ErrInsufficientFunds    = errors.New("insufficient funds")
	ErrDuplicateTransaction = errors.New("duplicate transaction")
	ErrInvalidCoinbase      = errors.New("invalid coinbase")
)

// ValidationError is returned when a block, header or transaction is
// rejected. The chain is never mutated when one is returned.
type ValidationError struct {
	Err    error
	Detail string
}

// invalid constructs a ValidationError of the specified kind.
func invalid(kind error, format string, args ...any) error {
	return &ValidationError{
		Err:    kind,
		Detail: fmt.Sprintf(format, args...),
	}
}

// Error implements the error interface.
func (ve *ValidationError) Error() string {
	if ve.Detail == "" {
		return ve.Err.Error()
	}
	return ve.Err.Error() + ": " + ve.Detail
}

// Unwrap returns the validation failure kind.
func (ve *ValidationError) Unwrap() error {
	return ve.Err
}

// IsValidationError checks if an error of type ValidationError exists.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
