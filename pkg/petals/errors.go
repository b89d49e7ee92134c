package petals

import (
	"errors"
	"fmt"
)

// Domain-level error values returned by the petal ledger service.
var (
	ErrInsufficientFunds    = errors.New("insufficient funds")
	ErrDuplicateCollect     = errors.New("duplicate collect key")
	ErrEntryNotFound        = errors.New("entry not found")
	ErrInvalidUserID        = errors.New("invalid user id")
	ErrInvalidAmount        = errors.New("invalid amount")
	ErrInvalidReason        = errors.New("invalid reason")
	ErrInvalidCollectKey    = errors.New("invalid collect key")
	ErrInvalidMetadataJSON  = errors.New("invalid metadata json")
	ErrInvalidEntryKind     = errors.New("invalid entry kind")
	ErrInvalidBalance       = errors.New("invalid balance")
	ErrInvalidServiceConfig = errors.New("invalid service config")
	ErrStoreUnavailable     = errors.New("store unavailable")
)

// OperationError wraps a failure with a stable operation code.
type OperationError struct {
	operation string
	subject   string
	code      string
	err       error
}

// Error returns the formatted error message.
func (operationError OperationError) Error() string {
	return fmt.Sprintf("%s.%s.%s: %v", operationError.operation, operationError.subject, operationError.code, operationError.err)
}

// Unwrap returns the underlying error.
func (operationError OperationError) Unwrap() error {
	return operationError.err
}

// Operation returns the operation segment.
func (operationError OperationError) Operation() string {
	return operationError.operation
}

// Subject returns the subject segment.
func (operationError OperationError) Subject() string {
	return operationError.subject
}

// Code returns the stable error code segment.
func (operationError OperationError) Code() string {
	return operationError.code
}

// WrapError wraps an error with operation, subject, and code metadata.
func WrapError(operation string, subject string, code string, err error) error {
	if err == nil {
		return nil
	}
	return OperationError{
		operation: operation,
		subject:   subject,
		code:      code,
		err:       err,
	}
}
