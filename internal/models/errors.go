package models

import (
	"errors"
	"fmt"
)

// ValidationError reports a malformed value object or aggregate input
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

func invalid(field, reason string) error {
	return &ValidationError{Field: field, Reason: reason}
}

// DomainError is a business rule violation. The package level sentinels are
// compared with errors.Is and may be wrapped with extra context.
type DomainError struct {
	Code    string
	Message string
}

func (e *DomainError) Error() string {
	return e.Message
}

var (
	ErrInsufficientFunds    = &DomainError{Code: "insufficient_funds", Message: "insufficient funds"}
	ErrOrderNotFound        = &DomainError{Code: "order_not_found", Message: "order not found"}
	ErrTradeNotFound        = &DomainError{Code: "trade_not_found", Message: "trade not found"}
	ErrAccountNotFound      = &DomainError{Code: "account_not_found", Message: "account not found"}
	ErrAccountExists        = &DomainError{Code: "account_exists", Message: "account already exists"}
	ErrUnauthorized         = &DomainError{Code: "unauthorized", Message: "order not owned by account"}
	ErrInvalidCredentials   = &DomainError{Code: "invalid_credentials", Message: "invalid credentials"}
	ErrOrderNotOpen         = &DomainError{Code: "order_not_open", Message: "cannot fill a non-open order"}
	ErrFillExceedsRemaining = &DomainError{Code: "overfill", Message: "fill exceeds remaining"}
	ErrOrderNotCancellable  = &DomainError{Code: "order_not_cancellable", Message: "cannot cancel a completed order"}
	ErrNonPositiveRemainder = &DomainError{Code: "non_positive_remainder", Message: "resulting quantity must be positive"}
)

// InfrastructureError wraps a persistence or queue failure
type InfrastructureError struct {
	Op  string
	Err error
}

func (e *InfrastructureError) Error() string {
	return fmt.Sprintf("failed to %s: %v", e.Op, e.Err)
}

func (e *InfrastructureError) Unwrap() error {
	return e.Err
}

// Infra wraps err as an InfrastructureError. Domain and validation errors
// pass through untouched so callers keep seeing the business reason.
func Infra(op string, err error) error {
	if err == nil {
		return nil
	}
	var de *DomainError
	var ve *ValidationError
	var ie *InfrastructureError
	if errors.As(err, &de) || errors.As(err, &ve) || errors.As(err, &ie) {
		return err
	}
	return &InfrastructureError{Op: op, Err: err}
}

// Kind classifies errors for transports
type Kind int

const (
	KindUnknown Kind = iota
	KindValidation
	KindDomain
	KindInfrastructure
)

func KindOf(err error) Kind {
	var ve *ValidationError
	var de *DomainError
	var ie *InfrastructureError
	switch {
	case err == nil:
		return KindUnknown
	case errors.As(err, &ve):
		return KindValidation
	case errors.As(err, &de):
		return KindDomain
	case errors.As(err, &ie):
		return KindInfrastructure
	}
	return KindUnknown
}
