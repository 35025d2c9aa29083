/**
 * @description
 * Error taxonomy for the banking-service. Every failure that crosses a package
 * boundary carries one of a closed set of kinds so the API layer can map it to a
 * status code without string matching.
 */

package domain

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a failure.
type ErrorKind string

const (
	KindValidation        ErrorKind = "validation"
	KindAuthorization     ErrorKind = "authorization"
	KindInsufficientFunds ErrorKind = "insufficient_funds"
	KindNotFound          ErrorKind = "not_found"
	KindDownstream        ErrorKind = "downstream_failure"
)

// Error is a classified error. Sentinels below are compared by identity with errors.Is.
type Error struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

var (
	ErrUserNotFound        = &Error{Kind: KindNotFound, Message: "user not found"}
	ErrAccountNotFound     = &Error{Kind: KindNotFound, Message: "account not found"}
	ErrCardNotFound        = &Error{Kind: KindNotFound, Message: "card not found"}
	ErrTransferNotFound    = &Error{Kind: KindNotFound, Message: "transfer not found"}
	ErrInsufficientFunds   = &Error{Kind: KindInsufficientFunds, Message: "insufficient funds"}
	ErrAccountNotOwned     = &Error{Kind: KindAuthorization, Message: "account does not belong to user"}
	ErrCardNotOwned        = &Error{Kind: KindAuthorization, Message: "card does not belong to user"}
	ErrAccountNotActive    = &Error{Kind: KindValidation, Message: "account is not active"}
	ErrCardInactive        = &Error{Kind: KindValidation, Message: "card is not active"}
	ErrCardLocked          = &Error{Kind: KindValidation, Message: "card is locked"}
	ErrDailyLimitExceeded  = &Error{Kind: KindValidation, Message: "amount exceeds card daily limit"}
	ErrMonthlyLimitExceeds = &Error{Kind: KindValidation, Message: "amount exceeds card monthly limit"}
	ErrInvalidAmount       = &Error{Kind: KindValidation, Message: "amount must be greater than zero"}
	ErrSameAccount         = &Error{Kind: KindValidation, Message: "source and destination accounts must differ"}
)

// Validation builds a validation error with a caller supplied message.
func Validation(format string, args ...interface{}) error {
	return &Error{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

// Downstream wraps a store or broker failure.
func Downstream(message string, err error) error {
	return &Error{Kind: KindDownstream, Message: message, Err: err}
}

// KindOf returns the kind of the first *Error in err's chain. Unclassified errors
// are treated as downstream failures.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var domainErr *Error
	if errors.As(err, &domainErr) {
		return domainErr.Kind
	}
	return KindDownstream
}

// PublicMessage is the text that may be returned to a client for err.
func PublicMessage(err error) string {
	var domainErr *Error
	if errors.As(err, &domainErr) && domainErr.Kind != KindDownstream {
		return domainErr.Message
	}
	return "Internal server error"
}
