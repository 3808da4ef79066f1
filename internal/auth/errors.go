package auth

import (
	"errors"
	"fmt"
)

// Code classifies an authentication failure.
type Code string

const (
	CodeInvalidCredential Code = "invalid-credential"
	CodeAccountExists     Code = "account-exists"
	CodeWeakSecret        Code = "weak-secret"
	CodeRateLimited       Code = "rate-limited"
	CodeProviderCancelled Code = "provider-cancelled"
	CodeInvalidRequest    Code = "invalid-request"
	CodeUnavailable       Code = "unavailable"
)

// Error is returned by identity operations initiated by the user.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("auth: %s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("auth: %s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewError builds an *Error without a cause.
func NewError(code Code, msg string) *Error {
	return &Error{Code: code, Message: msg}
}

// Wrap builds an *Error that keeps err as its cause.
func Wrap(code Code, msg string, err error) *Error {
	return &Error{Code: code, Message: msg, Err: err}
}

// CodeOf returns the code of an *Error in err's chain, or "" if none.
func CodeOf(err error) Code {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Code
	}
	return ""
}
