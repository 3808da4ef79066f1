package profile

import (
	"errors"
	"fmt"

	"github.com/lib/pq"
)

// Code classifies a repository failure.
type Code string

const (
	CodeNotFound         Code = "not-found"
	CodePermissionDenied Code = "permission-denied"
	CodeUnavailable      Code = "unavailable"
	CodeInvalidField     Code = "invalid-field"
)

// Error is a repository failure. Two errors match under errors.Is when
// their codes are equal, so callers compare against the sentinels below.
type Error struct {
	Code Code
	Op   string
	Err  error
}

var (
	ErrNotFound         = &Error{Code: CodeNotFound}
	ErrPermissionDenied = &Error{Code: CodePermissionDenied}
	ErrUnavailable      = &Error{Code: CodeUnavailable}
	ErrInvalidField     = &Error{Code: CodeInvalidField}
)

func (e *Error) Error() string {
	msg := "profile: " + string(e.Code)
	if e.Op != "" {
		msg = "profile: " + e.Op + ": " + string(e.Code)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

// LookupWriteError reports a failed handle lookup update. It is logged,
// never returned to callers of the repository.
type LookupWriteError struct {
	Handle     string
	IdentityID string
	Err        error
}

func (e *LookupWriteError) Error() string {
	return fmt.Sprintf("profile: lookup write %q -> %s: %v", e.Handle, e.IdentityID, e.Err)
}

func (e *LookupWriteError) Unwrap() error {
	return e.Err
}

// classify turns a storage error into an *Error.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var pe *Error
	if errors.As(err, &pe) {
		return err
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "42501" {
		return &Error{Code: CodePermissionDenied, Op: op, Err: err}
	}
	return &Error{Code: CodeUnavailable, Op: op, Err: err}
}
