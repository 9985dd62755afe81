package stateapi

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Code classifies transport failures.
type Code string

const (
	// CodeNetwork means the request never produced a response.
	CodeNetwork Code = "network_error"
	// CodeBadResponse means a non-2xx status; Error.Status holds it.
	CodeBadResponse Code = "bad_response"
	// CodeInvalidJSON means a 2xx body that is not a JSON object.
	CodeInvalidJSON Code = "invalid_json"
	// CodeConflict means the store refused a stale write.
	CodeConflict Code = "conflict"
)

// Error is returned for every transport failure except conflicts.
type Error struct {
	Op     string
	Code   Code
	Status int
	Body   string
	Err    error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("stateapi: %s: %s", e.Op, e.Code)
	if e.Status != 0 {
		msg += fmt.Sprintf(" (status %d)", e.Status)
	}
	if e.Body != "" {
		msg += ": " + e.Body
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// ErrConflict matches any *ConflictError with errors.Is.
var ErrConflict = errors.New("stateapi: stale write rejected")

// ConflictError carries the store's current document after a rejected write.
type ConflictError struct {
	Current json.RawMessage
}

func (e *ConflictError) Error() string { return ErrConflict.Error() }

func (e *ConflictError) Is(target error) bool { return target == ErrConflict }

// CodeOf reports the Code of err, or "" when err did not come from this
// package.
func CodeOf(err error) Code {
	var conflict *ConflictError
	if errors.As(err, &conflict) {
		return CodeConflict
	}
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.Code
	}
	return ""
}
