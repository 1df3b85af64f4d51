package domain

import (
	"errors"
	"fmt"
)

type Code string

const (
	CodeValidation  Code = "VALIDATION"
	CodeConflict    Code = "CONFLICT"
	CodeConcurrency Code = "CONCURRENCY"
	CodeNotFound    Code = "NOT_FOUND"
	CodeInternal    Code = "INTERNAL"
)

type Error struct {
	Code    Code
	Message string
}

func (e *Error) Error() string { return fmt.Sprintf("%s: %s", e.Code, e.Message) }

func Validation(msg string) error  { return &Error{Code: CodeValidation, Message: msg} }
func Conflict(msg string) error    { return &Error{Code: CodeConflict, Message: msg} }
func Concurrency(msg string) error { return &Error{Code: CodeConcurrency, Message: msg} }
func NotFound(msg string) error    { return &Error{Code: CodeNotFound, Message: msg} }
func Internal(msg string) error    { return &Error{Code: CodeInternal, Message: msg} }

// CodeOf extracts the domain code from err, or CodeInternal for anything
// that is not a domain error.
func CodeOf(err error) Code {
	var domainErr *Error
	if errors.As(err, &domainErr) {
		return domainErr.Code
	}
	return CodeInternal
}

func IsCode(err error, code Code) bool {
	return err != nil && CodeOf(err) == code
}
