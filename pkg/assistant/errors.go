package assistant

import (
	"context"
	"errors"
	"fmt"
)

// Code classifies a failed turn for callers.
type Code string

const (
	CodeConfiguration  Code = "configuration_error"
	CodeProvider       Code = "provider_error"
	CodeTimeout        Code = "timeout"
	CodeInvalidRequest Code = "invalid_request"
	CodeInternal       Code = "internal_error"
)

var (
	// ErrConfiguration reports missing credentials or collaborators.
	ErrConfiguration = errors.New("configuration error")
	// ErrProvider reports a failed embedding, retrieval or completion call.
	ErrProvider = errors.New("provider error")
)

var userMessages = map[Code]string{
	CodeConfiguration:  "The assistant is not configured. Please contact support.",
	CodeProvider:       "Sorry, something went wrong while answering. Please try again.",
	CodeTimeout:        "Sorry, that took too long to answer. Please try again.",
	CodeInvalidRequest: "Please enter a question.",
	CodeInternal:       "An error occurred while processing your request.",
}

// Error is the only error type returned by Answer. Message is safe to show
// to end users; Err carries the cause for logs and is never shown.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Code, e.Err)
	}
	return string(e.Code)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches the package sentinels by code.
func (e *Error) Is(target error) bool {
	switch target {
	case ErrConfiguration:
		return e.Code == CodeConfiguration
	case ErrProvider:
		return e.Code == CodeProvider
	}
	return false
}

func newError(code Code, err error) *Error {
	return &Error{Code: code, Message: userMessages[code], Err: err}
}

// providerError classifies a failed outbound call. Deadline and
// cancellation become timeouts.
func providerError(ctx context.Context, err error) *Error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) || ctx.Err() != nil {
		return newError(CodeTimeout, err)
	}
	return newError(CodeProvider, err)
}

// CodeOf returns the code of err, CodeInternal for foreign errors.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return CodeInternal
}
