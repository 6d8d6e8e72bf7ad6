package provider

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
)

// ErrorKind is the closed set of failure categories surfaced to callers.
type ErrorKind string

const (
	ErrorAuth           ErrorKind = "auth_error"
	ErrorNetwork        ErrorKind = "network_error"
	ErrorTimeout        ErrorKind = "timeout"
	ErrorInvalidRequest ErrorKind = "invalid_request"
	ErrorUnknown        ErrorKind = "unknown"
)

// Error is a classified failure. Message is safe to show to clients; Err
// keeps the underlying cause for logs.
type Error struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *Error) Error() string {
	switch {
	case e.Err == nil:
		return e.Message
	case e.Message == "":
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Message, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Errorf builds an Error whose message is shown to clients as is.
func Errorf(kind ErrorKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap classifies err under kind, keeping it as the cause.
func Wrap(kind ErrorKind, err error) *Error {
	return &Error{Kind: kind, Err: err}
}

// Classify maps any error onto an ErrorKind.
func Classify(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrorTimeout
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return ErrorTimeout
	}
	var ue *url.Error
	var oe *net.OpError
	if errors.As(err, &ue) || errors.As(err, &oe) {
		return ErrorNetwork
	}
	return ErrorUnknown
}

var publicMessages = map[ErrorKind]string{
	ErrorAuth:           "authentication with the provider failed",
	ErrorNetwork:        "the provider could not be reached",
	ErrorTimeout:        "the provider did not answer in time",
	ErrorInvalidRequest: "the request was rejected",
	ErrorUnknown:        "the provider call failed",
}

// PublicMessage returns a client-safe description of err. Explicit messages
// set through Errorf win over the per-kind default.
func PublicMessage(err error) string {
	var pe *Error
	if errors.As(err, &pe) && pe.Message != "" {
		return pe.Message
	}
	return publicMessages[Classify(err)]
}

// Retryable reports whether a failure of this kind may succeed on retry.
func Retryable(kind ErrorKind) bool {
	return kind == ErrorNetwork || kind == ErrorTimeout
}
