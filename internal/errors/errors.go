package errors

import (
	"errors"
	"fmt"
	"strings"
)

// Code is a stable, machine-readable error type mapped to process exit codes.
type Code int

const (
	CodeSuccess           Code = 0
	CodeInternal          Code = 1
	CodeUsage             Code = 2
	CodeAuth              Code = 10
	CodeRateLimited       Code = 11
	CodeUnavailable       Code = 12
	CodeUnsupported       Code = 13
	CodeStale             Code = 14
	CodeBlocked           Code = 16
	CodeValidation        Code = 20
	CodeSameChain         Code = 21
	CodeQuoteUnavailable  Code = 22
	CodeUnsupportedPair   Code = 23
	CodeOrderIDUnresolved Code = 24
)

// ErrMalformedResponse marks a provider response that did not have the
// expected shape. It is reported as CodeValidation.
var ErrMalformedResponse = errors.New("malformed provider response")

// Error is a typed error that carries a stable error code.
type Error struct {
	Code    Code
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause == nil {
		return e.Message
	}
	return fmt.Sprintf("%s: %v", e.Message, e.Cause)
}

func (e *Error) Unwrap() error { return e.Cause }

func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

func Wrap(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Cause: cause}
}

// Malformed is a CodeValidation error for a provider response that failed to
// parse. The chain always matches ErrMalformedResponse.
func Malformed(message string, cause error) *Error {
	if cause == nil {
		return Wrap(CodeValidation, message, ErrMalformedResponse)
	}
	return Wrap(CodeValidation, message, fmt.Errorf("%w: %w", ErrMalformedResponse, cause))
}

func As(err error) (*Error, bool) {
	var target *Error
	if errors.As(err, &target) {
		return target, true
	}
	return nil, false
}

// HasCode reports whether any typed error in err's chain carries code.
func HasCode(err error, code Code) bool {
	for err != nil {
		var target *Error
		if !errors.As(err, &target) {
			return false
		}
		if target.Code == code {
			return true
		}
		err = target.Cause
	}
	return false
}

// statusCoder is implemented by transport errors that know the HTTP status.
type statusCoder interface {
	StatusCode() int
}

// IsRateLimited reports whether err signals an upstream rate limit: a
// CodeRateLimited error, an HTTP 429, or a message mentioning "rate limit".
func IsRateLimited(err error) bool {
	if err == nil {
		return false
	}
	if HasCode(err, CodeRateLimited) {
		return true
	}
	var sc statusCoder
	if errors.As(err, &sc) && sc.StatusCode() == 429 {
		return true
	}
	return strings.Contains(strings.ToLower(err.Error()), "rate limit")
}

func ExitCode(err error) int {
	if err == nil {
		return int(CodeSuccess)
	}
	if cliErr, ok := As(err); ok {
		return int(cliErr.Code)
	}
	return int(CodeInternal)
}

// TypeName is the envelope error type for a code.
func TypeName(code Code) string {
	switch code {
	case CodeUsage:
		return "usage_error"
	case CodeAuth:
		return "auth_error"
	case CodeRateLimited:
		return "rate_limited"
	case CodeUnavailable:
		return "network_failure"
	case CodeUnsupported:
		return "unsupported"
	case CodeStale:
		return "stale_data"
	case CodeBlocked:
		return "command_blocked"
	case CodeValidation:
		return "validation_error"
	case CodeSameChain:
		return "same_chain_not_supported"
	case CodeQuoteUnavailable:
		return "quote_unavailable"
	case CodeUnsupportedPair:
		return "unsupported_pair"
	case CodeOrderIDUnresolved:
		return "order_id_unresolved"
	default:
		return "internal_error"
	}
}
