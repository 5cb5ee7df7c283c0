// Package domainerrors defines the error taxonomy shared by every component of the agent.
//
// Each error carries a Code naming its category. Named sentinels (ErrKeyNotFound,
// ErrDIDMismatch, ...) are *Error values; errors raised by the components wrap one of them,
// so callers can branch with errors.Is on the sentinel or with CodeOf on the category.
package domainerrors

import (
	"errors"
	"fmt"
)

// Code is the category of a domain error.
type Code string

const (
	CodeValidation    Code = "validation_error"
	CodeNotFound      Code = "not_found"
	CodeCrypto        Code = "crypto_error"
	CodeResolution    Code = "resolution_error"
	CodeConfiguration Code = "configuration_error"
	CodeInternal      Code = "internal_error"
)

// Error is a categorized error with an optional underlying cause.
type Error struct {
	Code    Code
	Message string
	Err     error

	// Retryable marks transient failures (RPC, network) that a caller may retry.
	Retryable bool
}

var (
	ErrKeyNotFound        = New(CodeNotFound, "key not found")
	ErrIdentifierNotFound = New(CodeNotFound, "identifier not found")
	ErrDIDNotFound        = New(CodeNotFound, "did not found")
	ErrUnsupportedMethod  = New(CodeNotFound, "unsupported did method")
	ErrCredentialNotFound = New(CodeNotFound, "credential not found")

	ErrDIDMismatch    = New(CodeValidation, "did does not match controller key")
	ErrMalformedToken = New(CodeValidation, "malformed token")
	ErrInvalidInput   = New(CodeValidation, "invalid input")

	ErrUnsupportedAlgorithm   = New(CodeConfiguration, "unsupported algorithm")
	ErrSigningKeyMissing      = New(CodeConfiguration, "signing key missing")
	ErrUnsupportedProofFormat = New(CodeConfiguration, "unsupported proof format")
	ErrMissingSecret          = New(CodeConfiguration, "missing secret")

	ErrInvalidSignature = New(CodeCrypto, "invalid signature")
	ErrDecryptFailed    = New(CodeCrypto, "failed to decrypt key material")
	ErrRemoteSigner     = New(CodeCrypto, "remote signer failed")

	ErrResolution = New(CodeResolution, "resolution failed")
)

// New creates a new domain error.
func New(code Code, msg string) *Error {
	return &Error{Code: code, Message: msg}
}

// Wrap wraps err with a domain error of the given code.
func Wrap(err error, code Code, msg string) *Error {
	return &Error{Code: code, Message: msg, Err: err}
}

// Errorf returns a new error in the category of e whose cause is e, so that
// errors.Is(result, e) holds.
func (e *Error) Errorf(format string, args ...interface{}) *Error {
	return &Error{Code: e.Code, Message: fmt.Sprintf(format, args...), Err: e}
}

// WithCause is like Errorf but also records the underlying cause.
func (e *Error) WithCause(cause error, format string, args ...interface{}) *Error {
	return &Error{
		Code:    e.Code,
		Message: fmt.Sprintf(format, args...),
		Err:     &joined{sentinel: e, cause: cause},
	}
}

// MarkRetryable flags e as retryable and returns it. Call it on errors built with
// Errorf or WithCause, never on a sentinel.
func (e *Error) MarkRetryable() *Error {
	e.Retryable = true

	return e
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}

	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// joined lets an error match both its sentinel and its cause.
type joined struct {
	sentinel *Error
	cause    error
}

func (j *joined) Error() string {
	return fmt.Sprintf("%s: %v", j.sentinel.Message, j.cause)
}

func (j *joined) Unwrap() []error {
	return []error{j.sentinel, j.cause}
}

// CodeOf returns the code of the outermost domain error in err's chain,
// or CodeInternal if there is none.
func CodeOf(err error) Code {
	var de *Error
	if errors.As(err, &de) {
		return de.Code
	}

	return CodeInternal
}

// Is reports whether err carries the given code.
func Is(err error, code Code) bool {
	return err != nil && CodeOf(err) == code
}

// IsRetryable reports whether any domain error in err's chain is marked retryable.
func IsRetryable(err error) bool {
	for err != nil {
		var de *Error
		if !errors.As(err, &de) {
			return false
		}

		if de.Retryable {
			return true
		}

		err = de.Err
	}

	return false
}
