package domainerrors

import "errors"

// Code represents a domain error category independent of transport layer.
// These codes describe what went wrong in business logic terms, not HTTP terms.
type Code string

const (
	CodeNotFound     Code = "not_found"
	CodeBadRequest   Code = "bad_request"
	CodeInvalidInput Code = "invalid_input"
	CodeValidation   Code = "validation_failed"
	CodeInternal     Code = "internal_error"
	CodeConflict     Code = "conflict"
	CodeUnauthorized Code = "unauthorized"
	CodeForbidden    Code = "forbidden"

	// Expired marks records that existed but whose validity window passed.
	// Translated to 410 Gone so callers can tell it apart from not_found.
	CodeExpired Code = "expired"

	// Credential lifecycle codes.
	CodeUnsupportedCredentialType Code = "unsupported_credential_type"
	CodeCredentialNotReady        Code = "credential_not_ready"
	CodePresentationNotReady      Code = "presentation_not_ready"
	CodeVerificationFailed        Code = "verification_failed"

	// OAuth 2.0 error codes (RFC 6749 §5.2)
	CodeInvalidGrant         Code = "invalid_grant"          // Invalid/expired/used code or pre-authorized code
	CodeInvalidClient        Code = "invalid_client"         // Client authentication failed
	CodeUnsupportedGrantType Code = "unsupported_grant_type" // Grant type not supported
	CodeInvalidRequest       Code = "invalid_request"        // Missing required parameter or malformed request
	CodeInvalidState         Code = "invalid_state"          // State parameter does not match any session
	CodeAccessDenied         Code = "access_denied"          // Resource owner or server denied request
)

// Error wraps domain or infrastructure failures with a stable code.
// It is transport-agnostic and can be used across service, store, and other layers.
type Error struct {
	Code    Code
	Message string
	Err     error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return string(e.Code)
}

// Unwrap implements error unwrapping for error chains.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is enables errors.Is() to match errors by code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// New creates a new domain error with the given code and message.
func New(code Code, msg string) error {
	return &Error{Code: code, Message: msg}
}

// Wrap creates a new domain error wrapping an existing error.
// If the wrapped error is already a domain error, the original code is preserved.
func Wrap(err error, code Code, msg string) error {
	var existing *Error
	if errors.As(err, &existing) {
		return &Error{Code: existing.Code, Message: msg, Err: err}
	}
	return &Error{Code: code, Message: msg, Err: err}
}

// HasCode checks if an error is a domain error with the given code.
func HasCode(err error, code Code) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}
