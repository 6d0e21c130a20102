package airlock

import (
	"errors"
	"fmt"
)

// ErrNoEmptyString is returned when hashing an empty password
var ErrNoEmptyString = errors.New("password must not be empty")

// ErrMismatchedHashAndPassword is the error for a failed password comparison
var ErrMismatchedHashAndPassword = errors.New("mismatched hash and password")

// ErrInvalidToken covers signature mismatch and expiry
var ErrInvalidToken = errors.New("invalid token supplied")

// AuthorizationError maps to HTTP 401: bad credentials, invalid or revoked
// tokens.
type AuthorizationError struct {
	Message string
}

func (e *AuthorizationError) Error() string {
	return e.Message
}

// NewAuthorizationError creates an AuthorizationError with the given message
func NewAuthorizationError(message string) *AuthorizationError {
	return &AuthorizationError{Message: message}
}

// InputError maps to HTTP 400: malformed or missing client input.
type InputError struct {
	Message string
}

func (e *InputError) Error() string {
	return e.Message
}

// NewInputError creates an InputError with the given message
func NewInputError(message string) *InputError {
	return &InputError{Message: message}
}

// GatewayError wraps upstream or decoding failures the gateway cannot
// attribute to the client. It hides the underlying payload from responses.
type GatewayError struct {
	Message string
	Cause   error
}

func (e *GatewayError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *GatewayError) Unwrap() error {
	return e.Cause
}

// IsAuthorizationError will check if err is an AuthorizationError
func IsAuthorizationError(err error) bool {
	var authErr *AuthorizationError
	return errors.As(err, &authErr)
}

// IsInputError will check if err is an InputError
func IsInputError(err error) bool {
	var inputErr *InputError
	return errors.As(err, &inputErr)
}
