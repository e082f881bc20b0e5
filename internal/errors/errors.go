package errors

import (
	"errors"
	"fmt"
)

// ErrorCode represents a unique error identifier
type ErrorCode string

const (
	// Authentication & Authorization
	ErrCodeUnauthorized ErrorCode = "UNAUTHORIZED"
	ErrCodeForbidden    ErrorCode = "FORBIDDEN"
	ErrCodeInvalidToken ErrorCode = "INVALID_TOKEN"

	// Validation
	ErrCodeInvalidInput    ErrorCode = "INVALID_INPUT"
	ErrCodeMissingRequired ErrorCode = "MISSING_REQUIRED"

	// Resource
	ErrCodeNotFound ErrorCode = "NOT_FOUND"

	// Login handshake
	ErrCodeCodeInvalid             ErrorCode = "CODE_INVALID"
	ErrCodeCodeExpired             ErrorCode = "CODE_EXPIRED"
	ErrCodeAuthChallengeFailed     ErrorCode = "AUTH_CHALLENGE_FAILED"
	ErrCodeSecondFactorRequired    ErrorCode = "SECOND_FACTOR_REQUIRED"
	ErrCodeSecondFactorUnsupported ErrorCode = "SECOND_FACTOR_UNSUPPORTED"

	// Rate Limiting
	ErrCodeRateLimited ErrorCode = "RATE_LIMITED"

	// Dispatch
	ErrCodeUnauthenticatedOwner ErrorCode = "UNAUTHENTICATED_OWNER"
	ErrCodeDeliveryFailed       ErrorCode = "DELIVERY_FAILED"

	// Internal
	ErrCodeInternal           ErrorCode = "INTERNAL_ERROR"
	ErrCodeRepository         ErrorCode = "REPOSITORY_FAILURE"
	ErrCodeGatewayUnavailable ErrorCode = "GATEWAY_UNAVAILABLE"
)

// AppError is a structured error that can be returned to clients
type AppError struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Details any       `json:"details,omitempty"`
	cause   error
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s (cause: %v)", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *AppError) Unwrap() error {
	return e.cause
}

// WithCause adds a cause to the error
func (e *AppError) WithCause(err error) *AppError {
	e.cause = err
	return e
}

// WithDetails adds details to the error
func (e *AppError) WithDetails(details any) *AppError {
	e.Details = details
	return e
}

// New creates a new AppError
func New(code ErrorCode, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

// Wrap wraps an existing error with an AppError
func Wrap(code ErrorCode, message string, cause error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		cause:   cause,
	}
}

// Common error constructors

func Unauthorized(message string) *AppError {
	return New(ErrCodeUnauthorized, message)
}

func Forbidden(message string) *AppError {
	return New(ErrCodeForbidden, message)
}

func InvalidToken(message string) *AppError {
	return New(ErrCodeInvalidToken, message)
}

func NotFound(resource string) *AppError {
	return New(ErrCodeNotFound, fmt.Sprintf("%s not found", resource))
}

func InvalidInput(field string, reason string) *AppError {
	return New(ErrCodeInvalidInput, fmt.Sprintf("Invalid %s: %s", field, reason))
}

func MissingRequired(field string) *AppError {
	return New(ErrCodeMissingRequired, fmt.Sprintf("%s is required", field))
}

func CodeInvalid() *AppError {
	return New(ErrCodeCodeInvalid, "Verification code is invalid")
}

func CodeExpired() *AppError {
	return New(ErrCodeCodeExpired, "Verification code has expired, request a new one")
}

func AuthChallengeFailed(reason string) *AppError {
	return New(ErrCodeAuthChallengeFailed, fmt.Sprintf("Login attempt failed: %s", reason))
}

func SecondFactorRequired() *AppError {
	return New(ErrCodeSecondFactorRequired, "Two-step verification password required")
}

func SecondFactorUnsupported() *AppError {
	return New(ErrCodeSecondFactorUnsupported, "Two-step verification is not supported, disable it and log in again")
}

func RateLimited() *AppError {
	return New(ErrCodeRateLimited, "Too many attempts, try again later")
}

func UnauthenticatedOwner(owner string) *AppError {
	return New(ErrCodeUnauthenticatedOwner, fmt.Sprintf("Account %s has no usable credential", owner))
}

func DeliveryFailed(target string, cause error) *AppError {
	return Wrap(ErrCodeDeliveryFailed, fmt.Sprintf("Delivery to %s failed", target), cause)
}

func Internal(message string) *AppError {
	return New(ErrCodeInternal, message)
}

func Repository(cause error) *AppError {
	return Wrap(ErrCodeRepository, "Repository error", cause)
}

func GatewayUnavailable(cause error) *AppError {
	return Wrap(ErrCodeGatewayUnavailable, "Messaging gateway unavailable", cause)
}

// IsAppError checks if an error is an AppError
func IsAppError(err error) bool {
	var appErr *AppError
	return errors.As(err, &appErr)
}

// AsAppError converts an error to an AppError if possible
func AsAppError(err error) (*AppError, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// GetCode returns the error code if the error is an AppError, otherwise returns ErrCodeInternal
func GetCode(err error) ErrorCode {
	if appErr, ok := AsAppError(err); ok {
		return appErr.Code
	}
	return ErrCodeInternal
}

// HasCode reports whether err is an AppError carrying code.
func HasCode(err error, code ErrorCode) bool {
	appErr, ok := AsAppError(err)
	return ok && appErr.Code == code
}
