package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Taxonomy roots. Every error surfaced by the auth core matches exactly one of these via errors.Is.
var (
	// ErrInvalidCredential is returned when a supplied secret does not match.
	ErrInvalidCredential = errors.New("invalid credentials")
	// ErrUnauthorized is returned when a token is missing, invalid, expired or revoked.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrForbidden is returned when an authenticated user lacks permission.
	ErrForbidden = errors.New("forbidden")
	// ErrConflict is returned when a uniqueness constraint would be violated.
	ErrConflict = errors.New("conflict")
	// ErrNotFound is returned when a referenced entity does not exist.
	ErrNotFound = errors.New("not found")
	// ErrInternal is returned when the store or crypto layer fails.
	ErrInternal = errors.New("internal error")
	// ErrInvalidInput is returned when user input is rejected before it reaches the store.
	ErrInvalidInput = errors.New("invalid input")
)

var (
	ErrBadLogin                 = fmt.Errorf("%w: invalid email or password", ErrInvalidCredential)
	ErrCurrentPasswordIncorrect = fmt.Errorf("%w: current password is incorrect", ErrInvalidCredential)
	ErrEmailTaken               = fmt.Errorf("%w: user with this email already exists", ErrConflict)
	ErrUserNotFound             = fmt.Errorf("%w: user not found", ErrNotFound)
	ErrInvalidRefreshToken      = fmt.Errorf("%w: invalid refresh token", ErrUnauthorized)
	ErrRefreshTokenExpired      = fmt.Errorf("%w: refresh token expired", ErrUnauthorized)
	ErrGuestNotAllowed          = fmt.Errorf("%w: not available for guest accounts", ErrForbidden)
	ErrInsufficientRole         = fmt.Errorf("%w: insufficient role", ErrForbidden)
	ErrPasswordTooLong          = fmt.Errorf("%w: password must be at most 72 bytes", ErrInvalidInput)
)

// Internal wraps a failure from a collaborator so that it matches both ErrInternal and the cause.
func Internal(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrInternal, err)
}

// ErrorResponse represents a standardized error response.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// HTTPError represents an HTTP error with status code.
type HTTPError struct {
	StatusCode int
	Message    string
	Code       string
}

func (e *HTTPError) Error() string {
	return e.Message
}

// NewHTTPError creates a new HTTP error.
func NewHTTPError(statusCode int, message, code string) *HTTPError {
	return &HTTPError{
		StatusCode: statusCode,
		Message:    message,
		Code:       code,
	}
}

// ToErrorResponse converts an HTTPError to ErrorResponse.
func (e *HTTPError) ToErrorResponse() ErrorResponse {
	return ErrorResponse{
		Error: e.Message,
		Code:  e.Code,
	}
}

// MapErrorToHTTP maps domain errors to HTTP errors. Internal causes are never echoed to the client.
func MapErrorToHTTP(err error) *HTTPError {
	switch {
	case errors.Is(err, ErrInternal):
		return NewHTTPError(http.StatusInternalServerError, "internal server error", "INTERNAL_ERROR")
	case errors.Is(err, ErrInvalidCredential):
		return NewHTTPError(http.StatusUnauthorized, err.Error(), "INVALID_CREDENTIALS")
	case errors.Is(err, ErrUnauthorized):
		return NewHTTPError(http.StatusUnauthorized, err.Error(), "UNAUTHORIZED")
	case errors.Is(err, ErrForbidden):
		return NewHTTPError(http.StatusForbidden, err.Error(), "FORBIDDEN")
	case errors.Is(err, ErrConflict):
		return NewHTTPError(http.StatusConflict, err.Error(), "CONFLICT")
	case errors.Is(err, ErrNotFound):
		return NewHTTPError(http.StatusNotFound, err.Error(), "NOT_FOUND")
	case errors.Is(err, ErrInvalidInput):
		return NewHTTPError(http.StatusBadRequest, err.Error(), "INVALID_REQUEST")
	default:
		return NewHTTPError(http.StatusInternalServerError, "internal server error", "INTERNAL_ERROR")
	}
}
