package apperrors

import (
	"errors"
	"fmt"
	"net/http"
)

type ErrorType string

const (
	// Engine error taxonomy. Non-fatal kinds are handled inside the
	// component that detected them; only ErrLedgerCorruption halts the
	// orchestrator.
	ErrTransientRead    ErrorType = "TRANSIENT_READ"
	ErrSafetyReject     ErrorType = "SAFETY_REJECT"
	ErrApprovalPending  ErrorType = "APPROVAL_PENDING"
	ErrSubmission       ErrorType = "SUBMISSION_ERROR"
	ErrConfirmTimeout   ErrorType = "CONFIRM_TIMEOUT"
	ErrTxReverted       ErrorType = "TX_REVERTED"
	ErrLedgerCorruption ErrorType = "LEDGER_CORRUPTION"

	// Ops surface
	ErrAuthFailed     ErrorType = "AUTH_FAILED"
	ErrInvalidRequest ErrorType = "INVALID_REQUEST"
	ErrNotFound       ErrorType = "NOT_FOUND"
	ErrInternal       ErrorType = "INTERNAL_ERROR"
)

// AppError is the standard error struct for the application
type AppError struct {
	Type    ErrorType `json:"code"`
	Message string    `json:"message"`
	Cause   error     `json:"-"`
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

func New(errType ErrorType, msg string, cause error) *AppError {
	return &AppError{Type: errType, Message: msg, Cause: cause}
}

func Newf(errType ErrorType, format string, args ...any) *AppError {
	return &AppError{Type: errType, Message: fmt.Sprintf(format, args...)}
}

func NewSafetyReject(msg string) *AppError {
	return New(ErrSafetyReject, msg, nil)
}

func NewInvalidRequest(msg string) *AppError {
	return New(ErrInvalidRequest, msg, nil)
}

func Wrap(err error) *AppError {
	if err == nil {
		return nil
	}
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return New(ErrInternal, err.Error(), err)
}

// IsType reports whether err carries the given taxonomy type.
func IsType(err error, t ErrorType) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Type == t
	}
	return false
}

// Fatal reports whether the error must halt the orchestrator instead of
// being retried on the next tick.
func Fatal(err error) bool {
	return IsType(err, ErrLedgerCorruption)
}

// HTTPStatus maps an error type onto the ops API response code.
func HTTPStatus(t ErrorType) int {
	switch t {
	case ErrSafetyReject, ErrInvalidRequest:
		return http.StatusBadRequest
	case ErrAuthFailed:
		return http.StatusUnauthorized
	case ErrNotFound:
		return http.StatusNotFound
	case ErrTransientRead, ErrSubmission, ErrConfirmTimeout, ErrTxReverted:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
