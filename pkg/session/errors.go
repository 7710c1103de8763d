// Package session owns the capture device on behalf of enrollment and
// attendance requests and defines the errors those requests surface.
package session

import (
	"errors"
	"fmt"
)

// ErrorCode identifies a session failure class.
type ErrorCode string

const (
	ErrCodeValidation          ErrorCode = "VALIDATION"
	ErrCodeDuplicateFace       ErrorCode = "DUPLICATE_FACE"
	ErrCodeNoFace              ErrorCode = "NO_FACE"
	ErrCodeCapture             ErrorCode = "CAPTURE_ERROR"
	ErrCodeInsufficientSamples ErrorCode = "INSUFFICIENT_SAMPLES"
	ErrCodePersistence         ErrorCode = "PERSISTENCE_ERROR"
	ErrCodeBusy                ErrorCode = "BUSY"
	ErrCodeCancelled           ErrorCode = "CANCELLED"
)

// Error is a structured session error. Message is safe to show to users;
// Err carries the underlying cause for logs.
type Error struct {
	Code     ErrorCode
	Message  string
	Identity string
	Err      error
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

// User-friendly error messages
var errorMessages = map[ErrorCode]string{
	ErrCodeValidation:          "Invalid employee name",
	ErrCodeDuplicateFace:       "This face is already registered",
	ErrCodeNoFace:              "No face detected. Please look at the camera",
	ErrCodeCapture:             "Camera error. Please check the camera connection",
	ErrCodeInsufficientSamples: "Not enough face samples were captured. Please try again",
	ErrCodePersistence:         "Could not save data. Please try again",
	ErrCodeBusy:                "The camera is in use. Please wait and try again",
	ErrCodeCancelled:           "Cancelled",
}

// GetErrorMessage returns a user-friendly message for an error code.
func GetErrorMessage(code ErrorCode) string {
	if msg, ok := errorMessages[code]; ok {
		return msg
	}
	return "Operation failed"
}

// NewError creates a session error with the default message for code.
func NewError(code ErrorCode, err error) *Error {
	return &Error{
		Code:    code,
		Message: GetErrorMessage(code),
		Err:     err,
	}
}

// Validation creates a validation error with a specific message.
func Validation(message string) *Error {
	return &Error{Code: ErrCodeValidation, Message: message}
}

// DuplicateFace creates an error naming the identity the face matched.
func DuplicateFace(identity string) *Error {
	return &Error{
		Code:     ErrCodeDuplicateFace,
		Message:  fmt.Sprintf("This face is already registered as %s", identity),
		Identity: identity,
	}
}

// CodeOf extracts the code of a session error anywhere in err's chain.
func CodeOf(err error) (ErrorCode, bool) {
	var se *Error
	if errors.As(err, &se) {
		return se.Code, true
	}
	return "", false
}

// ErrBusy is returned when a capture session is already active.
var ErrBusy = errors.New("capture session already active")
