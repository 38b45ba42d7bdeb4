package apiclient

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/jrsteele09/go-console-session/connectivity"
)

// Class groups failures by how a caller should react to them
type Class int

const (
	// ClassApplication is any other failure reported by the backend.
	ClassApplication Class = iota
	// ClassConnectivity means the backend could not be reached. Recoverable.
	ClassConnectivity
	// ClassUnauthorized means the session could not be authorised, even
	// after a refresh.
	ClassUnauthorized
	// ClassValidation is a 400 or 422: the input was rejected.
	ClassValidation
)

func (c Class) String() string {
	switch c {
	case ClassConnectivity:
		return "connectivity"
	case ClassUnauthorized:
		return "unauthorized"
	case ClassValidation:
		return "validation"
	default:
		return "application"
	}
}

// Error is returned for every failed call
type Error struct {
	Class      Class
	StatusCode int    // zero when no response was received
	Code       string // "error" member of the response body
	Message    string // "message" member of the response body, safe to show
	// Silent is set on connectivity failures. Callers should degrade rather
	// than alarm the user.
	Silent bool
	Err    error
}

func (e *Error) Error() string {
	switch {
	case e.StatusCode != 0 && e.Message != "":
		return fmt.Sprintf("%s error (%d): %s", e.Class, e.StatusCode, e.Message)
	case e.StatusCode != 0:
		return fmt.Sprintf("%s error (%d)", e.Class, e.StatusCode)
	case e.Err != nil:
		return fmt.Sprintf("%s error: %v", e.Class, e.Err)
	default:
		return fmt.Sprintf("%s error", e.Class)
	}
}

func (e *Error) Unwrap() error {
	return e.Err
}

// UserMessage is the text to show for e
func (e *Error) UserMessage() string {
	if e.Message != "" {
		return e.Message
	}
	switch e.Class {
	case ClassConnectivity:
		return "The console backend is unreachable. Showing the last known data."
	case ClassUnauthorized:
		return "Your session has expired. Please sign in again."
	default:
		if text := http.StatusText(e.StatusCode); text != "" {
			return text
		}
		return "Request failed"
	}
}

// ClassOf returns the class of err, ClassApplication for non-*Error values
func ClassOf(err error) Class {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr.Class
	}
	return ClassApplication
}

// IsConnectivity reports whether err means the backend could not be reached
func IsConnectivity(err error) bool {
	var apiErr *Error
	return errors.As(err, &apiErr) && apiErr.Class == ClassConnectivity
}

// IsUnauthorized reports whether err ended the session
func IsUnauthorized(err error) bool {
	var apiErr *Error
	return errors.As(err, &apiErr) && apiErr.Class == ClassUnauthorized
}

// IsValidation reports whether err is a rejected input
func IsValidation(err error) bool {
	var apiErr *Error
	return errors.As(err, &apiErr) && apiErr.Class == ClassValidation
}

func classFromConnectivity(c connectivity.Class, status int) Class {
	switch c {
	case connectivity.Connectivity:
		return ClassConnectivity
	case connectivity.Unauthorized:
		return ClassUnauthorized
	}
	if status == http.StatusBadRequest || status == http.StatusUnprocessableEntity {
		return ClassValidation
	}
	return ClassApplication
}
