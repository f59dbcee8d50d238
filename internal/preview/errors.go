package preview

import (
	"errors"
	"fmt"
)

// ErrNoToken is reported before any fetch when the view has no token.
var ErrNoToken = errors.New("no preview token supplied")

// FetchError is a transport or HTTP-status failure of the initial load.
// Status is zero for transport errors.
type FetchError struct {
	Status  int
	Message string
	Err     error
}

func (e *FetchError) Error() string {
	if e == nil {
		return ""
	}
	if e.Status == 0 {
		return fmt.Sprintf("fetch preview data: %s", e.Message)
	}
	return fmt.Sprintf("fetch preview data: status %d: %s", e.Status, e.Message)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// ValidationError means the fetched body is not a usable ChangeSet.
type ValidationError struct {
	Err error
}

func (e *ValidationError) Error() string {
	if e == nil || e.Err == nil {
		return ErrInvalidChangeSet.Error()
	}
	return e.Err.Error()
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// UserMessage maps a load failure to the text shown on the error screen.
func UserMessage(err error) string {
	var fetchErr *FetchError
	var validationErr *ValidationError
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNoToken):
		return "No preview token was provided."
	case errors.As(err, &validationErr):
		return "Preview data is missing required fields."
	case errors.As(err, &fetchErr):
		if fetchErr.Message != "" {
			return "Failed to load preview: " + fetchErr.Message
		}
		return "Failed to load preview."
	default:
		return "Could not load preview data."
	}
}
