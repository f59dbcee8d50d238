package app

import (
	"errors"
	"fmt"
	"net/http"

	"preview/api/internal/auth"
	"preview/api/internal/gitrepo"
	"preview/api/internal/store"
)

type DomainError struct {
	Status  int
	Code    string
	Message string
	Details any
}

func (e *DomainError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func domainError(status int, code, message string, details any) *DomainError {
	return &DomainError{
		Status:  status,
		Code:    code,
		Message: message,
		Details: details,
	}
}

// invalidTokenMessage is returned verbatim to viewers; the preview client
// surfaces it on its error screen.
const invalidTokenMessage = "Invalid or expired preview token"

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	switch {
	case errors.Is(err, errMissingToken):
		return http.StatusBadRequest, "TOKEN_REQUIRED", "Preview token is required", nil
	case errors.Is(err, store.ErrSessionNotFound):
		return http.StatusNotFound, "PREVIEW_NOT_FOUND", invalidTokenMessage, nil
	case errors.Is(err, auth.ErrInvalidEditorKey):
		return http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil
	case errors.Is(err, gitrepo.ErrInvalidPage):
		return http.StatusUnprocessableEntity, "VALIDATION_ERROR", "Page identifier is not publishable", nil
	case errors.Is(err, gitrepo.ErrPageNotFound):
		return http.StatusNotFound, "NOT_FOUND", "Page has no published content", nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}
