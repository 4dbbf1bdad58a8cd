package app

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/GDIPSA-Team2/ecoplate/internal/validation"
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

func notFound(what string) *DomainError {
	return domainError(http.StatusNotFound, "NOT_FOUND", what+" not found", nil)
}

func forbidden(message string) *DomainError {
	return domainError(http.StatusForbidden, "FORBIDDEN", message, nil)
}

func invalidInput(message string, details any) *DomainError {
	return domainError(http.StatusUnprocessableEntity, "VALIDATION_ERROR", message, details)
}

func invalidTransition(from, to string) *DomainError {
	return domainError(http.StatusConflict, "INVALID_TRANSITION",
		fmt.Sprintf("Listing cannot move from %s to %s", from, to),
		map[string]string{"from": from, "to": to})
}

// validate runs struct validation and converts rule failures to a 422.
func validate(v any) error {
	err := validation.Struct(v)
	if err == nil {
		return nil
	}
	var verr *validation.Error
	if errors.As(err, &verr) {
		return invalidInput(verr.Error(), verr.Details())
	}
	return err
}
