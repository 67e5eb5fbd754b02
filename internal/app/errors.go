package app

import (
	"errors"
	"net/http"

	"github.com/tlong-ds/thelearninghouse/internal/auth"
	"github.com/tlong-ds/thelearninghouse/internal/upload"
)

type AppError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *AppError) Error() string { return e.Message }

// toAppError maps domain errors to HTTP responses. Registry errors are real
// failures the client must react to, so each gets a distinct status.
func toAppError(err error) *AppError {
	var ae *AppError
	if errors.As(err, &ae) {
		return ae
	}
	switch {
	case errors.Is(err, auth.ErrInvalidToken):
		return &AppError{http.StatusUnauthorized, err.Error()}
	case errors.Is(err, upload.ErrNotAuthorized):
		return &AppError{http.StatusForbidden, upload.ErrNotAuthorized.Error()}
	case errors.Is(err, upload.ErrNotFound):
		return &AppError{http.StatusNotFound, upload.ErrNotFound.Error()}
	case errors.Is(err, upload.ErrExpired):
		return &AppError{http.StatusBadRequest, upload.ErrExpired.Error()}
	case errors.Is(err, upload.ErrIncomplete):
		return &AppError{http.StatusBadRequest, err.Error()}
	}
	return nil
}
