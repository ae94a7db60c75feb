package web

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"go.arvum.net/jitaccess/internal/apierror"
)

type errorResponse struct {
	Message string `json:"message"`
}

// statusOf maps engine error kinds onto HTTP statuses. Token failures map to
// 403 rather than 401: the caller did present a credential, it just did not
// hold up.
func statusOf(err error) int {
	switch {
	case errors.Is(err, apierror.ErrNotAuthenticated):
		return http.StatusUnauthorized
	case errors.Is(err, apierror.ErrAccessDenied), errors.Is(err, apierror.ErrTokenInvalid):
		return http.StatusForbidden
	case errors.Is(err, apierror.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, apierror.ErrAlreadyExists), errors.Is(err, apierror.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, apierror.ErrInvalidArgument):
		return http.StatusBadRequest
	case errors.Is(err, apierror.ErrTransient):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(ctx context.Context, w http.ResponseWriter, err error) {
	status := statusOf(err)
	if status >= http.StatusInternalServerError {
		slog.ErrorContext(ctx, "request failed", slog.String("error", err.Error()))
	}
	writeJSON(w, status, errorResponse{Message: err.Error()})
}
