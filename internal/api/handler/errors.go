package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/kiranshivaraju/cleanops/internal/api/response"
	"github.com/kiranshivaraju/cleanops/internal/apperr"
	"github.com/kiranshivaraju/cleanops/internal/session"
)

// writeError maps the error taxonomy onto HTTP responses. Anything outside
// the taxonomy is logged and reported as a 500.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		authErr       *apperr.AuthError
		notFound      *apperr.NotFound
		uploadErr     *apperr.UploadError
		transitionErr *apperr.TransitionError
		validationErr *apperr.ValidationError
		storeErr      *apperr.StoreError
	)

	switch {
	case errors.As(err, &validationErr):
		status := http.StatusBadRequest
		if validationErr.Field == "status" || validationErr.Field == "eligibility" {
			status = http.StatusConflict
		}
		response.Error(w, status, "VALIDATION_ERROR", validationErr.Message,
			map[string]string{"field": validationErr.Field})

	case errors.As(err, &authErr):
		if authErr.Message == session.MsgNotCleaner {
			response.Error(w, http.StatusForbidden, "FORBIDDEN", authErr.Message, nil)
			return
		}
		response.Error(w, http.StatusUnauthorized, "AUTH_FAILED", authErr.Message, nil)

	case errors.As(err, &notFound):
		response.Error(w, http.StatusNotFound, "RESOURCE_NOT_FOUND", notFound.Error(), nil)

	case errors.As(err, &uploadErr):
		status := http.StatusBadGateway
		if kind, _ := apperr.UploadKindOf(err); kind == apperr.UploadEmptyPayload || kind == apperr.UploadTranscodeFailed {
			status = http.StatusUnprocessableEntity
		}
		slog.Warn("photo upload failed",
			"job_id", uploadErr.JobID, "kind", uploadErr.PhotoKind,
			"step", uploadErr.Step, "reason", string(uploadErr.Kind), "error", uploadErr.Err)
		response.Error(w, status, "UPLOAD_FAILED", causeText(uploadErr.Err, "Photo upload failed. Try again."), map[string]string{
			"reason": string(uploadErr.Kind),
			"step":   uploadErr.Step,
		})

	case errors.As(err, &transitionErr):
		slog.Warn("job transition failed", "op", transitionErr.Op, "job_id", transitionErr.JobID, "error", transitionErr.Err)
		response.Error(w, http.StatusBadGateway, "TRANSITION_FAILED",
			causeText(transitionErr.Err, "Could not save the change. Try again."), map[string]string{"op": transitionErr.Op})

	case errors.As(err, &storeErr):
		slog.Warn("store read failed", "op", storeErr.Op, "error", storeErr.Err)
		response.Error(w, http.StatusBadGateway, "STORE_ERROR",
			causeText(storeErr.Err, "Could not load data. Try again."), map[string]string{"op": storeErr.Op})

	case errors.Is(err, apperr.ErrInFlight):
		response.Error(w, http.StatusConflict, "IN_PROGRESS", "This action is already in progress.", nil)

	case errors.Is(err, apperr.ErrAbandoned), errors.Is(err, context.Canceled):
		response.Error(w, http.StatusRequestTimeout, "ABANDONED", "Request was cancelled.", nil)

	default:
		slog.Error("unhandled error", "method", r.Method, "path", r.URL.Path, "error", err)
		response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "An unexpected error occurred", nil)
	}
}

// causeText is the underlying failure as reported by the backend, or fallback
// when there is none.
func causeText(cause error, fallback string) string {
	if cause == nil || cause.Error() == "" {
		return fallback
	}
	return cause.Error()
}
