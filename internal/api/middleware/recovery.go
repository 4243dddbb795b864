package middleware

import (
	"errors"
	"log/slog"
	"net/http"
	"runtime/debug"

	"github.com/kiranshivaraju/cleanops/internal/api/response"
)

// Recovery turns a handler panic into a 500 envelope carrying the request id.
// http.ErrAbortHandler is re-raised so the server aborts the connection.
func Recovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if err, ok := rec.(error); ok && errors.Is(err, http.ErrAbortHandler) {
				panic(rec)
			}

			reqID := GetRequestID(r)
			slog.Error("handler panicked",
				"request_id", reqID,
				"method", r.Method,
				"path", r.URL.Path,
				"panic", rec,
				"stack", string(debug.Stack()),
			)
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR",
				"An unexpected error occurred", map[string]string{"request_id": reqID})
		}()
		next.ServeHTTP(w, r)
	})
}
