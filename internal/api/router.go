package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	mw "github.com/kiranshivaraju/cleanops/internal/api/middleware"
	"github.com/kiranshivaraju/cleanops/internal/api/response"
)

// Dependencies holds all handler and middleware dependencies for the router.
type Dependencies struct {
	Auth      *mw.Auth
	RateLimit *mw.RateLimit

	HealthHandler http.HandlerFunc

	SignInHandler           http.HandlerFunc
	RefreshHandler          http.HandlerFunc
	PasswordResetHandler    http.HandlerFunc
	PasswordExchangeHandler http.HandlerFunc
	SignOutHandler          http.HandlerFunc
	UpdatePasswordHandler   http.HandlerFunc
	MeHandler               http.HandlerFunc

	ListJobsHandler    http.HandlerFunc
	JobHistoryHandler  http.HandlerFunc
	GetJobHandler      http.HandlerFunc
	CheckInHandler     http.HandlerFunc
	ToggleTaskHandler  http.HandlerFunc
	CompleteHandler    http.HandlerFunc
	SummaryHandler     http.HandlerFunc
	ListPhotosHandler  http.HandlerFunc
	UploadPhotoHandler http.HandlerFunc
}

// NewRouter builds the Chi router with middleware stack and all routes.
func NewRouter(deps Dependencies) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(mw.RequestID)
	r.Use(mw.Logger)
	r.Use(mw.Recovery)

	r.Get("/api/v1/health", orNotImplemented(deps.HealthHandler))

	// Public auth routes
	r.Post("/api/v1/auth/sign-in", orNotImplemented(deps.SignInHandler))
	r.Post("/api/v1/auth/refresh", orNotImplemented(deps.RefreshHandler))
	r.Post("/api/v1/auth/password/reset", orNotImplemented(deps.PasswordResetHandler))
	r.Post("/api/v1/auth/password/exchange", orNotImplemented(deps.PasswordExchangeHandler))

	// Protected routes
	r.Group(func(r chi.Router) {
		r.Use(deps.Auth.Authenticate)
		r.Use(deps.RateLimit.Limit)

		r.Post("/api/v1/auth/sign-out", orNotImplemented(deps.SignOutHandler))
		r.Put("/api/v1/auth/password", orNotImplemented(deps.UpdatePasswordHandler))
		r.Get("/api/v1/me", orNotImplemented(deps.MeHandler))

		r.Get("/api/v1/jobs", orNotImplemented(deps.ListJobsHandler))
		r.Get("/api/v1/jobs/history", orNotImplemented(deps.JobHistoryHandler))

		r.Route("/api/v1/jobs/{jobID}", func(r chi.Router) {
			r.Get("/", orNotImplemented(deps.GetJobHandler))
			r.Post("/check-in", orNotImplemented(deps.CheckInHandler))
			r.Post("/tasks/{taskID}/toggle", orNotImplemented(deps.ToggleTaskHandler))
			r.Post("/complete", orNotImplemented(deps.CompleteHandler))
			r.Get("/summary", orNotImplemented(deps.SummaryHandler))
			r.Get("/photos", orNotImplemented(deps.ListPhotosHandler))
			r.Post("/photos", orNotImplemented(deps.UploadPhotoHandler))
		})
	})

	return r
}

// orNotImplemented returns the handler if non-nil, or a 501 placeholder.
func orNotImplemented(h http.HandlerFunc) http.HandlerFunc {
	if h != nil {
		return h
	}
	return func(w http.ResponseWriter, r *http.Request) {
		response.Error(w, http.StatusNotImplemented, "NOT_IMPLEMENTED", "Endpoint not yet implemented", nil)
	}
}
