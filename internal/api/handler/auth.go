package handler

import (
	"context"
	"encoding/json"
	"net/http"

	mw "github.com/kiranshivaraju/cleanops/internal/api/middleware"
	"github.com/kiranshivaraju/cleanops/internal/api/response"
	"github.com/kiranshivaraju/cleanops/internal/session"
	"github.com/kiranshivaraju/cleanops/pkg/models"
)

// Authenticator is the session service as seen by the auth endpoints.
type Authenticator interface {
	SignIn(ctx context.Context, in session.SignInInput) (*models.Session, *models.Cleaner, error)
	Refresh(ctx context.Context, refreshToken string) (*models.Session, *models.Cleaner, error)
	SignOut(ctx context.Context, sess *models.Session) error
	RequestPasswordReset(ctx context.Context, email string) error
	ExchangeResetCode(ctx context.Context, code, verifier string) (*models.Session, error)
	UpdatePassword(ctx context.Context, sess *models.Session, in session.PasswordInput) error
}

type sessionResponse struct {
	Session *models.Session `json:"session"`
	Cleaner *models.Cleaner `json:"cleaner,omitempty"`
}

// NewSignInHandler returns an http.HandlerFunc for POST /api/v1/auth/sign-in.
func NewSignInHandler(svc Authenticator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var in session.SignInInput
		if !decodeJSON(w, r, &in) {
			return
		}

		sess, cleaner, err := svc.SignIn(r.Context(), in)
		if err != nil {
			writeError(w, r, err)
			return
		}
		response.JSON(w, sessionResponse{Session: sess, Cleaner: cleaner})
	}
}

// NewRefreshHandler returns an http.HandlerFunc for POST /api/v1/auth/refresh.
func NewRefreshHandler(svc Authenticator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			RefreshToken string `json:"refresh_token"`
		}
		if !decodeJSON(w, r, &req) {
			return
		}

		sess, cleaner, err := svc.Refresh(r.Context(), req.RefreshToken)
		if err != nil {
			writeError(w, r, err)
			return
		}
		response.JSON(w, sessionResponse{Session: sess, Cleaner: cleaner})
	}
}

func NewSignOutHandler(svc Authenticator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sess, ok := requireSession(w, r)
		if !ok {
			return
		}
		if err := svc.SignOut(r.Context(), sess); err != nil {
			writeError(w, r, err)
			return
		}
		response.NoContent(w)
	}
}

// NewPasswordResetHandler returns an http.HandlerFunc for
// POST /api/v1/auth/password/reset. It answers 202 once the provider has
// accepted the request.
func NewPasswordResetHandler(svc Authenticator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Email string `json:"email"`
		}
		if !decodeJSON(w, r, &req) {
			return
		}

		if err := svc.RequestPasswordReset(r.Context(), req.Email); err != nil {
			writeError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusAccepted)
	}
}

func NewPasswordExchangeHandler(svc Authenticator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Code         string `json:"code"`
			CodeVerifier string `json:"code_verifier"`
		}
		if !decodeJSON(w, r, &req) {
			return
		}

		sess, err := svc.ExchangeResetCode(r.Context(), req.Code, req.CodeVerifier)
		if err != nil {
			writeError(w, r, err)
			return
		}
		response.JSON(w, sessionResponse{Session: sess})
	}
}

func NewUpdatePasswordHandler(svc Authenticator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sess, ok := requireSession(w, r)
		if !ok {
			return
		}
		var in session.PasswordInput
		if !decodeJSON(w, r, &in) {
			return
		}

		if err := svc.UpdatePassword(r.Context(), sess, in); err != nil {
			writeError(w, r, err)
			return
		}
		response.NoContent(w)
	}
}

// NewMeHandler returns the cleaner resolved by the auth middleware.
func NewMeHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		cleaner, ok := mw.GetCleaner(r)
		if !ok {
			response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing session", nil)
			return
		}
		response.JSON(w, cleaner)
	}
}

func requireSession(w http.ResponseWriter, r *http.Request) (*models.Session, bool) {
	sess, ok := mw.GetSession(r)
	if !ok {
		response.Error(w, http.StatusUnauthorized, "INVALID_TOKEN", "Missing session", nil)
	}
	return sess, ok
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
		return false
	}
	return true
}
