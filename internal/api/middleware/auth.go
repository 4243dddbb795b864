package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/kiranshivaraju/cleanops/internal/api/response"
	"github.com/kiranshivaraju/cleanops/internal/apperr"
	"github.com/kiranshivaraju/cleanops/internal/identity"
	"github.com/kiranshivaraju/cleanops/pkg/models"
)

// TokenVerifier checks an access token locally.
type TokenVerifier interface {
	Verify(token string) (*identity.Claims, error)
}

// Authorizer resolves a token subject to a cleaner. It returns an
// *apperr.AuthError for subjects that may not use the API.
type Authorizer interface {
	Authorize(ctx context.Context, userID string) (*models.Cleaner, error)
}

// Auth provides authentication middleware for cleaner sessions.
type Auth struct {
	verifier TokenVerifier
	authz    Authorizer
}

// NewAuth creates a new Auth middleware.
func NewAuth(v TokenVerifier, a Authorizer) *Auth {
	return &Auth{verifier: v, authz: a}
}

// Authenticate validates the Bearer token, checks the cleaner role, and sets
// the session and cleaner in the request context.
func (a *Auth) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := extractBearerToken(r)
		if raw == "" {
			response.Error(w, http.StatusUnauthorized,
				"INVALID_TOKEN", "Missing or invalid Authorization header", nil)
			return
		}

		claims, err := a.verifier.Verify(raw)
		if errors.Is(err, identity.ErrExpiredToken) {
			response.Error(w, http.StatusUnauthorized,
				"TOKEN_EXPIRED", "Session expired. Sign in again.", nil)
			return
		}
		if err != nil {
			response.Error(w, http.StatusUnauthorized,
				"INVALID_TOKEN", "Invalid access token", nil)
			return
		}

		cleaner, err := a.authz.Authorize(r.Context(), claims.Subject)
		if err != nil {
			var ae *apperr.AuthError
			if errors.As(err, &ae) {
				response.Error(w, http.StatusForbidden, "FORBIDDEN", ae.Message, nil)
				return
			}
			slog.Error("authorize session", "user_id", claims.Subject, "error", err)
			response.Error(w, http.StatusInternalServerError,
				"INTERNAL_ERROR", "Failed to validate session", nil)
			return
		}

		sess := &models.Session{
			UserID:      claims.Subject,
			Email:       claims.Email,
			AccessToken: raw,
		}
		ctx := SetSession(r.Context(), sess)
		ctx = SetCleaner(ctx, cleaner)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func extractBearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if auth == "" {
		return ""
	}
	parts := strings.SplitN(auth, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
