package middleware

import (
	"context"
	"net/http"

	"github.com/kiranshivaraju/cleanops/pkg/models"
)

type contextKey string

const (
	sessionKey   contextKey = "session"
	cleanerKey   contextKey = "cleaner"
	requestIDKey contextKey = "request_id"
)

func SetSession(ctx context.Context, sess *models.Session) context.Context {
	return context.WithValue(ctx, sessionKey, sess)
}

// GetSession returns the session set by Auth.Authenticate.
func GetSession(r *http.Request) (*models.Session, bool) {
	sess, ok := r.Context().Value(sessionKey).(*models.Session)
	return sess, ok && sess != nil
}

func SetCleaner(ctx context.Context, c *models.Cleaner) context.Context {
	return context.WithValue(ctx, cleanerKey, c)
}

func GetCleaner(r *http.Request) (*models.Cleaner, bool) {
	c, ok := r.Context().Value(cleanerKey).(*models.Cleaner)
	return c, ok && c != nil
}

func setRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

func GetRequestID(r *http.Request) string {
	id, _ := r.Context().Value(requestIDKey).(string)
	return id
}
