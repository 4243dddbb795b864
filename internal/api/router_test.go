package api_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/kiranshivaraju/cleanops/internal/api"
	mw "github.com/kiranshivaraju/cleanops/internal/api/middleware"
	"github.com/kiranshivaraju/cleanops/internal/identity"
	"github.com/kiranshivaraju/cleanops/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- stub verifier: accepts "good-token" only ---

type stubVerifier struct{}

func (stubVerifier) Verify(token string) (*identity.Claims, error) {
	if token != "good-token" {
		return nil, identity.ErrInvalidToken
	}
	c := &identity.Claims{Email: "c1@example.com"}
	c.Subject = "cleaner-1"
	return c, nil
}

type stubAuthorizer struct{}

func (stubAuthorizer) Authorize(_ context.Context, userID string) (*models.Cleaner, error) {
	return &models.Cleaner{ID: userID, Role: models.RoleCleaner}, nil
}

type stubCounter struct{}

func (stubCounter) IncrWithExpiry(_ context.Context, _ string, _ time.Duration) (int64, error) {
	return 1, nil
}

// --- router tests ---

func newTestRouter(deps api.Dependencies) http.Handler {
	deps.Auth = mw.NewAuth(stubVerifier{}, stubAuthorizer{})
	deps.RateLimit = mw.NewRateLimit(stubCounter{}, 60)
	if deps.HealthHandler == nil {
		deps.HealthHandler = func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte(`{"status":"ok"}`))
		}
	}
	return api.NewRouter(deps)
}

func TestRouter_HealthEndpoint_Public(t *testing.T) {
	router := newTestRouter(api.Dependencies{})

	req := httptest.NewRequest("GET", "/api/v1/health", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
}

func TestRouter_PublicAuthEndpoints_NoToken(t *testing.T) {
	router := newTestRouter(api.Dependencies{})

	for _, path := range []string{
		"/api/v1/auth/sign-in",
		"/api/v1/auth/refresh",
		"/api/v1/auth/password/reset",
		"/api/v1/auth/password/exchange",
	} {
		t.Run(path, func(t *testing.T) {
			req := httptest.NewRequest("POST", path, nil)
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			// reaches the (unset) handler without an auth check
			assert.Equal(t, http.StatusNotImplemented, w.Code)
		})
	}
}

func TestRouter_ProtectedEndpoints_RequireAuth(t *testing.T) {
	router := newTestRouter(api.Dependencies{})

	endpoints := []struct {
		method string
		path   string
	}{
		{"POST", "/api/v1/auth/sign-out"},
		{"PUT", "/api/v1/auth/password"},
		{"GET", "/api/v1/me"},
		{"GET", "/api/v1/jobs"},
		{"GET", "/api/v1/jobs/history"},
		{"GET", "/api/v1/jobs/job-1"},
		{"POST", "/api/v1/jobs/job-1/check-in"},
		{"POST", "/api/v1/jobs/job-1/tasks/t1/toggle"},
		{"POST", "/api/v1/jobs/job-1/complete"},
		{"GET", "/api/v1/jobs/job-1/summary"},
		{"GET", "/api/v1/jobs/job-1/photos"},
		{"POST", "/api/v1/jobs/job-1/photos"},
	}

	for _, ep := range endpoints {
		t.Run(ep.method+" "+ep.path, func(t *testing.T) {
			req := httptest.NewRequest(ep.method, ep.path, nil)
			req.Header.Set("Authorization", "Bearer bad-token")
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			assert.Equal(t, http.StatusUnauthorized, w.Code)

			var body map[string]any
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
			errObj := body["error"].(map[string]any)
			assert.Equal(t, "INVALID_TOKEN", errObj["code"])
		})
	}
}

func TestRouter_RoutesParams(t *testing.T) {
	var gotJob, gotTask, gotUser string
	router := newTestRouter(api.Dependencies{
		ToggleTaskHandler: func(w http.ResponseWriter, r *http.Request) {
			gotJob = chi.URLParam(r, "jobID")
			gotTask = chi.URLParam(r, "taskID")
			if sess, ok := mw.GetSession(r); ok {
				gotUser = sess.UserID
			}
			w.WriteHeader(http.StatusOK)
		},
	})

	req := httptest.NewRequest("POST", "/api/v1/jobs/job-7/tasks/task-3/toggle", nil)
	req.Header.Set("Authorization", "Bearer good-token")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "job-7", gotJob)
	assert.Equal(t, "task-3", gotTask)
	assert.Equal(t, "cleaner-1", gotUser)
}

func TestRouter_HistoryIsNotAJobID(t *testing.T) {
	var hit string
	router := newTestRouter(api.Dependencies{
		JobHistoryHandler: func(w http.ResponseWriter, _ *http.Request) { hit = "history" },
		GetJobHandler:     func(w http.ResponseWriter, _ *http.Request) { hit = "job" },
	})

	req := httptest.NewRequest("GET", "/api/v1/jobs/history", nil)
	req.Header.Set("Authorization", "Bearer good-token")
	router.ServeHTTP(httptest.NewRecorder(), req)
	assert.Equal(t, "history", hit)

	req = httptest.NewRequest("GET", "/api/v1/jobs/job-1", nil)
	req.Header.Set("Authorization", "Bearer good-token")
	router.ServeHTTP(httptest.NewRecorder(), req)
	assert.Equal(t, "job", hit)
}

func TestRouter_UnwiredHandler_NotImplemented(t *testing.T) {
	router := newTestRouter(api.Dependencies{})

	req := httptest.NewRequest("GET", "/api/v1/me", nil)
	req.Header.Set("Authorization", "Bearer good-token")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotImplemented, w.Code)
}

func TestRouter_RecoversPanics(t *testing.T) {
	router := newTestRouter(api.Dependencies{
		HealthHandler: func(http.ResponseWriter, *http.Request) { panic(errors.New("boom")) },
	})

	req := httptest.NewRequest("GET", "/api/v1/health", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestRouter_NotFound(t *testing.T) {
	router := newTestRouter(api.Dependencies{})

	req := httptest.NewRequest("GET", "/api/v1/nonexistent", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
}
