package handler_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/kiranshivaraju/cleanops/internal/api"
	"github.com/kiranshivaraju/cleanops/internal/api/handler"
	mw "github.com/kiranshivaraju/cleanops/internal/api/middleware"
	"github.com/kiranshivaraju/cleanops/internal/identity"
	"github.com/kiranshivaraju/cleanops/internal/jobs"
	"github.com/kiranshivaraju/cleanops/internal/lifecycle"
	"github.com/kiranshivaraju/cleanops/internal/objectstore"
	"github.com/kiranshivaraju/cleanops/internal/photo"
	"github.com/kiranshivaraju/cleanops/internal/session"
	"github.com/kiranshivaraju/cleanops/internal/store"
	"github.com/kiranshivaraju/cleanops/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ─── test fixtures ───────────────────────────────────────────────────────────

const (
	testJWTSecret = "contract-secret"
	testCleaner   = "cleaner-1"
	otherCleaner  = "cleaner-2"
	testAdmin     = "admin-1"
	pngDataURI    = "data:image/png;base64,iVBORw0KGgo="
)

func strp(s string) *string { return &s }

// ─── in-memory store ─────────────────────────────────────────────────────────

type memStore struct {
	mu     sync.Mutex
	users  map[string]*models.Cleaner
	jobs   map[string]*models.Job
	tasks  []*models.Task
	photos []*models.Photo
}

func newMemStore() *memStore {
	day := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	return &memStore{
		users: map[string]*models.Cleaner{
			testCleaner:  {ID: testCleaner, Email: "c1@example.com", Role: models.RoleCleaner},
			otherCleaner: {ID: otherCleaner, Email: "c2@example.com", Role: models.RoleCleaner},
			testAdmin:    {ID: testAdmin, Email: "admin@example.com", Role: "admin"},
		},
		jobs: map[string]*models.Job{
			"job-1": {ID: "job-1", CleanerID: strp(testCleaner), Status: models.JobStatusScheduled, Date: &day,
				StartTime: strp("09:00:00"), EndTime: strp("11:00:00"), Address: strp("1 Main St")},
			"job-2": {ID: "job-2", CleanerID: strp(otherCleaner), Status: models.JobStatusScheduled, Date: &day},
		},
		tasks: []*models.Task{
			{ID: "t1", JobID: "job-1", Description: "Kitchen"},
			{ID: "t2", JobID: "job-1", Description: "Bathroom"},
		},
	}
}

func (s *memStore) GetUser(_ context.Context, id string) (*models.Cleaner, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u, ok := s.users[id]; ok {
		return u, nil
	}
	return nil, store.ErrNotFound
}

func (s *memStore) ListJobsByCleaner(_ context.Context, f store.JobFilter) ([]*models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.Job
	for _, j := range s.jobs {
		if j.CleanerID != nil && *j.CleanerID == f.CleanerID && slices.Contains(f.Statuses, j.Status) {
			cp := *j
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *memStore) GetJob(_ context.Context, id string) (*models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if j, ok := s.jobs[id]; ok {
		cp := *j
		return &cp, nil
	}
	return nil, store.ErrNotFound
}

func (s *memStore) ListTasks(_ context.Context, jobID string) ([]*models.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.Task
	for _, t := range s.tasks {
		if t.JobID == jobID {
			cp := *t
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *memStore) ListPhotos(_ context.Context, jobID string) ([]*models.Photo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.Photo
	for i := len(s.photos) - 1; i >= 0; i-- {
		if s.photos[i].JobID == jobID {
			out = append(out, s.photos[i])
		}
	}
	return out, nil
}

func (s *memStore) CheckInJob(_ context.Context, id string, at time.Time) (*models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j := s.jobs[id]
	j.Status = models.JobStatusInProgress
	j.CheckInAt = &at
	cp := *j
	return &cp, nil
}

func (s *memStore) CheckOutJob(_ context.Context, id string, at time.Time) (*models.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j := s.jobs[id]
	j.Status = models.JobStatusCompleted
	j.CheckOutAt = &at
	cp := *j
	return &cp, nil
}

func (s *memStore) UpdateTaskCompletion(_ context.Context, taskID string, completed bool) (*models.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.tasks {
		if t.ID == taskID {
			t.IsCompleted = completed
			cp := *t
			return &cp, nil
		}
	}
	return nil, store.ErrNotFound
}

func (s *memStore) InsertPhoto(_ context.Context, p *models.Photo) (*models.Photo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *p
	cp.ID = uuid.NewString()
	s.photos = append(s.photos, &cp)
	return &cp, nil
}

func (s *memStore) Ping(context.Context) error { return nil }

// ─── fake object store ───────────────────────────────────────────────────────

type storageServer struct {
	*httptest.Server
	mu      sync.Mutex
	objects []string
}

func newStorageServer(t *testing.T) *storageServer {
	t.Helper()
	ss := &storageServer{}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /storage/v1/bucket/photos", func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`{"id":"photos","name":"photos","public":true}`))
	})
	mux.HandleFunc("POST /storage/v1/object/upload/sign/photos/", func(w http.ResponseWriter, r *http.Request) {
		rel := strings.TrimPrefix(r.URL.Path, "/storage/v1")
		json.NewEncoder(w).Encode(map[string]string{"url": rel + "?token=tok-1"})
	})
	mux.HandleFunc("PUT /storage/v1/object/upload/sign/photos/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("token") != "tok-1" {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		ss.mu.Lock()
		ss.objects = append(ss.objects, strings.TrimPrefix(r.URL.Path, "/storage/v1/object/upload/sign/photos/"))
		ss.mu.Unlock()
		w.Write([]byte(`{"Key":"ok"}`))
	})
	ss.Server = httptest.NewServer(mux)
	t.Cleanup(ss.Close)
	return ss
}

// ─── cache ───────────────────────────────────────────────────────────────────

// memCache covers the rate-limit counters and the cached cleaner roles. TTLs
// are ignored.
type memCache struct {
	mu       sync.Mutex
	counters map[string]int64
	values   map[string][]byte
}

func newMemCache() *memCache {
	return &memCache{counters: map[string]int64{}, values: map[string][]byte{}}
}

func (c *memCache) IncrWithExpiry(_ context.Context, key string, _ time.Duration) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counters[key]++
	return c.counters[key], nil
}

func (c *memCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.values[key]
	return v, ok, nil
}

func (c *memCache) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.values[key] = value
	return nil
}

func (c *memCache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.values, key)
	return nil
}

// ─── test harness ────────────────────────────────────────────────────────────

type testServer struct {
	server  *httptest.Server
	store   *memStore
	storage *storageServer
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	ms := newMemStore()
	storage := newStorageServer(t)

	// The identity provider is never reached: tokens are verified locally.
	idp := identity.NewHTTPClient("http://127.0.0.1:1", "anon-key", time.Second)
	mc := newMemCache()
	sessions := session.NewService(idp, ms, mc, "cleanops://reset-password")
	t.Cleanup(sessions.Close)

	pipeline, err := photo.NewPipeline(
		photo.NewNormalizer(photo.NewImagingTranscoder(t.TempDir())),
		photo.NewLoader(photo.NewHTTPFetcher(time.Second), photo.FileBase64Reader{}),
		objectstore.NewHTTPClient(storage.URL, "service-key", 5*time.Second),
		ms,
		photo.Config{Bucket: "photos"},
	)
	require.NoError(t, err)

	jobsSvc := jobs.NewService(ms)
	manager := lifecycle.NewManager(jobsSvc, ms, pipeline, lifecycle.NewLocalGuard())

	deps := api.Dependencies{
		Auth:      mw.NewAuth(identity.NewVerifier(testJWTSecret), sessions),
		RateLimit: mw.NewRateLimit(mc, 100),

		HealthHandler:         handler.NewHealthHandler(ms, ms),
		SignInHandler:         handler.NewSignInHandler(sessions),
		SignOutHandler:        handler.NewSignOutHandler(sessions),
		UpdatePasswordHandler: handler.NewUpdatePasswordHandler(sessions),
		MeHandler:             handler.NewMeHandler(),

		ListJobsHandler:    handler.NewListJobsHandler(jobsSvc),
		JobHistoryHandler:  handler.NewJobHistoryHandler(jobsSvc),
		GetJobHandler:      handler.NewGetJobHandler(manager),
		CheckInHandler:     handler.NewCheckInHandler(manager),
		ToggleTaskHandler:  handler.NewToggleTaskHandler(manager),
		CompleteHandler:    handler.NewCompleteHandler(manager),
		SummaryHandler:     handler.NewSummaryHandler(manager),
		ListPhotosHandler:  handler.NewListPhotosHandler(jobsSvc, pipeline),
		UploadPhotoHandler: handler.NewUploadPhotoHandler(manager, t.TempDir()),
	}

	srv := httptest.NewServer(api.NewRouter(deps))
	t.Cleanup(srv.Close)
	return &testServer{server: srv, store: ms, storage: storage}
}

func bearer(t *testing.T, sub string) string {
	t.Helper()
	now := time.Now()
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, identity.Claims{
		Email: sub + "@example.com",
		Role:  "authenticated",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   sub,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
		},
	}).SignedString([]byte(testJWTSecret))
	require.NoError(t, err)
	return tok
}

func (ts *testServer) do(t *testing.T, sub, method, path string, body any) (*http.Response, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, ts.server.URL+path, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if sub != "" {
		req.Header.Set("Authorization", "Bearer "+bearer(t, sub))
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var parsed map[string]any
	if resp.StatusCode != http.StatusNoContent {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&parsed))
	}
	return resp, parsed
}

func errorMessage(body map[string]any) string {
	e, _ := body["error"].(map[string]any)
	msg, _ := e["message"].(string)
	return msg
}

// ─── contract tests ──────────────────────────────────────────────────────────

func TestContract_Health(t *testing.T) {
	ts := newTestServer(t)

	resp, body := ts.do(t, "", "GET", "/api/v1/health", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", body["data"].(map[string]any)["status"])
}

func TestContract_Auth(t *testing.T) {
	ts := newTestServer(t)

	resp, _ := ts.do(t, "", "GET", "/api/v1/jobs", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, body := ts.do(t, testAdmin, "GET", "/api/v1/jobs", nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, session.MsgNotCleaner, errorMessage(body))

	resp, body = ts.do(t, testCleaner, "GET", "/api/v1/me", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "c1@example.com", body["data"].(map[string]any)["email"])
}

func TestContract_OtherCleanersJobIsNotFound(t *testing.T) {
	ts := newTestServer(t)

	for _, ep := range []struct{ method, path string }{
		{"GET", "/api/v1/jobs/job-2"},
		{"POST", "/api/v1/jobs/job-2/check-in"},
		{"POST", "/api/v1/jobs/job-2/tasks/t1/toggle"},
		{"GET", "/api/v1/jobs/job-2/photos"},
		{"GET", "/api/v1/jobs/missing"},
	} {
		resp, _ := ts.do(t, testCleaner, ep.method, ep.path, nil)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode, ep.method+" "+ep.path)
	}
	assert.Equal(t, models.JobStatusScheduled, ts.store.jobs["job-2"].Status)
}

func TestContract_JobWalkthrough(t *testing.T) {
	ts := newTestServer(t)

	// upcoming list
	resp, body := ts.do(t, testCleaner, "GET", "/api/v1/jobs", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	list := body["data"].([]any)
	require.Len(t, list, 1)
	assert.Equal(t, "job-1", list[0].(map[string]any)["id"])

	// completing before check-in is rejected locally
	resp, body = ts.do(t, testCleaner, "POST", "/api/v1/jobs/job-1/complete", nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "Check in before completing the job.", errorMessage(body))

	// check in
	resp, body = ts.do(t, testCleaner, "POST", "/api/v1/jobs/job-1/check-in", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	job := body["data"].(map[string]any)["job"].(map[string]any)
	assert.Equal(t, "in_progress", job["status"])
	assert.NotEmpty(t, job["check_in_at"])

	// toggle every task
	for _, id := range []string{"t1", "t2"} {
		resp, _ = ts.do(t, testCleaner, "POST", "/api/v1/jobs/job-1/tasks/"+id+"/toggle", nil)
		require.Equal(t, http.StatusOK, resp.StatusCode)
	}

	// still missing photo evidence
	resp, body = ts.do(t, testCleaner, "POST", "/api/v1/jobs/job-1/complete", nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "Before checking out, add a before photo, add an after photo.", errorMessage(body))

	// upload evidence
	for _, kind := range []string{"before", "after"} {
		resp, body = ts.do(t, testCleaner, "POST", "/api/v1/jobs/job-1/photos",
			map[string]string{"kind": kind, "data_uri": pngDataURI})
		require.Equal(t, http.StatusCreated, resp.StatusCode, body)
		res := body["data"].(map[string]any)["photo"].(map[string]any)
		assert.True(t, strings.HasPrefix(res["storage_path"].(string), "jobs/job-1/"+kind+"-"))
		assert.True(t, strings.HasSuffix(res["storage_path"].(string), ".png"))
		assert.Contains(t, res["display_url"], ts.storage.URL+"/storage/v1/object/public/photos/jobs/job-1/")
		assert.Contains(t, res["display_url"], "?cb=")
	}
	assert.Len(t, ts.storage.objects, 2)

	// job view now eligible
	resp, body = ts.do(t, testCleaner, "GET", "/api/v1/jobs/job-1", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["data"].(map[string]any)["eligibility"].(map[string]any)["eligible"])

	// complete
	resp, body = ts.do(t, testCleaner, "POST", "/api/v1/jobs/job-1/complete", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, body)
	sum := body["data"].(map[string]any)
	assert.Equal(t, "completed", sum["status"])
	assert.Equal(t, float64(2), sum["tasks_completed"])
	assert.NotNil(t, sum["before_photo"])
	assert.NotNil(t, sum["after_photo"])
	assert.Equal(t, "0m", sum["duration"])

	// terminal job rejects further actions
	resp, body = ts.do(t, testCleaner, "POST", "/api/v1/jobs/job-1/check-in", nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "Job is already completed.", errorMessage(body))

	// completing again is a no-op
	resp, _ = ts.do(t, testCleaner, "POST", "/api/v1/jobs/job-1/complete", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	// moved to history
	resp, body = ts.do(t, testCleaner, "GET", "/api/v1/jobs", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, body["data"])

	resp, body = ts.do(t, testCleaner, "GET", "/api/v1/jobs/history", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, body["data"], 1)

	// gallery keeps the listing order, newest first
	resp, body = ts.do(t, testCleaner, "GET", "/api/v1/jobs/job-1/photos", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	items := body["data"].([]any)
	require.Len(t, items, 2)
	assert.Equal(t, "after", items[0].(map[string]any)["photo"].(map[string]any)["type"])
	assert.Equal(t, "before", items[1].(map[string]any)["photo"].(map[string]any)["type"])
}

func TestContract_UnknownTask(t *testing.T) {
	ts := newTestServer(t)

	resp, _ := ts.do(t, testCleaner, "POST", "/api/v1/jobs/job-1/tasks/nope/toggle", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestContract_UploadRejectsBadKind(t *testing.T) {
	ts := newTestServer(t)

	resp, _ := ts.do(t, testCleaner, "POST", "/api/v1/jobs/job-1/photos",
		map[string]string{"kind": "during", "data_uri": pngDataURI})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Empty(t, ts.storage.objects)
	assert.Empty(t, ts.store.photos)
}
