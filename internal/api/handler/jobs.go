package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/kiranshivaraju/cleanops/internal/api/response"
	"github.com/kiranshivaraju/cleanops/internal/jobs"
	"github.com/kiranshivaraju/cleanops/internal/lifecycle"
	"github.com/kiranshivaraju/cleanops/internal/photo"
	"github.com/kiranshivaraju/cleanops/pkg/models"
)

// JobLister lists the current cleaner's jobs.
type JobLister interface {
	ListUpcoming(ctx context.Context, sess *models.Session) ([]*models.Job, error)
	ListHistory(ctx context.Context, sess *models.Session) ([]*models.Job, error)
}

// Lifecycle is the job lifecycle manager as seen by the job endpoints.
type Lifecycle interface {
	Load(ctx context.Context, sess *models.Session, jobID string) (lifecycle.Snapshot, error)
	CheckIn(ctx context.Context, sess *models.Session, snap lifecycle.Snapshot) (lifecycle.Snapshot, error)
	ToggleTask(ctx context.Context, sess *models.Session, snap lifecycle.Snapshot, taskID string, onApplied func(lifecycle.Snapshot)) (lifecycle.Snapshot, error)
	Complete(ctx context.Context, sess *models.Session, snap lifecycle.Snapshot) (lifecycle.Snapshot, error)
	UploadPhoto(ctx context.Context, sess *models.Session, snap lifecycle.Snapshot, localURI string, kind models.PhotoKind) (lifecycle.Snapshot, *photo.Result, error)
}

// jobView is a snapshot plus its completion gate, as rendered by the job screen.
type jobView struct {
	Job         *models.Job           `json:"job"`
	Tasks       []*models.Task        `json:"tasks"`
	Evidence    jobs.Evidence         `json:"evidence"`
	Eligibility lifecycle.Eligibility `json:"eligibility"`
}

func newJobView(s lifecycle.Snapshot) jobView {
	tasks := s.Tasks
	if tasks == nil {
		tasks = []*models.Task{}
	}
	return jobView{Job: s.Job, Tasks: tasks, Evidence: s.Evidence, Eligibility: s.Eligibility()}
}

// NewListJobsHandler returns an http.HandlerFunc for GET /api/v1/jobs.
func NewListJobsHandler(svc JobLister) http.HandlerFunc {
	return listJobs(svc.ListUpcoming)
}

// NewJobHistoryHandler returns an http.HandlerFunc for GET /api/v1/jobs/history.
func NewJobHistoryHandler(svc JobLister) http.HandlerFunc {
	return listJobs(svc.ListHistory)
}

func listJobs(list func(context.Context, *models.Session) ([]*models.Job, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sess, ok := requireSession(w, r)
		if !ok {
			return
		}
		out, err := list(r.Context(), sess)
		if err != nil {
			writeError(w, r, err)
			return
		}
		response.JSON(w, out)
	}
}

// NewGetJobHandler returns an http.HandlerFunc for GET /api/v1/jobs/{jobID}.
func NewGetJobHandler(lc Lifecycle) http.HandlerFunc {
	return withSnapshot(lc, func(w http.ResponseWriter, r *http.Request, _ *models.Session, snap lifecycle.Snapshot) {
		response.JSON(w, newJobView(snap))
	})
}

func NewCheckInHandler(lc Lifecycle) http.HandlerFunc {
	return withSnapshot(lc, func(w http.ResponseWriter, r *http.Request, sess *models.Session, snap lifecycle.Snapshot) {
		next, err := lc.CheckIn(r.Context(), sess, snap)
		if err != nil {
			writeError(w, r, err)
			return
		}
		response.JSON(w, newJobView(next))
	})
}

// NewToggleTaskHandler returns an http.HandlerFunc for
// POST /api/v1/jobs/{jobID}/tasks/{taskID}/toggle.
func NewToggleTaskHandler(lc Lifecycle) http.HandlerFunc {
	return withSnapshot(lc, func(w http.ResponseWriter, r *http.Request, sess *models.Session, snap lifecycle.Snapshot) {
		next, err := lc.ToggleTask(r.Context(), sess, snap, chi.URLParam(r, "taskID"), nil)
		if err != nil {
			writeError(w, r, err)
			return
		}
		response.JSON(w, newJobView(next))
	})
}

func NewCompleteHandler(lc Lifecycle) http.HandlerFunc {
	return withSnapshot(lc, func(w http.ResponseWriter, r *http.Request, sess *models.Session, snap lifecycle.Snapshot) {
		next, err := lc.Complete(r.Context(), sess, snap)
		if err != nil {
			writeError(w, r, err)
			return
		}
		response.JSON(w, lifecycle.Summarize(next))
	})
}

// NewSummaryHandler returns the confirmation view of a job.
func NewSummaryHandler(lc Lifecycle) http.HandlerFunc {
	return withSnapshot(lc, func(w http.ResponseWriter, r *http.Request, _ *models.Session, snap lifecycle.Snapshot) {
		response.JSON(w, lifecycle.Summarize(snap))
	})
}

type snapshotHandler func(w http.ResponseWriter, r *http.Request, sess *models.Session, snap lifecycle.Snapshot)

// withSnapshot loads the {jobID} snapshot for the session before calling h.
func withSnapshot(lc Lifecycle, h snapshotHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sess, ok := requireSession(w, r)
		if !ok {
			return
		}
		snap, err := lc.Load(r.Context(), sess, chi.URLParam(r, "jobID"))
		if err != nil {
			writeError(w, r, err)
			return
		}
		h(w, r, sess, snap)
	}
}
