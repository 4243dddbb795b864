// Package lifecycle owns job state transitions: check-in, task toggles, photo
// evidence and completion.
package lifecycle

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/kiranshivaraju/cleanops/internal/apperr"
	"github.com/kiranshivaraju/cleanops/internal/cache"
	"github.com/kiranshivaraju/cleanops/internal/jobs"
	"github.com/kiranshivaraju/cleanops/internal/photo"
	"github.com/kiranshivaraju/cleanops/pkg/models"
)

// Queries loads the data a snapshot is built from.
type Queries interface {
	GetJobDetail(ctx context.Context, sess *models.Session, jobID string) (*jobs.Detail, error)
}

// Writer is the subset of store.Store the manager writes through. Each call
// is a single-row update.
type Writer interface {
	CheckInJob(ctx context.Context, id string, at time.Time) (*models.Job, error)
	CheckOutJob(ctx context.Context, id string, at time.Time) (*models.Job, error)
	UpdateTaskCompletion(ctx context.Context, taskID string, completed bool) (*models.Task, error)
}

// Uploader stores and records one photo.
type Uploader interface {
	Upload(ctx context.Context, sess *models.Session, jobID, localURI string, kind models.PhotoKind) (*photo.Result, error)
}

// Manager is the sole writer of job status and check-in/check-out times.
type Manager struct {
	queries  Queries
	store    Writer
	uploader Uploader
	guard    Guard
	now      func() time.Time
}

func NewManager(q Queries, w Writer, u Uploader, g Guard) *Manager {
	return &Manager{queries: q, store: w, uploader: u, guard: g, now: time.Now}
}

// Load builds a snapshot of a job owned by the session's cleaner.
func (m *Manager) Load(ctx context.Context, sess *models.Session, jobID string) (Snapshot, error) {
	d, err := m.queries.GetJobDetail(ctx, sess, jobID)
	if err != nil {
		return Snapshot{}, err
	}
	return Snapshot{Job: d.Job, Tasks: d.Tasks, Evidence: jobs.LatestEvidence(d.Photos)}, nil
}

// CheckIn moves a scheduled job to in_progress. An in-progress job is
// returned unchanged without a write.
func (m *Manager) CheckIn(ctx context.Context, sess *models.Session, snap Snapshot) (Snapshot, error) {
	switch snap.Job.Status {
	case models.JobStatusInProgress:
		return snap, nil
	case models.JobStatusScheduled:
	default:
		return snap, terminalError(snap.Job.Status)
	}

	release, err := m.guard.Acquire(ctx, cache.InFlightKey("check_in", snap.Job.ID))
	if err != nil {
		return snap, err
	}
	defer release()

	job, err := m.store.CheckInJob(ctx, snap.Job.ID, m.now().UTC())
	if ctx.Err() != nil {
		return snap, apperr.ErrAbandoned
	}
	if err != nil {
		return snap, &apperr.TransitionError{Op: "check in", JobID: snap.Job.ID, Err: err}
	}

	slog.Info("job checked in", "job_id", job.ID, "user_id", sess.UserID)
	next := snap
	next.Job = job
	return next, nil
}

// ToggleTask flips one task optimistically. onApplied, when set, first sees
// the flipped snapshot and, if the write fails or the caller goes away, the
// restored one. The
// returned snapshot is the outcome: flipped on success, original on failure.
func (m *Manager) ToggleTask(ctx context.Context, sess *models.Session, snap Snapshot, taskID string, onApplied func(Snapshot)) (Snapshot, error) {
	if snap.Job.Status.IsTerminal() {
		return snap, terminalError(snap.Job.Status)
	}
	task, ok := snap.task(taskID)
	if !ok {
		return snap, &apperr.NotFound{Resource: "task", ID: taskID}
	}

	release, err := m.guard.Acquire(ctx, cache.InFlightKey("toggle", taskID))
	if err != nil {
		return snap, err
	}
	defer release()

	was := task.IsCompleted
	flipped := snap.withCompletion(taskID, !was)
	if onApplied != nil {
		onApplied(flipped)
	}

	saved, err := m.store.UpdateTaskCompletion(ctx, taskID, !was)
	if ctx.Err() != nil {
		if onApplied != nil {
			onApplied(snap)
		}
		return snap, apperr.ErrAbandoned
	}
	if err != nil {
		restored := flipped.withCompletion(taskID, was)
		if onApplied != nil {
			onApplied(restored)
		}
		return restored, &apperr.TransitionError{Op: "toggle task " + taskID + " on", JobID: snap.Job.ID, Err: err}
	}

	slog.Info("task toggled", "job_id", snap.Job.ID, "task_id", taskID, "completed", saved.IsCompleted, "user_id", sess.UserID)
	return flipped.withTask(taskID, saved), nil
}

// Complete checks the job out. It is rejected locally unless the job is
// checked in and eligible; a completed job is returned unchanged.
func (m *Manager) Complete(ctx context.Context, sess *models.Session, snap Snapshot) (Snapshot, error) {
	switch snap.Job.Status {
	case models.JobStatusCompleted:
		return snap, nil
	case models.JobStatusCancelled:
		return snap, terminalError(snap.Job.Status)
	case models.JobStatusScheduled:
		return snap, apperr.Invalid("status", "Check in before completing the job.")
	}

	if e := snap.Eligibility(); !e.Eligible {
		return snap, apperr.Invalid("eligibility", ineligibleMessage(e))
	}

	release, err := m.guard.Acquire(ctx, cache.InFlightKey("complete", snap.Job.ID))
	if err != nil {
		return snap, err
	}
	defer release()

	job, err := m.store.CheckOutJob(ctx, snap.Job.ID, m.now().UTC())
	if ctx.Err() != nil {
		return snap, apperr.ErrAbandoned
	}
	if err != nil {
		return snap, &apperr.TransitionError{Op: "complete", JobID: snap.Job.ID, Err: err}
	}

	slog.Info("job completed", "job_id", job.ID, "user_id", sess.UserID)
	next := snap
	next.Job = job
	return next, nil
}

// UploadPhoto runs the upload pipeline and records the result as evidence.
func (m *Manager) UploadPhoto(ctx context.Context, sess *models.Session, snap Snapshot, localURI string, kind models.PhotoKind) (Snapshot, *photo.Result, error) {
	if snap.Job.Status.IsTerminal() {
		return snap, nil, terminalError(snap.Job.Status)
	}

	release, err := m.guard.Acquire(ctx, cache.InFlightKey("upload", snap.Job.ID+":"+string(kind)))
	if err != nil {
		return snap, nil, err
	}
	defer release()

	res, err := m.uploader.Upload(ctx, sess, snap.Job.ID, localURI, kind)
	if ctx.Err() != nil {
		return snap, nil, apperr.ErrAbandoned
	}
	if err != nil {
		return snap, nil, err
	}
	return RecordPhoto(snap, res.Photo), res, nil
}

// RecordPhoto returns snap with p applied to its evidence. Photos of other
// jobs are ignored.
func RecordPhoto(snap Snapshot, p *models.Photo) Snapshot {
	if p == nil || snap.Job == nil || p.JobID != snap.Job.ID {
		return snap
	}
	snap.Evidence = snap.Evidence.With(p)
	return snap
}

func terminalError(status models.JobStatus) error {
	switch status {
	case models.JobStatusCompleted:
		return apperr.Invalid("status", "Job is already completed.")
	case models.JobStatusCancelled:
		return apperr.Invalid("status", "Job was cancelled.")
	default:
		return apperr.Invalid("status", fmt.Sprintf("Job status %q does not allow this action.", status))
	}
}

func ineligibleMessage(e Eligibility) string {
	var missing []string
	if e.CompletedTasks < e.TotalTasks {
		missing = append(missing, fmt.Sprintf("complete all tasks (%d/%d done)", e.CompletedTasks, e.TotalTasks))
	}
	if !e.HasBefore {
		missing = append(missing, "add a before photo")
	}
	if !e.HasAfter {
		missing = append(missing, "add an after photo")
	}
	msg := strings.Join(missing, ", ")
	return "Before checking out, " + msg + "."
}
