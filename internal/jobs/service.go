// Package jobs is the read side of the cleaner app: job listings, a job with
// its checklist, and the photo evidence recorded against it.
package jobs

import (
	"context"
	"errors"

	"github.com/kiranshivaraju/cleanops/internal/apperr"
	"github.com/kiranshivaraju/cleanops/internal/store"
	"github.com/kiranshivaraju/cleanops/pkg/models"
)

// Reader is the subset of store.Store the query layer needs.
type Reader interface {
	ListJobsByCleaner(ctx context.Context, filter store.JobFilter) ([]*models.Job, error)
	GetJob(ctx context.Context, id string) (*models.Job, error)
	ListTasks(ctx context.Context, jobID string) ([]*models.Task, error)
	ListPhotos(ctx context.Context, jobID string) ([]*models.Photo, error)
}

// Evidence is the latest photo of each kind for a job. Either may be nil.
type Evidence struct {
	Before *models.Photo `json:"before,omitempty"`
	After  *models.Photo `json:"after,omitempty"`
}

type Service struct {
	store Reader
}

func NewService(r Reader) *Service {
	return &Service{store: r}
}

// ListUpcoming returns the cleaner's scheduled and in-progress jobs, earliest first.
func (s *Service) ListUpcoming(ctx context.Context, sess *models.Session) ([]*models.Job, error) {
	jobs, err := s.store.ListJobsByCleaner(ctx, store.JobFilter{
		CleanerID: sess.UserID,
		Statuses:  models.UpcomingStatuses,
		Order:     store.Ascending,
	})
	if err != nil {
		return nil, &apperr.StoreError{Op: "listing upcoming jobs", Err: err}
	}
	if jobs == nil {
		jobs = []*models.Job{}
	}
	return jobs, nil
}

// ListHistory returns the cleaner's completed and cancelled jobs, most recent first.
func (s *Service) ListHistory(ctx context.Context, sess *models.Session) ([]*models.Job, error) {
	jobs, err := s.store.ListJobsByCleaner(ctx, store.JobFilter{
		CleanerID: sess.UserID,
		Statuses:  models.HistoryStatuses,
		Order:     store.Descending,
	})
	if err != nil {
		return nil, &apperr.StoreError{Op: "listing job history", Err: err}
	}
	if jobs == nil {
		jobs = []*models.Job{}
	}
	return jobs, nil
}

// GetJob returns the job if it exists and is assigned to the session's cleaner.
func (s *Service) GetJob(ctx context.Context, sess *models.Session, jobID string) (*models.Job, error) {
	job, err := s.store.GetJob(ctx, jobID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, &apperr.NotFound{Resource: "job", ID: jobID}
	}
	if err != nil {
		return nil, &apperr.StoreError{Op: "getting job", Err: err}
	}
	// Someone else's job is reported exactly like a missing one.
	if job.CleanerID == nil || *job.CleanerID != sess.UserID {
		return nil, &apperr.NotFound{Resource: "job", ID: jobID}
	}
	return job, nil
}

// GetJobWithTasks returns the job and its checklist in creation order.
func (s *Service) GetJobWithTasks(ctx context.Context, sess *models.Session, jobID string) (*models.Job, []*models.Task, error) {
	job, err := s.GetJob(ctx, sess, jobID)
	if err != nil {
		return nil, nil, err
	}

	tasks, err := s.store.ListTasks(ctx, jobID)
	if err != nil {
		return nil, nil, &apperr.StoreError{Op: "listing tasks", Err: err}
	}
	if tasks == nil {
		tasks = []*models.Task{}
	}
	return job, tasks, nil
}

// ListPhotos returns the job's photos newest first.
func (s *Service) ListPhotos(ctx context.Context, sess *models.Session, jobID string) ([]*models.Photo, error) {
	if _, err := s.GetJob(ctx, sess, jobID); err != nil {
		return nil, err
	}

	photos, err := s.store.ListPhotos(ctx, jobID)
	if err != nil {
		return nil, &apperr.StoreError{Op: "listing photos", Err: err}
	}
	if photos == nil {
		photos = []*models.Photo{}
	}
	return photos, nil
}

// Detail is a job with its checklist and every photo recorded against it.
type Detail struct {
	Job    *models.Job
	Tasks  []*models.Task
	Photos []*models.Photo
}

// GetJobDetail loads the job, its tasks and its photos with a single ownership check.
func (s *Service) GetJobDetail(ctx context.Context, sess *models.Session, jobID string) (*Detail, error) {
	job, tasks, err := s.GetJobWithTasks(ctx, sess, jobID)
	if err != nil {
		return nil, err
	}

	photos, err := s.store.ListPhotos(ctx, jobID)
	if err != nil {
		return nil, &apperr.StoreError{Op: "listing photos", Err: err}
	}
	if photos == nil {
		photos = []*models.Photo{}
	}
	return &Detail{Job: job, Tasks: tasks, Photos: photos}, nil
}

// LatestEvidence picks the most recent photo of each kind. On equal
// timestamps the earlier entry in photos wins.
func LatestEvidence(photos []*models.Photo) Evidence {
	var ev Evidence
	for _, p := range photos {
		switch p.Kind {
		case models.PhotoKindBefore:
			if ev.Before == nil || p.CreatedAt.After(ev.Before.CreatedAt) {
				ev.Before = p
			}
		case models.PhotoKindAfter:
			if ev.After == nil || p.CreatedAt.After(ev.After.CreatedAt) {
				ev.After = p
			}
		}
	}
	return ev
}

// With returns ev updated by a newly recorded photo, if it is at least as recent.
func (ev Evidence) With(p *models.Photo) Evidence {
	switch p.Kind {
	case models.PhotoKindBefore:
		if ev.Before == nil || !p.CreatedAt.Before(ev.Before.CreatedAt) {
			ev.Before = p
		}
	case models.PhotoKindAfter:
		if ev.After == nil || !p.CreatedAt.Before(ev.After.CreatedAt) {
			ev.After = p
		}
	}
	return ev
}
