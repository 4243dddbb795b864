package store

import (
	"context"
	"errors"
	"time"

	"github.com/kiranshivaraju/cleanops/pkg/models"
)

var ErrNotFound = errors.New("resource not found")
var ErrDuplicateKey = errors.New("duplicate key violation")

// Store is the data access interface. All relational reads and writes go through here.
// Every write is a single-row statement; nothing here spans a transaction.
type Store interface {
	Ping(ctx context.Context) error

	GetUser(ctx context.Context, id string) (*models.Cleaner, error)

	ListJobsByCleaner(ctx context.Context, filter JobFilter) ([]*models.Job, error)
	GetJob(ctx context.Context, id string) (*models.Job, error)
	CheckInJob(ctx context.Context, id string, at time.Time) (*models.Job, error)
	CheckOutJob(ctx context.Context, id string, at time.Time) (*models.Job, error)

	ListTasks(ctx context.Context, jobID string) ([]*models.Task, error)
	UpdateTaskCompletion(ctx context.Context, taskID string, completed bool) (*models.Task, error)

	InsertPhoto(ctx context.Context, photo *models.Photo) (*models.Photo, error)
	ListPhotos(ctx context.Context, jobID string) ([]*models.Photo, error)
}

// SortOrder selects the date/start_time ordering of a job listing.
type SortOrder int

const (
	// Ascending lists the earliest date and start time first.
	Ascending SortOrder = iota
	// Descending lists the latest date and start time first.
	Descending
)

type JobFilter struct {
	CleanerID string
	Statuses  []models.JobStatus
	Order     SortOrder
}
