package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kiranshivaraju/cleanops/pkg/models"
)

// PostgresStore implements the Store interface using pgx/v5.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Ping checks database connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// --- Users ---

func (s *PostgresStore) GetUser(ctx context.Context, id string) (*models.Cleaner, error) {
	var c models.Cleaner
	err := s.pool.QueryRow(ctx,
		`SELECT id, email, full_name, role FROM users WHERE id = $1`, id,
	).Scan(&c.ID, &c.Email, &c.DisplayName, &c.Role)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	return &c, nil
}

// --- Jobs ---

const jobColumns = `id, client_id, cleaner_id, status, date, start_time::text, end_time::text,
	address, notes, created_by, created_at, check_in_at, check_out_at`

func scanJob(row pgx.Row) (*models.Job, error) {
	var j models.Job
	var status string
	if err := row.Scan(&j.ID, &j.ClientID, &j.CleanerID, &status, &j.Date, &j.StartTime, &j.EndTime,
		&j.Address, &j.Notes, &j.CreatedBy, &j.CreatedAt, &j.CheckInAt, &j.CheckOutAt); err != nil {
		return nil, err
	}
	j.Status = models.JobStatus(status)
	return &j, nil
}

func (s *PostgresStore) ListJobsByCleaner(ctx context.Context, filter JobFilter) ([]*models.Job, error) {
	statuses := make([]string, len(filter.Statuses))
	for i, st := range filter.Statuses {
		statuses[i] = string(st)
	}

	order := `date ASC NULLS LAST, start_time ASC NULLS LAST`
	if filter.Order == Descending {
		order = `date DESC NULLS LAST, start_time DESC NULLS LAST`
	}

	rows, err := s.pool.Query(ctx,
		`SELECT `+jobColumns+` FROM jobs
		 WHERE cleaner_id = $1 AND status = ANY($2)
		 ORDER BY `+order, filter.CleanerID, statuses)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	jobs := []*models.Job{}
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

func (s *PostgresStore) GetJob(ctx context.Context, id string) (*models.Job, error) {
	j, err := scanJob(s.pool.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return j, nil
}

// CheckInJob records arrival and moves the job to in_progress in one statement.
func (s *PostgresStore) CheckInJob(ctx context.Context, id string, at time.Time) (*models.Job, error) {
	j, err := scanJob(s.pool.QueryRow(ctx,
		`UPDATE jobs SET check_in_at = $2, status = 'in_progress'
		 WHERE id = $1 RETURNING `+jobColumns, id, at))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("check in job: %w", err)
	}
	return j, nil
}

// CheckOutJob records departure and moves the job to completed in one statement.
func (s *PostgresStore) CheckOutJob(ctx context.Context, id string, at time.Time) (*models.Job, error) {
	j, err := scanJob(s.pool.QueryRow(ctx,
		`UPDATE jobs SET check_out_at = $2, status = 'completed'
		 WHERE id = $1 RETURNING `+jobColumns, id, at))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("check out job: %w", err)
	}
	return j, nil
}

// --- Tasks ---

func (s *PostgresStore) ListTasks(ctx context.Context, jobID string) ([]*models.Task, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, job_id, description, is_completed, created_at
		 FROM tasks WHERE job_id = $1 ORDER BY created_at ASC, id ASC`, jobID)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	tasks := []*models.Task{}
	for rows.Next() {
		var t models.Task
		if err := rows.Scan(&t.ID, &t.JobID, &t.Description, &t.IsCompleted, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		tasks = append(tasks, &t)
	}
	return tasks, rows.Err()
}

func (s *PostgresStore) UpdateTaskCompletion(ctx context.Context, taskID string, completed bool) (*models.Task, error) {
	var t models.Task
	err := s.pool.QueryRow(ctx,
		`UPDATE tasks SET is_completed = $2 WHERE id = $1
		 RETURNING id, job_id, description, is_completed, created_at`, taskID, completed,
	).Scan(&t.ID, &t.JobID, &t.Description, &t.IsCompleted, &t.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("update task: %w", err)
	}
	return &t, nil
}

// --- Photos ---

func (s *PostgresStore) InsertPhoto(ctx context.Context, photo *models.Photo) (*models.Photo, error) {
	id := photo.ID
	if id == "" {
		id = uuid.NewString()
	}
	createdAt := photo.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	var p models.Photo
	var kind string
	err := s.pool.QueryRow(ctx,
		`INSERT INTO photos (id, job_id, type, image_url, created_at)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING id, job_id, type, image_url, created_at`,
		id, photo.JobID, string(photo.Kind), photo.Path, createdAt,
	).Scan(&p.ID, &p.JobID, &kind, &p.Path, &p.CreatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return nil, ErrDuplicateKey
		}
		return nil, fmt.Errorf("insert photo: %w", err)
	}
	p.Kind = models.PhotoKind(kind)
	return &p, nil
}

// ListPhotos returns a job's photos newest first.
func (s *PostgresStore) ListPhotos(ctx context.Context, jobID string) ([]*models.Photo, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, job_id, type, image_url, created_at
		 FROM photos WHERE job_id = $1 ORDER BY created_at DESC, id DESC`, jobID)
	if err != nil {
		return nil, fmt.Errorf("list photos: %w", err)
	}
	defer rows.Close()

	photos := []*models.Photo{}
	for rows.Next() {
		var p models.Photo
		var kind string
		if err := rows.Scan(&p.ID, &p.JobID, &kind, &p.Path, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan photo: %w", err)
		}
		p.Kind = models.PhotoKind(kind)
		photos = append(photos, &p)
	}
	return photos, rows.Err()
}

// isDuplicateKeyError checks if a pgx error is a unique constraint violation.
func isDuplicateKeyError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505" // unique_violation
	}
	return false
}

// Compile-time check that PostgresStore implements Store.
var _ Store = (*PostgresStore)(nil)
