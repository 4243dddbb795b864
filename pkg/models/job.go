// Package models contains shared data models used across the cleanops codebase.
package models

import (
	"fmt"
	"time"
)

// JobStatus is the lifecycle state of a job. Exactly one holds at any time.
type JobStatus string

const (
	JobStatusScheduled  JobStatus = "scheduled"
	JobStatusInProgress JobStatus = "in_progress"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusCancelled  JobStatus = "cancelled"
)

// Valid reports whether s is one of the known statuses.
func (s JobStatus) Valid() bool {
	switch s {
	case JobStatusScheduled, JobStatusInProgress, JobStatusCompleted, JobStatusCancelled:
		return true
	}
	return false
}

// IsTerminal reports whether no further cleaner action is possible.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusCancelled
}

// UpcomingStatuses are the statuses shown in a cleaner's job list.
var UpcomingStatuses = []JobStatus{JobStatusScheduled, JobStatusInProgress}

// HistoryStatuses are the statuses shown in a cleaner's past jobs.
var HistoryStatuses = []JobStatus{JobStatusCompleted, JobStatusCancelled}

// Job is a scheduled cleaning engagement. Jobs are created by a scheduling actor
// outside this service; only the lifecycle manager writes Status, CheckInAt and CheckOutAt.
type Job struct {
	ID         string     `db:"id"           json:"id"`
	ClientID   *string    `db:"client_id"    json:"client_id,omitempty"`
	CleanerID  *string    `db:"cleaner_id"   json:"cleaner_id,omitempty"`
	Status     JobStatus  `db:"status"       json:"status"`
	Date       *time.Time `db:"date"         json:"date,omitempty"`
	StartTime  *string    `db:"start_time"   json:"start_time,omitempty"` // HH:MM:SS
	EndTime    *string    `db:"end_time"     json:"end_time,omitempty"`   // HH:MM:SS
	Address    *string    `db:"address"      json:"address,omitempty"`
	Notes      *string    `db:"notes"        json:"notes,omitempty"`
	CreatedBy  *string    `db:"created_by"   json:"created_by,omitempty"`
	CreatedAt  *time.Time `db:"created_at"   json:"created_at,omitempty"`
	CheckInAt  *time.Time `db:"check_in_at"  json:"check_in_at,omitempty"`
	CheckOutAt *time.Time `db:"check_out_at" json:"check_out_at,omitempty"`
}

// CheckTimingInvariant returns an error when the check-in/check-out timestamps
// disagree with the job status.
func (j *Job) CheckTimingInvariant() error {
	checkedIn := j.Status == JobStatusInProgress || j.Status == JobStatusCompleted
	if (j.CheckInAt != nil) != checkedIn {
		return fmt.Errorf("job %s: check_in_at set=%t with status %s", j.ID, j.CheckInAt != nil, j.Status)
	}
	if j.CheckOutAt != nil && j.Status != JobStatusCompleted {
		return fmt.Errorf("job %s: check_out_at set with status %s", j.ID, j.Status)
	}
	if j.CheckInAt != nil && j.CheckOutAt != nil && j.CheckOutAt.Before(*j.CheckInAt) {
		return fmt.Errorf("job %s: check_out_at before check_in_at", j.ID)
	}
	return nil
}

// Task is one checklist item of a job. Membership is fixed; only IsCompleted changes here.
type Task struct {
	ID          string     `db:"id"           json:"id"`
	JobID       string     `db:"job_id"       json:"job_id"`
	Description string     `db:"description"  json:"description"`
	IsCompleted bool       `db:"is_completed" json:"is_completed"`
	CreatedAt   *time.Time `db:"created_at"   json:"created_at,omitempty"`
}
