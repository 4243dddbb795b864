package lifecycle

import (
	"time"

	"github.com/kiranshivaraju/cleanops/internal/jobs"
	"github.com/kiranshivaraju/cleanops/pkg/models"
)

// Snapshot is one in-memory view of a job. Operations never modify a
// snapshot in place; they return a new one.
type Snapshot struct {
	Job      *models.Job    `json:"job"`
	Tasks    []*models.Task `json:"tasks"`
	Evidence jobs.Evidence  `json:"evidence"`
}

// Eligibility is the gate for completing a job.
type Eligibility struct {
	CompletedTasks int  `json:"completed_tasks"`
	TotalTasks     int  `json:"total_tasks"`
	HasBefore      bool `json:"has_before"`
	HasAfter       bool `json:"has_after"`
	Eligible       bool `json:"eligible"`
}

// Eligibility is recomputed from the snapshot on every call.
func (s Snapshot) Eligibility() Eligibility {
	e := Eligibility{
		TotalTasks: len(s.Tasks),
		HasBefore:  s.Evidence.Before != nil,
		HasAfter:   s.Evidence.After != nil,
	}
	for _, t := range s.Tasks {
		if t.IsCompleted {
			e.CompletedTasks++
		}
	}
	e.Eligible = e.CompletedTasks == e.TotalTasks && e.HasBefore && e.HasAfter
	return e
}

func (s Snapshot) task(id string) (*models.Task, bool) {
	for _, t := range s.Tasks {
		if t.ID == id {
			return t, true
		}
	}
	return nil, false
}

// withTask returns a copy of s in which task id is replaced by repl.
func (s Snapshot) withTask(id string, repl *models.Task) Snapshot {
	tasks := make([]*models.Task, len(s.Tasks))
	for i, t := range s.Tasks {
		if t.ID == id {
			tasks[i] = repl
		} else {
			tasks[i] = t
		}
	}
	s.Tasks = tasks
	return s
}

func (s Snapshot) withCompletion(id string, completed bool) Snapshot {
	t, ok := s.task(id)
	if !ok {
		return s
	}
	flipped := *t
	flipped.IsCompleted = completed
	return s.withTask(id, &flipped)
}

// Summary is the job confirmation view.
type Summary struct {
	JobID          string           `json:"job_id"`
	Status         models.JobStatus `json:"status"`
	Address        *string          `json:"address,omitempty"`
	Notes          *string          `json:"notes,omitempty"`
	Date           *time.Time       `json:"date,omitempty"`
	CheckInAt      *time.Time       `json:"check_in_at,omitempty"`
	CheckOutAt     *time.Time       `json:"check_out_at,omitempty"`
	Duration       string           `json:"duration,omitempty"`
	TasksCompleted int              `json:"tasks_completed"`
	TasksTotal     int              `json:"tasks_total"`
	BeforePhoto    *models.Photo    `json:"before_photo,omitempty"`
	AfterPhoto     *models.Photo    `json:"after_photo,omitempty"`
}

// Summarize builds the confirmation view of s.
func Summarize(s Snapshot) Summary {
	e := s.Eligibility()
	sum := Summary{
		JobID:          s.Job.ID,
		Status:         s.Job.Status,
		Address:        s.Job.Address,
		Notes:          s.Job.Notes,
		Date:           s.Job.Date,
		CheckInAt:      s.Job.CheckInAt,
		CheckOutAt:     s.Job.CheckOutAt,
		TasksCompleted: e.CompletedTasks,
		TasksTotal:     e.TotalTasks,
		BeforePhoto:    s.Evidence.Before,
		AfterPhoto:     s.Evidence.After,
	}
	if d, ok := Duration(s.Job); ok {
		sum.Duration = FormatDuration(d)
	}
	return sum
}
