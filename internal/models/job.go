package models

import "time"

type JobStatus string

const (
	JobQueued     JobStatus = "queued"
	JobRunning    JobStatus = "running"
	JobCompleted  JobStatus = "completed"
	JobFailed     JobStatus = "failed"
	JobDeadLetter JobStatus = "dead_letter"
)

// Job is the persisted record behind the queue service. The row is the
// durable broker: enqueue writes it, the poller claims it, and a dead-letter
// row stays visible to operators instead of being dropped.
type Job struct {
	ID          string     `gorm:"type:varchar(36);primarykey" json:"id"`
	Queue       string     `gorm:"type:varchar(50);not null;index:idx_jobs_claim" json:"queue"`
	Type        string     `gorm:"type:varchar(50);not null" json:"type"`
	Payload     string     `gorm:"type:text;not null" json:"payload"`
	Status      JobStatus  `gorm:"type:varchar(20);not null;default:'queued';index:idx_jobs_claim" json:"status"`
	Priority    int        `gorm:"not null;default:0" json:"priority"`
	Attempts    int        `gorm:"not null;default:0" json:"attempts"`
	MaxAttempts int        `gorm:"not null;default:3" json:"max_attempts"`
	TimeoutSecs int        `gorm:"not null;default:30" json:"timeout_secs"`
	BackoffSecs int        `gorm:"not null;default:5" json:"backoff_secs"`
	RunAt       time.Time  `gorm:"not null;index:idx_jobs_claim" json:"run_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	FinishedAt  *time.Time `json:"finished_at,omitempty"`
	LastError   string     `gorm:"type:text" json:"last_error,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

func (Job) TableName() string {
	return "jobs"
}
