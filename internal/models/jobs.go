package models

import "time"

// Job represents a unit of work in the job queue.
// A running job is owned by LeaseOwner until LeaseExpiresAt; an expired lease
// makes the job eligible for stale recovery.
type Job struct {
	ID             string    `json:"id"`
	JobType        string    `json:"job_type"`
	Target         string    `json:"target"` // account id for syncs, scope for recalculations
	Priority       int       `json:"priority"`
	Status         string    `json:"status"` // "pending", "running", "completed", "failed", "cancelled"
	CreatedAt      time.Time `json:"created_at"`
	RunAfter       time.Time `json:"run_after"`
	StartedAt      time.Time `json:"started_at"`
	CompletedAt    time.Time `json:"completed_at"`
	LeaseOwner     string    `json:"lease_owner,omitempty"`
	LeaseExpiresAt time.Time `json:"lease_expires_at"`
	Error          string    `json:"error,omitempty"`
	Attempts       int       `json:"attempts"`
	MaxAttempts    int       `json:"max_attempts"`
	DurationMS     int64     `json:"duration_ms"`
}

// Job type constants
const (
	JobTypeExchangeSync         = "exchange_sync"
	JobTypeRecalculateCostBasis = "recalculate_cost_basis"
)

// Job status constants
const (
	JobStatusPending   = "pending"
	JobStatusRunning   = "running"
	JobStatusCompleted = "completed"
	JobStatusFailed    = "failed"
	JobStatusCancelled = "cancelled"
)

// Default priorities (higher = processed first)
const (
	PriorityExchangeSync         = 10
	PriorityRecalculateCostBasis = 5
	PriorityManual               = 15 // user-triggered work jumps the queue
)

// DefaultPriority returns the default priority for a job type.
func DefaultPriority(jobType string) int {
	switch jobType {
	case JobTypeExchangeSync:
		return PriorityExchangeSync
	case JobTypeRecalculateCostBasis:
		return PriorityRecalculateCostBasis
	default:
		return 0
	}
}

// AttemptsExhausted reports whether the job has been claimed max_attempts times.
func (j *Job) AttemptsExhausted() bool {
	return j.MaxAttempts > 0 && j.Attempts >= j.MaxAttempts
}

// LeaseExpired reports whether a running job's lease has lapsed at now.
func (j *Job) LeaseExpired(now time.Time) bool {
	return j.Status == JobStatusRunning && !j.LeaseExpiresAt.IsZero() && now.After(j.LeaseExpiresAt)
}

// JobEvent is emitted when job state changes.
type JobEvent struct {
	Type      string    `json:"type"` // "job_queued", "job_started", "job_completed", "job_failed", "job_retry"
	Job       *Job      `json:"job"`
	Timestamp time.Time `json:"timestamp"`
	QueueSize int       `json:"queue_size"` // Current pending count
}
