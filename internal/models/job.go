package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// JobStatus is the queue state of a background job.
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// Job types processed by the worker.
const (
	// JobCreditAccrual accrues one billing period of credits for one user.
	// Payload: user_id, period.
	JobCreditAccrual = "credit_accrual"
	// JobPerkRefresh re-evaluates perk statuses for one user after a
	// catalog change. Payload: user_id.
	JobPerkRefresh = "perk_refresh"
)

// Job is a unit of background work stored in the jobs table.
type Job struct {
	ID          int64      `json:"id"`
	JobType     string     `json:"job_type"`
	DedupeKey   string     `json:"dedupe_key,omitempty"`
	Payload     JSONB      `json:"payload"`
	Status      JobStatus  `json:"status"`
	Attempts    int        `json:"attempts"`
	MaxAttempts int        `json:"max_attempts"`
	LastError   *string    `json:"last_error,omitempty"`
	RetryAfter  *time.Time `json:"retry_after,omitempty"`
	WorkerID    *string    `json:"worker_id,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// JobStats counts jobs by status.
type JobStats struct {
	Pending    int64 `json:"pending"`
	Processing int64 `json:"processing"`
	Completed  int64 `json:"completed"`
	Failed     int64 `json:"failed"`
	Total      int64 `json:"total"`
}

// JSONB is a map stored in a Postgres JSONB column.
type JSONB map[string]any

// Value implements driver.Valuer.
func (j JSONB) Value() (driver.Value, error) {
	if j == nil {
		return json.Marshal(map[string]any{})
	}
	return json.Marshal(j)
}

// Scan implements sql.Scanner.
func (j *JSONB) Scan(value any) error {
	if value == nil {
		*j = JSONB{}
		return nil
	}

	var raw []byte
	switch v := value.(type) {
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("cannot scan type %T into JSONB", value)
	}

	return json.Unmarshal(raw, j)
}

// String returns the string stored under key, or "".
func (j JSONB) String(key string) string {
	v, _ := j[key].(string)
	return v
}

// Validate checks the job before it is enqueued and fills defaults.
func (j *Job) Validate() error {
	if j.JobType == "" {
		return fmt.Errorf("job type is required")
	}
	if j.MaxAttempts == 0 {
		j.MaxAttempts = 3
	}
	if j.MaxAttempts < 1 {
		return fmt.Errorf("max_attempts must be at least 1")
	}
	return nil
}

// CanRetry reports whether a failed attempt should be scheduled again.
func (j *Job) CanRetry() bool {
	return j.Attempts < j.MaxAttempts
}
