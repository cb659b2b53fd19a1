package domain

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// Job represents a unit of asynchronous work tracked in the jobs table
type Job struct {
	ID        string    `db:"id" json:"id"`
	ProjectID *string   `db:"project_id" json:"project_id"`
	CreatedBy *string   `db:"created_by" json:"created_by"`
	Type      JobType   `db:"type" json:"type"`
	Status    JobStatus `db:"status" json:"status"`
	Progress  float64   `db:"progress" json:"progress"`
	Payload   Payload   `db:"payload" json:"payload"`
	Error     *string   `db:"error" json:"error"`
	LogsPath  *string   `db:"logs_path" json:"logs_path"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// Payload is the opaque key-value map stored as jsonb on a job
type Payload map[string]any

// PackageID returns the packageId carried by render_package jobs
func (p Payload) PackageID() (string, bool) {
	if p == nil {
		return "", false
	}
	v, ok := p[PayloadKeyPackageID].(string)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

// Value implements driver.Valuer
func (p Payload) Value() (driver.Value, error) {
	if p == nil {
		return []byte("{}"), nil
	}
	b, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}
	return b, nil
}

// Scan implements sql.Scanner
func (p *Payload) Scan(src any) error {
	var data []byte
	switch v := src.(type) {
	case nil:
		*p = Payload{}
		return nil
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("unsupported payload type %T", src)
	}

	if len(data) == 0 {
		*p = Payload{}
		return nil
	}

	out := Payload{}
	if err := json.Unmarshal(data, &out); err != nil {
		return fmt.Errorf("failed to parse payload: %w", err)
	}
	*p = out
	return nil
}

// JobMessage is the wire format of job lifecycle events on the event bus
type JobMessage struct {
	Event      string    `json:"event"`
	JobID      string    `json:"job_id"`
	JobType    JobType   `json:"job_type,omitempty"`
	PackageID  string    `json:"package_id,omitempty"`
	Status     JobStatus `json:"status,omitempty"`
	Progress   float64   `json:"progress"`
	Error      string    `json:"error,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

// Job event names
const (
	EventJobEnqueued  = "job.enqueued"
	EventJobClaimed   = "job.claimed"
	EventJobProgress  = "job.progress"
	EventJobSucceeded = "job.succeeded"
	EventJobFailed    = "job.failed"
)
