// Package store persists job definitions as a single JSON document on disk.
// It is the single source of truth for registered jobs across restarts.
package store

import (
	"errors"
	"time"
)

// Source types for job input data.
const (
	SourceAPI  = "api"
	SourceFile = "file"
)

// File types for file sources.
const (
	FileCSV  = "csv"
	FileJSON = "json"
)

var (
	// ErrNameInUse is returned by Put when a job with the same name exists.
	ErrNameInUse = errors.New("job name already in use")

	// ErrNotFound is returned when a job does not exist.
	ErrNotFound = errors.New("job not found")
)

// DataSource describes where a job's input data comes from.
type DataSource struct {
	SourceType string `json:"source_type"`         // "api" or "file"
	Location   string `json:"location"`            // URL or file path
	FileType   string `json:"file_type,omitempty"` // "csv" or "json", file sources only
}

// Job is the persisted configuration of one scheduled task. The JSON tags
// are the wire schema; the on-disk document stores them verbatim.
type Job struct {
	Name       string     `json:"job_name"`
	Schedule   string     `json:"schedule_time"` // five-field cron expression
	Source     DataSource `json:"data_source"`
	Transform  string     `json:"processing_script"`
	Recipients []string   `json:"consumer_emails"`
	CreatedAt  time.Time  `json:"created_at"`
	LastRun    *time.Time `json:"last_run,omitempty"`
}

// Clone returns a deep copy, safe to hand to an executor while the store
// row continues to change.
func (j Job) Clone() Job {
	out := j
	out.Recipients = append([]string(nil), j.Recipients...)
	if j.LastRun != nil {
		t := *j.LastRun
		out.LastRun = &t
	}
	return out
}
