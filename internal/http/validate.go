package http

import (
	"fmt"
	"net/mail"
	"strings"

	"github.com/nextlevelbuilder/datapost/internal/scheduler"
	"github.com/nextlevelbuilder/datapost/internal/store"
)

const maxJobNameLength = 100

// jobCreateRequest is the wire schema for create and update requests.
type jobCreateRequest struct {
	JobName          string           `json:"job_name"`
	ScheduleTime     string           `json:"schedule_time"`
	DataSource       store.DataSource `json:"data_source"`
	ProcessingScript string           `json:"processing_script"`
	ConsumerEmails   []string         `json:"consumer_emails"`
}

// validate checks the request and returns a caller-facing message on the
// first violation. The job name is trimmed in place.
func (r *jobCreateRequest) validate() error {
	r.JobName = strings.TrimSpace(r.JobName)
	if r.JobName == "" {
		return fmt.Errorf("job_name cannot be empty")
	}
	if len(r.JobName) > maxJobNameLength {
		return fmt.Errorf("job_name cannot exceed %d characters", maxJobNameLength)
	}

	if err := scheduler.ValidateCron(r.ScheduleTime); err != nil {
		return fmt.Errorf("invalid schedule_time: %w", err)
	}

	switch r.DataSource.SourceType {
	case store.SourceAPI:
		if r.DataSource.FileType != "" {
			return fmt.Errorf("file_type must not be set when source_type is %q", store.SourceAPI)
		}
	case store.SourceFile:
		if r.DataSource.FileType != store.FileCSV && r.DataSource.FileType != store.FileJSON {
			return fmt.Errorf("file_type is required for file sources and must be %q or %q", store.FileCSV, store.FileJSON)
		}
	default:
		return fmt.Errorf("source_type must be %q or %q", store.SourceAPI, store.SourceFile)
	}
	if r.DataSource.Location == "" {
		return fmt.Errorf("data_source.location cannot be empty")
	}

	if strings.TrimSpace(r.ProcessingScript) == "" {
		return fmt.Errorf("processing_script cannot be empty")
	}

	if len(r.ConsumerEmails) == 0 {
		return fmt.Errorf("at least one consumer email is required")
	}
	for _, addr := range r.ConsumerEmails {
		if _, err := mail.ParseAddress(addr); err != nil {
			return fmt.Errorf("invalid email address %q", addr)
		}
	}
	return nil
}

// job converts a validated request into a store row.
func (r *jobCreateRequest) job() store.Job {
	return store.Job{
		Name:       r.JobName,
		Schedule:   r.ScheduleTime,
		Source:     r.DataSource,
		Transform:  r.ProcessingScript,
		Recipients: r.ConsumerEmails,
	}
}
