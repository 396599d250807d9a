// Package executor orchestrates one run of one job: fetch, transform,
// deliver, record. last_run advances only after the success email has been
// accepted by the SMTP server.
package executor

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/nextlevelbuilder/datapost/internal/store"
	"github.com/nextlevelbuilder/datapost/internal/table"
)

// JobStore is the slice of the store the executor needs.
type JobStore interface {
	Get(name string) (store.Job, error)
	TouchLastRun(name string, t time.Time)
}

// DataFetcher loads the job's input table.
type DataFetcher interface {
	Fetch(ctx context.Context, src store.DataSource) (*table.Table, error)
}

// TransformRunner evaluates the job's transform under a deadline.
type TransformRunner interface {
	Run(ctx context.Context, script string, input *table.Table, deadline time.Duration) (*table.Table, error)
}

// Sender delivers results and failure notices.
type Sender interface {
	DeliverSuccess(ctx context.Context, jobName string, recipients []string, t *table.Table, runTime time.Time) error
	DeliverFailure(ctx context.Context, jobName string, recipients []string, errSummary string, runTime time.Time) error
}

// Executor runs jobs end to end.
type Executor struct {
	store         JobStore
	fetcher       DataFetcher
	transformer   TransformRunner
	mailer        Sender
	scriptTimeout time.Duration
}

// New assembles an Executor.
func New(st JobStore, f DataFetcher, tr TransformRunner, m Sender, scriptTimeout time.Duration) *Executor {
	return &Executor{
		store:         st,
		fetcher:       f,
		transformer:   tr,
		mailer:        m,
		scriptTimeout: scriptTimeout,
	}
}

// Run executes one complete run of the named job. The job is snapshotted
// from the store at entry; a job deleted since its fire exits silently.
// Failures short of delivered results trigger a best-effort failure notice
// and leave last_run untouched. A cancelled context unwinds without a
// failure notice.
func (e *Executor) Run(ctx context.Context, name string) error {
	job, err := e.store.Get(name)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			slog.Debug("job deleted before run started", "job", name)
			return nil
		}
		slog.Error("failed to snapshot job", "job", name, "error", err)
		return err
	}

	slog.Info("starting job run", "job", name, "source", job.Source.SourceType)
	runTime := time.Now()

	result, err := e.execute(ctx, job)
	if err != nil {
		if ctx.Err() != nil {
			slog.Info("job run cancelled", "job", name)
			return ctx.Err()
		}
		slog.Error("job run failed", "job", name, "error", err)
		e.notifyFailure(ctx, job, err, runTime)
		return err
	}

	if err := e.mailer.DeliverSuccess(ctx, job.Name, job.Recipients, result, runTime); err != nil {
		if ctx.Err() != nil {
			slog.Info("job run cancelled during delivery", "job", name)
			return ctx.Err()
		}
		// The transform ran but results were not delivered: the run is a
		// failure and last_run must not advance.
		slog.Error("result delivery failed", "job", name, "error", err)
		return err
	}

	e.store.TouchLastRun(job.Name, time.Now())
	slog.Info("job run completed", "job", name, "rows", result.NumRows())
	return nil
}

// Preview performs a one-shot fetch + transform for the given job and
// returns the CSV serialization, without sending email or touching
// last_run. Used by the synchronous test endpoint.
func (e *Executor) Preview(ctx context.Context, job store.Job) ([]byte, error) {
	result, err := e.execute(ctx, job)
	if err != nil {
		return nil, err
	}
	return result.ToCSV()
}

// execute runs the fetch and transform stages.
func (e *Executor) execute(ctx context.Context, job store.Job) (*table.Table, error) {
	input, err := e.fetcher.Fetch(ctx, job.Source)
	if err != nil {
		return nil, err
	}
	slog.Debug("data fetched", "job", job.Name, "rows", input.NumRows())

	result, err := e.transformer.Run(ctx, job.Transform, input, e.scriptTimeout)
	if err != nil {
		return nil, err
	}
	slog.Debug("transform finished", "job", job.Name, "rows", result.NumRows())
	return result, nil
}

// notifyFailure sends a failure notice. A notice that itself fails to
// deliver is logged and abandoned.
func (e *Executor) notifyFailure(ctx context.Context, job store.Job, runErr error, runTime time.Time) {
	if err := e.mailer.DeliverFailure(ctx, job.Name, job.Recipients, runErr.Error(), runTime); err != nil {
		slog.Error("failed to deliver failure notice", "job", job.Name, "error", err)
		return
	}
	slog.Info("failure notice sent", "job", job.Name)
}
