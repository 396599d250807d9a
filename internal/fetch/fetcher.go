// Package fetch obtains a job's input table from an HTTP endpoint or a
// local file. Transient failures are retried with exponential backoff;
// parse errors and HTTP 4xx are permanent.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/nextlevelbuilder/datapost/internal/store"
	"github.com/nextlevelbuilder/datapost/internal/table"
)

const (
	defaultTimeout   = 30 * time.Second
	defaultAttempts  = 3
	defaultBaseDelay = 1 * time.Second
	defaultMaxDelay  = 30 * time.Second

	maxResponseBytes = 64 << 20 // 64 MB cap on fetched bodies
)

// Error is a fetch failure. Transient errors were retried before this was
// returned; permanent errors were not.
type Error struct {
	Transient bool
	Msg       string
	Err       error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *Error) Unwrap() error { return e.Err }

func transient(msg string, err error) *Error { return &Error{Transient: true, Msg: msg, Err: err} }
func permanent(msg string, err error) *Error { return &Error{Transient: false, Msg: msg, Err: err} }

// Fetcher loads tabular input data for job runs.
type Fetcher struct {
	client    *http.Client
	attempts  int
	baseDelay time.Duration
	maxDelay  time.Duration
}

// Option configures a Fetcher.
type Option func(*Fetcher)

// WithTimeout sets the per-request HTTP deadline.
func WithTimeout(d time.Duration) Option {
	return func(f *Fetcher) { f.client.Timeout = d }
}

// WithRetry overrides the attempt count and backoff base delay.
func WithRetry(attempts int, baseDelay time.Duration) Option {
	return func(f *Fetcher) {
		f.attempts = attempts
		f.baseDelay = baseDelay
	}
}

// New creates a Fetcher with a 30-second request deadline and three
// attempts with doubling backoff.
func New(opts ...Option) *Fetcher {
	f := &Fetcher{
		client:    &http.Client{Timeout: defaultTimeout},
		attempts:  defaultAttempts,
		baseDelay: defaultBaseDelay,
		maxDelay:  defaultMaxDelay,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Fetch loads the table described by src, retrying transient failures up to
// the configured attempt count. Cancellation of ctx unwinds immediately
// with the context's error.
func (f *Fetcher) Fetch(ctx context.Context, src store.DataSource) (*table.Table, error) {
	var lastErr error
	for attempt := 0; attempt < f.attempts; attempt++ {
		if attempt > 0 {
			delay := backoffWithJitter(f.baseDelay, f.maxDelay, attempt-1)
			slog.Info("retrying fetch", "source", src.Location, "attempt", attempt+1, "delay", delay)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		}

		t, err := f.fetchOnce(ctx, src)
		if err == nil {
			return t, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		var fe *Error
		if errors.As(err, &fe) && !fe.Transient {
			return nil, err
		}
		lastErr = err
		slog.Warn("fetch attempt failed", "source", src.Location, "attempt", attempt+1, "error", err)
	}
	return nil, transient(fmt.Sprintf("fetch failed after %d attempts", f.attempts), lastErr)
}

func (f *Fetcher) fetchOnce(ctx context.Context, src store.DataSource) (*table.Table, error) {
	switch src.SourceType {
	case store.SourceAPI:
		return f.fetchAPI(ctx, src.Location)
	case store.SourceFile:
		return fetchFile(src.Location, src.FileType)
	default:
		return nil, permanent(fmt.Sprintf("unsupported source type %q", src.SourceType), nil)
	}
}

func (f *Fetcher) fetchAPI(ctx context.Context, rawURL string) (*table.Table, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, permanent("invalid URL", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, permanent(fmt.Sprintf("unsupported URL scheme %q", parsed.Scheme), nil)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, permanent("build request", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, transient("request failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := fmt.Sprintf("unexpected status %d from %s", resp.StatusCode, rawURL)
		if resp.StatusCode >= 400 && resp.StatusCode < 500 {
			return nil, permanent(msg, nil)
		}
		return nil, transient(msg, nil)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, transient("read response body", err)
	}

	t, err := table.FromJSON(body)
	if err != nil {
		return nil, permanent("invalid JSON response", err)
	}
	slog.Debug("fetched data from API", "url", rawURL, "rows", t.NumRows())
	return t, nil
}

func fetchFile(path, fileType string) (*table.Table, error) {
	// Canonical upload locations (/data/uploads/...) are resolved relative
	// to the project root, not the filesystem root.
	if strings.HasPrefix(path, "/data/") {
		path = "." + path
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, permanent(fmt.Sprintf("file not found: %s", path), nil)
		}
		// Other I/O errors (EBUSY, EAGAIN, NFS hiccups) may clear up.
		return nil, transient("read file", err)
	}

	var t *table.Table
	switch fileType {
	case store.FileCSV:
		t, err = table.FromCSV(data)
	case store.FileJSON:
		t, err = table.FromJSON(data)
	default:
		return nil, permanent(fmt.Sprintf("unsupported file type %q", fileType), nil)
	}
	if err != nil {
		return nil, permanent(fmt.Sprintf("parse %s file %s", fileType, path), err)
	}
	slog.Debug("read data from file", "path", path, "rows", t.NumRows())
	return t, nil
}

// backoffWithJitter computes delay = min(base * 2^attempt, max) + jitter(±25%).
func backoffWithJitter(base, max time.Duration, attempt int) time.Duration {
	delay := base << uint(attempt)
	if delay > max {
		delay = max
	}
	quarter := delay / 4
	if quarter > 0 {
		jitter := time.Duration(rand.Int64N(int64(quarter*2))) - quarter
		delay += jitter
	}
	return delay
}
