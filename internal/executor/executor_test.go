package executor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/nextlevelbuilder/datapost/internal/store"
	"github.com/nextlevelbuilder/datapost/internal/table"
)

type fakeStore struct {
	jobs    map[string]store.Job
	touched []string
}

func (s *fakeStore) Get(name string) (store.Job, error) {
	j, ok := s.jobs[name]
	if !ok {
		return store.Job{}, fmt.Errorf("%w: %s", store.ErrNotFound, name)
	}
	return j, nil
}

func (s *fakeStore) TouchLastRun(name string, t time.Time) {
	s.touched = append(s.touched, name)
}

type fakeFetcher struct {
	tbl *table.Table
	err error
}

func (f *fakeFetcher) Fetch(ctx context.Context, src store.DataSource) (*table.Table, error) {
	return f.tbl, f.err
}

type fakeRunner struct {
	out *table.Table
	err error
}

func (r *fakeRunner) Run(ctx context.Context, script string, input *table.Table, deadline time.Duration) (*table.Table, error) {
	if r.err != nil {
		return nil, r.err
	}
	if r.out != nil {
		return r.out, nil
	}
	return input, nil
}

type fakeSender struct {
	successes  int
	failures   []string
	successErr error
	failureErr error
}

func (m *fakeSender) DeliverSuccess(ctx context.Context, jobName string, recipients []string, t *table.Table, runTime time.Time) error {
	if m.successErr != nil {
		return m.successErr
	}
	m.successes++
	return nil
}

func (m *fakeSender) DeliverFailure(ctx context.Context, jobName string, recipients []string, errSummary string, runTime time.Time) error {
	if m.failureErr != nil {
		return m.failureErr
	}
	m.failures = append(m.failures, errSummary)
	return nil
}

func sampleTable() *table.Table {
	t := table.New("a")
	t.AppendRow(int64(1))
	return t
}

func sampleJob() store.Job {
	return store.Job{
		Name:       "j",
		Schedule:   "* * * * *",
		Source:     store.DataSource{SourceType: store.SourceAPI, Location: "https://example.com"},
		Transform:  "result = data",
		Recipients: []string{"ops@example.com"},
	}
}

func newHarness() (*fakeStore, *fakeFetcher, *fakeRunner, *fakeSender, *Executor) {
	st := &fakeStore{jobs: map[string]store.Job{"j": sampleJob()}}
	f := &fakeFetcher{tbl: sampleTable()}
	r := &fakeRunner{}
	m := &fakeSender{}
	return st, f, r, m, New(st, f, r, m, time.Second)
}

func TestRunSuccessTouchesLastRun(t *testing.T) {
	st, _, _, m, exec := newHarness()

	if err := exec.Run(context.Background(), "j"); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if m.successes != 1 {
		t.Errorf("success deliveries = %d, want 1", m.successes)
	}
	if len(st.touched) != 1 || st.touched[0] != "j" {
		t.Errorf("touched = %v, want [j]", st.touched)
	}
	if len(m.failures) != 0 {
		t.Errorf("unexpected failure notices: %v", m.failures)
	}
}

func TestRunFetchFailureNotifies(t *testing.T) {
	st, f, _, m, exec := newHarness()
	f.err = errors.New("upstream down")

	err := exec.Run(context.Background(), "j")
	if err == nil {
		t.Fatal("expected error")
	}
	if len(m.failures) != 1 || !strings.Contains(m.failures[0], "upstream down") {
		t.Errorf("failure notices = %v, want the fetch error", m.failures)
	}
	if len(st.touched) != 0 {
		t.Error("last_run must not advance on failure")
	}
}

func TestRunTransformFailureNotifies(t *testing.T) {
	st, _, r, m, exec := newHarness()
	r.err = errors.New("transform failed: boom")

	if err := exec.Run(context.Background(), "j"); err == nil {
		t.Fatal("expected error")
	}
	if len(m.failures) != 1 {
		t.Errorf("failure notices = %d, want 1", len(m.failures))
	}
	if len(st.touched) != 0 {
		t.Error("last_run must not advance on failure")
	}
}

func TestRunDeliveryFailureSkipsLastRun(t *testing.T) {
	st, _, _, m, exec := newHarness()
	m.successErr = errors.New("mailbox unavailable")

	if err := exec.Run(context.Background(), "j"); err == nil {
		t.Fatal("expected error")
	}
	if len(st.touched) != 0 {
		t.Error("last_run must not advance when results were not delivered")
	}
	// The result email failing does not generate a failure notice to the
	// same dead mailbox.
	if len(m.failures) != 0 {
		t.Errorf("unexpected failure notices: %v", m.failures)
	}
}

func TestRunFailureNoticeBestEffort(t *testing.T) {
	_, f, _, m, exec := newHarness()
	f.err = errors.New("upstream down")
	m.failureErr = errors.New("notice bounced")

	// The run error is surfaced even when the notice itself fails.
	err := exec.Run(context.Background(), "j")
	if err == nil || !strings.Contains(err.Error(), "upstream down") {
		t.Errorf("err = %v, want the original run error", err)
	}
}

func TestRunDeletedJobSilent(t *testing.T) {
	_, _, _, m, exec := newHarness()

	if err := exec.Run(context.Background(), "gone"); err != nil {
		t.Errorf("deleted job should exit silently, got %v", err)
	}
	if len(m.failures) != 0 || m.successes != 0 {
		t.Error("deleted job must not send email")
	}
}

func TestRunCancelledNoNotice(t *testing.T) {
	st, f, _, m, exec := newHarness()
	ctx, cancel := context.WithCancel(context.Background())
	f.err = errors.New("interrupted")
	cancel()

	err := exec.Run(ctx, "j")
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
	if len(m.failures) != 0 {
		t.Error("cancelled run must not send a failure notice")
	}
	if len(st.touched) != 0 {
		t.Error("cancelled run must not advance last_run")
	}
}

func TestPreview(t *testing.T) {
	st, _, r, m, exec := newHarness()
	out := table.New("x")
	out.AppendRow("y")
	r.out = out

	csv, err := exec.Preview(context.Background(), sampleJob())
	if err != nil {
		t.Fatalf("Preview: %v", err)
	}
	if string(csv) != "x\ny\n" {
		t.Errorf("csv = %q", csv)
	}
	if m.successes != 0 || len(m.failures) != 0 {
		t.Error("Preview must not send email")
	}
	if len(st.touched) != 0 {
		t.Error("Preview must not advance last_run")
	}
}

func TestPreviewError(t *testing.T) {
	_, f, _, _, exec := newHarness()
	f.err = errors.New("upstream down")

	if _, err := exec.Preview(context.Background(), sampleJob()); err == nil {
		t.Fatal("expected error")
	}
}
