// Package scheduler owns the mapping from job name to next-fire time and
// triggers runs at each cron instant. At most one run per job is in flight
// (max_instances=1); a fire arriving while the prior run is active is
// dropped and logged as a coalesce. Distinct jobs run concurrently on a
// bounded worker pool.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/adhocore/gronx"

	"github.com/nextlevelbuilder/datapost/internal/store"
)

const defaultTick = time.Second

// RunFunc executes one run of the named job. The context is cancelled when
// in-flight runs are abandoned at shutdown.
type RunFunc func(ctx context.Context, name string)

// Lister is the store slice needed to load schedules at boot.
type Lister interface {
	List() []store.Job
}

type entry struct {
	spec string
	next time.Time
}

// Scheduler maintains the per-job timer table and the execution gate.
type Scheduler struct {
	run  RunFunc
	pool *Pool
	tick time.Duration

	mu       sync.Mutex
	entries  map[string]*entry
	inflight map[string]bool
	running  bool
	stopCh   chan struct{}
	loopDone chan struct{}

	runsWG     sync.WaitGroup
	runCtx     context.Context
	cancelRuns context.CancelFunc
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithTick overrides the timer resolution (tests use a short tick).
func WithTick(d time.Duration) Option {
	return func(s *Scheduler) { s.tick = d }
}

// New creates a Scheduler executing runs on a pool of workers goroutines.
func New(workers, queueCap int, run RunFunc, opts ...Option) *Scheduler {
	s := &Scheduler{
		run:      run,
		pool:     NewPool(workers, queueCap),
		tick:     defaultTick,
		entries:  make(map[string]*entry),
		inflight: make(map[string]bool),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register parses the job's cron expression and arms a timer, replacing
// any prior entry with the same name. The next fire is the smallest
// instant strictly after now that matches the expression.
func (s *Scheduler) Register(job store.Job) error {
	if err := ValidateCron(job.Schedule); err != nil {
		return err
	}
	next, err := gronx.NextTickAfter(job.Schedule, time.Now(), false)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.entries[job.Name] = &entry{spec: job.Schedule, next: next}
	s.mu.Unlock()

	slog.Info("job scheduled", "job", job.Name, "schedule", job.Schedule, "next", next)
	return nil
}

// Unregister removes the job's timer. Idempotent; an in-flight run is left
// to complete against the snapshot it already took.
func (s *Scheduler) Unregister(name string) {
	s.mu.Lock()
	_, existed := s.entries[name]
	delete(s.entries, name)
	s.mu.Unlock()

	if existed {
		slog.Info("job unscheduled", "job", name)
	}
}

// Names returns the names of all armed entries.
func (s *Scheduler) Names() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.entries))
	for name := range s.entries {
		names = append(names, name)
	}
	return names
}

// LoadAll registers every job in the store. Individual failures are logged
// and skipped so one bad row cannot keep the service down.
func (s *Scheduler) LoadAll(st Lister) {
	jobs := st.List()
	registered := 0
	for _, job := range jobs {
		if err := s.Register(job); err != nil {
			slog.Error("failed to schedule persisted job", "job", job.Name, "error", err)
			continue
		}
		registered++
	}
	slog.Info("persisted jobs loaded", "registered", registered, "total", len(jobs))
}

// TryAcquire claims the single run slot for name. Returns false when a run
// is already in flight. Callers that acquire must Release.
func (s *Scheduler) TryAcquire(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inflight[name] {
		return false
	}
	s.inflight[name] = true
	return true
}

// Release frees the run slot for name.
func (s *Scheduler) Release(name string) {
	s.mu.Lock()
	delete(s.inflight, name)
	s.mu.Unlock()
}

// Start launches the timer loop.
func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.running = true
	s.stopCh = make(chan struct{})
	s.loopDone = make(chan struct{})
	s.runCtx, s.cancelRuns = context.WithCancel(context.Background())

	go s.loop(s.stopCh, s.loopDone)
	slog.Info("scheduler started", "jobs", len(s.entries))
}

// Stop ceases scheduling new runs and waits up to timeout for in-flight
// runs to finish. Runs still active at the deadline are abandoned: their
// context is cancelled and their partial work is not committed.
func (s *Scheduler) Stop(timeout time.Duration) {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stopCh)
	s.mu.Unlock()

	<-s.loopDone

	done := make(chan struct{})
	go func() {
		s.runsWG.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(timeout):
		slog.Warn("shutdown timeout reached, abandoning in-flight runs")
	}
	s.cancelRuns()
	s.pool.Stop()
	slog.Info("scheduler stopped")
}

func (s *Scheduler) loop(stopCh, loopDone chan struct{}) {
	defer close(loopDone)
	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			s.fireDue()
		}
	}
}

// fireDue scans the timer table, advances next-fire times, and submits due
// jobs. Fires that land while the service was down are skipped implicitly:
// the advance is computed from now, never replayed.
func (s *Scheduler) fireDue() {
	s.mu.Lock()
	now := time.Now()
	var due []string
	for name, e := range s.entries {
		if e.next.IsZero() || e.next.After(now) {
			continue
		}
		next, err := gronx.NextTickAfter(e.spec, now, false)
		if err != nil {
			// The expression was validated at Register, so this is a
			// transient evaluation failure. Leave next in the past and
			// retry on the following tick instead of disarming the entry.
			slog.Error("failed to compute next fire, retrying next tick", "job", name, "schedule", e.spec, "error", err)
			continue
		}
		e.next = next
		due = append(due, name)
	}

	for _, name := range due {
		if s.inflight[name] {
			slog.Info("fire coalesced, previous run still active", "job", name)
			continue
		}
		s.inflight[name] = true
		s.runsWG.Add(1)

		name := name
		err := s.pool.Submit(func() {
			defer s.runsWG.Done()
			defer s.Release(name)
			s.run(s.runCtx, name)
		})
		if err != nil {
			delete(s.inflight, name)
			s.runsWG.Done()
			slog.Warn("fire dropped", "job", name, "error", err)
		}
	}
	s.mu.Unlock()
}
