package store

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// FileStore is a durable name -> Job mapping backed by one JSON array
// document. Writers within the process are serialized by a single mutex;
// every mutation rewrites the document atomically (temp file, fsync,
// rename).
type FileStore struct {
	path string

	mu   sync.Mutex
	jobs []Job
}

// Open loads the store at path, creating an empty one if the file does not
// exist. A corrupt document is reported and replaced with an empty set; the
// service must come up regardless.
func Open(path string) (*FileStore, error) {
	fs := &FileStore{path: path}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fs, nil
		}
		return nil, fmt.Errorf("read job store: %w", err)
	}

	if err := json.Unmarshal(data, &fs.jobs); err != nil {
		slog.Warn("job store is corrupt, starting with an empty set", "path", path, "error", err)
		fs.jobs = nil
	}
	return fs, nil
}

// Path returns the on-disk location of the store document.
func (s *FileStore) Path() string { return s.path }

// Put inserts a new job. Fails with ErrNameInUse if the name exists.
func (s *FileStore) Put(job Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.indexOf(job.Name) >= 0 {
		return fmt.Errorf("%w: %s", ErrNameInUse, job.Name)
	}
	s.jobs = append(s.jobs, job.Clone())
	if err := s.saveLocked(); err != nil {
		s.jobs = s.jobs[:len(s.jobs)-1]
		return err
	}
	slog.Info("job stored", "job", job.Name)
	return nil
}

// Replace overwrites an existing job. created_at is preserved from the
// prior row and last_run is not cleared.
func (s *FileStore) Replace(name string, job Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.indexOf(name)
	if i < 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	prev := s.jobs[i]
	next := job.Clone()
	next.Name = name
	next.CreatedAt = prev.CreatedAt
	next.LastRun = prev.LastRun

	s.jobs[i] = next
	if err := s.saveLocked(); err != nil {
		s.jobs[i] = prev
		return err
	}
	slog.Info("job replaced", "job", name)
	return nil
}

// Get returns the job with the given name or ErrNotFound.
func (s *FileStore) Get(name string) (Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.indexOf(name)
	if i < 0 {
		return Job{}, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return s.jobs[i].Clone(), nil
}

// List returns a snapshot of all jobs.
func (s *FileStore) List() []Job {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Job, len(s.jobs))
	for i, j := range s.jobs {
		out[i] = j.Clone()
	}
	return out
}

// Remove deletes the named job or returns ErrNotFound.
func (s *FileStore) Remove(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.indexOf(name)
	if i < 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	removed := s.jobs[i]
	s.jobs = append(s.jobs[:i], s.jobs[i+1:]...)
	if err := s.saveLocked(); err != nil {
		s.jobs = append(s.jobs[:i], append([]Job{removed}, s.jobs[i:]...)...)
		return err
	}
	slog.Info("job removed", "job", name)
	return nil
}

// TouchLastRun records a successful run. A missing job is silently dropped
// (deletion may race execution), and a timestamp older than the stored one
// is ignored so last_run never moves backwards.
func (s *FileStore) TouchLastRun(name string, t time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.indexOf(name)
	if i < 0 {
		return
	}
	if prev := s.jobs[i].LastRun; prev != nil && t.Before(*prev) {
		return
	}
	s.jobs[i].LastRun = &t
	if err := s.saveLocked(); err != nil {
		slog.Error("failed to persist last_run", "job", name, "error", err)
	}
}

func (s *FileStore) indexOf(name string) int {
	for i := range s.jobs {
		if s.jobs[i].Name == name {
			return i
		}
	}
	return -1
}

// saveLocked writes the document atomically: sibling temp file, fsync,
// rename over the target. Must be called with s.mu held.
func (s *FileStore) saveLocked() error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create store directory: %w", err)
	}

	doc := s.jobs
	if doc == nil {
		doc = []Job{}
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encode job store: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("write job store: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write job store: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("sync job store: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close job store: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace job store: %w", err)
	}
	return nil
}
