package scheduler

import "errors"

var (
	// ErrQueueFull is returned by Pool.Submit when the task queue is at capacity.
	ErrQueueFull = errors.New("worker queue is full")

	// ErrStopped is returned by Pool.Submit after the pool has been stopped.
	ErrStopped = errors.New("worker pool is stopped")
)
