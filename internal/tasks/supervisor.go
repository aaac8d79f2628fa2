// Package tasks runs post-completion work (abstract generation,
// search-index sync) off the critical path on a supervised worker
// pool. Failures are logged, never propagated to the upload result.
package tasks

import (
	"context"
	"log/slog"
	"runtime"
	"sync"

	"github.com/panjf2000/ants/v2"
)

// Supervisor owns a worker pool for background tasks. Submitted work
// is tracked so Shutdown can drain in-flight tasks.
type Supervisor struct {
	pool   *ants.Pool
	wg     sync.WaitGroup
	logger *slog.Logger
}

// Option configures a Supervisor.
type Option func(*Supervisor) error

// WithPoolSize sets the worker pool size. Default is
// runtime.NumCPU() / 2, with a minimum of 1.
func WithPoolSize(size int) Option {
	return func(s *Supervisor) error {
		if size < 1 {
			size = 1
		}
		if s.pool != nil {
			s.pool.Release()
		}
		pool, err := ants.NewPool(size)
		if err != nil {
			return err
		}
		s.pool = pool
		return nil
	}
}

// WithLogger sets a custom logger. Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(s *Supervisor) error {
		if logger == nil {
			logger = slog.Default()
		}
		s.logger = logger
		return nil
	}
}

// NewSupervisor creates a supervisor with the given options.
func NewSupervisor(opts ...Option) (*Supervisor, error) {
	poolSize := runtime.NumCPU() / 2
	if poolSize < 1 {
		poolSize = 1
	}
	pool, err := ants.NewPool(poolSize)
	if err != nil {
		return nil, err
	}

	s := &Supervisor{pool: pool, logger: slog.Default()}
	for _, opt := range opts {
		if optErr := opt(s); optErr != nil {
			s.pool.Release()
			return nil, optErr
		}
	}
	return s, nil
}

// Submit schedules one named background task. The task's error is
// logged, not returned: background failures must be observable
// without being awaited by the critical path. Submission failure
// (pool released) is also logged and swallowed.
func (s *Supervisor) Submit(name string, fn func(ctx context.Context) error) {
	s.wg.Add(1)
	err := s.pool.Submit(func() {
		defer s.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				s.logger.Error("background task panicked", "task", name, "panic", r)
			}
		}()
		if err := fn(context.Background()); err != nil {
			s.logger.Error("background task failed", "task", name, "err", err)
		}
	})
	if err != nil {
		s.wg.Done()
		s.logger.Error("failed to submit background task", "task", name, "err", err)
	}
}

// Shutdown waits for in-flight tasks and releases the pool. The
// supervisor must not be used afterwards.
func (s *Supervisor) Shutdown() {
	s.wg.Wait()
	s.pool.Release()
}
