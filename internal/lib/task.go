package lib

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/Lumerin-protocol/contract-settlement/internal/interfaces"
)

// Task is a wrapper around a function that can be started and stopped
type Task struct {
	name    string
	runFunc func(ctx context.Context) error

	isRunning atomic.Bool
	stopCh    atomic.Value // chan struct{}
	doneCh    atomic.Value // chan struct{}
	cancel    atomic.Value // context.CancelFunc
	err       atomic.Pointer[error]

	log interfaces.ILogger
}

// NewTask creates a task from Runnable that runs in a separate goroutine
func NewTask(name string, runnable interfaces.Runnable, log interfaces.ILogger) *Task {
	return NewTaskFunc(name, runnable.Run, log)
}

func NewTaskFunc(name string, f func(ctx context.Context) error, log interfaces.ILogger) *Task {
	t := &Task{
		name:    name,
		runFunc: f,
		log:     log,
	}
	t.doneCh.Store(make(chan struct{}))
	t.stopCh.Store(make(chan struct{}))
	return t
}

func (s *Task) Start(ctx context.Context) {
	if !s.isRunning.CompareAndSwap(false, true) {
		panic("task " + s.name + " already running")
	}
	subCtx, cancel := context.WithCancel(ctx)
	s.cancel.Store(cancel)
	s.stopCh.Store(make(chan struct{}))

	go func() {
		err := s.runFunc(subCtx)
		isContextErr := errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)

		// returned due to calling Stop()
		if ctx.Err() == nil && subCtx.Err() != nil && (isContextErr || err == nil) {
			s.log.Debugf("task %s stopped", s.name)
			close(s.stopCh.Load().(chan struct{}))
			return
		}

		if err != nil && !isContextErr {
			s.log.Errorf("task %s exited with error: %s", s.name, err)
		}
		s.err.Store(&err)
		close(s.doneCh.Load().(chan struct{}))
		close(s.stopCh.Load().(chan struct{}))
	}()
}

func (s *Task) Stop() <-chan struct{} {
	if !s.isRunning.CompareAndSwap(true, false) {
		closedChan := make(chan struct{})
		close(closedChan)
		return closedChan
	}
	if c := s.cancel.Load(); c != nil {
		c.(context.CancelFunc)()
	}
	return s.stopCh.Load().(chan struct{})
}

// Done is closed when the task exited on its own or the parent context was cancelled.
// Stop does not close it
func (s *Task) Done() <-chan struct{} {
	return s.doneCh.Load().(chan struct{})
}

// Err returns error that caused routine to exit
func (s *Task) Err() error {
	e := s.err.Load()
	if e == nil {
		return nil
	}
	return *e
}

// Every calls f each interval until ctx is done. Errors returned by f are logged and do not stop the loop
func Every(ctx context.Context, interval time.Duration, log interfaces.ILogger, f func(ctx context.Context) error) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := f(ctx); err != nil {
				log.Warnf("periodic run failed: %s", err)
			}
		}
	}
}
