// Package supervisor runs the daemon's long-lived loops under one context,
// with panic capture, optional restart and a health view for diagnostics.
package supervisor

import (
	"context"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"

	logx "remindd/pkg/logx"
)

// ErrPanicked marks errors produced from a recovered panic.
var ErrPanicked = errors.New("task panicked")

// Supervisor owns a cancelable context and the tasks started under it.
type Supervisor struct {
	ctx    context.Context
	cancel context.CancelFunc
	log    logx.Logger

	cancelOnErr bool

	wg       sync.WaitGroup
	errOnce  sync.Once
	firstErr atomic.Pointer[error]
	doneOnce sync.Once
	doneCh   chan struct{}

	stats *registry
}

type Option func(*Supervisor)

func WithLogger(log logx.Logger) Option { return func(s *Supervisor) { s.log = log } }

// WithCancelOnError cancels every task once any task fails.
func WithCancelOnError(enabled bool) Option {
	return func(s *Supervisor) { s.cancelOnErr = enabled }
}

func New(parent context.Context, opts ...Option) *Supervisor {
	ctx, cancel := context.WithCancel(parent)
	s := &Supervisor{
		ctx:    ctx,
		cancel: cancel,
		log:    logx.Nop(),
		doneCh: make(chan struct{}),
		stats:  newRegistry(),
	}
	for _, o := range opts {
		o(s)
	}
	if s.log.IsZero() {
		s.log = logx.Nop()
	}
	return s
}

func (s *Supervisor) Context() context.Context { return s.ctx }

// Err is the first task failure, if any.
func (s *Supervisor) Err() error {
	if p := s.firstErr.Load(); p != nil {
		return *p
	}
	return nil
}

func (s *Supervisor) fail(err error) {
	if err == nil {
		return
	}
	s.errOnce.Do(func() { s.firstErr.Store(&err) })
	if s.cancelOnErr {
		s.cancel()
	}
}

// Go runs fn once. A returned error other than context cancellation, or a
// panic, is recorded as a failure.
func (s *Supervisor) Go(name string, fn func(ctx context.Context) error) {
	if fn == nil {
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		started := s.stats.start(name, false)
		s.log.Debug("task started", logx.String("task", name))

		err := s.runGuarded(name, fn)
		if err != nil && !errors.Is(err, context.Canceled) {
			err = errors.Wrapf(err, "%s", name)
			s.stats.stop(name, started, err)
			s.fail(err)
			s.log.Error("task failed", logx.String("task", name), logx.Err(err))
			return
		}
		s.stats.stop(name, started, nil)
		s.log.Debug("task stopped", logx.String("task", name))
	}()
}

// runGuarded calls fn and turns a panic into an ErrPanicked error.
func (s *Supervisor) runGuarded(name string, fn func(ctx context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			s.stats.panicked(name, r)
			s.log.Error("task panicked", logx.String("task", name), logx.Any("panic", r), logx.Stack(string(debug.Stack())))
			err = errors.Mark(errors.Newf("panic in %s: %v", name, r), ErrPanicked)
		}
	}()
	return fn(s.ctx)
}

// Cancel signals every task to stop without waiting.
func (s *Supervisor) Cancel() { s.cancel() }

// Stop cancels all tasks and waits for them, bounded by ctx.
func (s *Supervisor) Stop(ctx context.Context) error {
	s.cancel()
	return s.Wait(ctx)
}

// Wait blocks until every task has returned or ctx ends.
func (s *Supervisor) Wait(ctx context.Context) error {
	s.doneOnce.Do(func() {
		go func() {
			s.wg.Wait()
			close(s.doneCh)
		}()
	})
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-s.doneCh:
		return s.Err()
	}
}

// Done is closed when the supervisor context is canceled.
func (s *Supervisor) Done() <-chan struct{} { return s.ctx.Done() }

// Snapshot reports per-task health.
func (s *Supervisor) Snapshot() Snapshot {
	snap := s.stats.snapshot()
	if err := s.Err(); err != nil {
		snap.FirstError = err.Error()
	}
	return snap
}

func since(t time.Time) time.Duration { return time.Since(t).Round(time.Millisecond) }
