// Package bridge connects the scheduler's tick goroutine to the host loop.
//
// The host loop is one goroutine that owns chat I/O. Work reaches it over
// the due channel; each call carries its own done channel on which the loop
// acknowledges completion. Actions that do not need the loop run directly
// on the caller's goroutine.
package bridge

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"github.com/cockroachdb/errors"

	logx "remindd/pkg/logx"
)

var (
	ErrLoopStopped = errors.New("host loop stopped")
	ErrPanic       = errors.New("action panicked")
)

type result struct {
	out any
	err error
}

type call struct {
	ctx  context.Context
	fn   func(ctx context.Context) (any, error)
	done chan result // nil for posted work
}

type loopKey struct{}

// Loop is the host's cooperative runtime: everything submitted to it runs
// one at a time on the goroutine executing Run.
type Loop struct {
	log logx.Logger
	due chan call

	startOnce sync.Once
	closeOnce sync.Once
	closed    chan struct{}

	handled atomic.Uint64
}

func NewLoop(queue int, log logx.Logger) *Loop {
	if queue <= 0 {
		queue = 64
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Loop{log: log, due: make(chan call, queue), closed: make(chan struct{})}
}

// Run executes submitted work until ctx ends. Work still queued at exit is
// answered with ErrLoopStopped. Run must be called at most once.
func (l *Loop) Run(ctx context.Context) error {
	started := false
	l.startOnce.Do(func() { started = true })
	if !started {
		return errors.New("host loop already ran")
	}
	defer l.shutdown()

	l.log.Info("host loop started", logx.Int("queue_cap", cap(l.due)))
	for {
		select {
		case <-ctx.Done():
			l.log.Info("host loop stopped", logx.Uint64("handled", l.handled.Load()))
			return ctx.Err()
		case c := <-l.due:
			l.exec(c)
		}
	}
}

func (l *Loop) shutdown() {
	l.closeOnce.Do(func() { close(l.closed) })
	for {
		select {
		case c := <-l.due:
			if c.done != nil {
				c.done <- result{err: ErrLoopStopped}
			}
		default:
			return
		}
	}
}

func (l *Loop) exec(c call) {
	ctx := context.WithValue(c.ctx, loopKey{}, l)
	out, err := protect(ctx, c.fn)
	l.handled.Add(1)
	if c.done != nil {
		c.done <- result{out: out, err: err}
	} else if err != nil {
		l.log.Warn("posted work failed", logx.Err(err))
	}
}

// OnLoop reports whether ctx belongs to work running on l.
func (l *Loop) OnLoop(ctx context.Context) bool {
	v, _ := ctx.Value(loopKey{}).(*Loop)
	return v == l
}

// Submit runs fn on the loop and waits for its result. Called from work
// already on the loop, fn runs inline so the loop never waits on itself.
func (l *Loop) Submit(ctx context.Context, fn func(ctx context.Context) (any, error)) (any, error) {
	if l.OnLoop(ctx) {
		return protect(ctx, fn)
	}
	c := call{ctx: ctx, fn: fn, done: make(chan result, 1)}
	select {
	case l.due <- c:
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-l.closed:
		return nil, ErrLoopStopped
	}
	select {
	case r := <-c.done:
		return r.out, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-l.closed:
		// The loop answers queued calls on shutdown; prefer that answer.
		select {
		case r := <-c.done:
			return r.out, r.err
		default:
			return nil, ErrLoopStopped
		}
	}
}

// Post queues fn without waiting. It fails fast when the queue is full.
func (l *Loop) Post(ctx context.Context, fn func(ctx context.Context) error) error {
	c := call{ctx: context.WithoutCancel(ctx), fn: func(ctx context.Context) (any, error) { return nil, fn(ctx) }}
	select {
	case <-l.closed:
		return ErrLoopStopped
	default:
	}
	select {
	case l.due <- c:
		return nil
	default:
		return errors.Newf("host loop queue full (%d)", cap(l.due))
	}
}

// Pending is the number of queued calls.
func (l *Loop) Pending() int { return len(l.due) }

func protect(ctx context.Context, fn func(ctx context.Context) (any, error)) (out any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Mark(errors.WithDetail(fmt.Errorf("%v", r), string(debug.Stack())), ErrPanic)
		}
	}()
	return fn(ctx)
}
