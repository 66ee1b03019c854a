package scheduler

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/cockroachdb/errors"

	"remindd/internal/action"
	"remindd/internal/storage"
	logx "remindd/pkg/logx"
)

var t0 = time.Date(2024, time.January, 10, 12, 0, 0, 0, time.UTC) // a Wednesday

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock(t time.Time) *fakeClock { return &fakeClock{t: t} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

// memBackend is an in-memory storage.Store.
type memBackend struct {
	mu        sync.Mutex
	doc       []byte
	exists    bool
	writes    int
	failWrite error
	failRead  error

	preserved    [][]byte
	failPreserve error
}

func (m *memBackend) ReadDocument(context.Context) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failRead != nil {
		return nil, m.failRead
	}
	if !m.exists {
		return nil, storage.ErrNotExist
	}
	return append([]byte(nil), m.doc...), nil
}

func (m *memBackend) WriteDocument(_ context.Context, doc []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failWrite != nil {
		return m.failWrite
	}
	m.doc = append([]byte(nil), doc...)
	m.exists = true
	m.writes++
	return nil
}

func (m *memBackend) PreserveDocument(_ context.Context, doc []byte) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failPreserve != nil {
		return "", m.failPreserve
	}
	m.preserved = append(m.preserved, append([]byte(nil), doc...))
	return fmt.Sprintf("memory#%d", len(m.preserved)), nil
}

func (m *memBackend) raw() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return string(m.doc)
}

func (m *memBackend) Describe() string { return "memory" }
func (m *memBackend) Close() error     { return nil }

func (m *memBackend) set(doc string) {
	m.mu.Lock()
	m.doc = []byte(doc)
	m.exists = true
	m.mu.Unlock()
}

func (m *memBackend) stored(t *testing.T) map[string]Job {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.exists {
		return map[string]Job{}
	}
	jobs, bad, err := decodeDocument(m.doc, time.UTC)
	if err != nil {
		t.Fatalf("stored document unreadable: %v", err)
	}
	if len(bad) > 0 {
		t.Fatalf("stored document has bad records: %v", bad)
	}
	return jobs
}

type invokerFunc func(ctx context.Context, ref action.Ref, inv action.Invocation) (any, error)

func (f invokerFunc) Invoke(ctx context.Context, ref action.Ref, inv action.Invocation) (any, error) {
	return f(ctx, ref, inv)
}

// counter is a registry of test actions that record their calls.
type counter struct {
	mu    sync.Mutex
	calls map[action.Ref]int
}

func (c *counter) hit(ref action.Ref) {
	c.mu.Lock()
	if c.calls == nil {
		c.calls = map[action.Ref]int{}
	}
	c.calls[ref]++
	c.mu.Unlock()
}

func (c *counter) count(ref action.Ref) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[ref]
}

var errTestFail = errors.New("test action failed")

func testRegistry(c *counter) *action.Registry {
	reg := action.NewRegistry()
	reg.Register(action.Action{Name: "test.noop", Fn: func(_ context.Context, inv action.Invocation) (any, error) {
		c.hit("test.noop")
		return nil, nil
	}})
	reg.Register(action.Action{Name: "test.fail", Fn: func(context.Context, action.Invocation) (any, error) {
		c.hit("test.fail")
		return nil, errTestFail
	}})
	reg.Register(action.Action{Name: "test.panic", Fn: func(context.Context, action.Invocation) (any, error) {
		c.hit("test.panic")
		panic("boom")
	}})
	return reg
}

type harness struct {
	svc     *Service
	store   *Store
	backend *memBackend
	clock   *fakeClock
	calls   *counter
	reg     *action.Registry
}

func newHarness(t *testing.T, opts ...Option) *harness {
	t.Helper()
	h := &harness{backend: &memBackend{}, clock: newFakeClock(t0), calls: &counter{}}
	h.reg = testRegistry(h.calls)
	h.store = NewStore(h.backend, h.reg, time.UTC, logx.Nop())
	opts = append([]Option{WithClock(h.clock)}, opts...)
	h.svc = New(Config{TickInterval: 10 * time.Millisecond}, time.UTC, h.store, h.reg, invokerFunc(h.reg.Call), logx.Nop(), opts...)
	return h
}
