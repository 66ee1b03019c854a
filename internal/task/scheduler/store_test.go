package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	logx "remindd/pkg/logx"
)

func TestStoreLoadMissingAndCorrupt(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	reg := testRegistry(&counter{})

	b := &memBackend{}
	s := NewStore(b, reg, time.UTC, logx.Nop())
	jobs, err := s.Load(ctx)
	require.NoError(t, err)
	assert.Empty(t, jobs)

	b.set("")
	jobs, err = s.Load(ctx)
	require.NoError(t, err)
	assert.Empty(t, jobs)

	b.set("{ definitely not json")
	jobs, err = s.Load(ctx)
	assert.True(t, errors.Is(err, ErrPersistence), "%v", err)
	assert.Empty(t, jobs)
	require.Len(t, b.preserved, 1)
	assert.Equal(t, "{ definitely not json", string(b.preserved[0]))

	b.failRead = errors.New("disk on fire")
	jobs, err = s.Load(ctx)
	assert.True(t, errors.Is(err, ErrPersistence), "%v", err)
	assert.Empty(t, jobs)
}

func TestStoreCorruptDocumentSetAsideBeforeOverwrite(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	truncated := `{"a": {"interval": 1, "unit": "hours", "next_run": "2024-01-10T13:00:00Z", "act`

	b := &memBackend{}
	b.set(truncated)
	s := NewStore(b, nil, time.UTC, logx.Nop())
	_, err := s.Load(ctx)
	require.Error(t, err)

	j := Job{ID: "b", Interval: 1, Unit: Minutes, NextRun: t0, Action: "test.noop", RunsLeft: 1}
	require.NoError(t, s.Put(ctx, j))
	require.Len(t, b.preserved, 1)
	assert.Equal(t, truncated, string(b.preserved[0]))
	assert.Contains(t, b.stored(t), "b")
}

func TestStoreCorruptDocumentHeldWhenItCannotBeSetAside(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	truncated := `{"a": {"interval": 1, "unit": "ho`

	b := &memBackend{failPreserve: errors.New("no space")}
	b.set(truncated)
	s := NewStore(b, nil, time.UTC, logx.Nop())
	_, err := s.Load(ctx)
	require.Error(t, err)

	j := Job{ID: "b", Interval: 1, Unit: Minutes, NextRun: t0, Action: "test.noop", RunsLeft: 1}
	err = s.Put(ctx, j)
	assert.True(t, errors.Is(err, ErrPersistence), "%v", err)
	assert.Equal(t, truncated, b.raw())
	assert.Zero(t, b.writes)
	assert.Len(t, s.Snapshot(), 1)

	// An unreadable backend is held the same way.
	r := &memBackend{failRead: errors.New("timeout")}
	rs := NewStore(r, nil, time.UTC, logx.Nop())
	_, err = rs.Load(ctx)
	require.Error(t, err)
	assert.Error(t, rs.Put(ctx, j))
	assert.Zero(t, r.writes)
}

func TestStoreLoadDropsUnresolvable(t *testing.T) {
	t.Parallel()

	b := &memBackend{}
	b.set(`{
    "known": {"interval": 1, "unit": "hours", "next_run": "2024-01-10T13:00:00Z", "action": "test.noop",
              "args": ["@action:test.fail"], "tags": ["known"], "runs_left": 1},
    "unknown": {"interval": 1, "unit": "hours", "next_run": "2024-01-10T13:00:00Z", "action": "gone.action",
                "args": [], "tags": ["unknown"], "runs_left": 1},
    "nested": {"interval": 1, "unit": "hours", "next_run": "2024-01-10T13:00:00Z", "action": "test.noop",
               "args": [["@action:gone.too"]], "tags": ["nested"], "runs_left": 1}
}`)
	s := NewStore(b, testRegistry(&counter{}), time.UTC, logx.Nop())
	jobs, err := s.Load(context.Background())
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Contains(t, jobs, "known")

	unchecked := NewStore(b, nil, time.UTC, logx.Nop())
	all, err := unchecked.Load(context.Background())
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestStorePutRemove(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	b := &memBackend{}
	s := NewStore(b, nil, time.UTC, logx.Nop())

	j := Job{ID: "a", Interval: 1, Unit: Minutes, NextRun: t0, Action: "test.noop", Tags: []string{"a"}, RunsLeft: 1}
	require.NoError(t, s.Put(ctx, j))
	j.ID = "b"
	require.NoError(t, s.Put(ctx, j))
	assert.Len(t, b.stored(t), 2)

	require.NoError(t, s.Remove(ctx, "a", "missing"))
	stored := b.stored(t)
	assert.Len(t, stored, 1)
	assert.Contains(t, stored, "b")
	assert.Equal(t, 3, b.writes)

	doc, err := s.Document()
	require.NoError(t, err)
	assert.Contains(t, string(doc), `"b"`)
}

func TestStoreFailedSaveKeepsPrevious(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	b := &memBackend{}
	s := NewStore(b, nil, time.UTC, logx.Nop())
	j := Job{ID: "a", Interval: 1, Unit: Minutes, NextRun: t0, Action: "test.noop", RunsLeft: 1}
	require.NoError(t, s.Put(ctx, j))

	b.failWrite = errors.New("read-only filesystem")
	j.ID = "b"
	err := s.Put(ctx, j)
	assert.True(t, errors.Is(err, ErrPersistence), "%v", err)

	assert.Len(t, s.Snapshot(), 2)
	stored := b.stored(t)
	assert.Len(t, stored, 1)
	assert.Contains(t, stored, "a")
}
