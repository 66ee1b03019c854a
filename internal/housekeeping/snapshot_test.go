package housekeeping

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"remindd/internal/action"
	logx "remindd/pkg/logx"
)

type staticDoc struct {
	b   []byte
	err error
}

func (d staticDoc) Document() ([]byte, error) { return d.b, d.err }

func TestSnapshotWritesAndPrunes(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	s := NewSnapshotter(dir, staticDoc{b: []byte(`{"a": {}}`)}, logx.Nop())
	now := time.Date(2024, 1, 10, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time {
		now = now.Add(time.Minute)
		return now
	}

	var paths []string
	for i := 0; i < 4; i++ {
		p, err := s.Snapshot(context.Background(), 2)
		require.NoError(t, err)
		paths = append(paths, p)
	}

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	assert.Equal(t, []string{filepath.Base(paths[2]), filepath.Base(paths[3])}, names)
	assert.Equal(t, "jobs-20240110T120400Z.json", filepath.Base(paths[3]))

	b, err := os.ReadFile(paths[3])
	require.NoError(t, err)
	assert.Equal(t, `{"a": {}}`, string(b))
}

func TestSnapshotLeavesForeignFiles(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o600))
	s := NewSnapshotter(dir, staticDoc{b: []byte(`{}`)}, logx.Nop())
	_, err := s.Snapshot(context.Background(), 1)
	require.NoError(t, err)
	_, err = os.Stat(filepath.Join(dir, "notes.txt"))
	assert.NoError(t, err)
}

func TestSnapshotAction(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	reg := action.NewRegistry()
	NewSnapshotter(dir, staticDoc{b: []byte(`{}`)}, logx.Nop()).Register(reg)

	out, err := reg.Call(context.Background(), SnapshotAction, action.Invocation{Args: []any{int64(3)}})
	require.NoError(t, err)
	assert.FileExists(t, out.(string))

	_, err = reg.Call(context.Background(), SnapshotAction, action.Invocation{Args: []any{"three"}})
	assert.Error(t, err)

	failing := action.NewRegistry()
	NewSnapshotter(dir, staticDoc{err: errors.New("boom")}, logx.Nop()).Register(failing)
	_, err = failing.Call(context.Background(), SnapshotAction, action.Invocation{})
	assert.Error(t, err)
}
