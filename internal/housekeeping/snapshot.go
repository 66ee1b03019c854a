// Package housekeeping holds maintenance actions run as builtin jobs.
package housekeeping

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/cockroachdb/errors"

	"remindd/internal/action"
	"remindd/internal/storage"
	logx "remindd/pkg/logx"
)

// SnapshotAction copies the job document into the backup dir.
// Args: [keep int64], optional; the newest keep copies survive (default 7).
const SnapshotAction action.Ref = "housekeeping.snapshot"

const (
	defaultKeep  = 7
	backupPrefix = "jobs-"
	backupSuffix = ".json"
	stampFormat  = "20060102T150405Z"
)

// Documenter renders the current job document.
type Documenter interface {
	Document() ([]byte, error)
}

type Snapshotter struct {
	dir string
	doc Documenter
	log logx.Logger
	now func() time.Time
}

func NewSnapshotter(dir string, doc Documenter, log logx.Logger) *Snapshotter {
	if strings.TrimSpace(dir) == "" {
		dir = "./data/backups"
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Snapshotter{dir: dir, doc: doc, log: log, now: time.Now}
}

// Register adds SnapshotAction to reg.
func (s *Snapshotter) Register(reg *action.Registry) {
	reg.Register(action.Action{
		Name: SnapshotAction,
		Fn: func(ctx context.Context, inv action.Invocation) (any, error) {
			keep := defaultKeep
			if len(inv.Args) > 0 {
				n, ok := inv.Args[0].(int64)
				if !ok || n < 1 {
					return nil, errors.Newf("keep must be a positive integer, got %v", inv.Args[0])
				}
				keep = int(n)
			}
			return s.Snapshot(ctx, keep)
		},
	})
}

// Snapshot writes one backup and prunes older ones. It returns the path
// written.
func (s *Snapshotter) Snapshot(ctx context.Context, keep int) (string, error) {
	doc, err := s.doc.Document()
	if err != nil {
		return "", errors.Wrap(err, "render job document")
	}
	name := backupPrefix + s.now().UTC().Format(stampFormat) + backupSuffix
	path := filepath.Join(s.dir, name)

	st, err := storage.Open(storage.Config{Driver: "file", Path: path}, s.log)
	if err != nil {
		return "", err
	}
	defer st.Close()
	if err := st.WriteDocument(ctx, doc); err != nil {
		return "", errors.Wrap(err, "write backup")
	}

	removed, err := s.prune(keep)
	if err != nil {
		s.log.Warn("backup prune failed", logx.String("dir", s.dir), logx.Err(err))
	}
	s.log.Info("job document backed up",
		logx.String("path", path),
		logx.Int("bytes", len(doc)),
		logx.Int("pruned", removed),
	)
	return path, nil
}

// prune deletes all but the newest keep backups. Stamps sort by name.
func (s *Snapshotter) prune(keep int) (int, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return 0, err
	}
	var names []string
	for _, e := range entries {
		n := e.Name()
		if !e.IsDir() && strings.HasPrefix(n, backupPrefix) && strings.HasSuffix(n, backupSuffix) {
			names = append(names, n)
		}
	}
	if len(names) <= keep {
		return 0, nil
	}
	sort.Strings(names)
	var errs []error
	removed := 0
	for _, n := range names[:len(names)-keep] {
		if err := os.Remove(filepath.Join(s.dir, n)); err != nil {
			errs = append(errs, err)
			continue
		}
		removed++
	}
	return removed, errors.Join(errs...)
}
