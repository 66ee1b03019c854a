package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"

	logx "remindd/pkg/logx"
)

// fileStore keeps the document in one JSON file next to a scratch
// "<path>.tmp" used for atomic replacement.
type fileStore struct {
	log  logx.Logger
	path string

	mu sync.Mutex
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		path = "./data/jobs.json"
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, errors.Wrap(err, "create store dir")
	}
	return &fileStore{log: log, path: path}, nil
}

func (s *fileStore) Describe() string { return "file:" + s.path }

func (s *fileStore) Close() error { return nil }

func (s *fileStore) ReadDocument(ctx context.Context) ([]byte, error) {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	b, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotExist
	}
	if err != nil {
		return nil, errors.Wrapf(err, "read %s", s.path)
	}
	return b, nil
}

func (s *fileStore) WriteDocument(ctx context.Context, doc []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tmp := s.path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return errors.Wrapf(err, "open %s", tmp)
	}
	if _, err := f.Write(doc); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return errors.Wrapf(err, "write %s", tmp)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return errors.Wrapf(err, "sync %s", tmp)
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return errors.Wrapf(err, "close %s", tmp)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		_ = os.Remove(tmp)
		return errors.Wrapf(err, "replace %s", s.path)
	}
	s.log.Trace("document written", logx.String("path", s.path), logx.Int("bytes", len(doc)))
	return nil
}

// PreserveDocument writes doc to "<path>.corrupt-<unix nanos>".
func (s *fileStore) PreserveDocument(ctx context.Context, doc []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	side := fmt.Sprintf("%s.corrupt-%d", s.path, time.Now().UnixNano())
	if err := os.WriteFile(side, doc, 0o600); err != nil {
		return "", errors.Wrapf(err, "write %s", side)
	}
	return side, nil
}
