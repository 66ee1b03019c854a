package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/errors"

	"remindd/internal/action"
	"remindd/internal/storage"
	logx "remindd/pkg/logx"
)

// Store keeps the job document in memory and mirrors every change to the
// backend. One mutex serializes all writers, so saves never overlap.
type Store struct {
	backend storage.Store
	reg     *action.Registry
	loc     *time.Location
	log     logx.Logger

	mu   sync.Mutex
	jobs map[string]Job
	// held is set when Load could not read the stored document, or could
	// neither decode nor preserve it; flushes fail with it instead of
	// replacing that document.
	held error
}

// NewStore wraps backend. reg resolves action names at load time; with a
// nil registry references are loaded unchecked (read-only tooling).
func NewStore(backend storage.Store, reg *action.Registry, loc *time.Location, log logx.Logger) *Store {
	if log.IsZero() {
		log = logx.Nop()
	}
	if loc == nil {
		loc = time.Local
	}
	return &Store{backend: backend, reg: reg, loc: loc, log: log, jobs: map[string]Job{}}
}

// Load reads the backend and returns every decodable, resolvable job. A
// missing document yields an empty map. A document that cannot be read or
// decoded also yields an empty map plus an ErrPersistence error; it is copied
// aside with PreserveDocument first, and if that is impossible the store
// refuses every later write so the original is never overwritten.
func (s *Store) Load(ctx context.Context) (map[string]Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.jobs = map[string]Job{}
	s.held = nil
	b, err := s.backend.ReadDocument(ctx)
	switch {
	case errors.Is(err, storage.ErrNotExist):
		s.log.Info("no job document yet", logx.String("store", s.backend.Describe()))
		return map[string]Job{}, nil
	case err != nil:
		s.held = persistenceErr(err, "load")
		s.log.Error("job document unreadable; writes disabled until restart",
			logx.String("store", s.backend.Describe()), logx.Err(s.held))
		return map[string]Job{}, s.held
	}
	if len(b) == 0 {
		return map[string]Job{}, nil
	}

	jobs, bad, err := decodeDocument(b, s.loc)
	if err != nil {
		derr := persistenceErr(err, "decode")
		side, perr := s.backend.PreserveDocument(ctx, b)
		if perr != nil {
			s.held = derr
			s.log.Error("job document corrupt and could not be set aside; writes disabled until restart",
				logx.String("store", s.backend.Describe()), logx.Err(derr), logx.String("preserve_error", perr.Error()))
			return map[string]Job{}, derr
		}
		s.log.Error("job document corrupt; original set aside, starting empty",
			logx.String("store", s.backend.Describe()), logx.String("preserved", side), logx.Err(derr))
		return map[string]Job{}, derr
	}
	for id, derr := range bad {
		s.log.Warn("dropping malformed job", logx.String("job", id), logx.Err(derr))
	}
	for id, j := range jobs {
		if err := s.resolve(j); err != nil {
			s.log.Warn("dropping job", logx.String("job", id), logx.Err(err))
			delete(jobs, id)
		}
	}
	s.jobs = jobs
	return cloneJobs(jobs), nil
}

func (s *Store) resolve(j Job) error {
	if s.reg == nil {
		return nil
	}
	if _, ok := s.reg.Lookup(j.Action); !ok {
		return resolutionf("action %q is not registered", j.Action)
	}
	for _, ref := range collectRefs(j.Args) {
		if _, ok := s.reg.Lookup(ref); !ok {
			return resolutionf("nested action %q is not registered", ref)
		}
	}
	return nil
}

// Save replaces the whole document. On failure the in-memory copy still
// holds jobs, and the previous stored document stays intact.
func (s *Store) Save(ctx context.Context, jobs map[string]Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs = cloneJobs(jobs)
	return s.flushLocked(ctx)
}

// Put inserts or replaces one job and saves.
func (s *Store) Put(ctx context.Context, j Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[j.ID] = j.clone()
	return s.flushLocked(ctx)
}

// Remove deletes ids and saves once. Unknown ids are ignored.
func (s *Store) Remove(ctx context.Context, ids ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		delete(s.jobs, id)
	}
	return s.flushLocked(ctx)
}

// Snapshot returns a copy of the in-memory document.
func (s *Store) Snapshot() map[string]Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	return cloneJobs(s.jobs)
}

// Document renders the in-memory document as stored.
func (s *Store) Document() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return encodeDocument(s.jobs)
}

func (s *Store) flushLocked(ctx context.Context) error {
	if s.held != nil {
		return errors.Wrap(s.held, "stored document kept for inspection")
	}
	b, err := encodeDocument(s.jobs)
	if err != nil {
		return persistenceErr(err, "encode")
	}
	if err := s.backend.WriteDocument(ctx, b); err != nil {
		return persistenceErr(err, "save")
	}
	return nil
}

func cloneJobs(in map[string]Job) map[string]Job {
	out := make(map[string]Job, len(in))
	for id, j := range in {
		out[id] = j.clone()
	}
	return out
}
