package scheduler

import (
	"context"
	"runtime/debug"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"

	"remindd/internal/action"
	"remindd/internal/eventbus"
	logx "remindd/pkg/logx"
)

type entry struct {
	job     Job
	seq     uint64
	running bool
}

// Service owns the active job set. Every mutation and the save that follows
// it happen under mu; action execution happens outside it.
type Service struct {
	mu sync.Mutex

	cfg     Config
	loc     *time.Location
	log     logx.Logger
	bus     eventbus.Bus
	clock   Clock
	store   *Store
	reg     *action.Registry
	invoker Invoker

	jobs map[string]*entry
	seq  uint64
}

type Option func(*Service)

// WithClock replaces the wall clock, for tests.
func WithClock(c Clock) Option { return func(s *Service) { s.clock = c } }

// WithBus publishes job lifecycle events on bus.
func WithBus(bus eventbus.Bus) Option { return func(s *Service) { s.bus = bus } }

func New(cfg Config, loc *time.Location, store *Store, reg *action.Registry, inv Invoker, log logx.Logger, opts ...Option) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = defaultTickInterval
	}
	if loc == nil {
		loc = time.Local
	}
	s := &Service{
		cfg:     cfg,
		loc:     loc,
		log:     log,
		clock:   SystemClock{},
		store:   store,
		reg:     reg,
		invoker: inv,
		jobs:    map[string]*entry{},
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// LoadLocation resolves an IANA zone name; empty means Local.
func LoadLocation(tz string) (*time.Location, error) {
	tz = strings.TrimSpace(tz)
	if tz == "" {
		return time.Local, nil
	}
	return time.LoadLocation(tz)
}

func (s *Service) Location() *time.Location { return s.loc }

func (s *Service) now() time.Time { return s.clock.Now().In(s.loc) }

// RestoreStats summarizes a Restore pass.
type RestoreStats struct {
	Stored      int
	Kept        int
	Rescheduled int
	Dropped     int
	// Unusable reports a stored document that could not be read or decoded.
	Unusable bool
}

// Restore loads the stored document, applies the catch-up policy to each
// job and saves the result once. Call it before Run. An unusable stored
// document is never replaced by the (empty) restore result.
func (s *Service) Restore(ctx context.Context) RestoreStats {
	stored, loadErr := s.store.Load(ctx)
	now := s.now()

	ordered := make([]Job, 0, len(stored))
	for _, j := range stored {
		ordered = append(ordered, j)
	}
	sort.Slice(ordered, func(a, b int) bool {
		if !ordered[a].NextRun.Equal(ordered[b].NextRun) {
			return ordered[a].NextRun.Before(ordered[b].NextRun)
		}
		return ordered[a].ID < ordered[b].ID
	})

	st := RestoreStats{Stored: len(ordered), Unusable: loadErr != nil}
	var events []JobEvent
	var dropped []JobEvent

	s.mu.Lock()
	for _, j := range ordered {
		if j.RunsLeft <= 0 {
			st.Dropped++
			dropped = append(dropped, JobEvent{JobID: j.ID, Action: j.Action, Reason: "no runs left"})
			continue
		}
		d := Recover(j, now, s.idleLocked(now))
		switch d.Verdict {
		case Drop:
			st.Dropped++
			dropped = append(dropped, JobEvent{JobID: j.ID, Action: j.Action, Reason: d.Reason})
			s.log.Debug("stale job dropped", logx.String("job", j.ID), logx.Time("next_run", j.NextRun))
			continue
		case Reschedule:
			st.Rescheduled++
			s.log.Debug("job rescheduled", logx.String("job", j.ID), logx.String("reason", d.Reason),
				logx.Time("from", j.NextRun), logx.Time("to", d.NextRun))
			j.NextRun = d.NextRun
			events = append(events, JobEvent{JobID: j.ID, Action: j.Action, NextRun: j.NextRun, Reason: d.Reason})
		default:
			st.Kept++
		}
		s.addLocked(j)
	}
	var err error
	if loadErr == nil {
		err = s.store.Save(ctx, s.snapshotLocked())
	}
	s.mu.Unlock()

	if err != nil {
		s.log.Error("saving recovered jobs failed; continuing in memory", logx.Err(err))
	}
	for _, e := range events {
		s.publish(EventJobRecovered, e)
	}
	for _, e := range dropped {
		s.publish(EventJobDropped, e)
	}

	ratio := 1.0
	if st.Stored > 0 {
		ratio = float64(st.Kept+st.Rescheduled) / float64(st.Stored)
	}
	s.log.Info("jobs restored",
		logx.Int("stored", st.Stored),
		logx.Int("kept", st.Kept),
		logx.Int("rescheduled", st.Rescheduled),
		logx.Int("dropped", st.Dropped),
		logx.Float64("hit_ratio", ratio),
	)
	return st
}

// Run ticks until ctx is done.
func (s *Service) Run(ctx context.Context) error {
	t := time.NewTicker(s.cfg.TickInterval)
	defer t.Stop()

	s.log.Info("tick loop started",
		logx.Duration("tick", s.cfg.TickInterval),
		logx.String("tz", s.loc.String()),
		logx.Int("jobs", s.Len()),
	)
	for {
		select {
		case <-ctx.Done():
			s.log.Info("tick loop stopped")
			return ctx.Err()
		case <-t.C:
			s.Tick(ctx)
		}
	}
}

// Tick fires every job due at the current clock reading, one after the
// other, and returns how many ran.
func (s *Service) Tick(ctx context.Context) int {
	due := s.takeDue(s.now())
	fired, ran := 0, 0
	// Jobs not fired yet, or whose fire panicked, are released even when
	// Tick unwinds.
	defer func() { s.release(due[fired:]) }()
	for _, id := range due {
		if ctx.Err() != nil {
			break
		}
		if s.fire(ctx, id) {
			ran++
		}
		fired++
	}
	return ran
}

// takeDue marks due jobs Running and returns them ordered by
// (next_run, creation order).
func (s *Service) takeDue(now time.Time) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	var due []*entry
	for _, e := range s.jobs {
		if !e.running && !e.job.NextRun.After(now) {
			due = append(due, e)
		}
	}
	sort.Slice(due, func(a, b int) bool {
		if !due[a].job.NextRun.Equal(due[b].job.NextRun) {
			return due[a].job.NextRun.Before(due[b].job.NextRun)
		}
		return due[a].seq < due[b].seq
	})
	ids := make([]string, len(due))
	for i, e := range due {
		e.running = true
		ids[i] = e.job.ID
	}
	return ids
}

func (s *Service) release(ids []string) {
	s.mu.Lock()
	for _, id := range ids {
		if e, ok := s.jobs[id]; ok {
			e.running = false
		}
	}
	s.mu.Unlock()
}

// fire runs one job and applies the outcome. It reports false when the job
// was cancelled before its turn.
func (s *Service) fire(ctx context.Context, id string) bool {
	s.mu.Lock()
	e, ok := s.jobs[id]
	if !ok {
		s.mu.Unlock()
		return false
	}
	job := e.job.clone()
	s.mu.Unlock()

	s.publish(EventJobStarted, JobEvent{JobID: job.ID, Action: job.Action, RunsLeft: job.RunsLeft})
	start := time.Now()
	_, runErr := s.invoke(ctx, job)
	took := time.Since(start)

	// The outcome is recorded even if ctx ends during the run.
	pctx := context.WithoutCancel(ctx)
	now := s.now()

	s.mu.Lock()
	e, ok = s.jobs[id]
	if !ok {
		s.mu.Unlock()
		s.log.Debug("job cancelled while running", logx.String("job", id))
		return true
	}
	e.running = false
	if runErr == nil {
		e.job.RunsLeft--
	}

	if runErr == nil && e.job.RunsLeft <= 0 {
		delete(s.jobs, id)
		perr := s.store.Remove(pctx, id)
		s.mu.Unlock()
		s.logPersist(perr, id)
		s.publish(EventJobFinished, JobEvent{JobID: id, Action: job.Action, Took: took})
		s.publish(EventJobRetired, JobEvent{JobID: id, Action: job.Action, Reason: "runs exhausted"})
		return true
	}

	next, nerr := nextRun(e.job, now)
	if nerr != nil {
		delete(s.jobs, id)
		perr := s.store.Remove(pctx, id)
		s.mu.Unlock()
		s.logPersist(perr, id)
		s.log.Error("job retired: next run not computable", logx.String("job", id), logx.Err(nerr))
		s.publish(EventJobRetired, JobEvent{JobID: id, Action: job.Action, Reason: nerr.Error()})
		return true
	}
	e.job.NextRun = next
	runsLeft := e.job.RunsLeft
	perr := s.store.Put(pctx, e.job)
	s.mu.Unlock()
	s.logPersist(perr, id)

	if runErr != nil {
		s.log.Warn("job failed",
			logx.String("job", id),
			logx.String("action", string(job.Action)),
			logx.Duration("took", took),
			logx.Time("next_run", next),
			logx.Err(runErr),
		)
		s.publish(EventJobFailed, JobEvent{JobID: id, Action: job.Action, NextRun: next, RunsLeft: runsLeft, Took: took, Err: runErr.Error()})
		return true
	}
	s.log.Debug("job ran", logx.String("job", id), logx.Duration("took", took), logx.Time("next_run", next), logx.Int("runs_left", runsLeft))
	s.publish(EventJobFinished, JobEvent{JobID: id, Action: job.Action, NextRun: next, RunsLeft: runsLeft, Took: took})
	return true
}

// invoke calls the Invoker and contains anything it throws.
func (s *Service) invoke(ctx context.Context, job Job) (out any, err error) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("job panicked", logx.String("job", job.ID), logx.Any("panic", r), logx.Stack(string(debug.Stack())))
			err = errors.Mark(errors.Newf("panic in %s: %v", job.Action, r), ErrExecution)
		}
	}()
	out, err = s.invoker.Invoke(ctx, job.Action, action.Invocation{
		JobID: job.ID,
		Args:  cloneArgs(job.Args),
		Tags:  append([]string(nil), job.Tags...),
	})
	if err != nil && !errors.Is(err, ErrExecution) {
		err = errors.Mark(err, ErrExecution)
	}
	return out, err
}

func (s *Service) logPersist(err error, id string) {
	if err != nil {
		s.log.Error("job store write failed; continuing in memory", logx.String("job", id), logx.Err(err))
	}
}

func (s *Service) addLocked(j Job) {
	s.seq++
	s.jobs[j.ID] = &entry{job: j, seq: s.seq}
}

func (s *Service) snapshotLocked() map[string]Job {
	out := make(map[string]Job, len(s.jobs))
	for id, e := range s.jobs {
		out[id] = e.job.clone()
	}
	return out
}

// idleLocked is the time until the soonest active job, floored at zero.
func (s *Service) idleLocked(now time.Time) time.Duration {
	var soonest time.Time
	for _, e := range s.jobs {
		if soonest.IsZero() || e.job.NextRun.Before(soonest) {
			soonest = e.job.NextRun
		}
	}
	if soonest.IsZero() || !soonest.After(now) {
		return 0
	}
	return soonest.Sub(now)
}

func (s *Service) publish(typ string, data JobEvent) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(eventbus.Event{Type: typ, Data: data})
}
