package scheduler

import (
	"context"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"

	"remindd/internal/action"
	logx "remindd/pkg/logx"
)

// Schedule validates spec, computes the first run, persists and returns the
// new job. A store failure is logged and the job stays active in memory.
func (s *Service) Schedule(ctx context.Context, spec Spec) (Job, error) {
	unit, at, err := checkSchedule(spec.Interval, spec.Unit, spec.AtTime)
	if err != nil {
		return Job{}, err
	}
	if spec.RunsLeft <= 0 {
		return Job{}, validationf("runs_left must be given explicitly and be at least 1",
			"runs_left must be > 0, got %d", spec.RunsLeft)
	}
	if err := s.checkAction(spec.Action); err != nil {
		return Job{}, err
	}
	args, err := normalizeArgs(spec.Args)
	if err != nil {
		return Job{}, validationf("arguments must be strings, numbers, booleans, lists, maps or action references",
			"%s", err.Error())
	}
	for _, ref := range collectRefs(args) {
		if err := s.checkAction(ref); err != nil {
			return Job{}, err
		}
	}

	id := strings.TrimSpace(spec.ID)
	if id == "" {
		id = uuid.NewString()
	}
	tags := append([]string(nil), spec.Tags...)
	if len(tags) == 0 || tags[len(tags)-1] != id {
		tags = append(tags, id)
	}

	now := s.now()
	j := Job{
		ID:        id,
		Interval:  spec.Interval,
		Unit:      unit,
		AtTime:    at,
		Action:    spec.Action,
		Args:      args,
		Tags:      tags,
		RunsLeft:  spec.RunsLeft,
		Important: spec.Important,
	}
	if _, isWeekday := unit.Weekday(); isWeekday && at == nil {
		tod := timeOfDayOf(now)
		j.AtTime = &tod
	}
	if j.NextRun, err = nextRun(j, now); err != nil {
		return Job{}, validationf("", "%s", err.Error())
	}

	s.mu.Lock()
	if _, dup := s.jobs[id]; dup {
		s.mu.Unlock()
		return Job{}, validationf("pick another id", "job %q already exists", id)
	}
	s.addLocked(j)
	perr := s.store.Put(ctx, j)
	s.mu.Unlock()
	s.logPersist(perr, id)

	s.log.Debug("job scheduled",
		logx.String("job", id),
		logx.String("action", string(j.Action)),
		logx.Int("interval", j.Interval),
		logx.String("unit", string(j.Unit)),
		logx.Time("next_run", j.NextRun),
		logx.Int("runs_left", j.RunsLeft),
	)
	s.publish(EventJobScheduled, JobEvent{JobID: id, Action: j.Action, NextRun: j.NextRun, RunsLeft: j.RunsLeft})
	return j.clone(), nil
}

// ScheduleOnce creates a job that runs exactly once at when.
func (s *Service) ScheduleOnce(ctx context.Context, when When, spec OnceSpec) (Job, error) {
	if err := when.validate(); err != nil {
		return Job{}, err
	}
	interval, unit := when.interval()
	return s.Schedule(ctx, Spec{
		Interval:  interval,
		Unit:      unit,
		Action:    spec.Action,
		Args:      spec.Args,
		Tags:      spec.Tags,
		RunsLeft:  1,
		Important: spec.Important,
	})
}

// Ensure schedules spec unless a job with spec.ID is already active, in
// which case the existing job wins and created is false.
func (s *Service) Ensure(ctx context.Context, spec Spec) (job Job, created bool, err error) {
	if strings.TrimSpace(spec.ID) == "" {
		return Job{}, false, validationf("", "Ensure requires an id")
	}
	if j, err := s.Get(spec.ID); err == nil {
		return j, false, nil
	}
	j, err := s.Schedule(ctx, spec)
	if err != nil {
		return Job{}, false, err
	}
	return j, true, nil
}

// Cancel removes a job. A run already in progress finishes but the job is
// not rescheduled. A store failure is logged, as in Schedule.
func (s *Service) Cancel(ctx context.Context, id string) error {
	s.mu.Lock()
	e, ok := s.jobs[id]
	if !ok {
		s.mu.Unlock()
		return notFound(id)
	}
	delete(s.jobs, id)
	perr := s.store.Remove(ctx, id)
	s.mu.Unlock()
	s.logPersist(perr, id)

	s.publish(EventJobCancelled, JobEvent{JobID: id, Action: e.job.Action})
	return nil
}

// CancelTagged cancels every job carrying all of tags, with one save.
func (s *Service) CancelTagged(ctx context.Context, tags ...string) (int, error) {
	if len(tags) == 0 {
		return 0, validationf("give at least one tag", "CancelTagged needs tags")
	}
	s.mu.Lock()
	var ids []string
	var refs []action.Ref
	for id, e := range s.jobs {
		if hasTags(e.job.Tags, tags) {
			ids = append(ids, id)
			refs = append(refs, e.job.Action)
			delete(s.jobs, id)
		}
	}
	var perr error
	if len(ids) > 0 {
		perr = s.store.Remove(ctx, ids...)
	}
	s.mu.Unlock()
	if perr != nil {
		s.log.Error("job store write failed; continuing in memory", logx.Strings("jobs", ids), logx.Err(perr))
	}
	for i, id := range ids {
		s.publish(EventJobCancelled, JobEvent{JobID: id, Action: refs[i]})
	}
	return len(ids), nil
}

func (s *Service) checkAction(ref action.Ref) error {
	if s.reg == nil {
		return nil
	}
	if _, ok := s.reg.Lookup(ref); !ok {
		return errors.WithHint(resolutionf("action %q is not registered", ref),
			"known actions are listed by the jobs command")
	}
	return nil
}
