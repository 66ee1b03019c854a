package scheduler

import (
	"context"
	"fmt"
	"strings"
	"time"

	"remindd/internal/action"
)

// Unit is the period of a job.
type Unit string

const (
	Seconds Unit = "seconds"
	Minutes Unit = "minutes"
	Hours   Unit = "hours"
	Days    Unit = "days"
	Weeks   Unit = "weeks"

	Monday    Unit = "monday"
	Tuesday   Unit = "tuesday"
	Wednesday Unit = "wednesday"
	Thursday  Unit = "thursday"
	Friday    Unit = "friday"
	Saturday  Unit = "saturday"
	Sunday    Unit = "sunday"
)

var weekdayUnits = map[Unit]time.Weekday{
	Monday:    time.Monday,
	Tuesday:   time.Tuesday,
	Wednesday: time.Wednesday,
	Thursday:  time.Thursday,
	Friday:    time.Friday,
	Saturday:  time.Saturday,
	Sunday:    time.Sunday,
}

// ParseUnit accepts unit names case-insensitively, singular or plural.
func ParseUnit(s string) (Unit, bool) {
	u := Unit(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := weekdayUnits[u]; ok {
		return u, true
	}
	switch u {
	case Seconds, Minutes, Hours, Days, Weeks:
		return u, true
	case "second", "minute", "hour", "day", "week":
		return u + "s", true
	}
	return "", false
}

// Weekday reports the weekday of a weekday unit.
func (u Unit) Weekday() (time.Weekday, bool) {
	wd, ok := weekdayUnits[u]
	return wd, ok
}

// Period is the length of one interval step. Weekday units step in weeks.
func (u Unit) Period() time.Duration {
	switch u {
	case Seconds:
		return time.Second
	case Minutes:
		return time.Minute
	case Hours:
		return time.Hour
	case Days:
		return 24 * time.Hour
	default:
		return 7 * 24 * time.Hour
	}
}

// TimeOfDay is a wall clock time without a date.
type TimeOfDay struct {
	Hour, Minute, Second int
}

// ParseTimeOfDay accepts "HH:MM" or "HH:MM:SS".
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	s = strings.TrimSpace(s)
	for _, layout := range []string{"15:04:05", "15:04"} {
		if t, err := time.Parse(layout, s); err == nil {
			return TimeOfDay{Hour: t.Hour(), Minute: t.Minute(), Second: t.Second()}, nil
		}
	}
	return TimeOfDay{}, fmt.Errorf("%q is not a time of day (HH:MM[:SS])", s)
}

func (t TimeOfDay) String() string {
	return fmt.Sprintf("%02d:%02d:%02d", t.Hour, t.Minute, t.Second)
}

// On returns t on the calendar date of d, in d's location.
func (t TimeOfDay) On(d time.Time) time.Time {
	return time.Date(d.Year(), d.Month(), d.Day(), t.Hour, t.Minute, t.Second, 0, d.Location())
}

func timeOfDayOf(t time.Time) TimeOfDay {
	return TimeOfDay{Hour: t.Hour(), Minute: t.Minute(), Second: t.Second()}
}

// Job is one unit of deferred work. Values returned by Service are copies.
type Job struct {
	ID        string
	Interval  int
	Unit      Unit
	AtTime    *TimeOfDay
	NextRun   time.Time
	Action    action.Ref
	Args      []any
	Tags      []string
	RunsLeft  int
	Important bool
}

func (j Job) clone() Job {
	cp := j
	if j.AtTime != nil {
		at := *j.AtTime
		cp.AtTime = &at
	}
	cp.Args = cloneArgs(j.Args)
	cp.Tags = append([]string(nil), j.Tags...)
	return cp
}

func cloneArgs(in []any) []any {
	if in == nil {
		return nil
	}
	out := make([]any, len(in))
	for i, v := range in {
		out[i] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch x := v.(type) {
	case []any:
		return cloneArgs(x)
	case map[string]any:
		m := make(map[string]any, len(x))
		for k, vv := range x {
			m[k] = cloneValue(vv)
		}
		return m
	default:
		return v
	}
}

// Spec describes a recurring job for Schedule.
type Spec struct {
	// ID is optional; a random id is generated when empty.
	ID       string
	Interval int
	Unit     Unit
	// AtTime is "HH:MM[:SS]" or empty.
	AtTime    string
	Action    action.Ref
	Args      []any
	Tags      []string
	RunsLeft  int
	Important bool
}

// OnceSpec describes a one-shot job for ScheduleOnce.
type OnceSpec struct {
	Action    action.Ref
	Args      []any
	Tags      []string
	Important bool
}

// Clock is the time source.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

// Invoker runs a job's action and reports only after it has finished.
type Invoker interface {
	Invoke(ctx context.Context, ref action.Ref, inv action.Invocation) (any, error)
}

// Config controls the engine.
type Config struct {
	TickInterval time.Duration
	Timezone     string // IANA name; empty means Local
}

const defaultTickInterval = 500 * time.Millisecond

// Event types published on the bus.
const (
	EventJobScheduled = "job.scheduled"
	EventJobStarted   = "job.started"
	EventJobFinished  = "job.finished"
	EventJobFailed    = "job.failed"
	EventJobRetired   = "job.retired"
	EventJobCancelled = "job.cancelled"
	EventJobRecovered = "job.recovered"
	EventJobDropped   = "job.dropped"
)

// JobEvent is the Data of every job.* event.
type JobEvent struct {
	JobID    string
	Action   action.Ref
	NextRun  time.Time
	RunsLeft int
	Took     time.Duration
	Err      string
	Reason   string
}
