package scheduler

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// calendarParser reads the six-field expressions built by calendarExpr.
var calendarParser = cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// nextRun returns the first firing of j strictly after now, in now's
// location, truncated to whole seconds.
//
// Plain interval jobs step by interval*unit. Jobs pinned to a time of day
// or a weekday take the next matching calendar slot after
// now+(interval-1)*unit.
func nextRun(j Job, now time.Time) (time.Time, error) {
	if j.Interval <= 0 || int64(j.Interval) > maxInterval(j.Unit) {
		return time.Time{}, fmt.Errorf("interval %d %s is out of range", j.Interval, j.Unit)
	}
	_, isWeekday := j.Unit.Weekday()
	if j.AtTime == nil && !isWeekday {
		next := now.Add(time.Duration(j.Interval) * j.Unit.Period()).Truncate(time.Second)
		if !next.After(now) {
			return time.Time{}, fmt.Errorf("interval %d %s does not move past %s", j.Interval, j.Unit, now)
		}
		return next, nil
	}

	expr, err := calendarExpr(j.Unit, j.AtTime, now)
	if err != nil {
		return time.Time{}, err
	}
	sched, err := calendarParser.Parse(expr)
	if err != nil {
		return time.Time{}, fmt.Errorf("calendar %q: %w", expr, err)
	}
	base := now.Add(time.Duration(j.Interval-1) * j.Unit.Period())
	next := sched.Next(base)
	if next.IsZero() || !next.After(now) {
		return time.Time{}, fmt.Errorf("calendar %q has no next slot after %s", expr, base)
	}
	return next, nil
}

// maxSpan bounds interval*unit so the step always fits in a time.Duration.
const maxSpan = 100 * 365 * 24 * time.Hour

// maxInterval is the largest interval count of unit within maxSpan.
func maxInterval(unit Unit) int64 {
	return int64(maxSpan / unit.Period())
}

// calendarExpr renders the cron constraint implied by unit and at. A weekday
// job without an explicit time keeps the clock time of now.
func calendarExpr(unit Unit, at *TimeOfDay, now time.Time) (string, error) {
	t := timeOfDayOf(now)
	if at != nil {
		t = *at
	}
	if wd, ok := unit.Weekday(); ok {
		return fmt.Sprintf("%d %d %d * * %d", t.Second, t.Minute, t.Hour, int(wd)), nil
	}
	switch unit {
	case Minutes:
		return fmt.Sprintf("%d * * * * *", t.Second), nil
	case Hours:
		return fmt.Sprintf("%d %d * * * *", t.Second, t.Minute), nil
	case Days:
		return fmt.Sprintf("%d %d %d * * *", t.Second, t.Minute, t.Hour), nil
	}
	return "", fmt.Errorf("unit %q cannot be pinned to a time of day", unit)
}

// checkSchedule validates the interval part of a job and normalizes unit.
func checkSchedule(interval int, unit Unit, atTime string) (Unit, *TimeOfDay, error) {
	if interval <= 0 {
		return "", nil, validationf("the interval must be a positive number",
			"interval must be > 0, got %d", interval)
	}
	u, ok := ParseUnit(string(unit))
	if !ok {
		return "", nil, validationf("use seconds, minutes, hours, days, weeks or a weekday name",
			"unknown unit %q", unit)
	}
	if limit := maxInterval(u); int64(interval) > limit {
		return "", nil, validationf("the interval may span at most 100 years",
			"interval %d %s exceeds %d", interval, u, limit)
	}
	if atTime == "" {
		return u, nil, nil
	}
	at, err := ParseTimeOfDay(atTime)
	if err != nil {
		return "", nil, validationf("use HH:MM or HH:MM:SS", "%s", err.Error())
	}
	switch u {
	case Seconds, Weeks:
		return "", nil, validationf("at_time only applies to minutes, hours, days and weekday units",
			"at_time is not supported with unit %q", u)
	}
	return u, &at, nil
}
