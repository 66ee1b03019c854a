package scheduler

import (
	"time"
)

// Verdict is the catch-up outcome for one stored job.
type Verdict int

const (
	Keep Verdict = iota
	Reschedule
	Drop
)

func (v Verdict) String() string {
	switch v {
	case Keep:
		return "keep"
	case Reschedule:
		return "reschedule"
	case Drop:
		return "drop"
	}
	return "unknown"
}

// Decision is the result of Recover. NextRun is set for Reschedule only.
type Decision struct {
	Verdict Verdict
	NextRun time.Time
	Reason  string
}

const (
	staleAfter     = 4 * time.Hour
	veryLateAfter  = 8 * time.Hour
	futureSlack    = 30 * time.Second
	collisionGap   = 30 * time.Second
	quietHourStart = 3
	quietHourEnd   = 8
)

// Recover reconciles a stored next_run with now, after downtime.
//
//   - unimportant jobs four or more hours overdue are dropped
//   - jobs still more than 30s ahead are kept
//   - jobs under eight hours overdue move forward by the larger of the
//     overdue time and idle+30s; a result in 03:00-08:00 becomes 08:00
//   - jobs eight or more hours overdue move to today at their time of day
//
// idle is the time until the soonest already-active job fires.
func Recover(j Job, now time.Time, idle time.Duration) Decision {
	elapsed := now.Sub(j.NextRun)
	hrs := floorHours(elapsed)
	loc := now.Location()

	if !j.Important && hrs >= int64(staleAfter/time.Hour) {
		return Decision{Verdict: Drop, Reason: "stale"}
	}
	if elapsed < -futureSlack {
		return Decision{Verdict: Keep, Reason: "future"}
	}
	if hrs < int64(veryLateAfter/time.Hour) {
		if idle < 0 {
			idle = 0
		}
		push := max(elapsed, idle+collisionGap)
		next := j.NextRun.Add(push).In(loc).Truncate(time.Second)
		if h := next.Hour(); h >= quietHourStart && h < quietHourEnd {
			next = time.Date(next.Year(), next.Month(), next.Day(), quietHourEnd, 0, 0, 0, loc)
			return Decision{Verdict: Reschedule, NextRun: next, Reason: "late, quiet hours"}
		}
		return Decision{Verdict: Reschedule, NextRun: next, Reason: "late"}
	}

	at := timeOfDayOf(j.NextRun.In(loc))
	if j.AtTime != nil {
		at = *j.AtTime
	}
	return Decision{Verdict: Reschedule, NextRun: at.On(now), Reason: "very late"}
}

// floorHours is elapsed in whole hours, rounded toward negative infinity.
func floorHours(d time.Duration) int64 {
	h := int64(d / time.Hour)
	if d < 0 && d%time.Hour != 0 {
		h--
	}
	return h
}
