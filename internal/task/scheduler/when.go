package scheduler

import (
	"strconv"
	"strings"
	"time"
)

// When is the trigger of a one-shot job: either the next occurrence of a
// weekday or a delay from now. Build it with On, In or ParseWhen.
type When struct {
	weekday Unit
	delay   time.Duration
}

// On fires at the next occurrence of wd, at the current clock time.
func On(wd time.Weekday) When {
	for u, d := range weekdayUnits {
		if d == wd {
			return When{weekday: u}
		}
	}
	return When{}
}

// In fires after d. Sub-second parts are dropped.
func In(d time.Duration) When { return When{delay: d.Truncate(time.Second)} }

// ParseWhen reads a weekday name ("monday") or a whole number of seconds.
func ParseWhen(s string) (When, error) {
	s = strings.TrimSpace(s)
	if u, ok := ParseUnit(s); ok {
		if _, isDay := u.Weekday(); isDay {
			return When{weekday: u}, nil
		}
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return When{}, validationf("use a weekday name or a number of seconds",
			"unparseable when %q", s)
	}
	if n <= 0 {
		return When{}, validationf("the delay must be at least one second",
			"when must be positive, got %d", n)
	}
	return When{delay: time.Duration(n) * time.Second}, nil
}

func (w When) validate() error {
	if w.weekday != "" {
		return nil
	}
	if w.delay < time.Second {
		return validationf("the delay must be at least one second",
			"when must be positive, got %s", w.delay)
	}
	return nil
}

// interval maps w onto the (interval, unit) pair of the created job.
func (w When) interval() (int, Unit) {
	if w.weekday != "" {
		return 1, w.weekday
	}
	return int(w.delay / time.Second), Seconds
}

func (w When) String() string {
	if w.weekday != "" {
		return string(w.weekday)
	}
	return w.delay.String()
}
