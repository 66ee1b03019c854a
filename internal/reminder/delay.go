package reminder

import (
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"

	"remindd/internal/task/scheduler"
)

var delayUnits = map[byte]time.Duration{
	'w': 7 * 24 * time.Hour,
	'd': 24 * time.Hour,
	'h': time.Hour,
	'm': time.Minute,
	's': time.Second,
}

// ParseDelay reads comma separated "<n><unit>" parts such as "4d,3h,16m,10s".
// Each unit may appear once. One second is added so a reminder never fires
// on the tick it was set.
func ParseDelay(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, badDelay(s, "empty delay")
	}
	var total time.Duration
	seen := map[byte]bool{}
	for _, part := range strings.Split(s, ",") {
		part = strings.ToLower(strings.TrimSpace(part))
		if len(part) < 2 {
			return 0, badDelay(s, "part %q has no value", part)
		}
		unit := part[len(part)-1]
		size, ok := delayUnits[unit]
		if !ok {
			return 0, badDelay(s, "unknown unit %q", string(unit))
		}
		if seen[unit] {
			return 0, badDelay(s, "unit %q given twice", string(unit))
		}
		seen[unit] = true

		n, err := strconv.ParseInt(part[:len(part)-1], 10, 64)
		if err != nil || n < 0 {
			return 0, badDelay(s, "bad value in %q", part)
		}
		if n > int64(maxDelay/size) {
			return 0, badDelay(s, "%q is too far away", part)
		}
		total += time.Duration(n) * size
	}
	if total <= 0 {
		return 0, badDelay(s, "delay adds up to zero")
	}
	if total > maxDelay {
		return 0, badDelay(s, "delay is longer than %s", maxDelay)
	}
	return total + time.Second, nil
}

// maxDelay keeps the seconds count of the created job within int32.
const maxDelay = 52 * 7 * 24 * time.Hour

func badDelay(s, format string, args ...any) error {
	return errors.WithHint(
		errors.Mark(errors.Wrapf(errors.Newf(format, args...), "delay %q", s), scheduler.ErrValidation),
		"Bad time/time-format given. Use e.g. 4d,3h,16m,10s or a weekday name.",
	)
}
