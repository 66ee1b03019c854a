package scheduler

import (
	"strings"

	"github.com/cockroachdb/errors"
)

// Error classes. Concrete errors are marked with one of these, so callers
// test with errors.Is.
var (
	ErrValidation  = errors.New("invalid schedule")
	ErrNotFound    = errors.New("job not found")
	ErrPersistence = errors.New("job store failure")
	ErrExecution   = errors.New("job action failed")
	ErrResolution  = errors.New("unresolvable action reference")
)

func validationf(hint, format string, args ...any) error {
	err := errors.Mark(errors.Newf(format, args...), ErrValidation)
	if hint != "" {
		err = errors.WithHint(err, hint)
	}
	return err
}

func persistenceErr(err error, op string) error {
	return errors.Mark(errors.Wrap(err, op), ErrPersistence)
}

func resolutionf(format string, args ...any) error {
	return errors.Mark(errors.Newf(format, args...), ErrResolution)
}

func notFound(id string) error {
	return errors.WithHint(errors.Mark(errors.Newf("job %q not found", id), ErrNotFound),
		"the job may have already run or been cancelled")
}

// Reason renders err for an end user: hints when present, else the message.
func Reason(err error) string {
	if err == nil {
		return ""
	}
	if h := errors.FlattenHints(err); h != "" {
		return strings.TrimSpace(h)
	}
	return err.Error()
}
