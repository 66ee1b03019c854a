// Package reminder lets chat users schedule one-shot reminders on top of
// the job scheduler.
package reminder

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/cockroachdb/errors"

	"remindd/internal/task/scheduler"
	"remindd/pkg/fingerprint"
	logx "remindd/pkg/logx"
)

const (
	DefaultLimitPerUser  = 4
	DefaultMaxMessageLen = 150

	listTimeFormat = "2006-01-02 15:04:05"
)

var (
	ErrQuota   = errors.New("reminder quota reached")
	ErrTooLong = errors.New("reminder message too long")
)

// Scheduler is the part of the engine reminders need.
type Scheduler interface {
	ScheduleOnce(ctx context.Context, when scheduler.When, spec scheduler.OnceSpec) (scheduler.Job, error)
	FindJobs(tags ...string) []scheduler.Job
	CancelTagged(ctx context.Context, tags ...string) (int, error)
}

type Config struct {
	LimitPerUser  int
	MaxMessageLen int
}

type Service struct {
	sched Scheduler
	cfg   Config
	log   logx.Logger
}

func NewService(sched Scheduler, cfg Config, log logx.Logger) *Service {
	if cfg.LimitPerUser <= 0 {
		cfg.LimitPerUser = DefaultLimitPerUser
	}
	if cfg.MaxMessageLen <= 0 {
		cfg.MaxMessageLen = DefaultMaxMessageLen
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{sched: sched, cfg: cfg, log: log}
}

type Request struct {
	ChatID    int64
	UserID    int64
	When      scheduler.When
	Message   string
	Important bool
}

// Entry is one pending reminder as shown to its owner.
type Entry struct {
	JobID   string
	NextRun time.Time
	Message string
}

// UserTag groups every reminder of one user in one chat. The items carry
// their own labels so that no two (chat, user) pairs hash the same input.
func UserTag(chatID, userID int64) string {
	return fingerprint.MustOf("chat="+strconv.FormatInt(chatID, 10), "user="+strconv.FormatInt(userID, 10))
}

// Remind schedules a reminder. A user holds at most LimitPerUser pending
// reminders per chat.
func (s *Service) Remind(ctx context.Context, req Request) (scheduler.Job, error) {
	msg := strings.TrimSpace(req.Message)
	if msg == "" {
		return scheduler.Job{}, errors.WithHint(errors.Mark(errors.New("empty reminder"), scheduler.ErrValidation),
			"Tell me what to remind you about.")
	}
	if n := utf8.RuneCountInString(msg); n > s.cfg.MaxMessageLen {
		err := errors.Mark(errors.Newf("message has %d characters, max %d", n, s.cfg.MaxMessageLen), ErrTooLong)
		return scheduler.Job{}, errors.WithHint(errors.Mark(err, scheduler.ErrValidation),
			fmt.Sprintf("Message too long (%d char max).", s.cfg.MaxMessageLen))
	}

	tag := UserTag(req.ChatID, req.UserID)
	pending := len(s.sched.FindJobs(tag))
	if pending >= s.cfg.LimitPerUser {
		err := errors.Mark(errors.Newf("user %d has %d reminders in chat %d", req.UserID, pending, req.ChatID), ErrQuota)
		return scheduler.Job{}, errors.WithHint(errors.Mark(err, scheduler.ErrValidation),
			fmt.Sprintf("Sorry! I can only remember %d reminders per user.", s.cfg.LimitPerUser))
	}

	job, err := s.sched.ScheduleOnce(ctx, req.When, scheduler.OnceSpec{
		Action:    DeliverAction,
		Args:      []any{req.ChatID, msg},
		Tags:      []string{tag, strconv.Itoa(pending + 1)},
		Important: req.Important,
	})
	if err != nil {
		return scheduler.Job{}, err
	}
	s.log.Info("reminder set",
		logx.String("job", job.ID),
		logx.Int64("chat_id", req.ChatID),
		logx.Int64("user_id", req.UserID),
		logx.Time("next_run", job.NextRun),
		logx.Bool("important", req.Important),
	)
	return job, nil
}

// List returns the user's pending reminders, soonest first.
func (s *Service) List(chatID, userID int64) []Entry {
	jobs := s.sched.FindJobs(UserTag(chatID, userID))
	out := make([]Entry, 0, len(jobs))
	for _, j := range jobs {
		out = append(out, Entry{JobID: j.ID, NextRun: j.NextRun, Message: messageOf(j)})
	}
	return out
}

// Clear cancels all of the user's reminders and reports how many there were.
func (s *Service) Clear(ctx context.Context, chatID, userID int64) (int, error) {
	n, err := s.sched.CancelTagged(ctx, UserTag(chatID, userID))
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.log.Info("reminders cleared", logx.Int64("chat_id", chatID), logx.Int64("user_id", userID), logx.Int("count", n))
	}
	return n, nil
}

// FormatList renders entries as `[2006-01-02 15:04:05]: "message"` lines.
func FormatList(entries []Entry) string {
	if len(entries) == 0 {
		return "(0) reminders scheduled."
	}
	lines := make([]string, len(entries))
	for i, e := range entries {
		lines[i] = fmt.Sprintf("[%s]: \"%s\"", e.NextRun.Format(listTimeFormat), e.Message)
	}
	return strings.Join(lines, "\n")
}

// messageOf reads the reminder text, the last argument of the job.
func messageOf(j scheduler.Job) string {
	if len(j.Args) == 0 {
		return ""
	}
	s, _ := j.Args[len(j.Args)-1].(string)
	return s
}
