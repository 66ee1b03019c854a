package reminder

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cockroachdb/errors"

	"remindd/internal/task/scheduler"
	"remindd/internal/transport/telegram/router"
	logx "remindd/pkg/logx"
)

const usage = "/remindme <delay|weekday> <message> [i]"

// Commands returns the chat commands of the reminder service. cooldown is
// the per-user spacing of /remindme.
func (s *Service) Commands(cooldown time.Duration) []router.Command {
	if cooldown <= 0 {
		cooldown = 3 * time.Second
	}
	return []router.Command{
		{
			Name:        "remindme",
			Description: "set a reminder",
			Usage:       usage,
			Middleware:  []router.Middleware{router.MWCooldown(1, cooldown)},
			Handle:      s.handleRemindMe,
		},
		{
			Name:        "reminders",
			Aliases:     []string{"myreminders"},
			Description: "show your reminders",
			Usage:       "/reminders",
			Middleware:  []router.Middleware{router.MWCooldown(3, 10*time.Second)},
			Handle:      s.handleList,
		},
		{
			Name:        "clearreminders",
			Aliases:     []string{"clear_reminders"},
			Description: "cancel all your reminders",
			Usage:       "/clearreminders",
			Middleware:  []router.Middleware{router.MWCooldown(1, 30*time.Second)},
			Handle:      s.handleClear,
		},
	}
}

func (s *Service) handleRemindMe(ctx context.Context, req *router.Request) error {
	if len(req.Args) < 2 {
		return req.Reply(ctx, "Usage: "+usage)
	}
	when, err := parseWhen(req.Args[0])
	if err != nil {
		return req.Reply(ctx, scheduler.Reason(err))
	}
	msg, important := splitImportant(strings.TrimSpace(strings.TrimPrefix(req.Text, req.Args[0])))

	job, err := s.Remind(ctx, Request{
		ChatID:    req.Chat.ChatID,
		UserID:    req.FromID,
		When:      when,
		Message:   msg,
		Important: important,
	})
	if err != nil {
		if errors.Is(err, scheduler.ErrValidation) {
			return req.Reply(ctx, scheduler.Reason(err))
		}
		req.Logger.Error("reminder not scheduled", logx.Err(err))
		return req.Reply(ctx, "Something went wrong, the reminder was not set.")
	}
	return req.Reply(ctx, fmt.Sprintf("⏰ Reminder set for %s.", job.NextRun.Format(listTimeFormat)))
}

func (s *Service) handleList(ctx context.Context, req *router.Request) error {
	return req.Reply(ctx, FormatList(s.List(req.Chat.ChatID, req.FromID)))
}

func (s *Service) handleClear(ctx context.Context, req *router.Request) error {
	n, err := s.Clear(ctx, req.Chat.ChatID, req.FromID)
	if err != nil {
		return req.Reply(ctx, scheduler.Reason(err))
	}
	if n == 0 {
		return req.Reply(ctx, "You have no reminders.")
	}
	return req.Reply(ctx, fmt.Sprintf("Cleared %d reminder(s).", n))
}

// parseWhen accepts a weekday name or a ParseDelay string.
func parseWhen(s string) (scheduler.When, error) {
	if u, ok := scheduler.ParseUnit(s); ok {
		if wd, isDay := u.Weekday(); isDay {
			return scheduler.On(wd), nil
		}
	}
	d, err := ParseDelay(s)
	if err != nil {
		return scheduler.When{}, err
	}
	return scheduler.In(d), nil
}

// splitImportant strips a trailing " i" marker.
func splitImportant(msg string) (string, bool) {
	if len(msg) > 2 && strings.EqualFold(msg[len(msg)-2:], " i") {
		return strings.TrimSpace(msg[:len(msg)-2]), true
	}
	return msg, false
}
