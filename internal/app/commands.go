package app

import (
	"context"
	"fmt"
	"html"
	"strings"
	"time"

	"remindd/internal/task/scheduler"
	"remindd/internal/transport/telegram/router"
)

// jobView is the diagnostic rendering of a job.
type jobView struct {
	ID        string    `json:"id"`
	Action    string    `json:"action"`
	Interval  int       `json:"interval"`
	Unit      string    `json:"unit"`
	AtTime    string    `json:"at_time,omitempty"`
	NextRun   time.Time `json:"next_run"`
	RunsLeft  int       `json:"runs_left"`
	Tags      []string  `json:"tags,omitempty"`
	Important bool      `json:"important,omitempty"`
}

func jobViews(jobs []scheduler.Job) []jobView {
	out := make([]jobView, 0, len(jobs))
	for _, j := range jobs {
		v := jobView{
			ID:        j.ID,
			Action:    string(j.Action),
			Interval:  j.Interval,
			Unit:      string(j.Unit),
			NextRun:   j.NextRun,
			RunsLeft:  j.RunsLeft,
			Tags:      j.Tags,
			Important: j.Important,
		}
		if j.AtTime != nil {
			v.AtTime = j.AtTime.String()
		}
		out = append(out, v)
	}
	return out
}

const jobsListMax = 30

func (a *App) jobsCommand() router.Command {
	return router.Command{
		Name:        "jobs",
		Description: "scheduler status and active jobs",
		Usage:       "/jobs",
		Access:      router.AccessOwnerOnly,
		Handle: func(ctx context.Context, req *router.Request) error {
			return req.ReplyHTML(ctx, formatJobs(a.sched.Snapshot(), a.sched.ListActiveJobs()))
		},
	}
}

func formatJobs(snap scheduler.Snapshot, jobs []scheduler.Job) string {
	var b strings.Builder
	fmt.Fprintf(&b, "<b>Scheduler</b> (%s)\n", html.EscapeString(snap.Timezone))
	fmt.Fprintf(&b, "active: %d, running: %d, idle: %s\n", snap.Active, snap.Running, snap.Idle.Round(time.Second))
	if len(jobs) == 0 {
		b.WriteString("\nno active jobs")
		return b.String()
	}
	b.WriteString("\n")
	for i, j := range jobs {
		if i == jobsListMax {
			fmt.Fprintf(&b, "… and %d more", len(jobs)-jobsListMax)
			break
		}
		flag := ""
		if j.Important {
			flag = " ❗"
		}
		fmt.Fprintf(&b, "<code>%s</code> %s every %d %s, next %s, left %d%s\n",
			html.EscapeString(j.ID),
			html.EscapeString(string(j.Action)),
			j.Interval,
			html.EscapeString(string(j.Unit)),
			j.NextRun.Format("2006-01-02 15:04:05"),
			j.RunsLeft,
			flag,
		)
	}
	return strings.TrimRight(b.String(), "\n")
}
