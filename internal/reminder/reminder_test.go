package reminder

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"remindd/internal/action"
	"remindd/internal/storage"
	"remindd/internal/task/scheduler"
	kit "remindd/internal/transport"
	"remindd/internal/transport/telegram/router"
	logx "remindd/pkg/logx"
)

// 2024-01-10 is a Wednesday.
var t0 = time.Date(2024, 1, 10, 12, 0, 0, 0, time.UTC)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type fakeSender struct {
	mu   sync.Mutex
	sent []string
	to   []int64
}

func (f *fakeSender) SendText(_ context.Context, to kit.ChatTarget, text string, _ *kit.SendOptions) error {
	f.mu.Lock()
	f.sent = append(f.sent, text)
	f.to = append(f.to, to.ChatID)
	f.mu.Unlock()
	return nil
}

func (f *fakeSender) last() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.sent) == 0 {
		return ""
	}
	return f.sent[len(f.sent)-1]
}

type fixture struct {
	svc    *Service
	sched  *scheduler.Service
	clock  *fakeClock
	sender *fakeSender
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	backend, err := storage.Open(storage.Config{Driver: "file", Path: filepath.Join(t.TempDir(), "jobs.json")}, logx.Nop())
	require.NoError(t, err)

	f := &fixture{clock: &fakeClock{now: t0}, sender: &fakeSender{}}
	reg := action.NewRegistry()
	RegisterActions(reg, f.sender)
	reg.Freeze()

	store := scheduler.NewStore(backend, reg, time.UTC, logx.Nop())
	inv := invokerFunc(reg.Call)
	f.sched = scheduler.New(scheduler.Config{TickInterval: 10 * time.Millisecond}, time.UTC, store, reg, inv, logx.Nop(),
		scheduler.WithClock(f.clock))
	f.svc = NewService(f.sched, Config{}, logx.Nop())
	return f
}

type invokerFunc func(ctx context.Context, ref action.Ref, inv action.Invocation) (any, error)

func (f invokerFunc) Invoke(ctx context.Context, ref action.Ref, inv action.Invocation) (any, error) {
	return f(ctx, ref, inv)
}

func TestParseDelay(t *testing.T) {
	t.Parallel()

	ok := map[string]time.Duration{
		"4d,3h,16m,10s": 4*24*time.Hour + 3*time.Hour + 16*time.Minute + 11*time.Second,
		"12h":           12*time.Hour + time.Second,
		"3h,2s":         3*time.Hour + 3*time.Second,
		"1w":            7*24*time.Hour + time.Second,
		" 45M ":         45*time.Minute + time.Second,
		"0h,5s":         6 * time.Second,
	}
	for in, want := range ok {
		got, err := ParseDelay(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	for _, in := range []string{"", "5", "5x", "3h,2h", "-5m", "0s", "0h,0m", "h", "1h,,2m", "60w", "abc"} {
		_, err := ParseDelay(in)
		assert.Error(t, err, in)
		assert.True(t, errors.Is(err, scheduler.ErrValidation), in)
	}
}

func TestSplitImportant(t *testing.T) {
	t.Parallel()

	msg, imp := splitImportant("workout day! i")
	assert.Equal(t, "workout day!", msg)
	assert.True(t, imp)

	msg, imp = splitImportant("workout day! I")
	assert.Equal(t, "workout day!", msg)
	assert.True(t, imp)

	msg, imp = splitImportant("go2sleep")
	assert.Equal(t, "go2sleep", msg)
	assert.False(t, imp)

	msg, imp = splitImportant(" i")
	assert.Equal(t, " i", msg)
	assert.False(t, imp)
}

func TestRemindAndDeliver(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	job, err := f.svc.Remind(ctx, Request{ChatID: 100, UserID: 7, When: scheduler.In(90 * time.Second), Message: "tea", Important: true})
	require.NoError(t, err)

	tag := UserTag(100, 7)
	assert.Equal(t, []string{tag, "1", job.ID}, job.Tags)
	assert.Equal(t, DeliverAction, job.Action)
	assert.Equal(t, []any{int64(100), "tea"}, job.Args)
	assert.Equal(t, 1, job.RunsLeft)
	assert.True(t, job.Important)
	assert.True(t, job.NextRun.Equal(t0.Add(90*time.Second)))

	f.clock.Advance(90 * time.Second)
	assert.Equal(t, 1, f.sched.Tick(ctx))
	assert.Equal(t, "🔔 Reminder:\ntea", f.sender.last())
	assert.Empty(t, f.svc.List(100, 7))
}

func TestRemindQuotaAndLength(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	for i := 0; i < DefaultLimitPerUser; i++ {
		job, err := f.svc.Remind(ctx, Request{ChatID: 1, UserID: 2, When: scheduler.In(time.Hour), Message: "m"})
		require.NoError(t, err)
		assert.Contains(t, job.Tags, string(rune('1'+i)))
	}
	_, err := f.svc.Remind(ctx, Request{ChatID: 1, UserID: 2, When: scheduler.In(time.Hour), Message: "m"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrQuota))
	assert.True(t, errors.Is(err, scheduler.ErrValidation))
	assert.Contains(t, scheduler.Reason(err), "4 reminders")

	// Same user in another chat has a separate quota.
	_, err = f.svc.Remind(ctx, Request{ChatID: 3, UserID: 2, When: scheduler.In(time.Hour), Message: "m"})
	require.NoError(t, err)

	long := make([]rune, DefaultMaxMessageLen+1)
	for i := range long {
		long[i] = 'é'
	}
	_, err = f.svc.Remind(ctx, Request{ChatID: 5, UserID: 2, When: scheduler.In(time.Hour), Message: string(long)})
	assert.True(t, errors.Is(err, ErrTooLong))

	_, err = f.svc.Remind(ctx, Request{ChatID: 5, UserID: 2, When: scheduler.In(time.Hour), Message: string(long[:DefaultMaxMessageLen])})
	assert.NoError(t, err)
}

func TestListAndClear(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	ctx := context.Background()
	_, err := f.svc.Remind(ctx, Request{ChatID: 1, UserID: 2, When: scheduler.In(2 * time.Hour), Message: "later"})
	require.NoError(t, err)
	_, err = f.svc.Remind(ctx, Request{ChatID: 1, UserID: 2, When: scheduler.In(time.Hour), Message: "sooner"})
	require.NoError(t, err)
	_, err = f.svc.Remind(ctx, Request{ChatID: 1, UserID: 9, When: scheduler.In(time.Hour), Message: "other user"})
	require.NoError(t, err)

	entries := f.svc.List(1, 2)
	require.Len(t, entries, 2)
	assert.Equal(t,
		"[2024-01-10 13:00:00]: \"sooner\"\n[2024-01-10 14:00:00]: \"later\"",
		FormatList(entries))
	assert.Equal(t, "(0) reminders scheduled.", FormatList(nil))

	n, err := f.svc.Clear(ctx, 1, 2)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Empty(t, f.svc.List(1, 2))
	assert.Len(t, f.svc.List(1, 9), 1)
}

func TestUserTagsOfDigitSplitPairsStayApart(t *testing.T) {
	t.Parallel()

	assert.NotEqual(t, UserTag(1, 23), UserTag(12, 3))
	assert.NotEqual(t, UserTag(-1, 23), UserTag(-12, 3))

	f := newFixture(t)
	ctx := context.Background()
	for i := 0; i < DefaultLimitPerUser; i++ {
		_, err := f.svc.Remind(ctx, Request{ChatID: 1, UserID: 23, When: scheduler.In(time.Hour), Message: "mine"})
		require.NoError(t, err)
	}
	// A full quota for (1, 23) does not spill into (12, 3).
	_, err := f.svc.Remind(ctx, Request{ChatID: 12, UserID: 3, When: scheduler.In(time.Hour), Message: "theirs"})
	require.NoError(t, err)

	require.Len(t, f.svc.List(12, 3), 1)
	assert.Equal(t, "theirs", f.svc.List(12, 3)[0].Message)
	assert.Len(t, f.svc.List(1, 23), DefaultLimitPerUser)

	n, err := f.svc.Clear(ctx, 12, 3)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Len(t, f.svc.List(1, 23), DefaultLimitPerUser)
}

func TestDeliverArgs(t *testing.T) {
	t.Parallel()

	id, msg, err := deliverArgs([]any{int64(5), "x"})
	require.NoError(t, err)
	assert.Equal(t, int64(5), id)
	assert.Equal(t, "x", msg)

	_, _, err = deliverArgs([]any{"5", "x"})
	assert.Error(t, err)
	_, _, err = deliverArgs([]any{int64(5)})
	assert.Error(t, err)
}

func TestRemindMeCommand(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	chat := &fakeSender{}
	r := router.New(logx.Nop(), chat, inlinePoster{})
	r.Register(f.svc.Commands(time.Nanosecond)...)
	say := func(text string) string {
		r.Route(context.Background(), kit.Update{Message: &kit.Message{ChatID: 1, FromID: 2, Text: text}})
		return chat.last()
	}

	assert.Equal(t, "⏰ Reminder set for 2024-01-10 15:26:01.", say("/remindme 3h,26m inhouses starting"))
	// Wednesday noon: next Monday at the current clock time.
	assert.Equal(t, "⏰ Reminder set for 2024-01-15 12:00:00.", say("/remindme monday workout day! i"))
	assert.Contains(t, say("/remindme soon tea"), "Bad time/time-format")
	assert.Contains(t, say("/remindme 1h"), "Usage:")

	entries := f.svc.List(1, 2)
	require.Len(t, entries, 2)
	assert.Equal(t, "inhouses starting", entries[0].Message)
	assert.Equal(t, "workout day!", entries[1].Message)
	jobs := f.sched.FindJobs(UserTag(1, 2))
	assert.False(t, jobs[0].Important)
	assert.True(t, jobs[1].Important)

	assert.Contains(t, say("/reminders"), "\"inhouses starting\"")
	assert.Equal(t, "Cleared 2 reminder(s).", say("/clearreminders"))
	assert.Equal(t, "(0) reminders scheduled.", say("/myreminders"))
}

type inlinePoster struct{}

func (inlinePoster) Post(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}
