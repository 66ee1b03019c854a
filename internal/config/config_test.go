package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleYAML = `
logging:
  level: debug
  console: true
scheduler:
  tick_interval: 250ms
  timezone: UTC
  builtin_jobs:
    - id: builtin.snapshot
      interval: 1
      unit: days
      at_time: "04:00"
      action: housekeeping.snapshot
      args: [3, 1.5, "x"]
      runs_left: 1000000
store:
  driver: sqlite
  path: ./data/jobs.db
telegram:
  enabled: false
  owner_user_ids: [42]
diag:
  enabled: true
  addr: 127.0.0.1:6061
`

func TestDecodeYAML(t *testing.T) {
	t.Parallel()

	cfg, err := Decode("remindd.yaml", []byte(sampleYAML))
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "250ms", cfg.Scheduler.TickInterval)
	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, []int64{42}, cfg.Telegram.OwnerUserIDs)
	require.Len(t, cfg.Scheduler.BuiltinJobs, 1)

	b := cfg.Scheduler.BuiltinJobs[0]
	assert.Equal(t, "housekeeping.snapshot", b.Action)
	assert.Equal(t, []any{int64(3), 1.5, "x"}, b.Arguments())
}

func TestDecodeStrict(t *testing.T) {
	t.Parallel()

	_, err := Decode("c.json", []byte(`{"logging": {"level": "info"}, "bogus": 1}`))
	assert.Error(t, err)

	_, err = Decode("c.json", []byte(`{"logging": {}} {"logging": {}}`))
	assert.Error(t, err)

	_, err = Decode("c.yml", []byte("store:\n  driver: [nope\n"))
	assert.Error(t, err)

	cfg, err := Decode("c.yaml", []byte(""))
	require.NoError(t, err)
	assert.Empty(t, cfg.Store.Driver)
}

func TestValidate(t *testing.T) {
	t.Parallel()

	cases := map[string]Config{
		"bad duration":       {Scheduler: SchedulerConfig{TickInterval: "soon"}},
		"negative duration":  {Reminders: RemindersConfig{Cooldown: "-1s"}},
		"bad zone":           {Scheduler: SchedulerConfig{Timezone: "Mars/Olympus"}},
		"unknown driver":     {Store: StoreConfig{Driver: "etcd"}},
		"redis without addr": {Store: StoreConfig{Driver: "redis"}},
		"telegram no token":  {Telegram: TelegramConfig{Enabled: true}},
		"public diag":        {Diag: DiagConfig{Enabled: true, Addr: "0.0.0.0:6060"}},
		"builtin no id":      {Scheduler: SchedulerConfig{BuiltinJobs: []BuiltinJob{{Action: "a", Interval: 1, RunsLeft: 1}}}},
		"builtin dup": {Scheduler: SchedulerConfig{BuiltinJobs: []BuiltinJob{
			{ID: "x", Action: "a", Interval: 1, RunsLeft: 1},
			{ID: "x", Action: "a", Interval: 1, RunsLeft: 1},
		}}},
	}
	for name, cfg := range cases {
		cfg := cfg
		assert.Error(t, Validate(&cfg), name)
	}

	ok := Config{
		Store: StoreConfig{Driver: "redis", Redis: RedisConfig{Addr: "localhost:6379"}},
		Diag:  DiagConfig{Enabled: true, Addr: "0.0.0.0:6060", Token: "secret"},
	}
	assert.NoError(t, Validate(&ok))
}

func TestParseDuration(t *testing.T) {
	t.Parallel()

	d, err := ParseDurationOrDefault("x", "", 3*time.Second)
	require.NoError(t, err)
	assert.Equal(t, 3*time.Second, d)

	d, err = ParseDurationOrDefault("x", "1m", 3*time.Second)
	require.NoError(t, err)
	assert.Equal(t, time.Minute, d)

	_, err = ParseDurationField("x", "abc")
	assert.ErrorContains(t, err, "x: invalid duration")
}

func TestIsLoopbackAddr(t *testing.T) {
	t.Parallel()

	assert.True(t, IsLoopbackAddr("127.0.0.1:6060"))
	assert.True(t, IsLoopbackAddr("localhost:1"))
	assert.True(t, IsLoopbackAddr("[::1]:80"))
	assert.False(t, IsLoopbackAddr(":6060"))
	assert.False(t, IsLoopbackAddr("10.0.0.1:6060"))
	assert.Equal(t, "127.0.0.1:6060", DiagAddr(DiagConfig{}))
}

func TestReloadPublishesChanges(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "remindd.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"logging": {"level": "info"}}`), 0o600))

	m := NewConfigManager(path)
	_, err := m.Load()
	require.NoError(t, err)
	ch := m.Subscribe(1)
	defer m.Unsubscribe(ch)

	published, err := m.Reload(context.Background())
	require.NoError(t, err)
	assert.False(t, published, "unchanged content is not republished")

	require.NoError(t, os.WriteFile(path, []byte(`{"logging": {"level": "debug"}}`), 0o600))
	published, err = m.Reload(context.Background())
	require.NoError(t, err)
	assert.True(t, published)
	assert.Equal(t, "debug", (<-ch).Logging.Level)
	assert.Equal(t, "debug", m.Get().Logging.Level)

	m.SetValidator(func(context.Context, *Config) error { return assert.AnError })
	require.NoError(t, os.WriteFile(path, []byte(`{"logging": {"level": "warn"}}`), 0o600))
	_, err = m.Reload(context.Background())
	assert.Error(t, err)
	assert.Equal(t, "debug", m.Get().Logging.Level)
}

func TestSummarizeChange(t *testing.T) {
	t.Parallel()

	a := &Config{Logging: LoggingConfig{Level: "info"}, Diag: DiagConfig{Token: "one"}}
	b := &Config{Logging: LoggingConfig{Level: "debug"}, Diag: DiagConfig{Token: "two"}, Store: StoreConfig{Driver: "sqlite"}}

	changed, attrs := SummarizeChange(a, b)
	assert.Equal(t, []string{"logging", "store", "diag"}, changed)
	assert.NotEmpty(t, attrs)
	assert.Equal(t, []string{"store"}, RestartRequired(a, b))

	changed, _ = SummarizeChange(a, a)
	assert.Empty(t, changed)
}

func TestExampleConfigDecodes(t *testing.T) {
	t.Parallel()

	b, err := os.ReadFile(filepath.Join("..", "..", "config.example.yaml"))
	require.NoError(t, err)
	cfg, err := Decode("config.example.yaml", b)
	require.NoError(t, err)
	assert.Equal(t, "housekeeping.snapshot", cfg.Scheduler.BuiltinJobs[0].Action)
	assert.Equal(t, []any{int64(7)}, cfg.Scheduler.BuiltinJobs[0].Arguments())
	assert.Equal(t, []int64{11111111}, cfg.Telegram.OwnerUserIDs)
}
