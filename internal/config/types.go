package config

import (
	"encoding/json"
)

// Config is the daemon configuration file (JSON or YAML).
//
// All durations are Go duration strings ("500ms", "10s", "1m").
type Config struct {
	Logging   LoggingConfig   `json:"logging"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Store     StoreConfig     `json:"store"`
	Bridge    BridgeConfig    `json:"bridge,omitempty"`
	Reminders RemindersConfig `json:"reminders,omitempty"`
	Telegram  TelegramConfig  `json:"telegram"`
	Diag      DiagConfig      `json:"diag,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
	Chat    LoggingChat `json:"chat"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// LoggingChat mirrors warn+ lines into telegram.log_chat.
type LoggingChat struct {
	Enabled    bool   `json:"enabled"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

// SchedulerConfig controls the tick loop.
//
// Defaults:
//   - tick_interval: "500ms"
//   - timezone: local
//   - backup_dir: "./data/backups"
type SchedulerConfig struct {
	TickInterval string       `json:"tick_interval,omitempty"`
	Timezone     string       `json:"timezone,omitempty"`
	BackupDir    string       `json:"backup_dir,omitempty"`
	BuiltinJobs  []BuiltinJob `json:"builtin_jobs,omitempty"`
}

// BuiltinJob is a job the daemon keeps alive by id. An existing stored job
// with the same id wins over the config entry.
type BuiltinJob struct {
	ID        string `json:"id"`
	Interval  int    `json:"interval"`
	Unit      string `json:"unit"`
	AtTime    string `json:"at_time,omitempty"`
	Action    string `json:"action"`
	Args      []any  `json:"args,omitempty"`
	RunsLeft  int    `json:"runs_left"`
	Important bool   `json:"important,omitempty"`
}

// Arguments returns Args with JSON numbers turned into int64 or float64.
func (b BuiltinJob) Arguments() []any {
	out := make([]any, len(b.Args))
	for i, a := range b.Args {
		out[i] = plainNumbers(a)
	}
	return out
}

func plainNumbers(v any) any {
	switch x := v.(type) {
	case json.Number:
		if i, err := x.Int64(); err == nil {
			return i
		}
		f, _ := x.Float64()
		return f
	case []any:
		out := make([]any, len(x))
		for i, vv := range x {
			out[i] = plainNumbers(vv)
		}
		return out
	case map[string]any:
		m := make(map[string]any, len(x))
		for k, vv := range x {
			m[k] = plainNumbers(vv)
		}
		return m
	default:
		return v
	}
}

// StoreConfig selects the job document backend.
//
// Example:
//
//	"store": { "driver": "sqlite", "path": "./data/jobs.db", "busy_timeout": "5s" }
type StoreConfig struct {
	Driver      string      `json:"driver"`
	Path        string      `json:"path,omitempty"`
	BusyTimeout string      `json:"busy_timeout,omitempty"` // sqlite
	Redis       RedisConfig `json:"redis,omitempty"`
}

type RedisConfig struct {
	Addr     string `json:"addr,omitempty"`
	Password string `json:"password,omitempty"` // do not log
	DB       int    `json:"db,omitempty"`
	Key      string `json:"key,omitempty"`
}

type BridgeConfig struct {
	// QueueSize bounds calls waiting for the host loop. Default 64.
	QueueSize int `json:"queue_size,omitempty"`
}

// RemindersConfig bounds user reminders. Zero values take the defaults
// (4 per user per chat, 150 characters, one command per 3s).
type RemindersConfig struct {
	LimitPerUser  int    `json:"limit_per_user,omitempty"`
	MaxMessageLen int    `json:"max_message_len,omitempty"`
	Cooldown      string `json:"cooldown,omitempty"`
}

type TelegramConfig struct {
	Enabled      bool    `json:"enabled"`
	Token        string  `json:"token"`
	OwnerUserIDs []int64 `json:"owner_user_ids"`
	// LogChat receives the chat log sink; 0 disables it.
	LogChat     int64  `json:"log_chat,omitempty"`
	PollTimeout string `json:"poll_timeout,omitempty"`
}

// DiagConfig controls the diagnostics HTTP server (health, metrics, jobs,
// pprof).
//
// Prefer a loopback address. A non-loopback address requires a token or an
// explicit allow_insecure.
type DiagConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"`  // default "127.0.0.1:6060"
	Token         string `json:"token,omitempty"` // bearer token, do not log
	AllowInsecure bool   `json:"allow_insecure,omitempty"`

	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"` // 0 keeps /debug/pprof/profile working
	IdleTimeout  string `json:"idle_timeout,omitempty"`
}
