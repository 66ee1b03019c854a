package app

import (
	"strings"
	"time"

	"github.com/cockroachdb/errors"

	"remindd/internal/action"
	"remindd/internal/config"
	"remindd/internal/diag"
	"remindd/internal/storage"
	"remindd/internal/task/scheduler"
	logx "remindd/pkg/logx"
)

func mapLoggingConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
		Chat: logx.ChatConfig{
			Enabled:    cfg.Logging.Chat.Enabled && cfg.Telegram.LogChat != 0,
			ChatID:     cfg.Telegram.LogChat,
			MinLevel:   cfg.Logging.Chat.MinLevel,
			RatePerSec: cfg.Logging.Chat.RatePerSec,
		},
	}
}

func mapStorageConfig(cfg *config.Config) (storage.Config, error) {
	sc := cfg.Store
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	path := strings.TrimSpace(sc.Path)
	switch driver {
	case "", "file", "json":
		if path == "" {
			path = "./data/jobs.json"
		}
		return storage.Config{Driver: "file", Path: path}, nil
	case "sqlite", "sqlite3":
		if path == "" {
			path = "./data/jobs.db"
		}
		busy, err := config.ParseDurationOrDefault("store.busy_timeout", sc.BusyTimeout, time.Second)
		if err != nil {
			return storage.Config{}, err
		}
		return storage.Config{Driver: "sqlite", Path: path, BusyTimeout: busy}, nil
	default:
		return storage.Config{
			Driver:        driver,
			RedisAddr:     sc.Redis.Addr,
			RedisPassword: sc.Redis.Password,
			RedisDB:       sc.Redis.DB,
			RedisKey:      sc.Redis.Key,
		}, nil
	}
}

func mapSchedulerConfig(cfg *config.Config) (scheduler.Config, error) {
	tick, err := config.ParseDurationOrDefault("scheduler.tick_interval", cfg.Scheduler.TickInterval, 500*time.Millisecond)
	if err != nil {
		return scheduler.Config{}, err
	}
	return scheduler.Config{TickInterval: tick, Timezone: cfg.Scheduler.Timezone}, nil
}

func mapDiagConfig(cfg *config.Config) (diag.Config, error) {
	d := cfg.Diag
	read, err := config.ParseDurationOrDefault("diag.read_timeout", d.ReadTimeout, 10*time.Second)
	if err != nil {
		return diag.Config{}, err
	}
	// A zero write timeout keeps long pprof profiles working.
	write, err := config.ParseDurationField("diag.write_timeout", d.WriteTimeout)
	if err != nil {
		return diag.Config{}, err
	}
	idle, err := config.ParseDurationOrDefault("diag.idle_timeout", d.IdleTimeout, 60*time.Second)
	if err != nil {
		return diag.Config{}, err
	}
	return diag.Config{
		Enabled:       d.Enabled,
		Addr:          config.DiagAddr(d),
		Token:         strings.TrimSpace(d.Token),
		AllowInsecure: d.AllowInsecure,
		ReadTimeout:   read,
		WriteTimeout:  write,
		IdleTimeout:   idle,
	}, nil
}

func builtinSpec(b config.BuiltinJob) (scheduler.Spec, error) {
	unit, ok := scheduler.ParseUnit(b.Unit)
	if !ok {
		return scheduler.Spec{}, errors.Newf("scheduler.builtin_jobs %q: unknown unit %q", b.ID, b.Unit)
	}
	return scheduler.Spec{
		ID:        strings.TrimSpace(b.ID),
		Interval:  b.Interval,
		Unit:      unit,
		AtTime:    b.AtTime,
		Action:    action.Ref(strings.TrimSpace(b.Action)),
		Args:      b.Arguments(),
		Tags:      []string{"builtin"},
		RunsLeft:  b.RunsLeft,
		Important: b.Important,
	}, nil
}
