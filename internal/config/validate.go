package config

import (
	"net"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
)

// Validate checks values a decoder cannot: durations, zones, drivers and
// builtin jobs. It does not check that actions exist.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error
	check := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}

	for path, raw := range map[string]string{
		"scheduler.tick_interval": cfg.Scheduler.TickInterval,
		"store.busy_timeout":      cfg.Store.BusyTimeout,
		"reminders.cooldown":      cfg.Reminders.Cooldown,
		"telegram.poll_timeout":   cfg.Telegram.PollTimeout,
		"diag.read_timeout":       cfg.Diag.ReadTimeout,
		"diag.write_timeout":      cfg.Diag.WriteTimeout,
		"diag.idle_timeout":       cfg.Diag.IdleTimeout,
	} {
		_, err := ParseDurationField(path, raw)
		check(err)
	}

	if tz := strings.TrimSpace(cfg.Scheduler.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			check(errors.Wrapf(err, "scheduler.timezone %q", tz))
		}
	}

	switch strings.ToLower(strings.TrimSpace(cfg.Store.Driver)) {
	case "", "file", "json", "sqlite", "sqlite3":
	case "redis":
		if strings.TrimSpace(cfg.Store.Redis.Addr) == "" {
			check(errors.New("store.redis.addr is required for the redis driver"))
		}
	default:
		check(errors.Newf("store.driver: unknown driver %q", cfg.Store.Driver))
	}

	seen := map[string]bool{}
	for i, b := range cfg.Scheduler.BuiltinJobs {
		id := strings.TrimSpace(b.ID)
		switch {
		case id == "":
			check(errors.Newf("scheduler.builtin_jobs[%d]: id is required", i))
		case seen[id]:
			check(errors.Newf("scheduler.builtin_jobs[%d]: duplicate id %q", i, id))
		}
		seen[id] = true
		if strings.TrimSpace(b.Action) == "" {
			check(errors.Newf("scheduler.builtin_jobs[%d]: action is required", i))
		}
		if b.Interval <= 0 || b.RunsLeft <= 0 {
			check(errors.Newf("scheduler.builtin_jobs[%d]: interval and runs_left must be > 0", i))
		}
	}

	if cfg.Telegram.Enabled && strings.TrimSpace(cfg.Telegram.Token) == "" {
		check(errors.New("telegram.token is required when telegram is enabled"))
	}
	if cfg.Reminders.LimitPerUser < 0 || cfg.Reminders.MaxMessageLen < 0 {
		check(errors.New("reminders limits must be >= 0"))
	}

	if cfg.Diag.Enabled {
		addr := DiagAddr(cfg.Diag)
		if _, _, err := net.SplitHostPort(addr); err != nil {
			check(errors.Wrapf(err, "diag.addr %q", addr))
		} else if !IsLoopbackAddr(addr) && strings.TrimSpace(cfg.Diag.Token) == "" && !cfg.Diag.AllowInsecure {
			check(errors.WithHint(
				errors.Newf("diag.addr %q is not loopback", addr),
				"set diag.token or diag.allow_insecure"))
		}
	}

	return errors.Join(errs...)
}

// DiagAddr is the configured diag listen address or the loopback default.
func DiagAddr(d DiagConfig) string {
	if a := strings.TrimSpace(d.Addr); a != "" {
		return a
	}
	return "127.0.0.1:6060"
}

// IsLoopbackAddr reports whether addr only listens on loopback.
func IsLoopbackAddr(addr string) bool {
	host, _, err := net.SplitHostPort(strings.TrimSpace(addr))
	if err != nil {
		return false
	}
	if strings.EqualFold(host, "localhost") {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
