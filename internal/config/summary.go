package config

import (
	"reflect"
	"strings"

	logx "remindd/pkg/logx"
)

// SummarizeChange lists the sections that differ between two configs and
// safe fields for logging them. Secrets are reported only as set or unset.
func SummarizeChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}
	var changed []string
	var attrs []logx.Field

	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file", newCfg.Logging.File.Enabled),
			logx.Bool("logging.chat", newCfg.Logging.Chat.Enabled),
		)
	}
	if !reflect.DeepEqual(oldCfg.Scheduler, newCfg.Scheduler) {
		changed = append(changed, "scheduler")
		attrs = append(attrs,
			logx.String("scheduler.tick_interval", newCfg.Scheduler.TickInterval),
			logx.String("scheduler.timezone", newCfg.Scheduler.Timezone),
			logx.Int("scheduler.builtin_jobs", len(newCfg.Scheduler.BuiltinJobs)),
		)
	}
	if !reflect.DeepEqual(oldCfg.Store, newCfg.Store) {
		changed = append(changed, "store")
		attrs = append(attrs, logx.String("store.driver", newCfg.Store.Driver))
	}
	if oldCfg.Bridge != newCfg.Bridge {
		changed = append(changed, "bridge")
	}
	if oldCfg.Reminders != newCfg.Reminders {
		changed = append(changed, "reminders")
		attrs = append(attrs,
			logx.Int("reminders.limit_per_user", newCfg.Reminders.LimitPerUser),
			logx.String("reminders.cooldown", newCfg.Reminders.Cooldown),
		)
	}
	if !reflect.DeepEqual(oldCfg.Telegram, newCfg.Telegram) {
		changed = append(changed, "telegram")
		attrs = append(attrs,
			logx.Bool("telegram.enabled", newCfg.Telegram.Enabled),
			logx.Bool("telegram.token_set", strings.TrimSpace(newCfg.Telegram.Token) != ""),
			logx.Int("telegram.owner_count", len(newCfg.Telegram.OwnerUserIDs)),
		)
	}
	if oldCfg.Diag != newCfg.Diag {
		changed = append(changed, "diag")
		attrs = append(attrs,
			logx.Bool("diag.enabled", newCfg.Diag.Enabled),
			logx.String("diag.addr", DiagAddr(newCfg.Diag)),
			logx.Bool("diag.token_set", strings.TrimSpace(newCfg.Diag.Token) != ""),
		)
	}
	return changed, attrs
}

// RestartRequired reports changes that only take effect after a restart.
func RestartRequired(oldCfg, newCfg *Config) []string {
	if oldCfg == nil || newCfg == nil {
		return nil
	}
	var out []string
	if !reflect.DeepEqual(oldCfg.Store, newCfg.Store) {
		out = append(out, "store")
	}
	if oldCfg.Scheduler.TickInterval != newCfg.Scheduler.TickInterval ||
		oldCfg.Scheduler.Timezone != newCfg.Scheduler.Timezone ||
		!reflect.DeepEqual(oldCfg.Scheduler.BuiltinJobs, newCfg.Scheduler.BuiltinJobs) {
		out = append(out, "scheduler")
	}
	if oldCfg.Bridge != newCfg.Bridge {
		out = append(out, "bridge")
	}
	if !reflect.DeepEqual(oldCfg.Telegram, newCfg.Telegram) {
		out = append(out, "telegram")
	}
	return out
}
