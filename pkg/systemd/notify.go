// Package systemd speaks the sd_notify protocol. Every call is a no-op
// when the process was not started by systemd.
package systemd

import (
	"context"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	logx "remindd/pkg/logx"
)

type Notifier struct {
	log    logx.Logger
	notify func(unset bool, state string) (bool, error)
}

func NewNotifier(log logx.Logger) *Notifier {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Notifier{log: log, notify: daemon.SdNotify}
}

func (n *Notifier) send(state string) {
	sent, err := n.notify(false, state)
	if err != nil {
		n.log.Warn("sd_notify failed", logx.String("state", state), logx.Err(err))
		return
	}
	if sent {
		n.log.Debug("sd_notify", logx.String("state", state))
	}
}

func (n *Notifier) Ready()    { n.send(daemon.SdNotifyReady) }
func (n *Notifier) Stopping() { n.send(daemon.SdNotifyStopping) }

// Reloading brackets a config reload; call done when it has been applied.
func (n *Notifier) Reloading() (done func()) {
	n.send(daemon.SdNotifyReloading)
	return n.Ready
}

// Status sets the one-line status shown by systemctl.
func (n *Notifier) Status(msg string) { n.send("STATUS=" + msg) }

// Watchdog pings the service manager at half the configured WatchdogSec
// until ctx ends. It returns at once when no watchdog is configured.
func (n *Notifier) Watchdog(ctx context.Context) error {
	every, err := daemon.SdWatchdogEnabled(false)
	if err != nil || every <= 0 {
		return nil
	}
	t := time.NewTicker(every / 2)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			n.send(daemon.SdNotifyWatchdog)
		}
	}
}
