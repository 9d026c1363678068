// Package systemd reports service state to the systemd manager.
package systemd

import (
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"github.com/smazurov/monocam/internal/logging"
)

// Notifier sends sd_notify messages. Every method is a no-op when the
// process was not started by systemd.
type Notifier struct {
	logger   logging.Logger
	interval time.Duration
	notify   func(state string) (bool, error)
}

// NewNotifier creates a notifier and reads the watchdog interval from the
// environment.
func NewNotifier(logger logging.Logger) *Notifier {
	n := &Notifier{
		logger: logger,
		notify: func(state string) (bool, error) {
			return daemon.SdNotify(false, state)
		},
	}
	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil {
		logger.Warn("Invalid watchdog configuration", "error", err)
	}
	n.interval = interval
	if interval > 0 {
		logger.Info("systemd watchdog enabled", "interval", interval)
	}
	return n
}

// WatchdogInterval returns the interval systemd expects pings within, or 0
// when the watchdog is disabled.
func (n *Notifier) WatchdogInterval() time.Duration {
	return n.interval
}

// PingPeriod returns how often the diagnostics job should run to keep the
// watchdog fed, or fallback when the watchdog is disabled.
func (n *Notifier) PingPeriod(fallback time.Duration) time.Duration {
	if n.interval <= 0 {
		return fallback
	}
	return min(fallback, n.interval/2)
}

// Ready tells systemd that startup finished.
func (n *Notifier) Ready() {
	n.send(daemon.SdNotifyReady)
}

// Stopping tells systemd that shutdown began.
func (n *Notifier) Stopping() {
	n.send(daemon.SdNotifyStopping)
}

// Status sets the free-form status line shown by systemctl.
func (n *Notifier) Status(status string) {
	n.send("STATUS=" + status)
}

// Ping feeds the watchdog.
func (n *Notifier) Ping() error {
	if n.interval <= 0 {
		return nil
	}
	_, err := n.notify(daemon.SdNotifyWatchdog)
	return err
}

func (n *Notifier) send(state string) {
	sent, err := n.notify(state)
	if err != nil {
		n.logger.Debug("sd_notify failed", "state", state, "error", err)
		return
	}
	if sent {
		n.logger.Debug("sd_notify sent", "state", state)
	}
}
