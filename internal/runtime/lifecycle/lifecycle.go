// Package lifecycle carries the shutdown vocabulary shared by the app and
// cmd/bot: why the process stops, which exit code that maps to, and the
// service manager notifications sent along the way.
package lifecycle

import (
	"github.com/coreos/go-systemd/v22/daemon"

	"nelculobot/pkg/logx"
)

type StopReason string

const (
	StopUnknown    StopReason = "unknown"
	StopSIGINT     StopReason = "sigint"
	StopSIGTERM    StopReason = "sigterm"
	StopFatalError StopReason = "fatal_error"
	StopAppStop    StopReason = "app_stop"
	// StopRestart is requested by the admin through /restart.
	StopRestart StopReason = "restart"
)

const (
	ExitOK      = 0
	ExitFailure = 1
	// ExitRestart asks the process manager to start the binary again.
	ExitRestart = 3
)

// ExitCode maps a stop reason to the process exit code.
func (r StopReason) ExitCode() int {
	switch r {
	case StopRestart:
		return ExitRestart
	case StopFatalError:
		return ExitFailure
	default:
		return ExitOK
	}
}

// Notifier sends sd_notify state changes when running under systemd.
// Outside systemd (no NOTIFY_SOCKET) every call is a no-op.
type Notifier struct {
	log logx.Logger
}

func NewNotifier(log logx.Logger) Notifier { return Notifier{log: log} }

func (n Notifier) Ready()     { n.send(daemon.SdNotifyReady) }
func (n Notifier) Stopping()  { n.send(daemon.SdNotifyStopping) }
func (n Notifier) Reloading() { n.send(daemon.SdNotifyReloading) }

// Status publishes a free-form status line (systemctl status).
func (n Notifier) Status(s string) { n.send("STATUS=" + s) }

func (n Notifier) send(state string) {
	sent, err := daemon.SdNotify(false, state)
	if err != nil {
		n.log.Warn("sd_notify failed", logx.String("state", state), logx.Err(err))
		return
	}
	if sent {
		n.log.Debug("sd_notify sent", logx.String("state", state))
	}
}
