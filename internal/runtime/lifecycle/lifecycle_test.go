package lifecycle

import (
	"testing"

	"nelculobot/pkg/logx"
)

func TestExitCode(t *testing.T) {
	t.Parallel()

	cases := map[StopReason]int{
		StopRestart:    ExitRestart,
		StopFatalError: ExitFailure,
		StopSIGTERM:    ExitOK,
		StopAppStop:    ExitOK,
		StopUnknown:    ExitOK,
	}
	for r, want := range cases {
		if got := r.ExitCode(); got != want {
			t.Fatalf("%s.ExitCode() = %d, want %d", r, got, want)
		}
	}
}

func TestNotifierOutsideSystemd(t *testing.T) {
	t.Setenv("NOTIFY_SOCKET", "")
	n := NewNotifier(logx.Nop())
	n.Ready()
	n.Status("ok")
	n.Stopping()
}
