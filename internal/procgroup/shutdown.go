// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package procgroup

import (
	"os/exec"
	"strings"
	"syscall"
	"time"

	"github.com/ManuGH/vigil/internal/metrics"
)

// Terminate stops a process group: SIGTERM, wait up to grace for waitCh,
// then SIGKILL and drain waitCh. It returns the result read from waitCh.
// waitCh must deliver exactly one value once cmd.Wait returns.
// It is safe to call on nil commands (returns nil).
func Terminate(cmd *exec.Cmd, waitCh <-chan error, grace time.Duration) error {
	if cmd == nil || cmd.Process == nil {
		return nil
	}

	signalGroup(cmd, syscall.SIGTERM)

	timer := time.NewTimer(grace)
	defer timer.Stop()

	select {
	case err := <-waitCh:
		if err == nil {
			metrics.IncProcWait("exit0")
		} else {
			metrics.IncProcWait("exit_nonzero")
		}
		return err
	case <-timer.C:
		signalGroup(cmd, syscall.SIGKILL)

		// SIGKILL cannot be ignored; the wait result still has to be consumed
		// so the supervisor goroutine does not leak.
		err := <-waitCh
		if err == nil {
			metrics.IncProcWait("forced_exit0")
		} else {
			metrics.IncProcWait("forced_error")
		}
		return err
	}
}

func signalGroup(cmd *exec.Cmd, sig syscall.Signal) {
	name := "SIGTERM"
	if sig == syscall.SIGKILL {
		name = "SIGKILL"
	}
	err := Kill(cmd, sig)
	switch {
	case err == nil:
		metrics.IncProcTerminate(name, "sent")
	case strings.Contains(err.Error(), "process already finished"), strings.Contains(err.Error(), "no such process"):
		metrics.IncProcTerminate(name, "esrch")
	default:
		metrics.IncProcTerminate(name, "error")
	}
}
