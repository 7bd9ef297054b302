// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

//go:build linux

package procgroup

import (
	"errors"
	"os/exec"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startGroup(t *testing.T, script string) (*exec.Cmd, <-chan error) {
	t.Helper()
	cmd := exec.Command("sh", "-c", script)
	Set(cmd)
	require.NoError(t, cmd.Start())

	waitCh := make(chan error, 1)
	go func() { waitCh <- cmd.Wait() }()

	// give the shell a moment to fork its children
	time.Sleep(100 * time.Millisecond)
	return cmd, waitCh
}

func TestKillReachesWholeGroup(t *testing.T) {
	cmd, waitCh := startGroup(t, "sleep 10 & sleep 10")

	pid := cmd.Process.Pid
	pgid, err := syscall.Getpgid(pid)
	require.NoError(t, err)
	assert.Equal(t, pid, pgid, "process should be group leader")

	require.NoError(t, Kill(cmd, syscall.SIGKILL))

	err = <-waitCh
	require.Error(t, err)
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if status, ok := exitErr.Sys().(syscall.WaitStatus); ok {
			assert.True(t, status.Signaled())
			assert.Equal(t, syscall.SIGKILL, status.Signal())
		}
	}

	time.Sleep(50 * time.Millisecond)
	err = syscall.Kill(-pgid, syscall.Signal(0))
	if err == nil {
		_ = syscall.Kill(-pgid, syscall.SIGKILL)
		t.Fatalf("process group %d still exists after kill", pgid)
	}
	assert.ErrorIs(t, err, syscall.ESRCH)
}

func TestTerminateGracefulExit(t *testing.T) {
	cmd, waitCh := startGroup(t, "sleep 10")

	start := time.Now()
	err := Terminate(cmd, waitCh, 2*time.Second)
	require.Error(t, err, "SIGTERM exit is reported as non-zero")
	assert.Less(t, time.Since(start), 2*time.Second, "should not wait for the grace period")
}

func TestTerminateEscalatesToKill(t *testing.T) {
	cmd, waitCh := startGroup(t, "trap '' TERM; while true; do sleep 1; done")

	start := time.Now()
	err := Terminate(cmd, waitCh, 200*time.Millisecond)
	require.Error(t, err)
	assert.GreaterOrEqual(t, time.Since(start), 200*time.Millisecond)
}

func TestKillNilCommand(t *testing.T) {
	assert.NoError(t, Kill(nil, syscall.SIGTERM))
	assert.NoError(t, Terminate(nil, nil, time.Millisecond))
}
