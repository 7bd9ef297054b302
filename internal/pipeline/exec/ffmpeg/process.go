// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package ffmpeg supervises ffmpeg and ffprobe child processes and builds
// their argument lists.
package ffmpeg

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/ManuGH/vigil/internal/log"
	"github.com/ManuGH/vigil/internal/procgroup"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

var (
	startTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vigil_ffmpeg_start_total",
		Help: "Total number of ffmpeg process starts",
	}, []string{"role", "result"})

	exitTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "vigil_ffmpeg_exit_total",
		Help: "Total number of ffmpeg process exits",
	}, []string{"role", "reason"})
)

// ErrProcessExited is returned when writing to a process that already exited.
var ErrProcessExited = errors.New("process exited")

// DefaultTerminateGrace is the SIGTERM to SIGKILL escalation delay.
const DefaultTerminateGrace = 3 * time.Second

// Options configures a supervised child process.
type Options struct {
	Bin    string
	Args   []string
	Role   string // reader, passthrough, encode, probe; used for logs and metrics
	Stdin  bool   // expose a writable stdin pipe
	Stdout bool   // expose a readable stdout pipe
	// StderrLines is the number of stderr lines kept for diagnostics.
	StderrLines int
	// Grace overrides DefaultTerminateGrace.
	Grace time.Duration
	// Logger defaults to the ffmpeg component logger when nil.
	Logger *zerolog.Logger
}

// Process is a supervised child process. Crash detection is a single
// Exited check; Wait, Kill and Stop are safe to call from any goroutine.
type Process struct {
	cmd    *exec.Cmd
	role   string
	grace  time.Duration
	logger zerolog.Logger

	stdin  io.WriteCloser
	stdout io.ReadCloser
	ring   *LineRing

	waitCh chan error
	done   chan struct{}

	mu       sync.Mutex
	err      error
	stopping bool
	stopOnce sync.Once
	stopErr  error
}

// Start launches the process in its own process group. The context only
// bounds startup; the process lives until Stop or Kill.
func Start(ctx context.Context, opts Options) (*Process, error) {
	if opts.Bin == "" {
		return nil, fmt.Errorf("ffmpeg: missing binary")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	role := opts.Role
	if role == "" {
		role = "ffmpeg"
	}
	grace := opts.Grace
	if grace <= 0 {
		grace = DefaultTerminateGrace
	}
	logger := log.WithComponent("ffmpeg")
	if opts.Logger != nil {
		logger = *opts.Logger
	}
	logger = logger.With().Str("role", role).Logger()

	// #nosec G204 -- binary comes from operator config, args are built without a shell
	cmd := exec.Command(opts.Bin, opts.Args...)
	procgroup.Set(cmd)

	p := &Process{
		cmd:    cmd,
		role:   role,
		grace:  grace,
		logger: logger,
		ring:   NewLineRing(opts.StderrLines),
		waitCh: make(chan error, 1),
		done:   make(chan struct{}),
	}
	p.ring.OnLine = func(line string) {
		p.logger.Debug().Str(log.FieldEvent, "ffmpeg.stderr").Str("line", line).Msg("ffmpeg output")
	}
	cmd.Stderr = p.ring

	if opts.Stdin {
		w, err := cmd.StdinPipe()
		if err != nil {
			return nil, fmt.Errorf("stdin pipe: %w", err)
		}
		p.stdin = w
	}
	// A plain os.Pipe instead of StdoutPipe: Wait must not close the read
	// end while the frame reader still drains buffered output.
	var stdoutW *os.File
	if opts.Stdout {
		r, w, err := os.Pipe()
		if err != nil {
			return nil, fmt.Errorf("stdout pipe: %w", err)
		}
		p.stdout = r
		stdoutW = w
		cmd.Stdout = w
	}

	if err := cmd.Start(); err != nil {
		if stdoutW != nil {
			_ = stdoutW.Close()
			_ = p.stdout.Close()
		}
		startTotal.WithLabelValues(role, "error").Inc()
		return nil, fmt.Errorf("start %s: %w", role, err)
	}
	if stdoutW != nil {
		_ = stdoutW.Close()
	}
	startTotal.WithLabelValues(role, "ok").Inc()
	logger.Debug().
		Str(log.FieldEvent, "ffmpeg.started").
		Int(log.FieldPID, cmd.Process.Pid).
		Strs("args", redactArgs(opts.Args)).
		Msg("child process started")

	go p.supervise()
	return p, nil
}

func (p *Process) supervise() {
	err := p.cmd.Wait()

	p.mu.Lock()
	p.err = err
	stopping := p.stopping
	p.mu.Unlock()

	reason := "exit0"
	switch {
	case stopping:
		reason = "stopped"
	case err != nil:
		reason = "crashed"
	}
	exitTotal.WithLabelValues(p.role, reason).Inc()
	if reason == "crashed" {
		p.logger.Warn().
			Err(err).
			Str(log.FieldEvent, "ffmpeg.exited").
			Strs("stderr", p.ring.LastN(10)).
			Msg("child process exited unexpectedly")
	}

	close(p.done)
	p.waitCh <- err
}

// Stdin returns the writable stdin pipe, or nil when not requested.
func (p *Process) Stdin() io.WriteCloser { return p.stdin }

// Stdout returns the readable stdout pipe, or nil when not requested.
func (p *Process) Stdout() io.ReadCloser { return p.stdout }

// PID returns the OS process id.
func (p *Process) PID() int { return p.cmd.Process.Pid }

// Done is closed once the process has exited and its output was drained.
func (p *Process) Done() <-chan struct{} { return p.done }

// Exited reports whether the process has terminated.
func (p *Process) Exited() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

// Wait blocks until the process exits and returns its exit error.
func (p *Process) Wait() error {
	<-p.done
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

// ExitErr returns the exit error once exited, or nil while running.
func (p *Process) ExitErr() error {
	if !p.Exited() {
		return nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

// Stderr returns the last n redacted stderr lines.
func (p *Process) Stderr(n int) []string { return p.ring.LastN(n) }

// StderrContains reports whether recent stderr mentions any needle.
func (p *Process) StderrContains(needles ...string) bool { return p.ring.Contains(needles...) }

// Kill sends SIGKILL to the whole process group without waiting.
func (p *Process) Kill() error {
	p.markStopping()
	return procgroup.Kill(p.cmd, syscall.SIGKILL)
}

// Stop ends the process. With a stdin pipe it closes stdin so the encoder can
// flush and waits up to timeout; otherwise, or on timeout, the process group
// is terminated (SIGTERM, grace, SIGKILL). Stop is idempotent and returns
// the process exit error.
func (p *Process) Stop(timeout time.Duration) error {
	p.stopOnce.Do(func() {
		p.markStopping()
		p.stopErr = p.stop(timeout)
		if p.stdout != nil {
			_ = p.stdout.Close()
		}
	})
	return p.stopErr
}

func (p *Process) stop(timeout time.Duration) error {
	if p.stdin != nil {
		_ = p.stdin.Close()
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		select {
		case <-p.done:
			return p.Wait()
		case <-timer.C:
			p.logger.Warn().
				Str(log.FieldEvent, "ffmpeg.stop_timeout").
				Dur("timeout", timeout).
				Msg("process did not exit after stdin close, terminating")
		}
	}
	if p.Exited() {
		return p.Wait()
	}
	// Terminate consumes the supervisor's wait result; done is already
	// closed by the time that value is readable.
	return procgroup.Terminate(p.cmd, p.waitCh, p.grace)
}

func (p *Process) markStopping() {
	p.mu.Lock()
	p.stopping = true
	p.mu.Unlock()
}

func redactArgs(args []string) []string {
	out := make([]string, len(args))
	for i, a := range args {
		out[i] = Redact(a)
	}
	return out
}
