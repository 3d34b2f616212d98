// Package pty spawns the shared script under a pseudo-terminal and owns the
// child process lifecycle: spawn, process-group termination, and reaping.
package pty

import (
	"fmt"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/creack/pty"
	"golang.org/x/sys/unix"

	"github.com/lwneal/sharescript/internal/model"
)

const (
	// DefaultRows is the fixed terminal height for spawned scripts.
	DefaultRows = 30

	// DefaultCols is the fixed terminal width for spawned scripts.
	DefaultCols = 120

	// ReadChunkSize is the maximum number of bytes read from the PTY
	// master per iteration.
	ReadChunkSize = 4096
)

// Supervisor allocates pseudo-terminals and spawns the target script as a
// child attached to the secondary side, in its own session and process group.
type Supervisor struct {
	Rows uint16
	Cols uint16
}

// NewSupervisor creates a Supervisor with the default terminal geometry.
func NewSupervisor() *Supervisor {
	return &Supervisor{
		Rows: DefaultRows,
		Cols: DefaultCols,
	}
}

// Process is a script child running under a PTY. The master file is owned
// exclusively by the caller while the process is alive.
type Process struct {
	// Master is the primary side of the pseudo-terminal.
	Master *os.File

	// Cmd is the underlying exec.Cmd.
	Cmd *exec.Cmd

	pid      int
	waitOnce sync.Once
	exitCode int
	waitErr  error
	done     chan struct{}
}

// Spawn starts the script at path under a fresh PTY. The script runs via
// /bin/bash so it does not itself need the executable bit, matching how the
// shared script has always been invoked. A missing script is reported as
// model.ErrScriptNotFound so callers can decide how to handle it.
func (s *Supervisor) Spawn(path string) (*Process, error) {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", model.ErrScriptNotFound, path)
		}
		return nil, fmt.Errorf("failed to stat script: %w", err)
	}

	rows, cols := s.Rows, s.Cols
	if rows == 0 {
		rows = DefaultRows
	}
	if cols == 0 {
		cols = DefaultCols
	}

	cmd := exec.Command("/bin/bash", path)
	cmd.Env = append(os.Environ(),
		"TERM=xterm-256color",
		fmt.Sprintf("LINES=%d", rows),
		fmt.Sprintf("COLUMNS=%d", cols),
	)

	// StartWithSize puts the child in a new session with the PTY as its
	// controlling terminal and closes the secondary side in this process.
	master, err := pty.StartWithSize(cmd, &pty.Winsize{Rows: rows, Cols: cols})
	if err != nil {
		return nil, fmt.Errorf("failed to start PTY: %w", err)
	}

	return &Process{
		Master: master,
		Cmd:    cmd,
		pid:    cmd.Process.Pid,
		done:   make(chan struct{}),
	}, nil
}

// PID returns the process ID of the child.
func (p *Process) PID() int {
	return p.pid
}

// Wait reaps the child and returns its exit code. Safe to call from multiple
// goroutines; all callers observe the same result. Returns -1 with an error
// only for wait-level failures, and -1 with nil error when the child was
// killed by a signal.
func (p *Process) Wait() (int, error) {
	p.waitOnce.Do(func() {
		err := p.Cmd.Wait()
		if err != nil {
			if exitErr, ok := err.(*exec.ExitError); ok {
				p.exitCode = exitErr.ExitCode()
			} else {
				p.exitCode = -1
				p.waitErr = err
			}
		}
		close(p.done)
	})
	<-p.done
	return p.exitCode, p.waitErr
}

// Terminate signals the child's entire process group with SIGTERM, since the
// script may have spawned descendants of its own. If the child has not been
// reaped within the grace period the group is killed with SIGKILL.
func (p *Process) Terminate(grace time.Duration) {
	unix.Kill(-p.pid, unix.SIGTERM)

	select {
	case <-p.done:
	case <-time.After(grace):
		unix.Kill(-p.pid, unix.SIGKILL)
	}
}

// Close releases the PTY master descriptor.
func (p *Process) Close() error {
	return p.Master.Close()
}
