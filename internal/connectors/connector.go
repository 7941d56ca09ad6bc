// Package connectors defines the OS process contracts used by the launcher.
package connectors

import (
	"context"
	"io"
	"time"

	"github.com/MaiM-with-u/MaiLuncher/internal/models"
)

// ExecResult holds the result of a one-shot command execution.
type ExecResult struct {
	Command  string   `json:"command"`
	Args     []string `json:"args"`
	ExitCode int      `json:"exit_code"`
	Stdout   string   `json:"stdout"`
	Stderr   string   `json:"stderr"`
}

// Connector runs short-lived commands to completion.
type Connector interface {
	// Name returns the connector identifier.
	Name() string

	// Execute runs a command and returns the result.
	Execute(ctx context.Context, cmd string, args []string) (*ExecResult, error)
}

// ExitState describes how a process finished.
type ExitState struct {
	Code     int
	Signaled bool
}

// Handle is an owned reference to a live child process.
type Handle interface {
	// PID returns the OS process id.
	PID() int

	// Output is the combined stdout/stderr stream.
	Output() io.Reader

	// Terminate asks the process to exit (SIGTERM where available).
	Terminate() error

	// Kill forcefully ends the process.
	Kill() error

	// Wait blocks until the process exits or the timeout passes and
	// reports whether it exited.
	Wait(timeout time.Duration) bool

	// ExitState returns the exit information once the process has been reaped.
	ExitState() (ExitState, bool)

	// Close releases the output stream, unblocking any pending read.
	Close() error
}

// Spawner launches long-running processes and answers pid-level queries
// that do not require a handle.
type Spawner interface {
	Name() string

	// Spawn starts spec with stdout and stderr merged into one stream.
	Spawn(spec models.CommandSpec) (Handle, error)

	// PIDExists reports whether the OS still knows pid as a live process.
	PIDExists(pid int) bool

	// TerminatePID and KillPID signal a process known only by pid.
	TerminatePID(pid int) error
	KillPID(pid int) error
}
