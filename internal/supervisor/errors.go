package supervisor

import "errors"

var (
	// ErrNotFound is returned when no record exists for a process id.
	ErrNotFound = errors.New("process not found")

	// ErrAlreadyRunning is returned by Start when the process is live.
	ErrAlreadyRunning = errors.New("process already running")

	// ErrInvalidCommand is returned when the command cannot be resolved,
	// e.g. no interpreter is configured or the script is missing.
	ErrInvalidCommand = errors.New("invalid command")

	// ErrSpawn is returned when the OS refuses to start the process.
	ErrSpawn = errors.New("failed to spawn process")

	// ErrStillRunning is returned by Remove for a live record.
	ErrStillRunning = errors.New("process still running")

	// ErrClosed is returned after ShutdownAll.
	ErrClosed = errors.New("supervisor is shut down")
)
