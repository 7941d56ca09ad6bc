// Package models defines the core domain types for the launcher.
package models

import "time"

// ProcessStatus represents the lifecycle state of a supervised process.
type ProcessStatus string

const (
	ProcessStatusStarting ProcessStatus = "starting"
	ProcessStatusRunning  ProcessStatus = "running"
	ProcessStatusStopped  ProcessStatus = "stopped"
	ProcessStatusError    ProcessStatus = "error"
)

// EndReason explains why a run left the running state.
type EndReason string

const (
	EndReasonNone       EndReason = ""
	EndReasonExited     EndReason = "exited"     // output reached EOF, process finished on its own
	EndReasonUnexpected EndReason = "unexpected" // pid vanished or was signalled by someone else
	EndReasonStopped    EndReason = "stopped"    // stopped through the supervisor
	EndReasonAborted    EndReason = "aborted"    // processor loop died
	EndReasonSpawnError EndReason = "spawn_error"
	EndReasonOrphaned   EndReason = "orphaned" // launcher died while the run was open
)

// Note returns the operator-facing status note for a reason.
func (r EndReason) Note() string {
	switch r {
	case EndReasonExited:
		return "ended, can restart"
	case EndReasonUnexpected:
		return "ended unexpectedly"
	case EndReasonStopped:
		return "stopped by user"
	case EndReasonAborted:
		return "output processing aborted"
	case EndReasonSpawnError:
		return "failed to start"
	case EndReasonOrphaned:
		return "launcher exited while running"
	default:
		return ""
	}
}

// CommandSpec is the fully resolved command used to launch a process.
type CommandSpec struct {
	Path     string            `json:"path"`
	Args     []string          `json:"args"`
	Dir      string            `json:"dir"`
	Env      map[string]string `json:"env,omitempty"`
	Encoding string            `json:"encoding"`
}

// ProcessInfo is a point-in-time snapshot of a supervised process.
type ProcessInfo struct {
	ID           string        `json:"id"`
	DisplayName  string        `json:"display_name"`
	ScriptPath   string        `json:"script_path"`
	Status       ProcessStatus `json:"status"`
	PID          int           `json:"pid,omitempty"`
	RunID        string        `json:"run_id,omitempty"`
	HasRunBefore bool          `json:"has_run_before"`
	EndReason    EndReason     `json:"end_reason,omitempty"`
	ExitCode     *int          `json:"exit_code,omitempty"`
	LastError    string        `json:"last_error,omitempty"`
	Command      *CommandSpec  `json:"command,omitempty"`
	StartedAt    *time.Time    `json:"started_at,omitempty"`
	EndedAt      *time.Time    `json:"ended_at,omitempty"`
	LogLines     int           `json:"log_lines"`
}

// Running reports whether the snapshot claims a live process.
func (p ProcessInfo) Running() bool {
	return p.Status == ProcessStatusRunning
}

// Span is a run of text sharing one style.
type Span struct {
	Text      string `json:"text"`
	Color     string `json:"color,omitempty"` // "#rrggbb", empty for default
	Bold      bool   `json:"bold,omitempty"`
	Italic    bool   `json:"italic,omitempty"`
	Underline bool   `json:"underline,omitempty"`
}

// LogEntryKind distinguishes process output from launcher-generated lines.
type LogEntryKind string

const (
	LogEntryOutput   LogEntryKind = "output"
	LogEntryMarker   LogEntryKind = "marker"
	LogEntryFallback LogEntryKind = "fallback"
)

// LogEntry is one display-ready log line.
type LogEntry struct {
	Seq   uint64       `json:"seq"`
	Kind  LogEntryKind `json:"kind"`
	Raw   string       `json:"raw"`
	Spans []Span       `json:"spans,omitempty"`
	Time  time.Time    `json:"time"`
}

// Text returns the entry without styling.
func (e LogEntry) Text() string {
	if len(e.Spans) == 0 {
		return e.Raw
	}
	n := 0
	for _, s := range e.Spans {
		n += len(s.Text)
	}
	buf := make([]byte, 0, n)
	for _, s := range e.Spans {
		buf = append(buf, s.Text...)
	}
	return string(buf)
}

// Run is a persisted record of one start of a process.
type Run struct {
	ID          string     `json:"id"`
	ProcessID   string     `json:"process_id"`
	DisplayName string     `json:"display_name"`
	Command     string     `json:"command"`
	Args        []string   `json:"args"`
	Dir         string     `json:"dir"`
	PID         int        `json:"pid"`
	EndReason   EndReason  `json:"end_reason,omitempty"`
	ExitCode    *int       `json:"exit_code,omitempty"`
	StartedAt   time.Time  `json:"started_at"`
	EndedAt     *time.Time `json:"ended_at,omitempty"`
}

// PDREntry represents a Process Decision Record for audit.
type PDREntry struct {
	ID         string    `json:"id"`
	Action     string    `json:"action"`
	InputsHash string    `json:"inputs_hash"`
	Outcome    string    `json:"outcome"`
	ProcessID  string    `json:"process_id,omitempty"`
	Details    string    `json:"details,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// StatusEvent is emitted whenever a process changes status.
type StatusEvent struct {
	ProcessID   string        `json:"process_id"`
	DisplayName string        `json:"display_name"`
	RunID       string        `json:"run_id"`
	Status      ProcessStatus `json:"status"`
	PID         int           `json:"pid,omitempty"`
	Reason      EndReason     `json:"reason,omitempty"`
	ExitCode    *int          `json:"exit_code,omitempty"`
	Command     *CommandSpec  `json:"command,omitempty"`
	Err         string        `json:"error,omitempty"`
	Time        time.Time     `json:"time"`
}
