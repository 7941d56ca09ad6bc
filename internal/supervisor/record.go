package supervisor

import (
	"fmt"
	"sync"
	"time"

	"github.com/MaiM-with-u/MaiLuncher/internal/connectors"
	"github.com/MaiM-with-u/MaiLuncher/internal/models"
	"go.uber.org/zap"
)

// FallbackColor is used for lines the formatter could not handle and for
// launcher error markers.
const FallbackColor = "#ff5555"

// runState is everything one start of a process shares with its reader
// and processor goroutines. It never changes after the goroutines start.
type runState struct {
	id     string
	pid    int
	handle connectors.Handle
	queue  *lineQueue
	stop   *stopSignal
	log    *zap.Logger
}

// record is one supervised process, keyed by its caller-chosen id.
// All fields are guarded by mu.
type record struct {
	id string

	mu           sync.Mutex
	displayName  string
	scriptPath   string
	resolver     Resolver
	command      *models.CommandSpec
	handle       connectors.Handle
	pid          int
	status       models.ProcessStatus
	hasRunBefore bool
	run          *runState
	endReason    models.EndReason
	exitCode     *int
	lastErr      string
	startedAt    time.Time
	endedAt      time.Time

	logs    []models.LogEntry
	logCap  int
	nextSeq uint64
}

func newRecord(id string, logCap int) *record {
	return &record{
		id:     id,
		status: models.ProcessStatusStopped,
		logCap: logCap,
	}
}

// appendLocked adds entries to the log buffer, assigning sequence numbers,
// and trims the oldest entries beyond the cap. It returns the numbered
// entries.
func (r *record) appendLocked(entries ...models.LogEntry) []models.LogEntry {
	if len(entries) == 0 {
		return nil
	}
	out := make([]models.LogEntry, len(entries))
	for i, e := range entries {
		r.nextSeq++
		e.Seq = r.nextSeq
		out[i] = e
	}
	r.logs = append(r.logs, out...)

	if excess := len(r.logs) - r.logCap; excess > 0 {
		n := copy(r.logs, r.logs[excess:])
		clear(r.logs[n:])
		r.logs = r.logs[:n]
	}
	return out
}

func (r *record) infoLocked() models.ProcessInfo {
	info := models.ProcessInfo{
		ID:           r.id,
		DisplayName:  r.displayName,
		ScriptPath:   r.scriptPath,
		Status:       r.status,
		PID:          r.pid,
		HasRunBefore: r.hasRunBefore,
		EndReason:    r.endReason,
		ExitCode:     copyInt(r.exitCode),
		LastError:    r.lastErr,
		LogLines:     len(r.logs),
	}
	if r.run != nil {
		info.RunID = r.run.id
	}
	if r.command != nil {
		cmd := *r.command
		info.Command = &cmd
	}
	if !r.startedAt.IsZero() {
		t := r.startedAt
		info.StartedAt = &t
	}
	if !r.endedAt.IsZero() {
		t := r.endedAt
		info.EndedAt = &t
	}
	return info
}

func (r *record) eventLocked(pid int) models.StatusEvent {
	ev := models.StatusEvent{
		ProcessID:   r.id,
		DisplayName: r.displayName,
		Status:      r.status,
		PID:         pid,
		Reason:      r.endReason,
		ExitCode:    copyInt(r.exitCode),
		Command:     r.command,
		Err:         r.lastErr,
		Time:        time.Now().UTC(),
	}
	if r.run != nil {
		ev.RunID = r.run.id
	}
	return ev
}

// logsLocked returns entries with Seq > after, limited to the last tail
// entries when tail > 0.
func (r *record) logsLocked(after uint64, tail int) []models.LogEntry {
	start := len(r.logs)
	for start > 0 && r.logs[start-1].Seq > after {
		start--
	}
	if tail > 0 && len(r.logs)-start > tail {
		start = len(r.logs) - tail
	}
	out := make([]models.LogEntry, len(r.logs)-start)
	copy(out, r.logs[start:])
	return out
}

func markerEntry(text string) models.LogEntry {
	return models.LogEntry{
		Kind:  models.LogEntryMarker,
		Raw:   text,
		Spans: []models.Span{{Text: text, Italic: true}},
		Time:  time.Now().UTC(),
	}
}

func errorMarkerEntry(text string) models.LogEntry {
	e := markerEntry(text)
	e.Spans[0].Color = FallbackColor
	return e
}

func fallbackEntry(raw string) models.LogEntry {
	return models.LogEntry{
		Kind:  models.LogEntryFallback,
		Raw:   raw,
		Spans: []models.Span{{Text: raw, Color: FallbackColor}},
		Time:  time.Now().UTC(),
	}
}

func endMarker(id string, reason models.EndReason, code *int) models.LogEntry {
	switch reason {
	case models.EndReasonExited:
		if code != nil {
			return markerEntry(fmt.Sprintf("--- Process '%s' finished (exit code %d) ---", id, *code))
		}
		return markerEntry(fmt.Sprintf("--- Process '%s' finished ---", id))
	case models.EndReasonUnexpected:
		return errorMarkerEntry(fmt.Sprintf("--- Process '%s' ended unexpectedly ---", id))
	case models.EndReasonStopped:
		return markerEntry(fmt.Sprintf("--- Process '%s' stopped ---", id))
	default:
		return errorMarkerEntry(fmt.Sprintf("--- Process '%s' %s ---", id, reason.Note()))
	}
}

func copyInt(p *int) *int {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
