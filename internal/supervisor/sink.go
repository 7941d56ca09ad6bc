package supervisor

import (
	"github.com/MaiM-with-u/MaiLuncher/internal/models"
)

// Sink receives log batches and status changes from the supervisor.
// Callbacks run on supervisor goroutines and must not block for long.
type Sink interface {
	// OnLogBatch delivers newly buffered entries, in order.
	OnLogBatch(processID string, entries []models.LogEntry)

	// OnStatusChange is called after every status transition.
	OnStatusChange(ev models.StatusEvent)

	// Visible reports whether anyone is looking at processID's log.
	// Log batches for invisible processes are not delivered.
	Visible(processID string) bool
}

// NopSink discards everything.
type NopSink struct{}

func (NopSink) OnLogBatch(string, []models.LogEntry) {}
func (NopSink) OnStatusChange(models.StatusEvent)    {}
func (NopSink) Visible(string) bool                  { return false }

// MultiSink fans notifications out to several sinks. A log batch reaches
// only the sinks that report the process as visible.
type MultiSink []Sink

func (m MultiSink) OnLogBatch(processID string, entries []models.LogEntry) {
	for _, s := range m {
		if s.Visible(processID) {
			s.OnLogBatch(processID, entries)
		}
	}
}

func (m MultiSink) OnStatusChange(ev models.StatusEvent) {
	for _, s := range m {
		s.OnStatusChange(ev)
	}
}

func (m MultiSink) Visible(processID string) bool {
	for _, s := range m {
		if s.Visible(processID) {
			return true
		}
	}
	return false
}

// LineFormatter turns a raw output line into styled spans.
type LineFormatter interface {
	Format(line string) ([]models.Span, error)
}

// FormatterFunc adapts a function to LineFormatter.
type FormatterFunc func(line string) ([]models.Span, error)

func (f FormatterFunc) Format(line string) ([]models.Span, error) {
	return f(line)
}

type plainFormatter struct{}

func (plainFormatter) Format(line string) ([]models.Span, error) {
	return []models.Span{{Text: line}}, nil
}

// Resolver turns a script path into the command that runs it.
type Resolver interface {
	Resolve(scriptPath string) (models.CommandSpec, error)
}

// ResolverFunc adapts a function to Resolver.
type ResolverFunc func(scriptPath string) (models.CommandSpec, error)

func (f ResolverFunc) Resolve(scriptPath string) (models.CommandSpec, error) {
	return f(scriptPath)
}
