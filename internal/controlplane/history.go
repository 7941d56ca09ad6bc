package controlplane

import (
	"errors"

	"github.com/MaiM-with-u/MaiLuncher/internal/models"
	"github.com/MaiM-with-u/MaiLuncher/internal/store"
	"go.uber.org/zap"
)

// History is a supervisor sink that persists every run to the store.
type History struct {
	store *store.Store
	log   *zap.Logger
}

// NewHistory creates a run history recorder.
func NewHistory(s *store.Store, log *zap.Logger) *History {
	if log == nil {
		log = zap.NewNop()
	}
	return &History{store: s, log: log}
}

// OnLogBatch ignores log lines; only lifecycle changes are persisted.
func (h *History) OnLogBatch(string, []models.LogEntry) {}

// Visible is always false so log batches are never routed here.
func (h *History) Visible(string) bool { return false }

// OnStatusChange opens a run when a process starts running and closes it
// when the process stops. Failed starts are stored as already closed runs.
func (h *History) OnStatusChange(ev models.StatusEvent) {
	if ev.RunID == "" {
		return
	}
	log := h.log.With(zap.String("process_id", ev.ProcessID), zap.String("run_id", ev.RunID))

	switch ev.Status {
	case models.ProcessStatusRunning:
		if err := h.store.CreateRun(runFromEvent(ev)); err != nil {
			log.Error("record run start", zap.Error(err))
		}

	case models.ProcessStatusStopped:
		err := h.store.FinishRun(ev.RunID, ev.Reason, ev.ExitCode, ev.Time)
		if errors.Is(err, store.ErrNotFound) {
			log.Debug("no open run to close")
		} else if err != nil {
			log.Error("record run end", zap.Error(err))
		}

	case models.ProcessStatusError:
		if err := h.store.CreateRun(runFromEvent(ev)); err != nil {
			log.Error("record failed start", zap.Error(err))
			return
		}
		if err := h.store.FinishRun(ev.RunID, ev.Reason, nil, ev.Time); err != nil {
			log.Error("record failed start", zap.Error(err))
		}
	}
}

func runFromEvent(ev models.StatusEvent) *models.Run {
	run := &models.Run{
		ID:          ev.RunID,
		ProcessID:   ev.ProcessID,
		DisplayName: ev.DisplayName,
		PID:         ev.PID,
		StartedAt:   ev.Time,
	}
	if ev.Command != nil {
		run.Command = ev.Command.Path
		run.Args = ev.Command.Args
		run.Dir = ev.Command.Dir
	}
	return run
}
