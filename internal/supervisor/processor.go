package supervisor

import (
	"context"
	"fmt"
	"time"

	"github.com/MaiM-with-u/MaiLuncher/internal/models"
	"go.uber.org/zap"
)

// process drains run's queue into r's log buffer and decides when the run
// is over. It is the only goroutine that ends a run on its own; Stop and
// ShutdownAll end runs by setting the stop signal first.
func (s *Supervisor) process(ctx context.Context, r *record, run *runState) {
	finished := false
	defer func() {
		if p := recover(); p != nil {
			run.log.Error("processor loop aborted", zap.Any("panic", p))
		}
		if !finished {
			s.finishRun(r, run, models.EndReasonAborted, nil)
		}
	}()

	var (
		pending   []models.LogEntry
		lastFlush = time.Now()
		eofSeen   bool
		eofAt     time.Time
		goneAt    time.Time
	)

	timer := time.NewTimer(s.cfg.PollInterval)
	defer timer.Stop()

	for {
		if run.stop.IsSet() {
			finished = true
			return
		}

		items := run.queue.drain(s.cfg.BatchLimit)
		for _, it := range items {
			if it.eof {
				eofSeen = true
				eofAt = time.Now()
				break
			}
			pending = append(pending, s.formatLine(run, it.line))
		}

		if len(pending) > 0 &&
			(time.Since(lastFlush) >= s.cfg.FlushInterval || len(pending) >= s.cfg.BatchLimit || eofSeen) {
			if !s.flush(r, run, pending) {
				finished = true
				return
			}
			pending = nil
			lastFlush = time.Now()
		}

		if eofSeen {
			// The stream is closed; give the OS a moment to report how the
			// process ended before classifying it.
			st, ok := run.handle.ExitState()
			if ok || time.Since(eofAt) >= s.cfg.ExitGrace {
				reason := models.EndReasonExited
				var code *int
				if ok {
					c := st.Code
					code = &c
					if st.Signaled {
						reason = models.EndReasonUnexpected
					}
				}
				s.finishRun(r, run, reason, code)
				finished = true
				return
			}
		} else if !s.spawner.PIDExists(run.pid) {
			if goneAt.IsZero() {
				goneAt = time.Now()
			} else if time.Since(goneAt) >= s.cfg.ExitGrace {
				if len(pending) > 0 && !s.flush(r, run, pending) {
					finished = true
					return
				}
				pending = nil
				s.finishRun(r, run, models.EndReasonUnexpected, nil)
				finished = true
				return
			}
		}

		if len(items) < s.cfg.BatchLimit {
			timer.Reset(s.cfg.PollInterval)
			select {
			case <-ctx.Done():
				return
			case <-run.stop.Done():
				finished = true
				return
			case <-timer.C:
			}
		}
	}
}

// formatLine never fails: formatter errors and panics produce a fallback
// entry carrying the raw text.
func (s *Supervisor) formatLine(run *runState, raw string) (entry models.LogEntry) {
	defer func() {
		if p := recover(); p != nil {
			run.log.Warn("formatter failed, using raw line", zap.Any("panic", p))
			entry = fallbackEntry(raw)
		}
	}()

	spans, err := s.formatter.Format(raw)
	if err != nil {
		run.log.Warn("formatter failed, using raw line", zap.Error(err))
		return fallbackEntry(raw)
	}
	return models.LogEntry{
		Kind:  models.LogEntryOutput,
		Raw:   raw,
		Spans: spans,
		Time:  time.Now().UTC(),
	}
}

// flush appends a batch to the log buffer. It reports false when the run
// has been stopped, in which case nothing is written.
func (s *Supervisor) flush(r *record, run *runState, batch []models.LogEntry) bool {
	r.mu.Lock()
	if r.run != run || run.stop.IsSet() {
		r.mu.Unlock()
		return false
	}
	entries := r.appendLocked(batch...)
	r.mu.Unlock()

	s.deliverLogs(r.id, entries)
	return true
}

// finishRun moves a running record to stopped on behalf of the processor.
// It does nothing if the run was already ended by someone else.
func (s *Supervisor) finishRun(r *record, run *runState, reason models.EndReason, code *int) bool {
	r.mu.Lock()
	entries, ev, ok := s.finishLocked(r, run, reason, code)
	r.mu.Unlock()
	if !ok {
		return false
	}

	if run.handle != nil {
		run.handle.Close()
	}
	s.deliverLogs(r.id, entries)
	s.emitStatus(ev)

	fields := []zap.Field{zap.String("reason", string(reason))}
	if code != nil {
		fields = append(fields, zap.Int("exit_code", *code))
	}
	switch reason {
	case models.EndReasonExited:
		run.log.Info("process ended naturally", fields...)
	case models.EndReasonUnexpected:
		run.log.Warn("process ended unexpectedly", fields...)
	default:
		run.log.Error("processor loop aborted", fields...)
	}
	return true
}

// finishLocked performs the terminal transition. r.mu must be held.
func (s *Supervisor) finishLocked(r *record, run *runState, reason models.EndReason, code *int) ([]models.LogEntry, models.StatusEvent, bool) {
	if r.run != run || r.status != models.ProcessStatusRunning || run.stop.IsSet() {
		return nil, models.StatusEvent{}, false
	}
	run.stop.Set()

	r.status = models.ProcessStatusStopped
	r.handle = nil
	r.pid = 0
	r.hasRunBefore = true
	r.endReason = reason
	r.exitCode = code
	r.endedAt = time.Now().UTC()
	if reason == models.EndReasonAborted {
		r.lastErr = fmt.Sprintf("output processing for %s aborted", r.id)
	}
	entries := r.appendLocked(endMarker(r.id, reason, code))
	return entries, r.eventLocked(run.pid), true
}
