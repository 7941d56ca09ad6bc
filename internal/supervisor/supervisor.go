// Package supervisor launches child processes, captures their output into
// bounded per-process log buffers and tracks their lifecycle.
package supervisor

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/MaiM-with-u/MaiLuncher/internal/connectors"
	"github.com/MaiM-with-u/MaiLuncher/internal/models"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// restartSeparator is appended between runs under RestartLogAppendSeparator.
const restartSeparator = "──── restart ────"

// Supervisor owns the registry of process records.
type Supervisor struct {
	spawner   connectors.Spawner
	cfg       *Config
	log       *zap.Logger
	sink      Sink
	formatter LineFormatter

	mu      sync.RWMutex
	records map[string]*record
	closed  bool

	// UI disconnect handling
	dmu             sync.Mutex
	disconnectTimer *time.Timer

	// Control
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Option configures a Supervisor.
type Option func(*Supervisor)

// WithLogger sets the logger. The default discards everything.
func WithLogger(l *zap.Logger) Option {
	return func(s *Supervisor) {
		if l != nil {
			s.log = l
		}
	}
}

// WithSink sets the notification sink.
func WithSink(sink Sink) Option {
	return func(s *Supervisor) {
		if sink != nil {
			s.sink = sink
		}
	}
}

// WithFormatter sets the line formatter. The default keeps lines unstyled.
func WithFormatter(f LineFormatter) Option {
	return func(s *Supervisor) {
		if f != nil {
			s.formatter = f
		}
	}
}

// New creates a new supervisor.
func New(spawner connectors.Spawner, cfg *Config, opts ...Option) *Supervisor {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Supervisor{
		spawner:   spawner,
		cfg:       cfg,
		log:       zap.NewNop(),
		sink:      NopSink{},
		formatter: plainFormatter{},
		records:   make(map[string]*record),
		ctx:       ctx,
		cancel:    cancel,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Config returns the configuration the supervisor was built with.
func (s *Supervisor) Config() Config {
	return *s.cfg
}

// --- Lifecycle Operations ---

// Start launches scriptPath under id. The command is resolved through
// resolver at call time. On success the returned message is meant for
// the operator.
func (s *Supervisor) Start(id, scriptPath, displayName string, resolver Resolver) (string, error) {
	if id == "" {
		return "", fmt.Errorf("%w: empty process id", ErrInvalidCommand)
	}
	if displayName == "" {
		displayName = id
	}

	// Claim the record: at most one run may be starting or running per id.
	var notify []func()
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return "", ErrClosed
	}
	r, exists := s.records[id]
	if !exists {
		r = newRecord(id, s.cfg.LogCap)
		s.records[id] = r
	}

	r.mu.Lock()
	switch r.status {
	case models.ProcessStatusStarting:
		r.mu.Unlock()
		s.mu.Unlock()
		return "", fmt.Errorf("%w: process '%s' is already starting", ErrAlreadyRunning, id)
	case models.ProcessStatusRunning:
		if s.spawner.PIDExists(r.pid) {
			pid := r.pid
			r.mu.Unlock()
			s.mu.Unlock()
			return "", fmt.Errorf("%w: process '%s' is already running (pid %d)", ErrAlreadyRunning, id, pid)
		}
		// The pid is gone but the processor has not noticed yet.
		if stale := r.run; stale != nil {
			if entries, ev, ok := s.finishLocked(r, stale, models.EndReasonUnexpected, nil); ok {
				notify = append(notify, func() {
					stale.handle.Close()
					s.deliverLogs(id, entries)
					s.emitStatus(ev)
				})
			}
		}
	}

	run := &runState{
		id:    uuid.New().String(),
		queue: newLineQueue(),
		stop:  newStopSignal(),
	}
	run.log = s.log.With(zap.String("process_id", id), zap.String("run_id", run.id))

	var marks []models.LogEntry
	if len(r.logs) > 0 {
		switch s.cfg.RestartLogPolicy {
		case RestartLogAppendSeparator:
			marks = append(marks, markerEntry(restartSeparator))
		default:
			clear(r.logs)
			r.logs = r.logs[:0]
		}
	}
	marks = append(marks, markerEntry(fmt.Sprintf("--- Starting %s ---", displayName)))

	r.displayName = displayName
	r.scriptPath = scriptPath
	r.resolver = resolver
	r.command = nil
	r.handle = nil
	r.pid = 0
	r.run = run
	r.status = models.ProcessStatusStarting
	r.endReason = models.EndReasonNone
	r.exitCode = nil
	r.lastErr = ""
	r.startedAt = time.Now().UTC()
	r.endedAt = time.Time{}
	entries := r.appendLocked(marks...)
	r.mu.Unlock()
	s.mu.Unlock()

	for _, fn := range notify {
		fn()
	}
	s.deliverLogs(id, entries)

	// Resolve and spawn without holding any lock.
	if resolver == nil {
		err := fmt.Errorf("%w: no command resolver for %s", ErrInvalidCommand, id)
		s.failStart(r, run, models.EndReasonSpawnError, err)
		return "", err
	}
	spec, err := resolver.Resolve(scriptPath)
	if err != nil {
		err = fmt.Errorf("%w: %w", ErrInvalidCommand, err)
		s.failStart(r, run, models.EndReasonSpawnError, err)
		return "", err
	}

	h, err := s.spawner.Spawn(spec)
	if err != nil {
		err = fmt.Errorf("%w: %w", ErrSpawn, err)
		r.mu.Lock()
		r.command = &spec
		r.mu.Unlock()
		s.failStart(r, run, models.EndReasonSpawnError, err)
		return "", err
	}
	run.handle = h
	run.pid = h.PID()

	s.mu.RLock()
	r.mu.Lock()
	if s.closed || r.run != run || r.status != models.ProcessStatusStarting {
		// Shut down or removed underneath us; the new process is nobody's.
		closed := s.closed
		r.mu.Unlock()
		s.mu.RUnlock()
		s.terminate(run, s.cfg.StopTimeout)
		h.Close()
		if closed {
			return "", ErrClosed
		}
		return "", fmt.Errorf("%w: process '%s' changed while starting", ErrSpawn, id)
	}
	r.command = &spec
	r.handle = h
	r.pid = run.pid
	r.status = models.ProcessStatusRunning
	r.hasRunBefore = true
	ev := r.eventLocked(run.pid)
	r.mu.Unlock()
	s.wg.Add(2)
	s.mu.RUnlock()

	go func() {
		defer s.wg.Done()
		readOutput(h.Output(), spec.Encoding, run.queue, run.stop, run.log)
	}()
	go func() {
		defer s.wg.Done()
		s.process(s.ctx, r, run)
	}()

	s.emitStatus(ev)
	run.log.Info("process started",
		zap.Int("pid", run.pid),
		zap.String("path", spec.Path),
		zap.Strings("args", spec.Args),
		zap.String("dir", spec.Dir))

	return fmt.Sprintf("Process '%s' started successfully.", displayName), nil
}

// failStart moves a starting record to error.
func (s *Supervisor) failStart(r *record, run *runState, reason models.EndReason, err error) {
	r.mu.Lock()
	if r.run != run {
		r.mu.Unlock()
		return
	}
	run.stop.Set()
	r.status = models.ProcessStatusError
	r.handle = nil
	r.pid = 0
	r.endReason = reason
	r.lastErr = err.Error()
	r.endedAt = time.Now().UTC()
	entries := r.appendLocked(errorMarkerEntry(fmt.Sprintf("--- Failed to start %s: %v ---", r.displayName, err)))
	ev := r.eventLocked(0)
	r.mu.Unlock()

	s.deliverLogs(r.id, entries)
	s.emitStatus(ev)
	run.log.Error("process failed to start", zap.Error(err))
}

// Stop terminates a running process, escalating to a kill after
// StopTimeout. Stopping a process that is not running is not an error.
func (s *Supervisor) Stop(id string) (string, error) {
	r := s.lookup(id)
	if r == nil {
		return fmt.Sprintf("Process '%s' is already stopped.", id), nil
	}

	r.mu.Lock()
	run := r.run
	if r.status != models.ProcessStatusRunning || run == nil {
		r.mu.Unlock()
		return fmt.Sprintf("Process '%s' is already stopped.", id), nil
	}
	// From here on the processor will not classify this run.
	run.stop.Set()
	name := r.displayName
	r.mu.Unlock()

	s.terminate(run, s.cfg.StopTimeout)
	s.markStopped(r, run)

	run.log.Info("process stopped", zap.Int("pid", run.pid))
	return fmt.Sprintf("Process '%s' stopped.", name), nil
}

// Restart stops id and starts it again with the script, display name and
// resolver of its last start.
func (s *Supervisor) Restart(id string) (string, error) {
	r := s.lookup(id)
	if r == nil {
		return "", fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	r.mu.Lock()
	script, name, resolver := r.scriptPath, r.displayName, r.resolver
	r.mu.Unlock()

	if _, err := s.Stop(id); err != nil {
		return "", err
	}
	return s.Start(id, script, name, resolver)
}

// ShutdownAll terminates every live process and stops all goroutines. It
// only uses synchronous OS calls and is safe to call while the program is
// exiting. The supervisor refuses new starts afterwards.
func (s *Supervisor) ShutdownAll() {
	s.mu.Lock()
	s.closed = true
	recs := make([]*record, 0, len(s.records))
	for _, r := range s.records {
		recs = append(recs, r)
	}
	s.mu.Unlock()

	s.dmu.Lock()
	if s.disconnectTimer != nil {
		s.disconnectTimer.Stop()
		s.disconnectTimer = nil
	}
	s.dmu.Unlock()

	type live struct {
		r   *record
		run *runState
	}
	var runs []live
	for _, r := range recs {
		r.mu.Lock()
		if r.run != nil && r.status == models.ProcessStatusRunning {
			r.run.stop.Set()
			runs = append(runs, live{r, r.run})
		}
		r.mu.Unlock()
	}

	for _, l := range runs {
		s.terminate(l.run, s.cfg.ShutdownTimeout)
		s.markStopped(l.r, l.run)
		l.run.log.Info("process stopped", zap.Int("pid", l.run.pid), zap.Bool("shutdown", true))
	}

	s.cancel()
	waitTimeout(&s.wg, s.cfg.ShutdownTimeout)
}

// markStopped records the end of a run that Stop or ShutdownAll ended.
func (s *Supervisor) markStopped(r *record, run *runState) {
	if run.handle != nil {
		run.handle.Close()
	}

	r.mu.Lock()
	if r.run != run || r.status != models.ProcessStatusRunning {
		r.mu.Unlock()
		return
	}
	r.status = models.ProcessStatusStopped
	r.handle = nil
	r.pid = 0
	r.hasRunBefore = true
	r.endReason = models.EndReasonStopped
	r.exitCode = nil
	if run.handle != nil {
		if st, ok := run.handle.ExitState(); ok {
			code := st.Code
			r.exitCode = &code
		}
	}
	r.endedAt = time.Now().UTC()
	entries := r.appendLocked(endMarker(r.id, models.EndReasonStopped, nil))
	ev := r.eventLocked(run.pid)
	r.mu.Unlock()

	s.deliverLogs(r.id, entries)
	s.emitStatus(ev)
}

// terminate asks the process to exit and kills it after timeout. Failures
// are logged; the caller treats the process as stopped regardless.
func (s *Supervisor) terminate(run *runState, timeout time.Duration) {
	log := run.log
	if log == nil {
		log = s.log
	}

	h := run.handle
	if h == nil {
		s.terminatePID(run.pid, timeout, log)
		return
	}

	if err := h.Terminate(); err != nil {
		if !s.spawner.PIDExists(run.pid) {
			return
		}
		log.Warn("terminate failed", zap.Int("pid", run.pid), zap.Error(err))
	}
	if h.Wait(timeout) {
		return
	}

	log.Warn("terminate escalated to kill", zap.Int("pid", run.pid), zap.Duration("timeout", timeout))
	if err := h.Kill(); err != nil {
		log.Error("kill failed", zap.Int("pid", run.pid), zap.Error(err))
	}
	if !h.Wait(timeout) && s.spawner.PIDExists(run.pid) {
		log.Error("process did not exit after kill", zap.Int("pid", run.pid))
	}
}

// terminatePID is terminate for a process known only by pid.
func (s *Supervisor) terminatePID(pid int, timeout time.Duration, log *zap.Logger) {
	if pid <= 0 || !s.spawner.PIDExists(pid) {
		return
	}
	if err := s.spawner.TerminatePID(pid); err != nil {
		log.Warn("terminate failed", zap.Int("pid", pid), zap.Error(err))
	}
	if s.waitGone(pid, timeout) {
		return
	}

	log.Warn("terminate escalated to kill", zap.Int("pid", pid), zap.Duration("timeout", timeout))
	if err := s.spawner.KillPID(pid); err != nil {
		log.Error("kill failed", zap.Int("pid", pid), zap.Error(err))
	}
	if !s.waitGone(pid, timeout) {
		log.Error("process did not exit after kill", zap.Int("pid", pid))
	}
}

func (s *Supervisor) waitGone(pid int, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for {
		if !s.spawner.PIDExists(pid) {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		time.Sleep(20 * time.Millisecond)
	}
}

// --- UI Hooks ---

// OnUIDisconnect arms a stop of the primary process. With a zero
// DisconnectGrace the stop happens before OnUIDisconnect returns;
// otherwise OnUIConnect within the grace period cancels it.
func (s *Supervisor) OnUIDisconnect() {
	id := s.cfg.PrimaryID
	s.log.Info("ui disconnected", zap.String("process_id", id), zap.Duration("grace", s.cfg.DisconnectGrace))

	s.dmu.Lock()
	if s.disconnectTimer != nil {
		s.disconnectTimer.Stop()
		s.disconnectTimer = nil
	}
	if s.cfg.DisconnectGrace > 0 {
		s.disconnectTimer = time.AfterFunc(s.cfg.DisconnectGrace, func() {
			s.dmu.Lock()
			s.disconnectTimer = nil
			s.dmu.Unlock()
			s.Stop(id)
		})
		s.dmu.Unlock()
		return
	}
	s.dmu.Unlock()

	s.Stop(id)
}

// OnUIConnect cancels a pending disconnect stop. It reports whether one
// was pending.
func (s *Supervisor) OnUIConnect() bool {
	s.dmu.Lock()
	defer s.dmu.Unlock()
	if s.disconnectTimer == nil {
		return false
	}
	cancelled := s.disconnectTimer.Stop()
	s.disconnectTimer = nil
	if cancelled {
		s.log.Info("ui reconnected, pending stop cancelled", zap.String("process_id", s.cfg.PrimaryID))
	}
	return cancelled
}

// --- Registry Operations ---

// Get returns a snapshot of one process.
func (s *Supervisor) Get(id string) (models.ProcessInfo, error) {
	r := s.lookup(id)
	if r == nil {
		return models.ProcessInfo{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.infoLocked(), nil
}

// List returns snapshots of all processes, primary first, then by id.
func (s *Supervisor) List() []models.ProcessInfo {
	s.mu.RLock()
	recs := make([]*record, 0, len(s.records))
	for _, r := range s.records {
		recs = append(recs, r)
	}
	s.mu.RUnlock()

	infos := make([]models.ProcessInfo, 0, len(recs))
	for _, r := range recs {
		r.mu.Lock()
		infos = append(infos, r.infoLocked())
		r.mu.Unlock()
	}

	primary := s.cfg.PrimaryID
	sort.Slice(infos, func(i, j int) bool {
		if (infos[i].ID == primary) != (infos[j].ID == primary) {
			return infos[i].ID == primary
		}
		return infos[i].ID < infos[j].ID
	})
	return infos
}

// Logs returns buffered entries of id with a sequence number above after.
// A positive tail keeps only the most recent entries.
func (s *Supervisor) Logs(id string, after uint64, tail int) ([]models.LogEntry, error) {
	r := s.lookup(id)
	if r == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.logsLocked(after, tail), nil
}

// Remove deletes a record that is not running.
func (s *Supervisor) Remove(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.records[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	r.mu.Lock()
	status := r.status
	r.mu.Unlock()
	if status == models.ProcessStatusRunning || status == models.ProcessStatusStarting {
		return fmt.Errorf("%w: %s", ErrStillRunning, id)
	}
	delete(s.records, id)
	return nil
}

func (s *Supervisor) lookup(id string) *record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.records[id]
}

// --- Notifications ---

func (s *Supervisor) deliverLogs(id string, entries []models.LogEntry) {
	if len(entries) == 0 {
		return
	}
	defer func() {
		if p := recover(); p != nil {
			s.log.Error("sink panicked", zap.String("process_id", id), zap.Any("panic", p))
		}
	}()
	if s.sink.Visible(id) {
		s.sink.OnLogBatch(id, entries)
	}
}

func (s *Supervisor) emitStatus(ev models.StatusEvent) {
	defer func() {
		if p := recover(); p != nil {
			s.log.Error("sink panicked", zap.String("process_id", ev.ProcessID), zap.Any("panic", p))
		}
	}()
	s.sink.OnStatusChange(ev)
}

func waitTimeout(wg *sync.WaitGroup, timeout time.Duration) bool {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-time.After(timeout):
		return false
	}
}
