// Package controlplane provides the HTTP API and service layer for the launcher.
package controlplane

import (
	"context"
	"errors"
	"fmt"

	"github.com/MaiM-with-u/MaiLuncher/internal/audit"
	"github.com/MaiM-with-u/MaiLuncher/internal/config"
	"github.com/MaiM-with-u/MaiLuncher/internal/models"
	"github.com/MaiM-with-u/MaiLuncher/internal/store"
	"github.com/MaiM-with-u/MaiLuncher/internal/supervisor"
	"go.uber.org/zap"
)

// Catalog names the processes the launcher can start and resolves their
// commands. *config.Config implements it.
type Catalog interface {
	supervisor.Resolver
	Target(id string) (config.Target, error)
	Targets() []config.Target
}

// Service provides the control plane business logic.
type Service struct {
	sup     *supervisor.Supervisor
	store   *store.Store
	pdr     *audit.PDRWriter
	catalog Catalog
	log     *zap.Logger
}

// NewService creates a new control plane service.
func NewService(sup *supervisor.Supervisor, s *store.Store, pdr *audit.PDRWriter, catalog Catalog, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{
		sup:     sup,
		store:   s,
		pdr:     pdr,
		catalog: catalog,
		log:     log,
	}
}

// --- Process Operations ---

// List returns every known process. Configured targets that were never
// started are listed as stopped.
func (s *Service) List() []models.ProcessInfo {
	infos := s.sup.List()
	known := make(map[string]bool, len(infos))
	for _, info := range infos {
		known[info.ID] = true
	}
	for _, t := range s.catalog.Targets() {
		if !known[t.ID] {
			infos = append(infos, models.ProcessInfo{
				ID:          t.ID,
				DisplayName: t.Name,
				ScriptPath:  t.Script,
				Status:      models.ProcessStatusStopped,
			})
		}
	}
	return infos
}

// Get returns one process. A configured target that was never started is
// reported as stopped.
func (s *Service) Get(id string) (models.ProcessInfo, error) {
	info, err := s.sup.Get(id)
	if err == nil {
		return info, nil
	}
	t, terr := s.catalog.Target(id)
	if terr != nil {
		return models.ProcessInfo{}, err
	}
	return models.ProcessInfo{
		ID:          t.ID,
		DisplayName: t.Name,
		ScriptPath:  t.Script,
		Status:      models.ProcessStatusStopped,
	}, nil
}

// Start launches id. An empty script means the one configured for id.
func (s *Service) Start(id, script, displayName string) (string, error) {
	if script == "" || displayName == "" {
		t, err := s.catalog.Target(id)
		if err != nil && script == "" {
			return "", err
		}
		if script == "" {
			script = t.Script
		}
		if displayName == "" {
			displayName = t.Name
		}
	}

	msg, err := s.sup.Start(id, script, displayName, s.catalog)
	s.record("process.start", map[string]string{"id": id, "script": script}, id, msg, err)
	return msg, err
}

// Stop stops id.
func (s *Service) Stop(id string) (string, error) {
	msg, err := s.sup.Stop(id)
	s.record("process.stop", map[string]string{"id": id}, id, msg, err)
	return msg, err
}

// Restart stops and starts id. A process that never ran is just started.
func (s *Service) Restart(id string) (string, error) {
	msg, err := s.sup.Restart(id)
	if errors.Is(err, supervisor.ErrNotFound) {
		msg, err = s.Start(id, "", "")
	}
	s.record("process.restart", map[string]string{"id": id}, id, msg, err)
	return msg, err
}

// StartAll starts the main bot and every adapter, returning the errors of
// the ones that did not start.
func (s *Service) StartAll() []error {
	var errs []error
	for _, t := range s.catalog.Targets() {
		if _, err := s.Start(t.ID, t.Script, t.Name); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", t.ID, err))
		}
	}
	return errs
}

// Remove drops a stopped process from the registry.
func (s *Service) Remove(id string) error {
	err := s.sup.Remove(id)
	s.record("process.remove", map[string]string{"id": id}, id, "", err)
	return err
}

// Logs returns buffered log entries after seq, limited to the last tail.
func (s *Service) Logs(id string, after uint64, tail int) ([]models.LogEntry, error) {
	logs, err := s.sup.Logs(id, after, tail)
	if errors.Is(err, supervisor.ErrNotFound) {
		if _, terr := s.catalog.Target(id); terr == nil {
			return nil, nil
		}
	}
	return logs, err
}

// Runs returns the persisted run history of id.
func (s *Service) Runs(id string, limit int) ([]models.Run, error) {
	return s.store.ListRuns(id, limit)
}

// --- UI Hooks ---

// UIDisconnect forwards a UI disconnect to the supervisor.
func (s *Service) UIDisconnect() {
	s.sup.OnUIDisconnect()
	s.record("ui.disconnect", nil, s.sup.Config().PrimaryID, "", nil)
}

// UIConnect forwards a UI (re)connect. It reports whether a pending stop
// was cancelled.
func (s *Service) UIConnect() bool {
	return s.sup.OnUIConnect()
}

// Shutdown stops every process.
func (s *Service) Shutdown() {
	s.sup.ShutdownAll()
}

// Ping checks the backing store.
func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

func (s *Service) record(action string, inputs any, processID, msg string, err error) {
	outcome, details := audit.OutcomeSuccess, msg
	if err != nil {
		outcome, details = audit.OutcomeFailure, err.Error()
	}
	if _, perr := s.pdr.Record(action, inputs, outcome, processID, details); perr != nil {
		s.log.Warn("write audit record", zap.String("action", action), zap.Error(perr))
	}
}
