package tui

import (
	"sync"

	"github.com/MaiM-with-u/MaiLuncher/internal/models"
	tea "github.com/charmbracelet/bubbletea"
)

// Sink forwards supervisor notifications into a running program. Only the
// selected process is visible, so only its log batches are delivered.
type Sink struct {
	mu       sync.RWMutex
	program  *tea.Program
	selected string
}

// NewSink creates a sink. Notifications are dropped until Attach is called.
func NewSink() *Sink {
	return &Sink{}
}

// Attach sets the program that receives notifications.
func (s *Sink) Attach(p *tea.Program) {
	s.mu.Lock()
	s.program = p
	s.mu.Unlock()
}

// Select makes id the visible process.
func (s *Sink) Select(id string) {
	s.mu.Lock()
	s.selected = id
	s.mu.Unlock()
}

// Selected returns the visible process id.
func (s *Sink) Selected() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.selected
}

func (s *Sink) Visible(processID string) bool {
	return processID != "" && s.Selected() == processID
}

func (s *Sink) OnLogBatch(processID string, entries []models.LogEntry) {
	s.send(logBatchMsg{id: processID, entries: entries})
}

func (s *Sink) OnStatusChange(ev models.StatusEvent) {
	s.send(statusMsg{ev: ev})
}

func (s *Sink) send(msg tea.Msg) {
	s.mu.RLock()
	p := s.program
	s.mu.RUnlock()
	if p != nil {
		p.Send(msg)
	}
}
