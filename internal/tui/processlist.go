package tui

import (
	"fmt"

	"github.com/MaiM-with-u/MaiLuncher/internal/models"
	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/lipgloss"
)

var (
	listTitleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("205"))

	statusStarting = lipgloss.NewStyle().Foreground(lipgloss.Color("3")) // Yellow
	statusRunning  = lipgloss.NewStyle().Foreground(lipgloss.Color("2")) // Green
	statusStopped  = lipgloss.NewStyle().Foreground(lipgloss.Color("8")) // Gray
	statusError    = lipgloss.NewStyle().Foreground(lipgloss.Color("1")) // Red
)

// ProcessItem implements list.Item for the process list
type ProcessItem struct {
	Info models.ProcessInfo
}

func (i ProcessItem) FilterValue() string { return i.Info.DisplayName }
func (i ProcessItem) Title() string {
	if i.Info.DisplayName == "" {
		return i.Info.ID
	}
	return i.Info.DisplayName
}
func (i ProcessItem) Description() string {
	status := formatStatus(i.Info)
	if i.Info.PID != 0 {
		return fmt.Sprintf("%s • pid %d", status, i.Info.PID)
	}
	return status
}

func formatStatus(info models.ProcessInfo) string {
	switch info.Status {
	case models.ProcessStatusStarting:
		return statusStarting.Render("● starting")
	case models.ProcessStatusRunning:
		return statusRunning.Render("● running")
	case models.ProcessStatusError:
		return statusError.Render("● error")
	case models.ProcessStatusStopped:
		if note := info.EndReason.Note(); info.HasRunBefore && note != "" {
			if info.EndReason == models.EndReasonUnexpected {
				return statusError.Render("○ " + note)
			}
			return statusStopped.Render("○ " + note)
		}
		return statusStopped.Render("○ stopped")
	default:
		return string(info.Status)
	}
}

// ProcessList manages the process list pane
type ProcessList struct {
	list list.Model
}

// NewProcessList creates the process list pane
func NewProcessList() *ProcessList {
	delegate := list.NewDefaultDelegate()
	l := list.New([]list.Item{}, delegate, 32, 20)
	l.Title = "Processes"
	l.SetShowStatusBar(false)
	l.SetFilteringEnabled(false)
	l.SetShowHelp(false)
	l.Styles.Title = listTitleStyle

	return &ProcessList{list: l}
}

// SetSize sets the list dimensions
func (m *ProcessList) SetSize(w, h int) {
	m.list.SetSize(w, h)
}

// SetProcesses replaces the items, keeping the selection on the same id.
func (m *ProcessList) SetProcesses(infos []models.ProcessInfo) {
	selected := m.SelectedID()
	items := make([]list.Item, len(infos))
	idx := 0
	for i, info := range infos {
		items[i] = ProcessItem{Info: info}
		if info.ID == selected {
			idx = i
		}
	}
	m.list.SetItems(items)
	if len(items) > 0 {
		m.list.Select(idx)
	}
}

// Update replaces one process snapshot in place. It reports whether the
// process was listed.
func (m *ProcessList) Update(info models.ProcessInfo) bool {
	for i, item := range m.list.Items() {
		if item.(ProcessItem).Info.ID == info.ID {
			m.list.SetItem(i, ProcessItem{Info: info})
			return true
		}
	}
	return false
}

// Selected returns the selected process, or nil for an empty list.
func (m *ProcessList) Selected() *models.ProcessInfo {
	if item := m.list.SelectedItem(); item != nil {
		info := item.(ProcessItem).Info
		return &info
	}
	return nil
}

// SelectedID returns the selected process id, or "".
func (m *ProcessList) SelectedID() string {
	if p := m.Selected(); p != nil {
		return p.ID
	}
	return ""
}

// CursorUp and CursorDown move the selection.
func (m *ProcessList) CursorUp()   { m.list.CursorUp() }
func (m *ProcessList) CursorDown() { m.list.CursorDown() }

// Len returns the number of processes listed.
func (m *ProcessList) Len() int {
	return len(m.list.Items())
}

// View renders the list
func (m *ProcessList) View() string {
	return m.list.View()
}
