package tui

import (
	"strings"

	"github.com/MaiM-with-u/MaiLuncher/internal/models"
	"github.com/charmbracelet/bubbles/viewport"
	"github.com/charmbracelet/lipgloss"
)

var (
	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("205")).
			BorderStyle(lipgloss.NormalBorder()).
			BorderBottom(true).
			BorderForeground(lipgloss.Color("240"))

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241"))
)

// LogView shows the buffered log of one process and follows new lines
// while scrolled to the bottom.
type LogView struct {
	viewport viewport.Model
	id       string
	entries  []models.LogEntry
	rendered []string
	cap      int
}

// NewLogView creates a log view keeping at most logCap entries.
func NewLogView(logCap int) *LogView {
	if logCap < 1 {
		logCap = 1000
	}
	return &LogView{
		viewport: viewport.New(80, 20),
		cap:      logCap,
	}
}

// SetSize sets the dimensions
func (m *LogView) SetSize(w, h int) {
	m.viewport.Width = w
	m.viewport.Height = h
	m.refresh(m.viewport.AtBottom())
}

// ProcessID returns the id of the process being shown.
func (m *LogView) ProcessID() string {
	return m.id
}

// Load replaces the view with the log of id.
func (m *LogView) Load(id string, entries []models.LogEntry) {
	m.id = id
	m.entries = m.entries[:0]
	m.rendered = m.rendered[:0]
	m.push(entries)
	m.refresh(true)
}

// Append adds entries newer than those already shown. Entries of other
// processes and already seen entries are ignored.
func (m *LogView) Append(id string, entries []models.LogEntry) {
	if id != m.id || len(entries) == 0 {
		return
	}
	follow := m.viewport.AtBottom()
	m.push(entries)
	m.refresh(follow)
}

// LastSeq returns the sequence number of the newest entry shown.
func (m *LogView) LastSeq() uint64 {
	if len(m.entries) == 0 {
		return 0
	}
	return m.entries[len(m.entries)-1].Seq
}

// Len returns the number of entries shown.
func (m *LogView) Len() int {
	return len(m.entries)
}

func (m *LogView) push(entries []models.LogEntry) {
	last := m.LastSeq()
	for _, e := range entries {
		if len(m.entries) > 0 && e.Seq <= last {
			continue
		}
		m.entries = append(m.entries, e)
		m.rendered = append(m.rendered, renderEntry(e))
		last = e.Seq
	}
	if over := len(m.entries) - m.cap; over > 0 {
		m.entries = append(m.entries[:0], m.entries[over:]...)
		m.rendered = append(m.rendered[:0], m.rendered[over:]...)
	}
}

func (m *LogView) refresh(follow bool) {
	m.viewport.SetContent(strings.Join(m.rendered, "\n"))
	if follow {
		m.viewport.GotoBottom()
	}
}

// Top and Bottom jump to either end of the log.
func (m *LogView) Top()    { m.viewport.GotoTop() }
func (m *LogView) Bottom() { m.viewport.GotoBottom() }

// ScrollUp and ScrollDown move by half a page.
func (m *LogView) ScrollUp()   { m.viewport.HalfViewUp() }
func (m *LogView) ScrollDown() { m.viewport.HalfViewDown() }

// View renders the header and the visible part of the log
func (m *LogView) View(title string) string {
	header := headerStyle.Render(title)
	if m.id == "" {
		return header + "\n" + labelStyle.Render("No process selected")
	}
	if len(m.entries) == 0 {
		return header + "\n" + labelStyle.Render("No output yet")
	}
	return header + "\n" + m.viewport.View()
}

// renderEntry renders the styled spans of one log line.
func renderEntry(e models.LogEntry) string {
	if len(e.Spans) == 0 {
		return e.Raw
	}
	var b strings.Builder
	for _, sp := range e.Spans {
		st := lipgloss.NewStyle().
			Bold(sp.Bold).
			Italic(sp.Italic).
			Underline(sp.Underline)
		if sp.Color != "" {
			st = st.Foreground(lipgloss.Color(sp.Color))
		}
		b.WriteString(st.Render(sp.Text))
	}
	return b.String()
}
