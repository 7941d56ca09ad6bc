// Package tui provides the interactive launcher console.
package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/MaiM-with-u/MaiLuncher/internal/models"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

var (
	// Colors
	primaryColor = lipgloss.Color("#7C3AED")
	successColor = lipgloss.Color("#10B981")
	errorColor   = lipgloss.Color("#EF4444")
	mutedColor   = lipgloss.Color("#6B7280")
	fgColor      = lipgloss.Color("#F9FAFB")

	// Styles
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(primaryColor).
			Padding(0, 1)

	statusBarStyle = lipgloss.NewStyle().
			Background(lipgloss.Color("#374151")).
			Foreground(fgColor).
			Padding(0, 1)

	panelStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(mutedColor).
			Padding(0, 1)
)

const (
	listWidth       = 32
	refreshInterval = 2 * time.Second
)

// Controller is what the console drives. Calls may block, so they are
// only made from commands, never from Update.
type Controller interface {
	List() []models.ProcessInfo
	Start(id, script, displayName string) (string, error)
	Stop(id string) (string, error)
	Restart(id string) (string, error)
	Logs(id string, after uint64, tail int) ([]models.LogEntry, error)
}

// Messages
type processesMsg struct {
	processes []models.ProcessInfo
}

type logsLoadedMsg struct {
	id      string
	entries []models.LogEntry
	err     error
}

type logBatchMsg struct {
	id      string
	entries []models.LogEntry
}

type statusMsg struct {
	ev models.StatusEvent
}

type actionResultMsg struct {
	message string
	err     error
}

type tickMsg time.Time

// App is the console model.
type App struct {
	ctrl    Controller
	sink    *Sink
	list    *ProcessList
	logs    *LogView
	logCap  int
	width   int
	height  int
	message string
	failed  bool
}

// New creates the console. logCap bounds the lines kept per view.
func New(ctrl Controller, sink *Sink, logCap int) *App {
	return &App{
		ctrl:   ctrl,
		sink:   sink,
		list:   NewProcessList(),
		logs:   NewLogView(logCap),
		logCap: logCap,
	}
}

// Run starts the console and blocks until the user quits.
func (a *App) Run() error {
	p := tea.NewProgram(a, tea.WithAltScreen())
	a.sink.Attach(p)
	defer a.sink.Attach(nil)
	_, err := p.Run()
	return err
}

// Init implements tea.Model
func (a *App) Init() tea.Cmd {
	return tea.Batch(a.fetchProcesses(), a.tickCmd())
}

// Update implements tea.Model
func (a *App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return a, a.handleKey(msg)

	case tea.WindowSizeMsg:
		a.width = msg.Width
		a.height = msg.Height
		a.layout()

	case processesMsg:
		before := a.list.SelectedID()
		a.list.SetProcesses(msg.processes)
		if id := a.list.SelectedID(); id != before {
			return a, a.selectCmd(id)
		}

	case logsLoadedMsg:
		if msg.id != a.list.SelectedID() {
			return a, nil
		}
		if msg.err != nil {
			a.setError(msg.err)
			return a, nil
		}
		a.logs.Load(msg.id, msg.entries)

	case logBatchMsg:
		a.logs.Append(msg.id, msg.entries)

	case statusMsg:
		cmds := []tea.Cmd{a.fetchProcesses()}
		// A new run may have cleared the buffer.
		if msg.ev.ProcessID == a.logs.ProcessID() && msg.ev.Status == models.ProcessStatusRunning {
			cmds = append(cmds, a.fetchLogs(msg.ev.ProcessID))
		}
		return a, tea.Batch(cmds...)

	case actionResultMsg:
		if msg.err != nil {
			a.setError(msg.err)
		} else {
			a.message = msg.message
			a.failed = false
		}
		return a, a.fetchProcesses()

	case tickMsg:
		return a, tea.Batch(a.fetchProcesses(), a.tickCmd())
	}

	return a, nil
}

func (a *App) handleKey(msg tea.KeyMsg) tea.Cmd {
	switch msg.String() {
	case "ctrl+c", "q":
		return tea.Quit

	case "up", "k":
		a.list.CursorUp()
		return a.selectCmd(a.list.SelectedID())

	case "down", "j":
		a.list.CursorDown()
		return a.selectCmd(a.list.SelectedID())

	case "s":
		return a.action("start", func(id string) (string, error) {
			return a.ctrl.Start(id, "", "")
		})

	case "x":
		return a.action("stop", a.ctrl.Stop)

	case "r":
		return a.action("restart", a.ctrl.Restart)

	case "g", "home":
		a.logs.Top()

	case "G", "end":
		a.logs.Bottom()

	case "pgup":
		a.logs.ScrollUp()

	case "pgdown":
		a.logs.ScrollDown()
	}
	return nil
}

// selectCmd makes id the visible process and loads its buffered log.
func (a *App) selectCmd(id string) tea.Cmd {
	a.sink.Select(id)
	if id == "" || id == a.logs.ProcessID() {
		return nil
	}
	a.logs.Load(id, nil)
	return a.fetchLogs(id)
}

func (a *App) action(name string, fn func(id string) (string, error)) tea.Cmd {
	id := a.list.SelectedID()
	if id == "" {
		return nil
	}
	a.message = fmt.Sprintf("%s %s...", name, id)
	a.failed = false
	return func() tea.Msg {
		msg, err := fn(id)
		return actionResultMsg{message: msg, err: err}
	}
}

func (a *App) fetchProcesses() tea.Cmd {
	return func() tea.Msg {
		return processesMsg{processes: a.ctrl.List()}
	}
}

func (a *App) fetchLogs(id string) tea.Cmd {
	return func() tea.Msg {
		entries, err := a.ctrl.Logs(id, 0, a.logCap)
		return logsLoadedMsg{id: id, entries: entries, err: err}
	}
}

func (a *App) tickCmd() tea.Cmd {
	return tea.Tick(refreshInterval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (a *App) setError(err error) {
	a.message = "Error: " + err.Error()
	a.failed = true
}

func (a *App) layout() {
	h := a.height - 4
	if h < 3 {
		h = 3
	}
	a.list.SetSize(listWidth, h)
	w := a.width - listWidth - 4
	if w < 10 {
		w = 10
	}
	// Header line of the log pane.
	a.logs.SetSize(w, h-2)
}

// View implements tea.Model
func (a *App) View() string {
	var b strings.Builder

	b.WriteString(titleStyle.Render("MaiBot Launcher"))
	b.WriteString("\n")

	title := "Logs"
	if p := a.list.Selected(); p != nil {
		title = fmt.Sprintf("Logs: %s", ProcessItem{Info: *p}.Title())
	}
	body := lipgloss.JoinHorizontal(lipgloss.Top,
		a.list.View(),
		panelStyle.Render(a.logs.View(title)),
	)
	b.WriteString(body)
	b.WriteString("\n")

	if a.message != "" {
		msgStyle := lipgloss.NewStyle().Foreground(successColor)
		if a.failed {
			msgStyle = lipgloss.NewStyle().Foreground(errorColor)
		}
		b.WriteString(msgStyle.Render(a.message))
	}
	b.WriteString("\n")

	status := fmt.Sprintf(" Processes: %d | ↑↓:select | s:start | x:stop | r:restart | g/G:top/bottom | q:quit", a.list.Len())
	b.WriteString(statusBarStyle.Width(a.width).Render(status))

	return b.String()
}
