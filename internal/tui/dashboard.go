// Package tui provides the terminal dashboard for a running Convoy engine.
package tui

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/convoy-engine/convoy/internal/metrics"
	"github.com/convoy-engine/convoy/internal/router"
	"github.com/convoy-engine/convoy/pkg/models"
)

// Status icons for task states.
const (
	iconPending   = "[ ]"
	iconReady     = "[◌]"
	iconAssigned  = "[◐]"
	iconRunning   = "[●]"
	iconCompleted = "[✓]"
	iconFailed    = "[✗]"
	iconCancelled = "[–]"
)

// Engine is the slice of the coordinator the dashboard reads from.
type Engine interface {
	Tasks() []models.Task
	Agents() []models.Agent
	Snapshot() metrics.Snapshot
	Events(name string, buffer int) (<-chan router.Event, func())
}

// EventMsg wraps a coordination event for the TUI.
type EventMsg struct {
	Event router.Event
}

// tickMsg drives the periodic state refresh.
type tickMsg time.Time

// Dashboard is the main bubbletea model.
type Dashboard struct {
	engine  Engine
	refresh time.Duration

	events      <-chan router.Event
	unsubscribe func()

	tasks  []models.Task
	agents []models.Agent
	snap   metrics.Snapshot
	feed   []string

	spin     spinner.Model
	feedView viewport.Model
	width    int
	height   int
	done     bool

	headerStyle lipgloss.Style
	panelStyle  lipgloss.Style
	labelStyle  lipgloss.Style
	goodStyle   lipgloss.Style
	warnStyle   lipgloss.Style
	badStyle    lipgloss.Style
	dimStyle    lipgloss.Style
}

// NewDashboard creates a dashboard for the given engine.
func NewDashboard(engine Engine, refresh time.Duration) *Dashboard {
	if refresh <= 0 {
		refresh = 100 * time.Millisecond
	}
	sp := spinner.New()
	sp.Spinner = spinner.Dot

	events, unsubscribe := engine.Events("tui", 128)

	return &Dashboard{
		engine:      engine,
		refresh:     refresh,
		events:      events,
		unsubscribe: unsubscribe,
		spin:        sp,
		feedView:    viewport.New(80, 8),

		headerStyle: lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("15")),
		panelStyle: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("240")).
			Padding(0, 1),
		labelStyle: lipgloss.NewStyle().Foreground(lipgloss.Color("240")),
		goodStyle:  lipgloss.NewStyle().Foreground(lipgloss.Color("34")),
		warnStyle:  lipgloss.NewStyle().Foreground(lipgloss.Color("214")),
		badStyle:   lipgloss.NewStyle().Foreground(lipgloss.Color("196")),
		dimStyle:   lipgloss.NewStyle().Foreground(lipgloss.Color("244")),
	}
}

// Init implements tea.Model.
func (d *Dashboard) Init() tea.Cmd {
	return tea.Batch(d.spin.Tick, d.tick(), d.waitForEvent())
}

// tick schedules the next state refresh.
func (d *Dashboard) tick() tea.Cmd {
	return tea.Tick(d.refresh, func(t time.Time) tea.Msg { return tickMsg(t) })
}

// waitForEvent blocks on the event subscription.
func (d *Dashboard) waitForEvent() tea.Cmd {
	return func() tea.Msg {
		ev, ok := <-d.events
		if !ok {
			return nil
		}
		return EventMsg{Event: ev}
	}
}

// Update implements tea.Model.
func (d *Dashboard) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			d.done = true
			d.unsubscribe()
			return d, tea.Quit
		}

	case tea.WindowSizeMsg:
		d.width = msg.Width
		d.height = msg.Height
		d.feedView.Width = msg.Width - 4
		d.feedView.Height = clamp(msg.Height-18, 3, 12)

	case tickMsg:
		d.tasks = d.engine.Tasks()
		d.agents = d.engine.Agents()
		d.snap = d.engine.Snapshot()
		return d, d.tick()

	case EventMsg:
		d.appendEvent(msg.Event)
		return d, d.waitForEvent()

	case spinner.TickMsg:
		var cmd tea.Cmd
		d.spin, cmd = d.spin.Update(msg)
		return d, cmd
	}
	return d, nil
}

// appendEvent formats an event into the feed.
func (d *Dashboard) appendEvent(ev router.Event) {
	line := fmt.Sprintf("%s %-14s %s", ev.Timestamp.Format("15:04:05"), ev.Type, ev.TaskID)
	switch {
	case ev.Type == router.EventTaskStolen:
		line += fmt.Sprintf(" %s → %s", ev.FromAgentID, ev.AgentID)
	case ev.AgentID != "":
		line += " @" + ev.AgentID
	}
	if ev.Err != nil {
		line += " (" + ev.Err.Error() + ")"
	} else if ev.Message != "" {
		line += " (" + ev.Message + ")"
	}

	d.feed = append(d.feed, line)
	if len(d.feed) > 200 {
		d.feed = d.feed[len(d.feed)-200:]
	}
	d.feedView.SetContent(strings.Join(d.feed, "\n"))
	d.feedView.GotoBottom()
}

// View implements tea.Model.
func (d *Dashboard) View() string {
	if d.done {
		return ""
	}
	var b strings.Builder

	b.WriteString(d.headerStyle.Render("convoy") + " " + d.spin.View() + " " + d.statsLine())
	b.WriteString("\n\n")
	b.WriteString(d.panelStyle.Render(d.tasksPanel()))
	b.WriteString("\n")
	b.WriteString(d.panelStyle.Render(d.agentsPanel()))
	b.WriteString("\n")
	b.WriteString(d.panelStyle.Render(d.feedView.View()))
	b.WriteString("\n")
	b.WriteString(d.dimStyle.Render("q: quit"))
	return b.String()
}

// statsLine summarizes the latest metrics sample.
func (d *Dashboard) statsLine() string {
	open := 0
	for _, bm := range d.snap.Breakers {
		if bm.State.String() != "closed" {
			open++
		}
	}
	parts := []string{
		fmt.Sprintf("queue %d", d.snap.QueueDepth),
		fmt.Sprintf("pool %d/%d", d.snap.Pool.InUse, d.snap.Pool.MaxSize),
		fmt.Sprintf("assigned %d", d.snap.Scheduler.Assigned),
		fmt.Sprintf("stolen %d", d.snap.Stealer.Stolen),
	}
	line := d.labelStyle.Render(strings.Join(parts, " · "))
	if open > 0 {
		line += " " + d.badStyle.Render(fmt.Sprintf("%d breaker(s) open", open))
	}
	if d.snap.EventsDropped > 0 {
		line += " " + d.warnStyle.Render(fmt.Sprintf("%d events dropped", d.snap.EventsDropped))
	}
	return line
}

// tasksPanel renders one line per task.
func (d *Dashboard) tasksPanel() string {
	if len(d.tasks) == 0 {
		return d.dimStyle.Render("no tasks")
	}
	tasks := append([]models.Task(nil), d.tasks...)
	sort.Slice(tasks, func(i, j int) bool { return tasks[i].CreatedAt.Before(tasks[j].CreatedAt) })

	var lines []string
	for _, t := range tasks {
		icon, style := d.taskIcon(t.Status)
		line := fmt.Sprintf("%s %-20s %-10s", style.Render(icon), truncate(t.ID, 20), t.Status)
		if t.AssignedTo != "" {
			line += " @" + t.AssignedTo
		}
		if t.Error != "" {
			line += " " + d.badStyle.Render(truncate(t.Error, 40))
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}

// taskIcon maps a status to its icon and color.
func (d *Dashboard) taskIcon(s models.TaskStatus) (string, lipgloss.Style) {
	switch s {
	case models.TaskStatusRunning:
		return iconRunning, d.goodStyle
	case models.TaskStatusCompleted:
		return iconCompleted, d.goodStyle
	case models.TaskStatusFailed:
		return iconFailed, d.badStyle
	case models.TaskStatusCancelled:
		return iconCancelled, d.dimStyle
	case models.TaskStatusAssigned:
		return iconAssigned, d.warnStyle
	case models.TaskStatusReady:
		return iconReady, d.warnStyle
	default:
		return iconPending, d.dimStyle
	}
}

// agentsPanel renders one line per agent.
func (d *Dashboard) agentsPanel() string {
	if len(d.agents) == 0 {
		return d.dimStyle.Render("no agents registered")
	}
	var lines []string
	for _, a := range d.agents {
		style := d.dimStyle
		switch a.Status {
		case models.AgentStatusBusy:
			style = d.goodStyle
		case models.AgentStatusIdle:
			style = d.labelStyle
		case models.AgentStatusDraining:
			style = d.warnStyle
		}
		line := fmt.Sprintf("%-16s %s load %d", truncate(a.ID, 16), style.Render(string(a.Status)), a.Load)
		if len(a.Capabilities) > 0 {
			line += " " + d.dimStyle.Render("["+strings.Join(a.Capabilities, ",")+"]")
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n")
}

// Run starts the dashboard and blocks until the user quits.
func Run(engine Engine, refresh time.Duration) error {
	p := tea.NewProgram(NewDashboard(engine, refresh), tea.WithAltScreen())
	_, err := p.Run()
	return err
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	if max <= 1 {
		return s[:max]
	}
	return s[:max-1] + "…"
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
