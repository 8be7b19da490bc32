// Package ui provides the terminal dashboard behind `slotwise watch`.
// Uses Bubbletea for the refresh loop and lipgloss for layout.
package ui

import (
	"context"
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/marcus/slotwise/internal/audit"
	"github.com/marcus/slotwise/internal/tasks"
)

// RefreshInterval is how often the dashboard reloads its snapshot.
const RefreshInterval = time.Second

// Panel represents which panel is currently focused.
type Panel int

const (
	PanelStatus Panel = iota
	PanelSchedule
	PanelCalls
)

const panelCount = 3

// Snapshot is everything one frame shows.
type Snapshot struct {
	Active   *tasks.Task
	Upcoming []*tasks.Task // ordered by scheduled start
	Pending  int           // tasks still waiting for a window
	Calls    []audit.OracleCall
	TakenAt  time.Time
}

// SourceFunc loads a snapshot.
type SourceFunc func(ctx context.Context) (Snapshot, error)

// Model holds the TUI state.
type Model struct {
	width       int
	height      int
	activePanel Panel
	quitting    bool

	source  SourceFunc
	snap    Snapshot
	loadErr error
	frames  int

	selected   int
	callScroll int

	styles *Styles
	now    func() time.Time
}

// Styles holds lipgloss styles for the UI.
type Styles struct {
	ActiveBorder   lipgloss.Style
	InactiveBorder lipgloss.Style

	Title     lipgloss.Style
	Label     lipgloss.Style
	Value     lipgloss.Style
	Highlight lipgloss.Style
	Muted     lipgloss.Style

	StatusOK      lipgloss.Style
	StatusWarn    lipgloss.Style
	StatusError   lipgloss.Style
	StatusRunning lipgloss.Style

	Selected lipgloss.Style

	HelpKey  lipgloss.Style
	HelpText lipgloss.Style
}

func newStyles() *Styles {
	subtle := lipgloss.AdaptiveColor{Light: "#666", Dark: "#888"}
	highlight := lipgloss.AdaptiveColor{Light: "#874BFD", Dark: "#7D56F4"}
	green := lipgloss.AdaptiveColor{Light: "#22863a", Dark: "#3fb950"}
	yellow := lipgloss.AdaptiveColor{Light: "#b08800", Dark: "#d29922"}
	red := lipgloss.AdaptiveColor{Light: "#cb2431", Dark: "#f85149"}
	blue := lipgloss.AdaptiveColor{Light: "#0366d6", Dark: "#58a6ff"}

	return &Styles{
		ActiveBorder: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(highlight),
		InactiveBorder: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(subtle),

		Title: lipgloss.NewStyle().
			Bold(true).
			Foreground(highlight).
			MarginBottom(1),
		Label:     lipgloss.NewStyle().Foreground(subtle),
		Value:     lipgloss.NewStyle().Bold(true),
		Highlight: lipgloss.NewStyle().Foreground(highlight).Bold(true),
		Muted:     lipgloss.NewStyle().Foreground(subtle),

		StatusOK:      lipgloss.NewStyle().Foreground(green).Bold(true),
		StatusWarn:    lipgloss.NewStyle().Foreground(yellow).Bold(true),
		StatusError:   lipgloss.NewStyle().Foreground(red).Bold(true),
		StatusRunning: lipgloss.NewStyle().Foreground(blue).Bold(true),

		Selected: lipgloss.NewStyle().
			Background(highlight).
			Foreground(lipgloss.Color("#fff")).
			Bold(true),

		HelpKey:  lipgloss.NewStyle().Foreground(highlight).Bold(true),
		HelpText: lipgloss.NewStyle().Foreground(subtle),
	}
}

type tickMsg time.Time

type snapshotMsg struct {
	snap Snapshot
	err  error
}

// New creates a dashboard reading from source.
func New(source SourceFunc) *Model {
	return &Model{
		width:       80,
		height:      24,
		activePanel: PanelStatus,
		source:      source,
		styles:      newStyles(),
		now:         time.Now,
	}
}

// Init implements tea.Model.
func (m Model) Init() tea.Cmd {
	return tea.Batch(m.load(), tickCmd())
}

func tickCmd() tea.Cmd {
	return tea.Tick(RefreshInterval, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

func (m Model) load() tea.Cmd {
	source := m.source
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), RefreshInterval)
		defer cancel()
		snap, err := source(ctx)
		return snapshotMsg{snap: snap, err: err}
	}
}

// Update implements tea.Model.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case tickMsg:
		m.frames++
		return m, tea.Batch(m.load(), tickCmd())

	case snapshotMsg:
		m.loadErr = msg.err
		if msg.err == nil {
			m.snap = msg.snap
			m.clamp()
		}
		return m, nil
	}
	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c", "esc":
		m.quitting = true
		return m, tea.Quit
	case "tab", "right", "l":
		m.activePanel = (m.activePanel + 1) % panelCount
	case "shift+tab", "left", "h":
		m.activePanel = (m.activePanel + panelCount - 1) % panelCount
	case "up", "k":
		m.move(-1)
	case "down", "j":
		m.move(1)
	case "r":
		return m, m.load()
	}
	return m, nil
}

func (m *Model) move(delta int) {
	switch m.activePanel {
	case PanelSchedule:
		m.selected += delta
	case PanelCalls:
		m.callScroll += delta
	}
	m.clamp()
}

func (m *Model) clamp() {
	m.selected = clampIndex(m.selected, len(m.snap.Upcoming))
	m.callScroll = clampIndex(m.callScroll, len(m.snap.Calls))
}

func clampIndex(i, n int) int {
	if i >= n {
		i = n - 1
	}
	if i < 0 {
		i = 0
	}
	return i
}

// View implements tea.Model.
func (m Model) View() string {
	if m.quitting {
		return ""
	}

	topHeight := m.height / 2
	bottomHeight := m.height - topHeight - 3
	leftWidth := m.width / 2
	rightWidth := m.width - leftWidth

	statusBorder := m.border(PanelStatus).Width(leftWidth - 2).Height(topHeight - 2)
	scheduleBorder := m.border(PanelSchedule).Width(rightWidth - 2).Height(topHeight - 2)
	callsBorder := m.border(PanelCalls).Width(m.width - 2).Height(bottomHeight - 2)

	top := lipgloss.JoinHorizontal(
		lipgloss.Top,
		statusBorder.Render(m.renderStatus()),
		scheduleBorder.Render(m.renderSchedule(rightWidth-2, topHeight-2)),
	)
	return lipgloss.JoinVertical(
		lipgloss.Left,
		top,
		callsBorder.Render(m.renderCalls(m.width-2, bottomHeight-2)),
		m.renderHelpBar(),
	)
}

func (m Model) border(p Panel) lipgloss.Style {
	if m.activePanel == p {
		return m.styles.ActiveBorder
	}
	return m.styles.InactiveBorder
}

func (m Model) renderStatus() string {
	var b strings.Builder
	b.WriteString(m.styles.Title.Render("Slotwise"))
	b.WriteString("\n\n")

	b.WriteString(m.styles.Label.Render("Active: "))
	if a := m.snap.Active; a != nil {
		b.WriteString(m.styles.StatusRunning.Render(m.spinner() + " " + a.Title))
		if a.ActualStart != nil {
			b.WriteString(m.styles.Muted.Render(" for " + formatDuration(m.now().Sub(*a.ActualStart))))
		}
	} else {
		b.WriteString(m.styles.Muted.Render("None"))
	}
	b.WriteString("\n\n")

	b.WriteString(m.styles.Label.Render("Scheduled: "))
	b.WriteString(m.styles.Value.Render(fmt.Sprintf("%d", len(m.snap.Upcoming))))
	b.WriteString("\n")

	b.WriteString(m.styles.Label.Render("Awaiting window: "))
	pending := m.styles.StatusOK
	if m.snap.Pending > 0 {
		pending = m.styles.StatusWarn
	}
	b.WriteString(pending.Render(fmt.Sprintf("%d", m.snap.Pending)))
	b.WriteString("\n\n")

	b.WriteString(m.styles.Label.Render("Updated: "))
	switch {
	case m.loadErr != nil:
		b.WriteString(m.styles.StatusError.Render(m.loadErr.Error()))
	case m.snap.TakenAt.IsZero():
		b.WriteString(m.styles.Muted.Render("loading"))
	default:
		b.WriteString(m.styles.Value.Render(m.snap.TakenAt.Format("15:04:05")))
	}
	return b.String()
}

func (m Model) renderSchedule(width, height int) string {
	var b strings.Builder
	b.WriteString(m.styles.Title.Render("Upcoming"))
	b.WriteString("\n\n")

	if len(m.snap.Upcoming) == 0 {
		b.WriteString(m.styles.Muted.Render("Nothing scheduled"))
		return b.String()
	}

	visible := max(height-4, 1)
	first := 0
	if m.selected >= visible {
		first = m.selected - visible + 1
	}
	for i := first; i < len(m.snap.Upcoming) && i < first+visible; i++ {
		t := m.snap.Upcoming[i]
		line := fmt.Sprintf(" %s %s", m.windowLabel(t), truncate(t.Title, width-20))
		if t.ScheduleSource == tasks.SourceFallback {
			line += m.styles.StatusWarn.Render(" (fallback)")
		}
		if i == m.selected && m.activePanel == PanelSchedule {
			line = m.styles.Selected.Render(line)
		}
		b.WriteString(line)
		b.WriteString("\n")
	}
	if len(m.snap.Upcoming) > visible {
		b.WriteString(m.styles.Muted.Render(fmt.Sprintf(" [%d/%d]", m.selected+1, len(m.snap.Upcoming))))
	}
	return b.String()
}

func (m Model) windowLabel(t *tasks.Task) string {
	if t.ScheduledStart == nil || t.ScheduledEnd == nil {
		return m.styles.Muted.Render("--:--")
	}
	start := t.ScheduledStart.Local()
	label := start.Format("Mon 15:04") + "-" + t.ScheduledEnd.Local().Format("15:04")
	if t.ScheduledEnd.Before(m.now()) {
		return m.styles.StatusError.Render(label)
	}
	return m.styles.Label.Render(label)
}

func (m Model) renderCalls(width, height int) string {
	var b strings.Builder
	b.WriteString(m.styles.Title.Render("Oracle calls"))
	b.WriteString("\n\n")

	if len(m.snap.Calls) == 0 {
		b.WriteString(m.styles.Muted.Render("No oracle calls yet"))
		return b.String()
	}

	visible := max(height-4, 1)
	start := m.callScroll
	if start+visible > len(m.snap.Calls) {
		start = max(len(m.snap.Calls)-visible, 0)
	}
	for i := start; i < len(m.snap.Calls) && i < start+visible; i++ {
		c := m.snap.Calls[i]
		status := m.styles.StatusOK.Render("ok  ")
		detail := ""
		if c.Error != "" {
			status = m.styles.StatusError.Render("fail")
			detail = c.Error
		}
		task := "batch"
		if c.TaskID > 0 {
			task = fmt.Sprintf("task %d", c.TaskID)
		}
		line := fmt.Sprintf("%s %s %-18s %-8s #%d %6s",
			m.styles.Muted.Render(c.CreatedAt.Local().Format("15:04:05")),
			status, c.Op, task, c.Attempt, c.Duration.Round(time.Millisecond))
		if detail != "" {
			line += " " + m.styles.Muted.Render(truncate(detail, width-60))
		}
		b.WriteString(line)
		b.WriteString("\n")
	}
	return b.String()
}

func (m Model) spinner() string {
	frames := []string{"|", "/", "-", "\\"}
	return frames[m.frames%len(frames)]
}

func (m Model) renderHelpBar() string {
	items := []struct{ key, desc string }{
		{"tab", "switch panel"},
		{"j/k", "up/down"},
		{"r", "refresh"},
		{"q", "quit"},
	}
	parts := make([]string, 0, len(items))
	for _, it := range items {
		parts = append(parts, m.styles.HelpKey.Render(it.key)+" "+m.styles.HelpText.Render(it.desc))
	}
	return "  " + strings.Join(parts, "  |  ")
}

func truncate(s string, n int) string {
	if n <= 3 || len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}

func formatDuration(d time.Duration) string {
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%ds", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh%02dm", int(d.Hours()), int(d.Minutes())%60)
	}
	return fmt.Sprintf("%dd", int(d.Hours()/24))
}

// Run starts the dashboard and blocks until the user quits.
func (m *Model) Run() error {
	p := tea.NewProgram(m, tea.WithAltScreen())
	_, err := p.Run()
	return err
}
