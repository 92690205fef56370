// Package tui renders the coordinator's display state in the terminal and maps
// key presses onto the demo actions.
package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"go.uber.org/zap"

	"github.com/JakeFAU/progress-coordinator/internal/demo"
	"github.com/JakeFAU/progress-coordinator/internal/progressbar"
)

const (
	defaultWidth  = 60
	maxWidth      = 100
	frameInterval = 80 * time.Millisecond
	updateBuffer  = 16
	defaultBurst  = 5
)

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#EE6FF8"))
	labelStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#A8A8A8"))
	errorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF5F5F"))
	helpStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#626262"))
	sweepStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#5A56E0"))
	trackStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#3C3C3C"))
	bufferStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#767676"))
)

var gradients = map[progressbar.Color][2]string{
	progressbar.ColorPrimary: {"#5A56E0", "#EE6FF8"},
	progressbar.ColorAccent:  {"#FF7CCB", "#FDFF8C"},
	progressbar.ColorWarn:    {"#FF5F5F", "#FFAF00"},
}

// Navigator changes pages.
type Navigator interface {
	Navigate(ctx context.Context, path string) error
	Current() string
}

// Config wires the model to the coordinator and the demo actions. Simulator
// and Navigator are optional; their keys do nothing when unset.
type Config struct {
	Coordinator *progressbar.Coordinator
	Simulator   *demo.Simulator
	Navigator   Navigator
	Logger      *zap.Logger
	// BurstSize is the request count of the burst keys.
	BurstSize int
	// Context parents the background actions started by key presses.
	Context context.Context
}

type stateMsg progressbar.DisplayState

type frameMsg struct{}

type actionMsg struct {
	action string
	err    error
}

// Model is the bubbletea model. State changes reach it through a buffered
// channel so the coordinator never waits on the renderer.
type Model struct {
	coord  *progressbar.Coordinator
	sim    *demo.Simulator
	nav    Navigator
	logger *zap.Logger
	ctx    context.Context

	updates <-chan progressbar.DisplayState
	bar     progress.Model
	state   progressbar.DisplayState
	width   int
	frame   int

	// Refreshed on every Update so View never calls into the coordinator.
	owner    progressbar.Owner
	requests int
	page     string

	burst  int
	status string
	err    error
}

// New builds a Model subscribed to the coordinator. The returned func
// unsubscribes and must be called once the program exits.
func New(cfg Config) (Model, func()) {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx := cfg.Context
	if ctx == nil {
		ctx = context.Background()
	}
	burst := cfg.BurstSize
	if burst <= 0 {
		burst = defaultBurst
	}
	updates := make(chan progressbar.DisplayState, updateBuffer)
	unsubscribe := cfg.Coordinator.State().Subscribe(func(d progressbar.DisplayState) {
		offerLatest(updates, d)
	})
	state := cfg.Coordinator.Display()
	m := Model{
		coord:   cfg.Coordinator,
		sim:     cfg.Simulator,
		nav:     cfg.Navigator,
		logger:  logger,
		ctx:     ctx,
		updates: updates,
		state:   state,
		width:   defaultWidth,
		burst:   burst,
		bar:     newBar(state.Color, defaultWidth),
	}
	m.refresh()
	return m, unsubscribe
}

func (m *Model) refresh() {
	m.owner = m.coord.Owner()
	m.requests = m.coord.ActiveRequests()
	if m.nav != nil {
		m.page = m.nav.Current()
	}
}

func newBar(color progressbar.Color, width int) progress.Model {
	g, ok := gradients[color]
	if !ok {
		g = gradients[progressbar.ColorPrimary]
	}
	return progress.New(progress.WithGradient(g[0], g[1]), progress.WithWidth(width))
}

// offerLatest enqueues d without blocking, evicting the oldest queued state
// when ch is full.
func offerLatest(ch chan progressbar.DisplayState, d progressbar.DisplayState) {
	for {
		select {
		case ch <- d:
			return
		default:
		}
		select {
		case <-ch:
		default:
		}
	}
}

func waitForState(ch <-chan progressbar.DisplayState) tea.Cmd {
	return func() tea.Msg {
		d, ok := <-ch
		if !ok {
			return nil
		}
		return stateMsg(d)
	}
}

func nextFrame() tea.Cmd {
	return tea.Tick(frameInterval, func(time.Time) tea.Msg { return frameMsg{} })
}

// Init starts listening for state changes and the sweep animation.
func (m Model) Init() tea.Cmd {
	return tea.Batch(waitForState(m.updates), nextFrame())
}

// Update handles keys, state changes and action results.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = max(10, min(msg.Width-4, maxWidth))
		m.bar.Width = m.width
		return m, nil

	case tea.KeyMsg:
		next, cmd := m.handleKey(msg)
		next.refresh()
		return next, cmd

	case stateMsg:
		next := progressbar.DisplayState(msg)
		if next.Color != m.state.Color {
			m.bar = newBar(next.Color, m.width)
		}
		m.state = next
		m.refresh()
		return m, waitForState(m.updates)

	case frameMsg:
		m.frame++
		return m, nextFrame()

	case actionMsg:
		m.err = msg.err
		if msg.err != nil {
			m.status = msg.action + " failed"
			m.logger.Debug("tui action failed", zap.String("action", msg.action), zap.Error(msg.err))
		} else {
			m.status = msg.action + " done"
		}
		m.refresh()
		return m, nil
	}
	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (Model, tea.Cmd) {
	switch key := msg.String(); key {
	case "q", "ctrl+c":
		return m, tea.Quit
	case "s":
		m.coord.Start()
		m.status = "manual start"
	case "+", "=":
		m.coord.Tick()
		m.status = "tick"
	case "c":
		m.coord.Complete()
		m.status = "complete"
	case "r":
		m.coord.Reset()
		m.status = "reset"
	case "w":
		if m.sim == nil {
			return m, nil
		}
		m.status = "work running"
		return m, m.run("work", m.sim.Work)
	case "h":
		return m.fetch("request", 1, false)
	case "m":
		return m.fetch("burst", m.burst, false)
	case "x":
		return m.fetch("skipped burst", m.burst, true)
	case "o":
		if m.sim == nil {
			return m, nil
		}
		m.status = "slow configuration"
		return m, m.run("slow configuration", m.sim.SlowConfiguration)
	case "1", "2", "3":
		if m.nav == nil {
			return m, nil
		}
		path := demo.Pages[int(key[0]-'1')].Path
		m.status = "navigating to " + path
		return m, m.run("navigate "+path, func(ctx context.Context) error {
			return m.nav.Navigate(ctx, path)
		})
	}
	return m, nil
}

func (m Model) fetch(action string, n int, skip bool) (Model, tea.Cmd) {
	if m.sim == nil {
		return m, nil
	}
	m.status = action + " running"
	return m, m.run(action, func(ctx context.Context) error {
		return m.sim.Fetch(ctx, n, skip)
	})
}

func (m Model) run(action string, fn func(context.Context) error) tea.Cmd {
	ctx := m.ctx
	return func() tea.Msg {
		return actionMsg{action: action, err: fn(ctx)}
	}
}

// View renders the bar, the current owner and the key help.
func (m Model) View() string {
	var sb strings.Builder
	sb.WriteString("\n  ")
	sb.WriteString(titleStyle.Render("Progress coordinator"))
	if page, ok := demo.FindPage(m.page); ok {
		sb.WriteString(labelStyle.Render("  " + page.Title))
	}
	sb.WriteString("\n\n  ")
	sb.WriteString(m.renderBar())
	sb.WriteString("\n\n  ")
	sb.WriteString(labelStyle.Render(fmt.Sprintf("owner: %s  mode: %s  requests: %d",
		m.owner, m.state.Mode, m.requests)))
	sb.WriteString("\n  ")
	if m.err != nil {
		sb.WriteString(errorStyle.Render(m.status + ": " + m.err.Error()))
	} else {
		sb.WriteString(labelStyle.Render(m.status))
	}
	sb.WriteString("\n\n")
	sb.WriteString(helpStyle.Render("  s start  + tick  c complete  r reset  w work\n" +
		"  h request  m burst  x skipped burst  o slow config\n" +
		"  1/2/3 navigate  q quit"))
	sb.WriteString("\n")
	return sb.String()
}

func (m Model) renderBar() string {
	if !m.state.Visible {
		return trackStyle.Render(strings.Repeat("·", m.width))
	}
	switch m.state.Mode {
	case progressbar.ModeIndeterminate, progressbar.ModeQuery:
		return m.sweep()
	case progressbar.ModeBuffer:
		return m.bar.ViewAs(m.state.Value/100) + " " +
			bufferStyle.Render(fmt.Sprintf("buffer %3.0f%%", m.state.BufferValue))
	default:
		return m.bar.ViewAs(m.state.Value / 100)
	}
}

// sweep draws a segment a quarter of the bar wide moving across the track.
// Query mode runs it backwards.
func (m Model) sweep() string {
	seg := max(1, m.width/4)
	span := m.width + seg
	pos := m.frame % span
	if m.state.Mode == progressbar.ModeQuery {
		pos = span - 1 - pos
	}
	start := pos - seg
	var sb strings.Builder
	for i := range m.width {
		if i >= start && i < pos {
			sb.WriteString(sweepStyle.Render("█"))
		} else {
			sb.WriteString(trackStyle.Render("░"))
		}
	}
	return sb.String()
}
