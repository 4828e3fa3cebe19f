// Package tui provides the interactive status dashboard for a running
// simulation.
package tui

import (
	"context"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/fruitymesh/cherrysim-go/pkg/cherrysim/engine"
)

// MaxRows is the maximum number of node rows rendered in the table; rows
// beyond this are not rendered.
const MaxRows = 500

// TicksPerRefresh is how many simulation ticks are stepped between each
// TUI redraw. Stepping more than one tick per redraw keeps the dashboard
// responsive even when the node count makes a single tick cheap relative
// to terminal rendering.
const TicksPerRefresh = 10

// Model is the bubbletea model for the simulator status dashboard.
type Model struct {
	eng *engine.Engine
	ctx context.Context

	width    int
	height   int
	ready    bool
	quitting bool
	paused   bool

	spinner  spinner.Model
	viewport viewport.Model

	rows         []engine.NodeSummary
	statLine     string
	startTime    time.Time
	lastUpdate   time.Time
	errorMessage string
}

// New creates a TUI model driving the given engine.
func New(eng *engine.Engine, ctx context.Context) Model {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = spinnerStyle

	return Model{
		eng:       eng,
		ctx:       ctx,
		spinner:   s,
		startTime: time.Now(),
	}
}

// Init starts the spinner and the periodic step/redraw tick.
//
//nolint:gocritic // hugeParam: Model must be value receiver to implement tea.Model interface
func (m Model) Init() tea.Cmd {
	return tea.Batch(
		m.spinner.Tick,
		tickCmd(),
	)
}

// tickMsg drives one redraw (and, unless paused, TicksPerRefresh simulation
// steps).
type tickMsg time.Time

// errMsg carries a fatal error up to the view.
type errMsg error

func tickCmd() tea.Cmd {
	return tea.Tick(200*time.Millisecond, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}
