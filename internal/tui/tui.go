package tui

import (
	"context"
	"fmt"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/fruitymesh/cherrysim-go/pkg/cherrysim/engine"
)

// Run starts the interactive status dashboard for eng, stepping the
// simulation forward until the user quits or ctx is canceled (e.g. by
// SIGINT/SIGTERM in the caller).
func Run(eng *engine.Engine, ctx context.Context) error {
	model := New(eng, ctx)
	program := tea.NewProgram(
		model,
		tea.WithAltScreen(),
		tea.WithMouseCellMotion(),
	)

	go func() {
		<-ctx.Done()
		program.Quit()
	}()

	if _, err := program.Run(); err != nil {
		return fmt.Errorf("failed to run TUI: %w", err)
	}

	return nil
}
