package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/fruitymesh/cherrysim-go/internal/config"
	"github.com/fruitymesh/cherrysim-go/internal/logging"
	"github.com/fruitymesh/cherrysim-go/internal/terminal"
	"github.com/fruitymesh/cherrysim-go/pkg/cherrysim/engine"
)

var termTicks uint64

var termCmd = &cobra.Command{
	Use:   "term <command ...>",
	Short: "Run one simulator terminal command against a fresh simulation",
	Long: `Build a simulator from the current configuration, optionally step it for
--ticks ticks, then execute a single terminal-surface command (spec §6:
"simstat", "sendstat", "routestat", "sim set_position ...", and the rest)
and print the outcome.

The whole command line after "term" is joined and parsed as one terminal
line, including an optional trailing "CRC: N" suffix.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runTermCommand,
}

func init() {
	rootCmd.AddCommand(termCmd)

	termCmd.Flags().Uint64Var(&termTicks, "ticks", 0, "step the simulation this many ticks before executing the command")
}

func runTermCommand(_ *cobra.Command, args []string) error {
	if err := logging.Initialize(logging.Config{Level: logLevel, Format: logFormat}); err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	defer logging.Sync()

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	eng, err := engine.New(cfg)
	if err != nil {
		return fmt.Errorf("failed to build simulator: %w", err)
	}

	for i := uint64(0); i < termTicks; i++ {
		eng.Step()
	}

	dispatcher := terminal.NewDispatcher()
	terminal.RegisterSimulatorCommands(dispatcher, eng)

	line := strings.Join(args, " ")
	if err := dispatcher.Execute(line); err != nil {
		return fmt.Errorf("command %q: %w", line, err)
	}
	fmt.Println(eng.Stat())
	return nil
}
