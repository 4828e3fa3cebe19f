package cli

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/fruitymesh/cherrysim-go/internal/config"
	"github.com/fruitymesh/cherrysim-go/internal/logging"
	"github.com/fruitymesh/cherrysim-go/internal/telemetry/mqttsink"
	"github.com/fruitymesh/cherrysim-go/internal/terminal"
	"github.com/fruitymesh/cherrysim-go/internal/tui"
	"github.com/fruitymesh/cherrysim-go/pkg/cherrysim/engine"
)

var (
	runTicks       uint64
	runStatusEvery uint64
	runCommandFile string
	runInteractive bool
	dryRun         bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the mesh simulation",
	Long: `Run the deterministic mesh simulator for a fixed number of ticks (or until
interrupted with Ctrl+C when --ticks is 0).

Commands from the simulator's terminal surface (spec §6: "simstat", "nodes
N", "seed[r] [v]", "sim set_position ...", and the rest) can be preloaded
from a file with --commands, one per line, executed once before stepping
begins.

Use --interactive or -i to drive the run with a live status TUI instead of
line-oriented progress logging.`,
	RunE: runSimulation,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().Uint64Var(&runTicks, "ticks", 1000, "number of ticks to run (0 runs until interrupted)")
	runCmd.Flags().Uint64Var(&runStatusEvery, "status-every", 100, "print simstat every N ticks (0 disables)")
	runCmd.Flags().StringVar(&runCommandFile, "commands", "", "file of terminal commands to run before stepping")
	runCmd.Flags().BoolVarP(&runInteractive, "interactive", "i", false, "run with an interactive status TUI")
	runCmd.Flags().BoolVar(&dryRun, "dry-run", false, "validate configuration without running the simulation")
}

func runSimulation(_ *cobra.Command, _ []string) error {
	logCfg := logging.Config{Level: logLevel, Format: logFormat}
	if runInteractive {
		logCfg.Format = "text"
		logCfg.Level = "error"
	}
	if err := logging.Initialize(logCfg); err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	defer logging.Sync()

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	if dryRun {
		fmt.Println("Configuration is valid!")
		fmt.Printf("  Nodes:       %d (+%d asset)\n", cfg.Sim.NumNodes, cfg.Sim.AssetNodes)
		fmt.Printf("  Seed:        %d\n", cfg.Sim.Seed)
		fmt.Printf("  Map:         %gx%g m\n", cfg.Sim.MapWidthMeters, cfg.Sim.MapHeightMeters)
		fmt.Printf("  Tick:        %d ms\n", cfg.Sim.SimTickDurationMs)
		fmt.Printf("  Mesh conns:  in=%d out=%d total=%d\n", cfg.Mesh.MaxMeshIn, cfg.Mesh.MaxMeshOut, cfg.Mesh.TotalConnections)
		return nil
	}

	eng, err := engine.New(cfg)
	if err != nil {
		return fmt.Errorf("failed to build simulator: %w", err)
	}

	dispatcher := terminal.NewDispatcher()
	terminal.RegisterSimulatorCommands(dispatcher, eng)

	if runCommandFile != "" {
		if err := runCommandsFromFile(dispatcher, runCommandFile); err != nil {
			return fmt.Errorf("failed to preload commands: %w", err)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		cancel()
	}()

	if cfg.Telemetry.MQTTEnabled {
		sink := mqttsink.New(mqttsink.Config{
			Broker:   cfg.Telemetry.MQTTBroker,
			ClientID: cfg.Telemetry.MQTTClientID,
			Username: cfg.Telemetry.MQTTUsername,
			Password: cfg.Telemetry.MQTTPassword,
			Topic:    cfg.Telemetry.MQTTTopic,
		})
		if err := sink.Connect(); err != nil {
			return fmt.Errorf("failed to connect telemetry sink: %w", err)
		}
		defer sink.Close()
		eng.SetTelemetry(sink)
	}

	if runInteractive {
		if err := tui.Run(eng, ctx); err != nil {
			logging.Error("TUI error", zap.Error(err))
		}
		return nil
	}

	// The tick loop and the optional serial-attached debug console run
	// under one errgroup with shared cancellation, so a console failure or
	// a finished run tears the whole process down cleanly.
	g, gctx := errgroup.WithContext(ctx)

	if cfg.Terminal.SerialPort != "" {
		console := terminal.NewSerialConsole(terminal.SerialConsoleConfig{
			Port: cfg.Terminal.SerialPort,
			Baud: cfg.Terminal.SerialBaud,
		}, dispatcher)
		if err := console.Connect(); err != nil {
			return fmt.Errorf("failed to open serial console: %w", err)
		}
		defer console.Close()
		g.Go(func() error { return console.Run(gctx) })
	}

	g.Go(func() error {
		stepToCompletion(gctx, eng)
		cancel()
		return nil
	})

	if err := g.Wait(); err != nil {
		logging.Error("run aborted", zap.Error(err))
	}

	fmt.Println(eng.Stat())
	return nil
}

// stepToCompletion advances the simulator one tick at a time until either
// runTicks ticks have run (0 meaning unbounded) or ctx is canceled,
// logging simstat every runStatusEvery ticks.
func stepToCompletion(ctx context.Context, eng *engine.Engine) {
	var i uint64
	for runTicks == 0 || i < runTicks {
		select {
		case <-ctx.Done():
			return
		default:
		}

		eng.Step()
		i++

		if runStatusEvery > 0 && i%runStatusEvery == 0 {
			logging.Info(eng.Stat())
		}
	}
}

// runCommandsFromFile executes every non-blank, non-comment line of path
// through dispatcher, in order, before the simulation starts stepping.
func runCommandsFromFile(dispatcher *terminal.Dispatcher, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if err := dispatcher.Execute(line); err != nil {
			return fmt.Errorf("line %d (%q): %w", lineNo, line, err)
		}
	}
	return scanner.Err()
}
