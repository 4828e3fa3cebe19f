package terminal

import (
	"bufio"
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.bug.st/serial"
	"go.uber.org/zap"

	"github.com/fruitymesh/cherrysim-go/internal/logging"
)

// SerialConsoleConfig holds the physical port parameters for the optional
// serial-attached debug console.
type SerialConsoleConfig struct {
	Port string
	Baud int
}

// SerialConsole forwards the simulator's terminal command surface to a
// serial-attached debug console: lines read from the port are executed
// through a Dispatcher and the outcome is written back, so "simstat",
// "nodes N", "sim set_position ..." and the rest can be typed at a real
// terminal exactly as they would be on firmware hardware.
type SerialConsole struct {
	config     SerialConsoleConfig
	dispatcher *Dispatcher
	port       serial.Port
	logger     *zap.Logger

	mu        sync.Mutex
	connected bool
}

// NewSerialConsole builds a console bound to the given dispatcher; Connect
// must be called before Run.
func NewSerialConsole(cfg SerialConsoleConfig, dispatcher *Dispatcher) *SerialConsole {
	return &SerialConsole{
		config:     cfg,
		dispatcher: dispatcher,
		logger:     logging.With(zap.String("connection", "serial-console")),
	}
}

// Connect opens the serial port.
func (s *SerialConsole) Connect() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.connected {
		return nil
	}

	s.logger.Info("Opening serial console",
		zap.String("port", s.config.Port),
		zap.Int("baud", s.config.Baud))

	mode := &serial.Mode{
		BaudRate: s.config.Baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	port, err := serial.Open(s.config.Port, mode)
	if err != nil {
		return fmt.Errorf("failed to open serial port: %w", err)
	}
	if err := port.SetReadTimeout(100 * time.Millisecond); err != nil {
		port.Close()
		return fmt.Errorf("failed to set read timeout: %w", err)
	}

	s.port = port
	s.connected = true
	return nil
}

// Run reads command lines from the port until ctx is canceled, executing
// each through the dispatcher and echoing the result back to the port.
func (s *SerialConsole) Run(ctx context.Context) error {
	s.mu.Lock()
	port := s.port
	connected := s.connected
	s.mu.Unlock()
	if !connected {
		return fmt.Errorf("serial console not connected")
	}

	scanner := bufio.NewScanner(port)
	lines := make(chan string)
	scanErr := make(chan error, 1)
	go func() {
		defer close(lines)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		scanErr <- scanner.Err()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				select {
				case err := <-scanErr:
					return err
				default:
					return nil
				}
			}
			s.execute(line)
		}
	}
}

func (s *SerialConsole) execute(line string) {
	line = strings.TrimSpace(line)
	if line == "" {
		return
	}
	if err := s.dispatcher.Execute(line); err != nil {
		s.writeLine(fmt.Sprintf("error: %v", err))
		return
	}
	s.writeLine("ok")
}

func (s *SerialConsole) writeLine(msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.port == nil {
		return
	}
	if _, err := s.port.Write([]byte(msg + "\r\n")); err != nil {
		s.logger.Warn("serial write failed", zap.Error(err))
	}
}

// Close shuts the port down.
func (s *SerialConsole) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.connected {
		return
	}
	s.connected = false
	if s.port != nil {
		s.port.Close()
		s.port = nil
	}
}
