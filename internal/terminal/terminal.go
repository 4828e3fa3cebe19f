// Package terminal implements the simulator's terminal command surface
// (spec §6): a line-oriented command parser that must accept the
// firmware's own command set bit-compatibly, including the optional
// trailing CRC-32 guard simulator commands may carry.
package terminal

import (
	"fmt"
	"hash/crc32"
	"strconv"
	"strings"
)

// ErrCRCInvalid is returned when a command carries a "CRC: N" suffix that
// doesn't match the CRC-32 of its argv.
var ErrCRCInvalid = fmt.Errorf("CRCInvalid")

// Command is one parsed terminal command line: a name and its argument
// vector, with any trailing CRC suffix already validated and stripped.
type Command struct {
	Name string
	Args []string
}

// ParseLine splits a raw terminal line into a Command, validating and
// stripping an optional trailing "CRC: N" suffix. The CRC, when present,
// is computed as IEEE CRC-32 over the space-joined argv (name plus args)
// that precedes it.
func ParseLine(line string) (Command, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return Command{}, fmt.Errorf("terminal: empty command")
	}

	if len(fields) >= 2 && fields[len(fields)-2] == "CRC:" {
		wantStr := fields[len(fields)-1]
		want, err := strconv.ParseUint(wantStr, 10, 32)
		if err != nil {
			return Command{}, fmt.Errorf("terminal: invalid CRC value %q: %w", wantStr, err)
		}
		argv := fields[:len(fields)-2]
		if len(argv) == 0 {
			return Command{}, fmt.Errorf("terminal: empty command before CRC suffix")
		}
		got := crc32.ChecksumIEEE([]byte(strings.Join(argv, " ")))
		if uint32(want) != got {
			return Command{}, ErrCRCInvalid
		}
		fields = argv
	}

	return Command{Name: fields[0], Args: fields[1:]}, nil
}

// Handler executes one terminal command's arguments against whatever
// controller it closes over.
type Handler func(args []string) error

// Dispatcher maps command names to their handlers and executes parsed
// lines against them. Unregistered commands are reported as errors rather
// than silently ignored, matching the firmware's "unknown command"
// behavior.
type Dispatcher struct {
	handlers map[string]Handler
}

// NewDispatcher returns an empty Dispatcher.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{handlers: make(map[string]Handler)}
}

// Register installs a handler for the given command name.
func (d *Dispatcher) Register(name string, h Handler) {
	d.handlers[name] = h
}

// Execute parses and runs one terminal line.
func (d *Dispatcher) Execute(line string) error {
	cmd, err := ParseLine(line)
	if err != nil {
		return err
	}
	h, ok := d.handlers[cmd.Name]
	if !ok {
		return fmt.Errorf("terminal: unknown command %q", cmd.Name)
	}
	return h(cmd.Args)
}
