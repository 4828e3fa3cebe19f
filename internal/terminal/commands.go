package terminal

import (
	"fmt"
	"strconv"
)

// RegisterSimulatorCommands installs handlers for the simulator's full
// terminal command set (spec §6) against the given Controller, wiring the
// parsed argv of each command into the corresponding Controller call.
func RegisterSimulatorCommands(d *Dispatcher, c Controller) {
	d.Register("simstat", func(args []string) error {
		fmt.Println(c.Stat())
		return nil
	})

	d.Register("term", func(args []string) error {
		if len(args) != 1 {
			return fmt.Errorf("term: expected a node id or \"all\"")
		}
		return c.SetTerminalTarget(args[0])
	})

	d.Register("nodes", func(args []string) error {
		n, err := requireInt(args, "nodes")
		if err != nil {
			return err
		}
		return c.SetNumNodes(n)
	})

	d.Register("assetnodes", func(args []string) error {
		n, err := requireInt(args, "assetnodes")
		if err != nil {
			return err
		}
		return c.SetAssetNodes(n)
	})

	d.Register("seed", func(args []string) error {
		if len(args) == 0 {
			return c.SetSeed(0, true)
		}
		v, err := requireUint32(args, "seed")
		if err != nil {
			return err
		}
		return c.SetSeed(v, false)
	})
	d.Register("seedr", func(args []string) error {
		return c.SetSeed(0, true)
	})

	d.Register("width", func(args []string) error {
		v, err := requireFloat(args, "width")
		if err != nil {
			return err
		}
		return c.SetMapWidth(v)
	})
	d.Register("height", func(args []string) error {
		v, err := requireFloat(args, "height")
		if err != nil {
			return err
		}
		return c.SetMapHeight(v)
	})

	d.Register("lossprob", func(args []string) error {
		v, err := requireFloat(args, "lossprob")
		if err != nil {
			return err
		}
		return c.SetLossProbability(v)
	})
	d.Register("delay", func(args []string) error {
		v, err := requireUint32(args, "delay")
		if err != nil {
			return err
		}
		return c.SetDelay(v)
	})
	d.Register("json", func(args []string) error {
		v, err := requireInt(args, "json")
		if err != nil {
			return err
		}
		return c.SetJSONVerbose(v != 0)
	})

	d.Register("site", func(args []string) error {
		if len(args) != 1 {
			return fmt.Errorf("site: expected a file path")
		}
		return c.LoadSite(args[0])
	})
	d.Register("devices", func(args []string) error {
		if len(args) != 1 {
			return fmt.Errorf("devices: expected a file path")
		}
		return c.LoadDevices(args[0])
	})

	d.Register("sim", func(args []string) error {
		if len(args) == 0 {
			return fmt.Errorf("sim: expected a subcommand")
		}
		switch args[0] {
		case "set_position":
			return setOrAddPosition(args[1:], c.SetPosition)
		case "add_position":
			return setOrAddPosition(args[1:], c.AddPosition)
		case "animation":
			return c.Animation(args[1:])
		default:
			return fmt.Errorf("sim: unknown subcommand %q", args[0])
		}
	})

	d.Register("flush", func(args []string) error {
		return c.Flush()
	})
	d.Register("flushfail", func(args []string) error {
		return c.FlushFail()
	})
	d.Register("blockconn", func(args []string) error {
		return c.BlockConnections()
	})

	d.Register("rees", func(args []string) error {
		h, err := requireUint32(args, "rees")
		if err != nil {
			return err
		}
		return c.Reestablish(uint16(h))
	})

	d.Register("simloss", func(args []string) error {
		return c.SimulateLoss()
	})

	d.Register("sendstat", func(args []string) error {
		fmt.Println(c.SendStat(optionalID(args)))
		return nil
	})
	d.Register("routestat", func(args []string) error {
		fmt.Println(c.RouteStat(optionalID(args)))
		return nil
	})
}

func requireInt(args []string, name string) (int, error) {
	if len(args) != 1 {
		return 0, fmt.Errorf("%s: expected exactly one numeric argument", name)
	}
	v, err := strconv.Atoi(args[0])
	if err != nil {
		return 0, fmt.Errorf("%s: invalid integer %q: %w", name, args[0], err)
	}
	return v, nil
}

func requireUint32(args []string, name string) (uint32, error) {
	if len(args) != 1 {
		return 0, fmt.Errorf("%s: expected exactly one numeric argument", name)
	}
	v, err := strconv.ParseUint(args[0], 10, 32)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid integer %q: %w", name, args[0], err)
	}
	return uint32(v), nil
}

func requireFloat(args []string, name string) (float64, error) {
	if len(args) != 1 {
		return 0, fmt.Errorf("%s: expected exactly one numeric argument", name)
	}
	v, err := strconv.ParseFloat(args[0], 64)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid number %q: %w", name, args[0], err)
	}
	return v, nil
}

func optionalID(args []string) string {
	if len(args) == 0 {
		return ""
	}
	return args[0]
}

func setOrAddPosition(args []string, apply func(serial uint32, x, y, z float64) error) error {
	if len(args) != 4 {
		return fmt.Errorf("expected SERIAL X Y Z")
	}
	serial, err := strconv.ParseUint(args[0], 10, 32)
	if err != nil {
		return fmt.Errorf("invalid serial %q: %w", args[0], err)
	}
	x, err := strconv.ParseFloat(args[1], 64)
	if err != nil {
		return fmt.Errorf("invalid x %q: %w", args[1], err)
	}
	y, err := strconv.ParseFloat(args[2], 64)
	if err != nil {
		return fmt.Errorf("invalid y %q: %w", args[2], err)
	}
	z, err := strconv.ParseFloat(args[3], 64)
	if err != nil {
		return fmt.Errorf("invalid z %q: %w", args[3], err)
	}
	return apply(uint32(serial), x, y, z)
}
