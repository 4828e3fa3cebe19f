package terminal

import "testing"

func TestParseLineSplitsNameAndArgs(t *testing.T) {
	cmd, err := ParseLine("nodes 10")
	if err != nil {
		t.Fatalf("ParseLine: %v", err)
	}
	if cmd.Name != "nodes" || len(cmd.Args) != 1 || cmd.Args[0] != "10" {
		t.Fatalf("unexpected command %+v", cmd)
	}
}

func TestParseLineRejectsEmpty(t *testing.T) {
	if _, err := ParseLine("   "); err == nil {
		t.Fatalf("expected error for empty line")
	}
}

func TestParseLineStripsValidCRCSuffix(t *testing.T) {
	// crc32.ChecksumIEEE("nodes 5") == 1250801021
	cmd, err := ParseLine("nodes 5 CRC: 1250801021")
	if err != nil {
		t.Fatalf("ParseLine: %v", err)
	}
	if cmd.Name != "nodes" || len(cmd.Args) != 1 || cmd.Args[0] != "5" {
		t.Fatalf("unexpected command %+v", cmd)
	}
}

func TestParseLineRejectsInvalidCRC(t *testing.T) {
	_, err := ParseLine("nodes 5 CRC: 1")
	if err != ErrCRCInvalid {
		t.Fatalf("expected ErrCRCInvalid, got %v", err)
	}
}

func TestDispatcherExecuteUnknownCommand(t *testing.T) {
	d := NewDispatcher()
	if err := d.Execute("bogus"); err == nil {
		t.Fatalf("expected error for unregistered command")
	}
}

func TestDispatcherExecuteCallsRegisteredHandler(t *testing.T) {
	d := NewDispatcher()
	called := false
	d.Register("ping", func(args []string) error {
		called = true
		return nil
	})
	if err := d.Execute("ping"); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !called {
		t.Fatalf("expected handler to be called")
	}
}
