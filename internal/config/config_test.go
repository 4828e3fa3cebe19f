package config

import "testing"

func TestDefaultConfigValidates(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected default config to validate, got %v", err)
	}
}

func TestValidateRejectsZeroNodes(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Sim.NumNodes = 0
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected error for zero num_nodes")
	}
}

func TestValidateRejectsInsufficientTotalConnections(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Mesh.MaxMeshIn = 5
	cfg.Mesh.MaxMeshOut = 5
	cfg.Mesh.TotalConnections = 4
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected error when total_connections can't fit mesh in+out")
	}
}

func TestValidateRejectsUnknownLogLevel(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Logging.Level = "verbose"
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected error for unknown logging level")
	}
}

func TestLoadWithEmptyPathReturnsDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Sim.NumNodes != DefaultConfig().Sim.NumNodes {
		t.Fatalf("expected default num_nodes, got %d", cfg.Sim.NumNodes)
	}
}

func TestLoadRejectsMissingFile(t *testing.T) {
	if _, err := Load("/nonexistent/path/cherrysim.yaml"); err == nil {
		t.Fatalf("expected error loading a missing config file")
	}
}
