package snapshot

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/fruitymesh/cherrysim-go/pkg/cherrysim/node"
)

func TestSaveAndLoadRoundTrip(t *testing.T) {
	nodes := node.NewSlab(3, 1, 1)
	nodes.Nodes[1].Flash.Bytes[0] = 0xAB
	nodes.Nodes[1].Flash.Bytes[100] = 0xCD

	path := filepath.Join(t.TempDir(), "flash.bin")
	if err := Save(path, nodes); err != nil {
		t.Fatalf("Save: %v", err)
	}

	restored := node.NewSlab(3, 1, 1)
	if err := Load(path, restored); err != nil {
		t.Fatalf("Load: %v", err)
	}

	if restored.Nodes[1].Flash.Bytes[0] != 0xAB || restored.Nodes[1].Flash.Bytes[100] != 0xCD {
		t.Fatalf("expected restored flash content to match saved content")
	}
}

func TestLoadRejectsNodeCountMismatch(t *testing.T) {
	nodes := node.NewSlab(3, 1, 1)
	path := filepath.Join(t.TempDir(), "flash.bin")
	if err := Save(path, nodes); err != nil {
		t.Fatalf("Save: %v", err)
	}

	wrongCount := node.NewSlab(5, 1, 1)
	if err := Load(path, wrongCount); err == nil {
		t.Fatalf("expected error loading into a slab with a different node count")
	}

	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected snapshot file left in place after rejection, got %v", err)
	}
}

func TestLoadRejectsTruncatedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "flash.bin")
	if err := os.WriteFile(path, []byte{1, 2, 3}, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	nodes := node.NewSlab(1, 1, 1)
	if err := Load(path, nodes); err == nil {
		t.Fatalf("expected error loading a too-short file")
	}
}

func TestLoadRejectsVersionMismatch(t *testing.T) {
	nodes := node.NewSlab(1, 1, 1)
	path := filepath.Join(t.TempDir(), "flash.bin")
	if err := Save(path, nodes); err != nil {
		t.Fatalf("Save: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	data[0] = 99 // corrupt version byte
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	if err := Load(path, nodes); err == nil {
		t.Fatalf("expected error loading a version-mismatched snapshot")
	}
}
