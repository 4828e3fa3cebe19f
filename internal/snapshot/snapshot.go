// Package snapshot persists and restores node flash images to a single
// file, per the simulator's storeFlashToFile contract (spec §6):
//
//	struct FlashFileHeader { u32 version; u32 sizeOfHeader; u32 flashSize; u32 amountOfNodes; };
//
// followed by amountOfNodes*flashSize bytes in node-index order. Loading
// rejects the whole file on any header or length mismatch rather than
// attempting a partial recovery, and never deletes a rejected file.
package snapshot

import (
	"encoding/binary"
	"fmt"
	"os"

	"github.com/fruitymesh/cherrysim-go/pkg/cherrysim/node"
)

// FormatVersion is the current on-disk FlashFileHeader.version this
// package writes and the only version it accepts on load.
const FormatVersion = 1

// headerSize is sizeOfHeader: four little-endian u32 fields.
const headerSize = 16

// Header is the FlashFileHeader the spec names verbatim.
type Header struct {
	Version       uint32
	SizeOfHeader  uint32
	FlashSize     uint32
	AmountOfNodes uint32
}

// Save writes every node's flash image to path, node-index order,
// preceded by a Header describing the layout.
func Save(path string, nodes *node.Slab) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("snapshot: create %s: %w", path, err)
	}
	defer f.Close()

	h := Header{
		Version:       FormatVersion,
		SizeOfHeader:  headerSize,
		FlashSize:     node.FlashSize,
		AmountOfNodes: uint32(len(nodes.Nodes)),
	}
	if err := writeHeader(f, h); err != nil {
		return err
	}

	for _, n := range nodes.Nodes {
		if _, err := f.Write(n.Flash.Bytes[:]); err != nil {
			return fmt.Errorf("snapshot: write node %d flash: %w", n.Index, err)
		}
	}
	return nil
}

// Load reads a snapshot written by Save and restores each node's flash
// image in place. Any header field mismatch or a total file length that
// doesn't match amountOfNodes*flashSize rejects the whole snapshot with an
// error; the file itself is left untouched on disk either way.
func Load(path string, nodes *node.Slab) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("snapshot: read %s: %w", path, err)
	}
	if len(data) < headerSize {
		return fmt.Errorf("snapshot: %s is shorter than a header", path)
	}

	h := Header{
		Version:       binary.LittleEndian.Uint32(data[0:4]),
		SizeOfHeader:  binary.LittleEndian.Uint32(data[4:8]),
		FlashSize:     binary.LittleEndian.Uint32(data[8:12]),
		AmountOfNodes: binary.LittleEndian.Uint32(data[12:16]),
	}

	if h.Version != FormatVersion {
		return fmt.Errorf("snapshot: %s has version %d, expected %d", path, h.Version, FormatVersion)
	}
	if h.SizeOfHeader != headerSize {
		return fmt.Errorf("snapshot: %s has sizeOfHeader %d, expected %d", path, h.SizeOfHeader, headerSize)
	}
	if h.FlashSize != node.FlashSize {
		return fmt.Errorf("snapshot: %s has flashSize %d, expected %d", path, h.FlashSize, node.FlashSize)
	}
	if int(h.AmountOfNodes) != len(nodes.Nodes) {
		return fmt.Errorf("snapshot: %s has %d nodes, expected %d", path, h.AmountOfNodes, len(nodes.Nodes))
	}

	wantLen := headerSize + int(h.AmountOfNodes)*int(h.FlashSize)
	if len(data) != wantLen {
		return fmt.Errorf("snapshot: %s is %d bytes, expected %d", path, len(data), wantLen)
	}

	offset := headerSize
	for _, n := range nodes.Nodes {
		copy(n.Flash.Bytes[:], data[offset:offset+int(h.FlashSize)])
		offset += int(h.FlashSize)
	}
	return nil
}

func writeHeader(f *os.File, h Header) error {
	buf := make([]byte, headerSize)
	binary.LittleEndian.PutUint32(buf[0:4], h.Version)
	binary.LittleEndian.PutUint32(buf[4:8], h.SizeOfHeader)
	binary.LittleEndian.PutUint32(buf[8:12], h.FlashSize)
	binary.LittleEndian.PutUint32(buf[12:16], h.AmountOfNodes)
	_, err := f.Write(buf)
	return err
}
