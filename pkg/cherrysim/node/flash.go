package node

import (
	"fmt"

	"github.com/fruitymesh/cherrysim-go/internal/simerr"
)

// Flash sizing matches the FruityMesh simulated target: large enough to
// hold a module config page, UICR customer words, and a bootloader
// settings page without any real hardware's exact figure mattering to the
// simulation's correctness.
const (
	FlashSize          = 128 * 1024
	UICRCustomerWords  = 32
	BootSettingsOffset = FlashSize - 4096
	DFUMagicNumber     = 0x4453564E // "NVSD" reversed, an arbitrary but fixed marker
)

// Flash models one node's simulated NVM: a flat byte array plus register
// images for UICR (user information configuration registers) and FICR
// (factory information configuration registers), and an async-commit
// counter so writes can optionally resolve a tick later.
type Flash struct {
	Bytes [FlashSize]byte

	UICRCustomerWords [UICRCustomerWords]uint32
	FICRDeviceAddr    [2]uint32

	pendingAsyncOps int
}

// NewFlash allocates a Flash image with all bytes erased to 0xFF, the
// simulated equivalent of unprogrammed NAND flash.
func NewFlash() *Flash {
	f := &Flash{}
	f.Erase()
	return f
}

// Erase resets every byte to 0xFF, matching a full-chip erase.
func (f *Flash) Erase() {
	for i := range f.Bytes {
		f.Bytes[i] = 0xFF
	}
}

// Write copies data into flash at offset. Returns an error if the write
// would run past the end of the image.
func (f *Flash) Write(offset int, data []byte) error {
	if offset < 0 || offset+len(data) > FlashSize {
		return errIndexOutOfBounds(offset, len(data))
	}
	copy(f.Bytes[offset:], data)
	return nil
}

// Read returns a copy of n bytes starting at offset.
func (f *Flash) Read(offset, n int) ([]byte, error) {
	if offset < 0 || offset+n > FlashSize {
		return nil, errIndexOutOfBounds(offset, n)
	}
	out := make([]byte, n)
	copy(out, f.Bytes[offset:offset+n])
	return out, nil
}

// ErasePage resets [offset, offset+pageSize) back to 0xFF.
func (f *Flash) ErasePage(offset, pageSize int) error {
	if offset < 0 || offset+pageSize > FlashSize {
		return errIndexOutOfBounds(offset, pageSize)
	}
	for i := offset; i < offset+pageSize; i++ {
		f.Bytes[i] = 0xFF
	}
	return nil
}

// QueueAsyncCommit registers one pending asynchronous flash operation,
// modeling the softdevice's async flash API.
func (f *Flash) QueueAsyncCommit() {
	f.pendingAsyncOps++
}

// PendingAsyncOps reports how many async flash operations have not yet
// resolved.
func (f *Flash) PendingAsyncOps() int {
	return f.pendingAsyncOps
}

// ResolveOneAsyncCommit resolves a single pending async op, if any exist.
// sim.Simulator.Step calls it once per tick for every node it pumps and
// does not reset that tick; no commit probability is applied, so each such
// call resolves one op.
func (f *Flash) ResolveOneAsyncCommit() {
	if f.pendingAsyncOps > 0 {
		f.pendingAsyncOps--
	}
}

// WriteBootloaderMarker places the DFU magic number at the bootloader
// settings page, the marker the boot process checks for on startup.
func (f *Flash) WriteBootloaderMarker() {
	b := make([]byte, 4)
	var magic uint32 = DFUMagicNumber
	b[0] = byte(magic)
	b[1] = byte(magic >> 8)
	b[2] = byte(magic >> 16)
	b[3] = byte(magic >> 24)
	_ = f.Write(BootSettingsOffset, b)
}

func errIndexOutOfBounds(offset, n int) error {
	return simerr.Raise(simerr.KindIndexOutOfBounds, 0, 0,
		fmt.Errorf("flash access [%d:%d) out of bounds (size %d)", offset, offset+n, FlashSize))
}
