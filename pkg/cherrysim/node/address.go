package node

import (
	"fmt"
	"strconv"
	"strings"
)

// AddrType is the BLE GAP address type.
type AddrType uint8

// RandomStatic is the only address type the simulator fabricates.
const RandomStatic AddrType = 1

// Address is a 7-byte BLE device address: a type byte plus 6 address bytes.
type Address struct {
	Type AddrType
	Addr [6]byte
}

// NewAddress fabricates the deterministic address the simulator assigns at
// node init: {RANDOM_STATIC, [0, 0, id_lo, id_hi, 0, 0]}.
func NewAddress(id uint16) Address {
	return Address{
		Type: RandomStatic,
		Addr: [6]byte{0, 0, byte(id & 0xff), byte(id >> 8), 0, 0},
	}
}

// String renders the address colon-separated, most-significant byte first,
// matching the "00:00:00:02:00:00"-style addresses used on the terminal
// command surface (e.g. "action this ma connect 00:00:00:02:00:00 2").
func (a Address) String() string {
	return fmt.Sprintf("%02x:%02x:%02x:%02x:%02x:%02x",
		a.Addr[5], a.Addr[4], a.Addr[3], a.Addr[2], a.Addr[1], a.Addr[0])
}

// ParseAddress parses the colon-separated, most-significant-byte-first
// address string String renders (e.g. "00:00:00:02:00:00"), the format
// the terminal command surface accepts (e.g. "action this ma connect
// 00:00:00:02:00:00 2"). Always yields a RANDOM_STATIC address, the only
// type this simulator fabricates.
func ParseAddress(s string) (Address, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 6 {
		return Address{}, fmt.Errorf("node: invalid address %q: expected 6 colon-separated bytes", s)
	}
	var a Address
	a.Type = RandomStatic
	for i, p := range parts {
		v, err := strconv.ParseUint(p, 16, 8)
		if err != nil {
			return Address{}, fmt.Errorf("node: invalid address byte %q in %q: %w", p, s, err)
		}
		a.Addr[5-i] = byte(v)
	}
	return a, nil
}

// Equal reports whether two addresses are identical.
func (a Address) Equal(other Address) bool {
	return a.Type == other.Type && a.Addr == other.Addr
}
