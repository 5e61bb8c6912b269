package bthost

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// AddrType is the transport and address type a DeviceAddress belongs to.
type AddrType uint8

const (
	AddrTypeBREDR AddrType = iota
	AddrTypeLEPublic
	AddrTypeLERandom
	AddrTypeLEAnonymous
)

func (t AddrType) String() string {
	switch t {
	case AddrTypeBREDR:
		return "br/edr"
	case AddrTypeLEPublic:
		return "le-public"
	case AddrTypeLERandom:
		return "le-random"
	case AddrTypeLEAnonymous:
		return "le-anonymous"
	}
	return fmt.Sprintf("addr-type(%d)", uint8(t))
}

// IsLE reports whether the address is used on the LE transport.
func (t AddrType) IsLE() bool { return t != AddrTypeBREDR }

// DeviceAddress is a Bluetooth device address. Value holds the address in
// over-the-air (little endian) byte order, as it appears in HCI packets.
type DeviceAddress struct {
	Type  AddrType
	Value [6]byte
}

// NewAddr builds a DeviceAddress from its HCI byte representation.
func NewAddr(t AddrType, b [6]byte) DeviceAddress {
	return DeviceAddress{Type: t, Value: b}
}

// ParseAddr parses a colon separated address string ("01:02:03:04:05:06"),
// most significant byte first.
func ParseAddr(t AddrType, s string) (DeviceAddress, error) {
	hexStr := strings.Replace(strings.ToLower(s), ":", "", -1)

	out, err := hex.DecodeString(hexStr)
	if err != nil {
		return DeviceAddress{}, errors.Wrapf(err, "error decoding address %s", s)
	}
	if len(out) != 6 {
		return DeviceAddress{}, errors.Errorf("invalid address length %d: %s", len(out), s)
	}

	a := DeviceAddress{Type: t}
	for i := range out {
		a.Value[5-i] = out[i]
	}
	return a, nil
}

// MustParseAddr is like ParseAddr but panics on malformed input.
func MustParseAddr(t AddrType, s string) DeviceAddress {
	a, err := ParseAddr(t, s)
	if err != nil {
		panic(err)
	}
	return a
}

func (a DeviceAddress) String() string {
	return fmt.Sprintf("%02x:%02x:%02x:%02x:%02x:%02x",
		a.Value[5], a.Value[4], a.Value[3], a.Value[2], a.Value[1], a.Value[0])
}

// Bytes returns the address in HCI byte order.
func (a DeviceAddress) Bytes() []byte {
	out := make([]byte, 6)
	copy(out, a.Value[:])
	return out
}

// HCIAddrType is the one byte address type used by LE commands and events.
func (a DeviceAddress) HCIAddrType() uint8 {
	if a.Type == AddrTypeLERandom || a.Type == AddrTypeLEAnonymous {
		return 0x01
	}
	return 0x00
}

// IsResolvablePrivate reports whether a random address is a resolvable
// private address (two most significant bits 0b01).
func (a DeviceAddress) IsResolvablePrivate() bool {
	return a.Type == AddrTypeLERandom && a.Value[5]&0xc0 == 0x40
}

// LEAddrTypeFromHCI maps the HCI peer address type byte to an AddrType.
func LEAddrTypeFromHCI(t uint8) AddrType {
	switch t {
	case 0x01, 0x03:
		return AddrTypeLERandom
	default:
		return AddrTypeLEPublic
	}
}
