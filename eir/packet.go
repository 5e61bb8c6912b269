// Package eir builds and parses Extended Inquiry Response and advertising
// data: a sequence of length, type, value records.
package eir

import (
	"encoding/binary"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// MaxLength is the size of the Extended Inquiry Response buffer.
const MaxLength = 240

// MaxNameLength is the longest name a single record can carry.
const MaxNameLength = MaxLength - 2

var (
	// ErrNotFit is returned when a record doesn't fit into the packet.
	ErrNotFit = errors.New("eir: record doesn't fit into the packet")
)

// Packet is an EIR packet, either built with fields or parsed.
type Packet struct {
	b []byte
	m map[byte][]byte
}

// Bytes returns the bytes of the packet.
func (p *Packet) Bytes() []byte {
	return p.b
}

// Len returns the length of the packet.
func (p *Packet) Len() int {
	return len(p.b)
}

// NewPacket returns a new Packet holding fields.
func NewPacket(fields ...Field) (*Packet, error) {
	p := &Packet{b: make([]byte, 0, MaxLength), m: make(map[byte][]byte)}
	for _, f := range fields {
		if err := f(p); err != nil {
			return nil, err
		}
	}
	return p, nil
}

// Parse decodes raw EIR data, padding included.
func Parse(b []byte) (*Packet, error) {
	m, err := decode(b)
	if err != nil {
		return nil, errors.Wrap(err, "eir decode")
	}
	return &Packet{b: b, m: m}, nil
}

// Field is a record which can be appended to a packet.
type Field func(p *Packet) error

// Append appends a field to the packet. It returns ErrNotFit if the field
// doesn't fit into the packet, and leaves the packet intact.
func (p *Packet) Append(f Field) error {
	return f(p)
}

func (p *Packet) append(typ byte, b []byte) error {
	if p.Len()+1+1+len(b) > MaxLength {
		return ErrNotFit
	}
	p.b = append(p.b, byte(len(b)+1))
	p.b = append(p.b, typ)
	p.b = append(p.b, b...)
	p.m[typ] = append(p.m[typ], b...)
	return nil
}

// Array returns the packet zero padded to the EIR buffer size.
func (p *Packet) Array() [MaxLength]byte {
	var a [MaxLength]byte
	copy(a[:], p.b)
	return a
}

// LocalName is a complete local name record, or a shortened one truncated
// to MaxNameLength when the name is at least that long.
func LocalName(n string) Field {
	return func(p *Packet) error {
		if len(n) >= MaxNameLength {
			return p.append(TypeShortName, []byte(n[:MaxNameLength]))
		}
		return p.append(TypeCompleteName, []byte(n))
	}
}

// ShortName is a shortened local name.
func ShortName(n string) Field {
	return func(p *Packet) error {
		return p.append(TypeShortName, []byte(n))
	}
}

// CompleteName is a complete local name.
func CompleteName(n string) Field {
	return func(p *Packet) error {
		return p.append(TypeCompleteName, []byte(n))
	}
}

// Flags is a flags record.
func Flags(f byte) Field {
	return func(p *Packet) error {
		return p.append(TypeFlags, []byte{f})
	}
}

// TxPower is a Tx power level record.
func TxPower(dbm int8) Field {
	return func(p *Packet) error {
		return p.append(TypeTxPower, []byte{byte(dbm)})
	}
}

// ManufacturerData is manufacturer specific data.
func ManufacturerData(id uint16, b []byte) Field {
	return func(p *Packet) error {
		d := append([]byte{uint8(id), uint8(id >> 8)}, b...)
		return p.append(TypeManufacturerData, d)
	}
}

// CompleteUUID16 is a complete list of 16-bit service UUIDs.
func CompleteUUID16(ids ...uint16) Field {
	return func(p *Packet) error {
		b := make([]byte, 2*len(ids))
		for i, id := range ids {
			binary.LittleEndian.PutUint16(b[2*i:], id)
		}
		return p.append(TypeUUID16Complete, b)
	}
}

// CompleteUUID128 is a complete list of 128-bit service UUIDs.
func CompleteUUID128(uu ...uuid.UUID) Field {
	return func(p *Packet) error {
		b := make([]byte, 0, 16*len(uu))
		for _, u := range uu {
			b = append(b, reverse(u[:])...)
		}
		return p.append(TypeUUID128Complete, b)
	}
}

// Field returns the value of the records with the given type.
func (p *Packet) Field(typ byte) ([]byte, bool) {
	b, ok := p.m[typ]
	return b, ok
}

// Flags returns the flags of the packet.
func (p *Packet) Flags() (flags byte, present bool) {
	if b, ok := p.m[TypeFlags]; ok {
		return b[0], true
	}
	return 0, false
}

// LocalName returns the complete name, or the shortened name if only that
// is present.
func (p *Packet) LocalName() (name string, complete bool) {
	if b, ok := p.m[TypeCompleteName]; ok {
		return string(b), true
	}
	if b, ok := p.m[TypeShortName]; ok {
		return string(b), false
	}
	return "", false
}

// TxPower returns the TxPower, if it presents.
func (p *Packet) TxPower() (power int, present bool) {
	if b, ok := p.m[TypeTxPower]; ok {
		return int(int8(b[0])), true
	}
	return 0, false
}

// ManufacturerData returns the ManufacturerData field if it presents.
func (p *Packet) ManufacturerData() []byte {
	return p.m[TypeManufacturerData]
}

// baseUUID is the Bluetooth Base UUID, 00000000-0000-1000-8000-00805F9B34FB.
var baseUUID = uuid.MustParse("00000000-0000-1000-8000-00805f9b34fb")

// UUID16 expands a 16-bit service UUID with the Bluetooth Base UUID.
func UUID16(id uint16) uuid.UUID {
	return UUID32(uint32(id))
}

// UUID32 expands a 32-bit service UUID with the Bluetooth Base UUID.
func UUID32(id uint32) uuid.UUID {
	u := baseUUID
	binary.BigEndian.PutUint32(u[0:4], id)
	return u
}

// UUIDs returns the service UUIDs of the packet, complete and incomplete
// lists alike.
func (p *Packet) UUIDs() []uuid.UUID {
	var u []uuid.UUID
	for _, t := range []byte{TypeUUID16Incomplete, TypeUUID16Complete} {
		for d := p.m[t]; len(d) >= 2; d = d[2:] {
			u = append(u, UUID16(binary.LittleEndian.Uint16(d)))
		}
	}
	for _, t := range []byte{TypeUUID32Incomplete, TypeUUID32Complete} {
		for d := p.m[t]; len(d) >= 4; d = d[4:] {
			u = append(u, UUID32(binary.LittleEndian.Uint32(d)))
		}
	}
	for _, t := range []byte{TypeUUID128Incomplete, TypeUUID128Complete} {
		for d := p.m[t]; len(d) >= 16; d = d[16:] {
			var id uuid.UUID
			copy(id[:], reverse(d[:16]))
			u = append(u, id)
		}
	}
	return u
}

// reverse returns a reversed copy; UUIDs go over the air little endian.
func reverse(in []byte) []byte {
	a := make([]byte, 0, len(in))
	a = append(a, in...)
	for i := len(a)/2 - 1; i >= 0; i-- {
		opp := len(a) - 1 - i
		a[i], a[opp] = a[opp], a[i]
	}
	return a
}
