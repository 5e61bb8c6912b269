package hci

import "encoding/binary"

// LinkType is the logical transport of an ACL connection.
type LinkType int

const (
	LinkACL LinkType = iota // BR/EDR ACL-U
	LinkLE                  // LE-U
)

func (t LinkType) String() string {
	if t == LinkLE {
		return "LE-U"
	}
	return "ACL-U"
}

// ACLPacket implements HCI ACL Data Packet [Vol 2, Part E, 5.4.2] without
// the packet type indicator.
// Packet boundary flags , bit[5:6] of handle field's MSB
// Broadcast flags. bit[7:8] of handle field's MSB
// Not used in LE-U. Leave it as 0x00 (Point-to-Point).
type ACLPacket []byte

const aclHeaderLen = 4

func (a ACLPacket) Handle() uint16 { return uint16(a[0]) | (uint16(a[1]&0x0f) << 8) }
func (a ACLPacket) Pbf() int       { return (int(a[1]) >> 4) & 0x3 }
func (a ACLPacket) bcf() int       { return (int(a[1]) >> 6) & 0x3 }
func (a ACLPacket) DataLen() int   { return int(a[2]) | (int(a[3]) << 8) }
func (a ACLPacket) Data() []byte   { return a[aclHeaderLen:] }

// Valid reports whether the header length matches the payload.
func (a ACLPacket) Valid() bool {
	return len(a) >= aclHeaderLen && a.DataLen() == len(a)-aclHeaderLen
}

// NewACLPacket builds a packet for handle with the given boundary flag.
func NewACLPacket(handle uint16, pbf int, data []byte) ACLPacket {
	p := make(ACLPacket, aclHeaderLen+len(data))
	binary.LittleEndian.PutUint16(p[0:], handle&0x0fff|uint16(pbf&0x3)<<12)
	binary.LittleEndian.PutUint16(p[2:], uint16(len(data)))
	copy(p[aclHeaderLen:], data)
	return p
}

// Fragment breaks down a L2CAP PDU into fragments if it's larger than the
// HCI buffer size. [Vol 3, Part A, 7.2.1]
func Fragment(handle uint16, pdu []byte, maxDataLen int) []ACLPacket {
	var pp []ACLPacket
	pbf := PbfHostToControllerStart
	for {
		n := len(pdu)
		if n > maxDataLen {
			n = maxDataLen
		}
		pp = append(pp, NewACLPacket(handle, pbf, pdu[:n]))
		// Set "continuing" in the boundary flags for the rest of fragments, if any.
		pbf = PbfContinuing
		pdu = pdu[n:]
		if len(pdu) == 0 {
			return pp
		}
	}
}
