package l2cap

import (
	"encoding/binary"

	"github.com/rigado/bthost/linux/hci"
)

// PDU is a complete L2CAP frame including the basic header
// [Vol 3, Part A, 3.1].
type PDU []byte

func (p PDU) Length() int       { return int(binary.LittleEndian.Uint16(p[0:2])) }
func (p PDU) ChannelID() uint16 { return binary.LittleEndian.Uint16(p[2:4]) }
func (p PDU) Payload() []byte   { return p[basicHeaderLen:] }

// Complete reports whether the header length matches the payload.
func (p PDU) Complete() bool {
	return len(p) >= basicHeaderLen && p.Length() == len(p)-basicHeaderLen
}

// NewPDU builds a B-frame carrying payload on cid.
func NewPDU(cid uint16, payload []byte) PDU {
	p := make(PDU, basicHeaderLen+len(payload))
	binary.LittleEndian.PutUint16(p[0:], uint16(len(payload)))
	binary.LittleEndian.PutUint16(p[2:], cid)
	copy(p[basicHeaderLen:], payload)
	return p
}

// newPDUWithFCS builds a frame whose payload is followed by the FCS computed
// over the header and payload.
func newPDUWithFCS(cid uint16, payload []byte) PDU {
	p := make(PDU, basicHeaderLen+len(payload)+fcsLen)
	binary.LittleEndian.PutUint16(p[0:], uint16(len(payload)+fcsLen))
	binary.LittleEndian.PutUint16(p[2:], cid)
	copy(p[basicHeaderLen:], payload)
	binary.LittleEndian.PutUint16(p[len(p)-fcsLen:], fcs(p[:len(p)-fcsLen]))
	return p
}

// recombiner reassembles ACL fragments into PDUs [Vol 3, Part A, 7.2.2].
type recombiner struct {
	buf PDU
}

// add consumes one ACL packet. It returns a PDU once the last fragment of
// one arrived, and reports false for fragments that had to be dropped.
func (r *recombiner) add(pkt hci.ACLPacket) (PDU, bool) {
	data := pkt.Data()

	if pkt.Pbf() == hci.PbfContinuing {
		if r.buf == nil {
			return nil, false
		}
		r.buf = append(r.buf, data...)
		switch {
		case len(r.buf) > basicHeaderLen && len(r.buf) > basicHeaderLen+r.buf.Length():
			r.buf = nil
			return nil, false
		case r.buf.Complete():
			p := r.buf
			r.buf = nil
			return p, true
		}
		return nil, true
	}

	// A new start fragment abandons any partial PDU.
	dropped := r.buf != nil
	r.buf = nil

	if len(data) < basicHeaderLen {
		return nil, false
	}
	p := PDU(data)
	switch {
	case len(p.Payload()) == p.Length():
		out := make(PDU, len(p))
		copy(out, p)
		return out, !dropped
	case len(p.Payload()) > p.Length():
		return nil, false
	}

	r.buf = make(PDU, 0, basicHeaderLen+p.Length())
	r.buf = append(r.buf, data...)
	return nil, !dropped
}

// fragment splits p into ACL packets of at most maxLen bytes.
func fragment(handle uint16, p PDU, maxLen int) []hci.ACLPacket {
	return hci.Fragment(handle, p, maxLen)
}
