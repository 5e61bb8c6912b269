package h4

import (
	"time"
)

// H4 packet indicators
const (
	aclPacket   = 0x02
	eventPacket = 0x04
)

// A partial packet older than this is dropped when more bytes arrive.
const staleAfter = 500 * time.Millisecond

// frame splits the H4 byte stream into whole packets and sends each one,
// indicator included, on out.
type frame struct {
	b     []byte
	since time.Time
	out   chan []byte
}

func newFrame(c chan []byte) *frame {
	return &frame{b: make([]byte, 0, 256), out: c}
}

func (f *frame) Assemble(b []byte) {
	if len(b) == 0 {
		return
	}
	if len(f.b) > 0 && time.Since(f.since) > staleAfter {
		f.b = f.b[:0]
	}
	if len(f.b) == 0 {
		f.since = time.Now()
	}
	f.b = append(f.b, b...)

	for {
		f.skipNoise()
		n := f.packetLength()
		if n == 0 || len(f.b) < n {
			return
		}
		pkt := make([]byte, n)
		copy(pkt, f.b)
		f.out <- pkt

		f.b = append(f.b[:0], f.b[n:]...)
		f.since = time.Now()
	}
}

// skipNoise drops bytes ahead of the first packet indicator.
func (f *frame) skipNoise() {
	for i, v := range f.b {
		if v == eventPacket || v == aclPacket {
			f.b = append(f.b[:0], f.b[i:]...)
			return
		}
	}
	f.b = f.b[:0]
}

// packetLength is the size of the packet at the head of the buffer, or zero
// while its header is incomplete.
func (f *frame) packetLength() int {
	if len(f.b) == 0 {
		return 0
	}
	switch f.b[0] {
	case eventPacket:
		// indicator, event code, parameter length
		if len(f.b) < 3 {
			return 0
		}
		return 3 + int(f.b[2])
	case aclPacket:
		// indicator, handle and flags, data length
		if len(f.b) < 5 {
			return 0
		}
		return 5 + (int(f.b[3]) | int(f.b[4])<<8)
	}
	return 0
}
