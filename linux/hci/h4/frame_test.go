package h4

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func drain(c chan []byte) [][]byte {
	var out [][]byte
	for {
		select {
		case b := <-c:
			out = append(out, b)
		default:
			return out
		}
	}
}

func TestFrameSplitEvent(t *testing.T) {
	c := make(chan []byte, 8)
	f := newFrame(c)

	f.Assemble([]byte{eventPacket, 0x0E, 0x04})
	assert.Empty(t, drain(c))
	f.Assemble([]byte{0x01, 0x03, 0x0C, 0x00})

	out := drain(c)
	require.Len(t, out, 1)
	assert.Equal(t, []byte{eventPacket, 0x0E, 0x04, 0x01, 0x03, 0x0C, 0x00}, out[0])
}

func TestFrameBackToBack(t *testing.T) {
	c := make(chan []byte, 8)
	f := newFrame(c)

	f.Assemble([]byte{
		0x00, 0x00, // noise before the start byte
		aclPacket, 0x40, 0x20, 0x02, 0x00, 0xAA, 0xBB,
		eventPacket, 0x13, 0x05, 0x01, 0x40, 0x00, 0x01, 0x00,
	})

	out := drain(c)
	require.Len(t, out, 2)
	assert.Equal(t, []byte{aclPacket, 0x40, 0x20, 0x02, 0x00, 0xAA, 0xBB}, out[0])
	assert.Equal(t, []byte{eventPacket, 0x13, 0x05, 0x01, 0x40, 0x00, 0x01, 0x00}, out[1])
}

func TestFrameDropsStalePartial(t *testing.T) {
	c := make(chan []byte, 8)
	f := newFrame(c)

	f.Assemble([]byte{eventPacket, 0x0E, 0x04, 0x01})
	f.since = f.since.Add(-2 * staleAfter)
	f.Assemble([]byte{eventPacket, 0x0F, 0x00})

	out := drain(c)
	require.Len(t, out, 1)
	assert.Equal(t, []byte{eventPacket, 0x0F, 0x00}, out[0])
}
