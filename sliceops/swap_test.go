package sliceops

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSwapBuf(t *testing.T) {
	in := []byte{1, 2, 3, 4, 5}
	assert.Equal(t, []byte{5, 4, 3, 2, 1}, SwapBuf(in))
	assert.Equal(t, []byte{1, 2, 3, 4, 5}, in)
	assert.Equal(t, []byte{}, SwapBuf([]byte{}))
}

func TestXor(t *testing.T) {
	assert.Equal(t, []byte{0xFF, 0x00}, Xor([]byte{0xF0, 0x0F}, []byte{0x0F, 0x0F}))
}

func TestConcat(t *testing.T) {
	a := make([]byte, 2, 8)
	out := Concat(a, []byte{1})
	out[0] = 9
	assert.Equal(t, []byte{0, 0}, a)
	assert.Equal(t, []byte{9, 0, 1}, out)
}
