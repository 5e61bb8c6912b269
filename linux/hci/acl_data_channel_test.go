package hci_test

import (
	"testing"

	"github.com/rigado/bthost/linux/hci"
	"github.com/rigado/bthost/linux/hci/hcitest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newDataChannel(t *testing.T, bredr, le hci.DataBufferInfo) (*hcitest.FakeTransport, *hci.ACLDataChannel) {
	_, f := newFake()
	c, err := hci.NewACLDataChannel(f, f.Writer(), bredr, le)
	require.NoError(t, err)
	return f, c
}

func TestACLDataChannelNoBuffers(t *testing.T) {
	_, f := newFake()
	_, err := hci.NewACLDataChannel(f, f.Writer(), hci.DataBufferInfo{}, hci.DataBufferInfo{})
	assert.Error(t, err)
}

func TestACLDataChannelLEFallsBackToBREDR(t *testing.T) {
	_, c := newDataChannel(t, hci.DataBufferInfo{MaxDataLength: 1021, MaxNumPackets: 8}, hci.DataBufferInfo{})
	assert.Equal(t, 1021, c.MaxDataLength(hci.LinkLE))
	assert.Equal(t, 8, c.BufferInfo(hci.LinkLE).MaxNumPackets)

	_, c = newDataChannel(t, hci.DataBufferInfo{MaxDataLength: 1021, MaxNumPackets: 8}, hci.DataBufferInfo{MaxDataLength: 27, MaxNumPackets: 4})
	assert.Equal(t, 27, c.MaxDataLength(hci.LinkLE))
	assert.Equal(t, 1021, c.MaxDataLength(hci.LinkACL))
}

func TestACLDataChannelFlowControl(t *testing.T) {
	f, c := newDataChannel(t, hci.DataBufferInfo{}, hci.DataBufferInfo{MaxDataLength: 27, MaxNumPackets: 2})
	c.RegisterLink(0x0040, hci.LinkLE)

	for i := 0; i < 3; i++ {
		require.True(t, c.SendPacket(hci.NewACLPacket(0x0040, hci.PbfHostToControllerStart, []byte{byte(i)}), hci.PriorityLow))
	}
	assert.Len(t, f.ACLPackets(), 2)
	assert.Equal(t, 1, c.QueuedPackets())
	assert.Equal(t, 2, c.PendingPackets(0x0040))

	f.SendEvent(hci.NumberOfCompletedPacketsEvent, hcitest.NumberOfCompletedPackets(0x0040, 1)...)
	pp := f.ACLPackets()
	require.Len(t, pp, 3)
	assert.Equal(t, []byte{2}, pp[2].Data())
	assert.Equal(t, 0, c.QueuedPackets())
}

func TestACLDataChannelRejects(t *testing.T) {
	_, c := newDataChannel(t, hci.DataBufferInfo{}, hci.DataBufferInfo{MaxDataLength: 4, MaxNumPackets: 2})

	// unregistered
	assert.False(t, c.SendPacket(hci.NewACLPacket(0x0040, 0, []byte{1}), hci.PriorityLow))

	c.RegisterLink(0x0040, hci.LinkLE)
	assert.False(t, c.SendPacket(hci.NewACLPacket(0x0040, 0, []byte{1, 2, 3, 4, 5}), hci.PriorityLow))
	assert.True(t, c.SendPacket(hci.NewACLPacket(0x0040, 0, []byte{1, 2, 3, 4}), hci.PriorityLow))
}

func TestACLDataChannelUnregisterDropsQueued(t *testing.T) {
	f, c := newDataChannel(t, hci.DataBufferInfo{}, hci.DataBufferInfo{MaxDataLength: 27, MaxNumPackets: 1})
	c.RegisterLink(0x0040, hci.LinkLE)
	c.RegisterLink(0x0041, hci.LinkLE)

	c.SendPacket(hci.NewACLPacket(0x0040, 0, []byte{0x40}), hci.PriorityLow)
	c.SendPacket(hci.NewACLPacket(0x0040, 0, []byte{0x40}), hci.PriorityLow)
	c.SendPacket(hci.NewACLPacket(0x0041, 0, []byte{0x41}), hci.PriorityLow)
	assert.Len(t, f.ACLPackets(), 1)
	assert.Equal(t, 2, c.QueuedPackets())

	// the buffer held by 0x0040 is recycled for 0x0041
	c.UnregisterLink(0x0040)
	pp := f.ACLPackets()
	require.Len(t, pp, 2)
	assert.Equal(t, uint16(0x0041), pp[1].Handle())
	assert.Equal(t, 0, c.QueuedPackets())
	assert.Equal(t, 0, c.PendingPackets(0x0040))
}

func TestACLDataChannelPriority(t *testing.T) {
	f, c := newDataChannel(t, hci.DataBufferInfo{}, hci.DataBufferInfo{MaxDataLength: 27, MaxNumPackets: 1})
	c.RegisterLink(0x0040, hci.LinkLE)

	c.SendPacket(hci.NewACLPacket(0x0040, 0, []byte{0}), hci.PriorityLow)
	c.SendPacket(hci.NewACLPacket(0x0040, 0, []byte{1}), hci.PriorityLow)
	c.SendPacket(hci.NewACLPacket(0x0040, 0, []byte{2}), hci.PriorityHigh)

	f.SendEvent(hci.NumberOfCompletedPacketsEvent, hcitest.NumberOfCompletedPackets(0x0040, 1)...)
	f.SendEvent(hci.NumberOfCompletedPacketsEvent, hcitest.NumberOfCompletedPackets(0x0040, 1)...)

	var got []byte
	for _, p := range f.ACLPackets() {
		got = append(got, p.Data()[0])
	}
	assert.Equal(t, []byte{0, 2, 1}, got)
}

func TestACLDataChannelReceive(t *testing.T) {
	_, c := newDataChannel(t, hci.DataBufferInfo{MaxDataLength: 27, MaxNumPackets: 1}, hci.DataBufferInfo{})

	var rx []hci.ACLPacket
	c.SetDataRxHandler(func(p hci.ACLPacket) { rx = append(rx, p) }, nil)

	assert.Error(t, c.HandlePacket([]byte{0x40, 0x20, 0x05, 0x00, 0x01}))
	require.NoError(t, c.HandlePacket([]byte{0x40, 0x20, 0x01, 0x00, 0xAA}))
	require.Len(t, rx, 1)
	assert.Equal(t, uint16(0x0040), rx[0].Handle())
	assert.Equal(t, hci.PbfControllerToHostStart, rx[0].Pbf())
	assert.Equal(t, []byte{0xAA}, rx[0].Data())
}

func TestFragment(t *testing.T) {
	pdu := []byte{1, 2, 3, 4, 5, 6, 7}
	pp := hci.Fragment(0x0041, pdu, 3)
	require.Len(t, pp, 3)
	assert.Equal(t, hci.PbfHostToControllerStart, pp[0].Pbf())
	assert.Equal(t, hci.PbfContinuing, pp[1].Pbf())
	assert.Equal(t, []byte{7}, pp[2].Data())
	for _, p := range pp {
		assert.True(t, p.Valid())
		assert.Equal(t, uint16(0x0041), p.Handle())
	}
}
