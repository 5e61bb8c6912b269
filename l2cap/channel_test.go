package l2cap

import (
	"encoding/binary"
	"testing"

	"github.com/pkg/errors"
	"github.com/rigado/bthost/dispatch"
	"github.com/rigado/bthost/linux/hci"
	"github.com/rigado/bthost/linux/hci/hcitest"
	"github.com/rigado/bthost/sm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	leHandle  = 0x0040
	aclHandle = 0x0041
)

type fixture struct {
	loop *dispatch.TestLoop
	f    *hcitest.FakeTransport
	acl  *hci.ACLDataChannel
	m    *ChannelManager
}

func newFixture(t *testing.T) *fixture {
	loop := dispatch.NewTestLoop()
	f := hcitest.NewFakeTransport(loop)
	acl, err := hci.NewACLDataChannel(f, f.Writer(),
		hci.DataBufferInfo{MaxDataLength: 1021, MaxNumPackets: 10},
		hci.DataBufferInfo{MaxDataLength: 27, MaxNumPackets: 10})
	require.NoError(t, err)
	return &fixture{loop: loop, f: f, acl: acl, m: NewChannelManager(acl, loop)}
}

// receive plays one inbound PDU from the controller.
func (x *fixture) receive(t *testing.T, handle uint16, p PDU) {
	require.NoError(t, x.acl.HandlePacket(hci.NewACLPacket(handle, hci.PbfControllerToHostStart, p)))
	x.loop.RunUntilIdle()
}

// sent returns the PDUs written to the controller, recombined.
func (x *fixture) sent() []PDU {
	var r recombiner
	var pp []PDU
	for _, pkt := range x.f.ACLPackets() {
		if p, _ := r.add(pkt); p != nil {
			pp = append(pp, p)
		}
	}
	return pp
}

func TestRecombiner(t *testing.T) {
	var r recombiner
	whole := NewPDU(ATTChannelID, []byte{1, 2, 3, 4, 5, 6})

	p, ok := r.add(hci.NewACLPacket(leHandle, hci.PbfControllerToHostStart, whole))
	assert.True(t, ok)
	assert.Equal(t, whole, p)

	p, ok = r.add(hci.NewACLPacket(leHandle, hci.PbfControllerToHostStart, whole[:5]))
	assert.True(t, ok)
	assert.Nil(t, p)
	p, ok = r.add(hci.NewACLPacket(leHandle, hci.PbfContinuing, whole[5:]))
	assert.True(t, ok)
	assert.Equal(t, whole, p)

	// Continuing fragment without a start.
	_, ok = r.add(hci.NewACLPacket(leHandle, hci.PbfContinuing, whole[5:]))
	assert.False(t, ok)

	// A new start abandons the partial PDU.
	r.add(hci.NewACLPacket(leHandle, hci.PbfControllerToHostStart, whole[:5]))
	p, ok = r.add(hci.NewACLPacket(leHandle, hci.PbfControllerToHostStart, whole))
	assert.False(t, ok)
	assert.Equal(t, whole, p)

	// Too much data.
	r.add(hci.NewACLPacket(leHandle, hci.PbfControllerToHostStart, whole[:5]))
	_, ok = r.add(hci.NewACLPacket(leHandle, hci.PbfContinuing, append(whole[5:], 0xff)))
	assert.False(t, ok)
}

func TestFixedChannelQueuesUntilActivated(t *testing.T) {
	x := newFixture(t)
	_, err := x.m.RegisterLE(leHandle, hci.RoleMaster, LinkCallbacks{})
	require.NoError(t, err)

	x.receive(t, leHandle, NewPDU(ATTChannelID, []byte{1}))
	ch, err := x.m.OpenFixedChannel(leHandle, ATTChannelID)
	require.NoError(t, err)
	x.receive(t, leHandle, NewPDU(ATTChannelID, []byte{2}))

	var got [][]byte
	require.True(t, ch.Activate(func(sdu []byte) { got = append(got, sdu) }, func() {}, x.loop))
	x.receive(t, leHandle, NewPDU(ATTChannelID, []byte{3}))

	assert.Equal(t, [][]byte{{1}, {2}, {3}}, got)
	assert.False(t, ch.Activate(func([]byte) {}, func() {}, x.loop))
}

func TestInactiveChannelQueueIsBounded(t *testing.T) {
	x := newFixture(t)
	_, err := x.m.RegisterLE(leHandle, hci.RoleMaster, LinkCallbacks{})
	require.NoError(t, err)
	ch, err := x.m.OpenFixedChannel(leHandle, ATTChannelID)
	require.NoError(t, err)

	for i := 0; i < maxPendingSDUs+100; i++ {
		x.receive(t, leHandle, NewPDU(ATTChannelID, []byte{byte(i)}))
	}

	var got [][]byte
	require.True(t, ch.Activate(func(sdu []byte) { got = append(got, sdu) }, func() {}, x.loop))
	x.loop.RunUntilIdle()
	require.Len(t, got, maxPendingSDUs)
	assert.Equal(t, []byte{0}, got[0])
	assert.Equal(t, []byte{byte(maxPendingSDUs - 1)}, got[maxPendingSDUs-1])

	// Active channels are not limited.
	for i := 0; i < maxPendingSDUs+1; i++ {
		x.receive(t, leHandle, NewPDU(ATTChannelID, []byte{0xff}))
	}
	assert.Len(t, got, 2*maxPendingSDUs+1)
}

func TestDataBeforeLinkRegistration(t *testing.T) {
	x := newFixture(t)
	x.receive(t, leHandle, NewPDU(ATTChannelID, []byte{7}))

	_, err := x.m.RegisterLE(leHandle, hci.RoleSlave, LinkCallbacks{})
	require.NoError(t, err)
	ch, err := x.m.OpenFixedChannel(leHandle, ATTChannelID)
	require.NoError(t, err)

	var got [][]byte
	ch.Activate(func(sdu []byte) { got = append(got, sdu) }, func() {}, x.loop)
	x.loop.RunUntilIdle()
	assert.Equal(t, [][]byte{{7}}, got)
}

func TestChannelSendFragments(t *testing.T) {
	x := newFixture(t)
	_, err := x.m.RegisterLE(leHandle, hci.RoleMaster, LinkCallbacks{})
	require.NoError(t, err)
	ch, err := x.m.OpenFixedChannel(leHandle, ATTChannelID)
	require.NoError(t, err)

	assert.False(t, ch.Send([]byte{1}), "inactive")
	require.True(t, ch.Activate(func([]byte) {}, func() {}, x.loop))

	sdu := make([]byte, 40)
	for i := range sdu {
		sdu[i] = byte(i)
	}
	require.True(t, ch.Send(sdu))
	x.loop.RunUntilIdle()

	pkts := x.f.ACLPackets()
	require.Len(t, pkts, 2)
	assert.Equal(t, hci.PbfHostToControllerStart, pkts[0].Pbf())
	assert.Equal(t, 27, pkts[0].DataLen())
	assert.Equal(t, hci.PbfContinuing, pkts[1].Pbf())
	assert.Equal(t, 17, pkts[1].DataLen())
	assert.Equal(t, []PDU{NewPDU(ATTChannelID, sdu)}, x.sent())
}

func TestSendAfterDeactivate(t *testing.T) {
	x := newFixture(t)
	_, err := x.m.RegisterLE(leHandle, hci.RoleMaster, LinkCallbacks{})
	require.NoError(t, err)
	ch, err := x.m.OpenFixedChannel(leHandle, ATTChannelID)
	require.NoError(t, err)

	closed := 0
	require.True(t, ch.Activate(func([]byte) {}, func() { closed++ }, x.loop))
	ch.Deactivate()
	ch.Deactivate()
	x.loop.RunUntilIdle()

	assert.False(t, ch.Send([]byte{1}))
	x.loop.RunUntilIdle()
	assert.Empty(t, x.f.ACLPackets())
	assert.Equal(t, 0, closed)

	// The identifier is free again.
	_, err = x.m.OpenFixedChannel(leHandle, ATTChannelID)
	assert.NoError(t, err)
}

func TestOpenFixedChannelErrors(t *testing.T) {
	x := newFixture(t)
	_, err := x.m.OpenFixedChannel(leHandle, ATTChannelID)
	assert.Equal(t, ErrUnknownLink, errors.Cause(err))

	l, err := x.m.RegisterLE(leHandle, hci.RoleMaster, LinkCallbacks{})
	require.NoError(t, err)
	_, err = x.m.RegisterLE(leHandle, hci.RoleMaster, LinkCallbacks{})
	assert.Equal(t, ErrLinkExists, errors.Cause(err))

	_, err = l.OpenFixedChannel(ATTChannelID)
	require.NoError(t, err)
	_, err = l.OpenFixedChannel(ATTChannelID)
	assert.Equal(t, ErrChannelExists, errors.Cause(err))
	_, err = l.OpenFixedChannel(LESignalingChannelID)
	assert.Equal(t, ErrChannelExists, errors.Cause(err))
	_, err = l.OpenFixedChannel(FirstDynamicChannelID)
	assert.Error(t, err)
}

func TestLinkCloseNotifiesChannels(t *testing.T) {
	x := newFixture(t)
	_, err := x.m.RegisterLE(leHandle, hci.RoleMaster, LinkCallbacks{})
	require.NoError(t, err)
	att, err := x.m.OpenFixedChannel(leHandle, ATTChannelID)
	require.NoError(t, err)
	smp, err := x.m.OpenFixedChannel(leHandle, SMPChannelID)
	require.NoError(t, err)

	closed := 0
	require.True(t, att.Activate(func([]byte) {}, func() { closed++ }, x.loop))

	x.m.Unregister(leHandle)
	x.m.Unregister(leHandle)
	x.loop.RunUntilIdle()

	assert.Equal(t, 1, closed)
	assert.False(t, att.Send([]byte{1}))
	assert.False(t, smp.Activate(func([]byte) {}, func() {}, x.loop))
	_, ok := x.m.Link(leHandle)
	assert.False(t, ok)
}

func TestUpgradeSecurity(t *testing.T) {
	x := newFixture(t)
	var requested []sm.SecurityLevel
	var finish func(error)
	l, err := x.m.RegisterLE(leHandle, hci.RoleMaster, LinkCallbacks{
		SecurityUpgrade: func(handle uint16, level sm.SecurityLevel, cb func(error)) {
			requested = append(requested, level)
			finish = cb
		},
	})
	require.NoError(t, err)
	ch, err := l.OpenFixedChannel(ATTChannelID)
	require.NoError(t, err)
	require.True(t, ch.Activate(func([]byte) {}, func() {}, x.loop))

	var results []error
	ch.UpgradeSecurity(sm.Encrypted, func(err error) { results = append(results, err) }, x.loop)
	x.loop.RunUntilIdle()
	require.Equal(t, []sm.SecurityLevel{sm.Encrypted}, requested)
	assert.Empty(t, results)

	finish(nil)
	x.loop.RunUntilIdle()
	assert.Equal(t, []error{nil}, results)

	// Already met.
	x.m.AssignLinkSecurityProperties(leHandle, sm.SecurityProperties{Level: sm.Authenticated, EncryptionKeySize: 16})
	assert.Equal(t, sm.Authenticated, ch.Security().Level)
	ch.UpgradeSecurity(sm.Encrypted, func(err error) { results = append(results, err) }, x.loop)
	x.loop.RunUntilIdle()
	assert.Len(t, requested, 1)
	assert.Equal(t, []error{nil, nil}, results)
}

func TestErtmChannelLinkErrorOnMaxTransmissions(t *testing.T) {
	x := newFixture(t)
	var linkErrors []uint16
	l, err := x.m.RegisterACL(aclHandle, hci.RoleMaster, LinkCallbacks{
		LinkError: func(h uint16) { linkErrors = append(linkErrors, h) },
	})
	require.NoError(t, err)

	ch, err := l.OpenDynamicChannel(0, 0x0050, ErtmInfo(672, 672, 4, 1, 672))
	require.NoError(t, err)
	assert.Equal(t, FirstDynamicChannelID, ch.ID())
	assert.Equal(t, EnhancedRetransmissionMode, ch.Mode())
	require.True(t, ch.Activate(func([]byte) {}, func() {}, x.loop))

	require.True(t, ch.Send([]byte("ping")))
	x.loop.RunUntilIdle()
	pp := x.sent()
	require.Len(t, pp, 1)
	assert.Equal(t, uint16(0x0050), pp[0].ChannelID())
	end := len(pp[0]) - fcsLen
	assert.Equal(t, fcs(pp[0][:end]), binary.LittleEndian.Uint16(pp[0][end:]))
	assert.Equal(t, []byte("ping"), []byte(pp[0][basicHeaderLen+controlLen:end]))

	x.loop.AdvanceTime(ErtmRetransmissionTimeout)
	assert.Empty(t, linkErrors)
	x.loop.AdvanceTime(ErtmMonitorTimeout)
	assert.Equal(t, []uint16{aclHandle}, linkErrors)
}

func TestErtmChannelInSequenceDelivery(t *testing.T) {
	x := newFixture(t)
	l, err := x.m.RegisterACL(aclHandle, hci.RoleMaster, LinkCallbacks{})
	require.NoError(t, err)
	ch, err := l.OpenDynamicChannel(0x0040, 0x0050, ErtmInfo(672, 672, 8, 3, 672))
	require.NoError(t, err)

	var got [][]byte
	require.True(t, ch.Activate(func(sdu []byte) { got = append(got, sdu) }, func() {}, x.loop))

	frame := func(seq uint8, b byte) PDU {
		return newPDUWithFCS(0x0040, iFrameControl(seq, 0, sarUnsegmented, false).frame([]byte{b}))
	}
	x.receive(t, aclHandle, frame(0, 1))
	x.receive(t, aclHandle, frame(2, 3))
	x.receive(t, aclHandle, frame(1, 2))
	assert.Equal(t, [][]byte{{1}, {2}, {3}}, got)

	_, err = l.OpenDynamicChannel(0, 0x0051, ChannelInfo{Mode: LECreditBasedFlowControlMode})
	assert.Equal(t, ErrUnsupportedMode, err)
}
