package gap

import (
	"testing"

	"github.com/rigado/bthost"
	"github.com/rigado/bthost/dispatch"
	"github.com/rigado/bthost/eir"
	"github.com/rigado/bthost/linux/hci"
	"github.com/rigado/bthost/linux/hci/cmd"
	"github.com/rigado/bthost/linux/hci/hcitest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	deviceA = [6]byte{0x06, 0x05, 0x04, 0x03, 0x02, 0x01}
	deviceB = [6]byte{0x16, 0x15, 0x14, 0x13, 0x12, 0x11}
)

type discoveryFixture struct {
	loop  *dispatch.TestLoop
	f     *hcitest.FakeTransport
	peers *PeerCache
	m     *BrEdrDiscoveryManager
}

func newDiscoveryFixture(t *testing.T, mode uint8) *discoveryFixture {
	loop := dispatch.NewTestLoop()
	f := hcitest.NewFakeTransport(loop)
	f.AutoComplete(cmd.WriteInquiryScanActivityCode, 0x00)
	f.AutoComplete(cmd.WriteInquiryScanTypeCode, 0x00)
	f.AutoComplete(cmd.WriteInquiryModeCode, 0x00)

	peers := NewPeerCache()
	m := NewBrEdrDiscoveryManager(f, loop, peers, mode)
	loop.RunUntilIdle()

	require.Equal(t, 1, f.Count(cmd.WriteInquiryScanActivityCode))
	require.Equal(t, 1, f.Count(cmd.WriteInquiryScanTypeCode))
	return &discoveryFixture{loop: loop, f: f, peers: peers, m: m}
}

func (x *discoveryFixture) requestDiscovery(t *testing.T) *DiscoverySession {
	var session *DiscoverySession
	x.m.RequestDiscovery(func(err error, s *DiscoverySession) {
		require.NoError(t, err)
		session = s
	})
	x.loop.RunUntilIdle()
	return session
}

func inquiryResult(addr [6]byte) []byte {
	b := []byte{0x01}
	b = append(b, addr[:]...)
	return append(b,
		0x01,       // psrm
		0x00, 0x00, // reserved
		0x0C, 0x02, 0x5A, // class of device
		0x34, 0x12, // clock offset
	)
}

func extendedInquiryResult(addr [6]byte, data []byte) []byte {
	b := make([]byte, 255)
	b[0] = 0x01
	copy(b[1:], addr[:])
	b[7] = 0x01
	copy(b[9:], []byte{0x0C, 0x02, 0x5A})
	b[14] = 0xC4
	copy(b[15:], data)
	return b
}

func remoteNameComplete(addr [6]byte, name string) []byte {
	b := make([]byte, 1+6+248)
	copy(b[1:], addr[:])
	copy(b[7:], name)
	return b
}

func TestRequestDiscoveryCoalesces(t *testing.T) {
	x := newDiscoveryFixture(t, hci.InquiryModeStandard)

	var sessions []*DiscoverySession
	for i := 0; i < 3; i++ {
		x.m.RequestDiscovery(func(err error, s *DiscoverySession) {
			require.NoError(t, err)
			sessions = append(sessions, s)
		})
	}
	x.loop.RunUntilIdle()

	require.Equal(t, 1, x.f.Count(cmd.InquiryCode))
	inq := x.f.CommandsWithOpCode(cmd.InquiryCode)[0]
	assert.Equal(t, []byte{0x33, 0x8B, 0x9E, 0x08, 0x00}, inq.Params)
	assert.Empty(t, sessions)
	assert.True(t, x.m.Discovering())

	x.f.ReplyStatus(cmd.InquiryCode, 0x00)
	require.Len(t, sessions, 3)
	for _, s := range sessions {
		assert.True(t, s.Active())
	}

	// joins the running inquiry
	s := x.requestDiscovery(t)
	require.NotNil(t, s)
	assert.Equal(t, 1, x.f.Count(cmd.InquiryCode))
	assert.Equal(t, 0, x.f.Count(cmd.WriteInquiryModeCode))
}

func TestInquiryRestartsWhileSessionsLive(t *testing.T) {
	x := newDiscoveryFixture(t, hci.InquiryModeStandard)

	s := x.requestDiscovery(t)
	x.f.ReplyStatus(cmd.InquiryCode, 0x00)
	require.NotNil(t, s)

	x.f.SendEvent(hci.InquiryCompleteEvent, 0x00)
	assert.Equal(t, 2, x.f.Count(cmd.InquiryCode))

	x.f.ReplyStatus(cmd.InquiryCode, 0x00)
	s.Close()
	x.loop.RunUntilIdle()
	assert.False(t, s.Active())

	// zombie sessions keep inquiry reported as running until it completes
	assert.True(t, x.m.Discovering())
	x.f.SendEvent(hci.InquiryCompleteEvent, 0x00)
	assert.Equal(t, 2, x.f.Count(cmd.InquiryCode))
	assert.False(t, x.m.Discovering())
}

func TestRequestDiscoveryJoinsZombieInquiry(t *testing.T) {
	x := newDiscoveryFixture(t, hci.InquiryModeStandard)

	s1 := x.requestDiscovery(t)
	x.f.ReplyStatus(cmd.InquiryCode, 0x00)
	require.NotNil(t, s1)
	s1.Close()
	x.loop.RunUntilIdle()

	var s2 *DiscoverySession
	x.m.RequestDiscovery(func(err error, s *DiscoverySession) { s2 = s })
	require.NotNil(t, s2)
	assert.Equal(t, 1, x.f.Count(cmd.InquiryCode))

	x.f.SendEvent(hci.InquiryCompleteEvent, 0x00)
	assert.Equal(t, 2, x.f.Count(cmd.InquiryCode))
}

func TestInquiryStartFailure(t *testing.T) {
	x := newDiscoveryFixture(t, hci.InquiryModeStandard)

	var errs []error
	for i := 0; i < 2; i++ {
		x.m.RequestDiscovery(func(err error, s *DiscoverySession) {
			assert.Nil(t, s)
			errs = append(errs, err)
		})
	}
	x.loop.RunUntilIdle()
	x.f.ReplyStatus(cmd.InquiryCode, hci.ErrDisallowed)

	assert.Equal(t, []error{hci.ErrDisallowed, hci.ErrDisallowed}, errs)
	assert.False(t, x.m.Discovering())
}

func TestInquiryCompleteFailureEndsSessions(t *testing.T) {
	x := newDiscoveryFixture(t, hci.InquiryModeStandard)

	s := x.requestDiscovery(t)
	x.f.ReplyStatus(cmd.InquiryCode, 0x00)
	var got error
	s.SetErrorCallback(func(err error) { got = err })

	x.f.SendEvent(hci.InquiryCompleteEvent, byte(hci.ErrHardware))
	assert.Equal(t, hci.ErrHardware, got)
	assert.False(t, s.Active())
	assert.Equal(t, 1, x.f.Count(cmd.InquiryCode))
}

func TestWriteInquiryModeBeforeInquiry(t *testing.T) {
	x := newDiscoveryFixture(t, hci.InquiryModeExtended)

	s := x.requestDiscovery(t)
	x.f.ReplyStatus(cmd.InquiryCode, 0x00)
	require.NotNil(t, s)

	ops := x.f.OpCodes()
	require.True(t, len(ops) >= 2)
	assert.Equal(t, []hci.OpCode{cmd.WriteInquiryModeCode, cmd.InquiryCode}, ops[len(ops)-2:])
	assert.Equal(t, []byte{hci.InquiryModeExtended}, x.f.CommandsWithOpCode(cmd.WriteInquiryModeCode)[0].Params)

	// mode already set
	x.f.SendEvent(hci.InquiryCompleteEvent, 0x00)
	assert.Equal(t, 1, x.f.Count(cmd.WriteInquiryModeCode))
	assert.Equal(t, 2, x.f.Count(cmd.InquiryCode))
}

func TestInquiryResultCreatesPeerAndRequestsName(t *testing.T) {
	x := newDiscoveryFixture(t, hci.InquiryModeStandard)

	s := x.requestDiscovery(t)
	x.f.ReplyStatus(cmd.InquiryCode, 0x00)
	var found []*Peer
	s.SetResultCallback(func(p *Peer) { found = append(found, p) })

	x.f.SendEvent(hci.InquiryResultEvent, inquiryResult(deviceA)...)
	x.f.SendEvent(hci.InquiryResultEvent, inquiryResult(deviceA)...)

	require.Len(t, found, 2)
	assert.True(t, found[0] == found[1])
	assert.Equal(t, 1, x.peers.Count())

	p := found[0]
	assert.True(t, p.Connectable())
	bredr, ok := p.BrEdr()
	require.True(t, ok)
	assert.Equal(t, [3]byte{0x0C, 0x02, 0x5A}, bredr.ClassOfDevice)
	assert.Equal(t, uint16(0x1234), bredr.ClockOffset)

	// the name request waits for the inquiry to finish
	assert.Equal(t, 0, x.f.Count(cmd.RemoteNameRequestCode))
	s.Close()
	x.loop.RunUntilIdle()
	x.f.SendEvent(hci.InquiryCompleteEvent, 0x00)

	rnr := x.f.CommandsWithOpCode(cmd.RemoteNameRequestCode)
	require.Len(t, rnr, 1)
	assert.Equal(t, []byte{0x06, 0x05, 0x04, 0x03, 0x02, 0x01, 0x01, 0x00, 0x34, 0x92}, rnr[0].Params)

	x.f.ReplyStatus(cmd.RemoteNameRequestCode, 0x00)
	x.f.SendEvent(hci.RemoteNameRequestCompleteEvent, remoteNameComplete(deviceA, "Headset")...)

	name, ok := p.Name()
	require.True(t, ok)
	assert.Equal(t, "Headset", name)
}

func TestClosedSessionGetsNoResults(t *testing.T) {
	x := newDiscoveryFixture(t, hci.InquiryModeStandard)

	s1 := x.requestDiscovery(t)
	x.f.ReplyStatus(cmd.InquiryCode, 0x00)
	s2 := x.requestDiscovery(t)

	var n1, n2 int
	s1.SetResultCallback(func(*Peer) { n1++ })
	s2.SetResultCallback(func(*Peer) { n2++ })
	s1.Close()
	x.loop.RunUntilIdle()

	x.f.SendEvent(hci.InquiryResultEvent, inquiryResult(deviceB)...)
	assert.Equal(t, 0, n1)
	assert.Equal(t, 1, n2)
}

func TestExtendedInquiryResultName(t *testing.T) {
	x := newDiscoveryFixture(t, hci.InquiryModeExtended)

	s := x.requestDiscovery(t)
	x.f.ReplyStatus(cmd.InquiryCode, 0x00)
	var found *Peer
	s.SetResultCallback(func(p *Peer) { found = p })

	pkt, err := eir.NewPacket(eir.CompleteName("Speaker"))
	require.NoError(t, err)
	x.f.SendEvent(hci.ExtendedInquiryResultEvent, extendedInquiryResult(deviceB, pkt.Bytes())...)

	require.NotNil(t, found)
	name, ok := found.Name()
	require.True(t, ok)
	assert.Equal(t, "Speaker", name)
	assert.Equal(t, int8(-60), found.RSSI())

	s.Close()
	x.loop.RunUntilIdle()
	x.f.SendEvent(hci.InquiryCompleteEvent, 0x00)
	assert.Equal(t, 0, x.f.Count(cmd.RemoteNameRequestCode))
}

func TestMalformedInquiryResultDropped(t *testing.T) {
	x := newDiscoveryFixture(t, hci.InquiryModeStandard)

	s := x.requestDiscovery(t)
	x.f.ReplyStatus(cmd.InquiryCode, 0x00)
	n := 0
	s.SetResultCallback(func(*Peer) { n++ })

	x.f.SendEvent(hci.InquiryResultEvent, inquiryResult(deviceA)[:10]...)
	x.f.SendEvent(hci.ExtendedInquiryResultEvent, 0x01, 0x02)
	assert.Equal(t, 0, n)
	assert.Equal(t, 0, x.peers.Count())
}

func TestRequestDiscoverable(t *testing.T) {
	x := newDiscoveryFixture(t, hci.InquiryModeStandard)
	x.f.AutoComplete(cmd.ReadScanEnableCode, 0x00, hci.ScanEnablePage)
	x.f.AutoComplete(cmd.WriteScanEnableCode, 0x00)

	var sessions []*DiscoverableSession
	for i := 0; i < 2; i++ {
		x.m.RequestDiscoverable(func(err error, s *DiscoverableSession) {
			require.NoError(t, err)
			sessions = append(sessions, s)
		})
	}
	x.loop.RunUntilIdle()

	require.Len(t, sessions, 2)
	assert.Equal(t, 1, x.f.Count(cmd.ReadScanEnableCode))
	w := x.f.CommandsWithOpCode(cmd.WriteScanEnableCode)
	require.Len(t, w, 1)
	assert.Equal(t, []byte{hci.ScanEnablePage | hci.ScanEnableInquiry}, w[0].Params)
	assert.True(t, x.m.Discoverable())

	x.f.AutoComplete(cmd.ReadScanEnableCode, 0x00, hci.ScanEnablePage|hci.ScanEnableInquiry)
	sessions[0].Close()
	x.loop.RunUntilIdle()
	assert.Equal(t, 1, x.f.Count(cmd.ReadScanEnableCode))

	sessions[1].Close()
	sessions[1].Close()
	x.loop.RunUntilIdle()
	assert.False(t, x.m.Discoverable())
	w = x.f.CommandsWithOpCode(cmd.WriteScanEnableCode)
	require.Len(t, w, 2)
	assert.Equal(t, []byte{hci.ScanEnablePage}, w[1].Params)
}

func TestRequestDiscoverableAlreadyScanning(t *testing.T) {
	x := newDiscoveryFixture(t, hci.InquiryModeStandard)
	x.f.AutoComplete(cmd.ReadScanEnableCode, 0x00, hci.ScanEnableInquiry)

	var session *DiscoverableSession
	x.m.RequestDiscoverable(func(err error, s *DiscoverableSession) {
		require.NoError(t, err)
		session = s
	})
	x.loop.RunUntilIdle()

	assert.NotNil(t, session)
	assert.Equal(t, 0, x.f.Count(cmd.WriteScanEnableCode))
}

func TestRequestDiscoverableReadFailure(t *testing.T) {
	x := newDiscoveryFixture(t, hci.InquiryModeStandard)
	x.f.AutoComplete(cmd.ReadScanEnableCode, byte(hci.ErrDisallowed))

	var got error
	x.m.RequestDiscoverable(func(err error, s *DiscoverableSession) {
		assert.Nil(t, s)
		got = err
	})
	x.loop.RunUntilIdle()

	assert.Equal(t, hci.ErrDisallowed, got)
	assert.Equal(t, 0, x.f.Count(cmd.WriteScanEnableCode))
	assert.False(t, x.m.Discoverable())
}

func TestUpdateLocalName(t *testing.T) {
	x := newDiscoveryFixture(t, hci.InquiryModeStandard)
	x.f.AutoComplete(cmd.WriteLocalNameCode, 0x00)
	x.f.AutoComplete(cmd.WriteExtendedInquiryResponseCode, 0x00)

	var got error
	called := false
	x.m.UpdateLocalName("Living room", func(err error) { called, got = true, err })
	x.loop.RunUntilIdle()

	require.True(t, called)
	require.NoError(t, got)
	assert.Equal(t, "Living room", x.m.LocalName())

	wln := x.f.CommandsWithOpCode(cmd.WriteLocalNameCode)
	require.Len(t, wln, 1)
	require.Len(t, wln[0].Params, hci.MaxLocalNameLength)
	assert.Equal(t, "Living room", string(wln[0].Params[:11]))
	assert.Equal(t, byte(0), wln[0].Params[11])

	weir := x.f.CommandsWithOpCode(cmd.WriteExtendedInquiryResponseCode)
	require.Len(t, weir, 1)
	require.Len(t, weir[0].Params, 1+hci.ExtendedInquiryResponseLength)
	assert.Equal(t, append([]byte{0x00, 12, eir.TypeCompleteName}, "Living room"...), weir[0].Params[:14])
}

func TestUpdateLocalNameFailure(t *testing.T) {
	x := newDiscoveryFixture(t, hci.InquiryModeStandard)
	x.f.AutoComplete(cmd.WriteLocalNameCode, byte(hci.ErrDisallowed))

	var got error
	x.m.UpdateLocalName("Kitchen", func(err error) { got = err })
	x.loop.RunUntilIdle()

	assert.Equal(t, hci.ErrDisallowed, got)
	assert.Equal(t, 0, x.f.Count(cmd.WriteExtendedInquiryResponseCode))
	assert.Equal(t, "", x.m.LocalName())
}

func TestCloseDiscoveryManager(t *testing.T) {
	x := newDiscoveryFixture(t, hci.InquiryModeStandard)

	s := x.requestDiscovery(t)
	x.f.ReplyStatus(cmd.InquiryCode, 0x00)
	var sessionErr error
	s.SetErrorCallback(func(err error) { sessionErr = err })
	n := 0
	s.SetResultCallback(func(*Peer) { n++ })

	x.m.Close()
	assert.Equal(t, ErrCanceled, sessionErr)
	assert.False(t, s.Active())

	x.f.SendEvent(hci.InquiryResultEvent, inquiryResult(deviceA)...)
	assert.Equal(t, 0, n)
	assert.Equal(t, 0, x.peers.Count())

	// late completions are dropped
	x.f.SendEvent(hci.InquiryCompleteEvent, 0x00)
	assert.Equal(t, 1, x.f.Count(cmd.InquiryCode))
}

func TestBrEdrPeerFoundByAddress(t *testing.T) {
	x := newDiscoveryFixture(t, hci.InquiryModeStandard)

	s := x.requestDiscovery(t)
	x.f.ReplyStatus(cmd.InquiryCode, 0x00)
	require.NotNil(t, s)
	x.f.SendEvent(hci.InquiryResultEvent, inquiryResult(deviceA)...)

	p, ok := x.peers.FindByAddress(bthost.NewAddr(bthost.AddrTypeBREDR, deviceA))
	require.True(t, ok)
	assert.Equal(t, RSSIInvalid, p.RSSI())
}
