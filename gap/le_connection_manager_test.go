package gap

import (
	"encoding/binary"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rigado/bthost"
	"github.com/rigado/bthost/dispatch"
	"github.com/rigado/bthost/l2cap"
	"github.com/rigado/bthost/linux/hci"
	"github.com/rigado/bthost/linux/hci/cmd"
	"github.com/rigado/bthost/linux/hci/hcitest"
	"github.com/rigado/bthost/sm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var leLocalAddr = bthost.MustParseAddr(bthost.AddrTypeLEPublic, "00:00:00:00:00:01")

type fakeGATT struct {
	added      []bthost.PeerID
	removed    []bthost.PeerID
	discovered []*uuid.UUID
}

func (g *fakeGATT) AddConnection(peer bthost.PeerID, _ *l2cap.Channel) { g.added = append(g.added, peer) }
func (g *fakeGATT) RemoveConnection(peer bthost.PeerID)                { g.removed = append(g.removed, peer) }
func (g *fakeGATT) DiscoverServices(_ bthost.PeerID, svc *uuid.UUID)   { g.discovered = append(g.discovered, svc) }

type leFixture struct {
	loop  *dispatch.TestLoop
	f     *hcitest.FakeTransport
	peers *PeerCache
	gatt  *fakeGATT
	conn  *hci.LowEnergyConnector
	m     *LowEnergyConnectionManager
}

func newLEFixture(t *testing.T) *leFixture {
	loop := dispatch.NewTestLoop()
	f := hcitest.NewFakeTransport(loop)
	acl, err := hci.NewACLDataChannel(f, f.Writer(),
		hci.DataBufferInfo{MaxDataLength: 1021, MaxNumPackets: 10},
		hci.DataBufferInfo{MaxDataLength: 27, MaxNumPackets: 10})
	require.NoError(t, err)

	x := &leFixture{loop: loop, f: f, peers: NewPeerCache(), gatt: &fakeGATT{}}
	x.conn = hci.NewLowEnergyConnector(f, loop, leLocalAddr, func(link *hci.Connection) {
		x.m.RegisterRemoteInitiatedLink(link, sm.Bondable, func(error, *LowEnergyConnectionRef) {})
	})
	x.m = NewLowEnergyConnectionManager(f, loop, x.conn, x.peers, l2cap.NewChannelManager(acl, loop), x.gatt)
	return x
}

// addPeer returns a connectable LE peer whose version and features are
// known, so interrogation needs no commands.
func (x *leFixture) addPeer(t *testing.T, raw [6]byte) *Peer {
	p := x.peers.NewPeer(bthost.NewAddr(bthost.AddrTypeLEPublic, raw), true)
	require.NotNil(t, p)
	p.SetVersion(Version{LMPVersion: 0x09})
	p.UpdateLE(func(le *LowEnergyData) { le.HasFeatures = true })
	return p
}

// complete plays a successful connection to raw on handle.
func (x *leFixture) complete(handle uint16, role uint8, raw [6]byte) {
	x.f.ReplyStatus(cmd.LECreateConnectionCode, 0x00)
	x.f.SendLEEvent(hci.LEConnectionCompleteSubevent, hcitest.LEConnectionComplete(handle, role, raw, 0x00)...)
}

// pdus returns the basic frames sent on cid.
func (x *leFixture) pdus(cid uint16) [][]byte {
	var pp [][]byte
	for _, pkt := range x.f.ACLPackets() {
		d := pkt.Data()
		if len(d) >= 4 && binary.LittleEndian.Uint16(d[2:4]) == cid {
			pp = append(pp, d[4:])
		}
	}
	return pp
}

type refResults struct {
	errs []error
	refs []*LowEnergyConnectionRef
}

func (r *refResults) cb(err error, ref *LowEnergyConnectionRef) {
	r.errs = append(r.errs, err)
	r.refs = append(r.refs, ref)
}

func TestConnectUnknownPeer(t *testing.T) {
	x := newLEFixture(t)
	var r refResults
	assert.False(t, x.m.Connect(bthost.NewPeerID(), r.cb, ConnectionOptions{}))

	bredr := x.peers.NewPeer(bthost.NewAddr(bthost.AddrTypeBREDR, deviceB), true)
	assert.False(t, x.m.Connect(bredr.ID(), r.cb, ConnectionOptions{}))
	assert.Empty(t, r.errs)
	assert.Equal(t, 0, x.f.Count(cmd.LECreateConnectionCode))
}

func TestConnectCoalescesRequests(t *testing.T) {
	x := newLEFixture(t)
	p := x.addPeer(t, deviceA)
	svc := uuid.MustParse("0000180d-0000-1000-8000-00805f9b34fb")

	var r refResults
	require.True(t, x.m.Connect(p.ID(), r.cb, ConnectionOptions{ServiceUUID: &svc}))
	require.True(t, x.m.Connect(p.ID(), r.cb, ConnectionOptions{}))
	require.True(t, x.m.Connect(p.ID(), r.cb, ConnectionOptions{}))
	assert.Equal(t, 1, x.f.Count(cmd.LECreateConnectionCode))
	le, _ := p.LE()
	assert.Equal(t, Initializing, le.ConnectionState)

	x.complete(0x0040, hci.RoleMaster, deviceA)

	require.Len(t, r.errs, 3)
	for i := range r.errs {
		require.NoError(t, r.errs[i])
		assert.True(t, r.refs[i].Active())
		assert.Equal(t, p.ID(), r.refs[i].PeerID())
		assert.Equal(t, uint16(0x0040), r.refs[i].Handle())
		assert.Equal(t, sm.Bondable, r.refs[i].BondableMode())
	}
	le, _ = p.LE()
	assert.Equal(t, Connected, le.ConnectionState)
	require.NotNil(t, le.CurrentParams)
	assert.Equal(t, uint16(0x18), le.CurrentParams.Interval)
	assert.Equal(t, []bthost.PeerID{p.ID()}, x.gatt.added)
	assert.Equal(t, []*uuid.UUID{&svc}, x.gatt.discovered)
	assert.True(t, x.m.Connected(p.ID()))

	// Connected already: served from the existing link.
	require.True(t, x.m.Connect(p.ID(), r.cb, ConnectionOptions{}))
	assert.Len(t, r.errs, 3)
	x.loop.RunUntilIdle()
	require.Len(t, r.errs, 4)
	assert.NoError(t, r.errs[3])
	assert.Equal(t, 1, x.f.Count(cmd.LECreateConnectionCode))
}

func TestConnectFailure(t *testing.T) {
	x := newLEFixture(t)
	p := x.addPeer(t, deviceA)

	var r refResults
	require.True(t, x.m.Connect(p.ID(), r.cb, ConnectionOptions{}))
	x.f.ReplyStatus(cmd.LECreateConnectionCode, hci.ErrConnEstablish)

	require.Len(t, r.errs, 1)
	assert.Equal(t, hci.ErrConnEstablish, errors.Cause(r.errs[0]))
	assert.Nil(t, r.refs[0])
	le, _ := p.LE()
	assert.Equal(t, NotConnected, le.ConnectionState)
	assert.False(t, x.m.Connected(p.ID()))
}

func TestConnectTimeoutMovesToNextRequest(t *testing.T) {
	x := newLEFixture(t)
	x.m.SetRequestTimeout(5 * time.Second)
	a, b := x.addPeer(t, deviceA), x.addPeer(t, deviceB)

	var ra, rb refResults
	require.True(t, x.m.Connect(a.ID(), ra.cb, ConnectionOptions{}))
	require.True(t, x.m.Connect(b.ID(), rb.cb, ConnectionOptions{}))
	require.Equal(t, 1, x.f.Count(cmd.LECreateConnectionCode))
	x.f.ReplyStatus(cmd.LECreateConnectionCode, 0x00)

	x.loop.AdvanceTime(5 * time.Second)
	require.Equal(t, 1, x.f.Count(cmd.LECreateConnectionCancelCode))
	x.f.ReplySuccess(cmd.LECreateConnectionCancelCode)
	failed := make([]byte, 18)
	failed[0] = byte(hci.ErrConnID)
	x.f.SendLEEvent(hci.LEConnectionCompleteSubevent, failed...)

	assert.Equal(t, []error{ErrTimedOut}, ra.errs)
	assert.Empty(t, rb.errs)

	sent := x.f.CommandsWithOpCode(cmd.LECreateConnectionCode)
	require.Len(t, sent, 2)
	assert.Equal(t, deviceB[:], sent[1].Params[6:12])
}

func TestConnectRequestsRunInOrder(t *testing.T) {
	x := newLEFixture(t)
	a, b := x.addPeer(t, deviceA), x.addPeer(t, deviceB)

	var ra, rb refResults
	x.m.Connect(a.ID(), ra.cb, ConnectionOptions{})
	x.m.Connect(b.ID(), rb.cb, ConnectionOptions{})

	x.complete(0x0040, hci.RoleMaster, deviceA)
	require.Len(t, ra.errs, 1)
	require.NoError(t, ra.errs[0])
	assert.Empty(t, rb.errs)

	x.complete(0x0041, hci.RoleMaster, deviceB)
	require.Len(t, rb.errs, 1)
	require.NoError(t, rb.errs[0])
	assert.Equal(t, uint16(0x0041), rb.refs[0].Handle())

	sent := x.f.CommandsWithOpCode(cmd.LECreateConnectionCode)
	require.Len(t, sent, 2)
	assert.Equal(t, deviceA[:], sent[0].Params[6:12])
	assert.Equal(t, deviceB[:], sent[1].Params[6:12])
}

func TestReleasingLastRefDisconnects(t *testing.T) {
	x := newLEFixture(t)
	p := x.addPeer(t, deviceA)

	var r refResults
	x.m.Connect(p.ID(), r.cb, ConnectionOptions{})
	x.m.Connect(p.ID(), r.cb, ConnectionOptions{})
	x.complete(0x0040, hci.RoleMaster, deviceA)
	require.Len(t, r.refs, 2)

	r.refs[0].Release()
	assert.False(t, r.refs[0].Active())
	r.refs[0].Release()
	assert.Equal(t, 0, x.f.Count(cmd.DisconnectCode))
	assert.True(t, x.m.Connected(p.ID()))

	r.refs[1].Release()
	sent := x.f.CommandsWithOpCode(cmd.DisconnectCode)
	require.Len(t, sent, 1)
	assert.Equal(t, []byte{0x40, 0x00, byte(hci.ErrRemoteUser)}, sent[0].Params)
	assert.False(t, x.m.Connected(p.ID()))
	le, _ := p.LE()
	assert.Equal(t, NotConnected, le.ConnectionState)
	assert.Equal(t, []bthost.PeerID{p.ID()}, x.gatt.removed)
}

func TestDisconnect(t *testing.T) {
	x := newLEFixture(t)
	p := x.addPeer(t, deviceA)
	assert.False(t, x.m.Disconnect(p.ID()))

	var r refResults
	x.m.Connect(p.ID(), r.cb, ConnectionOptions{})
	x.complete(0x0040, hci.RoleMaster, deviceA)
	require.Len(t, r.refs, 1)
	closed := 0
	r.refs[0].SetClosedCallback(func() { closed++ })

	assert.True(t, x.m.Disconnect(p.ID()))
	assert.False(t, r.refs[0].Active())
	assert.Equal(t, 1, closed)
	assert.Equal(t, 1, x.f.Count(cmd.DisconnectCode))
	_, ok := x.m.l2cap.Link(0x0040)
	assert.False(t, ok)

	// Released after the link went away.
	r.refs[0].Release()
	assert.Equal(t, 1, x.f.Count(cmd.DisconnectCode))
}

func TestDisconnectQueuedRequest(t *testing.T) {
	x := newLEFixture(t)
	a, b := x.addPeer(t, deviceA), x.addPeer(t, deviceB)

	var ra, rb refResults
	x.m.Connect(a.ID(), ra.cb, ConnectionOptions{})
	x.m.Connect(b.ID(), rb.cb, ConnectionOptions{})

	assert.True(t, x.m.Disconnect(b.ID()))
	assert.Equal(t, []error{ErrCanceled}, rb.errs)

	x.complete(0x0040, hci.RoleMaster, deviceA)
	assert.Equal(t, 1, x.f.Count(cmd.LECreateConnectionCode))
}

func TestDisconnectCancelsPendingConnect(t *testing.T) {
	x := newLEFixture(t)
	p := x.addPeer(t, deviceA)

	var r refResults
	x.m.Connect(p.ID(), r.cb, ConnectionOptions{})
	x.f.ReplyStatus(cmd.LECreateConnectionCode, 0x00)

	assert.True(t, x.m.Disconnect(p.ID()))
	require.Equal(t, 1, x.f.Count(cmd.LECreateConnectionCancelCode))
	x.f.ReplySuccess(cmd.LECreateConnectionCancelCode)
	failed := make([]byte, 18)
	failed[0] = byte(hci.ErrConnID)
	x.f.SendLEEvent(hci.LEConnectionCompleteSubevent, failed...)

	assert.Equal(t, []error{ErrCanceled}, r.errs)
	le, _ := p.LE()
	assert.Equal(t, NotConnected, le.ConnectionState)
}

func TestNoATTBearerWithoutGATT(t *testing.T) {
	x := newLEFixture(t)
	x.m.gatt = nil
	p := x.addPeer(t, deviceA)

	var r refResults
	x.m.Connect(p.ID(), r.cb, ConnectionOptions{})
	x.complete(0x0040, hci.RoleMaster, deviceA)
	require.Len(t, r.errs, 1)
	require.NoError(t, r.errs[0])

	// Nobody holds the ATT channel, so it can still be opened.
	_, err := x.m.l2cap.OpenFixedChannel(0x0040, l2cap.ATTChannelID)
	assert.NoError(t, err)

	r.refs[0].Release()
	assert.False(t, x.m.Connected(p.ID()))
}

func TestDisconnectWhileConnectionCompletes(t *testing.T) {
	x := newLEFixture(t)
	p := x.addPeer(t, deviceA)

	var r refResults
	x.m.Connect(p.ID(), r.cb, ConnectionOptions{})
	x.m.Connect(p.ID(), r.cb, ConnectionOptions{})
	x.f.ReplyStatus(cmd.LECreateConnectionCode, 0x00)

	assert.True(t, x.m.Disconnect(p.ID()))
	assert.Equal(t, []error{ErrCanceled, ErrCanceled}, r.errs)
	require.Equal(t, 1, x.f.Count(cmd.LECreateConnectionCancelCode))

	// The link came up before the cancel reached the controller.
	x.f.ReplyComplete(cmd.LECreateConnectionCancelCode, byte(hci.ErrDisallowed))
	x.f.SendLEEvent(hci.LEConnectionCompleteSubevent, hcitest.LEConnectionComplete(0x0040, hci.RoleMaster, deviceA, 0x00)...)

	assert.Len(t, r.errs, 2)
	assert.False(t, x.m.Connected(p.ID()))
	sent := x.f.CommandsWithOpCode(cmd.DisconnectCode)
	require.Len(t, sent, 1)
	assert.Equal(t, []byte{0x40, 0x00, byte(hci.ErrLocalHost)}, sent[0].Params)
	le, _ := p.LE()
	assert.Equal(t, NotConnected, le.ConnectionState)

	// A new request is served normally.
	require.True(t, x.m.Connect(p.ID(), r.cb, ConnectionOptions{}))
	x.complete(0x0041, hci.RoleMaster, deviceA)
	require.Len(t, r.errs, 3)
	require.NoError(t, r.errs[2])
	assert.Equal(t, uint16(0x0041), r.refs[2].Handle())
}

func TestConnectWaitsForInterrogation(t *testing.T) {
	x := newLEFixture(t)
	p := x.peers.NewPeer(bthost.NewAddr(bthost.AddrTypeLEPublic, deviceA), true)
	p.UpdateLE(func(le *LowEnergyData) { le.HasFeatures = true })

	var first refResults
	require.True(t, x.m.Connect(p.ID(), first.cb, ConnectionOptions{}))
	x.complete(0x0040, hci.RoleMaster, deviceA)
	require.Equal(t, 1, x.f.Count(cmd.ReadRemoteVersionInformationCode))
	assert.True(t, x.m.Connected(p.ID()))
	assert.Empty(t, first.errs)

	var second refResults
	require.True(t, x.m.Connect(p.ID(), second.cb, ConnectionOptions{}))
	x.loop.RunUntilIdle()
	assert.Empty(t, second.errs)

	x.f.ReplyStatus(cmd.ReadRemoteVersionInformationCode, 0x00)
	assert.Empty(t, second.errs)
	x.f.SendEvent(hci.ReadRemoteVersionInfoCompleteEvent, versionComplete(0x00, 0x0040)...)

	require.Len(t, first.errs, 1)
	require.NoError(t, first.errs[0])
	require.Len(t, second.errs, 1)
	require.NoError(t, second.errs[0])
	assert.True(t, second.refs[0].Active())
	assert.Equal(t, uint16(0x0040), second.refs[0].Handle())
	assert.Equal(t, 1, x.f.Count(cmd.LECreateConnectionCode))
}

func TestPeerDisconnect(t *testing.T) {
	x := newLEFixture(t)
	p := x.addPeer(t, deviceA)

	var r refResults
	x.m.Connect(p.ID(), r.cb, ConnectionOptions{})
	x.complete(0x0040, hci.RoleMaster, deviceA)
	require.Len(t, r.refs, 1)
	ref := r.refs[0]

	var activeInCallback []bool
	x.m.SetDisconnectCallbackForTesting(func(handle uint16) {
		assert.Equal(t, uint16(0x0040), handle)
		activeInCallback = append(activeInCallback, ref.Active())
	})
	closed := 0
	ref.SetClosedCallback(func() { closed++ })

	x.f.SendEvent(hci.DisconnectionCompleteEvent, hcitest.DisconnectionComplete(0x0040, hci.ErrRemoteUser)...)

	assert.Equal(t, []bool{true}, activeInCallback)
	assert.False(t, ref.Active())
	assert.Equal(t, 1, closed)
	assert.Equal(t, 0, x.f.Count(cmd.DisconnectCode))
	assert.False(t, x.m.Connected(p.ID()))
	le, _ := p.LE()
	assert.Equal(t, NotConnected, le.ConnectionState)

	// Unknown handles are ignored.
	x.f.SendEvent(hci.DisconnectionCompleteEvent, hcitest.DisconnectionComplete(0x0040, hci.ErrRemoteUser)...)
	assert.Equal(t, []bool{true}, activeInCallback)
}

func TestRemoteInitiatedLink(t *testing.T) {
	x := newLEFixture(t)
	p := x.addPeer(t, deviceA)

	x.f.SendLEEvent(hci.LEConnectionCompleteSubevent, hcitest.LEConnectionComplete(0x0040, hci.RoleSlave, deviceA, 0x00)...)
	assert.True(t, x.m.Connected(p.ID()))
	le, _ := p.LE()
	assert.Equal(t, Connected, le.ConnectionState)

	// A second link to the connected peer is dropped.
	var r refResults
	link := hci.NewLEConnection(x.f, 0x0041, hci.RoleSlave, leLocalAddr, p.Address(), hci.LEConnectionParameters{})
	x.m.RegisterRemoteInitiatedLink(link, sm.Bondable, r.cb)
	require.Len(t, r.errs, 1)
	assert.Equal(t, ErrAlreadyRegistered, errors.Cause(r.errs[0]))
	sent := x.f.CommandsWithOpCode(cmd.DisconnectCode)
	require.Len(t, sent, 1)
	assert.Equal(t, byte(0x41), sent[0].Params[0])

	// A duplicate handle leaves the registered link alone.
	dup := hci.NewLEConnection(x.f, 0x0040, hci.RoleSlave, leLocalAddr, p.Address(), hci.LEConnectionParameters{})
	x.m.RegisterRemoteInitiatedLink(dup, sm.Bondable, r.cb)
	require.Len(t, r.errs, 2)
	assert.Equal(t, ErrAlreadyRegistered, errors.Cause(r.errs[1]))
	assert.True(t, dup.Closed())
	assert.Equal(t, 1, x.f.Count(cmd.DisconnectCode))
	assert.True(t, x.m.Connected(p.ID()))
}

func TestRemoteInitiatedLinkCreatesPeer(t *testing.T) {
	x := newLEFixture(t)

	var r refResults
	addr := bthost.NewAddr(bthost.AddrTypeLEPublic, deviceB)
	link := hci.NewLEConnection(x.f, 0x0040, hci.RoleSlave, leLocalAddr, addr, hci.LEConnectionParameters{Interval: 0x30})
	x.m.RegisterRemoteInitiatedLink(link, sm.Bondable, r.cb)
	x.loop.RunUntilIdle()

	p, ok := x.peers.FindByAddress(addr)
	require.True(t, ok)
	le, _ := p.LE()
	assert.Equal(t, Initializing, le.ConnectionState)
	assert.Equal(t, uint16(0x30), le.CurrentParams.Interval)
	assert.Empty(t, r.errs)
	assert.Equal(t, 1, x.f.Count(cmd.ReadRemoteVersionInformationCode))

	// Interrogation fails and the link is torn down.
	x.f.ReplyStatus(cmd.ReadRemoteVersionInformationCode, hci.ErrConnID)
	x.loop.RunUntilIdle()
	require.Len(t, r.errs, 1)
	assert.Error(t, r.errs[0])
	assert.False(t, x.m.Connected(p.ID()))
	assert.Equal(t, 1, x.f.Count(cmd.DisconnectCode))
}

func TestRemoteLinkFromDualModePeer(t *testing.T) {
	x := newLEFixture(t)
	p := x.peers.NewPeer(bthost.NewAddr(bthost.AddrTypeBREDR, deviceA), true)
	require.NotNil(t, p)
	_, ok := p.LE()
	require.False(t, ok)

	var r refResults
	addr := bthost.NewAddr(bthost.AddrTypeLEPublic, deviceA)
	link := hci.NewLEConnection(x.f, 0x0040, hci.RoleSlave, leLocalAddr, addr, hci.LEConnectionParameters{Interval: 0x30})
	x.m.RegisterRemoteInitiatedLink(link, sm.Bondable, r.cb)
	x.loop.RunUntilIdle()

	le, ok := p.LE()
	require.True(t, ok)
	assert.Equal(t, addr, le.Address)
	assert.Equal(t, Initializing, le.ConnectionState)
	require.NotNil(t, le.CurrentParams)
	assert.Equal(t, uint16(0x30), le.CurrentParams.Interval)
	assert.Equal(t, 1, x.peers.Count())
	assert.True(t, p.Connected())
	assert.False(t, x.peers.RemoveDisconnectedPeer(p.ID()))

	x.f.ReplyStatus(cmd.ReadRemoteVersionInformationCode, 0x00)
	x.f.ReplyStatus(cmd.LEReadRemoteFeaturesCode, 0x00)
	x.f.SendEvent(hci.ReadRemoteVersionInfoCompleteEvent, versionComplete(0x00, 0x0040)...)
	x.f.SendLEEvent(hci.LEReadRemoteFeaturesCompleteSubevent, featuresComplete(0x0040, 0x01)...)

	require.Len(t, r.errs, 1)
	require.NoError(t, r.errs[0])
	le, _ = p.LE()
	assert.Equal(t, Connected, le.ConnectionState)

	var again refResults
	require.True(t, x.m.Connect(p.ID(), again.cb, ConnectionOptions{}))
	x.loop.RunUntilIdle()
	require.Len(t, again.errs, 1)
	assert.NoError(t, again.errs[0])
	assert.Equal(t, 0, x.f.Count(cmd.LECreateConnectionCode))
}

func TestCentralUpdatesConnectionParameters(t *testing.T) {
	x := newLEFixture(t)
	p := x.addPeer(t, deviceA)
	pref := hci.LEPreferredConnectionParameters{IntervalMin: 0x0020, IntervalMax: 0x0030, Latency: 1, SupervisionTimeout: 0x0100}
	p.UpdateLE(func(le *LowEnergyData) { le.PreferredParams = &pref })

	var updated []*Peer
	x.m.SetConnectionParametersCallbackForTesting(func(p *Peer) { updated = append(updated, p) })

	var r refResults
	x.m.Connect(p.ID(), r.cb, ConnectionOptions{})
	x.complete(0x0040, hci.RoleMaster, deviceA)

	sent := x.f.CommandsWithOpCode(cmd.LEConnectionUpdateCode)
	require.Len(t, sent, 1)
	assert.Equal(t, []byte{0x40, 0x00, 0x20, 0x00, 0x30, 0x00, 0x01, 0x00, 0x00, 0x01}, sent[0].Params[:10])

	x.f.ReplyStatus(cmd.LEConnectionUpdateCode, 0x00)
	x.f.SendLEEvent(hci.LEConnectionUpdateCompleteSubevent, 0x00, 0x40, 0x00, 0x28, 0x00, 0x01, 0x00, 0x00, 0x01)

	require.Len(t, updated, 1)
	assert.Equal(t, p, updated[0])
	le, _ := p.LE()
	assert.Equal(t, hci.LEConnectionParameters{Interval: 0x28, Latency: 1, SupervisionTimeout: 0x100}, *le.CurrentParams)

	// Failed updates leave the parameters alone.
	x.f.SendLEEvent(hci.LEConnectionUpdateCompleteSubevent, byte(hci.ErrUnsupportedRemote), 0x40, 0x00, 0x10, 0x00, 0x00, 0x00, 0x00, 0x01)
	assert.Len(t, updated, 1)
}

func TestPeripheralFallsBackToL2CAPParameterRequest(t *testing.T) {
	x := newLEFixture(t)
	p := x.addPeer(t, deviceA)
	x.m.SetLocalPreferredConnectionParameters(hci.LEPreferredConnectionParameters{IntervalMin: 0x0018, IntervalMax: 0x0028, SupervisionTimeout: 0x00c8})

	x.f.SendLEEvent(hci.LEConnectionCompleteSubevent, hcitest.LEConnectionComplete(0x0040, hci.RoleSlave, deviceA, 0x00)...)
	require.True(t, x.m.Connected(p.ID()))
	require.Equal(t, 1, x.f.Count(cmd.LEConnectionUpdateCode))
	assert.Empty(t, x.pdus(l2cap.LESignalingChannelID))

	x.f.ReplyStatus(cmd.LEConnectionUpdateCode, hci.ErrUnsupportedRemote)
	x.loop.RunUntilIdle()

	pp := x.pdus(l2cap.LESignalingChannelID)
	require.Len(t, pp, 1)
	assert.Equal(t, byte(l2cap.SignalConnectionParameterUpdateRequest), pp[0][0])
	assert.Equal(t, []byte{0x18, 0x00, 0x28, 0x00, 0x00, 0x00, 0xc8, 0x00}, pp[0][4:12])
}

func TestPairNotConnected(t *testing.T) {
	x := newLEFixture(t)
	p := x.addPeer(t, deviceA)

	var got error
	x.m.Pair(p.ID(), sm.Encrypted, sm.Bondable, func(err error) { got = err })
	assert.Equal(t, ErrNotFound, errors.Cause(got))
}

func TestPairSendsPairingRequest(t *testing.T) {
	x := newLEFixture(t)
	p := x.addPeer(t, deviceA)

	var r refResults
	x.m.Connect(p.ID(), r.cb, ConnectionOptions{})
	x.complete(0x0040, hci.RoleMaster, deviceA)

	var results []error
	x.m.Pair(p.ID(), sm.Encrypted, sm.NonBondable, func(err error) { results = append(results, err) })
	x.loop.RunUntilIdle()
	assert.Equal(t, sm.NonBondable, r.refs[0].BondableMode())

	pp := x.pdus(l2cap.SMPChannelID)
	require.Len(t, pp, 1)
	assert.Equal(t, byte(0x01), pp[0][0])
	assert.Empty(t, results)

	// A new delegate cancels the pairing.
	x.m.SetPairingDelegate(nil)
	x.loop.RunUntilIdle()
	require.Len(t, results, 1)
	assert.Error(t, results[0])
	pp = x.pdus(l2cap.SMPChannelID)
	require.Len(t, pp, 2)
	assert.Equal(t, byte(0x05), pp[1][0])
}

func TestBondedPeerEncryptsWithStoredKey(t *testing.T) {
	x := newLEFixture(t)
	p := x.addPeer(t, deviceA)
	ltk := sm.LTK{
		Security: sm.SecurityProperties{Level: sm.Encrypted, EncryptionKeySize: 16},
		Key:      [16]byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16},
		EDiv:     0x1234,
		Rand:     0x0102030405060708,
	}
	p.UpdateLE(func(le *LowEnergyData) { le.Bond = &ltk })

	var r refResults
	x.m.Connect(p.ID(), r.cb, ConnectionOptions{})
	x.complete(0x0040, hci.RoleMaster, deviceA)

	x.m.Pair(p.ID(), sm.Encrypted, sm.Bondable, func(error) {})
	x.loop.RunUntilIdle()

	assert.Equal(t, 1, x.f.Count(cmd.LEStartEncryptionCode))
	assert.Empty(t, x.pdus(l2cap.SMPChannelID))
}

func TestCloseCancelsEverything(t *testing.T) {
	x := newLEFixture(t)
	a, b := x.addPeer(t, deviceA), x.addPeer(t, deviceB)

	var ra, rb refResults
	x.m.Connect(a.ID(), ra.cb, ConnectionOptions{})
	x.complete(0x0040, hci.RoleMaster, deviceA)
	x.m.Connect(b.ID(), rb.cb, ConnectionOptions{})

	x.m.Close()
	assert.Equal(t, []error{ErrCanceled}, rb.errs)
	require.Len(t, ra.refs, 1)
	assert.False(t, ra.refs[0].Active())
	assert.Equal(t, 1, x.f.Count(cmd.DisconnectCode))
	assert.False(t, x.m.Connect(a.ID(), ra.cb, ConnectionOptions{}))
}
