package gap

import (
	"time"

	"github.com/pkg/errors"
	"github.com/rigado/bthost"
	"github.com/rigado/bthost/dispatch"
	"github.com/rigado/bthost/l2cap"
	"github.com/rigado/bthost/linux/hci"
	"github.com/rigado/bthost/linux/hci/cmd"
	"github.com/rigado/bthost/linux/hci/evt"
	"github.com/rigado/bthost/sm"
	"go.uber.org/atomic"
)

// DefaultLECreateConnectionTimeout bounds a connection attempt.
const DefaultLECreateConnectionTimeout = 20 * time.Second

// LowEnergyConnector establishes LE links as central. It is implemented by
// *hci.LowEnergyConnector.
type LowEnergyConnector interface {
	CreateConnection(peer bthost.DeviceAddress, params hci.LEPreferredConnectionParameters, timeout time.Duration, cb hci.ConnectResultFunc) bool
	Cancel()
	RequestPending() bool
}

type connUpdateSlot struct {
	handle uint16
	cb     func(status hci.ErrCommand)
}

// LowEnergyConnectionManager establishes LE links, sets up their L2CAP,
// security and GATT bearers, and hands out reference counted handles to
// them.
//
// All methods must be called on the manager's dispatcher, which is also the
// dispatcher of the L2CAP channel manager.
type LowEnergyConnectionManager struct {
	t     hci.Transport
	d     dispatch.Dispatcher
	log   bthost.Logger
	live  *dispatch.Liveness
	peers *PeerCache

	connector    LowEnergyConnector
	l2cap        *l2cap.ChannelManager
	gatt         GATT
	interrogator *LowEnergyInterrogator
	delegate     sm.PairingDelegate

	requestTimeout time.Duration
	localParams    *hci.LEPreferredConnectionParameters

	pending     map[bthost.PeerID]*PendingRequestData
	queue       []bthost.PeerID
	connecting  *bthost.PeerID
	connections map[bthost.PeerID]*lowEnergyConnection

	connUpdate *connUpdateSlot
	handlers   []hci.EventHandlerID

	testConnParams func(p *Peer)
	testDisconnect func(handle uint16)
}

// NewLowEnergyConnectionManager returns a manager. gatt may be nil.
func NewLowEnergyConnectionManager(t hci.Transport, d dispatch.Dispatcher, connector LowEnergyConnector, peers *PeerCache, l2 *l2cap.ChannelManager, gatt GATT) *LowEnergyConnectionManager {
	m := &LowEnergyConnectionManager{
		t:              t,
		d:              d,
		log:            bthost.ComponentLogger("gap-le"),
		live:           dispatch.NewLiveness(),
		peers:          peers,
		connector:      connector,
		l2cap:          l2,
		gatt:           gatt,
		interrogator:   NewLowEnergyInterrogator(t, peers),
		requestTimeout: DefaultLECreateConnectionTimeout,
		pending:        make(map[bthost.PeerID]*PendingRequestData),
		connections:    make(map[bthost.PeerID]*lowEnergyConnection),
	}
	m.handlers = append(m.handlers,
		t.AddEventHandler(hci.DisconnectionCompleteEvent, m.handleDisconnectionComplete),
		t.AddLEMetaEventHandler(hci.LEConnectionUpdateCompleteSubevent, m.handleConnectionUpdateComplete),
	)
	return m
}

// Close cancels pending requests and disconnects every link.
func (m *LowEnergyConnectionManager) Close() {
	if !m.live.Invalidate() {
		return
	}
	for _, id := range m.handlers {
		m.t.RemoveEventHandler(id)
	}
	m.handlers = nil

	if m.connecting != nil {
		m.connector.Cancel()
		m.connecting = nil
	}
	pending := m.pending
	m.pending = make(map[bthost.PeerID]*PendingRequestData)
	m.queue = nil
	for _, req := range pending {
		req.NotifyCallbacks(ErrCanceled, nil)
	}

	conns := m.connections
	m.connections = make(map[bthost.PeerID]*lowEnergyConnection)
	for _, c := range conns {
		m.cleanUpConnection(c)
	}
	m.interrogator.Close()
}

// SetRequestTimeout bounds each connection attempt made from now on.
func (m *LowEnergyConnectionManager) SetRequestTimeout(d time.Duration) {
	m.requestTimeout = d
}

// SetDisconnectCallbackForTesting sets f to run when a peer disconnects,
// before the refs of the link are invalidated.
func (m *LowEnergyConnectionManager) SetDisconnectCallbackForTesting(f func(handle uint16)) {
	m.testDisconnect = f
}

// SetConnectionParametersCallbackForTesting sets f to run when the
// parameters of a link changed.
func (m *LowEnergyConnectionManager) SetConnectionParametersCallbackForTesting(f func(p *Peer)) {
	m.testConnParams = f
}

// SetLocalPreferredConnectionParameters sets the parameters requested from
// the central on links where this device is the peripheral.
func (m *LowEnergyConnectionManager) SetLocalPreferredConnectionParameters(p hci.LEPreferredConnectionParameters) {
	m.localParams = &p
}

// SetPairingDelegate assigns the delegate of every link. Replacing it
// cancels ongoing pairing procedures.
func (m *LowEnergyConnectionManager) SetPairingDelegate(d sm.PairingDelegate) {
	m.delegate = d
	for _, c := range m.connections {
		if c.pairing != nil {
			c.pairing.SetDelegate(d)
		}
	}
}

// Connected reports whether the peer has an LE link.
func (m *LowEnergyConnectionManager) Connected(id bthost.PeerID) bool {
	_, ok := m.connections[id]
	return ok
}

// Connect returns a reference to an LE link to the peer through cb,
// connecting first if needed. It returns false if the peer is unknown or has
// no LE address.
func (m *LowEnergyConnectionManager) Connect(id bthost.PeerID, cb ConnectionResultFunc, opts ConnectionOptions) bool {
	if !m.live.Alive() {
		return false
	}
	p, ok := m.peers.FindByID(id)
	if !ok {
		m.log.Debugf("gap: connect to unknown peer %s", id)
		return false
	}
	le, ok := p.LE()
	if !ok {
		m.log.Debugf("gap: %s has no LE address", p)
		return false
	}

	if c, ok := m.connections[id]; ok {
		m.d.Post(m.live.Guard(func() {
			if m.connections[id] != c {
				cb(ErrFailed, nil)
				return
			}
			c.whenInterrogated(func() {
				if ref := m.addRef(id); ref != nil {
					cb(nil, ref)
					return
				}
				cb(ErrFailed, nil)
			})
		}))
		return true
	}

	if req, ok := m.pending[id]; ok {
		req.AddCallback(cb)
		return true
	}

	m.pending[id] = newPendingRequestData(le.Address, cb, opts)
	m.queue = append(m.queue, id)
	m.tryCreateNextConnection()
	return true
}

// tryCreateNextConnection starts the oldest queued request unless an
// attempt is in flight.
func (m *LowEnergyConnectionManager) tryCreateNextConnection() {
	if m.connecting != nil || m.connector.RequestPending() {
		return
	}
	for len(m.queue) > 0 {
		id := m.queue[0]
		m.queue = m.queue[1:]

		req, ok := m.pending[id]
		if !ok {
			continue
		}
		p, ok := m.peers.FindByID(id)
		if !ok {
			delete(m.pending, id)
			req.NotifyCallbacks(ErrPeerNotFound, nil)
			continue
		}
		m.requestCreateConnection(p, req)
		return
	}
}

func (m *LowEnergyConnectionManager) requestCreateConnection(p *Peer, req *PendingRequestData) {
	id := p.ID()
	m.connecting = &id
	p.SetLEConnectionState(Initializing)

	m.log.Debugf("gap: connecting to %s", p)
	ok := m.connector.CreateConnection(req.Address(), hci.DefaultPreferredConnectionParameters, m.requestTimeout, func(err error, link *hci.Connection) {
		if !m.live.Alive() {
			if link != nil {
				link.Disconnect(hci.ErrLocalHost)
			}
			return
		}
		m.onConnectResult(id, req, err, link)
	})
	if !ok {
		m.connecting = nil
		m.failRequest(id, errors.Wrap(ErrFailed, "gap: connector busy"))
	}
}

func (m *LowEnergyConnectionManager) onConnectResult(id bthost.PeerID, req *PendingRequestData, err error, link *hci.Connection) {
	m.connecting = nil
	stale := m.pending[id] != req

	switch errors.Cause(err) {
	case nil:
	case hci.ErrCreateConnectionTimeout:
		err = ErrTimedOut
	case hci.ErrCreateConnectionCanceled:
		err = ErrCanceled
	}
	if err != nil {
		m.log.Debugf("gap: connection to %s failed: %v", id, err)
		if !stale {
			m.failRequest(id, err)
		}
		m.tryCreateNextConnection()
		return
	}

	if stale {
		// Canceled while the connection completed.
		m.log.Debugf("gap: request for %s canceled, disconnecting", id)
		link.Disconnect(hci.ErrLocalHost)
		m.tryCreateNextConnection()
		return
	}
	m.registerLocalInitiatedLink(id, link, req)
	m.tryCreateNextConnection()
}

func (m *LowEnergyConnectionManager) failRequest(id bthost.PeerID, err error) {
	if p, ok := m.peers.FindByID(id); ok && !m.Connected(id) {
		p.SetLEConnectionState(NotConnected)
	}
	if req, ok := m.pending[id]; ok {
		delete(m.pending, id)
		req.NotifyCallbacks(err, nil)
	}
}

func (m *LowEnergyConnectionManager) registerLocalInitiatedLink(id bthost.PeerID, link *hci.Connection, req *PendingRequestData) {
	m.initializeConnection(link, req.Options(), func(err error, ref *LowEnergyConnectionRef) {
		if m.pending[id] == req {
			delete(m.pending, id)
		}
		req.NotifyCallbacks(err, func() *LowEnergyConnectionRef { return m.addRef(ref.PeerID()) })
		if ref != nil {
			// The initial ref only keeps the link up while callers are
			// notified.
			ref.Release()
		}
	})
}

// RegisterRemoteInitiatedLink sets up a link the peer connected, and
// returns the first reference to it through cb.
func (m *LowEnergyConnectionManager) RegisterRemoteInitiatedLink(link *hci.Connection, bondable sm.BondableMode, cb ConnectionResultFunc) {
	m.log.Debugf("gap: new remote initiated link 0x%04X from %s", link.Handle(), link.PeerAddr())
	m.initializeConnection(link, ConnectionOptions{BondableMode: bondable}, cb)
}

// initializeConnection registers the link with L2CAP and the security
// manager, interrogates the peer and attaches the GATT bearer. cb receives
// the first reference.
func (m *LowEnergyConnectionManager) initializeConnection(link *hci.Connection, opts ConnectionOptions, cb ConnectionResultFunc) {
	if _, ok := m.findConnection(link.Handle()); ok {
		m.log.Warnf("gap: link 0x%04X already registered", link.Handle())
		// Sending Disconnect would take the registered link down too.
		link.MarkClosed()
		cb(errors.Wrapf(ErrAlreadyRegistered, "gap: link 0x%04X", link.Handle()), nil)
		return
	}

	if p, ok := m.peers.FindByAddress(link.PeerAddr()); ok && m.Connected(p.ID()) {
		m.log.Warnf("gap: %s already connected, dropping link 0x%04X", p, link.Handle())
		link.Disconnect(hci.ErrConnLimit)
		cb(errors.Wrapf(ErrAlreadyRegistered, "gap: %s", p), nil)
		return
	}

	p := m.updatePeerWithLink(link)
	id := p.ID()

	c := newLowEnergyConnection(id, link, opts)
	m.connections[id] = c

	if err := m.registerBearers(c, p); err != nil {
		m.log.Errorf("gap: link 0x%04X setup failed: %v", link.Handle(), err)
		delete(m.connections, id)
		m.cleanUpConnection(c)
		cb(err, nil)
		return
	}

	m.interrogator.Start(id, link.Handle(), func(err error) {
		if !m.live.Alive() {
			cb(ErrCanceled, nil)
			return
		}
		if cur, ok := m.connections[id]; !ok || cur != c {
			cb(errors.Wrap(ErrFailed, "gap: link closed during interrogation"), nil)
			return
		}
		if err != nil {
			m.log.Infof("gap: interrogation of %s failed: %v", p, err)
			delete(m.connections, id)
			m.cleanUpConnection(c)
			cb(err, nil)
			return
		}
		m.onInterrogationComplete(c)
		ref := m.addRef(id)
		c.setInterrogated()
		cb(nil, ref)
	})
}

// registerBearers opens the logical link and the SMP channel.
func (m *LowEnergyConnectionManager) registerBearers(c *lowEnergyConnection, p *Peer) error {
	id, handle := c.peer, c.handle()
	_, err := m.l2cap.RegisterLE(handle, c.link.Role(), l2cap.LinkCallbacks{
		LinkError: func(uint16) {
			if m.live.Alive() {
				m.Disconnect(id)
			}
		},
		SecurityUpgrade: func(_ uint16, level sm.SecurityLevel, cb func(error)) {
			conn, ok := m.connections[id]
			if !ok || conn.pairing == nil {
				cb(ErrNotFound)
				return
			}
			conn.pairing.UpgradeSecurity(level, cb)
		},
		ConnectionParameterUpdate: func(h uint16, params hci.LEPreferredConnectionParameters) {
			if m.live.Alive() {
				m.OnNewLEConnectionParams(id, h, params)
			}
		},
	})
	if err != nil {
		return err
	}

	smp, err := m.l2cap.OpenFixedChannel(handle, l2cap.SMPChannelID)
	if err != nil {
		return err
	}
	c.pairing = sm.NewPairingState(c.link, smp, m.d, id, c.bondable, m.delegate, sm.Callbacks{
		NewPairingData: func(d sm.PairingData) {
			m.storeBond(c, d)
		},
		NewSecurityProperties: func(props sm.SecurityProperties) {
			m.log.Infof("gap: link 0x%04X security: %v", handle, props.Level)
			m.l2cap.AssignLinkSecurityProperties(handle, props)
		},
		Timeout: func() {
			m.log.Infof("gap: pairing with %s timed out", id)
			m.Disconnect(id)
		},
	})
	if !smp.Activate(c.pairing.HandleSDU, func() {}, m.d) {
		return errors.Errorf("gap: SMP channel on 0x%04X already active", handle)
	}
	if le, ok := p.LE(); ok && le.Bond != nil {
		c.pairing.AssignLongTermKey(*le.Bond)
	}
	return nil
}

func (m *LowEnergyConnectionManager) storeBond(c *lowEnergyConnection, d sm.PairingData) {
	ltk := d.LocalLTK
	if c.link.Role() == hci.RoleMaster {
		ltk = d.PeerLTK
	}
	if ltk == nil {
		return
	}
	if p, ok := m.peers.FindByID(c.peer); ok {
		k := *ltk
		p.UpdateLE(func(le *LowEnergyData) { le.Bond = &k })
		m.log.Infof("gap: bonded with %s", p)
	}
}

func (m *LowEnergyConnectionManager) onInterrogationComplete(c *lowEnergyConnection) {
	p, ok := m.peers.FindByID(c.peer)
	if !ok {
		return
	}
	p.SetLEConnectionState(Connected)

	if c.link.Role() == hci.RoleMaster {
		if le, _ := p.LE(); le.PreferredParams != nil {
			m.requestConnectionParameterUpdate(c, *le.PreferredParams)
		}
	} else if m.localParams != nil {
		m.requestConnectionParameterUpdate(c, *m.localParams)
	}

	if m.gatt == nil {
		return
	}
	att, err := m.l2cap.OpenFixedChannel(c.handle(), l2cap.ATTChannelID)
	if err != nil {
		m.log.Warnf("gap: no ATT bearer on 0x%04X: %v", c.handle(), err)
		return
	}
	m.gatt.AddConnection(c.peer, att)
	c.gattRegistered = true
	m.gatt.DiscoverServices(c.peer, c.opts.ServiceUUID)
}

// updatePeerWithLink returns the peer of link, creating it if needed, and
// records the link parameters.
func (m *LowEnergyConnectionManager) updatePeerWithLink(link *hci.Connection) *Peer {
	p, ok := m.peers.FindByAddress(link.PeerAddr())
	if !ok {
		if p = m.peers.NewPeer(link.PeerAddr(), true); p == nil {
			p, _ = m.peers.FindByAddress(link.PeerAddr())
		}
	}
	params := link.Params()
	p.MutLE(link.PeerAddr(), func(le *LowEnergyData) {
		le.CurrentParams = &params
		le.ConnectionState = Initializing
	})
	return p
}

func (m *LowEnergyConnectionManager) addRef(id bthost.PeerID) *LowEnergyConnectionRef {
	c, ok := m.connections[id]
	if !ok {
		return nil
	}
	r := &LowEnergyConnectionRef{
		active: atomic.NewBool(true),
		peer:   id,
		handle: c.handle(),
		m:      m,
	}
	c.refs[r] = struct{}{}
	return r
}

func (m *LowEnergyConnectionManager) releaseReference(r *LowEnergyConnectionRef) {
	c, ok := m.connections[r.peer]
	if !ok {
		return
	}
	if _, ok := c.refs[r]; !ok {
		return
	}
	delete(c.refs, r)
	if len(c.refs) == 0 {
		m.log.Debugf("gap: last ref to %s released", r.peer)
		m.Disconnect(r.peer)
	}
}

func (m *LowEnergyConnectionManager) findConnection(handle uint16) (*lowEnergyConnection, bool) {
	for _, c := range m.connections {
		if c.handle() == handle {
			return c, true
		}
	}
	return nil, false
}

// Disconnect closes the link to the peer, invalidating every reference, or
// cancels a connection request still pending. It returns false if there is
// neither.
func (m *LowEnergyConnectionManager) Disconnect(id bthost.PeerID) bool {
	found := false
	if _, ok := m.pending[id]; ok {
		found = true
		if m.connecting != nil && *m.connecting == id {
			m.connector.Cancel()
		}
		m.failRequest(id, ErrCanceled)
	}

	if c, ok := m.connections[id]; ok {
		found = true
		m.log.Infof("gap: disconnecting %s (0x%04X)", id, c.handle())
		delete(m.connections, id)
		m.cleanUpConnection(c)
	}
	return found
}

// OnPeerDisconnect tears down the link on handle after the controller
// reported it gone.
func (m *LowEnergyConnectionManager) OnPeerDisconnect(handle uint16, reason hci.ErrCommand) {
	c, ok := m.findConnection(handle)
	if !ok {
		return
	}
	m.log.Infof("gap: %s disconnected (0x%04X): %v", c.peer, handle, reason)
	if m.testDisconnect != nil {
		m.testDisconnect(handle)
	}
	c.link.MarkClosed()
	delete(m.connections, c.peer)
	m.cleanUpConnection(c)
}

// cleanUpConnection releases everything attached to c. c is already gone
// from the connection map.
func (m *LowEnergyConnectionManager) cleanUpConnection(c *lowEnergyConnection) {
	handle := c.handle()
	c.link.Disconnect(hci.ErrRemoteUser)

	m.interrogator.Cancel(handle)
	if c.pairing != nil {
		c.pairing.Close()
	}
	refs := c.refs
	c.refs = make(map[*LowEnergyConnectionRef]struct{})
	for r := range refs {
		r.markClosed()
	}

	m.l2cap.Unregister(handle)
	if c.gattRegistered && m.gatt != nil {
		m.gatt.RemoveConnection(c.peer)
	}
	if p, ok := m.peers.FindByID(c.peer); ok {
		p.SetLEConnectionState(NotConnected)
	}
}

func (m *LowEnergyConnectionManager) handleDisconnectionComplete(e hci.Event) {
	ev := evt.DisconnectionComplete(e.Params)
	if len(ev) < 4 {
		m.log.Warnf("gap: malformed disconnection complete: % X", e.Params)
		return
	}
	if ev.Status() != 0x00 {
		return
	}
	m.OnPeerDisconnect(ev.ConnectionHandle(), hci.ErrCommand(ev.Reason()))
}

// Pair raises the security of the link to the peer to at least level.
func (m *LowEnergyConnectionManager) Pair(id bthost.PeerID, level sm.SecurityLevel, bondable sm.BondableMode, cb func(error)) {
	c, ok := m.connections[id]
	if !ok || c.pairing == nil {
		cb(errors.Wrapf(ErrNotFound, "gap: %s not connected", id))
		return
	}
	c.bondable = bondable
	c.pairing.SetBondableMode(bondable)
	c.pairing.UpgradeSecurity(level, cb)
}

// OnNewLEConnectionParams caches the preferred parameters of the peer and
// applies them once the link is set up.
func (m *LowEnergyConnectionManager) OnNewLEConnectionParams(id bthost.PeerID, handle uint16, params hci.LEPreferredConnectionParameters) {
	if p, ok := m.peers.FindByID(id); ok {
		p.UpdateLE(func(le *LowEnergyData) { le.PreferredParams = &params })
	}
	c, ok := m.connections[id]
	if !ok || c.handle() != handle {
		return
	}
	if !c.interrogated {
		// Applied when interrogation completes; the initial parameters
		// are faster for setup.
		return
	}
	m.requestConnectionParameterUpdate(c, params)
}

// requestConnectionParameterUpdate asks for params with HCI LE Connection
// Update. A peripheral whose central lacks the procedure falls back to the
// L2CAP request once.
func (m *LowEnergyConnectionManager) requestConnectionParameterUpdate(c *lowEnergyConnection, params hci.LEPreferredConnectionParameters) {
	handle := c.handle()
	if c.link.Role() == hci.RoleMaster {
		m.updateConnectionParams(handle, params, func(status hci.ErrCommand) {
			m.log.Debugf("gap: connection update on 0x%04X: %v", handle, status)
		})
		return
	}

	retried := false
	m.updateConnectionParams(handle, params, func(status hci.ErrCommand) {
		if status != hci.ErrUnsupportedRemote || retried {
			return
		}
		retried = true
		m.log.Debugf("gap: central does not support the update procedure, requesting over L2CAP")
		m.l2cap.RequestConnectionParameterUpdate(handle, params, func(accepted bool, err error) {
			switch {
			case err != nil:
				m.log.Warnf("gap: L2CAP parameter update on 0x%04X: %v", handle, err)
			case !accepted:
				m.log.Infof("gap: central rejected parameters on 0x%04X", handle)
			}
		})
	})
}

// updateConnectionParams sends HCI LE Connection Update. done receives a
// failed Command Status, or the status of the matching LE Connection Update
// Complete.
func (m *LowEnergyConnectionManager) updateConnectionParams(handle uint16, p hci.LEPreferredConnectionParameters, done func(status hci.ErrCommand)) {
	c := &cmd.LEConnectionUpdate{
		ConnectionHandle:   handle,
		ConnIntervalMin:    p.IntervalMin,
		ConnIntervalMax:    p.IntervalMax,
		ConnLatency:        p.Latency,
		SupervisionTimeout: p.SupervisionTimeout,
	}
	m.t.SendAsyncCommand(c, func(_ hci.TransactionID, e hci.Event) {
		if !m.live.Alive() {
			return
		}
		if err := e.Err(); err != nil {
			status, ok := errors.Cause(err).(hci.ErrCommand)
			if !ok {
				m.log.Warnf("gap: LE connection update: %v", err)
				return
			}
			done(status)
			return
		}
		m.connUpdate = &connUpdateSlot{handle: handle, cb: done}
	}, hci.CompletesOn(hci.CommandStatusEvent))
}

func (m *LowEnergyConnectionManager) handleConnectionUpdateComplete(e hci.Event) {
	ev := evt.LEConnectionUpdateComplete(e.Params)
	if len(ev) < 10 {
		m.log.Warnf("gap: malformed LE connection update complete: % X", e.Params)
		return
	}
	handle, status := ev.ConnectionHandle(), hci.ErrCommand(ev.Status())

	if s := m.connUpdate; s != nil && s.handle == handle {
		m.connUpdate = nil
		s.cb(status)
	}
	if status != 0x00 {
		m.log.Debugf("gap: connection update on 0x%04X failed: %v", handle, status)
		return
	}

	c, ok := m.findConnection(handle)
	if !ok {
		return
	}
	params := hci.LEConnectionParameters{
		Interval:           ev.ConnInterval(),
		Latency:            ev.ConnLatency(),
		SupervisionTimeout: ev.SupervisionTimeout(),
	}
	c.link.SetParams(params)
	p, ok := m.peers.FindByID(c.peer)
	if !ok {
		return
	}
	p.UpdateLE(func(le *LowEnergyData) { le.CurrentParams = &params })
	if m.testConnParams != nil {
		m.testConnParams(p)
	}
}
