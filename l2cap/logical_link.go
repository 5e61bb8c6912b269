package l2cap

import (
	"sync"

	"github.com/pkg/errors"
	"github.com/rigado/bthost"
	"github.com/rigado/bthost/dispatch"
	"github.com/rigado/bthost/linux/hci"
	"github.com/rigado/bthost/sm"
)

// maxPendingPDUs bounds what is buffered for a fixed channel nobody opened.
const maxPendingPDUs = 32

// aclSender is the part of the ACL data channel a link writes to.
type aclSender interface {
	SendPackets(pp []hci.ACLPacket, pri hci.Priority) bool
	MaxDataLength(t hci.LinkType) int
}

// SecurityUpgradeFunc asks the security manager of a link to reach level.
type SecurityUpgradeFunc func(handle uint16, level sm.SecurityLevel, cb func(error))

// LinkCallbacks connect a link to its owner. All of them run on the link
// dispatcher.
type LinkCallbacks struct {
	// LinkError is called on fatal channel errors; the owner is expected
	// to disconnect.
	LinkError func(handle uint16)

	SecurityUpgrade SecurityUpgradeFunc

	// ConnectionParameterUpdate receives accepted LE parameter requests
	// when we are the central.
	ConnectionParameterUpdate ConnectionParameterUpdateFunc
}

// LogicalLink owns the channels of one ACL-U or LE-U link. Inbound ACL data
// and all deferred work run on its dispatcher.
type LogicalLink struct {
	handle   uint16
	linkType hci.LinkType
	role     uint8
	acl      aclSender
	d        dispatch.Dispatcher
	log      bthost.Logger
	live     *dispatch.Liveness
	cbs      LinkCallbacks

	mu        sync.Mutex
	channels  map[uint16]*Channel
	pending   map[uint16][]PDU
	security  sm.SecurityProperties
	closed    bool
	nextDynID uint16

	recombiner recombiner
	signaling  *leSignaling
}

// NewLogicalLink creates the link. LE links open their signaling channel
// immediately.
func NewLogicalLink(handle uint16, t hci.LinkType, role uint8, acl aclSender, d dispatch.Dispatcher, cbs LinkCallbacks) *LogicalLink {
	l := &LogicalLink{
		handle:    handle,
		linkType:  t,
		role:      role,
		acl:       acl,
		d:         d,
		log:       bthost.ComponentLogger("l2cap"),
		live:      dispatch.NewLiveness(),
		cbs:       cbs,
		channels:  make(map[uint16]*Channel),
		pending:   make(map[uint16][]PDU),
		nextDynID: FirstDynamicChannelID,
	}
	if t == hci.LinkLE {
		ch, _ := l.OpenFixedChannel(LESignalingChannelID)
		l.signaling = newLESignaling(l, ch, cbs.ConnectionParameterUpdate)
	}
	return l
}

func (l *LogicalLink) Handle() uint16     { return l.handle }
func (l *LogicalLink) Type() hci.LinkType { return l.linkType }
func (l *LogicalLink) Role() uint8        { return l.role }

func (l *LogicalLink) post(f func()) {
	l.d.Post(l.live.Guard(f))
}

// Security returns the properties of the link encryption.
func (l *LogicalLink) Security() sm.SecurityProperties {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.security
}

// AssignSecurityProperties records the result of pairing or encryption.
func (l *LogicalLink) AssignSecurityProperties(p sm.SecurityProperties) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.security = p
}

// OpenFixedChannel returns the fixed channel id. PDUs received for it
// before it was opened are queued in the channel until activation.
func (l *LogicalLink) OpenFixedChannel(id uint16) (*Channel, error) {
	if id == 0 || id >= FirstDynamicChannelID {
		return nil, errors.Errorf("l2cap: 0x%04X is not a fixed channel", id)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.checkOpenLocked(id); err != nil {
		return nil, err
	}
	c := newFixedChannel(id, l)
	l.channels[id] = c

	for _, p := range l.pending[id] {
		c.HandleRxPdu(p)
	}
	delete(l.pending, id)
	return c, nil
}

// OpenDynamicChannel attaches a channel whose parameters were already
// negotiated. A zero id allocates the next free local identifier.
func (l *LogicalLink) OpenDynamicChannel(id, remoteID uint16, info ChannelInfo) (*Channel, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if id == 0 {
		var ok bool
		if id, ok = l.allocateIDLocked(); !ok {
			return nil, errors.New("l2cap: no free channel identifier")
		}
	}
	if id < FirstDynamicChannelID {
		return nil, errors.Errorf("l2cap: 0x%04X is not a dynamic channel", id)
	}
	if err := l.checkOpenLocked(id); err != nil {
		return nil, err
	}

	c, err := newChannel(id, remoteID, l, info)
	if err != nil {
		return nil, err
	}
	l.channels[id] = c
	return c, nil
}

func (l *LogicalLink) checkOpenLocked(id uint16) error {
	if l.closed {
		return ErrLinkClosed
	}
	if _, ok := l.channels[id]; ok {
		return errors.Wrapf(ErrChannelExists, "0x%04X", id)
	}
	return nil
}

func (l *LogicalLink) allocateIDLocked() (uint16, bool) {
	for i := 0; i <= int(LastDynamicChannelID-FirstDynamicChannelID); i++ {
		id := l.nextDynID
		if l.nextDynID == LastDynamicChannelID {
			l.nextDynID = FirstDynamicChannelID
		} else {
			l.nextDynID++
		}
		if _, used := l.channels[id]; !used {
			return id, true
		}
	}
	return 0, false
}

// HandleACLPacket recombines inbound data and routes complete PDUs by
// channel identifier.
func (l *LogicalLink) HandleACLPacket(p hci.ACLPacket) {
	pdu, ok := l.recombiner.add(p)
	if !ok {
		l.log.Warnf("l2cap: dropped fragment on 0x%04X", l.handle)
	}
	if pdu != nil {
		l.handlePDU(pdu)
	}
}

func (l *LogicalLink) handlePDU(p PDU) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return
	}
	cid := p.ChannelID()
	if c, ok := l.channels[cid]; ok {
		c.HandleRxPdu(p)
		return
	}
	if cid == 0 || cid >= FirstDynamicChannelID {
		l.log.Debugf("l2cap: dropping PDU for unknown channel 0x%04X on 0x%04X", cid, l.handle)
		return
	}
	if len(l.pending[cid]) >= maxPendingPDUs {
		l.log.Warnf("l2cap: too many PDUs queued for channel 0x%04X, dropping", cid)
		return
	}
	l.pending[cid] = append(l.pending[cid], p)
}

// sendFrame runs on the link dispatcher.
func (l *LogicalLink) sendFrame(remoteID uint16, payload []byte, withFCS bool) {
	l.mu.Lock()
	closed := l.closed
	l.mu.Unlock()
	if closed {
		return
	}

	var p PDU
	if withFCS {
		p = newPDUWithFCS(remoteID, payload)
	} else {
		p = NewPDU(remoteID, payload)
	}

	pri := hci.PriorityLow
	if remoteID == LESignalingChannelID || remoteID == SignalingChannelID || remoteID == SMPChannelID {
		pri = hci.PriorityHigh
	}
	if !l.acl.SendPackets(fragment(l.handle, p, l.acl.MaxDataLength(l.linkType)), pri) {
		l.log.Warnf("l2cap: failed to send %d byte PDU on 0x%04X", len(p), l.handle)
	}
}

func (l *LogicalLink) removeChannel(c *Channel) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.channels[c.id] == c {
		delete(l.channels, c.id)
	}
}

func (l *LogicalLink) signalError() {
	l.log.Infof("l2cap: link error on 0x%04X", l.handle)
	if l.cbs.LinkError != nil {
		l.cbs.LinkError(l.handle)
	}
}

func (l *LogicalLink) upgradeSecurity(level sm.SecurityLevel, cb func(error), d dispatch.Dispatcher) {
	done := func(err error) { dispatch.RunOrPost(func() { cb(err) }, d) }

	if l.Security().Level >= level {
		done(nil)
		return
	}
	if l.cbs.SecurityUpgrade == nil {
		done(errors.Errorf("l2cap: no security manager on 0x%04X", l.handle))
		return
	}
	l.cbs.SecurityUpgrade(l.handle, level, done)
}

// RequestConnectionParameterUpdate sends a Connection Parameter Update
// Request on the LE signaling channel. Only a peripheral may do so.
func (l *LogicalLink) RequestConnectionParameterUpdate(p hci.LEPreferredConnectionParameters, cb ConnectionParameterUpdateResultFunc) {
	if l.signaling == nil {
		cb(false, ErrNotLE)
		return
	}
	l.d.Post(func() {
		if !l.live.Alive() {
			cb(false, ErrLinkClosed)
			return
		}
		l.signaling.requestConnectionParameterUpdate(p, cb)
	})
}

// Close tears the link down and notifies every active channel. It runs on
// the link dispatcher.
func (l *LogicalLink) Close() {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	l.closed = true
	channels := l.channels
	l.channels = make(map[uint16]*Channel)
	l.pending = nil
	l.mu.Unlock()

	l.live.Invalidate()
	if l.signaling != nil {
		l.signaling.close()
	}
	for _, c := range channels {
		c.onClosed()
	}
}
