package l2cap

import (
	"sync"
	"time"

	"github.com/rigado/bthost/dispatch"
	"github.com/rigado/bthost/linux/hci"
	"github.com/rigado/bthost/sm"
)

// maxPendingSDUs bounds what an inactive channel buffers for its owner.
const maxPendingSDUs = 32

// RxFunc receives one SDU.
type RxFunc func(sdu []byte)

// Channel is one end of an L2CAP channel. It is created by its LogicalLink
// and used by the profile that activated it; the mutex is the boundary
// between the link dispatcher and the owner.
type Channel struct {
	id         uint16
	remoteID   uint16
	linkType   hci.LinkType
	linkHandle uint16
	info       ChannelInfo

	mu       sync.Mutex
	link     *LogicalLink // nil once deactivated or closed
	active   bool
	d        dispatch.Dispatcher
	rx       RxFunc
	closed   func()
	rxEngine rxEngine
	txEngine txEngine
	pending  [][]byte
}

// A fixed channel's endpoints share one identifier. MTU enforcement is left
// to the protocols that run on them.
func newFixedChannel(id uint16, link *LogicalLink) *Channel {
	c, _ := newChannel(id, id, link, BasicModeInfo(MaxMTU, MaxMTU))
	return c
}

func newChannel(id, remoteID uint16, link *LogicalLink, info ChannelInfo) (*Channel, error) {
	c := &Channel{
		id:         id,
		remoteID:   remoteID,
		linkType:   link.Type(),
		linkHandle: link.Handle(),
		info:       info,
		link:       link,
	}

	withFCS := info.Mode == EnhancedRetransmissionMode
	send := func(payload []byte) {
		link.post(func() { link.sendFrame(remoteID, payload, withFCS) })
	}

	switch info.Mode {
	case BasicMode:
		c.rxEngine = basicRxEngine{}
		c.txEngine = &basicTxEngine{maxTxSDUSize: int(info.MaxTxSDUSize), send: send}

	case EnhancedRetransmissionMode:
		var tx *ertmTxEngine
		schedule := func(d time.Duration, f func()) dispatch.Task {
			return link.d.PostDelayed(d, func() {
				c.mu.Lock()
				defer c.mu.Unlock()
				if c.txEngine == txEngine(tx) {
					f()
				}
			})
		}
		// Called under c.mu from an engine, so the error is posted.
		failure := func() {
			link.log.Warnf("l2cap: channel 0x%04X exceeded max transmissions", id)
			link.post(link.signalError)
		}
		var rx *ertmRxEngine
		rx, tx = newLinkedErtmEngines(info, send, schedule, failure)
		c.rxEngine, c.txEngine = rx, tx

	default:
		return nil, ErrUnsupportedMode
	}
	return c, nil
}

func (c *Channel) ID() uint16             { return c.id }
func (c *Channel) RemoteID() uint16       { return c.remoteID }
func (c *Channel) LinkType() hci.LinkType { return c.linkType }
func (c *Channel) LinkHandle() uint16     { return c.linkHandle }
func (c *Channel) Mode() ChannelMode      { return c.info.Mode }
func (c *Channel) MaxRxSDUSize() uint16   { return c.info.MaxRxSDUSize }
func (c *Channel) MaxTxSDUSize() uint16   { return c.info.MaxTxSDUSize }

// Security returns the properties of the underlying link.
func (c *Channel) Security() sm.SecurityProperties {
	c.mu.Lock()
	link := c.link
	c.mu.Unlock()

	if link == nil {
		return sm.SecurityProperties{}
	}
	return link.Security()
}

// Activate starts delivery of SDUs to rx on d. SDUs that arrived before
// activation are delivered first, in order. It returns false if the link is
// gone or the channel was already activated.
func (c *Channel) Activate(rx RxFunc, closed func(), d dispatch.Dispatcher) bool {
	c.mu.Lock()
	if c.link == nil || c.active {
		c.mu.Unlock()
		return false
	}
	c.active = true
	c.d = d
	c.rx = rx
	c.closed = closed

	pending := c.pending
	c.pending = nil
	drain := func() {
		for _, sdu := range pending {
			rx(sdu)
		}
	}
	if len(pending) > 0 && d != nil {
		// Posted under the lock so that later SDUs queue up behind.
		d.Post(drain)
		c.mu.Unlock()
		return true
	}
	c.mu.Unlock()

	if len(pending) > 0 {
		drain()
	}
	return true
}

// Deactivate stops delivery and releases the channel on the link. The
// closed callback does not run. Further calls have no effect.
func (c *Channel) Deactivate() {
	c.mu.Lock()
	link := c.link
	if link == nil {
		c.mu.Unlock()
		return
	}
	c.reset()
	c.mu.Unlock()

	link.post(func() { link.removeChannel(c) })
}

// SignalLinkError reports a fatal protocol error; the link is torn down.
func (c *Channel) SignalLinkError() {
	c.mu.Lock()
	link, active := c.link, c.active
	c.mu.Unlock()

	if link == nil || !active {
		return
	}
	link.post(link.signalError)
}

// Send queues sdu for transmission. It returns false if the link is gone,
// the channel is not active or the SDU is too large.
func (c *Channel) Send(sdu []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.link == nil {
		return false
	}
	if !c.active {
		return false
	}
	return c.txEngine.QueueSDU(sdu)
}

// UpgradeSecurity asks the link to reach level. cb runs on d with the
// outcome.
func (c *Channel) UpgradeSecurity(level sm.SecurityLevel, cb func(error), d dispatch.Dispatcher) {
	c.mu.Lock()
	link, active := c.link, c.active
	c.mu.Unlock()

	if link == nil || !active {
		return
	}
	link.post(func() { link.upgradeSecurity(level, cb, d) })
}

// HandleRxPdu runs on the link dispatcher.
func (c *Channel) HandleRxPdu(p PDU) {
	c.mu.Lock()
	// A PDU may arrive after Deactivate but before the link removed us.
	if c.link == nil || c.rxEngine == nil {
		c.mu.Unlock()
		return
	}

	sdus := c.rxEngine.ProcessPDU(p)
	if len(sdus) == 0 {
		c.mu.Unlock()
		return
	}
	if !c.active {
		dropped := 0
		for _, sdu := range sdus {
			if len(c.pending) >= maxPendingSDUs {
				dropped++
				continue
			}
			c.pending = append(c.pending, sdu)
		}
		link := c.link
		c.mu.Unlock()
		if dropped > 0 {
			link.log.Warnf("l2cap: channel 0x%04X not active, dropped %d SDUs", c.id, dropped)
		}
		return
	}

	rx, d := c.rx, c.d
	deliver := func() {
		for _, sdu := range sdus {
			rx(sdu)
		}
	}
	if d != nil {
		d.Post(deliver)
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()
	deliver()
}

// onClosed runs on the link dispatcher when the link goes away. The closed
// callback runs once on the owner's dispatcher.
func (c *Channel) onClosed() {
	c.mu.Lock()
	if c.link == nil || !c.active {
		c.link = nil
		c.stopEngines()
		c.mu.Unlock()
		return
	}
	d, closed := c.d, c.closed
	c.reset()
	c.mu.Unlock()

	if closed != nil {
		dispatch.RunOrPost(closed, d)
	}
}

func (c *Channel) reset() {
	c.stopEngines()
	c.link = nil
	c.active = false
	c.d = nil
	c.rx = nil
	c.closed = nil
	c.rxEngine = nil
	c.txEngine = nil
	c.pending = nil
}

func (c *Channel) stopEngines() {
	if tx, ok := c.txEngine.(*ertmTxEngine); ok {
		tx.stop()
	}
}
