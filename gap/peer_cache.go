package gap

import (
	"github.com/cskr/pubsub/v2"
	"github.com/pkg/errors"
	"github.com/puzpuzpuz/xsync/v3"
	"github.com/rigado/bthost"
	"github.com/rigado/bthost/sm"
	"go.uber.org/atomic"
)

const topicPeerUpdated = "peer-updated"

// subscriberCapacity bounds the notifications buffered per subscriber;
// updates beyond it are dropped for that subscriber.
const subscriberCapacity = 64

// PeerCache is the directory of known peers, indexed by identifier and by
// address.
type PeerCache struct {
	log bthost.Logger

	peers  *xsync.MapOf[bthost.PeerID, *Peer]
	byAddr *xsync.MapOf[bthost.DeviceAddress, bthost.PeerID]

	ps     *pubsub.PubSub[string, *Peer]
	closed *atomic.Bool
}

func NewPeerCache() *PeerCache {
	return &PeerCache{
		log:    bthost.ComponentLogger("gap-peers"),
		peers:  xsync.NewMapOf[bthost.PeerID, *Peer](),
		byAddr: xsync.NewMapOf[bthost.DeviceAddress, bthost.PeerID](),
		ps:     pubsub.New[string, *Peer](subscriberCapacity),
		closed: atomic.NewBool(false),
	}
}

// NewPeer adds a peer for addr. It returns nil if a peer with that address
// already exists.
func (c *PeerCache) NewPeer(addr bthost.DeviceAddress, connectable bool) *Peer {
	return c.insert(bthost.NewPeerID(), addr, connectable)
}

func (c *PeerCache) insert(id bthost.PeerID, addr bthost.DeviceAddress, connectable bool) *Peer {
	if _, ok := c.FindByAddress(addr); ok {
		return nil
	}
	p := newPeer(c, id, addr, connectable)
	if _, loaded := c.byAddr.LoadOrStore(addr, id); loaded {
		return nil
	}
	c.peers.Store(id, p)
	c.log.Debugf("new %s", p)
	c.notifyUpdated(p)
	return p
}

// FindByAddress looks a peer up by address. BR/EDR and LE public addresses
// with the same value belong to the same dual mode peer.
func (c *PeerCache) FindByAddress(addr bthost.DeviceAddress) (*Peer, bool) {
	if p, ok := c.findExact(addr); ok {
		return p, true
	}
	switch addr.Type {
	case bthost.AddrTypeBREDR:
		return c.findExact(bthost.NewAddr(bthost.AddrTypeLEPublic, addr.Value))
	case bthost.AddrTypeLEPublic:
		return c.findExact(bthost.NewAddr(bthost.AddrTypeBREDR, addr.Value))
	}
	return nil, false
}

func (c *PeerCache) findExact(addr bthost.DeviceAddress) (*Peer, bool) {
	id, ok := c.byAddr.Load(addr)
	if !ok {
		return nil, false
	}
	return c.FindByID(id)
}

func (c *PeerCache) FindByID(id bthost.PeerID) (*Peer, bool) {
	return c.peers.Load(id)
}

// RemoveDisconnectedPeer forgets a peer. It returns false if the peer is
// connected; an unknown id counts as removed.
func (c *PeerCache) RemoveDisconnectedPeer(id bthost.PeerID) bool {
	p, ok := c.peers.Load(id)
	if !ok {
		return true
	}
	if p.Connected() {
		return false
	}
	c.peers.Delete(id)
	c.byAddr.Range(func(a bthost.DeviceAddress, pid bthost.PeerID) bool {
		if pid == id {
			c.byAddr.Delete(a)
		}
		return true
	})
	c.log.Debugf("removed %s", p)
	return true
}

// ForEach calls f for every peer until f returns false.
func (c *PeerCache) ForEach(f func(p *Peer) bool) {
	c.peers.Range(func(_ bthost.PeerID, p *Peer) bool {
		return f(p)
	})
}

func (c *PeerCache) Count() int {
	return c.peers.Size()
}

// Subscribe returns a channel receiving every updated peer, and a function
// to cancel the subscription.
func (c *PeerCache) Subscribe() (<-chan *Peer, func()) {
	ch := c.ps.Sub(topicPeerUpdated)
	return ch, func() {
		if !c.closed.Load() {
			c.ps.Unsub(ch, topicPeerUpdated)
		}
	}
}

// Close ends all subscriptions.
func (c *PeerCache) Close() {
	if c.closed.CompareAndSwap(false, true) {
		c.ps.Shutdown()
	}
}

func (c *PeerCache) notifyUpdated(p *Peer) {
	if c.closed.Load() {
		return
	}
	c.ps.TryPub(p, topicPeerUpdated)
}

// PeerRecord is the persistent form of a peer.
type PeerRecord struct {
	ID            string          `json:"id"`
	Address       string          `json:"address"`
	AddressType   bthost.AddrType `json:"address_type"`
	Connectable   bool            `json:"connectable"`
	Name          *string         `json:"name,omitempty"`
	Version       *Version        `json:"version,omitempty"`
	Features      *Features       `json:"features,omitempty"`
	ClassOfDevice *[3]byte        `json:"class_of_device,omitempty"`
	Bond          *sm.LTK         `json:"bond,omitempty"`
}

// Record returns the persistent form of p.
func (p *Peer) Record() PeerRecord {
	addr := p.Address()

	p.mu.RLock()
	defer p.mu.RUnlock()

	r := PeerRecord{
		ID:          p.id.String(),
		Address:     addr.String(),
		AddressType: addr.Type,
		Connectable: p.connectable,
		Version:     p.version,
	}
	if p.hasName {
		n := p.name
		r.Name = &n
	}
	if p.features.Valid[0] {
		f := p.features
		r.Features = &f
	}
	if p.bredr != nil {
		cod := p.bredr.ClassOfDevice
		r.ClassOfDevice = &cod
	}
	if p.le != nil && p.le.Bond != nil {
		b := *p.le.Bond
		r.Bond = &b
	}
	return r
}

// Restore adds a peer from its persistent form, keeping its identifier.
func (c *PeerCache) Restore(r PeerRecord) (*Peer, error) {
	id, err := bthost.ParsePeerID(r.ID)
	if err != nil {
		return nil, err
	}
	addr, err := bthost.ParseAddr(r.AddressType, r.Address)
	if err != nil {
		return nil, err
	}
	p := c.insert(id, addr, r.Connectable)
	if p == nil {
		return nil, errors.Wrapf(ErrAlreadyRegistered, "restore %s", addr)
	}

	p.mu.Lock()
	if r.Name != nil {
		p.name, p.hasName = *r.Name, true
	}
	if r.Version != nil {
		v := *r.Version
		p.version = &v
	}
	if r.Features != nil {
		p.features = *r.Features
	}
	if r.ClassOfDevice != nil && p.bredr != nil {
		p.bredr.ClassOfDevice = *r.ClassOfDevice
	}
	if r.Bond != nil {
		if p.le == nil {
			p.le = &LowEnergyData{Address: bthost.NewAddr(bthost.AddrTypeLEPublic, addr.Value)}
		}
		b := *r.Bond
		p.le.Bond = &b
	}
	p.mu.Unlock()
	return p, nil
}
