package l2cap

import (
	"sync"

	"github.com/pkg/errors"
	"github.com/rigado/bthost"
	"github.com/rigado/bthost/dispatch"
	"github.com/rigado/bthost/linux/hci"
	"github.com/rigado/bthost/sm"
)

// maxPendingPackets bounds the data buffered for a handle whose connection
// complete event has not been processed yet.
const maxPendingPackets = 32

// ACLDataChannel is implemented by *hci.ACLDataChannel.
type ACLDataChannel interface {
	aclSender
	SetDataRxHandler(h func(hci.ACLPacket), d dispatch.Dispatcher)
	RegisterLink(handle uint16, t hci.LinkType)
	UnregisterLink(handle uint16)
}

// ChannelManager owns the logical links of a controller and routes inbound
// ACL data to them. Links share the manager's dispatcher.
type ChannelManager struct {
	acl ACLDataChannel
	d   dispatch.Dispatcher
	log bthost.Logger

	mu      sync.Mutex
	links   map[uint16]*LogicalLink
	pending map[uint16][]hci.ACLPacket
}

func NewChannelManager(acl ACLDataChannel, d dispatch.Dispatcher) *ChannelManager {
	m := &ChannelManager{
		acl:     acl,
		d:       d,
		log:     bthost.ComponentLogger("l2cap"),
		links:   make(map[uint16]*LogicalLink),
		pending: make(map[uint16][]hci.ACLPacket),
	}
	acl.SetDataRxHandler(m.handleACLData, d)
	return m
}

// RegisterLE creates the logical link of a new LE connection.
func (m *ChannelManager) RegisterLE(handle uint16, role uint8, cbs LinkCallbacks) (*LogicalLink, error) {
	return m.register(handle, hci.LinkLE, role, cbs)
}

// RegisterACL creates the logical link of a new BR/EDR connection.
func (m *ChannelManager) RegisterACL(handle uint16, role uint8, cbs LinkCallbacks) (*LogicalLink, error) {
	return m.register(handle, hci.LinkACL, role, cbs)
}

func (m *ChannelManager) register(handle uint16, t hci.LinkType, role uint8, cbs LinkCallbacks) (*LogicalLink, error) {
	m.mu.Lock()
	if _, ok := m.links[handle]; ok {
		m.mu.Unlock()
		return nil, errors.Wrapf(ErrLinkExists, "0x%04X", handle)
	}
	m.acl.RegisterLink(handle, t)
	l := NewLogicalLink(handle, t, role, m.acl, m.d, cbs)
	m.links[handle] = l
	early := m.pending[handle]
	delete(m.pending, handle)
	m.mu.Unlock()

	m.log.Debugf("l2cap: registered %v link 0x%04X", t, handle)
	for _, p := range early {
		l.HandleACLPacket(p)
	}
	return l, nil
}

// Unregister closes the link on handle. Its channels get their closed
// callbacks.
func (m *ChannelManager) Unregister(handle uint16) {
	m.mu.Lock()
	l, ok := m.links[handle]
	delete(m.links, handle)
	delete(m.pending, handle)
	m.mu.Unlock()

	if !ok {
		return
	}
	m.acl.UnregisterLink(handle)
	l.Close()
}

// Link returns the logical link on handle.
func (m *ChannelManager) Link(handle uint16) (*LogicalLink, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.links[handle]
	return l, ok
}

// OpenFixedChannel opens a fixed channel on the link with handle.
func (m *ChannelManager) OpenFixedChannel(handle, id uint16) (*Channel, error) {
	l, ok := m.Link(handle)
	if !ok {
		return nil, errors.Wrapf(ErrUnknownLink, "0x%04X", handle)
	}
	return l.OpenFixedChannel(id)
}

// AssignLinkSecurityProperties records the security of the link on handle.
func (m *ChannelManager) AssignLinkSecurityProperties(handle uint16, p sm.SecurityProperties) {
	if l, ok := m.Link(handle); ok {
		l.AssignSecurityProperties(p)
	}
}

// RequestConnectionParameterUpdate asks the central for new parameters over
// L2CAP. cb runs on the manager's dispatcher.
func (m *ChannelManager) RequestConnectionParameterUpdate(handle uint16, p hci.LEPreferredConnectionParameters, cb ConnectionParameterUpdateResultFunc) {
	l, ok := m.Link(handle)
	if !ok {
		cb(false, errors.Wrapf(ErrUnknownLink, "0x%04X", handle))
		return
	}
	l.RequestConnectionParameterUpdate(p, cb)
}

func (m *ChannelManager) handleACLData(p hci.ACLPacket) {
	h := p.Handle()

	m.mu.Lock()
	l, ok := m.links[h]
	if !ok {
		// The data may overtake the connection complete event.
		if len(m.pending[h]) < maxPendingPackets {
			m.pending[h] = append(m.pending[h], p)
		} else {
			m.log.Warnf("l2cap: dropping data for unknown handle 0x%04X", h)
		}
	}
	m.mu.Unlock()

	if ok {
		l.HandleACLPacket(p)
	}
}
