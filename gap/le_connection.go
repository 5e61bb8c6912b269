package gap

import (
	"github.com/google/uuid"
	"github.com/rigado/bthost"
	"github.com/rigado/bthost/l2cap"
	"github.com/rigado/bthost/linux/hci"
	"github.com/rigado/bthost/sm"
	"go.uber.org/atomic"
)

// ConnectionOptions apply to an LE connection request. When requests are
// coalesced the options of the first one win.
type ConnectionOptions struct {
	BondableMode sm.BondableMode

	// ServiceUUID restricts the service discovery run after connecting to
	// primary services of that type. nil discovers all services.
	ServiceUUID *uuid.UUID
}

// ConnectionResultFunc receives a reference to the connection, or the
// reason it could not be established.
type ConnectionResultFunc func(err error, ref *LowEnergyConnectionRef)

// GATT is the profile layer that takes over the ATT bearer of each link.
type GATT interface {
	AddConnection(peer bthost.PeerID, att *l2cap.Channel)
	RemoveConnection(peer bthost.PeerID)
	DiscoverServices(peer bthost.PeerID, svc *uuid.UUID)
}

// LowEnergyConnectionRef is a client's share of an LE link. The link is
// disconnected when its last reference is released.
type LowEnergyConnectionRef struct {
	active *atomic.Bool
	peer   bthost.PeerID
	handle uint16
	m      *LowEnergyConnectionManager

	closed func()
}

// Active reports whether the link is still up and the ref not released.
func (r *LowEnergyConnectionRef) Active() bool { return r.active.Load() }

func (r *LowEnergyConnectionRef) PeerID() bthost.PeerID { return r.peer }
func (r *LowEnergyConnectionRef) Handle() uint16        { return r.handle }

// SetClosedCallback sets f to run when the link goes away while the ref is
// active.
func (r *LowEnergyConnectionRef) SetClosedCallback(f func()) {
	r.closed = f
}

// BondableMode returns the mode of the underlying link.
func (r *LowEnergyConnectionRef) BondableMode() sm.BondableMode {
	if c, ok := r.m.connections[r.peer]; ok {
		return c.bondable
	}
	return sm.NonBondable
}

// Release drops the reference. It must be called on the manager's
// dispatcher.
func (r *LowEnergyConnectionRef) Release() {
	if r.active.CompareAndSwap(true, false) {
		r.m.releaseReference(r)
	}
}

func (r *LowEnergyConnectionRef) markClosed() {
	if r.active.CompareAndSwap(true, false) && r.closed != nil {
		r.closed()
	}
}

// lowEnergyConnection is the manager's state of one LE link.
type lowEnergyConnection struct {
	peer     bthost.PeerID
	link     *hci.Connection
	bondable sm.BondableMode
	opts     ConnectionOptions

	refs    map[*LowEnergyConnectionRef]struct{}
	pairing *sm.PairingState

	interrogated   bool
	gattRegistered bool
	waiters        []func()
}

func newLowEnergyConnection(peer bthost.PeerID, link *hci.Connection, opts ConnectionOptions) *lowEnergyConnection {
	return &lowEnergyConnection{
		peer:     peer,
		link:     link,
		bondable: opts.BondableMode,
		opts:     opts,
		refs:     make(map[*LowEnergyConnectionRef]struct{}),
	}
}

func (c *lowEnergyConnection) handle() uint16 { return c.link.Handle() }

// whenInterrogated runs f now, or once interrogation completed.
func (c *lowEnergyConnection) whenInterrogated(f func()) {
	if c.interrogated {
		f()
		return
	}
	c.waiters = append(c.waiters, f)
}

func (c *lowEnergyConnection) setInterrogated() {
	c.interrogated = true
	ww := c.waiters
	c.waiters = nil
	for _, f := range ww {
		f()
	}
}

// PendingRequestData coalesces the Connect calls for one peer behind a
// single connection attempt.
type PendingRequestData struct {
	addr      bthost.DeviceAddress
	opts      ConnectionOptions
	callbacks []ConnectionResultFunc
}

func newPendingRequestData(addr bthost.DeviceAddress, first ConnectionResultFunc, opts ConnectionOptions) *PendingRequestData {
	return &PendingRequestData{addr: addr, opts: opts, callbacks: []ConnectionResultFunc{first}}
}

func (r *PendingRequestData) Address() bthost.DeviceAddress { return r.addr }
func (r *PendingRequestData) Options() ConnectionOptions    { return r.opts }

func (r *PendingRequestData) AddCallback(cb ConnectionResultFunc) {
	r.callbacks = append(r.callbacks, cb)
}

// NotifyCallbacks resolves every caller with err, or with a fresh ref from
// newRef on success. newRef returns nil once the link is gone.
func (r *PendingRequestData) NotifyCallbacks(err error, newRef func() *LowEnergyConnectionRef) {
	cbs := r.callbacks
	r.callbacks = nil
	for _, cb := range cbs {
		if err != nil {
			cb(err, nil)
			continue
		}
		ref := newRef()
		if ref == nil {
			cb(ErrFailed, nil)
			continue
		}
		cb(nil, ref)
	}
}
