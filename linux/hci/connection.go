package hci

import (
	"sync"

	"github.com/rigado/bthost"
	"github.com/rigado/bthost/linux/hci/cmd"
	"github.com/rigado/bthost/linux/hci/evt"
)

// Connection is one established ACL or LE link identified by its handle.
type Connection struct {
	sync.Mutex

	handle    uint16
	role      uint8
	linkType  LinkType
	localAddr bthost.DeviceAddress
	peerAddr  bthost.DeviceAddress
	params    LEConnectionParameters

	t      Transport
	closed bool

	encryptionChange EventHandlerID
	ltkRequest       EventHandlerID
	onEncryption     func(error, bool)
	ltk              *linkKey
}

type linkKey struct {
	key  [16]byte
	rand uint64
	ediv uint16
}

// NewLEConnection returns a link created from an LE Connection Complete.
func NewLEConnection(t Transport, handle uint16, role uint8, local, peer bthost.DeviceAddress, params LEConnectionParameters) *Connection {
	c := &Connection{
		handle:    handle,
		role:      role,
		linkType:  LinkLE,
		localAddr: local,
		peerAddr:  peer,
		params:    params,
		t:         t,
	}
	c.encryptionChange = t.AddEventHandler(EncryptionChangeEvent, c.handleEncryptionChange)
	c.ltkRequest = t.AddLEMetaEventHandler(LELongTermKeyRequestSubevent, c.handleLTKRequest)
	return c
}

func (c *Connection) Handle() uint16                  { return c.handle }
func (c *Connection) Role() uint8                     { return c.role }
func (c *Connection) LinkType() LinkType              { return c.linkType }
func (c *Connection) LocalAddr() bthost.DeviceAddress { return c.localAddr }
func (c *Connection) PeerAddr() bthost.DeviceAddress  { return c.peerAddr }

func (c *Connection) Params() LEConnectionParameters {
	c.Lock()
	defer c.Unlock()
	return c.params
}

func (c *Connection) SetParams(p LEConnectionParameters) {
	c.Lock()
	defer c.Unlock()
	c.params = p
}

// Closed reports whether the link was disconnected.
func (c *Connection) Closed() bool {
	c.Lock()
	defer c.Unlock()
	return c.closed
}

// MarkClosed records that the controller already tore the link down, so
// that Disconnect becomes a no-op.
func (c *Connection) MarkClosed() {
	c.Lock()
	first := !c.closed
	c.closed = true
	c.Unlock()

	if first {
		c.removeHandlers()
	}
}

// Disconnect sends HCI Disconnect with reason unless the link is already
// closed. It returns false if nothing was sent.
func (c *Connection) Disconnect(reason ErrCommand) bool {
	c.Lock()
	if c.closed {
		c.Unlock()
		return false
	}
	c.closed = true
	c.Unlock()

	c.removeHandlers()
	log := bthost.ComponentLogger("hci")
	handle := c.handle
	c.t.SendAsyncCommand(&cmd.Disconnect{ConnectionHandle: handle, Reason: uint8(reason)}, func(_ TransactionID, e Event) {
		if err := e.Err(); err != nil {
			log.Warnf("hci: disconnect 0x%04X failed: %v", handle, err)
		}
	}, CompletesOn(CommandStatusEvent))
	return true
}

// SetEncryptionChangeCallback sets the receiver of Encryption Change events
// for this link.
func (c *Connection) SetEncryptionChangeCallback(cb func(err error, enabled bool)) {
	c.Lock()
	defer c.Unlock()
	c.onEncryption = cb
}

// StartEncryption starts LE link encryption with the given key. The outcome
// arrives through the encryption change callback.
func (c *Connection) StartEncryption(ltk [16]byte, rand uint64, ediv uint16) bool {
	if c.linkType != LinkLE || c.Closed() {
		return false
	}

	m := &cmd.LEStartEncryption{
		ConnectionHandle:     c.handle,
		RandomNumber:         rand,
		EncryptedDiversifier: ediv,
		LongTermKey:          ltk,
	}
	c.t.SendAsyncCommand(m, func(_ TransactionID, e Event) {
		if err := e.Err(); err != nil {
			c.notifyEncryption(err, false)
		}
	}, CompletesOn(CommandStatusEvent))
	return true
}

// SetLTK sets the key handed to the controller when the central starts
// encryption on this link.
func (c *Connection) SetLTK(ltk [16]byte, rand uint64, ediv uint16) {
	c.Lock()
	defer c.Unlock()
	c.ltk = &linkKey{key: ltk, rand: rand, ediv: ediv}
}

func (c *Connection) removeHandlers() {
	c.t.RemoveEventHandler(c.encryptionChange)
	c.t.RemoveEventHandler(c.ltkRequest)
}

func (c *Connection) handleLTKRequest(e Event) {
	req := evt.LELongTermKeyRequest(e.Params)
	if len(req) < 13 || req.ConnectionHandle() != c.handle {
		return
	}

	c.Lock()
	k := c.ltk
	c.Unlock()

	log := bthost.ComponentLogger("hci")
	done := func(_ TransactionID, e Event) {
		if err := e.Err(); err != nil {
			log.Warnf("hci: LTK reply on 0x%04X failed: %v", c.handle, err)
		}
	}
	if k == nil || k.rand != req.RandomNumber() || k.ediv != req.EncryptedDiversifier() {
		log.Debugf("hci: no LTK for 0x%04X", c.handle)
		c.t.SendAsyncCommand(&cmd.LELongTermKeyRequestNegativeReply{ConnectionHandle: c.handle}, done, CompletesOn(CommandCompleteEvent))
		return
	}
	c.t.SendAsyncCommand(&cmd.LELongTermKeyRequestReply{ConnectionHandle: c.handle, LongTermKey: k.key}, done, CompletesOn(CommandCompleteEvent))
}

func (c *Connection) handleEncryptionChange(e Event) {
	if len(e.Params) < 4 {
		return
	}
	if uint16(e.Params[1])|uint16(e.Params[2]&0x0f)<<8 != c.handle {
		return
	}
	c.notifyEncryption(StatusError(e.Params[0]), e.Params[3] != 0)
}

func (c *Connection) notifyEncryption(err error, enabled bool) {
	c.Lock()
	cb := c.onEncryption
	c.Unlock()
	if cb != nil {
		cb(err, enabled)
	}
}
