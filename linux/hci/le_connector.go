package hci

import (
	"time"

	"github.com/pkg/errors"
	"github.com/rigado/bthost"
	"github.com/rigado/bthost/dispatch"
	"github.com/rigado/bthost/linux/hci/cmd"
	"github.com/rigado/bthost/linux/hci/evt"
)

// ErrCreateConnectionTimeout is reported when LE Create Connection was
// canceled because the request timed out.
var ErrCreateConnectionTimeout = errors.New("hci: create connection timed out")

// ErrCreateConnectionCanceled is reported when the request was canceled by
// the host.
var ErrCreateConnectionCanceled = errors.New("hci: create connection canceled")

// ConnectResultFunc receives the outcome of a create connection request.
type ConnectResultFunc func(err error, c *Connection)

type pendingConnect struct {
	peer       bthost.DeviceAddress
	cb         ConnectResultFunc
	timeout    dispatch.Task
	timedOut   bool
	canceled   bool
	cancelSent bool
}

// LowEnergyConnector drives LE Create Connection as central, one request at
// a time. LE Connection Complete events that do not answer the request are
// handed to the incoming link handler.
type LowEnergyConnector struct {
	t    Transport
	d    dispatch.Dispatcher
	log  bthost.Logger
	live *dispatch.Liveness

	localAddr bthost.DeviceAddress
	incoming  func(*Connection)
	pending   *pendingConnect

	connComplete EventHandlerID
}

// NewLowEnergyConnector returns a connector. incoming receives links the
// remote side initiated; it runs on d.
func NewLowEnergyConnector(t Transport, d dispatch.Dispatcher, local bthost.DeviceAddress, incoming func(*Connection)) *LowEnergyConnector {
	c := &LowEnergyConnector{
		t:         t,
		d:         d,
		log:       bthost.ComponentLogger("hci-le-connector"),
		live:      dispatch.NewLiveness(),
		localAddr: local,
		incoming:  incoming,
	}
	c.connComplete = t.AddLEMetaEventHandler(LEConnectionCompleteSubevent, c.handleConnectionComplete)
	return c
}

// Close cancels the pending request and stops handling events.
func (c *LowEnergyConnector) Close() {
	c.Cancel()
	c.t.RemoveEventHandler(c.connComplete)
	c.live.Invalidate()
}

// RequestPending reports whether a create connection is in flight.
func (c *LowEnergyConnector) RequestPending() bool {
	return c.pending != nil
}

// CreateConnection starts connecting to peer. It returns false if a request
// is already pending. cb runs exactly once on the connector's dispatcher.
func (c *LowEnergyConnector) CreateConnection(peer bthost.DeviceAddress, params LEPreferredConnectionParameters, timeout time.Duration, cb ConnectResultFunc) bool {
	if c.pending != nil {
		return false
	}
	if err := params.Validate(); err != nil {
		c.d.Post(func() { cb(errors.Wrap(err, "hci: connection parameters"), nil) })
		return true
	}

	p := &pendingConnect{peer: peer, cb: cb}
	c.pending = p

	m := newCreateConnection(peer.HCIAddrType(), peer.Value, c.localAddr.HCIAddrType(), params)
	c.t.SendAsyncCommand(&m, func(_ TransactionID, e Event) {
		if !c.live.Alive() || c.pending != p {
			return
		}
		if err := e.Err(); err != nil {
			c.log.Debugf("hci: LE create connection to %s failed: %v", peer, err)
			c.finish(err, nil)
			return
		}
		p.timeout = c.d.PostDelayed(timeout, func() {
			if c.live.Alive() && c.pending == p {
				p.timedOut = true
				c.cancelCreate(p)
			}
		})
	}, CompletesOn(CommandStatusEvent))
	return true
}

// Cancel aborts the pending request; its callback receives
// ErrCreateConnectionCanceled once the controller confirms.
func (c *LowEnergyConnector) Cancel() {
	p := c.pending
	if p == nil {
		return
	}
	p.canceled = true
	c.cancelCreate(p)
}

func (c *LowEnergyConnector) cancelCreate(p *pendingConnect) {
	if p.cancelSent {
		return
	}
	p.cancelSent = true
	if p.timeout != nil {
		p.timeout.Cancel()
	}
	c.t.SendCommand(&cmd.LECreateConnectionCancel{}, func(_ TransactionID, e Event) {
		if err := e.Err(); err != nil {
			// Command disallowed: the connection completed meanwhile, and its
			// LE Connection Complete resolves the request.
			c.log.Debugf("hci: LE create connection cancel: %v", err)
		}
	})
}

func (c *LowEnergyConnector) finish(err error, conn *Connection) {
	p := c.pending
	c.pending = nil
	if p.timeout != nil {
		p.timeout.Cancel()
	}
	p.cb(err, conn)
}

func (c *LowEnergyConnector) handleConnectionComplete(e Event) {
	ev := evt.LEConnectionComplete(e.Params)
	status, err := ev.StatusWErr()
	if err != nil {
		c.log.Warnf("hci: malformed LE connection complete: % X", e.Params)
		return
	}
	addr, err := ev.PeerAddressWErr()
	if err != nil {
		c.log.Warnf("hci: malformed LE connection complete: % X", e.Params)
		return
	}
	peer := bthost.NewAddr(bthost.LEAddrTypeFromHCI(ev.PeerAddressType()), addr)

	p := c.pending
	if status != 0x00 {
		if p == nil {
			c.log.Warnf("hci: connection failed: % X", e.Params)
			return
		}
		switch {
		case p.timedOut:
			c.finish(ErrCreateConnectionTimeout, nil)
		case p.canceled:
			c.finish(ErrCreateConnectionCanceled, nil)
		default:
			c.finish(ErrCommand(status), nil)
		}
		return
	}

	conn := NewLEConnection(c.t, ev.ConnectionHandle(), ev.Role(), c.localAddr, peer, LEConnectionParameters{
		Interval:           ev.ConnInterval(),
		Latency:            ev.ConnLatency(),
		SupervisionTimeout: ev.SupervisionTimeout(),
	})
	c.log.Debugf("hci: connection complete 0x%04X: addr %s, role %d", conn.Handle(), peer, conn.Role())

	if p != nil && conn.Role() == RoleMaster && p.peer.Value == peer.Value {
		c.finish(nil, conn)
		return
	}
	if c.incoming == nil {
		conn.Disconnect(ErrRemoteUser)
		return
	}
	c.incoming(conn)
}
