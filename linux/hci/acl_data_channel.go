package hci

import (
	"fmt"
	"io"
	"sync"

	"github.com/pkg/errors"
	"github.com/rigado/bthost"
	"github.com/rigado/bthost/dispatch"
	"github.com/rigado/bthost/linux/hci/evt"
)

// DataBufferInfo describes the controller's ACL data buffers.
type DataBufferInfo struct {
	MaxDataLength int
	MaxNumPackets int
}

func (i DataBufferInfo) available() bool {
	return i.MaxDataLength > 0 && i.MaxNumPackets > 0
}

// Priority orders packets in the send queue.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityHigh
)

type queuedPacket struct {
	p        ACLPacket
	linkType LinkType
	priority Priority
}

// ACLDataChannel implements Host to Controller Data Flow Control
// (packet-based) [Vol 2, Part E, 4.1.1]. Packets are queued until the
// controller has a free buffer for their logical transport; buffers are
// returned by Number Of Completed Packets.
type ACLDataChannel struct {
	sync.Mutex

	w   io.Writer
	log bthost.Logger

	bredr DataBufferInfo
	le    DataBufferInfo

	queue   []queuedPacket
	links   map[uint16]LinkType
	pending map[uint16]int

	numSentBREDR int
	numSentLE    int

	rx   func(ACLPacket)
	rxd  dispatch.Dispatcher
	nocp EventHandlerID
	t    Transport
}

// NewACLDataChannel returns a data channel writing to w. When the controller
// reports no dedicated LE buffers, LE traffic shares the BR/EDR buffers.
func NewACLDataChannel(t Transport, w io.Writer, bredr, le DataBufferInfo) (*ACLDataChannel, error) {
	if !bredr.available() && !le.available() {
		return nil, errors.New("hci: controller reports no ACL data buffers")
	}
	c := &ACLDataChannel{
		w:       w,
		log:     bthost.ComponentLogger("hci-acl"),
		bredr:   bredr,
		le:      le,
		links:   make(map[uint16]LinkType),
		pending: make(map[uint16]int),
		t:       t,
	}
	c.nocp = t.AddEventHandler(NumberOfCompletedPacketsEvent, c.handleNumberOfCompletedPackets)
	return c, nil
}

// Close stops buffer accounting and drops queued packets.
func (c *ACLDataChannel) Close() {
	c.t.RemoveEventHandler(c.nocp)
	c.Lock()
	c.queue = nil
	c.links = make(map[uint16]LinkType)
	c.pending = make(map[uint16]int)
	c.Unlock()
}

// SetDataRxHandler sets the receiver of inbound ACL packets, run on d.
func (c *ACLDataChannel) SetDataRxHandler(h func(ACLPacket), d dispatch.Dispatcher) {
	c.Lock()
	defer c.Unlock()
	c.rx, c.rxd = h, d
}

// BufferInfo returns the buffers used for the given transport.
func (c *ACLDataChannel) BufferInfo(t LinkType) DataBufferInfo {
	if t == LinkLE && c.le.available() {
		return c.le
	}
	return c.bredr
}

// MaxDataLength returns the largest ACL payload for the given transport.
func (c *ACLDataChannel) MaxDataLength(t LinkType) int {
	return c.BufferInfo(t).MaxDataLength
}

func (c *ACLDataChannel) RegisterLink(handle uint16, t LinkType) {
	c.Lock()
	defer c.Unlock()
	c.links[handle] = t
}

// UnregisterLink forgets handle and drops its queued packets. Buffers
// occupied by its sent packets are recycled [Vol 2, Part E, 4.3].
func (c *ACLDataChannel) UnregisterLink(handle uint16) {
	c.Lock()
	t, ok := c.links[handle]
	if !ok {
		c.Unlock()
		return
	}
	delete(c.links, handle)

	remaining := c.queue[:0]
	for _, q := range c.queue {
		if q.p.Handle() != handle {
			remaining = append(remaining, q)
		}
	}
	c.queue = remaining

	n := c.pending[handle]
	delete(c.pending, handle)
	c.decrementSentLocked(t, n)
	c.Unlock()

	c.trySend()
}

// SendPacket queues p for transmission. It returns false if the handle is
// not registered or the packet exceeds the controller buffer size.
func (c *ACLDataChannel) SendPacket(p ACLPacket, pri Priority) bool {
	return c.SendPackets([]ACLPacket{p}, pri)
}

// SendPackets queues the fragments of one PDU. The fragments stay
// contiguous in the queue.
func (c *ACLDataChannel) SendPackets(pp []ACLPacket, pri Priority) bool {
	if len(pp) == 0 {
		return true
	}

	c.Lock()
	t, ok := c.links[pp[0].Handle()]
	if !ok {
		c.Unlock()
		c.log.Debugf("hci: dropping packet for unregistered handle 0x%04X", pp[0].Handle())
		return false
	}
	max := c.BufferInfo(t).MaxDataLength
	for _, p := range pp {
		if !p.Valid() || len(p.Data()) > max {
			c.Unlock()
			c.log.Warnf("hci: packet too large for controller buffers (%d > %d)", len(p.Data()), max)
			return false
		}
	}

	qq := make([]queuedPacket, 0, len(pp))
	for _, p := range pp {
		qq = append(qq, queuedPacket{p: p, linkType: t, priority: pri})
	}
	if pri == PriorityHigh {
		// after other high priority packets, before any low priority one
		i := 0
		for i < len(c.queue) && c.queue[i].priority == PriorityHigh {
			i++
		}
		c.queue = append(c.queue[:i], append(qq, c.queue[i:]...)...)
	} else {
		c.queue = append(c.queue, qq...)
	}
	c.Unlock()

	c.trySend()
	return true
}

func (c *ACLDataChannel) freeLocked(t LinkType) int {
	if t == LinkLE && c.le.available() {
		return c.le.MaxNumPackets - c.numSentLE
	}
	return c.bredr.MaxNumPackets - c.numSentBREDR
}

func (c *ACLDataChannel) incrementSentLocked(t LinkType) {
	if t == LinkLE && c.le.available() {
		c.numSentLE++
		return
	}
	c.numSentBREDR++
}

func (c *ACLDataChannel) decrementSentLocked(t LinkType, n int) {
	if t == LinkLE && c.le.available() {
		c.numSentLE -= n
		if c.numSentLE < 0 {
			c.numSentLE = 0
		}
		return
	}
	c.numSentBREDR -= n
	if c.numSentBREDR < 0 {
		c.numSentBREDR = 0
	}
}

func (c *ACLDataChannel) trySend() {
	c.Lock()
	defer c.Unlock()

	remaining := c.queue[:0]
	for i, q := range c.queue {
		if c.freeLocked(q.linkType) <= 0 {
			remaining = append(remaining, q)
			continue
		}
		b := make([]byte, 1+len(q.p))
		b[0] = PktTypeACLData
		copy(b[1:], q.p)
		if _, err := c.w.Write(b); err != nil {
			c.log.Errorf("hci: failed to send ACL data: %v", err)
			remaining = append(remaining, c.queue[i:]...)
			break
		}
		c.incrementSentLocked(q.linkType)
		c.pending[q.p.Handle()]++
	}
	c.queue = remaining
}

func (c *ACLDataChannel) handleNumberOfCompletedPackets(e Event) {
	ev := evt.NumberOfCompletedPackets(e.Params)
	n, err := ev.NumberOfHandlesWErr()
	if err != nil {
		c.log.Warnf("hci: malformed number of completed packets: % X", e.Params)
		return
	}

	c.Lock()
	for i := 0; i < int(n); i++ {
		h, err := ev.ConnectionHandleWErr(i)
		if err != nil {
			break
		}
		cnt, err := ev.HCNumOfCompletedPacketsWErr(i)
		if err != nil {
			break
		}
		t, ok := c.links[h]
		if !ok {
			continue
		}
		done := int(cnt)
		if done > c.pending[h] {
			c.log.Warnf("hci: controller completed %d packets on 0x%04X, %d pending", done, h, c.pending[h])
			done = c.pending[h]
		}
		c.pending[h] -= done
		c.decrementSentLocked(t, done)
	}
	c.Unlock()

	c.trySend()
}

// HandlePacket validates one inbound ACL packet (without the packet type
// indicator) and hands it to the rx handler.
func (c *ACLDataChannel) HandlePacket(b []byte) error {
	p := ACLPacket(b)
	if !p.Valid() {
		return fmt.Errorf("invalid ACL packet: % X", b)
	}

	c.Lock()
	rx, d := c.rx, c.rxd
	c.Unlock()

	if rx == nil {
		c.log.Debugf("hci: no rx handler, dropping ACL packet for 0x%04X", p.Handle())
		return nil
	}
	cp := make(ACLPacket, len(p))
	copy(cp, p)
	dispatch.RunOrPost(func() { rx(cp) }, d)
	return nil
}

// PendingPackets returns the number of packets sent on handle that the
// controller has not completed yet.
func (c *ACLDataChannel) PendingPackets(handle uint16) int {
	c.Lock()
	defer c.Unlock()
	return c.pending[handle]
}

// QueuedPackets returns the number of packets waiting for a free buffer.
func (c *ACLDataChannel) QueuedPackets() int {
	c.Lock()
	defer c.Unlock()
	return len(c.queue)
}
