package l2cap

import (
	"encoding/binary"
	"time"

	"github.com/rigado/bthost/dispatch"
)

// Enhanced Control Field [Vol 3, Part A, 3.3.2].
type enhancedControl uint16

type sar uint8

const (
	sarUnsegmented  sar = 0x0
	sarStart        sar = 0x1
	sarEnd          sar = 0x2
	sarContinuation sar = 0x3
)

type supervisoryFunction uint8

const (
	supervisoryRR   supervisoryFunction = 0x0 // Receiver Ready
	supervisoryREJ  supervisoryFunction = 0x1 // Reject
	supervisoryRNR  supervisoryFunction = 0x2 // Receiver Not Ready
	supervisorySREJ supervisoryFunction = 0x3 // Selective Reject
)

const (
	seqMask       = 0x3f
	maxErtmWindow = 63
	controlSFrame = 0x0001
	controlPoll   = 0x0010
	controlFinal  = 0x0080
)

func (c enhancedControl) isSFrame() bool                { return c&controlSFrame != 0 }
func (c enhancedControl) txSeq() uint8                  { return uint8(c>>1) & seqMask }
func (c enhancedControl) reqSeq() uint8                 { return uint8(c>>8) & seqMask }
func (c enhancedControl) sar() sar                      { return sar(c >> 14) }
func (c enhancedControl) function() supervisoryFunction { return supervisoryFunction(c>>2) & 0x3 }
func (c enhancedControl) poll() bool                    { return c&controlPoll != 0 }
func (c enhancedControl) final() bool                   { return c&controlFinal != 0 }

func iFrameControl(txSeq, reqSeq uint8, s sar, final bool) enhancedControl {
	c := enhancedControl(txSeq&seqMask)<<1 | enhancedControl(reqSeq&seqMask)<<8 | enhancedControl(s)<<14
	if final {
		c |= controlFinal
	}
	return c
}

func sFrameControl(fn supervisoryFunction, reqSeq uint8, poll, final bool) enhancedControl {
	c := controlSFrame | enhancedControl(fn)<<2 | enhancedControl(reqSeq&seqMask)<<8
	if poll {
		c |= controlPoll
	}
	if final {
		c |= controlFinal
	}
	return c
}

func (c enhancedControl) frame(body []byte) []byte {
	b := make([]byte, controlLen+len(body))
	binary.LittleEndian.PutUint16(b, uint16(c))
	copy(b[controlLen:], body)
	return b
}

// seqDiff returns a-b modulo the sequence space.
func seqDiff(a, b uint8) uint8 { return (a - b) & seqMask }

type heldFrame struct {
	ctrl enhancedControl
	body []byte
}

// ertmRxEngine receives I-frames and S-frames. Out of sequence I-frames
// inside the window are held, the missing ones are requested with SREJ, and
// SDUs are released in TxSeq order.
type ertmRxEngine struct {
	send         sendFrameFunc
	window       uint8
	maxRxSDUSize int

	expectedTxSeq uint8
	held          map[uint8]heldFrame
	srejSent      map[uint8]bool
	remoteBusy    bool

	inSDU  bool
	sduLen int
	sdu    []byte

	// Linked to the TX engine. receiveSeq reports the ReqSeq (and F bit) of
	// received frames; ackSeq reports our next expected TxSeq.
	onReceiveSeq        func(reqSeq uint8, final bool)
	onAckSeq            func(seq uint8)
	onRemoteBusySet     func()
	onRemoteBusyCleared func()
	onSingleRetransmit  func(seq uint8, poll bool)
	onRangeRetransmit   func(poll bool)
}

func newErtmRxEngine(info ChannelInfo, send sendFrameFunc) *ertmRxEngine {
	w := info.NFramesInTxWindow
	if w == 0 || w > maxErtmWindow {
		w = maxErtmWindow
	}
	return &ertmRxEngine{
		send:                send,
		window:              w,
		maxRxSDUSize:        int(info.MaxRxSDUSize),
		held:                make(map[uint8]heldFrame),
		srejSent:            make(map[uint8]bool),
		onReceiveSeq:        func(uint8, bool) {},
		onAckSeq:            func(uint8) {},
		onRemoteBusySet:     func() {},
		onRemoteBusyCleared: func() {},
		onSingleRetransmit:  func(uint8, bool) {},
		onRangeRetransmit:   func(bool) {},
	}
}

func (e *ertmRxEngine) ProcessPDU(p PDU) [][]byte {
	if len(p) < basicHeaderLen+controlLen+fcsLen {
		return nil
	}
	end := len(p) - fcsLen
	if fcs(p[:end]) != binary.LittleEndian.Uint16(p[end:]) {
		return nil
	}
	ctrl := enhancedControl(binary.LittleEndian.Uint16(p[basicHeaderLen:]))
	body := p[basicHeaderLen+controlLen : end]

	if ctrl.isSFrame() {
		e.processSFrame(ctrl)
		return nil
	}
	return e.processIFrame(ctrl, body)
}

func (e *ertmRxEngine) processSFrame(ctrl enhancedControl) {
	switch ctrl.function() {
	case supervisoryRR:
		e.onReceiveSeq(ctrl.reqSeq(), ctrl.final())
		if e.remoteBusy {
			e.remoteBusy = false
			e.onRemoteBusyCleared()
		}
	case supervisoryRNR:
		e.remoteBusy = true
		e.onRemoteBusySet()
		e.onReceiveSeq(ctrl.reqSeq(), ctrl.final())
	case supervisoryREJ:
		e.onReceiveSeq(ctrl.reqSeq(), ctrl.final())
		e.onRangeRetransmit(ctrl.poll())
		return
	case supervisorySREJ:
		if ctrl.poll() {
			e.onReceiveSeq(ctrl.reqSeq(), ctrl.final())
		}
		e.onSingleRetransmit(ctrl.reqSeq(), ctrl.poll())
		return
	}

	if ctrl.poll() {
		e.send(sFrameControl(supervisoryRR, e.expectedTxSeq, false, true).frame(nil))
	}
}

func (e *ertmRxEngine) processIFrame(ctrl enhancedControl, body []byte) [][]byte {
	e.onReceiveSeq(ctrl.reqSeq(), ctrl.final())

	txSeq := ctrl.txSeq()
	d := seqDiff(txSeq, e.expectedTxSeq)
	if d != 0 {
		if _, dup := e.held[txSeq]; dup || d >= e.window {
			return nil
		}
		e.held[txSeq] = heldFrame{ctrl: ctrl, body: append([]byte(nil), body...)}
		for s := e.expectedTxSeq; s != txSeq; s = (s + 1) & seqMask {
			if _, ok := e.held[s]; ok || e.srejSent[s] {
				continue
			}
			e.srejSent[s] = true
			e.send(sFrameControl(supervisorySREJ, s, false, false).frame(nil))
		}
		return nil
	}

	var sdus [][]byte
	if sdu := e.reassemble(ctrl.sar(), body); sdu != nil {
		sdus = append(sdus, sdu)
	}
	e.advance()
	for {
		f, ok := e.held[e.expectedTxSeq]
		if !ok {
			break
		}
		delete(e.held, e.expectedTxSeq)
		if sdu := e.reassemble(f.ctrl.sar(), f.body); sdu != nil {
			sdus = append(sdus, sdu)
		}
		e.advance()
	}

	e.onAckSeq(e.expectedTxSeq)
	e.send(sFrameControl(supervisoryRR, e.expectedTxSeq, false, false).frame(nil))
	return sdus
}

func (e *ertmRxEngine) advance() {
	delete(e.srejSent, e.expectedTxSeq)
	e.expectedTxSeq = (e.expectedTxSeq + 1) & seqMask
}

// reassemble applies SAR [Vol 3, Part A, 3.3.2]. It returns a complete SDU
// or nil.
func (e *ertmRxEngine) reassemble(s sar, body []byte) []byte {
	switch s {
	case sarUnsegmented:
		e.inSDU = false
		return append([]byte(nil), body...)

	case sarStart:
		if len(body) < sduLenLen {
			e.inSDU = false
			return nil
		}
		e.sduLen = int(binary.LittleEndian.Uint16(body))
		if e.maxRxSDUSize > 0 && e.sduLen > e.maxRxSDUSize {
			e.inSDU = false
			return nil
		}
		e.inSDU = true
		e.sdu = append(make([]byte, 0, e.sduLen), body[sduLenLen:]...)
		return nil
	}

	if !e.inSDU {
		return nil
	}
	e.sdu = append(e.sdu, body...)
	if len(e.sdu) > e.sduLen {
		e.inSDU = false
		return nil
	}
	if s == sarContinuation {
		return nil
	}

	e.inSDU = false
	if len(e.sdu) != e.sduLen {
		return nil
	}
	return e.sdu
}

type ertmTxFrame struct {
	txSeq         uint8
	sar           sar
	body          []byte
	transmissions int
}

// ertmTxEngine segments SDUs into I-frames and keeps the unacknowledged
// ones for retransmission.
type ertmTxEngine struct {
	maxTxSDUSize     int
	mps              int
	maxTransmissions int
	window           int

	send      sendFrameFunc
	schedule  func(time.Duration, func()) dispatch.Task
	onFailure func()

	nextTxSeq      uint8
	expectedAckSeq uint8
	reqSeq         uint8
	remoteBusy     bool
	failed         bool

	queue   []*ertmTxFrame
	unacked []*ertmTxFrame

	retransmitTask dispatch.Task
	monitorTask    dispatch.Task
	pollsSent      int
}

func newErtmTxEngine(info ChannelInfo, send sendFrameFunc, schedule func(time.Duration, func()) dispatch.Task, onFailure func()) *ertmTxEngine {
	w := int(info.NFramesInTxWindow)
	if w == 0 || w > maxErtmWindow {
		w = maxErtmWindow
	}
	mps := int(info.MaxTxPDUPayload)
	if mps <= sduLenLen {
		mps = int(info.MaxTxSDUSize)
	}
	return &ertmTxEngine{
		maxTxSDUSize:     int(info.MaxTxSDUSize),
		mps:              mps,
		maxTransmissions: int(info.MaxTransmissions),
		window:           w,
		send:             send,
		schedule:         schedule,
		onFailure:        onFailure,
	}
}

// newLinkedErtmEngines returns RX and TX engines sharing one channel's
// sequence state. Our acknowledgment sequence follows the peer's transmit
// sequence and vice versa, hence the crossed wiring.
func newLinkedErtmEngines(info ChannelInfo, send sendFrameFunc, schedule func(time.Duration, func()) dispatch.Task, onFailure func()) (*ertmRxEngine, *ertmTxEngine) {
	rx := newErtmRxEngine(info, send)
	tx := newErtmTxEngine(info, send, schedule, onFailure)

	rx.onReceiveSeq = tx.UpdateAckSeq
	rx.onAckSeq = tx.UpdateReqSeq
	rx.onRemoteBusySet = tx.SetRemoteBusy
	rx.onRemoteBusyCleared = tx.ClearRemoteBusy
	rx.onSingleRetransmit = tx.SetSingleRetransmit
	rx.onRangeRetransmit = tx.SetRangeRetransmit
	return rx, tx
}

func (t *ertmTxEngine) QueueSDU(sdu []byte) bool {
	if t.failed || len(sdu) > t.maxTxSDUSize {
		return false
	}

	if len(sdu) <= t.mps {
		t.queue = append(t.queue, &ertmTxFrame{sar: sarUnsegmented, body: append([]byte(nil), sdu...)})
	} else {
		n := t.mps - sduLenLen
		start := make([]byte, sduLenLen, sduLenLen+n)
		binary.LittleEndian.PutUint16(start, uint16(len(sdu)))
		start = append(start, sdu[:n]...)
		t.queue = append(t.queue, &ertmTxFrame{sar: sarStart, body: start})

		rest := sdu[n:]
		for len(rest) > t.mps {
			t.queue = append(t.queue, &ertmTxFrame{sar: sarContinuation, body: append([]byte(nil), rest[:t.mps]...)})
			rest = rest[t.mps:]
		}
		t.queue = append(t.queue, &ertmTxFrame{sar: sarEnd, body: append([]byte(nil), rest...)})
	}

	t.trySend()
	return true
}

func (t *ertmTxEngine) trySend() {
	for !t.failed && !t.remoteBusy && t.monitorTask == nil && len(t.queue) > 0 && len(t.unacked) < t.window {
		f := t.queue[0]
		t.queue = t.queue[1:]
		f.txSeq = t.nextTxSeq
		t.nextTxSeq = (t.nextTxSeq + 1) & seqMask
		t.unacked = append(t.unacked, f)
		t.transmit(f, false)
	}
	if len(t.unacked) > 0 && t.retransmitTask == nil && t.monitorTask == nil && !t.remoteBusy && !t.failed {
		t.startRetransmitTimer()
	}
}

func (t *ertmTxEngine) transmit(f *ertmTxFrame, final bool) {
	f.transmissions++
	t.send(iFrameControl(f.txSeq, t.reqSeq, f.sar, final).frame(f.body))
}

// UpdateAckSeq releases the frames acknowledged by the peer's ReqSeq. A
// set F bit answers our poll and triggers retransmission of what is left.
func (t *ertmTxEngine) UpdateAckSeq(ack uint8, final bool) {
	n := int(seqDiff(ack, t.expectedAckSeq))
	if n > len(t.unacked) {
		return
	}
	t.unacked = t.unacked[n:]
	t.expectedAckSeq = ack

	if final && t.monitorTask != nil {
		t.monitorTask.Cancel()
		t.monitorTask = nil
		t.pollsSent = 0
		t.retransmitUnacked(false)
	} else if n > 0 {
		t.stopRetransmitTimer()
	}
	t.trySend()
}

// UpdateReqSeq sets the ReqSeq carried by outbound frames.
func (t *ertmTxEngine) UpdateReqSeq(seq uint8) {
	t.reqSeq = seq
}

func (t *ertmTxEngine) SetRemoteBusy() {
	t.remoteBusy = true
	t.stopRetransmitTimer()
}

func (t *ertmTxEngine) ClearRemoteBusy() {
	t.remoteBusy = false
	t.trySend()
}

func (t *ertmTxEngine) SetSingleRetransmit(seq uint8, poll bool) {
	for _, f := range t.unacked {
		if f.txSeq == seq {
			t.retransmit(f, poll)
			return
		}
	}
}

func (t *ertmTxEngine) SetRangeRetransmit(poll bool) {
	t.retransmitUnacked(poll)
}

func (t *ertmTxEngine) retransmitUnacked(final bool) {
	for i, f := range t.unacked {
		if !t.retransmit(f, final && i == 0) {
			return
		}
	}
	t.stopRetransmitTimer()
	t.trySend()
}

func (t *ertmTxEngine) retransmit(f *ertmTxFrame, final bool) bool {
	if t.failed {
		return false
	}
	if t.maxTransmissions != 0 && f.transmissions >= t.maxTransmissions {
		t.fail()
		return false
	}
	t.transmit(f, final)
	return true
}

func (t *ertmTxEngine) startRetransmitTimer() {
	t.retransmitTask = t.schedule(ErtmRetransmissionTimeout, t.handleRetransmitTimeout)
}

func (t *ertmTxEngine) stopRetransmitTimer() {
	if t.retransmitTask != nil {
		t.retransmitTask.Cancel()
		t.retransmitTask = nil
	}
}

// On retransmission timeout the peer is polled, and polled again on every
// monitor timeout until it answers or the poll budget is spent.
func (t *ertmTxEngine) handleRetransmitTimeout() {
	t.retransmitTask = nil
	if t.failed || len(t.unacked) == 0 {
		return
	}
	t.pollsSent = 0
	t.sendPoll()
}

func (t *ertmTxEngine) handleMonitorTimeout() {
	t.monitorTask = nil
	if t.failed {
		return
	}
	if t.maxTransmissions != 0 && t.pollsSent >= t.maxTransmissions {
		t.fail()
		return
	}
	t.sendPoll()
}

func (t *ertmTxEngine) sendPoll() {
	t.pollsSent++
	t.send(sFrameControl(supervisoryRR, t.reqSeq, true, false).frame(nil))
	t.monitorTask = t.schedule(ErtmMonitorTimeout, t.handleMonitorTimeout)
}

func (t *ertmTxEngine) fail() {
	if t.failed {
		return
	}
	t.failed = true
	t.stop()
	t.onFailure()
}

// stop cancels the timers.
func (t *ertmTxEngine) stop() {
	t.stopRetransmitTimer()
	if t.monitorTask != nil {
		t.monitorTask.Cancel()
		t.monitorTask = nil
	}
}
