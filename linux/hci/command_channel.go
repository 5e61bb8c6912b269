package hci

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rigado/bthost"
	"github.com/rigado/bthost/dispatch"
	"github.com/rigado/bthost/linux/hci/evt"
)

// Command ...
type Command interface {
	OpCode() int
	Len() int
	Marshal([]byte) error
}

// CommandRP ...
type CommandRP interface {
	Unmarshal(b []byte) error
}

type TransactionID uint64

type EventHandlerID uint64

// CommandCallback receives the events of one command transaction: the
// Command Status (if any) and then the completion event.
type CommandCallback func(id TransactionID, e Event)

type EventHandler func(e Event)

// Completion names the event that ends a command transaction.
type Completion struct {
	Event    EventCode
	Subevent EventCode
}

// CompletesOn returns a completion on the given event code. Use
// CommandStatusEvent for commands whose outcome is only their status.
func CompletesOn(code EventCode) Completion {
	return Completion{Event: code}
}

// CompletesOnLE returns a completion on an LE meta subevent.
func CompletesOnLE(sub EventCode) Completion {
	return Completion{Event: LEMetaEvent, Subevent: sub}
}

var commandComplete = CompletesOn(CommandCompleteEvent)

// Transport submits HCI commands and routes HCI events.
type Transport interface {
	// SendCommand sends c and completes on its Command Complete.
	SendCommand(c Command, cb CommandCallback) TransactionID

	// SendAsyncCommand sends c and completes on the given event. A
	// successful Command Status is delivered to cb first.
	SendAsyncCommand(c Command, cb CommandCallback, on Completion) TransactionID

	// SendExclusiveCommand is like SendAsyncCommand, but no command with one
	// of the conflicting opcodes is sent while c is pending, and c is not
	// sent while one of them is pending.
	SendExclusiveCommand(c Command, cb CommandCallback, on Completion, conflicting []OpCode) TransactionID

	AddEventHandler(code EventCode, h EventHandler) EventHandlerID
	AddLEMetaEventHandler(sub EventCode, h EventHandler) EventHandlerID
	RemoveEventHandler(id EventHandlerID)
}

// ErrCommandTimeout is reported when the controller never answers a command.
var ErrCommandTimeout = errors.New("hci: no response to command")

// ErrClosed is reported for commands still pending when the channel closes.
var ErrClosed = errors.New("hci: command channel closed")

// Event is one received HCI event. Params excludes the event header.
type Event struct {
	Code   EventCode
	Params []byte

	err error
}

// Subevent returns the LE meta subevent code.
func (e Event) Subevent() EventCode {
	if e.Code != LEMetaEvent || len(e.Params) == 0 {
		return 0
	}
	return EventCode(e.Params[0])
}

// Err returns the host-side failure of the transaction, or the status the
// event carries as an ErrCommand.
func (e Event) Err() error {
	if e.err != nil {
		return e.err
	}

	var i int
	switch e.Code {
	case CommandStatusEvent:
		i = 0
	case CommandCompleteEvent:
		i = 3
		if len(e.Params) <= i {
			// commands without return parameters
			return nil
		}
	case LEMetaEvent:
		i = 1
	default:
		i = 0
	}
	if len(e.Params) <= i {
		return fmt.Errorf("hci: event 0x%02X too short for status", e.Code)
	}
	return StatusError(e.Params[i])
}

// ReturnParameters returns the return parameters of a Command Complete.
func (e Event) ReturnParameters() []byte {
	if e.Code != CommandCompleteEvent {
		return nil
	}
	return evt.CommandComplete(e.Params).ReturnParameters()
}

// Unmarshal decodes the return parameters of a Command Complete into rp.
func (e Event) Unmarshal(rp CommandRP) error {
	if err := e.Err(); err != nil {
		return err
	}
	return rp.Unmarshal(e.ReturnParameters())
}

type transaction struct {
	id          TransactionID
	op          OpCode
	c           Command
	cb          CommandCallback
	on          Completion
	exclusions  []OpCode
	gotStatus   bool
	timeoutTask dispatch.Task
}

func (t *transaction) excludes(op OpCode) bool {
	for _, e := range t.exclusions {
		if e == op {
			return true
		}
	}
	return false
}

type eventHandler struct {
	id      EventHandlerID
	code    EventCode
	le      bool
	h       EventHandler
	removed bool
}

// CommandChannel implements Transport over a raw HCI packet writer. It is
// safe for concurrent use; callbacks and handlers always run on its
// dispatcher.
type CommandChannel struct {
	sync.Mutex

	d   dispatch.Dispatcher
	w   io.Writer
	log bthost.Logger

	// Host to Controller command flow control [Vol 2, Part E, 4.4]
	allowed int
	queue   []*transaction
	sent    map[OpCode]*transaction
	nextID  TransactionID
	timeout time.Duration

	// evtHub
	nextHandlerID EventHandlerID
	handlers      map[EventHandlerID]*eventHandler
	evth          map[EventCode][]*eventHandler
	subh          map[EventCode][]*eventHandler

	errorHandler func(error)
	closed       bool
}

// NewCommandChannel returns a command channel writing HCI command packets to
// w and delivering results on d.
func NewCommandChannel(d dispatch.Dispatcher, w io.Writer) *CommandChannel {
	return &CommandChannel{
		d:        d,
		w:        w,
		log:      bthost.ComponentLogger("hci"),
		allowed:  defaultAllowedCommands,
		sent:     make(map[OpCode]*transaction),
		timeout:  commandTimeout,
		handlers: make(map[EventHandlerID]*eventHandler),
		evth:     make(map[EventCode][]*eventHandler),
		subh:     make(map[EventCode][]*eventHandler),
	}
}

// SetErrorHandler sets the handler of fatal channel errors (write failures,
// command timeouts).
func (c *CommandChannel) SetErrorHandler(handler func(error)) {
	c.Lock()
	defer c.Unlock()
	c.errorHandler = handler
}

// SetAllowedCommands overrides the number of commands the controller accepts
// before the next Command Status/Complete.
func (c *CommandChannel) SetAllowedCommands(n int) {
	c.Lock()
	c.allowed = n
	c.Unlock()
	c.trySendQueued()
}

func (c *CommandChannel) SendCommand(cmd Command, cb CommandCallback) TransactionID {
	return c.SendExclusiveCommand(cmd, cb, commandComplete, nil)
}

func (c *CommandChannel) SendAsyncCommand(cmd Command, cb CommandCallback, on Completion) TransactionID {
	return c.SendExclusiveCommand(cmd, cb, on, nil)
}

func (c *CommandChannel) SendExclusiveCommand(cmd Command, cb CommandCallback, on Completion, conflicting []OpCode) TransactionID {
	c.Lock()
	c.nextID++
	t := &transaction{
		id:         c.nextID,
		op:         OpCode(cmd.OpCode()),
		c:          cmd,
		cb:         cb,
		on:         on,
		exclusions: conflicting,
	}
	if c.closed {
		c.Unlock()
		c.deliver(t, Event{Code: on.Event, err: ErrClosed})
		return t.id
	}
	c.queue = append(c.queue, t)
	c.Unlock()

	c.trySendQueued()
	return t.id
}

func (c *CommandChannel) AddEventHandler(code EventCode, h EventHandler) EventHandlerID {
	switch code {
	case CommandCompleteEvent, CommandStatusEvent, LEMetaEvent:
		return 0
	}
	return c.addHandler(code, false, h)
}

func (c *CommandChannel) AddLEMetaEventHandler(sub EventCode, h EventHandler) EventHandlerID {
	return c.addHandler(sub, true, h)
}

func (c *CommandChannel) addHandler(code EventCode, le bool, h EventHandler) EventHandlerID {
	c.Lock()
	defer c.Unlock()

	c.nextHandlerID++
	eh := &eventHandler{id: c.nextHandlerID, code: code, le: le, h: h}
	c.handlers[eh.id] = eh
	if le {
		c.subh[code] = append(c.subh[code], eh)
	} else {
		c.evth[code] = append(c.evth[code], eh)
	}
	return eh.id
}

func (c *CommandChannel) RemoveEventHandler(id EventHandlerID) {
	c.Lock()
	defer c.Unlock()

	eh, ok := c.handlers[id]
	if !ok {
		return
	}
	delete(c.handlers, id)
	eh.removed = true

	m := c.evth
	if eh.le {
		m = c.subh
	}
	hh := m[eh.code]
	for i, x := range hh {
		if x == eh {
			m[eh.code] = append(hh[:i:i], hh[i+1:]...)
			break
		}
	}
}

// Close fails every queued and pending transaction and drops the handlers.
func (c *CommandChannel) Close() {
	c.Lock()
	if c.closed {
		c.Unlock()
		return
	}
	c.closed = true
	var tt []*transaction
	tt = append(tt, c.queue...)
	for _, t := range c.sent {
		if t.timeoutTask != nil {
			t.timeoutTask.Cancel()
		}
		tt = append(tt, t)
	}
	c.queue = nil
	c.sent = make(map[OpCode]*transaction)
	c.handlers = make(map[EventHandlerID]*eventHandler)
	c.evth = make(map[EventCode][]*eventHandler)
	c.subh = make(map[EventCode][]*eventHandler)
	c.Unlock()

	for _, t := range tt {
		c.deliver(t, Event{Code: t.on.Event, err: ErrClosed})
	}
}

// sendable reports whether t may go out now. Called with the lock held.
func (c *CommandChannel) sendable(t *transaction) bool {
	if _, busy := c.sent[t.op]; busy {
		return false
	}
	for _, e := range t.exclusions {
		if _, busy := c.sent[e]; busy {
			return false
		}
	}
	for _, p := range c.sent {
		if p.excludes(t.op) {
			return false
		}
	}
	return true
}

func (c *CommandChannel) trySendQueued() {
	c.Lock()
	var failed []*transaction
	var errs []error
	remaining := c.queue[:0:0]
	for _, t := range c.queue {
		if c.closed || c.allowed <= 0 || !c.sendable(t) {
			remaining = append(remaining, t)
			continue
		}
		if err := c.write(t); err != nil {
			failed = append(failed, t)
			errs = append(errs, err)
			continue
		}
		c.allowed--
		c.sent[t.op] = t
		id := t.id
		t.timeoutTask = c.d.PostDelayed(c.timeout, func() { c.onTimeout(t.op, id) })
	}
	c.queue = remaining
	eh := c.errorHandler
	c.Unlock()

	for i, t := range failed {
		c.deliver(t, Event{Code: t.on.Event, err: errs[i]})
		c.dispatchError(eh, errs[i])
	}
}

// write sends the command packet. Called with the lock held.
func (c *CommandChannel) write(t *transaction) error {
	b := make([]byte, 4+t.c.Len())
	b[0] = PktTypeCommand
	b[1] = byte(t.op)
	b[2] = byte(t.op >> 8)
	b[3] = byte(t.c.Len())
	if err := t.c.Marshal(b[4:]); err != nil {
		return errors.Wrapf(err, "hci: can't marshal cmd 0x%04X", uint16(t.op))
	}

	c.log.Debugf("hci: cmd 0x%04X [% X]", uint16(t.op), b[4:])
	n, err := c.w.Write(b)
	if err != nil {
		return errors.Wrap(err, "hci: failed to send cmd")
	}
	if n != len(b) {
		return fmt.Errorf("hci: failed to send whole cmd pkt to hci socket")
	}
	return nil
}

func (c *CommandChannel) onTimeout(op OpCode, id TransactionID) {
	c.Lock()
	t, ok := c.sent[op]
	if !ok || t.id != id {
		c.Unlock()
		return
	}
	delete(c.sent, op)
	eh := c.errorHandler
	c.Unlock()

	err := errors.Wrapf(ErrCommandTimeout, "opcode 0x%04X", uint16(op))
	c.log.Error(err)
	c.deliver(t, Event{Code: t.on.Event, err: err})
	c.dispatchError(eh, err)
	c.trySendQueued()
}

// HandleEvent processes one raw HCI event packet (code, length, params).
func (c *CommandChannel) HandleEvent(b []byte) error {
	if len(b) < 2 {
		return fmt.Errorf("invalid event packet: % X", b)
	}
	code, plen := EventCode(b[0]), int(b[1])
	if plen != len(b[2:]) {
		return fmt.Errorf("invalid event packet: % X", b)
	}
	p := make([]byte, plen)
	copy(p, b[2:])
	e := Event{Code: code, Params: p}

	switch code {
	case CommandCompleteEvent:
		return c.handleCommandComplete(e)
	case CommandStatusEvent:
		return c.handleCommandStatus(e)
	}

	if c.completeAsync(e) {
		return nil
	}

	c.Lock()
	var hh []*eventHandler
	if code == LEMetaEvent {
		hh = append(hh, c.subh[e.Subevent()]...)
	} else {
		hh = append(hh, c.evth[code]...)
	}
	c.Unlock()

	if len(hh) == 0 {
		if code == VendorEvent {
			// Ignore vendor events
			return nil
		}
		c.log.Debugf("hci: unhandled event 0x%02X [% X]", code, p)
		return nil
	}
	for _, eh := range hh {
		eh := eh
		c.d.Post(func() {
			c.Lock()
			removed := eh.removed
			c.Unlock()
			if !removed {
				eh.h(e)
			}
		})
	}
	return nil
}

func (c *CommandChannel) handleCommandComplete(e Event) error {
	ev := evt.CommandComplete(e.Params)
	num, err := ev.NumHCICommandPacketsWErr()
	if err != nil {
		return errors.Wrap(err, "command complete")
	}
	op, err := ev.CommandOpcodeWErr()
	if err != nil {
		return errors.Wrap(err, "command complete")
	}

	c.Lock()
	c.allowed = int(num)
	// NOP command, used for flow control purpose [Vol 2, Part E, 4.4]
	t, found := c.sent[OpCode(op)]
	if op != 0x0000 && found {
		c.finishLocked(t)
	}
	c.Unlock()

	if op != 0x0000 {
		if !found {
			c.log.Warnf("hci: can't find the cmd for CommandCompleteEP: % X", e.Params)
		} else {
			c.deliver(t, e)
		}
	}
	c.trySendQueued()
	return nil
}

func (c *CommandChannel) handleCommandStatus(e Event) error {
	ev := evt.CommandStatus(e.Params)
	if !ev.Valid() {
		return fmt.Errorf("invalid command status: % X", e.Params)
	}

	c.Lock()
	c.allowed = int(ev.NumHCICommandPackets())
	op := OpCode(ev.CommandOpcode())
	t, found := c.sent[op]
	done := false
	if op != 0x0000 && found {
		// a failed status ends the transaction, as does a status-only command
		done = ev.Status() != 0x00 || t.on.Event == CommandStatusEvent
		if done {
			c.finishLocked(t)
		} else {
			// the completion event may take arbitrarily long
			t.gotStatus = true
			if t.timeoutTask != nil {
				t.timeoutTask.Cancel()
			}
		}
	}
	c.Unlock()

	if op != 0x0000 {
		if !found {
			c.log.Warnf("hci: can't find the cmd for CommandStatusEP: % X", e.Params)
		} else {
			c.deliver(t, e)
		}
	}
	if done || op == 0x0000 || !found {
		c.trySendQueued()
	}
	return nil
}

// completeAsync matches e against the oldest pending transaction waiting for
// it.
func (c *CommandChannel) completeAsync(e Event) bool {
	c.Lock()
	var match *transaction
	for _, t := range c.sent {
		if t.on.Event != e.Code || !t.gotStatus {
			continue
		}
		if e.Code == LEMetaEvent && t.on.Subevent != e.Subevent() {
			continue
		}
		if match == nil || t.id < match.id {
			match = t
		}
	}
	if match != nil {
		c.finishLocked(match)
	}
	c.Unlock()

	if match == nil {
		return false
	}
	c.deliver(match, e)
	c.trySendQueued()
	return true
}

// finishLocked retires t. Called with the lock held.
func (c *CommandChannel) finishLocked(t *transaction) {
	delete(c.sent, t.op)
	if t.timeoutTask != nil {
		t.timeoutTask.Cancel()
	}
}

func (c *CommandChannel) deliver(t *transaction, e Event) {
	if t.cb == nil {
		return
	}
	id := t.id
	c.d.Post(func() { t.cb(id, e) })
}

func (c *CommandChannel) dispatchError(handler func(error), err error) {
	if handler == nil {
		c.log.Error(err)
		return
	}
	c.d.Post(func() { handler(err) })
}

// Send sends c and blocks until it completes, decoding the return parameters
// into r. It must not be called from the channel's dispatcher.
func (c *CommandChannel) Send(cmd Command, r CommandRP) error {
	done := make(chan error, 1)
	c.SendCommand(cmd, func(_ TransactionID, e Event) {
		if r == nil {
			done <- e.Err()
			return
		}
		done <- e.Unmarshal(r)
	})
	return <-done
}
