// Package hcitest provides a fake controller for testing components that
// talk HCI. The fake wraps a real command channel, so queuing, flow control
// and exclusive command rules behave as in production.
package hcitest

import (
	"encoding/binary"
	"io"
	"sync"

	"github.com/rigado/bthost/dispatch"
	"github.com/rigado/bthost/linux/hci"
)

// DefaultAllowedCommands is the Num_HCI_Command_Packets the fake controller
// reports.
const DefaultAllowedCommands = 16

// SentCommand is one command packet written by the host.
type SentCommand struct {
	OpCode hci.OpCode
	Params []byte
}

// FakeTransport records what the host writes and lets tests play the
// controller.
type FakeTransport struct {
	*hci.CommandChannel

	Loop *dispatch.TestLoop

	// Allowed is reported in every Command Status/Complete.
	Allowed int

	mu    sync.Mutex
	sent  []SentCommand
	acl   []hci.ACLPacket
	hooks map[hci.OpCode]func(SentCommand)
}

func NewFakeTransport(loop *dispatch.TestLoop) *FakeTransport {
	f := &FakeTransport{
		Loop:    loop,
		Allowed: DefaultAllowedCommands,
		hooks:   make(map[hci.OpCode]func(SentCommand)),
	}
	f.CommandChannel = hci.NewCommandChannel(loop, writerFunc(f.write))
	f.CommandChannel.SetAllowedCommands(f.Allowed)
	return f
}

type writerFunc func(p []byte) (int, error)

func (w writerFunc) Write(p []byte) (int, error) { return w(p) }

func (f *FakeTransport) write(p []byte) (int, error) {
	b := make([]byte, len(p))
	copy(b, p)

	switch b[0] {
	case hci.PktTypeCommand:
		c := SentCommand{
			OpCode: hci.OpCode(binary.LittleEndian.Uint16(b[1:3])),
			Params: b[4:],
		}
		f.mu.Lock()
		f.sent = append(f.sent, c)
		hook := f.hooks[c.OpCode]
		f.mu.Unlock()
		if hook != nil {
			f.Loop.Post(func() { hook(c) })
		}
	case hci.PktTypeACLData:
		f.mu.Lock()
		f.acl = append(f.acl, hci.ACLPacket(b[1:]))
		f.mu.Unlock()
	}
	return len(p), nil
}

// Writer returns the fake's packet sink, for ACL data channels under test.
func (f *FakeTransport) Writer() io.Writer {
	return writerFunc(f.write)
}

// OnCommand runs hook on the loop every time a command with op is written.
// A nil hook removes it.
func (f *FakeTransport) OnCommand(op hci.OpCode, hook func(SentCommand)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if hook == nil {
		delete(f.hooks, op)
		return
	}
	f.hooks[op] = hook
}

// AutoComplete answers every command with op with a Command Complete
// carrying rp.
func (f *FakeTransport) AutoComplete(op hci.OpCode, rp ...byte) {
	f.OnCommand(op, func(SentCommand) { f.ReplyComplete(op, rp...) })
}

// Commands returns the commands written so far.
func (f *FakeTransport) Commands() []SentCommand {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]SentCommand(nil), f.sent...)
}

// CommandsWithOpCode returns the written commands with op.
func (f *FakeTransport) CommandsWithOpCode(op hci.OpCode) []SentCommand {
	var cc []SentCommand
	for _, c := range f.Commands() {
		if c.OpCode == op {
			cc = append(cc, c)
		}
	}
	return cc
}

// Count returns how many commands with op were written.
func (f *FakeTransport) Count(op hci.OpCode) int {
	return len(f.CommandsWithOpCode(op))
}

// OpCodes returns the opcodes of the written commands in order.
func (f *FakeTransport) OpCodes() []hci.OpCode {
	var oo []hci.OpCode
	for _, c := range f.Commands() {
		oo = append(oo, c.OpCode)
	}
	return oo
}

// Last returns the last written command.
func (f *FakeTransport) Last() (SentCommand, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.sent) == 0 {
		return SentCommand{}, false
	}
	return f.sent[len(f.sent)-1], true
}

// ClearCommands forgets the recorded commands.
func (f *FakeTransport) ClearCommands() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = nil
}

// ACLPackets returns the ACL data packets written so far.
func (f *FakeTransport) ACLPackets() []hci.ACLPacket {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]hci.ACLPacket(nil), f.acl...)
}

// ReplyStatus sends a Command Status for op.
func (f *FakeTransport) ReplyStatus(op hci.OpCode, status hci.ErrCommand) {
	f.SendEvent(hci.CommandStatusEvent, byte(status), byte(f.Allowed), byte(op), byte(op>>8))
}

// ReplyComplete sends a Command Complete for op with return parameters rp.
func (f *FakeTransport) ReplyComplete(op hci.OpCode, rp ...byte) {
	f.SendEvent(hci.CommandCompleteEvent, append([]byte{byte(f.Allowed), byte(op), byte(op >> 8)}, rp...)...)
}

// ReplySuccess sends a Command Complete for op with a success status.
func (f *FakeTransport) ReplySuccess(op hci.OpCode) {
	f.ReplyComplete(op, 0x00)
}

// SendEvent delivers an event to the host and runs the loop until idle.
func (f *FakeTransport) SendEvent(code hci.EventCode, params ...byte) {
	b := append([]byte{byte(code), byte(len(params))}, params...)
	if err := f.CommandChannel.HandleEvent(b); err != nil {
		panic(err)
	}
	f.Loop.RunUntilIdle()
}

// SendLEEvent delivers an LE meta event.
func (f *FakeTransport) SendLEEvent(sub hci.EventCode, params ...byte) {
	f.SendEvent(hci.LEMetaEvent, append([]byte{byte(sub)}, params...)...)
}

// LEConnectionComplete builds the parameters of a successful LE Connection
// Complete.
func LEConnectionComplete(handle uint16, role uint8, peer [6]byte, peerType uint8) []byte {
	b := []byte{
		0x00, // status
		byte(handle), byte(handle >> 8),
		role,
		peerType,
	}
	b = append(b, peer[:]...)
	b = append(b,
		0x18, 0x00, // interval
		0x00, 0x00, // latency
		0xC8, 0x00, // supervision timeout
		0x00, // master clock accuracy
	)
	return b
}

// NumberOfCompletedPackets builds the parameters of a Number Of Completed
// Packets event for one handle.
func NumberOfCompletedPackets(handle uint16, n uint16) []byte {
	return []byte{0x01, byte(handle), byte(handle >> 8), byte(n), byte(n >> 8)}
}

// DisconnectionComplete builds the parameters of a Disconnection Complete.
func DisconnectionComplete(handle uint16, reason hci.ErrCommand) []byte {
	return []byte{0x00, byte(handle), byte(handle >> 8), byte(reason)}
}
