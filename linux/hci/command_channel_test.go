package hci_test

import (
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/rigado/bthost/dispatch"
	"github.com/rigado/bthost/linux/hci"
	"github.com/rigado/bthost/linux/hci/cmd"
	"github.com/rigado/bthost/linux/hci/hcitest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newFake() (*dispatch.TestLoop, *hcitest.FakeTransport) {
	loop := dispatch.NewTestLoop()
	return loop, hcitest.NewFakeTransport(loop)
}

func TestCommandFlowControl(t *testing.T) {
	_, f := newFake()
	f.Allowed = 1
	f.SetAllowedCommands(1)

	var done []hci.OpCode
	cb := func(_ hci.TransactionID, e hci.Event) {
		require.NoError(t, e.Err())
		done = append(done, hci.OpCode(e.Params[1])|hci.OpCode(e.Params[2])<<8)
	}
	f.SendCommand(&cmd.Reset{}, cb)
	f.SendCommand(&cmd.ReadBDADDR{}, cb)
	f.Loop.RunUntilIdle()

	assert.Equal(t, []hci.OpCode{cmd.ResetCode}, f.OpCodes())

	f.ReplySuccess(cmd.ResetCode)
	assert.Equal(t, []hci.OpCode{cmd.ResetCode, cmd.ReadBDADDRCode}, f.OpCodes())

	f.ReplyComplete(cmd.ReadBDADDRCode, 0x00, 1, 2, 3, 4, 5, 6)
	assert.Equal(t, []hci.OpCode{cmd.ResetCode, cmd.ReadBDADDRCode}, done)
}

func TestSameOpCodeIsSerialized(t *testing.T) {
	_, f := newFake()

	calls := 0
	f.SendCommand(&cmd.WriteScanEnable{ScanEnable: 1}, func(hci.TransactionID, hci.Event) { calls++ })
	f.SendCommand(&cmd.WriteScanEnable{ScanEnable: 0}, func(hci.TransactionID, hci.Event) { calls++ })
	assert.Equal(t, 1, f.Count(cmd.WriteScanEnableCode))

	f.ReplySuccess(cmd.WriteScanEnableCode)
	assert.Equal(t, 2, f.Count(cmd.WriteScanEnableCode))
	assert.Equal(t, []byte{0x00}, f.CommandsWithOpCode(cmd.WriteScanEnableCode)[1].Params)

	f.ReplySuccess(cmd.WriteScanEnableCode)
	assert.Equal(t, 2, calls)
}

func TestExclusiveCommands(t *testing.T) {
	_, f := newFake()

	var inquiry []hci.EventCode
	f.SendExclusiveCommand(&cmd.Inquiry{LAP: hci.InquiryLAPGIAC, InquiryLength: 0x08},
		func(_ hci.TransactionID, e hci.Event) { inquiry = append(inquiry, e.Code) },
		hci.CompletesOn(hci.InquiryCompleteEvent),
		[]hci.OpCode{cmd.RemoteNameRequestCode})
	f.ReplyStatus(cmd.InquiryCode, 0)

	var name []hci.EventCode
	f.SendExclusiveCommand(&cmd.RemoteNameRequest{},
		func(_ hci.TransactionID, e hci.Event) { name = append(name, e.Code) },
		hci.CompletesOn(hci.RemoteNameRequestCompleteEvent),
		[]hci.OpCode{cmd.InquiryCode})

	// not sent while inquiry runs
	assert.Equal(t, 0, f.Count(cmd.RemoteNameRequestCode))
	// unrelated commands are not blocked
	f.SendCommand(&cmd.ReadScanEnable{}, nil)
	assert.Equal(t, 1, f.Count(cmd.ReadScanEnableCode))

	f.SendEvent(hci.InquiryCompleteEvent, 0x00)
	assert.Equal(t, []hci.EventCode{hci.CommandStatusEvent, hci.InquiryCompleteEvent}, inquiry)
	assert.Equal(t, 1, f.Count(cmd.RemoteNameRequestCode))

	// and inquiry waits for the name request
	f.SendExclusiveCommand(&cmd.Inquiry{}, nil, hci.CompletesOn(hci.InquiryCompleteEvent), []hci.OpCode{cmd.RemoteNameRequestCode})
	assert.Equal(t, 1, f.Count(cmd.InquiryCode))

	f.ReplyStatus(cmd.RemoteNameRequestCode, 0)
	f.SendEvent(hci.RemoteNameRequestCompleteEvent, make([]byte, 255)...)
	assert.Equal(t, []hci.EventCode{hci.CommandStatusEvent, hci.RemoteNameRequestCompleteEvent}, name)
	assert.Equal(t, 2, f.Count(cmd.InquiryCode))
}

func TestAsyncCommandFailedStatus(t *testing.T) {
	_, f := newFake()

	var got []error
	f.SendAsyncCommand(&cmd.ReadRemoteVersionInformation{ConnectionHandle: 1},
		func(_ hci.TransactionID, e hci.Event) { got = append(got, e.Err()) },
		hci.CompletesOn(hci.ReadRemoteVersionInfoCompleteEvent))
	f.ReplyStatus(cmd.ReadRemoteVersionInformationCode, hci.ErrConnID)

	require.Len(t, got, 1)
	assert.Equal(t, hci.ErrConnID, got[0])
	assert.True(t, hci.IsStatus(got[0], hci.ErrConnID))

	// the opcode is free again
	f.SendAsyncCommand(&cmd.ReadRemoteVersionInformation{ConnectionHandle: 1}, nil,
		hci.CompletesOn(hci.ReadRemoteVersionInfoCompleteEvent))
	assert.Equal(t, 2, f.Count(cmd.ReadRemoteVersionInformationCode))
}

func TestEventHandlers(t *testing.T) {
	_, f := newFake()

	assert.Zero(t, f.AddEventHandler(hci.CommandCompleteEvent, func(hci.Event) {}))

	var results, le int
	id := f.AddEventHandler(hci.InquiryResultEvent, func(hci.Event) { results++ })
	f.AddLEMetaEventHandler(hci.LEConnectionUpdateCompleteSubevent, func(e hci.Event) {
		assert.Equal(t, hci.LEConnectionUpdateCompleteSubevent, e.Subevent())
		le++
	})

	f.SendEvent(hci.InquiryResultEvent, 0x00)
	f.SendLEEvent(hci.LEConnectionUpdateCompleteSubevent, make([]byte, 9)...)
	f.SendLEEvent(hci.LEReadRemoteFeaturesCompleteSubevent, make([]byte, 11)...)
	assert.Equal(t, 1, results)
	assert.Equal(t, 1, le)

	f.RemoveEventHandler(id)
	f.SendEvent(hci.InquiryResultEvent, 0x00)
	assert.Equal(t, 1, results)
}

func TestCommandTimeout(t *testing.T) {
	loop, f := newFake()

	var fatal error
	f.SetErrorHandler(func(err error) { fatal = err })

	var got error
	f.SendCommand(&cmd.Reset{}, func(_ hci.TransactionID, e hci.Event) { got = e.Err() })
	loop.AdvanceTime(10 * time.Second)

	assert.Equal(t, hci.ErrCommandTimeout, errors.Cause(got))
	assert.Equal(t, hci.ErrCommandTimeout, errors.Cause(fatal))
}

func TestCloseFailsPending(t *testing.T) {
	loop, f := newFake()

	var got []error
	f.SendCommand(&cmd.Reset{}, func(_ hci.TransactionID, e hci.Event) { got = append(got, e.Err()) })
	f.Close()
	f.SendCommand(&cmd.Reset{}, func(_ hci.TransactionID, e hci.Event) { got = append(got, e.Err()) })
	loop.RunUntilIdle()

	assert.Equal(t, []error{hci.ErrClosed, hci.ErrClosed}, got)
}

func TestEventStatus(t *testing.T) {
	assert.NoError(t, hci.Event{Code: hci.CommandCompleteEvent, Params: []byte{1, 0x03, 0x0C}}.Err())
	assert.Equal(t, hci.ErrDisallowed, hci.Event{Code: hci.CommandCompleteEvent, Params: []byte{1, 0x03, 0x0C, 0x0C}}.Err())
	assert.Equal(t, hci.ErrPageTimeout, hci.Event{Code: hci.RemoteNameRequestCompleteEvent, Params: []byte{0x04}}.Err())
	assert.Equal(t, hci.ErrConnID, hci.Event{Code: hci.LEMetaEvent, Params: []byte{0x01, 0x02}}.Err())
	assert.Contains(t, hci.ErrUnsupportedRemote.Error(), "unsupported remote feature")
}
