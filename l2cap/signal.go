package l2cap

import (
	"bytes"
	"encoding/binary"

	"github.com/pkg/errors"
)

// Signaling command codes [Vol 3, Part A, 4].
const (
	SignalCommandReject                     = 0x01
	SignalDisconnectRequest                 = 0x06
	SignalDisconnectResponse                = 0x07
	SignalConnectionParameterUpdateRequest  = 0x12
	SignalConnectionParameterUpdateResponse = 0x13
)

// Command Reject reasons [Vol 3, Part A, 4.1].
const (
	RejectNotUnderstood uint16 = 0x0000
	RejectSignalingMTU  uint16 = 0x0001
	RejectInvalidCID    uint16 = 0x0002
)

// Connection Parameter Update results [Vol 3, Part A, 4.21].
const (
	ConnectionParametersAccepted uint16 = 0x0000
	ConnectionParametersRejected uint16 = 0x0001
)

const signalHeaderLen = 4

// signalHeader is the header of a command on a signaling channel.
type signalHeader struct {
	Code       uint8
	Identifier uint8
	Length     uint16
}

func marshalSignal(code, id uint8, data []byte) []byte {
	b := make([]byte, signalHeaderLen+len(data))
	b[0], b[1] = code, id
	binary.LittleEndian.PutUint16(b[2:], uint16(len(data)))
	copy(b[signalHeaderLen:], data)
	return b
}

func parseSignal(b []byte) (signalHeader, []byte, error) {
	var h signalHeader
	if len(b) < signalHeaderLen {
		return h, nil, errors.New("l2cap: short signaling command")
	}
	h.Code, h.Identifier = b[0], b[1]
	h.Length = binary.LittleEndian.Uint16(b[2:])
	if int(h.Length) > len(b)-signalHeaderLen {
		return h, nil, errors.Errorf("l2cap: signaling command length %d exceeds %d", h.Length, len(b)-signalHeaderLen)
	}
	return h, b[signalHeaderLen : signalHeaderLen+int(h.Length)], nil
}

func marshalFixed(v interface{}) []byte {
	buf := bytes.NewBuffer(make([]byte, 0))
	binary.Write(buf, binary.LittleEndian, v)
	return buf.Bytes()
}

func unmarshalFixed(b []byte, v interface{}) error {
	return binary.Read(bytes.NewBuffer(b), binary.LittleEndian, v)
}

// CommandReject implements Command Reject (0x01) [Vol 3, Part A, 4.1].
type CommandReject struct {
	Reason uint16
	Data   []byte
}

func (s CommandReject) Code() uint8 { return SignalCommandReject }

// Marshal serializes the command parameters into binary form.
func (s *CommandReject) Marshal() []byte {
	b := make([]byte, 2+len(s.Data))
	binary.LittleEndian.PutUint16(b, s.Reason)
	copy(b[2:], s.Data)
	return b
}

// Unmarshal de-serializes the binary data and stores the result in the receiver.
func (s *CommandReject) Unmarshal(b []byte) error {
	if len(b) < 2 {
		return errors.New("l2cap: short command reject")
	}
	s.Reason = binary.LittleEndian.Uint16(b)
	s.Data = append([]byte(nil), b[2:]...)
	return nil
}

// DisconnectRequest implements Disconnect Request (0x06) [Vol 3, Part A, 4.6].
type DisconnectRequest struct {
	DestinationCID uint16
	SourceCID      uint16
}

func (s DisconnectRequest) Code() uint8               { return SignalDisconnectRequest }
func (s *DisconnectRequest) Marshal() []byte          { return marshalFixed(s) }
func (s *DisconnectRequest) Unmarshal(b []byte) error { return unmarshalFixed(b, s) }

// ConnectionParameterUpdateRequest implements Connection Parameter Update Request (0x12) [Vol 3, Part A, 4.20].
type ConnectionParameterUpdateRequest struct {
	IntervalMin       uint16
	IntervalMax       uint16
	SlaveLatency      uint16
	TimeoutMultiplier uint16
}

func (s ConnectionParameterUpdateRequest) Code() uint8 {
	return SignalConnectionParameterUpdateRequest
}
func (s *ConnectionParameterUpdateRequest) Marshal() []byte          { return marshalFixed(s) }
func (s *ConnectionParameterUpdateRequest) Unmarshal(b []byte) error { return unmarshalFixed(b, s) }

// ConnectionParameterUpdateResponse implements Connection Parameter Update Response (0x13) [Vol 3, Part A, 4.21].
type ConnectionParameterUpdateResponse struct {
	Result uint16
}

func (s ConnectionParameterUpdateResponse) Code() uint8 {
	return SignalConnectionParameterUpdateResponse
}
func (s *ConnectionParameterUpdateResponse) Marshal() []byte          { return marshalFixed(s) }
func (s *ConnectionParameterUpdateResponse) Unmarshal(b []byte) error { return unmarshalFixed(b, s) }
