// Package l2cap multiplexes the L2CAP channels of one ACL or LE logical link.
// Every channel runs a Basic or Enhanced Retransmission Mode engine pair
// that turns SDUs into frames and back.
package l2cap

import (
	"time"

	"github.com/pkg/errors"
)

// Channel Identifiers [Vol 3, Part A, 2.1].
const (
	SignalingChannelID   uint16 = 0x0001 // ACL-U signaling
	ConnectionlessID     uint16 = 0x0002
	ATTChannelID         uint16 = 0x0004 // Attribute Protocol [Vol 3, Part F]
	LESignalingChannelID uint16 = 0x0005 // LE-U signaling [Vol 3, Part A, 4]
	SMPChannelID         uint16 = 0x0006 // Security Manager Protocol [Vol 3, Part H]
	SMPBREDRChannelID    uint16 = 0x0007

	FirstDynamicChannelID uint16 = 0x0040
	LastDynamicChannelID  uint16 = 0xffff
)

const (
	// DefaultMTU is the minimum MTU of an LE-U link [Vol 3, Part A, 5.1].
	DefaultMTU = 23

	// MaxMTU effectively disables MTU enforcement on fixed channels.
	MaxMTU = 0xffff

	basicHeaderLen = 4
	controlLen     = 2
	sduLenLen      = 2
	fcsLen         = 2
)

// ERTM timers [Vol 3, Part A, 5.4].
const (
	ErtmRetransmissionTimeout = 2 * time.Second
	ErtmMonitorTimeout        = 12 * time.Second
)

// ChannelMode is the framing mode of a channel.
type ChannelMode uint8

const (
	BasicMode                    ChannelMode = 0x00
	EnhancedRetransmissionMode   ChannelMode = 0x03
	LECreditBasedFlowControlMode ChannelMode = 0x80
)

func (m ChannelMode) String() string {
	switch m {
	case BasicMode:
		return "basic"
	case EnhancedRetransmissionMode:
		return "enhanced retransmission"
	case LECreditBasedFlowControlMode:
		return "LE credit based"
	}
	return "unknown"
}

// ChannelInfo holds the configuration negotiated for a channel.
type ChannelInfo struct {
	Mode         ChannelMode
	MaxRxSDUSize uint16
	MaxTxSDUSize uint16

	// ERTM only.
	NFramesInTxWindow uint8
	MaxTransmissions  uint8 // 0 means unlimited
	MaxTxPDUPayload   uint16
}

// BasicModeInfo returns the configuration of a Basic Mode channel.
func BasicModeInfo(maxRxSDU, maxTxSDU uint16) ChannelInfo {
	return ChannelInfo{Mode: BasicMode, MaxRxSDUSize: maxRxSDU, MaxTxSDUSize: maxTxSDU}
}

// ErtmInfo returns the configuration of an Enhanced Retransmission Mode
// channel.
func ErtmInfo(maxRxSDU, maxTxSDU uint16, window, maxTransmissions uint8, mps uint16) ChannelInfo {
	return ChannelInfo{
		Mode:              EnhancedRetransmissionMode,
		MaxRxSDUSize:      maxRxSDU,
		MaxTxSDUSize:      maxTxSDU,
		NFramesInTxWindow: window,
		MaxTransmissions:  maxTransmissions,
		MaxTxPDUPayload:   mps,
	}
}

var (
	ErrLinkClosed       = errors.New("l2cap: link closed")
	ErrChannelExists    = errors.New("l2cap: channel already open")
	ErrUnsupportedMode  = errors.New("l2cap: unsupported channel mode")
	ErrNotLE            = errors.New("l2cap: not an LE link")
	ErrLinkExists       = errors.New("l2cap: link already registered")
	ErrUnknownLink      = errors.New("l2cap: no such link")
	ErrNotPeripheral    = errors.New("l2cap: only the peripheral requests connection parameters")
	ErrSignalingTimeout = errors.New("l2cap: signaling request timed out")
)
