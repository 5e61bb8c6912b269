package hci

import (
	"fmt"

	"github.com/rigado/bthost/linux/hci/cmd"
)

const (
	AddressTypePublic           = 0
	AddressTypeRandom           = 1
	FilterPolicyAcceptAll       = 0
	FilterPolicyAcceptWhitelist = 1

	LEScanIntervalMin = 0x0004
	LEScanIntervalMax = 0x4000
	LEScanWindowMin   = 0x0004
	LEScanWindowMax   = 0x4000

	ConnIntervalMin = 0x0006
	ConnIntervalMax = 0x0c80
	ConnLatencyMin  = 0x0000
	ConnLatencyMax  = 0x01f3

	SupervisionTimeoutMin = 0x000a
	SupervisionTimeoutMax = 0x0c80

	CELengthMin = 0x0000
	CELengthMax = 0xffff
)

// LEConnectionParameters are the parameters a link currently runs with.
type LEConnectionParameters struct {
	Interval           uint16 // N * 1.25 msec
	Latency            uint16
	SupervisionTimeout uint16 // N * 10 msec
}

// LEPreferredConnectionParameters are the ranges requested by a peer or used
// when creating a connection.
type LEPreferredConnectionParameters struct {
	IntervalMin        uint16 // 0x0006 - 0x0C80; N * 1.25 msec
	IntervalMax        uint16 // 0x0006 - 0x0C80; N * 1.25 msec
	Latency            uint16 // 0x0000 - 0x01F3
	SupervisionTimeout uint16 // 0x000A - 0x0C80; N * 10 msec
}

// DefaultPreferredConnectionParameters are used for LE Create Connection.
var DefaultPreferredConnectionParameters = LEPreferredConnectionParameters{
	IntervalMin:        0x0018,
	IntervalMax:        0x0028,
	Latency:            0x0000,
	SupervisionTimeout: 0x002a,
}

// Validate checks the ranges of [Vol 2, Part E, 7.8.12].
func (p LEPreferredConnectionParameters) Validate() error {
	/* The Supervision_Timeout in milliseconds shall be larger than
	(1 + Conn_Latency) * Conn_Interval_Max * 2, where Conn_Interval_Max is
	given in milliseconds.
	*/
	minStoMs := (1 + float64(p.Latency)) * (float64(p.IntervalMax) * 1.25) * 2
	stoMs := float64(p.SupervisionTimeout) * 10

	switch {
	case p.IntervalMax < ConnIntervalMin || p.IntervalMax > ConnIntervalMax:
		return fmt.Errorf("invalid ConnIntervalMax %v", p.IntervalMax)

	case p.IntervalMin < ConnIntervalMin || p.IntervalMin > ConnIntervalMax:
		return fmt.Errorf("invalid ConnIntervalMin %v", p.IntervalMin)

	case p.IntervalMin > p.IntervalMax:
		return fmt.Errorf("ConnIntervalMin %v > ConnIntervalMax %v", p.IntervalMin, p.IntervalMax)

	case p.Latency < ConnLatencyMin || p.Latency > ConnLatencyMax:
		return fmt.Errorf("invalid ConnLatency %v", p.Latency)

	case p.SupervisionTimeout < SupervisionTimeoutMin || p.SupervisionTimeout > SupervisionTimeoutMax:
		return fmt.Errorf("invalid SupervisionTimeout %v", p.SupervisionTimeout)

	case stoMs <= minStoMs:
		return fmt.Errorf("invalid SupervisionTimeout %v (too small)", p.SupervisionTimeout)
	}

	return nil
}

// newCreateConnection builds LE Create Connection for a peer with the
// default scan parameters.
func newCreateConnection(peerType uint8, peer [6]byte, ownType uint8, p LEPreferredConnectionParameters) cmd.LECreateConnection {
	return cmd.LECreateConnection{
		LEScanInterval:        0x0060,   // 0x0004 - 0x4000; N * 0.625 msec
		LEScanWindow:          0x0030,   // 0x0004 - 0x4000; N * 0.625 msec
		InitiatorFilterPolicy: 0x00,     // White list is not used
		PeerAddressType:       peerType, // 0x00: public, 0x01: random
		PeerAddress:           peer,
		OwnAddressType:        ownType,
		ConnIntervalMin:       p.IntervalMin,
		ConnIntervalMax:       p.IntervalMax,
		ConnLatency:           p.Latency,
		SupervisionTimeout:    p.SupervisionTimeout,
		MinimumCELength:       0x0000, // 0x0000 - 0xFFFF; N * 0.625 msec
		MaximumCELength:       0x0000, // 0x0000 - 0xFFFF; N * 0.625 msec
	}
}

// ValidateConnParams checks a complete LE Create Connection command.
func ValidateConnParams(p cmd.LECreateConnection) error {
	pp := LEPreferredConnectionParameters{
		IntervalMin:        p.ConnIntervalMin,
		IntervalMax:        p.ConnIntervalMax,
		Latency:            p.ConnLatency,
		SupervisionTimeout: p.SupervisionTimeout,
	}

	switch {
	case p.LEScanInterval < LEScanIntervalMin || p.LEScanInterval > LEScanIntervalMax:
		return fmt.Errorf("invalid LEScanInterval %v", p.LEScanInterval)

	case p.LEScanWindow < LEScanWindowMin || p.LEScanWindow > LEScanWindowMax:
		return fmt.Errorf("invalid LEScanWindow %v", p.LEScanWindow)

	case p.LEScanWindow > p.LEScanInterval:
		return fmt.Errorf("LEScanWindow %v > LEScanInterval %v", p.LEScanWindow, p.LEScanInterval)

	case p.InitiatorFilterPolicy != FilterPolicyAcceptAll && p.InitiatorFilterPolicy != FilterPolicyAcceptWhitelist:
		return fmt.Errorf("invalid InitiatorFilterPolicy %v", p.InitiatorFilterPolicy)

	case p.OwnAddressType != AddressTypePublic && p.OwnAddressType != AddressTypeRandom:
		return fmt.Errorf("invalid OwnAddressType %v", p.OwnAddressType)

	case p.PeerAddressType != AddressTypePublic && p.PeerAddressType != AddressTypeRandom:
		return fmt.Errorf("invalid PeerAddressType %v", p.PeerAddressType)

	case p.MinimumCELength > p.MaximumCELength:
		return fmt.Errorf("MinimumCELength %v > MaximumCELength %v", p.MinimumCELength, p.MaximumCELength)
	}

	return pp.Validate()
}
