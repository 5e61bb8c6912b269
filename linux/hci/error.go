package hci

import "fmt"

// ErrCommand is an HCI status code returned by the controller [Vol 2, Part D, 1.3].
type ErrCommand byte

// HCI status codes.
const (
	ErrUnknownCommand       ErrCommand = 0x01
	ErrConnID               ErrCommand = 0x02
	ErrHardware             ErrCommand = 0x03
	ErrPageTimeout          ErrCommand = 0x04
	ErrAuth                 ErrCommand = 0x05
	ErrPINMissing           ErrCommand = 0x06
	ErrMemCapacity          ErrCommand = 0x07
	ErrConnTimeout          ErrCommand = 0x08
	ErrConnLimit            ErrCommand = 0x09
	ErrSCOConnLimit         ErrCommand = 0x0A
	ErrACLConnExists        ErrCommand = 0x0B
	ErrDisallowed           ErrCommand = 0x0C
	ErrLimitedResource      ErrCommand = 0x0D
	ErrSecurity             ErrCommand = 0x0E
	ErrBDADDR               ErrCommand = 0x0F
	ErrConnAcceptTimeout    ErrCommand = 0x10
	ErrUnsupportedParam     ErrCommand = 0x11
	ErrInvalidParams        ErrCommand = 0x12
	ErrRemoteUser           ErrCommand = 0x13
	ErrRemoteLowResources   ErrCommand = 0x14
	ErrRemotePowerOff       ErrCommand = 0x15
	ErrLocalHost            ErrCommand = 0x16
	ErrRepeatedAttempts     ErrCommand = 0x17
	ErrPairingNotAllowed    ErrCommand = 0x18
	ErrUnknownLMP           ErrCommand = 0x19
	ErrUnsupportedRemote    ErrCommand = 0x1A
	ErrSCOOffset            ErrCommand = 0x1B
	ErrSCOInterval          ErrCommand = 0x1C
	ErrSCOAirMode           ErrCommand = 0x1D
	ErrInvalidLLParams      ErrCommand = 0x1E
	ErrUnspecified          ErrCommand = 0x1F
	ErrUnsupportedLLParam   ErrCommand = 0x20
	ErrRoleChangeNotAllowed ErrCommand = 0x21
	ErrLLResponseTimeout    ErrCommand = 0x22
	ErrLMPCollision         ErrCommand = 0x23
	ErrLMPPDU               ErrCommand = 0x24
	ErrEncryptionMode       ErrCommand = 0x25
	ErrLinkKey              ErrCommand = 0x26
	ErrQoSUnsupported       ErrCommand = 0x27
	ErrInstantPassed        ErrCommand = 0x28
	ErrUnitKeyUnsupported   ErrCommand = 0x29
	ErrTransactionCollision ErrCommand = 0x2A
	ErrQOSParam             ErrCommand = 0x2C
	ErrQOSRejected          ErrCommand = 0x2D
	ErrChannelClass         ErrCommand = 0x2E
	ErrInsufficientSecurity ErrCommand = 0x2F
	ErrParamOutOfRange      ErrCommand = 0x30
	ErrRoleSwitchPending    ErrCommand = 0x32
	ErrReservedSlot         ErrCommand = 0x34
	ErrRoleSwitchFailed     ErrCommand = 0x35
	ErrEIRTooLarge          ErrCommand = 0x36
	ErrSimplePairing        ErrCommand = 0x37
	ErrHostBusyPairing      ErrCommand = 0x38
	ErrNoChannel            ErrCommand = 0x39
	ErrControllerBusy       ErrCommand = 0x3A
	ErrConnParams           ErrCommand = 0x3B
	ErrAdvTimeout           ErrCommand = 0x3C
	ErrMIC                  ErrCommand = 0x3D
	ErrConnEstablish        ErrCommand = 0x3E
	ErrMACConnFailed        ErrCommand = 0x3F
	ErrCoarseClock          ErrCommand = 0x40
)

var errCmd = map[ErrCommand]string{
	0x00:                    "success",
	ErrUnknownCommand:       "unknown HCI command",
	ErrConnID:               "unknown connection identifier",
	ErrHardware:             "hardware failure",
	ErrPageTimeout:          "page timeout",
	ErrAuth:                 "authentication failure",
	ErrPINMissing:           "PIN or key missing",
	ErrMemCapacity:          "memory capacity exceeded",
	ErrConnTimeout:          "connection timeout",
	ErrConnLimit:            "connection limit exceeded",
	ErrSCOConnLimit:         "synchronous connection limit to a device exceeded",
	ErrACLConnExists:        "ACL connection already exists",
	ErrDisallowed:           "command disallowed",
	ErrLimitedResource:      "connection rejected due to limited resources",
	ErrSecurity:             "connection rejected due to security reasons",
	ErrBDADDR:               "connection rejected due to unacceptable BD_ADDR",
	ErrConnAcceptTimeout:    "connection accept timeout exceeded",
	ErrUnsupportedParam:     "unsupported feature or parameter value",
	ErrInvalidParams:        "invalid HCI command parameters",
	ErrRemoteUser:           "remote user terminated connection",
	ErrRemoteLowResources:   "remote device terminated connection due to low resources",
	ErrRemotePowerOff:       "remote device terminated connection due to power off",
	ErrLocalHost:            "connection terminated by local host",
	ErrRepeatedAttempts:     "repeated attempts",
	ErrPairingNotAllowed:    "pairing not allowed",
	ErrUnknownLMP:           "unknown LMP PDU",
	ErrUnsupportedRemote:    "unsupported remote feature",
	ErrSCOOffset:            "SCO offset rejected",
	ErrSCOInterval:          "SCO interval rejected",
	ErrSCOAirMode:           "SCO air mode rejected",
	ErrInvalidLLParams:      "invalid LMP parameters / invalid LL parameters",
	ErrUnspecified:          "unspecified error",
	ErrUnsupportedLLParam:   "unsupported LMP parameter value / unsupported LL parameter value",
	ErrRoleChangeNotAllowed: "role change not allowed",
	ErrLLResponseTimeout:    "LMP response timeout / LL response timeout",
	ErrLMPCollision:         "LMP error transaction collision",
	ErrLMPPDU:               "LMP PDU not allowed",
	ErrEncryptionMode:       "encryption mode not acceptable",
	ErrLinkKey:              "link key cannot be changed",
	ErrQoSUnsupported:       "requested QoS not supported",
	ErrInstantPassed:        "instant passed",
	ErrUnitKeyUnsupported:   "pairing with unit key not supported",
	ErrTransactionCollision: "different transaction collision",
	ErrQOSParam:             "QoS unacceptable parameter",
	ErrQOSRejected:          "QoS rejected",
	ErrChannelClass:         "channel classification not supported",
	ErrInsufficientSecurity: "insufficient security",
	ErrParamOutOfRange:      "parameter out of mandatory range",
	ErrRoleSwitchPending:    "role switch pending",
	ErrReservedSlot:         "reserved slot violation",
	ErrRoleSwitchFailed:     "role switch failed",
	ErrEIRTooLarge:          "extended inquiry response too large",
	ErrSimplePairing:        "secure simple pairing not supported by host",
	ErrHostBusyPairing:      "host busy - pairing",
	ErrNoChannel:            "connection rejected due to no suitable channel found",
	ErrControllerBusy:       "controller busy",
	ErrConnParams:           "unacceptable connection parameters",
	ErrAdvTimeout:           "advertising timeout",
	ErrMIC:                  "connection terminated due to MIC failure",
	ErrConnEstablish:        "connection failed to be established",
	ErrMACConnFailed:        "MAC connection failed",
	ErrCoarseClock:          "coarse clock adjustment rejected but will try to adjust using clock dragging",
}

func (e ErrCommand) Error() string {
	if s, ok := errCmd[e]; ok {
		return fmt.Sprintf("hci: %s (0x%02X)", s, byte(e))
	}
	return fmt.Sprintf("hci: reserved status code 0x%02X", byte(e))
}

// StatusError converts a raw status byte to an error; 0x00 is nil.
func StatusError(status byte) error {
	if status == 0x00 {
		return nil
	}
	return ErrCommand(status)
}

// IsStatus reports whether err is the HCI status s.
func IsStatus(err error, s ErrCommand) bool {
	e, ok := err.(ErrCommand)
	return ok && e == s
}
