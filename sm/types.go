// Package sm implements the LE Security Manager: the pairing feature
// exchange, LE Secure Connections and legacy Just Works pairing, and the
// key generation functions they rely on.
package sm

import (
	"fmt"

	"github.com/pkg/errors"
	"github.com/rigado/bthost"
)

// SecurityLevel orders the protection a link offers.
type SecurityLevel int

const (
	NoSecurity SecurityLevel = iota
	Encrypted
	Authenticated
	SecureAuthenticated
)

func (l SecurityLevel) String() string {
	switch l {
	case NoSecurity:
		return "no security"
	case Encrypted:
		return "encrypted"
	case Authenticated:
		return "authenticated"
	case SecureAuthenticated:
		return "secure authenticated"
	}
	return fmt.Sprintf("level(%d)", int(l))
}

// SecurityProperties describe a key or an encrypted link.
type SecurityProperties struct {
	Level             SecurityLevel
	EncryptionKeySize int
	SecureConnections bool
}

// BondableMode says whether keys from pairing are distributed and stored.
type BondableMode int

const (
	Bondable BondableMode = iota
	NonBondable
)

func (m BondableMode) String() string {
	if m == NonBondable {
		return "non-bondable"
	}
	return "bondable"
}

// IOCapability [Vol 3, Part H, 3.5.1].
type IOCapability uint8

const (
	IOCapDisplayOnly     IOCapability = 0x00
	IOCapDisplayYesNo    IOCapability = 0x01
	IOCapKeyboardOnly    IOCapability = 0x02
	IOCapNoInputNoOutput IOCapability = 0x03
	IOCapKeyboardDisplay IOCapability = 0x04
)

// Error is an SMP Pairing Failed reason [Vol 3, Part H, 3.5.5].
type Error uint8

const (
	ErrPasskeyEntryFailed          Error = 0x01
	ErrOOBNotAvailable             Error = 0x02
	ErrAuthenticationRequirements  Error = 0x03
	ErrConfirmValueFailed          Error = 0x04
	ErrPairingNotSupported         Error = 0x05
	ErrEncryptionKeySize           Error = 0x06
	ErrCommandNotSupported         Error = 0x07
	ErrUnspecifiedReason           Error = 0x08
	ErrRepeatedAttempts            Error = 0x09
	ErrInvalidParameters           Error = 0x0A
	ErrDHKeyCheckFailed            Error = 0x0B
	ErrNumericComparisonFailed     Error = 0x0C
	ErrBREDRPairingInProgress      Error = 0x0D
	ErrCrossTransportKeyDerivation Error = 0x0E
)

var errMsg = map[Error]string{
	ErrPasskeyEntryFailed:          "passkey entry failed",
	ErrOOBNotAvailable:             "OOB not available",
	ErrAuthenticationRequirements:  "authentication requirements",
	ErrConfirmValueFailed:          "confirm value failed",
	ErrPairingNotSupported:         "pairing not supported",
	ErrEncryptionKeySize:           "encryption key size",
	ErrCommandNotSupported:         "command not supported",
	ErrUnspecifiedReason:           "unspecified reason",
	ErrRepeatedAttempts:            "repeated attempts",
	ErrInvalidParameters:           "invalid parameters",
	ErrDHKeyCheckFailed:            "DHKey check failed",
	ErrNumericComparisonFailed:     "numeric comparison failed",
	ErrBREDRPairingInProgress:      "BR/EDR pairing in progress",
	ErrCrossTransportKeyDerivation: "cross-transport key derivation/generation not allowed",
}

func (e Error) Error() string {
	if s, ok := errMsg[e]; ok {
		return fmt.Sprintf("sm: %s (0x%02X)", s, uint8(e))
	}
	return fmt.Sprintf("sm: reason 0x%02X", uint8(e))
}

// reasonOf maps err to the reason sent in Pairing Failed.
func reasonOf(err error) Error {
	if e, ok := errors.Cause(err).(Error); ok {
		return e
	}
	return ErrUnspecifiedReason
}

// LTK is a long term key with the properties of the pairing that produced
// it.
type LTK struct {
	Security SecurityProperties
	Key      [16]byte
	EDiv     uint16
	Rand     uint64
}

// PairingDelegate answers user interaction requests during pairing.
type PairingDelegate interface {
	IOCapability() IOCapability

	// ConfirmPairing asks the user to accept a Just Works pairing.
	ConfirmPairing(peer bthost.PeerID, confirm func(bool))

	// DisplayPasskey shows a six digit value; with comparison set the user
	// confirms that both devices show the same value.
	DisplayPasskey(peer bthost.PeerID, passkey uint32, comparison bool, confirm func(bool))

	// CompletePairing reports the outcome.
	CompletePairing(peer bthost.PeerID, err error)
}
