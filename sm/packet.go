package sm

import (
	"github.com/pkg/errors"
)

// SMP command codes [Vol 3, Part H, 3.3].
const (
	codePairingRequest          = 0x01
	codePairingResponse         = 0x02
	codePairingConfirm          = 0x03
	codePairingRandom           = 0x04
	codePairingFailed           = 0x05
	codeEncryptionInformation   = 0x06
	codeMasterIdentification    = 0x07
	codeIdentityInformation     = 0x08
	codeIdentityAddrInformation = 0x09
	codeSigningInformation      = 0x0A
	codeSecurityRequest         = 0x0B
	codePairingPublicKey        = 0x0C
	codePairingDHKeyCheck       = 0x0D
	codePairingKeypress         = 0x0E
)

var codeNames = map[uint8]string{
	codePairingRequest:          "pairing request",
	codePairingResponse:         "pairing response",
	codePairingConfirm:          "pairing confirm",
	codePairingRandom:           "pairing random",
	codePairingFailed:           "pairing failed",
	codeEncryptionInformation:   "encryption info",
	codeMasterIdentification:    "master id",
	codeIdentityInformation:     "id info",
	codeIdentityAddrInformation: "id addr info",
	codeSigningInformation:      "signing info",
	codeSecurityRequest:         "security req",
	codePairingPublicKey:        "pairing pub key",
	codePairingDHKeyCheck:       "pairing dhkey check",
	codePairingKeypress:         "pairing keypress",
}

// payload sizes, without the code octet
var payloadLen = map[uint8]int{
	codePairingRequest:          6,
	codePairingResponse:         6,
	codePairingConfirm:          16,
	codePairingRandom:           16,
	codePairingFailed:           1,
	codeEncryptionInformation:   16,
	codeMasterIdentification:    10,
	codeIdentityInformation:     16,
	codeIdentityAddrInformation: 7,
	codeSigningInformation:      16,
	codeSecurityRequest:         1,
	codePairingPublicKey:        64,
	codePairingDHKeyCheck:       16,
	codePairingKeypress:         1,
}

// AuthReq flags [Vol 3, Part H, 3.5.1].
const (
	authReqBonding  uint8 = 0x01
	authReqMITM     uint8 = 0x04
	authReqSC       uint8 = 0x08
	authReqKeypress uint8 = 0x10
	authReqCT2      uint8 = 0x20
)

// KeyDist is the Initiator/Responder Key Distribution field.
type KeyDist uint8

const (
	KeyDistEncKey  KeyDist = 0x01
	KeyDistIDKey   KeyDist = 0x02
	KeyDistSignKey KeyDist = 0x04
	KeyDistLinkKey KeyDist = 0x08
)

const (
	oobNotPresent = 0x00
	oobPresent    = 0x01

	MinEncryptionKeySize = 7
	MaxEncryptionKeySize = 16
)

// PairingParams is the payload of a Pairing Request or Response.
type PairingParams struct {
	IOCapability  IOCapability
	OOBDataFlag   uint8
	AuthReq       uint8
	MaxKeySize    uint8
	InitiatorKeys KeyDist
	ResponderKeys KeyDist
}

// marshal returns the command including its code, as fed to c1.
func (p PairingParams) marshal(code uint8) []byte {
	return []byte{code, uint8(p.IOCapability), p.OOBDataFlag, p.AuthReq, p.MaxKeySize, uint8(p.InitiatorKeys), uint8(p.ResponderKeys)}
}

func parsePairingParams(b []byte) PairingParams {
	return PairingParams{
		IOCapability:  IOCapability(b[0]),
		OOBDataFlag:   b[1],
		AuthReq:       b[2],
		MaxKeySize:    b[3],
		InitiatorKeys: KeyDist(b[4]),
		ResponderKeys: KeyDist(b[5]),
	}
}

// parsePacket splits an SMP SDU into its code and payload. Malformed packets
// map to the reason the peer is told.
func parsePacket(sdu []byte) (uint8, []byte, error) {
	if len(sdu) == 0 {
		return 0, nil, ErrInvalidParameters
	}
	code := sdu[0]
	n, ok := payloadLen[code]
	if !ok {
		return code, nil, ErrCommandNotSupported
	}
	if len(sdu)-1 != n {
		return code, nil, errors.Wrapf(ErrInvalidParameters, "%s: length %d", codeNames[code], len(sdu)-1)
	}
	return code, sdu[1:], nil
}

func packet(code uint8, payload ...[]byte) []byte {
	b := []byte{code}
	for _, p := range payload {
		b = append(b, p...)
	}
	return b
}
