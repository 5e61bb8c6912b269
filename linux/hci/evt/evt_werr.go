package evt

import (
	"encoding/binary"
	"fmt"
)

// Inquiry response records, one per responding device.
const (
	inquiryResultSize         = 14 // addr, psrm, 2 reserved, cod, clock offset
	inquiryResultWithRSSISize = 14 // addr, psrm, reserved, cod, clock offset, rssi
	extendedInquiryDataSize   = 240
)

func (e CommandComplete) NumHCICommandPacketsWErr() (uint8, error) {
	return getByte(e, 0, 0)
}

func (e CommandComplete) CommandOpcodeWErr() (uint16, error) {
	return getUint16LE(e, 1, 0xffff)
}

func (e CommandComplete) ReturnParametersWErr() ([]byte, error) {
	if len(e) == 3 {
		return []byte{}, nil
	}
	return getBytes(e, 3, -1)
}

func (e CommandStatus) StatusWErr() (uint8, error) {
	return getByte(e, 0, 0xff)
}

func (e CommandStatus) NumHCICommandPacketsWErr() (uint8, error) {
	return getByte(e, 1, 0)
}

func (e CommandStatus) CommandOpcodeWErr() (uint16, error) {
	return getUint16LE(e, 2, 0xffff)
}

func (e CommandStatus) Valid() bool {
	return len(e) == 4
}

func (e InquiryComplete) StatusWErr() (uint8, error) {
	return getByte(e, 0, 0xff)
}

func (e InquiryResult) NumResponsesWErr() (uint8, error) {
	n, err := getByte(e, 0, 0)
	if err != nil {
		return 0, err
	}
	if len(e) != 1+int(n)*inquiryResultSize {
		return 0, fmt.Errorf("inquiry result: %d responses in %d bytes", n, len(e))
	}
	return n, nil
}

func (e InquiryResult) BDADDRWErr(i int) ([6]byte, error) {
	return getAddr(e, 1+i*inquiryResultSize)
}

func (e InquiryResult) PageScanRepetitionModeWErr(i int) (uint8, error) {
	return getByte(e, 1+i*inquiryResultSize+6, 0)
}

func (e InquiryResult) ClassOfDeviceWErr(i int) ([3]byte, error) {
	return getCOD(e, 1+i*inquiryResultSize+9)
}

func (e InquiryResult) ClockOffsetWErr(i int) (uint16, error) {
	return getUint16LE(e, 1+i*inquiryResultSize+12, 0)
}

func (e InquiryResultWithRSSI) NumResponsesWErr() (uint8, error) {
	n, err := getByte(e, 0, 0)
	if err != nil {
		return 0, err
	}
	if len(e) != 1+int(n)*inquiryResultWithRSSISize {
		return 0, fmt.Errorf("inquiry result with rssi: %d responses in %d bytes", n, len(e))
	}
	return n, nil
}

func (e InquiryResultWithRSSI) BDADDRWErr(i int) ([6]byte, error) {
	return getAddr(e, 1+i*inquiryResultWithRSSISize)
}

func (e InquiryResultWithRSSI) PageScanRepetitionModeWErr(i int) (uint8, error) {
	return getByte(e, 1+i*inquiryResultWithRSSISize+6, 0)
}

func (e InquiryResultWithRSSI) ClassOfDeviceWErr(i int) ([3]byte, error) {
	return getCOD(e, 1+i*inquiryResultWithRSSISize+8)
}

func (e InquiryResultWithRSSI) ClockOffsetWErr(i int) (uint16, error) {
	return getUint16LE(e, 1+i*inquiryResultWithRSSISize+11, 0)
}

func (e InquiryResultWithRSSI) RSSIWErr(i int) (int8, error) {
	v, err := getByte(e, 1+i*inquiryResultWithRSSISize+13, 0x7f)
	return int8(v), err
}

// Validate checks that the event carries exactly one response.
func (e ExtendedInquiryResult) Validate() error {
	if len(e) != 1+inquiryResultWithRSSISize+extendedInquiryDataSize {
		return fmt.Errorf("extended inquiry result: bad length %d", len(e))
	}
	if e[0] != 1 {
		return fmt.Errorf("extended inquiry result: %d responses", e[0])
	}
	return nil
}

func (e ExtendedInquiryResult) BDADDRWErr() ([6]byte, error) {
	return getAddr(e, 1)
}

func (e ExtendedInquiryResult) PageScanRepetitionModeWErr() (uint8, error) {
	return getByte(e, 7, 0)
}

func (e ExtendedInquiryResult) ClassOfDeviceWErr() ([3]byte, error) {
	return getCOD(e, 9)
}

func (e ExtendedInquiryResult) ClockOffsetWErr() (uint16, error) {
	return getUint16LE(e, 12, 0)
}

func (e ExtendedInquiryResult) RSSIWErr() (int8, error) {
	v, err := getByte(e, 14, 0x7f)
	return int8(v), err
}

func (e ExtendedInquiryResult) ExtendedInquiryResponseWErr() ([]byte, error) {
	return getBytes(e, 15, extendedInquiryDataSize)
}

func (e RemoteNameRequestComplete) StatusWErr() (uint8, error) {
	return getByte(e, 0, 0xff)
}

func (e RemoteNameRequestComplete) BDADDRWErr() ([6]byte, error) {
	return getAddr(e, 1)
}

// RemoteNameWErr returns the name up to the first NUL.
func (e RemoteNameRequestComplete) RemoteNameWErr() (string, error) {
	b, err := getBytes(e, 7, -1)
	if err != nil {
		return "", err
	}
	if len(b) > 248 {
		b = b[:248]
	}
	for i, c := range b {
		if c == 0 {
			b = b[:i]
			break
		}
	}
	return string(b), nil
}

func (e ReadRemoteVersionInformationComplete) StatusWErr() (uint8, error) {
	return getByte(e, 0, 0xff)
}

func (e ReadRemoteVersionInformationComplete) ConnectionHandleWErr() (uint16, error) {
	return getHandle(e, 1)
}

func (e ReadRemoteVersionInformationComplete) VersionWErr() (uint8, error) {
	return getByte(e, 3, 0)
}

func (e ReadRemoteVersionInformationComplete) ManufacturerNameWErr() (uint16, error) {
	return getUint16LE(e, 4, 0)
}

func (e ReadRemoteVersionInformationComplete) SubversionWErr() (uint16, error) {
	return getUint16LE(e, 6, 0)
}

func (e ReadRemoteSupportedFeaturesComplete) StatusWErr() (uint8, error) {
	return getByte(e, 0, 0xff)
}

func (e ReadRemoteSupportedFeaturesComplete) ConnectionHandleWErr() (uint16, error) {
	return getHandle(e, 1)
}

func (e ReadRemoteSupportedFeaturesComplete) LMPFeaturesWErr() (uint64, error) {
	return getUint64LE(e, 3, 0)
}

func (e ReadRemoteExtendedFeaturesComplete) StatusWErr() (uint8, error) {
	return getByte(e, 0, 0xff)
}

func (e ReadRemoteExtendedFeaturesComplete) ConnectionHandleWErr() (uint16, error) {
	return getHandle(e, 1)
}

func (e ReadRemoteExtendedFeaturesComplete) PageNumberWErr() (uint8, error) {
	return getByte(e, 3, 0)
}

func (e ReadRemoteExtendedFeaturesComplete) MaxPageNumberWErr() (uint8, error) {
	return getByte(e, 4, 0)
}

func (e ReadRemoteExtendedFeaturesComplete) ExtendedLMPFeaturesWErr() (uint64, error) {
	return getUint64LE(e, 5, 0)
}

// Per [Vol 2, Part E, 7.7.19], the packet structure is:
//
//     NumOfHandle, HandleA, HandleB, CompPktNumA, CompPktNumB
//
// But we got the actual packet from BCM20702A1 with the following structure instead.
//
//     NumOfHandle, HandleA, CompPktNumA, HandleB, CompPktNumB
//              02,   40 00,       01 00,   41 00,       01 00

func (e NumberOfCompletedPackets) NumberOfHandlesWErr() (uint8, error) {
	return getByte(e, 0, 0)
}

func (e NumberOfCompletedPackets) ConnectionHandleWErr(i int) (uint16, error) {
	si := 1 + (i * 4)
	return getUint16LE(e, si, 0xffff)
}

func (e NumberOfCompletedPackets) HCNumOfCompletedPacketsWErr(i int) (uint16, error) {
	si := 1 + (i * 4) + 2
	return getUint16LE(e, si, 0)
}

func (e LEConnectionComplete) StatusWErr() (uint8, error) {
	return getByte(e, 1, 0xff)
}

func (e LEConnectionComplete) ConnectionHandleWErr() (uint16, error) {
	return getHandle(e, 2)
}

func (e LEConnectionComplete) PeerAddressWErr() ([6]byte, error) {
	return getAddr(e, 6)
}

func (e LEReadRemoteFeaturesComplete) StatusWErr() (uint8, error) {
	return getByte(e, 1, 0xff)
}

func (e LEReadRemoteFeaturesComplete) ConnectionHandleWErr() (uint16, error) {
	return getHandle(e, 2)
}

func (e LEReadRemoteFeaturesComplete) LEFeaturesWErr() (uint64, error) {
	return getUint64LE(e, 4, 0)
}

//get or default
func getByte(b []byte, i int, def byte) (byte, error) {
	bb, err := getBytes(b, i, 1)
	if err != nil {
		return def, err
	}
	return bb[0], nil
}

//get or default
func getUint16LE(b []byte, i int, def uint16) (uint16, error) {
	bb, err := getBytes(b, i, 2)
	if err != nil {
		return def, err
	}
	return binary.LittleEndian.Uint16(bb), nil
}

func getUint64LE(b []byte, i int, def uint64) (uint64, error) {
	bb, err := getBytes(b, i, 8)
	if err != nil {
		return def, err
	}
	return binary.LittleEndian.Uint64(bb), nil
}

func getHandle(b []byte, i int) (uint16, error) {
	h, err := getUint16LE(b, i, 0xffff)
	return h & 0x0fff, err
}

func getAddr(b []byte, i int) ([6]byte, error) {
	var a [6]byte
	bb, err := getBytes(b, i, 6)
	if err != nil {
		return a, err
	}
	copy(a[:], bb)
	return a, nil
}

func getCOD(b []byte, i int) ([3]byte, error) {
	var c [3]byte
	bb, err := getBytes(b, i, 3)
	if err != nil {
		return c, err
	}
	copy(c[:], bb)
	return c, nil
}

func getBytes(bytes []byte, start int, count int) ([]byte, error) {
	if bytes == nil || start >= len(bytes) {
		return nil, fmt.Errorf("index error")
	}

	if count < 0 {
		return bytes[start:], nil
	}

	end := start + count
	//end is non-inclusive
	if end > len(bytes) {
		return nil, fmt.Errorf("index error")
	}

	return bytes[start:end], nil
}
