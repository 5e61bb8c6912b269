// Package evt holds zero-copy accessors over HCI event parameters
// [Vol 2, Part E, 7.7]. Each type is the event payload without the event
// code and length header; LE meta events include the subevent code.
package evt

// CommandComplete implements Command Complete (0x0E) [Vol 2, Part E, 7.7.14].
type CommandComplete []byte

// CommandStatus implements Command Status (0x0F) [Vol 2, Part E, 7.7.15].
type CommandStatus []byte

// InquiryComplete implements Inquiry Complete (0x01) [Vol 2, Part E, 7.7.1].
type InquiryComplete []byte

// InquiryResult implements Inquiry Result (0x02) [Vol 2, Part E, 7.7.2].
type InquiryResult []byte

// InquiryResultWithRSSI implements Inquiry Result with RSSI (0x22) [Vol 2, Part E, 7.7.33].
type InquiryResultWithRSSI []byte

// ExtendedInquiryResult implements Extended Inquiry Result (0x2F) [Vol 2, Part E, 7.7.38].
type ExtendedInquiryResult []byte

// RemoteNameRequestComplete implements Remote Name Request Complete (0x07) [Vol 2, Part E, 7.7.7].
type RemoteNameRequestComplete []byte

// ReadRemoteVersionInformationComplete implements Read Remote Version Information Complete (0x0C) [Vol 2, Part E, 7.7.12].
type ReadRemoteVersionInformationComplete []byte

// ReadRemoteSupportedFeaturesComplete implements Read Remote Supported Features Complete (0x0B) [Vol 2, Part E, 7.7.11].
type ReadRemoteSupportedFeaturesComplete []byte

// ReadRemoteExtendedFeaturesComplete implements Read Remote Extended Features Complete (0x23) [Vol 2, Part E, 7.7.34].
type ReadRemoteExtendedFeaturesComplete []byte

// DisconnectionComplete implements Disconnection Complete (0x05) [Vol 2, Part E, 7.7.5].
type DisconnectionComplete []byte

// EncryptionChange implements Encryption Change (0x08) [Vol 2, Part E, 7.7.8].
type EncryptionChange []byte

// NumberOfCompletedPackets implements Number Of Completed Packets (0x13) [Vol 2, Part E, 7.7.19].
type NumberOfCompletedPackets []byte

// LEConnectionComplete implements LE Connection Complete (0x3E:0x01) [Vol 2, Part E, 7.7.65.1].
type LEConnectionComplete []byte

// LEConnectionUpdateComplete implements LE Connection Update Complete (0x3E:0x03) [Vol 2, Part E, 7.7.65.3].
type LEConnectionUpdateComplete []byte

// LEReadRemoteFeaturesComplete implements LE Read Remote Features Complete (0x3E:0x04) [Vol 2, Part E, 7.7.65.4].
type LEReadRemoteFeaturesComplete []byte

// LELongTermKeyRequest implements LE Long Term Key Request (0x3E:0x05) [Vol 2, Part E, 7.7.65.5].
type LELongTermKeyRequest []byte

func (e CommandComplete) NumHCICommandPackets() uint8 {
	v, _ := e.NumHCICommandPacketsWErr()
	return v
}

func (e CommandComplete) CommandOpcode() uint16 {
	v, _ := e.CommandOpcodeWErr()
	return v
}

func (e CommandComplete) ReturnParameters() []byte {
	v, _ := e.ReturnParametersWErr()
	return v
}

func (e CommandStatus) Status() uint8 {
	v, _ := e.StatusWErr()
	return v
}

func (e CommandStatus) NumHCICommandPackets() uint8 {
	v, _ := e.NumHCICommandPacketsWErr()
	return v
}

func (e CommandStatus) CommandOpcode() uint16 {
	v, _ := e.CommandOpcodeWErr()
	return v
}

func (e NumberOfCompletedPackets) NumberOfHandles() uint8 {
	v, _ := e.NumberOfHandlesWErr()
	return v
}

func (e NumberOfCompletedPackets) ConnectionHandle(i int) uint16 {
	v, _ := e.ConnectionHandleWErr(i)
	return v
}

func (e NumberOfCompletedPackets) HCNumOfCompletedPackets(i int) uint16 {
	v, _ := e.HCNumOfCompletedPacketsWErr(i)
	return v
}

func (e DisconnectionComplete) Status() uint8 {
	v, _ := getByte(e, 0, 0xff)
	return v
}

func (e DisconnectionComplete) ConnectionHandle() uint16 {
	v, _ := getUint16LE(e, 1, 0xffff)
	return v & 0x0fff
}

func (e DisconnectionComplete) Reason() uint8 {
	v, _ := getByte(e, 3, 0)
	return v
}

func (e EncryptionChange) Status() uint8 {
	v, _ := getByte(e, 0, 0xff)
	return v
}

func (e EncryptionChange) ConnectionHandle() uint16 {
	v, _ := getUint16LE(e, 1, 0xffff)
	return v & 0x0fff
}

func (e EncryptionChange) EncryptionEnabled() uint8 {
	v, _ := getByte(e, 3, 0)
	return v
}

func (e LEConnectionComplete) Status() uint8 {
	v, _ := e.StatusWErr()
	return v
}

func (e LEConnectionComplete) ConnectionHandle() uint16 {
	v, _ := e.ConnectionHandleWErr()
	return v
}

func (e LEConnectionComplete) Role() uint8 {
	v, _ := getByte(e, 4, 0xff)
	return v
}

func (e LEConnectionComplete) PeerAddressType() uint8 {
	v, _ := getByte(e, 5, 0xff)
	return v
}

func (e LEConnectionComplete) PeerAddress() [6]byte {
	v, _ := e.PeerAddressWErr()
	return v
}

func (e LEConnectionComplete) ConnInterval() uint16 {
	v, _ := getUint16LE(e, 12, 0)
	return v
}

func (e LEConnectionComplete) ConnLatency() uint16 {
	v, _ := getUint16LE(e, 14, 0)
	return v
}

func (e LEConnectionComplete) SupervisionTimeout() uint16 {
	v, _ := getUint16LE(e, 16, 0)
	return v
}

func (e LEConnectionUpdateComplete) Status() uint8 {
	v, _ := getByte(e, 1, 0xff)
	return v
}

func (e LEConnectionUpdateComplete) ConnectionHandle() uint16 {
	v, _ := getUint16LE(e, 2, 0xffff)
	return v & 0x0fff
}

func (e LEConnectionUpdateComplete) ConnInterval() uint16 {
	v, _ := getUint16LE(e, 4, 0)
	return v
}

func (e LEConnectionUpdateComplete) ConnLatency() uint16 {
	v, _ := getUint16LE(e, 6, 0)
	return v
}

func (e LEConnectionUpdateComplete) SupervisionTimeout() uint16 {
	v, _ := getUint16LE(e, 8, 0)
	return v
}

func (e LELongTermKeyRequest) ConnectionHandle() uint16 {
	v, _ := getUint16LE(e, 1, 0xffff)
	return v & 0x0fff
}

func (e LELongTermKeyRequest) RandomNumber() uint64 {
	v, _ := getUint64LE(e, 3, 0)
	return v
}

func (e LELongTermKeyRequest) EncryptedDiversifier() uint16 {
	v, _ := getUint16LE(e, 11, 0)
	return v
}
