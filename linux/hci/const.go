package hci

import "time"

// HCI Packet types
const (
	PktTypeCommand uint8 = 0x01
	PktTypeACLData uint8 = 0x02
	PktTypeSCOData uint8 = 0x03
	PktTypeEvent   uint8 = 0x04
	PktTypeVendor  uint8 = 0xFF
)

// Packet boundary flags of HCI ACL Data Packet [Vol 2, Part E, 5.4.2].
const (
	PbfHostToControllerStart = 0x00 // Start of a non-automatically-flushable from host to controller.
	PbfContinuing            = 0x01 // Continuing fragment.
	PbfControllerToHostStart = 0x02 // Start of a non-automatically-flushable from controller to host.
	PbfCompleteL2CAPPDU      = 0x03 // A automatically flushable complete PDU. (Not used in LE-U).
)

// OpCode identifies an HCI command.
type OpCode uint16

// EventCode identifies an HCI event or an LE meta subevent.
type EventCode uint8

// Event codes [Vol 2, Part E, 7.7].
const (
	InquiryCompleteEvent                     EventCode = 0x01
	InquiryResultEvent                       EventCode = 0x02
	ConnectionCompleteEvent                  EventCode = 0x03
	DisconnectionCompleteEvent               EventCode = 0x05
	RemoteNameRequestCompleteEvent           EventCode = 0x07
	EncryptionChangeEvent                    EventCode = 0x08
	ReadRemoteSupportedFeaturesCompleteEvent EventCode = 0x0B
	ReadRemoteVersionInfoCompleteEvent       EventCode = 0x0C
	CommandCompleteEvent                     EventCode = 0x0E
	CommandStatusEvent                       EventCode = 0x0F
	HardwareErrorEvent                       EventCode = 0x10
	NumberOfCompletedPacketsEvent            EventCode = 0x13
	DataBufferOverflowEvent                  EventCode = 0x1A
	InquiryResultWithRSSIEvent               EventCode = 0x22
	ReadRemoteExtendedFeaturesCompleteEvent  EventCode = 0x23
	ExtendedInquiryResultEvent               EventCode = 0x2F
	EncryptionKeyRefreshCompleteEvent        EventCode = 0x30
	LEMetaEvent                              EventCode = 0x3E
	VendorEvent                              EventCode = 0xFF
)

// LE meta subevent codes [Vol 2, Part E, 7.7.65].
const (
	LEConnectionCompleteSubevent         EventCode = 0x01
	LEAdvertisingReportSubevent          EventCode = 0x02
	LEConnectionUpdateCompleteSubevent   EventCode = 0x03
	LEReadRemoteFeaturesCompleteSubevent EventCode = 0x04
	LELongTermKeyRequestSubevent         EventCode = 0x05
	LERemoteConnParamRequestSubevent     EventCode = 0x06
)

const (
	RoleMaster = 0x00
	RoleSlave  = 0x01
)

// Inquiry parameters [Vol 2, Part E, 7.1.1].
var InquiryLAPGIAC = [3]byte{0x33, 0x8B, 0x9E}

const (
	InquiryLengthDefault = 0x08 // 10.24 s
	InquiryUnlimited     = 0x00

	InquiryModeStandard = 0x00
	InquiryModeRSSI     = 0x01
	InquiryModeExtended = 0x02

	ScanEnableInquiry = 0x01
	ScanEnablePage    = 0x02

	InquiryScanTypeInterlaced = 0x01

	MaxLocalNameLength            = 248
	ExtendedInquiryResponseLength = 240
)

const (
	// commands the controller lets us queue before it reports its own limit
	defaultAllowedCommands = 1

	// emergency timeout for commands the controller never answers
	commandTimeout = 5 * time.Second

	readBufferSize = 4096
)
