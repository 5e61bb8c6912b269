// Package cmd holds the HCI command parameter layouts [Vol 2, Part E, 7].
// Every command marshals its parameters little endian in field order.
package cmd

import (
	"bytes"
	"encoding/binary"
	"io"
)

func binaryLen(c interface{}) int { return binary.Size(c) }

func marshal(c interface{}, b []byte) error {
	if binary.Size(c) > len(b) {
		return io.ErrShortBuffer
	}
	return binary.Write(bytes.NewBuffer(b[:0]), binary.LittleEndian, c)
}

func unmarshal(rp interface{}, b []byte) error {
	if binary.Size(rp) > len(b) {
		return io.ErrUnexpectedEOF
	}
	return binary.Read(bytes.NewReader(b), binary.LittleEndian, rp)
}

const (
	ogfLinkControl        = 0x01
	ogfControllerBaseband = 0x03
	ogfInformational      = 0x04
	ogfLE                 = 0x08
)

// Command opcodes.
const (
	InquiryCode                      = ogfLinkControl<<10 | 0x0001
	InquiryCancelCode                = ogfLinkControl<<10 | 0x0002
	DisconnectCode                   = ogfLinkControl<<10 | 0x0006
	RemoteNameRequestCode            = ogfLinkControl<<10 | 0x0019
	ReadRemoteSupportedFeaturesCode  = ogfLinkControl<<10 | 0x001B
	ReadRemoteExtendedFeaturesCode   = ogfLinkControl<<10 | 0x001C
	ReadRemoteVersionInformationCode = ogfLinkControl<<10 | 0x001D

	SetEventMaskCode                 = ogfControllerBaseband<<10 | 0x0001
	ResetCode                        = ogfControllerBaseband<<10 | 0x0003
	WriteLocalNameCode               = ogfControllerBaseband<<10 | 0x0013
	ReadScanEnableCode               = ogfControllerBaseband<<10 | 0x0019
	WriteScanEnableCode              = ogfControllerBaseband<<10 | 0x001A
	WriteInquiryScanActivityCode     = ogfControllerBaseband<<10 | 0x001E
	WriteInquiryScanTypeCode         = ogfControllerBaseband<<10 | 0x0043
	WriteInquiryModeCode             = ogfControllerBaseband<<10 | 0x0045
	WriteExtendedInquiryResponseCode = ogfControllerBaseband<<10 | 0x0052
	WriteLEHostSupportCode           = ogfControllerBaseband<<10 | 0x006D

	ReadBufferSizeCode = ogfInformational<<10 | 0x0005
	ReadBDADDRCode     = ogfInformational<<10 | 0x0009

	LESetEventMaskCode                    = ogfLE<<10 | 0x0001
	LEReadBufferSizeCode                  = ogfLE<<10 | 0x0002
	LECreateConnectionCode                = ogfLE<<10 | 0x000D
	LECreateConnectionCancelCode          = ogfLE<<10 | 0x000E
	LEConnectionUpdateCode                = ogfLE<<10 | 0x0013
	LEReadRemoteFeaturesCode              = ogfLE<<10 | 0x0016
	LEStartEncryptionCode                 = ogfLE<<10 | 0x0019
	LELongTermKeyRequestReplyCode         = ogfLE<<10 | 0x001A
	LELongTermKeyRequestNegativeReplyCode = ogfLE<<10 | 0x001B
)
