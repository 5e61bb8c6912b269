package l2cap

import "github.com/sigurn/crc16"

// The ERTM Frame Check Sequence is CRC-16/ARC: generator
// x^16 + x^15 + x^2 + 1, reflected, from an all-zero register
// [Vol 3, Part A, 3.3.5].
var fcsTable = crc16.MakeTable(crc16.CRC16_ARC)

func fcs(b []byte) uint16 {
	return crc16.Checksum(b, fcsTable)
}
