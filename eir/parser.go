package eir

import (
	"fmt"

	"github.com/pkg/errors"
	"github.com/rigado/bthost"
)

// Data types from the Core Specification Supplement, Part A.
const (
	TypeFlags             byte = 0x01
	TypeUUID16Incomplete  byte = 0x02
	TypeUUID16Complete    byte = 0x03
	TypeUUID32Incomplete  byte = 0x04
	TypeUUID32Complete    byte = 0x05
	TypeUUID128Incomplete byte = 0x06
	TypeUUID128Complete   byte = 0x07
	TypeShortName         byte = 0x08
	TypeCompleteName      byte = 0x09
	TypeTxPower           byte = 0x0a
	TypeClassOfDevice     byte = 0x0d
	TypeServiceData16     byte = 0x16
	TypeManufacturerData  byte = 0xff
)

type recordRule struct {
	arrayElementSz int
	minSz          int
}

var decodeRules = map[byte]recordRule{
	TypeUUID16Incomplete:  {2, 2},
	TypeUUID16Complete:    {2, 2},
	TypeUUID32Incomplete:  {4, 4},
	TypeUUID32Complete:    {4, 4},
	TypeUUID128Incomplete: {16, 16},
	TypeUUID128Complete:   {16, 16},
	TypeShortName:         {0, 1},
	TypeCompleteName:      {0, 1},
	TypeTxPower:           {0, 1},
	TypeClassOfDevice:     {0, 3},
	TypeServiceData16:     {0, 2},
	TypeManufacturerData:  {0, 2},
	TypeFlags:             {0, 1},
}

func checkArray(size int, b []byte) error {
	if len(b) == 0 {
		return fmt.Errorf("nil/empty bytes")
	}
	if len(b)%size != 0 {
		return fmt.Errorf("incorrect size")
	}
	return nil
}

// decode splits an EIR or AD structure into its records. A zero length
// octet ends the significant part; the rest is padding.
func decode(pdu []byte) (map[byte][]byte, error) {
	if pdu == nil {
		return nil, fmt.Errorf("nil pdu")
	}

	m := make(map[byte][]byte)
	for i := 0; i < len(pdu); {
		//length @ offset 0
		//type @ offset 1
		//data @ 2 - length
		length := int(pdu[i])
		if length == 0 {
			break
		}

		//do we have all the bytes for the payload?
		if (i + length) >= len(pdu) {
			return nil, fmt.Errorf("buffer overflow: want %v, have %v", (i + length), len(pdu))
		}

		typ := pdu[i+1]
		b := pdu[i+2 : i+1+length]

		rule, ok := decodeRules[typ]
		if !ok {
			bthost.GetLogger().Debugf("eir: ignored unsupported type 0x%02x", typ)
		} else {
			if rule.minSz > len(b) {
				return nil, fmt.Errorf("type 0x%02x: min length %v, have %v", typ, rule.minSz, len(b))
			}
			if rule.arrayElementSz > 0 {
				if err := checkArray(rule.arrayElementSz, b); err != nil {
					return nil, errors.Wrapf(err, "type 0x%02x", typ)
				}
			}
			// repeated records of one type concatenate
			m[typ] = append(m[typ], b...)
		}

		i += length + 1
	}

	return m, nil
}
