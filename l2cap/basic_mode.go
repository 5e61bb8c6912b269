package l2cap

// rxEngine turns received frames into SDUs. ProcessPDU returns the SDUs the
// frame completed, in order; frames that complete nothing return none.
type rxEngine interface {
	ProcessPDU(p PDU) [][]byte
}

// txEngine turns SDUs into frames handed to the send callback.
type txEngine interface {
	QueueSDU(sdu []byte) bool
}

// sendFrameFunc transmits the information payload of one frame. The link
// adds the basic header, and the FCS in ERTM.
type sendFrameFunc func(payload []byte)

// basicRxEngine passes B-frames through [Vol 3, Part A, 3.1].
type basicRxEngine struct{}

func (basicRxEngine) ProcessPDU(p PDU) [][]byte {
	sdu := make([]byte, len(p.Payload()))
	copy(sdu, p.Payload())
	return [][]byte{sdu}
}

type basicTxEngine struct {
	maxTxSDUSize int
	send         sendFrameFunc
}

func (e *basicTxEngine) QueueSDU(sdu []byte) bool {
	if len(sdu) > e.maxTxSDUSize {
		return false
	}
	e.send(sdu)
	return true
}
