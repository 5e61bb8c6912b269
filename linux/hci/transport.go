package hci

import (
	"fmt"
	"io"
	"time"

	"github.com/pkg/errors"
	"github.com/rigado/bthost/linux/hci/h4"
	"github.com/rigado/bthost/linux/hci/socket"
)

type transportKind int

const (
	transportNone transportKind = iota
	transportHCISocket
	transportH4Socket
	transportH4Uart
)

// transport describes how to reach the controller. Only the fields of kind
// are meaningful.
type transport struct {
	kind    transportKind
	id      int
	addr    string
	timeout time.Duration
}

func (t transport) String() string {
	switch t.kind {
	case transportHCISocket:
		return fmt.Sprintf("hci%d", t.id)
	case transportH4Socket:
		return "h4 socket " + t.addr
	case transportH4Uart:
		return "h4 uart " + t.addr
	}
	return "no transport"
}

func (t transport) open() (io.ReadWriteCloser, error) {
	var rw io.ReadWriteCloser
	var err error
	switch t.kind {
	case transportHCISocket:
		rw, err = socket.NewSocket(t.id)
	case transportH4Socket:
		rw, err = h4.NewSocket(t.addr, t.timeout)
	case transportH4Uart:
		so := h4.DefaultSerialOptions()
		so.PortName = t.addr
		rw, err = h4.NewSerial(so)
	default:
		return nil, errors.New("no transport configured")
	}
	if err != nil {
		return nil, errors.Wrapf(err, "can't open %s", t)
	}
	return rw, nil
}
