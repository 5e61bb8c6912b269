package hci

import (
	"time"

	"github.com/pkg/errors"
)

// SetErrorHandler sets the handler of transport and command channel errors.
func (h *HCI) SetErrorHandler(handler func(error)) error {
	h.errorHandler = handler
	return nil
}

// SetTransportHCISocket selects the HCI user channel of controller id.
func (h *HCI) SetTransportHCISocket(id int) error {
	if id < 0 {
		return errors.Errorf("invalid hci device %d", id)
	}
	return h.setTransport(transport{kind: transportHCISocket, id: id})
}

// SetTransportH4Socket selects an H4 bridge reached over TCP.
func (h *HCI) SetTransportH4Socket(addr string, timeout time.Duration) error {
	return h.setTransport(transport{kind: transportH4Socket, addr: addr, timeout: timeout})
}

// SetTransportH4Uart selects an H4 controller on a serial port.
func (h *HCI) SetTransportH4Uart(path string) error {
	return h.setTransport(transport{kind: transportH4Uart, addr: path})
}

func (h *HCI) setTransport(t transport) error {
	if h.transport.kind != transportNone {
		return errors.Errorf("transport already set to %s", h.transport)
	}
	h.transport = t
	return nil
}
