// Package h4 implements the HCI UART transport [Vol 4, Part A] over a serial
// port or a TCP bridge.
package h4

import (
	"io"
	"net"
	"sync"
	"time"

	"github.com/jacobsa/go-serial/serial"
	"github.com/pkg/errors"
	"github.com/rigado/bthost"
)

const rxQueueSize = 64

type h4 struct {
	rw  io.ReadWriteCloser
	log bthost.Logger

	wmu sync.Mutex

	frame   *frame
	rxQueue chan []byte

	done chan struct{}
	cmu  sync.Mutex
}

// DefaultSerialOptions returns the serial settings of common HCI UART
// controllers.
func DefaultSerialOptions() serial.OpenOptions {
	return serial.OpenOptions{
		PortName:              "/dev/ttyACM0",
		BaudRate:              1000000,
		DataBits:              8,
		StopBits:              1,
		ParityMode:            serial.PARITY_NONE,
		RTSCTSFlowControl:     true,
		MinimumReadSize:       0,
		InterCharacterTimeout: 100,
	}
}

// NewSerial opens an H4 transport on a serial port.
func NewSerial(opts serial.OpenOptions) (io.ReadWriteCloser, error) {
	// force these
	opts.MinimumReadSize = 0
	opts.InterCharacterTimeout = 100

	sp, err := serial.Open(opts)
	if err != nil {
		return nil, errors.Wrapf(err, "can't open %s", opts.PortName)
	}
	return newH4(sp), nil
}

// NewSocket opens an H4 transport bridged over TCP.
func NewSocket(addr string, timeout time.Duration) (io.ReadWriteCloser, error) {
	c, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return nil, errors.Wrapf(err, "can't dial %s", addr)
	}
	return newH4(&deadlineConn{Conn: c, timeout: timeout}), nil
}

func newH4(rw io.ReadWriteCloser) *h4 {
	h := &h4{
		rw:      rw,
		log:     bthost.ComponentLogger("h4"),
		rxQueue: make(chan []byte, rxQueueSize),
		done:    make(chan struct{}),
	}
	h.frame = newFrame(h.rxQueue)
	go h.rxLoop()
	return h
}

// Read returns one complete HCI packet. A zero length read with a nil error
// is a read timeout.
func (h *h4) Read(p []byte) (int, error) {
	select {
	case <-h.done:
		return 0, io.EOF
	case t := <-h.rxQueue:
		if len(p) < len(t) {
			return 0, io.ErrShortBuffer
		}
		return copy(p, t), nil
	case <-time.After(time.Second):
		return 0, nil
	}
}

func (h *h4) Write(p []byte) (int, error) {
	if !h.isOpen() {
		return 0, io.EOF
	}

	h.wmu.Lock()
	defer h.wmu.Unlock()
	n, err := h.rw.Write(p)
	return n, errors.Wrap(err, "can't write h4")
}

func (h *h4) Close() error {
	h.cmu.Lock()
	defer h.cmu.Unlock()

	select {
	case <-h.done:
		return nil
	default:
		close(h.done)
		h.log.Debug("closing h4")
		return errors.Wrap(h.rw.Close(), "can't close h4")
	}
}

func (h *h4) isOpen() bool {
	select {
	case <-h.done:
		return false
	default:
		return true
	}
}

func (h *h4) rxLoop() {
	tmp := make([]byte, 512)
	for h.isOpen() {
		n, err := h.rw.Read(tmp)
		if err == io.EOF {
			h.log.Debug("h4 rx closed")
			return
		}
		if err != nil || n == 0 {
			continue
		}
		h.frame.Assemble(tmp[:n])
	}
}
