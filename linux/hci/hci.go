package hci

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"github.com/rigado/bthost"
	"github.com/rigado/bthost/dispatch"
	"github.com/rigado/bthost/linux/hci/cmd"
	"golang.org/x/sync/errgroup"
)

// HCI owns the controller transport: it reads packets from the socket,
// routes events to the command channel and data to the ACL data channel.
type HCI struct {
	sync.Mutex

	d   dispatch.Dispatcher
	log bthost.Logger

	transport transport
	skt       io.ReadWriteCloser

	cmd *CommandChannel
	acl *ACLDataChannel

	// Device information or status.
	addr bthost.DeviceAddress

	//error handler
	errorHandler func(error)

	g      *errgroup.Group
	cancel context.CancelFunc
}

// NewHCI returns a hci device whose callbacks run on d.
func NewHCI(d dispatch.Dispatcher) *HCI {
	return &HCI{
		d:   d,
		log: bthost.ComponentLogger("hci"),
	}
}

// Init opens the transport, starts the reader and runs the controller
// initialization sequence. It blocks and must not be called from d.
func (h *HCI) Init(ctx context.Context) error {
	var err error
	h.skt, err = h.transport.open()
	if err != nil {
		return err
	}
	h.log.Debugf("opened %s", h.transport)
	return h.InitWith(ctx, h.skt)
}

// InitWith is Init over an already opened transport.
func (h *HCI) InitWith(ctx context.Context, rw io.ReadWriteCloser) error {
	h.skt = rw
	h.cmd = NewCommandChannel(h.d, rw)
	if h.errorHandler != nil {
		h.cmd.SetErrorHandler(h.errorHandler)
	}

	ctx, h.cancel = context.WithCancel(ctx)
	h.g, ctx = errgroup.WithContext(ctx)
	h.g.Go(func() error { return h.sktReadLoop(ctx) })
	h.g.Go(func() error {
		<-ctx.Done()
		h.cmd.Close()
		return h.skt.Close()
	})

	if err := h.init(); err != nil {
		h.cancel()
		return errors.Wrap(err, "hci init")
	}
	return nil
}

func (h *HCI) init() error {
	h.log.Info("hci reset")
	if err := h.cmd.Send(&cmd.Reset{}, nil); err != nil {
		return errors.Wrap(err, "reset")
	}

	var bdaddr cmd.ReadBDADDRRP
	if err := h.cmd.Send(&cmd.ReadBDADDR{}, &bdaddr); err != nil {
		return errors.Wrap(err, "read bdaddr")
	}
	h.addr = bthost.NewAddr(bthost.AddrTypeLEPublic, bdaddr.BDADDR)

	//ES note: Per Core Spec 5.0, Part E, 7.4.5
	//This command is _not_ to be supported by LE only controllers
	var bredr DataBufferInfo
	var rbs cmd.ReadBufferSizeRP
	if err := h.cmd.Send(&cmd.ReadBufferSize{}, &rbs); err == nil {
		bredr = DataBufferInfo{
			MaxDataLength: int(rbs.HCACLDataPacketLength),
			MaxNumPackets: int(rbs.HCTotalNumACLDataPackets),
		}
	} else {
		h.log.Warnf("read buffer size: %v", err)
	}

	var le DataBufferInfo
	var lrbs cmd.LEReadBufferSizeRP
	if err := h.cmd.Send(&cmd.LEReadBufferSize{}, &lrbs); err != nil {
		return errors.Wrap(err, "le read buffer size")
	}
	// Zero LE buffers means LE-U shares the ACL-U buffers.
	le = DataBufferInfo{
		MaxDataLength: int(lrbs.HCLEDataPacketLength),
		MaxNumPackets: int(lrbs.HCTotalNumLEDataPackets),
	}

	if err := h.cmd.Send(&cmd.SetEventMask{EventMask: 0x3dbff807fffbffff}, nil); err != nil {
		return errors.Wrap(err, "set event mask")
	}
	if err := h.cmd.Send(&cmd.LESetEventMask{LEEventMask: 0x000000000000001F}, nil); err != nil {
		return errors.Wrap(err, "le set event mask")
	}
	if err := h.cmd.Send(&cmd.WriteLEHostSupport{LESupportedHost: 1, SimultaneousLEHost: 0}, nil); err != nil {
		// LE only controllers reject this
		h.log.Debugf("write le host support: %v", err)
	}

	acl, err := NewACLDataChannel(h.cmd, h.skt, bredr, le)
	if err != nil {
		return err
	}
	h.Lock()
	h.acl = acl
	h.Unlock()
	return nil
}

// Close stops the reader and closes the transport.
func (h *HCI) Close() error {
	if h.cancel == nil {
		return nil
	}
	h.cancel()
	if h.acl != nil {
		h.acl.Close()
	}
	switch err := h.g.Wait(); errors.Cause(err) {
	case nil, context.Canceled, io.EOF:
		return nil
	default:
		return err
	}
}

// Wait blocks until the reader exits and returns its error.
func (h *HCI) Wait() error {
	return h.g.Wait()
}

func (h *HCI) CommandChannel() *CommandChannel { return h.cmd }

func (h *HCI) ACLDataChannel() *ACLDataChannel {
	h.Lock()
	defer h.Unlock()
	return h.acl
}

// Addr returns the public address of the controller.
func (h *HCI) Addr() bthost.DeviceAddress { return h.addr }

func (h *HCI) sktReadLoop(ctx context.Context) error {
	b := make([]byte, readBufferSize)

	for {
		n, err := h.skt.Read(b)

		switch {
		case n == 0 && err == nil:
			// read timeout
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
				continue
			}

		//callers depend on detecting io.EOF, don't wrap it.
		case err == io.EOF:
			return err

		case err != nil:
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}
			return errors.Wrap(err, "skt read error")
		}

		p := make([]byte, n)
		copy(p, b)
		if err := h.handlePkt(p); err != nil {
			// Some bluetooth devices may append vendor specific packets at the last,
			// in this case, simply ignore them.
			if strings.HasPrefix(err.Error(), "unsupported vendor packet:") {
				h.log.Error("skt: ", err)
				continue
			}
			h.dispatchError(err)
		}
	}
}

func (h *HCI) handlePkt(b []byte) error {
	if len(b) == 0 {
		return fmt.Errorf("empty packet")
	}
	// Strip the 1-byte HCI header and pass down the rest of the packet.
	t, b := b[0], b[1:]
	switch t {
	case PktTypeACLData:
		acl := h.ACLDataChannel()
		if acl == nil {
			return nil
		}
		return acl.HandlePacket(b)
	case PktTypeEvent:
		return h.cmd.HandleEvent(b)

		//unhandled stuff
	case PktTypeCommand:
		return fmt.Errorf("unmanaged cmd: % X", b)
	case PktTypeSCOData:
		return fmt.Errorf("unsupported sco packet: % X", b)
	case PktTypeVendor:
		return fmt.Errorf("unsupported vendor packet: % X", b)
	default:
		return fmt.Errorf("invalid packet: 0x%02X % X", t, b)
	}
}

func (h *HCI) dispatchError(e error) {
	if h.errorHandler == nil {
		h.log.Error(e)
		return
	}
	h.d.Post(func() { h.errorHandler(e) })
}
