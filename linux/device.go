package linux

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/rigado/bthost"
	"github.com/rigado/bthost/cache"
	"github.com/rigado/bthost/dispatch"
	"github.com/rigado/bthost/gap"
	"github.com/rigado/bthost/l2cap"
	"github.com/rigado/bthost/linux/hci"
	"github.com/rigado/bthost/sm"
	"golang.org/x/sync/errgroup"
)

// Device is a host stack on one controller. The managers live on Loop and
// must only be used from tasks run with Do.
type Device struct {
	HCI   *hci.HCI
	Loop  *dispatch.Loop
	Peers *gap.PeerCache
	BrEdr *gap.BrEdrDiscoveryManager
	LE    *gap.LowEnergyConnectionManager
	L2CAP *l2cap.ChannelManager

	log       bthost.Logger
	connector *hci.LowEnergyConnector
	store     cache.PeerStore

	inquiryMode    uint8
	localName      string
	connectTimeout time.Duration

	// Links the peers opened, held until the peer disconnects.
	remote map[bthost.PeerID]*gap.LowEnergyConnectionRef

	ctx    context.Context
	cancel context.CancelFunc
	g      *errgroup.Group
}

// NewDevice opens the configured transport, initializes the controller and
// starts the managers. The device stops when ctx is done or Close is
// called.
func NewDevice(ctx context.Context, opts ...bthost.Option) (*Device, error) {
	loop := dispatch.NewLoop()
	d := &Device{
		HCI:            hci.NewHCI(loop),
		Loop:           loop,
		Peers:          gap.NewPeerCache(),
		log:            bthost.ComponentLogger("device"),
		inquiryMode:    hci.InquiryModeExtended,
		connectTimeout: gap.DefaultLECreateConnectionTimeout,
		remote:         make(map[bthost.PeerID]*gap.LowEnergyConnectionRef),
	}
	for _, opt := range opts {
		if err := opt(d); err != nil {
			return nil, err
		}
	}

	d.ctx, d.cancel = context.WithCancel(ctx)
	d.g, d.ctx = errgroup.WithContext(d.ctx)
	d.g.Go(func() error { return loop.Run(d.ctx) })

	if err := d.HCI.Init(d.ctx); err != nil {
		d.cancel()
		d.g.Wait()
		return nil, errors.Wrap(err, "can't init hci")
	}
	d.g.Go(d.HCI.Wait)

	if d.store != nil {
		n, err := cache.Restore(d.store, d.Peers)
		if err != nil {
			d.log.Warnf("can't restore peers: %v", err)
		}
		d.log.Debugf("restored %d peers", n)
	}

	d.Do(d.start)
	if d.localName != "" {
		if err := d.setLocalName(d.localName); err != nil {
			d.Close()
			return nil, err
		}
	}
	return d, nil
}

func (d *Device) start() {
	cmds := d.HCI.CommandChannel()
	d.BrEdr = gap.NewBrEdrDiscoveryManager(cmds, d.Loop, d.Peers, d.inquiryMode)
	d.L2CAP = l2cap.NewChannelManager(d.HCI.ACLDataChannel(), d.Loop)
	d.connector = hci.NewLowEnergyConnector(cmds, d.Loop, d.HCI.Addr(), d.onRemoteLink)
	d.LE = gap.NewLowEnergyConnectionManager(cmds, d.Loop, d.connector, d.Peers, d.L2CAP, nil)
	d.LE.SetRequestTimeout(d.connectTimeout)
}

func (d *Device) onRemoteLink(link *hci.Connection) {
	d.LE.RegisterRemoteInitiatedLink(link, sm.Bondable, func(err error, ref *gap.LowEnergyConnectionRef) {
		if err != nil {
			d.log.Infof("rejected link from %s: %v", link.PeerAddr(), err)
			return
		}
		id := ref.PeerID()
		d.remote[id] = ref
		ref.SetClosedCallback(func() { delete(d.remote, id) })
	})
}

func (d *Device) setLocalName(name string) error {
	done := make(chan error, 1)
	d.Do(func() { d.BrEdr.UpdateLocalName(name, func(err error) { done <- err }) })
	select {
	case err := <-done:
		return errors.Wrap(err, "can't set local name")
	case <-d.ctx.Done():
		return d.ctx.Err()
	}
}

// Do runs f on the device loop and waits for it.
func (d *Device) Do(f func()) {
	done := make(chan struct{})
	d.Loop.Post(func() {
		f()
		close(done)
	})
	select {
	case <-done:
	case <-d.ctx.Done():
	}
}

// Done is closed when the device stopped.
func (d *Device) Done() <-chan struct{} {
	return d.ctx.Done()
}

// Addr returns the public address of the controller.
func (d *Device) Addr() bthost.DeviceAddress {
	return d.HCI.Addr()
}

// Close disconnects every link, saves the peer store and closes the
// transport.
func (d *Device) Close() error {
	d.Do(func() {
		if d.LE != nil {
			d.LE.Close()
			d.connector.Close()
		}
		if d.BrEdr != nil {
			d.BrEdr.Close()
		}
	})
	if d.store != nil {
		if err := cache.Save(d.store, d.Peers); err != nil {
			d.log.Warnf("can't save peers: %v", err)
		}
	}
	d.Peers.Close()

	err := d.HCI.Close()
	d.cancel()
	switch werr := d.g.Wait(); errors.Cause(werr) {
	case nil, context.Canceled:
	default:
		if err == nil {
			err = werr
		}
	}
	return err
}

// SetInquiryMode selects the inquiry result format: "standard", "rssi" or
// "extended".
func (d *Device) SetInquiryMode(mode string) error {
	switch mode {
	case "standard":
		d.inquiryMode = hci.InquiryModeStandard
	case "rssi":
		d.inquiryMode = hci.InquiryModeRSSI
	case "extended":
		d.inquiryMode = hci.InquiryModeExtended
	default:
		return errors.Errorf("unknown inquiry mode %q", mode)
	}
	return nil
}

func (d *Device) SetLocalName(name string) error {
	d.localName = name
	return nil
}

func (d *Device) SetLEConnectTimeout(t time.Duration) error {
	if t <= 0 {
		return errors.Errorf("invalid connect timeout %v", t)
	}
	d.connectTimeout = t
	return nil
}

func (d *Device) SetErrorHandler(handler func(error)) error {
	return d.HCI.SetErrorHandler(handler)
}

func (d *Device) SetPeerStore(path string) error {
	d.store = cache.New(path)
	return nil
}

func (d *Device) SetTransportHCISocket(id int) error {
	return d.HCI.SetTransportHCISocket(id)
}

func (d *Device) SetTransportH4Socket(addr string, timeout time.Duration) error {
	return d.HCI.SetTransportH4Socket(addr, timeout)
}

func (d *Device) SetTransportH4Uart(path string) error {
	return d.HCI.SetTransportH4Uart(path)
}

var _ bthost.DeviceOption = (*Device)(nil)
