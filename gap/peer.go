package gap

import (
	"fmt"
	"sync"

	"github.com/rigado/bthost"
	"github.com/rigado/bthost/eir"
	"github.com/rigado/bthost/linux/hci"
	"github.com/rigado/bthost/sm"
)

// RSSIInvalid marks an unknown signal strength [Vol 2, Part E, 7.5.4].
const RSSIInvalid int8 = 127

// ConnectionState of one transport of a peer.
type ConnectionState int

const (
	NotConnected ConnectionState = iota
	Initializing
	Connected
)

func (s ConnectionState) String() string {
	switch s {
	case NotConnected:
		return "not connected"
	case Initializing:
		return "initializing"
	case Connected:
		return "connected"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Version is the remote link manager/link layer version.
type Version struct {
	LMPVersion    uint8
	Manufacturer  uint16
	LMPSubversion uint16
}

// maxFeaturePages is the number of LMP feature pages a peer can report.
const maxFeaturePages = 3

// Features holds the LMP feature pages read from a peer [Vol 2, Part C,
// 3.3].
type Features struct {
	Pages    [maxFeaturePages]uint64
	Valid    [maxFeaturePages]bool
	LastPage uint8
	HasLast  bool
}

// HasPage reports whether page was read.
func (f Features) HasPage(page uint8) bool {
	return int(page) < maxFeaturePages && f.Valid[page]
}

// HasBit reports whether feature bit is set on page.
func (f Features) HasBit(page uint8, bit uint) bool {
	return f.HasPage(page) && f.Pages[page]&(1<<bit) != 0
}

// LMP feature bits used by the interrogator.
const (
	FeatureExtendedFeatures        uint = 63 // page 0
	FeatureSecureSimplePairingHost uint = 0  // page 1
)

// InquiryData is one response from an inquiry.
type InquiryData struct {
	PageScanRepetitionMode uint8
	ClassOfDevice          [3]byte
	ClockOffset            uint16
	RSSI                   int8
	EIR                    []byte
}

// BrEdrData is the BR/EDR part of a peer.
type BrEdrData struct {
	Address                bthost.DeviceAddress
	ConnectionState        ConnectionState
	PageScanRepetitionMode uint8
	ClassOfDevice          [3]byte
	ClockOffset            uint16
	HasClockOffset         bool
}

// LowEnergyData is the LE part of a peer.
type LowEnergyData struct {
	Address         bthost.DeviceAddress
	ConnectionState ConnectionState
	Features        uint64
	HasFeatures     bool
	PreferredParams *hci.LEPreferredConnectionParameters
	CurrentParams   *hci.LEConnectionParameters
	Bond            *sm.LTK
}

// Peer is everything known about a remote device. Its methods are safe for
// concurrent use; every change is published through the cache.
type Peer struct {
	mu    sync.RWMutex
	cache *PeerCache

	id          bthost.PeerID
	connectable bool
	name        string
	hasName     bool
	version     *Version
	features    Features
	rssi        int8

	bredr *BrEdrData
	le    *LowEnergyData
}

func newPeer(c *PeerCache, id bthost.PeerID, addr bthost.DeviceAddress, connectable bool) *Peer {
	p := &Peer{
		cache:       c,
		id:          id,
		connectable: connectable,
		rssi:        RSSIInvalid,
	}
	if addr.Type.IsLE() {
		p.le = &LowEnergyData{Address: addr}
	} else {
		p.bredr = &BrEdrData{Address: addr}
	}
	return p
}

func (p *Peer) String() string {
	return fmt.Sprintf("peer %s (%s)", p.id, p.Address())
}

func (p *Peer) ID() bthost.PeerID { return p.id }

// Address returns the BR/EDR address if the peer has one, otherwise its
// LE address.
func (p *Peer) Address() bthost.DeviceAddress {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.bredr != nil {
		return p.bredr.Address
	}
	return p.le.Address
}

func (p *Peer) Connectable() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.connectable
}

// Name returns the peer's name, if known.
func (p *Peer) Name() (string, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.name, p.hasName
}

func (p *Peer) SetName(name string) {
	p.mu.Lock()
	p.name, p.hasName = name, true
	p.mu.Unlock()
	p.notify()
}

func (p *Peer) Version() (Version, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.version == nil {
		return Version{}, false
	}
	return *p.version, true
}

func (p *Peer) SetVersion(v Version) {
	p.mu.Lock()
	p.version = &v
	p.mu.Unlock()
	p.notify()
}

func (p *Peer) Features() Features {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.features
}

// SetFeaturePage records one LMP feature page.
func (p *Peer) SetFeaturePage(page uint8, bits uint64) {
	if int(page) >= maxFeaturePages {
		return
	}
	p.mu.Lock()
	p.features.Pages[page] = bits
	p.features.Valid[page] = true
	p.mu.Unlock()
	p.notify()
}

// SetLastPageNumber records the highest feature page the peer has, capped
// to the pages the host tracks.
func (p *Peer) SetLastPageNumber(n uint8) {
	if int(n) >= maxFeaturePages {
		n = maxFeaturePages - 1
	}
	p.mu.Lock()
	p.features.LastPage, p.features.HasLast = n, true
	p.mu.Unlock()
	p.notify()
}

func (p *Peer) RSSI() int8 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.rssi
}

func (p *Peer) SetRSSI(rssi int8) {
	p.mu.Lock()
	p.rssi = rssi
	p.mu.Unlock()
	p.notify()
}

// BrEdr returns a copy of the BR/EDR data.
func (p *Peer) BrEdr() (BrEdrData, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.bredr == nil {
		return BrEdrData{}, false
	}
	return *p.bredr, true
}

// LE returns a copy of the LE data.
func (p *Peer) LE() (LowEnergyData, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.le == nil {
		return LowEnergyData{}, false
	}
	return *p.le, true
}

// SetInquiryData applies an inquiry response. A name from the extended
// inquiry response is taken unless the peer already has a complete one.
func (p *Peer) SetInquiryData(d InquiryData) {
	var name string
	var complete, hasEIRName bool
	if len(d.EIR) > 0 {
		if pkt, err := eir.Parse(d.EIR); err == nil {
			name, complete = pkt.LocalName()
			hasEIRName = name != ""
		} else {
			p.cache.log.Debugf("%s: bad extended inquiry response: %v", p.id, err)
		}
	}

	p.mu.Lock()
	if p.bredr == nil {
		p.bredr = &BrEdrData{Address: bthost.NewAddr(bthost.AddrTypeBREDR, p.le.Address.Value)}
	}
	p.bredr.PageScanRepetitionMode = d.PageScanRepetitionMode
	p.bredr.ClassOfDevice = d.ClassOfDevice
	p.bredr.ClockOffset = d.ClockOffset
	p.bredr.HasClockOffset = true
	if d.RSSI != RSSIInvalid {
		p.rssi = d.RSSI
	}
	if hasEIRName && (complete || !p.hasName) {
		p.name, p.hasName = name, true
	}
	p.mu.Unlock()
	p.notify()
}

func (p *Peer) SetBrEdrConnectionState(s ConnectionState) {
	p.mu.Lock()
	if p.bredr != nil {
		p.bredr.ConnectionState = s
	}
	p.mu.Unlock()
	p.notify()
}

// UpdateLE changes the LE data in place. It returns false if the peer has
// no LE data.
func (p *Peer) UpdateLE(f func(le *LowEnergyData)) bool {
	p.mu.Lock()
	if p.le == nil {
		p.mu.Unlock()
		return false
	}
	f(p.le)
	p.mu.Unlock()
	p.notify()
	return true
}

// MutLE changes the LE data in place, adding LE data for addr first when
// the peer was only known on BR/EDR.
func (p *Peer) MutLE(addr bthost.DeviceAddress, f func(le *LowEnergyData)) {
	p.mu.Lock()
	added := p.le == nil
	if added {
		p.le = &LowEnergyData{Address: addr}
	}
	f(p.le)
	p.mu.Unlock()

	if added && p.cache != nil {
		p.cache.byAddr.LoadOrStore(addr, p.id)
	}
	p.notify()
}

func (p *Peer) SetLEConnectionState(s ConnectionState) {
	p.UpdateLE(func(le *LowEnergyData) { le.ConnectionState = s })
}

// Connected reports whether any transport is connected or connecting.
func (p *Peer) Connected() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.bredr != nil && p.bredr.ConnectionState != NotConnected {
		return true
	}
	return p.le != nil && p.le.ConnectionState != NotConnected
}

func (p *Peer) notify() {
	if p.cache != nil {
		p.cache.notifyUpdated(p)
	}
}
