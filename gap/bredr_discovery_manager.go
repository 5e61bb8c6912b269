package gap

import (
	"github.com/pkg/errors"
	"github.com/rigado/bthost"
	"github.com/rigado/bthost/dispatch"
	"github.com/rigado/bthost/eir"
	"github.com/rigado/bthost/linux/hci"
	"github.com/rigado/bthost/linux/hci/cmd"
	"github.com/rigado/bthost/linux/hci/evt"
)

// Inquiry scan activity written at construction, in 0.625 ms slots.
const (
	InquiryScanInterval = 0x01E0
	InquiryScanWindow   = 0x0012
)

// DiscoveryFunc receives the outcome of RequestDiscovery.
type DiscoveryFunc func(err error, s *DiscoverySession)

// DiscoverableFunc receives the outcome of RequestDiscoverable.
type DiscoverableFunc func(err error, s *DiscoverableSession)

type sessionState int

const (
	sessionLive sessionState = iota
	// closed by its owner, but the inquiry it joined is still running
	sessionZombie
)

// BrEdrDiscoveryManager multiplexes BR/EDR discovery and discoverability
// requests onto the controller. One Inquiry serves every open discovery
// session and inquiry scan stays enabled while any discoverable session is
// open.
//
// All methods must be called on the manager's dispatcher.
type BrEdrDiscoveryManager struct {
	t     hci.Transport
	d     dispatch.Dispatcher
	peers *PeerCache
	log   bthost.Logger
	live  *dispatch.Liveness

	sessions        map[*DiscoverySession]sessionState
	discoverable    map[*DiscoverableSession]struct{}
	pendingDiscover []DiscoveryFunc
	pendingScan     []DiscoverableFunc

	desiredMode uint8
	currentMode uint8

	requestedNames map[[6]byte]struct{}
	localName      string

	handlers []hci.EventHandlerID
}

// NewBrEdrDiscoveryManager returns a manager that runs Inquiry in the given
// inquiry mode (hci.InquiryModeStandard, RSSI or Extended).
func NewBrEdrDiscoveryManager(t hci.Transport, d dispatch.Dispatcher, peers *PeerCache, mode uint8) *BrEdrDiscoveryManager {
	m := &BrEdrDiscoveryManager{
		t:              t,
		d:              d,
		peers:          peers,
		log:            bthost.ComponentLogger("gap-bredr"),
		live:           dispatch.NewLiveness(),
		sessions:       make(map[*DiscoverySession]sessionState),
		discoverable:   make(map[*DiscoverableSession]struct{}),
		desiredMode:    mode,
		currentMode:    hci.InquiryModeStandard,
		requestedNames: make(map[[6]byte]struct{}),
	}

	m.handlers = append(m.handlers,
		t.AddEventHandler(hci.InquiryResultEvent, m.handleInquiryResult),
		t.AddEventHandler(hci.InquiryResultWithRSSIEvent, m.handleInquiryResultWithRSSI),
		t.AddEventHandler(hci.ExtendedInquiryResultEvent, m.handleExtendedInquiryResult),
	)

	t.SendCommand(&cmd.WriteInquiryScanActivity{
		InquiryScanInterval: InquiryScanInterval,
		InquiryScanWindow:   InquiryScanWindow,
	}, m.logFailure("write inquiry scan activity"))
	t.SendCommand(&cmd.WriteInquiryScanType{ScanType: hci.InquiryScanTypeInterlaced},
		m.logFailure("write inquiry scan type"))

	return m
}

func (m *BrEdrDiscoveryManager) logFailure(what string) hci.CommandCallback {
	return func(_ hci.TransactionID, e hci.Event) {
		if err := e.Err(); err != nil && m.live.Alive() {
			m.log.Warnf("gap: %s failed: %v", what, err)
		}
	}
}

// Discovering reports whether Inquiry is running or starting.
func (m *BrEdrDiscoveryManager) Discovering() bool {
	return len(m.sessions) > 0 || len(m.pendingDiscover) > 0
}

// Discoverable reports whether any discoverable session is open.
func (m *BrEdrDiscoveryManager) Discoverable() bool {
	return len(m.discoverable) > 0
}

// LocalName returns the last name written successfully by UpdateLocalName.
func (m *BrEdrDiscoveryManager) LocalName() string {
	return m.localName
}

// RequestDiscovery asks for a discovery session. cb receives the session
// once Inquiry is running, or the reason it could not start.
func (m *BrEdrDiscoveryManager) RequestDiscovery(cb DiscoveryFunc) {
	if len(m.pendingDiscover) > 0 {
		m.pendingDiscover = append(m.pendingDiscover, cb)
		return
	}
	if len(m.sessions) > 0 {
		cb(nil, m.addDiscoverySession())
		return
	}
	m.pendingDiscover = append(m.pendingDiscover, cb)
	m.startInquiry()
}

func (m *BrEdrDiscoveryManager) addDiscoverySession() *DiscoverySession {
	s := newDiscoverySession(m)
	m.sessions[s] = sessionLive
	return s
}

func (m *BrEdrDiscoveryManager) liveSessions() int {
	n := 0
	for _, st := range m.sessions {
		if st == sessionLive {
			n++
		}
	}
	return n
}

func (m *BrEdrDiscoveryManager) startInquiry() {
	if m.desiredMode != m.currentMode {
		mode := m.desiredMode
		m.t.SendCommand(&cmd.WriteInquiryMode{InquiryMode: mode}, func(_ hci.TransactionID, e hci.Event) {
			if !m.live.Alive() {
				return
			}
			if err := e.Err(); err != nil {
				m.log.Warnf("gap: write inquiry mode 0x%02X failed: %v", mode, err)
				return
			}
			m.currentMode = mode
		})
	}

	inq := &cmd.Inquiry{
		LAP:           hci.InquiryLAPGIAC,
		InquiryLength: hci.InquiryLengthDefault,
		NumResponses:  hci.InquiryUnlimited,
	}
	m.t.SendExclusiveCommand(inq, m.handleInquiryEvent,
		hci.CompletesOn(hci.InquiryCompleteEvent),
		[]hci.OpCode{cmd.RemoteNameRequestCode})
}

func (m *BrEdrDiscoveryManager) handleInquiryEvent(_ hci.TransactionID, e hci.Event) {
	if !m.live.Alive() {
		return
	}

	switch e.Code {
	case hci.CommandStatusEvent:
		if err := e.Err(); err != nil {
			m.log.Warnf("gap: inquiry failed to start: %v", err)
			m.invalidateSessions(err)
			m.resolvePendingDiscovery(err)
			return
		}
		m.resolvePendingDiscovery(nil)

	case hci.InquiryCompleteEvent:
		for s, st := range m.sessions {
			if st == sessionZombie {
				delete(m.sessions, s)
			}
		}
		if err := e.Err(); err != nil {
			m.log.Warnf("gap: inquiry complete with error: %v", err)
			m.invalidateSessions(err)
			m.resolvePendingDiscovery(err)
			return
		}
		if m.liveSessions() > 0 || len(m.pendingDiscover) > 0 {
			m.log.Debug("gap: restarting inquiry")
			m.startInquiry()
		}

	default:
		// host-side failure such as a command timeout
		if err := e.Err(); err != nil {
			m.invalidateSessions(err)
			m.resolvePendingDiscovery(err)
		}
	}
}

func (m *BrEdrDiscoveryManager) resolvePendingDiscovery(err error) {
	pending := m.pendingDiscover
	m.pendingDiscover = nil
	for _, cb := range pending {
		if err != nil {
			cb(err, nil)
			continue
		}
		cb(nil, m.addDiscoverySession())
	}
}

func (m *BrEdrDiscoveryManager) invalidateSessions(err error) {
	sessions := m.sessions
	m.sessions = make(map[*DiscoverySession]sessionState)
	for s, st := range sessions {
		if st == sessionLive {
			s.notifyError(err)
		}
	}
}

func (m *BrEdrDiscoveryManager) removeDiscoverySession(s *DiscoverySession) {
	if st, ok := m.sessions[s]; ok && st == sessionLive {
		m.sessions[s] = sessionZombie
	}
}

func (m *BrEdrDiscoveryManager) notifyPeer(p *Peer) {
	for s, st := range m.sessions {
		if st == sessionLive {
			s.notifyResult(p)
		}
	}
}

func (m *BrEdrDiscoveryManager) handleInquiryResult(e hci.Event) {
	r := evt.InquiryResult(e.Params)
	n, err := r.NumResponsesWErr()
	if err != nil {
		m.log.Warnf("gap: malformed inquiry result: %v", err)
		return
	}
	for i := 0; i < int(n); i++ {
		addr, err1 := r.BDADDRWErr(i)
		psrm, err2 := r.PageScanRepetitionModeWErr(i)
		cod, err3 := r.ClassOfDeviceWErr(i)
		clk, err4 := r.ClockOffsetWErr(i)
		if err := firstErr(err1, err2, err3, err4); err != nil {
			m.log.Warnf("gap: malformed inquiry result: %v", err)
			return
		}
		m.updatePeer(addr, InquiryData{
			PageScanRepetitionMode: psrm,
			ClassOfDevice:          cod,
			ClockOffset:            clk,
			RSSI:                   RSSIInvalid,
		})
	}
}

func (m *BrEdrDiscoveryManager) handleInquiryResultWithRSSI(e hci.Event) {
	r := evt.InquiryResultWithRSSI(e.Params)
	n, err := r.NumResponsesWErr()
	if err != nil {
		m.log.Warnf("gap: malformed inquiry result with RSSI: %v", err)
		return
	}
	for i := 0; i < int(n); i++ {
		addr, err1 := r.BDADDRWErr(i)
		psrm, err2 := r.PageScanRepetitionModeWErr(i)
		cod, err3 := r.ClassOfDeviceWErr(i)
		clk, err4 := r.ClockOffsetWErr(i)
		rssi, err5 := r.RSSIWErr(i)
		if err := firstErr(err1, err2, err3, err4, err5); err != nil {
			m.log.Warnf("gap: malformed inquiry result with RSSI: %v", err)
			return
		}
		m.updatePeer(addr, InquiryData{
			PageScanRepetitionMode: psrm,
			ClassOfDevice:          cod,
			ClockOffset:            clk,
			RSSI:                   rssi,
		})
	}
}

func (m *BrEdrDiscoveryManager) handleExtendedInquiryResult(e hci.Event) {
	r := evt.ExtendedInquiryResult(e.Params)
	if err := r.Validate(); err != nil {
		m.log.Warnf("gap: malformed extended inquiry result: %v", err)
		return
	}
	addr, err1 := r.BDADDRWErr()
	psrm, err2 := r.PageScanRepetitionModeWErr()
	cod, err3 := r.ClassOfDeviceWErr()
	clk, err4 := r.ClockOffsetWErr()
	rssi, err5 := r.RSSIWErr()
	data, err6 := r.ExtendedInquiryResponseWErr()
	if err := firstErr(err1, err2, err3, err4, err5, err6); err != nil {
		m.log.Warnf("gap: malformed extended inquiry result: %v", err)
		return
	}
	m.updatePeer(addr, InquiryData{
		PageScanRepetitionMode: psrm,
		ClassOfDevice:          cod,
		ClockOffset:            clk,
		RSSI:                   rssi,
		EIR:                    append([]byte(nil), data...),
	})
}

func (m *BrEdrDiscoveryManager) updatePeer(raw [6]byte, d InquiryData) {
	addr := bthost.NewAddr(bthost.AddrTypeBREDR, raw)
	p, ok := m.peers.FindByAddress(addr)
	if !ok {
		p = m.peers.NewPeer(addr, true)
		if p == nil {
			m.log.Warnf("gap: could not add peer %s", addr)
			return
		}
	}
	p.SetInquiryData(d)

	if _, named := p.Name(); !named {
		m.requestPeerName(p.ID(), raw, d)
	}
	m.notifyPeer(p)
}

func (m *BrEdrDiscoveryManager) requestPeerName(id bthost.PeerID, raw [6]byte, d InquiryData) {
	if _, ok := m.requestedNames[raw]; ok {
		return
	}
	m.requestedNames[raw] = struct{}{}

	c := &cmd.RemoteNameRequest{
		BDADDR:                 raw,
		PageScanRepetitionMode: d.PageScanRepetitionMode,
		ClockOffset:            d.ClockOffset | clockOffsetValid,
	}
	m.t.SendExclusiveCommand(c, func(_ hci.TransactionID, e hci.Event) {
		if !m.live.Alive() {
			return
		}
		if e.Code == hci.CommandStatusEvent && e.Err() == nil {
			return
		}
		delete(m.requestedNames, raw)

		if err := e.Err(); err != nil {
			m.log.Debugf("gap: remote name request for %s failed: %v", bthost.NewAddr(bthost.AddrTypeBREDR, raw), err)
			return
		}
		name, err := evt.RemoteNameRequestComplete(e.Params).RemoteNameWErr()
		if err != nil {
			m.log.Warnf("gap: malformed remote name request complete: %v", err)
			return
		}
		p, ok := m.peers.FindByID(id)
		if !ok {
			return
		}
		p.SetName(name)
	}, hci.CompletesOn(hci.RemoteNameRequestCompleteEvent), []hci.OpCode{cmd.InquiryCode})
}

// RequestDiscoverable asks for inquiry scan to be enabled. cb receives a
// session that keeps it enabled until closed.
func (m *BrEdrDiscoveryManager) RequestDiscoverable(cb DiscoverableFunc) {
	if len(m.discoverable) > 0 {
		s := &DiscoverableSession{m: m}
		m.discoverable[s] = struct{}{}
		cb(nil, s)
		return
	}
	m.pendingScan = append(m.pendingScan, cb)
	if len(m.pendingScan) > 1 {
		return
	}
	m.setInquiryScan()
}

func (m *BrEdrDiscoveryManager) removeDiscoverableSession(s *DiscoverableSession) {
	if _, ok := m.discoverable[s]; !ok {
		return
	}
	delete(m.discoverable, s)
	if len(m.discoverable) == 0 && len(m.pendingScan) == 0 {
		m.setInquiryScan()
	}
}

// setInquiryScan brings the inquiry scan bit in line with the current
// demand and resolves every queued discoverable request.
func (m *BrEdrDiscoveryManager) setInquiryScan() {
	m.t.SendCommand(&cmd.ReadScanEnable{}, func(_ hci.TransactionID, e hci.Event) {
		if !m.live.Alive() {
			return
		}
		var rp cmd.ReadScanEnableRP
		if err := e.Unmarshal(&rp); err != nil {
			m.log.Warnf("gap: read scan enable failed: %v", err)
			m.resolvePendingDiscoverable(err)
			return
		}
		if err := hci.StatusError(rp.Status); err != nil {
			m.resolvePendingDiscoverable(err)
			return
		}

		enable := len(m.discoverable) > 0 || len(m.pendingScan) > 0
		scan := rp.ScanEnable
		if enable {
			scan |= hci.ScanEnableInquiry
		} else {
			scan &^= hci.ScanEnableInquiry
		}
		if scan == rp.ScanEnable {
			m.resolvePendingDiscoverable(nil)
			return
		}

		m.t.SendCommand(&cmd.WriteScanEnable{ScanEnable: scan}, func(_ hci.TransactionID, e hci.Event) {
			if !m.live.Alive() {
				return
			}
			err := e.Err()
			if err != nil {
				m.log.Warnf("gap: write scan enable 0x%02X failed: %v", scan, err)
			}
			m.resolvePendingDiscoverable(err)
		})
	})
}

func (m *BrEdrDiscoveryManager) resolvePendingDiscoverable(err error) {
	pending := m.pendingScan
	m.pendingScan = nil
	for _, cb := range pending {
		if err != nil {
			cb(err, nil)
			continue
		}
		s := &DiscoverableSession{m: m}
		m.discoverable[s] = struct{}{}
		cb(nil, s)
	}
}

// UpdateLocalName writes name as the controller's local name and as the
// name record of the extended inquiry response.
func (m *BrEdrDiscoveryManager) UpdateLocalName(name string, cb func(error)) {
	var wln cmd.WriteLocalName
	copy(wln.LocalName[:], name)

	m.t.SendCommand(&wln, func(_ hci.TransactionID, e hci.Event) {
		if !m.live.Alive() {
			return
		}
		if err := e.Err(); err != nil {
			m.log.Warnf("gap: write local name failed: %v", err)
			cb(err)
			return
		}

		stored := name
		if len(stored) > hci.MaxLocalNameLength {
			stored = stored[:hci.MaxLocalNameLength]
		}
		pkt, err := eir.NewPacket(eir.LocalName(stored))
		if err != nil {
			cb(errors.Wrap(err, "gap: extended inquiry response"))
			return
		}
		weir := &cmd.WriteExtendedInquiryResponse{ExtendedInquiryResponse: pkt.Array()}
		m.t.SendCommand(weir, func(_ hci.TransactionID, e hci.Event) {
			if !m.live.Alive() {
				return
			}
			if err := e.Err(); err != nil {
				m.log.Warnf("gap: write extended inquiry response failed: %v", err)
				cb(err)
				return
			}
			m.localName = stored
			cb(nil)
		})
	})
}

// Close stops event handling and ends every session and pending request.
func (m *BrEdrDiscoveryManager) Close() {
	if !m.live.Invalidate() {
		return
	}
	for _, id := range m.handlers {
		m.t.RemoveEventHandler(id)
	}
	m.handlers = nil

	m.invalidateSessions(ErrCanceled)
	m.resolvePendingDiscovery(ErrCanceled)
	m.resolvePendingDiscoverable(ErrCanceled)
	m.discoverable = make(map[*DiscoverableSession]struct{})
}

// Remote Name Request clock offset flag [Vol 2, Part E, 7.1.19].
const clockOffsetValid = 0x8000

func firstErr(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return errors.WithStack(err)
		}
	}
	return nil
}

