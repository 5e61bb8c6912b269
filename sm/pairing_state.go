package sm

import (
	"bytes"
	"crypto/rand"
	"encoding/binary"
	"time"

	"github.com/pkg/errors"
	"github.com/rigado/bthost"
	"github.com/rigado/bthost/dispatch"
	"github.com/rigado/bthost/linux/hci"
)

// SMPTimeout ends a pairing procedure that stalls [Vol 3, Part H, 3.4].
const SMPTimeout = 30 * time.Second

var (
	ErrPairingTimeout = errors.New("sm: pairing timed out")
	ErrLinkClosed     = errors.New("sm: link closed")
)

// Channel carries SMP commands to the peer. *l2cap.Channel implements it.
type Channel interface {
	Send(sdu []byte) bool
}

// Link is the LE connection being secured. *hci.Connection implements it.
type Link interface {
	Handle() uint16
	Role() uint8
	LocalAddr() bthost.DeviceAddress
	PeerAddr() bthost.DeviceAddress
	StartEncryption(ltk [16]byte, rand uint64, ediv uint16) bool
	SetLTK(ltk [16]byte, rand uint64, ediv uint16)
	SetEncryptionChangeCallback(cb func(err error, enabled bool))
}

// PairingData holds the keys of a bonded pairing.
type PairingData struct {
	// PeerLTK encrypts the link when we are the central, LocalLTK when we
	// are the peripheral. They are the same key after Secure Connections.
	PeerLTK  *LTK
	LocalLTK *LTK

	IRK             *[16]byte
	IdentityAddress *bthost.DeviceAddress
}

// Callbacks report security events to the owner of a link. They run on the
// pairing state's dispatcher.
type Callbacks struct {
	NewPairingData        func(data PairingData)
	NewSecurityProperties func(p SecurityProperties)

	// Timeout is called when a pairing procedure stalled; no further SMP
	// traffic is allowed and the link should be disconnected.
	Timeout func()
}

type phase int

const (
	phaseSecurityRequest phase = iota
	phaseFeatureExchange
	phasePublicKey
	phaseConfirm
	phaseRandom
	phaseUserConfirm
	phaseDHKeyCheck
	phaseEncryption
	phaseKeyDistribution
)

// pairing is one attempt, from the feature exchange to key distribution.
type pairing struct {
	phase    phase
	level    SecurityLevel
	phase1   *Phase1
	features PairingFeatures
	preq     []byte
	pres     []byte

	keys        *ECDHKeys
	peerPubX    []byte
	dhKey       []byte
	localNonce  []byte
	peerNonce   []byte
	peerConfirm []byte
	macKey      []byte
	ltk         [16]byte
	peerCheck   []byte

	pendingRemote KeyDist
	localSent     bool
	peerLTK       []byte
	irk           *[16]byte
	data          PairingData
}

type upgradeRequest struct {
	level SecurityLevel
	cb    func(error)
}

// PairingState runs the Security Manager of one LE link on the SMP fixed
// channel. Every method must be called on its dispatcher.
type PairingState struct {
	link Link
	ch   Channel
	d    dispatch.Dispatcher
	live *dispatch.Liveness
	log  bthost.Logger
	cbs  Callbacks
	peer bthost.PeerID

	delegate          PairingDelegate
	bondable          BondableMode
	secureConnections bool

	security       SecurityProperties
	ltk            *LTK
	encryptingBond bool

	requests []upgradeRequest
	current  *pairing
	timer    dispatch.Task
}

// NewPairingState takes over the encryption callback of link. SDUs received
// on the SMP channel are passed to HandleSDU.
func NewPairingState(link Link, ch Channel, d dispatch.Dispatcher, peer bthost.PeerID, bondable BondableMode, delegate PairingDelegate, cbs Callbacks) *PairingState {
	s := &PairingState{
		link:              link,
		ch:                ch,
		d:                 d,
		live:              dispatch.NewLiveness(),
		log:               bthost.ComponentLogger("sm"),
		cbs:               cbs,
		peer:              peer,
		delegate:          delegate,
		bondable:          bondable,
		secureConnections: true,
	}
	link.SetEncryptionChangeCallback(func(err error, enabled bool) {
		d.Post(s.live.Guard(func() { s.onEncryptionChange(err, enabled) }))
	})
	return s
}

// Security returns the properties of the current link encryption.
func (s *PairingState) Security() SecurityProperties {
	return s.security
}

// SetBondableMode applies to pairings started afterwards.
func (s *PairingState) SetBondableMode(m BondableMode) {
	s.bondable = m
}

// SetDelegate replaces the pairing delegate. A pairing in progress is
// aborted since its user interaction went to the old delegate.
func (s *PairingState) SetDelegate(d PairingDelegate) {
	if s.current != nil && s.current.phase != phaseSecurityRequest {
		s.abort(ErrUnspecifiedReason)
	}
	s.delegate = d
}

// AssignLongTermKey restores a bonded key. As central it is used to encrypt
// instead of pairing; as peripheral it is handed to the controller.
func (s *PairingState) AssignLongTermKey(ltk LTK) {
	s.ltk = &ltk
	if !s.isCentral() {
		s.link.SetLTK(ltk.Key, ltk.Rand, ltk.EDiv)
	}
}

// UpgradeSecurity raises the link to at least level. Requests made while a
// pairing runs are resolved together when it ends.
func (s *PairingState) UpgradeSecurity(level SecurityLevel, cb func(error)) {
	if !s.live.Alive() {
		cb(ErrLinkClosed)
		return
	}
	if s.security.Level >= level {
		cb(nil)
		return
	}
	s.requests = append(s.requests, upgradeRequest{level: level, cb: cb})
	if s.current != nil || s.encryptingBond {
		return
	}
	s.startUpgrade()
}

// Abort stops the pairing in progress.
func (s *PairingState) Abort() {
	if s.current != nil {
		s.abort(ErrUnspecifiedReason)
	}
}

// Close fails outstanding requests. It is called when the link goes away.
func (s *PairingState) Close() {
	if !s.live.Invalidate() {
		return
	}
	s.stopTimer()
	s.current = nil
	s.link.SetEncryptionChangeCallback(nil)
	reqs := s.requests
	s.requests = nil
	for _, r := range reqs {
		r.cb(ErrLinkClosed)
	}
}

func (s *PairingState) isCentral() bool {
	return s.link.Role() == hci.RoleMaster
}

func (s *PairingState) ioCapability() IOCapability {
	if s.delegate == nil {
		return IOCapNoInputNoOutput
	}
	return s.delegate.IOCapability()
}

func (s *PairingState) maxRequestedLevel() SecurityLevel {
	level := Encrypted
	for _, r := range s.requests {
		if r.level > level {
			level = r.level
		}
	}
	return level
}

func (s *PairingState) startUpgrade() {
	level := s.maxRequestedLevel()
	if s.isCentral() {
		if s.encryptWithBond(level) {
			return
		}
		s.startPairing(level)
		return
	}

	// The peripheral asks the central to start.
	var authReq uint8
	if s.bondable == Bondable {
		authReq |= authReqBonding
	}
	if level >= Authenticated {
		authReq |= authReqMITM
	}
	if s.secureConnections {
		authReq |= authReqSC
	}
	s.current = &pairing{phase: phaseSecurityRequest, level: level}
	s.send(packet(codeSecurityRequest, []byte{authReq}))
	s.resetTimer()
}

func (s *PairingState) encryptWithBond(level SecurityLevel) bool {
	if s.ltk == nil || s.ltk.Security.Level < level {
		return false
	}
	if !s.link.StartEncryption(s.ltk.Key, s.ltk.Rand, s.ltk.EDiv) {
		return false
	}
	s.log.Debugf("sm: encrypting 0x%04X with bonded key", s.link.Handle())
	s.encryptingBond = true
	return true
}

func (s *PairingState) startPairing(level SecurityLevel) {
	p := &pairing{phase: phaseFeatureExchange, level: level}
	s.current = p
	s.resetTimer()
	p.phase1 = NewPhase1Initiator(s.send, s.ioCapability(), s.bondable, level, func(f PairingFeatures, preq, pres PairingParams, err error) {
		s.onPhase1(p, f, preq, pres, err)
	})
	p.phase1.secureConnections = s.secureConnections
	p.phase1.Start()
}

func (s *PairingState) send(b []byte) {
	if !s.ch.Send(b) {
		s.log.Warnf("sm: failed to send %s on 0x%04X", codeNames[b[0]], s.link.Handle())
	}
}

func (s *PairingState) sendFailed(reason Error) {
	s.send(packet(codePairingFailed, []byte{uint8(reason)}))
}

func (s *PairingState) resetTimer() {
	s.stopTimer()
	s.timer = s.d.PostDelayed(SMPTimeout, s.live.Guard(s.onTimeout))
}

func (s *PairingState) stopTimer() {
	if s.timer != nil {
		s.timer.Cancel()
		s.timer = nil
	}
}

func (s *PairingState) onTimeout() {
	p := s.current
	if p == nil {
		return
	}
	s.log.Warnf("sm: pairing timed out on 0x%04X", s.link.Handle())
	s.fail(ErrPairingTimeout)
	if p.phase != phaseSecurityRequest && s.cbs.Timeout != nil {
		s.cbs.Timeout()
	}
}

// HandleSDU processes one SMP command from the peer.
func (s *PairingState) HandleSDU(sdu []byte) {
	if !s.live.Alive() {
		return
	}
	code, payload, err := parsePacket(sdu)
	if err != nil {
		s.log.Debugf("sm: malformed packet on 0x%04X: %v", s.link.Handle(), err)
		if s.current != nil {
			s.abort(err)
		} else {
			s.sendFailed(reasonOf(err))
		}
		return
	}
	s.log.Debugf("sm: rx %s on 0x%04X", codeNames[code], s.link.Handle())

	switch code {
	case codePairingFailed:
		if s.current != nil {
			s.fail(Error(payload[0]))
		}
		return
	case codeSecurityRequest:
		s.onSecurityRequest(payload[0])
		return
	case codePairingRequest:
		s.onPairingRequest(parsePairingParams(payload))
		return
	}

	p := s.current
	if p == nil || p.phase == phaseSecurityRequest {
		s.sendFailed(ErrUnspecifiedReason)
		return
	}
	s.resetTimer()

	if p.phase == phaseFeatureExchange {
		p.phase1.HandlePacket(code, payload)
		return
	}

	switch code {
	case codePairingPublicKey:
		s.onPublicKey(p, payload)
	case codePairingConfirm:
		s.onConfirm(p, payload)
	case codePairingRandom:
		s.onRandom(p, payload)
	case codePairingDHKeyCheck:
		s.onDHKeyCheck(p, payload)
	case codeEncryptionInformation, codeMasterIdentification, codeIdentityInformation, codeIdentityAddrInformation:
		s.onKey(p, code, payload)
	default:
		s.abort(ErrCommandNotSupported)
	}
}

func (s *PairingState) onSecurityRequest(authReq uint8) {
	if !s.isCentral() {
		s.sendFailed(ErrCommandNotSupported)
		return
	}
	if s.current != nil || s.encryptingBond {
		return
	}
	level := Encrypted
	if authReq&authReqMITM != 0 {
		level = Authenticated
	}
	if s.security.Level >= level {
		return
	}
	if s.encryptWithBond(level) {
		return
	}
	s.startPairing(level)
}

func (s *PairingState) onPairingRequest(preq PairingParams) {
	if s.isCentral() {
		s.sendFailed(ErrCommandNotSupported)
		return
	}
	if s.current != nil && s.current.phase != phaseSecurityRequest {
		s.abort(ErrUnspecifiedReason)
		return
	}

	level := NoSecurity
	if len(s.requests) > 0 {
		level = s.maxRequestedLevel()
	}
	p := &pairing{phase: phaseFeatureExchange, level: level}
	s.current = p
	s.resetTimer()
	p.phase1 = NewPhase1Responder(s.send, preq, s.ioCapability(), s.bondable, level, func(f PairingFeatures, preq, pres PairingParams, err error) {
		s.onPhase1(p, f, preq, pres, err)
	})
	p.phase1.secureConnections = s.secureConnections
	p.phase1.Start()
}

func (s *PairingState) onPhase1(p *pairing, f PairingFeatures, preq, pres PairingParams, err error) {
	if s.current != p {
		return
	}
	if err != nil {
		// Phase1 already told the peer.
		s.fail(err)
		return
	}

	p.features = f
	p.preq = preq.marshal(codePairingRequest)
	p.pres = pres.marshal(codePairingResponse)
	s.log.Infof("sm: pairing 0x%04X with %v (secure connections: %v, bond: %v)", s.link.Handle(), f.Method, f.SecureConnections, f.WillBond)

	switch {
	case f.Method == OutOfBand:
		s.abort(ErrOOBNotAvailable)
	case f.Method == PasskeyEntryInput || f.Method == PasskeyEntryDisplay:
		s.log.Infof("sm: passkey entry is not supported")
		s.abort(ErrPasskeyEntryFailed)
	case f.SecureConnections:
		s.startSecureConnections(p)
	default:
		s.startLegacy(p)
	}
}

// Addresses as f5, f6 and c1 take them.

func addrType(a bthost.DeviceAddress) uint8 {
	if a.Type == bthost.AddrTypeLERandom {
		return 0x01
	}
	return 0x00
}

func addr7(a bthost.DeviceAddress) []byte {
	return append(append([]byte(nil), a.Value[:]...), addrType(a))
}

// initiatorAndResponder returns the addresses of the central and the
// peripheral.
func (s *PairingState) initiatorAndResponder(p *pairing) (bthost.DeviceAddress, bthost.DeviceAddress) {
	if p.features.Initiator {
		return s.link.LocalAddr(), s.link.PeerAddr()
	}
	return s.link.PeerAddr(), s.link.LocalAddr()
}

func randomBytes(n int) []byte {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		panic(errors.Wrap(err, "sm: random"))
	}
	return b
}

// maskKey keeps the least significant size octets of k.
func maskKey(k []byte, size int) [16]byte {
	var out [16]byte
	copy(out[:size], k[:size])
	return out
}

func (s *PairingState) startSecureConnections(p *pairing) {
	keys, err := GenerateKeys()
	if err != nil {
		s.log.Errorf("sm: %v", err)
		s.abort(ErrUnspecifiedReason)
		return
	}
	p.keys = keys
	p.phase = phasePublicKey
	if p.features.Initiator {
		s.send(packet(codePairingPublicKey, keys.PublicXY()))
	}
}

func (s *PairingState) onPublicKey(p *pairing, payload []byte) {
	if p.phase != phasePublicKey {
		s.abort(ErrUnspecifiedReason)
		return
	}
	// A reflected key would let the peer pick the DHKey.
	if bytes.Equal(payload, p.keys.PublicXY()) {
		s.abort(ErrInvalidParameters)
		return
	}
	pub, ok := UnmarshalPublicKey(payload)
	if !ok {
		s.abort(ErrInvalidParameters)
		return
	}
	dhKey, err := GenerateSecret(p.keys.private, pub)
	if err != nil {
		s.log.Debugf("sm: %v", err)
		s.abort(ErrInvalidParameters)
		return
	}
	p.peerPubX = append([]byte(nil), payload[:32]...)
	p.dhKey = dhKey

	if p.features.Initiator {
		p.phase = phaseConfirm
		return
	}

	// The responder commits to its nonce first: Cb = f4(PKbx, PKax, Nb, 0).
	s.send(packet(codePairingPublicKey, p.keys.PublicXY()))
	p.localNonce = randomBytes(16)
	cb, err := f4(p.keys.PublicX(), p.peerPubX, p.localNonce, 0)
	if err != nil {
		s.abort(err)
		return
	}
	s.send(packet(codePairingConfirm, cb))
	p.phase = phaseRandom
}

func (s *PairingState) onConfirm(p *pairing, payload []byte) {
	if p.phase != phaseConfirm {
		s.abort(ErrUnspecifiedReason)
		return
	}
	p.peerConfirm = append([]byte(nil), payload...)

	switch {
	case p.features.SecureConnections && p.features.Initiator:
		p.localNonce = randomBytes(16)
		s.send(packet(codePairingRandom, p.localNonce))
		p.phase = phaseRandom

	case p.features.SecureConnections:
		s.abort(ErrUnspecifiedReason)

	case p.features.Initiator:
		s.send(packet(codePairingRandom, p.localNonce))
		p.phase = phaseRandom

	default:
		s.confirmUser(p, func() {
			if err := s.sendLegacyConfirm(p); err != nil {
				s.abort(err)
				return
			}
			p.phase = phaseRandom
		})
	}
}

func (s *PairingState) onRandom(p *pairing, payload []byte) {
	if p.phase != phaseRandom {
		s.abort(ErrUnspecifiedReason)
		return
	}
	p.peerNonce = append([]byte(nil), payload...)

	if !p.features.SecureConnections {
		s.onLegacyRandom(p)
		return
	}

	if p.features.Initiator {
		cb, err := f4(p.peerPubX, p.keys.PublicX(), p.peerNonce, 0)
		if err != nil {
			s.abort(err)
			return
		}
		if !bytes.Equal(cb, p.peerConfirm) {
			s.abort(ErrConfirmValueFailed)
			return
		}
	} else {
		s.send(packet(codePairingRandom, p.localNonce))
	}
	s.confirmUser(p, func() { s.onUserConfirmedSC(p) })
}

// confirmUser asks the delegate to accept the pairing and runs next once it
// did. Numeric Comparison shows g2 of the exchanged values.
func (s *PairingState) confirmUser(p *pairing, next func()) {
	p.phase = phaseUserConfirm
	method := p.features.Method

	confirm := func(ok bool) {
		s.d.Post(s.live.Guard(func() {
			if s.current != p || p.phase != phaseUserConfirm {
				return
			}
			if !ok {
				if method == NumericComparison {
					s.abort(ErrNumericComparisonFailed)
				} else {
					s.abort(ErrUnspecifiedReason)
				}
				return
			}
			next()
		}))
	}

	if s.delegate == nil {
		confirm(true)
		return
	}
	if method != NumericComparison {
		s.delegate.ConfirmPairing(s.peer, confirm)
		return
	}

	pka, pkb, na, nb := p.keys.PublicX(), p.peerPubX, p.localNonce, p.peerNonce
	if !p.features.Initiator {
		pka, pkb, na, nb = pkb, pka, nb, na
	}
	v, err := g2(pka, pkb, na, nb)
	if err != nil {
		s.abort(err)
		return
	}
	s.delegate.DisplayPasskey(s.peer, v, true, confirm)
}

func (s *PairingState) onUserConfirmedSC(p *pairing) {
	ia, ra := s.initiatorAndResponder(p)
	a, b := addr7(ia), addr7(ra)
	na, nb := p.localNonce, p.peerNonce
	if !p.features.Initiator {
		na, nb = nb, na
	}

	macKey, ltk, err := f5(p.dhKey, na, nb, a, b)
	if err != nil {
		s.abort(err)
		return
	}
	p.macKey = macKey
	p.ltk = maskKey(ltk, p.features.EncryptionKeySize)
	p.phase = phaseDHKeyCheck

	if p.features.Initiator {
		ea, err := f6(macKey, na, nb, make([]byte, 16), p.preq[1:4], a, b)
		if err != nil {
			s.abort(err)
			return
		}
		s.send(packet(codePairingDHKeyCheck, ea))
		return
	}
	if p.peerCheck != nil {
		s.onDHKeyCheck(p, p.peerCheck)
	}
}

func (s *PairingState) onDHKeyCheck(p *pairing, payload []byte) {
	// The initiator may finish before our user did.
	if p.phase == phaseUserConfirm && p.features.SecureConnections && !p.features.Initiator {
		p.peerCheck = append([]byte(nil), payload...)
		return
	}
	if p.phase != phaseDHKeyCheck {
		s.abort(ErrUnspecifiedReason)
		return
	}

	ia, ra := s.initiatorAndResponder(p)
	a, b := addr7(ia), addr7(ra)
	na, nb := p.localNonce, p.peerNonce
	if !p.features.Initiator {
		na, nb = nb, na
	}
	r := make([]byte, 16)

	if p.features.Initiator {
		eb, err := f6(p.macKey, nb, na, r, p.pres[1:4], b, a)
		if err != nil {
			s.abort(err)
			return
		}
		if !bytes.Equal(eb, payload) {
			s.abort(ErrDHKeyCheckFailed)
			return
		}
		s.startEncryption(p, p.ltk)
		return
	}

	ea, err := f6(p.macKey, na, nb, r, p.preq[1:4], a, b)
	if err != nil {
		s.abort(err)
		return
	}
	if !bytes.Equal(ea, payload) {
		s.abort(ErrDHKeyCheckFailed)
		return
	}
	eb, err := f6(p.macKey, nb, na, r, p.pres[1:4], b, a)
	if err != nil {
		s.abort(err)
		return
	}
	s.link.SetLTK(p.ltk, 0, 0)
	p.phase = phaseEncryption
	s.send(packet(codePairingDHKeyCheck, eb))
}

func (s *PairingState) startLegacy(p *pairing) {
	if p.features.Initiator {
		s.confirmUser(p, func() {
			if err := s.sendLegacyConfirm(p); err != nil {
				s.abort(err)
				return
			}
			p.phase = phaseConfirm
		})
		return
	}
	p.phase = phaseConfirm
}

// legacyConfirm computes c1 with the Just Works TK of zero.
func (s *PairingState) legacyConfirm(p *pairing, r []byte) ([]byte, error) {
	ia, ra := s.initiatorAndResponder(p)
	return c1(make([]byte, 16), r, p.preq, p.pres, addrType(ia), addrType(ra), ia.Value[:], ra.Value[:])
}

func (s *PairingState) sendLegacyConfirm(p *pairing) error {
	p.localNonce = randomBytes(16)
	c, err := s.legacyConfirm(p, p.localNonce)
	if err != nil {
		return err
	}
	s.send(packet(codePairingConfirm, c))
	return nil
}

func (s *PairingState) onLegacyRandom(p *pairing) {
	c, err := s.legacyConfirm(p, p.peerNonce)
	if err != nil {
		s.abort(err)
		return
	}
	if !bytes.Equal(c, p.peerConfirm) {
		s.abort(ErrConfirmValueFailed)
		return
	}

	// STK = s1(TK, Srand, Mrand)
	srand, mrand := p.peerNonce, p.localNonce
	if !p.features.Initiator {
		srand, mrand = mrand, srand
	}
	stk, err := s1(make([]byte, 16), srand, mrand)
	if err != nil {
		s.abort(err)
		return
	}
	key := maskKey(stk, p.features.EncryptionKeySize)

	if p.features.Initiator {
		s.startEncryption(p, key)
		return
	}
	s.link.SetLTK(key, 0, 0)
	p.phase = phaseEncryption
	s.send(packet(codePairingRandom, p.localNonce))
}

func (s *PairingState) startEncryption(p *pairing, key [16]byte) {
	p.phase = phaseEncryption
	if !s.link.StartEncryption(key, 0, 0) {
		s.abort(ErrUnspecifiedReason)
	}
}

func (s *PairingState) onEncryptionChange(err error, enabled bool) {
	p := s.current
	if err != nil {
		s.log.Warnf("sm: encryption failed on 0x%04X: %v", s.link.Handle(), err)
		s.encryptingBond = false
		if p != nil {
			s.fail(err)
		} else {
			s.resolveRequests(err, false)
		}
		return
	}
	if !enabled {
		s.setSecurity(SecurityProperties{})
		return
	}

	if p == nil || p.phase != phaseEncryption {
		// Encrypted with a bonded key, by us or by the central.
		props := SecurityProperties{Level: Encrypted, EncryptionKeySize: MaxEncryptionKeySize}
		if s.ltk != nil {
			props = s.ltk.Security
		}
		s.encryptingBond = false
		s.setSecurity(props)
		if p != nil && p.phase == phaseSecurityRequest {
			s.current = nil
			s.stopTimer()
		}
		s.resolveRequests(nil, true)
		return
	}

	f := p.features
	props := SecurityProperties{
		Level:             Encrypted,
		EncryptionKeySize: f.EncryptionKeySize,
		SecureConnections: f.SecureConnections,
	}
	if f.Method.authenticated() {
		props.Level = Authenticated
		if f.SecureConnections && f.EncryptionKeySize == MaxEncryptionKeySize {
			props.Level = SecureAuthenticated
		}
	}
	s.setSecurity(props)

	if f.SecureConnections {
		ltk := &LTK{Security: props, Key: p.ltk}
		p.data.PeerLTK, p.data.LocalLTK = ltk, ltk
	}
	p.phase = phaseKeyDistribution
	p.pendingRemote = f.RemoteKeys
	if !f.Initiator {
		s.distributeLocalKeys(p)
	}
	s.maybeComplete(p)
}

func (s *PairingState) setSecurity(p SecurityProperties) {
	s.security = p
	if s.cbs.NewSecurityProperties != nil {
		s.cbs.NewSecurityProperties(p)
	}
}

// The responder distributes its keys first [Vol 3, Part H, 3.6.1].
func (s *PairingState) distributeLocalKeys(p *pairing) {
	p.localSent = true
	if p.features.LocalKeys&KeyDistEncKey == 0 {
		return
	}

	key := maskKey(randomBytes(16), p.features.EncryptionKeySize)
	id := randomBytes(10)
	ediv := binary.LittleEndian.Uint16(id)
	rnd := binary.LittleEndian.Uint64(id[2:])

	s.send(packet(codeEncryptionInformation, key[:]))
	s.send(packet(codeMasterIdentification, id))
	p.data.LocalLTK = &LTK{Security: s.security, Key: key, EDiv: ediv, Rand: rnd}
}

func (s *PairingState) onKey(p *pairing, code uint8, payload []byte) {
	if p.phase != phaseKeyDistribution {
		s.abort(ErrUnspecifiedReason)
		return
	}

	switch code {
	case codeEncryptionInformation:
		if p.pendingRemote&KeyDistEncKey == 0 || p.peerLTK != nil {
			s.abort(ErrUnspecifiedReason)
			return
		}
		p.peerLTK = append([]byte(nil), payload...)

	case codeMasterIdentification:
		if p.peerLTK == nil || p.pendingRemote&KeyDistEncKey == 0 {
			s.abort(ErrUnspecifiedReason)
			return
		}
		ltk := &LTK{
			Security: s.security,
			EDiv:     binary.LittleEndian.Uint16(payload),
			Rand:     binary.LittleEndian.Uint64(payload[2:]),
		}
		copy(ltk.Key[:], p.peerLTK)
		p.data.PeerLTK = ltk
		p.pendingRemote &^= KeyDistEncKey

	case codeIdentityInformation:
		// Keys come in a fixed order; the LTK goes first.
		if p.pendingRemote&KeyDistIDKey == 0 || p.pendingRemote&KeyDistEncKey != 0 || p.irk != nil {
			s.abort(ErrUnspecifiedReason)
			return
		}
		var irk [16]byte
		copy(irk[:], payload)
		p.irk = &irk

	case codeIdentityAddrInformation:
		if p.irk == nil || p.pendingRemote&KeyDistIDKey == 0 {
			s.abort(ErrUnspecifiedReason)
			return
		}
		t := bthost.AddrTypeLEPublic
		if payload[0] == 0x01 {
			t = bthost.AddrTypeLERandom
		}
		var v [6]byte
		copy(v[:], payload[1:])
		addr := bthost.NewAddr(t, v)
		p.data.IRK = p.irk
		p.data.IdentityAddress = &addr
		p.pendingRemote &^= KeyDistIDKey
	}
	s.maybeComplete(p)
}

func (s *PairingState) maybeComplete(p *pairing) {
	if s.current != p || p.pendingRemote != 0 {
		return
	}
	if !p.localSent {
		s.distributeLocalKeys(p)
	}
	s.complete(p)
}

func (s *PairingState) complete(p *pairing) {
	s.current = nil
	s.stopTimer()
	s.log.Infof("sm: pairing complete on 0x%04X (%v)", s.link.Handle(), s.security.Level)

	if p.features.WillBond {
		if s.isCentral() {
			s.ltk = p.data.PeerLTK
		} else {
			s.ltk = p.data.LocalLTK
		}
		if s.cbs.NewPairingData != nil {
			s.cbs.NewPairingData(p.data)
		}
	}
	if s.delegate != nil {
		s.delegate.CompletePairing(s.peer, nil)
	}
	s.resolveRequests(nil, false)
}

func (s *PairingState) abort(err error) {
	s.sendFailed(reasonOf(err))
	s.fail(err)
}

func (s *PairingState) fail(err error) {
	p := s.current
	if p == nil {
		return
	}
	s.current = nil
	s.stopTimer()
	s.log.Infof("sm: pairing failed on 0x%04X: %v", s.link.Handle(), err)

	if s.delegate != nil && p.phase != phaseSecurityRequest {
		s.delegate.CompletePairing(s.peer, err)
	}
	s.resolveRequests(err, false)
}

// resolveRequests completes the queued upgrade requests. With retry set,
// requests the link still falls short of start a new upgrade; otherwise
// they fail.
func (s *PairingState) resolveRequests(err error, retry bool) {
	reqs := s.requests
	s.requests = nil

	var unmet []upgradeRequest
	for _, r := range reqs {
		switch {
		case err != nil:
			r.cb(err)
		case s.security.Level >= r.level:
			r.cb(nil)
		case retry:
			unmet = append(unmet, r)
		default:
			r.cb(ErrAuthenticationRequirements)
		}
	}
	if len(unmet) > 0 {
		s.requests = unmet
		s.startUpgrade()
	}
}
