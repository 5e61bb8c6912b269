package sm

import (
	"github.com/rigado/bthost"
)

// PairingMethod is the association model chosen in Phase 1.
type PairingMethod int

const (
	JustWorks PairingMethod = iota
	PasskeyEntryInput
	PasskeyEntryDisplay
	NumericComparison
	OutOfBand
)

func (m PairingMethod) String() string {
	switch m {
	case JustWorks:
		return "just works"
	case PasskeyEntryInput:
		return "passkey entry (input)"
	case PasskeyEntryDisplay:
		return "passkey entry (display)"
	case NumericComparison:
		return "numeric comparison"
	case OutOfBand:
		return "out of band"
	}
	return "unknown"
}

// authenticated reports whether the method protects against MITM.
func (m PairingMethod) authenticated() bool {
	return m != JustWorks
}

// PairingFeatures is the outcome of the feature exchange.
type PairingFeatures struct {
	Initiator         bool
	SecureConnections bool
	WillBond          bool
	Method            PairingMethod
	EncryptionKeySize int

	// Keys each side distributes in Phase 3.
	LocalKeys  KeyDist
	RemoteKeys KeyDist
}

// Phase1Func receives the negotiated features and the exchanged Pairing
// Request and Response, or the reason the exchange failed.
type Phase1Func func(f PairingFeatures, preq, pres PairingParams, err error)

// Phase1 runs the pairing feature exchange [Vol 3, Part H, 2.3].
type Phase1 struct {
	log      bthost.Logger
	send     func([]byte)
	done     Phase1Func
	finished bool

	initiator         bool
	preq              *PairingParams
	pres              *PairingParams
	level             SecurityLevel
	ioCap             IOCapability
	bondable          BondableMode
	secureConnections bool
}

// NewPhase1Initiator returns a Phase 1 that sends a Pairing Request for
// level when started.
func NewPhase1Initiator(send func([]byte), ioCap IOCapability, bondable BondableMode, level SecurityLevel, done Phase1Func) *Phase1 {
	return newPhase1(true, nil, send, ioCap, bondable, level, done)
}

// NewPhase1Responder returns a Phase 1 that answers preq. level is the
// minimum this side accepts.
func NewPhase1Responder(send func([]byte), preq PairingParams, ioCap IOCapability, bondable BondableMode, level SecurityLevel, done Phase1Func) *Phase1 {
	return newPhase1(false, &preq, send, ioCap, bondable, level, done)
}

func newPhase1(initiator bool, preq *PairingParams, send func([]byte), ioCap IOCapability, bondable BondableMode, level SecurityLevel, done Phase1Func) *Phase1 {
	if level < Encrypted {
		level = Encrypted
	}
	return &Phase1{
		log:               bthost.ComponentLogger("sm"),
		send:              send,
		done:              done,
		initiator:         initiator,
		preq:              preq,
		level:             level,
		ioCap:             ioCap,
		bondable:          bondable,
		secureConnections: true,
	}
}

// Start sends the Pairing Request or Response.
func (p *Phase1) Start() {
	if p.initiator {
		req := p.localParams()
		p.preq = &req
		p.send(req.marshal(codePairingRequest))
		return
	}
	p.respond()
}

// localParams builds what this side offers. In non-bondable mode no keys
// are distributed [Vol 3, Part C, 9.4.2.2]. We have no IRK to hand out, so
// only the LTK is offered.
func (p *Phase1) localParams() PairingParams {
	var r PairingParams
	if p.bondable == Bondable {
		r.AuthReq = authReqBonding
		r.InitiatorKeys = KeyDistEncKey
		r.ResponderKeys = KeyDistEncKey | KeyDistIDKey
		if !p.initiator {
			r.InitiatorKeys, r.ResponderKeys = r.ResponderKeys, r.InitiatorKeys
		}
	}
	if p.secureConnections {
		r.AuthReq |= authReqSC
	}
	if p.level >= Authenticated {
		r.AuthReq |= authReqMITM
	}
	r.IOCapability = p.ioCap
	r.MaxKeySize = MaxEncryptionKeySize
	r.OOBDataFlag = oobNotPresent
	return r
}

func (p *Phase1) respond() {
	preq := *p.preq
	pres := p.localParams()

	// Distribute only what both sides asked for.
	pres.InitiatorKeys &= preq.InitiatorKeys
	pres.ResponderKeys &= preq.ResponderKeys

	f, err := p.resolveFeatures(preq, pres)
	if err != nil {
		p.Abort(err)
		return
	}
	if !f.WillBond && p.bondable == Bondable {
		pres.AuthReq &^= authReqBonding
	}

	p.pres = &pres
	p.send(pres.marshal(codePairingResponse))
	p.finish(f, nil)
}

func (p *Phase1) resolveFeatures(preq, pres PairingParams) (PairingFeatures, error) {
	keySize := preq.MaxKeySize
	if pres.MaxKeySize < keySize {
		keySize = pres.MaxKeySize
	}
	if keySize < MinEncryptionKeySize {
		p.log.Debugf("sm: encryption key size too small (%d)", keySize)
		return PairingFeatures{}, ErrEncryptionKeySize
	}

	willBond := preq.AuthReq&authReqBonding != 0 && pres.AuthReq&authReqBonding != 0
	if !willBond {
		p.log.Infof("sm: negotiated non-bondable pairing (local mode: %v)", p.bondable)
	}
	sc := preq.AuthReq&authReqSC != 0 && pres.AuthReq&authReqSC != 0
	mitm := preq.AuthReq&authReqMITM != 0 || pres.AuthReq&authReqMITM != 0

	localIOC, peerIOC := preq.IOCapability, pres.IOCapability
	if !p.initiator {
		localIOC, peerIOC = peerIOC, localIOC
	}
	method := selectPairingMethod(sc, preq.OOBDataFlag == oobPresent, pres.OOBDataFlag == oobPresent, mitm, localIOC, peerIOC, p.initiator)

	if mitm && method == JustWorks {
		return PairingFeatures{}, ErrAuthenticationRequirements
	}

	// The response decides which keys are distributed.
	local, remote := pres.InitiatorKeys, pres.ResponderKeys
	if p.initiator {
		// A responder must not set a key the initiator left clear
		// [Vol 3, Part H, 3.6.1].
		if preq.InitiatorKeys&local != local || preq.ResponderKeys&remote != remote {
			return PairingFeatures{}, ErrInvalidParameters
		}
	} else {
		local, remote = remote, local
	}
	if !willBond && (local != 0 || remote != 0) {
		return PairingFeatures{}, ErrInvalidParameters
	}
	// EncKey is ignored with Secure Connections on LE.
	if sc {
		local &^= KeyDistEncKey
		remote &^= KeyDistEncKey
	}

	return PairingFeatures{
		Initiator:         p.initiator,
		SecureConnections: sc,
		WillBond:          willBond,
		Method:            method,
		EncryptionKeySize: int(keySize),
		LocalKeys:         local,
		RemoteKeys:        remote,
	}, nil
}

// HandlePacket processes an SMP command received during Phase 1.
func (p *Phase1) HandlePacket(code uint8, payload []byte) {
	if p.finished {
		return
	}
	switch code {
	case codePairingFailed:
		p.finish(PairingFeatures{}, Error(payload[0]))

	case codePairingResponse:
		if !p.initiator {
			p.log.Debugf("sm: pairing response received as responder")
			p.Abort(ErrCommandNotSupported)
			return
		}
		if p.preq == nil || p.pres != nil {
			p.Abort(ErrUnspecifiedReason)
			return
		}
		pres := parsePairingParams(payload)
		f, err := p.resolveFeatures(*p.preq, pres)
		if err != nil {
			p.Abort(err)
			return
		}
		p.pres = &pres
		p.finish(f, nil)

	default:
		p.log.Infof("sm: unexpected %s in phase 1", codeNames[code])
		p.Abort(ErrUnspecifiedReason)
	}
}

// Abort sends Pairing Failed with the reason carried by err.
func (p *Phase1) Abort(err error) {
	if p.finished {
		return
	}
	p.send(packet(codePairingFailed, []byte{uint8(reasonOf(err))}))
	p.finish(PairingFeatures{}, err)
}

func (p *Phase1) finish(f PairingFeatures, err error) {
	p.finished = true
	var preq, pres PairingParams
	if p.preq != nil {
		preq = *p.preq
	}
	if p.pres != nil {
		pres = *p.pres
	}
	p.done(f, preq, pres, err)
}

// selectPairingMethod applies the IO capability mapping of
// [Vol 3, Part H, 2.3.5.1].
func selectPairingMethod(sc, initOOB, rspOOB, mitm bool, local, peer IOCapability, initiator bool) PairingMethod {
	if (sc && (initOOB || rspOOB)) || (!sc && initOOB && rspOOB) {
		return OutOfBand
	}
	if !mitm || peer == IOCapNoInputNoOutput {
		return JustWorks
	}

	switch local {
	case IOCapDisplayOnly:
		if peer == IOCapKeyboardOnly || peer == IOCapKeyboardDisplay {
			return PasskeyEntryDisplay
		}

	case IOCapDisplayYesNo:
		switch peer {
		case IOCapDisplayYesNo:
			if sc {
				return NumericComparison
			}
		case IOCapKeyboardDisplay:
			if sc {
				return NumericComparison
			}
			return PasskeyEntryDisplay
		case IOCapKeyboardOnly:
			return PasskeyEntryDisplay
		}

	case IOCapKeyboardOnly:
		return PasskeyEntryInput

	case IOCapKeyboardDisplay:
		switch peer {
		case IOCapKeyboardOnly:
			return PasskeyEntryDisplay
		case IOCapDisplayOnly:
			return PasskeyEntryInput
		case IOCapDisplayYesNo:
			if sc {
				return NumericComparison
			}
			return PasskeyEntryInput
		}
		if sc {
			return NumericComparison
		}
		if initiator {
			return PasskeyEntryDisplay
		}
		return PasskeyEntryInput
	}
	return JustWorks
}
