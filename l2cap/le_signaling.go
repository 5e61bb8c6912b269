package l2cap

import (
	"time"

	"github.com/pkg/errors"
	"github.com/rigado/bthost/dispatch"
	"github.com/rigado/bthost/linux/hci"
)

// SignalingResponseTimeout bounds the wait for a response to a signaling
// request (RTX) [Vol 3, Part A, 6.2.1].
const SignalingResponseTimeout = 10 * time.Second

// ConnectionParameterUpdateFunc receives parameters a peripheral asked for
// and this side, as central, accepted.
type ConnectionParameterUpdateFunc func(handle uint16, p hci.LEPreferredConnectionParameters)

// ConnectionParameterUpdateResultFunc receives the central's answer to our
// request.
type ConnectionParameterUpdateResultFunc func(accepted bool, err error)

type signalResponseFunc func(code uint8, data []byte, err error)

type signalRequest struct {
	cb      signalResponseFunc
	timeout dispatch.Task
}

// leSignaling runs the LE signaling channel of one link. Everything runs on
// the link dispatcher.
type leSignaling struct {
	link     *LogicalLink
	ch       *Channel
	onParams ConnectionParameterUpdateFunc

	nextID  uint8
	pending map[uint8]*signalRequest
}

func newLESignaling(link *LogicalLink, ch *Channel, onParams ConnectionParameterUpdateFunc) *leSignaling {
	s := &leSignaling{
		link:     link,
		ch:       ch,
		onParams: onParams,
		nextID:   1,
		pending:  make(map[uint8]*signalRequest),
	}
	ch.Activate(s.handleCommand, func() {}, link.d)
	return s
}

// Identifiers are never 0x00 [Vol 3, Part A, 4].
func (s *leSignaling) newID() uint8 {
	id := s.nextID
	s.nextID++
	if s.nextID == 0 {
		s.nextID = 1
	}
	return id
}

func (s *leSignaling) sendRequest(code uint8, data []byte, cb signalResponseFunc) {
	id := s.newID()
	r := &signalRequest{cb: cb}
	r.timeout = s.link.d.PostDelayed(SignalingResponseTimeout, s.link.live.Guard(func() {
		if s.pending[id] != r {
			return
		}
		delete(s.pending, id)
		cb(0, nil, ErrSignalingTimeout)
	}))
	s.pending[id] = r
	s.ch.Send(marshalSignal(code, id, data))
}

func (s *leSignaling) reject(id uint8, reason uint16, data []byte) {
	rej := &CommandReject{Reason: reason, Data: data}
	s.ch.Send(marshalSignal(SignalCommandReject, id, rej.Marshal()))
}

func (s *leSignaling) handleCommand(sdu []byte) {
	if !s.link.live.Alive() {
		return
	}
	h, data, err := parseSignal(sdu)
	if err != nil {
		s.link.log.Warnf("l2cap: dropping signaling packet: %v", err)
		return
	}

	switch h.Code {
	case SignalConnectionParameterUpdateRequest:
		s.handleConnectionParameterUpdateRequest(h.Identifier, data)

	case SignalCommandReject, SignalConnectionParameterUpdateResponse, SignalDisconnectResponse:
		r, ok := s.pending[h.Identifier]
		if !ok {
			s.link.log.Debugf("l2cap: unexpected signaling response 0x%02X id %d", h.Code, h.Identifier)
			return
		}
		delete(s.pending, h.Identifier)
		r.timeout.Cancel()
		r.cb(h.Code, data, nil)

	case SignalDisconnectRequest:
		// There are no dynamic channels on LE-U here.
		var req DisconnectRequest
		if err := req.Unmarshal(data); err != nil {
			s.reject(h.Identifier, RejectNotUnderstood, nil)
			return
		}
		s.reject(h.Identifier, RejectInvalidCID, sliceCIDs(req.DestinationCID, req.SourceCID))

	default:
		s.link.log.Debugf("l2cap: rejecting unknown signaling command 0x%02X", h.Code)
		s.reject(h.Identifier, RejectNotUnderstood, nil)
	}
}

func sliceCIDs(local, remote uint16) []byte {
	return []byte{byte(local), byte(local >> 8), byte(remote), byte(remote >> 8)}
}

// Only the central answers connection parameter update requests
// [Vol 3, Part A, 4.20].
func (s *leSignaling) handleConnectionParameterUpdateRequest(id uint8, data []byte) {
	if s.link.Role() != hci.RoleMaster {
		s.reject(id, RejectNotUnderstood, nil)
		return
	}

	var req ConnectionParameterUpdateRequest
	if err := req.Unmarshal(data); err != nil {
		s.reject(id, RejectNotUnderstood, nil)
		return
	}
	p := hci.LEPreferredConnectionParameters{
		IntervalMin:        req.IntervalMin,
		IntervalMax:        req.IntervalMax,
		Latency:            req.SlaveLatency,
		SupervisionTimeout: req.TimeoutMultiplier,
	}

	rsp := ConnectionParameterUpdateResponse{Result: ConnectionParametersAccepted}
	if err := p.Validate(); err != nil {
		s.link.log.Debugf("l2cap: rejecting connection parameters: %v", err)
		rsp.Result = ConnectionParametersRejected
	}
	s.ch.Send(marshalSignal(rsp.Code(), id, rsp.Marshal()))

	if rsp.Result == ConnectionParametersAccepted && s.onParams != nil {
		s.onParams(s.link.Handle(), p)
	}
}

func (s *leSignaling) requestConnectionParameterUpdate(p hci.LEPreferredConnectionParameters, cb ConnectionParameterUpdateResultFunc) {
	if s.link.Role() != hci.RoleSlave {
		cb(false, ErrNotPeripheral)
		return
	}
	req := ConnectionParameterUpdateRequest{
		IntervalMin:       p.IntervalMin,
		IntervalMax:       p.IntervalMax,
		SlaveLatency:      p.Latency,
		TimeoutMultiplier: p.SupervisionTimeout,
	}
	s.sendRequest(req.Code(), req.Marshal(), func(code uint8, data []byte, err error) {
		if err != nil {
			cb(false, err)
			return
		}
		if code == SignalCommandReject {
			var rej CommandReject
			_ = rej.Unmarshal(data)
			cb(false, errors.Errorf("l2cap: connection parameter update rejected (reason 0x%04X)", rej.Reason))
			return
		}
		var rsp ConnectionParameterUpdateResponse
		if err := rsp.Unmarshal(data); err != nil {
			cb(false, errors.Wrap(err, "l2cap: malformed connection parameter update response"))
			return
		}
		cb(rsp.Result == ConnectionParametersAccepted, nil)
	})
}

// close fails outstanding requests.
func (s *leSignaling) close() {
	pending := s.pending
	s.pending = make(map[uint8]*signalRequest)
	for _, r := range pending {
		r.timeout.Cancel()
		r.cb(0, nil, ErrLinkClosed)
	}
}
