package gap

import (
	"github.com/pkg/errors"
	"github.com/rigado/bthost"
	"github.com/rigado/bthost/dispatch"
	"github.com/rigado/bthost/linux/hci"
)

// InterrogationFunc receives the aggregate status of an interrogation.
type InterrogationFunc func(err error)

type interrogation struct {
	peer   bthost.PeerID
	handle uint16
	cb     InterrogationFunc

	outstanding int
	done        bool
}

// interrogator runs the per-link command sequences of the BR/EDR and LE
// interrogators. It must be used on its dispatcher.
type interrogator struct {
	t     hci.Transport
	peers *PeerCache
	log   bthost.Logger
	live  *dispatch.Liveness

	pending map[uint16]*interrogation
}

func newInterrogator(t hci.Transport, peers *PeerCache, name string) *interrogator {
	return &interrogator{
		t:       t,
		peers:   peers,
		log:     bthost.ComponentLogger(name),
		live:    dispatch.NewLiveness(),
		pending: make(map[uint16]*interrogation),
	}
}

func (in *interrogator) begin(id bthost.PeerID, handle uint16, cb InterrogationFunc) (*interrogation, *Peer, bool) {
	if _, busy := in.pending[handle]; busy {
		cb(errors.Wrapf(ErrAlreadyRegistered, "gap: interrogation of 0x%04X", handle))
		return nil, nil, false
	}
	p, ok := in.peers.FindByID(id)
	if !ok {
		cb(ErrPeerNotFound)
		return nil, nil, false
	}
	i := &interrogation{peer: id, handle: handle, cb: cb}
	in.pending[handle] = i
	return i, p, true
}

// settle completes i successfully if nothing is outstanding.
func (in *interrogator) settle(i *interrogation) {
	if !i.done && i.outstanding == 0 {
		in.finish(i, nil)
	}
}

func (in *interrogator) finish(i *interrogation, err error) {
	if i.done {
		return
	}
	i.done = true
	delete(in.pending, i.handle)
	if err != nil {
		in.log.Debugf("gap: interrogation of %s (0x%04X) failed: %v", i.peer, i.handle, err)
	}
	i.cb(err)
}

// step sends one command of i. apply runs on the completion event with the
// peer, which may have been removed in the meantime.
func (in *interrogator) step(i *interrogation, c hci.Command, on hci.Completion, conflicting []hci.OpCode, apply func(p *Peer, e hci.Event) error) {
	i.outstanding++
	in.t.SendExclusiveCommand(c, func(_ hci.TransactionID, e hci.Event) {
		if !in.live.Alive() || i.done {
			return
		}
		if e.Code == hci.CommandStatusEvent && e.Err() == nil {
			return
		}
		i.outstanding--
		if err := e.Err(); err != nil {
			in.finish(i, err)
			return
		}
		p, ok := in.peers.FindByID(i.peer)
		if !ok {
			in.finish(i, ErrPeerNotFound)
			return
		}
		if err := apply(p, e); err != nil {
			in.finish(i, err)
			return
		}
		in.settle(i)
	}, on, conflicting)
}

// Cancel completes the interrogation of handle with ErrCanceled. Replies
// still in flight are ignored.
func (in *interrogator) Cancel(handle uint16) {
	if i, ok := in.pending[handle]; ok {
		in.finish(i, ErrCanceled)
	}
}

// Close cancels every interrogation.
func (in *interrogator) Close() {
	for _, i := range in.pending {
		in.finish(i, ErrCanceled)
	}
	in.live.Invalidate()
}

// Interrogating reports whether handle has an interrogation in progress.
func (in *interrogator) Interrogating(handle uint16) bool {
	_, ok := in.pending[handle]
	return ok
}

func checkHandle(i *interrogation, handle uint16, err error) error {
	if err != nil {
		return errors.Wrap(err, "gap: malformed interrogation reply")
	}
	if handle != i.handle {
		return errors.Errorf("gap: reply for 0x%04X, interrogating 0x%04X", handle, i.handle)
	}
	return nil
}
