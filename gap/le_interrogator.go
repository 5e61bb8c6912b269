package gap

import (
	"github.com/pkg/errors"
	"github.com/rigado/bthost"
	"github.com/rigado/bthost/linux/hci"
	"github.com/rigado/bthost/linux/hci/cmd"
	"github.com/rigado/bthost/linux/hci/evt"
)

// LowEnergyInterrogator reads the version and LE features of a newly
// connected LE peer.
type LowEnergyInterrogator struct {
	*interrogator
}

func NewLowEnergyInterrogator(t hci.Transport, peers *PeerCache) *LowEnergyInterrogator {
	return &LowEnergyInterrogator{newInterrogator(t, peers, "gap-le-interrogator")}
}

// Start interrogates the peer connected on handle. cb runs once.
func (l *LowEnergyInterrogator) Start(id bthost.PeerID, handle uint16, cb InterrogationFunc) {
	i, p, ok := l.begin(id, handle, cb)
	if !ok {
		return
	}

	if _, ok := p.Version(); !ok {
		c := &cmd.ReadRemoteVersionInformation{ConnectionHandle: handle}
		l.step(i, c, hci.CompletesOn(hci.ReadRemoteVersionInfoCompleteEvent), nil,
			func(p *Peer, e hci.Event) error {
				return applyVersion(i, p, evt.ReadRemoteVersionInformationComplete(e.Params))
			})
	}
	if le, _ := p.LE(); !le.HasFeatures {
		c := &cmd.LEReadRemoteFeatures{ConnectionHandle: handle}
		l.step(i, c, hci.CompletesOnLE(hci.LEReadRemoteFeaturesCompleteSubevent), nil,
			func(p *Peer, e hci.Event) error {
				ev := evt.LEReadRemoteFeaturesComplete(e.Params)
				h, err := ev.ConnectionHandleWErr()
				if err := checkHandle(i, h, err); err != nil {
					return err
				}
				bits, err := ev.LEFeaturesWErr()
				if err != nil {
					return errors.Wrap(err, "gap: malformed LE features")
				}
				p.UpdateLE(func(le *LowEnergyData) {
					le.Features, le.HasFeatures = bits, true
				})
				return nil
			})
	}
	l.settle(i)
}
