package gap

import (
	"github.com/pkg/errors"
	"github.com/rigado/bthost"
	"github.com/rigado/bthost/linux/hci"
	"github.com/rigado/bthost/linux/hci/cmd"
	"github.com/rigado/bthost/linux/hci/evt"
)

// BrEdrInterrogator fills in what the host does not yet know about a newly
// connected BR/EDR peer: its name, version and LMP feature pages.
type BrEdrInterrogator struct {
	*interrogator
}

func NewBrEdrInterrogator(t hci.Transport, peers *PeerCache) *BrEdrInterrogator {
	return &BrEdrInterrogator{newInterrogator(t, peers, "gap-bredr-interrogator")}
}

// Start interrogates the peer connected on handle. cb runs once, with the
// first failure or nil when every step succeeded.
func (b *BrEdrInterrogator) Start(id bthost.PeerID, handle uint16, cb InterrogationFunc) {
	i, p, ok := b.begin(id, handle, cb)
	if !ok {
		return
	}

	if _, named := p.Name(); !named {
		b.requestName(i, p)
	}
	if _, ok := p.Version(); !ok {
		b.readVersion(i)
	}
	f := p.Features()
	if !f.HasPage(0) {
		b.readFeatures(i)
	} else if f.HasBit(0, FeatureExtendedFeatures) {
		b.readExtendedFeatures(i, 1)
	}
	b.settle(i)
}

func (b *BrEdrInterrogator) requestName(i *interrogation, p *Peer) {
	c := &cmd.RemoteNameRequest{BDADDR: p.Address().Value}
	if bredr, ok := p.BrEdr(); ok {
		c.PageScanRepetitionMode = bredr.PageScanRepetitionMode
		if bredr.HasClockOffset {
			c.ClockOffset = bredr.ClockOffset | clockOffsetValid
		}
	}
	b.step(i, c, hci.CompletesOn(hci.RemoteNameRequestCompleteEvent), []hci.OpCode{cmd.InquiryCode},
		func(p *Peer, e hci.Event) error {
			name, err := evt.RemoteNameRequestComplete(e.Params).RemoteNameWErr()
			if err != nil {
				return errors.Wrap(err, "gap: malformed remote name request complete")
			}
			p.SetName(name)
			return nil
		})
}

func (b *BrEdrInterrogator) readVersion(i *interrogation) {
	c := &cmd.ReadRemoteVersionInformation{ConnectionHandle: i.handle}
	b.step(i, c, hci.CompletesOn(hci.ReadRemoteVersionInfoCompleteEvent), nil,
		func(p *Peer, e hci.Event) error {
			return applyVersion(i, p, evt.ReadRemoteVersionInformationComplete(e.Params))
		})
}

func (b *BrEdrInterrogator) readFeatures(i *interrogation) {
	c := &cmd.ReadRemoteSupportedFeatures{ConnectionHandle: i.handle}
	b.step(i, c, hci.CompletesOn(hci.ReadRemoteSupportedFeaturesCompleteEvent), nil,
		func(p *Peer, e hci.Event) error {
			ev := evt.ReadRemoteSupportedFeaturesComplete(e.Params)
			h, err := ev.ConnectionHandleWErr()
			if err := checkHandle(i, h, err); err != nil {
				return err
			}
			bits, err := ev.LMPFeaturesWErr()
			if err != nil {
				return errors.Wrap(err, "gap: malformed remote features")
			}
			p.SetFeaturePage(0, bits)
			if p.Features().HasBit(0, FeatureExtendedFeatures) {
				b.readExtendedFeatures(i, 1)
			}
			return nil
		})
}

func (b *BrEdrInterrogator) readExtendedFeatures(i *interrogation, page uint8) {
	c := &cmd.ReadRemoteExtendedFeatures{ConnectionHandle: i.handle, PageNumber: page}
	b.step(i, c, hci.CompletesOn(hci.ReadRemoteExtendedFeaturesCompleteEvent), nil,
		func(p *Peer, e hci.Event) error {
			ev := evt.ReadRemoteExtendedFeaturesComplete(e.Params)
			h, err := ev.ConnectionHandleWErr()
			if err := checkHandle(i, h, err); err != nil {
				return err
			}
			n, err1 := ev.PageNumberWErr()
			last, err2 := ev.MaxPageNumberWErr()
			bits, err3 := ev.ExtendedLMPFeaturesWErr()
			if err := firstErr(err1, err2, err3); err != nil {
				return errors.Wrap(err, "gap: malformed extended features")
			}
			p.SetFeaturePage(n, bits)
			p.SetLastPageNumber(last)

			f := p.Features()
			if next := n + 1; next <= f.LastPage && int(next) < maxFeaturePages {
				b.readExtendedFeatures(i, next)
			}
			return nil
		})
}

func applyVersion(i *interrogation, p *Peer, ev evt.ReadRemoteVersionInformationComplete) error {
	h, err := ev.ConnectionHandleWErr()
	if err := checkHandle(i, h, err); err != nil {
		return err
	}
	v, err1 := ev.VersionWErr()
	mfg, err2 := ev.ManufacturerNameWErr()
	sub, err3 := ev.SubversionWErr()
	if err := firstErr(err1, err2, err3); err != nil {
		return errors.Wrap(err, "gap: malformed remote version")
	}
	p.SetVersion(Version{LMPVersion: v, Manufacturer: mfg, LMPSubversion: sub})
	return nil
}
