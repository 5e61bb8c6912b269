package bthost

import (
	"github.com/pkg/errors"
	"github.com/rs/xid"
)

// PeerID identifies a peer independently of the addresses it uses.
type PeerID struct {
	xid.ID
}

// NewPeerID returns a new, unique PeerID.
func NewPeerID() PeerID {
	return PeerID{xid.New()}
}

// ParsePeerID parses the string form returned by PeerID.String.
func ParsePeerID(s string) (PeerID, error) {
	id, err := xid.FromString(s)
	if err != nil {
		return PeerID{}, errors.Wrapf(err, "invalid peer id %q", s)
	}
	return PeerID{id}, nil
}

// Valid reports whether the id was assigned.
func (p PeerID) Valid() bool {
	return !p.ID.IsNil()
}
