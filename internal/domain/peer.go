// Package domain contains entity without logic, just meta-data
package domain

import (
	"errors"

	"github.com/google/uuid"
)

const (
	MaxPeerIDLen = 36
	MaxNameLen   = 36
)

var (
	ErrNameTooLong = errors.New("name too long")
	ErrNameEmpty   = errors.New("name empty")
)

// PeerID identifies a participant. Identifiers are issued by the rendezvous
// server and compared lexicographically; the order is total and stable.
type PeerID string

// NewPeerID issues a fresh identifier.
func NewPeerID() PeerID {
	return PeerID(uuid.NewString())
}

func (p PeerID) Less(other PeerID) bool { return p < other }

// Initiates reports whether self sends the offer to peer. Exactly one side of
// a pair satisfies it for distinct identifiers.
func Initiates(self, peer PeerID) bool {
	return self <= peer
}

type Peer struct {
	ID   PeerID `json:"id"`
	Name string `json:"name"`
}

// NewPeer is a tiny helper to avoid ad-hoc struct literals in adapters.
func NewPeer(id PeerID, name string) (*Peer, error) {
	p := &Peer{ID: id}
	if err := p.SetName(name); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *Peer) SetName(name string) error {
	if len(name) == 0 {
		return ErrNameEmpty
	}
	if len(name) > MaxNameLen {
		return ErrNameTooLong
	}
	p.Name = name
	return nil
}
