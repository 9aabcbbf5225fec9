package domain

// Member represents a peer's participation meta for a room.
// No transport or lifecycle logic here.
type Member struct {
	Peer *Peer
}

// NewMember avoids raw literals in adapters and keeps construction obvious.
func NewMember(peer *Peer) *Member {
	return &Member{Peer: peer}
}
