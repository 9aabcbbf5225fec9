package app

import (
	"sync"

	"github.com/dkeye/Mesh/internal/core"
	"github.com/dkeye/Mesh/internal/domain"
)

type BackpressureAction int

const (
	NoAction BackpressureAction = iota
	MarkSlow
	KickMember
	DropFrame
)

func (a BackpressureAction) String() string {
	switch a {
	case MarkSlow:
		return "mark_slow"
	case KickMember:
		return "kick"
	case DropFrame:
		return "drop"
	default:
		return "none"
	}
}

type Policy interface {
	OnBackPressure(room core.RoomService, member core.MemberSession) BackpressureAction
}

type SimplePolicy struct{}

func (SimplePolicy) OnBackPressure(core.RoomService, core.MemberSession) BackpressureAction {
	return KickMember
}

// ThresholdPolicy tolerates MaxDrops dropped frames per member before
// kicking it.
type ThresholdPolicy struct {
	MaxDrops int

	mu    sync.Mutex
	drops map[domain.PeerID]int
}

func NewThresholdPolicy(maxDrops int) *ThresholdPolicy {
	return &ThresholdPolicy{MaxDrops: maxDrops, drops: make(map[domain.PeerID]int)}
}

func (p *ThresholdPolicy) OnBackPressure(_ core.RoomService, member core.MemberSession) BackpressureAction {
	id := member.Meta().Peer.ID
	p.mu.Lock()
	defer p.mu.Unlock()
	p.drops[id]++
	if p.drops[id] > p.MaxDrops {
		delete(p.drops, id)
		return KickMember
	}
	return MarkSlow
}

// Forget clears the drop count of id.
func (p *ThresholdPolicy) Forget(id domain.PeerID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.drops, id)
}
