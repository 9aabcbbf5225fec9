package core

import (
	"sort"
	"sync"

	"github.com/dkeye/Mesh/internal/domain"
	"github.com/rs/zerolog/log"
)

// roomImpl is a threadsafe in-memory room.
// It never closes adapter-owned resources.
type roomImpl struct {
	room    *domain.Room
	mu      sync.RWMutex
	members map[domain.PeerID]MemberSession
}

func NewRoomService(room *domain.Room) RoomService {
	return &roomImpl{
		room:    room,
		members: make(map[domain.PeerID]MemberSession),
	}
}

func (r *roomImpl) Room() *domain.Room { return r.room }

func (r *roomImpl) MemberCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.members)
}

func (r *roomImpl) Member(id domain.PeerID) (MemberSession, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ms, ok := r.members[id]
	return ms, ok
}

func (r *roomImpl) AddMember(id domain.PeerID, ms MemberSession) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.members[id] = ms
	log.Info().Str("module", "core.room").Str("room", string(r.room.Name)).Str("peer", string(id)).Msg("member added")
}

func (r *roomImpl) RemoveMember(id domain.PeerID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.members, id)
	log.Info().Str("module", "core.room").Str("room", string(r.room.Name)).Str("peer", string(id)).Msg("member removed")
}

func (r *roomImpl) Broadcast(from domain.PeerID, data Frame) PublishResult {
	r.mu.RLock()
	defer r.mu.RUnlock()
	res := PublishResult{}
	for id, m := range r.members {
		if id == from {
			continue
		}
		sc := m.Signal()
		if sc == nil {
			continue
		}
		if err := sc.TrySend(data); err != nil {
			res.Dropped = append(res.Dropped, m)
			continue
		}
		res.SendTo++
	}
	log.Debug().Str("module", "core.room").Str("from", string(from)).Int("sent_to", res.SendTo).Int("dropped", len(res.Dropped)).Msg("broadcast result")
	return res
}

// MembersSnapshot is sorted by peer id so listings are stable.
func (r *roomImpl) MembersSnapshot() []MemberDTO {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]MemberDTO, 0, len(r.members))
	for id, ms := range r.members {
		out = append(out, MemberDTO{ID: id, Name: ms.Meta().Peer.Name})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID.Less(out[j].ID) })
	return out
}
