package app

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/dkeye/Mesh/internal/core"
	"github.com/dkeye/Mesh/internal/domain"
	"github.com/rs/zerolog/log"
)

var ErrPeerNotFound = errors.New("peer not found")

type sessionEntry struct {
	RoomName domain.RoomName
	Session  core.MemberSession
	Cancel   context.CancelFunc
}

// Registry tracks connected participants by the identity the server issued
// them. It is the single source of peer identifiers.
type Registry struct {
	mu       sync.RWMutex
	sessions map[domain.PeerID]*sessionEntry
	peers    map[domain.PeerID]*domain.Peer
}

func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[domain.PeerID]*sessionEntry),
		peers:    make(map[domain.PeerID]*domain.Peer),
	}
}

func (r *Registry) GetOrCreatePeer(id domain.PeerID) *domain.Peer {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.peers[id]; ok {
		return p
	}
	p := &domain.Peer{ID: id, Name: "guest"}
	r.peers[id] = p
	log.Info().Str("module", "app.registry").Str("peer", string(id)).Msg("created new peer")
	return p
}

func (r *Registry) UpdateName(id domain.PeerID, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.peers[id]
	if !ok {
		return ErrPeerNotFound
	}
	if err := p.SetName(name); err != nil {
		return err
	}
	log.Info().Str("module", "app.registry").Str("peer", string(id)).Str("name", name).Msg("updated name")
	return nil
}

// BindSignal registers the signaling session of id. A previous connection
// under the same identity is cancelled.
func (r *Registry) BindSignal(id domain.PeerID, sess core.MemberSession, cancel context.CancelFunc) {
	r.mu.Lock()
	old, replaced := r.sessions[id]
	r.sessions[id] = &sessionEntry{Session: sess, Cancel: cancel}
	r.mu.Unlock()
	if replaced && old.Cancel != nil {
		old.Cancel()
		log.Info().Str("module", "app.registry").Str("peer", string(id)).Msg("replaced signal")
		return
	}
	log.Info().Str("module", "app.registry").Str("peer", string(id)).Msg("bound signal")
}

func (r *Registry) GetSession(id domain.PeerID) (core.MemberSession, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.sessions[id]; ok {
		return e.Session, true
	}
	return nil, false
}

// Unbind forgets id if sess is still its current session.
func (r *Registry) Unbind(id domain.PeerID, sess core.MemberSession) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.sessions[id]
	if !ok || e.Session != sess {
		return false
	}
	delete(r.sessions, id)
	log.Info().Str("module", "app.registry").Str("peer", string(id)).Msg("unbind session")
	return true
}

func (r *Registry) RoomOf(id domain.PeerID) (domain.RoomName, core.MemberSession, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.sessions[id]
	if !ok || entry.RoomName == "" {
		return "", nil, false
	}
	return entry.RoomName, entry.Session, true
}

func (r *Registry) UpdateRoom(id domain.PeerID, newRoom domain.RoomName) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry, ok := r.sessions[id]
	if !ok {
		return false
	}
	entry.RoomName = newRoom
	log.Info().Str("module", "app.registry").Str("peer", string(id)).Str("room", string(newRoom)).Msg("updated room")
	return true
}

func (r *Registry) RemoveRoom(id domain.PeerID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if entry, ok := r.sessions[id]; ok {
		entry.RoomName = ""
	}
	log.Info().Str("module", "app.registry").Str("peer", string(id)).Msg("removed room association")
}

type Snapshot struct {
	ID      domain.PeerID
	Session core.MemberSession
}

// MembersOfRoom lists the sessions bound to name in identifier order.
func (r *Registry) MembersOfRoom(name domain.RoomName) []Snapshot {
	r.mu.RLock()
	out := make([]Snapshot, 0, len(r.sessions))
	for id, e := range r.sessions {
		if e.RoomName == name {
			out = append(out, Snapshot{ID: id, Session: e.Session})
		}
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID.Less(out[j].ID) })
	return out
}

// RoomMates lists the other members of id's room.
func (r *Registry) RoomMates(id domain.PeerID) []Snapshot {
	name, _, ok := r.RoomOf(id)
	if !ok {
		return nil
	}
	all := r.MembersOfRoom(name)
	out := all[:0]
	for _, s := range all {
		if s.ID != id {
			out = append(out, s)
		}
	}
	return out
}

func (r *Registry) Cancel(id domain.PeerID) bool {
	r.mu.RLock()
	e, ok := r.sessions[id]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	if e.Cancel != nil {
		e.Cancel()
	}
	log.Info().Str("module", "app.registry").Str("peer", string(id)).Msg("canceled session")
	return true
}
