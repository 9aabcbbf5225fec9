// Package session keeps one negotiation session per remote peer.
package session

import (
	"sort"
	"sync"

	"github.com/dkeye/Mesh/internal/core"
	"github.com/dkeye/Mesh/internal/domain"
	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc"
)

// Event is a connection callback tagged with the session that raised it.
// Consumers drop events whose Session no longer matches the table entry.
type Event struct {
	Peer    domain.PeerID
	Session *Session
	core.PeerEvent
}

// Table maps remote peers to their sessions. At most one session exists per
// peer at any time.
type Table struct {
	factory core.PeerConnectionFactory
	sink    chan<- Event

	mu       sync.RWMutex
	sessions map[domain.PeerID]*Session
	wg       conc.WaitGroup
}

// NewTable builds sessions through factory and forwards their events to sink,
// one goroutine per session. A nil sink disables forwarding.
func NewTable(factory core.PeerConnectionFactory, sink chan<- Event) *Table {
	return &Table{
		factory:  factory,
		sink:     sink,
		sessions: make(map[domain.PeerID]*Session),
	}
}

// GetOrCreate returns the session for peer, building one when absent.
// created is true when a new connection handle was made.
func (t *Table) GetOrCreate(peer domain.PeerID) (s *Session, created bool, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if s, ok := t.sessions[peer]; ok {
		return s, false, nil
	}
	conn, err := t.factory.NewPeerConnection(peer)
	if err != nil {
		return nil, false, err
	}
	s = newSession(peer, conn)
	t.sessions[peer] = s
	if t.sink != nil {
		t.wg.Go(func() { t.forward(s) })
	}
	log.Debug().Str("module", "app.session").Str("peer", string(peer)).Msg("session created")
	return s, true, nil
}

func (t *Table) forward(s *Session) {
	events := s.conn.Events()
	for {
		select {
		case <-s.done:
			return
		case ev := <-events:
			select {
			case t.sink <- Event{Peer: s.peer, Session: s, PeerEvent: ev}:
			case <-s.done:
				return
			}
		}
	}
}

func (t *Table) Get(peer domain.PeerID) (*Session, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	s, ok := t.sessions[peer]
	return s, ok
}

// Current reports whether s is still the live session for its peer.
func (t *Table) Current(s *Session) bool {
	if s == nil {
		return false
	}
	cur, ok := t.Get(s.peer)
	return ok && cur == s && !s.Closed()
}

// Remove closes and forgets the session for peer. Removing an unknown peer
// is a no-op and returns false.
func (t *Table) Remove(peer domain.PeerID) bool {
	t.mu.Lock()
	s, ok := t.sessions[peer]
	if ok {
		delete(t.sessions, peer)
	}
	t.mu.Unlock()
	if !ok {
		return false
	}
	if err := s.close(); err != nil {
		log.Warn().Str("module", "app.session").Str("peer", string(peer)).Err(err).Msg("close connection")
	}
	log.Debug().Str("module", "app.session").Str("peer", string(peer)).Msg("session removed")
	return true
}

// ForEach visits a snapshot of the sessions; fn may call Remove.
func (t *Table) ForEach(fn func(*Session)) {
	t.mu.RLock()
	list := make([]*Session, 0, len(t.sessions))
	for _, s := range t.sessions {
		list = append(list, s)
	}
	t.mu.RUnlock()
	for _, s := range list {
		fn(s)
	}
}

// Peers lists known peers in identifier order.
func (t *Table) Peers() []domain.PeerID {
	t.mu.RLock()
	out := make([]domain.PeerID, 0, len(t.sessions))
	for id := range t.sessions {
		out = append(out, id)
	}
	t.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Less(out[j]) })
	return out
}

func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.sessions)
}

// Clear removes every session.
func (t *Table) Clear() {
	for _, id := range t.Peers() {
		t.Remove(id)
	}
}

// Wait blocks until all forwarders have exited. Call after Clear.
func (t *Table) Wait() {
	t.wg.Wait()
}
