package session

import (
	"errors"
	"fmt"
	"sync"

	"github.com/dkeye/Mesh/internal/core"
	"github.com/dkeye/Mesh/internal/domain"
	"github.com/pion/webrtc/v4"
)

var (
	ErrClosed            = errors.New("session closed")
	ErrIllegalTransition = errors.New("illegal phase transition")
)

// Session is the negotiation record for one remote peer. It owns exactly one
// connection handle; the handle is closed when the session is removed.
type Session struct {
	peer domain.PeerID
	conn core.PeerConnection

	mu             sync.Mutex
	phase          Phase
	pending        []webrtc.ICECandidateInit
	remoteApplied  bool
	tracksAttached bool

	done      chan struct{}
	closeOnce sync.Once
}

func newSession(peer domain.PeerID, conn core.PeerConnection) *Session {
	return &Session{
		peer:  peer,
		conn:  conn,
		phase: PhaseNew,
		done:  make(chan struct{}),
	}
}

func (s *Session) PeerID() domain.PeerID     { return s.peer }
func (s *Session) Conn() core.PeerConnection { return s.conn }

// Done is closed once the session has been removed.
func (s *Session) Done() <-chan struct{} { return s.done }

func (s *Session) Phase() Phase {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.phase
}

func (s *Session) Closed() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// Transition moves the session to the given phase if the step is legal.
func (s *Session) Transition(to Phase) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.phase == PhaseClosed {
		return ErrClosed
	}
	if !CanTransition(s.phase, to) {
		return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, s.phase, to)
	}
	s.phase = to
	return nil
}

// Fail moves any open session to FAILED.
func (s *Session) Fail() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.phase != PhaseClosed {
		s.phase = PhaseFailed
	}
}

func (s *Session) RemoteApplied() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.remoteApplied
}

// QueueCandidate buffers c while no remote description is applied. It
// returns false when the candidate should be applied right away.
func (s *Session) QueueCandidate(c webrtc.ICECandidateInit) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.remoteApplied {
		return false
	}
	s.pending = append(s.pending, c)
	return true
}

// MarkRemoteApplied flags the remote description as set and hands back the
// buffered candidates in arrival order. The buffer is left empty.
func (s *Session) MarkRemoteApplied() []webrtc.ICECandidateInit {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.remoteApplied = true
	out := s.pending
	s.pending = nil
	return out
}

// ResetRemote clears the applied flag after a rollback.
func (s *Session) ResetRemote() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.remoteApplied = false
}

func (s *Session) PendingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

func (s *Session) TracksAttached() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tracksAttached
}

func (s *Session) MarkTracksAttached() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tracksAttached = true
}

func (s *Session) close() error {
	var err error
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.phase = PhaseClosed
		s.pending = nil
		s.mu.Unlock()
		close(s.done)
		err = s.conn.Close()
	})
	return err
}
