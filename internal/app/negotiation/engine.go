// Package negotiation runs the offer/answer/ICE protocol for every peer
// session of the local participant.
package negotiation

import (
	"errors"
	"fmt"

	"github.com/dkeye/Mesh/internal/app/session"
	"github.com/dkeye/Mesh/internal/core"
	"github.com/dkeye/Mesh/internal/domain"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	ErrNoIdentity        = errors.New("local identity not set")
	ErrProtocolViolation = errors.New("protocol violation")
	ErrSessionClosed     = errors.New("session closed during negotiation")
)

// Listener learns about per-peer outcomes the engine cannot handle itself.
type Listener interface {
	OnSessionClosed(peer domain.PeerID)
	OnReachabilityChanged(peer domain.PeerID, connected bool)
	OnRemoteTrack(peer domain.PeerID, track *webrtc.TrackRemote)
}

// TrackProvider returns the tracks every new session attaches.
type TrackProvider func() []webrtc.TrackLocal

// candidates that arrive before their session are held up to this many per peer
const maxEarlyCandidates = 64

type nopListener struct{}

func (nopListener) OnSessionClosed(domain.PeerID)                    {}
func (nopListener) OnReachabilityChanged(domain.PeerID, bool)        {}
func (nopListener) OnRemoteTrack(domain.PeerID, *webrtc.TrackRemote) {}

// Engine is not safe for concurrent use; the coordinator loop drives it.
type Engine struct {
	self     domain.PeerID
	table    *session.Table
	signal   core.SignalingPort
	tracks   TrackProvider
	listener Listener
	log      zerolog.Logger

	early map[domain.PeerID][]webrtc.ICECandidateInit
}

func New(table *session.Table, signal core.SignalingPort, tracks TrackProvider, listener Listener) *Engine {
	if tracks == nil {
		tracks = func() []webrtc.TrackLocal { return nil }
	}
	if listener == nil {
		listener = nopListener{}
	}
	return &Engine{
		table:    table,
		signal:   signal,
		tracks:   tracks,
		listener: listener,
		log:      log.With().Str("module", "app.negotiation").Logger(),
		early:    make(map[domain.PeerID][]webrtc.ICECandidateInit),
	}
}

// SetIdentity changes the local identity and forgets candidates held for
// sessions that do not exist yet.
func (e *Engine) SetIdentity(id domain.PeerID) {
	if id != e.self {
		clear(e.early)
	}
	e.self = id
}

func (e *Engine) Identity() domain.PeerID { return e.self }

// PeerDiscovered starts negotiating with peer when the local side is the
// initiator of the pair. Otherwise it waits for the remote offer.
func (e *Engine) PeerDiscovered(peer domain.PeerID) error {
	if e.self == "" {
		return ErrNoIdentity
	}
	if peer == e.self || peer == "" {
		return nil
	}
	if !domain.Initiates(e.self, peer) {
		e.log.Debug().Str("peer", string(peer)).Msg("awaiting remote offer")
		return nil
	}
	s, _, err := e.table.GetOrCreate(peer)
	if err != nil {
		return fmt.Errorf("session for %s: %w", peer, err)
	}
	e.adopt(s)
	switch ph := s.Phase(); ph {
	case session.PhaseNew, session.PhaseFailed:
	default:
		e.log.Debug().Str("peer", string(peer)).Stringer("phase", ph).Msg("already negotiating")
		return nil
	}
	return e.offer(s)
}

func (e *Engine) offer(s *session.Session) error {
	peer := s.PeerID()
	conn := s.Conn()
	e.attach(s)

	desc, err := conn.CreateOffer()
	if err != nil {
		return e.fail(s, "create offer", err)
	}
	if !e.table.Current(s) {
		return ErrSessionClosed
	}
	if err := conn.SetLocalDescription(desc); err != nil {
		return e.fail(s, "set local offer", err)
	}
	if !e.table.Current(s) {
		return ErrSessionClosed
	}
	if err := s.Transition(session.PhaseOfferSent); err != nil {
		return err
	}
	e.log.Info().Str("peer", string(peer)).Msg("offer sent")
	return e.send(core.Message{Type: core.MsgOffer, PeerID: peer, Description: &desc})
}

// ReceiveOffer answers a remote offer. Glare is settled by identifier order:
// an offer colliding with our own is dropped when we are the initiator and
// otherwise wins after our offer is rolled back.
func (e *Engine) ReceiveOffer(peer domain.PeerID, desc *webrtc.SessionDescription) error {
	if e.self == "" {
		return ErrNoIdentity
	}
	if peer == "" || peer == e.self {
		return e.violation(peer, "offer from self or unnamed peer")
	}
	if desc == nil || desc.Type != webrtc.SDPTypeOffer {
		return e.violation(peer, "malformed offer")
	}
	s, _, err := e.table.GetOrCreate(peer)
	if err != nil {
		return fmt.Errorf("session for %s: %w", peer, err)
	}
	e.adopt(s)
	conn := s.Conn()

	switch ph := s.Phase(); ph {
	case session.PhaseNew, session.PhaseFailed:
	case session.PhaseOfferSent:
		if domain.Initiates(e.self, peer) {
			return e.violation(peer, "offer collides with local offer")
		}
		if err := conn.SetLocalDescription(webrtc.SessionDescription{Type: webrtc.SDPTypeRollback}); err != nil {
			return e.fail(s, "rollback local offer", err)
		}
		if !e.table.Current(s) {
			return ErrSessionClosed
		}
		s.ResetRemote()
		e.log.Info().Str("peer", string(peer)).Msg("rolled back local offer")
	case session.PhaseStable:
		if domain.Initiates(e.self, peer) {
			return e.violation(peer, "offer while stable")
		}
	default:
		return e.violation(peer, "offer in "+ph.String())
	}

	if err := s.Transition(session.PhaseOfferReceived); err != nil {
		return err
	}
	e.attach(s)

	if err := conn.SetRemoteDescription(*desc); err != nil {
		return e.fail(s, "set remote offer", err)
	}
	if !e.table.Current(s) {
		return ErrSessionClosed
	}
	e.drain(s)

	answer, err := conn.CreateAnswer()
	if err != nil {
		return e.fail(s, "create answer", err)
	}
	if !e.table.Current(s) {
		return ErrSessionClosed
	}
	if err := conn.SetLocalDescription(answer); err != nil {
		return e.fail(s, "set local answer", err)
	}
	if !e.table.Current(s) {
		return ErrSessionClosed
	}
	if err := s.Transition(session.PhaseAnswerSent); err != nil {
		return err
	}
	sendErr := e.send(core.Message{Type: core.MsgAnswer, PeerID: peer, Description: &answer})
	if err := s.Transition(session.PhaseStable); err != nil {
		return err
	}
	e.log.Info().Str("peer", string(peer)).Msg("answer sent")
	return sendErr
}

// ReceiveAnswer completes an offer we sent. Any other phase is a protocol
// violation and leaves the session untouched.
func (e *Engine) ReceiveAnswer(peer domain.PeerID, desc *webrtc.SessionDescription) error {
	if desc == nil || desc.Type != webrtc.SDPTypeAnswer {
		return e.violation(peer, "malformed answer")
	}
	s, ok := e.table.Get(peer)
	if !ok {
		return e.violation(peer, "answer without session")
	}
	if ph := s.Phase(); ph != session.PhaseOfferSent {
		return e.violation(peer, "answer in "+ph.String())
	}
	if err := s.Conn().SetRemoteDescription(*desc); err != nil {
		return e.fail(s, "set remote answer", err)
	}
	if !e.table.Current(s) {
		return ErrSessionClosed
	}
	e.drain(s)
	if err := s.Transition(session.PhaseStable); err != nil {
		return err
	}
	e.log.Info().Str("peer", string(peer)).Msg("answer applied")
	return nil
}

// ReceiveCandidate applies a remote candidate, or buffers it until the
// remote description is in place.
func (e *Engine) ReceiveCandidate(peer domain.PeerID, c *webrtc.ICECandidateInit) error {
	if c == nil {
		return e.violation(peer, "empty candidate")
	}
	s, ok := e.table.Get(peer)
	if !ok {
		return e.holdEarly(peer, *c)
	}
	if s.QueueCandidate(*c) {
		e.log.Debug().Str("peer", string(peer)).Int("pending", s.PendingCount()).Msg("candidate queued")
		return nil
	}
	e.apply(s, *c)
	return nil
}

func (e *Engine) holdEarly(peer domain.PeerID, c webrtc.ICECandidateInit) error {
	if peer == "" || peer == e.self {
		return e.violation(peer, "candidate from self or unnamed peer")
	}
	held := e.early[peer]
	if len(held) >= maxEarlyCandidates {
		e.log.Warn().Str("peer", string(peer)).Msg("early candidate dropped")
		return nil
	}
	e.early[peer] = append(held, c)
	e.log.Debug().Str("peer", string(peer)).Int("held", len(held)+1).Msg("candidate held until session exists")
	return nil
}

// adopt hands candidates held for the peer of s to the session, in arrival
// order.
func (e *Engine) adopt(s *session.Session) {
	held, ok := e.early[s.PeerID()]
	if !ok {
		return
	}
	delete(e.early, s.PeerID())
	for _, c := range held {
		if !s.QueueCandidate(c) {
			e.apply(s, c)
		}
	}
}

func (e *Engine) drain(s *session.Session) {
	for _, c := range s.MarkRemoteApplied() {
		e.apply(s, c)
	}
}

func (e *Engine) apply(s *session.Session, c webrtc.ICECandidateInit) {
	if err := s.Conn().AddICECandidate(c); err != nil {
		e.log.Warn().Str("peer", string(s.PeerID())).Err(err).Msg("add candidate")
	}
}

// HandleEvent reacts to one connection callback. Events from sessions that
// are no longer current are ignored.
func (e *Engine) HandleEvent(ev session.Event) {
	if !e.table.Current(ev.Session) {
		e.log.Debug().Str("peer", string(ev.Peer)).Stringer("kind", ev.Kind).Msg("stale event dropped")
		return
	}
	peer := ev.Peer
	switch ev.Kind {
	case core.EventLocalCandidate:
		if ev.Candidate == nil {
			return
		}
		c := *ev.Candidate
		if err := e.send(core.Message{Type: core.MsgCandidate, PeerID: peer, Candidate: &c}); err != nil {
			e.log.Warn().Str("peer", string(peer)).Err(err).Msg("forward candidate")
		}
	case core.EventNegotiationNeeded:
		if !domain.Initiates(e.self, peer) {
			e.log.Debug().Str("peer", string(peer)).Msg("renegotiation left to remote")
			return
		}
		if ph := ev.Session.Phase(); ph != session.PhaseStable {
			e.log.Debug().Str("peer", string(peer)).Stringer("phase", ph).Msg("renegotiation deferred")
			return
		}
		if err := e.offer(ev.Session); err != nil {
			e.log.Warn().Str("peer", string(peer)).Err(err).Msg("renegotiate")
		}
	case core.EventConnectionState:
		e.log.Info().Str("peer", string(peer)).Str("state", ev.State.String()).Msg("connection state")
		switch ev.State {
		case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateClosed:
			if e.table.Remove(peer) {
				e.listener.OnSessionClosed(peer)
			}
		case webrtc.PeerConnectionStateConnected:
			e.listener.OnReachabilityChanged(peer, true)
		case webrtc.PeerConnectionStateDisconnected:
			e.listener.OnReachabilityChanged(peer, false)
		}
	case core.EventTrack:
		if ev.Track != nil {
			e.listener.OnRemoteTrack(peer, ev.Track)
		}
	}
}

// ReplaceTrack swaps the outbound track of the given kind on every session
// and reports how many senders changed. Sessions without a sender of that
// kind get the track added, which triggers renegotiation.
func (e *Engine) ReplaceTrack(kind webrtc.RTPCodecType, track webrtc.TrackLocal) (int, error) {
	var (
		replaced int
		errs     []error
	)
	e.table.ForEach(func(s *session.Session) {
		if s.Closed() {
			return
		}
		found := false
		for _, sender := range s.Conn().Senders() {
			cur := sender.Track()
			if cur == nil || cur.Kind() != kind {
				continue
			}
			found = true
			if cur == track {
				continue
			}
			if err := sender.ReplaceTrack(track); err != nil {
				errs = append(errs, fmt.Errorf("replace on %s: %w", s.PeerID(), err))
				continue
			}
			replaced++
		}
		if !found && track != nil && s.TracksAttached() {
			if _, err := s.Conn().AddTrack(track); err != nil {
				errs = append(errs, fmt.Errorf("add on %s: %w", s.PeerID(), err))
				return
			}
			replaced++
		}
	})
	return replaced, errors.Join(errs...)
}

// RemovePeer tears the session down. It reports whether one existed.
func (e *Engine) RemovePeer(peer domain.PeerID) bool {
	delete(e.early, peer)
	return e.table.Remove(peer)
}

func (e *Engine) attach(s *session.Session) {
	if s.TracksAttached() {
		return
	}
	for _, t := range e.tracks() {
		if _, err := s.Conn().AddTrack(t); err != nil {
			e.log.Warn().Str("peer", string(s.PeerID())).Str("track", t.ID()).Err(err).Msg("attach track")
		}
	}
	s.MarkTracksAttached()
}

func (e *Engine) send(msg core.Message) error {
	if err := e.signal.Send(msg); err != nil {
		return fmt.Errorf("send %s to %s: %w", msg.Type, msg.PeerID, err)
	}
	return nil
}

func (e *Engine) fail(s *session.Session, step string, err error) error {
	if !e.table.Current(s) {
		return ErrSessionClosed
	}
	s.Fail()
	e.log.Warn().Str("peer", string(s.PeerID())).Str("step", step).Err(err).Msg("negotiation failed")
	return fmt.Errorf("%s: %w", step, err)
}

func (e *Engine) violation(peer domain.PeerID, what string) error {
	e.log.Warn().Str("peer", string(peer)).Str("reason", what).Msg("protocol violation")
	return fmt.Errorf("%w: %s", ErrProtocolViolation, what)
}
