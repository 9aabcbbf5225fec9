// Package conference drives a mesh conference for the local participant.
package conference

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/dkeye/Mesh/internal/app/negotiation"
	"github.com/dkeye/Mesh/internal/app/session"
	"github.com/dkeye/Mesh/internal/core"
	"github.com/dkeye/Mesh/internal/domain"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	ErrStopped        = errors.New("coordinator stopped")
	ErrRunning        = errors.New("coordinator already running")
	ErrNoTrack        = errors.New("no local track of that kind")
	ErrNoDisplay      = errors.New("no display source")
	ErrIdentityLocked = errors.New("identity in use by live sessions")
)

const queueSize = 64

type Option func(*Coordinator)

func WithObserver(o core.ConferenceObserver) Option {
	return func(c *Coordinator) {
		if o != nil {
			c.observer = o
		}
	}
}

func WithDisplay(d core.DisplaySource) Option {
	return func(c *Coordinator) { c.display = d }
}

func WithLogger(l zerolog.Logger) Option {
	return func(c *Coordinator) { c.log = l }
}

// Coordinator owns every peer session of the local participant. All state
// below the channels is touched only from the Run loop.
type Coordinator struct {
	signal   core.SignalingPort
	table    *session.Table
	engine   *negotiation.Engine
	observer core.ConferenceObserver
	display  core.DisplaySource
	log      zerolog.Logger

	inbox  chan func()
	events chan session.Event

	lifeMu      sync.Mutex
	started     bool
	quit        chan struct{}
	quitOnce    sync.Once
	stopped     chan struct{}
	stoppedOnce sync.Once

	self   domain.PeerID
	joined bool
	media  core.MediaSource
	screen core.LocalTrack
	roster map[domain.PeerID]struct{}
}

// New wires a coordinator to its signaling port and connection factory.
func New(signal core.SignalingPort, factory core.PeerConnectionFactory, opts ...Option) *Coordinator {
	c := &Coordinator{
		signal:   signal,
		observer: nopObserver{},
		log:      log.With().Str("module", "app.conference").Logger(),
		inbox:    make(chan func(), queueSize),
		events:   make(chan session.Event, queueSize),
		quit:     make(chan struct{}),
		stopped:  make(chan struct{}),
		roster:   make(map[domain.PeerID]struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.table = session.NewTable(factory, c.events)
	c.engine = negotiation.New(c.table, signal, c.outbound, listener{c})
	return c
}

// Run processes signaling messages, connection events and operations until
// ctx is done or Shutdown is called. Everything is torn down on return.
func (c *Coordinator) Run(ctx context.Context) error {
	c.lifeMu.Lock()
	if c.started {
		c.lifeMu.Unlock()
		return ErrRunning
	}
	select {
	case <-c.quit:
		c.lifeMu.Unlock()
		return nil
	default:
	}
	c.started = true
	c.lifeMu.Unlock()

	c.log.Info().Msg("conference loop started")
	defer func() {
		c.closeAll()
		c.table.Wait()
		c.stoppedOnce.Do(func() { close(c.stopped) })
		c.log.Info().Msg("conference loop stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.quit:
			return nil
		case fn := <-c.inbox:
			fn()
		case ev := <-c.events:
			c.engine.HandleEvent(ev)
		}
	}
}

// Shutdown closes every session, stops local media and ends the loop.
// Calling it again has no further effect.
func (c *Coordinator) Shutdown() {
	c.quitOnce.Do(func() { close(c.quit) })
	c.lifeMu.Lock()
	started := c.started
	c.lifeMu.Unlock()
	if started {
		<-c.stopped
		return
	}
	c.stoppedOnce.Do(func() {
		c.closeAll()
		close(c.stopped)
	})
}

// Done is closed once the coordinator has stopped.
func (c *Coordinator) Done() <-chan struct{} { return c.stopped }

func (c *Coordinator) closing() bool {
	select {
	case <-c.quit:
		return true
	case <-c.stopped:
		return true
	default:
		return false
	}
}

func (c *Coordinator) exec(fn func() error) error {
	if c.closing() {
		return ErrStopped
	}
	res := make(chan error, 1)
	select {
	case c.inbox <- func() { res <- fn() }:
	case <-c.quit:
		return ErrStopped
	case <-c.stopped:
		return ErrStopped
	}
	select {
	case err := <-res:
		return err
	case <-c.stopped:
		select {
		case err := <-res:
			return err
		default:
			return ErrStopped
		}
	}
}

func (c *Coordinator) post(fn func()) {
	select {
	case c.inbox <- fn:
	case <-c.quit:
	case <-c.stopped:
	}
}

// Dispatch queues an inbound signaling message. Messages are handled in the
// order they are dispatched.
func (c *Coordinator) Dispatch(msg core.Message) error {
	if c.closing() {
		return ErrStopped
	}
	select {
	case c.inbox <- func() { c.handle(msg) }:
		return nil
	case <-c.quit:
		return ErrStopped
	case <-c.stopped:
		return ErrStopped
	}
}

func (c *Coordinator) handle(msg core.Message) {
	peer := msg.PeerID
	switch msg.Type {
	case core.MsgWelcome:
		if err := c.join(peer); err != nil {
			c.log.Warn().Str("peer", string(peer)).Err(err).Msg("welcome")
			return
		}
		for _, p := range msg.Peers {
			c.discover(p)
		}
	case core.MsgPeerJoined:
		c.discover(peer)
	case core.MsgPeerLeft:
		c.engine.RemovePeer(peer)
		c.forget(peer)
	case core.MsgOffer:
		if c.self != "" && peer != "" && peer != c.self {
			c.remember(peer)
		}
		c.report("offer", peer, c.engine.ReceiveOffer(peer, msg.Description))
	case core.MsgAnswer:
		c.report("answer", peer, c.engine.ReceiveAnswer(peer, msg.Description))
	case core.MsgCandidate:
		c.report("candidate", peer, c.engine.ReceiveCandidate(peer, msg.Candidate))
	case core.MsgError:
		c.log.Warn().Str("error", msg.Error).Msg("signaling error")
	default:
		c.log.Debug().Str("type", string(msg.Type)).Msg("message ignored")
	}
}

func (c *Coordinator) report(op string, peer domain.PeerID, err error) {
	switch {
	case err == nil, errors.Is(err, negotiation.ErrProtocolViolation):
	case errors.Is(err, negotiation.ErrSessionClosed):
		c.log.Debug().Str("op", op).Str("peer", string(peer)).Msg("session closed mid negotiation")
	default:
		c.log.Warn().Str("op", op).Str("peer", string(peer)).Err(err).Msg("negotiation")
	}
}

func (c *Coordinator) discover(peer domain.PeerID) {
	if peer == "" || peer == c.self {
		return
	}
	c.remember(peer)
	c.report("discover", peer, c.engine.PeerDiscovered(peer))
}

// Join sets the local identity. It may change only while no sessions exist.
func (c *Coordinator) Join(id domain.PeerID) error {
	return c.exec(func() error { return c.join(id) })
}

func (c *Coordinator) join(id domain.PeerID) error {
	if id == "" {
		return negotiation.ErrNoIdentity
	}
	if c.self != "" && c.self != id && c.table.Len() > 0 {
		return fmt.Errorf("%w: %s", ErrIdentityLocked, c.self)
	}
	c.self = id
	c.joined = true
	c.engine.SetIdentity(id)
	c.log.Info().Str("self", string(id)).Msg("joined")
	return nil
}

// Leave announces departure and closes every session. Local media is
// stopped; call SetLocalMedia again before rejoining.
func (c *Coordinator) Leave() error {
	return c.exec(func() error {
		var err error
		if c.joined {
			if err = c.signal.Send(core.Message{Type: core.MsgLeave}); err != nil {
				c.log.Warn().Err(err).Msg("send leave")
				err = fmt.Errorf("send leave: %w", err)
			}
		}
		c.closeAll()
		return err
	})
}

func (c *Coordinator) closeAll() {
	if c.screen != nil {
		c.screen.Stop()
		c.screen = nil
	}
	c.table.Clear()
	if c.media != nil {
		c.media.Stop()
		c.media = nil
	}
	if len(c.roster) > 0 {
		c.roster = make(map[domain.PeerID]struct{})
		c.observer.OnPeerListChanged(c.rosterList())
	}
	c.joined = false
	c.self = ""
	c.engine.SetIdentity("")
}

// SetLocalMedia installs src as the outbound media. Live sessions get the
// new tracks in place; the previous source is not stopped. A nil source
// leaves sessions negotiating without media.
func (c *Coordinator) SetLocalMedia(src core.MediaSource) error {
	return c.exec(func() error {
		c.media = src
		if src == nil {
			return nil
		}
		var errs []error
		for _, t := range src.Tracks() {
			if t.Kind() == webrtc.RTPCodecTypeVideo && c.screen != nil {
				continue
			}
			if _, err := c.engine.ReplaceTrack(t.Kind(), t); err != nil {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	})
}

// ReplaceOutboundTrack swaps the outbound track of kind on every session.
func (c *Coordinator) ReplaceOutboundTrack(kind webrtc.RTPCodecType, track webrtc.TrackLocal) (int, error) {
	var n int
	err := c.exec(func() error {
		var err error
		n, err = c.engine.ReplaceTrack(kind, track)
		return err
	})
	return n, err
}

func (c *Coordinator) outbound() []webrtc.TrackLocal {
	var out []webrtc.TrackLocal
	hasVideo := false
	if c.media != nil {
		for _, t := range c.media.Tracks() {
			if t.Kind() == webrtc.RTPCodecTypeVideo {
				hasVideo = true
				if c.screen != nil {
					out = append(out, c.screen)
					continue
				}
			}
			out = append(out, t)
		}
	}
	if c.screen != nil && !hasVideo {
		out = append(out, c.screen)
	}
	return out
}

func (c *Coordinator) localTrack(kind webrtc.RTPCodecType) core.LocalTrack {
	if c.media == nil {
		return nil
	}
	for _, t := range c.media.Tracks() {
		if t.Kind() == kind {
			return t
		}
	}
	return nil
}

// ToggleAudio flips the microphone and returns whether it is now muted.
func (c *Coordinator) ToggleAudio() (bool, error) {
	return c.toggle(webrtc.RTPCodecTypeAudio)
}

// ToggleVideo flips the camera and returns whether it is now muted.
func (c *Coordinator) ToggleVideo() (bool, error) {
	return c.toggle(webrtc.RTPCodecTypeVideo)
}

func (c *Coordinator) toggle(kind webrtc.RTPCodecType) (bool, error) {
	var muted bool
	err := c.exec(func() error {
		t := c.localTrack(kind)
		if t == nil {
			return fmt.Errorf("%w: %s", ErrNoTrack, kind)
		}
		t.SetEnabled(!t.Enabled())
		muted = !t.Enabled()
		c.log.Info().Str("kind", kind.String()).Bool("muted", muted).Msg("toggled")
		return nil
	})
	return muted, err
}

// StartScreenShare replaces outbound video with a captured screen track on
// every session. Sharing stops by itself when the screen track ends.
func (c *Coordinator) StartScreenShare() (bool, error) {
	var sharing bool
	err := c.exec(func() error {
		if c.screen != nil {
			sharing = true
			return nil
		}
		if c.display == nil {
			return ErrNoDisplay
		}
		t, err := c.display.Capture()
		if err != nil {
			return fmt.Errorf("capture display: %w", err)
		}
		c.screen = t
		sharing = true
		if _, err := c.engine.ReplaceTrack(webrtc.RTPCodecTypeVideo, t); err != nil {
			c.log.Warn().Err(err).Msg("screen track fan-out")
		}
		go c.watchScreen(t)
		c.log.Info().Str("track", t.ID()).Msg("screen share started")
		return nil
	})
	return sharing, err
}

func (c *Coordinator) watchScreen(t core.LocalTrack) {
	select {
	case <-t.Done():
		c.post(func() {
			if c.screen == t {
				c.log.Info().Msg("screen track ended")
				c.stopScreen()
			}
		})
	case <-c.quit:
	case <-c.stopped:
	}
}

// StopScreenShare restores the camera track and reports whether sharing
// was active.
func (c *Coordinator) StopScreenShare() (bool, error) {
	var was bool
	err := c.exec(func() error {
		if c.screen == nil {
			return nil
		}
		was = true
		c.stopScreen()
		return nil
	})
	return was, err
}

// stopScreen leaves the ended screen track on the senders when there is no
// camera to restore; a later share replaces it.
func (c *Coordinator) stopScreen() {
	t := c.screen
	c.screen = nil
	t.Stop()
	if cam := c.localTrack(webrtc.RTPCodecTypeVideo); cam != nil {
		if _, err := c.engine.ReplaceTrack(webrtc.RTPCodecTypeVideo, cam); err != nil {
			c.log.Warn().Err(err).Msg("restore camera")
		}
	}
	c.log.Info().Msg("screen share stopped")
}

// Sharing reports whether a screen track is being sent.
func (c *Coordinator) Sharing() (bool, error) {
	var sharing bool
	err := c.exec(func() error {
		sharing = c.screen != nil
		return nil
	})
	return sharing, err
}

// Peers lists the known remote participants in identifier order.
func (c *Coordinator) Peers() ([]domain.PeerID, error) {
	var out []domain.PeerID
	err := c.exec(func() error {
		out = c.rosterList()
		return nil
	})
	return out, err
}

// Identity returns the local identity, empty before join.
func (c *Coordinator) Identity() (domain.PeerID, error) {
	var id domain.PeerID
	err := c.exec(func() error {
		id = c.self
		return nil
	})
	return id, err
}

// SessionPhase reports the negotiation phase for peer.
func (c *Coordinator) SessionPhase(peer domain.PeerID) (session.Phase, bool, error) {
	var (
		ph session.Phase
		ok bool
	)
	err := c.exec(func() error {
		var s *session.Session
		if s, ok = c.table.Get(peer); ok {
			ph = s.Phase()
		}
		return nil
	})
	return ph, ok, err
}

func (c *Coordinator) remember(peer domain.PeerID) {
	if _, ok := c.roster[peer]; ok {
		return
	}
	c.roster[peer] = struct{}{}
	c.observer.OnPeerListChanged(c.rosterList())
}

func (c *Coordinator) forget(peer domain.PeerID) {
	if _, ok := c.roster[peer]; !ok {
		return
	}
	delete(c.roster, peer)
	c.observer.OnPeerListChanged(c.rosterList())
}

func (c *Coordinator) rosterList() []domain.PeerID {
	out := make([]domain.PeerID, 0, len(c.roster))
	for id := range c.roster {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Less(out[j]) })
	return out
}

type listener struct{ c *Coordinator }

func (l listener) OnSessionClosed(peer domain.PeerID) {
	l.c.forget(peer)
	l.c.observer.OnConnectionQualityChanged(peer, false)
}

func (l listener) OnReachabilityChanged(peer domain.PeerID, connected bool) {
	l.c.observer.OnConnectionQualityChanged(peer, connected)
}

func (l listener) OnRemoteTrack(peer domain.PeerID, track *webrtc.TrackRemote) {
	l.c.observer.OnRemoteTrackAvailable(peer, track)
}

type nopObserver struct{}

func (nopObserver) OnPeerListChanged([]domain.PeerID)                         {}
func (nopObserver) OnConnectionQualityChanged(domain.PeerID, bool)            {}
func (nopObserver) OnRemoteTrackAvailable(domain.PeerID, *webrtc.TrackRemote) {}
