package rtc

import (
	"context"
	"errors"
	"io"

	"github.com/dkeye/Mesh/internal/core"
	"github.com/dkeye/Mesh/internal/domain"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const eventBuffer = 32

// Connection adapts a pion PeerConnection to core.PeerConnection. Callbacks
// are turned into the Events stream.
type Connection struct {
	pc     *webrtc.PeerConnection
	peer   domain.PeerID
	events chan core.PeerEvent
	ctx    context.Context
	cancel context.CancelFunc
	log    zerolog.Logger
}

func newConnection(api *webrtc.API, cfg webrtc.Configuration, peer domain.PeerID) (*Connection, error) {
	pc, err := api.NewPeerConnection(cfg)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(context.Background())
	c := &Connection{
		pc:     pc,
		peer:   peer,
		events: make(chan core.PeerEvent, eventBuffer),
		ctx:    ctx,
		cancel: cancel,
		log:    log.With().Str("module", "webrtc").Str("peer", string(peer)).Logger(),
	}
	c.start()
	return c, nil
}

func (c *Connection) start() {
	c.pc.OnICEConnectionStateChange(func(s webrtc.ICEConnectionState) {
		c.log.Debug().Str("ice_state", s.String()).Msg("ICE state")
	})

	c.pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		c.log.Info().Str("peer_connection_state", s.String()).Msg("Peer state")
		c.emit(core.PeerEvent{Kind: core.EventConnectionState, State: s})
	})

	c.pc.OnICECandidate(func(cand *webrtc.ICECandidate) {
		if cand == nil {
			return
		}
		init := cand.ToJSON()
		c.emit(core.PeerEvent{Kind: core.EventLocalCandidate, Candidate: &init})
	})

	c.pc.OnNegotiationNeeded(func() {
		c.emit(core.PeerEvent{Kind: core.EventNegotiationNeeded})
	})

	c.pc.OnTrack(func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
		c.log.Info().
			Str("kind", track.Kind().String()).
			Str("track_id", track.ID()).
			Str("stream_id", track.StreamID()).
			Msg("OnTrack received")
		c.emit(core.PeerEvent{Kind: core.EventTrack, Track: track})
	})
}

func (c *Connection) emit(ev core.PeerEvent) {
	select {
	case c.events <- ev:
	case <-c.ctx.Done():
	}
}

func (c *Connection) CreateOffer() (webrtc.SessionDescription, error) {
	return c.pc.CreateOffer(nil)
}

func (c *Connection) CreateAnswer() (webrtc.SessionDescription, error) {
	return c.pc.CreateAnswer(nil)
}

func (c *Connection) SetLocalDescription(d webrtc.SessionDescription) error {
	return c.pc.SetLocalDescription(d)
}

func (c *Connection) SetRemoteDescription(d webrtc.SessionDescription) error {
	return c.pc.SetRemoteDescription(d)
}

func (c *Connection) AddICECandidate(ci webrtc.ICECandidateInit) error {
	return c.pc.AddICECandidate(ci)
}

// AddTrack attaches a local track and starts draining RTCP for its sender
// so interceptors keep running.
func (c *Connection) AddTrack(t webrtc.TrackLocal) (core.TrackSender, error) {
	sender, err := c.pc.AddTrack(t)
	if err != nil {
		return nil, err
	}
	go c.readRTCP(sender)
	return sender, nil
}

func (c *Connection) readRTCP(sender *webrtc.RTPSender) {
	buf := make([]byte, 1500)
	for {
		if _, _, err := sender.Read(buf); err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrClosedPipe) {
				c.log.Debug().Err(err).Msg("rtcp read stopped")
			}
			return
		}
	}
}

func (c *Connection) Senders() []core.TrackSender {
	senders := c.pc.GetSenders()
	out := make([]core.TrackSender, 0, len(senders))
	for _, s := range senders {
		out = append(out, s)
	}
	return out
}

func (c *Connection) Events() <-chan core.PeerEvent { return c.events }

func (c *Connection) Close() error {
	c.cancel()
	if err := c.pc.Close(); err != nil {
		c.log.Error().Err(err).Msg("close error")
		return err
	}
	c.log.Info().Msg("closed")
	return nil
}
