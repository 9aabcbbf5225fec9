// Package media produces local tracks from RTP sources and relays remote
// tracks to playback sinks.
package media

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
)

var ErrTrackEnded = errors.New("track ended")

type TrackState int32

const (
	TrackLive TrackState = iota
	TrackMuted
	TrackEnded
)

func (s TrackState) String() string {
	switch s {
	case TrackLive:
		return "live"
	case TrackMuted:
		return "muted"
	case TrackEnded:
		return "ended"
	default:
		return "unknown"
	}
}

// Track is a local track fed with RTP. Muted tracks drop packets; ended
// tracks refuse them.
type Track struct {
	*webrtc.TrackLocalStaticRTP
	state atomic.Int32 // Zero by default (TrackLive)

	done chan struct{}
	once sync.Once
}

// NewTrack builds an opus audio or VP8 video track.
func NewTrack(kind webrtc.RTPCodecType, id, streamID string) (*Track, error) {
	var codec webrtc.RTPCodecCapability
	switch kind {
	case webrtc.RTPCodecTypeAudio:
		codec = webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2}
	case webrtc.RTPCodecTypeVideo:
		codec = webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000}
	default:
		return nil, errors.New("unsupported track kind")
	}
	local, err := webrtc.NewTrackLocalStaticRTP(codec, id, streamID)
	if err != nil {
		return nil, err
	}
	return &Track{TrackLocalStaticRTP: local, done: make(chan struct{})}, nil
}

func (t *Track) State() TrackState {
	return TrackState(t.state.Load())
}

func (t *Track) Enabled() bool {
	return t.State() == TrackLive
}

// SetEnabled mutes or unmutes the track. It has no effect once ended.
func (t *Track) SetEnabled(on bool) {
	from, to := TrackLive, TrackMuted
	if on {
		from, to = TrackMuted, TrackLive
	}
	t.state.CompareAndSwap(int32(from), int32(to))
}

func (t *Track) Stop() {
	t.once.Do(func() {
		t.state.Store(int32(TrackEnded))
		close(t.done)
	})
}

func (t *Track) Done() <-chan struct{} { return t.done }

func (t *Track) WriteRTP(pkt *rtp.Packet) error {
	switch t.State() {
	case TrackEnded:
		return ErrTrackEnded
	case TrackMuted:
		return nil
	}
	return t.TrackLocalStaticRTP.WriteRTP(pkt)
}
