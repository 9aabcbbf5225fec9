package core

//go:generate mockgen -destination=mocks/mock_media.go -package=mocks github.com/dkeye/Mesh/internal/core PeerConnectionFactory,TrackSender,DisplaySource,ConferenceObserver

import (
	"github.com/dkeye/Mesh/internal/domain"
	"github.com/pion/webrtc/v4"
)

type PeerEventKind int

const (
	EventLocalCandidate PeerEventKind = iota
	EventConnectionState
	EventNegotiationNeeded
	EventTrack
)

func (k PeerEventKind) String() string {
	switch k {
	case EventLocalCandidate:
		return "local-candidate"
	case EventConnectionState:
		return "connection-state"
	case EventNegotiationNeeded:
		return "negotiation-needed"
	case EventTrack:
		return "track"
	default:
		return "unknown"
	}
}

// PeerEvent is one item of a connection handle's event stream.
type PeerEvent struct {
	Kind      PeerEventKind
	Candidate *webrtc.ICECandidateInit
	State     webrtc.PeerConnectionState
	Track     *webrtc.TrackRemote
}

// TrackSender is an outbound media slot. *webrtc.RTPSender satisfies it.
type TrackSender interface {
	Track() webrtc.TrackLocal
	ReplaceTrack(webrtc.TrackLocal) error
}

// PeerConnection is the opaque per-peer connection handle.
type PeerConnection interface {
	CreateOffer() (webrtc.SessionDescription, error)
	CreateAnswer() (webrtc.SessionDescription, error)
	SetLocalDescription(webrtc.SessionDescription) error
	SetRemoteDescription(webrtc.SessionDescription) error
	AddICECandidate(webrtc.ICECandidateInit) error
	// AddTrack attaches a local track and returns its sender.
	AddTrack(webrtc.TrackLocal) (TrackSender, error)
	Senders() []TrackSender
	// Events delivers callbacks in the order the engine raised them.
	// The channel is never closed; stop reading once the handle is closed.
	Events() <-chan PeerEvent
	Close() error
}

type PeerConnectionFactory interface {
	NewPeerConnection(peer domain.PeerID) (PeerConnection, error)
}

// LocalTrack is a locally produced track that can be muted and stopped.
type LocalTrack interface {
	webrtc.TrackLocal
	Enabled() bool
	SetEnabled(bool)
	Stop()
	Done() <-chan struct{}
}

// MediaSource is the local capture shared read-only by all sessions.
type MediaSource interface {
	Tracks() []LocalTrack
	Stop()
}

// DisplaySource captures a screen track on demand.
type DisplaySource interface {
	Capture() (LocalTrack, error)
}

// ConferenceObserver receives presentation-level notifications.
// Calls happen on the coordinator loop and must not block.
type ConferenceObserver interface {
	OnPeerListChanged(peers []domain.PeerID)
	OnConnectionQualityChanged(peer domain.PeerID, connected bool)
	OnRemoteTrackAvailable(peer domain.PeerID, track *webrtc.TrackRemote)
}
