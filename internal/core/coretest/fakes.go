// Package coretest provides in-memory doubles for the core ports.
package coretest

import (
	"errors"
	"fmt"
	"sync"

	"github.com/dkeye/Mesh/internal/core"
	"github.com/dkeye/Mesh/internal/domain"
	"github.com/pion/webrtc/v4"
)

var ErrClosed = errors.New("fake connection closed")

// Conn is a scripted core.PeerConnection. Set the *Err fields to make the
// matching call fail.
type Conn struct {
	Peer domain.PeerID

	OfferErr        error
	AnswerErr       error
	SetLocalErr     error
	SetRemoteErr    error
	AddCandidateErr error

	// Hook runs after a description step returns its result, outside the
	// lock. Tests use it to interleave removal with negotiation.
	Hook func(call string)

	mu         sync.Mutex
	calls      []string
	local      *webrtc.SessionDescription
	remote     *webrtc.SessionDescription
	candidates []webrtc.ICECandidateInit
	senders    []*Sender
	offers     int
	closed     bool
	events     chan core.PeerEvent
}

func NewConn(peer domain.PeerID) *Conn {
	return &Conn{Peer: peer, events: make(chan core.PeerEvent, 64)}
}

func (c *Conn) record(call string) {
	c.calls = append(c.calls, call)
}

func (c *Conn) after(call string) {
	if c.Hook != nil {
		c.Hook(call)
	}
}

func (c *Conn) CreateOffer() (webrtc.SessionDescription, error) {
	defer c.after("create-offer")
	c.mu.Lock()
	defer c.mu.Unlock()
	c.record("create-offer")
	if c.OfferErr != nil {
		return webrtc.SessionDescription{}, c.OfferErr
	}
	c.offers++
	return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: fmt.Sprintf("offer-%s-%d", c.Peer, c.offers)}, nil
}

func (c *Conn) CreateAnswer() (webrtc.SessionDescription, error) {
	defer c.after("create-answer")
	c.mu.Lock()
	defer c.mu.Unlock()
	c.record("create-answer")
	if c.AnswerErr != nil {
		return webrtc.SessionDescription{}, c.AnswerErr
	}
	return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "answer-" + string(c.Peer)}, nil
}

func (c *Conn) SetLocalDescription(d webrtc.SessionDescription) error {
	defer c.after("set-local-" + d.Type.String())
	c.mu.Lock()
	defer c.mu.Unlock()
	c.record("set-local-" + d.Type.String())
	if c.SetLocalErr != nil {
		return c.SetLocalErr
	}
	c.local = &d
	return nil
}

func (c *Conn) SetRemoteDescription(d webrtc.SessionDescription) error {
	defer c.after("set-remote-" + d.Type.String())
	c.mu.Lock()
	defer c.mu.Unlock()
	c.record("set-remote-" + d.Type.String())
	if c.SetRemoteErr != nil {
		return c.SetRemoteErr
	}
	c.remote = &d
	return nil
}

func (c *Conn) AddICECandidate(cand webrtc.ICECandidateInit) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.record("add-candidate")
	if c.AddCandidateErr != nil {
		return c.AddCandidateErr
	}
	c.candidates = append(c.candidates, cand)
	return nil
}

func (c *Conn) AddTrack(t webrtc.TrackLocal) (core.TrackSender, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.record("add-track-" + t.Kind().String())
	if c.closed {
		return nil, ErrClosed
	}
	s := &Sender{track: t}
	c.senders = append(c.senders, s)
	return s, nil
}

func (c *Conn) Senders() []core.TrackSender {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]core.TrackSender, 0, len(c.senders))
	for _, s := range c.senders {
		out = append(out, s)
	}
	return out
}

func (c *Conn) Events() <-chan core.PeerEvent { return c.events }

func (c *Conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.record("close")
	c.closed = true
	return nil
}

// Emit pushes an engine callback into the event stream.
func (c *Conn) Emit(ev core.PeerEvent) { c.events <- ev }

func (c *Conn) Calls() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.calls...)
}

func (c *Conn) Candidates() []webrtc.ICECandidateInit {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]webrtc.ICECandidateInit(nil), c.candidates...)
}

func (c *Conn) Local() *webrtc.SessionDescription {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.local
}

func (c *Conn) Remote() *webrtc.SessionDescription {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.remote
}

func (c *Conn) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *Conn) SenderList() []*Sender {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*Sender(nil), c.senders...)
}

type Sender struct {
	mu    sync.Mutex
	track webrtc.TrackLocal
}

func (s *Sender) Track() webrtc.TrackLocal {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.track
}

func (s *Sender) ReplaceTrack(t webrtc.TrackLocal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.track = t
	return nil
}

// Factory hands out Conns and remembers them by peer.
type Factory struct {
	Err error

	mu    sync.Mutex
	conns map[domain.PeerID][]*Conn
}

func NewFactory() *Factory {
	return &Factory{conns: make(map[domain.PeerID][]*Conn)}
}

func (f *Factory) NewPeerConnection(peer domain.PeerID) (core.PeerConnection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return nil, f.Err
	}
	c := NewConn(peer)
	f.conns[peer] = append(f.conns[peer], c)
	return c, nil
}

// Conn returns the latest connection built for peer.
func (f *Factory) Conn(peer domain.PeerID) *Conn {
	f.mu.Lock()
	defer f.mu.Unlock()
	list := f.conns[peer]
	if len(list) == 0 {
		return nil
	}
	return list[len(list)-1]
}

// Built counts connections created for peer.
func (f *Factory) Built(peer domain.PeerID) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.conns[peer])
}

// Port records every outbound signaling message.
type Port struct {
	Err error

	mu   sync.Mutex
	msgs []core.Message
}

func (p *Port) Send(msg core.Message) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Err != nil {
		return p.Err
	}
	p.msgs = append(p.msgs, msg)
	return nil
}

func (p *Port) Messages() []core.Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]core.Message(nil), p.msgs...)
}

func (p *Port) OfType(t core.MessageType) []core.Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []core.Message
	for _, m := range p.msgs {
		if m.Type == t {
			out = append(out, m)
		}
	}
	return out
}

func (p *Port) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.msgs = nil
}

// Track is a core.LocalTrack backed by a static RTP track.
type Track struct {
	*webrtc.TrackLocalStaticRTP

	mu      sync.Mutex
	enabled bool
	done    chan struct{}
	once    sync.Once
}

func NewTrack(kind webrtc.RTPCodecType, id string) *Track {
	mime := webrtc.MimeTypeOpus
	if kind == webrtc.RTPCodecTypeVideo {
		mime = webrtc.MimeTypeVP8
	}
	rtp, err := webrtc.NewTrackLocalStaticRTP(webrtc.RTPCodecCapability{MimeType: mime}, id, "test")
	if err != nil {
		panic(err)
	}
	return &Track{TrackLocalStaticRTP: rtp, enabled: true, done: make(chan struct{})}
}

func (t *Track) Enabled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.enabled
}

func (t *Track) SetEnabled(v bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.enabled = v
}

func (t *Track) Stop() { t.once.Do(func() { close(t.done) }) }

func (t *Track) Done() <-chan struct{} { return t.done }

func (t *Track) Stopped() bool {
	select {
	case <-t.done:
		return true
	default:
		return false
	}
}

// Source is a fixed core.MediaSource.
type Source struct {
	List []core.LocalTrack
}

func (s *Source) Tracks() []core.LocalTrack { return s.List }

func (s *Source) Stop() {
	for _, t := range s.List {
		t.Stop()
	}
}

// Display returns Next from Capture, or Err.
type Display struct {
	Next core.LocalTrack
	Err  error
}

func (d *Display) Capture() (core.LocalTrack, error) {
	if d.Err != nil {
		return nil, d.Err
	}
	return d.Next, nil
}
