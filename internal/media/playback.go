package media

import (
	"context"
	"net"
	"slices"
	"sync"

	"github.com/dkeye/Mesh/internal/domain"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

// UDPSink writes RTP packets to a UDP address, e.g. a local player.
type UDPSink struct {
	conn net.Conn
}

func DialUDPSink(addr string) (*UDPSink, error) {
	conn, err := net.Dial("udp", addr)
	if err != nil {
		return nil, err
	}
	return &UDPSink{conn: conn}, nil
}

func (s *UDPSink) WriteRTP(pkt *rtp.Packet) error {
	b, err := pkt.Marshal()
	if err != nil {
		return err
	}
	_, err = s.conn.Write(b)
	return err
}

func (s *UDPSink) Close() error { return s.conn.Close() }

type playbackEntry struct {
	key  string
	sink *UDPSink
}

// Playback relays every remote track to the UDP sink of its kind. It is a
// core.ConferenceObserver: tracks are attached as they arrive and detached
// when their peer leaves the roster.
type Playback struct {
	ctx       context.Context
	relays    *RelayManager
	audioAddr string
	videoAddr string

	mu    sync.Mutex
	peers map[domain.PeerID][]playbackEntry
}

func NewPlayback(ctx context.Context, audioAddr, videoAddr string) *Playback {
	return &Playback{
		ctx:       ctx,
		relays:    NewRelayManager(),
		audioAddr: audioAddr,
		videoAddr: videoAddr,
		peers:     make(map[domain.PeerID][]playbackEntry),
	}
}

func (p *Playback) OnRemoteTrackAvailable(peer domain.PeerID, track *webrtc.TrackRemote) {
	if err := p.Attach(peer, track.Kind(), track.ID(), track); err != nil {
		log.Warn().Str("module", "media.playback").Str("peer", string(peer)).Err(err).Msg("attach remote track")
	}
}

func (p *Playback) OnConnectionQualityChanged(peer domain.PeerID, connected bool) {
	p.mu.Lock()
	entries := p.peers[peer]
	p.mu.Unlock()
	for _, e := range entries {
		p.relays.SetMuted(e.key, !connected)
	}
}

func (p *Playback) OnPeerListChanged(peers []domain.PeerID) {
	p.mu.Lock()
	var gone []domain.PeerID
	for id := range p.peers {
		if !slices.Contains(peers, id) {
			gone = append(gone, id)
		}
	}
	p.mu.Unlock()
	for _, id := range gone {
		p.Detach(id)
	}
}

// Attach starts relaying src to the sink for kind. Kinds without a
// configured sink are ignored.
func (p *Playback) Attach(peer domain.PeerID, kind webrtc.RTPCodecType, id string, src RTPReader) error {
	addr := p.audioAddr
	if kind == webrtc.RTPCodecTypeVideo {
		addr = p.videoAddr
	}
	if addr == "" {
		return nil
	}
	sink, err := DialUDPSink(addr)
	if err != nil {
		return err
	}
	key := string(peer) + "/" + id
	p.relays.StartRelay(p.ctx, key, src)
	p.relays.AddOutput(key, addr, sink)

	p.mu.Lock()
	p.peers[peer] = append(p.peers[peer], playbackEntry{key: key, sink: sink})
	p.mu.Unlock()
	log.Info().Str("module", "media.playback").Str("peer", string(peer)).Str("key", key).Str("sink", addr).Msg("playback attached")
	return nil
}

// Detach stops every relay of peer.
func (p *Playback) Detach(peer domain.PeerID) {
	p.mu.Lock()
	entries := p.peers[peer]
	delete(p.peers, peer)
	p.mu.Unlock()
	for _, e := range entries {
		p.relays.StopRelay(e.key)
		_ = e.sink.Close()
	}
}

func (p *Playback) Attached(peer domain.PeerID) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.peers[peer])
}

func (p *Playback) Close() {
	p.mu.Lock()
	ids := make([]domain.PeerID, 0, len(p.peers))
	for id := range p.peers {
		ids = append(ids, id)
	}
	p.mu.Unlock()
	for _, id := range ids {
		p.Detach(id)
	}
	p.relays.StopAll()
}
