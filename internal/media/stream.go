package media

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/dkeye/Mesh/internal/core"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc"
)

var ErrSourceUnavailable = errors.New("media source unavailable")

type StreamConfig struct {
	StreamID  string
	AudioAddr string
	VideoAddr string
}

// Stream is a core.MediaSource of RTP-fed tracks.
type Stream struct {
	tracks []core.LocalTrack
	cancel context.CancelFunc
	wg     conc.WaitGroup
}

// OpenStream opens an ingest listener per configured address. Sources that
// cannot be opened are left out and reported through err; the returned
// stream is usable either way.
func OpenStream(ctx context.Context, cfg StreamConfig) (*Stream, error) {
	ctx, cancel := context.WithCancel(ctx)
	s := &Stream{cancel: cancel}
	if cfg.StreamID == "" {
		cfg.StreamID = "mesh"
	}

	var errs []error
	for _, src := range []struct {
		kind webrtc.RTPCodecType
		id   string
		addr string
	}{
		{webrtc.RTPCodecTypeAudio, "audio", cfg.AudioAddr},
		{webrtc.RTPCodecTypeVideo, "video", cfg.VideoAddr},
	} {
		if src.addr == "" {
			continue
		}
		if err := s.open(ctx, src.kind, src.id, cfg.StreamID, src.addr); err != nil {
			errs = append(errs, fmt.Errorf("%w: %s %s: %v", ErrSourceUnavailable, src.id, src.addr, err))
		}
	}
	return s, errors.Join(errs...)
}

func (s *Stream) open(ctx context.Context, kind webrtc.RTPCodecType, id, streamID, addr string) error {
	conn, err := net.ListenPacket("udp", addr)
	if err != nil {
		return err
	}
	track, err := NewTrack(kind, id, streamID)
	if err != nil {
		_ = conn.Close()
		return err
	}
	s.tracks = append(s.tracks, track)
	s.wg.Go(func() { runIngest(ctx, conn, track, 0) })
	return nil
}

func runIngest(ctx context.Context, conn net.PacketConn, track *Track, idle time.Duration) {
	logger := log.With().Str("module", "media.ingest").Str("track", track.ID()).Logger()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-track.Done():
			cancel()
		case <-ctx.Done():
		}
	}()
	logger.Info().Str("addr", conn.LocalAddr().String()).Msg("ingest started")
	err := Ingest(ctx, conn, track, idle)
	if err != nil {
		logger.Warn().Err(err).Msg("ingest stopped")
	}
	track.Stop()
}

func (s *Stream) Tracks() []core.LocalTrack {
	return s.tracks
}

// Stop ends every track and waits for the listeners to close.
func (s *Stream) Stop() {
	for _, t := range s.tracks {
		t.Stop()
	}
	s.cancel()
	s.wg.Wait()
}
