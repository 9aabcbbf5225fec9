package media

import (
	"context"
	"errors"
	"net"
	"os"
	"time"

	"github.com/pion/rtp"
	"github.com/rs/zerolog/log"
)

// ErrIdle is returned by Ingest when the source stays silent too long.
var ErrIdle = errors.New("rtp source idle")

const maxPacket = 1500

// RTPWriter accepts RTP packets. *Track and the playback sinks satisfy it.
type RTPWriter interface {
	WriteRTP(*rtp.Packet) error
}

// Ingest reads RTP datagrams from conn into dst until ctx is done, the
// connection is closed or dst reports ErrTrackEnded. Other write errors
// come from single bindings of a shared track and are skipped. A positive
// idle bounds the gap between packets. conn is closed on return.
func Ingest(ctx context.Context, conn net.PacketConn, dst RTPWriter, idle time.Duration) error {
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()
	defer conn.Close()

	buf := make([]byte, maxPacket)
	for {
		if idle > 0 {
			_ = conn.SetReadDeadline(time.Now().Add(idle))
		}
		n, _, err := conn.ReadFrom(buf)
		if err != nil {
			switch {
			case ctx.Err() != nil:
				return nil
			case errors.Is(err, os.ErrDeadlineExceeded):
				return ErrIdle
			case errors.Is(err, net.ErrClosed):
				return nil
			}
			return err
		}
		pkt := &rtp.Packet{}
		if err := pkt.Unmarshal(buf[:n]); err != nil {
			continue
		}
		if err := dst.WriteRTP(pkt); err != nil {
			if errors.Is(err, ErrTrackEnded) {
				return nil
			}
			log.Debug().Err(err).Str("module", "media.ingest").Uint16("seq", pkt.SequenceNumber).Msg("write skipped")
		}
	}
}
