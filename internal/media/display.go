package media

import (
	"context"
	"net"
	"time"

	"github.com/dkeye/Mesh/internal/core"
	"github.com/pion/webrtc/v4"
)

// RTPDisplay captures a screen as a VP8 stream arriving on a UDP address.
// The captured track ends when the sender stays silent for the idle period.
type RTPDisplay struct {
	ctx  context.Context
	addr string
	idle time.Duration
}

func NewRTPDisplay(ctx context.Context, addr string, idle time.Duration) *RTPDisplay {
	return &RTPDisplay{ctx: ctx, addr: addr, idle: idle}
}

func (d *RTPDisplay) Capture() (core.LocalTrack, error) {
	conn, err := net.ListenPacket("udp", d.addr)
	if err != nil {
		return nil, err
	}
	track, err := NewTrack(webrtc.RTPCodecTypeVideo, "screen", "screen")
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	go runIngest(d.ctx, conn, track, d.idle)
	return track, nil
}
