package media

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/pion/interceptor"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type chanReader struct {
	ch chan *rtp.Packet
}

func newChanReader() *chanReader { return &chanReader{ch: make(chan *rtp.Packet, 16)} }

func (r *chanReader) ReadRTP() (*rtp.Packet, interceptor.Attributes, error) {
	pkt, ok := <-r.ch
	if !ok {
		return nil, nil, io.EOF
	}
	return pkt, nil, nil
}

type recordingWriter struct {
	mu   sync.Mutex
	pkts []*rtp.Packet
	err  error
}

func (w *recordingWriter) WriteRTP(p *rtp.Packet) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	w.pkts = append(w.pkts, p)
	return nil
}

// flakyWriter rejects the first `failures` writes like a closing binding.
type flakyWriter struct {
	recordingWriter
	failures int
}

func (w *flakyWriter) WriteRTP(p *rtp.Packet) error {
	w.mu.Lock()
	if w.failures > 0 {
		w.failures--
		w.mu.Unlock()
		return io.ErrClosedPipe
	}
	w.mu.Unlock()
	return w.recordingWriter.WriteRTP(p)
}

func (w *recordingWriter) count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.pkts)
}

func packet(seq uint16) *rtp.Packet {
	return &rtp.Packet{
		Header:  rtp.Header{Version: 2, PayloadType: 111, SequenceNumber: seq, SSRC: 42},
		Payload: []byte{1, 2, 3},
	}
}

func TestTrack_States(t *testing.T) {
	tr, err := NewTrack(webrtc.RTPCodecTypeAudio, "mic", "s")
	require.NoError(t, err)
	assert.Equal(t, webrtc.RTPCodecTypeAudio, tr.Kind())
	assert.True(t, tr.Enabled())

	tr.SetEnabled(false)
	assert.Equal(t, TrackMuted, tr.State())
	assert.NoError(t, tr.WriteRTP(packet(1)))

	tr.SetEnabled(true)
	assert.True(t, tr.Enabled())

	tr.Stop()
	tr.Stop()
	select {
	case <-tr.Done():
	default:
		t.Fatal("done not closed")
	}
	assert.ErrorIs(t, tr.WriteRTP(packet(2)), ErrTrackEnded)
	tr.SetEnabled(true)
	assert.Equal(t, TrackEnded, tr.State())

	_, err = NewTrack(webrtc.RTPCodecType(0), "x", "s")
	assert.Error(t, err)
}

func TestRelay_ForwardsToOutputs(t *testing.T) {
	m := NewRelayManager()
	src := newChanReader()
	relay := m.StartRelay(context.Background(), "u2/audio", src)

	ok, muted, broken := &recordingWriter{}, &recordingWriter{}, &recordingWriter{err: errors.New("gone")}
	require.True(t, m.AddOutput("u2/audio", "ok", ok))
	require.True(t, m.AddOutput("u2/audio", "muted", muted))
	require.True(t, m.AddOutput("u2/audio", "broken", broken))
	assert.False(t, m.AddOutput("nope", "x", ok))
	out, _ := relay.Output("muted")
	out.MarkMuted()

	src.ch <- packet(1)
	src.ch <- packet(2)

	require.Eventually(t, func() bool { return ok.count() == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 0, muted.count())
	require.Eventually(t, func() bool { return relay.OutputCount() == 2 }, time.Second, 5*time.Millisecond)

	close(src.ch)
	select {
	case <-relay.Done():
	case <-time.After(time.Second):
		t.Fatal("relay did not stop")
	}
	out, _ = relay.Output("ok")
	assert.Equal(t, OutputDelete, out.State())
}

func TestRelayManager_ReplaceAndStop(t *testing.T) {
	m := NewRelayManager()
	first := m.StartRelay(context.Background(), "k", newChanReader())
	second := m.StartRelay(context.Background(), "k", newChanReader())
	assert.NotSame(t, first, second)
	assert.True(t, m.HasRelay("k"))
	assert.Equal(t, []string{"k"}, m.Keys())

	m.StopRelay("k")
	m.StopRelay("k")
	assert.False(t, m.HasRelay("k"))
}

func TestIngest_WritesPackets(t *testing.T) {
	conn, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	w := &recordingWriter{}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- Ingest(ctx, conn, w, 0) }()

	out, err := net.Dial("udp", conn.LocalAddr().String())
	require.NoError(t, err)
	defer out.Close()
	b, err := packet(7).Marshal()
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		_, _ = out.Write(b)
		return w.count() > 0
	}, time.Second, 10*time.Millisecond)
	w.mu.Lock()
	assert.Equal(t, uint16(7), w.pkts[0].SequenceNumber)
	w.mu.Unlock()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("ingest did not stop")
	}
}

func TestIngest_SurvivesBindingWriteErrors(t *testing.T) {
	conn, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	w := &flakyWriter{failures: 1}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- Ingest(ctx, conn, w, 0) }()

	out, err := net.Dial("udp", conn.LocalAddr().String())
	require.NoError(t, err)
	defer out.Close()

	seq := uint16(0)
	require.Eventually(t, func() bool {
		seq++
		b, err := packet(seq).Marshal()
		require.NoError(t, err)
		_, _ = out.Write(b)
		return w.count() >= 2
	}, 2*time.Second, 10*time.Millisecond)

	select {
	case err := <-done:
		t.Fatalf("ingest stopped on a write error: %v", err)
	default:
	}

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("ingest did not stop")
	}
}

func TestIngest_IdleAndEndedTrack(t *testing.T) {
	conn, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	err = Ingest(context.Background(), conn, &recordingWriter{}, 20*time.Millisecond)
	assert.ErrorIs(t, err, ErrIdle)

	conn, err = net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	tr, err := NewTrack(webrtc.RTPCodecTypeVideo, "cam", "s")
	require.NoError(t, err)
	tr.Stop()
	done := make(chan error, 1)
	go func() { done <- Ingest(context.Background(), conn, tr, 0) }()

	out, err := net.Dial("udp", conn.LocalAddr().String())
	require.NoError(t, err)
	defer out.Close()
	b, _ := packet(1).Marshal()
	_, _ = out.Write(b)
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("ingest kept running on ended track")
	}
}

func TestOpenStream_PartialSources(t *testing.T) {
	s, err := OpenStream(context.Background(), StreamConfig{
		AudioAddr: "127.0.0.1:0",
		VideoAddr: "not-an-address",
	})
	require.NotNil(t, s)
	assert.ErrorIs(t, err, ErrSourceUnavailable)
	require.Len(t, s.Tracks(), 1)
	assert.Equal(t, webrtc.RTPCodecTypeAudio, s.Tracks()[0].Kind())

	s.Stop()
	select {
	case <-s.Tracks()[0].Done():
	default:
		t.Fatal("track still live after Stop")
	}
}

func TestRTPDisplay_EndsWhenIdle(t *testing.T) {
	d := NewRTPDisplay(context.Background(), "127.0.0.1:0", 20*time.Millisecond)
	tr, err := d.Capture()
	require.NoError(t, err)
	assert.Equal(t, webrtc.RTPCodecTypeVideo, tr.Kind())
	select {
	case <-tr.Done():
	case <-time.After(time.Second):
		t.Fatal("screen track did not end")
	}
}

func TestPlayback_RelaysToSink(t *testing.T) {
	player, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	defer player.Close()

	p := NewPlayback(context.Background(), player.LocalAddr().String(), "")
	src := newChanReader()
	require.NoError(t, p.Attach("u2", webrtc.RTPCodecTypeAudio, "audio", src))
	require.NoError(t, p.Attach("u2", webrtc.RTPCodecTypeVideo, "video", newChanReader()))
	assert.Equal(t, 1, p.Attached("u2"))

	src.ch <- packet(9)
	_ = player.SetReadDeadline(time.Now().Add(time.Second))
	buf := make([]byte, maxPacket)
	n, _, err := player.ReadFrom(buf)
	require.NoError(t, err)
	got := &rtp.Packet{}
	require.NoError(t, got.Unmarshal(buf[:n]))
	assert.Equal(t, uint16(9), got.SequenceNumber)

	p.OnPeerListChanged(nil)
	assert.Equal(t, 0, p.Attached("u2"))
	p.Close()
}
