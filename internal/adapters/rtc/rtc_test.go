package rtc

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/dkeye/Mesh/internal/core"
	"github.com/dkeye/Mesh/internal/media"
	"github.com/pion/logging"
	"github.com/pion/transport/v3/vnet"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigFromURLs(t *testing.T) {
	assert.Equal(t, DefaultWebRTCConfig(), ConfigFromURLs(nil))

	cfg := ConfigFromURLs([]string{"stun:a:3478", "turn:b:3478"})
	require.Len(t, cfg.ICEServers, 2)
	assert.Equal(t, []string{"turn:b:3478"}, cfg.ICEServers[1].URLs)
}

func TestFactory_OfferAnswerBetweenTwoConnections(t *testing.T) {
	f, err := NewFactory(webrtc.Configuration{})
	require.NoError(t, err)

	a, err := f.NewPeerConnection("u1")
	require.NoError(t, err)
	defer a.Close()
	b, err := f.NewPeerConnection("u2")
	require.NoError(t, err)
	defer b.Close()

	mic, err := media.NewTrack(webrtc.RTPCodecTypeAudio, "mic", "u1")
	require.NoError(t, err)
	sender, err := a.AddTrack(mic)
	require.NoError(t, err)
	assert.Equal(t, mic, sender.Track())
	require.Len(t, a.Senders(), 1)

	waitFor(t, a.Events(), core.EventNegotiationNeeded)

	offer, err := a.CreateOffer()
	require.NoError(t, err)
	assert.Contains(t, offer.SDP, "m=audio")
	require.NoError(t, a.SetLocalDescription(offer))

	require.NoError(t, b.SetRemoteDescription(offer))
	answer, err := b.CreateAnswer()
	require.NoError(t, err)
	require.NoError(t, b.SetLocalDescription(answer))
	require.NoError(t, a.SetRemoteDescription(answer))

	assert.Equal(t, webrtc.SDPTypeAnswer, answer.Type)
}

func newVNetFactories(t *testing.T) (*Factory, *Factory) {
	t.Helper()
	router, err := vnet.NewRouter(&vnet.RouterConfig{
		CIDR:          "10.0.0.0/24",
		LoggerFactory: logging.NewDefaultLoggerFactory(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = router.Stop() })

	netA, err := vnet.NewNet(&vnet.NetConfig{StaticIPs: []string{"10.0.0.1"}})
	require.NoError(t, err)
	netB, err := vnet.NewNet(&vnet.NetConfig{StaticIPs: []string{"10.0.0.2"}})
	require.NoError(t, err)
	require.NoError(t, router.AddNet(netA))
	require.NoError(t, router.AddNet(netB))
	require.NoError(t, router.Start())

	fa, err := NewFactory(webrtc.Configuration{}, WithNet(netA))
	require.NoError(t, err)
	fb, err := NewFactory(webrtc.Configuration{}, WithNet(netB))
	require.NoError(t, err)
	return fa, fb
}

// relay copies local candidates of from into to and reports connection
// states of from.
func relay(from, to core.PeerConnection, states chan<- webrtc.PeerConnectionState, stop <-chan struct{}) {
	for {
		select {
		case ev := <-from.Events():
			switch ev.Kind {
			case core.EventLocalCandidate:
				_ = to.AddICECandidate(*ev.Candidate)
			case core.EventConnectionState:
				select {
				case states <- ev.State:
				default:
				}
			}
		case <-stop:
			return
		}
	}
}

func TestConnection_ConnectsOverVirtualNetwork(t *testing.T) {
	fa, fb := newVNetFactories(t)

	a, err := fa.NewPeerConnection("u1")
	require.NoError(t, err)
	defer a.Close()
	b, err := fb.NewPeerConnection("u2")
	require.NoError(t, err)
	defer b.Close()

	mic, err := media.NewTrack(webrtc.RTPCodecTypeAudio, "mic", "u1")
	require.NoError(t, err)
	_, err = a.AddTrack(mic)
	require.NoError(t, err)

	offer, err := a.CreateOffer()
	require.NoError(t, err)
	require.NoError(t, a.SetLocalDescription(offer))
	require.NoError(t, b.SetRemoteDescription(offer))
	answer, err := b.CreateAnswer()
	require.NoError(t, err)
	require.NoError(t, b.SetLocalDescription(answer))
	require.NoError(t, a.SetRemoteDescription(answer))

	stop := make(chan struct{})
	defer close(stop)
	statesA := make(chan webrtc.PeerConnectionState, 8)
	statesB := make(chan webrtc.PeerConnectionState, 8)
	go relay(a, b, statesA, stop)
	go relay(b, a, statesB, stop)

	for _, states := range []chan webrtc.PeerConnectionState{statesA, statesB} {
		deadline := time.After(10 * time.Second)
	wait:
		for {
			select {
			case s := <-states:
				require.NotEqual(t, webrtc.PeerConnectionStateFailed, s)
				if s == webrtc.PeerConnectionStateConnected {
					break wait
				}
			case <-deadline:
				t.Fatal("not connected")
			}
		}
	}
}

func TestConnection_CloseUnblocksEvents(t *testing.T) {
	f, err := NewFactory(webrtc.Configuration{})
	require.NoError(t, err)
	c, err := f.NewPeerConnection("u1")
	require.NoError(t, err)

	conn := c.(*Connection)
	for i := 0; i < eventBuffer; i++ {
		conn.emit(core.PeerEvent{Kind: core.EventNegotiationNeeded})
	}
	require.NoError(t, c.Close())

	done := make(chan struct{})
	go func() {
		conn.emit(core.PeerEvent{Kind: core.EventTrack})
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("emit blocked after close")
	}
}

func TestLoggerFactory(t *testing.T) {
	var buf bytes.Buffer
	lf := NewLoggerFactoryFrom(zerolog.New(&buf))
	l := lf.NewLogger("ice")
	l.Warnf("candidate %s dropped", "c1")
	l.Info("ready")

	out := buf.String()
	assert.Contains(t, out, `"scope":"ice"`)
	assert.Contains(t, out, "candidate c1 dropped")
	assert.Equal(t, 2, strings.Count(out, `"module":"pion"`))
}

func waitFor(t *testing.T, ch <-chan core.PeerEvent, kind core.PeerEventKind) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev := <-ch:
			if ev.Kind == kind {
				return
			}
		case <-deadline:
			t.Fatalf("no %s event", kind)
		}
	}
}
