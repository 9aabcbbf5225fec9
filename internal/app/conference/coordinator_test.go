package conference

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/dkeye/Mesh/internal/app/session"
	"github.com/dkeye/Mesh/internal/core"
	"github.com/dkeye/Mesh/internal/core/coretest"
	"github.com/dkeye/Mesh/internal/core/mocks"
	"github.com/dkeye/Mesh/internal/domain"
	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

type recordingObserver struct {
	mu      sync.Mutex
	lists   [][]domain.PeerID
	quality map[domain.PeerID]bool
}

func (o *recordingObserver) OnPeerListChanged(peers []domain.PeerID) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.lists = append(o.lists, peers)
}

func (o *recordingObserver) OnConnectionQualityChanged(p domain.PeerID, ok bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.quality == nil {
		o.quality = make(map[domain.PeerID]bool)
	}
	o.quality[p] = ok
}

func (o *recordingObserver) OnRemoteTrackAvailable(domain.PeerID, *webrtc.TrackRemote) {}

func (o *recordingObserver) last() []domain.PeerID {
	o.mu.Lock()
	defer o.mu.Unlock()
	if len(o.lists) == 0 {
		return nil
	}
	return o.lists[len(o.lists)-1]
}

type harness struct {
	c       *Coordinator
	factory *coretest.Factory
	port    *coretest.Port
	runErr  chan error
}

func start(t *testing.T, opts ...Option) *harness {
	t.Helper()
	h := &harness{
		factory: coretest.NewFactory(),
		port:    &coretest.Port{},
		runErr:  make(chan error, 1),
	}
	h.c = New(h.port, h.factory, opts...)
	ctx, cancel := context.WithCancel(context.Background())
	go func() { h.runErr <- h.c.Run(ctx) }()
	t.Cleanup(func() {
		h.c.Shutdown()
		cancel()
	})
	return h
}

// sync waits until every previously dispatched message has been handled.
func (h *harness) sync(t *testing.T) {
	t.Helper()
	_, err := h.c.Identity()
	require.NoError(t, err)
}

func (h *harness) dispatch(t *testing.T, msgs ...core.Message) {
	t.Helper()
	for _, m := range msgs {
		require.NoError(t, h.c.Dispatch(m))
	}
	h.sync(t)
}

func welcome(self domain.PeerID, peers ...domain.PeerID) core.Message {
	return core.Message{Type: core.MsgWelcome, PeerID: self, Peers: peers}
}

func avSource() (*coretest.Source, *coretest.Track, *coretest.Track) {
	mic := coretest.NewTrack(webrtc.RTPCodecTypeAudio, "mic")
	cam := coretest.NewTrack(webrtc.RTPCodecTypeVideo, "cam")
	return &coretest.Source{List: []core.LocalTrack{mic, cam}}, mic, cam
}

func TestCoordinator_LowerIdentityOffersAndDrainsCandidates(t *testing.T) {
	h := start(t)
	h.dispatch(t, welcome("u1", "u2"))

	offers := h.port.OfType(core.MsgOffer)
	require.Len(t, offers, 1)
	assert.Equal(t, domain.PeerID("u2"), offers[0].PeerID)

	h.dispatch(t,
		core.Message{Type: core.MsgCandidate, PeerID: "u2", Candidate: &webrtc.ICECandidateInit{Candidate: "c1"}},
		core.Message{Type: core.MsgCandidate, PeerID: "u2", Candidate: &webrtc.ICECandidateInit{Candidate: "c2"}},
		core.Message{Type: core.MsgCandidate, PeerID: "u2", Candidate: &webrtc.ICECandidateInit{Candidate: "c3"}},
	)
	conn := h.factory.Conn("u2")
	assert.Empty(t, conn.Candidates())

	h.dispatch(t, core.Message{Type: core.MsgAnswer, PeerID: "u2",
		Description: &webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: "a"}})

	got := conn.Candidates()
	require.Len(t, got, 3)
	assert.Equal(t, "c1", got[0].Candidate)
	assert.Equal(t, "c2", got[1].Candidate)
	assert.Equal(t, "c3", got[2].Candidate)

	ph, ok, err := h.c.SessionPhase("u2")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, session.PhaseStable, ph)
}

func TestCoordinator_HigherIdentityWaitsForOffer(t *testing.T) {
	obs := &recordingObserver{}
	h := start(t, WithObserver(obs))
	h.dispatch(t, welcome("u9"), core.Message{Type: core.MsgPeerJoined, PeerID: "u2"})

	assert.Empty(t, h.port.Messages())
	peers, err := h.c.Peers()
	require.NoError(t, err)
	assert.Equal(t, []domain.PeerID{"u2"}, peers)
	assert.Equal(t, []domain.PeerID{"u2"}, obs.last())
	_, ok, _ := h.c.SessionPhase("u2")
	assert.False(t, ok)

	h.dispatch(t, core.Message{Type: core.MsgOffer, PeerID: "u2",
		Description: &webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "o"}})
	answers := h.port.OfType(core.MsgAnswer)
	require.Len(t, answers, 1)
	assert.Equal(t, domain.PeerID("u2"), answers[0].PeerID)
}

func TestCoordinator_FailedConnectionRemovesPeer(t *testing.T) {
	obs := &recordingObserver{}
	h := start(t, WithObserver(obs))
	h.dispatch(t, welcome("u1", "u3"))
	ph, ok, err := h.c.SessionPhase("u3")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, session.PhaseOfferSent, ph)

	h.factory.Conn("u3").Emit(core.PeerEvent{Kind: core.EventConnectionState, State: webrtc.PeerConnectionStateFailed})

	require.Eventually(t, func() bool {
		_, ok, _ := h.c.SessionPhase("u3")
		return !ok
	}, time.Second, 5*time.Millisecond)
	peers, err := h.c.Peers()
	require.NoError(t, err)
	assert.NotContains(t, peers, domain.PeerID("u3"))
	assert.True(t, h.factory.Conn("u3").Closed())
}

func TestCoordinator_PeerLeft(t *testing.T) {
	h := start(t)
	h.dispatch(t, welcome("u1", "u2", "u4"))
	h.dispatch(t, core.Message{Type: core.MsgPeerLeft, PeerID: "u2"})
	h.dispatch(t, core.Message{Type: core.MsgPeerLeft, PeerID: "u2"})

	peers, err := h.c.Peers()
	require.NoError(t, err)
	assert.Equal(t, []domain.PeerID{"u4"}, peers)
	assert.True(t, h.factory.Conn("u2").Closed())
	assert.False(t, h.factory.Conn("u4").Closed())
}

func TestCoordinator_ShutdownIsIdempotent(t *testing.T) {
	h := start(t)
	src, mic, cam := avSource()
	require.NoError(t, h.c.SetLocalMedia(src))
	h.dispatch(t, welcome("u1", "u2", "u3"))

	h.c.Shutdown()
	h.c.Shutdown()

	select {
	case err := <-h.runErr:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("loop did not stop")
	}
	assert.True(t, mic.Stopped())
	assert.True(t, cam.Stopped())
	assert.True(t, h.factory.Conn("u2").Closed())
	assert.True(t, h.factory.Conn("u3").Closed())

	_, err := h.c.Peers()
	assert.ErrorIs(t, err, ErrStopped)
	assert.ErrorIs(t, h.c.Dispatch(welcome("u1")), ErrStopped)
}

func TestCoordinator_ShutdownBeforeRun(t *testing.T) {
	c := New(&coretest.Port{}, coretest.NewFactory())
	c.Shutdown()
	c.Shutdown()
	assert.NoError(t, c.Run(context.Background()))
	_, err := c.Peers()
	assert.ErrorIs(t, err, ErrStopped)
}

func TestCoordinator_RunTwice(t *testing.T) {
	h := start(t)
	h.sync(t)
	assert.ErrorIs(t, h.c.Run(context.Background()), ErrRunning)
}

func TestCoordinator_LeaveClosesEverything(t *testing.T) {
	h := start(t)
	src, mic, _ := avSource()
	require.NoError(t, h.c.SetLocalMedia(src))
	h.dispatch(t, welcome("u1", "u2"))

	require.NoError(t, h.c.Leave())
	require.NoError(t, h.c.Leave())

	assert.Len(t, h.port.OfType(core.MsgLeave), 1)
	assert.True(t, mic.Stopped())
	assert.True(t, h.factory.Conn("u2").Closed())
	peers, err := h.c.Peers()
	require.NoError(t, err)
	assert.Empty(t, peers)
	id, err := h.c.Identity()
	require.NoError(t, err)
	assert.Empty(t, id)

	h.dispatch(t, welcome("u7", "u8"))
	assert.Equal(t, 1, h.factory.Built("u8"))
	assert.Len(t, h.port.OfType(core.MsgOffer), 2)
}

func TestCoordinator_JoinIdentityLocked(t *testing.T) {
	h := start(t)
	require.NoError(t, h.c.Join("u1"))
	h.dispatch(t, core.Message{Type: core.MsgPeerJoined, PeerID: "u2"})

	assert.ErrorIs(t, h.c.Join("u5"), ErrIdentityLocked)
	assert.NoError(t, h.c.Join("u1"))
	assert.Error(t, h.c.Join(""))
}

func TestCoordinator_Toggles(t *testing.T) {
	h := start(t)
	mic := coretest.NewTrack(webrtc.RTPCodecTypeAudio, "mic")
	require.NoError(t, h.c.SetLocalMedia(&coretest.Source{List: []core.LocalTrack{mic}}))

	muted, err := h.c.ToggleAudio()
	require.NoError(t, err)
	assert.True(t, muted)
	assert.False(t, mic.Enabled())

	muted, err = h.c.ToggleAudio()
	require.NoError(t, err)
	assert.False(t, muted)

	_, err = h.c.ToggleVideo()
	assert.ErrorIs(t, err, ErrNoTrack)
}

func TestCoordinator_ScreenShare(t *testing.T) {
	ctrl := gomock.NewController(t)
	screen := coretest.NewTrack(webrtc.RTPCodecTypeVideo, "screen")
	display := mocks.NewMockDisplaySource(ctrl)
	display.EXPECT().Capture().Return(screen, nil).Times(1)

	h := start(t, WithDisplay(display))
	src, _, cam := avSource()
	require.NoError(t, h.c.SetLocalMedia(src))
	h.dispatch(t, welcome("u1", "u2"))

	ok, err := h.c.StartScreenShare()
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = h.c.StartScreenShare()
	require.NoError(t, err)
	assert.True(t, ok)

	senders := h.factory.Conn("u2").SenderList()
	require.Len(t, senders, 2)
	assert.Same(t, screen, senders[1].Track())

	ok, err = h.c.StopScreenShare()
	require.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, screen.Stopped())
	assert.Same(t, cam, senders[1].Track())

	ok, err = h.c.StopScreenShare()
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCoordinator_ScreenShareEndsWithTrack(t *testing.T) {
	screen := coretest.NewTrack(webrtc.RTPCodecTypeVideo, "screen")
	h := start(t, WithDisplay(&coretest.Display{Next: screen}))
	src, _, cam := avSource()
	require.NoError(t, h.c.SetLocalMedia(src))
	h.dispatch(t, welcome("u1", "u2"))

	_, err := h.c.StartScreenShare()
	require.NoError(t, err)
	screen.Stop()

	require.Eventually(t, func() bool {
		sharing, err := h.c.Sharing()
		return err == nil && !sharing
	}, time.Second, 5*time.Millisecond)
	assert.Same(t, cam, h.factory.Conn("u2").SenderList()[1].Track())
}

func TestCoordinator_ScreenShareErrors(t *testing.T) {
	h := start(t)
	ok, err := h.c.StartScreenShare()
	assert.ErrorIs(t, err, ErrNoDisplay)
	assert.False(t, ok)

	h2 := start(t, WithDisplay(&coretest.Display{Err: errors.New("permission denied")}))
	ok, err = h2.c.StartScreenShare()
	require.Error(t, err)
	assert.False(t, ok)
	sharing, err := h2.c.Sharing()
	require.NoError(t, err)
	assert.False(t, sharing)
}

func TestCoordinator_NewSessionsCarryScreenTrack(t *testing.T) {
	screen := coretest.NewTrack(webrtc.RTPCodecTypeVideo, "screen")
	h := start(t, WithDisplay(&coretest.Display{Next: screen}))
	src, mic, _ := avSource()
	require.NoError(t, h.c.SetLocalMedia(src))
	require.NoError(t, h.c.Join("u1"))
	_, err := h.c.StartScreenShare()
	require.NoError(t, err)

	h.dispatch(t, core.Message{Type: core.MsgPeerJoined, PeerID: "u2"})

	senders := h.factory.Conn("u2").SenderList()
	require.Len(t, senders, 2)
	assert.Same(t, mic, senders[0].Track())
	assert.Same(t, screen, senders[1].Track())
}

func TestCoordinator_ObserverSeesReachability(t *testing.T) {
	ctrl := gomock.NewController(t)
	obs := mocks.NewMockConferenceObserver(ctrl)
	reached := make(chan struct{})
	gomock.InOrder(
		obs.EXPECT().OnPeerListChanged([]domain.PeerID{"u2"}),
		obs.EXPECT().OnConnectionQualityChanged(domain.PeerID("u2"), true).Do(func(domain.PeerID, bool) { close(reached) }),
	)
	obs.EXPECT().OnPeerListChanged(gomock.Any()).AnyTimes()

	h := start(t, WithObserver(obs))
	h.dispatch(t, welcome("u1", "u2"))
	h.factory.Conn("u2").Emit(core.PeerEvent{Kind: core.EventConnectionState, State: webrtc.PeerConnectionStateConnected})

	select {
	case <-reached:
	case <-time.After(time.Second):
		t.Fatal("observer not notified")
	}
}

func TestCoordinator_ReplaceOutboundTrack(t *testing.T) {
	h := start(t)
	src, mic, _ := avSource()
	require.NoError(t, h.c.SetLocalMedia(src))
	h.dispatch(t, welcome("u1", "u2", "u3"))

	mic2 := coretest.NewTrack(webrtc.RTPCodecTypeAudio, "mic2")
	n, err := h.c.ReplaceOutboundTrack(webrtc.RTPCodecTypeAudio, mic2)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	for _, peer := range []domain.PeerID{"u2", "u3"} {
		senders := h.factory.Conn(peer).SenderList()
		require.Len(t, senders, 2)
		assert.Same(t, mic2, senders[0].Track())
	}
	assert.False(t, mic.Stopped())

	n, err = h.c.ReplaceOutboundTrack(webrtc.RTPCodecTypeAudio, mic2)
	require.NoError(t, err)
	assert.Zero(t, n)
}
