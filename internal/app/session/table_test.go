package session

import (
	"errors"
	"testing"
	"time"

	"github.com/dkeye/Mesh/internal/core"
	"github.com/dkeye/Mesh/internal/core/coretest"
	"github.com/dkeye/Mesh/internal/domain"
	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTable_GetOrCreateIsIdempotent(t *testing.T) {
	f := coretest.NewFactory()
	tbl := NewTable(f, nil)

	s1, created, err := tbl.GetOrCreate("u2")
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, PhaseNew, s1.Phase())

	s2, created, err := tbl.GetOrCreate("u2")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Same(t, s1, s2)
	assert.Equal(t, 1, f.Built("u2"))
}

func TestTable_FactoryError(t *testing.T) {
	f := coretest.NewFactory()
	f.Err = errors.New("no ice")
	tbl := NewTable(f, nil)

	_, _, err := tbl.GetOrCreate("u2")
	require.Error(t, err)
	assert.Equal(t, 0, tbl.Len())
}

func TestTable_RemoveClosesOnce(t *testing.T) {
	f := coretest.NewFactory()
	tbl := NewTable(f, nil)
	s, _, err := tbl.GetOrCreate("u3")
	require.NoError(t, err)

	assert.True(t, tbl.Remove("u3"))
	assert.False(t, tbl.Remove("u3"))
	assert.False(t, tbl.Remove("nobody"))

	assert.True(t, s.Closed())
	assert.Equal(t, PhaseClosed, s.Phase())
	assert.True(t, f.Conn("u3").Closed())
	assert.Equal(t, []string{"close"}, f.Conn("u3").Calls())
	assert.ErrorIs(t, s.Transition(PhaseOfferSent), ErrClosed)
}

func TestTable_CurrentDetectsReplacement(t *testing.T) {
	tbl := NewTable(coretest.NewFactory(), nil)
	old, _, _ := tbl.GetOrCreate("u2")
	assert.True(t, tbl.Current(old))

	tbl.Remove("u2")
	fresh, _, _ := tbl.GetOrCreate("u2")
	assert.False(t, tbl.Current(old))
	assert.True(t, tbl.Current(fresh))
	assert.False(t, tbl.Current(nil))
}

func TestTable_PeersSortedAndClear(t *testing.T) {
	tbl := NewTable(coretest.NewFactory(), nil)
	for _, id := range []domain.PeerID{"u9", "u2", "u5"} {
		_, _, err := tbl.GetOrCreate(id)
		require.NoError(t, err)
	}
	assert.Equal(t, []domain.PeerID{"u2", "u5", "u9"}, tbl.Peers())

	visited := 0
	tbl.ForEach(func(s *Session) {
		visited++
		tbl.Remove(s.PeerID())
	})
	assert.Equal(t, 3, visited)
	assert.Equal(t, 0, tbl.Len())

	_, _, _ = tbl.GetOrCreate("u4")
	tbl.Clear()
	assert.Equal(t, 0, tbl.Len())
}

func TestTable_ForwardsEventsInOrder(t *testing.T) {
	f := coretest.NewFactory()
	sink := make(chan Event, 8)
	tbl := NewTable(f, sink)
	s, _, err := tbl.GetOrCreate("u2")
	require.NoError(t, err)

	conn := f.Conn("u2")
	conn.Emit(core.PeerEvent{Kind: core.EventLocalCandidate, Candidate: &webrtc.ICECandidateInit{Candidate: "c1"}})
	conn.Emit(core.PeerEvent{Kind: core.EventConnectionState, State: webrtc.PeerConnectionStateConnected})

	for _, want := range []core.PeerEventKind{core.EventLocalCandidate, core.EventConnectionState} {
		select {
		case ev := <-sink:
			assert.Equal(t, want, ev.Kind)
			assert.Same(t, s, ev.Session)
			assert.Equal(t, domain.PeerID("u2"), ev.Peer)
		case <-time.After(time.Second):
			t.Fatalf("no %s event forwarded", want)
		}
	}

	tbl.Clear()
	tbl.Wait()
}

func TestTable_WaitReleasesBlockedForwarder(t *testing.T) {
	f := coretest.NewFactory()
	sink := make(chan Event)
	tbl := NewTable(f, sink)
	_, _, err := tbl.GetOrCreate("u2")
	require.NoError(t, err)
	f.Conn("u2").Emit(core.PeerEvent{Kind: core.EventNegotiationNeeded})

	tbl.Clear()
	done := make(chan struct{})
	go func() {
		tbl.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("forwarder still running after Clear")
	}
}
