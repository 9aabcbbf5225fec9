package app

import (
	"context"
	"testing"

	"github.com/dkeye/Mesh/internal/core"
	"github.com/dkeye/Mesh/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func bind(t *testing.T, r *Registry, id domain.PeerID) (core.MemberSession, context.Context) {
	t.Helper()
	sess := core.NewMemberSession(domain.NewMember(r.GetOrCreatePeer(id)))
	ctx, cancel := context.WithCancel(context.Background())
	r.BindSignal(id, sess, cancel)
	return sess, ctx
}

func TestRegistry_PeersAndNames(t *testing.T) {
	r := NewRegistry()
	p := r.GetOrCreatePeer("u1")
	assert.Equal(t, "guest", p.Name)
	assert.Same(t, p, r.GetOrCreatePeer("u1"))

	require.NoError(t, r.UpdateName("u1", "alice"))
	assert.Equal(t, "alice", p.Name)
	assert.ErrorIs(t, r.UpdateName("u1", ""), domain.ErrNameEmpty)
	assert.ErrorIs(t, r.UpdateName("nobody", "x"), ErrPeerNotFound)
}

func TestRegistry_RoomMembership(t *testing.T) {
	r := NewRegistry()
	bind(t, r, "u2")
	bind(t, r, "u1")
	bind(t, r, "u3")

	_, _, ok := r.RoomOf("u1")
	assert.False(t, ok)

	require.True(t, r.UpdateRoom("u1", "lobby"))
	require.True(t, r.UpdateRoom("u2", "lobby"))
	require.True(t, r.UpdateRoom("u3", "other"))
	assert.False(t, r.UpdateRoom("ghost", "lobby"))

	members := r.MembersOfRoom("lobby")
	require.Len(t, members, 2)
	assert.Equal(t, domain.PeerID("u1"), members[0].ID)
	assert.Equal(t, domain.PeerID("u2"), members[1].ID)

	mates := r.RoomMates("u1")
	require.Len(t, mates, 1)
	assert.Equal(t, domain.PeerID("u2"), mates[0].ID)

	r.RemoveRoom("u1")
	assert.Len(t, r.MembersOfRoom("lobby"), 1)
	assert.Nil(t, r.RoomMates("u1"))
}

func TestRegistry_RebindCancelsPrevious(t *testing.T) {
	r := NewRegistry()
	first, firstCtx := bind(t, r, "u1")
	second, secondCtx := bind(t, r, "u1")

	assert.Error(t, firstCtx.Err())
	assert.NoError(t, secondCtx.Err())

	assert.False(t, r.Unbind("u1", first))
	got, ok := r.GetSession("u1")
	require.True(t, ok)
	assert.Same(t, second, got)

	assert.True(t, r.Cancel("u1"))
	assert.Error(t, secondCtx.Err())
	assert.True(t, r.Unbind("u1", second))
	assert.False(t, r.Cancel("u1"))
}

func TestRoomManager(t *testing.T) {
	m := NewRoomManager()
	a := m.GetOrCreate("b-room")
	assert.Same(t, a, m.GetOrCreate("b-room"))
	m.GetOrCreate("a-room")

	got, ok := m.Get("b-room")
	require.True(t, ok)
	assert.Same(t, a, got)

	list := m.List()
	require.Len(t, list, 2)
	assert.Equal(t, domain.RoomName("a-room"), list[0].Name)

	m.StopRoom("b-room")
	_, ok = m.Get("b-room")
	assert.False(t, ok)
}

func TestThresholdPolicy(t *testing.T) {
	p := NewThresholdPolicy(2)
	sess := core.NewMemberSession(domain.NewMember(&domain.Peer{ID: "u1", Name: "a"}))

	assert.Equal(t, MarkSlow, p.OnBackPressure(nil, sess))
	assert.Equal(t, MarkSlow, p.OnBackPressure(nil, sess))
	assert.Equal(t, KickMember, p.OnBackPressure(nil, sess))
	assert.Equal(t, MarkSlow, p.OnBackPressure(nil, sess))

	p.Forget("u1")
	assert.Equal(t, MarkSlow, p.OnBackPressure(nil, sess))
	assert.Equal(t, KickMember, SimplePolicy{}.OnBackPressure(nil, sess))
}
