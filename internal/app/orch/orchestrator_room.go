package orch

import (
	"github.com/dkeye/Mesh/internal/core"
	"github.com/dkeye/Mesh/internal/domain"
	"github.com/rs/zerolog/log"
)

// Join places id in roomName, leaving any previous room first. The joiner
// gets a welcome listing the members already there before they hear about
// it, so no offer can overtake the welcome.
func (o *Orchestrator) Join(id domain.PeerID, roomName domain.RoomName) ([]domain.PeerID, bool) {
	if from, _, ok := o.Registry.RoomOf(id); ok {
		o.Leave(id)
		log.Info().Str("module", "orch").Str("peer", string(id)).Str("from_room", string(from)).Msg("left previous room")
	}
	session, ok := o.Registry.GetSession(id)
	if !ok {
		return nil, false
	}
	room := o.Rooms.GetOrCreate(roomName)
	var present []domain.PeerID
	for _, m := range room.MembersSnapshot() {
		if m.ID != id {
			present = append(present, m.ID)
		}
	}
	room.AddMember(id, session)
	o.Registry.UpdateRoom(id, roomName)
	log.Info().Str("module", "orch").Str("peer", string(id)).Str("room", string(roomName)).Msg("added to room")

	welcome := core.Message{Type: core.MsgWelcome, PeerID: id, Room: roomName, Peers: present}
	if frame, err := core.Encode(welcome); err == nil {
		if sig := session.Signal(); sig != nil {
			if err := sig.TrySend(frame); err != nil {
				log.Warn().Err(err).Str("module", "orch").Str("peer", string(id)).Msg("welcome not delivered")
			}
		}
	}

	o.broadcastRoom(roomName, id, core.Message{Type: core.MsgPeerJoined, PeerID: id})
	return present, true
}

// Leave removes id from its room and tells the rest of the room. Empty
// rooms are dropped.
func (o *Orchestrator) Leave(id domain.PeerID) bool {
	roomName, _, ok := o.Registry.RoomOf(id)
	if !ok {
		return false
	}
	o.Registry.RemoveRoom(id)
	room, ok := o.Rooms.Get(roomName)
	if !ok {
		return true
	}
	room.RemoveMember(id)
	if forget, ok := o.Policy.(interface{ Forget(domain.PeerID) }); ok {
		forget.Forget(id)
	}
	if room.MemberCount() == 0 {
		o.Rooms.StopRoom(roomName)
		log.Info().Str("module", "orch").Str("room", string(roomName)).Msg("room closed")
		return true
	}
	o.broadcastRoom(roomName, id, core.Message{Type: core.MsgPeerLeft, PeerID: id})
	return true
}

// Kick drops id from its room and closes its signaling connection.
func (o *Orchestrator) Kick(id domain.PeerID) {
	o.Leave(id)
	o.Registry.Cancel(id)
}

func (o *Orchestrator) EvictRoom(name domain.RoomName) {
	for _, snap := range o.Registry.MembersOfRoom(name) {
		o.Kick(snap.ID)
	}
	o.Rooms.StopRoom(name)
}

// Disconnect tears down the binding sess of id after its transport closed.
// A stale sess, replaced by a newer connection, changes nothing.
func (o *Orchestrator) Disconnect(id domain.PeerID, sess core.MemberSession) bool {
	if cur, ok := o.Registry.GetSession(id); !ok || cur != sess {
		return false
	}
	o.Leave(id)
	return o.Registry.Unbind(id, sess)
}
