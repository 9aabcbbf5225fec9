package orch

import (
	"errors"
	"fmt"

	"github.com/dkeye/Mesh/internal/app"
	"github.com/dkeye/Mesh/internal/core"
	"github.com/dkeye/Mesh/internal/domain"
	"github.com/rs/zerolog/log"
)

var (
	ErrNotInRoom     = errors.New("not in a room")
	ErrNotRoomMate   = errors.New("target is not in the same room")
	ErrUndeliverable = errors.New("message not delivered")
)

type Orchestrator struct {
	Registry *app.Registry
	Rooms    core.RoomManager
	Policy   app.Policy
}

func New(reg *app.Registry, rooms core.RoomManager, policy app.Policy) *Orchestrator {
	return &Orchestrator{Registry: reg, Rooms: rooms, Policy: policy}
}

// Broadcast sends msg to every room mate of from and applies the
// back-pressure policy to members that could not take it.
func (o *Orchestrator) Broadcast(from domain.PeerID, msg core.Message) {
	roomName, _, ok := o.Registry.RoomOf(from)
	if !ok {
		return
	}
	o.broadcastRoom(roomName, from, msg)
}

func (o *Orchestrator) broadcastRoom(roomName domain.RoomName, from domain.PeerID, msg core.Message) {
	room, ok := o.Rooms.Get(roomName)
	if !ok {
		return
	}
	frame, err := core.Encode(msg)
	if err != nil {
		log.Error().Err(err).Str("module", "orch").Msg("broadcast encode")
		return
	}
	res := room.Broadcast(from, frame)
	o.applyPolicy(room, res.Dropped)
}

// Forward delivers a negotiation message to its target. msg.PeerID names
// the target on input and is rewritten to the sender.
func (o *Orchestrator) Forward(from domain.PeerID, msg core.Message) error {
	to := msg.PeerID
	roomName, _, ok := o.Registry.RoomOf(from)
	if !ok {
		return ErrNotInRoom
	}
	room, ok := o.Rooms.Get(roomName)
	if !ok {
		return ErrNotInRoom
	}
	target, ok := room.Member(to)
	if !ok || to == from {
		return fmt.Errorf("%w: %s", ErrNotRoomMate, to)
	}
	msg.PeerID = from
	frame, err := core.Encode(msg)
	if err != nil {
		return err
	}
	sig := target.Signal()
	if sig == nil {
		return fmt.Errorf("%w: %s has no signal", ErrUndeliverable, to)
	}
	if err := sig.TrySend(frame); err != nil {
		o.applyPolicy(room, []core.MemberSession{target})
		return fmt.Errorf("%w: %v", ErrUndeliverable, err)
	}
	return nil
}

func (o *Orchestrator) applyPolicy(room core.RoomService, dropped []core.MemberSession) {
	if o.Policy == nil {
		return
	}
	for _, slow := range dropped {
		id := slow.Meta().Peer.ID
		switch action := o.Policy.OnBackPressure(room, slow); action {
		case app.KickMember:
			log.Warn().Str("module", "orch").Str("peer", string(id)).Msg("kicking slow member")
			o.Kick(id)
		case app.MarkSlow, app.DropFrame, app.NoAction:
			log.Debug().Str("module", "orch").Str("peer", string(id)).Stringer("action", action).Msg("back-pressure")
		}
	}
}
