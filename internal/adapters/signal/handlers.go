package signal

import (
	"errors"

	"github.com/dkeye/Mesh/internal/app/orch"
	"github.com/dkeye/Mesh/internal/core"
	"github.com/dkeye/Mesh/internal/domain"
	"github.com/rs/zerolog/log"
)

func (ctl *SignalWSController) handleSignal(id domain.PeerID, c *WsSignalConn, data []byte) {
	msg, err := core.Decode(data)
	if err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("peer", string(id)).Msg("bad json")
		ctl.sendError(c, "bad_payload")
		return
	}

	switch msg.Type {
	case core.MsgJoin:
		ctl.handleJoin(id, c, msg)
	case core.MsgLeave:
		ctl.Orch.Leave(id)
	case core.MsgPing:
		ctl.send(c, core.Message{Type: core.MsgPong})
	case core.MsgRename:
		ctl.handleRename(id, c, msg)
	case core.MsgWhoAmI:
		ctl.handleWhoAmI(id, c)
	case core.MsgOffer, core.MsgAnswer, core.MsgCandidate:
		ctl.handleRelay(id, c, msg)
	default:
		log.Warn().Str("module", "signal").Str("type", string(msg.Type)).Msg("unknown signal")
		ctl.sendError(c, "unknown_type")
	}
}

func (ctl *SignalWSController) handleJoin(id domain.PeerID, c *WsSignalConn, msg core.Message) {
	if !ctl.Limiter.Allow(id) {
		log.Warn().Str("module", "signal").Str("peer", string(id)).Msg("join rate limited")
		ctl.sendError(c, "rate_limited")
		return
	}
	room, err := domain.ParseRoomName(string(msg.Room))
	if err != nil {
		ctl.sendError(c, "bad_room")
		return
	}
	if msg.Name != "" {
		if err := ctl.Orch.Registry.UpdateName(id, msg.Name); err != nil {
			log.Warn().Err(err).Str("module", "signal").Str("peer", string(id)).Msg("rename on join")
		}
	}
	log.Info().Str("module", "signal").Str("peer", string(id)).Str("room", string(room)).Msg("join")
	if _, ok := ctl.Orch.Join(id, room); !ok {
		ctl.sendError(c, "not_connected")
	}
}

func (ctl *SignalWSController) handleRename(id domain.PeerID, c *WsSignalConn, msg core.Message) {
	if err := ctl.Orch.Registry.UpdateName(id, msg.Name); err != nil {
		ctl.sendError(c, "invalid_name")
		return
	}
	ctl.handleWhoAmI(id, c)
	ctl.Orch.Broadcast(id, core.Message{Type: core.MsgRename, PeerID: id, Name: msg.Name})
}

func (ctl *SignalWSController) handleWhoAmI(id domain.PeerID, c *WsSignalConn) {
	peer := ctl.Orch.Registry.GetOrCreatePeer(id)
	resp := core.Message{Type: core.MsgWhoAmI, PeerID: id, Name: peer.Name}
	if room, _, ok := ctl.Orch.Registry.RoomOf(id); ok {
		resp.Room = room
	}
	ctl.send(c, resp)
}

func (ctl *SignalWSController) handleRelay(id domain.PeerID, c *WsSignalConn, msg core.Message) {
	err := ctl.Orch.Forward(id, msg)
	switch {
	case err == nil:
	case errors.Is(err, orch.ErrNotInRoom):
		ctl.sendError(c, "not_in_room")
	case errors.Is(err, orch.ErrNotRoomMate):
		ctl.sendError(c, "unknown_peer")
	default:
		log.Warn().Err(err).Str("module", "signal").Str("peer", string(id)).Str("type", string(msg.Type)).Msg("relay")
	}
}

func (ctl *SignalWSController) sendError(c *WsSignalConn, reason string) {
	ctl.send(c, core.Message{Type: core.MsgError, Error: reason})
}

func (ctl *SignalWSController) send(c *WsSignalConn, msg core.Message) {
	frame, err := core.Encode(msg)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("send marshal")
		return
	}
	_ = c.TrySend(frame)
}
