package core

//go:generate mockgen -destination=mocks/mock_signal.go -package=mocks github.com/dkeye/Mesh/internal/core SignalingPort,SignalConnection

import (
	"encoding/json"
	"fmt"

	"github.com/dkeye/Mesh/internal/domain"
	"github.com/pion/webrtc/v4"
)

// Frame is a raw encoded signaling payload.
type Frame []byte

// SignalConnection abstracts for a system messaging transport
// Owned by the adapter; the adapter must Close() it.
type SignalConnection interface {
	TrySend(Frame) error
	Close()
}

// SignalingPort is the participant side of the signaling channel.
// Send is fire-and-forget: a nil error means the message was queued.
type SignalingPort interface {
	Send(Message) error
}

type MessageType string

const (
	MsgOffer      MessageType = "offer"
	MsgAnswer     MessageType = "answer"
	MsgCandidate  MessageType = "ice-candidate"
	MsgPeerJoined MessageType = "peer-joined"
	MsgPeerLeft   MessageType = "peer-left"

	MsgJoin    MessageType = "join"
	MsgLeave   MessageType = "leave"
	MsgWelcome MessageType = "welcome"
	MsgWhoAmI  MessageType = "whoami"
	MsgRename  MessageType = "rename"
	MsgPing    MessageType = "ping"
	MsgPong    MessageType = "pong"
	MsgError   MessageType = "error"
)

// Message is the JSON envelope exchanged with the rendezvous server.
// On outbound negotiation messages PeerID names the target; the server
// rewrites it to the sender before delivery.
type Message struct {
	Type        MessageType                `json:"type"`
	PeerID      domain.PeerID              `json:"peerId,omitempty"`
	Room        domain.RoomName            `json:"room,omitempty"`
	Name        string                     `json:"name,omitempty"`
	Description *webrtc.SessionDescription `json:"description,omitempty"`
	Candidate   *webrtc.ICECandidateInit   `json:"candidate,omitempty"`
	Peers       []domain.PeerID            `json:"peers,omitempty"`
	Error       string                     `json:"error,omitempty"`
}

func Encode(msg Message) (Frame, error) {
	b, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", msg.Type, err)
	}
	return b, nil
}

func Decode(data []byte) (Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return Message{}, fmt.Errorf("decode message: %w", err)
	}
	if msg.Type == "" {
		return Message{}, fmt.Errorf("decode message: missing type")
	}
	return msg, nil
}
