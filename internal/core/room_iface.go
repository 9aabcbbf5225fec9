package core

import (
	"github.com/dkeye/Mesh/internal/domain"
)

// PublishResult reports delivery stats/backpressure to orchestrator.
type PublishResult struct {
	SendTo  int
	Dropped []MemberSession
}

// MemberDTO is a read-only view for APIs (no transport fields).
type MemberDTO struct {
	ID   domain.PeerID `json:"id"`
	Name string        `json:"name"`
}

// RoomService is the core-facing API of a rendezvous room.
// It owns the membership set but never touches transport resources.
type RoomService interface {
	Room() *domain.Room
	MemberCount() int
	MembersSnapshot() []MemberDTO
	Member(id domain.PeerID) (MemberSession, bool)

	AddMember(id domain.PeerID, ms MemberSession)
	RemoveMember(id domain.PeerID)
	Broadcast(from domain.PeerID, data Frame) PublishResult
}

type RoomInfo struct {
	Name        domain.RoomName `json:"name"`
	MemberCount int             `json:"member_count"`
}

type RoomManager interface {
	GetOrCreate(name domain.RoomName) RoomService
	Get(name domain.RoomName) (RoomService, bool)
	List() []RoomInfo
	StopRoom(name domain.RoomName)
}
