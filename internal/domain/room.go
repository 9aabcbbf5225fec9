package domain

import (
	"errors"
	"strings"
)

const MaxRoomNameLen = 36

var ErrRoomNameEmpty = errors.New("room name empty")

type RoomName string

type Room struct {
	Name RoomName
}

// ParseRoomName trims and bounds a client supplied room name.
func ParseRoomName(raw string) (RoomName, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", ErrRoomNameEmpty
	}
	if len(raw) > MaxRoomNameLen {
		raw = raw[:MaxRoomNameLen]
	}
	return RoomName(raw), nil
}
