package rooms

import "errors"

var (
	ErrEmptyName     = errors.New("room name is empty")
	ErrNameExists    = errors.New("room already exists")
	ErrRoomNotFound  = errors.New("room not found")
	ErrAlreadyInRoom = errors.New("already in room")
	ErrNotMember     = errors.New("not a member of the room")
	ErrWrongPhase    = errors.New("not allowed in current phase")
)
