package events

import (
	"encoding/json"
	"time"
)

// Name identifies an event on either channel
type Name string

// Identity channel
const (
	CheckUsername    Name = "CHECK_USERNAME"
	CheckReconnect   Name = "CHECK_RECONNECT"
	UsernameValid    Name = "USERNAME_VALID"
	UsernameError    Name = "USERNAME_ERROR"
	ReconnectAllowed Name = "RECONNECT_ALLOWED"
	ReconnectDenied  Name = "RECONNECT_DENIED"
)

// Game channel, client to server
const (
	CreateRoom       Name = "CREATE_ROOM"
	JoinRoom         Name = "JOIN_ROOM"
	IsReady          Name = "IS_READY"
	ChangeProgress   Name = "CHANGE_PROGRESS"
	ResetProgress    Name = "RESET_PROGRESS"
	IsWinnerDetected Name = "IS_WINNER_DETECTED"
)

// Game channel, server to client
const (
	UpdateRooms       Name = "UPDATE_ROOMS"
	RoomCreated       Name = "ROOM_CREATED"
	RoomExists        Name = "ROOM_EXISTS"
	RoomError         Name = "ROOM_ERROR"
	GetRoomID         Name = "GET_ROOM_ID"
	JoinRoomDone      Name = "JOIN_ROOM_DONE"
	UpdateUsersInRoom Name = "UPDATE_USERS_IN_ROOM"
	AllReady          Name = "ALL_READY"
	TimerStart        Name = "TIMER_START"
	TimerUpdate       Name = "TIMER_UPDATE"
	TimerEnd          Name = "TIMER_END"
	UpdateProgress    Name = "UPDATE_PROGRESS"
	GameOver          Name = "GAME_OVER"
	ResetProgressDone Name = "RESET_PROGRESS_DONE"
)

var known = map[Name]bool{
	CheckUsername:    true,
	CheckReconnect:   true,
	CreateRoom:       true,
	JoinRoom:         true,
	IsReady:          true,
	ChangeProgress:   true,
	ResetProgress:    true,
	IsWinnerDetected: true,
}

// Known reports whether a client may send name on either channel
func Known(name Name) bool {
	return known[name]
}

// Envelope is the frame exchanged over the websocket in both directions
type Envelope struct {
	Event     Name            `json:"event"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp *time.Time      `json:"timestamp,omitempty"`
}

// Encode marshals payload into an outbound envelope
func Encode(event Name, payload any, at time.Time) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Event: event, Data: data, Timestamp: &at})
}
