package events

import "encoding/json"

// Payload types shared by the application layer and the gateway

// UsernamePayload is sent when a name claim or reconnect is accepted
type UsernamePayload struct {
	Username string `json:"username"`
}

// MessagePayload carries a user-facing error message
type MessagePayload struct {
	Message string `json:"message"`
}

// ReadyPayload is the body of IS_READY. Status is the legacy button label
// the browser client still sends; the server toggles regardless of it.
type ReadyPayload struct {
	Username     string `json:"username"`
	ActiveRoomID string `json:"activeRoomId"`
	Status       any    `json:"status,omitempty"`
}

// MaxProgress is the progress of a player who has typed the whole text
const MaxProgress = 100

// ProgressPayload is the body of CHANGE_PROGRESS
type ProgressPayload struct {
	Username     string  `json:"username"`
	ActiveRoomID string  `json:"activeRoomId"`
	Progress     float64 `json:"progress"`
}

// Completes reports whether env is a CHANGE_PROGRESS that finishes the text
func Completes(env Envelope) bool {
	if env.Event != ChangeProgress || len(env.Data) == 0 {
		return false
	}
	var p ProgressPayload
	if err := json.Unmarshal(env.Data, &p); err != nil {
		return false
	}
	return p.Progress >= MaxProgress
}

// RoomRefPayload is the body of RESET_PROGRESS and IS_WINNER_DETECTED
type RoomRefPayload struct {
	ActiveRoomID string `json:"activeRoomId"`
}
