package rooms

import (
	"context"
	"strings"
	"time"
)

// Phase is the state of a room's current round
type Phase string

const (
	PhaseWaiting   Phase = "waiting"
	PhaseCountdown Phase = "countdown"
	PhaseRacing    Phase = "racing"
	PhaseFinished  Phase = "finished"
)

// Member is a player inside a room. The JSON shape is what clients render.
type Member struct {
	ConnID   string  `json:"userId"`
	Username string  `json:"username"`
	IsReady  bool    `json:"isReady"`
	Progress float64 `json:"progress"`
}

// Summary is the public view of a room
type Summary struct {
	ID    string   `json:"roomId"`
	Users []Member `json:"users"`
}

func (s Summary) MemberCount() int {
	return len(s.Users)
}

// JoinDone is sent to a connection once it has joined a room
type JoinDone struct {
	RoomID      string   `json:"roomId"`
	UsersInRoom []Member `json:"usersInRoom"`
}

// ProgressUpdate is broadcast for every accepted progress report
type ProgressUpdate struct {
	UserID   string  `json:"userId"`
	Username string  `json:"username"`
	Progress float64 `json:"progress"`
}

// RoundResult describes a finished round
type RoundResult struct {
	RoomID     string    `json:"roomId"`
	RoomKey    string    `json:"roomKey"`
	Round      int       `json:"round"`
	Winner     Member    `json:"winner"`
	Standings  []Member  `json:"standings"`
	TextLength int       `json:"textLength"`
	StartedAt  time.Time `json:"startedAt"`
	FinishedAt time.Time `json:"finishedAt"`
}

func (r RoundResult) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// ResultSink receives finished rounds. Implementations must not block.
type ResultSink interface {
	RoundFinished(result RoundResult)
}

// NoopSink discards results
type NoopSink struct{}

func (NoopSink) RoundFinished(RoundResult) {}

// Config holds round timing
type Config struct {
	CountdownSeconds int
	TickInterval     time.Duration
}

func DefaultConfig() Config {
	return Config{
		CountdownSeconds: 5,
		TickInterval:     time.Second,
	}
}

type round struct {
	phase     Phase
	number    int
	text      string
	startedAt time.Time
	cancel    context.CancelFunc
}

// Key normalizes a room id for lookups
func Key(roomID string) string {
	return strings.ToLower(strings.TrimSpace(roomID))
}
