package rooms

import (
	"fmt"
	"math"

	"github.com/mcdev12/typerace/go/internal/events"
	"github.com/rs/zerolog/log"
)

const maxProgress = events.MaxProgress

// ToggleReady flips the readiness of connID's member while the room is
// waiting and starts the countdown once every member is ready.
func (s *Store) ToggleReady(connID, roomID string) error {
	key := Key(roomID)
	room := s.room(key)
	if room == nil {
		return fmt.Errorf("toggle ready in %q: %w", roomID, ErrRoomNotFound)
	}

	room.mu.Lock()
	defer room.mu.Unlock()

	if room.round.phase != PhaseWaiting {
		return fmt.Errorf("toggle ready in %q during %s: %w", roomID, room.round.phase, ErrWrongPhase)
	}
	m := room.member(connID)
	if m == nil {
		return fmt.Errorf("toggle ready in %q: %w", roomID, ErrNotMember)
	}

	m.IsReady = !m.IsReady
	s.bus.ToRoom(key, events.UpdateUsersInRoom, room.snapshot())

	if room.allReady() {
		s.startCountdown(room)
	}
	return nil
}

// UpdateProgress records connID's progress during a race. The first member
// to reach 100 wins the round, which is then reset straight away.
func (s *Store) UpdateProgress(connID, roomID string, progress float64) error {
	key := Key(roomID)
	room := s.room(key)
	if room == nil {
		return fmt.Errorf("update progress in %q: %w", roomID, ErrRoomNotFound)
	}

	room.mu.Lock()
	if room.round.phase != PhaseRacing {
		phase := room.round.phase
		room.mu.Unlock()
		return fmt.Errorf("update progress in %q during %s: %w", roomID, phase, ErrWrongPhase)
	}
	m := room.member(connID)
	if m == nil {
		room.mu.Unlock()
		return fmt.Errorf("update progress in %q: %w", roomID, ErrNotMember)
	}

	m.Progress = clampProgress(progress)
	s.bus.ToRoom(key, events.UpdateUsersInRoom, room.snapshot())
	s.bus.ToRoom(key, events.UpdateProgress, ProgressUpdate{
		UserID:   m.ConnID,
		Username: m.Username,
		Progress: m.Progress,
	})

	if m.Progress < maxProgress {
		room.mu.Unlock()
		return nil
	}

	result := s.finishRound(room, m)
	s.resetRound(room)
	room.mu.Unlock()

	s.metrics.RoundFinished(result.Duration())
	s.sink.RoundFinished(result)
	return nil
}

// ResetRound zeroes every member's progress and readiness after a finished
// round. Rounds are reset by the server as soon as they finish, so a client
// asking for it afterwards gets ErrWrongPhase.
func (s *Store) ResetRound(roomID string) error {
	key := Key(roomID)
	room := s.room(key)
	if room == nil {
		return fmt.Errorf("reset round in %q: %w", roomID, ErrRoomNotFound)
	}

	room.mu.Lock()
	defer room.mu.Unlock()

	if room.round.phase != PhaseFinished {
		return fmt.Errorf("reset round in %q during %s: %w", roomID, room.round.phase, ErrWrongPhase)
	}
	s.resetRound(room)
	return nil
}

// Phase returns the round phase of a room
func (s *Store) Phase(roomID string) (Phase, error) {
	room := s.room(Key(roomID))
	if room == nil {
		return "", ErrRoomNotFound
	}
	room.mu.Lock()
	defer room.mu.Unlock()
	return room.round.phase, nil
}

// finishRound must be called with room.mu held
func (s *Store) finishRound(room *Room, winner *Member) RoundResult {
	room.round.phase = PhaseFinished
	if room.round.cancel != nil {
		room.round.cancel()
		room.round.cancel = nil
	}

	standings := Rank(room.snapshot())
	s.bus.ToRoom(room.key, events.GameOver, standings)

	result := RoundResult{
		RoomID:     room.id,
		RoomKey:    room.key,
		Round:      room.round.number,
		Winner:     *winner,
		Standings:  standings,
		TextLength: len([]rune(room.round.text)),
		StartedAt:  room.round.startedAt,
		FinishedAt: s.clock.Now(),
	}

	log.Info().
		Str("room_key", room.key).
		Int("round", room.round.number).
		Str("winner", winner.Username).
		Dur("duration", result.Duration()).
		Msg("round finished")

	return result
}

// resetRound must be called with room.mu held
func (s *Store) resetRound(room *Room) {
	for _, m := range room.members {
		m.Progress = 0
		m.IsReady = false
	}
	room.round.phase = PhaseWaiting
	room.round.text = ""

	members := room.snapshot()
	s.bus.ToRoom(room.key, events.ResetProgressDone, members)
	s.bus.ToRoom(room.key, events.UpdateUsersInRoom, members)
}

// cancelRound must be called with room.mu held
func (s *Store) cancelRound(room *Room) {
	if room.round.cancel != nil {
		room.round.cancel()
		room.round.cancel = nil
	}

	log.Info().
		Str("room_key", room.key).
		Int("round", room.round.number).
		Str("phase", string(room.round.phase)).
		Msg("round cancelled, room is empty")

	room.round.phase = PhaseWaiting
	room.round.text = ""
	s.metrics.RoundCancelled()
}

func clampProgress(p float64) float64 {
	switch {
	case math.IsNaN(p) || p < 0:
		return 0
	case p > maxProgress:
		return maxProgress
	default:
		return p
	}
}
