package rooms

import (
	"context"

	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/typerace/go/internal/events"
	"github.com/rs/zerolog/log"
)

// startCountdown must be called with room.mu held. The ticker is created
// before returning so the first tick is counted from the moment every
// member became ready.
func (s *Store) startCountdown(room *Room) {
	ctx, cancel := context.WithCancel(context.Background())
	now := s.clock.Now()

	room.round.phase = PhaseCountdown
	room.round.number++
	room.round.cancel = cancel

	s.bus.ToRoom(room.key, events.AllReady, true)
	s.bus.ToRoom(room.key, events.TimerStart, now.UnixMilli())

	ticker := s.clock.NewTicker(s.cfg.TickInterval)
	go s.runCountdown(ctx, room, ticker, s.cfg.CountdownSeconds)

	s.metrics.RoundStarted()
	log.Info().
		Str("room_key", room.key).
		Int("round", room.round.number).
		Int("members", len(room.members)).
		Msg("countdown started")
}

func (s *Store) runCountdown(ctx context.Context, room *Room, ticker clockwork.Ticker, remaining int) {
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Debug().Str("room_key", room.key).Msg("countdown stopped")
			return
		case <-ticker.Chan():
		}

		if done := s.tick(ctx, room, &remaining); done {
			return
		}
	}
}

// tick emits one countdown step under the room lock. It reports whether
// the countdown is over.
func (s *Store) tick(ctx context.Context, room *Room, remaining *int) bool {
	room.mu.Lock()
	defer room.mu.Unlock()

	// cancelled while waiting for the lock
	if ctx.Err() != nil {
		return true
	}

	*remaining--
	s.bus.ToRoom(room.key, events.TimerUpdate, *remaining)
	if *remaining > 0 {
		return false
	}

	text := s.texts.Next()
	room.round.phase = PhaseRacing
	room.round.text = text
	room.round.startedAt = s.clock.Now()
	s.bus.ToRoom(room.key, events.TimerEnd, text)

	log.Info().
		Str("room_key", room.key).
		Int("round", room.round.number).
		Msg("race started")
	return true
}
