package eventbus

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/typerace/go/internal/rooms"
	"github.com/rs/zerolog/log"
)

const (
	defaultQueueSize      = 256
	defaultPublishTimeout = 5 * time.Second
)

// ResultPublisher is a rooms.ResultSink that forwards finished rounds to a
// Publisher from its own goroutine. Room locks are held while results are
// handed over, so RoundFinished never blocks: a full queue drops.
type ResultPublisher struct {
	publisher Publisher
	clock     clockwork.Clock
	queue     chan Event
	timeout   time.Duration

	mu        sync.Mutex
	published uint64
	dropped   uint64
	failed    uint64
	lastSent  time.Time
}

func NewResultPublisher(publisher Publisher, clock clockwork.Clock, queueSize int) *ResultPublisher {
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	return &ResultPublisher{
		publisher: publisher,
		clock:     clock,
		queue:     make(chan Event, queueSize),
		timeout:   defaultPublishTimeout,
	}
}

func (p *ResultPublisher) RoundFinished(result rooms.RoundResult) {
	payload, err := json.Marshal(result)
	if err != nil {
		log.Error().Err(err).Str("room_key", result.RoomKey).Msg("failed to marshal round result")
		return
	}

	event := Event{
		ID:        uuid.New(),
		Type:      EventTypeRoundFinished,
		RoomKey:   result.RoomKey,
		Payload:   payload,
		CreatedAt: p.clock.Now(),
	}

	select {
	case p.queue <- event:
	default:
		p.mu.Lock()
		p.dropped++
		p.mu.Unlock()
		log.Warn().
			Str("room_key", result.RoomKey).
			Int("round", result.Round).
			Msg("result queue full, dropping round result")
	}
}

// Run publishes queued results until ctx is cancelled, then flushes what is
// left with a fresh timeout
func (p *ResultPublisher) Run(ctx context.Context) {
	log.Info().Msg("starting round result publisher")
	for {
		select {
		case <-ctx.Done():
			p.flush()
			log.Info().Msg("round result publisher stopped")
			return
		case event := <-p.queue:
			p.publish(context.Background(), event)
		}
	}
}

func (p *ResultPublisher) flush() {
	for {
		select {
		case event := <-p.queue:
			p.publish(context.Background(), event)
		default:
			return
		}
	}
}

func (p *ResultPublisher) publish(parent context.Context, event Event) {
	ctx, cancel := context.WithTimeout(parent, p.timeout)
	defer cancel()

	if err := p.publisher.Publish(ctx, event); err != nil {
		p.mu.Lock()
		p.failed++
		p.mu.Unlock()
		log.Error().
			Err(err).
			Str("event_id", event.ID.String()).
			Str("room_key", event.RoomKey).
			Msg("failed to publish round result")
		return
	}

	p.mu.Lock()
	p.published++
	p.lastSent = p.clock.Now()
	p.mu.Unlock()
}

// PublisherStats describes what the publisher has done so far
type PublisherStats struct {
	Published uint64    `json:"published"`
	Dropped   uint64    `json:"dropped"`
	Failed    uint64    `json:"failed"`
	Pending   int       `json:"pending"`
	LastSent  time.Time `json:"lastSent"`
}

func (p *ResultPublisher) Stats() PublisherStats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return PublisherStats{
		Published: p.published,
		Dropped:   p.dropped,
		Failed:    p.failed,
		Pending:   len(p.queue),
		LastSent:  p.lastSent,
	}
}
