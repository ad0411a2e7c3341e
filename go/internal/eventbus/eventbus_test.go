package eventbus

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/typerace/go/internal/rooms"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockPublisher struct {
	mock.Mock
}

func (m *MockPublisher) Publish(ctx context.Context, event Event) error {
	args := m.Called(ctx, event)
	return args.Error(0)
}

func TestBuildMsg(t *testing.T) {
	id := uuid.New()
	at := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	msg, err := buildMsg("typerace.events", Event{
		ID:        id,
		Type:      EventTypeRoundFinished,
		RoomKey:   "r1",
		Payload:   json.RawMessage(`{"round":2}`),
		CreatedAt: at,
	})
	require.NoError(t, err)

	assert.Equal(t, "typerace.events.round_finished", msg.Subject)
	assert.Equal(t, EventTypeRoundFinished, msg.Header.Get("Event-Type"))
	assert.Equal(t, "r1", msg.Header.Get("Room-Key"))
	assert.Equal(t, id.String(), msg.Header.Get("Event-ID"))

	var body struct {
		EventID   string          `json:"eventId"`
		EventType string          `json:"eventType"`
		RoomKey   string          `json:"roomKey"`
		Timestamp time.Time       `json:"timestamp"`
		Payload   json.RawMessage `json:"payload"`
	}
	require.NoError(t, json.Unmarshal(msg.Data, &body))
	assert.Equal(t, id.String(), body.EventID)
	assert.Equal(t, "r1", body.RoomKey)
	assert.True(t, at.Equal(body.Timestamp))
	assert.JSONEq(t, `{"round":2}`, string(body.Payload))
}

func TestIsStreamConfigEqual(t *testing.T) {
	p := &JetStreamPublisher{config: DefaultJetStreamConfig()}
	a := p.streamConfig()
	b := p.streamConfig()
	assert.True(t, isStreamConfigEqual(a, b))

	b.Subjects = []string{"other.>"}
	assert.False(t, isStreamConfigEqual(a, b))

	c := p.streamConfig()
	c.MaxAge = time.Hour
	assert.False(t, isStreamConfigEqual(a, c))

	assert.Equal(t, []string{"typerace.events.>"}, a.Subjects)
	assert.Equal(t, jetstream.FileStorage, a.Storage)
}

func TestResultPublisher(t *testing.T) {
	clock := clockwork.NewFakeClock()
	pub := &MockPublisher{}
	pub.On("Publish", mock.Anything, mock.MatchedBy(func(e Event) bool {
		return e.Type == EventTypeRoundFinished && e.RoomKey == "r1"
	})).Return(nil).Once()

	rp := NewResultPublisher(pub, clock, 4)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		rp.Run(ctx)
		close(done)
	}()

	rp.RoundFinished(rooms.RoundResult{
		RoomID:  "R1",
		RoomKey: "r1",
		Round:   1,
		Winner:  rooms.Member{ConnID: "c1", Username: "bob", Progress: 100},
	})

	require.Eventually(t, func() bool {
		return rp.Stats().Published == 1
	}, time.Second, time.Millisecond)

	cancel()
	<-done

	pub.AssertExpectations(t)
	event := pub.Calls[0].Arguments.Get(1).(Event)
	var result rooms.RoundResult
	require.NoError(t, json.Unmarshal(event.Payload, &result))
	assert.Equal(t, "bob", result.Winner.Username)
	assert.Equal(t, clock.Now(), rp.Stats().LastSent)
}

func TestResultPublisherFailuresAndDrops(t *testing.T) {
	pub := &MockPublisher{}
	pub.On("Publish", mock.Anything, mock.Anything).Return(assert.AnError)

	rp := NewResultPublisher(pub, clockwork.NewFakeClock(), 1)

	// nothing drains the queue yet: the second result is dropped
	rp.RoundFinished(rooms.RoundResult{RoomKey: "r1", Round: 1})
	rp.RoundFinished(rooms.RoundResult{RoomKey: "r1", Round: 2})
	assert.Equal(t, uint64(1), rp.Stats().Dropped)
	assert.Equal(t, 1, rp.Stats().Pending)

	// a cancelled run still flushes what was queued
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	rp.Run(ctx)

	stats := rp.Stats()
	assert.Equal(t, uint64(1), stats.Failed)
	assert.Equal(t, uint64(0), stats.Published)
	assert.Equal(t, 0, stats.Pending)
}
