package metrics

import (
	"sort"
	"sync"
	"time"
)

// Collector defines the interface for collecting server metrics
type Collector interface {
	ConnectionOpened(namespace string)
	ConnectionClosed(namespace string)
	EventReceived(event string)
	EventRejected(event string)
	RoomCreated()
	RoundStarted()
	RoundFinished(duration time.Duration)
	RoundCancelled()
}

// NoOpCollector is a no-op implementation for when metrics aren't needed
type NoOpCollector struct{}

func (NoOpCollector) ConnectionOpened(namespace string)    {}
func (NoOpCollector) ConnectionClosed(namespace string)    {}
func (NoOpCollector) EventReceived(event string)           {}
func (NoOpCollector) EventRejected(event string)           {}
func (NoOpCollector) RoomCreated()                         {}
func (NoOpCollector) RoundStarted()                        {}
func (NoOpCollector) RoundFinished(duration time.Duration) {}
func (NoOpCollector) RoundCancelled()                      {}

// Counters keeps every metric in memory
type Counters struct {
	mu                 sync.Mutex
	connectionsOpened  map[string]uint64
	connectionsClosed  map[string]uint64
	eventsReceived     map[string]uint64
	eventsRejected     map[string]uint64
	roomsCreated       uint64
	roundsStarted      uint64
	roundsFinished     uint64
	roundsCancelled    uint64
	roundDurationTotal time.Duration
}

func NewCounters() *Counters {
	return &Counters{
		connectionsOpened: make(map[string]uint64),
		connectionsClosed: make(map[string]uint64),
		eventsReceived:    make(map[string]uint64),
		eventsRejected:    make(map[string]uint64),
	}
}

func (c *Counters) ConnectionOpened(namespace string) {
	c.mu.Lock()
	c.connectionsOpened[namespace]++
	c.mu.Unlock()
}

func (c *Counters) ConnectionClosed(namespace string) {
	c.mu.Lock()
	c.connectionsClosed[namespace]++
	c.mu.Unlock()
}

func (c *Counters) EventReceived(event string) {
	c.mu.Lock()
	c.eventsReceived[event]++
	c.mu.Unlock()
}

func (c *Counters) EventRejected(event string) {
	c.mu.Lock()
	c.eventsRejected[event]++
	c.mu.Unlock()
}

func (c *Counters) RoomCreated() {
	c.mu.Lock()
	c.roomsCreated++
	c.mu.Unlock()
}

func (c *Counters) RoundStarted() {
	c.mu.Lock()
	c.roundsStarted++
	c.mu.Unlock()
}

func (c *Counters) RoundFinished(duration time.Duration) {
	c.mu.Lock()
	c.roundsFinished++
	c.roundDurationTotal += duration
	c.mu.Unlock()
}

func (c *Counters) RoundCancelled() {
	c.mu.Lock()
	c.roundsCancelled++
	c.mu.Unlock()
}

// Snapshot is a point in time copy of the counters
type Snapshot struct {
	ConnectionsOpened  map[string]uint64
	ConnectionsClosed  map[string]uint64
	EventsReceived     map[string]uint64
	EventsRejected     map[string]uint64
	RoomsCreated       uint64
	RoundsStarted      uint64
	RoundsFinished     uint64
	RoundsCancelled    uint64
	RoundDurationTotal time.Duration
}

func (c *Counters) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	return Snapshot{
		ConnectionsOpened:  copyMap(c.connectionsOpened),
		ConnectionsClosed:  copyMap(c.connectionsClosed),
		EventsReceived:     copyMap(c.eventsReceived),
		EventsRejected:     copyMap(c.eventsRejected),
		RoomsCreated:       c.roomsCreated,
		RoundsStarted:      c.roundsStarted,
		RoundsFinished:     c.roundsFinished,
		RoundsCancelled:    c.roundsCancelled,
		RoundDurationTotal: c.roundDurationTotal,
	}
}

func copyMap(in map[string]uint64) map[string]uint64 {
	out := make(map[string]uint64, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func sortedKeys(m map[string]uint64) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
