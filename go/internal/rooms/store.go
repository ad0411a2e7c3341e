package rooms

import (
	"fmt"
	"strings"
	"sync"

	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/typerace/go/internal/broadcast"
	"github.com/mcdev12/typerace/go/internal/events"
	"github.com/mcdev12/typerace/go/internal/metrics"
	"github.com/mcdev12/typerace/go/internal/texts"
	"github.com/rs/zerolog/log"
)

// Store owns every room and the round state inside it.
//
// Lock order: a room's mu may be held while taking s.mu, never the other
// way round. listMu is taken alone.
type Store struct {
	cfg     Config
	bus     broadcast.Broadcaster
	texts   texts.Source
	clock   clockwork.Clock
	sink    ResultSink
	metrics metrics.Collector

	mu     sync.RWMutex
	rooms  map[string]*Room
	order  []string
	byConn map[string]string

	// serializes room list snapshots with their broadcast
	listMu sync.Mutex
}

func NewStore(cfg Config, bus broadcast.Broadcaster, source texts.Source, clock clockwork.Clock, sink ResultSink, m metrics.Collector) *Store {
	if cfg.CountdownSeconds <= 0 {
		cfg.CountdownSeconds = DefaultConfig().CountdownSeconds
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = DefaultConfig().TickInterval
	}
	if sink == nil {
		sink = NoopSink{}
	}
	if m == nil {
		m = metrics.NoOpCollector{}
	}
	return &Store{
		cfg:     cfg,
		bus:     bus,
		texts:   source,
		clock:   clock,
		sink:    sink,
		metrics: m,
		rooms:   make(map[string]*Room),
		byConn:  make(map[string]string),
	}
}

// CreateRoom adds an empty room. Names are unique ignoring case.
func (s *Store) CreateRoom(title string) (Summary, error) {
	id := strings.TrimSpace(title)
	if id == "" {
		return Summary{}, ErrEmptyName
	}
	key := Key(id)

	s.mu.Lock()
	if _, exists := s.rooms[key]; exists {
		s.mu.Unlock()
		return Summary{}, fmt.Errorf("create room %q: %w", id, ErrNameExists)
	}
	room := newRoom(id)
	s.rooms[key] = room
	s.order = append(s.order, key)
	s.mu.Unlock()

	s.metrics.RoomCreated()
	log.Info().Str("room_id", id).Str("room_key", key).Msg("room created")

	s.broadcastRooms()
	return Summary{ID: id, Users: []Member{}}, nil
}

// ListRooms returns every room in creation order
func (s *Store) ListRooms() []Summary {
	s.mu.RLock()
	rooms := make([]*Room, 0, len(s.order))
	for _, key := range s.order {
		rooms = append(rooms, s.rooms[key])
	}
	s.mu.RUnlock()

	out := make([]Summary, 0, len(rooms))
	for _, r := range rooms {
		r.mu.Lock()
		out = append(out, r.summary())
		r.mu.Unlock()
	}
	return out
}

// Len returns the number of rooms
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.rooms)
}

// RoomOf returns the key of the room connID is in
func (s *Store) RoomOf(connID string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	key, ok := s.byConn[connID]
	return key, ok
}

// JoinRoom moves connID into the room, leaving its current room first
func (s *Store) JoinRoom(roomID, connID, username string) (Summary, error) {
	key := Key(roomID)
	room := s.room(key)
	if room == nil {
		return Summary{}, fmt.Errorf("join room %q: %w", roomID, ErrRoomNotFound)
	}

	if current, ok := s.RoomOf(connID); ok {
		if current == key {
			return Summary{}, ErrAlreadyInRoom
		}
		s.LeaveRoom(connID)
	}

	room.mu.Lock()
	if room.member(connID) != nil {
		room.mu.Unlock()
		return Summary{}, ErrAlreadyInRoom
	}
	room.members = append(room.members, &Member{
		ConnID:   connID,
		Username: username,
	})
	s.mu.Lock()
	s.byConn[connID] = key
	s.mu.Unlock()

	s.bus.Join(connID, key)
	members := room.snapshot()
	s.bus.ToConnection(connID, events.GetRoomID, room.id)
	s.bus.ToRoom(key, events.UpdateUsersInRoom, members)
	s.bus.ToConnection(connID, events.JoinRoomDone, JoinDone{RoomID: room.id, UsersInRoom: members})
	summary := Summary{ID: room.id, Users: members}
	room.mu.Unlock()

	log.Info().
		Str("room_key", key).
		Str("connection_id", connID).
		Str("username", username).
		Int("members", len(members)).
		Msg("joined room")

	s.broadcastRooms()
	return summary, nil
}

// LeaveRoom removes connID from whatever room it is in. Rooms are kept even
// when they become empty.
func (s *Store) LeaveRoom(connID string) {
	s.mu.Lock()
	key, ok := s.byConn[connID]
	delete(s.byConn, connID)
	room := s.rooms[key]
	s.mu.Unlock()
	if !ok || room == nil {
		return
	}

	room.mu.Lock()
	if !room.removeMember(connID) {
		room.mu.Unlock()
		return
	}
	s.bus.Leave(connID, key)
	s.bus.ToRoom(key, events.UpdateUsersInRoom, room.snapshot())

	switch {
	case len(room.members) == 0 && (room.round.phase == PhaseCountdown || room.round.phase == PhaseRacing):
		s.cancelRound(room)
	case room.round.phase == PhaseWaiting && room.allReady():
		s.startCountdown(room)
	}
	remaining := len(room.members)
	room.mu.Unlock()

	log.Info().
		Str("room_key", key).
		Str("connection_id", connID).
		Int("members", remaining).
		Msg("left room")

	s.broadcastRooms()
}

// Shutdown stops every running countdown
func (s *Store) Shutdown() {
	s.mu.RLock()
	rooms := make([]*Room, 0, len(s.rooms))
	for _, r := range s.rooms {
		rooms = append(rooms, r)
	}
	s.mu.RUnlock()

	for _, r := range rooms {
		r.mu.Lock()
		if r.round.cancel != nil {
			r.round.cancel()
			r.round.cancel = nil
		}
		r.mu.Unlock()
	}
}

func (s *Store) room(key string) *Room {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.rooms[key]
}

// SendRooms sends the current room list to one connection. It shares
// listMu with broadcastRooms so a newer list is never overtaken.
func (s *Store) SendRooms(connID string) {
	s.listMu.Lock()
	defer s.listMu.Unlock()
	s.bus.ToConnection(connID, events.UpdateRooms, s.ListRooms())
}

// broadcastRooms sends the current room list to every game connection.
// Snapshot and enqueue happen under listMu so the list delivered last is
// never older than one delivered before it.
func (s *Store) broadcastRooms() {
	s.listMu.Lock()
	defer s.listMu.Unlock()
	s.bus.ToAll(events.UpdateRooms, s.ListRooms())
}
