package gateway

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/typerace/go/internal/events"
	"github.com/mcdev12/typerace/go/internal/metrics"
	"github.com/mcdev12/typerace/go/internal/session"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

// ConnectionManager owns every websocket connection on both channels. It is
// the Broadcaster the room store talks to and the Presence the session
// registry asks about liveness.
type ConnectionManager struct {
	connections map[string]*Connection
	// room groups, kept in line with the room store through Join and Leave
	roomConnections map[string]map[*Connection]bool
	mu              sync.RWMutex

	upgrader websocket.Upgrader
	config   ConnectionConfig
	clock    clockwork.Clock
	metrics  metrics.Collector

	// every outbound message goes through this queue in call order
	broadcastCh chan BroadcastMessage
	stopped     chan struct{}
	stopOnce    sync.Once
}

// ConnectionConfig holds configuration for WebSocket connections
type ConnectionConfig struct {
	WriteTimeout    time.Duration
	ReadTimeout     time.Duration
	PingInterval    time.Duration
	MaxMessageSize  int64
	ReadBufferSize  int
	WriteBufferSize int
	SendBufferSize  int
	QueueSize       int
	EventsPerSecond float64
	EventBurst      int
	CheckOrigin     func(r *http.Request) bool
}

// BroadcastMessage is an encoded frame and the connections it was addressed
// to when it was sent
type BroadcastMessage struct {
	Event      events.Name
	Target     string
	Data       []byte
	Recipients []*Connection
}

// DefaultConnectionConfig returns default WebSocket configuration
func DefaultConnectionConfig() ConnectionConfig {
	return ConnectionConfig{
		WriteTimeout:    10 * time.Second,
		ReadTimeout:     60 * time.Second,
		PingInterval:    30 * time.Second,
		MaxMessageSize:  4096,
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		SendBufferSize:  256,
		QueueSize:       4096,
		EventsPerSecond: 40,
		EventBurst:      80,
		CheckOrigin: func(r *http.Request) bool {
			// Origins are enforced by the CORS layer
			return true
		},
	}
}

// NewConnectionManager creates a new WebSocket connection manager
func NewConnectionManager(config ConnectionConfig, clock clockwork.Clock, m metrics.Collector) *ConnectionManager {
	if m == nil {
		m = metrics.NoOpCollector{}
	}
	return &ConnectionManager{
		connections:     make(map[string]*Connection),
		roomConnections: make(map[string]map[*Connection]bool),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  config.ReadBufferSize,
			WriteBufferSize: config.WriteBufferSize,
			CheckOrigin:     config.CheckOrigin,
		},
		config:      config,
		clock:       clock,
		metrics:     m,
		broadcastCh: make(chan BroadcastMessage, config.QueueSize),
		stopped:     make(chan struct{}),
	}
}

// Start delivers queued messages until ctx is cancelled
func (cm *ConnectionManager) Start(ctx context.Context) {
	log.Info().Msg("connection manager started")
	defer cm.stopOnce.Do(func() { close(cm.stopped) })

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("connection manager shutting down")
			cm.closeAll()
			return
		case message := <-cm.broadcastCh:
			cm.handleBroadcast(message)
		}
	}
}

// UpgradeConnection upgrades an HTTP connection to WebSocket and hands it
// to dispatcher
func (cm *ConnectionManager) UpgradeConnection(w http.ResponseWriter, r *http.Request, ns session.Namespace, username string, dispatcher Dispatcher) error {
	conn, err := cm.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return fmt.Errorf("failed to upgrade connection: %w", err)
	}

	connection := &Connection{
		ID:            uuid.New().String(),
		Username:      username,
		Namespace:     ns,
		ConnectedAt:   cm.clock.Now(),
		conn:          conn,
		send:          make(chan []byte, cm.config.SendBufferSize),
		done:          make(chan struct{}),
		manager:       cm,
		dispatcher:    dispatcher,
		limiter:       rate.NewLimiter(rate.Limit(cm.config.EventsPerSecond), cm.config.EventBurst),
		finishLimiter: rate.NewLimiter(rate.Every(time.Second), 1),
	}

	cm.registerConnection(connection)
	cm.metrics.ConnectionOpened(string(ns))
	dispatcher.Connected(connection)

	go connection.writePump()
	go connection.readPump()

	log.Info().
		Str("connection_id", connection.ID).
		Str("namespace", string(ns)).
		Str("username", username).
		Msg("WebSocket connection established")

	return nil
}

func (cm *ConnectionManager) registerConnection(conn *Connection) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	cm.connections[conn.ID] = conn

	log.Debug().
		Str("connection_id", conn.ID).
		Int("total_connections", len(cm.connections)).
		Msg("connection registered")
}

func (cm *ConnectionManager) unregisterConnection(conn *Connection) bool {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	if _, exists := cm.connections[conn.ID]; !exists {
		return false
	}
	delete(cm.connections, conn.ID)
	for key, group := range cm.roomConnections {
		if group[conn] {
			delete(group, conn)
			if len(group) == 0 {
				delete(cm.roomConnections, key)
			}
		}
	}

	log.Info().
		Str("connection_id", conn.ID).
		Str("username", conn.Username).
		Str("namespace", string(conn.Namespace)).
		Msg("connection unregistered")
	return true
}

// IsConnected reports whether connID is registered and still open
func (cm *ConnectionManager) IsConnected(connID string) bool {
	cm.mu.RLock()
	conn, ok := cm.connections[connID]
	cm.mu.RUnlock()
	return ok && !conn.isClosed()
}

func (cm *ConnectionManager) Join(connID, roomKey string) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	conn, ok := cm.connections[connID]
	if !ok {
		return
	}
	if cm.roomConnections[roomKey] == nil {
		cm.roomConnections[roomKey] = make(map[*Connection]bool)
	}
	cm.roomConnections[roomKey][conn] = true
}

func (cm *ConnectionManager) Leave(connID, roomKey string) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	group, ok := cm.roomConnections[roomKey]
	if !ok {
		return
	}
	for conn := range group {
		if conn.ID == connID {
			delete(group, conn)
		}
	}
	if len(group) == 0 {
		delete(cm.roomConnections, roomKey)
	}
}

func (cm *ConnectionManager) ToRoom(roomKey string, event events.Name, payload any) {
	cm.mu.RLock()
	recipients := make([]*Connection, 0, len(cm.roomConnections[roomKey]))
	for conn := range cm.roomConnections[roomKey] {
		recipients = append(recipients, conn)
	}
	cm.mu.RUnlock()

	cm.enqueue(event, roomKey, payload, recipients)
}

func (cm *ConnectionManager) ToAll(event events.Name, payload any) {
	cm.mu.RLock()
	recipients := make([]*Connection, 0, len(cm.connections))
	for _, conn := range cm.connections {
		if conn.Namespace == session.NamespaceGame {
			recipients = append(recipients, conn)
		}
	}
	cm.mu.RUnlock()

	cm.enqueue(event, "*", payload, recipients)
}

func (cm *ConnectionManager) ToConnection(connID string, event events.Name, payload any) {
	cm.mu.RLock()
	conn, ok := cm.connections[connID]
	cm.mu.RUnlock()
	if !ok {
		log.Debug().Str("connection_id", connID).Str("event", string(event)).Msg("dropping message for unknown connection")
		return
	}

	cm.enqueue(event, connID, payload, []*Connection{conn})
}

// enqueue encodes payload now so later mutations by the caller do not leak
// into the frame
func (cm *ConnectionManager) enqueue(event events.Name, target string, payload any, recipients []*Connection) {
	if len(recipients) == 0 {
		return
	}

	data, err := events.Encode(event, payload, cm.clock.Now())
	if err != nil {
		log.Error().Err(err).Str("event", string(event)).Msg("failed to marshal event for broadcast")
		return
	}

	select {
	case cm.broadcastCh <- BroadcastMessage{Event: event, Target: target, Data: data, Recipients: recipients}:
	case <-cm.stopped:
	}
}

func (cm *ConnectionManager) handleBroadcast(message BroadcastMessage) {
	for _, conn := range message.Recipients {
		if !conn.enqueue(message.Data) {
			log.Warn().
				Str("connection_id", conn.ID).
				Str("username", conn.Username).
				Msg("connection send buffer full, closing connection")
			conn.close()
		}
	}

	log.Debug().
		Str("event", string(message.Event)).
		Str("target", message.Target).
		Int("connections", len(message.Recipients)).
		Msg("event broadcasted")
}

func (cm *ConnectionManager) closeAll() {
	cm.mu.RLock()
	conns := make([]*Connection, 0, len(cm.connections))
	for _, conn := range cm.connections {
		conns = append(conns, conn)
	}
	cm.mu.RUnlock()

	for _, conn := range conns {
		conn.close()
	}
}

// ConnectionStats describes the open connections
type ConnectionStats struct {
	TotalConnections int            `json:"total_connections"`
	LoginConnections int            `json:"login_connections"`
	GameConnections  int            `json:"game_connections"`
	ActiveRooms      int            `json:"active_rooms"`
	RoomConnections  map[string]int `json:"room_connections"`
}

func (cm *ConnectionManager) GetConnectionStats() ConnectionStats {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	stats := ConnectionStats{
		TotalConnections: len(cm.connections),
		ActiveRooms:      len(cm.roomConnections),
		RoomConnections:  make(map[string]int, len(cm.roomConnections)),
	}
	for _, conn := range cm.connections {
		switch conn.Namespace {
		case session.NamespaceLogin:
			stats.LoginConnections++
		case session.NamespaceGame:
			stats.GameConnections++
		}
	}
	for key, group := range cm.roomConnections {
		stats.RoomConnections[key] = len(group)
	}
	return stats
}
