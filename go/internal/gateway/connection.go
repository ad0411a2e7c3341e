package gateway

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/mcdev12/typerace/go/internal/events"
	"github.com/mcdev12/typerace/go/internal/session"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

const unknownEventLabel = "unknown"

// Dispatcher handles the commands of one channel
type Dispatcher interface {
	Connected(c *Connection)
	Dispatch(c *Connection, env events.Envelope)
	Disconnected(c *Connection)
}

// Connection represents a WebSocket connection to a client
type Connection struct {
	ID          string
	Username    string
	Namespace   session.Namespace
	ConnectedAt time.Time

	conn          *websocket.Conn
	send          chan []byte
	done          chan struct{}
	closeOnce     sync.Once
	manager       *ConnectionManager
	dispatcher    Dispatcher
	limiter       *rate.Limiter
	finishLimiter *rate.Limiter // admits a finishing progress frame limiter turned away
}

// enqueue hands data to the write pump without blocking. It reports false
// when the send buffer is full.
func (c *Connection) enqueue(data []byte) bool {
	select {
	case <-c.done:
		return true
	default:
	}

	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

func (c *Connection) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.conn.Close()
	})
}

func (c *Connection) isClosed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// writePump handles sending messages to the WebSocket connection
func (c *Connection) writePump() {
	ticker := time.NewTicker(c.manager.config.PingInterval)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(c.manager.config.WriteTimeout))
			c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return

		case message := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(c.manager.config.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Debug().
					Err(err).
					Str("connection_id", c.ID).
					Msg("failed to write message to WebSocket")
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(c.manager.config.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Debug().
					Err(err).
					Str("connection_id", c.ID).
					Msg("failed to send ping")
				return
			}
		}
	}
}

// readPump processes inbound commands one at a time. It is the only place
// a connection is torn down, so the dispatcher sees exactly one disconnect.
func (c *Connection) readPump() {
	defer func() {
		c.close()
		if c.manager.unregisterConnection(c) {
			c.manager.metrics.ConnectionClosed(string(c.Namespace))
		}
		c.dispatcher.Disconnected(c)
	}()

	c.conn.SetReadLimit(c.manager.config.MaxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(c.manager.config.ReadTimeout))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(c.manager.config.ReadTimeout))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Warn().
					Err(err).
					Str("connection_id", c.ID).
					Msg("unexpected WebSocket close error")
			}
			return
		}

		c.handleClientMessage(message)
		c.conn.SetReadDeadline(time.Now().Add(c.manager.config.ReadTimeout))
	}
}

func (c *Connection) handleClientMessage(message []byte) {
	var env events.Envelope
	if err := json.Unmarshal(message, &env); err != nil || env.Event == "" {
		log.Debug().
			Err(err).
			Str("connection_id", c.ID).
			Msg("ignoring malformed client message")
		return
	}

	label := metricLabel(env.Event)
	if !c.limiter.Allow() && !(events.Completes(env) && c.finishLimiter.Allow()) {
		c.manager.metrics.EventRejected(label)
		log.Debug().
			Str("connection_id", c.ID).
			Str("event", string(env.Event)).
			Msg("client message rate limited")
		return
	}

	c.manager.metrics.EventReceived(label)
	c.dispatcher.Dispatch(c, env)
}

// metricLabel keeps client chosen names out of metric labels
func metricLabel(event events.Name) string {
	if !events.Known(event) {
		return unknownEventLabel
	}
	return string(event)
}
