package gateway

import (
	"encoding/json"

	"github.com/mcdev12/typerace/go/internal/events"
	"github.com/mcdev12/typerace/go/internal/race"
	"github.com/mcdev12/typerace/go/internal/session"
	"github.com/rs/zerolog/log"
)

// LoginDispatcher serves the identity channel
type LoginDispatcher struct {
	app *race.App
}

func NewLoginDispatcher(app *race.App) *LoginDispatcher {
	return &LoginDispatcher{app: app}
}

func (d *LoginDispatcher) Connected(c *Connection) {}

func (d *LoginDispatcher) Dispatch(c *Connection, env events.Envelope) {
	switch env.Event {
	case events.CheckUsername:
		// a missing name is answered like a short one
		var name string
		decode(c, env, &name)
		d.app.CheckUsername(c.ID, name)
	case events.CheckReconnect:
		var name string
		decode(c, env, &name)
		d.app.CheckReconnect(c.ID, name)
	default:
		unknownEvent(c, env)
	}
}

func (d *LoginDispatcher) Disconnected(c *Connection) {
	d.app.Disconnect(c.ID, session.NamespaceLogin)
}

// GameDispatcher serves the game channel
type GameDispatcher struct {
	app *race.App
}

func NewGameDispatcher(app *race.App) *GameDispatcher {
	return &GameDispatcher{app: app}
}

func (d *GameDispatcher) Connected(c *Connection) {
	d.app.ConnectGame(c.ID, c.Username)
}

func (d *GameDispatcher) Dispatch(c *Connection, env events.Envelope) {
	switch env.Event {
	case events.CreateRoom:
		var title string
		if decode(c, env, &title) {
			d.app.CreateRoom(c.ID, title)
		}
	case events.JoinRoom:
		var roomID string
		if decode(c, env, &roomID) {
			d.app.JoinRoom(c.ID, c.Username, roomID)
		}
	case events.IsReady:
		var p events.ReadyPayload
		if decode(c, env, &p) {
			d.app.ToggleReady(c.ID, p)
		}
	case events.ChangeProgress:
		var p events.ProgressPayload
		if decode(c, env, &p) {
			d.app.ChangeProgress(c.ID, p)
		}
	case events.ResetProgress:
		var p events.RoomRefPayload
		if decode(c, env, &p) {
			d.app.ResetProgress(c.ID, p)
		}
	case events.IsWinnerDetected:
		var p events.RoomRefPayload
		if decode(c, env, &p) {
			d.app.WinnerDetected(c.ID, p)
		}
	default:
		unknownEvent(c, env)
	}
}

func (d *GameDispatcher) Disconnected(c *Connection) {
	d.app.Disconnect(c.ID, session.NamespaceGame)
}

func decode(c *Connection, env events.Envelope, v any) bool {
	if len(env.Data) == 0 {
		log.Debug().Str("connection_id", c.ID).Str("event", string(env.Event)).Msg("missing event data")
		return false
	}
	if err := json.Unmarshal(env.Data, v); err != nil {
		log.Debug().
			Err(err).
			Str("connection_id", c.ID).
			Str("event", string(env.Event)).
			Msg("invalid event data")
		return false
	}
	return true
}

func unknownEvent(c *Connection, env events.Envelope) {
	log.Debug().
		Str("connection_id", c.ID).
		Str("namespace", string(c.Namespace)).
		Str("event", string(env.Event)).
		Msg("unknown event")
}
