package race

import (
	"errors"
	"fmt"
	"strings"

	"github.com/mcdev12/typerace/go/internal/broadcast"
	"github.com/mcdev12/typerace/go/internal/events"
	"github.com/mcdev12/typerace/go/internal/rooms"
	"github.com/mcdev12/typerace/go/internal/session"
	"github.com/rs/zerolog/log"
)

const (
	msgNameTooShort   = "Username must be at least 2 characters."
	msgNameTooLong    = "Username must be at most 20 characters."
	msgNameTaken      = "This username is already taken by another player. Please choose a different one."
	msgInvalidSession = "Invalid session. Please login again."
	msgEmptyRoomName  = "Room name cannot be empty."
)

func msgNameInUse(name string) string {
	return fmt.Sprintf("User \"%s\" is already connected from another session. You have been logged out.", name)
}

func msgRoomExists(name string) string {
	return fmt.Sprintf("Room \"%s\" already exists. Please choose a different name.", name)
}

// App maps channel commands onto the session registry and the room store
// and answers the caller with user-facing errors.
type App struct {
	registry *session.Registry
	store    *rooms.Store
	bus      broadcast.Broadcaster
}

func NewApp(registry *session.Registry, store *rooms.Store, bus broadcast.Broadcaster) *App {
	return &App{
		registry: registry,
		store:    store,
		bus:      bus,
	}
}

// CheckUsername claims a display name for a login connection
func (a *App) CheckUsername(connID, name string) {
	claimed, err := a.registry.Claim(name, connID, session.NamespaceLogin)
	if err != nil {
		var msg string
		switch {
		case errors.Is(err, session.ErrNameTooShort):
			msg = msgNameTooShort
		case errors.Is(err, session.ErrNameTooLong):
			msg = msgNameTooLong
		default:
			msg = msgNameTaken
		}
		log.Debug().Err(err).Str("connection_id", connID).Msg("username rejected")
		a.bus.ToConnection(connID, events.UsernameError, events.MessagePayload{Message: msg})
		return
	}

	log.Info().Str("connection_id", connID).Str("username", claimed).Msg("username claimed")
	a.bus.ToConnection(connID, events.UsernameValid, events.UsernamePayload{Username: claimed})
}

// CheckReconnect lets a returning client keep its display name
func (a *App) CheckReconnect(connID, name string) {
	claimed, err := a.registry.Reconnect(name, connID, session.NamespaceLogin)
	if err != nil {
		msg := msgInvalidSession
		if errors.Is(err, session.ErrNameInUse) {
			msg = msgNameInUse(strings.TrimSpace(name))
		}
		log.Debug().Err(err).Str("connection_id", connID).Msg("reconnect denied")
		a.bus.ToConnection(connID, events.ReconnectDenied, events.MessagePayload{Message: msg})
		return
	}

	a.bus.ToConnection(connID, events.ReconnectAllowed, events.UsernamePayload{Username: claimed})
}

// ConnectGame binds the name a game connection was opened with and sends
// it the current room list
func (a *App) ConnectGame(connID, username string) {
	if name := a.registry.Attach(username, connID, session.NamespaceGame); name != "" {
		log.Debug().Str("connection_id", connID).Str("username", name).Msg("game connection bound to username")
	}
	a.store.SendRooms(connID)
}

func (a *App) CreateRoom(connID, title string) {
	summary, err := a.store.CreateRoom(title)
	switch {
	case errors.Is(err, rooms.ErrEmptyName):
		a.bus.ToConnection(connID, events.RoomError, events.MessagePayload{Message: msgEmptyRoomName})
	case errors.Is(err, rooms.ErrNameExists):
		a.bus.ToConnection(connID, events.RoomExists, events.MessagePayload{Message: msgRoomExists(strings.TrimSpace(title))})
	case err != nil:
		log.Error().Err(err).Str("connection_id", connID).Msg("failed to create room")
	default:
		a.bus.ToConnection(connID, events.RoomCreated, summary.ID)
	}
}

func (a *App) JoinRoom(connID, username, roomID string) {
	if name, ok := a.registry.NameOf(connID); ok {
		username = name
	}
	_, err := a.store.JoinRoom(roomID, connID, username)
	a.ignore(err, events.JoinRoom, connID)
}

func (a *App) ToggleReady(connID string, p events.ReadyPayload) {
	err := a.store.ToggleReady(connID, a.roomID(connID, p.ActiveRoomID))
	a.ignore(err, events.IsReady, connID)
}

func (a *App) ChangeProgress(connID string, p events.ProgressPayload) {
	err := a.store.UpdateProgress(connID, a.roomID(connID, p.ActiveRoomID), p.Progress)
	a.ignore(err, events.ChangeProgress, connID)
}

func (a *App) ResetProgress(connID string, p events.RoomRefPayload) {
	err := a.store.ResetRound(a.roomID(connID, p.ActiveRoomID))
	a.ignore(err, events.ResetProgress, connID)
}

// WinnerDetected is sent by older clients. Completion is detected when
// progress reaches 100, so it is ignored.
func (a *App) WinnerDetected(connID string, p events.RoomRefPayload) {
	log.Debug().
		Str("connection_id", connID).
		Str("room_id", p.ActiveRoomID).
		Msg("ignoring client winner notification")
}

// Disconnect cleans up after a closed connection. A game connection leaves
// its room first. Either way the name is released; the game page binds it
// again with Attach when it connects.
func (a *App) Disconnect(connID string, ns session.Namespace) {
	if ns == session.NamespaceGame {
		a.store.LeaveRoom(connID)
	}

	if b, ok := a.registry.Release(connID); ok {
		log.Info().
			Str("connection_id", connID).
			Str("namespace", string(ns)).
			Str("username", b.Username).
			Msg("username released")
	}
}

// roomID falls back to the room the connection is in when the client did
// not say
func (a *App) roomID(connID, given string) string {
	if strings.TrimSpace(given) != "" {
		return given
	}
	key, _ := a.store.RoomOf(connID)
	return key
}

func (a *App) ignore(err error, event events.Name, connID string) {
	if err == nil {
		return
	}
	log.Debug().
		Err(err).
		Str("event", string(event)).
		Str("connection_id", connID).
		Msg("command ignored")
}
