package session

import (
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

const (
	MinNameLength = 2
	MaxNameLength = 20
)

// Namespace is the channel a connection was opened on
type Namespace string

const (
	NamespaceLogin Namespace = "login"
	NamespaceGame  Namespace = "game"
)

// Presence reports whether a connection is still open
type Presence interface {
	IsConnected(connID string) bool
}

// Binding ties a display name to the connection that currently holds it
type Binding struct {
	ConnID      string
	Username    string
	Namespace   Namespace
	ConnectedAt time.Time
}

// Registry tracks which connection holds which display name. Names are
// compared case-insensitively and at most one live connection holds a name.
type Registry struct {
	mu       sync.Mutex
	byName   map[string]Binding
	byConn   map[string]string
	presence Presence
	clock    clockwork.Clock
}

// NewRegistry creates an empty registry
func NewRegistry(presence Presence, clock clockwork.Clock) *Registry {
	return &Registry{
		byName:   make(map[string]Binding),
		byConn:   make(map[string]string),
		presence: presence,
		clock:    clock,
	}
}

// Claim binds name to connID if no other live connection holds it.
// It returns the trimmed name.
func (r *Registry) Claim(name, connID string, ns Namespace) (string, error) {
	trimmed := strings.TrimSpace(name)
	if err := ValidateName(trimmed); err != nil {
		return "", err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.heldElsewhere(trimmed, connID) {
		return "", fmt.Errorf("claim %q: %w", trimmed, ErrNameTaken)
	}

	r.bind(trimmed, connID, ns)
	return trimmed, nil
}

// Reconnect lets a client reuse a name it held before, for example across
// page navigation. It is denied when a different live connection holds it.
func (r *Registry) Reconnect(name, connID string, ns Namespace) (string, error) {
	trimmed := strings.TrimSpace(name)
	if ValidateName(trimmed) != nil {
		return "", ErrInvalidSession
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.heldElsewhere(trimmed, connID) {
		return "", fmt.Errorf("reconnect %q: %w", trimmed, ErrNameInUse)
	}

	r.bind(trimmed, connID, ns)
	return trimmed, nil
}

// Attach binds the name a game connection carries as metadata. The name was
// validated on the identity channel, so the binding is taken over
// unconditionally.
func (r *Registry) Attach(name, connID string, ns Namespace) string {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return ""
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if prev, ok := r.byName[strings.ToLower(trimmed)]; ok && prev.ConnID != connID {
		log.Debug().
			Str("username", trimmed).
			Str("previous_connection_id", prev.ConnID).
			Str("connection_id", connID).
			Msg("name taken over by game connection")
	}
	r.bind(trimmed, connID, ns)
	return trimmed
}

// Release drops the binding held by connID. Safe to call more than once.
func (r *Registry) Release(connID string) (Binding, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key, ok := r.byConn[connID]
	if !ok {
		return Binding{}, false
	}
	delete(r.byConn, connID)

	b, ok := r.byName[key]
	if !ok || b.ConnID != connID {
		return Binding{}, false
	}
	delete(r.byName, key)
	return b, true
}

// Find returns the connection holding name
func (r *Registry) Find(name string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	b, ok := r.byName[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return "", false
	}
	return b.ConnID, true
}

// NameOf returns the display name bound to connID
func (r *Registry) NameOf(connID string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key, ok := r.byConn[connID]
	if !ok {
		return "", false
	}
	b, ok := r.byName[key]
	if !ok || b.ConnID != connID {
		return "", false
	}
	return b.Username, true
}

// Len returns the number of bound names
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byName)
}

// heldElsewhere must be called with r.mu held
func (r *Registry) heldElsewhere(name, connID string) bool {
	b, ok := r.byName[strings.ToLower(name)]
	if !ok || b.ConnID == connID {
		return false
	}
	return r.presence.IsConnected(b.ConnID)
}

// bind must be called with r.mu held
func (r *Registry) bind(name, connID string, ns Namespace) {
	key := strings.ToLower(name)

	// A connection holds one name: drop whatever it held before
	if prevKey, ok := r.byConn[connID]; ok && prevKey != key {
		if b, ok := r.byName[prevKey]; ok && b.ConnID == connID {
			delete(r.byName, prevKey)
		}
	}
	// The previous holder of this name, if any, loses its reverse entry
	if prev, ok := r.byName[key]; ok && prev.ConnID != connID {
		delete(r.byConn, prev.ConnID)
	}

	r.byName[key] = Binding{
		ConnID:      connID,
		Username:    name,
		Namespace:   ns,
		ConnectedAt: r.clock.Now(),
	}
	r.byConn[connID] = key
}

// ValidateName checks the length rules for an already trimmed name
func ValidateName(name string) error {
	n := utf8.RuneCountInString(name)
	if n < MinNameLength {
		return ErrNameTooShort
	}
	if n > MaxNameLength {
		return ErrNameTooLong
	}
	return nil
}
