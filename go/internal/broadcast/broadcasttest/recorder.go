// Package broadcasttest provides a Broadcaster that records every delivery
// for use in tests.
package broadcasttest

import (
	"encoding/json"
	"sort"
	"sync"

	"github.com/mcdev12/typerace/go/internal/events"
)

// Scope says how a delivery was addressed
type Scope string

const (
	ScopeRoom       Scope = "room"
	ScopeAll        Scope = "all"
	ScopeConnection Scope = "connection"
)

// Delivery is one recorded broadcast. Payload holds the JSON encoding taken
// at call time.
type Delivery struct {
	Scope      Scope
	Target     string
	Event      events.Name
	Payload    json.RawMessage
	Recipients []string
}

// Decode unmarshals the recorded payload into v
func (d Delivery) Decode(v any) error {
	return json.Unmarshal(d.Payload, v)
}

// Recorder implements broadcast.Broadcaster in memory
type Recorder struct {
	mu         sync.Mutex
	deliveries []Delivery
	groups     map[string]map[string]bool
}

// NewRecorder returns an empty Recorder
func NewRecorder() *Recorder {
	return &Recorder{groups: make(map[string]map[string]bool)}
}

func (r *Recorder) record(scope Scope, target string, event events.Name, payload any, recipients []string) {
	data, err := json.Marshal(payload)
	if err != nil {
		panic(err)
	}
	r.deliveries = append(r.deliveries, Delivery{
		Scope:      scope,
		Target:     target,
		Event:      event,
		Payload:    data,
		Recipients: recipients,
	})
}

func (r *Recorder) ToRoom(roomKey string, event events.Name, payload any) {
	r.mu.Lock()
	defer r.mu.Unlock()

	recipients := make([]string, 0, len(r.groups[roomKey]))
	for connID := range r.groups[roomKey] {
		recipients = append(recipients, connID)
	}
	sort.Strings(recipients)
	r.record(ScopeRoom, roomKey, event, payload, recipients)
}

func (r *Recorder) ToAll(event events.Name, payload any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.record(ScopeAll, "", event, payload, nil)
}

func (r *Recorder) ToConnection(connID string, event events.Name, payload any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.record(ScopeConnection, connID, event, payload, []string{connID})
}

func (r *Recorder) Join(connID, roomKey string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.groups[roomKey] == nil {
		r.groups[roomKey] = make(map[string]bool)
	}
	r.groups[roomKey][connID] = true
}

func (r *Recorder) Leave(connID, roomKey string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.groups[roomKey], connID)
}

// Deliveries returns a copy of everything recorded so far
func (r *Recorder) Deliveries() []Delivery {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Delivery, len(r.deliveries))
	copy(out, r.deliveries)
	return out
}

// Events returns the recorded event names in order
func (r *Recorder) Events() []events.Name {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]events.Name, 0, len(r.deliveries))
	for _, d := range r.deliveries {
		out = append(out, d.Event)
	}
	return out
}

// Filter returns the deliveries of one event in order
func (r *Recorder) Filter(event events.Name) []Delivery {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Delivery
	for _, d := range r.deliveries {
		if d.Event == event {
			out = append(out, d)
		}
	}
	return out
}

// Count returns how many times event was delivered
func (r *Recorder) Count(event events.Name) int {
	return len(r.Filter(event))
}

// Last returns the most recent delivery of event
func (r *Recorder) Last(event events.Name) (Delivery, bool) {
	matches := r.Filter(event)
	if len(matches) == 0 {
		return Delivery{}, false
	}
	return matches[len(matches)-1], true
}

// Members returns the connections currently joined to roomKey
func (r *Recorder) Members(roomKey string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.groups[roomKey]))
	for connID := range r.groups[roomKey] {
		out = append(out, connID)
	}
	sort.Strings(out)
	return out
}

// Reset forgets recorded deliveries but keeps group membership
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deliveries = nil
}
