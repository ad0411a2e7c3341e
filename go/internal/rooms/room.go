package rooms

import "sync"

// Room is one named race room. mu serializes every membership and round
// mutation for the room, including countdown ticks.
type Room struct {
	mu      sync.Mutex
	id      string
	key     string
	members []*Member
	round   round
}

func newRoom(id string) *Room {
	return &Room{
		id:    id,
		key:   Key(id),
		round: round{phase: PhaseWaiting},
	}
}

// The methods below must be called with r.mu held

func (r *Room) member(connID string) *Member {
	for _, m := range r.members {
		if m.ConnID == connID {
			return m
		}
	}
	return nil
}

func (r *Room) removeMember(connID string) bool {
	for i, m := range r.members {
		if m.ConnID == connID {
			r.members = append(r.members[:i], r.members[i+1:]...)
			return true
		}
	}
	return false
}

func (r *Room) allReady() bool {
	if len(r.members) == 0 {
		return false
	}
	for _, m := range r.members {
		if !m.IsReady {
			return false
		}
	}
	return true
}

// snapshot copies the members so callers can hand them out freely
func (r *Room) snapshot() []Member {
	out := make([]Member, len(r.members))
	for i, m := range r.members {
		out[i] = *m
	}
	return out
}

func (r *Room) summary() Summary {
	return Summary{ID: r.id, Users: r.snapshot()}
}
