package broadcast

import "github.com/mcdev12/typerace/go/internal/events"

// Broadcaster fans events out to connected clients. Implementations must
// deliver in call order per room and per connection, and must snapshot the
// payload when called: callers may mutate it afterwards.
type Broadcaster interface {
	// ToRoom sends to every connection currently joined to roomKey
	ToRoom(roomKey string, event events.Name, payload any)
	// ToAll sends to every game channel connection
	ToAll(event events.Name, payload any)
	// ToConnection sends to a single connection
	ToConnection(connID string, event events.Name, payload any)

	// Join and Leave keep the transport's room groups in line with the
	// room store, which owns membership
	Join(connID, roomKey string)
	Leave(connID, roomKey string)
}
