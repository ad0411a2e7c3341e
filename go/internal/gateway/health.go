package gateway

import (
	"net/http"
)

type HealthStatus struct {
	Healthy       bool     `json:"healthy"`
	Connections   int      `json:"connections"`
	Rooms         int      `json:"rooms"`
	Sessions      int      `json:"sessions"`
	NATSEnabled   bool     `json:"nats_enabled"`
	NATSConnected bool     `json:"nats_connected"`
	Errors        []string `json:"errors"`
}

// Counter is anything that can report its size
type Counter interface {
	Len() int
}

// Connectivity reports the state of an outbound connection
type Connectivity interface {
	IsConnected() bool
}

type HealthChecker struct {
	connections *ConnectionManager
	rooms       Counter
	sessions    Counter
	nats        Connectivity
}

// NewHealthChecker builds a checker. nats may be nil when publishing is off.
func NewHealthChecker(cm *ConnectionManager, rooms, sessions Counter, nats Connectivity) *HealthChecker {
	return &HealthChecker{
		connections: cm,
		rooms:       rooms,
		sessions:    sessions,
		nats:        nats,
	}
}

func (h *HealthChecker) Check() HealthStatus {
	status := HealthStatus{
		Healthy:     true,
		Connections: h.connections.GetConnectionStats().TotalConnections,
		Rooms:       h.rooms.Len(),
		Sessions:    h.sessions.Len(),
		Errors:      []string{},
	}

	if h.nats != nil {
		status.NATSEnabled = true
		status.NATSConnected = h.nats.IsConnected()
		if !status.NATSConnected {
			status.Healthy = false
			status.Errors = append(status.Errors, "NATS disconnected")
		}
	}

	return status
}

func (h *HealthChecker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	status := h.Check()

	code := http.StatusOK
	if !status.Healthy {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, status)
}
