package gateway

import (
	"context"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"
)

// Service is the realtime gateway: it owns the websocket connections and
// the HTTP routes that expose them
type Service struct {
	connectionManager *ConnectionManager
	wsHandler         *WebSocketHandler
	health            *HealthChecker
}

func NewService(cm *ConnectionManager, wsHandler *WebSocketHandler, health *HealthChecker) *Service {
	return &Service{
		connectionManager: cm,
		wsHandler:         wsHandler,
		health:            health,
	}
}

// Start delivers outbound events until ctx is cancelled
func (s *Service) Start(ctx context.Context) {
	log.Info().Msg("starting gateway service")
	s.connectionManager.Start(ctx)
	log.Info().Msg("gateway service stopped")
}

// RegisterRoutes registers the WebSocket and health routes
func (s *Service) RegisterRoutes(router *mux.Router) {
	s.wsHandler.RegisterRoutes(router)
	router.Handle("/health", s.health).Methods("GET")
	log.Info().Msg("gateway routes registered")
}
