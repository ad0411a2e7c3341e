package main

import (
	"context"
	"fmt"
	"sync"

	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/typerace/go/internal/eventbus"
	"github.com/mcdev12/typerace/go/internal/gateway"
	"github.com/mcdev12/typerace/go/internal/metrics"
	"github.com/mcdev12/typerace/go/internal/race"
	"github.com/mcdev12/typerace/go/internal/rooms"
	"github.com/mcdev12/typerace/go/internal/session"
	"github.com/mcdev12/typerace/go/internal/texts"
	"github.com/rs/zerolog/log"
)

type Services struct {
	Gateway   *gateway.Service
	Store     *rooms.Store
	Registry  *session.Registry
	Metrics   *metrics.PrometheusExporter
	Results   *eventbus.ResultPublisher
	publisher *eventbus.JetStreamPublisher
	wg        sync.WaitGroup
}

func setupServices(ctx context.Context, cfg *Config) (*Services, error) {
	// Wire up dependency injection chain
	// Transport → Session registry + Room store → App → Dispatchers
	clock := clockwork.NewRealClock()
	counters := metrics.NewCounters()

	passages, err := cfg.loadPassages()
	if err != nil {
		return nil, fmt.Errorf("failed to load race texts: %w", err)
	}
	source := texts.NewSource(passages, cfg.RaceTextMode, nil)

	services := &Services{}

	var sink rooms.ResultSink = rooms.NoopSink{}
	var natsHealth gateway.Connectivity
	if cfg.NATS.Enabled() {
		jsCfg := eventbus.DefaultJetStreamConfig()
		jsCfg.URL = cfg.NATS.URL
		jsCfg.StreamName = cfg.NATS.StreamName
		jsCfg.SubjectPrefix = cfg.NATS.SubjectPrefix

		publisher, err := eventbus.NewJetStreamPublisher(ctx, jsCfg)
		if err != nil {
			return nil, fmt.Errorf("failed to create JetStream publisher: %w", err)
		}
		services.publisher = publisher
		services.Results = eventbus.NewResultPublisher(publisher, clock, 0)
		sink = services.Results
		natsHealth = publisher

		log.Info().
			Str("nats_url", jsCfg.URL).
			Str("stream", jsCfg.StreamName).
			Msg("round results will be published")
	}

	connCfg := gateway.DefaultConnectionConfig()
	connCfg.EventsPerSecond = cfg.EventsPerSecond
	connCfg.EventBurst = cfg.EventBurst
	connectionManager := gateway.NewConnectionManager(connCfg, clock, counters)

	registry := session.NewRegistry(connectionManager, clock)
	store := rooms.NewStore(rooms.DefaultConfig(), connectionManager, source, clock, sink, counters)
	app := race.NewApp(registry, store, connectionManager)

	wsHandler := gateway.NewWebSocketHandler(
		connectionManager,
		gateway.NewLoginDispatcher(app),
		gateway.NewGameDispatcher(app),
		store,
	)
	health := gateway.NewHealthChecker(connectionManager, store, registry, natsHealth)

	exporter := metrics.NewPrometheusExporter(counters)
	exporter.AddGauge("typerace_rooms", "Rooms currently open", func() float64 {
		return float64(store.Len())
	})
	exporter.AddGauge("typerace_sessions", "Display names currently bound", func() float64 {
		return float64(registry.Len())
	})
	exporter.AddGauge("typerace_connections", "Open websocket connections", func() float64 {
		return float64(connectionManager.GetConnectionStats().TotalConnections)
	})

	services.Gateway = gateway.NewService(connectionManager, wsHandler, health)
	services.Store = store
	services.Registry = registry
	services.Metrics = exporter
	return services, nil
}

// Start runs the background workers until ctx is cancelled
func (s *Services) Start(ctx context.Context) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.Gateway.Start(ctx)
	}()
	if s.Results != nil {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.Results.Run(ctx)
		}()
	}
}

// Close waits for the workers started by Start, so ctx must be cancelled
// first
func (s *Services) Close() {
	s.Store.Shutdown()
	s.wg.Wait()
	if s.publisher != nil {
		if err := s.publisher.Close(); err != nil {
			log.Error().Err(err).Msg("failed to close JetStream publisher")
		}
	}
}
