// geosentry-server is the entry point: loads configuration, wires C1
// through C9 via internal/orchestrator.Builder, serves the REST shim, and
// shuts everything down in order on SIGINT/SIGTERM. Structurally this
// mirrors the tracking service's main() — logger, config, metrics,
// dependency construction, router, signal handling, graceful shutdown —
// generalized from one MQTT/TimescaleDB-backed service to the geofencing
// engine's nine components.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/tripwatch/geosentry/internal/config"
	"github.com/tripwatch/geosentry/internal/httpapi"
	"github.com/tripwatch/geosentry/internal/observability"
	"github.com/tripwatch/geosentry/internal/orchestrator"
	"github.com/tripwatch/geosentry/internal/store"
)

func main() {
	profile := os.Getenv("GEOSENTRY_PROFILE")

	logger, err := observability.NewLogger(profile)
	if err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}
	defer logger.Sync()

	logger.Info("starting geosentry geofencing engine", zap.String("profile", profile))

	cfg, err := config.Load(profile)
	if err != nil {
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(prometheus.NewGoCollector())
	metrics := observability.NewMetrics(registry)
	sink := observability.NewObservationSink(256)
	go drainObservations(sink, logger)

	builder := orchestrator.NewBuilder(cfg, logger, metrics, sink)
	if cfg.Store.Enabled {
		durable, err := store.NewPostgresStore(context.Background(), cfg.Store, logger)
		if err != nil {
			logger.Fatal("failed to initialize durable store", zap.Error(err))
		}
		builder = builder.WithStore(durable)
	}

	eng, err := builder.Build(context.Background())
	if err != nil {
		logger.Fatal("failed to build engine", zap.Error(err))
	}

	router := httpapi.NewRouter(eng, cfg.HTTP, metrics, logger)
	server := &http.Server{
		Addr:    cfg.HTTP.ListenAddr,
		Handler: router,
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		logger.Info("HTTP server listening", zap.String("address", cfg.HTTP.ListenAddr))
		if srvErr := server.ListenAndServe(); srvErr != nil && srvErr != http.ErrServerClosed {
			logger.Fatal("HTTP server listen error", zap.Error(srvErr))
		}
	}()

	sig := <-quit
	logger.Info("caught signal, shutting down", zap.String("signal", sig.String()))
	gracefulShutdown(server, eng, cfg.HTTP.GracefulTimeout, logger)
}

// drainObservations logs every component observation; generalizes the
// teacher's inline zap calls scattered across services into one sink-fed
// consumer, per the ambient logging convention.
func drainObservations(sink observability.ObservationSink, logger *zap.Logger) {
	for obs := range sink {
		logger.Info("observation", zap.String("component", obs.Component), zap.String("kind", obs.Kind), zap.String("message", obs.Message), zap.Any("fields", obs.Fields))
	}
}

// gracefulShutdown stops accepting new HTTP connections, then tears the
// engine down in the order §5 "Shutdown order" names.
func gracefulShutdown(server *http.Server, eng *orchestrator.Engine, timeout time.Duration, logger *zap.Logger) {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil && err != http.ErrServerClosed {
		logger.Error("HTTP server shutdown encountered an error", zap.Error(err))
	}

	eng.Shutdown()
	logger.Info("graceful shutdown completed")
}
