package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"example.com/activities/internal/api"
	"example.com/activities/internal/config"
	"example.com/activities/internal/domain"
	"example.com/activities/internal/observability"
	"example.com/activities/internal/outbox"
	"example.com/activities/internal/persistence/memory"
	persistence "example.com/activities/internal/persistence/postgres"
	httptransport "example.com/activities/internal/transport/http"
	"example.com/activities/migrations"
)

func main() {
	cfg := config.Load()
	logger := observability.NewLogger("activities-api", cfg.LogLevel, cfg.LogPretty)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var (
		repo       domain.Repository
		dispatcher *outbox.Dispatcher
	)

	switch cfg.StoreBackend {
	case config.StoreMemory:
		repo = memory.NewSeededRepository()
		logger.Info().Msg("using in-memory store; enrollments are lost on restart")
	default:
		pool, err := pgxpool.New(ctx, cfg.PostgresURL)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect to postgres")
		}
		defer pool.Close()

		applied, err := migrations.Apply(ctx, pool)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to apply migrations")
		}
		if len(applied) > 0 {
			logger.Info().Strs("migrations", applied).Msg("applied migrations")
		}
		repo = persistence.NewRepository(pool)

		if cfg.OutboxEnabled {
			producer := outbox.NewKafkaProducer(cfg.KafkaBrokers)
			defer producer.Close()

			registry := outbox.NewSchemaRegistryClient(cfg.SchemaRegistryURL)
			dispatcher = outbox.NewDispatcher(pool, producer, registry, cfg.OutboxPollInterval, cfg.OutboxBatchSize,
				outbox.WithDispatcherLogger(logger.With().Str("component", "outbox").Logger()))
			go dispatcher.Start(ctx)
		}
	}

	service := domain.NewService(repo, domain.WithLogger(logger.With().Str("component", "service").Logger()))

	handler := api.NewHandler(service, logger)
	mux := http.NewServeMux()
	handler.RegisterRoutes(mux)
	mux.Handle("/metrics", promhttp.Handler())

	server := httptransport.NewServer(
		httptransport.DefaultServerConfig(cfg.HTTPAddress),
		httptransport.RequestLogger(logger, httptransport.CORS(cfg.CORSOrigins, mux)),
	)

	shutdownCh := make(chan os.Signal, 1)
	signal.Notify(shutdownCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		logger.Info().Str("address", cfg.HTTPAddress).Str("store", cfg.StoreBackend).Msg("activities api listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	<-shutdownCh
	cancel()
	shutdown(server, dispatcher, cfg, logger)
}

func shutdown(server *http.Server, dispatcher *outbox.Dispatcher, cfg config.Config, logger zerolog.Logger) {
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown failed")
	}
	if dispatcher != nil {
		dispatcher.Wait()
	}
	logger.Info().Msg("activities api stopped")
}
