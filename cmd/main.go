package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"medical-transcription-service/internal/app"
	"medical-transcription-service/internal/config"
	"medical-transcription-service/internal/events"
	httpapi "medical-transcription-service/internal/http"
	"medical-transcription-service/internal/observability/metrics"
	"medical-transcription-service/internal/registry"
	"medical-transcription-service/internal/service/provider"
	"medical-transcription-service/internal/service/provider/assemblyai"
	"medical-transcription-service/internal/service/provider/deepgram"
	"medical-transcription-service/internal/service/provider/google"
	"medical-transcription-service/internal/service/provider/mock"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Configuration is invalid")
	}

	application := app.New(cfg)
	if err := application.Start(); err != nil {
		log.Fatal().Err(err).Msg("Application failed to start")
	}
	defer application.Shutdown()

	publisher := events.New(&events.Config{
		Enabled:         cfg.Kafka.Enabled,
		Brokers:         cfg.Kafka.Brokers,
		TopicTranscript: cfg.Kafka.TopicTranscript,
		TopicSession:    cfg.Kafka.TopicSession,
		Principal:       cfg.Kafka.Principal,
	})
	defer publisher.Close()

	ctx := context.Background()

	var reg registry.Registry
	if cfg.DatabaseURL != "" {
		pg, err := registry.NewPostgres(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect session registry")
		}
		reg = pg
		log.Info().Msg("Session registry: postgres")
	} else {
		reg = registry.NewMemory()
		log.Warn().Msg("DATABASE_URL not set, session registry is in-memory")
	}
	defer reg.Close()

	server := httpapi.NewServer(cfg, reg, publisher, metrics.DefaultMetrics, buildTranscribers(ctx, cfg))

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           httpapi.NewRouter(server),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info().Str("port", cfg.Port).Msg("Medical transcription service listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	log.Info().Msg("Shutting down HTTP server")
	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("HTTP server shutdown failed")
	}
}

// buildTranscribers wires one adapter factory per configured backend.
func buildTranscribers(ctx context.Context, cfg *config.Config) map[string]httpapi.TranscriberFactory {
	factories := make(map[string]httpapi.TranscriberFactory)

	if cfg.AssemblyAIKey != "" {
		adapter := assemblyai.New(cfg.AssemblyAIKey)
		factories[config.ProviderAssemblyAI] = func() (provider.Transcriber, error) { return adapter, nil }
	}
	if cfg.DeepgramKey != "" {
		adapter := deepgram.New(cfg.DeepgramKey)
		factories[config.ProviderDeepgram] = func() (provider.Transcriber, error) { return adapter, nil }
	}
	if cfg.GoogleEnabled {
		adapter, err := google.New(ctx)
		if err != nil {
			log.Error().Err(err).Msg("Google STT unavailable, provider disabled")
		} else {
			factories[config.ProviderGoogle] = func() (provider.Transcriber, error) { return adapter, nil }
		}
	}
	if cfg.MockEnabled {
		factories[config.ProviderMock] = func() (provider.Transcriber, error) { return mock.New(), nil }
	}

	return factories
}
