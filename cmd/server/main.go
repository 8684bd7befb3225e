package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/velora-auto/trunkline/backend/internal/api"
	"github.com/velora-auto/trunkline/backend/internal/auth"
	"github.com/velora-auto/trunkline/backend/internal/cache"
	"github.com/velora-auto/trunkline/backend/internal/callback"
	"github.com/velora-auto/trunkline/backend/internal/conference"
	"github.com/velora-auto/trunkline/backend/internal/config"
	"github.com/velora-auto/trunkline/backend/internal/events"
	"github.com/velora-auto/trunkline/backend/internal/flow"
	"github.com/velora-auto/trunkline/backend/internal/interpreter"
	"github.com/velora-auto/trunkline/backend/internal/metrics"
	"github.com/velora-auto/trunkline/backend/internal/resolve"
	"github.com/velora-auto/trunkline/backend/internal/speech"
	"github.com/velora-auto/trunkline/backend/internal/storage"
	"github.com/velora-auto/trunkline/backend/internal/telephony"
	"github.com/velora-auto/trunkline/backend/internal/transcripts"
	"github.com/velora-auto/trunkline/backend/internal/transfer"
	"github.com/velora-auto/trunkline/backend/internal/webhooks"
	"github.com/velora-auto/trunkline/backend/pkg/middleware"
)

func main() {
	// Configure logger
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	// Set log level
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		log.Warn().Str("level", cfg.LogLevel).Msg("invalid log level, using info")
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	log.Info().
		Str("port", cfg.Port).
		Str("public_base_url", cfg.PublicBaseURL).
		Str("log_level", cfg.LogLevel).
		Msg("starting Trunkline backend server")

	// Create context for services
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Persistence
	store, err := storage.NewStore(ctx, log.Logger)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize storage")
	}
	flows := cache.NewFlowCache(store, cache.DefaultTTL)

	// Provider plumbing
	urls := callback.NewBuilder(cfg.PublicBaseURL)
	tel := telephony.NewRESTClient(cfg.ProviderBaseURL, cfg.ProviderAccountID, cfg.ProviderAuthToken, log.Logger)
	dir := resolve.NewHTTPDirectory(cfg.DirectoryBaseURL, log.Logger)
	resolver := resolve.NewResolver(dir, log.Logger)

	// Event feed
	hub := events.NewHub(log.Logger)
	go hub.Run()

	// Media: prompt cache and recording archive, when a bucket is set
	var synth flow.Synthesizer
	var recordings *speech.RecordingStore
	if cfg.MediaBucket != "" {
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWSRegion))
		if err != nil {
			log.Fatal().Err(err).Msg("failed to load AWS config for media bucket")
		}
		s3Client := s3.NewFromConfig(awsCfg)
		engine := speech.NewProviderEngine(cfg.ProviderBaseURL, cfg.ProviderAccountID, cfg.ProviderAuthToken)
		synth = speech.NewSynthesizer(s3Client, engine, cfg.MediaBucket, cfg.MediaPublicURL, log.Logger)
		recordings = speech.NewRecordingStore(s3Client, cfg.MediaBucket, log.Logger)
	} else {
		log.Warn().Msg("MEDIA_BUCKET not set, prompt caching and recording archival disabled")
	}

	// Orchestration
	interp := interpreter.New(urls, log.Logger)
	conf := conference.New(store, flows, resolver, tel, urls, hub, log.Logger)
	transfers := transfer.New(store, resolver, tel, urls, hub, log.Logger)
	segmenter := transcripts.NewSegmenter(store, log.Logger)

	// HTTP surfaces
	webhookHandler := webhooks.NewHandler(store, flows, interp, conf, segmenter, recordings, dir, urls, hub, log.Logger)
	flowsAPI := api.NewFlowsHandler(flows, synth, log.Logger)
	callsAPI := api.NewCallsHandler(store, transfers, log.Logger)
	wsHandler := events.NewHandler(hub, cfg, log.Logger)

	// Create router
	r := chi.NewRouter()

	// Add middleware
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logger(log.Logger))
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORS(cfg.AllowedOrigins))

	// Register public routes (no auth required)
	r.Get("/health", healthHandler)
	r.Get("/metrics", metrics.Get().Handler())

	// Provider callbacks, authenticated by request signature
	r.Route("/webhooks", func(r chi.Router) {
		r.Use(webhooks.VerifySignature(cfg.ProviderAuthToken, cfg.PublicBaseURL, log.Logger))
		webhookHandler.Routes(r)
	})

	// Console routes behind the auth middleware
	r.Group(func(r chi.Router) {
		r.Use(auth.Middleware)
		r.Route("/api", func(r chi.Router) {
			flowsAPI.Routes(r)
			callsAPI.Routes(r)
		})
		r.Get("/ws", wsHandler.ServeHTTP)
	})

	// Create HTTP server
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		log.Info().Msgf("server listening on :%s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("failed to start server")
		}
	}()

	// Wait for interrupt signal to gracefully shut down the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down server...")

	cancel()

	// Create shutdown context with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	// Attempt graceful shutdown
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatal().Err(err).Msg("server forced to shutdown")
	}

	log.Info().Msg("server stopped")
}

// healthHandler handles health check requests
func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, `{"status":"ok","service":"trunkline-backend"}`)
}
