package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/crucible-dev/crucible/internal/config"
	"github.com/crucible-dev/crucible/internal/consult"
	"github.com/crucible-dev/crucible/internal/health"
	"github.com/crucible-dev/crucible/internal/httpapi"
	"github.com/crucible-dev/crucible/internal/llm"
	"github.com/crucible-dev/crucible/internal/metrics"
	"github.com/crucible-dev/crucible/internal/pipeline"
	"github.com/crucible-dev/crucible/internal/relay"
	"github.com/crucible-dev/crucible/internal/session"
	"github.com/crucible-dev/crucible/internal/stage"
	"github.com/crucible-dev/crucible/internal/store"
)

func main() {
	// Setup structured logging
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	logger := zerolog.New(os.Stdout).With().Timestamp().Caller().Logger()

	if os.Getenv("ENVIRONMENT") == "development" {
		logger = logger.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}

	log.Logger = logger

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err == nil {
		zerolog.SetGlobalLevel(level)
	}

	logger.Info().
		Str("environment", cfg.Environment).
		Str("listen_addr", cfg.ListenAddr).
		Str("db_path", cfg.DBPath).
		Bool("collaborator_enabled", cfg.CollaboratorEnabled()).
		Msg("starting crucible")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	// Stage registry, optionally customized from YAML
	registry := stage.NewRegistry()
	if cfg.StageOverridesPath != "" {
		if err := registry.ApplyOverridesFile(cfg.StageOverridesPath); err != nil {
			logger.Fatal().Err(err).Str("path", cfg.StageOverridesPath).Msg("failed to apply stage overrides")
		}
		logger.Info().Str("path", cfg.StageOverridesPath).Msg("stage overrides applied")
	}

	// Storage
	db, err := store.Open(cfg.DBPath, logger)
	if err != nil {
		logger.Fatal().Err(err).Str("path", cfg.DBPath).Msg("failed to open database")
	}
	defer db.Close()

	// Generative collaborator
	var provider llm.Provider
	if cfg.CollaboratorEnabled() {
		opts := []llm.OpenAIOption{
			llm.WithModel(cfg.OpenAIModel),
			llm.WithLogger(logger),
		}
		if cfg.OpenAIBaseURL != "" {
			opts = append(opts, llm.WithBaseURL(cfg.OpenAIBaseURL))
		}
		provider, err = llm.NewOpenAIProvider(cfg.OpenAIAPIKey, opts...)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to init collaborator")
		}
		logger.Info().Str("model", cfg.OpenAIModel).Msg("collaborator initialized")
	} else {
		// Without an API key every turn resolves to the fallback reply.
		provider = llm.NewMockProvider()
		logger.Warn().Msg("OPENAI_API_KEY not set — running with the offline provider")
	}

	// Health checker
	checker := health.NewChecker(logger)
	checker.Register("database", func(ctx context.Context) health.Status {
		if err := db.PingContext(ctx); err != nil {
			return health.StatusDown
		}
		return health.StatusOK
	})
	checker.Register("collaborator", func(ctx context.Context) health.Status {
		if !cfg.CollaboratorEnabled() {
			return health.StatusDegraded
		}
		return health.StatusOK
	})

	m := metrics.New()

	// Pipeline wiring
	sessions := session.NewStore(db, logger)
	relays := relay.NewStore(db, logger)
	engine := consult.NewEngine(provider, registry, m, logger)
	synth := relay.NewSynthesizer(provider, logger)
	orch := pipeline.New(sessions, relays, engine, synth, registry, m, logger)

	server := httpapi.NewServer(httpapi.ServerConfig{
		ListenAddr: cfg.ListenAddr,
		AuthConfig: httpapi.AuthConfig{
			Mode:      cfg.AuthMode,
			APIKey:    cfg.APIKey,
			JWTSecret: cfg.JWTSecret,
		},
		CORSOrigins:  cfg.CORSOrigins,
		RateLimitRPS: cfg.RateLimitRPS,
		TLSCert:      cfg.TLSCert,
		TLSKey:       cfg.TLSKey,
	}, orch, checker, m, logger)

	go func() {
		if err := server.Start(); err != nil {
			logger.Error().Err(err).Msg("api server error")
			cancel()
		}
	}()

	// Warm the readiness cache
	checker.RunAll(ctx)

	select {
	case sig := <-sigCh:
		logger.Info().Str("signal", sig.String()).Msg("shutdown signal received")
	case <-ctx.Done():
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	done := make(chan struct{})
	go func() {
		if err := server.Shutdown(); err != nil {
			logger.Error().Err(err).Msg("server shutdown error")
		}
		close(done)
	}()
	select {
	case <-done:
	case <-shutdownCtx.Done():
		logger.Warn().Msg("shutdown timed out")
	}

	logger.Info().Msg("crucible stopped")
}
