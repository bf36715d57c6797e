// Package server wires the Legion control plane together: config, store,
// credential selection, model drivers, the orchestrator and the HTTP API.
//
// Usage:
//
//	srv, err := server.New(ctx, config.Load())
//	http.ListenAndServe(":8000", srv.Handler)
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/agentoven/legion/internal/api"
	"github.com/agentoven/legion/internal/api/handlers"
	"github.com/agentoven/legion/internal/config"
	"github.com/agentoven/legion/internal/keys"
	"github.com/agentoven/legion/internal/legion"
	"github.com/agentoven/legion/internal/llm"
	"github.com/agentoven/legion/internal/retention"
	"github.com/agentoven/legion/internal/seed"
	"github.com/agentoven/legion/internal/store"
	"github.com/agentoven/legion/internal/telemetry"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

// Server holds the initialized control plane.
type Server struct {
	// Handler is the HTTP handler with all routes and middleware.
	Handler http.Handler

	Store  store.Store
	Legion *legion.Service

	// Autopilot is nil unless LEGION_AUTOPILOT is set.
	Autopilot *legion.Autopilot

	// Janitor is nil unless a retention bound is configured.
	Janitor *retention.Janitor

	Config *config.Config

	// ShutdownFunc should be called on graceful shutdown to flush telemetry.
	ShutdownFunc telemetry.ShutdownFunc
}

// New initializes every component and returns a ready Server.
func New(ctx context.Context, cfg *config.Config) (*Server, error) {
	shutdown, err := telemetry.Init(ctx, cfg.Telemetry)
	if err != nil {
		return nil, fmt.Errorf("init telemetry: %w", err)
	}

	dataStore, err := openStore(ctx, cfg.Store)
	if err != nil {
		return nil, errors.Join(err, shutdown(ctx))
	}

	if cfg.GeminiAPIKey == "" {
		log.Warn().Msg("⚠️  GEMINI_API_KEY is not set; minions without a pooled key cannot perceive")
	}
	selector := keys.NewSelector(dataStore, cfg.GeminiAPIKey)

	models := llm.NewRouter(llm.RouterConfig{KeyRPS: cfg.LLM.KeyRPS, KeyBurst: cfg.LLM.KeyBurst})
	models.RegisterDriver(llm.NewGeminiDriver())
	if cfg.LLM.OpenAIBaseURL != "" {
		models.RegisterDriver(llm.NewOpenAIDriver("openai", cfg.LLM.OpenAIBaseURL))
	}
	log.Info().Strs("providers", models.ListDrivers()).Msg("✅ Model drivers registered")

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	svc := legion.NewService(dataStore, selector, models, legion.Config{
		CommanderName:   cfg.CommanderName,
		CallTimeout:     cfg.Turn.CallTimeout,
		WaveConcurrency: cfg.Turn.WaveConcurrency,
	}, legion.WithMetrics(legion.NewMetrics(reg)))
	if err := svc.Init(ctx); err != nil {
		return nil, errors.Join(fmt.Errorf("init legion: %w", err), dataStore.Close(), shutdown(ctx))
	}

	if cfg.SeedFile != "" {
		if err := applySeed(ctx, svc, cfg.SeedFile); err != nil {
			return nil, errors.Join(err, dataStore.Close(), shutdown(ctx))
		}
	}

	srv := &Server{
		Handler:      api.NewRouter(cfg, handlers.New(svc), promhttp.HandlerFor(reg, promhttp.HandlerOpts{})),
		Store:        dataStore,
		Legion:       svc,
		Config:       cfg,
		ShutdownFunc: shutdown,
	}
	if cfg.Autopilot {
		srv.Autopilot = legion.NewAutopilot(svc, 0)
	}
	srv.Janitor = newJanitor(dataStore, cfg.Retention)
	return srv, nil
}

func openStore(ctx context.Context, cfg config.StoreConfig) (store.Store, error) {
	switch cfg.Backend {
	case "", "memory":
		s := store.NewMemoryStore(cfg.DataDir)
		log.Info().Str("data_dir", cfg.DataDir).Msg("✅ In-memory store initialized")
		return s, nil
	case "sqlite":
		s, err := store.NewSQLiteStore(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("open sqlite store: %w", err)
		}
		log.Info().Str("path", cfg.SQLitePath).Msg("✅ SQLite store initialized")
		return s, nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Backend)
	}
}

func applySeed(ctx context.Context, svc *legion.Service, path string) error {
	doc, err := seed.Load(path)
	if err != nil {
		return err
	}
	if _, err := seed.Apply(ctx, svc, doc); err != nil {
		return fmt.Errorf("apply seed %s: %w", path, err)
	}
	return nil
}

func newJanitor(s store.Store, cfg config.RetentionConfig) *retention.Janitor {
	policy := retention.Policy{MaxAge: cfg.MaxAge, MaxMessages: cfg.MaxMessages}
	if !policy.Enabled() {
		return nil
	}
	j := retention.NewJanitor(s, policy, cfg.Interval)
	if cfg.ArchiveDir != "" {
		j.SetArchiver(retention.NewLocalFileArchiver(cfg.ArchiveDir, cfg.Compress))
	}
	return j
}
