// Legion control plane: a commander talks to a squad of LLM-backed minions
// that decide for themselves whether, and how fast, to answer.
//
// The server provides:
//   - Minion, channel and key pool management
//   - Two-wave turn orchestration (perceive, then respond)
//   - Optional autopilot for minion-only swarm channels
//   - In-memory (optionally snapshotted) or SQLite storage
//   - Optional history retention with JSONL archives
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/agentoven/legion/internal/config"
	"github.com/agentoven/legion/pkg/server"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	// Setup structured logging
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	if os.Getenv("LEGION_DEBUG") != "" {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}

	log.Info().Msg("⚔️  Legion control plane starting...")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg := config.Load()
	srv, err := server.New(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize server")
	}
	defer srv.Store.Close()
	defer srv.ShutdownFunc(context.Background())

	if srv.Autopilot != nil {
		go srv.Autopilot.Run(ctx)
	}
	if srv.Janitor != nil {
		go srv.Janitor.Start(ctx)
	}

	httpServer := &http.Server{
		Addr:        fmt.Sprintf(":%d", cfg.Port),
		Handler:     srv.Handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	// Graceful shutdown
	go func() {
		<-ctx.Done()
		log.Info().Msg("🛑 Shutting down gracefully...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		httpServer.Shutdown(shutdownCtx)
	}()

	log.Info().
		Int("port", cfg.Port).
		Str("commander", srv.Legion.CommanderName()).
		Msg("🔥 Legion is assembled and listening")

	if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
		log.Fatal().Err(err).Msg("Server failed")
	}
}
