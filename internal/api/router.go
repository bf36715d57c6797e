package api

import (
	"encoding/json"
	"net/http"

	"github.com/agentoven/legion/internal/api/handlers"
	"github.com/agentoven/legion/internal/api/middleware"
	"github.com/agentoven/legion/internal/config"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// NewRouter creates the HTTP router with all API routes. metrics serves
// /metrics and may be nil.
func NewRouter(cfg *config.Config, h *handlers.Handlers, metrics http.Handler) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(middleware.Logger)
	r.Use(middleware.Telemetry)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-API-Key", "X-Request-Id"},
		ExposedHeaders:   []string{"X-Request-Id"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Use(middleware.NewAPIKeyAuth(cfg.Auth.AccessKeys).Middleware)

	// Health & info
	r.Get("/", welcomeHandler(h))
	r.Get("/health", healthHandler)
	r.Get("/version", versionHandler(cfg))
	if metrics != nil {
		r.Method(http.MethodGet, "/metrics", metrics)
	}

	r.Route("/api", func(r chi.Router) {
		// Credential pool
		r.Route("/keys", func(r chi.Router) {
			r.Get("/", h.ListAPIKeys)
			r.Post("/", h.AddAPIKey)
			r.Delete("/{keyID}", h.DeleteAPIKey)
		})

		r.Route("/minions", func(r chi.Router) {
			r.Get("/", h.ListMinions)
			r.Post("/", h.CreateMinion)
			r.Put("/{minionID}", h.UpdateMinion)
			r.Delete("/{minionID}", h.DeleteMinion)
		})

		r.Route("/channels", func(r chi.Router) {
			r.Get("/", h.ListChannels)
			r.Post("/", h.CreateChannel)
			r.Put("/{channelID}", h.UpdateChannel)
			r.Delete("/{channelID}", h.DeleteChannel)
			r.Post("/{channelID}/continue", h.ContinueChannel)
		})

		r.Route("/messages", func(r chi.Router) {
			r.Post("/", h.PostMessage)
			r.Get("/{channelID}", h.ListMessages)
		})
	})

	return r
}

func welcomeHandler(h *handlers.Handlers) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{
			"message": "Welcome to the Legion control plane, Commander " + h.Legion.CommanderName() + "!",
		})
	}
}

func healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"status":  "healthy",
		"service": "legion-control-plane",
	})
}

func versionHandler(cfg *config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{
			"version": cfg.Version,
			"service": "legion-control-plane",
		})
	}
}
