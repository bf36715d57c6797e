package llm

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/time/rate"
)

var tracer = otel.Tracer("legion/llm")

// RouterConfig tunes per-credential pacing. A zero KeyRPS disables pacing.
type RouterConfig struct {
	KeyRPS   float64
	KeyBurst int
}

// Router dispatches requests to registered drivers by provider kind.
type Router struct {
	cfg RouterConfig

	driversMu sync.RWMutex
	drivers   map[string]Driver

	// Per-credential limiters: sha256(api key) → *rate.Limiter
	limiters sync.Map

	// Latency tracking: provider kind → rolling avg ms
	latencyMu sync.RWMutex
	latencies map[string]int64
}

// NewRouter creates a router with no drivers registered.
func NewRouter(cfg RouterConfig) *Router {
	if cfg.KeyBurst <= 0 {
		cfg.KeyBurst = 1
	}
	return &Router{
		cfg:       cfg,
		drivers:   make(map[string]Driver),
		latencies: make(map[string]int64),
	}
}

// RegisterDriver adds or replaces the driver for d.Kind().
func (r *Router) RegisterDriver(d Driver) {
	r.driversMu.Lock()
	r.drivers[d.Kind()] = d
	r.driversMu.Unlock()
}

// GetDriver returns the driver for kind, or nil.
func (r *Router) GetDriver(kind string) Driver {
	r.driversMu.RLock()
	defer r.driversMu.RUnlock()
	return r.drivers[kind]
}

// ListDrivers returns the registered kinds, sorted.
func (r *Router) ListDrivers() []string {
	r.driversMu.RLock()
	defer r.driversMu.RUnlock()
	kinds := make([]string, 0, len(r.drivers))
	for k := range r.drivers {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}

// Generate paces the call on its credential, then sends it to the driver.
func (r *Router) Generate(ctx context.Context, req *Request) (string, error) {
	kind := req.Provider
	if kind == "" {
		kind = "google"
	}
	driver := r.GetDriver(kind)
	if driver == nil {
		return "", fmt.Errorf("no driver registered for provider %q", kind)
	}

	ctx, span := tracer.Start(ctx, "llm.generate")
	defer span.End()
	span.SetAttributes(
		attribute.String("llm.provider", kind),
		attribute.String("llm.model", req.Model),
		attribute.Bool("llm.json", req.JSON),
	)

	if err := r.wait(ctx, req.APIKey); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", fmt.Errorf("rate limit wait: %w", err)
	}

	start := time.Now()
	text, err := driver.Generate(ctx, req)
	latencyMs := time.Since(start).Milliseconds()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		log.Debug().Err(err).Str("provider", kind).Str("model", req.Model).Msg("Model call failed")
		return "", err
	}

	r.trackLatency(kind, latencyMs)
	span.SetAttributes(attribute.Int64("llm.latency_ms", latencyMs))
	return text, nil
}

// Latency returns the rolling average latency for a provider, 0 if unknown.
func (r *Router) Latency(kind string) int64 {
	r.latencyMu.RLock()
	defer r.latencyMu.RUnlock()
	return r.latencies[kind]
}

func (r *Router) trackLatency(kind string, latencyMs int64) {
	r.latencyMu.Lock()
	defer r.latencyMu.Unlock()
	prev := r.latencies[kind]
	if prev == 0 {
		r.latencies[kind] = latencyMs
		return
	}
	// Exponential moving average
	r.latencies[kind] = (prev*7 + latencyMs*3) / 10
}

func (r *Router) wait(ctx context.Context, apiKey string) error {
	if r.cfg.KeyRPS <= 0 || apiKey == "" {
		return nil
	}
	sum := sha256.Sum256([]byte(apiKey))
	id := hex.EncodeToString(sum[:8])

	limiter, _ := r.limiters.LoadOrStore(id, rate.NewLimiter(rate.Limit(r.cfg.KeyRPS), r.cfg.KeyBurst))
	return limiter.(*rate.Limiter).Wait(ctx)
}
