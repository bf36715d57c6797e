// Package legion is the turn orchestrator.
//
// A turn starts when a message lands in a channel. Every minion listed in
// the channel perceives it concurrently (Wave 1). Minions that chose to
// speak then respond one at a time, fastest predicted responder first, each
// seeing what the earlier ones said in the same turn (Wave 2). Per-minion
// failures become System log messages and never abort the turn.
package legion

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/agentoven/legion/internal/keys"
	"github.com/agentoven/legion/internal/llm"
	"github.com/agentoven/legion/internal/minion"
	"github.com/agentoven/legion/internal/store"
	"github.com/agentoven/legion/pkg/models"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("legion/orchestrator")

// SystemSenderName is the sender of every System log message.
const SystemSenderName = "LegionOS"

// DefaultCommanderName is the sender name of user messages when none is configured.
const DefaultCommanderName = "Commander"

// ErrInvalidInput marks payloads rejected before reaching the store.
var ErrInvalidInput = errors.New("invalid input")

// Config tunes turn execution.
type Config struct {
	CommanderName string

	// CallTimeout bounds each Perceive and Respond call. Zero disables it.
	CallTimeout time.Duration

	// WaveConcurrency caps concurrent Wave 1 calls. Zero means one per member.
	WaveConcurrency int
}

// Option configures a Service.
type Option func(*Service)

// WithMetrics records turn metrics on m.
func WithMetrics(m *Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithClock overrides the message timestamp source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// Service owns the agent registry and runs turns.
type Service struct {
	store    store.Store
	selector *keys.Selector
	gen      llm.Generator
	cfg      Config
	metrics  *Metrics
	now      func() time.Time

	mu     sync.RWMutex
	agents map[string]*minion.Agent // minion ID → agent

	// Serializes read-modify-write of minion state across concurrent turns.
	stateMu sync.Mutex
}

// NewService creates an orchestrator. Call Init to load the registry.
func NewService(s store.Store, sel *keys.Selector, gen llm.Generator, cfg Config, opts ...Option) *Service {
	if cfg.CommanderName == "" {
		cfg.CommanderName = DefaultCommanderName
	}
	svc := &Service{
		store:    s,
		selector: sel,
		gen:      gen,
		cfg:      cfg,
		now:      func() time.Time { return time.Now().UTC() },
		agents:   make(map[string]*minion.Agent),
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc
}

// CommanderName is the sender name used for user messages.
func (s *Service) CommanderName() string { return s.cfg.CommanderName }

// Init builds an agent for every stored minion.
func (s *Service) Init(ctx context.Context) error {
	minions, err := s.store.ListMinions(ctx)
	if err != nil {
		return fmt.Errorf("list minions: %w", err)
	}

	s.mu.Lock()
	s.agents = make(map[string]*minion.Agent, len(minions))
	for i := range minions {
		s.agents[minions[i].ID] = minion.New(&minions[i], s.gen)
	}
	n := len(s.agents)
	s.mu.Unlock()

	s.metrics.agents(n)
	log.Info().Int("minions", n).Msg("🤖 Agent registry initialized")
	return nil
}

// agentFor returns the registered agent for m. A minion that reached the
// store without going through the service gets an agent for this turn only;
// the registry changes through Init and minion CRUD alone, so a delete that
// races a turn is never undone.
func (s *Service) agentFor(m *models.Minion) *minion.Agent {
	s.mu.RLock()
	a, ok := s.agents[m.ID]
	s.mu.RUnlock()
	if ok {
		return a
	}
	return minion.New(m, s.gen)
}

func (s *Service) register(m *models.Minion) {
	a := minion.New(m, s.gen)
	s.mu.Lock()
	s.agents[m.ID] = a
	n := len(s.agents)
	s.mu.Unlock()
	s.metrics.agents(n)
}

func (s *Service) unregister(id string) {
	s.mu.Lock()
	delete(s.agents, id)
	n := len(s.agents)
	s.mu.Unlock()
	s.metrics.agents(n)
}

// ── Message factories ────────────────────────────────────────

func (s *Service) newUserMessage(channelID, content string) *models.ChatMessage {
	return &models.ChatMessage{
		ID:         "user-" + uuid.New().String(),
		ChannelID:  channelID,
		SenderType: models.SenderUser,
		SenderName: s.cfg.CommanderName,
		Content:    content,
		Timestamp:  s.now(),
	}
}

func (s *Service) newSystemLog(channelID, content string, isError, isAPIKeyLog bool) *models.ChatMessage {
	return &models.ChatMessage{
		ID:          "sys-" + uuid.New().String(),
		ChannelID:   channelID,
		SenderType:  models.SenderSystem,
		SenderName:  SystemSenderName,
		Content:     content,
		Timestamp:   s.now(),
		IsError:     isError,
		IsAPIKeyLog: isAPIKeyLog,
	}
}

func (s *Service) newAIMessage(channelID, name, content string, plan *models.PerceptionPlan) *models.ChatMessage {
	return &models.ChatMessage{
		ID:            "ai-" + uuid.New().String(),
		ChannelID:     channelID,
		SenderType:    models.SenderAI,
		SenderName:    name,
		Content:       content,
		Timestamp:     s.now(),
		InternalDiary: plan,
	}
}
