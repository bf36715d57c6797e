package legion

import (
	"context"
	"fmt"
	"strings"

	"github.com/agentoven/legion/pkg/models"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// ── Minions ──────────────────────────────────────────────────

func (s *Service) ListMinions(ctx context.Context) ([]models.Minion, error) {
	return s.store.ListMinions(ctx)
}

func (s *Service) GetMinion(ctx context.Context, id string) (*models.Minion, error) {
	return s.store.GetMinion(ctx, id)
}

// CreateMinion stores a new minion with empty opinions and registers its agent.
func (s *Service) CreateMinion(ctx context.Context, p *models.MinionPayload) (*models.Minion, error) {
	if err := validateMinion(p); err != nil {
		return nil, err
	}
	now := s.now()
	m := &models.Minion{
		ID:            p.ID,
		Params:        models.MinionParams{Temperature: models.DefaultTemperature},
		OpinionScores: map[string]int{},
		Status:        models.MinionStatusIdle,
		CreatedAt:     now,
	}
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	applyMinionPayload(m, p)
	m.UpdatedAt = now

	if err := s.store.SaveMinion(ctx, m); err != nil {
		return nil, fmt.Errorf("save minion: %w", err)
	}
	s.register(m)
	log.Info().Str("minion", m.Name).Str("id", m.ID).Msg("🤖 Minion created")
	return m, nil
}

// UpdateMinion changes identity and model settings. Opinions, diary and
// status are kept. The agent is rebuilt from the new config.
func (s *Service) UpdateMinion(ctx context.Context, id string, p *models.MinionPayload) (*models.Minion, error) {
	if err := validateMinion(p); err != nil {
		return nil, err
	}
	s.stateMu.Lock()
	defer s.stateMu.Unlock()

	m, err := s.store.GetMinion(ctx, id)
	if err != nil {
		return nil, err
	}
	applyMinionPayload(m, p)
	m.UpdatedAt = s.now()

	if err := s.store.SaveMinion(ctx, m); err != nil {
		return nil, fmt.Errorf("save minion: %w", err)
	}
	s.register(m)
	return m, nil
}

func (s *Service) DeleteMinion(ctx context.Context, id string) error {
	if err := s.store.DeleteMinion(ctx, id); err != nil {
		return err
	}
	s.unregister(id)
	log.Info().Str("id", id).Msg("Minion deleted")
	return nil
}

func validateMinion(p *models.MinionPayload) error {
	if strings.TrimSpace(p.Name) == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidInput)
	}
	if strings.TrimSpace(p.ModelID) == "" {
		return fmt.Errorf("%w: model_id is required", ErrInvalidInput)
	}
	if p.Params != nil && (p.Params.Temperature < 0 || p.Params.Temperature > 1) {
		return fmt.Errorf("%w: temperature must be within [0, 1]", ErrInvalidInput)
	}
	return nil
}

func applyMinionPayload(m *models.Minion, p *models.MinionPayload) {
	m.Name = strings.TrimSpace(p.Name)
	m.Provider = p.Provider
	if m.Provider == "" {
		m.Provider = models.DefaultProvider
	}
	m.ModelID = p.ModelID
	m.ModelName = p.ModelName
	m.Persona = p.Persona
	m.APIKeyID = p.APIKeyID
	if p.Params != nil {
		m.Params = *p.Params
	}
}

// ── Channels ─────────────────────────────────────────────────

func (s *Service) ListChannels(ctx context.Context) ([]models.Channel, error) {
	return s.store.ListChannels(ctx)
}

func (s *Service) GetChannel(ctx context.Context, id string) (*models.Channel, error) {
	return s.store.GetChannel(ctx, id)
}

func (s *Service) CreateChannel(ctx context.Context, p *models.ChannelPayload) (*models.Channel, error) {
	if err := validateChannel(p); err != nil {
		return nil, err
	}
	c := &models.Channel{ID: p.ID}
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	applyChannelPayload(c, p)

	if err := s.store.SaveChannel(ctx, c); err != nil {
		return nil, fmt.Errorf("save channel: %w", err)
	}
	log.Info().Str("channel", c.Name).Str("type", string(c.Type)).Msg("📡 Channel created")
	return c, nil
}

// UpdateChannel replaces name, description, type and members. Automation
// settings change only where the payload sets them.
func (s *Service) UpdateChannel(ctx context.Context, id string, p *models.ChannelPayload) (*models.Channel, error) {
	if err := validateChannel(p); err != nil {
		return nil, err
	}
	c, err := s.store.GetChannel(ctx, id)
	if err != nil {
		return nil, err
	}
	applyChannelPayload(c, p)

	if err := s.store.SaveChannel(ctx, c); err != nil {
		return nil, fmt.Errorf("save channel: %w", err)
	}
	return c, nil
}

// DeleteChannel removes the channel and its history.
func (s *Service) DeleteChannel(ctx context.Context, id string) error {
	return s.store.DeleteChannel(ctx, id)
}

func validateChannel(p *models.ChannelPayload) error {
	if strings.TrimSpace(p.Name) == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidInput)
	}
	if !p.Type.Valid() {
		return fmt.Errorf("%w: unknown channel type %q", ErrInvalidInput, p.Type)
	}
	switch p.AutoModeDelayType {
	case "", models.DelayFixed, models.DelayRandom:
	default:
		return fmt.Errorf("%w: unknown delay type %q", ErrInvalidInput, p.AutoModeDelayType)
	}
	if r := p.AutoModeRandomDelay; r != nil && (r.Min < 0 || r.Max < r.Min) {
		return fmt.Errorf("%w: random delay must satisfy 0 <= min <= max", ErrInvalidInput)
	}
	return nil
}

func applyChannelPayload(c *models.Channel, p *models.ChannelPayload) {
	c.Name = strings.TrimSpace(p.Name)
	c.Description = p.Description
	c.Type = p.Type
	c.Members = append([]string(nil), p.Members...)
	if p.IsPrivate != nil {
		c.IsPrivate = *p.IsPrivate
	}
	if p.IsAutoModeActive != nil {
		c.IsAutoModeActive = *p.IsAutoModeActive
	}
	if p.AutoModeDelayType != "" {
		c.AutoModeDelayType = p.AutoModeDelayType
	}
	if p.AutoModeFixedDelay > 0 {
		c.AutoModeFixedDelay = p.AutoModeFixedDelay
	}
	if p.AutoModeRandomDelay != nil {
		r := *p.AutoModeRandomDelay
		c.AutoModeRandomDelay = &r
	}
	c.ApplyDefaults()
}

// ── API Keys ─────────────────────────────────────────────────

// ListAPIKeys returns the pool with secrets intact; callers outside the
// process should see k.Masked().
func (s *Service) ListAPIKeys(ctx context.Context) ([]models.APIKey, error) {
	return s.store.ListAPIKeys(ctx)
}

// AddAPIKey appends a credential to the pool.
func (s *Service) AddAPIKey(ctx context.Context, k *models.APIKey) (*models.APIKey, error) {
	if strings.TrimSpace(k.Name) == "" || strings.TrimSpace(k.Key) == "" {
		return nil, fmt.Errorf("%w: name and key are required", ErrInvalidInput)
	}
	key := *k
	if key.ID == "" {
		key.ID = uuid.New().String()
	}
	if err := s.store.SaveAPIKey(ctx, &key); err != nil {
		return nil, fmt.Errorf("save api key: %w", err)
	}
	log.Info().Str("key", key.Name).Msg("🔑 API key added")
	return &key, nil
}

func (s *Service) DeleteAPIKey(ctx context.Context, id string) error {
	return s.store.DeleteAPIKey(ctx, id)
}

// ── Messages ─────────────────────────────────────────────────

// ListMessages returns a channel's history in timestamp order.
func (s *Service) ListMessages(ctx context.Context, channelID string) ([]models.ChatMessage, error) {
	return s.store.ListMessages(ctx, channelID)
}
