// Package seed loads a YAML file of credentials, minions and channels and
// creates the ones the store does not have yet. Existing ids are never
// overwritten, so a seed file is safe to keep on every restart.
package seed

import (
	"context"
	"fmt"
	"os"

	"github.com/agentoven/legion/internal/store"
	"github.com/agentoven/legion/pkg/models"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

// File is the seed document.
type File struct {
	Keys     []Key     `yaml:"keys"`
	Minions  []Minion  `yaml:"minions"`
	Channels []Channel `yaml:"channels"`
}

// Key secrets may reference environment variables: key: ${GEMINI_KEY_2}
type Key struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
	Key  string `yaml:"key"`
}

type Minion struct {
	ID          string   `yaml:"id"`
	Name        string   `yaml:"name"`
	Provider    string   `yaml:"provider"`
	ModelID     string   `yaml:"model_id"`
	ModelName   string   `yaml:"model_name"`
	Persona     string   `yaml:"persona"`
	Temperature *float64 `yaml:"temperature"`
	APIKeyID    string   `yaml:"api_key_id"`
}

type Channel struct {
	ID          string             `yaml:"id"`
	Name        string             `yaml:"name"`
	Description string             `yaml:"description"`
	Type        models.ChannelType `yaml:"type"`
	Members     []string           `yaml:"members"`
	Private     bool               `yaml:"private"`
	AutoMode    bool               `yaml:"auto_mode"`
	Delay       *Delay             `yaml:"delay"`
}

// Delay is the autopilot pause: type fixed uses Seconds, random uses Min..Max.
type Delay struct {
	Type    models.DelayType `yaml:"type"`
	Seconds int              `yaml:"seconds"`
	Min     int              `yaml:"min"`
	Max     int              `yaml:"max"`
}

// Target is what a seed file is applied to.
type Target interface {
	ListAPIKeys(ctx context.Context) ([]models.APIKey, error)
	AddAPIKey(ctx context.Context, k *models.APIKey) (*models.APIKey, error)
	GetMinion(ctx context.Context, id string) (*models.Minion, error)
	CreateMinion(ctx context.Context, p *models.MinionPayload) (*models.Minion, error)
	GetChannel(ctx context.Context, id string) (*models.Channel, error)
	CreateChannel(ctx context.Context, p *models.ChannelPayload) (*models.Channel, error)
}

// Result counts what Apply created.
type Result struct {
	Keys, Minions, Channels int
}

// Load reads and decodes a seed file. Unknown fields are rejected.
func Load(path string) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open seed file: %w", err)
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	var doc File
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode seed file %s: %w", path, err)
	}
	return &doc, nil
}

// Apply creates every entry whose id is not stored yet. Entries without an
// id are skipped because they cannot be matched on the next run.
func Apply(ctx context.Context, t Target, doc *File) (Result, error) {
	var res Result

	pool, err := t.ListAPIKeys(ctx)
	if err != nil {
		return res, fmt.Errorf("list api keys: %w", err)
	}
	have := make(map[string]bool, len(pool))
	for _, k := range pool {
		have[k.ID] = true
	}
	for _, k := range doc.Keys {
		if k.ID == "" || have[k.ID] {
			continue
		}
		secret := os.ExpandEnv(k.Key)
		if secret == "" {
			log.Warn().Str("key", k.ID).Msg("Seed key has an empty secret, skipping")
			continue
		}
		if _, err := t.AddAPIKey(ctx, &models.APIKey{ID: k.ID, Name: k.Name, Key: secret}); err != nil {
			return res, fmt.Errorf("seed key %s: %w", k.ID, err)
		}
		res.Keys++
	}

	for _, m := range doc.Minions {
		if m.ID == "" {
			continue
		}
		exists, err := present(t.GetMinion(ctx, m.ID))
		if err != nil {
			return res, fmt.Errorf("seed minion %s: %w", m.ID, err)
		}
		if exists {
			continue
		}
		p := &models.MinionPayload{
			ID:        m.ID,
			Name:      m.Name,
			Provider:  m.Provider,
			ModelID:   m.ModelID,
			ModelName: m.ModelName,
			Persona:   m.Persona,
			APIKeyID:  m.APIKeyID,
		}
		if m.Temperature != nil {
			p.Params = &models.MinionParams{Temperature: *m.Temperature}
		}
		if _, err := t.CreateMinion(ctx, p); err != nil {
			return res, fmt.Errorf("seed minion %s: %w", m.ID, err)
		}
		res.Minions++
	}

	for _, c := range doc.Channels {
		if c.ID == "" {
			continue
		}
		exists, err := present(t.GetChannel(ctx, c.ID))
		if err != nil {
			return res, fmt.Errorf("seed channel %s: %w", c.ID, err)
		}
		if exists {
			continue
		}
		if _, err := t.CreateChannel(ctx, c.payload()); err != nil {
			return res, fmt.Errorf("seed channel %s: %w", c.ID, err)
		}
		res.Channels++
	}

	log.Info().
		Int("keys", res.Keys).
		Int("minions", res.Minions).
		Int("channels", res.Channels).
		Msg("🌱 Seed applied")
	return res, nil
}

func (c Channel) payload() *models.ChannelPayload {
	p := &models.ChannelPayload{
		ID:               c.ID,
		Name:             c.Name,
		Description:      c.Description,
		Type:             c.Type,
		Members:          c.Members,
		IsPrivate:        &c.Private,
		IsAutoModeActive: &c.AutoMode,
	}
	if d := c.Delay; d != nil {
		p.AutoModeDelayType = d.Type
		p.AutoModeFixedDelay = d.Seconds
		if d.Type == models.DelayRandom {
			p.AutoModeRandomDelay = &models.DelayRange{Min: d.Min, Max: d.Max}
		}
	}
	return p
}

// present maps a Get result to existence, treating not-found as absence.
func present[T any](_ *T, err error) (bool, error) {
	if err == nil {
		return true, nil
	}
	if store.IsNotFound(err) {
		return false, nil
	}
	return false, err
}
