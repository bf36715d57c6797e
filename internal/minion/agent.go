// Package minion implements one agent's two-stage reasoning.
//
// Stage 1 (Perceive) turns persona, prior diary, opinions and channel
// history into a structured PerceptionPlan. Stage 2 (Respond) turns a plan
// that chose to speak into the text the minion says. Both stages are a
// single model call; neither retries.
package minion

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/agentoven/legion/internal/llm"
	"github.com/agentoven/legion/pkg/models"
	"github.com/rs/zerolog/log"
)

// Agent is the decision unit for one minion. It holds identity and model
// settings only; opinion and diary state are passed in per call.
type Agent struct {
	ID          string
	Name        string
	Persona     string
	Provider    string
	Model       string
	Temperature float64

	gen llm.Generator
}

// New builds an Agent from a stored minion config.
func New(m *models.Minion, gen llm.Generator) *Agent {
	provider := m.Provider
	if provider == "" {
		provider = models.DefaultProvider
	}
	return &Agent{
		ID:          m.ID,
		Name:        m.Name,
		Persona:     m.Persona,
		Provider:    provider,
		Model:       m.ModelID,
		Temperature: m.Params.Temperature,
		gen:         gen,
	}
}

// PerceptionInput is everything Stage 1 needs besides the agent itself.
type PerceptionInput struct {
	PreviousDiary *models.PerceptionPlan
	Opinions      map[string]int
	History       string // rendered with FormatHistory
	LastSender    string
	ChannelType   models.ChannelType
	APIKey        string
}

// Perceive runs Stage 1. A transport failure or an output that does not
// parse into a plan is returned as an error; it is never read as silence.
func (a *Agent) Perceive(ctx context.Context, in PerceptionInput) (*models.PerceptionPlan, error) {
	prompt, err := a.perceptionPrompt(in)
	if err != nil {
		return nil, fmt.Errorf("render perception prompt: %w", err)
	}

	text, err := a.gen.Generate(ctx, &llm.Request{
		Provider:    a.Provider,
		Model:       a.Model,
		Prompt:      prompt,
		APIKey:      in.APIKey,
		Temperature: a.Temperature,
		JSON:        true,
	})
	if err != nil {
		return nil, err
	}

	plan, err := ParsePlan(text)
	if err != nil {
		log.Debug().Err(err).Str("minion", a.Name).Str("output", text).Msg("Unparseable perception output")
		return nil, err
	}
	if plan.SelectedResponseMode == "" {
		plan.SelectedResponseMode = ResponseModeFor(plan.FinalOpinions[in.LastSender])
	}

	log.Debug().
		Str("minion", a.Name).
		Str("action", string(plan.Action)).
		Str("mode", plan.SelectedResponseMode).
		Int("predicted_ms", plan.PredictedResponseTime).
		Msg("Perception complete")
	return plan, nil
}

// Respond runs Stage 2 against the given history. The returned text is
// trimmed; an empty string means the model said nothing.
func (a *Agent) Respond(ctx context.Context, history string, plan *models.PerceptionPlan, apiKey string) (string, error) {
	prompt, err := render(responseTmpl, responseData{
		Name:    a.Name,
		Persona: a.Persona,
		Mode:    plan.SelectedResponseMode,
		Plan:    plan.ResponsePlan,
		History: history,
	})
	if err != nil {
		return "", fmt.Errorf("render response prompt: %w", err)
	}

	text, err := a.gen.Generate(ctx, &llm.Request{
		Provider:    a.Provider,
		Model:       a.Model,
		Prompt:      prompt,
		APIKey:      apiKey,
		Temperature: a.Temperature,
	})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(text), nil
}

func (a *Agent) perceptionPrompt(in PerceptionInput) (string, error) {
	diary := []byte("{}")
	if in.PreviousDiary != nil {
		b, err := json.Marshal(in.PreviousDiary)
		if err != nil {
			return "", err
		}
		diary = b
	}
	opinions := in.Opinions
	if opinions == nil {
		opinions = map[string]int{}
	}
	ops, err := json.Marshal(opinions)
	if err != nil {
		return "", err
	}

	history := in.History
	if history == "" {
		history = EmptyHistory
	}

	return render(perceptionTmpl, perceptionData{
		Name:          a.Name,
		Persona:       a.Persona,
		PreviousDiary: string(diary),
		Opinions:      string(ops),
		LastSender:    in.LastSender,
		ChannelType:   in.ChannelType,
		History:       history,
		ChannelRule:   channelRule(in.ChannelType),
		Modes:         ResponseModes,
	})
}
