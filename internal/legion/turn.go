package legion

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/agentoven/legion/internal/minion"
	"github.com/agentoven/legion/internal/store"
	"github.com/agentoven/legion/pkg/models"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"
)

var errNoAPIKey = errors.New("No API key available.")

// member is a minion resolved into a channel for one turn.
type member struct {
	cfg   *models.Minion
	agent *minion.Agent
}

// perception is the Wave 1 outcome for one member.
type perception struct {
	member
	plan *models.PerceptionPlan
	err  error
}

// turn accumulates the output of one orchestration run.
type turn struct {
	svc     *Service
	channel *models.Channel
	logs    []models.ChatMessage
	replies []models.ChatMessage
}

// HandleUserMessage persists the commander's message and runs a turn on
// it. A missing channel or a channel with no resolvable minions yields an
// empty result, not an error. The returned slice holds every System log of
// the turn followed by every AI message, each group in emission order.
func (s *Service) HandleUserMessage(ctx context.Context, channelID, userInput string) ([]models.ChatMessage, error) {
	msg := s.newUserMessage(channelID, userInput)
	if err := s.store.SaveMessage(ctx, msg); err != nil {
		return nil, fmt.Errorf("save user message: %w", err)
	}
	return s.runTurn(ctx, channelID, msg)
}

// ContinueConversation runs a turn triggered by the latest user or minion
// message already in the channel, without posting a new one. A channel
// holding only System logs, or nothing, is a no-op.
func (s *Service) ContinueConversation(ctx context.Context, channelID string) ([]models.ChatMessage, error) {
	return s.runTurn(ctx, channelID, nil)
}

func (s *Service) runTurn(ctx context.Context, channelID string, trigger *models.ChatMessage) ([]models.ChatMessage, error) {
	ctx, span := tracer.Start(ctx, "legion.turn")
	defer span.End()
	span.SetAttributes(attribute.String("legion.channel_id", channelID))

	start := time.Now()
	out := []models.ChatMessage{}

	channel, err := s.store.GetChannel(ctx, channelID)
	if store.IsNotFound(err) {
		log.Debug().Str("channel", channelID).Msg("Turn skipped: channel not found")
		return out, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load channel: %w", err)
	}

	members, err := s.resolveMembers(ctx, channel)
	if err != nil {
		return nil, err
	}
	if len(members) == 0 {
		log.Debug().Str("channel", channelID).Msg("Turn skipped: no minions in channel")
		return out, nil
	}

	history, err := s.store.ListMessages(ctx, channelID)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	if trigger = pickTrigger(trigger, history); trigger == nil {
		log.Debug().Str("channel", channelID).Msg("Turn skipped: nothing to react to")
		return out, nil
	}
	initial := minion.FormatHistory(history)
	span.SetAttributes(attribute.Int("legion.members", len(members)))

	t := &turn{svc: s, channel: channel}
	results := s.perceive(ctx, channel, members, initial, trigger.SenderName)
	speakers := t.resolve(ctx, results)
	t.respond(ctx, speakers, initial)

	s.metrics.turn(time.Since(start).Seconds())
	log.Info().
		Str("channel", channel.Name).
		Int("members", len(members)).
		Int("speakers", len(speakers)).
		Int("replies", len(t.replies)).
		Dur("duration", time.Since(start)).
		Msg("Turn complete")

	out = append(out, t.logs...)
	return append(out, t.replies...), nil
}

// pickTrigger returns the message a turn reacts to: the given one, else the
// latest user or minion message. System logs never trigger a turn.
func pickTrigger(trigger *models.ChatMessage, history []models.ChatMessage) *models.ChatMessage {
	if trigger != nil {
		return trigger
	}
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].SenderType != models.SenderSystem {
			return &history[i]
		}
	}
	return nil
}

// resolveMembers matches channel member names against minion display
// names, in minion creation order.
func (s *Service) resolveMembers(ctx context.Context, channel *models.Channel) ([]member, error) {
	all, err := s.store.ListMinions(ctx)
	if err != nil {
		return nil, fmt.Errorf("list minions: %w", err)
	}
	var members []member
	for i := range all {
		m := &all[i]
		if channel.HasMember(m.Name) {
			members = append(members, member{cfg: m, agent: s.agentFor(m)})
		}
	}
	return members, nil
}

// ── Wave 1: perception ───────────────────────────────────────

// perceive runs one Perceive per member concurrently and waits for all.
// Results keep member order.
func (s *Service) perceive(ctx context.Context, channel *models.Channel, members []member, history, lastSender string) []perception {
	ctx, span := tracer.Start(ctx, "legion.wave1")
	defer span.End()

	results := make([]perception, len(members))
	var g errgroup.Group
	if s.cfg.WaveConcurrency > 0 {
		g.SetLimit(s.cfg.WaveConcurrency)
	}
	for i, m := range members {
		g.Go(func() error {
			results[i] = s.perceiveOne(ctx, channel, m, history, lastSender)
			return nil
		})
	}
	g.Wait()
	return results
}

func (s *Service) perceiveOne(ctx context.Context, channel *models.Channel, m member, history, lastSender string) perception {
	key := s.selector.Select(ctx, m.cfg)
	if key.Key == "" {
		return perception{member: m, err: errNoAPIKey}
	}
	log.Debug().
		Str("minion", m.cfg.Name).
		Str("key", key.Name).
		Str("method", string(key.Method)).
		Msg("Perception key selected")

	ctx, cancel := s.callContext(ctx)
	defer cancel()

	plan, err := m.agent.Perceive(ctx, minion.PerceptionInput{
		PreviousDiary: m.cfg.LastDiaryState,
		Opinions:      m.cfg.OpinionScores,
		History:       history,
		LastSender:    lastSender,
		ChannelType:   channel.Type,
		APIKey:        key.Key,
	})
	return perception{member: m, plan: plan, err: err}
}

// resolve turns Wave 1 outcomes into logs and state updates, and returns
// the speakers ordered by predicted response time.
func (t *turn) resolve(ctx context.Context, results []perception) []perception {
	var speakers []perception
	for _, r := range results {
		name := r.cfg.Name
		if r.err != nil || r.plan == nil {
			reason := "No plan returned."
			if r.err != nil {
				reason = r.err.Error()
			}
			log.Warn().Err(r.err).Str("minion", name).Msg("Perception failed")
			t.svc.metrics.failure("perception")
			t.log(ctx, fmt.Sprintf("Error during %s's perception stage: %s", name, reason), true, false)
			continue
		}

		if err := t.svc.applyPlan(ctx, r.cfg.ID, r.plan); err != nil {
			log.Error().Err(err).Str("minion", name).Msg("Failed to save minion state")
		}

		if r.plan.Action == models.ActionSpeak {
			speakers = append(speakers, r)
			continue
		}
		t.svc.metrics.silence()
		t.log(ctx, fmt.Sprintf("%s chose to remain silent.", name), false, false)
	}

	sort.SliceStable(speakers, func(i, j int) bool {
		return speakers[i].plan.PredictedResponseTime < speakers[j].plan.PredictedResponseTime
	})
	return speakers
}

// ── Wave 2: responses ────────────────────────────────────────

// respond lets each speaker talk in order. Every successful reply is
// appended to the history the next speaker sees.
func (t *turn) respond(ctx context.Context, speakers []perception, history string) {
	ctx, span := tracer.Start(ctx, "legion.wave2")
	defer span.End()
	span.SetAttributes(attribute.Int("legion.speakers", len(speakers)))

	for _, sp := range speakers {
		name := sp.cfg.Name
		key := t.svc.selector.Select(ctx, sp.cfg)
		t.log(ctx, fmt.Sprintf("%s is using key '%s' (%s) for Response.", name, key.Name, key.Method), false, true)

		callCtx, cancel := t.svc.callContext(ctx)
		text, err := sp.agent.Respond(callCtx, history, sp.plan, key.Key)
		cancel()

		if err != nil || text == "" {
			reason := "Empty response."
			if err != nil {
				reason = err.Error()
			}
			log.Warn().Err(err).Str("minion", name).Msg("Response failed")
			t.svc.metrics.failure("response")
			t.log(ctx, fmt.Sprintf("Error during %s's response generation: %s", name, reason), true, false)
			continue
		}

		msg := t.svc.newAIMessage(t.channel.ID, name, text, sp.plan)
		if err := t.svc.store.SaveMessage(ctx, msg); err != nil {
			log.Error().Err(err).Str("minion", name).Msg("Failed to save AI message")
		}
		t.svc.metrics.speech()
		t.replies = append(t.replies, *msg)
		history += "\n" + minion.HistoryLine(msg)
	}
}

// log records and persists a System message for the turn.
func (t *turn) log(ctx context.Context, content string, isError, isAPIKeyLog bool) {
	msg := t.svc.newSystemLog(t.channel.ID, content, isError, isAPIKeyLog)
	if err := t.svc.store.SaveMessage(ctx, msg); err != nil {
		log.Error().Err(err).Str("channel", t.channel.ID).Msg("Failed to save system log")
	}
	t.logs = append(t.logs, *msg)
}

func (s *Service) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.cfg.CallTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.cfg.CallTimeout)
}
