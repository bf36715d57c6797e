package legion

import (
	"context"
	"math/rand/v2"
	"time"

	"github.com/agentoven/legion/pkg/models"
	"github.com/rs/zerolog/log"
)

// Autopilot keeps swarm channels talking. Every swarm channel with auto
// mode active gets a ContinueConversation turn, then waits its configured
// fixed or random delay before the next one.
type Autopilot struct {
	svc *Service

	// Poll is how often channel settings are re-read.
	Poll time.Duration

	// Delay picks the pause after a channel's turn. Defaults to AutoDelay.
	Delay func(*models.Channel) time.Duration
}

// NewAutopilot creates an autopilot over svc.
func NewAutopilot(svc *Service, poll time.Duration) *Autopilot {
	if poll <= 0 {
		poll = time.Second
	}
	return &Autopilot{svc: svc, Poll: poll, Delay: AutoDelay}
}

// AutoDelay returns the pause a channel asks for between autonomous turns.
func AutoDelay(c *models.Channel) time.Duration {
	if c.AutoModeDelayType == models.DelayRandom && c.AutoModeRandomDelay != nil {
		lo, hi := c.AutoModeRandomDelay.Min, c.AutoModeRandomDelay.Max
		if hi > lo {
			return time.Duration(lo+rand.IntN(hi-lo+1)) * time.Second
		}
		return time.Duration(lo) * time.Second
	}
	return time.Duration(c.AutoModeFixedDelay) * time.Second
}

// Run blocks until ctx is done. Turns run one at a time.
func (a *Autopilot) Run(ctx context.Context) {
	ticker := time.NewTicker(a.Poll)
	defer ticker.Stop()

	log.Info().Dur("poll", a.Poll).Msg("🛩️  Autopilot started")
	next := make(map[string]time.Time) // channel ID → earliest next turn

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Autopilot stopped")
			return
		case <-ticker.C:
		}

		channels, err := a.svc.ListChannels(ctx)
		if err != nil {
			log.Error().Err(err).Msg("Autopilot failed to list channels")
			continue
		}

		active := make(map[string]bool, len(channels))
		for i := range channels {
			c := &channels[i]
			if c.Type != models.ChannelSwarm || !c.IsAutoModeActive {
				continue
			}
			active[c.ID] = true

			at, scheduled := next[c.ID]
			if !scheduled {
				next[c.ID] = time.Now().Add(a.Delay(c))
				continue
			}
			if time.Now().Before(at) {
				continue
			}

			out, err := a.svc.ContinueConversation(ctx, c.ID)
			if err != nil {
				log.Warn().Err(err).Str("channel", c.Name).Msg("Autopilot turn failed")
			} else {
				log.Debug().Str("channel", c.Name).Int("messages", len(out)).Msg("Autopilot turn complete")
			}
			next[c.ID] = time.Now().Add(a.Delay(c))

			if ctx.Err() != nil {
				return
			}
		}

		for id := range next {
			if !active[id] {
				delete(next, id)
			}
		}
	}
}
