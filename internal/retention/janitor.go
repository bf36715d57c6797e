// Package retention bounds channel history. A janitor periodically removes
// messages older than the configured age, or beyond the configured count,
// optionally archiving them first.
//
// Archive failures are fail-safe: messages are NOT deleted when the
// archiver could not write them.
package retention

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/agentoven/legion/pkg/models"
	"github.com/rs/zerolog/log"
)

// Store is the slice of the data store the janitor needs.
type Store interface {
	ListChannels(ctx context.Context) ([]models.Channel, error)
	ListMessages(ctx context.Context, channelID string) ([]models.ChatMessage, error)
	DeleteMessages(ctx context.Context, ids ...string) error
}

// Archiver persists messages before they are purged.
type Archiver interface {
	Kind() string
	Archive(ctx context.Context, channelID string, msgs []models.ChatMessage) (uri string, err error)
}

// Policy says which messages expire. Zero fields disable that bound.
type Policy struct {
	MaxAge      time.Duration
	MaxMessages int
}

// Enabled reports whether any bound is set.
func (p Policy) Enabled() bool {
	return p.MaxAge > 0 || p.MaxMessages > 0
}

// CycleStats tracks what happened in a single retention cycle.
type CycleStats struct {
	Channels int
	Archived int
	Purged   int
	URIs     []string
	Errors   []error
}

// Janitor periodically archives and purges expired channel history.
type Janitor struct {
	store    Store
	policy   Policy
	interval time.Duration
	archiver Archiver
	now      func() time.Time
}

// NewJanitor creates a janitor that sweeps every interval.
func NewJanitor(s Store, policy Policy, interval time.Duration) *Janitor {
	if interval <= 0 {
		interval = time.Hour
	}
	return &Janitor{store: s, policy: policy, interval: interval, now: time.Now}
}

// SetArchiver makes the janitor archive before purging.
func (j *Janitor) SetArchiver(a Archiver) {
	j.archiver = a
	log.Info().Str("kind", a.Kind()).Msg("Archive driver registered")
}

// Start runs sweeps until ctx is canceled, beginning with one immediately.
func (j *Janitor) Start(ctx context.Context) {
	log.Info().
		Dur("interval", j.interval).
		Dur("max_age", j.policy.MaxAge).
		Int("max_messages", j.policy.MaxMessages).
		Msg("🧹 Retention janitor started")

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	j.RunCycle(ctx)
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Retention janitor stopped")
			return
		case <-ticker.C:
			j.RunCycle(ctx)
		}
	}
}

// RunCycle performs one sweep across all channels.
func (j *Janitor) RunCycle(ctx context.Context) CycleStats {
	var stats CycleStats
	if !j.policy.Enabled() {
		return stats
	}
	start := time.Now()

	channels, err := j.store.ListChannels(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("Retention janitor: failed to list channels")
		stats.Errors = append(stats.Errors, err)
		return stats
	}

	for _, c := range channels {
		stats.Channels++
		if err := j.processChannel(ctx, c.ID, &stats); err != nil {
			log.Warn().Err(err).Str("channel", c.ID).Msg("Retention cycle error")
			stats.Errors = append(stats.Errors, err)
		}
	}

	if stats.Purged > 0 || stats.Archived > 0 {
		log.Info().
			Int("purged", stats.Purged).
			Int("archived", stats.Archived).
			Int("channels", stats.Channels).
			Dur("elapsed", time.Since(start)).
			Msg("Retention cycle complete")
	}
	return stats
}

func (j *Janitor) processChannel(ctx context.Context, channelID string, stats *CycleStats) error {
	msgs, err := j.store.ListMessages(ctx, channelID)
	if err != nil {
		return fmt.Errorf("list messages: %w", err)
	}
	expired := j.expired(msgs)
	if len(expired) == 0 {
		return nil
	}

	if j.archiver != nil {
		uri, err := j.archiver.Archive(ctx, channelID, expired)
		if err != nil {
			return fmt.Errorf("archive to %s, skipping purge: %w", j.archiver.Kind(), err)
		}
		stats.Archived += len(expired)
		stats.URIs = append(stats.URIs, uri)
	}

	ids := make([]string, len(expired))
	for i := range expired {
		ids[i] = expired[i].ID
	}
	if err := j.store.DeleteMessages(ctx, ids...); err != nil {
		return fmt.Errorf("purge messages: %w", err)
	}
	stats.Purged += len(ids)
	return nil
}

// expired returns the oldest messages that fall outside the policy.
// msgs must be in timestamp order.
func (j *Janitor) expired(msgs []models.ChatMessage) []models.ChatMessage {
	cut := 0
	if j.policy.MaxAge > 0 {
		cutoff := j.now().Add(-j.policy.MaxAge)
		cut = sort.Search(len(msgs), func(i int) bool {
			return !msgs[i].Timestamp.Before(cutoff)
		})
	}
	if n := j.policy.MaxMessages; n > 0 && len(msgs)-cut > n {
		cut = len(msgs) - n
	}
	return msgs[:cut]
}
