// Package keys selects the API credential used for each LLM call.
//
// Selection order:
//  1. the minion's assigned key, if it is still in the pool
//  2. round-robin over the shared pool
//  3. the process-wide default key
//
// The round-robin cursor is shared by every minion and every turn. Concurrent
// callers are serialized on a mutex, so the cursor never skips a slot, but
// which caller gets which slot is up to the scheduler.
package keys

import (
	"context"
	"sync"

	"github.com/agentoven/legion/pkg/models"
	"github.com/rs/zerolog/log"
)

// DefaultKeyName labels the fallback credential in system logs.
const DefaultKeyName = "Default Server Key"

// Pool lists the shared credential pool in pool order.
type Pool interface {
	ListAPIKeys(ctx context.Context) ([]models.APIKey, error)
}

// Selector implements the assigned → round-robin → default policy.
type Selector struct {
	pool       Pool
	defaultKey string

	mu     sync.Mutex
	cursor int
}

// NewSelector creates a selector over pool. defaultKey may be empty, in which
// case an empty pool yields an empty secret.
func NewSelector(pool Pool, defaultKey string) *Selector {
	return &Selector{pool: pool, defaultKey: defaultKey}
}

// Select picks the credential for one call. It never fails: a pool that
// cannot be listed is treated as empty.
func (s *Selector) Select(ctx context.Context, minion *models.Minion) models.SelectedKey {
	keys, err := s.pool.ListAPIKeys(ctx)
	if err != nil {
		log.Warn().Err(err).Str("minion", minion.Name).Msg("Cannot list API keys, using default key")
		keys = nil
	}

	if minion.APIKeyID != "" {
		for _, k := range keys {
			if k.ID == minion.APIKeyID {
				return models.SelectedKey{Key: k.Key, Name: k.Name, Method: models.KeyAssigned}
			}
		}
	}

	if len(keys) > 0 {
		s.mu.Lock()
		// The pool may have shrunk since the cursor last moved.
		idx := s.cursor % len(keys)
		s.cursor = (idx + 1) % len(keys)
		s.mu.Unlock()

		k := keys[idx]
		return models.SelectedKey{Key: k.Key, Name: k.Name, Method: models.KeyLoadBalanced}
	}

	return models.SelectedKey{Key: s.defaultKey, Name: DefaultKeyName, Method: models.KeyNone}
}
