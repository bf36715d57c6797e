// Package store provides the storage interface and implementations for the Legion control plane.
// The in-memory store snapshots to a JSON file; the SQLite store keeps every
// collection as JSON documents in a single table.
package store

import (
	"context"
	"errors"

	"github.com/agentoven/legion/pkg/models"
)

// Store is the primary storage interface for the control plane.
// The orchestrator and handlers depend on this interface only, so the
// in-memory and SQLite backends are interchangeable.
type Store interface {
	MinionStore
	ChannelStore
	MessageStore
	APIKeyStore

	// Ping checks if the backend is reachable.
	Ping(ctx context.Context) error

	// Close releases all resources held by the store.
	Close() error

	// Migrate prepares the backend schema.
	Migrate(ctx context.Context) error
}

// ── Minion Store ────────────────────────────────────────────

// MinionStore persists minion configs. ListMinions returns minions in
// creation order.
type MinionStore interface {
	ListMinions(ctx context.Context) ([]models.Minion, error)
	GetMinion(ctx context.Context, id string) (*models.Minion, error)
	SaveMinion(ctx context.Context, minion *models.Minion) error // upsert
	DeleteMinion(ctx context.Context, id string) error
}

// ── Channel Store ───────────────────────────────────────────

type ChannelStore interface {
	ListChannels(ctx context.Context) ([]models.Channel, error)
	GetChannel(ctx context.Context, id string) (*models.Channel, error)
	SaveChannel(ctx context.Context, channel *models.Channel) error // upsert

	// DeleteChannel removes the channel and every message posted to it.
	DeleteChannel(ctx context.Context, id string) error
}

// ── Message Store ───────────────────────────────────────────

type MessageStore interface {
	SaveMessage(ctx context.Context, msg *models.ChatMessage) error // upsert

	// ListMessages returns a channel's messages sorted by timestamp.
	// Messages with equal timestamps keep insertion order.
	ListMessages(ctx context.Context, channelID string) ([]models.ChatMessage, error)

	DeleteMessages(ctx context.Context, ids ...string) error
}

// ── API Key Store ───────────────────────────────────────────

// APIKeyStore persists the credential pool. ListAPIKeys returns keys in
// pool (insertion) order; upserting an existing key keeps its position.
type APIKeyStore interface {
	ListAPIKeys(ctx context.Context) ([]models.APIKey, error)
	SaveAPIKey(ctx context.Context, key *models.APIKey) error
	DeleteAPIKey(ctx context.Context, id string) error
}

// ── Errors ──────────────────────────────────────────────────

// ErrNotFound is returned when a requested entity does not exist.
type ErrNotFound struct {
	Entity string
	Key    string
}

func (e *ErrNotFound) Error() string {
	return e.Entity + " not found: " + e.Key
}

// IsNotFound reports whether err is (or wraps) an *ErrNotFound.
func IsNotFound(err error) bool {
	var nf *ErrNotFound
	return errors.As(err, &nf)
}
