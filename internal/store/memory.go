// In-memory Store implementation, used for local dev and tests. Supports
// file-based snapshot persistence so data survives restarts.

package store

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/agentoven/legion/pkg/models"
	"github.com/rs/zerolog/log"
)

// snapshot is the JSON-serializable shape written to disk. Slices keep
// creation and pool order across restarts.
type snapshot struct {
	Minions  []*models.Minion      `json:"minions"`
	Channels []*models.Channel     `json:"channels"`
	Messages []*models.ChatMessage `json:"messages"` // insertion order
	APIKeys  []*models.APIKey      `json:"api_keys"` // pool order
}

// MemoryStore implements Store with in-memory maps.
type MemoryStore struct {
	mu          sync.RWMutex
	minions     map[string]*models.Minion // key: id
	minionOrder []string                  // creation order
	channels    map[string]*models.Channel
	messages    map[string][]*models.ChatMessage // key: channel id, insertion order
	messageChan map[string]string                // message id → channel id
	apiKeys     []*models.APIKey                 // pool order

	// Persistence
	snapshotPath string        // empty = no persistence
	saveMu       sync.Mutex    // guards file writes
	saveCh       chan struct{} // debounce channel
	doneCh       chan struct{} // signals background goroutines to stop
}

// NewMemoryStore creates a new in-memory store.
// If dataDir is non-empty, data is persisted to dataDir/legion.json.
func NewMemoryStore(dataDir string) *MemoryStore {
	m := &MemoryStore{
		minions:     make(map[string]*models.Minion),
		channels:    make(map[string]*models.Channel),
		messages:    make(map[string][]*models.ChatMessage),
		messageChan: make(map[string]string),
		saveCh:      make(chan struct{}, 1),
		doneCh:      make(chan struct{}),
	}

	if dataDir != "" {
		m.snapshotPath = filepath.Join(dataDir, "legion.json")
		if err := os.MkdirAll(dataDir, 0755); err != nil {
			log.Warn().Err(err).Str("dir", dataDir).Msg("Cannot create data dir, persistence disabled")
			m.snapshotPath = ""
		}
	}

	if m.snapshotPath != "" {
		m.loadSnapshot()
		go m.saveLoop()
	}

	log.Info().Str("snapshot", m.snapshotPath).Msg("Memory store configured")
	return m
}

// requestSave signals the background goroutine to persist data.
// Non-blocking: coalesces multiple rapid writes into one disk flush.
func (m *MemoryStore) requestSave() {
	if m.snapshotPath == "" {
		return
	}
	select {
	case m.saveCh <- struct{}{}:
	default:
	}
}

// saveLoop debounces save requests (max 1 write per 500ms).
func (m *MemoryStore) saveLoop() {
	for {
		select {
		case <-m.doneCh:
			return
		case <-m.saveCh:
			time.Sleep(500 * time.Millisecond)
			m.saveSnapshot()
		}
	}
}

func (m *MemoryStore) saveSnapshot() {
	m.mu.RLock()
	snap := snapshot{
		Minions:  make([]*models.Minion, 0, len(m.minionOrder)),
		Channels: make([]*models.Channel, 0, len(m.channels)),
		APIKeys:  m.apiKeys,
	}
	for _, id := range m.minionOrder {
		snap.Minions = append(snap.Minions, m.minions[id])
	}
	for _, c := range m.channels {
		snap.Channels = append(snap.Channels, c)
	}
	for _, msgs := range m.messages {
		snap.Messages = append(snap.Messages, msgs...)
	}
	data, err := json.MarshalIndent(snap, "", "  ")
	m.mu.RUnlock()

	if err != nil {
		log.Error().Err(err).Msg("Failed to marshal snapshot")
		return
	}

	m.saveMu.Lock()
	defer m.saveMu.Unlock()

	// Write to temp file then rename for atomicity
	tmp := m.snapshotPath + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		log.Error().Err(err).Str("path", tmp).Msg("Failed to write snapshot tmp")
		return
	}
	if err := os.Rename(tmp, m.snapshotPath); err != nil {
		log.Error().Err(err).Str("path", m.snapshotPath).Msg("Failed to rename snapshot")
		return
	}

	log.Debug().Str("path", m.snapshotPath).Msg("Snapshot saved")
}

func (m *MemoryStore) loadSnapshot() {
	data, err := os.ReadFile(m.snapshotPath)
	if err != nil {
		if os.IsNotExist(err) {
			log.Info().Str("path", m.snapshotPath).Msg("No snapshot file found, starting fresh")
			return
		}
		log.Warn().Err(err).Str("path", m.snapshotPath).Msg("Failed to read snapshot")
		return
	}

	var snap snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		log.Error().Err(err).Str("path", m.snapshotPath).Msg("Failed to parse snapshot, starting fresh")
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for _, mn := range snap.Minions {
		if _, ok := m.minions[mn.ID]; !ok {
			m.minionOrder = append(m.minionOrder, mn.ID)
		}
		m.minions[mn.ID] = mn
	}
	for _, c := range snap.Channels {
		m.channels[c.ID] = c
	}
	for _, msg := range snap.Messages {
		m.messages[msg.ChannelID] = append(m.messages[msg.ChannelID], msg)
		m.messageChan[msg.ID] = msg.ChannelID
	}
	m.apiKeys = snap.APIKeys

	log.Info().
		Int("minions", len(m.minions)).
		Int("channels", len(m.channels)).
		Int("messages", len(snap.Messages)).
		Int("api_keys", len(m.apiKeys)).
		Str("path", m.snapshotPath).
		Msg("Snapshot loaded")
}

func (m *MemoryStore) Ping(_ context.Context) error { return nil }

// Close stops background goroutines and forces a final snapshot write.
// Safe to call multiple times.
func (m *MemoryStore) Close() error {
	select {
	case <-m.doneCh:
		return nil
	default:
		close(m.doneCh)
	}

	if m.snapshotPath != "" {
		log.Info().Msg("Flushing final snapshot before shutdown...")
		m.saveSnapshot()
	}

	log.Info().Msg("Memory store closed")
	return nil
}

func (m *MemoryStore) Migrate(_ context.Context) error { return nil }

// ── Minion Store ────────────────────────────────────────────

func (m *MemoryStore) ListMinions(_ context.Context) ([]models.Minion, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	result := make([]models.Minion, 0, len(m.minionOrder))
	for _, id := range m.minionOrder {
		result = append(result, *cloneMinion(m.minions[id]))
	}
	return result, nil
}

func (m *MemoryStore) GetMinion(_ context.Context, id string) (*models.Minion, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	mn, ok := m.minions[id]
	if !ok {
		return nil, &ErrNotFound{Entity: "minion", Key: id}
	}
	return cloneMinion(mn), nil
}

func (m *MemoryStore) SaveMinion(_ context.Context, minion *models.Minion) error {
	m.mu.Lock()
	if _, ok := m.minions[minion.ID]; !ok {
		m.minionOrder = append(m.minionOrder, minion.ID)
	}
	m.minions[minion.ID] = cloneMinion(minion)
	m.mu.Unlock()
	m.requestSave()
	return nil
}

func (m *MemoryStore) DeleteMinion(_ context.Context, id string) error {
	m.mu.Lock()
	if _, ok := m.minions[id]; !ok {
		m.mu.Unlock()
		return &ErrNotFound{Entity: "minion", Key: id}
	}
	delete(m.minions, id)
	for i, oid := range m.minionOrder {
		if oid == id {
			m.minionOrder = append(m.minionOrder[:i], m.minionOrder[i+1:]...)
			break
		}
	}
	m.mu.Unlock()
	m.requestSave()
	return nil
}

// ── Channel Store ───────────────────────────────────────────

func (m *MemoryStore) ListChannels(_ context.Context) ([]models.Channel, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	result := make([]models.Channel, 0, len(m.channels))
	for _, c := range m.channels {
		result = append(result, *cloneChannel(c))
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result, nil
}

func (m *MemoryStore) GetChannel(_ context.Context, id string) (*models.Channel, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.channels[id]
	if !ok {
		return nil, &ErrNotFound{Entity: "channel", Key: id}
	}
	return cloneChannel(c), nil
}

func (m *MemoryStore) SaveChannel(_ context.Context, channel *models.Channel) error {
	m.mu.Lock()
	m.channels[channel.ID] = cloneChannel(channel)
	m.mu.Unlock()
	m.requestSave()
	return nil
}

func (m *MemoryStore) DeleteChannel(_ context.Context, id string) error {
	m.mu.Lock()
	if _, ok := m.channels[id]; !ok {
		m.mu.Unlock()
		return &ErrNotFound{Entity: "channel", Key: id}
	}
	delete(m.channels, id)
	for _, msg := range m.messages[id] {
		delete(m.messageChan, msg.ID)
	}
	delete(m.messages, id)
	m.mu.Unlock()
	m.requestSave()
	return nil
}

// ── Message Store ───────────────────────────────────────────

func (m *MemoryStore) SaveMessage(_ context.Context, msg *models.ChatMessage) error {
	cp := cloneMessage(msg)

	m.mu.Lock()
	if prevChan, ok := m.messageChan[msg.ID]; ok {
		// Upsert in place so insertion order is kept.
		msgs := m.messages[prevChan]
		for i, existing := range msgs {
			if existing.ID == msg.ID {
				if prevChan == msg.ChannelID {
					msgs[i] = cp
				} else {
					m.messages[prevChan] = append(msgs[:i], msgs[i+1:]...)
					m.messages[msg.ChannelID] = append(m.messages[msg.ChannelID], cp)
				}
				break
			}
		}
	} else {
		m.messages[msg.ChannelID] = append(m.messages[msg.ChannelID], cp)
	}
	m.messageChan[msg.ID] = msg.ChannelID
	m.mu.Unlock()
	m.requestSave()
	return nil
}

func (m *MemoryStore) ListMessages(_ context.Context, channelID string) ([]models.ChatMessage, error) {
	m.mu.RLock()
	msgs := m.messages[channelID]
	result := make([]models.ChatMessage, 0, len(msgs))
	for _, msg := range msgs {
		result = append(result, *cloneMessage(msg))
	}
	m.mu.RUnlock()

	sort.SliceStable(result, func(i, j int) bool {
		return result[i].Timestamp.Before(result[j].Timestamp)
	})
	return result, nil
}

func (m *MemoryStore) DeleteMessages(_ context.Context, ids ...string) error {
	m.mu.Lock()
	for _, id := range ids {
		chanID, ok := m.messageChan[id]
		if !ok {
			continue
		}
		msgs := m.messages[chanID]
		for i, msg := range msgs {
			if msg.ID == id {
				m.messages[chanID] = append(msgs[:i], msgs[i+1:]...)
				break
			}
		}
		delete(m.messageChan, id)
	}
	m.mu.Unlock()
	m.requestSave()
	return nil
}

// ── API Key Store ───────────────────────────────────────────

func (m *MemoryStore) ListAPIKeys(_ context.Context) ([]models.APIKey, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	result := make([]models.APIKey, 0, len(m.apiKeys))
	for _, k := range m.apiKeys {
		result = append(result, *k)
	}
	return result, nil
}

func (m *MemoryStore) SaveAPIKey(_ context.Context, key *models.APIKey) error {
	cp := *key
	m.mu.Lock()
	replaced := false
	for i, k := range m.apiKeys {
		if k.ID == key.ID {
			m.apiKeys[i] = &cp
			replaced = true
			break
		}
	}
	if !replaced {
		m.apiKeys = append(m.apiKeys, &cp)
	}
	m.mu.Unlock()
	m.requestSave()
	return nil
}

func (m *MemoryStore) DeleteAPIKey(_ context.Context, id string) error {
	m.mu.Lock()
	for i, k := range m.apiKeys {
		if k.ID == id {
			m.apiKeys = append(m.apiKeys[:i], m.apiKeys[i+1:]...)
			m.mu.Unlock()
			m.requestSave()
			return nil
		}
	}
	m.mu.Unlock()
	return &ErrNotFound{Entity: "api key", Key: id}
}

// ── Copy helpers ────────────────────────────────────────────

// Stored entities never share maps or slices with callers.

func cloneMinion(src *models.Minion) *models.Minion {
	cp := *src
	if src.OpinionScores != nil {
		cp.OpinionScores = make(map[string]int, len(src.OpinionScores))
		for k, v := range src.OpinionScores {
			cp.OpinionScores[k] = v
		}
	}
	cp.LastDiaryState = clonePlan(src.LastDiaryState)
	return &cp
}

func cloneChannel(src *models.Channel) *models.Channel {
	cp := *src
	if src.Members != nil {
		cp.Members = append([]string(nil), src.Members...)
	}
	if src.AutoModeRandomDelay != nil {
		r := *src.AutoModeRandomDelay
		cp.AutoModeRandomDelay = &r
	}
	return &cp
}

func cloneMessage(src *models.ChatMessage) *models.ChatMessage {
	cp := *src
	cp.InternalDiary = clonePlan(src.InternalDiary)
	return &cp
}

func clonePlan(src *models.PerceptionPlan) *models.PerceptionPlan {
	if src == nil {
		return nil
	}
	cp := *src
	if src.FinalOpinions != nil {
		cp.FinalOpinions = make(map[string]int, len(src.FinalOpinions))
		for k, v := range src.FinalOpinions {
			cp.FinalOpinions[k] = v
		}
	}
	if src.OpinionUpdates != nil {
		cp.OpinionUpdates = append([]models.OpinionUpdate(nil), src.OpinionUpdates...)
	}
	return &cp
}
