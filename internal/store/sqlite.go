package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/agentoven/legion/pkg/models"
	"github.com/rs/zerolog/log"

	_ "modernc.org/sqlite"
)

// Collection names for the document table.
const (
	collMinions  = "minions"
	collChannels = "channels"
	collMessages = "messages"
	collAPIKeys  = "api_keys"
)

// documentsDDL keeps every collection in one table. seq is assigned on first
// insert and survives upserts, which gives creation/pool order for free.
const documentsDDL = `
CREATE TABLE IF NOT EXISTS documents (
	seq        INTEGER PRIMARY KEY AUTOINCREMENT,
	collection TEXT    NOT NULL,
	id         TEXT    NOT NULL,
	channel_id TEXT    NOT NULL DEFAULT '',
	ts         INTEGER NOT NULL DEFAULT 0,
	data       TEXT    NOT NULL,
	UNIQUE (collection, id)
);

CREATE INDEX IF NOT EXISTS documents_by_channel ON documents (collection, channel_id, ts, seq);
`

// SQLiteStore implements Store as a JSON document store on SQLite.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

// NewSQLiteStore opens (or creates) the database at path and applies the schema.
func NewSQLiteStore(ctx context.Context, path string) (*SQLiteStore, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
			return nil, fmt.Errorf("create sqlite dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	if path == ":memory:" {
		// Each connection would otherwise get its own empty database.
		db.SetMaxOpenConns(1)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite %s: %w", path, err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set WAL mode on %s: %w", path, err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy_timeout on %s: %w", path, err)
	}

	s := &SQLiteStore{db: db, path: path}
	if err := s.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}

	log.Info().Str("path", path).Msg("SQLite store configured")
	return s, nil
}

func (s *SQLiteStore) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close sqlite %s: %w", s.path, err)
	}
	return nil
}

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, documentsDDL); err != nil {
		return fmt.Errorf("apply documents schema: %w", err)
	}
	return nil
}

// ── Document helpers ────────────────────────────────────────

func (s *SQLiteStore) put(ctx context.Context, coll, id, channelID string, ts int64, doc any) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal %s %s: %w", coll, id, err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO documents (collection, id, channel_id, ts, data) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (collection, id) DO UPDATE SET
			channel_id = excluded.channel_id,
			ts         = excluded.ts,
			data       = excluded.data`,
		coll, id, channelID, ts, string(data))
	if err != nil {
		return fmt.Errorf("put %s %s: %w", coll, id, err)
	}
	return nil
}

func getDoc[T any](ctx context.Context, db *sql.DB, coll, entity, id string) (*T, error) {
	var data string
	err := db.QueryRowContext(ctx,
		`SELECT data FROM documents WHERE collection = ? AND id = ?`, coll, id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &ErrNotFound{Entity: entity, Key: id}
	}
	if err != nil {
		return nil, fmt.Errorf("get %s %s: %w", coll, id, err)
	}
	var v T
	if err := json.Unmarshal([]byte(data), &v); err != nil {
		return nil, fmt.Errorf("decode %s %s: %w", coll, id, err)
	}
	return &v, nil
}

func queryDocs[T any](ctx context.Context, db *sql.DB, query string, args ...any) ([]T, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query documents: %w", err)
	}
	defer rows.Close()

	result := make([]T, 0)
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		var v T
		if err := json.Unmarshal([]byte(data), &v); err != nil {
			return nil, fmt.Errorf("decode document: %w", err)
		}
		result = append(result, v)
	}
	return result, rows.Err()
}

func (s *SQLiteStore) remove(ctx context.Context, coll, entity, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM documents WHERE collection = ? AND id = ?`, coll, id)
	if err != nil {
		return fmt.Errorf("delete %s %s: %w", coll, id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &ErrNotFound{Entity: entity, Key: id}
	}
	return nil
}

// ── Minion Store ────────────────────────────────────────────

func (s *SQLiteStore) ListMinions(ctx context.Context) ([]models.Minion, error) {
	return queryDocs[models.Minion](ctx, s.db,
		`SELECT data FROM documents WHERE collection = ? ORDER BY seq`, collMinions)
}

func (s *SQLiteStore) GetMinion(ctx context.Context, id string) (*models.Minion, error) {
	return getDoc[models.Minion](ctx, s.db, collMinions, "minion", id)
}

func (s *SQLiteStore) SaveMinion(ctx context.Context, minion *models.Minion) error {
	return s.put(ctx, collMinions, minion.ID, "", minion.CreatedAt.UnixNano(), minion)
}

func (s *SQLiteStore) DeleteMinion(ctx context.Context, id string) error {
	return s.remove(ctx, collMinions, "minion", id)
}

// ── Channel Store ───────────────────────────────────────────

func (s *SQLiteStore) ListChannels(ctx context.Context) ([]models.Channel, error) {
	return queryDocs[models.Channel](ctx, s.db,
		`SELECT data FROM documents WHERE collection = ? ORDER BY json_extract(data, '$.name'), seq`, collChannels)
}

func (s *SQLiteStore) GetChannel(ctx context.Context, id string) (*models.Channel, error) {
	return getDoc[models.Channel](ctx, s.db, collChannels, "channel", id)
}

func (s *SQLiteStore) SaveChannel(ctx context.Context, channel *models.Channel) error {
	return s.put(ctx, collChannels, channel.ID, channel.ID, 0, channel)
}

func (s *SQLiteStore) DeleteChannel(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete channel: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `DELETE FROM documents WHERE collection = ? AND id = ?`, collChannels, id)
	if err != nil {
		return fmt.Errorf("delete channel %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return &ErrNotFound{Entity: "channel", Key: id}
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM documents WHERE collection = ? AND channel_id = ?`, collMessages, id); err != nil {
		return fmt.Errorf("delete messages of channel %s: %w", id, err)
	}
	return tx.Commit()
}

// ── Message Store ───────────────────────────────────────────

func (s *SQLiteStore) SaveMessage(ctx context.Context, msg *models.ChatMessage) error {
	return s.put(ctx, collMessages, msg.ID, msg.ChannelID, msg.Timestamp.UnixNano(), msg)
}

func (s *SQLiteStore) ListMessages(ctx context.Context, channelID string) ([]models.ChatMessage, error) {
	return queryDocs[models.ChatMessage](ctx, s.db,
		`SELECT data FROM documents WHERE collection = ? AND channel_id = ? ORDER BY ts, seq`,
		collMessages, channelID)
}

func (s *SQLiteStore) DeleteMessages(ctx context.Context, ids ...string) error {
	for _, id := range ids {
		if _, err := s.db.ExecContext(ctx,
			`DELETE FROM documents WHERE collection = ? AND id = ?`, collMessages, id); err != nil {
			return fmt.Errorf("delete message %s: %w", id, err)
		}
	}
	return nil
}

// ── API Key Store ───────────────────────────────────────────

func (s *SQLiteStore) ListAPIKeys(ctx context.Context) ([]models.APIKey, error) {
	return queryDocs[models.APIKey](ctx, s.db,
		`SELECT data FROM documents WHERE collection = ? ORDER BY seq`, collAPIKeys)
}

func (s *SQLiteStore) SaveAPIKey(ctx context.Context, key *models.APIKey) error {
	return s.put(ctx, collAPIKeys, key.ID, "", 0, key)
}

func (s *SQLiteStore) DeleteAPIKey(ctx context.Context, id string) error {
	return s.remove(ctx, collAPIKeys, "api key", id)
}
