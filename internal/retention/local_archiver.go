package retention

import (
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/agentoven/legion/pkg/models"
	"github.com/rs/zerolog/log"
)

// LocalFileArchiver writes expired messages as JSONL files:
//
//	{basePath}/{channel}/2026-02-20T15-04-05.000000000Z.jsonl[.gz]
type LocalFileArchiver struct {
	basePath string
	compress bool
}

// NewLocalFileArchiver creates a file-based archiver rooted at basePath.
func NewLocalFileArchiver(basePath string, compress bool) *LocalFileArchiver {
	return &LocalFileArchiver{basePath: basePath, compress: compress}
}

func (a *LocalFileArchiver) Kind() string { return "local" }

func (a *LocalFileArchiver) Archive(_ context.Context, channelID string, msgs []models.ChatMessage) (string, error) {
	dir := filepath.Join(a.basePath, filepath.Base(channelID))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create archive dir: %w", err)
	}

	name := time.Now().UTC().Format("2006-01-02T15-04-05.000000000Z") + ".jsonl"
	if a.compress {
		name += ".gz"
	}
	path := filepath.Join(dir, name)

	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("create archive file: %w", err)
	}

	var w io.WriteCloser = nopCloser{f}
	if a.compress {
		w = gzip.NewWriter(f)
	}
	enc := json.NewEncoder(w)
	for i := range msgs {
		if err = enc.Encode(&msgs[i]); err != nil {
			err = fmt.Errorf("encode message %s: %w", msgs[i].ID, err)
			break
		}
	}
	if err = errors.Join(err, w.Close(), f.Close()); err != nil {
		os.Remove(path)
		return "", err
	}

	log.Debug().
		Str("path", path).
		Int("count", len(msgs)).
		Str("channel", channelID).
		Msg("Archived messages to local file")
	return path, nil
}

type nopCloser struct{ io.Writer }

func (nopCloser) Close() error { return nil }
