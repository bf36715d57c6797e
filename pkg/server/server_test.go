package server_test

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/agentoven/legion/internal/config"
	"github.com/agentoven/legion/pkg/server"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		Version:       "test",
		CommanderName: "Steven",
		Store:         config.StoreConfig{Backend: "memory"},
		LLM:           config.LLMConfig{KeyBurst: 1},
		CORSOrigins:   []string{"*"},
	}
}

func TestNew_MemoryWithSeed(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	cfg.SeedFile = filepath.Join(t.TempDir(), "seed.yaml")
	require.NoError(t, os.WriteFile(cfg.SeedFile, []byte(`
minions:
  - id: alpha
    name: Alpha
    model_id: gemini-2.5-flash
channels:
  - id: general
    name: general
    type: user_minion_group
    members: [Alpha]
`), 0o600))

	var logs bytes.Buffer
	prev := log.Logger
	log.Logger = zerolog.New(&logs)
	t.Cleanup(func() { log.Logger = prev })

	srv, err := server.New(ctx, cfg)
	require.NoError(t, err)
	t.Cleanup(func() {
		srv.Store.Close()
		srv.ShutdownFunc(ctx)
	})
	assert.Equal(t, 1, strings.Count(logs.String(), "Seed applied"))
	assert.Nil(t, srv.Autopilot)
	assert.Nil(t, srv.Janitor)
	assert.Equal(t, "Steven", srv.Legion.CommanderName())

	minions, err := srv.Legion.ListMinions(ctx)
	require.NoError(t, err)
	require.Len(t, minions, 1)
	assert.Equal(t, "Alpha", minions[0].Name)

	for _, path := range []string{"/health", "/metrics", "/api/channels"} {
		rec := httptest.NewRecorder()
		srv.Handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusOK, rec.Code, path)
	}
}

func TestNew_SQLite(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	cfg.Store = config.StoreConfig{Backend: "sqlite", SQLitePath: filepath.Join(t.TempDir(), "legion.db")}
	cfg.Autopilot = true
	cfg.Retention = config.RetentionConfig{MaxMessages: 100, ArchiveDir: t.TempDir()}

	srv, err := server.New(ctx, cfg)
	require.NoError(t, err)
	t.Cleanup(func() {
		srv.Store.Close()
		srv.ShutdownFunc(ctx)
	})
	assert.NotNil(t, srv.Autopilot)
	require.NotNil(t, srv.Janitor)
	assert.Empty(t, srv.Janitor.RunCycle(ctx).Errors)
	require.NoError(t, srv.Store.Ping(ctx))
}

func TestNew_UnknownBackend(t *testing.T) {
	cfg := testConfig(t)
	cfg.Store.Backend = "etcd"
	_, err := server.New(context.Background(), cfg)
	assert.ErrorContains(t, err, "unknown store backend")
}

func TestNew_BadSeed(t *testing.T) {
	cfg := testConfig(t)
	cfg.SeedFile = filepath.Join(t.TempDir(), "missing.yaml")
	_, err := server.New(context.Background(), cfg)
	assert.Error(t, err)
}
