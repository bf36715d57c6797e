package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/agentoven/legion/internal/api"
	"github.com/agentoven/legion/internal/api/handlers"
	"github.com/agentoven/legion/internal/config"
	"github.com/agentoven/legion/internal/keys"
	"github.com/agentoven/legion/internal/legion"
	"github.com/agentoven/legion/internal/llm"
	"github.com/agentoven/legion/internal/store"
	"github.com/agentoven/legion/pkg/models"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// chattyLLM makes every minion speak once with a fixed reply.
type chattyLLM struct{}

func (chattyLLM) Generate(_ context.Context, req *llm.Request) (string, error) {
	if !req.JSON {
		return "At your service.", nil
	}
	return `{
		"perceptionAnalysis": "the commander spoke",
		"opinionUpdates": [{"participantName": "Commander", "newScore": 60, "reasonForChange": "polite"}],
		"finalOpinions": {"Commander": 60},
		"selectedResponseMode": "",
		"personalNotes": "",
		"action": "SPEAK",
		"responsePlan": "greet back",
		"predictedResponseTime": 3
	}`, nil
}

func newTestRouter(t *testing.T, gen llm.Generator, accessKeys ...string) (http.Handler, *legion.Service) {
	t.Helper()
	s := store.NewMemoryStore("")
	t.Cleanup(func() { s.Close() })

	reg := prometheus.NewRegistry()
	svc := legion.NewService(s, keys.NewSelector(s, "server-key"), gen, legion.Config{},
		legion.WithMetrics(legion.NewMetrics(reg)))
	require.NoError(t, svc.Init(context.Background()))

	cfg := &config.Config{
		Version:     "test",
		CORSOrigins: []string{"*"},
		Auth:        config.AuthConfig{AccessKeys: accessKeys},
	}
	return api.NewRouter(cfg, handlers.New(svc), promhttp.HandlerFor(reg, promhttp.HandlerOpts{})), svc
}

func newTestServer(t *testing.T, accessKeys ...string) *httptest.Server {
	t.Helper()
	router, _ := newTestRouter(t, chattyLLM{}, accessKeys...)
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return srv
}

func do(t *testing.T, srv *httptest.Server, method, path string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, srv.URL+path, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func TestInfoEndpoints(t *testing.T) {
	srv := newTestServer(t)

	resp := do(t, srv, http.MethodGet, "/", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	welcome := decodeBody[map[string]string](t, resp)
	assert.Equal(t, "Welcome to the Legion control plane, Commander Commander!", welcome["message"])

	resp = do(t, srv, http.MethodGet, "/health", nil)
	assert.Equal(t, "healthy", decodeBody[map[string]string](t, resp)["status"])

	resp = do(t, srv, http.MethodGet, "/version", nil)
	assert.Equal(t, "test", decodeBody[map[string]string](t, resp)["version"])
}

func TestConversationOverHTTP(t *testing.T) {
	srv := newTestServer(t)

	resp := do(t, srv, http.MethodPost, "/api/minions", models.MinionPayload{Name: "Alpha", ModelID: "gemini-2.5-flash"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	alpha := decodeBody[models.Minion](t, resp)
	assert.Equal(t, models.DefaultTemperature, alpha.Params.Temperature)

	resp = do(t, srv, http.MethodPost, "/api/channels", models.ChannelPayload{
		ID: "general", Name: "general", Type: models.ChannelUserGroup, Members: []string{"Alpha"},
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp = do(t, srv, http.MethodPost, "/api/messages", models.UserMessagePayload{ChannelID: "general", UserInput: "Report."})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	out := decodeBody[[]models.ChatMessage](t, resp)
	require.Len(t, out, 2)
	assert.Equal(t, models.SenderSystem, out[0].SenderType)
	assert.True(t, out[0].IsAPIKeyLog)
	assert.Equal(t, "Alpha", out[1].SenderName)
	assert.Equal(t, "At your service.", out[1].Content)

	resp = do(t, srv, http.MethodGet, "/api/messages/general", nil)
	history := decodeBody[[]models.ChatMessage](t, resp)
	require.Len(t, history, 3)
	assert.Equal(t, models.SenderUser, history[0].SenderType)

	resp = do(t, srv, http.MethodGet, "/api/minions", nil)
	minions := decodeBody[[]models.Minion](t, resp)
	require.Len(t, minions, 1)
	assert.Equal(t, map[string]int{"Commander": 60}, minions[0].OpinionScores)

	resp = do(t, srv, http.MethodPost, "/api/channels/general/continue", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, decodeBody[[]models.ChatMessage](t, resp), 2)

	resp = do(t, srv, http.MethodGet, "/metrics", nil)
	var metrics bytes.Buffer
	metrics.ReadFrom(resp.Body)
	assert.Contains(t, metrics.String(), "legion_turns_total 2")
}

func TestPostMessage_Validation(t *testing.T) {
	srv := newTestServer(t)

	resp := do(t, srv, http.MethodPost, "/api/messages", models.UserMessagePayload{ChannelID: "general"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	req, _ := http.NewRequest(http.MethodPost, srv.URL+"/api/messages", strings.NewReader("{not json"))
	raw, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer raw.Body.Close()
	assert.Equal(t, http.StatusBadRequest, raw.StatusCode)
	assert.Equal(t, "Invalid request body", decodeBody[map[string]string](t, raw)["error"])
}

func TestPostMessage_UnknownChannelIsEmpty(t *testing.T) {
	srv := newTestServer(t)

	resp := do(t, srv, http.MethodPost, "/api/messages", models.UserMessagePayload{ChannelID: "void", UserInput: "hello"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, decodeBody[[]models.ChatMessage](t, resp))
}

func TestMinionErrors(t *testing.T) {
	srv := newTestServer(t)

	resp := do(t, srv, http.MethodPost, "/api/minions", models.MinionPayload{Name: "NoModel"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = do(t, srv, http.MethodPut, "/api/minions/ghost", models.MinionPayload{Name: "Ghost", ModelID: "m"})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = do(t, srv, http.MethodDelete, "/api/minions/ghost", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestChannelLifecycle(t *testing.T) {
	srv := newTestServer(t)

	resp := do(t, srv, http.MethodPost, "/api/channels", models.ChannelPayload{ID: "s", Name: "swarm", Type: models.ChannelSwarm})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp = do(t, srv, http.MethodPut, "/api/channels/s", models.ChannelPayload{Name: "renamed", Type: models.ChannelSwarm})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "renamed", decodeBody[models.Channel](t, resp).Name)

	resp = do(t, srv, http.MethodPost, "/api/channels", models.ChannelPayload{Name: "bad", Type: "party"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = do(t, srv, http.MethodDelete, "/api/channels/s", nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = do(t, srv, http.MethodGet, "/api/channels", nil)
	assert.Empty(t, decodeBody[[]models.Channel](t, resp))
}

func TestAPIKeysAreMasked(t *testing.T) {
	srv := newTestServer(t)

	resp := do(t, srv, http.MethodPost, "/api/keys", models.APIKey{Name: "primary", Key: "AIzaSyVerySecret"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	created := decodeBody[models.APIKey](t, resp)
	assert.Equal(t, "AIza****", created.Key)

	resp = do(t, srv, http.MethodGet, "/api/keys", nil)
	pool := decodeBody[[]models.APIKey](t, resp)
	require.Len(t, pool, 1)
	assert.Equal(t, "AIza****", pool[0].Key)

	resp = do(t, srv, http.MethodDelete, "/api/keys/"+created.ID, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
}

func TestAccessTokensGuardAPI(t *testing.T) {
	srv := newTestServer(t, "s3cret")

	resp := do(t, srv, http.MethodGet, "/api/minions", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = do(t, srv, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	req, _ := http.NewRequest(http.MethodGet, srv.URL+"/api/minions", nil)
	req.Header.Set("Authorization", "Bearer s3cret")
	authed, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer authed.Body.Close()
	assert.Equal(t, http.StatusOK, authed.StatusCode)
}

// hangupLLM cancels the request context while the first minion is answering,
// like a client that disconnects mid-turn. Calls on a cancelled context fail.
type hangupLLM struct {
	mu      sync.Mutex
	cancel  context.CancelFunc
	replies int
}

func (h *hangupLLM) Generate(ctx context.Context, req *llm.Request) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if req.JSON {
		return chattyLLM{}.Generate(ctx, req)
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.replies++
	if h.replies == 1 {
		h.cancel()
	}
	return "Reply from " + req.Model, nil
}

func TestPostMessage_TurnOutlivesClient(t *testing.T) {
	gen := &hangupLLM{}
	router, svc := newTestRouter(t, gen)
	ctx := context.Background()
	for _, name := range []string{"Alpha", "Beta"} {
		_, err := svc.CreateMinion(ctx, &models.MinionPayload{Name: name, ModelID: "model-" + name})
		require.NoError(t, err)
	}
	_, err := svc.CreateChannel(ctx, &models.ChannelPayload{
		ID: "general", Name: "general", Type: models.ChannelUserGroup, Members: []string{"Alpha", "Beta"},
	})
	require.NoError(t, err)

	reqCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	gen.cancel = cancel

	body, _ := json.Marshal(models.UserMessagePayload{ChannelID: "general", UserInput: "Sound off."})
	req := httptest.NewRequest(http.MethodPost, "/api/messages", bytes.NewReader(body)).WithContext(reqCtx)
	router.ServeHTTP(httptest.NewRecorder(), req)

	require.Error(t, reqCtx.Err())
	stored, err := svc.ListMessages(ctx, "general")
	require.NoError(t, err)

	var ai []string
	for _, m := range stored {
		assert.False(t, m.IsError, "unexpected error log: %s", m.Content)
		if m.SenderType == models.SenderAI {
			ai = append(ai, m.Content)
		}
	}
	assert.Equal(t, []string{"Reply from model-Alpha", "Reply from model-Beta"}, ai)
}
