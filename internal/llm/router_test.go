package llm_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/agentoven/legion/internal/llm"
)

// mockDriver is a test Driver.
type mockDriver struct {
	kind  string
	err   error
	calls int
	last  *llm.Request
}

func (d *mockDriver) Kind() string { return d.kind }
func (d *mockDriver) Generate(_ context.Context, req *llm.Request) (string, error) {
	d.calls++
	d.last = req
	if d.err != nil {
		return "", d.err
	}
	return "mock response from " + d.kind, nil
}

func newTestRouter(t *testing.T, cfg llm.RouterConfig) *llm.Router {
	t.Helper()
	r := llm.NewRouter(cfg)
	r.RegisterDriver(&mockDriver{kind: "google"})
	r.RegisterDriver(&mockDriver{kind: "openai"})
	return r
}

func TestListDrivers(t *testing.T) {
	r := newTestRouter(t, llm.RouterConfig{})

	got := r.ListDrivers()
	want := []string{"google", "openai"}
	if len(got) != len(want) {
		t.Fatalf("ListDrivers() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("ListDrivers()[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestGetDriver_NotFound(t *testing.T) {
	r := newTestRouter(t, llm.RouterConfig{})
	if got := r.GetDriver("nonexistent"); got != nil {
		t.Errorf("GetDriver() for nonexistent should return nil, got %v", got)
	}
}

func TestRegisterDriver_Overrides(t *testing.T) {
	r := newTestRouter(t, llm.RouterConfig{})

	custom := &mockDriver{kind: "openai", err: errors.New("custom")}
	r.RegisterDriver(custom)

	_, err := r.Generate(context.Background(), &llm.Request{Provider: "openai"})
	if err == nil || err.Error() != "custom" {
		t.Errorf("Generate() error = %v, want custom driver error", err)
	}
	if custom.calls != 1 {
		t.Errorf("custom driver calls = %d, want 1", custom.calls)
	}
}

func TestGenerate_DefaultsToGoogle(t *testing.T) {
	r := llm.NewRouter(llm.RouterConfig{})
	google := &mockDriver{kind: "google"}
	r.RegisterDriver(google)

	text, err := r.Generate(context.Background(), &llm.Request{Model: "gemini-2.5-flash", Prompt: "hi"})
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if text != "mock response from google" {
		t.Errorf("Generate() = %q, want %q", text, "mock response from google")
	}
	if google.last.Prompt != "hi" {
		t.Errorf("driver got prompt %q, want %q", google.last.Prompt, "hi")
	}
}

func TestGenerate_UnknownProvider(t *testing.T) {
	r := newTestRouter(t, llm.RouterConfig{})
	if _, err := r.Generate(context.Background(), &llm.Request{Provider: "carrier-pigeon"}); err == nil {
		t.Error("Generate() with unknown provider should fail")
	}
}

func TestGenerate_TracksLatency(t *testing.T) {
	r := newTestRouter(t, llm.RouterConfig{})
	if r.Latency("google") != 0 {
		t.Fatalf("Latency() before any call = %d, want 0", r.Latency("google"))
	}
	if _, err := r.Generate(context.Background(), &llm.Request{}); err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if r.Latency("openai") != 0 {
		t.Errorf("Latency(openai) = %d, want 0 (never called)", r.Latency("openai"))
	}
}

func TestGenerate_PacesPerCredential(t *testing.T) {
	// One call per ~17 minutes: the second call on the same key cannot fit
	// in the context deadline, a different key is unaffected.
	r := newTestRouter(t, llm.RouterConfig{KeyRPS: 0.001, KeyBurst: 1})

	if _, err := r.Generate(context.Background(), &llm.Request{APIKey: "key-a"}); err != nil {
		t.Fatalf("first Generate() error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := r.Generate(ctx, &llm.Request{APIKey: "key-a"}); err == nil {
		t.Error("second Generate() on same key should be paced out")
	}
	if _, err := r.Generate(context.Background(), &llm.Request{APIKey: "key-b"}); err != nil {
		t.Errorf("Generate() on a fresh key error = %v", err)
	}
}

// ─── OpenAI-compatible driver ────────────────────────────────

func TestOpenAIDriver_Generate(t *testing.T) {
	var gotAuth string
	var gotBody map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("path = %q, want /v1/chat/completions", r.URL.Path)
		}
		gotAuth = r.Header.Get("Authorization")
		json.NewDecoder(r.Body).Decode(&gotBody)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"id": "cmpl-1",
			"choices": []map[string]interface{}{
				{"message": map[string]string{"content": `{"ok":true}`}},
			},
		})
	}))
	defer srv.Close()

	d := llm.NewOpenAIDriver("openai", srv.URL+"/v1/")
	text, err := d.Generate(context.Background(), &llm.Request{
		Model: "gpt-4o-mini", Prompt: "plan", APIKey: "sk-test", Temperature: 0.2, JSON: true,
	})
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if text != `{"ok":true}` {
		t.Errorf("Generate() = %q, want %q", text, `{"ok":true}`)
	}
	if gotAuth != "Bearer sk-test" {
		t.Errorf("Authorization = %q, want %q", gotAuth, "Bearer sk-test")
	}
	rf, _ := gotBody["response_format"].(map[string]interface{})
	if rf["type"] != "json_object" {
		t.Errorf("response_format = %v, want json_object", gotBody["response_format"])
	}
}

func TestOpenAIDriver_StatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "quota exceeded", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	d := llm.NewOpenAIDriver("ollama", srv.URL)
	if _, err := d.Generate(context.Background(), &llm.Request{Model: "llama3"}); err == nil {
		t.Error("Generate() should fail on non-200 status")
	}
}

func TestGeminiDriver_RequiresKey(t *testing.T) {
	d := llm.NewGeminiDriver()
	_, err := d.Generate(context.Background(), &llm.Request{Model: "gemini-2.5-flash"})
	if !errors.Is(err, llm.ErrNoAPIKey) {
		t.Errorf("Generate() without key error = %v, want ErrNoAPIKey", err)
	}
}
