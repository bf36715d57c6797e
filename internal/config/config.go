package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

// Config holds all configuration for the Legion control plane.
type Config struct {
	Port          int
	Version       string
	CommanderName string

	// GeminiAPIKey is the fallback credential when the key pool is empty.
	GeminiAPIKey string

	Store     StoreConfig
	Turn      TurnConfig
	LLM       LLMConfig
	Telemetry TelemetryConfig
	Auth      AuthConfig
	Retention RetentionConfig

	Autopilot   bool
	SeedFile    string
	CORSOrigins []string

	// WriteTimeout bounds writing an HTTP response. Zero disables it; turns
	// are already bounded per model call by Turn.CallTimeout.
	WriteTimeout time.Duration
}

type StoreConfig struct {
	Backend    string // memory | sqlite
	DataDir    string // memory snapshot directory, "" disables snapshots
	SQLitePath string
}

type TurnConfig struct {
	CallTimeout     time.Duration
	WaveConcurrency int
}

type LLMConfig struct {
	KeyRPS        float64
	KeyBurst      int
	OpenAIBaseURL string // registers the "openai" provider when set
}

type TelemetryConfig struct {
	Enabled      bool
	OTLPEndpoint string
	ServiceName  string
	Version      string
}

type RetentionConfig struct {
	MaxAge      time.Duration // 0 keeps messages forever
	MaxMessages int           // per channel, 0 is unbounded
	Interval    time.Duration
	ArchiveDir  string // "" purges without archiving
	Compress    bool
}

type AuthConfig struct {
	// Access tokens accepted on /api routes. Empty disables auth.
	AccessKeys []string
}

// Load reads configuration from environment variables with sensible defaults.
// A .env file in the working directory is loaded first; real environment
// variables win over it.
func Load() *Config {
	if err := godotenv.Load(); err == nil {
		log.Debug().Msg("Loaded .env")
	}

	version := envStr("LEGION_VERSION", "0.1.0")
	return &Config{
		Port:          envInt("LEGION_PORT", 8000),
		Version:       version,
		CommanderName: envStr("LEGION_COMMANDER_NAME", "Commander"),
		GeminiAPIKey:  envStr("GEMINI_API_KEY", ""),
		Store: StoreConfig{
			Backend:    envStr("LEGION_STORE", "memory"),
			DataDir:    envStr("LEGION_DATA_DIR", ""),
			SQLitePath: envStr("LEGION_SQLITE_PATH", "legion.db"),
		},
		Turn: TurnConfig{
			CallTimeout:     envDuration("LEGION_CALL_TIMEOUT", 120*time.Second),
			WaveConcurrency: envInt("LEGION_WAVE_CONCURRENCY", 0),
		},
		LLM: LLMConfig{
			KeyRPS:        envFloat("LEGION_KEY_RPS", 0),
			KeyBurst:      envInt("LEGION_KEY_BURST", 1),
			OpenAIBaseURL: envStr("LEGION_OPENAI_BASE_URL", ""),
		},
		Telemetry: TelemetryConfig{
			Enabled:      envBool("OTEL_ENABLED", false),
			OTLPEndpoint: envStr("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			ServiceName:  envStr("OTEL_SERVICE_NAME", "legion-control-plane"),
			Version:      version,
		},
		Auth: AuthConfig{
			AccessKeys: envList("LEGION_ACCESS_KEYS"),
		},
		Retention: RetentionConfig{
			MaxAge:      envDuration("LEGION_RETENTION_MAX_AGE", 0),
			MaxMessages: envInt("LEGION_RETENTION_MAX_MESSAGES", 0),
			Interval:    envDuration("LEGION_RETENTION_INTERVAL", time.Hour),
			ArchiveDir:  envStr("LEGION_ARCHIVE_DIR", ""),
			Compress:    envBool("LEGION_ARCHIVE_COMPRESS", true),
		},
		Autopilot:    envBool("LEGION_AUTOPILOT", false),
		SeedFile:     envStr("LEGION_SEED_FILE", ""),
		WriteTimeout: envDuration("LEGION_WRITE_TIMEOUT", 0),
		CORSOrigins:  envListOr("LEGION_CORS_ORIGINS", []string{"http://localhost", "http://localhost:3000"}),
	}
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

// envDuration accepts Go durations ("90s") or plain seconds ("90").
func envDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second
	}
	return fallback
}

func envList(key string) []string {
	var out []string
	for _, part := range strings.Split(os.Getenv(key), ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func envListOr(key string, fallback []string) []string {
	if l := envList(key); len(l) > 0 {
		return l
	}
	return fallback
}
