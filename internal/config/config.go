package config

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// LLM providers understood by llm.NewModel.
const (
	ProviderNone      = "none"
	ProviderOllama    = "ollama"
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
	ProviderBedrock   = "bedrock"
)

// Config holds all configuration values.
type Config struct {
	// SurrealDB connection
	SurrealDBURL       string
	SurrealDBNamespace string
	SurrealDBDatabase  string
	SurrealDBUser      string
	SurrealDBPass      string
	SurrealDBAuthLevel string

	// Redis graph cache; empty URL disables caching
	RedisURL string
	CacheTTL time.Duration

	// HTTP API
	ServerAddr string
	ServerURL  string

	// MCP tools fall back to this case when a call names none
	DefaultCase string

	// LLM phases
	LLMProvider     string
	LLMModel        string
	OllamaHost      string
	OpenAIAPIKey    string
	AnthropicAPIKey string
	AWSRegion       string

	// Workflow runner
	PlanFile     string
	PollInterval time.Duration

	// Timeline enrichment
	RefreshSchedule   string // cron spec, empty disables the scheduler
	EnrichParallelism int

	// Telemetry
	OTLPEndpoint string

	// Logging
	LogFile  string
	LogLevel slog.Level
}

// Load reads configuration from environment variables.
func Load() Config {
	return Config{
		SurrealDBURL:       getEnv("SURREALDB_URL", "ws://localhost:8000/rpc"),
		SurrealDBNamespace: getEnv("SURREALDB_NAMESPACE", "casegraph"),
		SurrealDBDatabase:  getEnv("SURREALDB_DATABASE", "cases"),
		SurrealDBUser:      getEnv("SURREALDB_USER", "root"),
		SurrealDBPass:      getEnv("SURREALDB_PASS", "root"),
		SurrealDBAuthLevel: getEnv("SURREALDB_AUTH_LEVEL", "root"),

		RedisURL: getEnv("CASEGRAPH_REDIS_URL", ""),
		CacheTTL: getDuration("CASEGRAPH_CACHE_TTL", 10*time.Minute),

		ServerAddr: getEnv("CASEGRAPH_ADDR", ":8484"),
		ServerURL:  getEnv("CASEGRAPH_URL", "http://localhost:8484"),

		DefaultCase: getEnv("CASEGRAPH_DEFAULT_CASE", ""),

		LLMProvider:     strings.ToLower(getEnv("CASEGRAPH_LLM_PROVIDER", ProviderNone)),
		LLMModel:        getEnv("CASEGRAPH_LLM_MODEL", "llama3.2"),
		OllamaHost:      getEnv("OLLAMA_HOST", "http://localhost:11434"),
		OpenAIAPIKey:    getEnv("OPENAI_API_KEY", ""),
		AnthropicAPIKey: getEnv("ANTHROPIC_API_KEY", ""),
		AWSRegion:       getEnv("AWS_REGION", "us-east-1"),

		PlanFile:     getEnv("CASEGRAPH_PLAN_FILE", ""),
		PollInterval: getDuration("CASEGRAPH_POLL_INTERVAL", time.Second),

		RefreshSchedule:   getEnv("CASEGRAPH_REFRESH_SCHEDULE", ""),
		EnrichParallelism: getInt("CASEGRAPH_ENRICH_PARALLELISM", 1),

		OTLPEndpoint: getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", ""),

		LogFile:  getEnv("CASEGRAPH_LOG_FILE", "/tmp/casegraph.log"),
		LogLevel: parseLogLevel(getEnv("CASEGRAPH_LOG_LEVEL", "INFO")),
	}
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getDuration(key string, defaultVal time.Duration) time.Duration {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(val)
	if err != nil || d <= 0 {
		slog.Warn("invalid duration, using default", "key", key, "value", val, "default", defaultVal)
		return defaultVal
	}
	return d
}

func getInt(key string, defaultVal int) int {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(val)
	if err != nil || n < 1 {
		slog.Warn("invalid integer, using default", "key", key, "value", val, "default", defaultVal)
		return defaultVal
	}
	return n
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToUpper(s) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
