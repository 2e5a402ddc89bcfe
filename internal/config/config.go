// Package config loads resumerank settings from the environment.
package config

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Provider identifies the LLM backend used for scoring.
type Provider string

const (
	ProviderAnthropic Provider = "anthropic"
	ProviderOpenAI    Provider = "openai"
	ProviderOllama    Provider = "ollama"
	ProviderBedrock   Provider = "bedrock"
)

// Config holds all configuration values.
type Config struct {
	// Scoring LLM
	LLMProvider     Provider
	LLMModel        string
	AnthropicAPIKey string
	OpenAIAPIKey    string
	OllamaHost      string
	AWSRegion       string

	// Quotas of the scoring service
	RequestsPerMinute int
	RequestsPerDay    int
	RetryDelay        time.Duration
	MaxRetries        int

	// Batch scheduling
	BatchSize         int
	BatchDelay        time.Duration
	ContinueOnError   bool
	KeepaliveInterval time.Duration
	RunRetention      time.Duration

	// DocumentRoot confines locators submitted to the server. Empty allows any path.
	DocumentRoot string

	// HTTP
	ServerPort string
	ServerURL  string

	// SurrealDB persistence (optional)
	Persist            bool
	SurrealDBURL       string
	SurrealDBNamespace string
	SurrealDBDatabase  string
	SurrealDBUser      string
	SurrealDBPass      string
	SurrealDBAuthLevel string

	// Logging
	LogFile  string
	LogLevel slog.Level
}

// Load reads configuration from environment variables.
func Load() Config {
	provider := Provider(strings.ToLower(getEnv("RESUMERANK_LLM_PROVIDER", string(ProviderAnthropic))))

	return Config{
		LLMProvider:     provider,
		LLMModel:        getEnv("RESUMERANK_LLM_MODEL", defaultModel(provider)),
		AnthropicAPIKey: getEnv("ANTHROPIC_API_KEY", ""),
		OpenAIAPIKey:    getEnv("OPENAI_API_KEY", ""),
		OllamaHost:      getEnv("OLLAMA_HOST", "http://localhost:11434"),
		AWSRegion:       getEnv("AWS_REGION", "us-east-1"),

		RequestsPerMinute: getEnvInt("RESUMERANK_REQUESTS_PER_MINUTE", 15),
		RequestsPerDay:    getEnvInt("RESUMERANK_REQUESTS_PER_DAY", 1500),
		RetryDelay:        getEnvDuration("RESUMERANK_RETRY_DELAY", 5*time.Second),
		MaxRetries:        getEnvInt("RESUMERANK_MAX_RETRIES", 3),

		BatchSize:         getEnvInt("RESUMERANK_BATCH_SIZE", 5),
		BatchDelay:        getEnvDuration("RESUMERANK_BATCH_DELAY", 2*time.Second),
		ContinueOnError:   getEnvBool("RESUMERANK_CONTINUE_ON_ERROR", true),
		KeepaliveInterval: getEnvDuration("RESUMERANK_KEEPALIVE_INTERVAL", 30*time.Second),
		RunRetention:      getEnvDuration("RESUMERANK_RUN_RETENTION", time.Hour),

		DocumentRoot: getEnv("RESUMERANK_DOCUMENT_ROOT", ""),

		ServerPort: getEnv("RESUMERANK_SERVER_PORT", "8484"),
		ServerURL:  getEnv("RESUMERANK_SERVER_URL", "http://localhost:8484"),

		Persist:            getEnvBool("RESUMERANK_PERSIST", false),
		SurrealDBURL:       getEnv("SURREALDB_URL", "ws://localhost:8000/rpc"),
		SurrealDBNamespace: getEnv("SURREALDB_NAMESPACE", "resumerank"),
		SurrealDBDatabase:  getEnv("SURREALDB_DATABASE", "runs"),
		SurrealDBUser:      getEnv("SURREALDB_USER", "root"),
		SurrealDBPass:      getEnv("SURREALDB_PASS", "root"),
		SurrealDBAuthLevel: getEnv("SURREALDB_AUTH_LEVEL", "root"),

		LogFile:  getEnv("RESUMERANK_LOG_FILE", "/tmp/resumerank.log"),
		LogLevel: parseLogLevel(getEnv("RESUMERANK_LOG_LEVEL", "INFO")),
	}
}

func defaultModel(p Provider) string {
	switch p {
	case ProviderOpenAI:
		return "gpt-4o-mini"
	case ProviderOllama:
		return "llama3.1"
	case ProviderBedrock:
		return "anthropic.claude-3-haiku-20240307-v1:0"
	default:
		return "claude-3-5-haiku-latest"
	}
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	n, err := strconv.Atoi(os.Getenv(key))
	if err != nil {
		return defaultVal
	}
	return n
}

func getEnvBool(key string, defaultVal bool) bool {
	b, err := strconv.ParseBool(os.Getenv(key))
	if err != nil {
		return defaultVal
	}
	return b
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	d, err := time.ParseDuration(os.Getenv(key))
	if err != nil {
		return defaultVal
	}
	return d
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
