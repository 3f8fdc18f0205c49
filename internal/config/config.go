// Package config provides configuration management for aide.
// It loads settings from environment variables with the AIDE_ prefix
// and provides sensible defaults for all configuration options.
//
// The assistant persona and tool policy live in a separate YAML file,
// see persona.go.
package config

import (
	"fmt"
	"os"
	"strconv"
)

// Config holds all configuration settings for the aide application.
type Config struct {
	Storage StorageConfig
	LLM     LLMConfig
	Limits  LimitsConfig
	Agent   AgentConfig
	Status  StatusConfig
	Backup  BackupConfig
}

// StorageConfig contains database and storage configuration.
type StorageConfig struct {
	StorageEngine string // Storage engine type: sqlite, postgres (default: sqlite)
	DataPath      string // Path to data directory (default: ./data)
	PostgresURL   string // PostgreSQL connection string (required for postgres)
}

// LLMConfig contains model provider configuration. The chat provider
// drives the tool loop; the summarizer and embedder default to a local
// Ollama instance so archiving never bills the cloud account.
type LLMConfig struct {
	ChatProvider         string // Chat provider: anthropic, openai (default: anthropic)
	AnthropicAPIKey      string // Anthropic API key
	AnthropicModel       string // Anthropic model name (default: claude-sonnet-4-20250514)
	OpenAIAPIKey         string // OpenAI API key
	OpenAIModel          string // OpenAI model name (default: gpt-4o)
	SummarizerProvider   string // Summarizer provider: ollama, openai, anthropic (default: ollama)
	EmbeddingProvider    string // Embedding provider: ollama, openai, none (default: ollama)
	OllamaURL            string // Ollama API URL (default: http://localhost:11434)
	OllamaModel          string // Ollama model for summarization (default: qwen2.5:7b)
	OllamaEmbeddingModel string // Ollama model for embeddings (default: nomic-embed-text)
	RequestsPerMinute    int    // Rate limit for provider calls (default: 30)
}

// LimitsConfig contains the USD spend ceilings. Zero disables a limit.
type LimitsConfig struct {
	PerTurnUSD float64 // Per-turn spend cap (default: 0.20)
	DailyUSD   float64 // Daily spend cap (default: 5.00)
	MonthlyUSD float64 // Monthly spend cap (default: 50.00)
}

// AgentConfig contains tool-loop and context-window tuning.
type AgentConfig struct {
	MaxRounds       int    // Tool-loop round safety cap (default: 120)
	ChunkSize       int    // Context-window chunk size in tokens (default: 10000)
	RecentSummaries int    // Consolidated summaries shown to the model (default: 10)
	FinalMessageCap int    // Hard cap on stored/relayed reply length (default: 4000)
	PersonaPath     string // Path to the persona/tool-policy YAML file
}

// StatusConfig contains the status endpoint configuration.
type StatusConfig struct {
	Enabled bool   // Enable the status HTTP server (default: true)
	Host    string // Status server host (default: 127.0.0.1)
	Port    int    // Status server port (default: 6380)
}

// BackupConfig contains archive backup configuration.
type BackupConfig struct {
	BackupEnabled   bool   // Enable automatic backups (default: false)
	BackupInterval  string // Backup interval duration (default: 24h)
	BackupPath      string // Path to backup directory (default: ./backups)
	BackupRetention int    // Number of backups to keep (default: 14)
}

// LoadConfig loads configuration from environment variables with sensible
// defaults. All environment variables use the AIDE_ prefix.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Storage: StorageConfig{
			StorageEngine: getEnv("AIDE_STORAGE_ENGINE", "sqlite"),
			DataPath:      getEnv("AIDE_DATA_PATH", "./data"),
			PostgresURL:   getEnv("AIDE_POSTGRES_URL", ""),
		},
		LLM: LLMConfig{
			ChatProvider:         getEnv("AIDE_CHAT_PROVIDER", "anthropic"),
			AnthropicAPIKey:      getEnv("AIDE_ANTHROPIC_API_KEY", ""),
			AnthropicModel:       getEnv("AIDE_ANTHROPIC_MODEL", "claude-sonnet-4-20250514"),
			OpenAIAPIKey:         getEnv("AIDE_OPENAI_API_KEY", ""),
			OpenAIModel:          getEnv("AIDE_OPENAI_MODEL", "gpt-4o"),
			SummarizerProvider:   getEnv("AIDE_SUMMARIZER_PROVIDER", "ollama"),
			EmbeddingProvider:    getEnv("AIDE_EMBEDDING_PROVIDER", "ollama"),
			OllamaURL:            getEnv("AIDE_OLLAMA_URL", "http://localhost:11434"),
			OllamaModel:          getEnv("AIDE_OLLAMA_MODEL", "qwen2.5:7b"),
			OllamaEmbeddingModel: getEnv("AIDE_EMBEDDING_MODEL", "nomic-embed-text"),
			RequestsPerMinute:    getEnvInt("AIDE_REQUESTS_PER_MINUTE", 30),
		},
		Limits: LimitsConfig{
			PerTurnUSD: getEnvFloat("AIDE_SPEND_PER_TURN_USD", 0.20),
			DailyUSD:   getEnvFloat("AIDE_SPEND_DAILY_USD", 5.00),
			MonthlyUSD: getEnvFloat("AIDE_SPEND_MONTHLY_USD", 50.00),
		},
		Agent: AgentConfig{
			MaxRounds:       getEnvInt("AIDE_MAX_ROUNDS", 120),
			ChunkSize:       getEnvInt("AIDE_CHUNK_SIZE", 10000),
			RecentSummaries: getEnvInt("AIDE_RECENT_SUMMARIES", 10),
			FinalMessageCap: getEnvInt("AIDE_FINAL_MESSAGE_CAP", 4000),
			PersonaPath:     getEnv("AIDE_PERSONA_PATH", "./persona.yaml"),
		},
		Status: StatusConfig{
			Enabled: getEnvBool("AIDE_STATUS_ENABLED", true),
			Host:    getEnv("AIDE_STATUS_HOST", "127.0.0.1"),
			Port:    getEnvInt("AIDE_STATUS_PORT", 6380),
		},
		Backup: BackupConfig{
			BackupEnabled:   getEnvBool("AIDE_BACKUP_ENABLED", false),
			BackupInterval:  getEnv("AIDE_BACKUP_INTERVAL", "24h"),
			BackupPath:      getEnv("AIDE_BACKUP_PATH", "./backups"),
			BackupRetention: getEnvInt("AIDE_BACKUP_RETENTION", 14),
		},
	}
	return cfg, nil
}

// Validate checks that the configuration can actually start a turn.
// Missing credentials block startup entirely; they are reported once
// here, never retried.
func (c *Config) Validate() error {
	switch c.LLM.ChatProvider {
	case "anthropic":
		if c.LLM.AnthropicAPIKey == "" {
			return fmt.Errorf("config: AIDE_ANTHROPIC_API_KEY is required for the anthropic chat provider")
		}
	case "openai":
		if c.LLM.OpenAIAPIKey == "" {
			return fmt.Errorf("config: AIDE_OPENAI_API_KEY is required for the openai chat provider")
		}
	default:
		return fmt.Errorf("config: unsupported chat provider %q (want anthropic or openai)", c.LLM.ChatProvider)
	}

	if c.LLM.SummarizerProvider == "openai" && c.LLM.OpenAIAPIKey == "" {
		return fmt.Errorf("config: AIDE_OPENAI_API_KEY is required for the openai summarizer")
	}
	if c.LLM.SummarizerProvider == "anthropic" && c.LLM.AnthropicAPIKey == "" {
		return fmt.Errorf("config: AIDE_ANTHROPIC_API_KEY is required for the anthropic summarizer")
	}

	if c.Storage.StorageEngine == "postgres" && c.Storage.PostgresURL == "" {
		return fmt.Errorf("config: AIDE_POSTGRES_URL is required for the postgres storage engine")
	}

	if c.Agent.ChunkSize <= 0 {
		return fmt.Errorf("config: AIDE_CHUNK_SIZE must be positive")
	}
	return nil
}

// getEnv retrieves a string environment variable or returns a default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt retrieves an integer environment variable or returns a default value.
// If the environment variable exists but cannot be parsed as an integer,
// it returns the default value.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvFloat retrieves a float environment variable or returns a default value.
// If the environment variable exists but cannot be parsed as a float,
// it returns the default value.
func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

// getEnvBool retrieves a boolean environment variable or returns a default value.
// It recognizes "true", "1", "yes" as true and "false", "0", "no" as false (case-insensitive).
// If the environment variable exists but cannot be parsed as a boolean,
// it returns the default value.
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		switch value {
		case "true", "1", "yes", "True", "TRUE", "Yes", "YES":
			return true
		case "false", "0", "no", "False", "FALSE", "No", "NO":
			return false
		}
	}
	return defaultValue
}
