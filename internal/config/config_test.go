package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Storage.StorageEngine)
	assert.Equal(t, "./data", cfg.Storage.DataPath)
	assert.Equal(t, "anthropic", cfg.LLM.ChatProvider)
	assert.Equal(t, "ollama", cfg.LLM.SummarizerProvider)
	assert.Equal(t, 0.20, cfg.Limits.PerTurnUSD)
	assert.Equal(t, 5.00, cfg.Limits.DailyUSD)
	assert.Equal(t, 120, cfg.Agent.MaxRounds)
	assert.Equal(t, 10000, cfg.Agent.ChunkSize)
	assert.Equal(t, 4000, cfg.Agent.FinalMessageCap)
	assert.True(t, cfg.Status.Enabled)
	assert.False(t, cfg.Backup.BackupEnabled)
}

func TestLoadConfigEnvOverrides(t *testing.T) {
	t.Setenv("AIDE_STORAGE_ENGINE", "postgres")
	t.Setenv("AIDE_POSTGRES_URL", "postgres://localhost/aide")
	t.Setenv("AIDE_CHAT_PROVIDER", "openai")
	t.Setenv("AIDE_SPEND_PER_TURN_USD", "0.50")
	t.Setenv("AIDE_MAX_ROUNDS", "40")
	t.Setenv("AIDE_BACKUP_ENABLED", "true")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "postgres", cfg.Storage.StorageEngine)
	assert.Equal(t, "postgres://localhost/aide", cfg.Storage.PostgresURL)
	assert.Equal(t, "openai", cfg.LLM.ChatProvider)
	assert.Equal(t, 0.50, cfg.Limits.PerTurnUSD)
	assert.Equal(t, 40, cfg.Agent.MaxRounds)
	assert.True(t, cfg.Backup.BackupEnabled)
}

func TestLoadConfigIgnoresUnparseableValues(t *testing.T) {
	t.Setenv("AIDE_MAX_ROUNDS", "lots")
	t.Setenv("AIDE_SPEND_DAILY_USD", "cheap")
	t.Setenv("AIDE_STATUS_ENABLED", "maybe")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, 120, cfg.Agent.MaxRounds)
	assert.Equal(t, 5.00, cfg.Limits.DailyUSD)
	assert.True(t, cfg.Status.Enabled)
}

func TestValidateRequiresChatCredentials(t *testing.T) {
	cfg, err := LoadConfig()
	require.NoError(t, err)

	err = cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "AIDE_ANTHROPIC_API_KEY")

	cfg.LLM.AnthropicAPIKey = "sk-test"
	assert.NoError(t, cfg.Validate())
}

func TestValidateRejectsUnknownChatProvider(t *testing.T) {
	cfg, err := LoadConfig()
	require.NoError(t, err)
	cfg.LLM.ChatProvider = "ollama"

	err = cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported chat provider")
}

func TestValidateRequiresPostgresURL(t *testing.T) {
	cfg, err := LoadConfig()
	require.NoError(t, err)
	cfg.LLM.AnthropicAPIKey = "sk-test"
	cfg.Storage.StorageEngine = "postgres"

	err = cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "AIDE_POSTGRES_URL")
}
