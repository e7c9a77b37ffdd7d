package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitializeDefaults(t *testing.T) {
	cfg, err := Initialize(context.Background(), t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, 1024, cfg.Ingest.QueueSize)
	assert.Equal(t, 8, cfg.Ingest.WorkerCount)
	assert.Equal(t, 8, cfg.Agent.MaxSteps)
	assert.Equal(t, 4, cfg.Agent.MaxToolCallsPerStep)
	assert.Equal(t, 30*time.Second, cfg.Agent.ToolTimeout)
	assert.Equal(t, 1536, cfg.Embedding.Dimension)
	assert.False(t, cfg.Broker.Enabled)

	// All five task-type profiles are present out of the box.
	for _, key := range []string{"code_analysis", "analytics", "planning", "quick_lookup", "general"} {
		p, ok := cfg.Profile(key)
		require.True(t, ok, "missing profile %s", key)
		assert.NotEmpty(t, p.Model)
		assert.NotEmpty(t, p.DisplayName)
	}
}

func TestInitializeYAMLOverlay(t *testing.T) {
	dir := t.TempDir()
	yaml := `
ingest:
  queue_size: 64
  worker_count: 2
profiles:
  general:
    provider: openai
    model: gpt-4.1
    display_name: GPT-4.1
    emoji: "🧠"
    temperature: 0.5
    reason: override
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "forgesight.yaml"), []byte(yaml), 0o600))

	cfg, err := Initialize(context.Background(), dir)
	require.NoError(t, err)

	assert.Equal(t, 64, cfg.Ingest.QueueSize)
	assert.Equal(t, 2, cfg.Ingest.WorkerCount)
	// Untouched defaults survive the merge.
	assert.Equal(t, 5, cfg.Ingest.MaxLogRetries)

	p, ok := cfg.Profile("general")
	require.True(t, ok)
	assert.Equal(t, "gpt-4.1", p.Model)
	assert.Equal(t, 0.5, p.Temperature)
	// Other profiles keep their built-ins.
	pa, _ := cfg.Profile("analytics")
	assert.Equal(t, "gpt-4o", pa.Model)
}

func TestInitializeEnvOverlay(t *testing.T) {
	t.Setenv("POSTGRES_HOST", "db.internal")
	t.Setenv("POSTGRES_PORT", "5433")
	t.Setenv("WEBHOOK_SECRET_CODE_HOST", "s3cret")
	t.Setenv("BROKER_BOOTSTRAP", "kafka-1:9092, kafka-2:9092")
	t.Setenv("BROKER_TOPICS", "events.code-host,events.issue-tracker")
	t.Setenv("BROKER_GROUP_ID", "forgesight")

	cfg, err := Initialize(context.Background(), t.TempDir())
	require.NoError(t, err)

	assert.Equal(t, "db.internal", cfg.Stores.Relational.Host)
	assert.Equal(t, 5433, cfg.Stores.Relational.Port)
	assert.Equal(t, "s3cret", cfg.WebhookSecret("code-host"))
	assert.Empty(t, cfg.WebhookSecret("docs"))

	assert.True(t, cfg.Broker.Enabled)
	assert.Equal(t, []string{"kafka-1:9092", "kafka-2:9092"}, cfg.Broker.Brokers)
	assert.Equal(t, []string{"events.code-host", "events.issue-tracker"}, cfg.Broker.Topics)
}

func TestValidate(t *testing.T) {
	base := func() *Config {
		return &Config{
			Stores:    DefaultStoresConfig(),
			LLM:       &LLMConfig{Profiles: builtinProfiles()},
			Embedding: DefaultEmbeddingConfig(),
			Broker:    &BrokerConfig{},
			Ingest:    DefaultIngestConfig(),
			Webhooks:  &WebhookConfig{Secrets: map[string]string{}},
			Agent:     DefaultAgentConfig(),
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:   "valid defaults",
			mutate: func(*Config) {},
		},
		{
			name:    "queue size zero",
			mutate:  func(c *Config) { c.Ingest.QueueSize = 0 },
			wantErr: "queue_size",
		},
		{
			name:    "worker count too high",
			mutate:  func(c *Config) { c.Ingest.WorkerCount = 999 },
			wantErr: "worker_count",
		},
		{
			name:    "missing profile",
			mutate:  func(c *Config) { delete(c.LLM.Profiles, "analytics") },
			wantErr: "missing model profile",
		},
		{
			name: "unknown provider",
			mutate: func(c *Config) {
				p := c.LLM.Profiles["general"]
				p.Provider = "bedrock"
				c.LLM.Profiles["general"] = p
			},
			wantErr: "unknown provider",
		},
		{
			name:    "embedding dimension zero",
			mutate:  func(c *Config) { c.Embedding.Dimension = 0 },
			wantErr: "dimension",
		},
		{
			name:    "broker enabled without brokers",
			mutate:  func(c *Config) { c.Broker.Enabled = true },
			wantErr: "bootstrap",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(cfg)
			err := validate(cfg)
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}

func TestExpandEnv(t *testing.T) {
	t.Setenv("FS_TEST_VALUE", "hello")

	out := expandEnv([]byte("key: {{.FS_TEST_VALUE}}"))
	assert.Equal(t, "key: hello", string(out))

	// Literal $ survives (regex patterns, passwords).
	out = expandEnv([]byte("pattern: ^secret.*$"))
	assert.Equal(t, "pattern: ^secret.*$", string(out))

	// Missing variables expand to empty.
	out = expandEnv([]byte("key: {{.FS_TEST_MISSING}}"))
	assert.Equal(t, "key: ", string(out))

	// Unparseable template syntax leaves the content untouched.
	out = expandEnv([]byte("key: {{.broken"))
	assert.Equal(t, "key: {{.broken", string(out))
}
