package config

import "time"

// Built-in model profiles. User YAML entries override per-key via merge.
func builtinProfiles() map[string]ModelProfile {
	return map[string]ModelProfile{
		"code_analysis": {
			Provider:    "anthropic",
			Model:       "claude-sonnet-4-5",
			DisplayName: "Claude Sonnet",
			Emoji:       "🔍",
			Temperature: 0.1,
			Reason:      "code and repository analysis needs precise, low-temperature reasoning",
		},
		"analytics": {
			Provider:    "openai",
			Model:       "gpt-4o",
			DisplayName: "GPT-4o",
			Emoji:       "📊",
			Temperature: 0.2,
			Reason:      "metric aggregation and DORA analysis favour deterministic numeric work",
		},
		"planning": {
			Provider:    "anthropic",
			Model:       "claude-sonnet-4-5",
			DisplayName: "Claude Sonnet",
			Emoji:       "🗂️",
			Temperature: 0.4,
			Reason:      "resource planning benefits from longer-horizon reasoning",
		},
		"quick_lookup": {
			Provider:    "openai",
			Model:       "gpt-4o-mini",
			DisplayName: "GPT-4o mini",
			Emoji:       "⚡",
			Temperature: 0.0,
			Reason:      "simple lookups need speed, not depth",
		},
		"general": {
			Provider:    "openai",
			Model:       "gpt-4o",
			DisplayName: "GPT-4o",
			Emoji:       "💬",
			Temperature: 0.3,
			Reason:      "general questions get the balanced default",
		},
	}
}

// DefaultIngestConfig returns ingestion pipeline defaults.
func DefaultIngestConfig() *IngestConfig {
	return &IngestConfig{
		QueueSize:       1024,
		WorkerCount:     8,
		MaxLogRetries:   5,
		EmbedTimeout:    15 * time.Second,
		DeadLetterPath:  "./dead_letter.jsonl",
		ShutdownTimeout: 30 * time.Second,
	}
}

// DefaultAgentConfig returns agent runtime defaults.
func DefaultAgentConfig() *AgentConfig {
	return &AgentConfig{
		MaxSteps:            8,
		MaxToolCallsPerStep: 4,
		ToolTimeout:         30 * time.Second,
		TurnTimeout:         5 * time.Minute,
		StreamBufferSize:    256,
		ThreadTokenBudget:   8000,
	}
}

// DefaultEmbeddingConfig returns embedding client defaults.
// Dimension matches text-embedding-3-small.
func DefaultEmbeddingConfig() *EmbeddingConfig {
	return &EmbeddingConfig{
		Model:      "text-embedding-3-small",
		Dimension:  1536,
		BatchSize:  64,
		MaxRetries: 3,
	}
}

// DefaultStoresConfig returns store connection defaults for local development.
func DefaultStoresConfig() *StoresConfig {
	return &StoresConfig{
		TimeSeries: &TimeSeriesConfig{
			Host:     "localhost",
			Port:     9000,
			User:     "default",
			Database: "forgesight",
		},
		Relational: &RelationalConfig{
			Host:            "localhost",
			Port:            5432,
			User:            "forgesight",
			Database:        "forgesight",
			SSLMode:         "disable",
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 30 * time.Minute,
			ConnMaxIdleTime: 5 * time.Minute,
		},
		Graph: &GraphConfig{
			URI:      "bolt://localhost:7687",
			User:     "neo4j",
			Database: "neo4j",
		},
		OperationTimeout: 30 * time.Second,
	}
}
