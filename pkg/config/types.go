package config

import "time"

// StoresConfig groups connection settings for the three stores.
type StoresConfig struct {
	TimeSeries *TimeSeriesConfig `yaml:"timeseries"`
	Relational *RelationalConfig `yaml:"relational"`
	Graph      *GraphConfig      `yaml:"graph"`

	// OperationTimeout bounds every store operation. No query may block
	// past this deadline.
	OperationTimeout time.Duration `yaml:"operation_timeout"`
}

// TimeSeriesConfig holds ClickHouse connection settings for the event log.
type TimeSeriesConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
}

// RelationalConfig holds PostgreSQL connection settings for the structured
// store and the vector index.
type RelationalConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
	SSLMode  string `yaml:"ssl_mode"`

	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time"`
}

// GraphConfig holds Neo4j connection settings for the relationship graph.
type GraphConfig struct {
	URI      string `yaml:"uri"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
}

// LLMConfig holds provider credentials and the task-type → model profile map.
type LLMConfig struct {
	// Provider API keys. A profile referencing a provider with an empty
	// key fails validation.
	OpenAIAPIKey    string `yaml:"-"`
	OpenAIBaseURL   string `yaml:"openai_base_url"`
	AnthropicAPIKey string `yaml:"-"`

	// Profiles maps a task type (code_analysis, analytics, planning,
	// quick_lookup, general) to the model that serves it.
	Profiles map[string]ModelProfile `yaml:"profiles"`
}

// ModelProfile describes the model serving one task type.
// Temperature is baked into the profile, never chosen by callers.
type ModelProfile struct {
	Provider    string  `yaml:"provider"` // "openai" or "anthropic"
	Model       string  `yaml:"model"`
	DisplayName string  `yaml:"display_name"`
	Emoji       string  `yaml:"emoji"`
	Temperature float64 `yaml:"temperature"`
	Reason      string  `yaml:"reason"`
}

// EmbeddingConfig holds the hosted-inference embedding settings.
type EmbeddingConfig struct {
	APIKey  string `yaml:"-"`
	BaseURL string `yaml:"base_url"`
	Model   string `yaml:"model"`

	// Dimension is the system-wide vector dimension D. Every returned
	// vector is asserted against it; a mismatch is fatal.
	Dimension int `yaml:"dimension"`

	// BatchSize is the server-side batching limit B per call.
	BatchSize  int `yaml:"batch_size"`
	MaxRetries int `yaml:"max_retries"`

	// PassagePrefix and QueryPrefix are prepended to texts per embedding
	// kind for asymmetric models ("passage: "/"query: " for e5-style
	// models). Leave empty for symmetric models.
	PassagePrefix string `yaml:"passage_prefix"`
	QueryPrefix   string `yaml:"query_prefix"`
}

// BrokerConfig holds the streaming-broker consumer settings.
type BrokerConfig struct {
	// Enabled gates the consumer. Webhook-only deployments leave it off.
	Enabled bool     `yaml:"enabled"`
	Brokers []string `yaml:"brokers"`
	Topics  []string `yaml:"topics"`
	GroupID string   `yaml:"group_id"`
	TLS     bool     `yaml:"tls"`
}

// IngestConfig tunes the ingestion pipeline.
type IngestConfig struct {
	// QueueSize bounds the internal work channel. A full queue makes
	// webhooks return 503 and pauses broker polling.
	QueueSize   int `yaml:"queue_size"`
	WorkerCount int `yaml:"worker_count"`

	// MaxLogRetries caps exponential-backoff attempts on the log write
	// before the event is dead-lettered.
	MaxLogRetries int           `yaml:"max_log_retries"`
	EmbedTimeout  time.Duration `yaml:"embed_timeout"`

	// DeadLetterPath is the JSONL sink for events that exhausted retries.
	DeadLetterPath string `yaml:"dead_letter_path"`

	// ShutdownTimeout bounds the drain of in-flight events on stop.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// WebhookConfig maps webhook source name → shared HMAC secret.
type WebhookConfig struct {
	Secrets map[string]string `yaml:"-"`
}

// AgentConfig tunes the supervisor/specialist runtime.
type AgentConfig struct {
	MaxSteps            int           `yaml:"max_steps"`
	MaxToolCallsPerStep int           `yaml:"max_tool_calls_per_step"`
	ToolTimeout         time.Duration `yaml:"tool_timeout"`
	TurnTimeout         time.Duration `yaml:"turn_timeout"`

	// StreamBufferSize bounds the per-turn event bus. Overflow drops
	// non-essential events (token, thinking) before essential ones.
	StreamBufferSize int `yaml:"stream_buffer_size"`

	// ThreadTokenBudget is the trim budget for thread history per turn.
	ThreadTokenBudget int `yaml:"thread_token_budget"`
}
