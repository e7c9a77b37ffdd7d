package config

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"text/template"
	"time"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"
)

// yamlConfig represents the optional forgesight.yaml file structure.
// It carries tuning and model profiles; secrets and DSNs come from env.
type yamlConfig struct {
	Stores    *StoresConfig           `yaml:"stores"`
	Profiles  map[string]ModelProfile `yaml:"profiles"`
	Embedding *EmbeddingConfig        `yaml:"embedding"`
	Broker    *BrokerConfig           `yaml:"broker"`
	Ingest    *IngestConfig           `yaml:"ingest"`
	Agent     *AgentConfig            `yaml:"agent"`
}

// WebhookSources are the webhook ingress sources with per-source secrets.
var WebhookSources = []string{"code-host", "issue-tracker", "docs"}

// Initialize loads, validates, and returns ready-to-use configuration.
//
// Steps performed:
//  1. Build defaults
//  2. Overlay forgesight.yaml from configDir (if present), env-expanded
//  3. Overlay environment variables (DSNs, keys, secrets)
//  4. Validate
func Initialize(ctx context.Context, configDir string) (*Config, error) {
	log := slog.With("config_dir", configDir)
	log.Info("Initializing configuration")

	cfg := &Config{
		configDir: configDir,
		Stores:    DefaultStoresConfig(),
		LLM:       &LLMConfig{Profiles: builtinProfiles()},
		Embedding: DefaultEmbeddingConfig(),
		Broker:    &BrokerConfig{},
		Ingest:    DefaultIngestConfig(),
		Webhooks:  &WebhookConfig{Secrets: map[string]string{}},
		Agent:     DefaultAgentConfig(),
	}

	if err := overlayYAML(cfg, filepath.Join(configDir, "forgesight.yaml")); err != nil {
		return nil, fmt.Errorf("failed to load configuration file: %w", err)
	}
	overlayEnv(cfg)

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	stats := cfg.Stats()
	log.Info("Configuration initialized successfully",
		"profiles", stats.Profiles,
		"webhook_sources", stats.WebhookSources,
		"broker_topics", stats.BrokerTopics)

	return cfg, nil
}

// overlayYAML merges the optional YAML file over built-in defaults.
// A missing file is not an error.
func overlayYAML(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			slog.Debug("No configuration file found, using defaults", "path", path)
			return nil
		}
		return fmt.Errorf("failed to read %s: %w", path, err)
	}

	var yc yamlConfig
	if err := yaml.Unmarshal(expandEnv(data), &yc); err != nil {
		return fmt.Errorf("failed to parse %s: %w", path, err)
	}

	if yc.Stores != nil {
		if err := mergo.Merge(cfg.Stores, yc.Stores, mergo.WithOverride); err != nil {
			return fmt.Errorf("failed to merge stores config: %w", err)
		}
	}
	if yc.Embedding != nil {
		if err := mergo.Merge(cfg.Embedding, yc.Embedding, mergo.WithOverride); err != nil {
			return fmt.Errorf("failed to merge embedding config: %w", err)
		}
	}
	if yc.Broker != nil {
		cfg.Broker = yc.Broker
	}
	if yc.Ingest != nil {
		if err := mergo.Merge(cfg.Ingest, yc.Ingest, mergo.WithOverride); err != nil {
			return fmt.Errorf("failed to merge ingest config: %w", err)
		}
	}
	if yc.Agent != nil {
		if err := mergo.Merge(cfg.Agent, yc.Agent, mergo.WithOverride); err != nil {
			return fmt.Errorf("failed to merge agent config: %w", err)
		}
	}
	// Profiles merge per-key: a user profile fully replaces the built-in.
	for key, p := range yc.Profiles {
		cfg.LLM.Profiles[key] = p
	}
	return nil
}

// overlayEnv applies environment variables on top of file configuration.
// Environment always wins for secrets and connection settings.
func overlayEnv(cfg *Config) {
	ts := cfg.Stores.TimeSeries
	setString(&ts.Host, "TIMESERIES_HOST")
	setInt(&ts.Port, "TIMESERIES_PORT")
	setString(&ts.User, "TIMESERIES_USER")
	setString(&ts.Password, "TIMESERIES_PASSWORD")
	setString(&ts.Database, "TIMESERIES_DATABASE")

	rel := cfg.Stores.Relational
	setString(&rel.Host, "POSTGRES_HOST")
	setInt(&rel.Port, "POSTGRES_PORT")
	setString(&rel.User, "POSTGRES_USER")
	setString(&rel.Password, "POSTGRES_PASSWORD")
	setString(&rel.Database, "POSTGRES_DATABASE")
	setString(&rel.SSLMode, "POSTGRES_SSL_MODE")

	gr := cfg.Stores.Graph
	setString(&gr.URI, "GRAPH_URI")
	setString(&gr.User, "GRAPH_USER")
	setString(&gr.Password, "GRAPH_PASSWORD")
	setString(&gr.Database, "GRAPH_DATABASE")

	setString(&cfg.LLM.OpenAIAPIKey, "OPENAI_API_KEY")
	setString(&cfg.LLM.OpenAIBaseURL, "OPENAI_BASE_URL")
	setString(&cfg.LLM.AnthropicAPIKey, "ANTHROPIC_API_KEY")

	setString(&cfg.Embedding.APIKey, "EMBEDDING_API_KEY")
	setString(&cfg.Embedding.BaseURL, "EMBEDDING_BASE_URL")
	setString(&cfg.Embedding.Model, "EMBEDDING_MODEL")
	setInt(&cfg.Embedding.Dimension, "EMBEDDING_DIMENSION")

	if v := os.Getenv("BROKER_BOOTSTRAP"); v != "" {
		cfg.Broker.Enabled = true
		cfg.Broker.Brokers = splitCSV(v)
	}
	if v := os.Getenv("BROKER_TOPICS"); v != "" {
		cfg.Broker.Topics = splitCSV(v)
	}
	setString(&cfg.Broker.GroupID, "BROKER_GROUP_ID")
	if v := os.Getenv("BROKER_TLS"); v != "" {
		cfg.Broker.TLS = v == "true" || v == "1"
	}

	// Per-source webhook secrets: WEBHOOK_SECRET_CODE_HOST etc.
	for _, source := range WebhookSources {
		envKey := "WEBHOOK_SECRET_" + envName(source)
		if v := os.Getenv(envKey); v != "" {
			cfg.Webhooks.Secrets[source] = v
		}
	}

	setString(&cfg.Ingest.DeadLetterPath, "DEAD_LETTER_PATH")
	setDuration(&cfg.Stores.OperationTimeout, "STORE_OPERATION_TIMEOUT")
}

// expandEnv substitutes {{.NAME}} references in the YAML with environment
// variable values before parsing. Template syntax rather than $NAME keeps
// literal dollar signs in passwords and regex patterns intact. Unset
// variables become empty strings, which validation then catches for
// required fields. Content that fails to parse or execute as a template
// is returned unchanged so the YAML error surfaces instead.
func expandEnv(data []byte) []byte {
	tmpl, err := template.New("forgesight.yaml").Option("missingkey=zero").Parse(string(data))
	if err != nil {
		return data
	}

	env := map[string]string{}
	for _, kv := range os.Environ() {
		if name, value, ok := strings.Cut(kv, "="); ok && name != "" {
			env[name] = value
		}
	}

	var out bytes.Buffer
	if err := tmpl.Execute(&out, env); err != nil {
		return data
	}
	return out.Bytes()
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}

func splitCSV(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if s := strings.TrimSpace(part); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// envName converts a source name to its env-var fragment: "code-host" → "CODE_HOST".
func envName(source string) string {
	return strings.ToUpper(strings.ReplaceAll(source, "-", "_"))
}
