// Package config loads, validates, and exposes all Forgesight configuration:
// store DSNs, LLM profiles, broker settings, ingestion tuning, and webhook
// secrets. Secrets come from the environment (.env supported); tuning and
// model profiles come from an optional forgesight.yaml merged over built-ins.
package config

// Config is the umbrella configuration object returned by Initialize()
// and passed to constructors throughout the application.
type Config struct {
	configDir string

	Stores    *StoresConfig
	LLM       *LLMConfig
	Embedding *EmbeddingConfig
	Broker    *BrokerConfig
	Ingest    *IngestConfig
	Webhooks  *WebhookConfig
	Agent     *AgentConfig
}

// ConfigDir returns the configuration directory path.
func (c *Config) ConfigDir() string {
	return c.configDir
}

// WebhookSecret returns the shared secret for a webhook source.
// Empty string means signature verification is disabled for that source.
func (c *Config) WebhookSecret(source string) string {
	if c.Webhooks == nil {
		return ""
	}
	return c.Webhooks.Secrets[source]
}

// Profile retrieves a model profile by task type key.
// This is a convenience method that wraps LLMConfig.Profiles lookup.
func (c *Config) Profile(taskType string) (ModelProfile, bool) {
	p, ok := c.LLM.Profiles[taskType]
	return p, ok
}

// Stats contains statistics about loaded configuration, for startup logging.
type Stats struct {
	Profiles       int
	WebhookSources int
	BrokerTopics   int
}

// Stats returns configuration statistics for logging/monitoring.
func (c *Config) Stats() Stats {
	s := Stats{}
	if c.LLM != nil {
		s.Profiles = len(c.LLM.Profiles)
	}
	if c.Webhooks != nil {
		s.WebhookSources = len(c.Webhooks.Secrets)
	}
	if c.Broker != nil {
		s.BrokerTopics = len(c.Broker.Topics)
	}
	return s
}
