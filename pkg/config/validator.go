package config

import "fmt"

// validate checks the assembled configuration for internal consistency.
// DSN credentials are not validated here — connection errors surface at
// startup when each store adapter pings.
func validate(cfg *Config) error {
	if err := validateIngest(cfg.Ingest); err != nil {
		return err
	}
	if err := validateAgent(cfg.Agent); err != nil {
		return err
	}
	if err := validateEmbedding(cfg.Embedding); err != nil {
		return err
	}
	if err := validateProfiles(cfg.LLM); err != nil {
		return err
	}
	if cfg.Broker.Enabled {
		if len(cfg.Broker.Brokers) == 0 {
			return fmt.Errorf("broker enabled but no bootstrap endpoints configured")
		}
		if len(cfg.Broker.Topics) == 0 {
			return fmt.Errorf("broker enabled but no topics configured")
		}
		if cfg.Broker.GroupID == "" {
			return fmt.Errorf("broker enabled but consumer group_id is empty")
		}
	}
	return nil
}

func validateIngest(ic *IngestConfig) error {
	if ic == nil {
		return fmt.Errorf("ingest configuration is nil")
	}
	if ic.QueueSize < 1 || ic.QueueSize > 1<<16 {
		return fmt.Errorf("ingest queue_size must be between 1 and 65536, got %d", ic.QueueSize)
	}
	if ic.WorkerCount < 1 || ic.WorkerCount > 128 {
		return fmt.Errorf("ingest worker_count must be between 1 and 128, got %d", ic.WorkerCount)
	}
	if ic.MaxLogRetries < 1 {
		return fmt.Errorf("ingest max_log_retries must be at least 1, got %d", ic.MaxLogRetries)
	}
	if ic.DeadLetterPath == "" {
		return fmt.Errorf("ingest dead_letter_path must not be empty")
	}
	return nil
}

func validateAgent(ac *AgentConfig) error {
	if ac == nil {
		return fmt.Errorf("agent configuration is nil")
	}
	if ac.MaxSteps < 1 || ac.MaxSteps > 32 {
		return fmt.Errorf("agent max_steps must be between 1 and 32, got %d", ac.MaxSteps)
	}
	if ac.MaxToolCallsPerStep < 1 {
		return fmt.Errorf("agent max_tool_calls_per_step must be at least 1, got %d", ac.MaxToolCallsPerStep)
	}
	if ac.ToolTimeout <= 0 {
		return fmt.Errorf("agent tool_timeout must be positive")
	}
	if ac.StreamBufferSize < 16 {
		return fmt.Errorf("agent stream_buffer_size must be at least 16, got %d", ac.StreamBufferSize)
	}
	if ac.ThreadTokenBudget < 500 {
		return fmt.Errorf("agent thread_token_budget must be at least 500, got %d", ac.ThreadTokenBudget)
	}
	return nil
}

func validateEmbedding(ec *EmbeddingConfig) error {
	if ec == nil {
		return fmt.Errorf("embedding configuration is nil")
	}
	if ec.Dimension < 1 {
		return fmt.Errorf("embedding dimension must be positive, got %d", ec.Dimension)
	}
	if ec.BatchSize < 1 || ec.BatchSize > 2048 {
		return fmt.Errorf("embedding batch_size must be between 1 and 2048, got %d", ec.BatchSize)
	}
	if ec.Model == "" {
		return fmt.Errorf("embedding model must not be empty")
	}
	return nil
}

func validateProfiles(lc *LLMConfig) error {
	if lc == nil || len(lc.Profiles) == 0 {
		return fmt.Errorf("no model profiles configured")
	}
	required := []string{"code_analysis", "analytics", "planning", "quick_lookup", "general"}
	for _, key := range required {
		p, ok := lc.Profiles[key]
		if !ok {
			return fmt.Errorf("missing model profile for task type %q", key)
		}
		if p.Model == "" {
			return fmt.Errorf("profile %q: model must not be empty", key)
		}
		switch p.Provider {
		case "openai", "anthropic":
		default:
			return fmt.Errorf("profile %q: unknown provider %q (expected openai or anthropic)", key, p.Provider)
		}
		if p.Temperature < 0 || p.Temperature > 2 {
			return fmt.Errorf("profile %q: temperature must be in [0, 2], got %v", key, p.Temperature)
		}
	}
	return nil
}
