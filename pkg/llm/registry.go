package llm

import (
	"fmt"

	"github.com/forgesight/forgesight/pkg/config"
)

// Registry holds one client per configured provider. Clients are built
// eagerly at startup so a missing API key fails fast, not mid-turn.
type Registry struct {
	clients map[string]Client
}

// NewRegistry constructs clients for every provider referenced by at
// least one profile.
func NewRegistry(cfg *config.LLMConfig) (*Registry, error) {
	needed := map[string]bool{}
	for _, profile := range cfg.Profiles {
		needed[profile.Provider] = true
	}

	clients := map[string]Client{}
	for provider := range needed {
		switch provider {
		case "openai":
			client, err := NewOpenAIClient(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL)
			if err != nil {
				return nil, fmt.Errorf("openai provider: %w", err)
			}
			clients[provider] = client
		case "anthropic":
			client, err := NewAnthropicClient(cfg.AnthropicAPIKey)
			if err != nil {
				return nil, fmt.Errorf("anthropic provider: %w", err)
			}
			clients[provider] = client
		default:
			return nil, fmt.Errorf("unknown LLM provider %q", provider)
		}
	}
	return &Registry{clients: clients}, nil
}

// NewRegistryWithClients injects pre-built clients (tests).
func NewRegistryWithClients(clients map[string]Client) *Registry {
	return &Registry{clients: clients}
}

// ForProvider returns the client serving one provider name.
func (r *Registry) ForProvider(provider string) (Client, error) {
	client, ok := r.clients[provider]
	if !ok {
		return nil, fmt.Errorf("no client for provider %q", provider)
	}
	return client, nil
}
