package openrouter

import (
	"log/slog"

	"relaycore/pkg/config"
	"relaycore/pkg/httppool"
	"relaycore/pkg/llm"
)

type Factory struct{}

func (f *Factory) Create(group llm.ProviderGroupConfig, _ *config.SystemConfig) ([]llm.Client, error) {
	var clients []llm.Client

	apiKey := ""
	if len(group.APIKeys) > 0 {
		apiKey = group.APIKeys[0]
	}
	var providerPref []string
	if raw, ok := group.Options["provider_order"].([]any); ok {
		for _, v := range raw {
			if s, ok := v.(string); ok {
				providerPref = append(providerPref, s)
			}
		}
	}

	pool := httppool.Global()
	httpClient := pool.Acquire(httppool.Key{BaseURL: modelsEndpoint, Timeout: 10_000_000_000, MaxConnections: 5, MaxKeepAlive: 2})
	caps := NewCapabilityCache(httpClient, apiKey)

	for _, model := range group.Models {
		c, err := NewClient(apiKey, model, providerPref, caps)
		if err != nil {
			slog.Error("openrouter: failed to create client", "model", model, "error", err)
			continue
		}
		clients = append(clients, c)
	}
	return clients, nil
}

func init() {
	llm.RegisterProvider("openrouter", &Factory{})
}
