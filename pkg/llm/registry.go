package llm

import "relaycore/pkg/config"

// ProviderGroupConfig configures one cluster of models from a single
// provider: which models to expose, which credential(s) it carries, and
// provider-specific options.
type ProviderGroupConfig struct {
	Type    string         `json:"type"` // "openrouter" | "openai" | "anthropic"
	APIKeys []string       `json:"api_keys,omitempty"`
	Models  []string       `json:"models"`
	BaseURL string         `json:"base_url,omitempty"`
	Options map[string]any `json:"options,omitempty"`
}

// ProviderFactory is implemented by each provider package's factory.go and
// registered via init() so the generic loader never imports a concrete
// provider package directly.
type ProviderFactory interface {
	Create(group ProviderGroupConfig, system *config.SystemConfig) ([]Client, error)
}

var providerRegistry = make(map[string]ProviderFactory)

// RegisterProvider adds a ProviderFactory to the global registry. Called
// from each provider package's init().
func RegisterProvider(name string, factory ProviderFactory) {
	providerRegistry[name] = factory
}

// GetProviderFactory looks up a registered ProviderFactory by name.
func GetProviderFactory(name string) (ProviderFactory, bool) {
	f, ok := providerRegistry[name]
	return f, ok
}
