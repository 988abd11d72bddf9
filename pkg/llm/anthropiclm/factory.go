package anthropiclm

import (
	"log/slog"

	"relaycore/pkg/config"
	"relaycore/pkg/llm"
)

type Factory struct{}

func (f *Factory) Create(group llm.ProviderGroupConfig, _ *config.SystemConfig) ([]llm.Client, error) {
	var clients []llm.Client

	apiKey := ""
	if len(group.APIKeys) > 0 {
		apiKey = group.APIKeys[0]
	}

	for _, model := range group.Models {
		c, err := NewClient(apiKey, model, group.BaseURL)
		if err != nil {
			slog.Error("anthropiclm: failed to create client", "model", model, "error", err)
			continue
		}
		clients = append(clients, c)
	}
	return clients, nil
}

func init() {
	llm.RegisterProvider("anthropic", &Factory{})
}
