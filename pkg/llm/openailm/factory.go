package openailm

import (
	"log/slog"

	"relaycore/pkg/config"
	"relaycore/pkg/llm"
)

// Factory creates one Client per configured model, all using the first
// configured API key; further keys in the group are not used.
type Factory struct{}

func (f *Factory) Create(group llm.ProviderGroupConfig, _ *config.SystemConfig) ([]llm.Client, error) {
	var clients []llm.Client

	apiKey := ""
	if len(group.APIKeys) > 0 {
		apiKey = group.APIKeys[0]
	}
	organization, _ := group.Options["organization"].(string)

	for _, model := range group.Models {
		c, err := NewClient("openai", apiKey, model, group.BaseURL, organization)
		if err != nil {
			slog.Error("openailm: failed to create client", "model", model, "error", err)
			continue
		}
		clients = append(clients, c)
	}
	return clients, nil
}

func init() {
	llm.RegisterProvider("openai", &Factory{})
}
