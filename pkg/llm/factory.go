package llm

import (
	"fmt"
	"log/slog"
	"time"

	"relaycore/pkg/config"
	"relaycore/pkg/retrypolicy"

	jsoniter "github.com/json-iterator/go"
)

// NewFromConfig is the universal entry point for building an Orchestrator
// from the raw "llm" config section: it unmarshals a slice of
// ProviderGroupConfig, resolves each group's registered ProviderFactory,
// and assembles the resulting clients into a fallback chain. The first
// group's first client becomes the primary; everything else is a
// fallback — matching the teacher's "first config entry is authoritative"
// convention this package's predecessor used for its FallbackClient.
func NewFromConfig(rawLLM jsoniter.RawMessage, system *config.SystemConfig) (*Orchestrator, error) {
	if len(rawLLM) == 0 {
		return nil, fmt.Errorf("missing 'llm' config")
	}

	var groups []ProviderGroupConfig
	if err := jsoniter.ConfigCompatibleWithStandardLibrary.Unmarshal(rawLLM, &groups); err != nil {
		return nil, fmt.Errorf("failed to parse 'llm' config: %w", err)
	}

	var allClients []Client
	for _, group := range groups {
		slog.Info("loading llm provider group", "type", group.Type, "models", len(group.Models))

		factory, ok := GetProviderFactory(group.Type)
		if !ok {
			slog.Warn("unknown llm provider type, skipping", "type", group.Type)
			continue
		}

		clients, err := factory.Create(group, system)
		if err != nil {
			slog.Warn("failed to create llm clients for group", "type", group.Type, "error", err)
			continue
		}
		allClients = append(allClients, clients...)
	}

	if len(allClients) == 0 {
		return nil, fmt.Errorf("no LLM clients could be initialized")
	}
	slog.Info("llm clients initialized", "count", len(allClients))

	primary := allClients[0]
	fallbacks := allClients[1:]

	policy := retrypolicy.Policy{
		MaxRetries:   system.MaxRetries,
		InitialDelay: time.Duration(system.RetryDelayMs) * time.Millisecond,
		MaxDelay:     retrypolicy.DefaultPolicy().MaxDelay,
	}

	return NewOrchestrator(OrchestratorConfig{
		Primary:            primary,
		Fallbacks:          fallbacks,
		MaxRetries:         system.MaxRetries,
		RetryPolicy:        policy,
		Pricing:            DefaultPricingTable(),
		MaxConcurrentCalls: system.MaxConcurrentOrchestrationCalls,
	}), nil
}
