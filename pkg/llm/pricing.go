package llm

import "strings"

// ModelPrice is the per-1k-token cost of one model, used when a provider's
// usage payload omits a total_cost figure and the orchestrator must
// estimate it itself.
type ModelPrice struct {
	InputPer1K  float64
	OutputPer1K float64
}

// PricingTable is a model-name-keyed cost table with prefix-match fallback
// for model aliases a provider may report with a version suffix the table
// doesn't carry verbatim (e.g. "gpt-4o-2024-08-06" falling back to "gpt-4o").
type PricingTable struct {
	prices map[string]ModelPrice
}

// NewPricingTable builds a PricingTable from a model -> price map.
func NewPricingTable(prices map[string]ModelPrice) *PricingTable {
	return &PricingTable{prices: prices}
}

// DefaultPricingTable carries indicative per-1k rates for the models this
// module's three providers commonly expose. NewFromConfig always uses it;
// a different table can be passed through OrchestratorConfig.Pricing.
func DefaultPricingTable() *PricingTable {
	return NewPricingTable(map[string]ModelPrice{
		"gpt-4o":                  {InputPer1K: 0.0025, OutputPer1K: 0.01},
		"gpt-4o-mini":             {InputPer1K: 0.00015, OutputPer1K: 0.0006},
		"gpt-5":                   {InputPer1K: 0.005, OutputPer1K: 0.015},
		"claude-3-5-sonnet":       {InputPer1K: 0.003, OutputPer1K: 0.015},
		"claude-3-5-haiku":        {InputPer1K: 0.0008, OutputPer1K: 0.004},
		"claude-3-opus":           {InputPer1K: 0.015, OutputPer1K: 0.075},
		"anthropic/claude-3-opus": {InputPer1K: 0.015, OutputPer1K: 0.075},
	})
}

// Estimate computes cost in USD from prompt/completion token counts,
// matching the model name exactly first, then by longest known prefix.
func (t *PricingTable) Estimate(model string, promptTokens, completionTokens int) float64 {
	price, ok := t.prices[model]
	if !ok {
		price, ok = t.matchPrefix(model)
	}
	if !ok {
		return 0
	}
	return float64(promptTokens)/1000*price.InputPer1K + float64(completionTokens)/1000*price.OutputPer1K
}

func (t *PricingTable) matchPrefix(model string) (ModelPrice, bool) {
	var best string
	var bestPrice ModelPrice
	for name, price := range t.prices {
		if strings.HasPrefix(model, name) && len(name) > len(best) {
			best = name
			bestPrice = price
		}
	}
	return bestPrice, best != ""
}
