package llm

import "log/slog"

// LLMUsage carries the token accounting a provider reports back with a
// chat completion, including the optional cached/thinking breakdowns some
// providers expose.
type LLMUsage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
	ThoughtsTokens   int
	CachedTokens     int
	PromptDetail     string
	CompletionDetail string
	StopReason       string
}

// LogUsage emits a structured log line for one completion's token usage;
// a nil usage logs nothing.
func LogUsage(logger *slog.Logger, model string, usage *LLMUsage) {
	if usage == nil {
		return
	}
	logger.Info("llm usage",
		"model", model,
		"prompt_tokens", usage.PromptTokens,
		"completion_tokens", usage.CompletionTokens,
		"total_tokens", usage.TotalTokens,
		"thoughts_tokens", usage.ThoughtsTokens,
		"cached_tokens", usage.CachedTokens,
		"stop_reason", usage.StopReason,
	)
}
