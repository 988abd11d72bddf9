package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractStructuredContentPrefersParsedWhenResponseFormatRequested(t *testing.T) {
	msg := map[string]any{
		"parsed":  map[string]any{"tldr": "short"},
		"content": "fallback text",
	}
	got := ExtractStructuredContent(msg, true)
	assert.JSONEq(t, `{"tldr":"short"}`, got)
}

func TestExtractStructuredContentFallsBackToPlainContent(t *testing.T) {
	msg := map[string]any{"content": "hello there"}
	assert.Equal(t, "hello there", ExtractStructuredContent(msg, false))
}

func TestExtractStructuredContentWalksContentPartsPreferringJSON(t *testing.T) {
	msg := map[string]any{
		"content": []any{
			map[string]any{"text": "plain text part"},
			map[string]any{"json": map[string]any{"a": 1}},
		},
	}
	got := ExtractStructuredContent(msg, false)
	assert.JSONEq(t, `{"a":1}`, got)
}

func TestExtractStructuredContentFallsBackToToolCallArguments(t *testing.T) {
	msg := map[string]any{
		"tool_calls": []any{
			map[string]any{"function": map[string]any{"arguments": `{"x":1}`}},
		},
	}
	assert.Equal(t, `{"x":1}`, ExtractStructuredContent(msg, false))
}

func TestExtractResponseDataParsesUsageAndCost(t *testing.T) {
	data := map[string]any{
		"choices": []any{
			map[string]any{"message": map[string]any{"content": "hi"}},
		},
		"usage": map[string]any{
			"prompt_tokens":     float64(10),
			"completion_tokens": float64(5),
			"total_tokens":      float64(15),
			"total_cost":        0.002,
		},
	}
	text, usage, cost := ExtractResponseData(data, false)
	assert.Equal(t, "hi", text)
	require.NotNil(t, usage)
	assert.Equal(t, 10, usage.PromptTokens)
	assert.Equal(t, 5, usage.CompletionTokens)
	require.NotNil(t, cost)
	assert.InDelta(t, 0.002, *cost, 0.0001)
}

func TestValidateStructuredResponseRequiresSummaryField(t *testing.T) {
	ok, _ := ValidateStructuredResponse(`{"tldr":"x"}`, true, "summary")
	assert.True(t, ok)

	ok, _ = ValidateStructuredResponse(`{"other":"x"}`, true, "summary")
	assert.False(t, ok)

	ok, _ = ValidateStructuredResponse("not json", true, "summary")
	assert.False(t, ok)

	ok, _ = ValidateStructuredResponse("anything goes", false, "summary")
	assert.True(t, ok, "validation is skipped entirely when structured output wasn't requested")
}

func TestIsCompletionTruncatedDetectsLengthAndNativeVariants(t *testing.T) {
	truncated, _, _ := IsCompletionTruncated(map[string]any{
		"choices": []any{map[string]any{"finish_reason": "length"}},
	})
	assert.True(t, truncated)

	truncated, _, _ = IsCompletionTruncated(map[string]any{
		"choices": []any{map[string]any{"finish_reason": "stop", "native_finish_reason": "MAX-TOKENS"}},
	})
	assert.True(t, truncated)

	truncated, _, _ = IsCompletionTruncated(map[string]any{
		"choices": []any{map[string]any{"finish_reason": "stop"}},
	})
	assert.False(t, truncated)
}

func TestGetErrorContextEnrichesKeyLimitMessage(t *testing.T) {
	ctx := GetErrorContext(403, map[string]any{"error": map[string]any{"message": "Key limit exceeded for this month"}})
	assert.Equal(t, "API key has reached its usage limit", ctx.Message)
	assert.Equal(t, "Key limit exceeded for this month", ctx.APIError)
}

func TestGetErrorContextFallsBackForUnknownStatus(t *testing.T) {
	ctx := GetErrorContext(418, map[string]any{})
	assert.Contains(t, ctx.Message, "418")
}
