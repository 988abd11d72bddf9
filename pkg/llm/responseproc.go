package llm

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"relaycore/pkg/jsonx"
)

// ExtractStructuredContent implements 4.G's extract_structured_content: a
// single entry point walking a decoded chat-completion message body, in
// priority order, for the structured (or best-effort) text it carries.
func ExtractStructuredContent(message map[string]any, rfIncluded bool) string {
	if rfIncluded {
		if parsed, ok := message["parsed"]; ok && parsed != nil {
			if b, err := json.Marshal(parsed); err == nil {
				return string(b)
			}
		}
	}

	if content, ok := message["content"].(string); ok && content != "" {
		return content
	}

	if parts, ok := message["content"].([]any); ok {
		if text := walkContentParts(parts); text != "" {
			return text
		}
	}

	if reasoning, ok := message["reasoning"].(string); ok && reasoning != "" {
		if v, found := jsonx.ExtractBalanced(reasoning); found {
			if b, err := json.Marshal(v); err == nil {
				return string(b)
			}
		}
		return reasoning
	}

	if toolCalls, ok := message["tool_calls"].([]any); ok && len(toolCalls) > 0 {
		if tc, ok := toolCalls[0].(map[string]any); ok {
			if fn, ok := tc["function"].(map[string]any); ok {
				if args, ok := fn["arguments"]; ok {
					if s, ok := args.(string); ok {
						return s
					}
					if b, err := json.Marshal(args); err == nil {
						return string(b)
					}
				}
			}
		}
	}

	return ""
}

// walkContentParts recurses through a content-parts array, preferring
// JSON-bearing segments over plain text segments and deduplicating by
// serialized form, per 4.G step 3.
func walkContentParts(parts []any) string {
	seen := map[string]struct{}{}
	var jsonSegments, textSegments []string

	var walk func(v any)
	walk = func(v any) {
		m, ok := v.(map[string]any)
		if !ok {
			return
		}
		for _, key := range []string{"json", "parsed", "arguments", "output"} {
			if val, ok := m[key]; ok && val != nil {
				if b, err := json.Marshal(val); err == nil {
					addUnique(&jsonSegments, seen, string(b))
				}
			}
		}
		if fn, ok := m["function"].(map[string]any); ok {
			walk(fn)
			if args, ok := fn["arguments"]; ok {
				if s, ok := args.(string); ok {
					addUnique(&jsonSegments, seen, s)
				}
			}
		}
		if tcs, ok := m["tool_calls"].([]any); ok {
			for _, tc := range tcs {
				walk(tc)
			}
		}
		for _, key := range []string{"text", "content", "reasoning"} {
			if s, ok := m[key].(string); ok && s != "" {
				if _, errMsg := jsonx.SafeParse(s, jsonx.DefaultLimits()); errMsg == "" {
					addUnique(&jsonSegments, seen, s)
				} else {
					addUnique(&textSegments, seen, s)
				}
			}
		}
	}
	for _, p := range parts {
		walk(p)
	}

	if len(jsonSegments) > 0 {
		return strings.Join(jsonSegments, "")
	}
	return strings.Join(textSegments, "")
}

func addUnique(dst *[]string, seen map[string]struct{}, s string) {
	if _, ok := seen[s]; ok {
		return
	}
	seen[s] = struct{}{}
	*dst = append(*dst, s)
}

// ExtractResponseData returns the text, usage, and (when reported) cost
// from a decoded chat-completion response body.
func ExtractResponseData(data map[string]any, rfIncluded bool) (text string, usage *LLMUsage, cost *float64) {
	choices, _ := data["choices"].([]any)
	if len(choices) > 0 {
		if choice, ok := choices[0].(map[string]any); ok {
			if msg, ok := choice["message"].(map[string]any); ok {
				text = ExtractStructuredContent(msg, rfIncluded)
			}
		}
	}

	if u, ok := data["usage"].(map[string]any); ok {
		usage = &LLMUsage{}
		usage.PromptTokens = intField(u, "prompt_tokens")
		usage.CompletionTokens = intField(u, "completion_tokens")
		usage.TotalTokens = intField(u, "total_tokens")
		if c, ok := u["total_cost"]; ok {
			if f, ok := toFloat(c); ok {
				cost = &f
			}
		}
	}
	return text, usage, cost
}

func intField(m map[string]any, key string) int {
	v, ok := m[key]
	if !ok {
		return 0
	}
	f, ok := toFloat(v)
	if !ok {
		return 0
	}
	return int(f)
}

func toFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case int:
		return float64(t), true
	case string:
		f, err := strconv.ParseFloat(t, 64)
		return f, err == nil
	default:
		return 0, false
	}
}

// ValidateStructuredResponse reports whether text parses as JSON and, for
// the summary schema family, carries at least one non-empty string among
// summary_250/summary_1000/tldr.
func ValidateStructuredResponse(text string, rfIncluded bool, requestedSchema string) (bool, string) {
	if !rfIncluded {
		return true, text
	}
	v, errMsg := jsonx.SafeParse(text, jsonx.DefaultLimits())
	if errMsg != "" {
		return false, text
	}
	if requestedSchema != "summary" {
		return true, text
	}
	m, ok := v.(map[string]any)
	if !ok {
		return false, text
	}
	for _, key := range []string{"summary_250", "summary_1000", "tldr"} {
		if s, ok := m[key].(string); ok && strings.TrimSpace(s) != "" {
			return true, text
		}
	}
	return false, text
}

// IsCompletionTruncated reports whether a completion was cut off at the
// token limit, checking both the normalized finish_reason and the
// provider-native field (hyphens folded to underscores).
func IsCompletionTruncated(data map[string]any) (truncated bool, finishReason, nativeFinishReason string) {
	choices, _ := data["choices"].([]any)
	if len(choices) == 0 {
		return false, "", ""
	}
	choice, ok := choices[0].(map[string]any)
	if !ok {
		return false, "", ""
	}
	if fr, ok := choice["finish_reason"].(string); ok {
		finishReason = fr
	}
	if nfr, ok := choice["native_finish_reason"].(string); ok {
		nativeFinishReason = nfr
	}
	lowerFR := strings.ToLower(finishReason)
	if lowerFR == "length" || lowerFR == "max_tokens" {
		return true, finishReason, nativeFinishReason
	}
	folded := strings.ReplaceAll(strings.ToLower(nativeFinishReason), "-", "_")
	if strings.Contains(folded, "max_token") || strings.Contains(folded, "length") {
		return true, finishReason, nativeFinishReason
	}
	return false, finishReason, nativeFinishReason
}

var statusMessages = map[int]string{
	400: "bad request",
	401: "unauthorized: invalid or missing API credentials",
	402: "payment required: insufficient credits",
	403: "forbidden",
	404: "not found",
	429: "rate limited",
	500: "provider internal error",
}

// GetErrorContext maps a non-200 status and decoded error body into the
// presentation shape of 4.G's get_error_context, with the 403 "key limit
// exceeded" enrichment.
func GetErrorContext(status int, data map[string]any) ErrorContext {
	ctx := ErrorContext{StatusCode: status}
	if msg, ok := statusMessages[status]; ok {
		ctx.Message = msg
	} else {
		ctx.Message = fmt.Sprintf("unexpected status %d", status)
	}

	if errVal, ok := data["error"]; ok {
		switch e := errVal.(type) {
		case string:
			ctx.APIError = e
		case map[string]any:
			if m, ok := e["message"].(string); ok {
				ctx.APIError = m
			}
		}
	}

	if status == 403 && strings.Contains(strings.ToLower(ctx.APIError), "key limit") {
		ctx.Message = "API key has reached its usage limit"
	}
	return ctx
}
