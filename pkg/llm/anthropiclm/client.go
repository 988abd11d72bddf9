// Package anthropiclm implements Provider "A": a non-streaming llm.Client
// wrapping the official Anthropic Go SDK, with system-message extraction
// and the mandatory-max-tokens/clamped-temperature rules 4.F requires.
package anthropiclm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"relaycore/pkg/llm"
	"relaycore/pkg/retrypolicy"

	anthropic "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

const defaultMaxTokens int64 = 4096

// Client wraps the Anthropic SDK as one llm.Client bound to a single model.
type Client struct {
	sdk   anthropic.Client
	model string
}

// NewClient builds a Client for one model.
func NewClient(apiKey, model, baseURL string) (*Client, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("anthropiclm: api key is required")
	}
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(strings.TrimSuffix(baseURL, "/")))
	}
	return &Client{sdk: anthropic.NewClient(opts...), model: model}, nil
}

func (c *Client) ProviderName() string { return "anthropic:" + c.model }
func (c *Client) Close() error         { return nil }

// Chat filters system messages out of the message array and concatenates
// them into the top-level system param, clamps temperature to <= 1, and
// always sets max_tokens (default 4096 when the caller didn't specify one).
func (c *Client) Chat(ctx context.Context, req llm.ChatRequest) (llm.LLMCallResult, error) {
	if err := llm.ValidateChatRequest(req); err != nil {
		return llm.LLMCallResult{}, err
	}
	sanitized := llm.SanitizeMessages(req.Messages)

	var systemParts []string
	converted := make([]anthropic.MessageParam, 0, len(sanitized))
	for _, m := range sanitized {
		switch strings.ToLower(m.Role) {
		case "system":
			systemParts = append(systemParts, m.Content)
		case "assistant":
			converted = append(converted, anthropic.NewAssistantMessage(anthropic.NewTextBlock(m.Content)))
		default:
			converted = append(converted, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
		}
	}

	maxTokens := defaultMaxTokens
	if req.MaxTokens != nil {
		maxTokens = int64(*req.MaxTokens)
	}
	temperature := req.Temperature
	if temperature > 1 {
		temperature = 1
	}

	params := anthropic.MessageNewParams{
		Model:       anthropic.Model(c.model),
		Messages:    converted,
		MaxTokens:   maxTokens,
		Temperature: anthropic.Float(temperature),
	}
	if len(systemParts) > 0 {
		params.System = []anthropic.TextBlockParam{{Text: strings.Join(systemParts, "\n\n")}}
	}

	structuredMode := ""
	var betaOpts []option.RequestOption
	if req.ResponseFormat != nil {
		structuredMode = string(req.ResponseFormat.Type)
		extra := map[string]any{
			"output_format": map[string]any{
				"type":   string(req.ResponseFormat.Type),
				"name":   req.ResponseFormat.Name,
				"schema": req.ResponseFormat.Schema,
			},
		}
		params.SetExtraFields(extra)
		betaOpts = append(betaOpts, option.WithHeaderAdd("anthropic-beta", "structured-outputs-2024"))
	}

	resp, err := c.sdk.Messages.New(ctx, params, betaOpts...)
	if err != nil {
		var apiErr *anthropic.Error
		if errors.As(err, &apiErr) {
			errCtx := llm.GetErrorContext(apiErr.StatusCode, map[string]any{"error": err.Error()})
			errCtx.Provider = "anthropic"
			if apiErr.Response != nil {
				if d, ok := retrypolicy.ParseRetryAfter(apiErr.Response.Header.Get("Retry-After")); ok {
					errCtx.RetryAfter = d
				}
			}
			return llm.LLMCallResult{Status: "error", ErrorText: errCtx.Message, ErrorContext: &errCtx}, nil
		}
		return llm.LLMCallResult{Status: "error", ErrorText: err.Error()}, err
	}

	raw, err := json.Marshal(resp)
	if err != nil {
		return llm.LLMCallResult{Status: "error", ErrorText: err.Error()}, err
	}
	var data map[string]any
	if err := json.Unmarshal(raw, &data); err != nil {
		return llm.LLMCallResult{Status: "error", ErrorText: err.Error()}, err
	}

	text := extractAnthropicText(data)
	usage := extractAnthropicUsage(data)

	result := llm.LLMCallResult{
		Status:               "ok",
		Model:                c.model,
		ResponseText:         text,
		RequestMessages:      llm.TruncateForLogging(sanitized),
		RequestHeaders:       llm.RedactHeaders(map[string]string{"x-api-key": "[REDACTED]"}),
		Endpoint:             "/v1/messages",
		StructuredOutputUsed: structuredMode != "",
		StructuredOutputMode: structuredMode,
	}
	if usage != nil {
		p := usage.PromptTokens
		comp := usage.CompletionTokens
		result.TokensPrompt = &p
		result.TokensCompletion = &comp
		if usage.CachedTokens > 0 {
			result.PromptCache = &llm.PromptCacheMetrics{ReadTokens: usage.CachedTokens, Hit: true}
		}
	}
	return result, nil
}

func extractAnthropicText(data map[string]any) string {
	content, ok := data["content"].([]any)
	if !ok {
		return ""
	}
	var sb strings.Builder
	for _, block := range content {
		m, ok := block.(map[string]any)
		if !ok {
			continue
		}
		if t, _ := m["type"].(string); t == "text" {
			if text, ok := m["text"].(string); ok {
				sb.WriteString(text)
			}
		}
	}
	return sb.String()
}

func extractAnthropicUsage(data map[string]any) *llm.LLMUsage {
	u, ok := data["usage"].(map[string]any)
	if !ok {
		return nil
	}
	usage := &llm.LLMUsage{}
	if v, ok := u["input_tokens"].(float64); ok {
		usage.PromptTokens = int(v)
	}
	if v, ok := u["output_tokens"].(float64); ok {
		usage.CompletionTokens = int(v)
	}
	if v, ok := u["cache_read_input_tokens"].(float64); ok {
		usage.CachedTokens = int(v)
	}
	usage.TotalTokens = usage.PromptTokens + usage.CompletionTokens
	return usage
}
