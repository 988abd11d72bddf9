// Package openrouter implements Provider "R": the aggregator. It supports
// both structured-output shapes, provider-routing preferences, and a
// middle-out compression hint for long prompts.
package openrouter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"relaycore/pkg/httppool"
	"relaycore/pkg/llm"
	"relaycore/pkg/retrypolicy"
	"relaycore/pkg/sizeguard"
)

const baseURL = "https://openrouter.ai/api/v1/chat/completions"

// compressionThresholds maps a model-family prefix to the message-character
// count above which the middle-out compression hint is applied. Families
// not listed fall back to the 200k default.
var compressionThresholds = map[string]int{
	"openai/gpt-4":        200_000,
	"anthropic/claude":    600_000,
	"google/gemini":       1_200_000,
}

// Client is one llm.Client bound to a single OpenRouter model.
type Client struct {
	http         *http.Client
	apiKey       string
	model        string
	providerPref []string
	capabilities *CapabilityCache
}

// NewClient builds a Client for one model.
func NewClient(apiKey, model string, providerPref []string, caps *CapabilityCache) (*Client, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openrouter: api key is required")
	}
	pool := httppool.Global()
	cl := pool.Acquire(httppool.Key{BaseURL: baseURL, Timeout: 60_000_000_000, MaxConnections: 20, MaxKeepAlive: 10})
	return &Client{http: cl, apiKey: apiKey, model: model, providerPref: providerPref, capabilities: caps}, nil
}

func (c *Client) ProviderName() string { return "openrouter:" + c.model }
func (c *Client) Close() error         { return nil }

func compressionThreshold(model string) int {
	for prefix, threshold := range compressionThresholds {
		if strings.HasPrefix(model, prefix) {
			return threshold
		}
	}
	return 200_000
}

func messageCharCount(messages []llm.Message) int {
	total := 0
	for _, m := range messages {
		total += len(m.Content)
	}
	return total
}

// buildHeaders implements 4.F's build_headers for Provider R.
func (c *Client) buildHeaders() map[string]string {
	return map[string]string{
		"Authorization": "Bearer " + c.apiKey,
		"Content-Type":  "application/json",
	}
}

// buildRequestBody implements 4.F's build_request_body for Provider R,
// including the GPT-5 special case (GPT-5 rejects sampling params other
// than max_completion_tokens). The wire response_format is always built
// from req.ResponseFormat's type, name, strict flag and schema; an
// already-wrapped provider response_format object is not passed through.
func (c *Client) buildRequestBody(req llm.ChatRequest, structuredMode string) map[string]any {
	body := map[string]any{
		"model":    c.model,
		"messages": toWire(req.Messages),
	}

	if strings.Contains(strings.ToLower(c.model), "gpt-5") {
		if req.MaxTokens != nil {
			body["max_completion_tokens"] = *req.MaxTokens
		}
	} else {
		body["temperature"] = req.Temperature
		if req.MaxTokens != nil {
			body["max_tokens"] = *req.MaxTokens
		}
		if req.TopP != nil {
			body["top_p"] = *req.TopP
		}
	}

	if req.ResponseFormat != nil && structuredMode != llm.StructuredModeNone {
		switch llm.ResponseFormatType(structuredMode) {
		case llm.ResponseFormatJSONObject:
			body["response_format"] = map[string]any{"type": "json_object"}
		case llm.ResponseFormatJSONSchema:
			body["response_format"] = map[string]any{
				"type": "json_schema",
				"json_schema": map[string]any{
					"name":   req.ResponseFormat.Name,
					"strict": req.ResponseFormat.Strict,
					"schema": req.ResponseFormat.Schema,
				},
			}
		}
	}

	if len(c.providerPref) > 0 {
		body["provider"] = map[string]any{"order": c.providerPref, "allow_fallbacks": false}
	}

	if messageCharCount(req.Messages) > compressionThreshold(c.model) {
		body["transforms"] = []string{"middle-out"}
	}

	return body
}

func toWire(messages []llm.Message) []map[string]string {
	out := make([]map[string]string, len(messages))
	for i, m := range messages {
		out[i] = map[string]string{"role": m.Role, "content": m.Content}
	}
	return out
}

// Chat implements one HTTP attempt against OpenRouter's chat completions
// endpoint. Retries, downgrade, and fallback are the orchestrator's job.
// A non-200 status with a JSON body comes back as a non-"ok" LLMCallResult
// carrying result.ErrorContext, which the orchestrator's runModel branches
// on. Request validation failures, transport failures, an oversized body
// and a body that is not JSON surface as a Go error.
func (c *Client) Chat(ctx context.Context, req llm.ChatRequest) (llm.LLMCallResult, error) {
	if err := llm.ValidateChatRequest(req); err != nil {
		return llm.LLMCallResult{}, err
	}
	sanitized := llm.SanitizeMessages(req.Messages)
	req.Messages = sanitized

	structuredMode := llm.StructuredModeNone
	if req.ResponseFormat != nil {
		structuredMode = string(req.ResponseFormat.Type)
	}
	if c.capabilities != nil && structuredMode != llm.StructuredModeNone && !c.capabilities.Supports(c.model) {
		structuredMode = llm.StructuredModeNone
	}

	body := c.buildRequestBody(req, structuredMode)
	payload, err := json.Marshal(body)
	if err != nil {
		return llm.LLMCallResult{}, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL, bytes.NewReader(payload))
	if err != nil {
		return llm.LLMCallResult{}, err
	}
	for k, v := range c.buildHeaders() {
		httpReq.Header.Set(k, v)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return llm.LLMCallResult{}, err
	}
	defer resp.Body.Close()

	buf, err := io.ReadAll(io.LimitReader(resp.Body, sizeguard.MaxAllowedBudget))
	if err != nil {
		return llm.LLMCallResult{}, err
	}
	if _, sgErr := sizeguard.Validate(resp.Header, buf, sizeguard.DefaultMaxSizeBytes, "openrouter"); sgErr != nil {
		return llm.LLMCallResult{}, sgErr
	}

	var data map[string]any
	if err := json.Unmarshal(buf, &data); err != nil {
		return llm.LLMCallResult{}, fmt.Errorf("openrouter: invalid JSON body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		errCtx := llm.GetErrorContext(resp.StatusCode, data)
		errCtx.Provider = "openrouter"
		if d, ok := retrypolicy.ParseRetryAfter(resp.Header.Get("Retry-After")); ok {
			errCtx.RetryAfter = d
		}
		return llm.LLMCallResult{
			Status:       "error",
			ErrorText:    errCtx.Message,
			ErrorContext: &errCtx,
		}, nil
	}

	text, usage, cost := llm.ExtractResponseData(data, structuredMode != llm.StructuredModeNone)
	truncated, finishReason, nativeReason := llm.IsCompletionTruncated(data)

	result := llm.LLMCallResult{
		Status:               "ok",
		Model:                c.model,
		ResponseText:         text,
		CostUSD:              cost,
		RequestMessages:      llm.TruncateForLogging(sanitized),
		RequestHeaders:       llm.RedactHeaders(c.buildHeaders()),
		Endpoint:             baseURL,
		StructuredOutputUsed: structuredMode != llm.StructuredModeNone,
		StructuredOutputMode: structuredMode,
	}
	if usage != nil {
		p, comp := usage.PromptTokens, usage.CompletionTokens
		result.TokensPrompt = &p
		result.TokensCompletion = &comp
	}
	if truncated {
		result.ErrorContext = &llm.ErrorContext{Message: fmt.Sprintf("truncated: %s/%s", finishReason, nativeReason)}
	}
	if structuredMode != llm.StructuredModeNone {
		if valid, normalized := llm.ValidateStructuredResponse(text, true, ""); valid {
			result.ResponseText = normalized
		} else {
			result.Status = "error"
			result.ErrorText = "structured_output_parse_error"
		}
	}
	return result, nil
}
