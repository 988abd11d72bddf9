// Package openailm implements Provider "O": a non-streaming llm.Client
// wrapping the official OpenAI Go SDK.
package openailm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"relaycore/pkg/llm"
	"relaycore/pkg/retrypolicy"

	openai "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
)

// Client wraps the OpenAI SDK as one llm.Client bound to a single model.
type Client struct {
	sdk          openai.Client
	provider     string
	model        string
	organization string
}

// NewClient builds a Client for one model. organization may be empty.
func NewClient(provider, apiKey, model, baseURL, organization string) (*Client, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openailm: api key is required")
	}
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	if organization != "" {
		opts = append(opts, option.WithOrganization(organization))
	}
	return &Client{
		sdk:          openai.NewClient(opts...),
		provider:     provider,
		model:        model,
		organization: organization,
	}, nil
}

func (c *Client) ProviderName() string { return fmt.Sprintf("%s:%s", c.provider, c.model) }
func (c *Client) Close() error         { return nil }

// Chat implements 4.F's Provider O builder in terms of the SDK's typed
// params, then runs the shared G response processor over the raw JSON the
// SDK hands back.
func (c *Client) Chat(ctx context.Context, req llm.ChatRequest) (llm.LLMCallResult, error) {
	if err := llm.ValidateChatRequest(req); err != nil {
		return llm.LLMCallResult{}, err
	}
	sanitized := llm.SanitizeMessages(req.Messages)

	params := openai.ChatCompletionNewParams{
		Model:       openai.ChatModel(c.model),
		Messages:    convertMessages(sanitized),
		Temperature: openai.Float(req.Temperature),
	}
	if req.MaxTokens != nil {
		params.MaxTokens = openai.Int(int64(*req.MaxTokens))
	}
	if req.TopP != nil {
		params.TopP = openai.Float(*req.TopP)
	}

	structuredMode := ""
	if req.ResponseFormat != nil {
		structuredMode = string(req.ResponseFormat.Type)
		switch req.ResponseFormat.Type {
		case llm.ResponseFormatJSONObject:
			params.ResponseFormat = openai.ChatCompletionNewParamsResponseFormatUnion{
				OfJSONObject: &openai.ResponseFormatJSONObjectParam{},
			}
		case llm.ResponseFormatJSONSchema:
			params.ResponseFormat = openai.ChatCompletionNewParamsResponseFormatUnion{
				OfJSONSchema: &openai.ResponseFormatJSONSchemaParam{
					JSONSchema: openai.ResponseFormatJSONSchemaJSONSchemaParam{
						Name:   req.ResponseFormat.Name,
						Strict: openai.Bool(req.ResponseFormat.Strict),
						Schema: req.ResponseFormat.Schema,
					},
				},
			}
		}
	}

	resp, err := c.sdk.Chat.Completions.New(ctx, params)
	if err != nil {
		var apiErr *openai.Error
		if errors.As(err, &apiErr) {
			errCtx := llm.GetErrorContext(apiErr.StatusCode, map[string]any{"error": err.Error()})
			errCtx.Provider = c.provider
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

	text, usage, cost := llm.ExtractResponseData(data, req.ResponseFormat != nil)
	truncated, finishReason, nativeReason := llm.IsCompletionTruncated(data)

	result := llm.LLMCallResult{
		Status:                "ok",
		Model:                 c.model,
		ResponseText:          text,
		TokensPrompt:          intPtr(usage, func(u *llm.LLMUsage) int { return u.PromptTokens }),
		TokensCompletion:      intPtr(usage, func(u *llm.LLMUsage) int { return u.CompletionTokens }),
		CostUSD:               cost,
		RequestMessages:       llm.TruncateForLogging(sanitized),
		RequestHeaders:        llm.RedactHeaders(map[string]string{"authorization": "Bearer [REDACTED]"}),
		Endpoint:              "/v1/chat/completions",
		StructuredOutputUsed:  structuredMode != "",
		StructuredOutputMode:  structuredMode,
	}
	if truncated {
		result.ErrorContext = &llm.ErrorContext{Message: fmt.Sprintf("truncated: %s/%s", finishReason, nativeReason)}
	}
	return result, nil
}

func intPtr(u *llm.LLMUsage, get func(*llm.LLMUsage) int) *int {
	if u == nil {
		return nil
	}
	v := get(u)
	return &v
}

func convertMessages(messages []llm.Message) []openai.ChatCompletionMessageParamUnion {
	items := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, m := range messages {
		switch strings.ToLower(m.Role) {
		case "system":
			items = append(items, openai.ChatCompletionMessageParamUnion{
				OfSystem: &openai.ChatCompletionSystemMessageParam{
					Content: openai.ChatCompletionSystemMessageParamContentUnion{OfString: openai.String(m.Content)},
				},
			})
		case "assistant":
			items = append(items, openai.ChatCompletionMessageParamUnion{
				OfAssistant: &openai.ChatCompletionAssistantMessageParam{
					Content: openai.ChatCompletionAssistantMessageParamContentUnion{OfString: openai.String(m.Content)},
				},
			})
		default:
			items = append(items, openai.ChatCompletionMessageParamUnion{
				OfUser: &openai.ChatCompletionUserMessageParam{
					Content: openai.ChatCompletionUserMessageParamContentUnion{OfString: openai.String(m.Content)},
				},
			})
		}
	}
	return items
}
