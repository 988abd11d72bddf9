// Package llm is the provider-agnostic chat client layer: a shared request
// and result model (ChatRequest / LLMCallResult), a Client protocol the
// three concrete providers satisfy, and the orchestrator that drives the
// model x attempt retry loop across a fallback chain.
//
// Unlike the streaming chat layer this package's predecessor implemented,
// structured-output summarization is request/response: one ChatRequest in,
// one LLMCallResult out, never a channel of partial chunks.
package llm

import (
	"context"
	"time"
)

// Message is one entry of a ChatRequest's message list.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ResponseFormatType names the abstract structured-output mode, rewritten
// by each provider's request builder into its native wire shape.
type ResponseFormatType string

const (
	ResponseFormatJSONObject ResponseFormatType = "json_object"
	ResponseFormatJSONSchema ResponseFormatType = "json_schema"
)

// ResponseFormat is the abstract structured-output request shape shared by
// all three providers before the per-provider request builder rewrites it.
type ResponseFormat struct {
	Type   ResponseFormatType
	Name   string
	Strict bool
	Schema map[string]any
}

// ChatRequest is the input to the LLM layer (spec §3).
type ChatRequest struct {
	Messages       []Message
	Temperature    float64
	MaxTokens      *int
	TopP           *float64
	Stream         bool
	RequestID      *int
	ResponseFormat *ResponseFormat
	ModelOverride  string
}

// PromptCacheMetrics captures optional prompt-cache accounting, present
// when the underlying provider reports cache reads/writes.
type PromptCacheMetrics struct {
	ReadTokens     int
	CreationTokens int
	Discount       float64
	Hit            bool
}

// ErrorContext enriches an error LLMCallResult for presentation
// (get_error_context in the response processor).
type ErrorContext struct {
	StatusCode int
	Message    string
	APIError   string
	Provider   string
	// RetryAfter is the delay demanded by a Retry-After response header, if
	// the provider sent one; zero means "no explicit delay, use backoff".
	RetryAfter time.Duration
}

// LLMCallResult is the outcome of one call to the LLM layer (spec §3).
// Invariant: if Status == "ok" then ResponseText or ResponseJSON is
// non-empty.
type LLMCallResult struct {
	Status       string // "ok" | "error"
	Model        string
	ResponseText string
	ResponseJSON map[string]any

	TokensPrompt     *int
	TokensCompletion *int
	CostUSD          *float64
	LatencyMS        int

	ErrorText    string
	ErrorContext *ErrorContext

	RequestHeaders  map[string]string // authorization redacted
	RequestMessages []Message         // sanitized (long messages truncated)
	Endpoint        string

	StructuredOutputUsed bool
	StructuredOutputMode string // "json_schema" | "json_object" | ""

	PromptCache *PromptCacheMetrics
}

// Client is the protocol all three concrete provider clients satisfy.
// Implementations perform exactly one HTTP attempt; the orchestrator owns
// retries, fallback, and the downgrade ladder across repeated calls to
// Chat.
type Client interface {
	ProviderName() string
	Chat(ctx context.Context, req ChatRequest) (LLMCallResult, error)
	Close() error
}
