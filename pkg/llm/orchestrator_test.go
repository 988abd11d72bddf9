package llm

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClient lets each test script exactly what Chat should return per call.
type fakeClient struct {
	name  string
	calls int32
	fn    func(attempt int, req ChatRequest) (LLMCallResult, error)
}

func (f *fakeClient) ProviderName() string { return f.name }
func (f *fakeClient) Close() error         { return nil }
func (f *fakeClient) Chat(_ context.Context, req ChatRequest) (LLMCallResult, error) {
	n := atomic.AddInt32(&f.calls, 1)
	return f.fn(int(n), req)
}

func basicRequest() ChatRequest {
	return ChatRequest{Messages: []Message{{Role: "user", Content: "hi"}}}
}

func TestChatRejectsEmptyMessages(t *testing.T) {
	o := NewOrchestrator(OrchestratorConfig{Primary: &fakeClient{name: "p"}})
	result := o.Chat(t.Context(), ChatRequest{})
	assert.Equal(t, "error", result.Status)
}

func TestChatFallsBackToNextModelOnExhaustedTransientError(t *testing.T) {
	primary := &fakeClient{name: "primary", fn: func(int, ChatRequest) (LLMCallResult, error) {
		return LLMCallResult{}, fmt.Errorf("connection reset by peer")
	}}
	fallback := &fakeClient{name: "fallback", fn: func(int, ChatRequest) (LLMCallResult, error) {
		return LLMCallResult{Status: "ok", ResponseText: "done"}, nil
	}}

	o := NewOrchestrator(OrchestratorConfig{
		Primary:    primary,
		Fallbacks:  []Client{fallback},
		MaxRetries: 1,
	})

	result := o.Chat(t.Context(), basicRequest())
	require.Equal(t, "ok", result.Status)
	assert.Equal(t, "done", result.ResponseText)
	assert.Equal(t, int32(2), atomic.LoadInt32(&primary.calls), "primary gets MaxRetries+1 attempts before giving up")
	assert.Equal(t, int32(1), atomic.LoadInt32(&fallback.calls))
}

func TestChatStopsImmediatelyOnFatalError(t *testing.T) {
	primary := &fakeClient{name: "primary", fn: func(int, ChatRequest) (LLMCallResult, error) {
		return LLMCallResult{}, fmt.Errorf("status 401: invalid api key")
	}}
	fallback := &fakeClient{name: "fallback", fn: func(int, ChatRequest) (LLMCallResult, error) {
		return LLMCallResult{Status: "ok", ResponseText: "should not be reached"}, nil
	}}

	o := NewOrchestrator(OrchestratorConfig{
		Primary:    primary,
		Fallbacks:  []Client{fallback},
		MaxRetries: 3,
	})

	result := o.Chat(t.Context(), basicRequest())
	assert.Equal(t, "error", result.Status)
	assert.Equal(t, int32(1), atomic.LoadInt32(&primary.calls), "fatal errors must not be retried")
	assert.Equal(t, int32(0), atomic.LoadInt32(&fallback.calls), "fatal errors must not trigger fallback")
}

func TestChatDowngradesStructuredOutputModeOnResponseFormatError(t *testing.T) {
	var seenModes []string
	primary := &fakeClient{name: "primary", fn: func(attempt int, req ChatRequest) (LLMCallResult, error) {
		mode := StructuredModeNone
		if req.ResponseFormat != nil {
			mode = string(req.ResponseFormat.Type)
		}
		seenModes = append(seenModes, mode)
		if attempt == 1 {
			return LLMCallResult{}, fmt.Errorf("response_format not supported by this model")
		}
		return LLMCallResult{Status: "ok", ResponseText: "ok"}, nil
	}}

	o := NewOrchestrator(OrchestratorConfig{Primary: primary, MaxRetries: 2})
	req := basicRequest()
	req.ResponseFormat = &ResponseFormat{Type: ResponseFormatJSONSchema}

	result := o.Chat(t.Context(), req)
	require.Equal(t, "ok", result.Status)
	require.Len(t, seenModes, 2)
	assert.Equal(t, StructuredModeJSONSchema, seenModes[0])
	assert.Equal(t, StructuredModeJSONObject, seenModes[1], "a response_format failure downgrades one rung before retrying")
}

// TestChatDowngradesStructuredOutputModeOnResponseFormatStatusError mirrors
// the real provider clients' return shape for an HTTP-level failure: a
// non-nil LLMCallResult with Status "error" and a populated ErrorContext,
// and a nil Go error (openrouter.Client.Chat, openailm.Client.Chat, and
// anthropiclm.Client.Chat all normalize API errors this way; only genuine
// transport failures return a non-nil error). The classifyCallError path
// exercised by TestChatDowngradesStructuredOutputModeOnResponseFormatError
// is never reached by these clients for an ordinary 400 response.
func TestChatDowngradesStructuredOutputModeOnResponseFormatStatusError(t *testing.T) {
	var seenModes []string
	primary := &fakeClient{name: "primary", fn: func(attempt int, req ChatRequest) (LLMCallResult, error) {
		mode := StructuredModeNone
		if req.ResponseFormat != nil {
			mode = string(req.ResponseFormat.Type)
		}
		seenModes = append(seenModes, mode)
		if attempt == 1 {
			return LLMCallResult{
				Status:    "error",
				ErrorText: "bad request",
				ErrorContext: &ErrorContext{
					StatusCode: 400,
					APIError:   "response_format is not supported for this model",
				},
			}, nil
		}
		return LLMCallResult{Status: "ok", ResponseText: "ok"}, nil
	}}

	o := NewOrchestrator(OrchestratorConfig{Primary: primary, MaxRetries: 2})
	req := basicRequest()
	req.ResponseFormat = &ResponseFormat{Type: ResponseFormatJSONSchema}

	result := o.Chat(t.Context(), req)
	require.Equal(t, "ok", result.Status)
	require.Len(t, seenModes, 2)
	assert.Equal(t, StructuredModeJSONSchema, seenModes[0])
	assert.Equal(t, StructuredModeJSONObject, seenModes[1], "a response_format failure reported via Status/ErrorContext must still downgrade, not fall through to the fatal status-code check")
}

func TestChatRetriesStatusErrorAfterRetryAfterDelay(t *testing.T) {
	primary := &fakeClient{name: "primary", fn: func(attempt int, _ ChatRequest) (LLMCallResult, error) {
		if attempt == 1 {
			return LLMCallResult{
				Status:       "error",
				ErrorText:    "rate limited",
				ErrorContext: &ErrorContext{StatusCode: 429, RetryAfter: time.Millisecond},
			}, nil
		}
		return LLMCallResult{Status: "ok", ResponseText: "ok"}, nil
	}}

	o := NewOrchestrator(OrchestratorConfig{Primary: primary, MaxRetries: 1})
	result := o.Chat(t.Context(), basicRequest())
	require.Equal(t, "ok", result.Status)
	assert.Equal(t, int32(2), atomic.LoadInt32(&primary.calls))
}

func TestChatDeduplicatesFallbacksAlreadyUsedAsPrimary(t *testing.T) {
	primary := &fakeClient{name: "shared", fn: func(int, ChatRequest) (LLMCallResult, error) {
		return LLMCallResult{Status: "ok", ResponseText: "from primary"}, nil
	}}
	dup := &fakeClient{name: "shared", fn: func(int, ChatRequest) (LLMCallResult, error) {
		return LLMCallResult{Status: "ok", ResponseText: "should not run"}, nil
	}}

	o := NewOrchestrator(OrchestratorConfig{Primary: primary, Fallbacks: []Client{dup}})
	models := o.buildModelList(basicRequest())
	require.Len(t, models, 1, "a fallback with the same provider name as primary must not be duplicated")
}

func TestNewOrchestratorClampsMaxConcurrentCalls(t *testing.T) {
	o := NewOrchestrator(OrchestratorConfig{Primary: &fakeClient{name: "p"}, MaxConcurrentCalls: 500})
	assert.True(t, o.concurrency.TryAcquire(100), "clamp caps the semaphore weight at 100")
	assert.False(t, o.concurrency.TryAcquire(1), "no weight beyond 100 remains after the clamp")
}
