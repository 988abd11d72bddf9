package llm

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"relaycore/pkg/breaker"
	"relaycore/pkg/retrypolicy"

	"golang.org/x/sync/semaphore"
)

// ChatState tracks the mutable state of one model's attempt loop: the
// current structured-output rung, the last observed failure, and whether a
// structured-parse failure is what finally exhausted this model.
type ChatState struct {
	ResponseFormatMode   string
	StructuredUsed       bool
	StructuredParseError bool
	LastError            string
	LastLatencyMS        int
	LastModelReported    string
	MaxTokens            *int
}

// modelEntry is one model in the orchestrator's ordered fallback chain.
type modelEntry struct {
	client         Client
	reasoningHeavy bool
	structured     bool // whether this model supports structured outputs at all
}

// Orchestrator drives the model x attempt chat loop: builds the ordered
// model list, runs the structured-output downgrade ladder, and falls back
// to the next model on exhaustion. It owns one circuit breaker per model.
type Orchestrator struct {
	primary                 modelEntry
	fallbacks               []modelEntry
	safeStructuredFallbacks []modelEntry

	maxRetries int
	policy     retrypolicy.Policy
	pricing    *PricingTable
	logger     *slog.Logger

	mu       sync.Mutex
	breakers map[string]*breaker.Breaker

	// concurrency bounds how many Chat calls may be in flight across the
	// whole orchestrator at once, independent of per-model breakers and
	// the HTTP pool's own connection limits.
	concurrency *semaphore.Weighted
}

const defaultMaxConcurrentCalls = 20

// OrchestratorConfig configures a new Orchestrator.
type OrchestratorConfig struct {
	Primary                 Client
	Fallbacks               []Client
	SafeStructuredFallbacks []Client
	ReasoningHeavyPrimary   bool
	MaxRetries              int
	RetryPolicy             retrypolicy.Policy
	Pricing                 *PricingTable
	Logger                  *slog.Logger
	// MaxConcurrentCalls bounds in-flight Chat calls (1..100); 0 uses
	// defaultMaxConcurrentCalls.
	MaxConcurrentCalls int
}

func NewOrchestrator(cfg OrchestratorConfig) *Orchestrator {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 2
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	maxConcurrent := cfg.MaxConcurrentCalls
	if maxConcurrent <= 0 {
		maxConcurrent = defaultMaxConcurrentCalls
	}
	if maxConcurrent > 100 {
		maxConcurrent = 100
	}
	o := &Orchestrator{
		primary:     modelEntry{client: cfg.Primary, reasoningHeavy: cfg.ReasoningHeavyPrimary, structured: true},
		maxRetries:  cfg.MaxRetries,
		policy:      cfg.RetryPolicy,
		pricing:     cfg.Pricing,
		logger:      cfg.Logger,
		breakers:    make(map[string]*breaker.Breaker),
		concurrency: semaphore.NewWeighted(int64(maxConcurrent)),
	}
	for _, c := range cfg.Fallbacks {
		o.fallbacks = append(o.fallbacks, modelEntry{client: c, structured: true})
	}
	for _, c := range cfg.SafeStructuredFallbacks {
		o.safeStructuredFallbacks = append(o.safeStructuredFallbacks, modelEntry{client: c, structured: true})
	}
	return o
}

func (o *Orchestrator) breakerFor(name string) *breaker.Breaker {
	o.mu.Lock()
	defer o.mu.Unlock()
	b, ok := o.breakers[name]
	if !ok {
		b = breaker.New(breaker.DefaultConfig())
		o.breakers[name] = b
	}
	return b
}

// buildModelList implements step 2 of 4.H: primary + fallbacks (minus
// primary), with safe-structured fallbacks appended, de-duplicated, when a
// response_format was requested against a reasoning-heavy primary.
func (o *Orchestrator) buildModelList(req ChatRequest) []modelEntry {
	seen := map[string]struct{}{o.primary.client.ProviderName(): {}}
	list := []modelEntry{o.primary}
	for _, m := range o.fallbacks {
		name := m.client.ProviderName()
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}
		list = append(list, m)
	}
	if req.ResponseFormat != nil && o.primary.reasoningHeavy {
		for _, m := range o.safeStructuredFallbacks {
			name := m.client.ProviderName()
			if _, dup := seen[name]; dup {
				continue
			}
			seen[name] = struct{}{}
			list = append(list, m)
		}
	}
	return list
}

// downgrade implements the structured-output ladder:
// json_schema -> json_object -> "" (dropped entirely).
func downgrade(mode string) string {
	switch mode {
	case StructuredModeJSONSchema:
		return StructuredModeJSONObject
	case StructuredModeJSONObject:
		return StructuredModeNone
	default:
		return StructuredModeNone
	}
}

// attemptOutcome is the per-attempt classification the loop branches on.
type attemptOutcome int

const (
	outcomeSuccess attemptOutcome = iota
	outcomeDowngradeRetry
	outcomeRetrySameModel
	outcomeNextModel
	outcomeFatal
)

func (o *Orchestrator) bumpMaxTokens(state *ChatState, req *ChatRequest) {
	cur := 4096
	if req.MaxTokens != nil {
		cur = *req.MaxTokens
	}
	bumped := int(float64(cur) * 1.5)
	if bumped > 32768 {
		bumped = 32768
	}
	req.MaxTokens = &bumped
}

// Chat implements 4.H end to end: capability gate, send, interpret,
// downgrade ladder, and model-to-model fallback.
func (o *Orchestrator) Chat(ctx context.Context, req ChatRequest) LLMCallResult {
	if len(req.Messages) == 0 {
		return LLMCallResult{Status: "error", ErrorText: "chat request has no messages"}
	}

	if err := o.concurrency.Acquire(ctx, 1); err != nil {
		return LLMCallResult{Status: "error", ErrorText: "orchestration concurrency limit: " + err.Error()}
	}
	defer o.concurrency.Release(1)

	models := o.buildModelList(req)
	var lastErr string
	var structuredParseFailureSeen bool

	for _, entry := range models {
		name := entry.client.ProviderName()
		b := o.breakerFor(name)
		if !b.CanProceed() {
			lastErr = fmt.Sprintf("%s: circuit open, skipping", name)
			continue
		}

		state := &ChatState{ResponseFormatMode: StructuredModeJSONSchema}
		if req.ResponseFormat != nil {
			state.ResponseFormatMode = string(req.ResponseFormat.Type)
		}
		runReq := req

		result, outcome := o.runModel(ctx, entry, runReq, state)
		switch outcome {
		case outcomeSuccess:
			b.RecordSuccess()
			return result
		case outcomeFatal:
			return result
		default:
			b.RecordFailure()
			lastErr = result.ErrorText
			if state.StructuredParseError {
				structuredParseFailureSeen = true
			}
		}
	}

	errText := lastErr
	if structuredParseFailureSeen {
		errText = "structured_output_parse_error"
	}
	if errText == "" {
		errText = "all models exhausted"
	}
	return LLMCallResult{Status: "error", ErrorText: errText}
}

// runModel drives the per-attempt loop (up to MaxRetries+1 attempts) for a
// single model, including the downgrade ladder and truncation handling.
// It returns (result, outcomeFatal|outcomeSuccess|outcomeNextModel) — once
// this model is exhausted or a non-retryable error is hit, control returns
// to Chat to either stop (fatal) or move to the next model.
func (o *Orchestrator) runModel(ctx context.Context, entry modelEntry, req ChatRequest, state *ChatState) (LLMCallResult, attemptOutcome) {
	for attempt := 0; attempt <= o.maxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return LLMCallResult{Status: "error", ErrorText: err.Error()}, outcomeFatal
		}

		runReq := req
		if state.ResponseFormatMode != "" && req.ResponseFormat != nil {
			rf := *req.ResponseFormat
			rf.Type = ResponseFormatType(state.ResponseFormatMode)
			runReq.ResponseFormat = &rf
		} else if state.ResponseFormatMode == StructuredModeNone {
			runReq.ResponseFormat = nil
		}

		start := time.Now()
		result, err := entry.client.Chat(ctx, runReq)
		result.LatencyMS = int(time.Since(start).Milliseconds())
		state.LastLatencyMS = result.LatencyMS

		if err != nil {
			outcome, retryable := o.classifyCallError(err, state)
			if !retryable {
				result.Status = "error"
				result.ErrorText = err.Error()
				return result, outcome
			}
			if outcome == outcomeDowngradeRetry {
				state.ResponseFormatMode = downgrade(state.ResponseFormatMode)
			}
			if sleepErr := retrypolicy.Sleep(ctx, attempt, o.policy.InitialDelay, o.policy.MaxDelay); sleepErr != nil {
				return LLMCallResult{Status: "error", ErrorText: sleepErr.Error()}, outcomeFatal
			}
			state.LastError = err.Error()
			continue
		}

		if result.Status != "ok" {
			state.LastError = result.ErrorText
			if result.ErrorContext != nil {
				if strings.Contains(strings.ToLower(result.ErrorContext.APIError), "response_format") && state.ResponseFormatMode != StructuredModeNone {
					state.ResponseFormatMode = downgrade(state.ResponseFormatMode)
				} else if !retrypolicy.IsRetryableStatusCode(result.ErrorContext.StatusCode) {
					return result, outcomeFatal
				}
			}
			if sleepErr := o.sleepBeforeRetry(ctx, result.ErrorContext, attempt); sleepErr != nil {
				return LLMCallResult{Status: "error", ErrorText: sleepErr.Error()}, outcomeFatal
			}
			continue
		}

		truncated := strings.EqualFold(result.StructuredOutputMode, StructuredModeJSONSchema) && result.ResponseText == ""
		if truncated && attempt < o.maxRetries {
			o.bumpMaxTokens(state, &req)
			if state.ResponseFormatMode != StructuredModeNone {
				state.ResponseFormatMode = downgrade(state.ResponseFormatMode)
			}
			continue
		}

		if o.pricing != nil && result.CostUSD == nil && result.TokensPrompt != nil && result.TokensCompletion != nil {
			cost := o.pricing.Estimate(result.Model, *result.TokensPrompt, *result.TokensCompletion)
			result.CostUSD = &cost
		}

		result.Status = "ok"
		return result, outcomeSuccess
	}

	state.StructuredParseError = state.LastError == "structured_output_parse_error"
	return LLMCallResult{Status: "error", ErrorText: state.LastError}, outcomeNextModel
}

// sleepBeforeRetry honors a provider's Retry-After header when present,
// falling back to the jittered backoff formula otherwise.
func (o *Orchestrator) sleepBeforeRetry(ctx context.Context, errCtx *ErrorContext, attempt int) error {
	if errCtx != nil && errCtx.RetryAfter > 0 {
		return retrypolicy.SleepFor(ctx, errCtx.RetryAfter)
	}
	return retrypolicy.Sleep(ctx, attempt, o.policy.InitialDelay, o.policy.MaxDelay)
}

// classifyCallError maps a transport/protocol error from a Client.Chat
// call into the 4.H non-200 handling cascade.
func (o *Orchestrator) classifyCallError(err error, state *ChatState) (attemptOutcome, bool) {
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "response_format") && state.ResponseFormatMode != StructuredModeNone:
		return outcomeDowngradeRetry, true
	case strings.Contains(msg, "status 400"), strings.Contains(msg, "status 401"),
		strings.Contains(msg, "status 402"), strings.Contains(msg, "status 403"):
		return outcomeFatal, false
	case strings.Contains(msg, "status 404"), strings.Contains(msg, "no endpoints found"),
		strings.Contains(msg, "does not support structured"):
		if state.ResponseFormatMode != StructuredModeNone {
			return outcomeDowngradeRetry, true
		}
		return outcomeNextModel, false
	case strings.Contains(msg, "status 429"):
		return outcomeRetrySameModel, true
	default:
		if retrypolicy.ClassifyError(0, "", msg) {
			return outcomeRetrySameModel, true
		}
		return outcomeFatal, false
	}
}
