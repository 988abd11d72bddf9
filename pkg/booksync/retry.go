package booksync

import (
	"context"
	"time"

	"relaycore/pkg/config"
	"relaycore/pkg/retrypolicy"
)

// RetryPolicy configures the high-level sync-action retry executor. Unlike
// the HTTP client's jittered exponential backoff (retrypolicy.Delay), this
// one is a plain multiply-by-factor schedule: masking brief remote
// outages across actions that already embed their own wire-level retries.
type RetryPolicy struct {
	MaxRetries   int
	BaseDelay    time.Duration
	MaxDelay     time.Duration
	BackoffFactor float64
}

// DefaultRetryPolicy matches the spec's Sync Retry Executor defaults.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxRetries: 3, BaseDelay: 500 * time.Millisecond, MaxDelay: 5 * time.Second, BackoffFactor: 2}
}

// RetryPolicyFromSystemConfig builds a RetryPolicy from the engine-level
// system config's BookSyncRetry* fields.
func RetryPolicyFromSystemConfig(sys *config.SystemConfig) RetryPolicy {
	return RetryPolicy{
		MaxRetries:    sys.BookSyncRetryMaxRetries,
		BaseDelay:     time.Duration(sys.BookSyncRetryBaseDelayMs) * time.Millisecond,
		MaxDelay:      time.Duration(sys.BookSyncRetryMaxDelayMs) * time.Millisecond,
		BackoffFactor: sys.BookSyncRetryBackoff,
	}
}

func (p RetryPolicy) delay(attempt int) time.Duration {
	d := float64(p.BaseDelay)
	for i := 0; i < attempt; i++ {
		d *= p.BackoffFactor
	}
	if max := float64(p.MaxDelay); max > 0 && d > max {
		d = max
	}
	return time.Duration(d)
}

// Executor retries high-level sync actions (create/update bookmark,
// attach tags) using RetryPolicy's schedule and the shared transient-error
// classifier from §4.C.
type Executor struct {
	Policy RetryPolicy
}

// NewExecutor builds an Executor with the given policy.
func NewExecutor(policy RetryPolicy) *Executor {
	return &Executor{Policy: policy}
}

// Outcome is the executor's uniform return shape: (result, success,
// retryable, lastError).
type Outcome[T any] struct {
	Result    T
	Success   bool
	Retryable bool
	LastError error
}

// Run retries fn according to e.Policy, classifying failures with the
// same (statusCode, typeName, message) heuristic the HTTP layer uses. fn
// may return a *ActionError to supply the status code and type name; any
// other error is classified by its message text alone.
func Run[T any](ctx context.Context, e *Executor, fn func(ctx context.Context, attempt int) (T, error)) Outcome[T] {
	var zero T
	var lastErr error
	for attempt := 0; ; attempt++ {
		result, err := fn(ctx, attempt)
		if err == nil {
			return Outcome[T]{Result: result, Success: true}
		}
		lastErr = err
		if ctx.Err() != nil {
			return Outcome[T]{Result: zero, Success: false, Retryable: false, LastError: ctx.Err()}
		}

		statusCode, typeName, message := classifyActionError(err)
		retryable := retrypolicy.ClassifyError(statusCode, typeName, message)
		if !retryable || attempt >= e.Policy.MaxRetries {
			return Outcome[T]{Result: zero, Success: false, Retryable: retryable, LastError: lastErr}
		}

		timer := time.NewTimer(e.Policy.delay(attempt))
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return Outcome[T]{Result: zero, Success: false, Retryable: false, LastError: ctx.Err()}
		}
	}
}

// ActionError carries the status/type metadata Run's classifier needs;
// sync actions that fail over HTTP should wrap their error in one of
// these rather than a bare error.
type ActionError struct {
	StatusCode int
	TypeName   string
	Message    string
	Err        error
}

func (e *ActionError) Error() string { return e.Message }
func (e *ActionError) Unwrap() error { return e.Err }

func classifyActionError(err error) (statusCode int, typeName string, message string) {
	if ae, ok := err.(*ActionError); ok {
		return ae.StatusCode, ae.TypeName, ae.Message
	}
	return 0, "", err.Error()
}
