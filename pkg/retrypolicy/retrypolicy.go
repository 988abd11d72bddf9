// Package retrypolicy implements the jittered exponential backoff formula
// and transient-error classification shared by every HTTP-facing
// collaborator in relaycore.
package retrypolicy

import (
	"context"
	"math"
	"math/rand"
	"strconv"
	"strings"
	"time"
)

// Delay computes the backoff delay for a zero-indexed attempt:
// max(0, base*2^attempt) * (1 + U(-0.25, 0.25)), capped at maxDelay.
func Delay(attempt int, base, maxDelay time.Duration) time.Duration {
	raw := float64(base) * math.Pow(2, float64(attempt))
	if raw < 0 {
		raw = 0
	}
	jitter := 1.0 + (rand.Float64()*0.5 - 0.25)
	d := time.Duration(raw * jitter)
	if maxDelay > 0 && d > maxDelay {
		d = maxDelay
	}
	return d
}

// Sleep blocks for Delay(attempt, base, maxDelay), returning early if ctx is
// cancelled so backoff never outlives the caller's cancellation signal.
func Sleep(ctx context.Context, attempt int, base, maxDelay time.Duration) error {
	return SleepFor(ctx, Delay(attempt, base, maxDelay))
}

// SleepFor blocks for exactly d, returning early if ctx is cancelled. Used
// directly when a provider supplied a Retry-After delay rather than the
// jittered backoff formula.
func SleepFor(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

var transientKeywords = []string{
	"timeout", "connection", "network", "rate limit", "too many requests",
	"temporary", "unavailable", "gateway", "bad gateway", "service unavailable",
	"gateway timeout", "try again", "retry", "deadline exceeded", "flood",
	"retry after",
}

var nonTransientKeywords = []string{
	"message is not modified", "message_not_modified",
}

var transientTypeNames = []string{
	"timeout", "connectionerror", "networkerror", "httperror",
	"serviceunavailable", "gatewaytimeout", "deadlineexceeded",
}

// IsRetryableStatusCode reports whether an HTTP status alone indicates a
// transient failure (408, 429, >=500).
func IsRetryableStatusCode(status int) bool {
	return status == 408 || status == 429 || status >= 500
}

// ClassifyError implements the transient-error heuristics of spec §4.C:
// "not modified" carve-outs first, then status-code rules, then substring
// and type-name heuristics against the error text.
func ClassifyError(statusCode int, typeName string, message string) bool {
	lower := strings.ToLower(message)

	if statusCode == 400 && strings.Contains(lower, "not modified") {
		return false
	}
	for _, kw := range nonTransientKeywords {
		if strings.Contains(lower, kw) {
			return false
		}
	}
	if statusCode != 0 && IsRetryableStatusCode(statusCode) {
		return true
	}

	for _, kw := range transientKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}

	lowerType := strings.ToLower(typeName)
	for _, t := range transientTypeNames {
		if strings.Contains(lowerType, t) {
			return true
		}
	}
	return false
}

// ParseRetryAfter parses an HTTP Retry-After header value expressed in
// integer seconds. Non-numeric or empty values return (0, false).
func ParseRetryAfter(header string) (time.Duration, bool) {
	header = strings.TrimSpace(header)
	if header == "" {
		return 0, false
	}
	secs, err := strconv.Atoi(header)
	if err != nil || secs < 0 {
		return 0, false
	}
	return time.Duration(secs) * time.Second, true
}

// Policy bundles the parameters retry_with_backoff takes.
type Policy struct {
	MaxRetries   int
	InitialDelay time.Duration
	MaxDelay     time.Duration
}

// DefaultPolicy mirrors retry_with_backoff's defaults (max_retries=3,
// initial_delay=0.5s, max_delay=60s).
func DefaultPolicy() Policy {
	return Policy{MaxRetries: 3, InitialDelay: 500 * time.Millisecond, MaxDelay: 60 * time.Second}
}

// Classifier decides whether an error observed during RunWithBackoff should
// be retried.
type Classifier func(err error) bool

// RunWithBackoff retries fn up to p.MaxRetries additional times, sleeping a
// jittered backoff between attempts, as long as classify(err) is true.
// Returns (result, true) on success, (zero, false) once retries or the
// context are exhausted.
func RunWithBackoff[T any](ctx context.Context, p Policy, classify Classifier, fn func(ctx context.Context, attempt int) (T, error)) (T, bool) {
	var zero T
	attempt := 0
	for {
		result, err := fn(ctx, attempt)
		if err == nil {
			return result, true
		}
		if ctx.Err() != nil {
			return zero, false
		}
		if classify != nil && !classify(err) {
			return zero, false
		}
		if attempt >= p.MaxRetries {
			return zero, false
		}
		if sleepErr := Sleep(ctx, attempt, p.InitialDelay, p.MaxDelay); sleepErr != nil {
			return zero, false
		}
		attempt++
	}
}
