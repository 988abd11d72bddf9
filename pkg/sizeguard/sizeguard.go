// Package sizeguard rejects oversized HTTP responses before they are
// parsed, applied uniformly across scrape, search, and LLM calls.
package sizeguard

import (
	"fmt"
	"net/http"
	"strconv"
)

// MaxAllowedBudget is the hard cap no configured budget may exceed.
const MaxAllowedBudget = 1 << 30 // 1 GiB

// DefaultMaxSizeBytes is the default per-response budget callers use when
// no size has been configured explicitly.
const DefaultMaxSizeBytes = 10 << 20 // 10 MiB

const maxAllowedBudget = MaxAllowedBudget // internal alias, kept for brevity below

// SizeError carries the actual and maximum sizes for a rejected response.
type SizeError struct {
	Actual  int64
	Max     int64
	Service string
}

func (e *SizeError) Error() string {
	return fmt.Sprintf("%s response size %d exceeds maximum %d bytes", e.Service, e.Actual, e.Max)
}

// ValidateBudget rejects a non-positive or over-cap budget at configuration
// time.
func ValidateBudget(maxSizeBytes int64) error {
	if maxSizeBytes <= 0 {
		return fmt.Errorf("sizeguard: max size must be positive, got %d", maxSizeBytes)
	}
	if maxSizeBytes > maxAllowedBudget {
		return fmt.Errorf("sizeguard: max size %d exceeds hard cap %d", maxSizeBytes, maxAllowedBudget)
	}
	return nil
}

// Warning is returned (alongside a nil error) when a response used more
// than half its budget but did not exceed it, so callers can log it.
type Warning struct {
	Actual int64
	Max    int64
}

func (w *Warning) String() string {
	return fmt.Sprintf("response used %d of %d byte budget (%.0f%%)", w.Actual, w.Max, 100*float64(w.Actual)/float64(w.Max))
}

// Validate inspects Content-Length first; if absent, it falls back to the
// length of an already-buffered body. service names the caller for error
// messages (e.g. "scrape", "llm:openrouter").
func Validate(header http.Header, bufferedBody []byte, maxSizeBytes int64, service string) (*Warning, error) {
	if err := ValidateBudget(maxSizeBytes); err != nil {
		return nil, err
	}

	if cl := header.Get("Content-Length"); cl != "" {
		if n, err := strconv.ParseInt(cl, 10, 64); err == nil {
			if n > maxSizeBytes {
				return nil, &SizeError{Actual: n, Max: maxSizeBytes, Service: service}
			}
			if float64(n) > 0.5*float64(maxSizeBytes) {
				return &Warning{Actual: n, Max: maxSizeBytes}, nil
			}
			return nil, nil
		}
	}

	n := int64(len(bufferedBody))
	if n > maxSizeBytes {
		return nil, &SizeError{Actual: n, Max: maxSizeBytes, Service: service}
	}
	if n > 0 && float64(n) > 0.5*float64(maxSizeBytes) {
		return &Warning{Actual: n, Max: maxSizeBytes}, nil
	}
	return nil, nil
}

// BytesToMB converts a byte count to an unrounded megabyte figure for logging.
func BytesToMB(n int64) float64 {
	return float64(n) / (1024 * 1024)
}
