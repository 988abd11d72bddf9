package openrouter

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"
)

const modelsEndpoint = "https://openrouter.ai/api/v1/models"
const capabilityTTL = time.Hour

// safeStructuredFallbacks is the fixed list the orchestrator appends when a
// reasoning-heavy primary is paired with a structured-output request,
// per 4.H step 2.
var safeStructuredFallbacks = []string{
	"openai/gpt-4o-mini",
	"anthropic/claude-3-5-haiku",
}

// SafeStructuredFallbackModels returns the fixed safe-structured-fallback
// model list.
func SafeStructuredFallbackModels() []string {
	out := make([]string, len(safeStructuredFallbacks))
	copy(out, safeStructuredFallbacks)
	return out
}

// reasoningHeavyPrefixes identifies primaries whose native reasoning mode
// makes them a poor first choice for strict structured-output requests.
var reasoningHeavyPrefixes = []string{"openai/o1", "openai/o3", "deepseek/deepseek-r1"}

// IsReasoningHeavy reports whether model matches a known reasoning-heavy
// family by prefix.
func IsReasoningHeavy(model string) bool {
	for _, prefix := range reasoningHeavyPrefixes {
		if strings.HasPrefix(model, prefix) {
			return true
		}
	}
	return false
}

// CapabilityCache fetches and TTL-caches OpenRouter's "supports structured
// outputs" model list (4.H step 4's capability gate).
type CapabilityCache struct {
	http   *http.Client
	apiKey string

	mu        sync.Mutex
	supported map[string]struct{}
	fetchedAt time.Time
}

// NewCapabilityCache builds a cache backed by the given HTTP client.
func NewCapabilityCache(httpClient *http.Client, apiKey string) *CapabilityCache {
	return &CapabilityCache{http: httpClient, apiKey: apiKey}
}

// Supports reports whether model is in the cached structured-outputs
// capability list, refreshing the cache if it is stale or empty. A fetch
// failure leaves the previous cache in place (fail open: callers degrade
// to "model not in list" only on confirmed negative data).
func (c *CapabilityCache) Supports(model string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.supported == nil || time.Since(c.fetchedAt) > capabilityTTL {
		if fresh, err := c.fetch(); err == nil {
			c.supported = fresh
			c.fetchedAt = time.Now()
		} else if c.supported == nil {
			return true // no data at all: assume capable, let the call itself fail fast
		}
	}
	_, ok := c.supported[model]
	return ok
}

func (c *CapabilityCache) fetch() (map[string]struct{}, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, modelsEndpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return nil, err
	}

	var payload struct {
		Data []struct {
			ID                   string   `json:"id"`
			SupportedParameters  []string `json:"supported_parameters"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, err
	}

	out := make(map[string]struct{})
	for _, m := range payload.Data {
		for _, p := range m.SupportedParameters {
			if p == "response_format" || p == "structured_outputs" {
				out[m.ID] = struct{}{}
				break
			}
		}
	}
	return out, nil
}

// BuildModelFallbackList implements 4.H step 2's model list construction
// for the OpenRouter provider specifically: primary, then the configured
// fallbacks (deduplicated), then — only when response_format is requested
// against a reasoning-heavy primary — the safe structured fallback list.
func BuildModelFallbackList(primary string, fallbacks []string, structuredRequested bool) []string {
	seen := map[string]struct{}{primary: {}}
	list := []string{primary}
	for _, m := range fallbacks {
		if _, dup := seen[m]; dup {
			continue
		}
		seen[m] = struct{}{}
		list = append(list, m)
	}
	if structuredRequested && IsReasoningHeavy(primary) {
		for _, m := range safeStructuredFallbacks {
			if _, dup := seen[m]; dup {
				continue
			}
			seen[m] = struct{}{}
			list = append(list, m)
		}
	}
	return list
}
