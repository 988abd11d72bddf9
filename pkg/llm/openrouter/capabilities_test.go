package openrouter

import (
	"bytes"
	"io"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsReasoningHeavyMatchesKnownPrefixes(t *testing.T) {
	assert.True(t, IsReasoningHeavy("openai/o1-preview"))
	assert.True(t, IsReasoningHeavy("deepseek/deepseek-r1-distill"))
	assert.False(t, IsReasoningHeavy("openai/gpt-4o"))
}

func TestBuildModelFallbackListDeduplicatesAndAppendsSafeFallbacksWhenNeeded(t *testing.T) {
	list := BuildModelFallbackList("openai/o1", []string{"openai/gpt-4o-mini"}, true)
	assert.Equal(t, []string{
		"openai/o1",
		"openai/gpt-4o-mini",
		"anthropic/claude-3-5-haiku",
	}, list, "gpt-4o-mini is already a fallback, so it must not be duplicated by the safe list")
}

func TestBuildModelFallbackListSkipsSafeFallbacksForNonReasoningPrimary(t *testing.T) {
	list := BuildModelFallbackList("openai/gpt-4o", []string{"anthropic/claude-3-5-sonnet"}, true)
	assert.Equal(t, []string{"openai/gpt-4o", "anthropic/claude-3-5-sonnet"}, list)
}

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

func TestCapabilityCacheSupportsParsesStructuredOutputModels(t *testing.T) {
	body := `{"data":[
		{"id":"openai/gpt-4o","supported_parameters":["response_format","tools"]},
		{"id":"openai/o1","supported_parameters":["tools"]}
	]}`
	client := &http.Client{Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
		return &http.Response{
			StatusCode: 200,
			Body:       io.NopCloser(bytes.NewBufferString(body)),
			Header:     make(http.Header),
		}, nil
	})}

	cache := NewCapabilityCache(client, "test-key")
	require.True(t, cache.Supports("openai/gpt-4o"))
	require.False(t, cache.Supports("openai/o1"))
}

func TestCapabilityCacheFailsOpenWithNoPriorData(t *testing.T) {
	client := &http.Client{Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
		return nil, assert.AnError
	})}
	cache := NewCapabilityCache(client, "test-key")
	assert.True(t, cache.Supports("anything"), "with no cached data yet, a fetch failure must fail open")
}
