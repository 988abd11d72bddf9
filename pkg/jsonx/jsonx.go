// Package jsonx provides bounded JSON parsing, a best-effort JSON-object
// extractor for free text, and legacy-value normalization, shared by the
// LLM response processor and the bookmark sync persistence surface.
package jsonx

import (
	"fmt"
	"strings"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	DefaultMaxSize        = 10_000_000
	DefaultMaxDepth       = 20
	DefaultMaxArrayLength = 10_000
	DefaultMaxDictKeys    = 1_000
)

// Limits bundles the four bounds enforced during parse/validate.
type Limits struct {
	MaxSize        int
	MaxDepth       int
	MaxArrayLength int
	MaxDictKeys    int
}

// DefaultLimits mirrors MAX_JSON_SIZE/MAX_JSON_DEPTH/MAX_ARRAY_LENGTH/MAX_DICT_KEYS.
func DefaultLimits() Limits {
	return Limits{
		MaxSize:        DefaultMaxSize,
		MaxDepth:       DefaultMaxDepth,
		MaxArrayLength: DefaultMaxArrayLength,
		MaxDictKeys:    DefaultMaxDictKeys,
	}
}

// ValidationError reports why a value failed structural validation.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

// depth computes the recursive nesting depth of a decoded JSON value,
// guarding against runaway recursion the way calculate_json_depth does.
func depth(v any, current, max int) (int, error) {
	if current > max {
		return 0, &ValidationError{Message: fmt.Sprintf("JSON depth exceeds maximum (%d)", max)}
	}
	switch t := v.(type) {
	case map[string]any:
		if len(t) == 0 {
			return current, nil
		}
		best := current
		for _, val := range t {
			d, err := depth(val, current+1, max)
			if err != nil {
				return 0, err
			}
			if d > best {
				best = d
			}
		}
		return best, nil
	case []any:
		if len(t) == 0 {
			return current, nil
		}
		best := current
		for _, item := range t {
			d, err := depth(item, current+1, max)
			if err != nil {
				return 0, err
			}
			if d > best {
				best = d
			}
		}
		return best, nil
	default:
		return current, nil
	}
}

// ValidateStructure checks nesting depth, array length, and dict key count
// against lim, returning a human-readable error on the first violation
// found (depth first, then a path-tracked walk for array/dict limits).
func ValidateStructure(v any, lim Limits) (bool, string) {
	d, err := depth(v, 0, lim.MaxDepth)
	if err != nil {
		return false, err.Error()
	}
	if d > lim.MaxDepth {
		return false, fmt.Sprintf("JSON depth (%d) exceeds maximum (%d)", d, lim.MaxDepth)
	}

	var checkLimits func(o any, path string) (bool, string)
	checkLimits = func(o any, path string) (bool, string) {
		switch t := o.(type) {
		case map[string]any:
			if len(t) > lim.MaxDictKeys {
				return false, fmt.Sprintf("dictionary at %s has %d keys, exceeds maximum (%d)", path, len(t), lim.MaxDictKeys)
			}
			for key, val := range t {
				if ok, msg := checkLimits(val, path+"."+key); !ok {
					return false, msg
				}
			}
		case []any:
			if len(t) > lim.MaxArrayLength {
				return false, fmt.Sprintf("array at %s has %d items, exceeds maximum (%d)", path, len(t), lim.MaxArrayLength)
			}
			for i, item := range t {
				if ok, msg := checkLimits(item, fmt.Sprintf("%s[%d]", path, i)); !ok {
					return false, msg
				}
			}
		}
		return true, ""
	}
	return checkLimits(v, "root")
}

// SafeParse parses data with size, depth, array-length, and dict-key bounds.
// It never panics: all failures come back as the error string.
func SafeParse(data string, lim Limits) (any, string) {
	if len(data) > lim.MaxSize {
		return nil, fmt.Sprintf("JSON size (%d bytes) exceeds maximum (%d bytes)", len(data), lim.MaxSize)
	}

	var v any
	if err := json.Unmarshal([]byte(data), &v); err != nil {
		return nil, fmt.Sprintf("invalid JSON: %v", err)
	}

	if ok, msg := ValidateStructure(v, lim); !ok {
		return nil, msg
	}
	return v, ""
}

// ExtractBalanced finds the first balanced {...} JSON object within free
// text and parses it. Grounded on spec §4.E's textual description (no
// corpus source exists for this specific helper); it mirrors the
// brace-counting technique response_processor.py uses inline for its
// "reasoning" field special case, generalized to scan the whole string
// rather than just take(first "{")..rfind("}")) since that naive approach
// fails when trailing prose contains an unrelated closing brace.
func ExtractBalanced(text string) (any, bool) {
	start := strings.IndexByte(text, '{')
	if start < 0 {
		return nil, false
	}

	depthCount := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		c := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depthCount++
		case '}':
			depthCount--
			if depthCount == 0 {
				candidate := text[start : i+1]
				var v any
				if err := json.Unmarshal([]byte(candidate), &v); err == nil {
					return v, true
				}
				// Not valid JSON after all; keep scanning for a later '{'.
				next := strings.IndexByte(text[i+1:], '{')
				if next < 0 {
					return nil, false
				}
				start = i + 1 + next
				i = start - 1
				depthCount = 0
			}
		}
	}
	// The brace at start never balanced; retry from the next '{' after it.
	next := strings.IndexByte(text[start+1:], '{')
	if next < 0 {
		return nil, false
	}
	return ExtractBalanced(text[start+1+next:])
}

// NormalizedLegacyValue is the result of normalizing a legacy JSON column
// value that may be null, whitespace, or a raw non-JSON string.
type NormalizedLegacyValue struct {
	Value      any
	NeedsFlush bool // true when the stored value should be rewritten
}

// NormalizeLegacy implements the three-case legacy normalization of spec
// §4.E: null passes through; a whitespace-only string becomes null and is
// flagged for rewrite; a non-JSON string is wrapped as
// {"__legacy_text__": text} and flagged for rewrite.
func NormalizeLegacy(raw *string) NormalizedLegacyValue {
	if raw == nil {
		return NormalizedLegacyValue{Value: nil, NeedsFlush: false}
	}
	trimmed := strings.TrimSpace(*raw)
	if trimmed == "" {
		return NormalizedLegacyValue{Value: nil, NeedsFlush: true}
	}

	var v any
	if err := json.Unmarshal([]byte(trimmed), &v); err == nil {
		return NormalizedLegacyValue{Value: v, NeedsFlush: false}
	}

	return NormalizedLegacyValue{
		Value:      map[string]any{"__legacy_text__": *raw},
		NeedsFlush: true,
	}
}
