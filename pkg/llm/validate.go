package llm

import (
	"fmt"
	"regexp"
	"strings"
)

// ValidationError reports a single offending field from request
// validation, naming that field in Field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidateChatRequest enforces 4.F's construction-time bounds, shared by
// all three provider request builders before they touch the wire shape.
func ValidateChatRequest(req ChatRequest) error {
	if len(req.Messages) == 0 {
		return &ValidationError{Field: "messages", Message: "must not be empty"}
	}
	if len(req.Messages) > 50 {
		return &ValidationError{Field: "messages", Message: "exceeds maximum of 50"}
	}
	for i, m := range req.Messages {
		if m.Role == "" {
			return &ValidationError{Field: fmt.Sprintf("messages[%d].role", i), Message: "must be set"}
		}
	}
	if req.Temperature < 0 || req.Temperature > 2 {
		return &ValidationError{Field: "temperature", Message: "must be in [0, 2]"}
	}
	if req.MaxTokens != nil && (*req.MaxTokens <= 0 || *req.MaxTokens > 100000) {
		return &ValidationError{Field: "max_tokens", Message: "must be a positive int <= 100000"}
	}
	if req.TopP != nil && (*req.TopP < 0 || *req.TopP > 1) {
		return &ValidationError{Field: "top_p", Message: "must be in [0, 1]"}
	}
	if req.RequestID != nil && *req.RequestID <= 0 {
		return &ValidationError{Field: "request_id", Message: "must be a positive int"}
	}
	return nil
}

var (
	injectionPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)ignore previous instructions`),
		regexp.MustCompile(`(?i)forget previous instructions`),
		regexp.MustCompile(`(?im)^\s*(system|assistant|user)\s*:`),
		regexp.MustCompile("```"),
	}
)

// SanitizeMessages strips known prompt-injection patterns from user-role
// message content. System and assistant messages are left untouched.
func SanitizeMessages(messages []Message) []Message {
	out := make([]Message, len(messages))
	for i, m := range messages {
		if m.Role != "user" {
			out[i] = m
			continue
		}
		content := m.Content
		for _, pat := range injectionPatterns {
			content = pat.ReplaceAllString(content, "")
		}
		out[i] = Message{Role: m.Role, Content: content}
	}
	return out
}

// TruncateForLogging truncates a single message's content to 1000 chars,
// used when building RequestMessages for LLMCallResult so logs never carry
// unbounded payloads.
func TruncateForLogging(messages []Message) []Message {
	out := make([]Message, len(messages))
	for i, m := range messages {
		c := m.Content
		if len(c) > 1000 {
			c = c[:1000] + "...(truncated)"
		}
		out[i] = Message{Role: m.Role, Content: c}
	}
	return out
}

// RedactHeaders replaces sensitive header values (authorization, api keys)
// with a fixed marker so LLMCallResult.RequestHeaders can be logged safely.
func RedactHeaders(headers map[string]string) map[string]string {
	out := make(map[string]string, len(headers))
	for k, v := range headers {
		lk := strings.ToLower(k)
		if strings.Contains(lk, "authorization") || strings.Contains(lk, "api-key") || strings.Contains(lk, "x-api-key") {
			out[k] = "[REDACTED]"
			continue
		}
		out[k] = v
	}
	return out
}
