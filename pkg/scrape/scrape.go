// Package scrape wraps a Firecrawl-compatible scrape/search API behind the
// engine's shared transport pool, size guard, and retry policy.
package scrape

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"relaycore/pkg/httppool"
	"relaycore/pkg/jsonx"
	"relaycore/pkg/retrypolicy"
	"relaycore/pkg/sizeguard"

	"golang.org/x/time/rate"
)

// Config validates and carries the client's construction-time parameters
// (4.J's "Validation at construction").
type Config struct {
	APIKey            string
	BaseURL           string
	TimeoutSeconds    int
	MaxRetries        int
	MaxConnections    int
	MaxKeepAlive      int
	KeepAliveExpiry   int
	CreditThreshold   int
	MaxResponseSizeMB float64
	DefaultFormats    []string
}

func (c Config) validate() error {
	if c.APIKey == "" || !strings.HasPrefix(c.APIKey, "fc-") {
		return fmt.Errorf("scrape: api_key must be a non-empty 'fc-' prefixed key")
	}
	if c.TimeoutSeconds <= 0 || c.TimeoutSeconds > 300 {
		return fmt.Errorf("scrape: timeout_seconds must be in (0, 300]")
	}
	if c.MaxRetries < 0 || c.MaxRetries > 10 {
		return fmt.Errorf("scrape: max_retries must be in [0, 10]")
	}
	if c.MaxConnections < 1 || c.MaxConnections > 100 {
		return fmt.Errorf("scrape: max_connections must be in [1, 100]")
	}
	if c.MaxKeepAlive < 1 || c.MaxKeepAlive > 50 {
		return fmt.Errorf("scrape: max_keepalive must be in [1, 50]")
	}
	if c.KeepAliveExpiry < 1 || c.KeepAliveExpiry > 300 {
		return fmt.Errorf("scrape: keepalive_expiry_seconds must be in [1, 300]")
	}
	if c.MaxResponseSizeMB < 1 || c.MaxResponseSizeMB > 1024 {
		return fmt.Errorf("scrape: max_response_size_mb must be in [1, 1024]")
	}
	return nil
}

// Client is the scrape/search client.
type Client struct {
	cfg     Config
	http    *http.Client
	maxSize int64
	formats []string
	limiter *rate.Limiter
}

// New validates cfg and builds a Client backed by the shared transport pool.
func New(cfg Config) (*Client, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if len(cfg.DefaultFormats) == 0 {
		cfg.DefaultFormats = []string{"markdown"}
	}

	pool := httppool.Global()
	cl := pool.Acquire(httppool.Key{
		BaseURL:         cfg.BaseURL,
		Timeout:         time.Duration(cfg.TimeoutSeconds) * time.Second,
		MaxConnections:  cfg.MaxConnections,
		MaxKeepAlive:    cfg.MaxKeepAlive,
		KeepAliveExpiry: time.Duration(cfg.KeepAliveExpiry) * time.Second,
		CredentialFence: cfg.APIKey,
	})

	return &Client{
		cfg:     cfg,
		http:    cl,
		maxSize: int64(cfg.MaxResponseSizeMB * 1024 * 1024),
		formats: cfg.DefaultFormats,
		limiter: rate.NewLimiter(rate.Limit(cfg.MaxConnections), cfg.MaxConnections),
	}, nil
}

// Result is a normalized scrape result.
type Result struct {
	Markdown string
	HTML     string
	Metadata map[string]any
	Links    []string
	Error    string
}

func looksLikePDF(url string) bool {
	lower := strings.ToLower(url)
	return strings.HasSuffix(lower, ".pdf") || strings.Contains(lower, "pdf")
}

type scrapeOptions struct {
	mobile              bool
	maxAge              int
	removeBase64Images  bool
	blockAds            bool
	skipTLSVerification bool
	parsers             []string
	formats             []string
}

func (c *Client) buildOptions(url string, mobile bool) scrapeOptions {
	opts := scrapeOptions{
		mobile:             mobile,
		maxAge:             14400,
		removeBase64Images: true,
		blockAds:           true,
		formats:            c.formats,
	}
	if looksLikePDF(url) {
		opts.parsers = []string{"pdf"}
	}
	return opts
}

// ScrapeMarkdown implements 4.J's scrape_markdown: up to MaxRetries+1
// attempts, escalating backoff, mobile/PDF-hint toggling on 5xx, and
// embedded-error detection inside an otherwise-2xx body.
func (c *Client) ScrapeMarkdown(ctx context.Context, url string, mobile bool, requestID *int) (Result, error) {
	opts := c.buildOptions(url, mobile)

	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		result, retryDelay, terminal, err := c.attemptScrape(ctx, url, &opts, attempt)
		if terminal {
			return result, err
		}
		if retryDelay > 0 {
			if sleepErr := sleepCtx(ctx, retryDelay); sleepErr != nil {
				return Result{}, sleepErr
			}
			continue
		}
		if attempt == c.cfg.MaxRetries {
			return result, err
		}
	}
	return Result{Error: "scrape: retries exhausted"}, fmt.Errorf("scrape: retries exhausted for %s", url)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// attemptScrape runs one POST + parse cycle. It returns (result, delay,
// terminal, err): terminal=true means the caller should stop retrying
// immediately (either success or a non-retryable failure); a positive
// delay with terminal=false means "sleep, then retry, possibly after
// toggling opts" — opts is mutated in place for the 5xx case.
func (c *Client) attemptScrape(ctx context.Context, url string, opts *scrapeOptions, attempt int) (Result, time.Duration, bool, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return Result{}, 0, true, err
	}

	body := map[string]any{
		"url":                  url,
		"mobile":               opts.mobile,
		"maxAge":               opts.maxAge,
		"removeBase64Images":   opts.removeBase64Images,
		"blockAds":             opts.blockAds,
		"skipTlsVerification":  opts.skipTLSVerification,
		"formats":              opts.formats,
	}
	if len(opts.parsers) > 0 {
		body["parsers"] = opts.parsers
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return Result{}, 0, true, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/v1/scrape", bytes.NewReader(payload))
	if err != nil {
		return Result{}, 0, true, err
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return Result{}, 0, true, err
	}
	defer resp.Body.Close()

	buf, err := io.ReadAll(io.LimitReader(resp.Body, c.maxSize+1))
	if err != nil {
		return Result{}, 0, true, err
	}

	if _, sizeErr := sizeguard.Validate(resp.Header, buf, c.maxSize, "scrape"); sizeErr != nil {
		if attempt < c.cfg.MaxRetries {
			return Result{}, retrypolicy.Delay(attempt, 500*time.Millisecond, 30*time.Second), false, sizeErr
		}
		return Result{Error: sizeErr.Error()}, 0, true, sizeErr
	}

	var data map[string]any
	if err := json.Unmarshal(buf, &data); err != nil {
		if attempt < c.cfg.MaxRetries {
			return Result{}, retrypolicy.Delay(attempt, 500*time.Millisecond, 30*time.Second), false, err
		}
		return Result{Error: "unparseable response body"}, 0, true, err
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		delay := retryAfterOrBackoff(data, attempt)
		return Result{}, delay, false, fmt.Errorf("scrape: rate limited")

	case resp.StatusCode >= 500:
		opts.mobile = !opts.mobile
		if looksLikePDF(url) {
			opts.parsers = []string{"pdf"}
		}
		if attempt < c.cfg.MaxRetries {
			return Result{}, retrypolicy.Delay(attempt, 500*time.Millisecond, 30*time.Second), false, fmt.Errorf("scrape: server error %d", resp.StatusCode)
		}
		return Result{Error: fmt.Sprintf("server error %d", resp.StatusCode)}, 0, true, fmt.Errorf("scrape: server error %d", resp.StatusCode)

	case resp.StatusCode != http.StatusOK:
		msg := statusMessage(resp.StatusCode)
		return Result{Error: msg}, 0, true, fmt.Errorf("scrape: %s", msg)
	}

	result, embeddedErr := parseScrapeBody(data)
	return result, 0, true, embeddedErr
}

func retryAfterOrBackoff(data map[string]any, attempt int) time.Duration {
	base := retrypolicy.Delay(attempt, time.Second, 60*time.Second)
	if ra, ok := data["retry_after"]; ok {
		if f, ok := toSeconds(ra); ok {
			d := time.Duration(f) * time.Second
			if d < base {
				return d
			}
			if d > 60*time.Second {
				return 60 * time.Second
			}
			return d
		}
	}
	return base
}

func toSeconds(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case string:
		f, err := strconv.ParseFloat(t, 64)
		return f, err == nil
	default:
		return 0, false
	}
}

func statusMessage(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad request"
	case http.StatusUnauthorized:
		return "unauthorized: invalid api key"
	case http.StatusPaymentRequired:
		return "insufficient credits"
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusNotFound:
		return "not found"
	default:
		return fmt.Sprintf("unexpected status %d", status)
	}
}

// parseScrapeBody detects the embedded-error shapes of 4.J: an explicit
// error field, success=false, an empty data array, every data item
// carrying its own error, or content missing altogether. It preserves any
// partial markdown/html/metadata/links it can still find.
func parseScrapeBody(data map[string]any) (Result, error) {
	result := Result{}

	var dataField any = data["data"]
	var item map[string]any
	switch d := dataField.(type) {
	case map[string]any:
		item = d
	case []any:
		if len(d) > 0 {
			item, _ = d[0].(map[string]any)
		}
	}

	if item != nil {
		if md, ok := item["markdown"].(string); ok {
			result.Markdown = md
		}
		if html, ok := item["html"].(string); ok {
			result.HTML = html
		}
		if meta, ok := item["metadata"].(map[string]any); ok {
			result.Metadata = meta
		}
		if links, ok := item["links"].([]any); ok {
			for _, l := range links {
				if s, ok := l.(string); ok {
					result.Links = append(result.Links, s)
				}
			}
		}
	}

	if errVal, ok := data["error"]; ok && errVal != nil {
		if s, ok := errVal.(string); ok && s != "" {
			result.Error = s
			return result, fmt.Errorf("scrape: %s", s)
		}
	}
	if success, ok := data["success"].(bool); ok && !success {
		result.Error = "scrape reported success=false"
		return result, fmt.Errorf("scrape: %s", result.Error)
	}
	if arr, ok := dataField.([]any); ok {
		if len(arr) == 0 {
			result.Error = "empty data array"
			return result, fmt.Errorf("scrape: %s", result.Error)
		}
		allErr := true
		for _, v := range arr {
			m, ok := v.(map[string]any)
			if !ok || m["error"] == nil {
				allErr = false
				break
			}
		}
		if allErr {
			result.Error = "all data items reported an error"
			return result, fmt.Errorf("scrape: %s", result.Error)
		}
	}
	if result.Markdown == "" && result.HTML == "" && len(result.Metadata) == 0 {
		result.Error = "response carried no content"
		return result, fmt.Errorf("scrape: %s", result.Error)
	}
	return result, nil
}

// SearchItem is one normalized search result.
type SearchItem struct {
	Title     string
	URL       string
	Snippet   string
	Source    string
	Published string
}

// Search implements 4.J's search: input validation, a single POST, and
// normalization with first-seen-URL dedupe.
func (c *Client) Search(ctx context.Context, query string, limit int, requestID *int) ([]SearchItem, error) {
	trimmed := strings.TrimSpace(query)
	if trimmed == "" || len(trimmed) > 500 {
		return nil, fmt.Errorf("scrape: query must be 1..500 chars after trimming")
	}
	if limit < 1 || limit > 10 {
		return nil, fmt.Errorf("scrape: limit must be in [1, 10]")
	}
	if requestID != nil && *requestID <= 0 {
		return nil, fmt.Errorf("scrape: request_id must be a positive int")
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	body := map[string]any{"query": trimmed, "limit": limit}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/v1/search", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	buf, err := io.ReadAll(io.LimitReader(resp.Body, c.maxSize+1))
	if err != nil {
		return nil, err
	}
	if _, sizeErr := sizeguard.Validate(resp.Header, buf, c.maxSize, "scrape:search"); sizeErr != nil {
		return nil, sizeErr
	}

	v, errMsg := jsonx.SafeParse(string(buf), jsonx.DefaultLimits())
	if errMsg != "" {
		return nil, fmt.Errorf("scrape: %s", errMsg)
	}
	data, _ := v.(map[string]any)
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("scrape: search %s", statusMessage(resp.StatusCode))
	}

	rawItems, _ := data["data"].([]any)
	seen := map[string]struct{}{}
	var items []SearchItem
	for _, raw := range rawItems {
		m, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		url := stringField(m, "url")
		if url == "" {
			continue
		}
		if _, dup := seen[url]; dup {
			continue
		}
		seen[url] = struct{}{}

		item := SearchItem{
			URL:       url,
			Title:     firstNonEmpty(stringField(m, "title"), url),
			Snippet:   firstNonEmptyKeys(m, "snippet", "description", "summary", "content"),
			Source:    sourceField(m),
			Published: publishedField(m),
		}
		items = append(items, item)
		if len(items) >= limit {
			break
		}
	}
	return items, nil
}

func stringField(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func firstNonEmptyKeys(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if s := stringField(m, k); s != "" {
			return s
		}
	}
	return ""
}

func sourceField(m map[string]any) string {
	for _, k := range []string{"source", "site", "publisher"} {
		v, ok := m[k]
		if !ok {
			continue
		}
		switch t := v.(type) {
		case string:
			if t != "" {
				return t
			}
		case map[string]any:
			if name := firstNonEmptyKeys(t, "name", "title"); name != "" {
				return name
			}
		case []any:
			var parts []string
			for _, item := range t {
				if s, ok := item.(string); ok {
					parts = append(parts, s)
				}
			}
			if len(parts) > 0 {
				return strings.Join(parts, ", ")
			}
		}
	}
	return ""
}

func publishedField(m map[string]any) string {
	for _, k := range []string{"published_at", "publishedAt", "published", "date"} {
		v, ok := m[k]
		if !ok {
			continue
		}
		switch t := v.(type) {
		case string:
			if t != "" {
				return t
			}
		case map[string]any:
			if s := firstNonEmptyKeys(t, "iso", "value"); s != "" {
				return s
			}
		}
	}
	return ""
}
