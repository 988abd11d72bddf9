package booksync

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"relaycore/pkg/config"
	"relaycore/pkg/httppool"
	"relaycore/pkg/sizeguard"
)

// HTTPRemoteClient is the concrete RemoteClient talking to the bookmark
// service's REST API: GET/POST/PATCH/DELETE over a bearer-authenticated
// base URL, using the shared transport pool.
type HTTPRemoteClient struct {
	http    *http.Client
	baseURL string
	token   string
}

// NewHTTPRemoteClient acquires a pooled transport for cfg.RemoteBaseURL
// and returns a ready RemoteClient.
func NewHTTPRemoteClient(cfg config.BookSyncConfig) (*HTTPRemoteClient, error) {
	if cfg.RemoteBaseURL == "" {
		return nil, fmt.Errorf("booksync: remote base url is required")
	}
	pool := httppool.Global()
	client := pool.Acquire(httppool.Key{
		BaseURL:        cfg.RemoteBaseURL,
		Timeout:        30 * time.Second,
		MaxConnections: 10,
		MaxKeepAlive:   5,
	})
	return &HTTPRemoteClient{http: client, baseURL: cfg.RemoteBaseURL, token: cfg.APIToken}, nil
}

// NewHTTPRemoteClientFactory adapts NewHTTPRemoteClient into a
// RemoteClientFactory for Service.
func NewHTTPRemoteClientFactory(cfg config.BookSyncConfig) RemoteClientFactory {
	return func(ctx context.Context) (RemoteClient, error) {
		return NewHTTPRemoteClient(cfg)
	}
}

func (c *HTTPRemoteClient) do(ctx context.Context, method, path string, body any, out any) error {
	var reqBody io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reqBody = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if _, sizeErr := sizeguard.Validate(resp.Header, nil, sizeguard.DefaultMaxSizeBytes, "booksync"); sizeErr != nil {
		return sizeErr
	}
	raw, err := io.ReadAll(io.LimitReader(resp.Body, sizeguard.DefaultMaxSizeBytes))
	if err != nil {
		return err
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("booksync: remote returned %d: %s", resp.StatusCode, tailBytes(raw, 256))
	}
	if out != nil && len(raw) > 0 {
		return json.Unmarshal(raw, out)
	}
	return nil
}

func tailBytes(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[len(b)-n:])
}

func (c *HTTPRemoteClient) HealthCheck(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/tags", nil, nil)
}

type listBookmarksResponse struct {
	Bookmarks  []wireBookmark `json:"bookmarks"`
	NextCursor string         `json:"nextCursor"`
}

type wireBookmark struct {
	ID         string    `json:"id"`
	URL        string    `json:"url"`
	Title      string    `json:"title"`
	Favourited bool      `json:"favourited"`
	ModifiedAt time.Time `json:"modifiedAt"`
	Tags       []wireTag `json:"tags"`
}

type wireTag struct {
	ID   string `json:"id"`
	Name string `json:"tagName"`
}

func (b wireBookmark) toBookmark() Bookmark {
	tags := make([]Tag, 0, len(b.Tags))
	for _, t := range b.Tags {
		tags = append(tags, Tag{ID: t.ID, Name: t.Name})
	}
	return Bookmark{ID: b.ID, URL: b.URL, Title: b.Title, Favourited: b.Favourited, Tags: tags, ModifiedAt: b.ModifiedAt}
}

func (c *HTTPRemoteClient) ListBookmarks(ctx context.Context, cursor string, limit int) ([]Bookmark, string, error) {
	path := fmt.Sprintf("/bookmarks?limit=%d", limit)
	if cursor != "" {
		path += "&cursor=" + cursor
	}
	var resp listBookmarksResponse
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, "", err
	}
	out := make([]Bookmark, 0, len(resp.Bookmarks))
	for _, b := range resp.Bookmarks {
		out = append(out, b.toBookmark())
	}
	return out, resp.NextCursor, nil
}

func (c *HTTPRemoteClient) GetBookmark(ctx context.Context, id string) (Bookmark, error) {
	var wb wireBookmark
	if err := c.do(ctx, http.MethodGet, "/bookmarks/"+id, nil, &wb); err != nil {
		return Bookmark{}, err
	}
	return wb.toBookmark(), nil
}

func (c *HTTPRemoteClient) CreateBookmark(ctx context.Context, url, title, note string) (Bookmark, error) {
	body := map[string]any{"url": url, "title": title, "note": note}
	var wb wireBookmark
	if err := c.do(ctx, http.MethodPost, "/bookmarks", body, &wb); err != nil {
		return Bookmark{}, err
	}
	return wb.toBookmark(), nil
}

func (c *HTTPRemoteClient) UpdateBookmark(ctx context.Context, id string, favourited *bool, note *string) (Bookmark, error) {
	body := map[string]any{}
	if favourited != nil {
		body["favourited"] = *favourited
	}
	if note != nil {
		body["note"] = *note
	}
	var wb wireBookmark
	if err := c.do(ctx, http.MethodPatch, "/bookmarks/"+id, body, &wb); err != nil {
		return Bookmark{}, err
	}
	return wb.toBookmark(), nil
}

func (c *HTTPRemoteClient) DeleteBookmark(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/bookmarks/"+id, nil, nil)
}

func (c *HTTPRemoteClient) AttachTags(ctx context.Context, id string, tags []string) error {
	type tagEntry struct {
		TagName string `json:"tagName"`
	}
	entries := make([]tagEntry, 0, len(tags))
	for _, t := range tags {
		entries = append(entries, tagEntry{TagName: t})
	}
	return c.do(ctx, http.MethodPost, "/bookmarks/"+id+"/tags", map[string]any{"tags": entries}, nil)
}

func (c *HTTPRemoteClient) DetachTag(ctx context.Context, id, tagID string) error {
	return c.do(ctx, http.MethodDelete, "/bookmarks/"+id+"/tags/"+tagID, nil, nil)
}

func (c *HTTPRemoteClient) Close() error { return nil }
