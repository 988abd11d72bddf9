package booksync

import (
	"context"
	"fmt"
	"sync"

	"relaycore/pkg/urlnorm"
)

const bookmarkPageSize = 100

// Cache provides paginated enumeration of remote bookmarks, a URL index
// for O(1) dedupe lookups, and scoped reuse across a single sync run via
// Scope. It is not safe for concurrent use by independent sync runs —
// each run should construct its own Cache.
type Cache struct {
	client RemoteClient

	mu        sync.Mutex
	scoped    bool
	index     map[string]Bookmark // normalized URL -> bookmark
	bookmarks []Bookmark
	indexSet  bool
	listSet   bool
}

// NewCache wraps a RemoteClient with paginated bookmark caching.
func NewCache(client RemoteClient) *Cache {
	return &Cache{client: client, index: make(map[string]Bookmark)}
}

// Scope enables cache reuse for the duration of fn, clearing any prior
// cache state on entry and restoring the unscoped flag on exit. Cache
// state is never shared across independent Scope calls.
func (c *Cache) Scope(ctx context.Context, fn func(ctx context.Context) error) error {
	c.mu.Lock()
	c.scoped = true
	c.index = make(map[string]Bookmark)
	c.bookmarks = nil
	c.indexSet = false
	c.listSet = false
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.scoped = false
		c.mu.Unlock()
	}()

	return fn(ctx)
}

// GetURLIndex returns the normalized-URL -> Bookmark index, populating it
// on first call within a scope; subsequent calls hit memory.
func (c *Cache) GetURLIndex(ctx context.Context) (map[string]Bookmark, error) {
	c.mu.Lock()
	if c.scoped && c.indexSet {
		idx := c.index
		c.mu.Unlock()
		return idx, nil
	}
	c.mu.Unlock()

	bookmarks, err := c.fetchAll(ctx)
	if err != nil {
		return nil, err
	}
	idx := make(map[string]Bookmark, len(bookmarks))
	for _, b := range bookmarks {
		idx[urlnorm.Normalize(b.URL)] = b
	}

	c.mu.Lock()
	if c.scoped {
		c.index = idx
		c.indexSet = true
	}
	c.mu.Unlock()
	return idx, nil
}

// GetBookmarks returns the full bookmark list, with the same scoped
// memoization as GetURLIndex.
func (c *Cache) GetBookmarks(ctx context.Context) ([]Bookmark, error) {
	c.mu.Lock()
	if c.scoped && c.listSet {
		bm := c.bookmarks
		c.mu.Unlock()
		return bm, nil
	}
	c.mu.Unlock()

	bookmarks, err := c.fetchAll(ctx)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	if c.scoped {
		c.bookmarks = bookmarks
		c.listSet = true
	}
	c.mu.Unlock()
	return bookmarks, nil
}

func (c *Cache) fetchAll(ctx context.Context) ([]Bookmark, error) {
	var all []Bookmark
	cursor := ""
	for {
		page, next, err := c.client.ListBookmarks(ctx, cursor, bookmarkPageSize)
		if err != nil {
			return nil, fmt.Errorf("booksync: list bookmarks: %w", err)
		}
		all = append(all, page...)
		if next == "" || len(page) == 0 {
			break
		}
		cursor = next
	}
	return all, nil
}

// BookmarkPair is one page-by-page enumeration unit from IterBookmarks.
type BookmarkPair struct {
	NormURL  string
	Bookmark Bookmark
}

// IterBookmarks is an unbuffered, bounded-memory enumerator over every
// remote bookmark, yielding one page at a time to yield. It ignores scope
// memoization entirely — intended for libraries too large to hold as a
// full index.
func (c *Cache) IterBookmarks(ctx context.Context, yield func([]BookmarkPair) error) error {
	cursor := ""
	for {
		page, next, err := c.client.ListBookmarks(ctx, cursor, bookmarkPageSize)
		if err != nil {
			return fmt.Errorf("booksync: list bookmarks: %w", err)
		}
		pairs := make([]BookmarkPair, 0, len(page))
		for _, b := range page {
			pairs = append(pairs, BookmarkPair{NormURL: urlnorm.Normalize(b.URL), Bookmark: b})
		}
		if err := yield(pairs); err != nil {
			return err
		}
		if next == "" || len(page) == 0 {
			break
		}
		cursor = next
	}
	return nil
}
