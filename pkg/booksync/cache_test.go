package booksync

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// pagingClient implements RemoteClient just enough for cache tests: a fixed
// set of bookmarks served two-per-page, plus a call counter so memoization
// can be asserted.
type pagingClient struct {
	RemoteClient
	bookmarks []Bookmark
	listCalls int
}

// pageSize is fixed rather than honoring the caller's limit argument, so
// tests can exercise multi-page enumeration deterministically regardless
// of bookmarkPageSize.
const pageSize = 2

func (p *pagingClient) ListBookmarks(_ context.Context, cursor string, _ int) ([]Bookmark, string, error) {
	p.listCalls++
	start := 0
	if cursor != "" {
		for i, b := range p.bookmarks {
			if b.ID == cursor {
				start = i
				break
			}
		}
	}
	end := start + pageSize
	if end > len(p.bookmarks) {
		end = len(p.bookmarks)
	}
	page := p.bookmarks[start:end]
	next := ""
	if end < len(p.bookmarks) {
		next = p.bookmarks[end].ID
	}
	return page, next, nil
}

func fixtureBookmarks(n int) []Bookmark {
	out := make([]Bookmark, n)
	for i := range out {
		out[i] = Bookmark{ID: string(rune('a' + i)), URL: "https://example.com/" + string(rune('a'+i))}
	}
	return out
}

func TestGetURLIndexBuildsFullIndexAcrossPages(t *testing.T) {
	client := &pagingClient{bookmarks: fixtureBookmarks(5)}
	cache := NewCache(client)

	idx, err := cache.GetURLIndex(context.Background())
	require.NoError(t, err)
	assert.Len(t, idx, 5)
}

func TestGetURLIndexMemoizesWithinScope(t *testing.T) {
	client := &pagingClient{bookmarks: fixtureBookmarks(3)}
	cache := NewCache(client)

	var afterFirst int
	err := cache.Scope(context.Background(), func(ctx context.Context) error {
		_, err := cache.GetURLIndex(ctx)
		require.NoError(t, err)
		afterFirst = client.listCalls

		_, err = cache.GetURLIndex(ctx)
		require.NoError(t, err)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, afterFirst, client.listCalls, "second call within the same scope must hit memory, not the client")
}

func TestGetURLIndexRefetchesOutsideScope(t *testing.T) {
	client := &pagingClient{bookmarks: fixtureBookmarks(2)}
	cache := NewCache(client)

	_, err := cache.GetURLIndex(context.Background())
	require.NoError(t, err)
	afterFirst := client.listCalls

	_, err = cache.GetURLIndex(context.Background())
	require.NoError(t, err)
	assert.Greater(t, client.listCalls, afterFirst, "without a Scope, each call refetches")
}

func TestScopeClearsStateBetweenRuns(t *testing.T) {
	client := &pagingClient{bookmarks: fixtureBookmarks(2)}
	cache := NewCache(client)

	_ = cache.Scope(context.Background(), func(ctx context.Context) error {
		_, err := cache.GetURLIndex(ctx)
		return err
	})
	beforeCalls := client.listCalls

	_ = cache.Scope(context.Background(), func(ctx context.Context) error {
		_, err := cache.GetURLIndex(ctx)
		return err
	})
	assert.Equal(t, beforeCalls+1, client.listCalls, "a fresh Scope must not reuse the previous scope's cached index")
}

func TestIterBookmarksYieldsEveryPageAndIgnoresMemoization(t *testing.T) {
	client := &pagingClient{bookmarks: fixtureBookmarks(5)}
	cache := NewCache(client)

	var total int
	err := cache.IterBookmarks(context.Background(), func(pairs []BookmarkPair) error {
		total += len(pairs)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 5, total)
}

func TestIterBookmarksStopsWhenYieldReturnsError(t *testing.T) {
	client := &pagingClient{bookmarks: fixtureBookmarks(10)}
	cache := NewCache(client)

	sentinel := assert.AnError
	var seen int
	err := cache.IterBookmarks(context.Background(), func(pairs []BookmarkPair) error {
		seen += len(pairs)
		return sentinel
	})
	assert.ErrorIs(t, err, sentinel)
	assert.Less(t, seen, 10, "iteration must stop as soon as yield errors")
}
