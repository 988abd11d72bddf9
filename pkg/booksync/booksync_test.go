package booksync

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRetryPolicyDelayIsPlainExponentialNotJittered(t *testing.T) {
	p := RetryPolicy{BaseDelay: 100 * time.Millisecond, MaxDelay: time.Second, BackoffFactor: 2}
	assert.Equal(t, 100*time.Millisecond, p.delay(0))
	assert.Equal(t, 200*time.Millisecond, p.delay(1))
	assert.Equal(t, 400*time.Millisecond, p.delay(2))
	assert.Equal(t, time.Second, p.delay(10), "delay is capped at MaxDelay")
}

func TestRunSucceedsWithoutRetryingOnFirstSuccess(t *testing.T) {
	exec := NewExecutor(RetryPolicy{MaxRetries: 3, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond, BackoffFactor: 2})
	calls := 0
	outcome := Run(context.Background(), exec, func(context.Context, int) (string, error) {
		calls++
		return "ok", nil
	})
	assert.True(t, outcome.Success)
	assert.Equal(t, "ok", outcome.Result)
	assert.Equal(t, 1, calls)
}

func TestRunRetriesTransientFailuresThenSucceeds(t *testing.T) {
	exec := NewExecutor(RetryPolicy{MaxRetries: 3, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond, BackoffFactor: 1})
	calls := 0
	outcome := Run(context.Background(), exec, func(context.Context, int) (string, error) {
		calls++
		if calls < 3 {
			return "", &ActionError{StatusCode: 503, Message: "temporarily unavailable"}
		}
		return "recovered", nil
	})
	assert.True(t, outcome.Success)
	assert.Equal(t, "recovered", outcome.Result)
	assert.Equal(t, 3, calls)
}

func TestRunStopsRetryingNonRetryableErrors(t *testing.T) {
	exec := NewExecutor(DefaultRetryPolicy())
	calls := 0
	outcome := Run(context.Background(), exec, func(context.Context, int) (string, error) {
		calls++
		return "", &ActionError{StatusCode: 401, Message: "unauthorized"}
	})
	assert.False(t, outcome.Success)
	assert.False(t, outcome.Retryable)
	assert.Equal(t, 1, calls)
}

func TestRunGivesUpAfterMaxRetries(t *testing.T) {
	exec := NewExecutor(RetryPolicy{MaxRetries: 2, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond, BackoffFactor: 1})
	calls := 0
	outcome := Run(context.Background(), exec, func(context.Context, int) (string, error) {
		calls++
		return "", &ActionError{StatusCode: 503, Message: "still down"}
	})
	assert.False(t, outcome.Success)
	assert.Equal(t, 3, calls, "MaxRetries=2 means 3 total attempts")
}

func TestBuildTagSetAlwaysIncludesSyncTagAndStripsHashPrefix(t *testing.T) {
	tags := TagNames{SyncTag: "synced", ReadTag: "read"}
	summary := Summary{IsRead: true, Topics: []string{"#golang", "  #concurrency ", "", "  "}}

	set := buildTagSet(tags, summary)
	assert.Equal(t, []string{"synced", "read", "golang", "concurrency"}, set)
}

func TestBuildTagSetOmitsReadTagWhenNotRead(t *testing.T) {
	tags := TagNames{SyncTag: "synced", ReadTag: "read"}
	set := buildTagSet(tags, Summary{IsRead: false})
	assert.Equal(t, []string{"synced"}, set)
}

func TestBuildTagSetTruncatesAtFiveTopics(t *testing.T) {
	tags := TagNames{SyncTag: "synced"}
	summary := Summary{Topics: []string{"a", "b", "c", "d", "e", "f", "g"}}
	set := buildTagSet(tags, summary)
	assert.Len(t, set, 1+5)
	assert.Equal(t, []string{"synced", "a", "b", "c", "d", "e"}, set)
}

func TestCoerceTimestampHandlesNilTimeAndStringVariants(t *testing.T) {
	_, ok := CoerceTimestamp(nil)
	assert.False(t, ok)

	_, ok = CoerceTimestamp(42)
	assert.False(t, ok, "unsupported types coerce to false")

	ts, ok := CoerceTimestamp("2026-07-31T10:00:00Z")
	require.True(t, ok)
	assert.Equal(t, 2026, ts.Year())

	ts2, ok := CoerceTimestamp("2026-07-31 10:00:00")
	require.True(t, ok)
	assert.Equal(t, 2026, ts2.Year())

	_, ok = CoerceTimestamp("")
	assert.False(t, ok)

	_, ok = CoerceTimestamp("not a timestamp")
	assert.False(t, ok)

	now := time.Now()
	ts3, ok := CoerceTimestamp(now)
	require.True(t, ok)
	assert.WithinDuration(t, now, ts3, time.Second)
}

func TestPickSourceOfTruthPrefersLaterTimestampWhenBothKnown(t *testing.T) {
	r := &StatusReconciler{}
	older := time.Now().Add(-time.Hour)
	newer := time.Now()

	localWins := r.pickSourceOfTruth(SyncRecord{}, Summary{UpdatedAt: newer}, Bookmark{ModifiedAt: older})
	assert.True(t, localWins)

	localWins = r.pickSourceOfTruth(SyncRecord{}, Summary{UpdatedAt: older}, Bookmark{ModifiedAt: newer})
	assert.False(t, localWins)
}

func TestPickSourceOfTruthFallsBackToLinkDirectionWhenNoTimestampsKnown(t *testing.T) {
	r := &StatusReconciler{}
	localWins := r.pickSourceOfTruth(SyncRecord{Direction: DirectionBSRToRemote}, Summary{}, Bookmark{})
	assert.True(t, localWins)

	localWins = r.pickSourceOfTruth(SyncRecord{Direction: DirectionRemoteToBSR}, Summary{}, Bookmark{})
	assert.False(t, localWins)
}

func TestPickSourceOfTruthFallsBackToStoredShadowColumns(t *testing.T) {
	r := &StatusReconciler{}
	older := time.Now().Add(-time.Hour)
	newer := time.Now()

	link := SyncRecord{Direction: DirectionRemoteToBSR, BSRModifiedAt: older}
	localWins := r.pickSourceOfTruth(link, Summary{UpdatedAt: newer}, Bookmark{})
	assert.True(t, localWins, "local timestamp known and newer than the stored shadow column")
}

// fakeRemoteClient implements RemoteClient for ApplyMetadata tests.
type fakeRemoteClient struct {
	RemoteClient
	updateFn func(id string, fav *bool) (Bookmark, error)
	tagsFn   func(id string, tags []string) error
}

func (f *fakeRemoteClient) UpdateBookmark(_ context.Context, id string, favourited *bool, _ *string) (Bookmark, error) {
	return f.updateFn(id, favourited)
}

func (f *fakeRemoteClient) AttachTags(_ context.Context, id string, tags []string) error {
	return f.tagsFn(id, tags)
}

func TestApplyMetadataAttachesTagsAndFavouritesThroughExecutor(t *testing.T) {
	exec := NewExecutor(RetryPolicy{MaxRetries: 1, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond, BackoffFactor: 1})
	var attachedTags []string
	var sawFav *bool

	client := &fakeRemoteClient{
		updateFn: func(id string, fav *bool) (Bookmark, error) {
			sawFav = fav
			return Bookmark{ID: id, ModifiedAt: time.Now()}, nil
		},
		tagsFn: func(id string, tags []string) error {
			attachedTags = tags
			return nil
		},
	}

	summary := Summary{ID: 1, IsRead: true, IsFavourited: true, Topics: []string{"golang"}}
	out := ApplyMetadata(context.Background(), exec, client, "bm-1", summary, TagNames{SyncTag: "synced", ReadTag: "read"})

	assert.Equal(t, 1, out.FavouritesUpdated)
	require.NotNil(t, sawFav)
	assert.True(t, *sawFav)
	assert.Equal(t, []string{"synced", "read", "golang"}, attachedTags)
	assert.Equal(t, 3, out.TagsAttached)
	assert.Empty(t, out.Errors)
}

func TestApplyMetadataCollectsNonFatalErrors(t *testing.T) {
	exec := NewExecutor(RetryPolicy{MaxRetries: 0, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond, BackoffFactor: 1})
	client := &fakeRemoteClient{
		updateFn: func(string, *bool) (Bookmark, error) {
			return Bookmark{}, &ActionError{StatusCode: 401, Message: "unauthorized"}
		},
		tagsFn: func(string, []string) error {
			return fmt.Errorf("network error")
		},
	}

	summary := Summary{IsFavourited: true}
	out := ApplyMetadata(context.Background(), exec, client, "bm-1", summary, TagNames{SyncTag: "synced"})
	assert.Equal(t, 0, out.FavouritesUpdated)
	assert.NotEmpty(t, out.Errors)
}
