// Package booksync implements the bidirectional bookmark sync
// orchestrator: a cached, paginated, retry-wrapped reconciler between the
// local summary store and an external bookmark service, with hash-based
// dedupe (including a legacy short-hash bridge), tag/favourite
// replication, and timestamp-based conflict resolution.
package booksync

import (
	"context"
	"time"
)

// Direction names which side is authoritative for a sync pass.
type Direction string

const (
	DirectionBSRToRemote Direction = "bsr_to_remote"
	DirectionRemoteToBSR Direction = "remote_to_bsr"
)

// Bookmark is the remote service's bookmark representation, trimmed to
// what the syncer needs.
type Bookmark struct {
	ID         string
	URL        string
	Title      string
	Favourited bool
	Tags       []Tag
	ModifiedAt time.Time
}

// Tag is one bookmark tag as the remote service represents it.
type Tag struct {
	ID   string
	Name string
}

// Summary is the local article/video summary row this subsystem
// replicates.
type Summary struct {
	ID           int64
	UserID       string
	NormURL      string
	IsRead       bool
	IsFavourited bool
	TLDR         string
	Summary250   string
	Topics       []string
	UpdatedAt    time.Time
}

// SyncRecord links one local summary to one remote bookmark.
type SyncRecord struct {
	ID                int64
	Direction         Direction
	SummaryID         int64
	BookmarkID        string
	Hash              string
	LocalModifiedAt   time.Time
	RemoteModifiedAt  time.Time
	BSRModifiedAt     time.Time
	KarakeepModified  time.Time
}

// RemoteClient is the bookmark service's outer surface, satisfied by an
// HTTP-backed implementation the caller constructs per sync call (hence
// the io.Closer-shaped lifecycle: opened via a factory, health-checked,
// closed when the call tree is done).
type RemoteClient interface {
	HealthCheck(ctx context.Context) error
	ListBookmarks(ctx context.Context, cursor string, limit int) (bookmarks []Bookmark, nextCursor string, err error)
	GetBookmark(ctx context.Context, id string) (Bookmark, error)
	CreateBookmark(ctx context.Context, url, title, note string) (Bookmark, error)
	UpdateBookmark(ctx context.Context, id string, favourited *bool, note *string) (Bookmark, error)
	DeleteBookmark(ctx context.Context, id string) error
	AttachTags(ctx context.Context, id string, tags []string) error
	DetachTag(ctx context.Context, id, tagID string) error
	Close() error
}

// RemoteClientFactory builds a RemoteClient per sync call, matching the
// spec's "every public method opens a remote client via a factory" rule.
type RemoteClientFactory func(ctx context.Context) (RemoteClient, error)

// Repository is the local persistence surface this subsystem reads and
// writes.
type Repository interface {
	GetSummariesForSync(ctx context.Context, userID string) ([]Summary, error)
	GetSummaryByID(ctx context.Context, id int64) (Summary, error)
	UpdateSummaryStatus(ctx context.Context, id int64, isRead, isFavourited *bool) error

	GetCrawlResultTitle(ctx context.Context, requestID int64) (string, error)

	GetSyncedHashesByDirection(ctx context.Context, dir Direction) (map[string]struct{}, error)
	CreateSyncRecord(ctx context.Context, rec SyncRecord) (int64, error)
	UpsertSyncRecord(ctx context.Context, rec SyncRecord) (int64, error)
	UpdateSyncTimestamps(ctx context.Context, id int64, local, remote time.Time) error
	DeleteAllSyncRecords(ctx context.Context, dir Direction) error
	GetSyncedItemsWithBookmarkAndSummary(ctx context.Context) ([]SyncRecord, error)
	GetSyncStats(ctx context.Context) (map[string]int, error)

	GetExistingRequestHashes(ctx context.Context) (map[string]struct{}, error)
	CreateRequestFromSync(ctx context.Context, userID, inputURL, normURL, dedupeHash string) (int64, error)
}

// SyncResult is the uniform return shape for O, P, and the facade's
// public methods.
type SyncResult struct {
	Direction            Direction
	Created              int
	Updated              int
	SkippedNoURL         int
	SkippedHashFailed    int
	SkippedAlreadySynced int
	SkippedExistsInTarget int
	RetryableErrors      []string
	PermanentErrors      []string
}

func (r *SyncResult) addError(message string, retryable bool) {
	if retryable {
		r.RetryableErrors = append(r.RetryableErrors, message)
	} else {
		r.PermanentErrors = append(r.PermanentErrors, message)
	}
}
