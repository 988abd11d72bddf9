package booksync

import (
	"context"

	"relaycore/pkg/urlnorm"
)

// RemoteToBSRSyncer iterates remote bookmarks and submits unknown URLs
// into the local ingestion pipeline, recording sync rows as it goes.
type RemoteToBSRSyncer struct {
	Repo Repository
}

// NewRemoteToBSRSyncer builds syncer P.
func NewRemoteToBSRSyncer(repo Repository) *RemoteToBSRSyncer {
	return &RemoteToBSRSyncer{Repo: repo}
}

// Sync implements §4.P.
func (s *RemoteToBSRSyncer) Sync(ctx context.Context, cache *Cache, userID string, limit int) (*SyncResult, error) {
	result := &SyncResult{Direction: DirectionRemoteToBSR}

	synced, err := s.Repo.GetSyncedHashesByDirection(ctx, DirectionRemoteToBSR)
	if err != nil {
		return nil, err
	}
	localHashes, err := s.Repo.GetExistingRequestHashes(ctx)
	if err != nil {
		return nil, err
	}

	count := 0
	err = cache.IterBookmarks(ctx, func(pairs []BookmarkPair) error {
		for _, pair := range pairs {
			if limit > 0 && count >= limit {
				return errStopIteration
			}
			if pair.Bookmark.URL == "" {
				continue
			}
			syncHash := urlnorm.HashSHA256(pair.NormURL)
			localHash := syncHash

			if urlnorm.InHashSet(syncHash, synced) {
				result.SkippedAlreadySynced++
				continue
			}

			if urlnorm.InHashSet(localHash, localHashes) {
				if _, err := s.Repo.CreateSyncRecord(ctx, SyncRecord{
					Direction: DirectionRemoteToBSR, BookmarkID: pair.Bookmark.ID, Hash: syncHash,
				}); err != nil {
					result.addError(err.Error(), true)
				}
				result.SkippedExistsInTarget++
				count++
				continue
			}

			if _, err := s.Repo.CreateRequestFromSync(ctx, userID, pair.Bookmark.URL, pair.NormURL, localHash); err != nil {
				result.addError(err.Error(), true)
				count++
				continue
			}
			if _, err := s.Repo.CreateSyncRecord(ctx, SyncRecord{
				Direction: DirectionRemoteToBSR, BookmarkID: pair.Bookmark.ID, Hash: syncHash,
			}); err != nil {
				result.addError("duplicate sync record detected", true)
			} else {
				result.Created++
			}
			count++
		}
		return nil
	})
	if err != nil && err != errStopIteration {
		return result, err
	}

	return result, nil
}

type stopIteration struct{}

func (stopIteration) Error() string { return "booksync: iteration limit reached" }

var errStopIteration = stopIteration{}
