package booksync

import (
	"context"
	"log/slog"
	"strings"

	"relaycore/pkg/urlnorm"
)

// BSRToRemoteSyncer pushes local summaries into the remote bookmark
// service: creates or updates remote bookmarks and records sync rows.
type BSRToRemoteSyncer struct {
	Repo     Repository
	Executor *Executor
	Tags     TagNames
}

// NewBSRToRemoteSyncer builds syncer O.
func NewBSRToRemoteSyncer(repo Repository, exec *Executor, tags TagNames) *BSRToRemoteSyncer {
	return &BSRToRemoteSyncer{Repo: repo, Executor: exec, Tags: tags}
}

type bsrWorkItem struct {
	summary      Summary
	existingBM   *Bookmark // set when updating an existing remote bookmark
}

// Sync implements §4.O: build the remote index, filter already-synced and
// already-present summaries, then create/update the remainder through the
// remote client, applying metadata via N.
func (s *BSRToRemoteSyncer) Sync(ctx context.Context, client RemoteClient, cache *Cache, userID string, limit int, force bool) (*SyncResult, error) {
	result := &SyncResult{Direction: DirectionBSRToRemote}

	index, err := cache.GetURLIndex(ctx)
	if err != nil {
		return nil, err
	}
	synced, err := s.Repo.GetSyncedHashesByDirection(ctx, DirectionBSRToRemote)
	if err != nil {
		return nil, err
	}
	summaries, err := s.Repo.GetSummariesForSync(ctx, userID)
	if err != nil {
		return nil, err
	}

	var workItems []bsrWorkItem
	for _, summary := range summaries {
		if limit > 0 && len(workItems) >= limit {
			break
		}
		if summary.NormURL == "" {
			result.SkippedNoURL++
			continue
		}
		hash := urlnorm.HashSHA256(summary.NormURL)
		if hash == "" {
			result.SkippedHashFailed++
			continue
		}
		if urlnorm.InHashSet(hash, synced) && !force {
			result.SkippedAlreadySynced++
			continue
		}
		if bm, exists := index[summary.NormURL]; exists {
			if !force {
				if _, err := s.Repo.CreateSyncRecord(ctx, SyncRecord{
					Direction: DirectionBSRToRemote, SummaryID: summary.ID, BookmarkID: bm.ID, Hash: hash,
				}); err != nil {
					result.addError(err.Error(), true)
				}
				result.SkippedExistsInTarget++
				continue
			}
			bmCopy := bm
			workItems = append(workItems, bsrWorkItem{summary: summary, existingBM: &bmCopy})
			continue
		}
		workItems = append(workItems, bsrWorkItem{summary: summary})
	}

	for _, item := range workItems {
		s.processOne(ctx, client, item, result)
	}

	return result, nil
}

func (s *BSRToRemoteSyncer) processOne(ctx context.Context, client RemoteClient, item bsrWorkItem, result *SyncResult) {
	hash := urlnorm.HashSHA256(item.summary.NormURL)
	title, _ := s.Repo.GetCrawlResultTitle(ctx, item.summary.ID)
	note := deriveNote(item.summary)

	var bookmark Bookmark
	var err error
	if item.existingBM != nil {
		fav := item.summary.IsFavourited
		outcome := Run(ctx, s.Executor, func(ctx context.Context, _ int) (Bookmark, error) {
			return client.UpdateBookmark(ctx, item.existingBM.ID, &fav, &note)
		})
		bookmark, err = outcome.Result, outcome.LastError
		if outcome.Success {
			result.Updated++
		}
	} else {
		outcome := Run(ctx, s.Executor, func(ctx context.Context, _ int) (Bookmark, error) {
			return client.CreateBookmark(ctx, item.summary.NormURL, title, note)
		})
		bookmark, err = outcome.Result, outcome.LastError
		if outcome.Success {
			result.Created++
		} else if outcome.Retryable {
			result.addError(outcome.LastError.Error(), true)
			return
		} else if err != nil {
			result.addError(err.Error(), false)
			return
		}
	}
	if err != nil && item.existingBM != nil {
		result.addError(err.Error(), true)
		return
	}

	syncID, err := s.Repo.UpsertSyncRecord(ctx, SyncRecord{
		Direction: DirectionBSRToRemote, SummaryID: item.summary.ID, BookmarkID: bookmark.ID, Hash: hash,
	})
	if err != nil {
		result.addError(err.Error(), true)
		return
	}
	if syncID == 0 {
		// Unique-constraint race lost: compensate by deleting the bookmark
		// we just created (best-effort), report retryable.
		if item.existingBM == nil {
			_ = client.DeleteBookmark(ctx, bookmark.ID)
		}
		result.addError("duplicate sync record detected", true)
		return
	}

	metaOutcome := ApplyMetadata(ctx, s.Executor, client, bookmark.ID, item.summary, s.Tags)
	for _, e := range metaOutcome.Errors {
		result.addError(e.Message, e.Retryable)
	}
	if metaOutcome.RemoteModifiedAt != nil {
		if err := s.Repo.UpdateSyncTimestamps(ctx, syncID, item.summary.UpdatedAt, bookmark.ModifiedAt); err != nil {
			slog.Warn("booksync: failed updating sync timestamps", "error", err)
		}
	}
}

func deriveNote(s Summary) string {
	if strings.TrimSpace(s.TLDR) != "" {
		return s.TLDR
	}
	return s.Summary250
}
