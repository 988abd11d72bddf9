package booksync

import (
	"context"
	"time"
)

// CoerceTimestamp normalizes a value that may have come back from the
// persistence layer as a string or a time.Time. A time.Time is returned
// unchanged. A string is parsed as RFC 3339 or as a zone-less
// "2006-01-02T15:04:05" / "2006-01-02 15:04:05" value (taken as UTC) and
// returned in UTC. Anything else, including an unparseable string,
// returns (zero, false).
func CoerceTimestamp(v any) (time.Time, bool) {
	switch val := v.(type) {
	case nil:
		return time.Time{}, false
	case time.Time:
		if val.Location() == time.UTC || val.Location().String() != "" {
			return val, true
		}
		return val.UTC(), true
	case string:
		if val == "" {
			return time.Time{}, false
		}
		for _, layout := range []string{time.RFC3339, time.RFC3339Nano, "2006-01-02T15:04:05", "2006-01-02 15:04:05"} {
			if t, err := time.Parse(layout, val); err == nil {
				if t.Location() == time.UTC {
					return t, true
				}
				return t.UTC(), true
			}
		}
		return time.Time{}, false
	default:
		return time.Time{}, false
	}
}

// StatusReconciler synchronizes read/favourite status bidirectionally for
// already-linked (summary, bookmark) pairs, picking a source of truth by
// sync direction with a timestamp tie-break.
type StatusReconciler struct {
	Repo     Repository
	Executor *Executor
	Tags     TagNames
}

// NewStatusReconciler builds reconciler Q.
func NewStatusReconciler(repo Repository, exec *Executor, tags TagNames) *StatusReconciler {
	return &StatusReconciler{Repo: repo, Executor: exec, Tags: tags}
}

// StatusResult reports what Reconcile changed.
type StatusResult struct {
	BSRToRemoteUpdates int
	RemoteToBSRUpdates int
	Errors             []metadataError
}

// Reconcile implements §4.Q over every existing sync linkage.
func (r *StatusReconciler) Reconcile(ctx context.Context, client RemoteClient) (*StatusResult, error) {
	out := &StatusResult{}

	links, err := r.Repo.GetSyncedItemsWithBookmarkAndSummary(ctx)
	if err != nil {
		return nil, err
	}

	for _, link := range links {
		summary, err := r.Repo.GetSummaryByID(ctx, link.SummaryID)
		if err != nil {
			out.Errors = append(out.Errors, metadataError{Message: err.Error(), Retryable: true})
			continue
		}
		bookmark, err := client.GetBookmark(ctx, link.BookmarkID)
		if err != nil {
			out.Errors = append(out.Errors, metadataError{Message: err.Error(), Retryable: true})
			continue
		}

		remoteRead := hasTag(bookmark.Tags, r.Tags.ReadTag)
		remoteFav := bookmark.Favourited
		localRead := summary.IsRead
		localFav := summary.IsFavourited

		localWins := r.pickSourceOfTruth(link, summary, bookmark)

		if localWins {
			r.applyLocalToRemote(ctx, client, link, summary, bookmark, localRead, remoteRead, localFav, remoteFav, out)
		} else if localRead != remoteRead || localFav != remoteFav {
			isRead, isFav := remoteRead, remoteFav
			if err := r.Repo.UpdateSummaryStatus(ctx, summary.ID, &isRead, &isFav); err != nil {
				out.Errors = append(out.Errors, metadataError{Message: err.Error(), Retryable: true})
				continue
			}
			_ = r.Repo.UpdateSyncTimestamps(ctx, link.ID, time.Now(), link.RemoteModifiedAt)
			out.RemoteToBSRUpdates++
		}
	}

	return out, nil
}

// pickSourceOfTruth implements the direction-default + timestamp
// tie-break rule.
func (r *StatusReconciler) pickSourceOfTruth(link SyncRecord, summary Summary, bookmark Bookmark) bool {
	localUpdated, localOK := summary.UpdatedAt, !summary.UpdatedAt.IsZero()
	remoteModified, remoteOK := bookmark.ModifiedAt, !bookmark.ModifiedAt.IsZero()

	if localOK && remoteOK {
		return localUpdated.After(remoteModified)
	}
	if localOK && !link.BSRModifiedAt.IsZero() {
		return localUpdated.After(link.BSRModifiedAt)
	}
	if remoteOK && !link.KarakeepModified.IsZero() {
		return !remoteModified.After(link.KarakeepModified)
	}
	return link.Direction == DirectionBSRToRemote
}

func (r *StatusReconciler) applyLocalToRemote(ctx context.Context, client RemoteClient, link SyncRecord, summary Summary, bookmark Bookmark, localRead, remoteRead, localFav, remoteFav bool, out *StatusResult) {
	changed := false

	if localRead != remoteRead {
		if localRead {
			outcome := Run(ctx, r.Executor, func(ctx context.Context, _ int) (struct{}, error) {
				return struct{}{}, client.AttachTags(ctx, bookmark.ID, []string{r.Tags.ReadTag})
			})
			if !outcome.Success && outcome.LastError != nil {
				out.Errors = append(out.Errors, metadataError{Message: outcome.LastError.Error(), Retryable: outcome.Retryable})
			} else {
				changed = true
			}
		} else if tagID := findTagID(bookmark.Tags, r.Tags.ReadTag); tagID != "" {
			outcome := Run(ctx, r.Executor, func(ctx context.Context, _ int) (struct{}, error) {
				return struct{}{}, client.DetachTag(ctx, bookmark.ID, tagID)
			})
			if !outcome.Success && outcome.LastError != nil {
				out.Errors = append(out.Errors, metadataError{Message: outcome.LastError.Error(), Retryable: outcome.Retryable})
			} else {
				changed = true
			}
		}
	}

	if localFav != remoteFav {
		fav := localFav
		outcome := Run(ctx, r.Executor, func(ctx context.Context, _ int) (Bookmark, error) {
			return client.UpdateBookmark(ctx, bookmark.ID, &fav, nil)
		})
		if !outcome.Success && outcome.LastError != nil {
			out.Errors = append(out.Errors, metadataError{Message: outcome.LastError.Error(), Retryable: outcome.Retryable})
		} else {
			changed = true
		}
	}

	if changed {
		_ = r.Repo.UpdateSyncTimestamps(ctx, link.ID, link.LocalModifiedAt, time.Now())
		out.BSRToRemoteUpdates++
	}
}

func hasTag(tags []Tag, name string) bool {
	if name == "" {
		return false
	}
	for _, t := range tags {
		if t.Name == name {
			return true
		}
	}
	return false
}

func findTagID(tags []Tag, name string) string {
	for _, t := range tags {
		if t.Name == name {
			return t.ID
		}
	}
	return ""
}
