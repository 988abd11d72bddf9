package booksync

import (
	"context"
	"log/slog"
	"strings"
)

const maxTopicTags = 5

// Tags the metadata applier attaches/checks for on every synced bookmark.
type TagNames struct {
	SyncTag string
	ReadTag string
}

// MetadataOutcome reports what the applier actually changed, for the
// caller's counters.
type MetadataOutcome struct {
	FavouritesUpdated int
	TagsAttached      int
	Errors            []metadataError
	RemoteModifiedAt  *int64 // unix seconds, taken from the bookmark a successful favourite update returns
}

type metadataError struct {
	Message   string
	Retryable bool
}

// ApplyMetadata reconciles one (bookmark, summary) pair's favourite flag
// and tag set through the retry executor M. Failures are collected as
// non-fatal; the caller decides what to do with them.
func ApplyMetadata(ctx context.Context, exec *Executor, client RemoteClient, bookmarkID string, summary Summary, tags TagNames) MetadataOutcome {
	var out MetadataOutcome

	if summary.IsFavourited {
		fav := true
		outcome := Run(ctx, exec, func(ctx context.Context, _ int) (Bookmark, error) {
			return client.UpdateBookmark(ctx, bookmarkID, &fav, nil)
		})
		if outcome.Success {
			out.FavouritesUpdated++
			ts := outcome.Result.ModifiedAt.Unix()
			out.RemoteModifiedAt = &ts
		} else if outcome.LastError != nil {
			out.Errors = append(out.Errors, metadataError{Message: outcome.LastError.Error(), Retryable: outcome.Retryable})
		}
	}

	tagSet := buildTagSet(tags, summary)
	outcome := Run(ctx, exec, func(ctx context.Context, _ int) (struct{}, error) {
		return struct{}{}, client.AttachTags(ctx, bookmarkID, tagSet)
	})
	if outcome.Success {
		out.TagsAttached += len(tagSet)
	} else if outcome.LastError != nil {
		out.Errors = append(out.Errors, metadataError{Message: outcome.LastError.Error(), Retryable: outcome.Retryable})
	}

	return out
}

func buildTagSet(tags TagNames, summary Summary) []string {
	set := []string{tags.SyncTag}
	if summary.IsRead && tags.ReadTag != "" {
		set = append(set, tags.ReadTag)
	}

	topics := make([]string, 0, len(summary.Topics))
	for _, t := range summary.Topics {
		t = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(t), "#"))
		if t == "" {
			continue
		}
		topics = append(topics, t)
	}
	if len(topics) > maxTopicTags {
		slog.Debug("booksync: truncating topic tags", "summary_id", summary.ID, "total", len(topics), "kept", maxTopicTags)
		topics = topics[:maxTopicTags]
	}
	return append(set, topics...)
}
