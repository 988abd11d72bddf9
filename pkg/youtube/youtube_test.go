package youtube

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractVideoIDHandlesCommonURLShapes(t *testing.T) {
	cases := map[string]string{
		"https://www.youtube.com/watch?v=dQw4w9WgXcQ":    "dQw4w9WgXcQ",
		"https://youtu.be/dQw4w9WgXcQ":                    "dQw4w9WgXcQ",
		"https://www.youtube.com/embed/dQw4w9WgXcQ":       "dQw4w9WgXcQ",
		"https://www.youtube.com/shorts/dQw4w9WgXcQ":      "dQw4w9WgXcQ",
		"https://www.youtube.com/watch?v=dQw4w9WgXcQ&t=5": "dQw4w9WgXcQ",
	}
	for url, want := range cases {
		assert.Equal(t, want, ExtractVideoID(url), url)
	}
	assert.Equal(t, "", ExtractVideoID("https://example.com/not-a-video"))
}

// fakeRepo implements Repository entirely in memory for pipeline tests.
type fakeRepo struct {
	mu         sync.Mutex
	byHash     map[string]*RequestRecord
	downloads  map[int64]*DownloadRecord
	nextReqID  int64
	nextDLID   int64
	lastStatus string
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{byHash: map[string]*RequestRecord{}, downloads: map[int64]*DownloadRecord{}}
}

func (r *fakeRepo) GetRequestByDedupeHash(_ context.Context, hash string) (*RequestRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.byHash[hash], nil
}

func (r *fakeRepo) CreateRequest(_ context.Context, _, normURL, hash, _ string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextReqID++
	rec := &RequestRecord{ID: r.nextReqID, DedupeHash: hash, NormURL: normURL, Status: "pending"}
	r.byHash[hash] = rec
	return rec.ID, nil
}

func (r *fakeRepo) UpdateRequestStatus(_ context.Context, requestID int64, status string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lastStatus = status
	for _, rec := range r.byHash {
		if rec.ID == requestID {
			rec.Status = status
		}
	}
	return nil
}

func (r *fakeRepo) UpdateRequestLangDetected(_ context.Context, requestID int64, lang string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, rec := range r.byHash {
		if rec.ID == requestID {
			rec.LangDetected = lang
		}
	}
	return nil
}

func (r *fakeRepo) GetDownloadByRequest(_ context.Context, requestID int64) (*DownloadRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.downloads[requestID], nil
}

func (r *fakeRepo) CreateDownload(_ context.Context, requestID int64, videoID, status string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextDLID++
	r.downloads[requestID] = &DownloadRecord{ID: r.nextDLID, RequestID: requestID, VideoID: videoID, Status: status}
	return r.nextDLID, nil
}

func (r *fakeRepo) UpdateDownloadStatus(_ context.Context, downloadID int64, status, errorText string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, d := range r.downloads {
		if d.ID == downloadID {
			d.Status = status
		}
	}
	return nil
}

func (r *fakeRepo) CompleteDownload(_ context.Context, downloadID int64, meta VideoMetadata, transcript, source, lang string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, d := range r.downloads {
		if d.ID == downloadID {
			d.Status = "completed"
			d.Metadata = meta
			d.TranscriptText = transcript
			d.TranscriptSource = source
			d.SubtitleLanguage = lang
		}
	}
	return nil
}

type fakeTranscript struct {
	text, lang string
	err        error
}

func (f *fakeTranscript) FetchTranscript(context.Context, string, []string) (string, string, bool, error) {
	return f.text, f.lang, false, f.err
}

type fakeDownloader struct {
	meta VideoMetadata
	err  error
	fn   func(ctx context.Context) (VideoMetadata, error)
}

func (f *fakeDownloader) DownloadVideo(ctx context.Context, _ string, _ DownloadOptions) (VideoMetadata, error) {
	if f.fn != nil {
		return f.fn(ctx)
	}
	return f.meta, f.err
}

func TestDownloadAndExtractReturnsCachedResultOnRepeatURL(t *testing.T) {
	repo := newFakeRepo()
	transcript := &fakeTranscript{text: "hello world", lang: "en"}
	downloader := &fakeDownloader{meta: VideoMetadata{Title: "A Video"}}

	p := NewPipeline(repo, transcript, downloader, nil, "", "1080p", []string{"en"})

	url := "https://www.youtube.com/watch?v=dQw4w9WgXcQ"
	first, err := p.DownloadAndExtract(t.Context(), url, "")
	require.NoError(t, err)
	assert.Equal(t, "api", first.Source)

	second, err := p.DownloadAndExtract(t.Context(), url, "")
	require.NoError(t, err)
	assert.Equal(t, "cached", second.Source)
	assert.Equal(t, first.RequestID, second.RequestID)
}

func TestDownloadAndExtractRejectsInvalidURL(t *testing.T) {
	p := NewPipeline(newFakeRepo(), nil, nil, nil, "", "", nil)
	_, err := p.DownloadAndExtract(t.Context(), "https://example.com/nope", "")
	assert.Error(t, err)
}

func TestDownloadAndExtractCleansUpPartialFilesOnDownloadFailure(t *testing.T) {
	dir := t.TempDir()
	videoID := "dQw4w9WgXcQ"
	partial := filepath.Join(dir, videoID+"_Some_Title.mp4.part")
	require.NoError(t, os.WriteFile(partial, []byte("partial-bytes"), 0o644))

	repo := newFakeRepo()
	transcript := &fakeTranscript{err: ErrNoTranscript}
	downloader := &fakeDownloader{err: fmt.Errorf("yt-dlp: network error")}

	p := NewPipeline(repo, transcript, downloader, nil, dir, "1080p", []string{"en"})
	p.StorageDir = dir

	_, err := p.DownloadAndExtract(t.Context(), "https://www.youtube.com/watch?v="+videoID, "")
	require.Error(t, err)

	_, statErr := os.Stat(partial)
	assert.True(t, os.IsNotExist(statErr), "partial file must be removed after a failed download")
}

func TestDownloadAndExtractFallsBackToVTTWhenTranscriptAPIEmpty(t *testing.T) {
	dir := t.TempDir()
	videoID := "dQw4w9WgXcQ"
	vttPath := filepath.Join(dir, videoID+".en.vtt")
	require.NoError(t, os.WriteFile(vttPath, []byte("WEBVTT\n\n00:00:00.000 --> 00:00:02.000\nHello from subtitles\n"), 0o644))

	repo := newFakeRepo()
	transcript := &fakeTranscript{err: ErrNoTranscript}
	downloader := &fakeDownloader{meta: VideoMetadata{Title: "A Video", SubtitlePath: vttPath}}

	p := NewPipeline(repo, transcript, downloader, nil, dir, "1080p", []string{"en"})

	result, err := p.DownloadAndExtract(t.Context(), "https://www.youtube.com/watch?v="+videoID, "")
	require.NoError(t, err)
	assert.Equal(t, "vtt", result.Source)
	assert.Contains(t, result.Transcript, "Hello from subtitles")
}

func TestStorageBudgetEnforceTriggersCleanupAtThreshold(t *testing.T) {
	var cleaned bool
	budget := &StorageBudget{
		MaxBytes:         1000,
		CleanupThreshold: 0.9,
		UsageFn: func() (int64, error) {
			if cleaned {
				return 100, nil
			}
			return 950, nil
		},
		CleanupFn: func(target int64) (int64, error) {
			cleaned = true
			return 850, nil
		},
	}
	require.NoError(t, budget.Enforce(context.Background()))
	assert.True(t, cleaned)
}

func TestStorageBudgetEnforceFailsWhenCleanupInsufficient(t *testing.T) {
	budget := &StorageBudget{
		MaxBytes:         1000,
		CleanupThreshold: 0.9,
		UsageFn:          func() (int64, error) { return 2000, nil },
		CleanupFn:        func(int64) (int64, error) { return 0, nil },
	}
	assert.Error(t, budget.Enforce(context.Background()))
}

func TestCleanupPartialDownloadFilesOnlyMatchesKnownSuffixes(t *testing.T) {
	dir := t.TempDir()
	videoID := "abc12345678"
	keep := filepath.Join(dir, videoID+"_title.vtt")
	remove := filepath.Join(dir, videoID+"_title.mp4")
	unrelated := filepath.Join(dir, "other_title.mp4")

	require.NoError(t, os.WriteFile(keep, []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(remove, []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(unrelated, []byte("x"), 0o644))

	require.NoError(t, CleanupPartialDownloadFiles(dir, videoID))

	_, err := os.Stat(keep)
	assert.NoError(t, err, "non-partial suffixes must survive")
	_, err = os.Stat(remove)
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(unrelated)
	assert.NoError(t, err, "files for other video ids must never be touched")
}

func TestAutoCleanupRemovesOldestFirstUntilUnderTarget(t *testing.T) {
	dir := t.TempDir()
	now := time.Now()

	mkFile := func(name string, size int, age time.Duration) {
		path := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(path, make([]byte, size), 0o644))
		require.NoError(t, os.Chtimes(path, now.Add(-age), now.Add(-age)))
	}
	mkFile("oldest.mp4", 500, 72*time.Hour)
	mkFile("middle.mp4", 500, 48*time.Hour)
	mkFile("newest.mp4", 500, 1*time.Hour)

	reclaimed, err := AutoCleanup(dir, 800, 0, now)
	require.NoError(t, err)
	assert.Equal(t, int64(1000), reclaimed)

	_, err = os.Stat(filepath.Join(dir, "oldest.mp4"))
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(filepath.Join(dir, "newest.mp4"))
	assert.NoError(t, err)
}
