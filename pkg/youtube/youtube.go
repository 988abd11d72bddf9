// Package youtube implements the download-and-transcript pipeline:
// storage-budget enforcement, per-hash dedupe locking, a three-stage
// heavy-work path (transcript API, video download, VTT fallback), and
// cleanup-on-any-exit semantics for partial downloads.
package youtube

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"relaycore/pkg/urlnorm"
	"relaycore/pkg/utils"
)

// RequestRecord mirrors one row of the request table this pipeline reads
// and writes.
type RequestRecord struct {
	ID          int64
	DedupeHash  string
	NormURL     string
	Status      string
	LangDetected string
}

// DownloadRecord mirrors one row of the video-download table.
type DownloadRecord struct {
	ID               int64
	RequestID        int64
	VideoID          string
	Status           string // pending | downloading | completed | error
	TranscriptText   string
	TranscriptSource string
	SubtitleLanguage string
	Metadata         VideoMetadata
}

// VideoMetadata is the subset of yt-dlp's probe output this pipeline
// persists and re-surfaces in the transcript header.
type VideoMetadata struct {
	VideoID     string
	Title       string
	Channel     string
	DurationSec int
	UploadDate  string
	ViewCount   int64
	Resolution  string
	FileSizeB   int64
	SubtitlePath string
}

// Repository is the persistence surface the pipeline depends on.
// Implementations own their own transactions/locking beyond the
// in-process per-hash lock this package already provides.
type Repository interface {
	GetRequestByDedupeHash(ctx context.Context, hash string) (*RequestRecord, error)
	CreateRequest(ctx context.Context, url, normURL, dedupeHash, correlationID string) (int64, error)
	UpdateRequestStatus(ctx context.Context, requestID int64, status string) error
	UpdateRequestLangDetected(ctx context.Context, requestID int64, lang string) error

	GetDownloadByRequest(ctx context.Context, requestID int64) (*DownloadRecord, error)
	CreateDownload(ctx context.Context, requestID int64, videoID, status string) (int64, error)
	UpdateDownloadStatus(ctx context.Context, downloadID int64, status, errorText string) error
	CompleteDownload(ctx context.Context, downloadID int64, meta VideoMetadata, transcript, source, lang string) error
}

// TranscriptFetcher wraps the transcript-list API (youtube-transcript-api
// in the original; here, any client satisfying this narrow interface).
type TranscriptFetcher interface {
	FetchTranscript(ctx context.Context, videoID string, preferredLangs []string) (text, lang string, autoGenerated bool, err error)
}

// ErrNoTranscript signals the transcript API had nothing for this video
// (transcripts disabled or none published) — not fatal, triggers the VTT
// fallback stage.
var ErrNoTranscript = fmt.Errorf("youtube: no transcript available via API")

// ErrVideoUnavailable is fatal: the video has been removed, is private, or
// is geo-blocked in a way that makes any further stage pointless.
var ErrVideoUnavailable = fmt.Errorf("youtube: video unavailable")

// Downloader wraps the actual video+subtitle download (yt-dlp in the
// original). DownloadVideo blocks; callers are expected to run it off any
// event loop and enforce their own timeout via ctx.
type Downloader interface {
	DownloadVideo(ctx context.Context, url string, opts DownloadOptions) (VideoMetadata, error)
}

// DownloadOptions configures one Downloader.DownloadVideo call.
type DownloadOptions struct {
	OutputDir         string
	MaxQuality        string // e.g. "1080p"
	SubtitleLanguages []string
}

// StorageBudget tracks and enforces the download cache's size ceiling.
type StorageBudget struct {
	MaxBytes         int64
	CleanupThreshold float64 // fraction of MaxBytes that triggers auto-cleanup
	UsageFn          func() (int64, error)
	CleanupFn        func(targetBytes int64) (reclaimed int64, err error)
}

// Enforce checks current usage against budget, triggering cleanup when the
// threshold is crossed, and fails if usage still exceeds the hard cap
// afterward.
func (b *StorageBudget) Enforce(ctx context.Context) error {
	if b.UsageFn == nil {
		return nil
	}
	usage, err := b.UsageFn()
	if err != nil {
		return err
	}
	threshold := float64(b.MaxBytes) * b.CleanupThreshold
	if float64(usage) > threshold && b.CleanupFn != nil {
		if _, err := b.CleanupFn(b.MaxBytes); err != nil {
			return err
		}
		usage, err = b.UsageFn()
		if err != nil {
			return err
		}
	}
	if usage > b.MaxBytes {
		return fmt.Errorf("youtube: storage limit exceeded, unable to download new videos until cleanup frees space")
	}
	return nil
}

// Pipeline implements download_and_extract end to end.
type Pipeline struct {
	Repo       Repository
	Transcript TranscriptFetcher
	Downloader Downloader
	Budget     *StorageBudget
	StorageDir string
	MaxQuality string
	Languages  []string

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

// NewPipeline builds a Pipeline with its per-hash lock table initialized.
func NewPipeline(repo Repository, transcript TranscriptFetcher, downloader Downloader, budget *StorageBudget, storageDir, maxQuality string, languages []string) *Pipeline {
	return &Pipeline{
		Repo:       repo,
		Transcript: transcript,
		Downloader: downloader,
		Budget:     budget,
		StorageDir: storageDir,
		MaxQuality: maxQuality,
		Languages:  languages,
		locks:      make(map[string]*sync.Mutex),
	}
}

func (p *Pipeline) lockFor(hash string) *sync.Mutex {
	p.locksMu.Lock()
	defer p.locksMu.Unlock()
	l, ok := p.locks[hash]
	if !ok {
		l = &sync.Mutex{}
		p.locks[hash] = l
	}
	return l
}

func (p *Pipeline) releaseLock(hash string) {
	p.locksMu.Lock()
	defer p.locksMu.Unlock()
	delete(p.locks, hash)
}

var videoIDPattern = regexp.MustCompile(`(?:v=|youtu\.be/|youtube\.com/embed/|youtube\.com/shorts/)([A-Za-z0-9_-]{11})`)

// ExtractVideoID pulls the 11-character video id out of any of the common
// YouTube URL shapes (watch, short link, embed, shorts).
func ExtractVideoID(url string) string {
	m := videoIDPattern.FindStringSubmatch(url)
	if len(m) < 2 {
		return ""
	}
	return m[1]
}

// Result is what DownloadAndExtract returns on success.
type Result struct {
	RequestID  int64
	Transcript string
	Source     string // "cached" | "api" | "vtt"
	Language   string
	Metadata   VideoMetadata
}

const maxTranscriptChars = 500_000

// DownloadAndExtract implements 4.K end to end.
func (p *Pipeline) DownloadAndExtract(ctx context.Context, rawURL, correlationID string) (Result, error) {
	if correlationID == "" {
		correlationID = utils.GenerateID()
	}

	videoID := ExtractVideoID(rawURL)
	if videoID == "" {
		return Result{}, fmt.Errorf("youtube: invalid YouTube URL, could not extract video id")
	}

	if p.Budget != nil {
		if err := p.Budget.Enforce(ctx); err != nil {
			return Result{}, err
		}
	}

	norm := urlnorm.Normalize(rawURL)
	dedupe := urlnorm.HashSHA256(norm)

	lock := p.lockFor(dedupe)
	lock.Lock()

	existingReq, err := p.Repo.GetRequestByDedupeHash(ctx, dedupe)
	if err != nil {
		lock.Unlock()
		p.releaseLock(dedupe)
		return Result{}, err
	}

	var requestID int64
	if existingReq != nil {
		requestID = existingReq.ID
		if dl, err := p.Repo.GetDownloadByRequest(ctx, requestID); err == nil && dl != nil && dl.Status == "completed" {
			lock.Unlock()
			p.releaseLock(dedupe)
			combined := combineMetadataAndTranscript(dl.Metadata, dl.TranscriptText)
			return Result{
				RequestID:  requestID,
				Transcript: combined,
				Source:     "cached",
				Language:   dl.SubtitleLanguage,
				Metadata:   dl.Metadata,
			}, nil
		}
	} else {
		requestID, err = p.Repo.CreateRequest(ctx, rawURL, norm, dedupe, correlationID)
		if err != nil {
			lock.Unlock()
			p.releaseLock(dedupe)
			return Result{}, err
		}
	}

	downloadID, err := p.Repo.CreateDownload(ctx, requestID, videoID, "pending")
	if err != nil {
		lock.Unlock()
		p.releaseLock(dedupe)
		return Result{}, err
	}
	lock.Unlock()
	p.releaseLock(dedupe)

	return p.runHeavyWork(ctx, requestID, downloadID, videoID, rawURL)
}

// runHeavyWork executes stages 1-3 outside the dedupe lock, guaranteeing
// cleanup of any partial download on every exit path including
// cancellation.
func (p *Pipeline) runHeavyWork(ctx context.Context, requestID, downloadID int64, videoID, url string) (result Result, err error) {
	_ = p.Repo.UpdateDownloadStatus(ctx, downloadID, "downloading", "")

	var succeeded bool
	var meta VideoMetadata
	defer func() {
		if !succeeded {
			_ = p.Repo.UpdateDownloadStatus(ctx, downloadID, "error", errString(err))
			_ = p.Repo.UpdateRequestStatus(ctx, requestID, "error")
			if p.StorageDir != "" {
				_ = CleanupPartialDownloadFiles(p.StorageDir, videoID)
			}
		}
	}()

	transcriptText, transcriptLang, _, transcriptSource, terr := p.stageTranscriptAPI(ctx, videoID)
	if terr != nil && terr != ErrNoTranscript {
		return Result{}, terr
	}

	meta, derr := p.stageDownloadVideo(ctx, videoID, url)
	if derr != nil {
		return Result{}, derr
	}

	if transcriptText == "" {
		if vttText, vttLang, ok := p.stageVTTFallback(meta.SubtitlePath); ok {
			transcriptText = vttText
			if vttLang != "" {
				transcriptLang = vttLang
			}
			transcriptSource = "vtt"
		}
	}
	if transcriptText == "" {
		return Result{}, fmt.Errorf("youtube: no transcript or subtitles available for this video")
	}

	detectedLang := detectLanguage(transcriptText)
	if transcriptLang != "" {
		detectedLang = transcriptLang
	}
	combined := combineMetadataAndTranscript(meta, transcriptText)

	if err := p.Repo.CompleteDownload(ctx, downloadID, meta, transcriptText, transcriptSource, detectedLang); err != nil {
		return Result{}, err
	}
	if err := p.Repo.UpdateRequestStatus(ctx, requestID, "ok"); err != nil {
		return Result{}, err
	}
	_ = p.Repo.UpdateRequestLangDetected(ctx, requestID, detectedLang)

	succeeded = true
	return Result{
		RequestID:  requestID,
		Transcript: combined,
		Source:     transcriptSource,
		Language:   detectedLang,
		Metadata:   meta,
	}, nil
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

// stageTranscriptAPI implements stage 1: up to 3 attempts, 1s-base
// backoff, transcripts-disabled treated as "no transcript", video
// unavailable is fatal.
func (p *Pipeline) stageTranscriptAPI(ctx context.Context, videoID string) (text, lang string, autoGenerated bool, source string, err error) {
	if p.Transcript == nil {
		return "", "", false, "", ErrNoTranscript
	}

	var lastErr error
	for attempt := 0; attempt < 3; attempt++ {
		transcriptCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		text, lang, autoGenerated, lastErr = p.Transcript.FetchTranscript(transcriptCtx, videoID, p.Languages)
		cancel()

		if lastErr == nil {
			return truncateTranscript(text), lang, autoGenerated, "api", nil
		}
		if lastErr == ErrVideoUnavailable {
			return "", "", false, "", lastErr
		}
		if ctx.Err() != nil {
			return "", "", false, "", ctx.Err()
		}
		if attempt < 2 {
			t := time.NewTimer(time.Duration(1<<attempt) * time.Second)
			select {
			case <-ctx.Done():
				t.Stop()
				return "", "", false, "", ctx.Err()
			case <-t.C:
			}
		}
	}
	return "", "", false, "", ErrNoTranscript
}

func truncateTranscript(text string) string {
	collapsed := strings.Join(strings.Fields(text), " ")
	if len(collapsed) > maxTranscriptChars {
		return collapsed[:maxTranscriptChars]
	}
	return collapsed
}

// stageDownloadVideo implements stage 2: a 600s wait around the blocking
// downloader call.
func (p *Pipeline) stageDownloadVideo(ctx context.Context, videoID, url string) (VideoMetadata, error) {
	if p.Downloader == nil {
		return VideoMetadata{}, fmt.Errorf("youtube: no downloader configured")
	}
	downloadCtx, cancel := context.WithTimeout(ctx, 600*time.Second)
	defer cancel()

	opts := DownloadOptions{
		OutputDir:         p.StorageDir,
		MaxQuality:        p.MaxQuality,
		SubtitleLanguages: p.Languages,
	}
	return p.Downloader.DownloadVideo(downloadCtx, url, opts)
}

// stageVTTFallback implements stage 3.
func (p *Pipeline) stageVTTFallback(subtitlePath string) (text, lang string, ok bool) {
	if subtitlePath == "" {
		return "", "", false
	}
	text, lang, err := ParseVTTFile(subtitlePath)
	if err != nil || text == "" {
		return "", "", false
	}
	return text, lang, true
}

func combineMetadataAndTranscript(meta VideoMetadata, transcript string) string {
	header := formatMetadataHeader(meta)
	if header == "" {
		return transcript
	}
	return header + "\n\n" + transcript
}

func formatMetadataHeader(meta VideoMetadata) string {
	if meta.Title == "" {
		return ""
	}
	var sb strings.Builder
	sb.WriteString("Title: " + meta.Title + "\n")
	if meta.Channel != "" {
		sb.WriteString("Channel: " + meta.Channel + "\n")
	}
	if meta.DurationSec > 0 {
		sb.WriteString(fmt.Sprintf("Duration: %s\n", formatDuration(meta.DurationSec)))
	}
	if meta.UploadDate != "" {
		sb.WriteString("Uploaded: " + meta.UploadDate + "\n")
	}
	return strings.TrimRight(sb.String(), "\n")
}

func formatDuration(sec int) string {
	h := sec / 3600
	m := (sec % 3600) / 60
	s := sec % 60
	if h > 0 {
		return fmt.Sprintf("%dh%02dm%02ds", h, m, s)
	}
	return fmt.Sprintf("%dm%02ds", m, s)
}

// detectLanguage is a minimal best-effort heuristic: ASCII-dominant text
// is assumed English; anything else is reported unknown. Real language
// detection is left to an injected implementation further upstream if
// this proves insufficient.
func detectLanguage(text string) string {
	sample := text
	if len(sample) > 2000 {
		sample = sample[:2000]
	}
	nonASCII := 0
	for _, r := range sample {
		if r > 127 {
			nonASCII++
		}
	}
	if len(sample) > 0 && float64(nonASCII)/float64(len(sample)) > 0.3 {
		return "unknown"
	}
	return "en"
}
