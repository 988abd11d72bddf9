package youtube

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os/exec"
	"path/filepath"
	"strings"

	"relaycore/pkg/utils"
)

// YTDLPDownloader shells out to the yt-dlp binary for both the metadata
// probe and the actual video+subtitle download, the same invocation
// shape as a plain command-line yt-dlp call: --newline progress output,
// embedded metadata, restricted filenames, and a JSON info dump used to
// populate VideoMetadata without a second network round trip.
type YTDLPDownloader struct {
	BinaryPath string // defaults to "yt-dlp" resolved via PATH
}

// NewYTDLPDownloader returns a downloader using the given binary path, or
// the PATH-resolved "yt-dlp" if path is empty.
func NewYTDLPDownloader(path string) *YTDLPDownloader {
	if path == "" {
		path = "yt-dlp"
	}
	return &YTDLPDownloader{BinaryPath: path}
}

var qualityHeights = map[string]string{
	"360p":  "360",
	"480p":  "480",
	"720p":  "720",
	"1080p": "1080",
	"1440p": "1440",
	"2160p": "2160",
}

func (d *YTDLPDownloader) buildArgs(url string, opts DownloadOptions, outTpl string) []string {
	format := "bestvideo*+bestaudio/best"
	if h, ok := qualityHeights[opts.MaxQuality]; ok {
		format = fmt.Sprintf("bestvideo[height<=%s]+bestaudio/best[height<=%s]", h, h)
	}

	args := []string{
		"--newline", "--no-color", "--no-playlist",
		"-f", format,
		"--embed-thumbnail", "--embed-metadata",
		"--windows-filenames", "--restrict-filenames",
		"--write-subs", "--write-auto-subs", "--sub-format", "vtt",
		"--print-json",
	}
	if len(opts.SubtitleLanguages) > 0 {
		args = append(args, "--sub-langs", strings.Join(opts.SubtitleLanguages, ","))
	}
	args = append(args, "-o", outTpl, url)
	return args
}

// DownloadVideo runs yt-dlp to completion, parsing its --print-json
// output line for the metadata this pipeline persists.
func (d *YTDLPDownloader) DownloadVideo(ctx context.Context, url string, opts DownloadOptions) (VideoMetadata, error) {
	outTpl := filepath.Join(opts.OutputDir, "%(id)s_%(title).40s.%(ext)s")
	args := d.buildArgs(url, opts, outTpl)

	cmd := exec.CommandContext(ctx, d.BinaryPath, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		tail := tailString(stderr.String(), 512)
		if tail != "" {
			return VideoMetadata{}, fmt.Errorf("yt-dlp: %w: %s", err, tail)
		}
		return VideoMetadata{}, fmt.Errorf("yt-dlp: %w", err)
	}

	meta := parseYTDLPJSON(stdout.String())
	if meta.SubtitlePath == "" {
		meta.SubtitlePath = guessSubtitlePath(opts.OutputDir, meta.VideoID, opts.SubtitleLanguages)
	}
	verifyDownloadedMedia(opts.OutputDir, meta.VideoID)
	return meta, nil
}

type ytdlpInfo struct {
	ID          string  `json:"id"`
	Title       string  `json:"title"`
	Channel     string  `json:"channel"`
	Duration    float64 `json:"duration"`
	UploadDate  string  `json:"upload_date"`
	ViewCount   int64   `json:"view_count"`
	Resolution  string  `json:"resolution"`
	Filesize    int64   `json:"filesize"`
	FilesizeApx int64   `json:"filesize_approx"`
	Filename    string  `json:"_filename"`
}

// parseYTDLPJSON reads the LAST JSON line emitted by --print-json (one
// line is printed per downloaded format; the final line reflects the
// merged output).
func parseYTDLPJSON(output string) VideoMetadata {
	lines := strings.Split(strings.TrimSpace(output), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		line := strings.TrimSpace(lines[i])
		if !strings.HasPrefix(line, "{") {
			continue
		}
		var info ytdlpInfo
		if err := json.Unmarshal([]byte(line), &info); err != nil {
			continue
		}
		size := info.Filesize
		if size == 0 {
			size = info.FilesizeApx
		}
		return VideoMetadata{
			VideoID:     info.ID,
			Title:       info.Title,
			Channel:     info.Channel,
			DurationSec: int(info.Duration),
			UploadDate:  info.UploadDate,
			ViewCount:   info.ViewCount,
			Resolution:  info.Resolution,
			FileSizeB:   size,
		}
	}
	return VideoMetadata{}
}

// guessSubtitlePath globs for a "<videoID>_*.<lang>.vtt" file, preferring
// languages in caller-supplied order, since yt-dlp's subtitle filenames
// inherit the -o output template's prefix rather than a fixed shape.
func guessSubtitlePath(dir, videoID string, langs []string) string {
	for _, lang := range langs {
		matches, _ := filepath.Glob(filepath.Join(dir, videoID+"_*."+lang+".vtt"))
		if len(matches) > 0 {
			return matches[0]
		}
	}
	matches, _ := filepath.Glob(filepath.Join(dir, videoID+"_*.vtt"))
	if len(matches) > 0 {
		return matches[0]
	}
	return ""
}

// verifyDownloadedMedia sniffs the downloaded file's magic bytes and logs
// a warning when yt-dlp reports a container extension the file's actual
// content doesn't match — a cheap guard against a truncated or
// HTML-error-page download silently passing as a completed video.
func verifyDownloadedMedia(outputDir, videoID string) {
	if videoID == "" {
		return
	}
	matches, _ := filepath.Glob(filepath.Join(outputDir, videoID+"_*.mp4"))
	if len(matches) == 0 {
		return
	}
	mimeType, _ := utils.DetectFileMimeAndExt(matches[0])
	if !strings.HasPrefix(mimeType, "video/") && mimeType != "application/octet-stream" {
		slog.Warn("youtube: downloaded file has unexpected content type", "video_id", videoID, "path", matches[0], "mime_type", mimeType)
	}
}

func tailString(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
