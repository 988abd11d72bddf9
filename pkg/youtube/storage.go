package youtube

import (
	"os"
	"path/filepath"
	"strings"
	"time"
)

// DirectoryUsage walks dir and sums file sizes; suitable as a
// StorageBudget.UsageFn closure via DirectoryUsage(dir).
func DirectoryUsage(dir string) func() (int64, error) {
	return func() (int64, error) {
		var total int64
		err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
			if err != nil {
				if os.IsNotExist(err) {
					return nil
				}
				return err
			}
			if !info.IsDir() {
				total += info.Size()
			}
			return nil
		})
		return total, err
	}
}

// AutoCleanup removes the oldest completed download artifacts under dir
// until usage drops back under targetBytes or retentionDays worth of
// recent files is reached, whichever comes first — mirroring the
// original's age-based eviction rather than a strict LRU.
func AutoCleanup(dir string, targetBytes int64, retentionDays int, now time.Time) (reclaimed int64, err error) {
	type fileAge struct {
		path    string
		size    int64
		modTime time.Time
	}
	var files []fileAge
	var total int64

	err = filepath.Walk(dir, func(path string, info os.FileInfo, werr error) error {
		if werr != nil {
			if os.IsNotExist(werr) {
				return nil
			}
			return werr
		}
		if info.IsDir() {
			return nil
		}
		files = append(files, fileAge{path: path, size: info.Size(), modTime: info.ModTime()})
		total += info.Size()
		return nil
	})
	if err != nil {
		return 0, err
	}

	cutoff := now.AddDate(0, 0, -retentionDays)
	// oldest first
	for i := 0; i < len(files); i++ {
		for j := i + 1; j < len(files); j++ {
			if files[j].modTime.Before(files[i].modTime) {
				files[i], files[j] = files[j], files[i]
			}
		}
	}

	for _, f := range files {
		if total <= targetBytes {
			break
		}
		if f.modTime.After(cutoff) {
			continue
		}
		if rmErr := os.Remove(f.path); rmErr == nil {
			total -= f.size
			reclaimed += f.size
		}
	}
	return reclaimed, nil
}

// partialSuffixes are the only extensions CleanupPartialDownloadFiles
// removes — narrow on purpose, so an unrelated file that happens to share
// a video id prefix (e.g. a completed .vtt from a prior successful run)
// is never touched.
var partialSuffixes = []string{".mp4.part", ".m4a", ".mp4"}

// CleanupPartialDownloadFiles removes every file under dir whose name
// begins with "<videoID>_" and ends in one of partialSuffixes, then
// removes dir itself if it is left empty. This is the cleanup the
// pipeline's heavy-work finally block runs on every non-success exit,
// including cooperative cancellation, so a cancelled multi-gigabyte
// download never leaves stray files behind.
func CleanupPartialDownloadFiles(dir, videoID string) error {
	if videoID == "" {
		return nil
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	prefix := videoID + "_"
	var firstErr error
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if !strings.HasPrefix(name, prefix) {
			continue
		}
		matches := false
		for _, suf := range partialSuffixes {
			if strings.HasSuffix(name, suf) {
				matches = true
				break
			}
		}
		if !matches {
			continue
		}
		if rmErr := os.Remove(filepath.Join(dir, name)); rmErr != nil && firstErr == nil {
			firstErr = rmErr
		}
	}
	if remaining, err := os.ReadDir(dir); err == nil && len(remaining) == 0 {
		_ = os.Remove(dir)
	}
	return firstErr
}

// CheckAndEnforce is a convenience constructor wiring DirectoryUsage and
// AutoCleanup into a ready StorageBudget for a given cache directory.
func CheckAndEnforce(dir string, maxBytes int64, retentionDays int, now func() time.Time) *StorageBudget {
	return &StorageBudget{
		MaxBytes:         maxBytes,
		CleanupThreshold: 0.9,
		UsageFn:          DirectoryUsage(dir),
		CleanupFn: func(target int64) (int64, error) {
			return AutoCleanup(dir, target, retentionDays, now())
		},
	}
}
