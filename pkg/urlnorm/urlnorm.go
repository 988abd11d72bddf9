// Package urlnorm normalizes URLs for dedupe and computes the SHA-256
// dedupe hash used throughout the bookmark sync subsystem, including the
// legacy 16-character short-hash bridge.
package urlnorm

import (
	"crypto/sha256"
	"encoding/hex"
	"net/url"
	"regexp"
	"sort"
	"strings"
)

// LegacyHashLength is the prefix length historical sync rows may carry
// instead of the full 64-character SHA-256 hex digest.
const LegacyHashLength = 16

var trackingParams = map[string]struct{}{
	"utm_source":   {},
	"utm_medium":   {},
	"utm_campaign": {},
	"utm_term":     {},
	"utm_content":  {},
	"gclid":        {},
	"fbclid":       {},
}

// Normalize lowercases scheme/host, strips the fragment, removes known
// tracking query params, sorts the remaining ones, and collapses a
// trailing slash (except for the bare root path).
func Normalize(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme == "" {
		scheme = "http"
	}
	host := strings.ToLower(u.Host)
	path := u.Path
	if path == "" {
		path = "/"
	}
	if path != "/" && strings.HasSuffix(path, "/") {
		path = strings.TrimRight(path, "/")
	}

	query := u.Query()
	keys := make([]string, 0, len(query))
	for k := range query {
		if _, tracked := trackingParams[k]; tracked {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	values := url.Values{}
	for _, k := range keys {
		for _, v := range query[k] {
			values.Add(k, v)
		}
	}

	result := url.URL{Scheme: scheme, Host: host, Path: path}
	if encoded := values.Encode(); encoded != "" {
		result.RawQuery = encoded
	}
	return result.String()
}

// HashSHA256 returns the hex-encoded SHA-256 digest of a normalized URL.
func HashSHA256(normalizedURL string) string {
	sum := sha256.Sum256([]byte(normalizedURL))
	return hex.EncodeToString(sum[:])
}

// URLHash is a convenience wrapper computing the dedupe hash of a raw URL,
// falling back to the raw URL itself when normalization fails to produce a
// usable value.
func URLHash(raw string) string {
	normalized := Normalize(raw)
	if normalized == "" {
		normalized = raw
	}
	return HashSHA256(normalized)
}

// InHashSet implements the legacy hash bridge: a membership test that
// accepts either the full 64-char hash or its first 16 characters, since
// historical sync rows may only have stored the short form.
func InHashSet(hash string, set map[string]struct{}) bool {
	if _, ok := set[hash]; ok {
		return true
	}
	if len(hash) >= LegacyHashLength {
		if _, ok := set[hash[:LegacyHashLength]]; ok {
			return true
		}
	}
	return false
}

var urlLikePattern = regexp.MustCompile(`(?i)https?://[\w.-]+[\w./\-?=&%#]*`)

// LooksLikeURL reports whether text contains something that resembles a
// URL, used by ingestion triggers outside this core to decide whether to
// hand a message to the pipeline at all.
func LooksLikeURL(text string) bool {
	return urlLikePattern.MatchString(text)
}
