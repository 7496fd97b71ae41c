package source

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"examcal/internal/fsutil"
	appLog "examcal/internal/log"
	"examcal/internal/model"
)

// FetchResult is the body of a remote schedule and where it came from.
type FetchResult struct {
	Body      []byte
	FromCache bool // true if the cached copy was served (304 or fallback)
}

// cacheEntry holds HTTP cache metadata for a single URL.
type cacheEntry struct {
	URL          string    `json:"url"`
	ETag         string    `json:"etag,omitempty"`
	LastModified string    `json:"last_modified,omitempty"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Fetcher downloads schedule resources over HTTP with conditional requests
// (ETag / Last-Modified) and keeps the last good body on disk.
type Fetcher struct {
	client   *http.Client
	cacheDir string
}

// NewFetcher creates a Fetcher caching under cacheDir. An empty cacheDir
// falls back to "./var/source-cache".
func NewFetcher(cacheDir string) *Fetcher {
	if cacheDir == "" {
		cacheDir = "./var/source-cache"
	}
	return &Fetcher{
		client:   &http.Client{Timeout: 15 * time.Second},
		cacheDir: cacheDir,
	}
}

// Fetch downloads rawURL. When the server is unreachable or answers with a
// non-OK status, a previously cached body is served instead; the error is
// returned only if there is nothing cached.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (FetchResult, error) {
	if rawURL == "" {
		return FetchResult{}, errors.New("source URL is empty")
	}

	cachePath := f.cachePathForURL(rawURL)
	if err := os.MkdirAll(cachePath, 0o700); err != nil {
		return FetchResult{}, err
	}

	meta, _ := loadCacheMeta(cachePath)
	cachedBody, _ := os.ReadFile(filepath.Join(cachePath, "body.csv"))

	fallback := func(cause error) (FetchResult, error) {
		if len(cachedBody) > 0 {
			appLog.Error("source fetch failed, using cached body", cause, "url", redactURL(rawURL))
			return FetchResult{Body: cachedBody, FromCache: true}, nil
		}
		return FetchResult{}, cause
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return FetchResult{}, err
	}
	if meta.ETag != "" {
		req.Header.Set("If-None-Match", meta.ETag)
	}
	if meta.LastModified != "" {
		req.Header.Set("If-Modified-Since", meta.LastModified)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return fallback(err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return fallback(err)
		}
		newMeta := cacheEntry{
			URL:          rawURL,
			ETag:         resp.Header.Get("ETag"),
			LastModified: resp.Header.Get("Last-Modified"),
		}
		if err := saveCache(cachePath, newMeta, body); err != nil {
			// The fresh body is still good; only the cache is stale.
			appLog.Error("source cache save failed", err, "url", redactURL(rawURL))
		}
		appLog.Info("source fetched", "url", redactURL(rawURL), "bytes", len(body))
		return FetchResult{Body: body}, nil

	case http.StatusNotModified:
		if len(cachedBody) == 0 {
			return FetchResult{}, errors.New("received 304 Not Modified but no cached body available")
		}
		appLog.Debug("source not modified; using cache", "url", redactURL(rawURL))
		return FetchResult{Body: cachedBody, FromCache: true}, nil

	default:
		return fallback(fmt.Errorf("unexpected status %s", resp.Status))
	}
}

func (f *Fetcher) cachePathForURL(u string) string {
	sum := sha256.Sum256([]byte(u))
	return filepath.Join(f.cacheDir, hex.EncodeToString(sum[:8]))
}

func loadCacheMeta(cachePath string) (cacheEntry, error) {
	var meta cacheEntry
	data, err := os.ReadFile(filepath.Join(cachePath, "meta.json"))
	if err != nil {
		return meta, err
	}
	if err := json.Unmarshal(data, &meta); err != nil {
		return cacheEntry{}, err
	}
	return meta, nil
}

func saveCache(cachePath string, meta cacheEntry, body []byte) error {
	// Body first so meta never points at a missing body.
	if err := fsutil.WriteFileAtomic(filepath.Join(cachePath, "body.csv"), body, 0o600); err != nil {
		return err
	}

	meta.UpdatedAt = time.Now().UTC()
	data, err := json.MarshalIndent(&meta, "", "  ")
	if err != nil {
		return err
	}
	return fsutil.WriteFileAtomic(filepath.Join(cachePath, "meta.json"), data, 0o600)
}

// redactURL keeps scheme and host only; schedule URLs may carry tokens.
func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "source://...(redacted)"
	}
	return u.Scheme + "://" + u.Host + "/...(redacted)"
}

// IsRemote reports whether location should be fetched over HTTP.
func IsRemote(location string) bool {
	l := strings.ToLower(location)
	return strings.HasPrefix(l, "http://") || strings.HasPrefix(l, "https://")
}

// Open loads the schedule at location, which is either a local path or an
// http(s) URL fetched through f. f may be nil for local paths.
func Open(ctx context.Context, location string, f *Fetcher, opts Options) (Result, error) {
	if !IsRemote(location) {
		return Load(location, opts)
	}
	if f == nil {
		f = NewFetcher("")
	}
	res, err := f.Fetch(ctx, location)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %w", model.ErrSourceUnavailable, err)
	}
	return Parse(bytes.NewReader(res.Body), opts)
}
