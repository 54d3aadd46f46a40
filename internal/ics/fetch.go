package ics

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"resty.dev/v3"

	appLog "freecal/internal/log"
)

// ErrSourceNotFound is returned when a file source does not exist.
var ErrSourceNotFound = errors.New("source not found")

// Source is one calendar to import: a local file (Path) or a
// subscription (URL). Path wins when both are set.
type Source struct {
	ID   string
	Name string
	Path string
	URL  string
}

// FetchResult contains the outcome of fetching a single ICS source.
type FetchResult struct {
	Source    Source
	Body      []byte
	FromCache bool // true if the body came from the disk cache
}

// cacheEntry holds HTTP cache metadata for a single ICS URL.
type cacheEntry struct {
	URL          string    `json:"url"`
	ETag         string    `json:"etag,omitempty"`
	LastModified string    `json:"last_modified,omitempty"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Fetcher loads calendar sources. URLs are fetched with conditional
// requests (ETag / Last-Modified) and cached on disk, so an unreachable
// feed falls back to its last good copy.
type Fetcher struct {
	client   *resty.Client
	cacheDir string
}

// NewFetcher creates a Fetcher caching under cacheDir.
func NewFetcher(cacheDir string) *Fetcher {
	if cacheDir == "" {
		cacheDir = "./var/ics-cache"
	}
	client := resty.New().
		SetTimeout(15*time.Second).
		SetRetryCount(2).
		SetRetryWaitTime(500*time.Millisecond).
		SetRetryMaxWaitTime(2*time.Second).
		AddRetryConditions(func(r *resty.Response, err error) bool {
			return err != nil || r.StatusCode() >= 500
		}).
		SetHeader("User-Agent", "freecal")
	return &Fetcher{client: client, cacheDir: cacheDir}
}

// Load returns the raw body of src.
func (f *Fetcher) Load(ctx context.Context, src Source) ([]byte, error) {
	if src.Path != "" {
		body, err := os.ReadFile(src.Path)
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrSourceNotFound, src.Path)
		}
		return body, err
	}
	res, err := f.FetchOne(ctx, src)
	if err != nil {
		return nil, err
	}
	return res.Body, nil
}

// FetchOne fetches a single ICS URL, honoring ETag and Last-Modified.
func (f *Fetcher) FetchOne(ctx context.Context, src Source) (FetchResult, error) {
	if src.URL == "" {
		return FetchResult{}, errors.New("source URL is empty")
	}

	cache := f.cacheFor(src.URL)
	if err := os.MkdirAll(cache.dir, 0o700); err != nil {
		return FetchResult{}, err
	}

	meta, cachedBody := cache.read()
	cached := FetchResult{Source: src, Body: cachedBody, FromCache: true}

	req := f.client.R().SetContext(ctx)
	if meta.ETag != "" {
		req.SetHeader("If-None-Match", meta.ETag)
	}
	if meta.LastModified != "" {
		req.SetHeader("If-Modified-Since", meta.LastModified)
	}

	appLog.Info("ics fetch start", "id", src.ID, "url", redactURL(src.URL))

	resp, err := req.Get(src.URL)
	if err != nil {
		if len(cachedBody) > 0 {
			appLog.Error("ics fetch network error, using cached body", err, "id", src.ID, "url", redactURL(src.URL))
			return cached, nil
		}
		return FetchResult{}, err
	}

	switch resp.StatusCode() {
	case http.StatusOK:
		body := resp.Bytes()
		newMeta := cacheEntry{
			URL:          src.URL,
			ETag:         resp.Header().Get("ETag"),
			LastModified: resp.Header().Get("Last-Modified"),
		}
		if err := cache.write(newMeta, body); err != nil {
			appLog.Error("ics cache save failed", err, "id", src.ID, "url", redactURL(src.URL))
		}
		appLog.Info("ics fetch success", "id", src.ID, "url", redactURL(src.URL), "status", resp.StatusCode(), "from_cache", false)
		return FetchResult{Source: src, Body: body}, nil

	case http.StatusNotModified:
		if len(cachedBody) == 0 {
			return FetchResult{}, errors.New("received 304 Not Modified but no cached body available")
		}
		appLog.Info("ics fetch not modified; using cache", "id", src.ID, "url", redactURL(src.URL))
		return cached, nil

	default:
		if len(cachedBody) > 0 {
			appLog.Error("ics fetch non-OK, using cached body", errors.New(resp.Status()), "id", src.ID, "url", redactURL(src.URL), "status", resp.StatusCode())
			return cached, nil
		}
		return FetchResult{}, fmt.Errorf("fetch %s: %s", redactURL(src.URL), resp.Status())
	}
}

// diskCache is the on-disk copy of one subscription: body.ics and its
// validators in meta.json.
type diskCache struct {
	dir string
}

// cacheFor names the cache directory of a URL by a short hash, so tokens in
// the URL never appear on disk.
func (f *Fetcher) cacheFor(u string) diskCache {
	sum := sha256.Sum256([]byte(u))
	return diskCache{dir: filepath.Join(f.cacheDir, hex.EncodeToString(sum[:8]))}
}

// read returns the stored validators and body. A missing or unreadable
// entry yields zero values; the next fetch is then unconditional.
func (c diskCache) read() (cacheEntry, []byte) {
	body, err := os.ReadFile(filepath.Join(c.dir, "body.ics"))
	if err != nil {
		return cacheEntry{}, nil
	}
	var meta cacheEntry
	if data, err := os.ReadFile(filepath.Join(c.dir, "meta.json")); err == nil {
		if json.Unmarshal(data, &meta) != nil {
			meta = cacheEntry{}
		}
	}
	return meta, body
}

// write stores body before meta, so validators never outlive their body.
func (c diskCache) write(meta cacheEntry, body []byte) error {
	if err := os.WriteFile(filepath.Join(c.dir, "body.ics"), body, 0o600); err != nil {
		return err
	}
	meta.UpdatedAt = time.Now().UTC()
	data, err := json.MarshalIndent(&meta, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(c.dir, "meta.json"), data, 0o600)
}

// redactURL keeps only scheme and host of a subscription URL; private feed
// URLs usually carry a token in the path or query.
func redactURL(u string) string {
	parsed, err := url.Parse(u)
	if err != nil || parsed.Host == "" {
		return "ics://...(redacted)"
	}
	return parsed.Scheme + "://" + parsed.Host + "/...(redacted)"
}
