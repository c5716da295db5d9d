// Package manifestcache holds decoded manifest text keyed by resource URL.
// Entries live for the process lifetime: manifests are small and
// per-session, so nothing is invalidated automatically. The store is written
// from the browser's interception callback goroutine and read from the relay
// proxy's workers concurrently.
package manifestcache

import (
	"strings"

	"github.com/grafov/m3u8"
	gocache "github.com/patrickmn/go-cache"

	"github.com/alyabroudy1/omerFlex5-sub000/pkg/interfaces"
)

// Kind classifies a manifest body.
type Kind int

const (
	KindNone Kind = iota
	KindMaster
	KindMedia
	KindDASH
)

// Cache is a concurrency-safe URL-to-manifest-text map.
type Cache struct {
	store *gocache.Cache
}

// New creates an empty cache.
func New() *Cache {
	// No expiration and no janitor: entries live as long as the process.
	return &Cache{store: gocache.New(gocache.NoExpiration, 0)}
}

// Get returns the cached manifest body for a URL.
func (c *Cache) Get(rawURL string) (string, bool) {
	v, ok := c.store.Get(rawURL)
	if !ok {
		return "", false
	}
	body, ok := v.(string)
	return body, ok
}

// Put stores a manifest body for a URL, replacing any previous entry.
func (c *Cache) Put(rawURL, body string) {
	c.store.Set(rawURL, body, gocache.NoExpiration)
}

// Len returns the number of cached manifests.
func (c *Cache) Len() int {
	return c.store.ItemCount()
}

// Classify parses a body and reports what kind of manifest it is. Bodies
// that parse as neither HLS nor DASH return KindNone and should not be
// cached.
func Classify(body string) Kind {
	trimmed := strings.TrimSpace(body)
	if trimmed == "" {
		return KindNone
	}

	if strings.HasPrefix(trimmed, "<") {
		if strings.Contains(trimmed, "<MPD") {
			return KindDASH
		}
		return KindNone
	}

	if !strings.HasPrefix(trimmed, "#EXTM3U") {
		return KindNone
	}

	_, listType, err := m3u8.DecodeFrom(strings.NewReader(trimmed), true)
	if err != nil {
		return KindNone
	}
	switch listType {
	case m3u8.MASTER:
		return KindMaster
	case m3u8.MEDIA:
		return KindMedia
	default:
		return KindNone
	}
}

// ContentType returns the Content-Type to serve a cached manifest with.
func ContentType(body string) string {
	if Classify(body) == KindDASH {
		return "application/dash+xml"
	}
	return "application/vnd.apple.mpegurl"
}

var _ interfaces.ManifestCache = (*Cache)(nil)
