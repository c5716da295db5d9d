// Package interfaces defines the core abstractions of the acquisition
// pipeline. The browser-control surface is deliberately narrow: script
// evaluation, string message passing, and read-only page/cookie snapshots.
// Nothing here assumes a particular browser backend.
package interfaces

import (
	"context"

	"github.com/alyabroudy1/omerFlex5-sub000/pkg/types"
)

// ScriptRunner evaluates a script inside the browser's sandbox. The script
// runs on the browser's own execution thread; results come back only through
// asynchronous bridge messages, never as a return value.
type ScriptRunner interface {
	EvaluateScript(ctx context.Context, script string) error
}

// MessageSource delivers sandbox-to-native bridge messages. Handlers run on
// the browser's callback goroutine and must not block; heavy work has to be
// handed off to a queue.
type MessageSource interface {
	// OnBridgeMessage registers a handler and returns a function that
	// removes it.
	OnBridgeMessage(fn func(types.BridgeMessage)) (remove func())
}

// CookieSource reads the browser session's cookies scoped to a URL. The
// domain of the resource matters: a video CDN may carry protection cookies
// distinct from the page that referenced it.
type CookieSource interface {
	// CookiesFor returns a Cookie header value for the given URL.
	CookiesFor(ctx context.Context, rawURL string) (string, error)
}

// BrowserControl is the full capability surface a pipeline needs from the
// embedded browser.
type BrowserControl interface {
	ScriptRunner
	MessageSource
	CookieSource

	// Navigate loads a page.
	Navigate(ctx context.Context, rawURL string) error

	// PageURL returns the URL of the page currently loaded.
	PageURL() string

	// SnapshotHTML returns the current document's outer HTML.
	SnapshotHTML(ctx context.Context) (string, error)

	// UserAgent returns the browser's user agent string.
	UserAgent(ctx context.Context) (string, error)

	// OnObservation registers a handler for resource loads observed by the
	// browser; returns a function that removes it. Handlers run on the
	// browser's callback goroutine and must be cheap.
	OnObservation(fn func(types.ResourceObservation)) (remove func())

	// Close tears down the browser.
	Close() error
}

// DataSource is the synchronous pull contract the media player framework
// consumes. Open returns the declared content length, or -1 if unknown.
// Read returns io.EOF at end of stream. Close must interrupt a blocked Read.
type DataSource interface {
	Open(ctx context.Context, rawURL string) (int64, error)
	Read(p []byte) (int, error)
	Close() error
}

// ManifestCache is the shared URL-to-manifest-text store written by the
// browser interception layer and read by the relay proxy. Implementations
// must be safe for concurrent use.
type ManifestCache interface {
	Get(rawURL string) (string, bool)
	Put(rawURL, body string)
}

// PlaybackSink receives the handoff bundle when a candidate is accepted.
// Implemented by the external media-player/UI collaborator.
type PlaybackSink interface {
	OnPlayback(req *types.PlaybackRequest)
}

// Logger defines the logging interface used throughout the application.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}
