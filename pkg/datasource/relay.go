// Package datasource implements the pull-based data sources consumed by the
// media player framework: the browser-mediated relay and its direct fetch
// fallback.
package datasource

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/alyabroudy1/omerFlex5-sub000/pkg/bridge"
	"github.com/alyabroudy1/omerFlex5-sub000/pkg/httpclient"
	"github.com/alyabroudy1/omerFlex5-sub000/pkg/interfaces"
	"github.com/alyabroudy1/omerFlex5-sub000/pkg/logging"
	"github.com/alyabroudy1/omerFlex5-sub000/pkg/metrics"
)

type relayState int

const (
	stateClosed relayState = iota
	stateOpening
	stateBrowser
	stateFallback
)

func (s relayState) String() string {
	switch s {
	case stateOpening:
		return "opening"
	case stateBrowser:
		return "streaming_via_browser"
	case stateFallback:
		return "streaming_via_fallback"
	default:
		return "closed"
	}
}

// RelayOptions carry the request identity the source presents upstream and
// the bounded wait applied to every chunk pull.
type RelayOptions struct {
	UserAgent string
	Referer   string
	ChunkWait time.Duration
}

// RelayDataSource streams a URL through the browser's script sandbox, and
// permanently switches to a DirectFetchDataSource when the sandbox stalls or
// errors. Mid-stream stalls trigger the same switch: the sandboxed fetch is
// often rate-limited or re-challenged halfway through, and the player should
// not have to retry manually.
type RelayDataSource struct {
	channel *bridge.Channel
	client  *httpclient.Client
	cookies interfaces.CookieSource
	opts    RelayOptions
	log     *logging.Logger

	mu        sync.Mutex
	state     relayState
	session   *bridge.Session
	fallback  *DirectFetchDataSource
	url       string
	cur       []byte
	delivered int64
	eof       bool
}

// NewRelayDataSource creates a closed relay source.
func NewRelayDataSource(channel *bridge.Channel, client *httpclient.Client, cookies interfaces.CookieSource, opts RelayOptions, log *logging.Logger) *RelayDataSource {
	if opts.ChunkWait <= 0 {
		opts.ChunkWait = 8 * time.Second
	}
	return &RelayDataSource{
		channel: channel,
		client:  client,
		cookies: cookies,
		opts:    opts,
		state:   stateClosed,
		log:     log.WithComponent("relay-source"),
	}
}

// Open requests a browser-side fetch and waits a bounded time for the first
// chunk. On timeout or a first-chunk error it opens the direct fallback
// instead; only a failure of the fallback itself is surfaced.
func (r *RelayDataSource) Open(ctx context.Context, rawURL string) (int64, error) {
	r.mu.Lock()
	if r.state != stateClosed {
		r.mu.Unlock()
		return 0, fmt.Errorf("relay source: open called in state %s", r.state)
	}
	r.state = stateOpening
	r.url = rawURL
	r.mu.Unlock()

	session, err := r.channel.RequestFetch(ctx, rawURL)
	if err != nil {
		r.log.Warn("browser fetch request failed, using direct fetch", "url", rawURL, "error", err)
		return r.enterFallback(ctx, "open", 0)
	}

	r.mu.Lock()
	r.session = session
	r.mu.Unlock()

	first, err := session.Next(ctx, r.opts.ChunkWait)
	switch {
	case err != nil:
		r.log.Warn("no first chunk within bound, using direct fetch", "url", rawURL, "error", err)
		return r.enterFallback(ctx, "open", 0)
	case first.Terminal && first.Err != "":
		r.log.Warn("browser fetch failed on first message, using direct fetch", "url", rawURL, "message", first.Err)
		return r.enterFallback(ctx, "open", 0)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state == stateClosed {
		return 0, ErrClosed
	}
	if first.Terminal {
		// Empty body completed before any data chunk.
		r.eof = true
	} else {
		r.cur = first.Data
		metrics.BridgeChunks.Inc()
	}
	r.state = stateBrowser
	// The sandbox fetch does not relay a declared length.
	return -1, nil
}

// Read copies up to len(p) bytes, blocking up to the chunk wait bound when
// the queue is empty. End of stream is io.EOF.
func (r *RelayDataSource) Read(p []byte) (int, error) {
	for {
		r.mu.Lock()
		state := r.state
		fallback := r.fallback
		session := r.session

		switch state {
		case stateClosed:
			r.mu.Unlock()
			return 0, ErrClosed
		case stateFallback:
			r.mu.Unlock()
			return fallback.Read(p)
		case stateBrowser:
			if len(r.cur) > 0 {
				n := copy(p, r.cur)
				r.cur = r.cur[n:]
				r.delivered += int64(n)
				r.mu.Unlock()
				return n, nil
			}
			if r.eof {
				r.mu.Unlock()
				return 0, io.EOF
			}
			r.mu.Unlock()
		default:
			r.mu.Unlock()
			return 0, fmt.Errorf("relay source: read called in state %s", state)
		}

		chunk, err := session.Next(context.Background(), r.opts.ChunkWait)
		if err != nil {
			if errors.Is(err, bridge.ErrWaitTimeout) {
				// Mid-stream stall: switch to the direct path at the
				// current offset instead of surfacing a timeout.
				r.mu.Lock()
				offset := r.delivered
				r.mu.Unlock()
				r.log.Warn("chunk stall mid-stream, switching to direct fetch", "url", r.url, "offset", offset)
				if _, ferr := r.enterFallback(context.Background(), "read", offset); ferr != nil {
					return 0, ferr
				}
				continue
			}
			return 0, err
		}

		if chunk.Terminal {
			if chunk.Err != "" {
				// Errors after streaming began abort the read; the bytes
				// already delivered cannot be rewound transparently.
				return 0, fmt.Errorf("relay source: browser fetch failed: %s", chunk.Err)
			}
			r.mu.Lock()
			r.eof = true
			r.mu.Unlock()
			continue
		}

		metrics.BridgeChunks.Inc()
		r.mu.Lock()
		r.cur = chunk.Data
		r.mu.Unlock()
	}
}

// enterFallback builds the direct source seeded with cookies for the target
// URL's own domain and abandons the browser session. Once entered, fallback
// is never reversed for this open.
func (r *RelayDataSource) enterFallback(ctx context.Context, phase string, offset int64) (int64, error) {
	metrics.FallbacksTriggered.WithLabelValues(phase).Inc()

	cookieHeader := ""
	if r.cookies != nil {
		var err error
		cookieHeader, err = r.cookies.CookiesFor(ctx, r.url)
		if err != nil {
			r.log.Warn("reading cookies for fallback failed", "url", r.url, "error", err)
		}
	}

	fallback := NewDirectFetchDataSource(r.client, cookieHeader, r.opts.UserAgent, r.opts.Referer, nil, r.log)
	length, err := fallback.OpenAt(ctx, r.url, offset)
	if err != nil {
		r.Close()
		return 0, fmt.Errorf("fallback fetch: %w", err)
	}

	r.mu.Lock()
	if r.state == stateClosed {
		r.mu.Unlock()
		fallback.Close()
		return 0, ErrClosed
	}
	session := r.session
	r.session = nil
	r.fallback = fallback
	r.state = stateFallback
	r.cur = nil
	r.mu.Unlock()

	// Fallback invariant: nothing reads the browser queue after this point.
	if session != nil {
		r.channel.Release(session)
	}

	return length, nil
}

// Close tears down the session and the fallback source. Idempotent;
// interrupts any blocked Read.
func (r *RelayDataSource) Close() error {
	r.mu.Lock()
	if r.state == stateClosed {
		r.mu.Unlock()
		return nil
	}
	r.state = stateClosed
	session := r.session
	fallback := r.fallback
	r.session = nil
	r.fallback = nil
	r.cur = nil
	r.mu.Unlock()

	if session != nil {
		r.channel.Release(session)
	}
	if fallback != nil {
		return fallback.Close()
	}
	return nil
}

var _ interfaces.DataSource = (*RelayDataSource)(nil)
var _ interfaces.DataSource = (*DirectFetchDataSource)(nil)
