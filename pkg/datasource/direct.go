package datasource

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"

	"github.com/alyabroudy1/omerFlex5-sub000/pkg/httpclient"
	"github.com/alyabroudy1/omerFlex5-sub000/pkg/logging"
)

// ErrClosed is returned by Read after Close, or by Open on a source that is
// already open.
var ErrClosed = errors.New("datasource: closed")

// DirectFetchDataSource performs a conventional HTTP GET, carrying cookies
// copied from the browser session so protected CDNs still recognize the
// caller. It is the fallback when the browser-mediated path stalls.
type DirectFetchDataSource struct {
	client       *httpclient.Client
	cookieHeader string
	userAgent    string
	referer      string
	headers      map[string]string
	log          *logging.Logger

	mu     sync.Mutex
	body   io.ReadCloser
	cancel context.CancelFunc
	closed bool
}

// NewDirectFetchDataSource creates a direct source. cookieHeader must hold
// cookies scoped to the target URL's own domain, not the page's.
func NewDirectFetchDataSource(client *httpclient.Client, cookieHeader, userAgent, referer string, headers map[string]string, log *logging.Logger) *DirectFetchDataSource {
	return &DirectFetchDataSource{
		client:       client,
		cookieHeader: cookieHeader,
		userAgent:    userAgent,
		referer:      referer,
		headers:      headers,
		log:          log.WithComponent("direct-fetch"),
	}
}

// Open issues the GET and returns the declared content length, or -1 when
// the server does not declare one.
func (d *DirectFetchDataSource) Open(ctx context.Context, rawURL string) (int64, error) {
	return d.OpenAt(ctx, rawURL, 0)
}

// OpenAt opens the stream at a byte offset using a Range request, so a
// fallback entered mid-stream resumes where the browser path stalled.
func (d *DirectFetchDataSource) OpenAt(ctx context.Context, rawURL string, offset int64) (int64, error) {
	d.mu.Lock()
	if d.closed || d.body != nil {
		d.mu.Unlock()
		return 0, ErrClosed
	}
	d.mu.Unlock()

	// The request outlives Open's context: the body is consumed by later
	// Read calls and released by Close.
	reqCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, rawURL, nil)
	if err != nil {
		cancel()
		return 0, fmt.Errorf("building direct fetch request: %w", err)
	}

	for key, value := range d.headers {
		req.Header.Set(key, value)
	}
	if d.cookieHeader != "" {
		req.Header.Set("Cookie", d.cookieHeader)
	}
	if d.userAgent != "" {
		req.Header.Set("User-Agent", d.userAgent)
	}
	if d.referer != "" {
		req.Header.Set("Referer", d.referer)
	}
	if offset > 0 {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-", offset))
	}

	resp, err := d.client.Do(req)
	if err != nil {
		cancel()
		return 0, fmt.Errorf("direct fetch: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		resp.Body.Close()
		cancel()
		return 0, fmt.Errorf("direct fetch: upstream status %d", resp.StatusCode)
	}

	body := resp.Body
	length := resp.ContentLength

	// Server ignored the Range header: drop the prefix ourselves.
	if offset > 0 && resp.StatusCode == http.StatusOK {
		if _, err := io.CopyN(io.Discard, body, offset); err != nil {
			body.Close()
			cancel()
			return 0, fmt.Errorf("direct fetch: skipping %d bytes: %w", offset, err)
		}
		if length > 0 {
			length -= offset
		}
	}

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		body.Close()
		cancel()
		return 0, ErrClosed
	}
	d.body = body
	d.cancel = cancel
	d.mu.Unlock()

	d.log.Debug("direct fetch opened", "url", rawURL, "offset", offset, "status", resp.StatusCode, "length", length)
	return length, nil
}

// Read pulls from the response body.
func (d *DirectFetchDataSource) Read(p []byte) (int, error) {
	d.mu.Lock()
	body := d.body
	closed := d.closed
	d.mu.Unlock()

	if closed || body == nil {
		return 0, ErrClosed
	}
	return body.Read(p)
}

// Close cancels the request and releases the body. Idempotent; interrupts a
// blocked Read.
func (d *DirectFetchDataSource) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	body := d.body
	cancel := d.cancel
	d.body = nil
	d.cancel = nil
	d.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if body != nil {
		return body.Close()
	}
	return nil
}
