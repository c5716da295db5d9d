// Package relayproxy exposes acquired media to external players over a
// loopback HTTP listener. The target URL travels in the request path:
// GET /<absolute-url>. Manifests already captured by the pipeline are served
// from the shared cache without touching the network; everything else is
// proxied upstream with the browser session's identity attached.
package relayproxy

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/singleflight"

	"github.com/alyabroudy1/omerFlex5-sub000/pkg/classify"
	"github.com/alyabroudy1/omerFlex5-sub000/pkg/config"
	"github.com/alyabroudy1/omerFlex5-sub000/pkg/httpclient"
	"github.com/alyabroudy1/omerFlex5-sub000/pkg/interfaces"
	"github.com/alyabroudy1/omerFlex5-sub000/pkg/logging"
	"github.com/alyabroudy1/omerFlex5-sub000/pkg/manifestcache"
	"github.com/alyabroudy1/omerFlex5-sub000/pkg/metrics"
	"github.com/alyabroudy1/omerFlex5-sub000/pkg/middleware"
	"github.com/alyabroudy1/omerFlex5-sub000/pkg/rules"
	"github.com/alyabroudy1/omerFlex5-sub000/pkg/urlutil"
)

// Identity is the request identity attached to every upstream fetch: cookies
// scoped to the media domain, the browser's user agent, and the page referer.
type Identity struct {
	Cookies   string
	UserAgent string
	Referer   string
}

// manifestResult is one upstream manifest fetch, shared across collapsed
// concurrent requests for the same URL.
type manifestResult struct {
	status      int
	contentType string
	body        []byte
}

// Proxy is the loopback relay listener.
type Proxy struct {
	cfg    *config.Config
	log    *logging.Logger
	cache  interfaces.ManifestCache
	client *httpclient.Client
	rules  *rules.Registry

	pool  *ants.Pool
	group singleflight.Group

	mu       sync.Mutex
	identity Identity

	httpServer *http.Server
	listener   net.Listener
}

// New creates a proxy. Start must be called before Addr is meaningful.
func New(cfg *config.Config, cache interfaces.ManifestCache, client *httpclient.Client, reg *rules.Registry, log *logging.Logger) (*Proxy, error) {
	workers := cfg.ProxyWorkers
	if workers <= 0 {
		workers = 8
	}
	pool, err := ants.NewPool(workers, ants.WithNonblocking(false))
	if err != nil {
		return nil, fmt.Errorf("creating proxy worker pool: %w", err)
	}

	return &Proxy{
		cfg:    cfg,
		log:    log.WithComponent("relay-proxy"),
		cache:  cache,
		client: client,
		rules:  reg,
		pool:   pool,
	}, nil
}

// SetIdentity swaps the identity attached to upstream requests. Called when a
// new playback handoff is accepted.
func (p *Proxy) SetIdentity(id Identity) {
	p.mu.Lock()
	p.identity = id
	p.mu.Unlock()
}

// Addr returns the bound listen address, e.g. "127.0.0.1:38211".
func (p *Proxy) Addr() string {
	if p.listener == nil {
		return ""
	}
	return p.listener.Addr().String()
}

// Start binds the loopback listener and serves until Shutdown. Port 0 picks
// an ephemeral port; read it back through Addr.
func (p *Proxy) Start() error {
	listener, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", p.cfg.ProxyPort))
	if err != nil {
		return fmt.Errorf("binding relay proxy: %w", err)
	}
	p.listener = listener

	mux := http.NewServeMux()
	if p.cfg.MetricsEnabled {
		mux.Handle("/metrics", promhttp.Handler())
	}
	mux.HandleFunc("/", p.handleRelay)

	handler := middleware.Chain(
		mux,
		middleware.Recovery(p.log),
		middleware.Logging(p.log),
		middleware.RequestID,
	)

	p.httpServer = &http.Server{
		Handler:     handler,
		ReadTimeout: 30 * time.Second,
		// No write timeout: media streams stay open as long as the player
		// keeps reading.
		IdleTimeout: 120 * time.Second,
	}

	p.log.Info("relay proxy listening", "addr", p.Addr())
	go func() {
		if err := p.httpServer.Serve(listener); err != nil && err != http.ErrServerClosed {
			p.log.Error("relay proxy serve failed", "error", err)
		}
	}()
	return nil
}

// Shutdown stops the listener and releases the worker pool.
func (p *Proxy) Shutdown(ctx context.Context) error {
	defer p.pool.Release()
	if p.httpServer == nil {
		return nil
	}
	return p.httpServer.Shutdown(ctx)
}

func (p *Proxy) handleRelay(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	target, err := urlutil.ParseRelayTarget(r.RequestURI)
	if err != nil {
		http.Error(w, "bad relay target: "+err.Error(), http.StatusBadRequest)
		return
	}

	if body, ok := p.cache.Get(target); ok {
		metrics.ManifestCacheHits.Inc()
		p.serveCachedManifest(w, r, target, body)
		return
	}
	metrics.ManifestCacheMisses.Inc()

	set := p.rules.ForURL(target)
	if classify.IsManifestURL(target, set) {
		p.serveManifest(w, r, target)
		return
	}
	p.serveStream(w, r, target)
}

// serveCachedManifest answers a cache hit without any upstream connection.
// The cache holds the upstream body verbatim; entries are rewritten on the
// way out so every URI they name routes back through this listener.
func (p *Proxy) serveCachedManifest(w http.ResponseWriter, r *http.Request, target, body string) {
	rewritten := rewriteManifest(body, target, p.relayBase())
	w.Header().Set("Content-Type", manifestcache.ContentType(body))
	w.Header().Set("Content-Length", strconv.Itoa(len(rewritten)))
	w.WriteHeader(http.StatusOK)
	if r.Method == http.MethodHead {
		return
	}
	io.WriteString(w, rewritten)
}

// relayBase is the prefix rewritten manifest URIs are addressed through.
func (p *Proxy) relayBase() string {
	return "http://" + p.Addr()
}

// serveManifest fetches a manifest upstream, collapsing concurrent identical
// fetches, and caches valid bodies for later hits.
func (p *Proxy) serveManifest(w http.ResponseWriter, r *http.Request, target string) {
	v, err, _ := p.group.Do(target, func() (interface{}, error) {
		return p.fetchManifest(r.Context(), target, r.Header)
	})
	if err != nil {
		p.log.Warn("manifest fetch failed", "url", target, "error", err)
		http.Error(w, "upstream fetch failed", http.StatusBadGateway)
		return
	}
	res := v.(*manifestResult)

	body := res.body
	if res.status >= 200 && res.status < 300 {
		body = []byte(rewriteManifest(string(res.body), target, p.relayBase()))
	}

	if res.contentType != "" {
		w.Header().Set("Content-Type", res.contentType)
	}
	w.Header().Set("Content-Length", strconv.Itoa(len(body)))
	w.WriteHeader(res.status)
	if r.Method == http.MethodHead {
		return
	}
	w.Write(body)
}

// fetchManifest runs one bounded upstream fetch and returns the decoded body.
// Non-2xx results are returned as values so they forward verbatim.
func (p *Proxy) fetchManifest(ctx context.Context, target string, clientHeaders http.Header) (*manifestResult, error) {
	var (
		res  *manifestResult
		ferr error
		done = make(chan struct{})
	)
	if err := p.pool.Submit(func() {
		defer close(done)

		resp, err := p.fetchUpstream(ctx, target, clientHeaders)
		if err != nil {
			ferr = err
			return
		}
		defer resp.Body.Close()

		body, err := httpclient.DecodeBody(resp.Body, resp.Header.Get("Content-Encoding"))
		if err != nil {
			ferr = fmt.Errorf("decoding manifest body: %w", err)
			return
		}

		contentType := resp.Header.Get("Content-Type")
		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			if kind := manifestcache.Classify(string(body)); kind != manifestcache.KindNone {
				p.cache.Put(target, string(body))
				contentType = manifestcache.ContentType(string(body))
			}
		}
		res = &manifestResult{status: resp.StatusCode, contentType: contentType, body: body}
	}); err != nil {
		return nil, fmt.Errorf("submitting manifest fetch: %w", err)
	}
	<-done
	return res, ferr
}

// serveStream proxies a media resource, forwarding status and entity headers
// verbatim and copying the body in fixed-size blocks. The whole exchange
// runs on a pool worker: the worker is held until the upstream connection is
// drained or the player goes away, so the pool size caps simultaneous
// upstream connections, not just header exchanges.
func (p *Proxy) serveStream(w http.ResponseWriter, r *http.Request, target string) {
	done := make(chan struct{})
	if err := p.pool.Submit(func() {
		defer close(done)
		p.streamUpstream(w, r, target)
	}); err != nil {
		http.Error(w, "proxy busy", http.StatusServiceUnavailable)
		return
	}
	<-done
}

func (p *Proxy) streamUpstream(w http.ResponseWriter, r *http.Request, target string) {
	resp, err := p.fetchUpstream(r.Context(), target, r.Header)
	if err != nil {
		p.log.Warn("upstream fetch failed", "url", target, "error", err)
		http.Error(w, "upstream fetch failed", http.StatusBadGateway)
		return
	}
	defer resp.Body.Close()

	for _, h := range []string{"Content-Type", "Content-Length", "Content-Range", "Accept-Ranges", "Content-Encoding"} {
		if v := resp.Header.Get(h); v != "" {
			w.Header().Set(h, v)
		}
	}
	w.WriteHeader(resp.StatusCode)
	if r.Method == http.MethodHead {
		return
	}

	blockSize := p.cfg.ProxyBlockSize
	if blockSize <= 0 {
		blockSize = 64 * 1024
	}
	buf := make([]byte, blockSize)
	flusher, _ := w.(http.Flusher)
	for {
		n, err := resp.Body.Read(buf)
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				// Player went away; nothing to answer.
				return
			}
			metrics.ProxiedBytes.Add(float64(n))
			if flusher != nil {
				flusher.Flush()
			}
		}
		if err == io.EOF {
			return
		}
		if err != nil {
			p.log.Warn("upstream stream interrupted", "url", target, "error", err)
			return
		}
	}
}

// fetchUpstream builds the upstream request: the player's headers minus the
// hop-by-hop and browser-fingerprint ones, plus the captured identity.
func (p *Proxy) fetchUpstream(ctx context.Context, target string, clientHeaders http.Header) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("building upstream request: %w", err)
	}

	for key, values := range clientHeaders {
		if dropHeader(key) {
			continue
		}
		for _, v := range values {
			req.Header.Add(key, v)
		}
	}

	p.mu.Lock()
	id := p.identity
	p.mu.Unlock()

	if id.Cookies != "" {
		req.Header.Set("Cookie", id.Cookies)
	}
	if id.UserAgent != "" {
		req.Header.Set("User-Agent", id.UserAgent)
	}
	if id.Referer != "" {
		req.Header.Set("Referer", id.Referer)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("upstream fetch: %w", err)
	}
	return resp, nil
}

// dropHeader reports whether a player request header must not reach the
// upstream: Host and Origin reveal the loopback listener, Sec-CH-* client
// hints reveal the player instead of the browser, and hop-by-hop headers are
// connection-local.
func dropHeader(key string) bool {
	switch http.CanonicalHeaderKey(key) {
	case "Host", "Origin", "Connection", "Keep-Alive", "Proxy-Authorization",
		"Proxy-Connection", "Te", "Trailer", "Transfer-Encoding", "Upgrade",
		"X-Request-Id":
		return true
	}
	return strings.HasPrefix(strings.ToLower(key), "sec-ch-")
}
