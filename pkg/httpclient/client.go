// Package httpclient provides the HTTP client used by the fallback data
// source and the relay proxy's upstream connections. For hosts behind TLS
// fingerprint checks it speaks with a browser-like ClientHello so the direct
// path presents the same surface the embedded browser did.
package httpclient

import (
	"bufio"
	"context"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	utls "github.com/refraction-networking/utls"
	"golang.org/x/net/http2"
	"golang.org/x/net/proxy"
	"golang.org/x/time/rate"

	"github.com/alyabroudy1/omerFlex5-sub000/pkg/config"
	"github.com/alyabroudy1/omerFlex5-sub000/pkg/logging"
)

// Client wraps http.Client with browser-like TLS, optional proxy routing,
// and per-host rate limiting.
type Client struct {
	defaultClient *http.Client
	utlsClient    *http.Client
	proxyClients  map[string]*http.Client
	utlsDomains   []string
	globalProxies []string

	hostLimit float64
	limiters  map[string]*rate.Limiter

	mu  sync.Mutex
	log *logging.Logger
}

// dialer is shared by all transports. IPv4 only: broken IPv6 connectivity
// shows up as long stalls, and the browser side dials IPv4 anyway.
func dialContext(ctx context.Context, network, addr string) (net.Conn, error) {
	if network == "tcp" {
		network = "tcp4"
	}
	d := &net.Dialer{
		Timeout:   30 * time.Second,
		KeepAlive: 60 * time.Second,
	}
	return d.DialContext(ctx, network, addr)
}

// New creates a new HTTP client with the given configuration.
func New(cfg *config.Config, log *logging.Logger) *Client {
	c := &Client{
		proxyClients:  make(map[string]*http.Client),
		utlsDomains:   cfg.UTLSDomains,
		globalProxies: cfg.GlobalProxies,
		hostLimit:     cfg.HostRateLimit,
		limiters:      make(map[string]*rate.Limiter),
		log:           log.WithComponent("httpclient"),
	}

	c.defaultClient = &http.Client{
		Transport: &http.Transport{
			DialContext:           dialContext,
			MaxIdleConns:          100,
			MaxIdleConnsPerHost:   10,
			IdleConnTimeout:       90 * time.Second,
			TLSHandshakeTimeout:   10 * time.Second,
			ExpectContinueTimeout: 1 * time.Second,
			ResponseHeaderTimeout: cfg.UpstreamTimeout,
		},
		Timeout: 0, // media bodies stream for a long time; rely on context
	}

	c.utlsClient = &http.Client{
		Transport: newUTLSRoundTripper(),
	}

	return c
}

// Do executes a request, waiting on the per-host rate limiter first and
// routing through the utls or proxy client as configured.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	if err := c.waitHost(req.Context(), req.URL.Hostname()); err != nil {
		return nil, err
	}
	return c.clientFor(req.URL.String()).Do(req)
}

// waitHost blocks on the host's rate limiter, if limiting is enabled.
func (c *Client) waitHost(ctx context.Context, host string) error {
	if c.hostLimit <= 0 || host == "" {
		return nil
	}

	c.mu.Lock()
	lim, ok := c.limiters[host]
	if !ok {
		lim = rate.NewLimiter(rate.Limit(c.hostLimit), 1)
		c.limiters[host] = lim
	}
	c.mu.Unlock()

	return lim.Wait(ctx)
}

// clientFor picks the client for a URL: utls for fingerprint-sensitive
// domains, a proxy client when a global proxy is configured, else default.
func (c *Client) clientFor(targetURL string) *http.Client {
	lower := strings.ToLower(targetURL)
	for _, domain := range c.utlsDomains {
		if strings.Contains(lower, strings.ToLower(domain)) {
			c.log.Debug("using utls client", "url", targetURL, "domain", domain)
			return c.utlsClient
		}
	}

	if len(c.globalProxies) > 0 {
		return c.proxyClient(c.globalProxies[0])
	}

	return c.defaultClient
}

// proxyClient returns a cached client for the given proxy URL.
func (c *Client) proxyClient(proxyURL string) *http.Client {
	c.mu.Lock()
	defer c.mu.Unlock()

	if client, ok := c.proxyClients[proxyURL]; ok {
		return client
	}

	transport := &http.Transport{
		DialContext:           dialContext,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   10,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}

	parsed, err := url.Parse(proxyURL)
	if err != nil {
		c.log.Error("failed to parse proxy URL", "url", proxyURL, "error", err)
		return c.defaultClient
	}

	switch parsed.Scheme {
	case "socks5", "socks5h":
		dialer, err := proxy.FromURL(parsed, proxy.Direct)
		if err != nil {
			c.log.Error("failed to create SOCKS5 dialer", "error", err)
			return c.defaultClient
		}
		if contextDialer, ok := dialer.(proxy.ContextDialer); ok {
			transport.DialContext = contextDialer.DialContext
		} else {
			transport.Dial = dialer.Dial
		}
	case "http", "https":
		transport.Proxy = http.ProxyURL(parsed)
	default:
		c.log.Warn("unsupported proxy scheme", "scheme", parsed.Scheme)
		return c.defaultClient
	}

	client := &http.Client{Transport: transport}
	c.proxyClients[proxyURL] = client
	c.log.Debug("created proxy client", "proxy", proxyURL)
	return client
}

// utlsRoundTripper dials with a Chrome ClientHello and speaks HTTP/2 when
// the server negotiates it.
type utlsRoundTripper struct {
	dialer      *net.Dialer
	h2Transport *http2.Transport
}

func newUTLSRoundTripper() *utlsRoundTripper {
	return &utlsRoundTripper{
		dialer: &net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 60 * time.Second,
		},
		h2Transport: &http2.Transport{},
	}
}

func (t *utlsRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.URL.Scheme != "https" {
		return http.DefaultTransport.RoundTrip(req)
	}

	addr := req.URL.Host
	if !strings.Contains(addr, ":") {
		addr = addr + ":443"
	}

	conn, err := t.dialer.DialContext(req.Context(), "tcp4", addr)
	if err != nil {
		return nil, err
	}

	tlsConfig := &utls.Config{
		ServerName: req.URL.Hostname(),
	}
	utlsConn := utls.UClient(conn, tlsConfig, utls.HelloChrome_120)

	if err := utlsConn.Handshake(); err != nil {
		conn.Close()
		return nil, err
	}

	if utlsConn.ConnectionState().NegotiatedProtocol == "h2" {
		h2Conn, err := t.h2Transport.NewClientConn(utlsConn)
		if err != nil {
			conn.Close()
			return nil, err
		}
		return h2Conn.RoundTrip(req)
	}

	return t.doHTTP1Request(utlsConn, req)
}

func (t *utlsRoundTripper) doHTTP1Request(conn net.Conn, req *http.Request) (*http.Response, error) {
	if err := req.Write(conn); err != nil {
		conn.Close()
		return nil, err
	}

	resp, err := http.ReadResponse(bufio.NewReader(conn), req)
	if err != nil {
		conn.Close()
		return nil, err
	}

	resp.Body = &connCloser{resp.Body, conn}
	return resp, nil
}

type connCloser struct {
	io.ReadCloser
	conn net.Conn
}

func (c *connCloser) Close() error {
	c.ReadCloser.Close()
	return c.conn.Close()
}
