// Package browser implements the pipeline's browser-control surface on a
// DevTools-driven headless browser. The control exposes exactly the
// capabilities the pipeline depends on: navigation, script evaluation,
// string message passing, resource observation, and cookie snapshots.
package browser

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"sync"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"

	"github.com/alyabroudy1/omerFlex5-sub000/pkg/bridge"
	"github.com/alyabroudy1/omerFlex5-sub000/pkg/config"
	"github.com/alyabroudy1/omerFlex5-sub000/pkg/interfaces"
	"github.com/alyabroudy1/omerFlex5-sub000/pkg/logging"
	"github.com/alyabroudy1/omerFlex5-sub000/pkg/types"
)

// Control drives one browser instance. Event handlers registered through
// OnBridgeMessage and OnObservation run on the browser's callback goroutine
// and must stay cheap.
type Control struct {
	ctx         context.Context
	taskCancel  context.CancelFunc
	allocCancel context.CancelFunc
	log         *logging.Logger

	mu          sync.Mutex
	msgHandlers map[int]func(types.BridgeMessage)
	obsHandlers map[int]func(types.ResourceObservation)
	nextID      int
	pageURL     string
}

// New launches the browser and enables network observation.
func New(parent context.Context, cfg *config.Config, log *logging.Logger) (*Control, error) {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", cfg.BrowserHeadless),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
	)
	if cfg.BrowserExecPath != "" {
		opts = append(opts, chromedp.ExecPath(cfg.BrowserExecPath))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(parent, opts...)
	taskCtx, taskCancel := chromedp.NewContext(allocCtx)

	c := &Control{
		ctx:         taskCtx,
		taskCancel:  taskCancel,
		allocCancel: allocCancel,
		log:         log.WithComponent("browser"),
		msgHandlers: make(map[int]func(types.BridgeMessage)),
		obsHandlers: make(map[int]func(types.ResourceObservation)),
	}

	chromedp.ListenTarget(taskCtx, c.listen)

	if err := chromedp.Run(taskCtx, network.Enable()); err != nil {
		taskCancel()
		allocCancel()
		return nil, err
	}

	return c, nil
}

// run executes chromedp actions, honoring the caller context's deadline.
func (c *Control) run(ctx context.Context, actions ...chromedp.Action) error {
	runCtx := c.ctx
	if deadline, ok := ctx.Deadline(); ok {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithDeadline(c.ctx, deadline)
		defer cancel()
	}
	return chromedp.Run(runCtx, actions...)
}

// Navigate loads a page.
func (c *Control) Navigate(ctx context.Context, rawURL string) error {
	if err := c.run(ctx, chromedp.Navigate(rawURL)); err != nil {
		return err
	}
	c.mu.Lock()
	c.pageURL = rawURL
	c.mu.Unlock()
	c.log.Info("navigated", "url", rawURL)
	return nil
}

// PageURL returns the URL of the current navigation.
func (c *Control) PageURL() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pageURL
}

// SnapshotHTML returns the current document's outer HTML.
func (c *Control) SnapshotHTML(ctx context.Context) (string, error) {
	var html string
	if err := c.run(ctx, chromedp.OuterHTML("html", &html, chromedp.ByQuery)); err != nil {
		return "", err
	}
	return html, nil
}

// EvaluateScript evaluates a script in the page. Results only come back as
// bridge messages.
func (c *Control) EvaluateScript(ctx context.Context, script string) error {
	return c.run(ctx, chromedp.Evaluate(script, nil))
}

// UserAgent returns the browser's user agent string.
func (c *Control) UserAgent(ctx context.Context) (string, error) {
	var ua string
	if err := c.run(ctx, chromedp.Evaluate(`navigator.userAgent`, &ua)); err != nil {
		return "", err
	}
	return ua, nil
}

// CookiesFor returns a Cookie header value scoped to the given URL.
func (c *Control) CookiesFor(ctx context.Context, rawURL string) (string, error) {
	var header string
	err := c.run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		cookies, err := network.GetCookies().WithURLs([]string{rawURL}).Do(ctx)
		if err != nil {
			return err
		}
		parts := make([]string, 0, len(cookies))
		for _, ck := range cookies {
			parts = append(parts, ck.Name+"="+ck.Value)
		}
		header = strings.Join(parts, "; ")
		return nil
	}))
	if err != nil {
		return "", err
	}
	return header, nil
}

// OnBridgeMessage registers a sandbox message handler.
func (c *Control) OnBridgeMessage(fn func(types.BridgeMessage)) (remove func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.nextID
	c.nextID++
	c.msgHandlers[id] = fn
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.msgHandlers, id)
	}
}

// OnObservation registers a resource observation handler.
func (c *Control) OnObservation(fn func(types.ResourceObservation)) (remove func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.nextID
	c.nextID++
	c.obsHandlers[id] = fn
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.obsHandlers, id)
	}
}

// Close tears down the browser.
func (c *Control) Close() error {
	c.taskCancel()
	c.allocCancel()
	return nil
}

// listen routes DevTools events to observation and bridge handlers.
func (c *Control) listen(ev interface{}) {
	switch e := ev.(type) {
	case *network.EventRequestWillBeSent:
		c.dispatchObservation(types.ResourceObservation{
			URL:            e.Request.URL,
			RequestHeaders: headersToMap(e.Request.Headers),
			ContentLength:  -1,
		})

	case *network.EventResponseReceived:
		c.dispatchObservation(types.ResourceObservation{
			URL:            e.Response.URL,
			RequestHeaders: headersToMap(requestHeadersOf(e.Response)),
			MimeType:       strings.ToLower(e.Response.MimeType),
			ContentLength:  contentLengthOf(e.Response),
		})

	case *runtime.EventConsoleAPICalled:
		for _, arg := range e.Args {
			var s string
			if err := json.Unmarshal(arg.Value, &s); err != nil {
				continue
			}
			if !strings.HasPrefix(s, bridge.MessagePrefix) {
				continue
			}
			var msg types.BridgeMessage
			if err := json.Unmarshal([]byte(strings.TrimPrefix(s, bridge.MessagePrefix)), &msg); err != nil {
				c.log.Warn("malformed bridge message", "error", err)
				continue
			}
			c.dispatchMessage(msg)
		}
	}
}

func (c *Control) dispatchObservation(obs types.ResourceObservation) {
	c.mu.Lock()
	handlers := make([]func(types.ResourceObservation), 0, len(c.obsHandlers))
	for _, fn := range c.obsHandlers {
		handlers = append(handlers, fn)
	}
	c.mu.Unlock()

	for _, fn := range handlers {
		fn(obs)
	}
}

func (c *Control) dispatchMessage(msg types.BridgeMessage) {
	c.mu.Lock()
	handlers := make([]func(types.BridgeMessage), 0, len(c.msgHandlers))
	for _, fn := range c.msgHandlers {
		handlers = append(handlers, fn)
	}
	c.mu.Unlock()

	for _, fn := range handlers {
		fn(msg)
	}
}

// requestHeadersOf returns the request headers from a response, falling back
// to the response headers when the browser does not populate them.
func requestHeadersOf(r *network.Response) network.Headers {
	if len(r.RequestHeaders) > 0 {
		return r.RequestHeaders
	}
	return r.Headers
}

// headersToMap converts DevTools headers (map[string]any) to map[string]string.
func headersToMap(h network.Headers) map[string]string {
	if len(h) == 0 {
		return nil
	}
	m := make(map[string]string, len(h))
	for k, v := range h {
		if s, ok := v.(string); ok {
			m[k] = s
		}
	}
	return m
}

// contentLengthOf extracts the declared content length, or -1.
func contentLengthOf(r *network.Response) int64 {
	for k, v := range r.Headers {
		if strings.EqualFold(k, "content-length") {
			if s, ok := v.(string); ok {
				if n, err := strconv.ParseInt(s, 10, 64); err == nil {
					return n
				}
			}
		}
	}
	return -1
}

var _ interfaces.BrowserControl = (*Control)(nil)
