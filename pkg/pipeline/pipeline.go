// Package pipeline orchestrates one acquisition run: navigate to a page,
// wait out the anti-bot challenge, watch resource loads for the playable
// video, and hand the winning candidate to the player with the identity it
// needs to fetch it.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/alyabroudy1/omerFlex5-sub000/pkg/challenge"
	"github.com/alyabroudy1/omerFlex5-sub000/pkg/classify"
	"github.com/alyabroudy1/omerFlex5-sub000/pkg/config"
	"github.com/alyabroudy1/omerFlex5-sub000/pkg/httpclient"
	"github.com/alyabroudy1/omerFlex5-sub000/pkg/interfaces"
	"github.com/alyabroudy1/omerFlex5-sub000/pkg/logging"
	"github.com/alyabroudy1/omerFlex5-sub000/pkg/manifestcache"
	"github.com/alyabroudy1/omerFlex5-sub000/pkg/metrics"
	"github.com/alyabroudy1/omerFlex5-sub000/pkg/rules"
	"github.com/alyabroudy1/omerFlex5-sub000/pkg/types"
)

// ErrChallengeTimeout is returned when the page never clears its anti-bot
// challenge within the configured deadline.
var ErrChallengeTimeout = errors.New("pipeline: challenge not cleared within deadline")

// snapshotParser turns captured page HTML into a detector snapshot. Split
// out so tests can run the pipeline without a real DOM parser.
type snapshotParser func(html string, set *rules.Set) (*types.PageSnapshot, error)

// Pipeline runs the acquisition lifecycle against one browser instance.
type Pipeline struct {
	browser    interfaces.BrowserControl
	detector   *challenge.Detector
	classifier *classify.Classifier
	cache      interfaces.ManifestCache
	client     *httpclient.Client
	rules      *rules.Registry
	cfg        *config.Config
	log        *logging.Logger
	sink       interfaces.PlaybackSink
	parse      snapshotParser

	intercept singleflight.Group
}

// New wires a pipeline. sink may be nil when the caller only wants the
// returned handoff bundle.
func New(browser interfaces.BrowserControl, detector *challenge.Detector, classifier *classify.Classifier,
	cache interfaces.ManifestCache, client *httpclient.Client, reg *rules.Registry,
	cfg *config.Config, sink interfaces.PlaybackSink, parse snapshotParser, log *logging.Logger) *Pipeline {
	return &Pipeline{
		browser:    browser,
		detector:   detector,
		classifier: classifier,
		cache:      cache,
		client:     client,
		rules:      reg,
		cfg:        cfg,
		sink:       sink,
		parse:      parse,
		log:        log.WithComponent("pipeline"),
	}
}

// Run navigates to pageURL and blocks until a video candidate is accepted,
// the challenge deadline passes, or ctx is done. On success the handoff
// bundle has been delivered to the sink and is also returned.
func (p *Pipeline) Run(ctx context.Context, pageURL string) (*types.PlaybackRequest, error) {
	p.classifier.ResetNavigation()

	candidateCh := make(chan *types.VideoCandidate, 1)
	remove := p.browser.OnObservation(func(obs types.ResourceObservation) {
		p.handleObservation(obs, candidateCh)
	})
	defer remove()

	if err := p.browser.Navigate(ctx, pageURL); err != nil {
		return nil, fmt.Errorf("navigating to %s: %w", pageURL, err)
	}

	if err := p.awaitClearance(ctx, pageURL); err != nil {
		return nil, err
	}

	var candidate *types.VideoCandidate
	select {
	case candidate = <-candidateCh:
	case <-ctx.Done():
		return nil, fmt.Errorf("waiting for video candidate: %w", ctx.Err())
	}

	req, err := p.buildHandoff(ctx, pageURL, candidate)
	if err != nil {
		return nil, err
	}

	metrics.CandidatesAccepted.Inc()
	p.log.Info("playback handoff ready", "url", candidate.URL, "score", candidate.Score)

	if p.sink != nil {
		p.sink.OnPlayback(req)
	}
	return req, nil
}

// awaitClearance polls page snapshots until the detector reports Cleared.
// Unknown means the page is still loading and is always retried.
func (p *Pipeline) awaitClearance(ctx context.Context, pageURL string) error {
	deadline := time.Now().Add(p.cfg.ChallengeDeadline)
	ticker := time.NewTicker(p.cfg.ChallengePollInterval)
	defer ticker.Stop()

	for {
		html, err := p.browser.SnapshotHTML(ctx)
		if err != nil {
			p.log.Warn("page snapshot failed", "error", err)
		} else {
			snap, perr := p.parse(html, p.rules.ForURL(pageURL))
			if perr != nil {
				p.log.Warn("parsing page snapshot failed", "error", perr)
			} else if p.detector.ClassifyPage(pageURL, snap) == types.ChallengeCleared {
				return nil
			}
		}

		if time.Now().After(deadline) {
			return ErrChallengeTimeout
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// handleObservation runs on the browser callback goroutine: score the
// resource, kick off manifest interception, and publish the first accepted
// candidate. Later acceptances within the same navigation are dropped; the
// classifier's dedup already suppresses variants of the winner.
func (p *Pipeline) handleObservation(obs types.ResourceObservation, candidateCh chan<- *types.VideoCandidate) {
	set := p.rules.ForURL(obs.URL)
	if classify.IsManifestURL(obs.URL, set) {
		go p.interceptManifest(obs)
	}

	candidate, ok := p.classifier.Observe(obs)
	if !ok {
		return
	}
	select {
	case candidateCh <- candidate:
	default:
	}
}

// interceptManifest fetches an observed manifest with the browser's own
// request headers and caches the decoded body, so the relay proxy can serve
// it without another upstream round trip. Concurrent observations of the
// same URL collapse to one fetch.
func (p *Pipeline) interceptManifest(obs types.ResourceObservation) {
	if _, ok := p.cache.Get(obs.URL); ok {
		return
	}

	p.intercept.Do(obs.URL, func() (interface{}, error) {
		ctx, cancel := context.WithTimeout(context.Background(), p.cfg.UpstreamTimeout)
		defer cancel()

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, obs.URL, nil)
		if err != nil {
			return nil, err
		}
		for key, value := range obs.RequestHeaders {
			req.Header.Set(key, value)
		}
		if cookies, err := p.browser.CookiesFor(ctx, obs.URL); err == nil && cookies != "" {
			req.Header.Set("Cookie", cookies)
		}

		resp, err := p.client.Do(req)
		if err != nil {
			p.log.Debug("manifest interception fetch failed", "url", obs.URL, "error", err)
			return nil, nil
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			p.log.Debug("manifest interception skipped", "url", obs.URL, "status", resp.StatusCode)
			return nil, nil
		}

		body, err := httpclient.DecodeBody(resp.Body, resp.Header.Get("Content-Encoding"))
		if err != nil {
			p.log.Debug("manifest interception decode failed", "url", obs.URL, "error", err)
			return nil, nil
		}

		if manifestcache.Classify(string(body)) == manifestcache.KindNone {
			return nil, nil
		}
		p.cache.Put(obs.URL, string(body))
		p.log.Debug("manifest intercepted", "url", obs.URL, "bytes", len(body))
		return nil, nil
	})
}

// buildHandoff assembles the playback bundle: cookies scoped to the
// candidate's own domain, the browser's user agent, the page as referer, the
// request headers the browser used, and the cached manifest when one exists.
func (p *Pipeline) buildHandoff(ctx context.Context, pageURL string, candidate *types.VideoCandidate) (*types.PlaybackRequest, error) {
	cookies, err := p.browser.CookiesFor(ctx, candidate.URL)
	if err != nil {
		return nil, fmt.Errorf("reading cookies for %s: %w", candidate.URL, err)
	}

	userAgent, err := p.browser.UserAgent(ctx)
	if err != nil {
		p.log.Warn("reading user agent failed", "error", err)
	}

	req := &types.PlaybackRequest{
		URL:       candidate.URL,
		Cookies:   cookies,
		Referer:   pageURL,
		UserAgent: userAgent,
		Headers:   candidate.Headers,
	}
	if manifest, ok := p.cache.Get(candidate.URL); ok {
		req.Manifest = manifest
	}
	return req, nil
}
