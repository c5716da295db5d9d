// Package app provides the main application setup and dependency injection.
package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alyabroudy1/omerFlex5-sub000/pkg/appctx"
	"github.com/alyabroudy1/omerFlex5-sub000/pkg/bridge"
	"github.com/alyabroudy1/omerFlex5-sub000/pkg/browser"
	"github.com/alyabroudy1/omerFlex5-sub000/pkg/challenge"
	"github.com/alyabroudy1/omerFlex5-sub000/pkg/classify"
	"github.com/alyabroudy1/omerFlex5-sub000/pkg/config"
	"github.com/alyabroudy1/omerFlex5-sub000/pkg/datasource"
	"github.com/alyabroudy1/omerFlex5-sub000/pkg/httpclient"
	"github.com/alyabroudy1/omerFlex5-sub000/pkg/logging"
	"github.com/alyabroudy1/omerFlex5-sub000/pkg/pipeline"
	"github.com/alyabroudy1/omerFlex5-sub000/pkg/relayproxy"
	"github.com/alyabroudy1/omerFlex5-sub000/pkg/types"
)

// App is the main application container.
type App struct {
	Ctx        *appctx.Context
	Proxy      *relayproxy.Proxy
	Pipeline   *pipeline.Pipeline
	HTTPClient *httpclient.Client
}

// handoffSink feeds accepted candidates into the relay proxy and logs the
// relay URL an external player should open.
type handoffSink struct {
	proxy *relayproxy.Proxy
	log   *logging.Logger
}

func (s *handoffSink) OnPlayback(req *types.PlaybackRequest) {
	s.proxy.SetIdentity(relayproxy.Identity{
		Cookies:   req.Cookies,
		UserAgent: req.UserAgent,
		Referer:   req.Referer,
	})
	s.log.Info("video ready",
		"url", req.URL,
		"relay", "http://"+s.proxy.Addr()+"/"+req.URL,
		"manifest_cached", req.Manifest != "",
	)
}

// New creates and initializes the application.
func New() (*App, error) {
	// Load configuration
	cfg := config.Load()
	if cfg.PageURL == "" {
		return nil, errors.New("PAGE_URL is required")
	}

	// Initialize logger
	log := logging.New(cfg.LogLevel, cfg.LogJSON, nil)
	log.Info("initializing omerflex relay", "page", cfg.PageURL, "log_level", cfg.LogLevel)

	// Create application context
	ctx := appctx.New(cfg, log)

	// Create HTTP client
	httpClient := httpclient.New(cfg, log)

	// Launch the browser
	browserCtl, err := browser.New(context.Background(), cfg, log)
	if err != nil {
		return nil, fmt.Errorf("launching browser: %w", err)
	}
	ctx.WithBrowser(browserCtl)

	// Bridge channel for in-page fetches
	channel := bridge.NewChannel(browserCtl, browserCtl, cfg.ChunkSize, log)
	ctx.WithChannel(channel)

	// Relay proxy
	proxy, err := relayproxy.New(cfg, ctx.Cache, httpClient, ctx.Rules, log)
	if err != nil {
		browserCtl.Close()
		return nil, fmt.Errorf("creating relay proxy: %w", err)
	}

	// Detection and classification
	detector := challenge.NewDetector(ctx.Rules, log)
	weights := classify.DefaultWeights()
	weights.AcceptThreshold = cfg.AcceptThreshold
	weights.PotentialThreshold = cfg.PotentialThreshold
	classifier := classify.NewClassifier(ctx.Rules, weights, log)

	// Pipeline, delivering handoffs into the proxy
	sink := &handoffSink{proxy: proxy, log: log.WithComponent("handoff")}
	pipe := pipeline.New(browserCtl, detector, classifier,
		ctx.Cache, httpClient, ctx.Rules, cfg, sink, browser.ParseSnapshot, log)

	return &App{
		Ctx:        ctx,
		Proxy:      proxy,
		Pipeline:   pipe,
		HTTPClient: httpClient,
	}, nil
}

// NewDataSource builds a pull-based relay source for an accepted candidate,
// for callers embedding the library instead of using the loopback proxy.
func (a *App) NewDataSource(req *types.PlaybackRequest) *datasource.RelayDataSource {
	return datasource.NewRelayDataSource(a.Ctx.Channel, a.HTTPClient, a.Ctx.Browser, datasource.RelayOptions{
		UserAgent: req.UserAgent,
		Referer:   req.Referer,
		ChunkWait: a.Ctx.Config.ChunkWait,
	}, a.Ctx.Log)
}

// Run starts the proxy, drives the pipeline against the configured page, and
// then serves until interrupted.
func (a *App) Run() error {
	if err := a.Proxy.Start(); err != nil {
		return err
	}
	a.Ctx.Log.Info("relay proxy ready", "addr", a.Proxy.Addr())

	errCh := make(chan error, 1)
	go func() {
		runCtx, cancel := context.WithTimeout(context.Background(), a.Ctx.Config.BrowserTimeout)
		defer cancel()
		_, err := a.Pipeline.Run(runCtx, a.Ctx.Config.PageURL)
		errCh <- err
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("pipeline failed: %w", err)
		}
		// Handoff delivered; keep relaying until interrupted.
		<-quit
	case <-quit:
	}

	a.Ctx.Log.Info("shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return a.Proxy.Shutdown(shutdownCtx)
}

// Shutdown releases the browser and the bridge channel.
func (a *App) Shutdown() {
	a.Ctx.Log.Info("shutting down application")

	if a.Ctx.Channel != nil {
		a.Ctx.Channel.Close()
	}
	if a.Ctx.Browser != nil {
		a.Ctx.Browser.Close()
	}
}
