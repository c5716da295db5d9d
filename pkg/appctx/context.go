// Package appctx provides the application context that holds all runtime dependencies.
package appctx

import (
	"github.com/alyabroudy1/omerFlex5-sub000/pkg/bridge"
	"github.com/alyabroudy1/omerFlex5-sub000/pkg/config"
	"github.com/alyabroudy1/omerFlex5-sub000/pkg/interfaces"
	"github.com/alyabroudy1/omerFlex5-sub000/pkg/logging"
	"github.com/alyabroudy1/omerFlex5-sub000/pkg/manifestcache"
	"github.com/alyabroudy1/omerFlex5-sub000/pkg/rules"
)

// Context holds all application runtime dependencies.
// Pass this single struct to components instead of individual parameters.
type Context struct {
	Config  *config.Config
	Log     *logging.Logger
	Rules   *rules.Registry
	Cache   *manifestcache.Cache
	Browser interfaces.BrowserControl
	Channel *bridge.Channel
}

// New creates a new application context.
func New(cfg *config.Config, log *logging.Logger) *Context {
	return &Context{
		Config: cfg,
		Log:    log,
		Rules:  rules.NewRegistry(rules.Default()),
		Cache:  manifestcache.New(),
	}
}

// WithBrowser sets the browser control.
func (c *Context) WithBrowser(b interfaces.BrowserControl) *Context {
	c.Browser = b
	return c
}

// WithChannel sets the bridge data channel.
func (c *Context) WithChannel(ch *bridge.Channel) *Context {
	c.Channel = ch
	return c
}
