package rules

import (
	"net/url"
	"strings"
	"sync"
)

// Registry maps host patterns to rule-set overrides, with a fallback set used
// when no pattern matches. Sites tune their challenge markers and CDN layouts
// independently, so the tables are swappable per host.
type Registry struct {
	mu        sync.RWMutex
	overrides []override
	fallback  *Set
}

type override struct {
	hostPattern string
	set         *Set
}

// NewRegistry creates a registry with the given fallback set.
func NewRegistry(fallback *Set) *Registry {
	if fallback == nil {
		fallback = Default()
	}
	return &Registry{fallback: fallback}
}

// Register adds a rule-set override for hosts containing hostPattern.
func (r *Registry) Register(hostPattern string, set *Set) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.overrides = append(r.overrides, override{hostPattern: strings.ToLower(hostPattern), set: set})
}

// ForURL returns the rule set for the given URL's host.
func (r *Registry) ForURL(rawURL string) *Set {
	host := ""
	if parsed, err := url.Parse(rawURL); err == nil {
		host = strings.ToLower(parsed.Hostname())
	}
	return r.ForHost(host)
}

// ForHost returns the rule set for the given host, or the fallback.
func (r *Registry) ForHost(host string) *Set {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, o := range r.overrides {
		if strings.Contains(host, o.hostPattern) {
			return o.set
		}
	}
	return r.fallback
}

// Fallback returns the default rule set.
func (r *Registry) Fallback() *Set {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.fallback
}
