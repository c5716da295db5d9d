// Package metrics exposes pipeline counters on the default Prometheus
// registry.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CandidatesAccepted counts video candidates that crossed the
	// acceptance threshold and triggered a playback handoff.
	CandidatesAccepted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "omerflex_candidates_accepted_total",
		Help: "Video candidates accepted by the classifier.",
	})

	// FallbacksTriggered counts switches from the browser-mediated path to
	// the direct fetch path, labeled by the phase the stall occurred in.
	FallbacksTriggered = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "omerflex_fallbacks_triggered_total",
		Help: "Relay data source fallbacks to direct fetch.",
	}, []string{"phase"})

	// BridgeChunks counts chunks relayed across the sandbox boundary.
	BridgeChunks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "omerflex_bridge_chunks_total",
		Help: "Data chunks decoded from the browser bridge.",
	})

	// ManifestCacheHits and ManifestCacheMisses count relay proxy lookups.
	ManifestCacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "omerflex_manifest_cache_hits_total",
		Help: "Relay proxy requests served from the manifest cache.",
	})
	ManifestCacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "omerflex_manifest_cache_misses_total",
		Help: "Relay proxy requests that went upstream.",
	})

	// ProxiedBytes counts upstream body bytes streamed to local clients.
	ProxiedBytes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "omerflex_proxied_bytes_total",
		Help: "Bytes proxied from upstream to local clients.",
	})
)
