// Package classify scores observed resource URLs to find the playable video
// among thumbnails, manifest fragments, and unrelated assets.
package classify

import (
	"net/url"
	"strings"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/alyabroudy1/omerFlex5-sub000/pkg/logging"
	"github.com/alyabroudy1/omerFlex5-sub000/pkg/rules"
	"github.com/alyabroudy1/omerFlex5-sub000/pkg/types"
)

// Weights are the additive scores per matching rule. They are heuristic
// constants with no precise derivation; treat them as tunable configuration.
type Weights struct {
	FileExtension     int
	ManifestExtension int
	MimeType          int
	PathKeyword       int
	CDNHost           int
	EmbedShape        int

	AcceptThreshold    int
	PotentialThreshold int
}

// DefaultWeights returns the stock scoring weights.
func DefaultWeights() Weights {
	return Weights{
		FileExtension:      30,
		ManifestExtension:  40,
		MimeType:           35,
		PathKeyword:        15,
		CDNHost:            20,
		EmbedShape:         10,
		AcceptThreshold:    50,
		PotentialThreshold: 30,
	}
}

// reportedSetSize bounds the per-navigation dedup set. A navigation rarely
// produces more than a handful of accepted URLs.
const reportedSetSize = 64

// Classifier scores resource observations. Scoring itself is pure; the only
// state is the per-navigation set of already-accepted URLs used to suppress
// master/variant playlist pairs.
type Classifier struct {
	rules   *rules.Registry
	weights Weights
	log     *logging.Logger

	mu       sync.Mutex
	reported *lru.Cache[string, struct{}]
}

// NewClassifier creates a classifier backed by the given rule registry.
func NewClassifier(reg *rules.Registry, weights Weights, log *logging.Logger) *Classifier {
	reported, _ := lru.New[string, struct{}](reportedSetSize)
	return &Classifier{
		rules:    reg,
		weights:  weights,
		log:      log.WithComponent("classify"),
		reported: reported,
	}
}

// Score computes the additive confidence score for one observation. A
// resource matching a segment/fragment pattern scores 0 outright: it is a
// piece of an already-identified stream, not the stream itself.
func (c *Classifier) Score(obs types.ResourceObservation) int {
	set := c.rules.ForURL(obs.URL)
	return score(obs, set, c.weights)
}

// Observe scores an observation and, if it crosses the acceptance threshold
// and is not a duplicate of an already-accepted URL, returns the candidate.
// A sub-threshold score is a normal outcome, not an error.
func (c *Classifier) Observe(obs types.ResourceObservation) (*types.VideoCandidate, bool) {
	s := c.Score(obs)
	if s < c.weights.AcceptThreshold {
		if s >= c.weights.PotentialThreshold {
			c.log.Debug("potential video resource", "url", obs.URL, "score", s)
		}
		return nil, false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	// Suppress master/variant playlist pairs: if either URL contains the
	// other, they describe the same stream.
	for _, seen := range c.reported.Keys() {
		if strings.Contains(obs.URL, seen) || strings.Contains(seen, obs.URL) {
			c.log.Debug("suppressing duplicate candidate", "url", obs.URL, "seen", seen)
			return nil, false
		}
	}
	c.reported.Add(obs.URL, struct{}{})

	c.log.Info("accepted video candidate", "url", obs.URL, "score", s, "mime", obs.MimeType)

	return &types.VideoCandidate{
		URL:     obs.URL,
		Score:   s,
		Headers: obs.RequestHeaders,
	}, true
}

// ResetNavigation clears the dedup set. Call on every new page navigation.
func (c *Classifier) ResetNavigation() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reported.Purge()
}

// score applies the rule tables to one observation.
func score(obs types.ResourceObservation, set *rules.Set, w Weights) int {
	for _, re := range set.SegmentPatterns {
		if re.MatchString(obs.URL) {
			return 0
		}
	}

	lower := strings.ToLower(obs.URL)
	pathOnly := lower
	if idx := strings.Index(pathOnly, "?"); idx >= 0 {
		pathOnly = pathOnly[:idx]
	}

	total := 0

	for _, ext := range set.VideoExtensions {
		if strings.HasSuffix(pathOnly, ext) {
			total += w.FileExtension
			break
		}
	}

	for _, ext := range set.ManifestExtensions {
		if strings.HasSuffix(pathOnly, ext) {
			total += w.ManifestExtension
			break
		}
	}

	if obs.MimeType != "" {
		mime := strings.ToLower(obs.MimeType)
		for _, known := range set.VideoMimeTypes {
			if mime == known {
				total += w.MimeType
				break
			}
		}
	}

	for _, kw := range set.PathKeywords {
		if strings.Contains(pathOnly, kw) {
			total += w.PathKeyword
			break
		}
	}

	if host := hostOf(lower); host != "" {
		for _, pattern := range set.CDNHostPatterns {
			if strings.Contains(host, pattern) {
				total += w.CDNHost
				break
			}
		}
	}

	for _, shape := range set.EmbedShapes {
		if strings.Contains(lower, shape) {
			total += w.EmbedShape
			break
		}
	}

	return total
}

func hostOf(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return parsed.Hostname()
}

// IsManifestURL reports whether the URL path ends in a known streaming
// manifest extension.
func IsManifestURL(rawURL string, set *rules.Set) bool {
	lower := strings.ToLower(rawURL)
	if idx := strings.Index(lower, "?"); idx >= 0 {
		lower = lower[:idx]
	}
	for _, ext := range set.ManifestExtensions {
		if strings.HasSuffix(lower, ext) {
			return true
		}
	}
	return false
}
