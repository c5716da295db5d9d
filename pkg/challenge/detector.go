// Package challenge classifies loaded pages as blocked by, or cleared of,
// anti-bot interstitials.
package challenge

import (
	"strings"

	"github.com/alyabroudy1/omerFlex5-sub000/pkg/logging"
	"github.com/alyabroudy1/omerFlex5-sub000/pkg/rules"
	"github.com/alyabroudy1/omerFlex5-sub000/pkg/types"
)

// Detector evaluates page snapshots against a rule registry. Classification
// is pure: the same snapshot always yields the same state.
type Detector struct {
	rules *rules.Registry
	log   *logging.Logger
}

// NewDetector creates a detector backed by the given rule registry.
func NewDetector(reg *rules.Registry, log *logging.Logger) *Detector {
	return &Detector{
		rules: reg,
		log:   log.WithComponent("challenge"),
	}
}

// ClassifyPage classifies a snapshot of the page at pageURL.
func (d *Detector) ClassifyPage(pageURL string, snap *types.PageSnapshot) types.ChallengeState {
	state := Classify(snap.Title, snap.BodyText, snap.MarkersPresent, d.rules.ForURL(pageURL))
	d.log.Debug("classified page", "url", pageURL, "state", state.String(), "title", snap.Title)
	return state
}

// Classify applies the detection rules to one page evaluation.
//
// An empty body means the page is still loading: the result is Unknown and
// the caller must retry after a short delay. A single body-phrase match is
// not enough to call a page ACTIVE; unrelated pages mention protection
// vendors in footers.
func Classify(title, bodyText string, markersPresent bool, set *rules.Set) types.ChallengeState {
	if strings.TrimSpace(bodyText) == "" {
		return types.ChallengeUnknown
	}

	if markersPresent {
		return types.ChallengeActive
	}

	lowerTitle := strings.ToLower(title)
	for _, phrase := range set.TitlePhrases {
		if strings.Contains(lowerTitle, phrase) {
			return types.ChallengeActive
		}
	}

	lowerBody := strings.ToLower(bodyText)
	matches := 0
	for _, phrase := range set.BodyPhrases {
		if strings.Contains(lowerBody, phrase) {
			matches++
			if matches >= 2 {
				return types.ChallengeActive
			}
		}
	}

	return types.ChallengeCleared
}
