package browser

import (
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/alyabroudy1/omerFlex5-sub000/pkg/rules"
	"github.com/alyabroudy1/omerFlex5-sub000/pkg/types"
)

// ParseSnapshot reduces a page's HTML to the fields challenge detection
// reads: title, visible body text, and which challenge markers are present.
func ParseSnapshot(html string, set *rules.Set) (*types.PageSnapshot, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, err
	}

	snap := &types.PageSnapshot{
		Title: strings.TrimSpace(doc.Find("title").First().Text()),
	}

	body := doc.Find("body").Clone()
	body.Find("script, style, noscript").Remove()
	snap.BodyText = strings.TrimSpace(body.Text())

	for _, selector := range set.MarkerSelectors {
		if doc.Find(selector).Length() > 0 {
			snap.MarkersPresent = true
			break
		}
	}

	return snap, nil
}
