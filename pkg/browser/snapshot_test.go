package browser

import (
	"strings"
	"testing"

	"github.com/alyabroudy1/omerFlex5-sub000/pkg/rules"
)

func TestParseSnapshotExtractsTitleAndBody(t *testing.T) {
	html := `<html><head><title>  Movie Night  </title>
		<script>var x = "script noise";</script></head>
		<body><style>.a{}</style><p>Now playing.</p></body></html>`

	snap, err := ParseSnapshot(html, rules.Default())
	if err != nil {
		t.Fatalf("ParseSnapshot() error: %v", err)
	}

	if snap.Title != "Movie Night" {
		t.Errorf("Title = %q, want %q", snap.Title, "Movie Night")
	}
	if !strings.Contains(snap.BodyText, "Now playing.") {
		t.Errorf("BodyText = %q, want it to contain %q", snap.BodyText, "Now playing.")
	}
	if strings.Contains(snap.BodyText, "script noise") {
		t.Errorf("BodyText leaked script content: %q", snap.BodyText)
	}
	if snap.MarkersPresent {
		t.Error("MarkersPresent = true on a page with no challenge markers")
	}
}

func TestParseSnapshotDetectsChallengeMarkers(t *testing.T) {
	html := `<html><head><title>Just a moment...</title></head>
		<body><form id="challenge-form" action="/verify"></form>
		<p>Checking your browser before accessing the site.</p></body></html>`

	snap, err := ParseSnapshot(html, rules.Default())
	if err != nil {
		t.Fatalf("ParseSnapshot() error: %v", err)
	}

	if !snap.MarkersPresent {
		t.Error("MarkersPresent = false, want true for #challenge-form")
	}
	if snap.Title != "Just a moment..." {
		t.Errorf("Title = %q", snap.Title)
	}
}

func TestParseSnapshotEmptyBody(t *testing.T) {
	snap, err := ParseSnapshot(`<html><head><title>Loading</title></head><body>   </body></html>`, rules.Default())
	if err != nil {
		t.Fatalf("ParseSnapshot() error: %v", err)
	}
	if snap.BodyText != "" {
		t.Errorf("BodyText = %q, want empty after trimming", snap.BodyText)
	}
}
