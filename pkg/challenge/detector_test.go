package challenge

import (
	"testing"

	"github.com/alyabroudy1/omerFlex5-sub000/pkg/rules"
	"github.com/alyabroudy1/omerFlex5-sub000/pkg/types"
)

func TestClassify(t *testing.T) {
	set := rules.Default()

	tests := []struct {
		name     string
		title    string
		body     string
		markers  bool
		expected types.ChallengeState
	}{
		{
			name:     "challenge title with body",
			title:    "Just a moment...",
			body:     "some body content",
			markers:  false,
			expected: types.ChallengeActive,
		},
		{
			name:     "challenge title without body is unknown",
			title:    "Just a moment...",
			body:     "",
			markers:  false,
			expected: types.ChallengeUnknown,
		},
		{
			name:     "whitespace-only body is unknown",
			title:    "Just a moment...",
			body:     "   \n\t ",
			markers:  false,
			expected: types.ChallengeUnknown,
		},
		{
			name:     "dom markers present",
			title:    "Some Site",
			body:     "loading",
			markers:  true,
			expected: types.ChallengeActive,
		},
		{
			name:     "title match is case-insensitive",
			title:    "JUST A MOMENT...",
			body:     "x",
			markers:  false,
			expected: types.ChallengeActive,
		},
		{
			name:     "single body phrase is not enough",
			title:    "Movie Night",
			body:     "Our site is protected. Performance & security by ExampleVendor.",
			markers:  false,
			expected: types.ChallengeCleared,
		},
		{
			name:     "two body phrases mean active",
			title:    "Movie Night",
			body:     "Checking your browser before accessing. Performance & security by ExampleVendor. Ray ID: abc123",
			markers:  false,
			expected: types.ChallengeActive,
		},
		{
			name:     "ordinary page is cleared",
			title:    "Season 2 Episode 4",
			body:     "Watch the latest episode in HD.",
			markers:  false,
			expected: types.ChallengeCleared,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify(tt.title, tt.body, tt.markers, set)
			if got != tt.expected {
				t.Errorf("Classify() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestClassifyIdempotent(t *testing.T) {
	set := rules.Default()

	title := "Just a moment..."
	body := "Checking your browser before accessing. Ray ID: 1234"

	first := Classify(title, body, false, set)
	second := Classify(title, body, false, set)

	if first != second {
		t.Errorf("Classify not idempotent: first=%v second=%v", first, second)
	}
}
