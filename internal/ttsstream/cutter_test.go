package ttsstream

import (
	"reflect"
	"testing"
)

func TestSentenceCutterFeed(t *testing.T) {
	c := NewSentenceCutter()

	if got := c.Feed("Check the "); got != nil {
		t.Fatalf("Feed(partial) = %v, want nil", got)
	}
	if got := c.Feed("sign. Then"); !reflect.DeepEqual(got, []string{"Check the sign."}) {
		t.Fatalf("Feed = %v, want [Check the sign.]", got)
	}
	if got := c.Feed(" try again! Now"); !reflect.DeepEqual(got, []string{"Then try again!"}) {
		t.Fatalf("Feed = %v, want [Then try again!]", got)
	}
	if got := c.Flush(); got != "Now" {
		t.Fatalf("Flush() = %q, want %q", got, "Now")
	}
}

func TestSentenceCutterWaitsForNonSpace(t *testing.T) {
	c := NewSentenceCutter()

	// Trailing whitespace alone is not enough; the next sentence must
	// have started before the cut is committed.
	if got := c.Feed("Done. "); got != nil {
		t.Fatalf("Feed = %v, want nil", got)
	}
	if got := c.Feed("  "); got != nil {
		t.Fatalf("Feed(more space) = %v, want nil", got)
	}
	if got := c.Feed("Next"); !reflect.DeepEqual(got, []string{"Done."}) {
		t.Fatalf("Feed = %v, want [Done.]", got)
	}
}

func TestSentenceCutterPunctuationRuns(t *testing.T) {
	c := NewSentenceCutter()

	got := c.Feed("Wait... what? Really?! Yes")
	want := []string{"Wait...", "what?", "Really?!"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Feed = %v, want %v", got, want)
	}
}

func TestSentenceCutterDecimalsStayWhole(t *testing.T) {
	c := NewSentenceCutter()

	if got := c.Feed("3.14 is close to pi"); got != nil {
		t.Fatalf("Feed = %v, want nil", got)
	}
	if got := c.Flush(); got != "3.14 is close to pi" {
		t.Fatalf("Flush() = %q, want full text", got)
	}
}

func TestSentenceCutterFlushStripsJSONTail(t *testing.T) {
	c := NewSentenceCutter()

	c.Feed(`so x equals five."}`)
	if got := c.Flush(); got != "so x equals five." {
		t.Fatalf("Flush() = %q, want %q", got, "so x equals five.")
	}

	if got := c.Flush(); got != "" {
		t.Fatalf("Flush() after flush = %q, want empty", got)
	}
}

func TestSentenceCutterMultipleSentencesInOneFeed(t *testing.T) {
	c := NewSentenceCutter()

	got := c.Feed("First. Second! Third? Tail")
	want := []string{"First.", "Second!", "Third?"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Feed = %v, want %v", got, want)
	}
	if got := c.Flush(); got != "Tail" {
		t.Fatalf("Flush() = %q, want %q", got, "Tail")
	}
}
