package contextbuilder

import (
	"strings"
	"testing"

	"github.com/sipeed/ryuuko/pkg/shortterm"
)

func TestJoinSkipsEmptySections(t *testing.T) {
	got := Join([]string{"## Social\nx", "", "  ", "## Time & History\ny"})
	want := "## Social\nx" + sectionSeparator + "## Time & History\ny"
	if got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}
}

func TestBuildTimeHistorySectionFirstTurnStranger(t *testing.T) {
	section := buildTimeHistorySection(Input{IsFirstTurn: true, CurrentUser: "alice"})
	if !strings.Contains(section, "stranger") {
		t.Fatalf("expected stranger note, got %q", section)
	}
}

func TestBuildTimeHistorySectionReturner(t *testing.T) {
	section := buildTimeHistorySection(Input{IsFirstTurn: true, CurrentUser: "alice", UserChunkCount: 5})
	if !strings.Contains(section, "known returner") {
		t.Fatalf("expected known-returner note, got %q", section)
	}
}

func TestLastHistoryContentsTruncates(t *testing.T) {
	history := []shortterm.HistoryTurn{
		{Content: "one"}, {Content: "two"}, {Content: "three"},
	}
	got := lastHistoryContents(history, 2)
	if got != "two three" {
		t.Fatalf("expected last 2 contents joined, got %q", got)
	}
}
