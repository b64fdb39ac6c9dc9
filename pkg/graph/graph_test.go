package graph

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/sipeed/ryuuko/pkg/types"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "graph.bbolt")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSanitizeStripsQuotesAndBackticks(t *testing.T) {
	if got := Sanitize("al`ice'\""); got != "alice" {
		t.Fatalf("expected sanitized 'alice', got %q", got)
	}
}

func TestEdgeIdentitiesAreDeterministic(t *testing.T) {
	if id := attitudesID("alice"); id != "ryuuko_alice" {
		t.Fatalf("expected ryuuko_alice, got %q", id)
	}
	if id := illusionID("alice"); id != "alice_ryuuko" {
		t.Fatalf("expected alice_ryuuko, got %q", id)
	}
	if id := feelsAboutID("the-moon"); id != "ryuuko_the-moon" {
		t.Fatalf("expected ryuuko_the-moon, got %q", id)
	}
}

func TestDeltaClampedBeforeAccumulation(t *testing.T) {
	s := openTestStore(t)
	now := time.Now()
	if err := s.UpdateAttitudes("alice", types.SocialAxes{Affinity: 0.40}, now); err != nil {
		t.Fatalf("update: %v", err)
	}
	attitudes, _, err := s.GetSocialContext("alice", now)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if attitudes.Affinity < 0.29 || attitudes.Affinity > 0.30 {
		t.Fatalf("expected clamped delta ~0.30, got %v", attitudes.Affinity)
	}
}

func TestFieldsStayWithinBounds(t *testing.T) {
	s := openTestStore(t)
	now := time.Now()
	for i := 0; i < 10; i++ {
		if err := s.UpdateAttitudes("bob", types.SocialAxes{Affinity: 0.30, Trust: -0.30}, now); err != nil {
			t.Fatalf("update %d: %v", i, err)
		}
	}
	attitudes, _, err := s.GetSocialContext("bob", now)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if attitudes.Affinity > 1.0 || attitudes.Affinity < -1.0 {
		t.Fatalf("affinity out of bounds: %v", attitudes.Affinity)
	}
	if attitudes.Trust > 1.0 || attitudes.Trust < -1.0 {
		t.Fatalf("trust out of bounds: %v", attitudes.Trust)
	}
}

func TestReadTwiceWithoutWriteIsIdempotent(t *testing.T) {
	s := openTestStore(t)
	now := time.Now()
	if err := s.UpdateAttitudes("carol", types.SocialAxes{Affinity: 0.2}, now); err != nil {
		t.Fatalf("update: %v", err)
	}
	later := now.Add(24 * time.Hour)
	a1, _, err := s.GetSocialContext("carol", later)
	if err != nil {
		t.Fatalf("read1: %v", err)
	}
	a2, _, err := s.GetSocialContext("carol", later)
	if err != nil {
		t.Fatalf("read2: %v", err)
	}
	if a1.Affinity != a2.Affinity {
		t.Fatalf("expected idempotent reads, got %v vs %v", a1.Affinity, a2.Affinity)
	}
}

func TestDecayAppliedOnRead(t *testing.T) {
	s := openTestStore(t)
	now := time.Now()
	if err := s.UpdateAttitudes("dave", types.SocialAxes{Affinity: 0.40}, now); err != nil {
		t.Fatalf("update: %v", err)
	}
	later := now.Add(24 * time.Hour)
	attitudes, _, err := s.GetSocialContext("dave", later)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	want := 0.30 * 0.99
	if diff := attitudes.Affinity - want; diff > 0.001 || diff < -0.001 {
		t.Fatalf("expected affinity ~%.4f after 1 day decay, got %v", want, attitudes.Affinity)
	}
}

func TestDumpEdgesReflectsWrites(t *testing.T) {
	s := openTestStore(t)
	if err := s.UpdateFeelsAbout("sun", types.EntityAxes{Preference: 0.1}, time.Now()); err != nil {
		t.Fatalf("update: %v", err)
	}
	edges := s.dumpEdges(bucketFeelsAbout)
	if _, ok := edges["ryuuko_sun"]; !ok {
		t.Fatalf("expected dumpEdges to contain ryuuko_sun, got %+v", edges)
	}
}
