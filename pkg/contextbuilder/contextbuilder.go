// Package contextbuilder assembles the three prompt sections from spec.md
// §4.11 (Memory, Social, Time & history) and joins them the way the
// teacher's pkg/agent/context.go BuildSystemPrompt joins its sections: with
// a "\n\n---\n\n" separator between non-empty parts. The teacher's own
// sections (skills, specialists, bootstrap files) have no equivalent here —
// only the join idiom is reused.
package contextbuilder

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sipeed/ryuuko/pkg/episodic"
	"github.com/sipeed/ryuuko/pkg/graph"
	"github.com/sipeed/ryuuko/pkg/providers"
	"github.com/sipeed/ryuuko/pkg/shortterm"
)

const sectionSeparator = "\n\n---\n\n"

const (
	memorySearchK      = 3
	memorySearchLambda = 0.5
)

// Builder produces prompt context sections.
type Builder struct {
	episodic *episodic.Store
	graph    *graph.Store
	embedder providers.Embedder
}

// New creates a Builder over the episodic store, cognitive graph, and an
// embedder used only for the Memory section's query vector.
func New(ep *episodic.Store, gr *graph.Store, embedder providers.Embedder) *Builder {
	return &Builder{episodic: ep, graph: gr, embedder: embedder}
}

// Input bundles everything BuildSections needs for one turn.
type Input struct {
	History        []shortterm.HistoryTurn
	NewMessage     string
	CurrentUser    string
	UserChunkCount int
	IsFirstTurn    bool
	Participants   []string
}

// BuildSections returns the Memory, Social, and Time&history sections,
// omitting any section spec.md says to omit (Memory has no hits).
func (b *Builder) BuildSections(ctx context.Context, in Input) []string {
	var sections []string
	if mem := b.buildMemorySection(ctx, in); mem != "" {
		sections = append(sections, mem)
	}
	sections = append(sections, b.buildSocialSection(ctx, in))
	sections = append(sections, buildTimeHistorySection(in))
	return sections
}

// Join concatenates non-empty sections with the teacher's separator idiom.
func Join(sections []string) string {
	var nonEmpty []string
	for _, s := range sections {
		if strings.TrimSpace(s) != "" {
			nonEmpty = append(nonEmpty, s)
		}
	}
	return strings.Join(nonEmpty, sectionSeparator)
}

func lastHistoryContents(history []shortterm.HistoryTurn, n int) string {
	if len(history) > n {
		history = history[len(history)-n:]
	}
	parts := make([]string, 0, len(history))
	for _, h := range history {
		parts = append(parts, h.Content)
	}
	return strings.Join(parts, " ")
}

func (b *Builder) buildMemorySection(ctx context.Context, in Input) string {
	if b.episodic == nil || b.embedder == nil {
		return ""
	}
	query := lastHistoryContents(in.History, 2) + " | " + in.NewMessage
	results, err := b.episodic.Search(ctx, query, memorySearchK, memorySearchLambda)
	if err != nil || len(results) == 0 {
		return ""
	}
	var sb strings.Builder
	sb.WriteString("## Memory\n")
	for _, r := range results {
		t := time.Unix(r.Event.Timestamp, 0).UTC()
		sb.WriteString(fmt.Sprintf("- [At %s]: %s\n", t.Format("2006-01-02 15:04 UTC"), r.Event.Content))
	}
	return sb.String()
}

func (b *Builder) buildSocialSection(ctx context.Context, in Input) string {
	var attitudes, illusion = struct {
		Affinity, Attachment, Trust, Safety, Tension float64
	}{}, struct {
		Affinity, Attachment, Trust, Safety, Tension float64
	}{}

	if b.graph != nil {
		a, i, err := b.graph.GetSocialContext(in.CurrentUser, time.Now())
		if err == nil {
			attitudes.Affinity, attitudes.Attachment, attitudes.Trust, attitudes.Safety, attitudes.Tension =
				a.Affinity, a.Attachment, a.Trust, a.Safety, a.Tension
			illusion.Affinity, illusion.Attachment, illusion.Trust, illusion.Safety, illusion.Tension =
				i.Affinity, i.Attachment, i.Trust, i.Safety, i.Tension
		}
	}

	mean := (abs(attitudes.Affinity) + abs(attitudes.Attachment) + abs(attitudes.Trust) + abs(attitudes.Safety)) / 4.0
	chunkBonus := float64(in.UserChunkCount) / 200.0
	if chunkBonus > 0.15 {
		chunkBonus = 0.15
	}
	contextDepth := mean + chunkBonus
	if contextDepth > 1.0 {
		contextDepth = 1.0
	}

	return fmt.Sprintf("## Social\nattitudes_towards: affinity=%.6f attachment=%.6f trust=%.6f safety=%.6f tension=%.6f\n"+
		"illusion_of: affinity=%.6f attachment=%.6f trust=%.6f safety=%.6f tension=%.6f\n"+
		"context_depth=%.6f",
		attitudes.Affinity, attitudes.Attachment, attitudes.Trust, attitudes.Safety, attitudes.Tension,
		illusion.Affinity, illusion.Attachment, illusion.Trust, illusion.Safety, illusion.Tension,
		contextDepth)
}

func abs(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}

func buildTimeHistorySection(in Input) string {
	now := time.Now().UTC()
	gmt7 := now.Add(7 * time.Hour)
	gmt8 := now.Add(8 * time.Hour)

	var note string
	if in.IsFirstTurn {
		if in.UserChunkCount > 0 {
			note = fmt.Sprintf("This is the first turn in this session; %s is a known returner (%d prior chunks).", in.CurrentUser, in.UserChunkCount)
		} else {
			note = fmt.Sprintf("This is the first turn in this session; %s appears to be a stranger.", in.CurrentUser)
		}
	} else {
		note = fmt.Sprintf("This is a continuation of an ongoing conversation with: %s.", strings.Join(in.Participants, ", "))
	}

	return fmt.Sprintf("## Time & History\nUTC: %s\nGMT+7: %s\nGMT+8: %s\n%s",
		now.Format(time.RFC3339), gmt7.Format(time.RFC3339), gmt8.Format(time.RFC3339), note)
}
