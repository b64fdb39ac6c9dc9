// Package evaluator implements C13, the System-1 evaluator from spec.md
// §4.13: on every mention event, ask a JSON-mode LLM for signed social/
// entity/tension deltas and write them into the cognitive graph under its
// clamp. Triggers on RawEvent directly, concurrently with C12 (spec.md §9's
// resolved ambiguity), never on BotTurnCompletion. Grounded on the teacher's
// pkg/memory/extractor.go JSON-mode prompt/parse idiom, repointed at the
// social-delta schema; unlike the compressor, parse errors here are logged
// and dropped rather than retried — spec.md §4.13 names no retry policy.
package evaluator

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/sipeed/ryuuko/pkg/bus"
	"github.com/sipeed/ryuuko/pkg/contextbuilder"
	"github.com/sipeed/ryuuko/pkg/graph"
	"github.com/sipeed/ryuuko/pkg/logger"
	"github.com/sipeed/ryuuko/pkg/providers"
	"github.com/sipeed/ryuuko/pkg/rterr"
	"github.com/sipeed/ryuuko/pkg/shortterm"
	"github.com/sipeed/ryuuko/pkg/types"
)

const evalPrompt = `You are a terse social-cognition evaluator observing a single chat turn.
Conversation context:

%s

Latest message from %s: %q

Return ONLY valid JSON (no markdown fences) of the shape:
{"social_updates":[{"target_user":"...","role":"chat_partner|mentioned_person","actual_perception_delta":{"affinity":0,"attachment":0,"trust":0,"safety":0,"tension":0},"projected_illusion_delta":{"affinity":0,"attachment":0,"trust":0,"safety":0,"tension":0}}],"observed_dynamics":[{"from_user":"...","to_user":"...","observation":"...","estimated_tension":0}],"entity_updates":[{"entity_name":"...","delta_preference":0,"delta_stress":0,"delta_fascination":0}]}
Omit observed_dynamics/entity_updates entirely if there is nothing to report. projected_illusion_delta is optional.`

type socialUpdate struct {
	TargetUser             string            `json:"target_user"`
	Role                    string            `json:"role"`
	ActualPerceptionDelta   types.SocialAxes  `json:"actual_perception_delta"`
	ProjectedIllusionDelta  *types.SocialAxes `json:"projected_illusion_delta,omitempty"`
}

type observedDynamic struct {
	FromUser         string  `json:"from_user"`
	ToUser           string  `json:"to_user"`
	Observation      string  `json:"observation"`
	EstimatedTension float64 `json:"estimated_tension"`
}

type entityUpdate struct {
	EntityName      string  `json:"entity_name"`
	DeltaPreference float64 `json:"delta_preference"`
	DeltaStress     float64 `json:"delta_stress"`
	DeltaFascination float64 `json:"delta_fascination"`
}

type evalResponse struct {
	SocialUpdates    []socialUpdate    `json:"social_updates"`
	ObservedDynamics []observedDynamic `json:"observed_dynamics,omitempty"`
	EntityUpdates    []entityUpdate    `json:"entity_updates,omitempty"`
}

const roleChatPartner = "chat_partner"

// Worker is C13.
type Worker struct {
	log      *logger.Logger
	bus      *bus.Bus
	history  *shortterm.Store
	ctx      *contextbuilder.Builder
	graph    *graph.Store
	provider providers.ChatCompletion
	model    string
}

// New creates an evaluator Worker.
func New(log *logger.Logger, b *bus.Bus, history *shortterm.Store, ctxBuilder *contextbuilder.Builder,
	gr *graph.Store, provider providers.ChatCompletion, model string) *Worker {
	return &Worker{log: log, bus: b, history: history, ctx: ctxBuilder, graph: gr, provider: provider, model: model}
}

// Name implements supervisor.Worker.
func (w *Worker) Name() string { return "evaluator" }

// Run consumes broadcast RawEvents and evaluates every mention.
func (w *Worker) Run(ctx context.Context) error {
	sub, _ := w.bus.Subscribe()
	defer w.bus.Unsubscribe(sub)

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-w.bus.ShutdownCh():
			return nil
		case ev, ok := <-sub:
			if !ok {
				return nil
			}
			raw, isRaw := ev.(types.RawEvent)
			if !isRaw || !raw.IsMention {
				continue
			}
			go w.evaluate(ctx, raw)
		}
	}
}

func (w *Worker) evaluate(ctx context.Context, raw types.RawEvent) {
	key := types.ConversationKey{Platform: raw.Platform, ChannelID: raw.ChannelID}
	history := w.history.GetHistoryForPrompt(key, raw.MessageID)

	var sb strings.Builder
	for _, h := range history {
		speaker := h.DisplayName
		if h.Role == "assistant" {
			speaker = "ryuuko"
		}
		sb.WriteString(fmt.Sprintf("%s: %s\n", speaker, h.Content))
	}

	prompt := fmt.Sprintf(evalPrompt, sb.String(), raw.Username, raw.Content)
	content, err := w.provider.Chat(ctx, []providers.ChatMessage{{Role: "user", Content: prompt}}, w.model,
		providers.ChatOptions{Temperature: 0.2, JSONMode: true})
	if err != nil {
		w.log.WarnCF("evaluator", "completion failed", map[string]interface{}{"error": err.Error()})
		return
	}

	resp, err := parseEvalResponse(content)
	if err != nil {
		w.log.WarnCF("evaluator", "dropping unparsable evaluation", map[string]interface{}{
			"error": err.Error(), "kind": rterr.ParseFailure.Error(),
		})
		return
	}

	now := raw.Timestamp
	if now.IsZero() {
		now = time.Now()
	}
	w.apply(resp, now)
}

func parseEvalResponse(content string) (evalResponse, error) {
	content = strings.TrimSpace(content)
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")
	content = strings.TrimSpace(content)

	var resp evalResponse
	if err := json.Unmarshal([]byte(content), &resp); err != nil {
		return evalResponse{}, fmt.Errorf("%w: parse evaluator JSON: %v", rterr.ParseFailure, err)
	}
	return resp, nil
}

func (w *Worker) apply(resp evalResponse, now time.Time) {
	for _, su := range resp.SocialUpdates {
		if su.TargetUser == "" {
			continue
		}
		if err := w.graph.UpdateAttitudes(su.TargetUser, su.ActualPerceptionDelta, now); err != nil {
			w.log.WarnCF("evaluator", "attitudes write failed", map[string]interface{}{"error": err.Error()})
		}
		if su.Role == roleChatPartner && su.ProjectedIllusionDelta != nil {
			if err := w.graph.UpdateIllusion(su.TargetUser, *su.ProjectedIllusionDelta, now); err != nil {
				w.log.WarnCF("evaluator", "illusion write failed", map[string]interface{}{"error": err.Error()})
			}
		}
	}
	for _, od := range resp.ObservedDynamics {
		if od.FromUser == "" || od.ToUser == "" {
			continue
		}
		if err := w.graph.UpdateInteractsTension(od.FromUser, od.ToUser, od.EstimatedTension, now); err != nil {
			w.log.WarnCF("evaluator", "tension write failed", map[string]interface{}{"error": err.Error()})
		}
	}
	for _, eu := range resp.EntityUpdates {
		if eu.EntityName == "" {
			continue
		}
		delta := types.EntityAxes{Preference: eu.DeltaPreference, Stress: eu.DeltaStress, Fascination: eu.DeltaFascination}
		if err := w.graph.UpdateFeelsAbout(eu.EntityName, delta, now); err != nil {
			w.log.WarnCF("evaluator", "feels_about write failed", map[string]interface{}{"error": err.Error()})
		}
	}
}
