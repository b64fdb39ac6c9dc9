// Package compressor implements the semantic compressor from spec.md §4.9:
// on an expired session of at least 3 messages, ask an external JSON-mode
// LLM for a single diary entry and insert it into the episodic store.
// Grounded on the teacher's pkg/memory/extractor.go (markdown-fence
// stripping via strings.TrimPrefix/TrimSuffix, JSON-mode prompt shape,
// retry-with-backoff loop), repointed from multi-fact extraction to
// single-diary-entry compression.
package compressor

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/sipeed/ryuuko/pkg/episodic"
	"github.com/sipeed/ryuuko/pkg/logger"
	"github.com/sipeed/ryuuko/pkg/providers"
	"github.com/sipeed/ryuuko/pkg/rterr"
	"github.com/sipeed/ryuuko/pkg/types"
)

const (
	minSessionMessages = 3
	maxRetries         = 3
	baselineImportance = 7.0
)

const diaryPrompt = `You are compressing a chat session into a single first-person diary entry.
Summarize the conversation below from the agent's own point of view, in a few sentences.

%s

Return ONLY valid JSON of the shape {"diary_entry": "...", "importance": <1-10, optional>}, no markdown fences or explanation.`

type diaryResponse struct {
	DiaryEntry string   `json:"diary_entry"`
	Importance *float64 `json:"importance,omitempty"`
}

// Compressor turns an expired session into one EpisodicEvent.
type Compressor struct {
	log      *logger.Logger
	provider providers.ChatCompletion
	model    string
	embedder providers.Embedder
	store    *episodic.Store
}

// New creates a Compressor using provider/model for the JSON-mode call. The
// diary entry is vectorized by the episodic store's own embedding function
// on Insert; embedder is kept on the struct but Ingest does not call it.
func New(log *logger.Logger, provider providers.ChatCompletion, model string, embedder providers.Embedder, store *episodic.Store) *Compressor {
	return &Compressor{log: log, provider: provider, model: model, embedder: embedder, store: store}
}

// Ingest compresses an expired session's messages, retrying the LLM call up
// to maxRetries times with exponential backoff on transport/parse errors.
// Sessions under minSessionMessages are dropped without ingestion, as are
// empty diary entries.
func (c *Compressor) Ingest(ctx context.Context, msgs []types.MemoryMessage) error {
	if len(msgs) < minSessionMessages {
		c.log.DebugCF("compressor", "session too short for ingestion", map[string]interface{}{"count": len(msgs)})
		return nil
	}

	doc := formatChatLog(msgs)

	var resp diaryResponse
	var err error
	backoff := 500 * time.Millisecond
	for attempt := 0; attempt < maxRetries; attempt++ {
		resp, err = c.requestDiary(ctx, doc)
		if err == nil {
			break
		}
		c.log.WarnCF("compressor", "diary request failed, retrying", map[string]interface{}{
			"attempt": attempt + 1, "error": err.Error(),
		})
		time.Sleep(backoff)
		backoff *= 2
	}
	if err != nil {
		return err
	}

	if strings.TrimSpace(resp.DiaryEntry) == "" {
		c.log.DebugCF("compressor", "empty diary entry, skipping ingestion", nil)
		return nil
	}

	importance := baselineImportance
	if resp.Importance != nil && *resp.Importance >= 1 && *resp.Importance <= 10 {
		importance = *resp.Importance
	}

	firstSpeaker := ""
	for _, m := range msgs {
		if !m.IsBotResponse {
			firstSpeaker = m.Username
			break
		}
	}
	metadata, err := json.Marshal(map[string]interface{}{
		"username":              firstSpeaker,
		"message_count":         len(msgs),
		"first_message_timestamp": msgs[0].Timestamp.Unix(),
	})
	if err != nil {
		return fmt.Errorf("%w: marshal episodic metadata: %v", rterr.ParseFailure, err)
	}

	ev := types.EpisodicEvent{
		ID:         uuid.NewString(),
		Content:    resp.DiaryEntry,
		Timestamp:  msgs[len(msgs)-1].Timestamp.Unix(),
		Importance: float32(importance),
		Metadata:   string(metadata),
	}
	if err := c.store.Insert(ctx, ev); err != nil {
		return err
	}
	return nil
}

func (c *Compressor) requestDiary(ctx context.Context, doc string) (diaryResponse, error) {
	messages := []providers.ChatMessage{
		{Role: "user", Content: fmt.Sprintf(diaryPrompt, doc)},
	}
	content, err := c.provider.Chat(ctx, messages, c.model, providers.ChatOptions{Temperature: 0.3, JSONMode: true})
	if err != nil {
		return diaryResponse{}, fmt.Errorf("%w: diary completion: %v", rterr.TransportFailure, err)
	}

	content = strings.TrimSpace(content)
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")
	content = strings.TrimSpace(content)

	var resp diaryResponse
	if err := json.Unmarshal([]byte(content), &resp); err != nil {
		return diaryResponse{}, fmt.Errorf("%w: parse diary JSON: %v", rterr.ParseFailure, err)
	}
	return resp, nil
}

// Worker adapts a Compressor into a supervisor.Worker, draining expired
// sessions handed off from pkg/shortterm (via pkg/llmworker's Push calls)
// off a channel until shutdown.
type Worker struct {
	c  *Compressor
	in <-chan []types.MemoryMessage
}

// NewWorker wraps c to consume handoffs from in.
func NewWorker(c *Compressor, in <-chan []types.MemoryMessage) *Worker {
	return &Worker{c: c, in: in}
}

// Name implements supervisor.Worker.
func (w *Worker) Name() string { return "compressor" }

// Run consumes handoffs until ctx is cancelled, ingesting each on its own
// goroutine so one slow/retrying diary call never blocks the next handoff.
func (w *Worker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case msgs, ok := <-w.in:
			if !ok {
				return nil
			}
			go func(msgs []types.MemoryMessage) {
				if err := w.c.Ingest(ctx, msgs); err != nil {
					w.c.log.WarnCF("compressor", "ingestion failed", map[string]interface{}{"error": err.Error()})
				}
			}(msgs)
		}
	}
}

func formatChatLog(msgs []types.MemoryMessage) string {
	var sb strings.Builder
	for _, m := range msgs {
		speaker := m.Username
		if m.IsBotResponse {
			speaker = "ryuuko"
		}
		sb.WriteString(fmt.Sprintf("%s: %s\n", speaker, m.Content))
	}
	return sb.String()
}
