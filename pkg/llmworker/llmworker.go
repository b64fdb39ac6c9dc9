// Package llmworker implements C12, the streaming LLM worker from spec.md
// §4.12: snapshot history, build prompt context, stream a completion from
// the primary provider, filter <think> spans across chunk boundaries, and
// emit one ResponseEvent per completed line plus a closing BotTurnCompletion.
// Per-turn task tracking uses golang.org/x/sync/errgroup — the teacher's own
// AgentLoop handles one turn at a time on its own goroutine and has no
// equivalent fan-out, so the JoinSet-style "spawn one task per mention,
// track them, drain on shutdown" shape here is new, grounded on spec.md §5's
// per-turn cancellation model rather than any single teacher file.
package llmworker

import (
	"context"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/sipeed/ryuuko/pkg/bus"
	"github.com/sipeed/ryuuko/pkg/contextbuilder"
	"github.com/sipeed/ryuuko/pkg/episodic"
	"github.com/sipeed/ryuuko/pkg/journal"
	"github.com/sipeed/ryuuko/pkg/logger"
	"github.com/sipeed/ryuuko/pkg/providers"
	"github.com/sipeed/ryuuko/pkg/shortterm"
	"github.com/sipeed/ryuuko/pkg/types"
)

const shutdownJoinTimeout = 10 * time.Second

var mentionTagRe = regexp.MustCompile(`<@!?\d+>`)

func stripMentionTags(content string) string {
	return strings.TrimSpace(mentionTagRe.ReplaceAllString(content, ""))
}

// Options carries the per-deployment tuning spec.md §4.12/§6 names.
type Options struct {
	Persona         string
	Model           string
	MaxTokens       int
	ReasoningEffort string
	ProviderRouting string
}

// Worker is C12. It subscribes to the bus for mention events and drives one
// streaming completion per mention.
type Worker struct {
	log      *logger.Logger
	bus      *bus.Bus
	history  *shortterm.Store
	ctx      *contextbuilder.Builder
	episodic *episodic.Store
	journal  *journal.Journal // optional: persists both sides of the turn
	compress chan<- []types.MemoryMessage // optional: forwards expired-session handoffs to C9

	provider providers.StreamingChatCompletion
	opts     Options

	eg errgroup.Group
}

// New creates a Worker. journal and compress may be nil if no durable
// persistence or compression pipeline is wired for this deployment.
func New(log *logger.Logger, b *bus.Bus, history *shortterm.Store, ctxBuilder *contextbuilder.Builder,
	ep *episodic.Store, jr *journal.Journal, compress chan<- []types.MemoryMessage,
	provider providers.StreamingChatCompletion, opts Options) *Worker {
	return &Worker{
		log: log, bus: b, history: history, ctx: ctxBuilder, episodic: ep,
		journal: jr, compress: compress, provider: provider, opts: opts,
	}
}

// Name implements supervisor.Worker.
func (w *Worker) Name() string { return "llmworker" }

// Run implements supervisor.Worker: consume mention events until shutdown,
// spawning one turn per mention and draining in-flight turns on the way out.
func (w *Worker) Run(ctx context.Context) error {
	sub, _ := w.bus.Subscribe()
	defer w.bus.Unsubscribe(sub)

	turnCtx, cancelTurns := context.WithCancel(ctx)
	defer cancelTurns()

	for {
		select {
		case <-ctx.Done():
			return w.drain(cancelTurns)
		case <-w.bus.ShutdownCh():
			return w.drain(cancelTurns)
		case ev, ok := <-sub:
			if !ok {
				return w.drain(cancelTurns)
			}
			raw, isRaw := ev.(types.RawEvent)
			if !isRaw || !raw.IsMention {
				continue
			}
			w.eg.Go(func() error {
				w.handleTurn(turnCtx, raw)
				return nil
			})
		}
	}
}

func (w *Worker) drain(cancelTurns context.CancelFunc) error {
	cancelTurns()
	done := make(chan struct{})
	go func() {
		w.eg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(shutdownJoinTimeout):
		w.log.WarnCF("llmworker", "abandoning in-flight turns at shutdown", nil)
	}
	return nil
}

// turnState holds the per-turn filter and buffer state; spec.md §9 requires
// is_thinking/output_buffer to live with the task, not the worker.
type turnState struct {
	raw          types.RawEvent
	pending      string
	firstEmitted bool
	full         strings.Builder
	tf           thinkFilter
}

func (w *Worker) handleTurn(ctx context.Context, raw types.RawEvent) {
	now := raw.Timestamp
	if now.IsZero() {
		now = time.Now()
	}

	userMsg := types.MemoryMessage{
		ID: raw.MessageID, Platform: raw.Platform, ChannelID: raw.ChannelID,
		UserID: raw.UserID, Username: raw.Username,
		Content: stripMentionTags(raw.Content), IsMention: raw.IsMention,
		Timestamp: now, Importance: types.ComputeImportance(raw.Content, raw.IsMention),
	}
	key := types.ConversationKey{Platform: raw.Platform, ChannelID: raw.ChannelID}

	if handoff := w.history.Push(key, userMsg, now); len(handoff) > 0 && w.compress != nil {
		select {
		case w.compress <- handoff:
		default:
			w.log.WarnCF("llmworker", "compressor queue full, dropping handoff", map[string]interface{}{"count": len(handoff)})
		}
	}
	if w.journal != nil {
		if err := w.journal.Insert(ctx, userMsg); err != nil {
			w.log.WarnCF("llmworker", "journal insert failed", map[string]interface{}{"error": err.Error()})
		}
	}

	history := w.history.GetHistoryForPrompt(key, userMsg.ID)

	chunkCount := 0
	if w.episodic != nil {
		chunkCount, _ = w.episodic.CountUserChunks(ctx, userMsg.Username)
	}

	sections := w.ctx.BuildSections(ctx, contextbuilder.Input{
		History: history, NewMessage: userMsg.Content, CurrentUser: userMsg.Username,
		UserChunkCount: chunkCount, IsFirstTurn: len(history) == 0,
		Participants: []string{userMsg.Username},
	})

	messages := w.composeMessages(sections, history, userMsg)

	ts := &turnState{raw: raw}
	onDelta := func(delta string) { w.onDelta(ctx, ts, delta) }

	_, err := w.provider.ChatStream(ctx, messages, w.opts.Model, providers.ChatOptions{
		Temperature: 0.7, MaxTokens: w.opts.MaxTokens,
		ReasoningEffort: w.opts.ReasoningEffort, ProviderRouting: w.opts.ProviderRouting,
	}, onDelta)
	if err != nil {
		w.log.WarnCF("llmworker", "stream failed", map[string]interface{}{"error": err.Error()})
		return
	}

	if rem := ts.tf.flush(); rem != "" {
		ts.full.WriteString(rem)
		ts.pending += rem
		ts.pending = strings.ReplaceAll(ts.pending, "\n\n", "\n")
		w.emitLines(ctx, ts)
	}
	w.flushRemainder(ctx, ts)

	full := ts.full.String()
	if full == "" {
		return
	}

	botMsg := types.MemoryMessage{
		ID: uuid.NewString(), Platform: raw.Platform, ChannelID: raw.ChannelID,
		Content: full, IsBotResponse: true, ReplyToUser: raw.Username,
		Timestamp: time.Now(), Importance: types.BotResponseImportance,
	}
	w.history.Push(key, botMsg, botMsg.Timestamp)
	if w.journal != nil {
		if err := w.journal.Insert(ctx, botMsg); err != nil {
			w.log.WarnCF("llmworker", "journal insert failed", map[string]interface{}{"error": err.Error()})
		}
	}

	w.sendInbox(ctx, types.BotTurnCompletion{
		Platform: raw.Platform, ChannelID: raw.ChannelID,
		ReplyToMessageID: raw.MessageID, ReplyToUser: raw.Username, Content: full,
	})
}

func (w *Worker) composeMessages(sections []string, history []shortterm.HistoryTurn, userMsg types.MemoryMessage) []providers.ChatMessage {
	messages := make([]providers.ChatMessage, 0, len(history)+3)
	messages = append(messages, providers.ChatMessage{Role: "system", Content: w.opts.Persona})
	if joined := contextbuilder.Join(sections); joined != "" {
		messages = append(messages, providers.ChatMessage{Role: "system", Content: joined})
	}
	for _, h := range history {
		name := ""
		if h.Role == "user" {
			name = h.DisplayName
		}
		messages = append(messages, providers.ChatMessage{Role: h.Role, Name: name, Content: h.Content})
	}
	messages = append(messages, providers.ChatMessage{Role: "user", Name: userMsg.Username, Content: userMsg.Content})
	return messages
}

func (w *Worker) onDelta(ctx context.Context, ts *turnState, delta string) {
	clean := ts.tf.feed(delta)
	if clean == "" {
		return
	}
	ts.full.WriteString(clean)
	ts.pending += clean
	ts.pending = strings.ReplaceAll(ts.pending, "\n\n", "\n")
	w.emitLines(ctx, ts)
}

func (w *Worker) emitLines(ctx context.Context, ts *turnState) {
	for {
		idx := strings.IndexByte(ts.pending, '\n')
		if idx == -1 {
			return
		}
		line := strings.TrimSpace(ts.pending[:idx])
		ts.pending = ts.pending[idx+1:]
		if line == "" {
			continue
		}
		w.emitLine(ctx, ts, line)
	}
}

func (w *Worker) flushRemainder(ctx context.Context, ts *turnState) {
	line := strings.TrimSpace(ts.pending)
	ts.pending = ""
	if line != "" {
		w.emitLine(ctx, ts, line)
	}
}

func (w *Worker) emitLine(ctx context.Context, ts *turnState, line string) {
	ev := types.ResponseEvent{
		Platform: ts.raw.Platform, ChannelID: ts.raw.ChannelID,
		Content: line, IsDM: ts.raw.IsDM, Source: "llmworker",
	}
	if !ts.firstEmitted {
		ts.firstEmitted = true
		// spec.md §8 scenario 3: a DM's ResponseEvent carries no reply target
		// at all, not just an adapter-side gate against using one.
		if !ts.raw.IsDM {
			ev.ReplyToMessageID = ts.raw.MessageID
			ev.ReplyToUser = ts.raw.Username
		}
	}
	w.sendInbox(ctx, ev)
}

func (w *Worker) sendInbox(ctx context.Context, ev types.Event) {
	select {
	case w.bus.InboxSender() <- ev:
	case <-ctx.Done():
	}
}
