// Command ryuuko is the process entry point: load config, wire every
// component from spec.md §4, register workers with the supervisor, and run
// until Ctrl-C. Grounded on the teacher's top-level main wiring order
// (config -> logger -> providers -> stores -> bus -> supervisor -> signal
// handling); the component graph itself is new, following spec.md §6.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/philippgille/chromem-go"

	"github.com/sipeed/ryuuko/pkg/adapters"
	"github.com/sipeed/ryuuko/pkg/bus"
	"github.com/sipeed/ryuuko/pkg/compressor"
	"github.com/sipeed/ryuuko/pkg/config"
	"github.com/sipeed/ryuuko/pkg/contextbuilder"
	"github.com/sipeed/ryuuko/pkg/coordinator"
	"github.com/sipeed/ryuuko/pkg/episodic"
	"github.com/sipeed/ryuuko/pkg/evaluator"
	"github.com/sipeed/ryuuko/pkg/graph"
	"github.com/sipeed/ryuuko/pkg/journal"
	"github.com/sipeed/ryuuko/pkg/llmworker"
	"github.com/sipeed/ryuuko/pkg/logger"
	"github.com/sipeed/ryuuko/pkg/providers"
	"github.com/sipeed/ryuuko/pkg/sensory"
	"github.com/sipeed/ryuuko/pkg/shortterm"
	"github.com/sipeed/ryuuko/pkg/supervisor"
	"github.com/sipeed/ryuuko/pkg/types"
)

const (
	biologyTickInterval   = 1 * time.Minute
	sessionReapInterval   = 1 * time.Minute
	supervisorJoinTimeout = 10 * time.Second
	compressHandoffBuffer = 64
	rawEventBridgeBuffer  = 256
	journalSeedLimit      = 500
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load failed: %v\n", err)
		os.Exit(1)
	}
	if problems := cfg.Validate(); len(problems) > 0 {
		for _, p := range problems {
			fmt.Fprintf(os.Stderr, "config invalid: %s\n", p)
		}
		os.Exit(1)
	}

	log := logger.New(nil, cfg.LogLevel)

	if err := run(cfg, log); err != nil {
		log.ErrorCF("main", "fatal startup error", map[string]interface{}{"error": err.Error()})
		os.Exit(1)
	}
}

func run(cfg *config.Config, log *logger.Logger) error {
	embedder := buildEmbedder(cfg)

	episodicStore, err := episodic.Open(cfg.LanceDBPath, chromemEmbeddingFunc(cfg))
	if err != nil {
		return fmt.Errorf("open episodic store: %w", err)
	}
	graphStore, err := graph.Open(cfg.GraphPath)
	if err != nil {
		return fmt.Errorf("open graph store: %w", err)
	}
	defer graphStore.Close()
	journalStore, err := journal.Open(cfg.JournalPath)
	if err != nil {
		return fmt.Errorf("open journal store: %w", err)
	}
	defer journalStore.Close()

	history := shortterm.New(cfg.BaseSessionTimeout)
	if err := seedShorttermFromJournal(context.Background(), journalStore, history); err != nil {
		log.WarnCF("main", "journal replenish failed", map[string]interface{}{"error": err.Error()})
	}

	sys2Base, sys2Key, sys2Model := cfg.Sys2()
	sys1Base, sys1Key, sys1Model := cfg.Sys1()

	sys2Provider := providers.NewOpenAIProvider(sys2Base, sys2Key)
	sys1Provider := providers.NewOpenAIProvider(sys1Base, sys1Key)

	var chatProvider providers.StreamingChatCompletion = sys2Provider
	var evalProvider providers.ChatCompletion = sys1Provider
	if cfg.ClaudeAPIKey != "" {
		claude := providers.NewClaudeProvider(cfg.ClaudeAPIKey)
		chatProvider = providers.NewFallbackProvider(log, sys2Provider, claude, sys2Model, cfg.ClaudeModel)
	}

	b := bus.New()

	rawCh := make(chan types.RawEvent, rawEventBridgeBuffer)
	go bridgeRawEvents(b, rawCh)
	sensoryBuf := sensory.New(log, rawCh)

	ctxBuilder := contextbuilder.New(episodicStore, graphStore, embedder)

	compressCh := make(chan []types.MemoryMessage, compressHandoffBuffer)
	comp := compressor.New(log, sys1Provider, sys1Model, embedder, episodicStore)
	compWorker := compressor.NewWorker(comp, compressCh)

	coord := coordinator.New(log, b)

	llmOpts := llmworker.Options{
		Persona:   cfg.Persona,
		Model:     sys2Model,
		MaxTokens: cfg.ChatMaxTokens,
	}
	llm := llmworker.New(log, b, history, ctxBuilder, episodicStore, journalStore, compressCh, chatProvider, llmOpts)

	evalWorker := evaluator.New(log, b, history, ctxBuilder, graphStore, evalProvider, sys1Model)

	sup := supervisor.New(log, supervisorJoinTimeout)
	sup.Register(coord)
	sup.Register(compWorker)
	sup.Register(llm)
	sup.Register(evalWorker)

	registerAdapters(sup, log, b, sensoryBuf, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sup.StartAll(ctx)
	go coord.RunBiologyTicker(ctx, biologyTickInterval)
	go runSessionReaper(ctx, log, history, compressCh, sessionReapInterval)

	waitForShutdown(b)
	sup.Shutdown()
	return nil
}

// bridgeRawEvents forwards every debounced RawEvent from the Sensory Buffer
// onto the bus inbox. The Buffer's output is typed chan<- types.RawEvent and
// the inbox is chan<- types.Event, so this goroutine is the only place the
// two element types meet.
func bridgeRawEvents(b *bus.Bus, in <-chan types.RawEvent) {
	for raw := range in {
		select {
		case b.InboxSender() <- raw:
		case <-b.ShutdownCh():
			return
		}
	}
}

// seedShorttermFromJournal implements spec.md §4.7's startup replenish: pull
// the most recent 500 messages across all channels from the durable journal
// and pre-populate history so they count as already-persisted (Seed never
// re-triggers a compressor handoff the way Push does).
func seedShorttermFromJournal(ctx context.Context, j *journal.Journal, history *shortterm.Store) error {
	msgs, err := j.GetRecentAcrossChannels(ctx, journalSeedLimit)
	if err != nil {
		return fmt.Errorf("replenish short-term memory: %w", err)
	}
	type bucket struct {
		msgs       []types.MemoryMessage
		lastActive time.Time
	}
	buckets := make(map[types.ConversationKey]*bucket)
	order := make([]types.ConversationKey, 0)
	for _, m := range msgs {
		key := types.ConversationKey{Platform: m.Platform, ChannelID: m.ChannelID}
		b, ok := buckets[key]
		if !ok {
			b = &bucket{}
			buckets[key] = b
			order = append(order, key)
		}
		b.msgs = append(b.msgs, m)
		if m.Timestamp.After(b.lastActive) {
			b.lastActive = m.Timestamp
		}
	}
	for _, key := range order {
		b := buckets[key]
		history.Seed(key, b.msgs, b.lastActive)
	}
	return nil
}

// runSessionReaper periodically drains sessions that have gone idle past
// their timeout without ever receiving a follow-up message — the path
// llmworker.handleTurn's lazy expiry check can never reach, since nothing
// arrives on that ConversationKey again to trigger it. Each reaped session
// is forwarded to the compressor the same way a lazy handoff is.
func runSessionReaper(ctx context.Context, log *logger.Logger, history *shortterm.Store, compressCh chan<- []types.MemoryMessage, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for key, handoff := range history.FlushExpired(time.Now()) {
				select {
				case compressCh <- handoff:
				default:
					log.WarnCF("main", "compressor queue full, dropping reaped session", map[string]interface{}{
						"platform": string(key.Platform), "channel": key.ChannelID, "count": len(handoff),
					})
				}
			}
		}
	}
}

func registerAdapters(sup *supervisor.Supervisor, log *logger.Logger, b *bus.Bus, buf *sensory.Buffer, cfg *config.Config) {
	registered := false
	if cfg.DiscordBotToken != "" {
		sup.Register(adapters.NewDiscordBot(log, b, buf, cfg.DiscordBotToken))
		registered = true
	}
	if cfg.DiscordSelfbotToken != "" {
		sup.Register(adapters.NewDiscordSelfbot(log, b, buf, ""))
		registered = true
	}
	if cfg.TelegramToken != "" {
		sup.Register(adapters.NewTelegram(log, b, buf, cfg.TelegramToken))
		registered = true
	}
	if !registered {
		sup.Register(adapters.NewCLI(log, b, buf, cfg.CliUser))
	}
}

func waitForShutdown(b *bus.Bus) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	select {
	case <-sigCh:
	case <-b.ShutdownCh():
	}
}

func buildEmbedder(cfg *config.Config) providers.Embedder {
	base, key, _ := cfg.Sys2()
	if key == "" {
		return nil
	}
	return providers.NewOpenAIProvider(base, key)
}

// chromemEmbeddingFunc wires the episodic store's ANN collection to
// chromem-go's own OpenAI embeddings helper, authenticated with the System-2
// API key. Only the key is passed: the helper uses OpenAI's own endpoint, and
// the configured System-2 API base is not applied to embeddings.
func chromemEmbeddingFunc(cfg *config.Config) chromem.EmbeddingFunc {
	_, key, _ := cfg.Sys2()
	if key == "" {
		return nil
	}
	return chromem.NewEmbeddingFuncOpenAI(key, chromem.EmbeddingModelOpenAI3Small)
}
