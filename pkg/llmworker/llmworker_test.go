package llmworker

import (
	"context"
	"testing"
	"time"

	"github.com/sipeed/ryuuko/pkg/bus"
	"github.com/sipeed/ryuuko/pkg/contextbuilder"
	"github.com/sipeed/ryuuko/pkg/logger"
	"github.com/sipeed/ryuuko/pkg/providers"
	"github.com/sipeed/ryuuko/pkg/shortterm"
	"github.com/sipeed/ryuuko/pkg/types"
)

type fakeStreamer struct {
	chunks []string
}

func (f *fakeStreamer) Chat(ctx context.Context, messages []providers.ChatMessage, model string, opts providers.ChatOptions) (string, error) {
	return "", nil
}

func (f *fakeStreamer) ChatStream(ctx context.Context, messages []providers.ChatMessage, model string, opts providers.ChatOptions, onDelta providers.StreamCallback) (string, error) {
	var full string
	for _, c := range f.chunks {
		onDelta(c)
		full += c
	}
	return full, nil
}

func TestStripMentionTags(t *testing.T) {
	if got := stripMentionTags("<@12345> hello there"); got != "hello there" {
		t.Fatalf("unexpected: %q", got)
	}
}

func TestHandleTurnEmitsLinesAndCompletion(t *testing.T) {
	b := bus.New()
	inbox, _ := b.TakeInboxReceiver()

	history := shortterm.New(20 * time.Minute)
	cb := contextbuilder.New(nil, nil, nil)
	streamer := &fakeStreamer{chunks: []string{"line one\n", "line two<think>ignored</think>\n"}}

	w := New(logger.New(nil, "error"), b, history, cb, nil, nil, nil, streamer, Options{
		Persona: "you are a test agent", Model: "test-model", MaxTokens: 100,
	})

	raw := types.RawEvent{
		Platform: types.Cli, ChannelID: "c1", MessageID: "m1", UserID: "u1",
		Username: "alice", Content: "hi there", IsMention: true, Timestamp: time.Now(),
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	done := make(chan struct{})
	go func() {
		w.handleTurn(ctx, raw)
		close(done)
	}()

	var gotLines int
	var gotCompletion bool
	timeout := time.After(2 * time.Second)
	for !gotCompletion {
		select {
		case ev := <-inbox:
			switch e := ev.(type) {
			case types.ResponseEvent:
				gotLines++
				if gotLines == 1 && e.ReplyToMessageID != "m1" {
					t.Fatalf("expected first line to carry reply-to, got %q", e.ReplyToMessageID)
				}
			case types.BotTurnCompletion:
				gotCompletion = true
			}
		case <-timeout:
			t.Fatal("timed out waiting for events")
		}
	}
	<-done

	if gotLines != 2 {
		t.Fatalf("expected 2 response lines, got %d", gotLines)
	}
}
