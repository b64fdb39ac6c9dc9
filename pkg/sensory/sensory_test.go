package sensory

import (
	"testing"
	"time"

	"github.com/sipeed/ryuuko/pkg/logger"
	"github.com/sipeed/ryuuko/pkg/types"
)

func TestDebounceAggregatesBurst(t *testing.T) {
	out := make(chan types.RawEvent, 1)
	b := New(logger.New(nil, "error"), out)

	key := types.BufferKey{Platform: types.DiscordBot, ChannelID: "c1", UserID: "u1"}
	for _, c := range []string{"a", "b", "c"} {
		b.Push(types.RawEvent{Platform: key.Platform, ChannelID: key.ChannelID, UserID: key.UserID, Content: c, Timestamp: time.Now()})
	}

	select {
	case ev := <-out:
		if ev.Content != "a\nb\nc" {
			t.Fatalf("expected aggregated content %q, got %q", "a\nb\nc", ev.Content)
		}
	case <-time.After(idleDeadline + 2*time.Second):
		t.Fatal("timed out waiting for debounced RawEvent")
	}
}

func TestDebounceOrMergesFlags(t *testing.T) {
	out := make(chan types.RawEvent, 1)
	b := New(logger.New(nil, "error"), out)

	key := types.BufferKey{Platform: types.Telegram, ChannelID: "c2", UserID: "u2"}
	b.Push(types.RawEvent{Platform: key.Platform, ChannelID: key.ChannelID, UserID: key.UserID, Content: "hi", IsMention: false})
	b.Push(types.RawEvent{Platform: key.Platform, ChannelID: key.ChannelID, UserID: key.UserID, Content: "there", IsMention: true})

	select {
	case ev := <-out:
		if !ev.IsMention {
			t.Fatal("expected OR-merged IsMention=true")
		}
	case <-time.After(idleDeadline + 2*time.Second):
		t.Fatal("timed out")
	}
}

func TestNewActorReplacesClosedOne(t *testing.T) {
	out := make(chan types.RawEvent, 2)
	b := New(logger.New(nil, "error"), out)
	key := types.BufferKey{Platform: types.Cli, ChannelID: "c3", UserID: "u3"}

	b.Push(types.RawEvent{Platform: key.Platform, ChannelID: key.ChannelID, UserID: key.UserID, Content: "first"})
	<-out // wait for the first actor to flush and close

	b.Push(types.RawEvent{Platform: key.Platform, ChannelID: key.ChannelID, UserID: key.UserID, Content: "second"})
	select {
	case ev := <-out:
		if ev.Content != "second" {
			t.Fatalf("expected fresh actor content %q, got %q", "second", ev.Content)
		}
	case <-time.After(idleDeadline + 2*time.Second):
		t.Fatal("timed out waiting for replacement actor")
	}
}
