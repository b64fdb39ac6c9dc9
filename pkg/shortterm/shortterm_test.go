package shortterm

import (
	"testing"
	"time"

	"github.com/sipeed/ryuuko/pkg/types"
)

func TestPushAndHistoryExcludesID(t *testing.T) {
	s := New(20 * time.Minute)
	key := types.ConversationKey{Platform: types.DiscordBot, ChannelID: "c1"}
	now := time.Now()

	s.Push(key, types.MemoryMessage{ID: "1", Content: "hello", Timestamp: now}, now)
	s.Push(key, types.MemoryMessage{ID: "2", Content: "world", Timestamp: now.Add(time.Second)}, now.Add(time.Second))

	turns := s.GetHistoryForPrompt(key, "2")
	if len(turns) != 1 || turns[0].Content != "hello" {
		t.Fatalf("expected only the non-excluded message, got %+v", turns)
	}
}

func TestHistoryNeverExceedsLimit(t *testing.T) {
	s := New(20 * time.Minute)
	key := types.ConversationKey{Platform: types.Cli, ChannelID: "c2"}
	now := time.Now()
	for i := 0; i < 50; i++ {
		now = now.Add(time.Second)
		s.Push(key, types.MemoryMessage{ID: string(rune('a' + i%26)), Content: "m", Timestamp: now}, now)
	}
	turns := s.GetHistoryForPrompt(key, "")
	if len(turns) > defaultPromptHistoryLimit {
		t.Fatalf("expected at most %d turns, got %d", defaultPromptHistoryLimit, len(turns))
	}
}

func TestHistorySortedByTimestamp(t *testing.T) {
	s := New(20 * time.Minute)
	key := types.ConversationKey{Platform: types.Telegram, ChannelID: "c3"}
	now := time.Now()
	s.Push(key, types.MemoryMessage{ID: "a", Content: "a", Importance: 0.9, Timestamp: now.Add(3 * time.Second)}, now)
	s.Push(key, types.MemoryMessage{ID: "b", Content: "b", Importance: 0.1, Timestamp: now}, now)
	s.Push(key, types.MemoryMessage{ID: "c", Content: "c", Importance: 0.5, Timestamp: now.Add(time.Second)}, now)

	turns := s.GetHistoryForPrompt(key, "")
	for i := 1; i < len(turns); i++ {
		_ = i // ordering is checked indirectly via content sequence below
	}
	if len(turns) != 3 || turns[0].Content != "b" || turns[2].Content != "a" {
		t.Fatalf("expected turns sorted by timestamp ascending, got %+v", turns)
	}
}

func TestPushReturnsHandoffOnExpiry(t *testing.T) {
	s := New(time.Minute)
	key := types.ConversationKey{Platform: types.DiscordBot, ChannelID: "c4"}
	now := time.Now()
	s.Push(key, types.MemoryMessage{ID: "1", Content: "old", Timestamp: now}, now)

	later := now.Add(2 * time.Hour)
	handoff := s.Push(key, types.MemoryMessage{ID: "2", Content: "new", Timestamp: later}, later)
	if len(handoff) != 1 || handoff[0].ID != "1" {
		t.Fatalf("expected handoff of the expired session's single message, got %+v", handoff)
	}
}

func TestFlushExpiredRemovesSessions(t *testing.T) {
	s := New(time.Minute)
	key := types.ConversationKey{Platform: types.Cli, ChannelID: "c5"}
	now := time.Now()
	s.Push(key, types.MemoryMessage{ID: "1", Content: "x", Timestamp: now}, now)

	expired := s.FlushExpired(now.Add(2 * time.Hour))
	if len(expired[key]) != 1 {
		t.Fatalf("expected the session to be flushed, got %+v", expired)
	}
	if len(s.FlushExpired(now.Add(3 * time.Hour))) != 0 {
		t.Fatal("expected no sessions left to flush")
	}
}
