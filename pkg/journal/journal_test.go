package journal

import (
	"context"
	"testing"
	"time"

	"github.com/sipeed/ryuuko/pkg/types"
)

func openTestJournal(t *testing.T) *Journal {
	t.Helper()
	j, err := Open(":memory:")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { j.Close() })
	return j
}

func TestInsertIsIdempotent(t *testing.T) {
	j := openTestJournal(t)
	ctx := context.Background()
	msg := types.MemoryMessage{ID: "m1", Platform: types.DiscordBot, ChannelID: "c1", Content: "hi", Timestamp: time.Now()}

	if err := j.Insert(ctx, msg); err != nil {
		t.Fatalf("first insert: %v", err)
	}
	if err := j.Insert(ctx, msg); err != nil {
		t.Fatalf("second insert: %v", err)
	}
	n, err := j.MessageCount(ctx)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected message_count unchanged at 1, got %d", n)
	}
}

func TestGetRecentIsChronological(t *testing.T) {
	j := openTestJournal(t)
	ctx := context.Background()
	base := time.Now().UTC()

	for i, content := range []string{"a", "b", "c"} {
		m := types.MemoryMessage{
			ID: string(rune('a' + i)), Platform: types.Telegram, ChannelID: "c1",
			Content: content, Timestamp: base.Add(time.Duration(i) * time.Second),
		}
		if err := j.Insert(ctx, m); err != nil {
			t.Fatalf("insert %d: %v", i, err)
		}
	}

	got, err := j.GetRecent(ctx, types.Telegram, "c1", 10)
	if err != nil {
		t.Fatalf("get recent: %v", err)
	}
	if len(got) != 3 || got[0].Content != "a" || got[2].Content != "c" {
		t.Fatalf("expected chronological order a,b,c; got %+v", got)
	}
}
