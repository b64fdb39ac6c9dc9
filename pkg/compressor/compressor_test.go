package compressor

import (
	"strings"
	"testing"
	"time"

	"github.com/sipeed/ryuuko/pkg/types"
)

func TestFormatChatLogUsesAgentNameForBotTurns(t *testing.T) {
	msgs := []types.MemoryMessage{
		{Username: "alice", Content: "hi", Timestamp: time.Now()},
		{IsBotResponse: true, Content: "hello", Timestamp: time.Now()},
	}
	log := formatChatLog(msgs)
	if !strings.Contains(log, "alice: hi") || !strings.Contains(log, "ryuuko: hello") {
		t.Fatalf("unexpected chat log: %q", log)
	}
}
