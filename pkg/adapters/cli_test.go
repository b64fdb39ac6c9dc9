package adapters

import (
	"testing"

	"github.com/sipeed/ryuuko/pkg/bus"
	"github.com/sipeed/ryuuko/pkg/logger"
	"github.com/sipeed/ryuuko/pkg/sensory"
	"github.com/sipeed/ryuuko/pkg/types"
)

// testBridge wires a sensory.Buffer to a bus inbox the same way cmd/ryuuko's
// main does: Buffer emits on a RawEvent channel, a forwarding goroutine
// re-sends each one onto the bus inbox as a types.Event.
func testBridge(b *bus.Bus, log *logger.Logger) (*sensory.Buffer, <-chan types.Event) {
	inbox, _ := b.TakeInboxReceiver()
	raw := make(chan types.RawEvent, 8)
	go func() {
		for ev := range raw {
			b.InboxSender() <- ev
		}
	}()
	return sensory.New(log, raw), inbox
}

func TestPushLineIsMentionAndDM(t *testing.T) {
	b := bus.New()
	log := logger.New(nil, "error")
	buf, inbox := testBridge(b, log)
	c := NewCLI(log, b, buf, "alice")

	c.pushLine("hello")

	ev := <-inbox
	raw, ok := ev.(types.RawEvent)
	if !ok {
		t.Fatalf("expected RawEvent, got %T", ev)
	}
	if !raw.IsMention || !raw.IsDM {
		t.Fatalf("expected IsMention and IsDM both true, got %+v", raw)
	}
	if raw.Content != "hello" || raw.Username != "alice" {
		t.Fatalf("unexpected event: %+v", raw)
	}
}

func TestPushLineIgnoresEmpty(t *testing.T) {
	b := bus.New()
	log := logger.New(nil, "error")
	buf, inbox := testBridge(b, log)
	c := NewCLI(log, b, buf, "alice")

	c.pushLine("")
	c.pushLine("real line")

	ev := <-inbox
	raw := ev.(types.RawEvent)
	if raw.Content != "real line" {
		t.Fatalf("expected only the non-empty line to be pushed, got %q", raw.Content)
	}
}
