package adapters

import (
	"encoding/json"
	"testing"

	"github.com/sipeed/ryuuko/pkg/bus"
	"github.com/sipeed/ryuuko/pkg/logger"
	"github.com/sipeed/ryuuko/pkg/types"
)

func TestOutgoingFrameOmitsReplyIDForDM(t *testing.T) {
	b := bus.New()
	log := logger.New(nil, "error")
	buf, _ := testBridge(b, log)
	d := NewDiscordSelfbot(log, b, buf, "")

	resp := types.ResponseEvent{
		Platform: types.DiscordSelfbot, ChannelID: "c1", Content: "hi",
		IsDM: true, ReplyToMessageID: "m1",
	}
	out := outgoingData(resp)
	if out.ReplyToMessageID != nil {
		t.Fatal("expected no reply reference to be attached in a DM")
	}
	_ = d
}

func TestIncomingFrameParses(t *testing.T) {
	raw := `{"type":"message","data":{"channel_id":"c1","message_id":"m1","user_id":"u1","username":"alice","content":"hi","is_mention":true,"is_dm":false}}`
	var payload wsIncomingPayload
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if payload.Type != "message" || payload.Data.Username != "alice" || !payload.Data.IsMention {
		t.Fatalf("unexpected parse result: %+v", payload)
	}
}
