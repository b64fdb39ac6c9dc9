// telegram.go implements the Telegram adapter via long polling, grounded on
// the telego/telegoutil SDK usage the teacher's pkg/tools/telegram.go
// already depends on (there the bot is driven by tool calls against an
// existing *telego.Bot; here the adapter owns bot construction and the
// update loop instead).
package adapters

import (
	"context"
	"strconv"

	"github.com/mymmrac/telego"
	tu "github.com/mymmrac/telego/telegoutil"

	"github.com/sipeed/ryuuko/pkg/bus"
	"github.com/sipeed/ryuuko/pkg/logger"
	"github.com/sipeed/ryuuko/pkg/sensory"
	"github.com/sipeed/ryuuko/pkg/types"
)

// Telegram is the Telegram bot adapter.
type Telegram struct {
	log    *logger.Logger
	bus    *bus.Bus
	buffer *sensory.Buffer
	token  string
	bot    *telego.Bot
}

// NewTelegram creates the adapter; the bot is constructed in Run.
func NewTelegram(log *logger.Logger, b *bus.Bus, buf *sensory.Buffer, token string) *Telegram {
	return &Telegram{log: log, bus: b, buffer: buf, token: token}
}

// Name implements supervisor.Worker.
func (t *Telegram) Name() string { return "telegram" }

// Run starts long polling for updates and drains outbound ResponseEvents.
func (t *Telegram) Run(ctx context.Context) error {
	bot, err := telego.NewBot(t.token)
	if err != nil {
		t.log.ErrorCF("telegram", "failed to construct bot", map[string]interface{}{"error": err.Error()})
		return nil
	}
	t.bot = bot

	self, err := bot.GetMe(ctx)
	if err != nil {
		t.log.ErrorCF("telegram", "failed to fetch bot identity", map[string]interface{}{"error": err.Error()})
		return nil
	}

	updates, err := bot.UpdatesViaLongPolling(ctx, nil)
	if err != nil {
		t.log.ErrorCF("telegram", "failed to start long polling", map[string]interface{}{"error": err.Error()})
		return nil
	}

	sub, _ := t.bus.Subscribe()
	defer t.bus.Unsubscribe(sub)

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.bus.ShutdownCh():
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			if update.Message != nil {
				t.handleMessage(self, update.Message)
			}
		case ev, ok := <-sub:
			if !ok {
				return nil
			}
			resp, isResp := ev.(types.ResponseEvent)
			if !isResp || resp.Platform != types.Telegram {
				continue
			}
			t.send(ctx, resp)
		}
	}
}

func (t *Telegram) handleMessage(self telego.User, msg *telego.Message) {
	if msg.From == nil || msg.From.IsBot {
		return
	}

	isDM := msg.Chat.Type == telego.ChatTypePrivate
	isMention := isDM
	if !isMention {
		for _, ent := range msg.Entities {
			if ent.Type == telego.EntityTypeMention && ent.Offset+ent.Length <= len(msg.Text) {
				mentionText := msg.Text[ent.Offset : ent.Offset+ent.Length]
				if mentionText == "@"+self.Username {
					isMention = true
					break
				}
			}
		}
	}

	raw := types.RawEvent{
		Platform: types.Telegram, ChannelID: strconv.FormatInt(msg.Chat.ID, 10),
		MessageID: strconv.Itoa(msg.MessageID), UserID: strconv.FormatInt(msg.From.ID, 10),
		Username: msg.From.Username, Content: msg.Text, IsMention: isMention, IsDM: isDM,
		Timestamp: msg.Time(),
	}
	t.buffer.Push(raw)
}

func (t *Telegram) send(ctx context.Context, resp types.ResponseEvent) {
	chatID, err := strconv.ParseInt(resp.ChannelID, 10, 64)
	if err != nil {
		t.log.WarnCF("telegram", "invalid chat id", map[string]interface{}{"channel": resp.ChannelID})
		return
	}

	message := tu.Message(tu.ID(chatID), resp.Content)
	if resp.ReplyToMessageID != "" && !resp.IsDM {
		if replyID, err := strconv.Atoi(resp.ReplyToMessageID); err == nil {
			message = message.WithReplyParameters(&telego.ReplyParameters{MessageID: replyID})
		}
	}
	if _, err := t.bot.SendMessage(ctx, message); err != nil {
		t.log.WarnCF("telegram", "send failed", map[string]interface{}{"error": err.Error()})
	}
}
