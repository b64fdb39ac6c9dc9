// Package adapters implements C5, the platform adapters from spec.md §4.5:
// one Worker per Platform, translating native wire formats to RawEvent on
// ingress and ResponseEvent back to native sends on egress. No teacher file
// retrieves a Discord bot adapter directly — discordgo's session/handler
// idiom here follows the library's own documented usage, which the
// teacher's go.mod already depends on directly.
package adapters

import (
	"context"

	"github.com/bwmarrin/discordgo"

	"github.com/sipeed/ryuuko/pkg/bus"
	"github.com/sipeed/ryuuko/pkg/logger"
	"github.com/sipeed/ryuuko/pkg/sensory"
	"github.com/sipeed/ryuuko/pkg/types"
)

// DiscordBot is the bot-account adapter: a real Discord bot token via
// discordgo's gateway session. Ingress feeds the shared Sensory Buffer
// (spec.md §4.5); egress subscribes to the bus directly for ResponseEvents.
type DiscordBot struct {
	log     *logger.Logger
	bus     *bus.Bus
	buffer  *sensory.Buffer
	token   string
	session *discordgo.Session
}

// NewDiscordBot creates the adapter; the session is opened in Run.
func NewDiscordBot(log *logger.Logger, b *bus.Bus, buf *sensory.Buffer, token string) *DiscordBot {
	return &DiscordBot{log: log, bus: b, buffer: buf, token: token}
}

// Name implements supervisor.Worker.
func (d *DiscordBot) Name() string { return "discord_bot" }

// Run opens the gateway session, feeds inbound messages into the Sensory
// Buffer, and drains outbound ResponseEvents until shutdown.
func (d *DiscordBot) Run(ctx context.Context) error {
	session, err := discordgo.New("Bot " + d.token)
	if err != nil {
		d.log.ErrorCF("discord_bot", "failed to construct session", map[string]interface{}{"error": err.Error()})
		return nil
	}
	d.session = session
	session.Identify.Intents = discordgo.IntentsGuildMessages | discordgo.IntentsDirectMessages | discordgo.IntentsMessageContent

	session.AddHandler(d.onMessageCreate)

	if err := session.Open(); err != nil {
		d.log.ErrorCF("discord_bot", "failed to open gateway session", map[string]interface{}{"error": err.Error()})
		return nil
	}
	defer session.Close()

	sub, _ := d.bus.Subscribe()
	defer d.bus.Unsubscribe(sub)

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-d.bus.ShutdownCh():
			return nil
		case ev, ok := <-sub:
			if !ok {
				return nil
			}
			resp, isResp := ev.(types.ResponseEvent)
			if !isResp || resp.Platform != types.DiscordBot {
				continue
			}
			d.send(resp)
		}
	}
}

func (d *DiscordBot) onMessageCreate(s *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author == nil || m.Author.Bot {
		return
	}
	if s.State != nil && s.State.User != nil && m.Author.ID == s.State.User.ID {
		return
	}

	isDM := m.GuildID == ""
	isMention := isDM
	if !isMention && s.State != nil && s.State.User != nil {
		for _, u := range m.Mentions {
			if u.ID == s.State.User.ID {
				isMention = true
				break
			}
		}
	}

	raw := types.RawEvent{
		Platform: types.DiscordBot, ChannelID: m.ChannelID, MessageID: m.ID,
		UserID: m.Author.ID, Username: m.Author.Username, Content: m.Content,
		IsMention: isMention, IsDM: isDM, Timestamp: m.Timestamp,
	}
	d.buffer.Push(raw)
}

func (d *DiscordBot) send(resp types.ResponseEvent) {
	if resp.ReplyToMessageID != "" && !resp.IsDM {
		_, err := d.session.ChannelMessageSendReply(resp.ChannelID, resp.Content, &discordgo.MessageReference{
			MessageID: resp.ReplyToMessageID, ChannelID: resp.ChannelID,
		})
		if err != nil {
			d.log.WarnCF("discord_bot", "reply send failed", map[string]interface{}{"error": err.Error()})
		}
		return
	}
	if _, err := d.session.ChannelMessageSend(resp.ChannelID, resp.Content); err != nil {
		d.log.WarnCF("discord_bot", "send failed", map[string]interface{}{"error": err.Error()})
	}
}
