// discordselfbot.go implements the selfbot bridge adapter: a WebSocket
// server at 127.0.0.1:9000 that a separately-run selfbot client process
// connects to. Frame shapes and the single-active-connection/TCP_NODELAY
// posture are grounded on original_source/pa-sensory/src/discord/ws_server.rs
// (handle_connection, WsIncomingPayload/WsOutgoingPayload); the Rust side
// used tokio-tungstenite as a server, gorilla/websocket's Upgrader plays the
// same role here.
package adapters

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/sipeed/ryuuko/pkg/bus"
	"github.com/sipeed/ryuuko/pkg/logger"
	"github.com/sipeed/ryuuko/pkg/sensory"
	"github.com/sipeed/ryuuko/pkg/types"
)

const defaultSelfbotAddr = "127.0.0.1:9000"

type wsIncomingData struct {
	ChannelID string `json:"channel_id"`
	MessageID string `json:"message_id"`
	UserID    string `json:"user_id"`
	Username  string `json:"username"`
	Content   string `json:"content"`
	IsMention bool   `json:"is_mention"`
	IsDM      bool   `json:"is_dm"`
}

type wsIncomingPayload struct {
	Type string         `json:"type"`
	Data wsIncomingData `json:"data"`
}

type wsOutgoingData struct {
	ChannelID        string  `json:"channel_id"`
	Content          string  `json:"content"`
	ReplyToMessageID *string `json:"reply_to_message_id,omitempty"`
	IsTyping         bool    `json:"is_typing"`
}

type wsOutgoingPayload struct {
	Type string         `json:"type"`
	Data wsOutgoingData `json:"data"`
}

// DiscordSelfbot is the selfbot bridge adapter.
type DiscordSelfbot struct {
	log    *logger.Logger
	bus    *bus.Bus
	buffer *sensory.Buffer
	addr   string

	mu   sync.RWMutex
	conn *websocket.Conn

	upgrader websocket.Upgrader
}

// NewDiscordSelfbot creates the adapter listening on addr (defaults to
// 127.0.0.1:9000 if empty).
func NewDiscordSelfbot(log *logger.Logger, b *bus.Bus, buf *sensory.Buffer, addr string) *DiscordSelfbot {
	if addr == "" {
		addr = defaultSelfbotAddr
	}
	return &DiscordSelfbot{log: log, bus: b, buffer: buf, addr: addr}
}

// Name implements supervisor.Worker.
func (d *DiscordSelfbot) Name() string { return "discord_selfbot" }

// Run starts the WebSocket server and drains outbound ResponseEvents to
// whichever connection is currently active.
func (d *DiscordSelfbot) Run(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/", d.handleUpgrade)
	server := &http.Server{Addr: d.addr, Handler: mux}

	listener, err := net.Listen("tcp", d.addr)
	if err != nil {
		d.log.ErrorCF("discord_selfbot", "failed to bind", map[string]interface{}{"addr": d.addr, "error": err.Error()})
		return nil
	}

	go func() {
		if err := server.Serve(listener); err != nil && err != http.ErrServerClosed {
			d.log.WarnCF("discord_selfbot", "server stopped", map[string]interface{}{"error": err.Error()})
		}
	}()

	sub, _ := d.bus.Subscribe()
	defer d.bus.Unsubscribe(sub)

	for {
		select {
		case <-ctx.Done():
			d.shutdownServer(server)
			return nil
		case <-d.bus.ShutdownCh():
			d.shutdownServer(server)
			return nil
		case ev, ok := <-sub:
			if !ok {
				d.shutdownServer(server)
				return nil
			}
			resp, isResp := ev.(types.ResponseEvent)
			if !isResp || resp.Platform != types.DiscordSelfbot {
				continue
			}
			d.send(resp)
		}
	}
}

func (d *DiscordSelfbot) shutdownServer(server *http.Server) {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_ = server.Shutdown(shutdownCtx)
}

func (d *DiscordSelfbot) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	conn, err := d.upgrader.Upgrade(w, r, nil)
	if err != nil {
		d.log.WarnCF("discord_selfbot", "websocket upgrade failed", map[string]interface{}{"error": err.Error()})
		return
	}
	if tcpConn, ok := conn.NetConn().(*net.TCPConn); ok {
		_ = tcpConn.SetNoDelay(true)
	}

	d.mu.Lock()
	d.conn = conn
	d.mu.Unlock()

	d.log.InfoCF("discord_selfbot", "selfbot client connected", nil)
	d.readLoop(conn)

	d.mu.Lock()
	if d.conn == conn {
		d.conn = nil
	}
	d.mu.Unlock()
}

func (d *DiscordSelfbot) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			d.log.InfoCF("discord_selfbot", "selfbot client disconnected", map[string]interface{}{"error": err.Error()})
			return
		}
		var payload wsIncomingPayload
		if err := json.Unmarshal(data, &payload); err != nil {
			d.log.WarnCF("discord_selfbot", "failed to parse incoming frame", map[string]interface{}{"error": err.Error()})
			continue
		}
		if payload.Type != "message" {
			continue
		}
		raw := types.RawEvent{
			Platform: types.DiscordSelfbot, ChannelID: payload.Data.ChannelID, MessageID: payload.Data.MessageID,
			UserID: payload.Data.UserID, Username: payload.Data.Username, Content: payload.Data.Content,
			IsMention: payload.Data.IsMention, IsDM: payload.Data.IsDM, Timestamp: time.Now(),
		}
		d.buffer.Push(raw)
	}
}

// outgoingData builds the response frame body; the reply reference is
// attached only outside DMs.
func outgoingData(resp types.ResponseEvent) wsOutgoingData {
	out := wsOutgoingData{ChannelID: resp.ChannelID, Content: resp.Content}
	if resp.ReplyToMessageID != "" && !resp.IsDM {
		id := resp.ReplyToMessageID
		out.ReplyToMessageID = &id
	}
	return out
}

func (d *DiscordSelfbot) send(resp types.ResponseEvent) {
	d.mu.RLock()
	conn := d.conn
	d.mu.RUnlock()
	if conn == nil {
		d.log.WarnCF("discord_selfbot", "no active connection, dropping response", map[string]interface{}{"channel": resp.ChannelID})
		return
	}

	payload := wsOutgoingPayload{Type: "response", Data: outgoingData(resp)}

	data, err := json.Marshal(payload)
	if err != nil {
		d.log.WarnCF("discord_selfbot", "failed to marshal outgoing frame", map[string]interface{}{"error": err.Error()})
		return
	}
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		d.log.WarnCF("discord_selfbot", "write failed", map[string]interface{}{"error": err.Error()})
	}
}
