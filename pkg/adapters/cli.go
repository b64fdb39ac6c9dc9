// cli.go implements the local REPL adapter, grounded on the teacher's
// chzyer/readline-driven interactive loop (pkg/agent/loop.go imports
// github.com/chzyer/readline for its local terminal mode).
package adapters

import (
	"context"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/chzyer/readline"

	"github.com/sipeed/ryuuko/pkg/bus"
	"github.com/sipeed/ryuuko/pkg/logger"
	"github.com/sipeed/ryuuko/pkg/sensory"
	"github.com/sipeed/ryuuko/pkg/types"
)

const cliChannelID = "cli"

// CLI is the local readline-driven adapter; every line is a mention in a
// single always-DM conversation with the operator.
type CLI struct {
	log      *logger.Logger
	bus      *bus.Bus
	buffer   *sensory.Buffer
	username string
	seq      atomic.Uint64
}

// NewCLI creates the adapter.
func NewCLI(log *logger.Logger, b *bus.Bus, buf *sensory.Buffer, username string) *CLI {
	if username == "" {
		username = "operator"
	}
	return &CLI{log: log, bus: b, buffer: buf, username: username}
}

// Name implements supervisor.Worker.
func (c *CLI) Name() string { return "cli" }

// Run drives a readline prompt, pushing each line as a RawEvent, and prints
// ResponseEvents addressed to this platform as they arrive.
func (c *CLI) Run(ctx context.Context) error {
	rl, err := readline.New(c.username + "> ")
	if err != nil {
		c.log.ErrorCF("cli", "failed to start readline", map[string]interface{}{"error": err.Error()})
		return nil
	}
	defer rl.Close()

	sub, _ := c.bus.Subscribe()
	defer c.bus.Unsubscribe(sub)

	lines := make(chan string)
	go func() {
		defer close(lines)
		for {
			line, err := rl.Readline()
			if err != nil {
				return
			}
			lines <- line
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-c.bus.ShutdownCh():
			return nil
		case line, ok := <-lines:
			if !ok {
				c.bus.Shutdown()
				return nil
			}
			c.pushLine(line)
		case ev, ok := <-sub:
			if !ok {
				return nil
			}
			resp, isResp := ev.(types.ResponseEvent)
			if !isResp || resp.Platform != types.Cli {
				continue
			}
			fmt.Println(resp.Content)
		}
	}
}

func (c *CLI) pushLine(line string) {
	if line == "" {
		return
	}
	id := c.seq.Add(1)
	raw := types.RawEvent{
		Platform: types.Cli, ChannelID: cliChannelID, MessageID: strconv.FormatUint(id, 10),
		UserID: cliChannelID, Username: c.username, Content: line,
		IsMention: true, IsDM: true, Timestamp: time.Now(),
	}
	c.buffer.Push(raw)
}
