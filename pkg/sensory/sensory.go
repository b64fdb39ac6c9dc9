// Package sensory implements the debounce actor from spec.md §4.4: bursts
// of platform messages addressed to the same (platform, channel, user) are
// aggregated into a single RawEvent once the conversation goes quiet.
// Grounded on the teacher's goroutine-per-concern channel-routing idiom in
// pkg/agent/loop.go's routeMessages, generalized here to one actor
// goroutine per key with a resettable timer instead of a single shared loop.
package sensory

import (
	"strings"
	"sync"
	"time"

	"github.com/sipeed/ryuuko/pkg/logger"
	"github.com/sipeed/ryuuko/pkg/types"
)

const (
	idleDeadline    = 3 * time.Second
	typingExtension = 4 * time.Second
)

// Buffer fans incoming platform messages into per-key debounce actors and
// emits a RawEvent on the out channel once each actor's deadline elapses.
type Buffer struct {
	log *logger.Logger
	out chan<- types.RawEvent

	mu     sync.Mutex
	actors map[types.BufferKey]*actor
}

// New creates a Buffer that emits finished RawEvents on out.
func New(log *logger.Logger, out chan<- types.RawEvent) *Buffer {
	return &Buffer{log: log, out: out, actors: make(map[types.BufferKey]*actor)}
}

// Push forwards one inbound message into the actor for its key, spawning
// the actor if none is running (or if the previous one already flushed).
func (b *Buffer) Push(msg types.RawEvent) {
	key := types.BufferKey{Platform: msg.Platform, ChannelID: msg.ChannelID, UserID: msg.UserID}

	b.mu.Lock()
	a, ok := b.actors[key]
	if !ok {
		a = newActor(key, b.log, b.out, func() { b.remove(key, a) })
		b.actors[key] = a
		go a.run()
	}
	b.mu.Unlock()

	a.push(msg)
}

// Typing extends the deadline for an in-flight actor at key, if one exists.
// A Typing signal for a key with no active actor is a no-op.
func (b *Buffer) Typing(key types.BufferKey) {
	b.mu.Lock()
	a, ok := b.actors[key]
	b.mu.Unlock()
	if ok {
		a.extend()
	}
}

func (b *Buffer) remove(key types.BufferKey, a *actor) {
	b.mu.Lock()
	if b.actors[key] == a {
		delete(b.actors, key)
	}
	b.mu.Unlock()
}

// actor owns one in-flight aggregate for a single BufferKey. At most one
// actor per key exists at a time; a closed actor is replaced on next push.
type actor struct {
	key     types.BufferKey
	log     *logger.Logger
	out     chan<- types.RawEvent
	onClose func()

	msgs    chan types.RawEvent
	extendCh chan struct{}

	aggregate strings.Builder
	hasAny    bool
	isMention bool
	isDM      bool
	messageID string
	username  string
	timestamp time.Time
}

func newActor(key types.BufferKey, log *logger.Logger, out chan<- types.RawEvent, onClose func()) *actor {
	return &actor{
		key:      key,
		log:      log,
		out:      out,
		onClose:  onClose,
		msgs:     make(chan types.RawEvent, 32),
		extendCh: make(chan struct{}, 1),
	}
}

func (a *actor) push(msg types.RawEvent) {
	a.msgs <- msg
}

func (a *actor) extend() {
	select {
	case a.extendCh <- struct{}{}:
	default:
	}
}

func (a *actor) run() {
	defer a.onClose()

	timer := time.NewTimer(idleDeadline)
	defer timer.Stop()

	for {
		select {
		case msg, ok := <-a.msgs:
			if !ok {
				a.flush()
				return
			}
			a.absorb(msg)
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(idleDeadline)

		case <-a.extendCh:
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(typingExtension)

		case <-timer.C:
			a.onClose()
			a.flush()
			return
		}
	}
}

func (a *actor) absorb(msg types.RawEvent) {
	if !a.hasAny {
		a.aggregate.WriteString(msg.Content)
		a.hasAny = true
	} else {
		a.aggregate.WriteString("\n")
		a.aggregate.WriteString(msg.Content)
	}
	a.isMention = a.isMention || msg.IsMention
	a.isDM = a.isDM || msg.IsDM
	a.messageID = msg.MessageID
	a.username = msg.Username
	a.timestamp = msg.Timestamp
}

func (a *actor) flush() {
	if !a.hasAny {
		return
	}
	content := strings.TrimRight(a.aggregate.String(), " \t\n\r")
	if content == "" {
		return
	}
	a.out <- types.RawEvent{
		Platform:  a.key.Platform,
		ChannelID: a.key.ChannelID,
		MessageID: a.messageID,
		UserID:    a.key.UserID,
		Username:  a.username,
		Content:   content,
		IsMention: a.isMention,
		IsDM:      a.isDM,
		Timestamp: a.timestamp,
	}
}
