// Package bus implements the event bus from spec.md §4.1: a cloneable
// bounded inbox, a lag-tolerant broadcast fan-out, and a one-shot shutdown
// signal. The broadcast half is adapted from the non-blocking
// publish/subscribe shape in the pack's nugget-thane-ai-agent events.Bus,
// extended with per-subscriber lag counting (spec.md's Lagged taxonomy
// entry, which the nugget example silently drops instead of reporting).
package bus

import (
	"sync"
	"sync/atomic"

	"github.com/sipeed/ryuuko/pkg/types"
)

const (
	inboxCapacity     = 256
	broadcastCapacity = 128
)

// Bus is the event fabric shared by every worker. The inbox is
// many-producer/single-consumer; the broadcast is single-producer/
// many-consumer; the shutdown channel is closed exactly once.
type Bus struct {
	inbox chan types.Event

	mu         sync.RWMutex
	subs       map[chan types.Event]*subscriber
	recvToSend map[<-chan types.Event]chan types.Event

	shutdown     chan struct{}
	shutdownOnce sync.Once

	inboxTaken atomic.Bool
}

type subscriber struct {
	ch   chan types.Event
	lost atomic.Uint64
}

// New creates a ready-to-use Bus.
func New() *Bus {
	return &Bus{
		inbox:      make(chan types.Event, inboxCapacity),
		subs:       make(map[chan types.Event]*subscriber),
		recvToSend: make(map[<-chan types.Event]chan types.Event),
		shutdown:   make(chan struct{}),
	}
}

// InboxSender returns a send-only handle to the inbox. Cloneable: every
// adapter and worker that produces inbound events gets one.
func (b *Bus) InboxSender() chan<- types.Event {
	return b.inbox
}

// TakeInboxReceiver returns the single-consumer receive end. Must be called
// at most once; the Coordinator is the only caller. The second call returns
// false.
func (b *Bus) TakeInboxReceiver() (<-chan types.Event, bool) {
	if !b.inboxTaken.CompareAndSwap(false, true) {
		return nil, false
	}
	return b.inbox, true
}

// Publish broadcasts an event to every subscriber. Non-blocking: a
// subscriber whose channel is full has the event dropped and its lag
// counter incremented instead of blocking the publisher (the Coordinator).
func (b *Bus) Publish(e types.Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, s := range b.subs {
		select {
		case s.ch <- e:
		default:
			s.lost.Add(1)
		}
	}
}

// Subscribe returns a receive-only channel of broadcast events and a
// function to read and reset that subscriber's lost-event count (the
// Lagged signal from spec.md §7).
func (b *Bus) Subscribe() (<-chan types.Event, func() uint64) {
	ch := make(chan types.Event, broadcastCapacity)
	s := &subscriber{ch: ch}
	b.mu.Lock()
	b.subs[ch] = s
	b.recvToSend[ch] = ch
	b.mu.Unlock()

	lagged := func() uint64 { return s.lost.Swap(0) }
	return ch, lagged
}

// Unsubscribe removes and closes a subscription. Safe to call twice.
func (b *Bus) Unsubscribe(ch <-chan types.Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	sendCh, ok := b.recvToSend[ch]
	if !ok {
		return
	}
	delete(b.subs, sendCh)
	delete(b.recvToSend, ch)
	close(sendCh)
}

// Shutdown closes the shutdown channel exactly once; every worker selecting
// on ShutdownCh observes the close and begins graceful stop.
func (b *Bus) Shutdown() {
	b.shutdownOnce.Do(func() {
		close(b.shutdown)
	})
}

// ShutdownCh returns the shutdown broadcast channel. Closed, never sent on.
func (b *Bus) ShutdownCh() <-chan struct{} {
	return b.shutdown
}

// SubscriberCount reports the number of live broadcast subscribers.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
