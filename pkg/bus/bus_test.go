package bus

import (
	"testing"
	"time"

	"github.com/sipeed/ryuuko/pkg/types"
)

func TestInboxTakenOnce(t *testing.T) {
	b := New()
	if _, ok := b.TakeInboxReceiver(); !ok {
		t.Fatal("expected first TakeInboxReceiver to succeed")
	}
	if _, ok := b.TakeInboxReceiver(); ok {
		t.Fatal("expected second TakeInboxReceiver to fail")
	}
}

func TestPublishFanout(t *testing.T) {
	b := New()
	ch1, _ := b.Subscribe()
	ch2, _ := b.Subscribe()

	b.Publish(types.RawEvent{Content: "hi"})

	select {
	case e := <-ch1:
		if e.(types.RawEvent).Content != "hi" {
			t.Fatal("unexpected content on ch1")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting on ch1")
	}
	select {
	case e := <-ch2:
		if e.(types.RawEvent).Content != "hi" {
			t.Fatal("unexpected content on ch2")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting on ch2")
	}
}

func TestLaggedSubscriberReportsLoss(t *testing.T) {
	b := New()
	ch, lagged := b.Subscribe()
	for i := 0; i < broadcastCapacity+5; i++ {
		b.Publish(types.RawEvent{Content: "x"})
	}
	if lagged() == 0 {
		t.Fatal("expected lagged count > 0 after overflowing the subscriber buffer")
	}
	// drain so the test doesn't leak a full channel
	for len(ch) > 0 {
		<-ch
	}
}

func TestUnsubscribeIsIdempotent(t *testing.T) {
	b := New()
	ch, _ := b.Subscribe()
	b.Unsubscribe(ch)
	b.Unsubscribe(ch) // must not panic
	if b.SubscriberCount() != 0 {
		t.Fatal("expected 0 subscribers after unsubscribe")
	}
}

func TestShutdownClosesOnce(t *testing.T) {
	b := New()
	b.Shutdown()
	b.Shutdown() // must not panic
	select {
	case <-b.ShutdownCh():
	default:
		t.Fatal("expected shutdown channel to be closed")
	}
}
