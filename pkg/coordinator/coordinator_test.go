package coordinator

import (
	"testing"

	"github.com/sipeed/ryuuko/pkg/bus"
	"github.com/sipeed/ryuuko/pkg/logger"
	"github.com/sipeed/ryuuko/pkg/types"
)

func newTestCoordinator() *Coordinator {
	return New(logger.New(nil, "error"), bus.New())
}

func TestTransitionTableNeverGoesOutOfBounds(t *testing.T) {
	c := newTestCoordinator()
	c.Transition(types.StateIdle)
	if c.State() != types.StateIdle {
		t.Fatalf("expected Idle, got %v", c.State())
	}
	// Idle -> WaitingForCloud is not in the table.
	c.Transition(types.StateWaitingForCloud)
	if c.State() != types.StateIdle {
		t.Fatalf("expected invalid transition to be ignored, state changed to %v", c.State())
	}
}

func TestShuttingDownIsTerminal(t *testing.T) {
	c := newTestCoordinator()
	c.Transition(types.StateIdle)
	c.Transition(types.StateShuttingDown)
	c.Transition(types.StateIdle)
	if c.State() != types.StateShuttingDown {
		t.Fatalf("expected ShuttingDown to remain terminal, got %v", c.State())
	}
}

func TestBiologyHandleReflectsMutation(t *testing.T) {
	c := newTestCoordinator()
	handle := c.BiologyHandle()
	before := handle.Snapshot().Energy

	c.applyBiologyEvent(types.BiologyEvent{Kind: types.EnergyDelta, Delta: -10})
	after := handle.Snapshot().Energy
	if after != before-10 {
		t.Fatalf("expected energy to drop by 10, got %v -> %v", before, after)
	}
}

func TestEnergyClampedToBounds(t *testing.T) {
	c := newTestCoordinator()
	c.applyBiologyEvent(types.BiologyEvent{Kind: types.EnergyDelta, Delta: -1000})
	if c.BiologyHandle().Snapshot().Energy != 0 {
		t.Fatalf("expected energy clamped to 0")
	}
}
