// Package coordinator implements the Coordinator from spec.md §4.3: it
// owns the single inbox receiver, runs the agent state machine, re-
// broadcasts every inbox event, and owns the Biology snapshot (restored per
// SPEC_FULL.md from original_source/pa-core/src/biology.rs). No teacher
// file has an equivalent central dispatcher — the teacher's AgentLoop reads
// its own channels directly — so the transition table here is a plain
// adjacency map, the simplest faithful rendition of spec.md §4.3's table.
package coordinator

import (
	"context"
	"sync"
	"time"

	"github.com/sipeed/ryuuko/pkg/bus"
	"github.com/sipeed/ryuuko/pkg/logger"
	"github.com/sipeed/ryuuko/pkg/rterr"
	"github.com/sipeed/ryuuko/pkg/types"
)

var transitions = map[types.AgentState]map[types.AgentState]bool{
	types.StateInitializing: {types.StateIdle: true, types.StateShuttingDown: true},
	types.StateIdle: {
		types.StateProcessing: true, types.StateConsolidating: true,
		types.StateOffline: true, types.StateShuttingDown: true,
	},
	types.StateProcessing: {
		types.StateIdle: true, types.StateWaitingForCloud: true,
		types.StateOffline: true, types.StateShuttingDown: true,
	},
	types.StateWaitingForCloud: {
		types.StateProcessing: true, types.StateIdle: true,
		types.StateOffline: true, types.StateShuttingDown: true,
	},
	types.StateOffline: {
		types.StateIdle: true, types.StateProcessing: true, types.StateShuttingDown: true,
	},
	types.StateConsolidating: {
		types.StateIdle: true, types.StateProcessing: true,
		types.StateOffline: true, types.StateShuttingDown: true,
	},
	types.StateShuttingDown: {},
}

const lowEnergyWatermark = 15.0

// BiologyHandle is the read-only view of Biology handed to every worker
// except the Coordinator (spec.md §9 "hand out a read handle, not the
// coordinator itself").
type BiologyHandle struct {
	mu  *sync.RWMutex
	bio *types.Biology
}

// Snapshot returns a copy of the current Biology state.
func (h BiologyHandle) Snapshot() types.Biology {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return *h.bio
}

// Coordinator owns the inbox, the state machine, and the Biology state.
type Coordinator struct {
	log   *logger.Logger
	bus   *bus.Bus
	state types.AgentState

	bioMu sync.RWMutex
	bio   types.Biology
}

// New creates a Coordinator in the Initializing state.
func New(log *logger.Logger, b *bus.Bus) *Coordinator {
	return &Coordinator{
		log:   log,
		bus:   b,
		state: types.StateInitializing,
		bio:   types.Biology{Energy: 100, Mood: "neutral", Valence: 0},
	}
}

// Name implements supervisor.Worker.
func (c *Coordinator) Name() string { return "coordinator" }

// BiologyHandle returns a read-only handle other workers may hold
// indefinitely.
func (c *Coordinator) BiologyHandle() BiologyHandle {
	return BiologyHandle{mu: &c.bioMu, bio: &c.bio}
}

// Transition attempts a state change, logging (but not failing) on an
// invalid transition per spec.md §7's InvalidTransition taxonomy entry.
func (c *Coordinator) Transition(to types.AgentState) {
	allowed := transitions[c.state]
	if allowed == nil || !allowed[to] {
		c.log.WarnCF("coordinator", "invalid state transition", map[string]interface{}{
			"from": c.state, "to": to, "kind": rterr.InvalidTransition.Error(),
		})
		return
	}
	c.log.InfoCF("coordinator", "state transition", map[string]interface{}{"from": c.state, "to": to})
	c.state = to
}

// State returns the current AgentState.
func (c *Coordinator) State() types.AgentState {
	return c.state
}

// Run implements spec.md §4.3/§5: take the inbox receiver once, read every
// event, apply Biology mutations or state transitions, and re-broadcast.
// Returns when the inbox closes or ctx is cancelled (shutdown).
func (c *Coordinator) Run(ctx context.Context) error {
	inbox, ok := c.bus.TakeInboxReceiver()
	if !ok {
		c.log.ErrorCF("coordinator", "inbox receiver already taken", nil)
		return nil
	}

	c.Transition(types.StateIdle)

	for {
		select {
		case <-ctx.Done():
			c.Transition(types.StateShuttingDown)
			return nil
		case <-c.bus.ShutdownCh():
			c.Transition(types.StateShuttingDown)
			return nil
		case ev, ok := <-inbox:
			if !ok {
				c.Transition(types.StateShuttingDown)
				return nil
			}
			c.handle(ev)
			c.bus.Publish(ev)
		}
	}
}

func (c *Coordinator) handle(ev types.Event) {
	switch e := ev.(type) {
	case types.RawEvent:
		if e.IsMention {
			c.applyEnergyDelta(-2.0)
			if c.state == types.StateIdle {
				c.Transition(types.StateProcessing)
			}
		}
	case types.BotTurnCompletion:
		if c.state == types.StateProcessing || c.state == types.StateWaitingForCloud {
			c.Transition(types.StateIdle)
		}
	case types.BiologyEvent:
		c.applyBiologyEvent(e)
	}
}

func (c *Coordinator) applyBiologyEvent(e types.BiologyEvent) {
	c.bioMu.Lock()
	defer c.bioMu.Unlock()
	switch e.Kind {
	case types.EnergyDelta:
		c.bio.Energy = clamp(c.bio.Energy+e.Delta, 0, 100)
	case types.MoodSet:
		c.bio.Mood = e.Mood
	case types.SleepToggle:
		c.bio.Sleeping = e.Sleep
	case types.ValenceDelta:
		c.bio.Valence = clamp(c.bio.Valence+e.Delta, -1, 1)
	}
}

// applyEnergyDelta is the internal convenience path used when a mention is
// processed; regeneration happens passively while Idle (Tick).
func (c *Coordinator) applyEnergyDelta(delta float64) {
	c.bioMu.Lock()
	energy := clamp(c.bio.Energy+delta, 0, 100)
	c.bio.Energy = energy
	c.bioMu.Unlock()

	if energy < lowEnergyWatermark && c.state != types.StateConsolidating && c.state != types.StateShuttingDown {
		c.Transition(types.StateConsolidating)
	}
}

// Tick regenerates energy slowly while Idle; called periodically by
// RunBiologyTicker (SPEC_FULL.md Biology subsystem).
func (c *Coordinator) Tick() {
	c.bioMu.Lock()
	if c.state == types.StateIdle && !c.bio.Sleeping {
		c.bio.Energy = clamp(c.bio.Energy+0.5, 0, 100)
	}
	c.bioMu.Unlock()
}

func clamp(v, min, max float64) float64 {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}

// RunBiologyTicker periodically calls Tick until ctx is cancelled; cmd/ryuuko
// starts it on its own goroutine alongside the supervised workers.
func (c *Coordinator) RunBiologyTicker(ctx context.Context, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			c.Tick()
		}
	}
}
