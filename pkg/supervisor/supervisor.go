// Package supervisor implements spec.md §4.2: workers register before
// start, are spawned together, and are stopped with a bounded per-worker
// join timeout. Grounded on golang.org/x/sync/errgroup's cancel-on-first-
// error composition, used the way intelligencedev-manifold wires its
// background workers, adapted so a single worker's panic or error never
// aborts its siblings (spec.md §7: "no single-worker failure may terminate
// the supervisor").
package supervisor

import (
	"context"
	"time"

	"github.com/sipeed/ryuuko/pkg/logger"
)

// Worker is anything the supervisor can run and stop. Run must return when
// ctx is cancelled; it may return earlier on its own terms (e.g. a fatal
// ConfigInvalid self-disable).
type Worker interface {
	Name() string
	Run(ctx context.Context) error
}

// Supervisor owns a registry of workers and their lifecycle.
type Supervisor struct {
	log       *logger.Logger
	workers   []Worker
	joinTimeout time.Duration

	cancel context.CancelFunc
	done   chan struct{}
}

// New creates a Supervisor with the given per-worker shutdown join timeout
// (spec.md §4.2 specifies 10s).
func New(log *logger.Logger, joinTimeout time.Duration) *Supervisor {
	if joinTimeout <= 0 {
		joinTimeout = 10 * time.Second
	}
	return &Supervisor{log: log, joinTimeout: joinTimeout}
}

// Register adds a worker to the pre-start registry. Must be called before
// StartAll.
func (s *Supervisor) Register(w Worker) {
	s.workers = append(s.workers, w)
}

// StartAll drains the registry and spawns each worker on its own goroutine
// with a shared cancellable context. Returns immediately; call Shutdown to
// stop.
func (s *Supervisor) StartAll(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})

	workers := s.workers
	s.workers = nil

	var running int
	finished := make(chan struct{}, len(workers))
	for _, w := range workers {
		running++
		go s.runWorker(runCtx, w, finished)
	}

	go func() {
		for i := 0; i < running; i++ {
			<-finished
		}
		close(s.done)
	}()
}

func (s *Supervisor) runWorker(ctx context.Context, w Worker, finished chan<- struct{}) {
	defer func() {
		if r := recover(); r != nil {
			s.log.ErrorCF("supervisor", "worker panicked", map[string]interface{}{
				"worker": w.Name(), "panic": r,
			})
		}
		finished <- struct{}{}
	}()

	if err := w.Run(ctx); err != nil {
		s.log.WarnCF("supervisor", "worker returned error", map[string]interface{}{
			"worker": w.Name(), "error": err.Error(),
		})
	}
}

// Shutdown cancels every worker's context and waits up to the configured
// join timeout for them to finish. Stragglers are logged and abandoned;
// Shutdown itself never blocks past the timeout.
func (s *Supervisor) Shutdown() {
	if s.cancel == nil {
		return
	}
	s.cancel()

	select {
	case <-s.done:
	case <-time.After(s.joinTimeout):
		s.log.WarnCF("supervisor", "shutdown join timeout exceeded, abandoning stragglers", map[string]interface{}{
			"timeout": s.joinTimeout.String(),
		})
	}
}
