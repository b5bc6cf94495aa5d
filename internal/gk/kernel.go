package gk

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Kernel runs an [Orchestrator] on its own goroutine.
//
// Received messages, link changes, timer deadlines, and snapshot queries
// all arrive on a single events channel,
// so they are applied strictly in arrival order.
type Kernel struct {
	log *slog.Logger

	o *Orchestrator

	events chan Event

	// Only accessed on the main loop goroutine.
	timers [numTasks]*time.Timer
	gens   [numTasks]uint64

	quit <-chan struct{}
	done chan struct{}
}

// KernelConfig is the configuration for [NewKernel].
// The Scheduler field of the embedded config is set by the kernel.
type KernelConfig struct {
	OrchestratorConfig

	// Capacity of the events channel.
	EventBuffer int
}

// NewKernel restores the orchestrator state from storage
// and starts the kernel's main loop.
// The loop stops when ctx is cancelled.
func NewKernel(ctx context.Context, log *slog.Logger, cfg KernelConfig) *Kernel {
	if cfg.Scheduler != nil {
		panic(fmt.Errorf("BUG: KernelConfig.Scheduler must be nil (got %T)", cfg.Scheduler))
	}

	k := &Kernel{
		log: log,

		events: make(chan Event, cfg.EventBuffer),

		quit: ctx.Done(),
		done: make(chan struct{}),
	}

	oc := cfg.OrchestratorConfig
	oc.Scheduler = k
	k.o = NewOrchestrator(log.With("gpc_sys", "orchestrator"), oc)

	go k.mainLoop(ctx)

	return k
}

// Wait blocks until the main loop has stopped.
func (k *Kernel) Wait() {
	<-k.done
}

// Submit delivers e to the main loop.
// It returns an error if ctx is cancelled or the kernel has stopped
// before the event is accepted.
func (k *Kernel) Submit(ctx context.Context, e Event) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("context cancelled while submitting event: %w", context.Cause(ctx))
	case <-k.done:
		return ErrKernelStopped
	case k.events <- e:
		return nil
	}
}

// Snapshot returns a copy of the orchestrator state.
func (k *Kernel) Snapshot(ctx context.Context) (Snapshot, error) {
	resp := make(chan Snapshot, 1)
	if err := k.Submit(ctx, snapshotEvent{Resp: resp}); err != nil {
		return Snapshot{}, err
	}

	select {
	case <-ctx.Done():
		return Snapshot{}, fmt.Errorf("context cancelled while waiting for snapshot: %w", context.Cause(ctx))
	case <-k.done:
		return Snapshot{}, ErrKernelStopped
	case s := <-resp:
		return s, nil
	}
}

func (k *Kernel) mainLoop(ctx context.Context) {
	defer close(k.done)
	defer k.stopTimers()

	k.o.Restore(ctx)

	for {
		select {
		case <-ctx.Done():
			k.log.Info("Stopping due to context cancellation", "cause", context.Cause(ctx))
			return

		case e := <-k.events:
			k.handleEvent(ctx, e)
		}
	}
}

func (k *Kernel) handleEvent(ctx context.Context, e Event) {
	switch e := e.(type) {
	case MessageEvent:
		k.o.HandleMessage(ctx, e.Ctx, e.Op, e.Payload)

	case LinkEvent:
		k.o.HandleLinkChange(e.Change)

	case timerEvent:
		if e.Gen != k.gens[e.Task] {
			// Re-armed or cancelled after this deadline elapsed.
			return
		}
		k.timers[e.Task] = nil
		k.o.Fire(e.Task)

	case snapshotEvent:
		// Assume the response channel is buffered.
		e.Resp <- k.o.Snapshot()

	default:
		panic(fmt.Errorf("BUG: unhandled kernel event %T", e))
	}
}

// Arm implements [Scheduler].
// It must only be called from the main loop goroutine,
// which is always the case for calls made by the orchestrator.
func (k *Kernel) Arm(id TaskID, after time.Duration) {
	k.Cancel(id)

	gen := k.gens[id]
	k.timers[id] = time.AfterFunc(after, func() {
		select {
		case <-k.quit:
		case k.events <- timerEvent{Task: id, Gen: gen}:
		}
	})
}

// Cancel implements [Scheduler].
func (k *Kernel) Cancel(id TaskID) {
	k.gens[id]++
	if t := k.timers[id]; t != nil {
		t.Stop()
		k.timers[id] = nil
	}
}

func (k *Kernel) stopTimers() {
	for i := range k.timers {
		if t := k.timers[i]; t != nil {
			t.Stop()
		}
	}
}
