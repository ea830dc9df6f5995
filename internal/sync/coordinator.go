package sync

import (
	"context"
	"log/slog"

	"github.com/Enflame-Media/happy-sub000/internal/wire"
)

// Coordinator is the single sync worker owning one session's State. The
// reducer itself is pure computation and supports no internal parallelism;
// the coordinator serializes all Reduce calls through one goroutine so
// callers on any goroutine can submit batches safely.
type Coordinator struct {
	state    *State
	jobs     chan job
	done     chan struct{}
	onResult func(Result)
	logger   *slog.Logger
}

type job struct {
	batch []wire.NormalizedMessage
	agent *wire.AgentState
}

// NewCoordinator creates a coordinator around state and starts its worker
// loop. onResult is invoked from the worker goroutine for every non-empty
// result; it may be nil.
func NewCoordinator(ctx context.Context, state *State, onResult func(Result)) *Coordinator {
	c := &Coordinator{
		state:    state,
		jobs:     make(chan job, 64),
		done:     make(chan struct{}),
		onResult: onResult,
		logger:   state.logger,
	}
	go c.run(ctx)
	return c
}

func (c *Coordinator) run(ctx context.Context) {
	defer close(c.done)
	for {
		select {
		case <-ctx.Done():
			return
		case j, ok := <-c.jobs:
			if !ok {
				return
			}
			res := c.state.Reduce(j.batch, j.agent)
			if len(res.Messages) > 0 || res.TodosChanged || res.Usage != nil || res.HasReadyEvent {
				c.logger.Debug("batch reduced",
					"incoming", len(j.batch),
					"changed", len(res.Messages),
					"ready", res.HasReadyEvent)
				if c.onResult != nil {
					c.onResult(res)
				}
			}
		}
	}
}

// Submit enqueues a batch (and optional permission snapshot) for reduction.
// It blocks only when the job queue is full.
func (c *Coordinator) Submit(batch []wire.NormalizedMessage, agent *wire.AgentState) {
	c.jobs <- job{batch: batch, agent: agent}
}

// Close stops the worker after draining queued jobs and waits for it to
// finish.
func (c *Coordinator) Close() {
	close(c.jobs)
	<-c.done
}
