package engine

import (
	"context"
	"time"

	"courier/internal/queue"
)

// EngineState names the coarse activity of the engine.
type EngineState string

const (
	StateIdle       EngineState = "idle"
	StateDelivering EngineState = "delivering"
	StatePaused     EngineState = "paused"
	StateHalted     EngineState = "halted"
)

// Status is a point-in-time snapshot for operators.
type Status struct {
	State          EngineState
	Progress       queue.Progress
	RateLimitHits  int
	ResumeAt       time.Time
	SpilloverCount int
}

// Status reports the current engine and queue state.
func (e *Engine) Status(ctx context.Context) (Status, error) {
	e.mu.Lock()
	state := StateIdle
	switch {
	case e.halted:
		state = StateHalted
	case e.rateLimited:
		state = StatePaused
	case e.delivering:
		state = StateDelivering
	}
	status := Status{
		State:         state,
		RateLimitHits: e.rateLimitHits,
		ResumeAt:      e.resumeAt,
	}
	e.mu.Unlock()

	status.Progress = e.state.Progress()
	count, err := e.store.Count(ctx)
	if err != nil {
		return status, err
	}
	status.SpilloverCount = count
	return status, nil
}

// Items returns copies of every queued item in enqueue order.
func (e *Engine) Items() []*queue.Item {
	return e.state.List()
}

// Progress tallies the queue.
func (e *Engine) Progress() queue.Progress {
	return e.state.Progress()
}
