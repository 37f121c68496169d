package engine_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"courier/internal/config"
	"courier/internal/engine"
	"courier/internal/queue"
	"courier/internal/spillover"
	"courier/internal/uploader"
)

// scriptedAdapter replays canned outcomes per item and records attempt
// order. Items without a script always succeed.
type scriptedAdapter struct {
	mu       sync.Mutex
	scripts  map[string][]uploader.Outcome
	attempts []string
}

func newScriptedAdapter() *scriptedAdapter {
	return &scriptedAdapter{scripts: make(map[string][]uploader.Outcome)}
}

func (a *scriptedAdapter) script(itemID string, outcomes ...uploader.Outcome) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.scripts[itemID] = append(a.scripts[itemID], outcomes...)
}

func (a *scriptedAdapter) Attempt(_ context.Context, item *queue.Item) uploader.Outcome {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.attempts = append(a.attempts, item.ID)
	if queued := a.scripts[item.ID]; len(queued) > 0 {
		outcome := queued[0]
		a.scripts[item.ID] = queued[1:]
		return outcome
	}
	return uploader.Outcome{Kind: uploader.KindSuccess}
}

func (a *scriptedAdapter) attemptLog() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.attempts...)
}

func rateLimited() uploader.Outcome {
	return uploader.Outcome{Kind: uploader.KindRateLimited, Reason: "remote rate limit"}
}

func recoverable(reason string) uploader.Outcome {
	return uploader.Outcome{Kind: uploader.KindRecoverable, Reason: reason}
}

type harness struct {
	engine  *engine.Engine
	state   *queue.State
	store   *spillover.MemoryStore
	adapter *scriptedAdapter
}

func newHarness(t *testing.T, cfg config.Upload) *harness {
	t.Helper()
	h := &harness{
		state:   queue.NewState(),
		store:   spillover.NewMemoryStore(),
		adapter: newScriptedAdapter(),
	}
	h.engine = engine.New(engine.Options{
		Config:         cfg,
		State:          h.state,
		Store:          h.store,
		Adapter:        h.adapter,
		InterItemDelay: time.Millisecond,
		RetryDelay:     func(int) time.Duration { return time.Millisecond },
		PauseDelay:     func(int) time.Duration { return 25 * time.Millisecond },
	})
	if err := h.engine.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(h.engine.Stop)
	return h
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestDeliversInEnqueueOrder(t *testing.T) {
	h := newHarness(t, config.Upload{})

	first := h.engine.Enqueue([]byte("a"), queue.Metadata{Label: "first"})
	second := h.engine.Enqueue([]byte("b"), queue.Metadata{Label: "second"})
	third := h.engine.Enqueue([]byte("c"), queue.Metadata{Label: "third"})

	waitFor(t, "all items delivered", func() bool {
		p := h.state.Progress()
		return p.Success == 3 && p.Pending == 0
	})

	log := h.adapter.attemptLog()
	want := []string{first.ID, second.ID, third.ID}
	if len(log) != len(want) {
		t.Fatalf("attempts = %v", log)
	}
	for i := range want {
		if log[i] != want[i] {
			t.Fatalf("attempt %d = %s, want %s", i, log[i], want[i])
		}
	}
}

func TestRecoverableFailureRetriesThenSpills(t *testing.T) {
	h := newHarness(t, config.Upload{})

	blocked := h.state.Enqueue([]byte("doomed"), queue.Metadata{Label: "doomed"})
	for range queue.MaxRetries {
		h.adapter.script(blocked.ID, recoverable("remote rejected payload"))
	}
	follower := h.engine.Enqueue([]byte("fine"), queue.Metadata{Label: "fine"})

	waitFor(t, "terminal failure and follower delivery", func() bool {
		p := h.state.Progress()
		return p.Failed == 1 && p.Success == 1
	})

	failed, _ := h.state.Get(blocked.ID)
	if failed.Status != queue.StatusFailed || failed.RetryCount != queue.MaxRetries {
		t.Fatalf("failed item = %+v", failed)
	}
	if failed.ErrorMessage != "remote rejected payload" {
		t.Fatalf("error message = %q", failed.ErrorMessage)
	}

	// The doomed item holds the head until terminal; the follower only
	// runs afterwards.
	log := h.adapter.attemptLog()
	if log[len(log)-1] != follower.ID {
		t.Fatalf("attempt log = %v, want follower last", log)
	}

	spilled, err := h.store.ListAll(context.Background())
	if err != nil {
		t.Fatalf("ListAll: %v", err)
	}
	if len(spilled) != 1 || spilled[0].ID != blocked.ID {
		t.Fatalf("spillover = %+v", spilled)
	}
}

func TestRateLimitPausesWithoutPenalty(t *testing.T) {
	h := newHarness(t, config.Upload{})

	item := h.state.Enqueue([]byte("x"), queue.Metadata{})
	h.adapter.script(item.ID, rateLimited(), rateLimited())
	h.engine.Wake()

	waitFor(t, "pause", func() bool {
		status, _ := h.engine.Status(context.Background())
		return status.State == engine.StatePaused
	})

	got, _ := h.state.Get(item.ID)
	if got.RetryCount != 0 {
		t.Fatalf("rate limit advanced retry count to %d", got.RetryCount)
	}
	if got.Status != queue.StatusPending {
		t.Fatalf("status during pause = %s", got.Status)
	}

	// Both pauses elapse on their own; the same item keeps the head and
	// eventually lands without ever touching its retry budget.
	waitFor(t, "delivery after pauses", func() bool {
		return h.state.Progress().Success == 1
	})
	delivered, _ := h.state.Get(item.ID)
	if delivered.RetryCount != 0 {
		t.Fatalf("retry count after delivery = %d, want 0", delivered.RetryCount)
	}
	status, _ := h.engine.Status(context.Background())
	if status.RateLimitHits != 0 {
		t.Fatalf("hits after success = %d, want 0", status.RateLimitHits)
	}
	if len(h.adapter.attemptLog()) != 3 {
		t.Fatalf("attempts = %v, want 3", h.adapter.attemptLog())
	}
}

func TestRepeatedRateLimitsHaltAtCeiling(t *testing.T) {
	h := newHarness(t, config.Upload{MaxRateLimitHits: 2})

	item := h.state.Enqueue([]byte("x"), queue.Metadata{})
	h.adapter.script(item.ID, rateLimited(), rateLimited())
	h.engine.Wake()

	waitFor(t, "halt", func() bool {
		status, _ := h.engine.Status(context.Background())
		return status.State == engine.StateHalted
	})

	// Halted engines stay halted; no timer revives them.
	time.Sleep(60 * time.Millisecond)
	status, _ := h.engine.Status(context.Background())
	if status.State != engine.StateHalted {
		t.Fatalf("state = %s, want halted", status.State)
	}
	if status.RateLimitHits != 2 {
		t.Fatalf("hits = %d, want 2", status.RateLimitHits)
	}

	if !h.engine.Resume() {
		t.Fatal("Resume returned false on a halted engine")
	}
	waitFor(t, "delivery after resume", func() bool {
		return h.state.Progress().Success == 1
	})
}

func TestResumeIsNoOpWhenRunning(t *testing.T) {
	h := newHarness(t, config.Upload{})
	if h.engine.Resume() {
		t.Fatal("Resume on an idle engine returned true")
	}
}

func TestRetryFailedGivesFreshBudget(t *testing.T) {
	h := newHarness(t, config.Upload{})

	item := h.state.Enqueue([]byte("x"), queue.Metadata{})
	for range queue.MaxRetries {
		h.adapter.script(item.ID, recoverable("boom"))
	}
	h.engine.Wake()

	waitFor(t, "terminal failure", func() bool {
		return h.state.Progress().Failed == 1
	})

	if got := h.engine.RetryFailed(); got != 1 {
		t.Fatalf("RetryFailed = %d, want 1", got)
	}
	waitFor(t, "success after retry", func() bool {
		return h.state.Progress().Success == 1
	})

	// Success removes the durable record.
	count, _ := h.store.Count(context.Background())
	if count != 0 {
		t.Fatalf("spillover count after success = %d", count)
	}
}

func TestClearResetsQueueSpilloverAndPause(t *testing.T) {
	h := newHarness(t, config.Upload{})

	item := h.state.Enqueue([]byte("x"), queue.Metadata{})
	h.adapter.script(item.ID, rateLimited())
	h.engine.Wake()

	waitFor(t, "pause", func() bool {
		status, _ := h.engine.Status(context.Background())
		return status.State == engine.StatePaused
	})

	cleared, err := h.engine.Clear(context.Background())
	if err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if cleared != 1 {
		t.Fatalf("Clear = %d, want 1", cleared)
	}

	status, _ := h.engine.Status(context.Background())
	if status.State == engine.StatePaused || status.RateLimitHits != 0 {
		t.Fatalf("status after clear = %+v", status)
	}
	if h.state.Len() != 0 {
		t.Fatalf("queue length after clear = %d", h.state.Len())
	}
	count, _ := h.store.Count(context.Background())
	if count != 0 {
		t.Fatalf("spillover count after clear = %d", count)
	}

	// New work flows normally after a clear.
	h.engine.Enqueue([]byte("fresh"), queue.Metadata{})
	waitFor(t, "delivery after clear", func() bool {
		return h.state.Progress().Success == 1
	})
}

func TestStartHydratesSpilledItems(t *testing.T) {
	store := spillover.NewMemoryStore()
	spilled := queue.NewItem([]byte("old"), queue.Metadata{Label: "recovered"})
	spilled.Status = queue.StatusFailed
	spilled.RetryCount = queue.MaxRetries
	spilled.ErrorMessage = "old failure"
	if err := store.Save(context.Background(), spilled); err != nil {
		t.Fatalf("seed store: %v", err)
	}

	state := queue.NewState()
	adapter := newScriptedAdapter()
	eng := engine.New(engine.Options{
		State:          state,
		Store:          store,
		Adapter:        adapter,
		InterItemDelay: time.Millisecond,
		RetryDelay:     func(int) time.Duration { return time.Millisecond },
		PauseDelay:     func(int) time.Duration { return 25 * time.Millisecond },
	})
	if err := eng.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer eng.Stop()

	// The failure comes back visible but dormant; delivery waits for an
	// explicit retry.
	got, ok := state.Get(spilled.ID)
	if !ok {
		t.Fatal("hydrated item missing from queue")
	}
	if got.Status != queue.StatusFailed || got.RetryCount != queue.MaxRetries {
		t.Fatalf("hydrated item = %+v", got)
	}
	if got.ErrorMessage != "old failure" {
		t.Fatalf("hydrated error = %q", got.ErrorMessage)
	}

	if reset := eng.RetryFailed(); reset != 1 {
		t.Fatalf("RetryFailed = %d, want 1", reset)
	}
	waitFor(t, "hydrated item delivery", func() bool {
		return state.Progress().Success == 1
	})
	count, _ := store.Count(context.Background())
	if count != 0 {
		t.Fatalf("spillover count after hydrated success = %d", count)
	}
}

// blockingAdapter parks every attempt until the test releases it.
type blockingAdapter struct {
	started chan string
	release chan uploader.Outcome
}

func (b *blockingAdapter) Attempt(ctx context.Context, item *queue.Item) uploader.Outcome {
	b.started <- item.ID
	select {
	case outcome := <-b.release:
		return outcome
	case <-ctx.Done():
		return recoverable("cancelled")
	}
}

func TestClearDuringInFlightAttemptDiscardsResult(t *testing.T) {
	adapter := &blockingAdapter{
		started: make(chan string, 1),
		release: make(chan uploader.Outcome, 1),
	}
	state := queue.NewState()
	store := spillover.NewMemoryStore()
	eng := engine.New(engine.Options{
		State:          state,
		Store:          store,
		Adapter:        adapter,
		InterItemDelay: time.Millisecond,
		RetryDelay:     func(int) time.Duration { return time.Millisecond },
		PauseDelay:     func(int) time.Duration { return 25 * time.Millisecond },
	})
	if err := eng.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer eng.Stop()

	eng.Enqueue([]byte("x"), queue.Metadata{})

	select {
	case <-adapter.started:
	case <-time.After(5 * time.Second):
		t.Fatal("attempt never started")
	}

	if _, err := eng.Clear(context.Background()); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	adapter.release <- uploader.Outcome{Kind: uploader.KindSuccess}

	// The late success lands on an item the queue no longer knows; the
	// mark is a no-op and nothing reappears.
	time.Sleep(20 * time.Millisecond)
	if state.Len() != 0 {
		t.Fatalf("queue length after late result = %d", state.Len())
	}
	p := state.Progress()
	if p.Total() != 0 {
		t.Fatalf("progress after late result = %+v", p)
	}
}

func TestStopIsIdempotentAndPrompt(t *testing.T) {
	h := newHarness(t, config.Upload{})
	h.engine.Enqueue([]byte("x"), queue.Metadata{})

	done := make(chan struct{})
	go func() {
		h.engine.Stop()
		h.engine.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Stop did not return")
	}
}
