package queue_test

import (
	"fmt"
	"testing"

	"courier/internal/queue"
)

func TestEnqueueOrderDrivesNextEligible(t *testing.T) {
	state := queue.NewState()
	first := state.Enqueue([]byte("a"), queue.Metadata{Label: "first"})
	state.Enqueue([]byte("b"), queue.Metadata{Label: "second"})

	next := state.NextEligible()
	if next == nil || next.ID != first.ID {
		t.Fatalf("NextEligible = %+v, want first enqueued item %s", next, first.ID)
	}
}

func TestMarkFailedRevertsUntilTerminal(t *testing.T) {
	state := queue.NewState()
	item := state.Enqueue([]byte("x"), queue.Metadata{})

	for attempt := 1; attempt < queue.MaxRetries; attempt++ {
		if !state.MarkInFlight(item.ID) {
			t.Fatalf("attempt %d: MarkInFlight failed", attempt)
		}
		terminal, ok := state.MarkFailed(item.ID, fmt.Sprintf("attempt %d", attempt))
		if !ok || terminal {
			t.Fatalf("attempt %d: terminal=%v ok=%v, want non-terminal", attempt, terminal, ok)
		}
		got, _ := state.Get(item.ID)
		if got.Status != queue.StatusPending {
			t.Fatalf("attempt %d: status = %s, want pending", attempt, got.Status)
		}
		if got.ErrorMessage != "" {
			t.Fatalf("attempt %d: non-terminal failure kept error %q", attempt, got.ErrorMessage)
		}
		if got.RetryCount != attempt {
			t.Fatalf("attempt %d: retry count = %d", attempt, got.RetryCount)
		}
	}

	state.MarkInFlight(item.ID)
	terminal, ok := state.MarkFailed(item.ID, "final error")
	if !ok || !terminal {
		t.Fatalf("final attempt: terminal=%v ok=%v, want terminal", terminal, ok)
	}
	got, _ := state.Get(item.ID)
	if got.Status != queue.StatusFailed {
		t.Fatalf("final status = %s, want failed", got.Status)
	}
	if got.ErrorMessage != "final error" {
		t.Fatalf("final error = %q", got.ErrorMessage)
	}
	if state.NextEligible() != nil {
		t.Fatal("failed item must not be eligible")
	}
}

func TestMarkRateLimitedKeepsRetryCount(t *testing.T) {
	state := queue.NewState()
	item := state.Enqueue([]byte("x"), queue.Metadata{})

	state.MarkInFlight(item.ID)
	if !state.MarkRateLimited(item.ID) {
		t.Fatal("MarkRateLimited failed")
	}

	got, _ := state.Get(item.ID)
	if got.Status != queue.StatusPending {
		t.Fatalf("status = %s, want pending", got.Status)
	}
	if got.RetryCount != 0 {
		t.Fatalf("rate limit advanced retry count to %d", got.RetryCount)
	}
	if next := state.NextEligible(); next == nil || next.ID != item.ID {
		t.Fatal("rate-limited item must stay at the head of the queue")
	}
}

func TestMarksOnUnknownItemsAreNoOps(t *testing.T) {
	state := queue.NewState()
	if state.MarkInFlight("missing") {
		t.Fatal("MarkInFlight on unknown id succeeded")
	}
	if state.MarkSuccess("missing") {
		t.Fatal("MarkSuccess on unknown id succeeded")
	}
	if _, ok := state.MarkFailed("missing", "x"); ok {
		t.Fatal("MarkFailed on unknown id succeeded")
	}
	if state.MarkRateLimited("missing") {
		t.Fatal("MarkRateLimited on unknown id succeeded")
	}
}

func TestRetryFailedResetsOnlyTerminalItems(t *testing.T) {
	state := queue.NewState()
	failed := state.Enqueue([]byte("a"), queue.Metadata{})
	pending := state.Enqueue([]byte("b"), queue.Metadata{})
	succeeded := state.Enqueue([]byte("c"), queue.Metadata{})

	for range queue.MaxRetries {
		state.MarkInFlight(failed.ID)
		state.MarkFailed(failed.ID, "boom")
	}
	// Drain the two remaining items so statuses diverge.
	state.MarkInFlight(pending.ID)
	state.MarkRateLimited(pending.ID)
	state.MarkInFlight(succeeded.ID)
	state.MarkSuccess(succeeded.ID)

	if got := state.RetryFailed(); got != 1 {
		t.Fatalf("RetryFailed = %d, want 1", got)
	}
	reset, _ := state.Get(failed.ID)
	if reset.Status != queue.StatusPending || reset.RetryCount != 0 || reset.ErrorMessage != "" {
		t.Fatalf("reset item = %+v", reset)
	}
	done, _ := state.Get(succeeded.ID)
	if done.Status != queue.StatusSuccess {
		t.Fatalf("successful item disturbed: %s", done.Status)
	}
	if got := state.RetryFailed(); got != 0 {
		t.Fatalf("second RetryFailed = %d, want 0", got)
	}
}

func TestProgressCountsInFlightAsPending(t *testing.T) {
	state := queue.NewState()
	a := state.Enqueue([]byte("a"), queue.Metadata{})
	b := state.Enqueue([]byte("b"), queue.Metadata{})
	state.Enqueue([]byte("c"), queue.Metadata{})

	state.MarkInFlight(a.ID)
	state.MarkSuccess(a.ID)
	state.MarkInFlight(b.ID)

	p := state.Progress()
	if p.Success != 1 || p.Failed != 0 || p.Pending != 2 {
		t.Fatalf("Progress = %+v", p)
	}
	if p.Done() {
		t.Fatal("queue with pending work reported done")
	}
}

func TestRestoreIsIdempotentAndPreservesFailure(t *testing.T) {
	state := queue.NewState()
	item := queue.NewItem([]byte("payload"), queue.Metadata{Label: "restored"})
	item.Status = queue.StatusFailed
	item.RetryCount = queue.MaxRetries
	item.ErrorMessage = "old failure"

	if !state.Restore(item) {
		t.Fatal("first Restore returned false")
	}
	if state.Restore(item) {
		t.Fatal("second Restore of same id succeeded")
	}

	got, ok := state.Get(item.ID)
	if !ok {
		t.Fatal("restored item missing")
	}
	if got.Status != queue.StatusFailed || got.ErrorMessage != "old failure" {
		t.Fatalf("restored item = %+v, want failed with its error intact", got)
	}
	if got.RetryCount != queue.MaxRetries {
		t.Fatalf("restore changed retry count to %d", got.RetryCount)
	}
	if state.NextEligible() != nil {
		t.Fatal("restored failure must wait for an explicit retry")
	}

	// RetryFailed is what brings it back into delivery.
	if got := state.RetryFailed(); got != 1 {
		t.Fatalf("RetryFailed = %d, want 1", got)
	}
	if next := state.NextEligible(); next == nil || next.ID != item.ID {
		t.Fatal("retried item not eligible")
	}
}

func TestRestoreOfInterruptedItemResumesPending(t *testing.T) {
	state := queue.NewState()
	item := queue.NewItem([]byte("payload"), queue.Metadata{})
	item.Status = queue.StatusInFlight

	if !state.Restore(item) {
		t.Fatal("Restore returned false")
	}
	got, _ := state.Get(item.ID)
	if got.Status != queue.StatusPending {
		t.Fatalf("status = %s, want pending", got.Status)
	}
}

func TestListReturnsCopies(t *testing.T) {
	state := queue.NewState()
	state.Enqueue([]byte("payload"), queue.Metadata{})

	items := state.List()
	items[0].Status = queue.StatusFailed
	items[0].Payload[0] = 'X'

	fresh := state.List()
	if fresh[0].Status != queue.StatusPending {
		t.Fatalf("mutating a listed copy changed stored status to %s", fresh[0].Status)
	}
	if fresh[0].Payload[0] != 'p' {
		t.Fatal("mutating a listed copy changed stored payload")
	}
}

func TestClearEmptiesQueue(t *testing.T) {
	state := queue.NewState()
	state.Enqueue([]byte("a"), queue.Metadata{})
	state.Enqueue([]byte("b"), queue.Metadata{})

	if got := state.Clear(); got != 2 {
		t.Fatalf("Clear = %d, want 2", got)
	}
	if state.Len() != 0 {
		t.Fatalf("Len after clear = %d", state.Len())
	}
	if state.NextEligible() != nil {
		t.Fatal("cleared queue still has eligible work")
	}
}

func TestParseStatus(t *testing.T) {
	if _, err := queue.ParseStatus("pending"); err != nil {
		t.Fatalf("ParseStatus(pending): %v", err)
	}
	if _, err := queue.ParseStatus("bogus"); err == nil {
		t.Fatal("ParseStatus accepted bogus status")
	}
}
