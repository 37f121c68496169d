// Package engine serializes upload delivery: one item in flight at a
// time, per-item retry backoff, and a global pause when the remote rate
// limits us.
package engine

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"courier/internal/backoff"
	"courier/internal/config"
	"courier/internal/logging"
	"courier/internal/notifications"
	"courier/internal/queue"
	"courier/internal/spillover"
	"courier/internal/uploader"
)

// InterItemDelay spaces consecutive deliveries so bursts of enqueued work
// do not hammer the remote.
const InterItemDelay = 300 * time.Millisecond

// Options configures an Engine.
type Options struct {
	Config   config.Upload
	State    *queue.State
	Store    spillover.Store
	Adapter  uploader.Adapter
	Notifier notifications.Service
	Logger   *slog.Logger

	// InterItemDelay overrides the default spacing between deliveries.
	InterItemDelay time.Duration
	// RetryDelay and PauseDelay override the backoff schedules. Tests
	// use these to avoid real waits.
	RetryDelay func(attempt int) time.Duration
	PauseDelay func(hits int) time.Duration
}

// Engine drains the queue in enqueue order. All exported methods are safe
// for concurrent use.
type Engine struct {
	cfg      config.Upload
	state    *queue.State
	store    spillover.Store
	adapter  uploader.Adapter
	notifier notifications.Service
	logger   *slog.Logger

	interItemDelay time.Duration
	retryDelay     func(int) time.Duration
	pauseDelay     func(int) time.Duration

	mu            sync.Mutex
	delivering    bool
	rateLimited   bool
	rateLimitHits int
	halted        bool
	closed        bool
	resumeAt      time.Time
	resumeTimer   *time.Timer

	wakeCh chan struct{}
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New builds an engine. Start must be called before items are delivered.
func New(opts Options) *Engine {
	logger := opts.Logger
	if logger == nil {
		logger = logging.NewNop()
	}
	notifier := opts.Notifier
	if notifier == nil {
		notifier = notifications.NoopService{}
	}
	interItem := opts.InterItemDelay
	if interItem <= 0 {
		interItem = InterItemDelay
	}
	retryDelay := opts.RetryDelay
	if retryDelay == nil {
		retryDelay = backoff.Delay
	}
	pauseDelay := opts.PauseDelay
	if pauseDelay == nil {
		pauseDelay = backoff.RateLimitPause
	}

	return &Engine{
		cfg:            opts.Config,
		state:          opts.State,
		store:          opts.Store,
		adapter:        opts.Adapter,
		notifier:       notifier,
		logger:         logging.NewComponentLogger(logger, "engine"),
		interItemDelay: interItem,
		retryDelay:     retryDelay,
		pauseDelay:     pauseDelay,
		wakeCh:         make(chan struct{}, 1),
	}
}

// Start hydrates spilled items back into the queue and launches the
// delivery loop. Hydration is idempotent, so restarting after a crash
// never duplicates work.
func (e *Engine) Start(ctx context.Context) error {
	items, err := e.store.ListAll(ctx)
	if err != nil {
		return err
	}
	restored := 0
	for _, item := range items {
		if e.state.Restore(item) {
			restored++
		}
	}
	if restored > 0 {
		e.logger.Info("hydrated spilled items", logging.Args(logging.Int("count", restored))...)
	}

	e.ctx, e.cancel = context.WithCancel(ctx)
	e.wg.Add(1)
	go e.run()
	e.Wake()
	return nil
}

// Stop shuts the delivery loop down and waits for the in-flight attempt
// to finish or be abandoned.
func (e *Engine) Stop() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	e.stopResumeTimerLocked()
	e.mu.Unlock()

	if e.cancel != nil {
		e.cancel()
	}
	e.wg.Wait()
}

// Enqueue appends a payload to the queue and nudges the loop.
func (e *Engine) Enqueue(payload []byte, meta queue.Metadata) *queue.Item {
	item := e.state.Enqueue(payload, meta)
	e.logger.Debug("item enqueued", logging.Args(
		logging.String(logging.FieldItemID, item.ID),
		logging.String("label", item.Metadata.Label),
	)...)
	e.Wake()
	return item
}

// Wake nudges the delivery loop. Safe to call at any time; a paused or
// halted engine ignores the nudge until its pause ends.
func (e *Engine) Wake() {
	select {
	case e.wakeCh <- struct{}{}:
	default:
	}
}

// RetryFailed resets permanently failed items for another full round of
// attempts and returns how many were reset. Their spillover records stay
// until the retried delivery succeeds.
func (e *Engine) RetryFailed() int {
	count := e.state.RetryFailed()
	if count > 0 {
		e.Wake()
	}
	return count
}

// Resume clears a rate-limit pause or halt immediately. Returns false
// when the engine was not paused.
func (e *Engine) Resume() bool {
	e.mu.Lock()
	if !e.rateLimited && !e.halted {
		e.mu.Unlock()
		return false
	}
	e.stopResumeTimerLocked()
	e.rateLimited = false
	e.halted = false
	e.rateLimitHits = 0
	e.resumeAt = time.Time{}
	e.mu.Unlock()

	e.logger.Info("delivery resumed manually")
	e.Wake()
	return true
}

// Clear drops every queued item and every spillover record. The pause
// state resets too; a cleared engine starts from a clean slate.
func (e *Engine) Clear(ctx context.Context) (int, error) {
	e.mu.Lock()
	e.stopResumeTimerLocked()
	e.rateLimited = false
	e.halted = false
	e.rateLimitHits = 0
	e.resumeAt = time.Time{}
	e.mu.Unlock()

	cleared := e.state.Clear()
	if _, err := e.store.Clear(ctx); err != nil {
		return cleared, err
	}
	return cleared, nil
}

func (e *Engine) run() {
	defer e.wg.Done()
	for {
		select {
		case <-e.ctx.Done():
			return
		case <-e.wakeCh:
		}
		e.drain()
	}
}

// drain delivers eligible items one at a time until the queue empties,
// a pause begins, or the engine stops.
func (e *Engine) drain() {
	e.mu.Lock()
	if e.delivering || e.rateLimited || e.halted || e.closed {
		e.mu.Unlock()
		return
	}
	e.delivering = true
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		e.delivering = false
		e.mu.Unlock()
	}()

	delivered := 0
	for {
		if e.paused() || e.ctx.Err() != nil {
			return
		}

		item := e.state.NextEligible()
		if item == nil {
			if delivered > 0 && e.state.Progress().Done() {
				e.notifier.QueueDrained(e.ctx, delivered)
				e.logger.Info("queue drained", logging.Args(logging.Int("delivered", delivered))...)
			}
			return
		}

		if e.deliver(item) {
			delivered++
		}

		if e.paused() {
			return
		}
		if !sleepCtx(e.ctx, e.interItemDelay) {
			return
		}
	}
}

// deliver runs one attempt for the item and routes the outcome. Returns
// true when the item was delivered.
func (e *Engine) deliver(item *queue.Item) bool {
	if !e.state.MarkInFlight(item.ID) {
		return false
	}

	// Retries wait out their backoff while holding the head of the
	// queue; ordering is stricter than throughput here.
	if item.RetryCount > 0 {
		if !sleepCtx(e.ctx, e.retryDelay(item.RetryCount)) {
			return false
		}
	}

	outcome := e.adapter.Attempt(e.ctx, item)
	if e.ctx.Err() != nil {
		// Shutdown raced the attempt. Drop the result; the spillover
		// store still has anything durable.
		return false
	}

	switch outcome.Kind {
	case uploader.KindSuccess:
		e.onSuccess(item)
		return true
	case uploader.KindRateLimited:
		e.onRateLimited(item)
		return false
	default:
		e.onRecoverable(item, outcome.Reason)
		return false
	}
}

func (e *Engine) onSuccess(item *queue.Item) {
	e.mu.Lock()
	e.rateLimitHits = 0
	e.mu.Unlock()

	e.state.MarkSuccess(item.ID)
	if err := e.store.Remove(e.ctx, item.ID); err != nil {
		e.logger.Warn("spillover cleanup failed", logging.Args(
			logging.String(logging.FieldItemID, item.ID),
			logging.Error(err),
		)...)
	}
	e.logger.Info("item delivered", logging.Args(
		logging.String(logging.FieldItemID, item.ID),
		logging.Int(logging.FieldRetry, item.RetryCount),
	)...)
}

// onRateLimited returns the item to the head of the queue untouched and
// pauses all delivery. Consecutive rate limits escalate the pause; at the
// configured ceiling the engine halts and waits for a manual resume.
func (e *Engine) onRateLimited(item *queue.Item) {
	e.state.MarkRateLimited(item.ID)

	e.mu.Lock()
	e.rateLimitHits++
	hits := e.rateLimitHits
	if e.cfg.MaxRateLimitHits > 0 && hits >= e.cfg.MaxRateLimitHits {
		e.halted = true
		e.mu.Unlock()

		e.logger.Warn("delivery halted after repeated rate limits", logging.Args(logging.Int("hits", hits))...)
		e.notifier.DeliveryHalted(e.ctx, hits)
		return
	}

	pause := e.pauseDelay(hits)
	e.rateLimited = true
	e.resumeAt = time.Now().Add(pause)
	e.stopResumeTimerLocked()
	e.resumeTimer = time.AfterFunc(pause, e.onPauseElapsed)
	e.mu.Unlock()

	e.logger.Warn("rate limited, pausing delivery", logging.Args(
		logging.Int("hits", hits),
		logging.Duration("pause", pause),
	)...)
	e.notifier.RateLimitPause(e.ctx, pause, hits)
}

func (e *Engine) onPauseElapsed() {
	e.mu.Lock()
	if e.closed || e.halted {
		e.mu.Unlock()
		return
	}
	e.rateLimited = false
	e.resumeAt = time.Time{}
	e.mu.Unlock()

	e.logger.Info("rate limit pause elapsed, resuming")
	e.Wake()
}

func (e *Engine) onRecoverable(item *queue.Item, reason string) {
	terminal, ok := e.state.MarkFailed(item.ID, reason)
	if !ok {
		return
	}
	if !terminal {
		e.logger.Warn("attempt failed, will retry", logging.Args(
			logging.String(logging.FieldItemID, item.ID),
			logging.Int(logging.FieldRetry, item.RetryCount+1),
			logging.String(logging.FieldErrorHint, reason),
		)...)
		return
	}

	failed, found := e.state.Get(item.ID)
	if !found {
		return
	}
	if err := e.store.Save(e.ctx, failed); err != nil {
		e.logger.Error("spillover save failed", logging.Args(
			logging.String(logging.FieldItemID, item.ID),
			logging.Error(err),
		)...)
	}
	e.logger.Error("item permanently failed", logging.Args(
		logging.String(logging.FieldItemID, item.ID),
		logging.String(logging.FieldErrorHint, reason),
	)...)
	e.notifier.ItemFailed(e.ctx, failed.Metadata.Label, reason)
}

func (e *Engine) paused() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.rateLimited || e.halted || e.closed
}

func (e *Engine) stopResumeTimerLocked() {
	if e.resumeTimer != nil {
		e.resumeTimer.Stop()
		e.resumeTimer = nil
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
