// Package daemon assembles the courier services, enforces the
// single-instance lock, and exposes the control surface used by the IPC
// and HTTP layers.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"

	"courier/internal/api"
	"courier/internal/config"
	"courier/internal/credentials"
	"courier/internal/engine"
	"courier/internal/logging"
	"courier/internal/notifications"
	"courier/internal/queue"
	"courier/internal/spillover"
	"courier/internal/uploader"
)

// ErrAlreadyRunning is returned when another daemon holds the instance
// lock.
var ErrAlreadyRunning = errors.New("another courier daemon is already running")

// Daemon owns the delivery engine and its supporting services.
type Daemon struct {
	cfg      *config.Config
	logger   *slog.Logger
	lock     *flock.Flock
	store    spillover.Store
	state    *queue.State
	engine   *engine.Engine
	provider *credentials.Provider
	notifier notifications.Service
	api      *APIServer
}

// New wires the daemon from configuration. Start must be called before
// the daemon accepts work.
func New(cfg *config.Config, logger *slog.Logger) (*Daemon, error) {
	if logger == nil {
		logger = logging.NewNop()
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, err
	}

	store, err := spillover.Open(cfg.SpilloverDBPath())
	if err != nil {
		return nil, err
	}

	var provider *credentials.Provider
	if cfg.HasCredentialSource() {
		provider, err = credentials.NewProvider(cfg.Auth, logger)
		if err != nil {
			store.Close()
			return nil, err
		}
	}

	notifier := notifications.NewService(cfg.Notifications, logger)
	state := queue.NewState()

	var tokens uploader.TokenSource
	if provider != nil {
		tokens = provider
	}
	eng := engine.New(engine.Options{
		Config:   cfg.Upload,
		State:    state,
		Store:    store,
		Adapter:  uploader.New(cfg.Upload, tokens, logger),
		Notifier: notifier,
		Logger:   logger,
	})

	d := &Daemon{
		cfg:      cfg,
		logger:   logging.NewComponentLogger(logger, "daemon"),
		lock:     flock.New(filepath.Join(cfg.Paths.DataDir, "courierd.lock")),
		store:    store,
		state:    state,
		engine:   eng,
		provider: provider,
		notifier: notifier,
	}
	if cfg.Paths.APIBind != "" {
		d.api = NewAPIServer(cfg.Paths.APIBind, cfg.Paths.APIToken, d, logger)
	}
	return d, nil
}

// Start acquires the instance lock and brings every service up.
func (d *Daemon) Start(ctx context.Context) error {
	locked, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire instance lock: %w", err)
	}
	if !locked {
		return ErrAlreadyRunning
	}

	if d.provider != nil {
		d.provider.Start(ctx)
	}
	if err := d.engine.Start(ctx); err != nil {
		d.releaseLock()
		return err
	}
	if d.api != nil {
		if err := d.api.Start(); err != nil {
			d.engine.Stop()
			d.releaseLock()
			return err
		}
	}

	d.logger.Info("daemon started", logging.Args(
		logging.String("endpoint", d.cfg.Upload.Endpoint),
		logging.Bool("api", d.api != nil),
	)...)
	return nil
}

// Stop tears services down in reverse order and releases the lock.
func (d *Daemon) Stop(ctx context.Context) {
	if d.api != nil {
		d.api.Stop(ctx)
	}
	d.engine.Stop()
	if d.provider != nil {
		d.provider.Stop()
	}
	if err := d.store.Close(); err != nil {
		d.logger.Warn("spillover close failed", logging.Args(logging.Error(err))...)
	}
	d.releaseLock()
	d.logger.Info("daemon stopped")
}

func (d *Daemon) releaseLock() {
	if err := d.lock.Unlock(); err != nil && !errors.Is(err, os.ErrInvalid) {
		d.logger.Warn("release instance lock failed", logging.Args(logging.Error(err))...)
	}
}

// Enqueue accepts a payload for delivery. Missing credentials fail here,
// before anything is queued, so misconfiguration surfaces immediately
// instead of as five doomed attempts.
func (d *Daemon) Enqueue(_ context.Context, payload []byte, meta queue.Metadata) (api.QueueItemView, error) {
	if len(payload) == 0 {
		return api.QueueItemView{}, errors.New("empty payload")
	}
	if !d.cfg.HasCredentialSource() {
		return api.QueueItemView{}, fmt.Errorf("%w: no upload credential configured (set auth.token or auth.token_file)", uploader.ErrConfiguration)
	}
	if meta.SessionID == "" {
		meta.SessionID = d.cfg.Upload.DefaultSessionTag
	}
	item := d.engine.Enqueue(payload, meta)
	return api.ItemView(item), nil
}

// Queue lists every tracked item.
func (d *Daemon) Queue() []api.QueueItemView {
	return api.ItemViews(d.engine.Items())
}

// Progress tallies the queue.
func (d *Daemon) Progress() api.ProgressSummary {
	return api.ProgressFrom(d.engine.Progress())
}

// Status reports the engine snapshot.
func (d *Daemon) Status(ctx context.Context) (api.EngineStatus, error) {
	status, err := d.engine.Status(ctx)
	if err != nil {
		return api.EngineStatus{}, err
	}
	return api.StatusFrom(status), nil
}

// RetryFailed resets permanently failed items.
func (d *Daemon) RetryFailed() int {
	return d.engine.RetryFailed()
}

// Clear drops all queued and spilled items.
func (d *Daemon) Clear(ctx context.Context) (int, error) {
	return d.engine.Clear(ctx)
}

// Resume lifts a rate-limit pause or halt.
func (d *Daemon) Resume() bool {
	return d.engine.Resume()
}

// TestNotification sends a test push.
func (d *Daemon) TestNotification(ctx context.Context) error {
	return d.notifier.TestNotification(ctx)
}

// APIAddr returns the bound HTTP API address, or empty when the API is
// disabled.
func (d *Daemon) APIAddr() string {
	if d.api == nil {
		return ""
	}
	return d.api.Addr()
}
