// Package credentials resolves the upload credential and keeps it fresh
// ahead of expiry.
package credentials

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"courier/internal/config"
	"courier/internal/logging"
)

// ErrNoCredential is returned when no credential source is configured or
// the configured source yields an empty token.
var ErrNoCredential = errors.New("no upload credential configured")

// Provider hands out the current upload credential. Token returns fast
// from an atomic snapshot so it is safe on the delivery hot path.
type Provider struct {
	cfg    config.Auth
	logger *slog.Logger

	current atomic.Pointer[string]
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewProvider builds a provider from the auth configuration and performs
// an initial load. A provider with neither token nor token_file set is an
// error; callers should gate on config.HasCredentialSource first.
func NewProvider(cfg config.Auth, logger *slog.Logger) (*Provider, error) {
	if logger == nil {
		logger = logging.NewNop()
	}
	p := &Provider{
		cfg:    cfg,
		logger: logging.NewComponentLogger(logger, "credentials"),
	}
	if err := p.refresh(); err != nil {
		return nil, err
	}
	return p, nil
}

// Token returns the current credential.
func (p *Provider) Token() (string, error) {
	token := p.current.Load()
	if token == nil || *token == "" {
		return "", ErrNoCredential
	}
	return *token, nil
}

// Start launches the background refresh loop. Only file-backed
// credentials change over time; static tokens need no refreshing.
func (p *Provider) Start(ctx context.Context) {
	if strings.TrimSpace(p.cfg.TokenFile) == "" {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.done = make(chan struct{})

	go func() {
		defer close(p.done)
		for {
			wait := p.nextRefresh()
			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				return
			case <-timer.C:
			}
			if err := p.refresh(); err != nil {
				p.logger.Warn("credential refresh failed", logging.Args(logging.Error(err))...)
			}
		}
	}()
}

// Stop terminates the refresh loop and waits for it to exit.
func (p *Provider) Stop() {
	if p.cancel == nil {
		return
	}
	p.cancel()
	<-p.done
	p.cancel = nil
}

func (p *Provider) refresh() error {
	token, err := p.load()
	if err != nil {
		return err
	}
	p.current.Store(&token)
	return nil
}

func (p *Provider) load() (string, error) {
	if token := strings.TrimSpace(p.cfg.Token); token != "" {
		return token, nil
	}
	path := strings.TrimSpace(p.cfg.TokenFile)
	if path == "" {
		return "", ErrNoCredential
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read credential file: %w", err)
	}
	token := strings.TrimSpace(string(data))
	if token == "" {
		return "", fmt.Errorf("credential file %s is empty: %w", path, ErrNoCredential)
	}
	return token, nil
}

// nextRefresh picks the next reload time. JWT credentials refresh
// refresh_lead seconds before their exp claim; everything else falls back
// to the configured interval.
func (p *Provider) nextRefresh() time.Duration {
	fallback := time.Duration(p.cfg.RefreshInterval) * time.Second
	lead := time.Duration(p.cfg.RefreshLead) * time.Second

	token := p.current.Load()
	if token == nil || *token == "" {
		return fallback
	}
	expiry, ok := tokenExpiry(*token)
	if !ok {
		return fallback
	}

	until := time.Until(expiry) - lead
	if until < time.Second {
		return time.Second
	}
	if until > fallback {
		return fallback
	}
	return until
}

// tokenExpiry extracts the exp claim without verifying the signature.
// The provider only schedules refreshes; the remote endpoint is the one
// that validates the credential.
func tokenExpiry(token string) (time.Time, bool) {
	parser := jwt.NewParser()
	claims := jwt.MapClaims{}
	if _, _, err := parser.ParseUnverified(token, claims); err != nil {
		return time.Time{}, false
	}
	expiry, err := claims.GetExpirationTime()
	if err != nil || expiry == nil {
		return time.Time{}, false
	}
	return expiry.Time, true
}
