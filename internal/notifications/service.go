// Package notifications pushes delivery lifecycle events to an ntfy
// topic when one is configured.
package notifications

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"courier/internal/config"
	"courier/internal/logging"
)

// Service publishes delivery events. Implementations must be safe for
// concurrent use and must never block delivery on a slow notifier.
type Service interface {
	QueueDrained(ctx context.Context, delivered int)
	ItemFailed(ctx context.Context, label, reason string)
	RateLimitPause(ctx context.Context, pause time.Duration, hits int)
	DeliveryHalted(ctx context.Context, hits int)
	TestNotification(ctx context.Context) error
}

// NewService returns an ntfy-backed service when a topic is configured
// and a no-op service otherwise.
func NewService(cfg config.Notifications, logger *slog.Logger) Service {
	if strings.TrimSpace(cfg.NtfyTopic) == "" {
		return NoopService{}
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &ntfyService{
		topicURL: strings.TrimRight(cfg.NtfyTopic, "/"),
		client: &http.Client{
			Timeout: time.Duration(cfg.RequestTimeout) * time.Second,
		},
		logger: logging.NewComponentLogger(logger, "notifications"),
	}
}

type ntfyService struct {
	topicURL string
	client   *http.Client
	logger   *slog.Logger
}

func (s *ntfyService) QueueDrained(ctx context.Context, delivered int) {
	s.publish(ctx, "Queue drained", fmt.Sprintf("All %d pending uploads delivered.", delivered), "white_check_mark")
}

func (s *ntfyService) ItemFailed(ctx context.Context, label, reason string) {
	if label == "" {
		label = "unnamed item"
	}
	s.publish(ctx, "Upload permanently failed", fmt.Sprintf("%s: %s", label, reason), "x")
}

func (s *ntfyService) RateLimitPause(ctx context.Context, pause time.Duration, hits int) {
	s.publish(ctx, "Uploads paused",
		fmt.Sprintf("Remote rate limit hit %d time(s); resuming in %s.", hits, pause.Round(time.Second)), "hourglass")
}

func (s *ntfyService) DeliveryHalted(ctx context.Context, hits int) {
	s.publish(ctx, "Uploads halted",
		fmt.Sprintf("Rate limited %d consecutive times; waiting for manual resume.", hits), "octagonal_sign")
}

func (s *ntfyService) TestNotification(ctx context.Context) error {
	return s.send(ctx, "Courier test", "Notifications are configured correctly.", "bell")
}

func (s *ntfyService) publish(ctx context.Context, title, message, tags string) {
	if err := s.send(ctx, title, message, tags); err != nil {
		s.logger.Warn("notification failed", logging.Args(
			logging.String("title", title),
			logging.Error(err),
		)...)
	}
}

func (s *ntfyService) send(ctx context.Context, title, message, tags string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.topicURL, strings.NewReader(message))
	if err != nil {
		return fmt.Errorf("build notification request: %w", err)
	}
	req.Header.Set("Title", title)
	if tags != "" {
		req.Header.Set("Tags", tags)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("send notification: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("notification rejected with status %d", resp.StatusCode)
	}
	return nil
}

// NoopService drops every event. Used when no topic is configured.
type NoopService struct{}

func (NoopService) QueueDrained(context.Context, int) {}

func (NoopService) ItemFailed(context.Context, string, string) {}

func (NoopService) RateLimitPause(context.Context, time.Duration, int) {}

func (NoopService) DeliveryHalted(context.Context, int) {}
func (NoopService) TestNotification(context.Context) error {
	return fmt.Errorf("notifications are not configured (set notifications.ntfy_topic)")
}
