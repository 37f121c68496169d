// Package uploader performs a single delivery attempt against the remote
// storage endpoint and classifies the response for the engine.
package uploader

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"courier/internal/config"
	"courier/internal/logging"
	"courier/internal/queue"
)

// ErrConfiguration marks failures that no amount of retrying can fix,
// such as a missing credential or endpoint. The engine surfaces these to
// the caller instead of queueing work that cannot succeed.
var ErrConfiguration = errors.New("uploader configuration error")

// Kind classifies the result of a delivery attempt.
type Kind int

const (
	// KindSuccess means the remote accepted the payload.
	KindSuccess Kind = iota
	// KindRateLimited means the remote asked us to back off. The item is
	// not at fault and keeps its retry budget.
	KindRateLimited
	// KindRecoverable covers transport errors and server-side failures
	// worth retrying against the item's budget.
	KindRecoverable
)

func (k Kind) String() string {
	switch k {
	case KindSuccess:
		return "success"
	case KindRateLimited:
		return "rate_limited"
	case KindRecoverable:
		return "recoverable"
	default:
		return "unknown"
	}
}

// Outcome is the classified result of one attempt.
type Outcome struct {
	Kind   Kind
	Reason string
}

// Adapter performs one delivery attempt. Implementations must honor the
// context and classify every result; they never panic the engine.
type Adapter interface {
	Attempt(ctx context.Context, item *queue.Item) Outcome
}

// TokenSource yields the credential attached to each request.
type TokenSource interface {
	Token() (string, error)
}

// HTTPUploader delivers payloads with a POST to the configured endpoint.
type HTTPUploader struct {
	endpoint string
	client   *http.Client
	tokens   TokenSource
	logger   *slog.Logger
}

// New builds an uploader from the upload configuration.
func New(cfg config.Upload, tokens TokenSource, logger *slog.Logger) *HTTPUploader {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &HTTPUploader{
		endpoint: cfg.Endpoint,
		client: &http.Client{
			Timeout: time.Duration(cfg.RequestTimeout) * time.Second,
		},
		tokens: tokens,
		logger: logging.NewComponentLogger(logger, "uploader"),
	}
}

// Attempt posts the item payload and classifies the response.
func (u *HTTPUploader) Attempt(ctx context.Context, item *queue.Item) Outcome {
	req, err := u.buildRequest(ctx, item)
	if err != nil {
		return Outcome{Kind: KindRecoverable, Reason: err.Error()}
	}

	resp, err := u.client.Do(req)
	if err != nil {
		u.logger.Debug("delivery transport error", logging.Args(
			logging.String(logging.FieldItemID, item.ID),
			logging.Error(err),
		)...)
		return Outcome{Kind: KindRecoverable, Reason: fmt.Sprintf("transport: %v", err)}
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	return classify(resp.StatusCode, body)
}

func (u *HTTPUploader) buildRequest(ctx context.Context, item *queue.Item) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.endpoint, bytes.NewReader(item.Payload))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	req.Header.Set("X-Courier-Item-ID", item.ID)
	if item.Metadata.Label != "" {
		req.Header.Set("X-Courier-Label", item.Metadata.Label)
	}
	if item.Metadata.Phase != "" {
		req.Header.Set("X-Courier-Phase", item.Metadata.Phase)
	}
	if item.Metadata.Sequence != 0 {
		req.Header.Set("X-Courier-Sequence", strconv.Itoa(item.Metadata.Sequence))
	}
	if item.Metadata.SessionID != "" {
		req.Header.Set("X-Courier-Session", item.Metadata.SessionID)
	}
	if item.Metadata.Device != "" {
		req.Header.Set("X-Courier-Device", item.Metadata.Device)
	}
	if !item.Metadata.CapturedAt.IsZero() {
		req.Header.Set("X-Courier-Captured-At", item.Metadata.CapturedAt.UTC().Format(time.RFC3339))
	}

	if u.tokens != nil {
		token, err := u.tokens.Token()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrConfiguration, err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req, nil
}

// classify maps an HTTP response onto an outcome. A 2xx with a JSON body
// carrying "ok": false is still a failure; some storage backends report
// rejection that way.
func classify(status int, body []byte) Outcome {
	switch {
	case status == http.StatusTooManyRequests:
		return Outcome{Kind: KindRateLimited, Reason: "remote rate limit"}
	case status >= 200 && status < 300:
		if rejected, reason := bodyRejection(body); rejected {
			return Outcome{Kind: KindRecoverable, Reason: reason}
		}
		return Outcome{Kind: KindSuccess}
	default:
		return Outcome{Kind: KindRecoverable, Reason: fmt.Sprintf("http status %d", status)}
	}
}

func bodyRejection(body []byte) (bool, string) {
	if len(body) == 0 {
		return false, ""
	}
	var envelope struct {
		OK    *bool  `json:"ok"`
		Error string `json:"error"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return false, ""
	}
	if envelope.OK != nil && !*envelope.OK {
		reason := envelope.Error
		if reason == "" {
			reason = "remote reported ok=false"
		}
		return true, reason
	}
	return false, ""
}
