package uploader_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"courier/internal/config"
	"courier/internal/queue"
	"courier/internal/uploader"
)

type staticTokens string

func (s staticTokens) Token() (string, error) { return string(s), nil }

func newUploader(t *testing.T, serverURL string) *uploader.HTTPUploader {
	t.Helper()
	return uploader.New(config.Upload{
		Endpoint:       serverURL,
		RequestTimeout: 5,
	}, staticTokens("test-token"), nil)
}

func testItem() *queue.Item {
	return queue.NewItem([]byte(`{"frame": 1}`), queue.Metadata{
		Label:     "frame-1",
		Phase:     "capture",
		Sequence:  1,
		SessionID: "session-9",
	})
}

func TestAttemptSuccess(t *testing.T) {
	var gotAuth, gotItemID string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotItemID = r.Header.Get("X-Courier-Item-ID")
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	item := testItem()
	outcome := newUploader(t, server.URL).Attempt(context.Background(), item)
	if outcome.Kind != uploader.KindSuccess {
		t.Fatalf("outcome = %+v, want success", outcome)
	}
	if gotAuth != "Bearer test-token" {
		t.Fatalf("authorization = %q", gotAuth)
	}
	if gotItemID != item.ID {
		t.Fatalf("item id header = %q, want %s", gotItemID, item.ID)
	}
}

func TestAttemptRateLimited(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	outcome := newUploader(t, server.URL).Attempt(context.Background(), testItem())
	if outcome.Kind != uploader.KindRateLimited {
		t.Fatalf("outcome = %+v, want rate limited", outcome)
	}
}

func TestAttemptServerErrorIsRecoverable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	outcome := newUploader(t, server.URL).Attempt(context.Background(), testItem())
	if outcome.Kind != uploader.KindRecoverable {
		t.Fatalf("outcome = %+v, want recoverable", outcome)
	}
}

func TestAttemptBodyRejectionIsRecoverable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"ok": false, "error": "checksum mismatch"}`))
	}))
	defer server.Close()

	outcome := newUploader(t, server.URL).Attempt(context.Background(), testItem())
	if outcome.Kind != uploader.KindRecoverable {
		t.Fatalf("outcome = %+v, want recoverable", outcome)
	}
	if outcome.Reason != "checksum mismatch" {
		t.Fatalf("reason = %q", outcome.Reason)
	}
}

func TestAttemptTransportErrorIsRecoverable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	server.Close() // force connection refused

	outcome := newUploader(t, server.URL).Attempt(context.Background(), testItem())
	if outcome.Kind != uploader.KindRecoverable {
		t.Fatalf("outcome = %+v, want recoverable", outcome)
	}
}
