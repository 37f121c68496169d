// Package testsupport provides shared fixtures for package tests.
package testsupport

import (
	"path/filepath"
	"testing"

	"courier/internal/config"
	"courier/internal/queue"
	"courier/internal/spillover"
)

// NewConfig returns a validated configuration rooted in a temp directory
// with a static credential, ready for daemon construction.
func NewConfig(t *testing.T) *config.Config {
	t.Helper()

	dir := t.TempDir()
	cfg := config.Default()
	cfg.Paths.DataDir = filepath.Join(dir, "data")
	cfg.Paths.LogDir = filepath.Join(dir, "log")
	cfg.Upload.Endpoint = "http://127.0.0.1:1/upload"
	cfg.Auth.Token = "test-credential"

	if err := cfg.Validate(); err != nil {
		t.Fatalf("test config invalid: %v", err)
	}
	return &cfg
}

// OpenStore opens a spillover database in a temp directory.
func OpenStore(t *testing.T) *spillover.SQLiteStore {
	t.Helper()
	store, err := spillover.Open(filepath.Join(t.TempDir(), "spillover.db"))
	if err != nil {
		t.Fatalf("open spillover store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

// NewItem builds a pending item with predictable metadata.
func NewItem(label string) *queue.Item {
	return queue.NewItem([]byte("payload-"+label), queue.Metadata{
		Label:     label,
		Phase:     "capture",
		SessionID: "test-session",
	})
}
