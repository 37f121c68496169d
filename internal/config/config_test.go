package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"courier/internal/config"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadAppliesFileOverDefaults(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, `
[paths]
data_dir = "`+dir+`/data"
log_dir = "`+dir+`/log"

[upload]
endpoint = "https://storage.example.com/upload"
request_timeout = 20

[auth]
token = "secret"
`)

	cfg, resolved, exists, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !exists || resolved != path {
		t.Fatalf("resolved = %q exists = %v", resolved, exists)
	}
	if cfg.Upload.Endpoint != "https://storage.example.com/upload" {
		t.Fatalf("endpoint = %q", cfg.Upload.Endpoint)
	}
	if cfg.Upload.RequestTimeout != 20 {
		t.Fatalf("request_timeout = %d", cfg.Upload.RequestTimeout)
	}
	// Untouched sections keep their defaults.
	if cfg.Auth.RefreshInterval != 300 {
		t.Fatalf("refresh_interval = %d", cfg.Auth.RefreshInterval)
	}
	if cfg.Logging.Level != "info" {
		t.Fatalf("logging level = %q", cfg.Logging.Level)
	}
}

func TestLoadRequiresEndpoint(t *testing.T) {
	path := writeConfig(t, `
[auth]
token = "secret"
`)
	_, _, _, err := config.Load(path)
	if err == nil || !strings.Contains(err.Error(), "upload.endpoint") {
		t.Fatalf("err = %v, want endpoint requirement", err)
	}
}

func TestLoadRejectsConflictingCredentialSources(t *testing.T) {
	path := writeConfig(t, `
[upload]
endpoint = "https://storage.example.com/upload"

[auth]
token = "secret"
token_file = "/tmp/token"
`)
	_, _, _, err := config.Load(path)
	if err == nil || !strings.Contains(err.Error(), "mutually exclusive") {
		t.Fatalf("err = %v, want mutual exclusion error", err)
	}
}

func TestLoadExpandsHomePaths(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skipf("no home directory: %v", err)
	}
	path := writeConfig(t, `
[paths]
data_dir = "~/courier-data"

[upload]
endpoint = "https://storage.example.com/upload"
`)

	cfg, _, _, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Paths.DataDir != filepath.Join(home, "courier-data") {
		t.Fatalf("data_dir = %q", cfg.Paths.DataDir)
	}
}

func TestDerivedPaths(t *testing.T) {
	cfg := config.Default()
	cfg.Paths.DataDir = "/var/lib/courier"
	cfg.Paths.LogDir = "/var/log/courier"

	if got := cfg.SpilloverDBPath(); got != "/var/lib/courier/spillover.db" {
		t.Fatalf("SpilloverDBPath = %q", got)
	}
	if got := cfg.SocketPath(); got != "/var/log/courier/courierd.sock" {
		t.Fatalf("SocketPath = %q", got)
	}
	if got := cfg.LogFilePath(); got != "/var/log/courier/courier.log" {
		t.Fatalf("LogFilePath = %q", got)
	}
}

func TestCreateSampleParsesBack(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	if err := config.CreateSample(path); err != nil {
		t.Fatalf("CreateSample: %v", err)
	}

	// The sample has no endpoint yet, so a full load must fail with the
	// actionable hint rather than a parse error.
	_, _, _, err := config.Load(path)
	if err == nil || !strings.Contains(err.Error(), "upload.endpoint") {
		t.Fatalf("err = %v, want endpoint requirement", err)
	}
}

func TestHasCredentialSource(t *testing.T) {
	cfg := config.Default()
	if cfg.HasCredentialSource() {
		t.Fatal("default config claims a credential source")
	}
	cfg.Auth.Token = "secret"
	if !cfg.HasCredentialSource() {
		t.Fatal("token not recognized as credential source")
	}
}
