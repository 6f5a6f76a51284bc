package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "greffe.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadFileAppliesDefaults(t *testing.T) {
	cfg, err := LoadFile(writeConfig(t, `
listen: ":9090"
retrieval:
  captcha_retries: 5
history:
  path: /var/lib/greffe/history.db
`))
	if err != nil {
		t.Fatal(err)
	}

	if cfg.Listen != ":9090" {
		t.Fatalf("Listen = %q", cfg.Listen)
	}
	if cfg.Retrieval.CaptchaRetries != 5 {
		t.Fatalf("CaptchaRetries = %d", cfg.Retrieval.CaptchaRetries)
	}
	if cfg.History.Path != "/var/lib/greffe/history.db" {
		t.Fatalf("History.Path = %q", cfg.History.Path)
	}

	// Unset sections come back with defaults.
	if cfg.Portal.SearchURL == "" {
		t.Fatal("Portal.SearchURL default missing")
	}
	if cfg.Portal.NavTimeout != 30*time.Second {
		t.Fatalf("NavTimeout = %v", cfg.Portal.NavTimeout)
	}
	if cfg.Retrieval.MaxSessions != 2 {
		t.Fatalf("MaxSessions = %d", cfg.Retrieval.MaxSessions)
	}
	if cfg.Browser.MemoryLimit != 1<<30 {
		t.Fatalf("MemoryLimit = %d", cfg.Browser.MemoryLimit)
	}
}

func TestLoadFileRejectsMalformedYAML(t *testing.T) {
	if _, err := LoadFile(writeConfig(t, "listen: [unclosed")); err == nil {
		t.Fatal("malformed YAML accepted")
	}
}

func TestLoadFileMissing(t *testing.T) {
	if _, err := LoadFile(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("missing file accepted")
	}
}

func TestDefaultMatchesZeroFile(t *testing.T) {
	fromFile, err := LoadFile(writeConfig(t, "")) // empty document
	if err != nil {
		t.Fatal(err)
	}
	if def := Default(); *def != *fromFile {
		t.Fatalf("Default() = %+v, empty file = %+v", def, fromFile)
	}
}
