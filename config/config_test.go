package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultSettings(t *testing.T) {
	settings := Default()

	if settings.Queue.MaxAttempts != 3 {
		t.Errorf("expected 3 attempts, got %d", settings.Queue.MaxAttempts)
	}
	if settings.Queue.BaseDelay.Std() != time.Second {
		t.Errorf("expected 1s base delay, got %s", settings.Queue.BaseDelay.Std())
	}
	if settings.Workers.Count != 10 {
		t.Errorf("expected 10 workers, got %d", settings.Workers.Count)
	}
	if len(settings.Providers) != 2 {
		t.Fatalf("expected 2 default providers, got %d", len(settings.Providers))
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	settings, found, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if found {
		t.Fatal("expected found=false for missing file")
	}
	if settings.Server.Addr != ":3000" {
		t.Errorf("expected default addr, got %s", settings.Server.Addr)
	}
}

func TestLoadOverridesAndDurationStrings(t *testing.T) {
	raw := `
server:
  addr: ":8080"
queue:
  maxAttempts: 5
  baseDelay: 250ms
  leaseTimeout: 1m
workers:
  count: 4
  buildPause: 10ms
providers:
  - name: Raydium
    kind: raydium
    basePrice: 151.5
`
	path := filepath.Join(t.TempDir(), "app.yaml")
	if err := os.WriteFile(path, []byte(raw), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	settings, found, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !found {
		t.Fatal("expected found=true")
	}
	if settings.Server.Addr != ":8080" {
		t.Errorf("addr override lost: %s", settings.Server.Addr)
	}
	if settings.Queue.MaxAttempts != 5 {
		t.Errorf("maxAttempts override lost: %d", settings.Queue.MaxAttempts)
	}
	if settings.Queue.BaseDelay.Std() != 250*time.Millisecond {
		t.Errorf("baseDelay parse: %s", settings.Queue.BaseDelay.Std())
	}
	if settings.Queue.LeaseTimeout.Std() != time.Minute {
		t.Errorf("leaseTimeout parse: %s", settings.Queue.LeaseTimeout.Std())
	}
	if len(settings.Providers) != 1 || settings.Providers[0].BasePrice != 151.5 {
		t.Errorf("provider override lost: %+v", settings.Providers)
	}
	// Unset sections keep defaults.
	if settings.Router.QuoteTimeout.Std() != 2*time.Second {
		t.Errorf("router default lost: %s", settings.Router.QuoteTimeout.Std())
	}
}

func TestLoadRejectsMalformedYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("queue: ["), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, _, err := Load(path); err == nil {
		t.Fatal("expected parse error")
	}
}
