package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "taskvault.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config failed: %v", err)
	}
	return path
}

func TestDefault(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.Storage.Driver != "sqlite" {
		t.Errorf("driver = %q, want sqlite", cfg.Storage.Driver)
	}
	if cfg.Engine.CheckpointInterval != 5 || cfg.Engine.MaxRetries != 3 {
		t.Errorf("engine defaults = %+v", cfg.Engine)
	}
}

func TestLoad(t *testing.T) {
	t.Run("full file", func(t *testing.T) {
		path := writeConfig(t, `
storage:
  driver: mysql
  dsn: user:pass@tcp(localhost:3306)/tasks
  snapshot_dir: /var/lib/taskvault/snapshots
engine:
  checkpoint_interval: 10
  max_retries: 5
  step_timeout: 30s
  retry_base_delay: 500ms
  retry_max_delay: 1m
`)
		cfg, err := Load(path)
		if err != nil {
			t.Fatalf("Load failed: %v", err)
		}
		if cfg.Storage.Driver != "mysql" {
			t.Errorf("driver = %q", cfg.Storage.Driver)
		}
		if cfg.Engine.CheckpointInterval != 10 {
			t.Errorf("checkpoint interval = %d", cfg.Engine.CheckpointInterval)
		}
		if cfg.Engine.StepTimeout.Std() != 30*time.Second {
			t.Errorf("step timeout = %v", cfg.Engine.StepTimeout)
		}
		if cfg.Engine.RetryMaxDelay.Std() != time.Minute {
			t.Errorf("retry max delay = %v", cfg.Engine.RetryMaxDelay)
		}
	})

	t.Run("partial file keeps defaults", func(t *testing.T) {
		path := writeConfig(t, `
engine:
  max_retries: 7
`)
		cfg, err := Load(path)
		if err != nil {
			t.Fatalf("Load failed: %v", err)
		}
		if cfg.Engine.MaxRetries != 7 {
			t.Errorf("max retries = %d, want 7", cfg.Engine.MaxRetries)
		}
		if cfg.Engine.CheckpointInterval != 5 {
			t.Errorf("checkpoint interval = %d, want default 5", cfg.Engine.CheckpointInterval)
		}
		if cfg.Storage.Driver != "sqlite" {
			t.Errorf("driver = %q, want default sqlite", cfg.Storage.Driver)
		}
	})

	t.Run("missing file", func(t *testing.T) {
		if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
			t.Fatal("expected error for missing file")
		}
	})

	t.Run("malformed yaml", func(t *testing.T) {
		path := writeConfig(t, "storage: [not: a map")
		if _, err := Load(path); err == nil {
			t.Fatal("expected error for malformed yaml")
		}
	})
}

func TestValidate(t *testing.T) {
	base := Default()

	t.Run("unknown driver", func(t *testing.T) {
		cfg := base
		cfg.Storage.Driver = "postgres"
		if err := cfg.Validate(); err == nil {
			t.Fatal("expected error for unknown driver")
		}
	})

	t.Run("missing dsn", func(t *testing.T) {
		cfg := base
		cfg.Storage.Driver = "mysql"
		cfg.Storage.DSN = ""
		if err := cfg.Validate(); err == nil {
			t.Fatal("expected error for missing dsn")
		}
	})

	t.Run("memory driver needs no dsn", func(t *testing.T) {
		cfg := base
		cfg.Storage.Driver = "memory"
		cfg.Storage.DSN = ""
		if err := cfg.Validate(); err != nil {
			t.Fatalf("Validate failed: %v", err)
		}
	})

	t.Run("zero checkpoint interval", func(t *testing.T) {
		cfg := base
		cfg.Engine.CheckpointInterval = 0
		if err := cfg.Validate(); err == nil {
			t.Fatal("expected error for zero checkpoint interval")
		}
	})

	t.Run("backoff fields must pair", func(t *testing.T) {
		cfg := base
		cfg.Engine.RetryBaseDelay = Duration(time.Second)
		if err := cfg.Validate(); err == nil {
			t.Fatal("expected error for base delay without max delay")
		}
		cfg.Engine.RetryMaxDelay = Duration(500 * time.Millisecond)
		if err := cfg.Validate(); err == nil {
			t.Fatal("expected error for max delay below base delay")
		}
		cfg.Engine.RetryMaxDelay = Duration(5 * time.Second)
		if err := cfg.Validate(); err != nil {
			t.Fatalf("Validate failed: %v", err)
		}
	})
}
