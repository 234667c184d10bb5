package memconfig

import (
	"os"
	"path/filepath"
	"testing"
)

func TestInvalidConfigCreatesBackupAndRegeneratesDefault(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.json")
	if err := os.WriteFile(configPath, []byte("{ invalid json"), 0o644); err != nil {
		t.Fatalf("write invalid config: %v", err)
	}

	cfg, err := LoadAt(configPath)
	if err != nil {
		t.Fatalf("LoadAt: %v", err)
	}
	if cfg.ListLimit != Default().ListLimit {
		t.Fatalf("expected default list limit, got %d", cfg.ListLimit)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	backups := 0
	for _, e := range entries {
		name := e.Name()
		if len(name) > len("config.invalid-") && name[:len("config.invalid-")] == "config.invalid-" {
			backups++
		}
	}
	if backups != 1 {
		t.Fatalf("expected exactly one backup file, found %d", backups)
	}

	rewritten, err := os.ReadFile(configPath)
	if err != nil {
		t.Fatalf("read rewritten config: %v", err)
	}
	if len(rewritten) == 0 {
		t.Fatalf("expected regenerated config content")
	}
}

func TestValidConfigKeepsContentWithoutBackup(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.json")
	body := `{"listLimit": 7, "searchLimit": 4, "autoCapture": {"enabled": false}}`
	if err := os.WriteFile(configPath, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := LoadAt(configPath)
	if err != nil {
		t.Fatalf("LoadAt: %v", err)
	}
	if cfg.ListLimit != 7 {
		t.Fatalf("ListLimit = %d, want 7", cfg.ListLimit)
	}
	if cfg.SearchLimit != 4 {
		t.Fatalf("SearchLimit = %d, want 4", cfg.SearchLimit)
	}
	if cfg.AutoCapture.Enabled {
		t.Fatalf("AutoCapture.Enabled should be false")
	}

	entries, _ := os.ReadDir(dir)
	for _, e := range entries {
		if len(e.Name()) >= len("config.invalid-") && e.Name()[:len("config.invalid-")] == "config.invalid-" {
			t.Fatalf("unexpected backup file %s", e.Name())
		}
	}
}

func TestNormalizeSwapsInvertedMinMax(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "config.json")
	body := `{"autoCapture": {"minChars": 300, "maxChars": 10}}`
	if err := os.WriteFile(configPath, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := LoadAt(configPath)
	if err != nil {
		t.Fatalf("LoadAt: %v", err)
	}
	if cfg.AutoCapture.MinChars != 10 || cfg.AutoCapture.MaxChars != 300 {
		t.Fatalf("expected swap, got min=%d max=%d", cfg.AutoCapture.MinChars, cfg.AutoCapture.MaxChars)
	}
}
