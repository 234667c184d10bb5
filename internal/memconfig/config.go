// Package memconfig loads and saves the service's JSON configuration
// file: schema-tolerant deserialization, numeric clamping, and
// corruption recovery via a renamed backup. See DESIGN.md for why this
// is built on encoding/json rather than a YAML/viper-style layer.
package memconfig

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/untoldecay/codex-extra-memory/internal/obslog"
)

// Injection controls how many memories, and how many characters, are
// considered when building an AGENTS.md block.
type Injection struct {
	MaxItems int `json:"maxItems"`
	MaxChars int `json:"maxChars"`
}

// AutoCapture controls the pattern-matching extraction pipeline.
type AutoCapture struct {
	Enabled    bool   `json:"enabled"`
	Scope      string `json:"scope"`
	MaxPerTurn int    `json:"maxPerTurn"`
	MinChars   int    `json:"minChars"`
	MaxChars   int    `json:"maxChars"`
}

// LlmCompaction controls the optional external-summarizer compaction path.
type LlmCompaction struct {
	Enabled         bool   `json:"enabled"`
	Model           string `json:"model"`
	TimeoutMs       int    `json:"timeoutMs"`
	MaxOutputChars  int    `json:"maxOutputChars"`
}

// Retention controls event-log pruning.
type Retention struct {
	EventDays int `json:"eventDays"`
}

// Config is the full, normalized configuration document.
type Config struct {
	Injection     Injection     `json:"injection"`
	ListLimit     int           `json:"listLimit"`
	SearchLimit   int           `json:"searchLimit"`
	AutoCapture   AutoCapture   `json:"autoCapture"`
	LlmCompaction LlmCompaction `json:"llmCompaction"`
	Retention     Retention     `json:"retention"`
}

// Default returns the configuration's documented defaults.
func Default() Config {
	return Config{
		Injection: Injection{MaxItems: 10, MaxChars: 3000},
		ListLimit: 50, SearchLimit: 20,
		AutoCapture: AutoCapture{
			Enabled: true, Scope: "project", MaxPerTurn: 2, MinChars: 12, MaxChars: 240,
		},
		LlmCompaction: LlmCompaction{
			Enabled: true, Model: "gpt-5-mini", TimeoutMs: 8000, MaxOutputChars: 1500,
		},
		Retention: Retention{EventDays: 180},
	}
}

// partial mirrors Config but with optional fields, tolerating missing or
// unknown keys in a config file written by an older or newer version.
type partial struct {
	Injection *struct {
		MaxItems *int `json:"maxItems"`
		MaxChars *int `json:"maxChars"`
	} `json:"injection"`
	ListLimit   *int `json:"listLimit"`
	SearchLimit *int `json:"searchLimit"`
	AutoCapture *struct {
		Enabled    json.RawMessage `json:"enabled"`
		Scope      *string         `json:"scope"`
		MaxPerTurn *int            `json:"maxPerTurn"`
		MinChars   *int            `json:"minChars"`
		MaxChars   *int            `json:"maxChars"`
	} `json:"autoCapture"`
	LlmCompaction *struct {
		Enabled        json.RawMessage `json:"enabled"`
		Model          *string         `json:"model"`
		TimeoutMs      *int            `json:"timeoutMs"`
		MaxOutputChars *int            `json:"maxOutputChars"`
	} `json:"llmCompaction"`
	Retention *struct {
		EventDays *int `json:"eventDays"`
	} `json:"retention"`
}

func parsePositiveInt(value *int, fallback int) int {
	if value == nil || *value <= 0 {
		return fallback
	}
	return *value
}

// parseBoolean accepts a JSON bool, or a string/number value in the style
// the original config tolerated ("true"/"1"/"yes"/"on" and their
// opposites), falling back to fallback on anything else or absent input.
func parseBoolean(raw json.RawMessage, fallback bool) bool {
	if len(raw) == 0 {
		return fallback
	}
	var b bool
	if err := json.Unmarshal(raw, &b); err == nil {
		return b
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		switch strings.ToLower(strings.TrimSpace(s)) {
		case "true", "1", "yes", "on":
			return true
		case "false", "0", "no", "off":
			return false
		}
		return fallback
	}
	var n float64
	if err := json.Unmarshal(raw, &n); err == nil {
		return n != 0
	}
	return fallback
}

func normalize(p partial) Config {
	defaults := Default()
	cfg := defaults

	if p.Injection != nil {
		cfg.Injection.MaxItems = parsePositiveInt(p.Injection.MaxItems, defaults.Injection.MaxItems)
		cfg.Injection.MaxChars = parsePositiveInt(p.Injection.MaxChars, defaults.Injection.MaxChars)
	}

	if p.ListLimit != nil {
		cfg.ListLimit = parsePositiveInt(p.ListLimit, defaults.ListLimit)
	}
	if p.SearchLimit != nil {
		cfg.SearchLimit = parsePositiveInt(p.SearchLimit, defaults.SearchLimit)
	}

	if p.AutoCapture != nil {
		autoMin := parsePositiveInt(p.AutoCapture.MinChars, defaults.AutoCapture.MinChars)
		autoMax := parsePositiveInt(p.AutoCapture.MaxChars, defaults.AutoCapture.MaxChars)
		if autoMin > autoMax {
			autoMin, autoMax = autoMax, autoMin
		}
		scope := defaults.AutoCapture.Scope
		if p.AutoCapture.Scope != nil {
			if s := strings.ToLower(strings.TrimSpace(*p.AutoCapture.Scope)); s == "project" || s == "global" {
				scope = s
			}
		}
		cfg.AutoCapture = AutoCapture{
			Enabled:    parseBoolean(p.AutoCapture.Enabled, defaults.AutoCapture.Enabled),
			Scope:      scope,
			MaxPerTurn: parsePositiveInt(p.AutoCapture.MaxPerTurn, defaults.AutoCapture.MaxPerTurn),
			MinChars:   autoMin,
			MaxChars:   autoMax,
		}
	}

	if p.LlmCompaction != nil {
		model := defaults.LlmCompaction.Model
		if p.LlmCompaction.Model != nil && strings.TrimSpace(*p.LlmCompaction.Model) != "" {
			model = strings.TrimSpace(*p.LlmCompaction.Model)
		}
		timeoutMs := defaults.LlmCompaction.TimeoutMs
		if p.LlmCompaction.TimeoutMs != nil {
			timeoutMs = *p.LlmCompaction.TimeoutMs
		}
		cfg.LlmCompaction = LlmCompaction{
			Enabled:        parseBoolean(p.LlmCompaction.Enabled, defaults.LlmCompaction.Enabled),
			Model:          model,
			TimeoutMs:      timeoutMs,
			MaxOutputChars: parsePositiveInt(p.LlmCompaction.MaxOutputChars, defaults.LlmCompaction.MaxOutputChars),
		}
	}

	if p.Retention != nil && p.Retention.EventDays != nil {
		cfg.Retention.EventDays = *p.Retention.EventDays
	}

	return cfg
}

func nextInvalidBackupPath(configPath string) (string, error) {
	dir := filepath.Dir(configPath)
	stamp := time.Now().UTC().Format("20060102T150405Z")

	for suffix := 0; suffix < 10000; suffix++ {
		var name string
		if suffix == 0 {
			name = fmt.Sprintf("config.invalid-%s.json.bak", stamp)
		} else {
			name = fmt.Sprintf("config.invalid-%s-%d.json.bak", stamp, suffix)
		}
		candidate := filepath.Join(dir, name)
		if _, err := os.Stat(candidate); os.IsNotExist(err) {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("could not allocate invalid config backup path")
}

func backupInvalidConfig(configPath string) (string, error) {
	backupPath, err := nextInvalidBackupPath(configPath)
	if err != nil {
		return "", err
	}
	if err := os.Rename(configPath, backupPath); err != nil {
		return "", fmt.Errorf("backup invalid config %s to %s: %w", configPath, backupPath, err)
	}
	return backupPath, nil
}

// LoadAt reads and normalizes the configuration at configPath. A missing
// file is created with defaults. A file that fails to parse is backed up
// and replaced with defaults; a warning is logged (not to stderr
// directly — through obslog, which defaults to stderr) per spec §7.
func LoadAt(configPath string) (Config, error) {
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return Config{}, fmt.Errorf("create config dir %s: %w", dir, err)
	}

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		def := Default()
		if err := SaveAt(configPath, def); err != nil {
			return Config{}, err
		}
		return def, nil
	}

	raw, err := os.ReadFile(configPath)
	if err != nil {
		return Config{}, fmt.Errorf("read config %s: %w", configPath, err)
	}

	var p partial
	if err := json.Unmarshal(raw, &p); err != nil {
		backupPath, backupErr := backupInvalidConfig(configPath)
		if backupErr != nil {
			return Config{}, backupErr
		}
		obslog.Warnf("codex-extra-memory: invalid config at %s (%v). Backed up to %s and regenerated defaults.",
			configPath, err, backupPath)
		def := Default()
		if err := SaveAt(configPath, def); err != nil {
			return Config{}, err
		}
		return def, nil
	}

	return normalize(p), nil
}

// SaveAt pretty-prints cfg as JSON with a trailing newline.
func SaveAt(configPath string, cfg Config) error {
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create config dir %s: %w", dir, err)
	}
	text, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(configPath, append(text, '\n'), 0o644); err != nil {
		return fmt.Errorf("write config %s: %w", configPath, err)
	}
	return nil
}

// ParsePositiveIntString parses a textual positive integer, falling back
// to fallback on parse failure or a non-positive result. Used by the
// command parser for --limit flags.
func ParsePositiveIntString(s string, fallback int) int {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}
