package memsvc

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/untoldecay/codex-extra-memory/internal/memstore"
)

// canonicalizeForContainment resolves symlinks for the longest existing
// ancestor of path, then reattaches the not-yet-created tail, so a
// containment check works even for a path whose final components don't
// exist yet.
func canonicalizeForContainment(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}

	var tail []string
	current := abs
	for {
		if real, err := filepath.EvalSymlinks(current); err == nil {
			return filepath.Join(append([]string{real}, tail...)...), nil
		}
		parent := filepath.Dir(current)
		if parent == current {
			return abs, nil
		}
		tail = append([]string{filepath.Base(current)}, tail...)
		current = parent
	}
}

// resolveExportPathWithinWorkspace validates and resolves requestedPath
// against workspaceRoot: absolute paths are rejected outright, and the
// canonicalized result must remain inside the workspace.
func resolveExportPathWithinWorkspace(workspaceRoot, requestedPath string) (string, error) {
	if filepath.IsAbs(requestedPath) {
		return "", fmt.Errorf("export path must be relative to the workspace")
	}

	canonicalRoot, err := canonicalizeForContainment(workspaceRoot)
	if err != nil {
		return "", fmt.Errorf("resolve workspace root: %w", err)
	}

	joined := filepath.Join(workspaceRoot, requestedPath)
	canonicalTarget, err := canonicalizeForContainment(joined)
	if err != nil {
		return "", fmt.Errorf("resolve export path: %w", err)
	}

	rel, err := filepath.Rel(canonicalRoot, canonicalTarget)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("export path must resolve inside the workspace")
	}

	return canonicalTarget, nil
}

func defaultExportPath(format string) string {
	ext := "json"
	if format == "md" {
		ext = "md"
	}
	return fmt.Sprintf("codex-memory-export-%s.%s", time.Now().UTC().Format("20060102T150405Z"), ext)
}

type exportEntry struct {
	ID        string `json:"id"`
	Scope     string `json:"scope"`
	Category  string `json:"category"`
	Content   string `json:"content"`
	Pinned    bool   `json:"pinned"`
	Source    string `json:"source"`
	CreatedAt string `json:"created_at"`
	UpdatedAt string `json:"updated_at"`
}

func toExportEntries(rows []memstore.Row) []exportEntry {
	entries := make([]exportEntry, 0, len(rows))
	for _, r := range rows {
		entries = append(entries, exportEntry{
			ID: r.ID, Scope: r.Scope, Category: string(r.Category), Content: r.Content,
			Pinned: r.Pinned, Source: r.Source, CreatedAt: r.CreatedAt, UpdatedAt: r.UpdatedAt,
		})
	}
	return entries
}

func renderExportMarkdown(rows []memstore.Row) string {
	var b strings.Builder
	b.WriteString("# Memory Export\n\n")
	for _, r := range rows {
		tag := string(r.Category)
		if r.Pinned {
			tag = "pinned / " + tag
		}
		fmt.Fprintf(&b, "- [%s / %s] %s\n", r.Scope, tag, r.Content)
	}
	return b.String()
}

func writeExportFile(path, format string, rows []memstore.Row) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create export directory: %w", err)
	}

	if format == "md" {
		return os.WriteFile(path, []byte(renderExportMarkdown(rows)), 0o644)
	}

	payload := map[string]any{
		"schema_version": 1,
		"entries":        toExportEntries(rows),
	}
	raw, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal export payload: %w", err)
	}
	return os.WriteFile(path, append(raw, '\n'), 0o644)
}
