// Package agentsync maintains a marker-delimited memory section inside an
// AGENTS.md file, upserting it without disturbing any other content a
// project keeps in that file.
package agentsync

import (
	"os"
	"strings"
)

const (
	startMarker = "<!-- codex-extra-memory:start v1 -->"
	endMarker   = "<!-- codex-extra-memory:end -->"
)

// Result reports what Sync did to agentsPath.
type Result struct {
	Path    string `json:"path"`
	Changed bool   `json:"changed"`
}

// Sync upserts block between the memory markers inside the AGENTS.md file
// at path, creating the file if absent. block should not itself contain
// the marker lines; Sync adds them. A file is only written when its
// content actually changes.
func Sync(path string, block string) (Result, error) {
	existing := ""
	if raw, err := os.ReadFile(path); err == nil {
		existing = string(raw)
	} else if !os.IsNotExist(err) {
		return Result{}, err
	}

	updated := upsertSection(existing, block)
	if updated == existing {
		return Result{Path: path, Changed: false}, nil
	}

	if err := os.WriteFile(path, []byte(updated), 0o644); err != nil {
		return Result{}, err
	}
	return Result{Path: path, Changed: true}, nil
}

// upsertSection replaces the marker-delimited section of content with
// section (wrapped in markers), appending a new section at the end if no
// markers are present yet. An empty section with no existing markers
// leaves content untouched; an empty section with existing markers
// removes them.
func upsertSection(content, section string) string {
	trimmedSection := strings.TrimRight(section, "\n")

	startIdx := strings.Index(content, startMarker)
	endIdx := strings.Index(content, endMarker)

	if startIdx == -1 || endIdx == -1 || endIdx < startIdx {
		if trimmedSection == "" {
			return normalizeTrailingNewline(content)
		}
		before := strings.TrimRight(content, "\n")
		var b strings.Builder
		if before != "" {
			b.WriteString(before)
			b.WriteString("\n\n")
		}
		b.WriteString(startMarker)
		b.WriteByte('\n')
		b.WriteString(trimmedSection)
		b.WriteByte('\n')
		b.WriteString(endMarker)
		b.WriteByte('\n')
		return normalizeTrailingNewline(b.String())
	}

	before := strings.TrimRight(content[:startIdx], "\n \t")
	after := strings.TrimLeft(content[endIdx+len(endMarker):], "\n")

	if trimmedSection == "" {
		var b strings.Builder
		if before != "" {
			b.WriteString(before)
			if after != "" {
				b.WriteString("\n\n")
			} else {
				b.WriteByte('\n')
			}
		}
		b.WriteString(after)
		return normalizeTrailingNewline(b.String())
	}

	var b strings.Builder
	if before != "" {
		b.WriteString(before)
		b.WriteString("\n\n")
	}
	b.WriteString(startMarker)
	b.WriteByte('\n')
	b.WriteString(trimmedSection)
	b.WriteByte('\n')
	b.WriteString(endMarker)
	if after != "" {
		b.WriteString("\n\n")
		b.WriteString(after)
	} else {
		b.WriteByte('\n')
	}
	return normalizeTrailingNewline(b.String())
}

// normalizeTrailingNewline collapses runs of blank lines to at most one
// and ensures the result ends with exactly one trailing newline, unless
// it is empty.
func normalizeTrailingNewline(s string) string {
	if strings.TrimSpace(s) == "" {
		return ""
	}

	lines := strings.Split(s, "\n")
	var out []string
	blankRun := 0
	for _, line := range lines {
		if strings.TrimSpace(line) == "" {
			blankRun++
			if blankRun > 1 {
				continue
			}
		} else {
			blankRun = 0
		}
		out = append(out, line)
	}

	joined := strings.Join(out, "\n")
	return strings.TrimRight(joined, "\n") + "\n"
}
