package memcmd

import (
	"testing"

	"github.com/untoldecay/codex-extra-memory/internal/memstore"
)

func TestParseEmptyIsHelp(t *testing.T) {
	cmd, err := Parse("")
	if err != nil || cmd.Kind != KindHelp {
		t.Fatalf("cmd=%+v err=%v", cmd, err)
	}
}

func TestParseStripsMemoryPrefix(t *testing.T) {
	cmd, err := Parse("/memory stats")
	if err != nil || cmd.Kind != KindStats {
		t.Fatalf("cmd=%+v err=%v", cmd, err)
	}
}

func TestParseAddWithFlagsBeforeText(t *testing.T) {
	cmd, err := Parse(`add --global --category preference User prefers pnpm`)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cmd.Kind != KindAdd || cmd.Scope != memstore.ScopeTargetGlobal || cmd.Category != "preference" {
		t.Fatalf("unexpected command: %+v", cmd)
	}
	if cmd.Text != "User prefers pnpm" {
		t.Fatalf("unexpected text: %q", cmd.Text)
	}
}

func TestParseAddMissingTextIsUsageError(t *testing.T) {
	if _, err := Parse("add --global"); err == nil {
		t.Fatalf("expected usage error")
	}
}

func TestParseAddDefaultsToProjectScope(t *testing.T) {
	cmd, err := Parse("add remember this")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cmd.Scope != memstore.ScopeTargetProject {
		t.Fatalf("expected default project scope, got %v", cmd.Scope)
	}
}

func TestParseSearchQueryPrecedesFlags(t *testing.T) {
	cmd, err := Parse("search pnpm workflow --limit 5 --cursor abc")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cmd.Kind != KindSearch || cmd.Query != "pnpm workflow" || cmd.Limit != 5 || cmd.Cursor != "abc" {
		t.Fatalf("unexpected command: %+v", cmd)
	}
}

func TestParseSearchRequiresQuery(t *testing.T) {
	if _, err := Parse("search --limit 5"); err == nil {
		t.Fatalf("expected error for missing query")
	}
}

func TestParseListCapsLimitAt200(t *testing.T) {
	cmd, err := Parse("list --limit 9999")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cmd.Limit != maxListLimit {
		t.Fatalf("expected limit capped at %d, got %d", maxListLimit, cmd.Limit)
	}
}

func TestParsePin(t *testing.T) {
	cmd, err := Parse("pin abc123 on")
	if err != nil || cmd.Kind != KindPin || cmd.ID != "abc123" || !cmd.PinState {
		t.Fatalf("cmd=%+v err=%v", cmd, err)
	}
}

func TestParseAutoDefaultsToStatus(t *testing.T) {
	cmd, err := Parse("auto")
	if err != nil || cmd.AutoAction != "status" {
		t.Fatalf("cmd=%+v err=%v", cmd, err)
	}
}

func TestParseExportDefaultsAndOverrides(t *testing.T) {
	cmd, err := Parse("export --all md ./exports/memory.md")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if !cmd.ExportAll || cmd.ExportFormat != "md" || cmd.ExportPath != "./exports/memory.md" {
		t.Fatalf("unexpected command: %+v", cmd)
	}
}

func TestParseExportDoubleDashForcesPath(t *testing.T) {
	cmd, err := Parse("export json -- --weird-name.json")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cmd.ExportPath != "--weird-name.json" {
		t.Fatalf("expected literal path after sentinel, got %q", cmd.ExportPath)
	}
}

func TestParseUnknownCommand(t *testing.T) {
	if _, err := Parse("bogus"); err == nil {
		t.Fatalf("expected error for unknown command")
	}
}

func TestTokenizeHonorsQuotedSubstrings(t *testing.T) {
	toks := tokenize(`add --category fact "two words"`)
	want := []string{"add", "--category", "fact", "two words"}
	if len(toks) != len(want) {
		t.Fatalf("got %v", toks)
	}
	for i := range want {
		if toks[i] != want[i] {
			t.Fatalf("token %d: got %q want %q", i, toks[i], want[i])
		}
	}
}
