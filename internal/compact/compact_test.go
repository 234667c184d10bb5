package compact

import (
	"errors"
	"strings"
	"testing"

	"github.com/untoldecay/codex-extra-memory/internal/memconfig"
	"github.com/untoldecay/codex-extra-memory/internal/memstore"
)

func sampleRows() []memstore.Row {
	return []memstore.Row{
		{ID: "1", Scope: "project:abc", Category: memstore.CategoryPreference, Content: "User prefers pnpm over npm", Pinned: true},
		{ID: "2", Scope: "global", Category: memstore.CategoryConstraint, Content: "Never force-push to main", Pinned: false},
	}
}

func TestBuildInjectionBlockRendersHeaderAndRows(t *testing.T) {
	block := BuildInjectionBlock(sampleRows(), 10, 200)
	if !strings.HasPrefix(block, injectionHeader) {
		t.Fatalf("expected header prefix, got %q", block)
	}
	if !strings.Contains(block, "pnpm over npm") || !strings.Contains(block, "force-push to main") {
		t.Fatalf("expected both rows rendered, got %q", block)
	}
}

func TestBuildInjectionBlockSkipsOverlongLinesButKeepsOthers(t *testing.T) {
	rows := []memstore.Row{
		{ID: "1", Scope: "global", Category: memstore.CategoryOther, Content: strings.Repeat("x", 500)},
		{ID: "2", Scope: "global", Category: memstore.CategoryOther, Content: "short"},
	}
	block := BuildInjectionBlock(rows, 10, 50)
	if strings.Contains(block, strings.Repeat("x", 500)) {
		t.Fatalf("expected overlong row to be skipped")
	}
	if !strings.Contains(block, "short") {
		t.Fatalf("expected short row to survive, got %q", block)
	}
}

func TestBuildInjectionBlockEmptyWhenNothingFits(t *testing.T) {
	rows := []memstore.Row{{ID: "1", Scope: "global", Category: memstore.CategoryOther, Content: strings.Repeat("x", 500)}}
	if block := BuildInjectionBlock(rows, 10, 50); block != "" {
		t.Fatalf("expected empty block, got %q", block)
	}
}

type stubSummarizer struct {
	text string
	err  error
}

func (s stubSummarizer) Summarize(rows []memstore.Row, cfg memconfig.LlmCompaction) (string, error) {
	return s.text, s.err
}

func TestCompactBlockForAgentsPrefersRawBlock(t *testing.T) {
	cfg := memconfig.Default()
	result := CompactBlockForAgents(sampleRows(), cfg, stubSummarizer{text: "should not be used"})
	if result.Mode != memstore.CompactionNone {
		t.Fatalf("expected none mode, got %v", result.Mode)
	}
}

func TestCompactBlockForAgentsFallsBackToLLM(t *testing.T) {
	cfg := memconfig.Default()
	cfg.Injection.MaxChars = 1 // force the raw block to be empty
	result := CompactBlockForAgents(sampleRows(), cfg, stubSummarizer{text: "a tight summary"})
	if result.Mode != memstore.CompactionLLM {
		t.Fatalf("expected llm mode, got %v", result.Mode)
	}
	if result.Block != "a tight summary" {
		t.Fatalf("unexpected block: %q", result.Block)
	}
}

func TestCompactBlockForAgentsFallsBackOnLLMError(t *testing.T) {
	cfg := memconfig.Default()
	cfg.Injection.MaxChars = 1
	result := CompactBlockForAgents(sampleRows(), cfg, stubSummarizer{err: errors.New("network down")})
	if result.Mode != memstore.CompactionLLMFallback {
		t.Fatalf("expected llm_fallback mode, got %v", result.Mode)
	}
	if result.Reason != "network down" {
		t.Fatalf("expected reason to carry the error, got %q", result.Reason)
	}
	if result.Block == "" {
		t.Fatalf("expected deterministic fallback to still render something")
	}
}

func TestCompactBlockForAgentsDeterministicWhenLLMDisabled(t *testing.T) {
	cfg := memconfig.Default()
	cfg.Injection.MaxChars = 1
	cfg.LlmCompaction.Enabled = false
	result := CompactBlockForAgents(sampleRows(), cfg, stubSummarizer{text: "ignored"})
	if result.Mode != memstore.CompactionDeterministic {
		t.Fatalf("expected deterministic mode, got %v", result.Mode)
	}
}

func TestCompactBlockForAgentsDeterministicOnEmptySummary(t *testing.T) {
	cfg := memconfig.Default()
	cfg.Injection.MaxChars = 1
	result := CompactBlockForAgents(sampleRows(), cfg, stubSummarizer{text: ""})
	if result.Mode != memstore.CompactionDeterministic {
		t.Fatalf("expected deterministic mode on empty summary, got %v", result.Mode)
	}
	if result.Reason != "" {
		t.Fatalf("expected no reason on empty-summary fallthrough, got %q", result.Reason)
	}
	if result.Block == "" {
		t.Fatalf("expected deterministic fallback to still render something")
	}
}

func TestCompactBlockForAgentsOverBudgetTriggersCompactionEvenWhenRawFits(t *testing.T) {
	cfg := memconfig.Default()
	cfg.Injection.MaxItems = 1 // fewer than the two sample rows -> over budget by count
	result := CompactBlockForAgents(sampleRows(), cfg, stubSummarizer{text: "compact summary"})
	if result.Mode != memstore.CompactionLLM {
		t.Fatalf("expected llm mode when over item-count budget, got %v", result.Mode)
	}
}

func TestExtractSummaryTextTopLevelString(t *testing.T) {
	text, err := extractSummaryText([]byte(`{"output_text":"hello world"}`))
	if err != nil || text != "hello world" {
		t.Fatalf("text=%q err=%v", text, err)
	}
}

func TestExtractSummaryTextTopLevelArray(t *testing.T) {
	text, err := extractSummaryText([]byte(`{"output_text":["line one","line two"]}`))
	if err != nil || text != "line one\nline two" {
		t.Fatalf("text=%q err=%v", text, err)
	}
}

func TestExtractSummaryTextOutputMessageParts(t *testing.T) {
	body := `{"output":[{"type":"message","content":[{"type":"text","text":"from message"}]}]}`
	text, err := extractSummaryText([]byte(body))
	if err != nil || text != "from message" {
		t.Fatalf("text=%q err=%v", text, err)
	}
}

func TestExtractSummaryTextNoneOfTheShapesMatch(t *testing.T) {
	if _, err := extractSummaryText([]byte(`{"foo":"bar"}`)); err == nil {
		t.Fatalf("expected error when no shape matches")
	}
}
