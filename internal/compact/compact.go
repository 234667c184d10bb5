// Package compact builds the memory block injected into an agent's
// context: a deterministic budget-respecting renderer, with an optional
// external-LLM summarization path for when the deterministic block would
// overflow the configured budget.
package compact

import (
	"fmt"
	"strings"

	"github.com/untoldecay/codex-extra-memory/internal/memconfig"
	"github.com/untoldecay/codex-extra-memory/internal/memstore"
	"github.com/untoldecay/codex-extra-memory/internal/memutil"
)

const injectionHeader = "## Project Memory\n" + "Relevant memories from prior sessions:\n"

func formatRow(row memstore.Row) string {
	tag := string(row.Category)
	if row.Pinned {
		tag = "pinned / " + tag
	}
	return fmt.Sprintf("- [%s / %s] %s", row.Scope, tag, row.Content)
}

// BuildInjectionBlock greedily renders up to maxItems rows, tracking a
// running character count (the header plus one newline per rendered
// line) and skipping (not truncating or stopping on) any line that
// would push the total over maxChars. Returns "" if no row fits.
func BuildInjectionBlock(rows []memstore.Row, maxItems, maxChars int) string {
	if maxItems <= 0 {
		return ""
	}

	total := len(injectionHeader)
	var lines []string
	for _, row := range rows {
		if len(lines) >= maxItems {
			break
		}
		line := formatRow(row)
		lineLen := len(line) + 1
		if maxChars > 0 && total+lineLen > maxChars {
			continue
		}
		total += lineLen
		lines = append(lines, line)
	}
	if len(lines) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString(injectionHeader)
	for _, line := range lines {
		b.WriteString(line)
		b.WriteByte('\n')
	}
	return b.String()
}

// deterministicFallbackBlock is used when the greedy builder produced
// nothing fit-for-budget (the raw rows are all longer than maxChars): it
// truncates each row's content instead of skipping it, so the fallback
// always has something to show as long as rows is non-empty. Pinned rows
// get a larger per-row budget since they were explicitly kept by the
// user, but the overall maxChars budget is still enforced by skipping
// (not truncating further) any line that would overflow it.
func deterministicFallbackBlock(rows []memstore.Row, maxItems, maxChars int) string {
	if maxItems <= 0 || len(rows) == 0 {
		return ""
	}

	total := len(injectionHeader)
	var lines []string
	for _, row := range rows {
		if len(lines) >= maxItems {
			break
		}
		limit := 160
		if row.Pinned {
			limit = 220
		}
		row.Content = memutil.TruncateChars(row.Content, limit)
		line := formatRow(row)
		lineLen := len(line) + 1
		if maxChars > 0 && total+lineLen > maxChars {
			continue
		}
		total += lineLen
		lines = append(lines, line)
	}
	if len(lines) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString(injectionHeader)
	for _, line := range lines {
		b.WriteString(line)
		b.WriteByte('\n')
	}
	return b.String()
}

// Result is the outcome of CompactBlockForAgents: the rendered block, the
// mode used to produce it, and (for the llm_fallback case) why the LLM
// path was not used.
type Result struct {
	Block  string
	Mode   memstore.CompactionMode
	Reason string
}

// Summarizer abstracts the external LLM call so CompactBlockForAgents can
// be tested without network access.
type Summarizer interface {
	Summarize(rows []memstore.Row, cfg memconfig.LlmCompaction) (string, error)
}

// CompactBlockForAgents selects the cheapest mode that produces a
// within-budget block: the raw deterministic block if it's non-empty and
// not over budget, else an LLM summary if configured and available, else
// a deterministic fallback that truncates rather than drops rows.
func CompactBlockForAgents(rows []memstore.Row, cfg memconfig.Config, summarizer Summarizer) Result {
	sumContentChars := 0
	for _, row := range rows {
		sumContentChars += len(row.Content)
	}
	overBudget := len(rows) > cfg.Injection.MaxItems || sumContentChars > cfg.Injection.MaxChars

	raw := BuildInjectionBlock(rows, cfg.Injection.MaxItems, cfg.Injection.MaxChars)
	if raw != "" && !overBudget {
		return Result{Block: raw, Mode: memstore.CompactionNone}
	}

	if cfg.LlmCompaction.Enabled && summarizer != nil {
		summary, err := summarizer.Summarize(rows, cfg.LlmCompaction)
		if err != nil {
			return Result{
				Block:  deterministicFallbackBlock(rows, cfg.Injection.MaxItems, cfg.Injection.MaxChars),
				Mode:   memstore.CompactionLLMFallback,
				Reason: err.Error(),
			}
		}
		if strings.TrimSpace(summary) != "" {
			block := memutil.TruncateChars(summary, cfg.LlmCompaction.MaxOutputChars)
			return Result{Block: block, Mode: memstore.CompactionLLM}
		}
	}

	return Result{
		Block: deterministicFallbackBlock(rows, cfg.Injection.MaxItems, cfg.Injection.MaxChars),
		Mode:  memstore.CompactionDeterministic,
	}
}
