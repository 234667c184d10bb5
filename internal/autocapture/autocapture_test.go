package autocapture

import (
	"encoding/json"
	"testing"

	"github.com/untoldecay/codex-extra-memory/internal/memconfig"
	"github.com/untoldecay/codex-extra-memory/internal/memstore"
)

func testConfig() memconfig.AutoCapture {
	return memconfig.Default().AutoCapture
}

func messagesJSON(t *testing.T, entries ...map[string]string) json.RawMessage {
	t.Helper()
	var raw []map[string]any
	for _, e := range entries {
		raw = append(raw, map[string]any{"role": e["role"], "content": e["content"]})
	}
	b, err := json.Marshal(raw)
	if err != nil {
		t.Fatalf("marshal messages: %v", err)
	}
	return b
}

func TestExtractUserExplicitRemember(t *testing.T) {
	msgs := messagesJSON(t, map[string]string{
		"role":    "user",
		"content": "please remember that we deploy with pnpm run release",
	})

	got := Extract(msgs, testConfig(), map[string]bool{})
	if len(got) != 1 {
		t.Fatalf("expected 1 candidate, got %d: %+v", len(got), got)
	}
	if got[0].Text != "we deploy with pnpm run release" {
		t.Fatalf("unexpected cleaned text: %q", got[0].Text)
	}
	if got[0].Category != memstore.CategoryWorkflow {
		t.Fatalf("expected workflow category, got %v", got[0].Category)
	}
}

func TestExtractAssistantMarker(t *testing.T) {
	msgs := messagesJSON(t, map[string]string{
		"role":    "assistant",
		"content": "Sure thing.\nMemory: user always wants verbose logs enabled.\n",
	})

	got := Extract(msgs, testConfig(), map[string]bool{})
	if len(got) != 1 {
		t.Fatalf("expected 1 candidate, got %d", len(got))
	}
	if got[0].Reason != "assistant memory marker" {
		t.Fatalf("unexpected reason: %q", got[0].Reason)
	}
}

func TestExtractSkipsSecretsAndDuplicates(t *testing.T) {
	msgs := messagesJSON(t, map[string]string{
		"role":    "user",
		"content": "remember sk-ABCDEFGHIJKLMNOPQRST1234",
	})
	if got := Extract(msgs, testConfig(), map[string]bool{}); len(got) != 0 {
		t.Fatalf("expected secret to be filtered, got %+v", got)
	}

	dup := messagesJSON(t, map[string]string{
		"role":    "user",
		"content": "remember that the staging db is read only",
	})
	first := Extract(dup, testConfig(), map[string]bool{})
	if len(first) != 1 {
		t.Fatalf("expected 1 candidate, got %d", len(first))
	}
	processed := map[string]bool{first[0].Hash: true}
	second := Extract(dup, testConfig(), processed)
	if len(second) != 0 {
		t.Fatalf("expected dedup against processedHashes, got %+v", second)
	}
}

func TestExtractRespectsMaxPerTurn(t *testing.T) {
	cfg := testConfig()
	cfg.MaxPerTurn = 1
	msgs := messagesJSON(t,
		map[string]string{"role": "user", "content": "remember that alpha is the primary color"},
		map[string]string{"role": "user", "content": "remember that beta is the secondary color"},
	)
	got := Extract(msgs, cfg, map[string]bool{})
	if len(got) != 1 {
		t.Fatalf("expected capped at 1, got %d", len(got))
	}
}

func TestAgentEndMessagesDefaultsToEmptyArray(t *testing.T) {
	out := AgentEndMessages(json.RawMessage(`{"type":"agent_end"}`))
	if string(out) != "[]" {
		t.Fatalf("expected empty array, got %s", out)
	}

	out = AgentEndMessages(json.RawMessage(`not json`))
	if string(out) != "[]" {
		t.Fatalf("expected empty array on bad json, got %s", out)
	}

	out = AgentEndMessages(json.RawMessage(`{"messages":[{"role":"user","content":"hi"}]}`))
	var parsed []map[string]any
	if err := json.Unmarshal(out, &parsed); err != nil || len(parsed) != 1 {
		t.Fatalf("expected passthrough messages, got %s (err=%v)", out, err)
	}
}
