package scope

import (
	"os"
	"testing"
)

func TestNormalizeGitRemoteIdentifierVariants(t *testing.T) {
	cases := map[string]string{
		"git@github.com:OpenAI/codex.git":      "https://github.com/OpenAI/codex",
		"https://github.com/OpenAI/codex.git":  "https://github.com/OpenAI/codex",
		"https://GitHub.com/OpenAI/codex":      "https://github.com/OpenAI/codex",
		"git@gitlab.com:team/sub/project.git":  "https://gitlab.com/team/sub/project",
	}
	for in, want := range cases {
		if got := normalizeGitRemoteIdentifier(in); got != want {
			t.Errorf("normalizeGitRemoteIdentifier(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestDetectFallsBackToPathOutsideRepo(t *testing.T) {
	dir := t.TempDir()
	info := Detect(dir)
	if info.Kind != "path" && info.Kind != "git" {
		t.Fatalf("unexpected kind %q", info.Kind)
	}
	if info.Scope == "" || len(info.Scope) < len("project:")+10 {
		t.Fatalf("scope looks malformed: %q", info.Scope)
	}
}

func TestResolveActorLabelPrefersEnvOverride(t *testing.T) {
	t.Setenv("CODEXMEM_ACTOR", "alice")
	if got := ResolveActorLabel(t.TempDir()); got != "alice" {
		t.Fatalf("got %q, want alice", got)
	}
}

func TestResolveActorLabelFallsBackWhenNoGitIdentity(t *testing.T) {
	os.Unsetenv("CODEXMEM_ACTOR")
	got := ResolveActorLabel(t.TempDir())
	if got == "" {
		t.Fatalf("expected a non-empty fallback label")
	}
}
