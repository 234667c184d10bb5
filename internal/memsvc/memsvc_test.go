package memsvc

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/untoldecay/codex-extra-memory/internal/memcmd"
	"github.com/untoldecay/codex-extra-memory/internal/memstore"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	workspace := t.TempDir()
	memDir := filepath.Join(t.TempDir(), "memory")

	svc, err := NewWithMemoryDir(workspace, memDir)
	if err != nil {
		t.Fatalf("NewWithMemoryDir: %v", err)
	}
	t.Cleanup(func() { svc.Close() })
	return svc
}

func mustParse(t *testing.T, raw string) memcmd.Command {
	t.Helper()
	cmd, err := memcmd.Parse(raw)
	if err != nil {
		t.Fatalf("Parse(%q): %v", raw, err)
	}
	return cmd
}

func TestAddThenDedupe(t *testing.T) {
	svc := newTestService(t)

	first := svc.Execute(mustParse(t, `add --project User prefers pnpm`))
	if !first.OK {
		t.Fatalf("expected ok, got %+v", first)
	}
	data := first.Data.(map[string]any)
	if data["result"] != "added" {
		t.Fatalf("expected added, got %+v", data)
	}
	firstID := data["id"].(string)

	second := svc.Execute(mustParse(t, `add --project "  user   prefers   pnpm  "`))
	if !second.OK {
		t.Fatalf("expected ok, got %+v", second)
	}
	data2 := second.Data.(map[string]any)
	if data2["result"] != "deduped" || data2["id"] != firstID {
		t.Fatalf("expected deduped with same id, got %+v", data2)
	}
}

func TestAddSecretIsBlocked(t *testing.T) {
	svc := newTestService(t)
	res := svc.Execute(mustParse(t, `add here is sk-ABCDEFGHIJKLMNOPQRST1234`))
	if res.OK {
		t.Fatalf("expected failure, got %+v", res)
	}
	if res.Error != "Memory looks like a secret/token. Refusing to store it." {
		t.Fatalf("unexpected error: %q", res.Error)
	}
}

func TestSearchFindsAddedMemory(t *testing.T) {
	svc := newTestService(t)
	add := svc.Execute(mustParse(t, `add --project User prefers pnpm`))
	addedID := add.Data.(map[string]any)["id"].(string)

	res := svc.Execute(mustParse(t, "search pnpm"))
	if !res.OK {
		t.Fatalf("expected ok, got %+v", res)
	}
	page := res.Data.(map[string]any)["page"].(map[string]any)
	items, ok := page["items"].([]memstore.Row)
	if !ok || len(items) != 1 || items[0].ID != addedID {
		t.Fatalf("expected to find the added row, got %+v", page["items"])
	}
}

func TestDeleteThenReAddCreatesFreshID(t *testing.T) {
	svc := newTestService(t)
	add1 := svc.Execute(mustParse(t, "add The sky is blue"))
	id1 := add1.Data.(map[string]any)["id"].(string)

	del := svc.Execute(mustParse(t, "delete "+id1))
	if !del.OK {
		t.Fatalf("expected delete ok, got %+v", del)
	}

	add2 := svc.Execute(mustParse(t, "add The sky is blue"))
	id2 := add2.Data.(map[string]any)["id"].(string)
	if id1 == id2 {
		t.Fatalf("expected a fresh id after delete")
	}
}

func TestSyncIdempotence(t *testing.T) {
	svc := newTestService(t)

	if err := os.WriteFile(svc.agentsPath, []byte("# Team Instructions\n\nDo not edit intro.\n"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	add := svc.Execute(mustParse(t, "add --project Always run unit tests before final answer"))
	if !add.OK {
		t.Fatalf("add failed: %+v", add)
	}

	first := svc.Execute(mustParse(t, "sync"))
	if !first.OK {
		t.Fatalf("sync failed: %+v", first)
	}
	firstData := first.Data.(map[string]any)
	if firstData["changed"] != true {
		t.Fatalf("expected first sync to change the file, got %+v", firstData)
	}

	content, err := os.ReadFile(svc.agentsPath)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	text := string(content)
	if !strings.Contains(text, "Do not edit intro.") {
		t.Fatalf("expected preserved intro, got %q", text)
	}

	second := svc.Execute(mustParse(t, "sync"))
	if !second.OK {
		t.Fatalf("second sync failed: %+v", second)
	}
	secondData := second.Data.(map[string]any)
	if secondData["changed"] != false {
		t.Fatalf("expected second sync to be a no-op, got %+v", secondData)
	}
}

func TestCaptureCandidatesPersistsTwo(t *testing.T) {
	svc := newTestService(t)
	payload := []byte(`[
		{"role":"user","content":"please remember that I prefer rust over typescript"},
		{"role":"assistant","content":"Memory: use concise bullet points"}
	]`)

	res := svc.CaptureCandidates(payload, true)
	if !res.OK {
		t.Fatalf("expected ok, got %+v", res)
	}
	data := res.Data.(map[string]any)
	if data["added"] != 2 {
		t.Fatalf("expected added=2, got %+v", data)
	}

	list := svc.Execute(mustParse(t, "list --limit 50"))
	page := list.Data.(map[string]any)["page"].(map[string]any)
	items := page["items"]
	if items == nil {
		t.Fatalf("expected items present")
	}
}

func TestExportWithinWorkspaceSucceeds(t *testing.T) {
	svc := newTestService(t)
	svc.Execute(mustParse(t, "add --global a fact worth exporting"))

	res := svc.Execute(mustParse(t, "export --all md ./exports/memory.md"))
	if !res.OK {
		t.Fatalf("expected ok, got %+v", res)
	}
	data := res.Data.(map[string]any)
	path := data["path"].(string)
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected export file to exist at %s: %v", path, err)
	}
}

func TestExportOutsideWorkspaceFails(t *testing.T) {
	svc := newTestService(t)
	svc.Execute(mustParse(t, "add --global a fact"))

	res := svc.Execute(mustParse(t, "export json ../outside.json"))
	if res.OK {
		t.Fatalf("expected failure escaping the workspace, got %+v", res)
	}
}

func TestExportAbsolutePathFails(t *testing.T) {
	svc := newTestService(t)
	res := svc.Execute(mustParse(t, "export json /tmp/outside.json"))
	if res.OK {
		t.Fatalf("expected failure for absolute path, got %+v", res)
	}
}

func TestDeleteMissingIDFails(t *testing.T) {
	svc := newTestService(t)
	res := svc.Execute(mustParse(t, "delete zzzz-does-not-exist"))
	if res.OK {
		t.Fatalf("expected failure, got %+v", res)
	}
	if res.Error != "Memory not found." {
		t.Fatalf("unexpected error: %q", res.Error)
	}
}
