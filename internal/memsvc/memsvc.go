// Package memsvc is the service facade: it owns the storage engine, the
// configuration, and the in-memory auto-capture dedupe ring, and turns
// parsed commands into store operations and JSON envelopes.
package memsvc

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/gofrs/flock"

	"github.com/untoldecay/codex-extra-memory/internal/agentsync"
	"github.com/untoldecay/codex-extra-memory/internal/autocapture"
	"github.com/untoldecay/codex-extra-memory/internal/compact"
	"github.com/untoldecay/codex-extra-memory/internal/memcmd"
	"github.com/untoldecay/codex-extra-memory/internal/memconfig"
	"github.com/untoldecay/codex-extra-memory/internal/memstore"
	"github.com/untoldecay/codex-extra-memory/internal/scope"
)

// maxTrackedHashes bounds the FIFO ring of auto-capture hashes the
// service remembers across calls, per spec §3 "Ownership".
const maxTrackedHashes = 5000

// Service coordinates every component behind a single exclusive lock.
type Service struct {
	store      *memstore.Store
	config     memconfig.Config
	configPath string
	memoryDir  string

	workspaceDir string
	scopeInfo    scope.Info
	agentsPath   string

	summarizer compact.Summarizer

	lock *flock.Flock

	processedHashes map[string]bool
	processedOrder  []string
}

// New opens (creating if absent) the memory home rooted at CODEX_HOME (or
// ~/.codex) and a service scoped to workspaceDir.
func New(workspaceDir string) (*Service, error) {
	codexHome, err := resolveCodexHome()
	if err != nil {
		return nil, err
	}
	return NewWithMemoryDir(workspaceDir, memoryDir(codexHome))
}

// NewWithMemoryDir is New with an explicit memory directory, used by
// tests to point at an isolated temporary location.
func NewWithMemoryDir(workspaceDir, memDir string) (*Service, error) {
	if err := os.MkdirAll(memDir, 0o755); err != nil {
		return nil, fmt.Errorf("create memory dir %s: %w", memDir, err)
	}

	cfgPath := configFilePath(memDir)
	cfg, err := memconfig.LoadAt(cfgPath)
	if err != nil {
		return nil, err
	}

	store, err := memstore.Open(databasePath(memDir))
	if err != nil {
		return nil, err
	}

	absWorkspace, err := filepath.Abs(workspaceDir)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("resolve workspace dir %s: %w", workspaceDir, err)
	}

	return &Service{
		store:           store,
		config:          cfg,
		configPath:      cfgPath,
		memoryDir:       memDir,
		workspaceDir:    absWorkspace,
		scopeInfo:       scope.Detect(absWorkspace),
		agentsPath:      filepath.Join(absWorkspace, "AGENTS.md"),
		summarizer:      compact.NewHTTPSummarizer(nil),
		lock:            flock.New(filepath.Join(memDir, "memory.lock")),
		processedHashes: make(map[string]bool),
	}, nil
}

// Close releases the underlying database connection.
func (s *Service) Close() error {
	return s.store.Close()
}

// currentScopes is the active scope set reads join over: the workspace's
// project scope and the global scope.
func (s *Service) currentScopes() []string {
	return []string{s.scopeInfo.Scope, "global"}
}

// actorLabel resolves who a manually-issued command should be attributed
// to in the event log, falling back to the bare "user" literal when no
// more specific identity is available.
func (s *Service) actorLabel() string {
	return scope.ResolveActorLabel(s.scopeInfo.Root)
}

func (s *Service) trackProcessedHash(hash string) {
	if s.processedHashes[hash] {
		return
	}
	s.processedHashes[hash] = true
	s.processedOrder = append(s.processedOrder, hash)
	for len(s.processedOrder) > maxTrackedHashes {
		oldest := s.processedOrder[0]
		s.processedOrder = s.processedOrder[1:]
		delete(s.processedHashes, oldest)
	}
}

// Execute runs cmd under the service's exclusive lock and returns its
// JSON envelope. The lock also guards other processes sharing the same
// memory home (gofrs/flock), not just goroutines within this one.
func (s *Service) Execute(cmd memcmd.Command) Envelope {
	if err := s.lock.Lock(); err != nil {
		return fail(string(cmd.Kind), "could not acquire memory service lock: %v", err)
	}
	defer s.lock.Unlock()

	switch cmd.Kind {
	case memcmd.KindHelp:
		return s.help()
	case memcmd.KindRefresh:
		return s.refresh()
	case memcmd.KindSync:
		return s.sync()
	case memcmd.KindAdd:
		return s.addMemory(cmd)
	case memcmd.KindShow:
		return s.show()
	case memcmd.KindList:
		return s.list(cmd)
	case memcmd.KindSearch:
		return s.search(cmd)
	case memcmd.KindDelete:
		return s.delete(cmd)
	case memcmd.KindPin:
		return s.pin(cmd)
	case memcmd.KindAuto:
		return s.auto(cmd)
	case memcmd.KindStats:
		return s.stats()
	case memcmd.KindExport:
		return s.export(cmd)
	default:
		return fail(string(cmd.Kind), "unknown command")
	}
}

const helpText = `codex-extra-memory commands:
  help                                    show this text
  refresh                                 reconcile the search index and prune old events
  sync                                    compact memories and upsert AGENTS.md
  add [--global|--project] [--category c] <text>
  show                                    preview the current injection block
  list [--limit n] [--cursor t]
  search <query> [--limit n] [--cursor t]
  delete <id-or-prefix>
  pin <id-or-prefix> on|off
  auto [on|off|status]
  stats
  export [--all] [json|md] [path]`

func (s *Service) help() Envelope {
	return ok("help", map[string]any{"text": helpText})
}

func (s *Service) refresh() Envelope {
	if err := s.store.Refresh(s.config.Retention.EventDays); err != nil {
		return fail("refresh", "%v", err)
	}
	return ok("refresh", map[string]any{"refreshed": true})
}

func (s *Service) addMemory(cmd memcmd.Command) Envelope {
	category, err := memstore.ParseCategory(cmd.Category)
	if err != nil {
		return fail("add", "%v", err)
	}

	scopeStr := "global"
	if cmd.Scope == memstore.ScopeTargetProject {
		scopeStr = s.scopeInfo.Scope
	}

	result, err := s.store.AddMemory(memstore.AddInput{
		Scope: scopeStr, Category: category, Content: cmd.Text, Source: s.actorLabel(),
	})
	if err != nil {
		return fail("add", "%v", err)
	}

	if result.Action == memstore.ActionBlocked {
		return fail("add", "%s", result.Reason)
	}

	return ok("add", map[string]any{
		"result":      string(result.Action),
		"id":          result.ID,
		"scope":       result.Scope,
		"scope_label": scopeLabel(result.Scope, s.scopeInfo.Scope),
		"category":    string(result.Category),
		"content":     result.Content,
	})
}

func scopeLabel(rowScope, projectScope string) string {
	switch {
	case rowScope == "global":
		return "global"
	case rowScope == projectScope:
		return "project"
	default:
		return "other-project"
	}
}

func (s *Service) showCandidates() ([]memstore.Row, error) {
	fetchLimit := s.config.Injection.MaxItems * 4
	if fetchLimit < 20 {
		fetchLimit = 20
	}
	rows, err := s.store.GetInjectionCandidates(s.scopeInfo.Scope, fetchLimit)
	if err != nil {
		return nil, err
	}

	var filtered []memstore.Row
	for _, row := range rows {
		if row.Scope == s.scopeInfo.Scope || (row.Scope == "global" && row.Pinned) {
			filtered = append(filtered, row)
		}
	}
	return filtered, nil
}

func (s *Service) show() Envelope {
	rows, err := s.showCandidates()
	if err != nil {
		return fail("show", "%v", err)
	}
	block := compact.BuildInjectionBlock(rows, s.config.Injection.MaxItems, s.config.Injection.MaxChars)
	return ok("show", map[string]any{
		"scope":           s.scopeInfo.Scope,
		"candidate_count": len(rows),
		"block":           block,
	})
}

func renderRows(rows []memstore.Row) string {
	if len(rows) == 0 {
		return "(no memories)"
	}
	var b strings.Builder
	for _, r := range rows {
		tag := string(r.Category)
		if r.Pinned {
			tag = "pinned / " + tag
		}
		fmt.Fprintf(&b, "- [%s] [%s] %s\n", r.ID[:8], tag, r.Content)
	}
	return strings.TrimRight(b.String(), "\n")
}

func (s *Service) list(cmd memcmd.Command) Envelope {
	limit := cmd.Limit
	if limit <= 0 {
		limit = s.config.ListLimit
	}
	offset, err := decodeCursor(cmd.Cursor)
	if err != nil {
		return fail("list", "%v", err)
	}

	rows, hasMore, err := s.store.ListMemories(s.currentScopes(), limit, offset)
	if err != nil {
		return fail("list", "%v", err)
	}

	nextCursor := ""
	if hasMore {
		nextCursor = encodeCursor(offset + limit)
	}

	return ok("list", map[string]any{
		"page": map[string]any{
			"items":       rows,
			"next_cursor": nextCursor,
			"limit":       limit,
			"offset":      offset,
		},
		"rendered": renderRows(rows),
	})
}

func (s *Service) search(cmd memcmd.Command) Envelope {
	limit := cmd.Limit
	if limit <= 0 {
		limit = s.config.SearchLimit
	}
	offset, err := decodeCursor(cmd.Cursor)
	if err != nil {
		return fail("search", "%v", err)
	}

	rows, hasMore, err := s.store.SearchMemories(s.currentScopes(), cmd.Query, limit, offset)
	if err != nil {
		return fail("search", "%v", err)
	}

	nextCursor := ""
	if hasMore {
		nextCursor = encodeCursor(offset + limit)
	}

	return ok("search", map[string]any{
		"page": map[string]any{
			"items":       rows,
			"next_cursor": nextCursor,
			"limit":       limit,
			"offset":      offset,
		},
		"rendered": renderRows(rows),
		"query":    cmd.Query,
	})
}

func (s *Service) resolveID(id string) (string, *Envelope) {
	result, err := s.store.ResolveID(id, s.currentScopes())
	if err != nil {
		e := fail("delete", "%v", err)
		return "", &e
	}
	switch result.Status {
	case memstore.ResolveMissing:
		e := fail("delete", "Memory not found.")
		return "", &e
	case memstore.ResolveAmbiguous:
		e := fail("delete", "Multiple memories match '%s': %s", id, strings.Join(result.Candidates, ", "))
		return "", &e
	default:
		return result.ID, nil
	}
}

func (s *Service) delete(cmd memcmd.Command) Envelope {
	id, errEnv := s.resolveID(cmd.ID)
	if errEnv != nil {
		errEnv.Action = "delete"
		return *errEnv
	}
	deleted, err := s.store.SoftDeleteMemory(id)
	if err != nil {
		return fail("delete", "%v", err)
	}
	if !deleted {
		return fail("delete", "Memory not found.")
	}
	return ok("delete", map[string]any{"id": id, "deleted": true})
}

func (s *Service) pin(cmd memcmd.Command) Envelope {
	id, errEnv := s.resolveID(cmd.ID)
	if errEnv != nil {
		errEnv.Action = "pin"
		return *errEnv
	}
	if _, err := s.store.SetPinned(id, cmd.PinState); err != nil {
		return fail("pin", "%v", err)
	}
	state := "off"
	if cmd.PinState {
		state = "on"
	}
	return ok("pin", map[string]any{"id": id, "pinned": cmd.PinState, "state": state})
}

func (s *Service) auto(cmd memcmd.Command) Envelope {
	switch cmd.AutoAction {
	case "on", "off":
		s.config.AutoCapture.Enabled = cmd.AutoAction == "on"
		if err := memconfig.SaveAt(s.configPath, s.config); err != nil {
			return fail("auto", "%v", err)
		}
		return ok("auto", map[string]any{"enabled": s.config.AutoCapture.Enabled})
	default:
		rendered := fmt.Sprintf("auto-capture is %s (scope=%s)", onOff(s.config.AutoCapture.Enabled), s.config.AutoCapture.Scope)
		return ok("auto", map[string]any{
			"enabled":  s.config.AutoCapture.Enabled,
			"scope":    s.config.AutoCapture.Scope,
			"rendered": rendered,
		})
	}
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}

func (s *Service) stats() Envelope {
	stats, err := s.store.GetStats(s.currentScopes())
	if err != nil {
		return fail("stats", "%v", err)
	}
	rendered := fmt.Sprintf("%d active (%d pinned, %d global, %d project)", stats.Active, stats.Pinned, stats.Global, stats.Project)
	return ok("stats", map[string]any{"stats": stats, "rendered": rendered})
}

func (s *Service) export(cmd memcmd.Command) Envelope {
	var scopes []string
	if !cmd.ExportAll {
		scopes = s.currentScopes()
	}

	rows, err := s.store.ExportActiveMemories(scopes)
	if err != nil {
		return fail("export", "%v", err)
	}

	requestedPath := cmd.ExportPath
	if requestedPath == "" {
		requestedPath = defaultExportPath(cmd.ExportFormat)
	}

	targetPath, err := resolveExportPathWithinWorkspace(s.workspaceDir, requestedPath)
	if err != nil {
		return fail("export", "%v", err)
	}

	if err := writeExportFile(targetPath, cmd.ExportFormat, rows); err != nil {
		return fail("export", "%v", err)
	}

	return ok("export", map[string]any{
		"count":  len(rows),
		"format": cmd.ExportFormat,
		"path":   targetPath,
	})
}

func (s *Service) sync() Envelope {
	rows, err := s.showCandidates()
	if err != nil {
		return fail("sync", "%v", err)
	}

	result := compact.CompactBlockForAgents(rows, s.config, s.summarizer)

	syncRes, err := agentsync.Sync(s.agentsPath, result.Block)
	if err != nil {
		return fail("sync", "%v", err)
	}

	var modelPtr, reasonPtr *string
	if result.Mode == memstore.CompactionLLM {
		model := s.config.LlmCompaction.Model
		modelPtr = &model
	}
	if result.Reason != "" {
		reason := result.Reason
		reasonPtr = &reason
	}
	s.store.RecordCompaction(s.scopeInfo.Scope, result.Mode, sumContentChars(rows), len(result.Block), len(rows), modelPtr, reasonPtr, "{}")

	return ok("sync", map[string]any{
		"changed":                 syncRes.Changed,
		"agents_path":             syncRes.Path,
		"applied_on_next_session": true,
		"selected_memories":       len(rows),
		"compaction": map[string]any{
			"mode":   string(result.Mode),
			"reason": result.Reason,
		},
	})
}

func sumContentChars(rows []memstore.Row) int {
	total := 0
	for _, r := range rows {
		total += len(r.Content)
	}
	return total
}

// CaptureCandidates runs the auto-capture pipeline over messagesJSON (the
// JSON array of {role, content} objects from a host event payload) and,
// when persist is true, adds each surviving candidate as a memory.
func (s *Service) CaptureCandidates(messagesJSON []byte, persist bool) Envelope {
	if !s.config.AutoCapture.Enabled {
		return ok("capture_candidates", map[string]any{
			"enabled": false, "persisted": false, "candidates": []any{},
			"added": 0, "deduped": 0, "blocked": 0,
		})
	}

	candidates := autocapture.Extract(messagesJSON, s.config.AutoCapture, s.processedHashes)

	added, deduped, blocked := 0, 0, 0
	scopeStr := "global"
	if s.config.AutoCapture.Scope == "project" {
		scopeStr = s.scopeInfo.Scope
	}

	if persist {
		for _, c := range candidates {
			result, err := s.store.AddMemory(memstore.AddInput{
				Scope: scopeStr, Category: c.Category, Content: c.Text, Source: "auto",
			})
			if err != nil {
				continue
			}
			switch result.Action {
			case memstore.ActionAdded:
				added++
			case memstore.ActionDeduped:
				deduped++
			case memstore.ActionBlocked:
				blocked++
			}
			s.trackProcessedHash(c.Hash)
		}
	}

	return ok("capture_candidates", map[string]any{
		"enabled":    true,
		"persisted":  persist,
		"candidates": candidates,
		"added":      added,
		"deduped":    deduped,
		"blocked":    blocked,
	})
}
