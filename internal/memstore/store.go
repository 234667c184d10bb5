// Package memstore is the embedded storage engine: schema migrations,
// content-addressed dedupe, full-text search with a LIKE fallback, and
// the append-only event/compaction logs.
package memstore

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/untoldecay/codex-extra-memory/internal/memutil"
	"github.com/untoldecay/codex-extra-memory/internal/obslog"
)

// Store owns the lifetime of a single SQLite connection for one memory
// home. Per spec §3 "Ownership", the service facade owns exactly one
// Store for its own lifetime.
type Store struct {
	db     *sql.DB
	hasFTS bool
}

// Open creates (if absent) and migrates the database at dbPath, enables
// WAL mode, a 5-second busy timeout, and foreign keys, then attempts to
// create the FTS5 virtual table.
func Open(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database %s: %w", dbPath, err)
	}
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}

	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, err
	}

	s := &Store{db: db}
	s.setupFTS()
	if s.hasFTS {
		if err := s.ensureFTSSynced(); err != nil {
			obslog.Warnf("memstore: fts sync failed: %v", err)
		}
	}

	return s, nil
}

// Close releases the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// HasFTS reports whether the FTS5 virtual table is available.
func (s *Store) HasFTS() bool {
	return s.hasFTS
}

func (s *Store) setupFTS() {
	if _, err := s.db.Exec(ftsCreateStatement); err != nil {
		s.hasFTS = false
		return
	}
	s.hasFTS = true
}

// AddMemory sanitizes input.Content, checks for an existing active
// duplicate in (scope, content_hash), and either dedupes against it or
// inserts a fresh row — transactionally, including the FTS mirror.
func (s *Store) AddMemory(input AddInput) (AddResult, error) {
	sanitized, err := memutil.SanitizeMemoryText(input.Content)
	if err != nil {
		return AddResult{Action: ActionBlocked, Reason: err.Error()}, nil
	}

	hash := memutil.SHA256Hex(memutil.NormalizeForHash(sanitized))

	var existingID string
	var existingCategory string
	err = s.db.QueryRow(
		`SELECT id, category FROM memories WHERE scope = ? AND content_hash = ? AND status = 'active' LIMIT 1`,
		input.Scope, hash,
	).Scan(&existingID, &existingCategory)

	switch {
	case err == nil:
		now := memutil.NowISO()
		if _, err := s.db.Exec(`UPDATE memories SET updated_at = ? WHERE id = ?`, now, existingID); err != nil {
			return AddResult{}, fmt.Errorf("update deduped memory: %w", err)
		}
		s.addEvent(existingID, "deduped", now, fmt.Sprintf(`{"scope":%q,"source":%q}`, input.Scope, input.Source))
		return AddResult{
			Action:   ActionDeduped,
			ID:       existingID,
			Scope:    input.Scope,
			Category: Category(existingCategory),
			Content:  sanitized,
		}, nil
	case errors.Is(err, sql.ErrNoRows):
		// fall through to insert
	default:
		return AddResult{}, fmt.Errorf("lookup existing memory: %w", err)
	}

	id := uuid.NewString()
	now := memutil.NowISO()

	tx, err := s.db.Begin()
	if err != nil {
		return AddResult{}, fmt.Errorf("begin add_memory transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(
		`INSERT INTO memories (id, scope, category, content, content_hash, status, pinned, source, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, 'active', 0, ?, ?, ?)`,
		id, input.Scope, string(input.Category), sanitized, hash, input.Source, now, now,
	); err != nil {
		return AddResult{}, fmt.Errorf("insert memory: %w", err)
	}

	if s.hasFTS {
		if _, err := tx.Exec(
			`INSERT INTO memories_fts (id, scope, category, content) VALUES (?, ?, ?, ?)`,
			id, input.Scope, string(input.Category), sanitized,
		); err != nil {
			return AddResult{}, fmt.Errorf("insert fts row: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return AddResult{}, fmt.Errorf("commit add_memory transaction: %w", err)
	}

	s.addEvent(id, "added", now, fmt.Sprintf(`{"scope":%q,"category":%q,"source":%q}`, input.Scope, string(input.Category), input.Source))

	return AddResult{
		Action:   ActionAdded,
		ID:       id,
		Scope:    input.Scope,
		Category: input.Category,
		Content:  sanitized,
	}, nil
}

// addEvent is best-effort: a failure to record history never fails the
// mutation that triggered it.
func (s *Store) addEvent(memoryID, action, timestamp, payloadJSON string) {
	if _, err := s.db.Exec(
		`INSERT INTO memory_events (memory_id, action, timestamp, payload_json) VALUES (?, ?, ?, ?)`,
		memoryID, action, timestamp, payloadJSON,
	); err != nil {
		obslog.Debugf("memstore: failed to record event %s for %s: %v", action, memoryID, err)
	}
}

// ResolveID resolves an id or unambiguous prefix to a single active
// memory id, optionally restricted to scopes.
func (s *Store) ResolveID(idOrPrefix string, scopes []string) (ResolveResult, error) {
	trimmed := strings.TrimSpace(idOrPrefix)
	if trimmed == "" {
		return ResolveResult{Status: ResolveMissing}, nil
	}

	if _, err := uuid.Parse(trimmed); err == nil {
		query := `SELECT id FROM memories WHERE id = ? AND status = 'active'`
		args := []any{trimmed}
		if len(scopes) > 0 {
			query += " AND scope IN (" + placeholders(len(scopes)) + ")"
			args = append(args, scopeArgs(scopes)...)
		}
		var id string
		switch err := s.db.QueryRow(query, args...).Scan(&id); {
		case err == nil:
			return ResolveResult{Status: ResolveOK, ID: id}, nil
		case errors.Is(err, sql.ErrNoRows):
			return ResolveResult{Status: ResolveMissing}, nil
		default:
			return ResolveResult{}, fmt.Errorf("resolve id: %w", err)
		}
	}

	escaped := memutil.EscapeLike(trimmed)
	query := `SELECT id FROM memories WHERE status = 'active' AND id LIKE ? ESCAPE '\'`
	args := []any{escaped + "%"}
	if len(scopes) > 0 {
		query += " AND scope IN (" + placeholders(len(scopes)) + ")"
		args = append(args, scopeArgs(scopes)...)
	}
	query += " ORDER BY updated_at DESC LIMIT 5"

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return ResolveResult{}, fmt.Errorf("resolve id prefix: %w", err)
	}
	defer rows.Close()

	var candidates []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return ResolveResult{}, fmt.Errorf("scan candidate: %w", err)
		}
		candidates = append(candidates, id)
	}
	if err := rows.Err(); err != nil {
		return ResolveResult{}, err
	}

	switch len(candidates) {
	case 0:
		return ResolveResult{Status: ResolveMissing}, nil
	case 1:
		return ResolveResult{Status: ResolveOK, ID: candidates[0]}, nil
	default:
		return ResolveResult{Status: ResolveAmbiguous, Candidates: candidates}, nil
	}
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func scopeArgs(scopes []string) []any {
	args := make([]any, len(scopes))
	for i, s := range scopes {
		args[i] = s
	}
	return args
}

// ListMemories returns active rows in scopes, ordered pinned-first then
// most-recently-updated, with a has_more flag derived from fetching one
// extra row.
func (s *Store) ListMemories(scopes []string, limit, offset int) ([]Row, bool, error) {
	if len(scopes) == 0 {
		return nil, false, nil
	}
	query := fmt.Sprintf(
		`SELECT id, scope, category, content, content_hash, status, pinned, source, created_at, updated_at
		 FROM memories
		 WHERE status = 'active' AND scope IN (%s)
		 ORDER BY pinned DESC, updated_at DESC
		 LIMIT ? OFFSET ?`, placeholders(len(scopes)))
	args := append(scopeArgs(scopes), limit+1, offset)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, false, fmt.Errorf("list memories: %w", err)
	}
	defer rows.Close()
	return collectRows(rows, limit)
}

func collectRows(rows *sql.Rows, limit int) ([]Row, bool, error) {
	var out []Row
	for rows.Next() {
		var r Row
		var pinned int
		var category string
		if err := rows.Scan(&r.ID, &r.Scope, &category, &r.Content, &r.ContentHash, &r.Status, &pinned, &r.Source, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, false, fmt.Errorf("scan memory row: %w", err)
		}
		r.Category = Category(category)
		r.Pinned = pinned != 0
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, false, err
	}
	hasMore := len(out) > limit
	if hasMore {
		out = out[:limit]
	}
	return out, hasMore, nil
}

// toFTSQuery tokenizes a free-text query into an FTS5 MATCH expression,
// or "" if no usable tokens survive filtering.
func toFTSQuery(query string) string {
	fields := strings.Fields(query)
	var tokens []string
	for _, f := range fields {
		var b strings.Builder
		for _, r := range f {
			if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '_' {
				b.WriteRune(r)
			}
		}
		t := b.String()
		if len([]rune(t)) < 2 {
			continue
		}
		tokens = append(tokens, t)
		if len(tokens) >= 8 {
			break
		}
	}
	if len(tokens) == 0 {
		return ""
	}
	for i, t := range tokens {
		tokens[i] = t + "*"
	}
	return strings.Join(tokens, " AND ")
}

// SearchMemories tries the FTS path first (when available and the query
// tokenizes to something usable); a zero-row FTS result falls through to
// a LIKE scan, so tokenization quirks never produce a false negative.
func (s *Store) SearchMemories(scopes []string, query string, limit, offset int) ([]Row, bool, error) {
	if len(scopes) == 0 {
		return nil, false, nil
	}

	ftsQuery := ""
	if s.hasFTS {
		ftsQuery = toFTSQuery(query)
	}

	if ftsQuery != "" {
		rows, hasMore, err := s.searchFTS(scopes, ftsQuery, limit, offset)
		if err != nil {
			return nil, false, err
		}
		if len(rows) > 0 {
			return rows, hasMore, nil
		}
	}

	return s.searchLike(scopes, query, limit, offset)
}

func (s *Store) searchFTS(scopes []string, ftsQuery string, limit, offset int) ([]Row, bool, error) {
	q := fmt.Sprintf(
		`SELECT m.id, m.scope, m.category, m.content, m.content_hash, m.status, m.pinned, m.source, m.created_at, m.updated_at
		 FROM memories_fts f
		 JOIN memories m ON m.id = f.id
		 WHERE f.content MATCH ? AND m.status = 'active' AND m.scope IN (%s)
		 ORDER BY bm25(memories_fts), m.updated_at DESC
		 LIMIT ? OFFSET ?`, placeholders(len(scopes)))
	args := append([]any{ftsQuery}, scopeArgs(scopes)...)
	args = append(args, limit+1, offset)

	rows, err := s.db.Query(q, args...)
	if err != nil {
		return nil, false, fmt.Errorf("fts search: %w", err)
	}
	defer rows.Close()
	return collectRows(rows, limit)
}

func (s *Store) searchLike(scopes []string, query string, limit, offset int) ([]Row, bool, error) {
	pattern := "%" + strings.ToLower(memutil.EscapeLike(query)) + "%"
	q := fmt.Sprintf(
		`SELECT id, scope, category, content, content_hash, status, pinned, source, created_at, updated_at
		 FROM memories
		 WHERE status = 'active' AND scope IN (%s) AND lower(content) LIKE ? ESCAPE '\'
		 ORDER BY pinned DESC, updated_at DESC
		 LIMIT ? OFFSET ?`, placeholders(len(scopes)))
	args := append(scopeArgs(scopes), pattern, limit+1, offset)

	rows, err := s.db.Query(q, args...)
	if err != nil {
		return nil, false, fmt.Errorf("like search: %w", err)
	}
	defer rows.Close()
	return collectRows(rows, limit)
}

// SoftDeleteMemory transitions an active row to deleted. Returns false,
// with no error, if the entry was not active.
func (s *Store) SoftDeleteMemory(id string) (bool, error) {
	now := memutil.NowISO()
	res, err := s.db.Exec(`UPDATE memories SET status = 'deleted', updated_at = ? WHERE id = ? AND status = 'active'`, now, id)
	if err != nil {
		return false, fmt.Errorf("soft delete memory: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("soft delete rows affected: %w", err)
	}
	if n == 0 {
		return false, nil
	}
	if s.hasFTS {
		if _, err := s.db.Exec(`DELETE FROM memories_fts WHERE id = ?`, id); err != nil {
			obslog.Debugf("memstore: failed to remove fts row for %s: %v", id, err)
		}
	}
	s.addEvent(id, "deleted", now, "{}")
	return true, nil
}

// SetPinned updates the pin flag; emits a pinned/unpinned event only when
// the value actually changes.
func (s *Store) SetPinned(id string, enabled bool) (bool, error) {
	now := memutil.NowISO()
	var pinnedVal int
	if enabled {
		pinnedVal = 1
	}
	res, err := s.db.Exec(
		`UPDATE memories SET pinned = ?, updated_at = ? WHERE id = ? AND status = 'active' AND pinned != ?`,
		pinnedVal, now, id, pinnedVal,
	)
	if err != nil {
		return false, fmt.Errorf("set pinned: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n == 0 {
		var exists int
		_ = s.db.QueryRow(`SELECT 1 FROM memories WHERE id = ? AND status = 'active'`, id).Scan(&exists)
		if exists == 0 {
			return false, nil
		}
		// Row exists but pin state was already what was requested: spec
		// treats this as "changed=false" with no error, and no id is
		// surfaced as a resolve failure — the caller already resolved it.
		return false, nil
	}
	action := "unpinned"
	if enabled {
		action = "pinned"
	}
	s.addEvent(id, action, now, "{}")
	return true, nil
}

// GetInjectionCandidates returns active rows for projectScope and
// "global", ordered by a four-level priority:
// project+pinned, global+pinned, project, global.
func (s *Store) GetInjectionCandidates(projectScope string, limit int) ([]Row, error) {
	rows, err := s.db.Query(
		`SELECT id, scope, category, content, content_hash, status, pinned, source, created_at, updated_at
		 FROM memories
		 WHERE status = 'active' AND scope IN (?, 'global')
		 ORDER BY
			CASE
				WHEN scope = ? AND pinned = 1 THEN 0
				WHEN scope = 'global' AND pinned = 1 THEN 1
				WHEN scope = ? THEN 2
				ELSE 3
			END,
			updated_at DESC
		 LIMIT ?`,
		projectScope, projectScope, projectScope, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("injection candidates: %w", err)
	}
	defer rows.Close()
	out, _, err := collectRows(rows, limit)
	return out, err
}

// GetStats reports active/pinned/global/project counts for scopes.
func (s *Store) GetStats(scopes []string) (Stats, error) {
	stats := Stats{HasFTS: s.hasFTS}
	if len(scopes) == 0 {
		return stats, nil
	}

	q := fmt.Sprintf(`SELECT
		COUNT(*),
		COALESCE(SUM(pinned), 0),
		COALESCE(SUM(CASE WHEN scope = 'global' THEN 1 ELSE 0 END), 0),
		COALESCE(SUM(CASE WHEN scope != 'global' THEN 1 ELSE 0 END), 0)
		FROM memories WHERE status = 'active' AND scope IN (%s)`, placeholders(len(scopes)))

	err := s.db.QueryRow(q, scopeArgs(scopes)...).Scan(&stats.Active, &stats.Pinned, &stats.Global, &stats.Project)
	if err != nil {
		return Stats{}, fmt.Errorf("get stats: %w", err)
	}
	return stats, nil
}

// ExportActiveMemories returns every active row, optionally filtered to
// scopes (nil means all scopes), ordered for deterministic export output.
func (s *Store) ExportActiveMemories(scopes []string) ([]Row, error) {
	query := `SELECT id, scope, category, content, content_hash, status, pinned, source, created_at, updated_at
		FROM memories WHERE status = 'active'`
	var args []any
	if scopes != nil {
		query += fmt.Sprintf(" AND scope IN (%s)", placeholders(len(scopes)))
		args = scopeArgs(scopes)
	}
	query += " ORDER BY scope, pinned DESC, updated_at DESC"

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("export active memories: %w", err)
	}
	defer rows.Close()
	out, _, err := collectRows(rows, 1<<30)
	return out, err
}

// PruneOldEvents deletes event rows older than days.
func (s *Store) PruneOldEvents(days int) error {
	cutoff := time.Now().UTC().Add(-time.Duration(days) * 24 * time.Hour).Format(time.RFC3339)
	if _, err := s.db.Exec(`DELETE FROM memory_events WHERE timestamp < ?`, cutoff); err != nil {
		return fmt.Errorf("prune old events: %w", err)
	}
	return nil
}

// RecordCompaction inserts a compaction-log row. Best-effort: errors are
// dropped, matching the original's `let _ = ...` insert.
func (s *Store) RecordCompaction(scope string, mode CompactionMode, inputChars, outputChars, sourceCount int, model, reason *string, detailsJSON string) {
	var modelVal, reasonVal any
	if model != nil {
		modelVal = *model
	}
	if reason != nil {
		reasonVal = *reason
	}
	if _, err := s.db.Exec(
		`INSERT INTO compaction_log (scope, mode, input_chars, output_chars, source_count, model, reason, details_json, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		scope, string(mode), inputChars, outputChars, sourceCount, modelVal, reasonVal, detailsJSON, memutil.NowISO(),
	); err != nil {
		obslog.Debugf("memstore: failed to record compaction: %v", err)
	}
}

// Refresh reconciles FTS consistency, prunes the event log per
// eventDays, and asks SQLite to optimize its query planner statistics.
func (s *Store) Refresh(eventDays int) error {
	if s.hasFTS {
		if err := s.ensureFTSSynced(); err != nil {
			obslog.Warnf("memstore: fts sync failed during refresh: %v", err)
		}
	}
	if err := s.PruneOldEvents(eventDays); err != nil {
		return err
	}
	if _, err := s.db.Exec(`PRAGMA optimize`); err != nil {
		obslog.Debugf("memstore: pragma optimize failed: %v", err)
	}
	return nil
}
