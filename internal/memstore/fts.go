package memstore

import (
	"database/sql"
	"errors"
	"fmt"
)

// ensureFTSSynced compares active-row count against FTS-row count; if
// they match, it probes for an active id missing from FTS and an FTS id
// not joined to an active row. Either disagreement triggers a full
// rebuild.
func (s *Store) ensureFTSSynced() error {
	var activeCount, ftsCount int64
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM memories WHERE status = 'active'`).Scan(&activeCount); err != nil {
		return fmt.Errorf("count active memories: %w", err)
	}
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM memories_fts`).Scan(&ftsCount); err != nil {
		return fmt.Errorf("count fts rows: %w", err)
	}

	needsRebuild := activeCount != ftsCount
	if !needsRebuild {
		var missingFromFTS int
		err := s.db.QueryRow(`
			SELECT 1 FROM memories m
			WHERE m.status = 'active' AND NOT EXISTS (SELECT 1 FROM memories_fts f WHERE f.id = m.id)
			LIMIT 1`).Scan(&missingFromFTS)
		switch {
		case err == nil:
			needsRebuild = true
		case errors.Is(err, sql.ErrNoRows):
			// no gap found
		default:
			return fmt.Errorf("probe missing fts rows: %w", err)
		}
	}
	if !needsRebuild {
		var orphanInFTS int
		err := s.db.QueryRow(`
			SELECT 1 FROM memories_fts f
			WHERE NOT EXISTS (SELECT 1 FROM memories m WHERE m.id = f.id AND m.status = 'active')
			LIMIT 1`).Scan(&orphanInFTS)
		switch {
		case err == nil:
			needsRebuild = true
		case errors.Is(err, sql.ErrNoRows):
			// no orphan found
		default:
			return fmt.Errorf("probe orphaned fts rows: %w", err)
		}
	}

	if !needsRebuild {
		return nil
	}
	return s.rebuildFTS()
}

// rebuildFTS clears and reinserts the FTS mirror from active rows,
// newest-updated first, inside one transaction.
func (s *Store) rebuildFTS() error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin fts rebuild: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM memories_fts`); err != nil {
		return fmt.Errorf("clear fts table: %w", err)
	}

	rows, err := tx.Query(`
		SELECT id, scope, category, content FROM memories
		WHERE status = 'active' ORDER BY updated_at DESC`)
	if err != nil {
		return fmt.Errorf("select active memories for fts rebuild: %w", err)
	}

	type seedRow struct{ id, scope, category, content string }
	var seeds []seedRow
	for rows.Next() {
		var r seedRow
		if err := rows.Scan(&r.id, &r.scope, &r.category, &r.content); err != nil {
			rows.Close()
			return fmt.Errorf("scan memory for fts rebuild: %w", err)
		}
		seeds = append(seeds, r)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return err
	}
	rows.Close()

	for _, r := range seeds {
		if _, err := tx.Exec(`INSERT INTO memories_fts (id, scope, category, content) VALUES (?, ?, ?, ?)`,
			r.id, r.scope, r.category, r.content); err != nil {
			return fmt.Errorf("reinsert fts row %s: %w", r.id, err)
		}
	}

	return tx.Commit()
}
