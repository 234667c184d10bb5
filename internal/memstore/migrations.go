package memstore

import (
	"database/sql"
	"fmt"

	"github.com/untoldecay/codex-extra-memory/internal/memutil"
)

// migration pairs a forward-only, idempotent schema step with the
// version number it records.
type migration struct {
	version int
	name    string
	apply   func(*sql.Tx) error
}

var migrationsList = []migration{
	{1, "memories_and_events", func(tx *sql.Tx) error {
		_, err := tx.Exec(schemaV1)
		return err
	}},
	{2, "memory_events_timestamp_index", func(tx *sql.Tx) error {
		_, err := tx.Exec(schemaV2)
		return err
	}},
	{3, "compaction_log", func(tx *sql.Tx) error {
		_, err := tx.Exec(schemaV3)
		return err
	}},
}

// runMigrations applies every migration newer than the highest recorded
// version, inside a single transaction per migration so a failure never
// leaves a half-applied step recorded.
func runMigrations(db *sql.DB) error {
	if _, err := db.Exec(schemaMigrationsTable); err != nil {
		return fmt.Errorf("create schema_migrations table: %w", err)
	}

	applied := map[int]bool{}
	rows, err := db.Query("SELECT version FROM schema_migrations")
	if err != nil {
		return fmt.Errorf("read schema_migrations: %w", err)
	}
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			rows.Close()
			return fmt.Errorf("scan schema_migrations: %w", err)
		}
		applied[v] = true
	}
	if err := rows.Err(); err != nil {
		return err
	}
	rows.Close()

	for _, m := range migrationsList {
		if applied[m.version] {
			continue
		}
		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("begin migration %s: %w", m.name, err)
		}
		if err := m.apply(tx); err != nil {
			tx.Rollback()
			return fmt.Errorf("migration %s failed: %w", m.name, err)
		}
		if _, err := tx.Exec("INSERT INTO schema_migrations(version, applied_at) VALUES (?, ?)",
			m.version, memutil.NowISO()); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration %s: %w", m.name, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %s: %w", m.name, err)
		}
	}

	return nil
}
