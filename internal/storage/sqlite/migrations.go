// Package sqlite - database migrations
package sqlite

import (
	"database/sql"
	"fmt"
)

// migration is a single idempotent schema change.
type migration struct {
	Name string
	Func func(*sql.DB) error
}

// migrationsList runs in order during database initialization. Every entry
// must be safe to re-run against an already-migrated database.
var migrationsList = []migration{
	{"metadata_column", migrateMetadataColumn},
	{"raw_origin_composite_index", migrateRawOriginIndex},
	{"research_queue_source_columns", migrateResearchQueueColumns},
}

// runMigrations executes all registered migrations under an EXCLUSIVE
// transaction so parallel processes cannot race on check-then-modify steps.
func runMigrations(db *sql.DB) error {
	if _, err := db.Exec("BEGIN EXCLUSIVE"); err != nil {
		return fmt.Errorf("failed to acquire exclusive lock for migrations: %w", err)
	}

	committed := false
	defer func() {
		if !committed {
			_, _ = db.Exec("ROLLBACK")
		}
	}()

	for _, m := range migrationsList {
		if err := m.Func(db); err != nil {
			return fmt.Errorf("migration %s failed: %w", m.Name, err)
		}
	}

	if _, err := db.Exec("COMMIT"); err != nil {
		return fmt.Errorf("failed to commit migrations: %w", err)
	}
	committed = true
	return nil
}

func columnExists(db *sql.DB, table, column string) (bool, error) {
	rows, err := db.Query(fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return false, err
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var cid int
		var name, ctype string
		var notnull, pk int
		var dflt sql.NullString
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dflt, &pk); err != nil {
			return false, err
		}
		if name == column {
			return true, nil
		}
	}
	return false, rows.Err()
}

// migrateMetadataColumn adds the fallback marker column to the canonical
// table for databases created before copy-through existed.
func migrateMetadataColumn(db *sql.DB) error {
	exists, err := columnExists(db, "available_products", "metadata")
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	_, err = db.Exec(`ALTER TABLE available_products ADD COLUMN metadata TEXT DEFAULT ''`)
	return err
}

func migrateRawOriginIndex(db *sql.DB) error {
	_, err := db.Exec(`CREATE INDEX IF NOT EXISTS idx_raw_bank_tuple
		ON available_products_raw(bank_name, platform, account_type, aer_rate)`)
	return err
}

func migrateResearchQueueColumns(db *sql.DB) error {
	exists, err := columnExists(db, "frn_research_queue", "source")
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	_, err = db.Exec(`ALTER TABLE frn_research_queue ADD COLUMN source TEXT NOT NULL DEFAULT ''`)
	return err
}
