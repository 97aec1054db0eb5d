package database

import (
	"database/sql"
	"fmt"
	"log"
)

// getSchemaVersion reads PRAGMA user_version from the database.
func getSchemaVersion(conn *sql.DB) (int, error) {
	var version int
	if err := conn.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return 0, fmt.Errorf("reading schema version: %w", err)
	}
	return version, nil
}

// hasUnversionedSchema returns true if the entries table exists but no
// user_version was ever stamped, e.g. a catalog created by hand with the
// sqlite3 shell.
func hasUnversionedSchema(conn *sql.DB) (bool, error) {
	var count int
	err := conn.QueryRow(
		"SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name='entries'",
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("checking for existing tables: %w", err)
	}
	return count > 0, nil
}

// entryColumnDecls lists the entries columns migration 1 creates, other than
// the entry_number key.
var entryColumnDecls = []struct{ name, decl string }{
	{"title", "TEXT NOT NULL DEFAULT ''"},
	{"synopsis", "TEXT NOT NULL DEFAULT ''"},
	{"category", "TEXT NOT NULL DEFAULT ''"},
	{"subcategory", "TEXT"},
	{"phase", "TEXT NOT NULL DEFAULT ''"},
	{"keywords", "TEXT"},
	{"date_start", "TEXT"},
	{"date_end", "TEXT"},
	{"duration_days", "INTEGER"},
	{"danger", "REAL"},
	{"lawlessness", "REAL"},
	{"insanity", "REAL"},
	{"absurdity", "REAL"},
	{"authoritarianism", "REAL"},
	{"credibility_risk", "REAL"},
	{"recency_intensity", "REAL"},
	{"impact_scope", "REAL"},
	{"fucked_up_score", "REAL"},
	{"fucked_up_rank", "INTEGER"},
	{"rationale_short", "TEXT"},
	{"created_at", "TEXT"},
}

// addMissingEntryColumns brings an unversioned entries table up to the
// columns the store reads and writes.
func addMissingEntryColumns(conn *sql.DB) error {
	rows, err := conn.Query("SELECT name FROM pragma_table_info('entries')")
	if err != nil {
		return fmt.Errorf("reading entries columns: %w", err)
	}
	have := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			rows.Close()
			return fmt.Errorf("reading entries columns: %w", err)
		}
		have[name] = true
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("reading entries columns: %w", err)
	}
	if !have["entry_number"] {
		return fmt.Errorf("existing entries table has no entry_number column")
	}

	for _, c := range entryColumnDecls {
		if have[c.name] {
			continue
		}
		log.Printf("Adding missing column entries.%s", c.name)
		if _, err := conn.Exec(fmt.Sprintf("ALTER TABLE entries ADD COLUMN %s %s", c.name, c.decl)); err != nil {
			return fmt.Errorf("adding column %s: %w", c.name, err)
		}
	}
	return nil
}

// migrate brings the database schema up to the latest version.
// It uses PRAGMA user_version to track which migrations have been applied.
func migrate(conn *sql.DB) error {
	current, err := getSchemaVersion(conn)
	if err != nil {
		return err
	}

	// Migration 1 is IF NOT EXISTS and would keep a hand-made entries table
	// as is, so its missing columns are added first.
	if current == 0 {
		existing, err := hasUnversionedSchema(conn)
		if err != nil {
			return err
		}
		if existing {
			log.Printf("Found unversioned catalog schema, applying migrations over it")
			if err := addMissingEntryColumns(conn); err != nil {
				return err
			}
		}
	}

	latest := latestVersion()
	if current >= latest {
		return nil
	}

	for _, m := range migrations {
		if m.Version <= current {
			continue
		}

		log.Printf("Applying migration %d: %s", m.Version, m.Description)

		tx, err := conn.Begin()
		if err != nil {
			return fmt.Errorf("begin migration %d: %w", m.Version, err)
		}

		if err := m.Up(tx); err != nil {
			tx.Rollback()
			return fmt.Errorf("migration %d (%s): %w", m.Version, m.Description, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", m.Version, err)
		}

		// Set user_version outside the transaction (modernc/sqlite requirement).
		if _, err := conn.Exec(fmt.Sprintf("PRAGMA user_version = %d", m.Version)); err != nil {
			return fmt.Errorf("setting version %d: %w", m.Version, err)
		}
	}

	return nil
}
