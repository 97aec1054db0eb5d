package database

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
)

const entryColumns = `entry_number, title, synopsis, category, subcategory, phase, keywords,
	date_start, date_end, duration_days,
	danger, lawlessness, insanity, absurdity, authoritarianism,
	credibility_risk, recency_intensity, impact_scope,
	fucked_up_score, fucked_up_rank, rationale_short`

// InsertEntries stores entries and their source links in one transaction.
// Entries whose entry_number already exists are left untouched.
// Returns the number of newly inserted entries.
func (db *DB) InsertEntries(entries []Entry) (int, error) {
	tx, err := db.conn.Begin()
	if err != nil {
		return 0, fmt.Errorf("begin import: %w", err)
	}
	defer tx.Rollback() //nolint: errcheck

	entryStmt, err := tx.Prepare(`INSERT INTO entries (` + entryColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(entry_number) DO NOTHING`)
	if err != nil {
		return 0, fmt.Errorf("preparing entry insert: %w", err)
	}
	defer entryStmt.Close()

	sourceStmt, err := tx.Prepare(`INSERT INTO entry_sources (entry_number, url, is_primary)
		VALUES (?, ?, ?) ON CONFLICT(entry_number, url) DO NOTHING`)
	if err != nil {
		return 0, fmt.Errorf("preparing source insert: %w", err)
	}
	defer sourceStmt.Close()

	inserted := 0
	for _, e := range entries {
		var kwJSON *string
		if e.Keywords != nil {
			data, err := json.Marshal(e.Keywords)
			if err != nil {
				return 0, err
			}
			s := string(data)
			kwJSON = &s
		}

		res, err := entryStmt.Exec(
			e.EntryNumber, e.Title, e.Synopsis, e.Category, e.Subcategory, e.Phase, kwJSON,
			e.DateStart, e.DateEnd, e.DurationDays,
			e.Danger, e.Lawlessness, e.Insanity, e.Absurdity, e.Authoritarianism,
			e.CredibilityRisk, e.RecencyIntensity, e.ImpactScope,
			e.CompositeScore, e.CompositeRank, e.RationaleShort,
		)
		if err != nil {
			return 0, fmt.Errorf("inserting entry %d: %w", e.EntryNumber, err)
		}
		n, _ := res.RowsAffected()
		if n == 0 {
			continue
		}
		inserted++

		for i, u := range e.Sources {
			if _, err := sourceStmt.Exec(e.EntryNumber, u, i == 0); err != nil {
				return 0, fmt.Errorf("inserting source for entry %d: %w", e.EntryNumber, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit import: %w", err)
	}
	log.Printf("Imported %d of %d entries", inserted, len(entries))
	return inserted, nil
}

// GetAllEntries returns every entry ordered by composite rank (unranked last),
// then entry number.
func (db *DB) GetAllEntries() ([]Entry, error) {
	rows, err := db.conn.Query(`SELECT ` + entryColumns + ` FROM entries
		ORDER BY fucked_up_rank IS NULL, fucked_up_rank ASC, entry_number ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEntries(rows)
}

// GetEntry returns a single entry with its source URLs, or nil if absent.
func (db *DB) GetEntry(entryNumber int) (*Entry, error) {
	e, _, err := db.GetEntryWithSources(entryNumber)
	return e, err
}

// GetEntryWithSources returns an entry together with its source rows.
// Both are nil if the entry is absent.
func (db *DB) GetEntryWithSources(entryNumber int) (*Entry, []Source, error) {
	row := db.conn.QueryRow(`SELECT `+entryColumns+` FROM entries WHERE entry_number = ?`, entryNumber)
	e, err := scanEntry(row)
	if err == sql.ErrNoRows {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, err
	}

	sources, err := db.GetSourcesForEntry(entryNumber)
	if err != nil {
		return nil, nil, err
	}
	for _, s := range sources {
		e.Sources = append(e.Sources, s.URL)
	}
	return e, sources, nil
}

// EntryExists reports whether an entry with this number is stored.
func (db *DB) EntryExists(entryNumber int) (bool, error) {
	var n int
	err := db.conn.QueryRow("SELECT COUNT(*) FROM entries WHERE entry_number = ?", entryNumber).Scan(&n)
	return n > 0, err
}

// CountEntries returns the number of stored entries.
func (db *DB) CountEntries() (int, error) {
	var n int
	err := db.conn.QueryRow("SELECT COUNT(*) FROM entries").Scan(&n)
	return n, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntryRow(row rowScanner) (*Entry, error) {
	var e Entry
	var kwJSON *string
	if err := row.Scan(&e.EntryNumber, &e.Title, &e.Synopsis, &e.Category, &e.Subcategory, &e.Phase, &kwJSON,
		&e.DateStart, &e.DateEnd, &e.DurationDays,
		&e.Danger, &e.Lawlessness, &e.Insanity, &e.Absurdity, &e.Authoritarianism,
		&e.CredibilityRisk, &e.RecencyIntensity, &e.ImpactScope,
		&e.CompositeScore, &e.CompositeRank, &e.RationaleShort); err != nil {
		return nil, err
	}
	if kwJSON != nil {
		if err := json.Unmarshal([]byte(*kwJSON), &e.Keywords); err != nil {
			e.Keywords = nil
		}
	}
	return &e, nil
}

func scanEntries(rows *sql.Rows) ([]Entry, error) {
	var entries []Entry
	for rows.Next() {
		e, err := scanEntryRow(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, *e)
	}
	return entries, rows.Err()
}

func scanEntry(row *sql.Row) (*Entry, error) {
	return scanEntryRow(row)
}
