package database

import "database/sql"

// GetSourcesForEntry returns the provenance links of an entry, primary first.
func (db *DB) GetSourcesForEntry(entryNumber int) ([]Source, error) {
	rows, err := db.conn.Query(
		`SELECT id, entry_number, url, title, source_date, is_primary, fetched
		FROM entry_sources WHERE entry_number = ? ORDER BY is_primary DESC, id ASC`, entryNumber,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanSources(rows)
}

// GetSourcesNeedingTitle returns links that have no title and were never fetched.
func (db *DB) GetSourcesNeedingTitle() ([]Source, error) {
	rows, err := db.conn.Query(
		`SELECT id, entry_number, url, title, source_date, is_primary, fetched
		FROM entry_sources WHERE (title IS NULL OR title = '') AND fetched = 0
		ORDER BY entry_number ASC, id ASC`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanSources(rows)
}

// UpdateSourceTitle stores a resolved title and marks the link as fetched.
func (db *DB) UpdateSourceTitle(sourceID int64, title string) error {
	_, err := db.conn.Exec(
		"UPDATE entry_sources SET title = ?, fetched = 1 WHERE id = ?", title, sourceID,
	)
	return err
}

// MarkSourceFetched records that resolution was attempted.
func (db *DB) MarkSourceFetched(sourceID int64) error {
	_, err := db.conn.Exec("UPDATE entry_sources SET fetched = 1 WHERE id = ?", sourceID)
	return err
}

func scanSources(rows *sql.Rows) ([]Source, error) {
	var sources []Source
	for rows.Next() {
		var s Source
		var primary, fetched int
		if err := rows.Scan(&s.ID, &s.EntryNumber, &s.URL, &s.Title, &s.SourceDate, &primary, &fetched); err != nil {
			return nil, err
		}
		s.IsPrimary = primary != 0
		s.Fetched = fetched != 0
		sources = append(sources, s)
	}
	return sources, rows.Err()
}
