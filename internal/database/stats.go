package database

import "database/sql"

// RecordImportError keeps the raw payload of an entry that could not be imported.
func (db *DB) RecordImportError(message, entryData string) error {
	_, err := db.conn.Exec(
		`INSERT INTO import_errors (error_message, entry_data) VALUES (?, ?)`,
		message, entryData,
	)
	return err
}

// GetImportErrors returns recorded import failures, newest first.
func (db *DB) GetImportErrors(limit int) ([]ImportError, error) {
	rows, err := db.conn.Query(
		`SELECT id, error_message, COALESCE(entry_data, ''), created_at
		FROM import_errors ORDER BY id DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ImportError
	for rows.Next() {
		var e ImportError
		if err := rows.Scan(&e.ID, &e.ErrorMessage, &e.EntryData, &e.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// GetStats returns aggregate database statistics.
func (db *DB) GetStats() (*Stats, error) {
	var s Stats
	var avgDanger sql.NullFloat64
	err := db.conn.QueryRow(`SELECT
		(SELECT COUNT(*) FROM entries),
		(SELECT COUNT(*) FROM user_comments),
		(SELECT COUNT(*) FROM user_comments WHERE is_approved = 0),
		(SELECT COUNT(*) FROM user_scores),
		(SELECT COUNT(*) FROM user_votes),
		(SELECT COUNT(*) FROM entry_sources),
		(SELECT COUNT(*) FROM import_errors),
		(SELECT AVG(danger) FROM entries)`,
	).Scan(&s.TotalEntries, &s.TotalComments, &s.PendingComments, &s.TotalScores,
		&s.TotalVotes, &s.TotalSources, &s.ImportErrors, &avgDanger)
	if err != nil {
		return nil, err
	}
	if avgDanger.Valid {
		s.AvgDanger = avgDanger.Float64
	}
	return &s, nil
}
