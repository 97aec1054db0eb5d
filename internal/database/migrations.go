package database

import "database/sql"

// Migration represents a single schema migration step.
type Migration struct {
	Version     int
	Description string
	Up          func(tx *sql.Tx) error
}

// migrations is the ordered list of all schema migrations.
// Append new migrations to the end with incrementing Version numbers.
var migrations = []Migration{
	{
		Version:     1,
		Description: "initial schema",
		Up: func(tx *sql.Tx) error {
			_, err := tx.Exec(`
CREATE TABLE IF NOT EXISTS entries (
    entry_number INTEGER PRIMARY KEY,
    title TEXT NOT NULL,
    synopsis TEXT NOT NULL DEFAULT '',
    category TEXT NOT NULL DEFAULT '',
    subcategory TEXT,
    phase TEXT NOT NULL DEFAULT '',
    keywords TEXT,
    date_start TEXT,
    date_end TEXT,
    duration_days INTEGER,
    danger REAL,
    lawlessness REAL,
    insanity REAL,
    absurdity REAL,
    authoritarianism REAL,
    credibility_risk REAL,
    recency_intensity REAL,
    impact_scope REAL,
    fucked_up_score REAL,
    fucked_up_rank INTEGER,
    rationale_short TEXT,
    created_at TEXT DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS entry_sources (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    entry_number INTEGER NOT NULL REFERENCES entries(entry_number),
    url TEXT NOT NULL,
    title TEXT,
    source_date TEXT,
    is_primary INTEGER DEFAULT 0,
    fetched INTEGER DEFAULT 0,
    UNIQUE (entry_number, url)
);

CREATE TABLE IF NOT EXISTS user_comments (
    id TEXT PRIMARY KEY,
    entry_number INTEGER NOT NULL REFERENCES entries(entry_number),
    user_name TEXT NOT NULL,
    user_email TEXT NOT NULL,
    comment_text TEXT NOT NULL,
    is_approved INTEGER DEFAULT 0,
    created_at TEXT DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS user_scores (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    entry_number INTEGER NOT NULL REFERENCES entries(entry_number),
    user_id TEXT,
    danger REAL,
    lawlessness REAL,
    insanity REAL,
    absurdity REAL,
    authoritarianism REAL,
    credibility_risk REAL,
    recency_intensity REAL,
    impact_scope REAL,
    created_at TEXT DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS user_votes (
    entry_number INTEGER NOT NULL REFERENCES entries(entry_number),
    user_id TEXT NOT NULL,
    score INTEGER NOT NULL CHECK(score BETWEEN 1 AND 10),
    voted_at TEXT DEFAULT (datetime('now')),
    PRIMARY KEY (entry_number, user_id)
);

CREATE TABLE IF NOT EXISTS import_errors (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    error_message TEXT NOT NULL,
    entry_data TEXT,
    created_at TEXT DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_entries_rank ON entries(fucked_up_rank);
CREATE INDEX IF NOT EXISTS idx_entries_category ON entries(category);
CREATE INDEX IF NOT EXISTS idx_entry_sources_entry ON entry_sources(entry_number);
CREATE INDEX IF NOT EXISTS idx_user_comments_entry ON user_comments(entry_number, is_approved);
CREATE INDEX IF NOT EXISTS idx_user_scores_entry ON user_scores(entry_number);
`)
			return err
		},
	},
}

// latestVersion returns the highest migration version number.
func latestVersion() int {
	if len(migrations) == 0 {
		return 0
	}
	return migrations[len(migrations)-1].Version
}
