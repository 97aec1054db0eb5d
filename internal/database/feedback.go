package database

import (
	"database/sql"

	"github.com/google/uuid"
)

// ScoreColumns lists the per-dimension columns shared by entries and user_scores.
var ScoreColumns = []string{
	"danger", "lawlessness", "insanity", "absurdity", "authoritarianism",
	"credibility_risk", "recency_intensity", "impact_scope",
}

// InsertComment stores a comment pending moderation and returns its id.
func (db *DB) InsertComment(entryNumber int, userName, userEmail, text string) (string, error) {
	id := uuid.NewString()
	_, err := db.conn.Exec(
		`INSERT INTO user_comments (id, entry_number, user_name, user_email, comment_text, is_approved)
		VALUES (?, ?, ?, ?, ?, 0)`,
		id, entryNumber, userName, userEmail, text,
	)
	if err != nil {
		return "", err
	}
	return id, nil
}

// ApproveComment makes a comment visible. Returns false if the id is unknown.
func (db *DB) ApproveComment(id string) (bool, error) {
	res, err := db.conn.Exec(`UPDATE user_comments SET is_approved = 1 WHERE id = ?`, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// DeleteComment removes a comment. Returns false if the id is unknown.
func (db *DB) DeleteComment(id string) (bool, error) {
	res, err := db.conn.Exec(`DELETE FROM user_comments WHERE id = ?`, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// GetApprovedComments returns the visible comments for an entry, newest first.
func (db *DB) GetApprovedComments(entryNumber int) ([]Comment, error) {
	return db.queryComments(
		`SELECT id, entry_number, user_name, user_email, comment_text, is_approved, created_at
		FROM user_comments WHERE entry_number = ? AND is_approved = 1
		ORDER BY created_at DESC, rowid DESC`, entryNumber,
	)
}

// GetPendingComments returns every comment awaiting moderation, oldest first.
func (db *DB) GetPendingComments() ([]Comment, error) {
	return db.queryComments(
		`SELECT id, entry_number, user_name, user_email, comment_text, is_approved, created_at
		FROM user_comments WHERE is_approved = 0 ORDER BY created_at ASC, rowid ASC`,
	)
}

func (db *DB) queryComments(query string, args ...any) ([]Comment, error) {
	rows, err := db.conn.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var comments []Comment
	for rows.Next() {
		var c Comment
		var approved int
		if err := rows.Scan(&c.ID, &c.EntryNumber, &c.UserName, &c.UserEmail, &c.CommentText, &approved, &c.CreatedAt); err != nil {
			return nil, err
		}
		c.IsApproved = approved != 0
		comments = append(comments, c)
	}
	return comments, rows.Err()
}

// InsertUserScore appends a visitor rating.
func (db *DB) InsertUserScore(s UserScore) (int64, error) {
	result, err := db.conn.Exec(
		`INSERT INTO user_scores (entry_number, user_id, danger, lawlessness, insanity, absurdity,
		authoritarianism, credibility_risk, recency_intensity, impact_scope)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.EntryNumber, s.UserID, s.Danger, s.Lawlessness, s.Insanity, s.Absurdity,
		s.Authoritarianism, s.CredibilityRisk, s.RecencyIntensity, s.ImpactScope,
	)
	if err != nil {
		return 0, err
	}
	return result.LastInsertId()
}

// GetUserScoreSummary averages visitor ratings for an entry. Dimensions nobody
// rated are absent from Averages.
func (db *DB) GetUserScoreSummary(entryNumber int) (*UserScoreSummary, error) {
	row := db.conn.QueryRow(
		`SELECT COUNT(*), AVG(danger), AVG(lawlessness), AVG(insanity), AVG(absurdity),
		AVG(authoritarianism), AVG(credibility_risk), AVG(recency_intensity), AVG(impact_scope)
		FROM user_scores WHERE entry_number = ?`, entryNumber,
	)

	avgs := make([]*float64, len(ScoreColumns))
	dest := []any{new(int)}
	for i := range avgs {
		dest = append(dest, &avgs[i])
	}
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}

	summary := &UserScoreSummary{
		EntryNumber: entryNumber,
		TotalVotes:  *dest[0].(*int),
		Averages:    make(map[string]float64),
	}
	for i, col := range ScoreColumns {
		if avgs[i] != nil {
			summary.Averages[col] = *avgs[i]
		}
	}
	return summary, nil
}

// UpsertVote records a visitor's 1..10 vote, replacing any earlier vote.
func (db *DB) UpsertVote(entryNumber int, userID string, score int) error {
	_, err := db.conn.Exec(
		`INSERT INTO user_votes (entry_number, user_id, score, voted_at)
		VALUES (?, ?, ?, datetime('now'))
		ON CONFLICT(entry_number, user_id)
		DO UPDATE SET score = excluded.score, voted_at = excluded.voted_at`,
		entryNumber, userID, score,
	)
	return err
}

// GetVoteStats returns the vote count and average for an entry.
func (db *DB) GetVoteStats(entryNumber int) (*VoteStats, error) {
	var stats VoteStats
	var avg sql.NullFloat64
	err := db.conn.QueryRow(
		`SELECT COUNT(*), AVG(score) FROM user_votes WHERE entry_number = ?`, entryNumber,
	).Scan(&stats.VoteCount, &avg)
	if err != nil {
		return nil, err
	}
	if avg.Valid {
		stats.AvgScore = avg.Float64
	}
	return &stats, nil
}
