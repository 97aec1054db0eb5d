// Package upstream reads the published entry set from the hosted Postgres
// view so it can be mirrored into the local store.
package upstream

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/TobiSchelling/trumpfiles/internal/database"
)

// DefaultView is the view the hosted catalog publishes entries through.
const DefaultView = "ai_complete_trump_data"

// Client wraps a pgx connection pool.
type Client struct {
	pool *pgxpool.Pool
}

// Connect opens a pool and verifies the server is reachable.
func Connect(ctx context.Context, dsn string) (*Client, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parsing dsn: %w", err)
	}
	cfg.MaxConns = 4

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("creating pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	return &Client{pool: pool}, nil
}

// Close releases the pool.
func (c *Client) Close() {
	c.pool.Close()
}

// FetchEntries reads every row of view. Numeric and date columns are cast to
// text on the server so the view's exact column types do not matter.
func (c *Client) FetchEntries(ctx context.Context, view string) ([]database.Entry, error) {
	query, err := buildQuery(view)
	if err != nil {
		return nil, err
	}

	rows, err := c.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("querying %s: %w", view, err)
	}
	defer rows.Close()

	var entries []database.Entry
	for rows.Next() {
		var r viewRow
		if err := rows.Scan(r.dest()...); err != nil {
			return nil, fmt.Errorf("scanning %s: %w", view, err)
		}
		e, err := r.entry()
		if err != nil {
			log.Printf("Skipping upstream row: %v", err)
			continue
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading %s: %w", view, err)
	}

	log.Printf("Fetched %d entries from %s", len(entries), view)
	return entries, nil
}

// scoreColumns lists the per-dimension columns in Entry field order.
var scoreColumns = []string{
	"danger", "lawlessness", "insanity", "absurdity",
	"authoritarianism", "credibility_risk", "recency_intensity", "impact_scope",
}

// buildQuery returns the SELECT for view. A dotted name is treated as
// schema.view and each part is quoted.
func buildQuery(view string) (string, error) {
	view = strings.TrimSpace(view)
	if view == "" {
		view = DefaultView
	}
	parts := strings.Split(view, ".")
	for _, p := range parts {
		if p == "" {
			return "", fmt.Errorf("invalid view name %q", view)
		}
	}

	cols := []string{
		"entry_number::int8", "title", "synopsis", "category", "subcategory", "phase",
		"date_start::text", "date_end::text", "duration_days::int8",
		"fucked_up_score::text", "fucked_up_rank::text",
	}
	for _, c := range scoreColumns {
		cols = append(cols, c+"::float8")
	}
	cols = append(cols, "rationale_short", "all_keywords")

	return fmt.Sprintf("SELECT %s FROM %s ORDER BY entry_number ASC",
		strings.Join(cols, ", "), pgx.Identifier(parts).Sanitize()), nil
}

type viewRow struct {
	entryNumber pgtype.Int8
	title       pgtype.Text
	synopsis    pgtype.Text
	category    pgtype.Text
	subcategory pgtype.Text
	phase       pgtype.Text
	dateStart   pgtype.Text
	dateEnd     pgtype.Text
	duration    pgtype.Int8
	score       pgtype.Text
	rank        pgtype.Text
	dims        [8]pgtype.Float8
	rationale   pgtype.Text
	keywords    []string
}

func (r *viewRow) dest() []any {
	d := []any{
		&r.entryNumber, &r.title, &r.synopsis, &r.category, &r.subcategory, &r.phase,
		&r.dateStart, &r.dateEnd, &r.duration, &r.score, &r.rank,
	}
	for i := range r.dims {
		d = append(d, &r.dims[i])
	}
	return append(d, &r.rationale, &r.keywords)
}

func (r *viewRow) entry() (database.Entry, error) {
	if !r.entryNumber.Valid || r.entryNumber.Int64 <= 0 {
		return database.Entry{}, fmt.Errorf("row without a valid entry_number")
	}

	score, err := parseFloat(r.score)
	if err != nil {
		return database.Entry{}, fmt.Errorf("entry %d: fucked_up_score: %w", r.entryNumber.Int64, err)
	}
	rank, err := parseRank(r.rank)
	if err != nil {
		return database.Entry{}, fmt.Errorf("entry %d: fucked_up_rank: %w", r.entryNumber.Int64, err)
	}

	e := database.Entry{
		EntryNumber:    int(r.entryNumber.Int64),
		Title:          r.title.String,
		Synopsis:       r.synopsis.String,
		Category:       r.category.String,
		Subcategory:    nullText(r.subcategory),
		Phase:          r.phase.String,
		Keywords:       r.keywords,
		DateStart:      nullText(r.dateStart),
		DateEnd:        nullText(r.dateEnd),
		CompositeScore: score,
		CompositeRank:  rank,
		RationaleShort: nullText(r.rationale),
	}
	if r.duration.Valid {
		d := int(r.duration.Int64)
		e.DurationDays = &d
	}
	targets := []**float64{
		&e.Danger, &e.Lawlessness, &e.Insanity, &e.Absurdity,
		&e.Authoritarianism, &e.CredibilityRisk, &e.RecencyIntensity, &e.ImpactScope,
	}
	for i, t := range targets {
		v := nullFloat(r.dims[i])
		if v != nil && (*v < 0 || *v > 10) {
			return database.Entry{}, fmt.Errorf("entry %d: %s %v outside 0..10", r.entryNumber.Int64, scoreColumns[i], *v)
		}
		*t = v
	}
	return e, nil
}

func nullText(v pgtype.Text) *string {
	if !v.Valid || v.String == "" {
		return nil
	}
	s := v.String
	return &s
}

func nullFloat(v pgtype.Float8) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}

// parseFloat reads a numeric column rendered as text; empty is absent.
func parseFloat(v pgtype.Text) (*float64, error) {
	s := strings.TrimSpace(v.String)
	if !v.Valid || s == "" {
		return nil, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil, err
	}
	return &f, nil
}

// parseRank accepts integral text, including "12.0" from numeric columns.
func parseRank(v pgtype.Text) (*int, error) {
	f, err := parseFloat(v)
	if err != nil || f == nil {
		return nil, err
	}
	if *f != float64(int(*f)) {
		return nil, fmt.Errorf("non-integral rank %q", v.String)
	}
	n := int(*f)
	return &n, nil
}
