package upstream

import (
	"strings"
	"testing"

	"github.com/jackc/pgx/v5/pgtype"
)

func txt(s string) pgtype.Text { return pgtype.Text{String: s, Valid: true} }

func TestBuildQuery(t *testing.T) {
	q, err := buildQuery("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(q, `FROM "ai_complete_trump_data"`) {
		t.Errorf("expected default view, got %q", q)
	}
	if !strings.Contains(q, "impact_scope::float8, rationale_short, all_keywords") {
		t.Errorf("unexpected column list: %q", q)
	}

	q, _ = buildQuery("public.entries")
	if !strings.Contains(q, `FROM "public"."entries"`) {
		t.Errorf("expected schema-qualified view, got %q", q)
	}

	q, _ = buildQuery(`x"; DROP TABLE y; --`)
	if !strings.Contains(q, `FROM "x""; DROP TABLE y; --"`) {
		t.Errorf("expected quoted identifier, got %q", q)
	}

	if _, err := buildQuery("public."); err == nil {
		t.Error("expected error for empty identifier part")
	}
}

func TestViewRowEntry(t *testing.T) {
	r := viewRow{
		entryNumber: pgtype.Int8{Int64: 42, Valid: true},
		title:       txt("Title"),
		category:    txt("Legal"),
		phase:       txt("Presidency I"),
		subcategory: pgtype.Text{},
		dateStart:   txt("2019-05-01"),
		duration:    pgtype.Int8{Int64: 3, Valid: true},
		score:       txt("71.50"),
		rank:        txt("12"),
		keywords:    []string{"a", "b"},
	}
	r.dims[0] = pgtype.Float8{Float64: 8, Valid: true}
	r.dims[7] = pgtype.Float8{Float64: 2.5, Valid: true}

	e, err := r.entry()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if e.EntryNumber != 42 || e.Title != "Title" {
		t.Errorf("unexpected identity: %+v", e)
	}
	if e.Subcategory != nil {
		t.Error("expected nil subcategory")
	}
	if e.DateStart == nil || *e.DateStart != "2019-05-01" {
		t.Error("expected date_start")
	}
	if e.DurationDays == nil || *e.DurationDays != 3 {
		t.Error("expected duration 3")
	}
	if e.CompositeScore == nil || *e.CompositeScore != 71.5 {
		t.Error("expected composite score 71.5")
	}
	if e.CompositeRank == nil || *e.CompositeRank != 12 {
		t.Error("expected rank 12")
	}
	if e.Danger == nil || *e.Danger != 8 {
		t.Error("expected danger 8")
	}
	if e.ImpactScope == nil || *e.ImpactScope != 2.5 {
		t.Error("expected impact scope 2.5")
	}
	if e.Lawlessness != nil {
		t.Error("expected nil lawlessness")
	}
}

func TestViewRowEntryErrors(t *testing.T) {
	if _, err := (&viewRow{}).entry(); err == nil {
		t.Error("expected error for missing entry number")
	}

	r := viewRow{entryNumber: pgtype.Int8{Int64: 1, Valid: true}, score: txt("lots")}
	if _, err := r.entry(); err == nil {
		t.Error("expected error for non-numeric score")
	}

	r = viewRow{entryNumber: pgtype.Int8{Int64: 1, Valid: true}, rank: txt("1.5")}
	if _, err := r.entry(); err == nil {
		t.Error("expected error for fractional rank")
	}

	r = viewRow{entryNumber: pgtype.Int8{Int64: 1, Valid: true}}
	r.dims[0] = pgtype.Float8{Float64: 42, Valid: true}
	if _, err := r.entry(); err == nil || !strings.Contains(err.Error(), "danger") {
		t.Errorf("expected out-of-range danger to be rejected, got %v", err)
	}

	r = viewRow{entryNumber: pgtype.Int8{Int64: 1, Valid: true}}
	r.dims[5] = pgtype.Float8{Float64: -0.5, Valid: true}
	if _, err := r.entry(); err == nil {
		t.Error("expected negative credibility_risk to be rejected")
	}

	r = viewRow{entryNumber: pgtype.Int8{Int64: 1, Valid: true}}
	r.dims[3] = pgtype.Float8{Float64: 10, Valid: true}
	if _, err := r.entry(); err != nil {
		t.Errorf("expected boundary score 10 to be accepted: %v", err)
	}
}

func TestParseRank(t *testing.T) {
	tests := []struct {
		in   pgtype.Text
		want *int
	}{
		{pgtype.Text{}, nil},
		{txt(" "), nil},
		{txt("3"), intp(3)},
		{txt("12.0"), intp(12)},
	}
	for _, tt := range tests {
		got, err := parseRank(tt.in)
		if err != nil {
			t.Errorf("parseRank(%q): %v", tt.in.String, err)
			continue
		}
		if (got == nil) != (tt.want == nil) || (got != nil && *got != *tt.want) {
			t.Errorf("parseRank(%q) = %v, want %v", tt.in.String, got, tt.want)
		}
	}
}

func intp(i int) *int { return &i }
