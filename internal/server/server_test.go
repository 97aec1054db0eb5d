package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"strings"
	"testing"

	"github.com/PuerkitoBio/goquery"
	"github.com/google/go-cmp/cmp"
	"github.com/mmcdole/gofeed"

	"github.com/TobiSchelling/trumpfiles/internal/config"
	"github.com/TobiSchelling/trumpfiles/internal/database"
)

func openTestDB(t *testing.T) *database.DB {
	t.Helper()
	db, err := database.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func ptr(s string) *string { return &s }

func fptr(f float64) *float64 { return &f }

func iptr(i int) *int { return &i }

func seed(t *testing.T, db *database.DB) {
	t.Helper()
	_, err := db.InsertEntries([]database.Entry{
		{EntryNumber: 1, Title: "Sharpie forecast", Synopsis: "A **hand-drawn** hurricane cone.", Category: "Absurdity",
			Phase: "Presidency I", DateStart: ptr("2019-09-04"), Danger: fptr(4), Absurdity: fptr(9),
			CompositeScore: fptr(55), CompositeRank: iptr(2), Sources: []string{"https://news.example/sharpie"}},
		{EntryNumber: 2, Title: "Capitol riot", Synopsis: "A mob storms Congress.", Category: "Insurrection",
			Phase: "Presidency I", DateStart: ptr("2021-01-06"), Danger: fptr(10), Absurdity: fptr(7),
			CompositeScore: fptr(97), CompositeRank: iptr(1), Keywords: []string{"January 6"}},
		{EntryNumber: 3, Title: "Casino bankruptcy", Synopsis: "Taj Mahal fails.", Category: "Business",
			Phase: "Business", DateStart: ptr("1991-07-01"), Danger: fptr(3), Absurdity: fptr(5),
			CompositeScore: fptr(40), CompositeRank: iptr(3)},
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
}

func newTestServer(t *testing.T, db *database.DB, cfg *config.Config) *Server {
	t.Helper()
	srv, err := New(db, cfg)
	if err != nil {
		t.Fatalf("failed to create server: %v", err)
	}
	return srv
}

func do(srv *Server, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

func get(srv *Server, target string) *httptest.ResponseRecorder {
	return do(srv, httptest.NewRequest("GET", target, nil))
}

func postJSON(srv *Server, target, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest("POST", target, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return do(srv, req)
}

func postForm(srv *Server, target string, form url.Values) *httptest.ResponseRecorder {
	req := httptest.NewRequest("POST", target, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return do(srv, req)
}

func parseHTML(t *testing.T, rec *httptest.ResponseRecorder) *goquery.Document {
	t.Helper()
	doc, err := goquery.NewDocumentFromReader(rec.Body)
	if err != nil {
		t.Fatalf("parsing html: %v", err)
	}
	return doc
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("decoding %q: %v", rec.Body.String(), err)
	}
}

func TestIndexRoute(t *testing.T) {
	db := openTestDB(t)
	seed(t, db)
	srv := newTestServer(t, db, nil)

	rec := get(srv, "/")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	doc := parseHTML(t, rec)

	items := doc.Find(".ranking-item .entry-link")
	if items.Length() != 3 {
		t.Fatalf("expected 3 ranked entries, got %d", items.Length())
	}
	if got := items.First().Text(); got != "Capitol riot" {
		t.Errorf("expected rank 1 first, got %q", got)
	}
	if href, _ := items.First().Attr("href"); href != "/entry/2" {
		t.Errorf("unexpected link %q", href)
	}
}

func TestIndexEmpty(t *testing.T) {
	srv := newTestServer(t, openTestDB(t), nil)
	rec := get(srv, "/")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "No entries yet") {
		t.Error("expected empty state")
	}
	if rec := get(srv, "/nope"); rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 for unknown path, got %d", rec.Code)
	}
}

func TestCatalogFilters(t *testing.T) {
	db := openTestDB(t)
	seed(t, db)
	srv := newTestServer(t, db, nil)

	tests := []struct {
		query string
		want  []string
	}{
		{"", []string{"Capitol riot", "Sharpie forecast", "Casino bankruptcy"}},
		{"?q=hurricane", []string{"Sharpie forecast"}},
		{"?q=january", []string{"Capitol riot"}},
		{"?category=Business&category=Absurdity", []string{"Sharpie forecast", "Casino bankruptcy"}},
		{"?phase=Presidency+I&sort=number", []string{"Sharpie forecast", "Capitol riot"}},
		{"?sort=date", []string{"Casino bankruptcy", "Sharpie forecast", "Capitol riot"}},
		{"?sort=absurdity", []string{"Sharpie forecast", "Capitol riot", "Casino bankruptcy"}},
		{"?sort=nonsense", []string{"Capitol riot", "Sharpie forecast", "Casino bankruptcy"}},
		{"?q=zzz", nil},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			rec := get(srv, "/catalog"+tt.query)
			if rec.Code != http.StatusOK {
				t.Fatalf("expected 200, got %d", rec.Code)
			}
			var got []string
			parseHTML(t, rec).Find(".entry-row .entry-link").Each(func(_ int, s *goquery.Selection) {
				got = append(got, s.Text())
			})
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestCatalogPagination(t *testing.T) {
	db := openTestDB(t)
	var entries []database.Entry
	for i := 1; i <= 60; i++ {
		entries = append(entries, database.Entry{EntryNumber: i, Title: fmt.Sprintf("Entry %d", i), Category: "C", Phase: "P"})
	}
	if _, err := db.InsertEntries(entries); err != nil {
		t.Fatalf("insert: %v", err)
	}
	srv := newTestServer(t, db, nil)

	doc := parseHTML(t, get(srv, "/catalog?sort=number"))
	if n := doc.Find(".entry-row").Length(); n != 50 {
		t.Errorf("expected 50 rows on page 1, got %d", n)
	}
	next, ok := doc.Find(".pager .next").Attr("href")
	if !ok {
		t.Fatal("expected a next link")
	}
	if !strings.Contains(next, "page=2") || !strings.Contains(next, "sort=number") {
		t.Errorf("unexpected next link %q", next)
	}

	doc = parseHTML(t, get(srv, next))
	if n := doc.Find(".entry-row").Length(); n != 10 {
		t.Errorf("expected 10 rows on page 2, got %d", n)
	}
	if doc.Find(".pager .next").Length() != 0 {
		t.Error("expected no next link on last page")
	}

	doc = parseHTML(t, get(srv, "/catalog?page=99"))
	if n := doc.Find(".entry-row").Length(); n != 10 {
		t.Errorf("expected out-of-range page to clamp to last page, got %d rows", n)
	}
}

func TestEntryPage(t *testing.T) {
	db := openTestDB(t)
	seed(t, db)
	srv := newTestServer(t, db, nil)

	rec := get(srv, "/entry/1")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	doc := parseHTML(t, rec)
	if got := doc.Find("article h1").Text(); got != "Sharpie forecast" {
		t.Errorf("unexpected title %q", got)
	}
	if got := doc.Find(".synopsis strong").Text(); got != "hand-drawn" {
		t.Errorf("expected markdown synopsis, got %q", got)
	}
	if href, _ := doc.Find(".sources a").Attr("href"); href != "https://news.example/sharpie" {
		t.Errorf("unexpected source link %q", href)
	}
	if doc.Find(".scores tbody tr").Length() != 8 {
		t.Error("expected one score row per dimension")
	}

	if rec := get(srv, "/entry/999"); rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 for missing entry, got %d", rec.Code)
	}
	if rec := get(srv, "/entry/abc"); rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 for bad entry number, got %d", rec.Code)
	}
}

func TestCommentModerationFlow(t *testing.T) {
	db := openTestDB(t)
	seed(t, db)
	srv := newTestServer(t, db, nil)

	rec := postForm(srv, "/entry/1/comment", url.Values{
		"user_name":    {"Ada"},
		"user_email":   {"ada@example.com"},
		"comment_text": {"Unbelievable."},
	})
	if rec.Code != http.StatusFound {
		t.Fatalf("expected 302, got %d", rec.Code)
	}
	if loc := rec.Header().Get("Location"); loc != "/entry/1?comment=pending#comments" {
		t.Errorf("unexpected redirect %q", loc)
	}

	// Hidden until approved.
	doc := parseHTML(t, get(srv, "/entry/1"))
	if doc.Find("#comments .comment").Length() != 0 {
		t.Error("expected unapproved comment to be hidden")
	}

	pending, _ := db.GetPendingComments()
	if len(pending) != 1 {
		t.Fatalf("expected 1 pending comment, got %d", len(pending))
	}

	doc = parseHTML(t, get(srv, "/admin"))
	if doc.Find(".pending-comment").Length() != 1 {
		t.Error("expected pending comment on admin page")
	}

	rec = postForm(srv, "/admin/comments/"+pending[0].ID+"/approve", nil)
	if rec.Code != http.StatusFound {
		t.Fatalf("expected 302, got %d", rec.Code)
	}

	doc = parseHTML(t, get(srv, "/entry/1"))
	if !strings.Contains(doc.Find("#comments .comment").Text(), "Unbelievable.") {
		t.Error("expected approved comment to be shown")
	}

	rec = postForm(srv, "/entry/1/comment", url.Values{"user_name": {""}, "comment_text": {"x"}})
	if loc := rec.Header().Get("Location"); !strings.Contains(loc, "comment=invalid") {
		t.Errorf("expected invalid redirect, got %q", loc)
	}
}

func TestDeleteComment(t *testing.T) {
	db := openTestDB(t)
	seed(t, db)
	srv := newTestServer(t, db, nil)

	id, _ := db.InsertComment(2, "Bob", "", "Spam")
	rec := postForm(srv, "/admin/comments/"+id+"/delete", nil)
	if rec.Code != http.StatusFound {
		t.Fatalf("expected 302, got %d", rec.Code)
	}
	pending, _ := db.GetPendingComments()
	if len(pending) != 0 {
		t.Error("expected comment to be deleted")
	}
}

func TestEntryVoteForm(t *testing.T) {
	db := openTestDB(t)
	seed(t, db)
	srv := newTestServer(t, db, nil)

	rec := postForm(srv, "/entry/2/vote", url.Values{"score": {"9"}})
	if loc := rec.Header().Get("Location"); loc != "/entry/2?voted=1#votes" {
		t.Errorf("unexpected redirect %q", loc)
	}
	stats, _ := db.GetVoteStats(2)
	if stats.VoteCount != 1 || stats.AvgScore != 9 {
		t.Errorf("unexpected stats %+v", stats)
	}

	rec = postForm(srv, "/entry/2/vote", url.Values{"score": {"11"}})
	if loc := rec.Header().Get("Location"); !strings.Contains(loc, "voted=invalid") {
		t.Errorf("expected invalid redirect, got %q", loc)
	}
}

func TestVisualizerPage(t *testing.T) {
	db := openTestDB(t)
	seed(t, db)
	srv := newTestServer(t, db, nil)

	rec := get(srv, "/visualizer")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	doc := parseHTML(t, rec)
	if n := doc.Find("#categories .bar-row").Length(); n != 3 {
		t.Errorf("expected 3 category bars, got %d", n)
	}
	if n := doc.Find("#timeline tbody tr").Length(); n != 3 {
		t.Errorf("expected 3 timeline rows, got %d", n)
	}
	if got := doc.Find("#crosstab h2").Text(); got != "Danger vs Absurdity by category" {
		t.Errorf("unexpected cross-tab heading %q", got)
	}

	doc = parseHTML(t, get(srv, "/visualizer?a=insanity&b=impact_scope"))
	if got := doc.Find("#crosstab h2").Text(); got != "Insanity vs Impact Scope by category" {
		t.Errorf("unexpected cross-tab heading %q", got)
	}

	if rec := get(srv, "/visualizer?a=vibes"); rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for unknown metric, got %d", rec.Code)
	}
}

func TestAPIVisualizerData(t *testing.T) {
	db := openTestDB(t)
	seed(t, db)
	srv := newTestServer(t, db, nil)

	rec := get(srv, "/api/visualizer-data?b=insanity")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var got struct {
		Summary struct {
			Total      int     `json:"total"`
			MaxDanger  float64 `json:"maxDanger"`
			HighOnBoth int     `json:"highOnBoth"`
		} `json:"summary"`
		Categories []struct {
			Name  string `json:"name"`
			Value int    `json:"value"`
		} `json:"categories"`
		Timeline     []map[string]any `json:"timeline"`
		CrossTab     []map[string]any `json:"crossTab"`
		CrossMetrics []string         `json:"crossMetrics"`
	}
	decode(t, rec, &got)

	if got.Summary.Total != 3 || got.Summary.MaxDanger != 10 || got.Summary.HighOnBoth != 1 {
		t.Errorf("unexpected summary %+v", got.Summary)
	}
	if len(got.Categories) != 3 || got.Categories[0].Name != "Insurrection" {
		t.Errorf("unexpected categories %+v", got.Categories)
	}
	if diff := cmp.Diff([]string{"danger", "insanity"}, got.CrossMetrics); diff != "" {
		t.Errorf("cross metrics mismatch (-want +got):\n%s", diff)
	}
	if len(got.Timeline) != 3 || got.Timeline[0]["year"] != "1991" {
		t.Errorf("unexpected timeline %v", got.Timeline)
	}
	if _, ok := got.CrossTab[0]["avg_insanity"]; !ok {
		t.Errorf("expected avg_insanity key, got %v", got.CrossTab[0])
	}

	rec = get(srv, "/api/visualizer-data?a=bogus")
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	var e map[string]string
	decode(t, rec, &e)
	if !strings.Contains(e["error"], "unknown metric") {
		t.Errorf("unexpected error %q", e["error"])
	}
}

func TestAPIEntries(t *testing.T) {
	db := openTestDB(t)
	seed(t, db)
	srv := newTestServer(t, db, nil)

	var all []database.Entry
	decode(t, get(srv, "/api/entries"), &all)
	if len(all) != 3 || all[0].EntryNumber != 2 {
		t.Errorf("expected entries in rank order, got %d entries", len(all))
	}

	var filtered []database.Entry
	decode(t, get(srv, "/api/entries?category=Business"), &filtered)
	if len(filtered) != 1 || filtered[0].EntryNumber != 3 {
		t.Errorf("unexpected filtered entries %+v", filtered)
	}
}

func TestAPIEntry(t *testing.T) {
	db := openTestDB(t)
	seed(t, db)
	srv := newTestServer(t, db, nil)

	rec := get(srv, "/api/entry/1")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var got struct {
		Entry    database.Entry    `json:"entry"`
		Sources  []database.Source `json:"sources"`
		Comments []any             `json:"comments"`
		Votes    database.VoteStats
	}
	decode(t, rec, &got)
	if got.Entry.Title != "Sharpie forecast" || len(got.Sources) != 1 || !got.Sources[0].IsPrimary {
		t.Errorf("unexpected payload %+v", got)
	}
	if diff := cmp.Diff([]string{got.Sources[0].URL}, got.Entry.Sources); diff != "" {
		t.Errorf("entry sources differ from source rows (-want +got):\n%s", diff)
	}
	if got.Comments == nil {
		t.Error("expected empty comments array, not null")
	}

	if rec := get(srv, "/api/entry/999"); rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}
	if rec := get(srv, "/api/entry/x"); rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}
}

func TestAPIComments(t *testing.T) {
	db := openTestDB(t)
	seed(t, db)
	srv := newTestServer(t, db, nil)

	tests := []struct {
		name string
		body string
		code int
	}{
		{"valid", `{"entry_number": 1, "user_name": "Ada", "comment_text": "Wow"}`, http.StatusOK},
		{"missing name", `{"entry_number": 1, "comment_text": "Wow"}`, http.StatusBadRequest},
		{"missing text", `{"entry_number": 1, "user_name": "Ada"}`, http.StatusBadRequest},
		{"unknown entry", `{"entry_number": 42, "user_name": "Ada", "comment_text": "Wow"}`, http.StatusNotFound},
		{"bad json", `{`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if rec := postJSON(srv, "/api/comments", tt.body); rec.Code != tt.code {
				t.Errorf("expected %d, got %d: %s", tt.code, rec.Code, rec.Body.String())
			}
		})
	}

	pending, _ := db.GetPendingComments()
	if len(pending) != 1 || pending[0].IsApproved {
		t.Errorf("expected one unapproved comment, got %+v", pending)
	}
}

func TestAPIScores(t *testing.T) {
	db := openTestDB(t)
	seed(t, db)
	srv := newTestServer(t, db, nil)

	tests := []struct {
		name string
		body string
		code int
	}{
		{"valid", `{"entry_number": 1, "danger": 8, "absurdity_score": 6}`, http.StatusOK},
		{"valid null ignored", `{"entry_number": 1, "danger": 4, "insanity": null}`, http.StatusOK},
		{"out of range", `{"entry_number": 1, "danger": 11}`, http.StatusBadRequest},
		{"not a number", `{"entry_number": 1, "danger": "high"}`, http.StatusBadRequest},
		{"no scores", `{"entry_number": 1}`, http.StatusBadRequest},
		{"unknown entry", `{"entry_number": 42, "danger": 3}`, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if rec := postJSON(srv, "/api/scores", tt.body); rec.Code != tt.code {
				t.Errorf("expected %d, got %d: %s", tt.code, rec.Code, rec.Body.String())
			}
		})
	}

	summary, _ := db.GetUserScoreSummary(1)
	if summary.TotalVotes != 2 || summary.Averages["danger"] != 6 || summary.Averages["absurdity"] != 6 {
		t.Errorf("unexpected summary %+v", summary)
	}
}

func TestAPIScoresPlainKeyWins(t *testing.T) {
	db := openTestDB(t)
	seed(t, db)
	srv := newTestServer(t, db, nil)

	for i := 0; i < 20; i++ {
		body := fmt.Sprintf(`{"entry_number": 1, "user_id": "u-%d", "danger": 2, "danger_score": 9}`, i)
		if rec := postJSON(srv, "/api/scores", body); rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
		}
	}
	summary, _ := db.GetUserScoreSummary(1)
	if summary.TotalVotes != 20 || summary.Averages["danger"] != 2 {
		t.Errorf("expected plain key to win every time, got %+v", summary)
	}
}

func TestParseScoreRequestPrefersPlainKey(t *testing.T) {
	raw := map[string]json.RawMessage{
		"entry_number":    json.RawMessage(`1`),
		"danger":          json.RawMessage(`2`),
		"danger_score":    json.RawMessage(`9`),
		"absurdity_score": json.RawMessage(`5`),
	}
	for i := 0; i < 50; i++ {
		req, msg := parseScoreRequest(raw)
		if msg != "" {
			t.Fatalf("unexpected validation error %q", msg)
		}
		if *req.Scores["danger"] != 2 || *req.Scores["absurdity"] != 5 {
			t.Fatalf("unexpected scores danger=%v absurdity=%v", *req.Scores["danger"], *req.Scores["absurdity"])
		}
	}
}

func TestAPIUserVote(t *testing.T) {
	db := openTestDB(t)
	seed(t, db)
	srv := newTestServer(t, db, nil)

	vote := func(body, forwarded string) *httptest.ResponseRecorder {
		req := httptest.NewRequest("POST", "/api/user-vote", strings.NewReader(body))
		if forwarded != "" {
			req.Header.Set("X-Forwarded-For", forwarded)
		}
		return do(srv, req)
	}

	if rec := vote(`{"entryNumber": 1, "score": 4}`, "203.0.113.5, 10.0.0.1"); rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	// Same forwarded address replaces the earlier vote.
	vote(`{"entryNumber": 1, "score": 8}`, "203.0.113.5")
	rec := vote(`{"entryNumber": 1, "score": 10, "userId": "u-1"}`, "")

	var res struct {
		Success   bool    `json:"success"`
		VoteCount int     `json:"voteCount"`
		AvgScore  float64 `json:"avgScore"`
	}
	decode(t, rec, &res)
	if !res.Success || res.VoteCount != 2 || res.AvgScore != 9 {
		t.Errorf("unexpected response %+v", res)
	}

	var stats database.VoteStats
	decode(t, get(srv, "/api/user-vote?entryNumber=1"), &stats)
	if stats.VoteCount != 2 || stats.AvgScore != 9 {
		t.Errorf("unexpected stats %+v", stats)
	}

	for _, body := range []string{`{"entryNumber": 1, "score": 0}`, `{"entryNumber": 1, "score": 11}`, `{"score": 5}`, `nope`} {
		if rec := vote(body, ""); rec.Code != http.StatusBadRequest {
			t.Errorf("%s: expected 400, got %d", body, rec.Code)
		}
	}
	if rec := get(srv, "/api/user-vote"); rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 without entryNumber, got %d", rec.Code)
	}
	if rec := vote(`{"entryNumber": 77, "score": 5}`, ""); rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 for unknown entry, got %d", rec.Code)
	}
}

func TestVoterID(t *testing.T) {
	req := httptest.NewRequest("GET", "/", nil)
	req.RemoteAddr = "198.51.100.7:5555"
	if got := voterID(req, ""); got != "198.51.100.7" {
		t.Errorf("expected remote host, got %q", got)
	}
	req.Header.Set("X-Forwarded-For", " 203.0.113.9 , 10.0.0.1")
	if got := voterID(req, ""); got != "203.0.113.9" {
		t.Errorf("expected forwarded address, got %q", got)
	}
	if got := voterID(req, " user-7 "); got != "user-7" {
		t.Errorf("expected explicit id, got %q", got)
	}
}

func TestAPIUploadEntries(t *testing.T) {
	db := openTestDB(t)
	srv := newTestServer(t, db, nil)

	rec := postJSON(srv, "/api/upload-entries", `[
		{"entry_number": 1, "title": "A", "category": "C", "phase": "P", "synopsis": "S", "danger": 12},
		{"entry_number": 2, "title": "B"}
	]`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	var verr struct {
		Error  string `json:"error"`
		Errors []struct {
			Line  int    `json:"line"`
			Field string `json:"field"`
		} `json:"errors"`
	}
	decode(t, rec, &verr)
	if verr.Error != "Validation failed" || len(verr.Errors) != 4 {
		t.Errorf("unexpected validation response %+v", verr)
	}
	if n, _ := db.CountEntries(); n != 0 {
		t.Errorf("expected nothing imported, got %d", n)
	}

	body := `[
		{"entry_number": 1, "title": "A", "category": "C", "phase": "P", "synopsis": "S", "danger": 7},
		{"entry_number": 2, "title": "B", "category": "C", "phase": "P", "synopsis": "S"}
	]`
	var res importResult
	decode(t, postJSON(srv, "/api/upload-entries", body), &res)
	if diff := cmp.Diff(importResult{Success: true, Total: 2, Inserted: 2}, res); diff != "" {
		t.Errorf("mismatch (-want +got):\n%s", diff)
	}
	decode(t, postJSON(srv, "/api/upload-entries", body), &res)
	if res.Inserted != 0 || res.Skipped != 2 {
		t.Errorf("expected re-upload to skip, got %+v", res)
	}

	if rec := postJSON(srv, "/api/upload-entries", ""); rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for empty body, got %d", rec.Code)
	}
}

func TestAdminUploadForm(t *testing.T) {
	db := openTestDB(t)
	srv := newTestServer(t, db, nil)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, _ := mw.CreateFormFile("file", "entries.json")
	io.WriteString(fw, `[{"entry_number": 5, "title": "E", "category": "C", "phase": "P", "synopsis": "S"}]`)
	mw.Close()

	req := httptest.NewRequest("POST", "/admin/upload", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := do(srv, req)
	if rec.Code != http.StatusFound {
		t.Fatalf("expected 302, got %d", rec.Code)
	}
	if loc := rec.Header().Get("Location"); !strings.Contains(loc, "imported=1") {
		t.Errorf("unexpected redirect %q", loc)
	}
	if ok, _ := db.EntryExists(5); !ok {
		t.Error("expected entry 5 to be imported")
	}

	doc := parseHTML(t, get(srv, "/admin?imported=1&skipped=0"))
	if !strings.Contains(doc.Find(".flash").Text(), "Imported 1 entries") {
		t.Errorf("unexpected flash %q", doc.Find(".flash").Text())
	}
}

func TestAdminToken(t *testing.T) {
	db := openTestDB(t)
	seed(t, db)
	cfg := config.Default()
	cfg.Server.AdminToken = "s3cret"
	srv := newTestServer(t, db, cfg)

	if rec := get(srv, "/admin"); rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 without token, got %d", rec.Code)
	}
	for _, token := range []string{"wrong", "s3cre", "s3cret2", "S3CRET"} {
		if rec := get(srv, "/api/admin-data?token="+token); rec.Code != http.StatusUnauthorized {
			t.Errorf("expected 401 with token %q, got %d", token, rec.Code)
		}
	}
	if rec := get(srv, "/admin?token=s3cret"); rec.Code != http.StatusOK {
		t.Errorf("expected 200 with query token, got %d", rec.Code)
	}

	req := httptest.NewRequest("GET", "/api/admin-data", nil)
	req.Header.Set("X-Admin-Token", "s3cret")
	rec := do(srv, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 with header token, got %d", rec.Code)
	}
	var data struct {
		Entries []any          `json:"entries"`
		Stats   database.Stats `json:"stats"`
	}
	decode(t, rec, &data)
	if len(data.Entries) != 3 || data.Stats.TotalEntries != 3 {
		t.Errorf("unexpected admin data: %d entries, stats %+v", len(data.Entries), data.Stats)
	}

	id, _ := db.InsertComment(1, "X", "", "Y")
	rec = postForm(srv, "/admin/comments/"+id+"/approve", url.Values{"token": {"s3cret"}})
	if loc := rec.Header().Get("Location"); loc != "/admin?token=s3cret" {
		t.Errorf("expected token to survive the redirect, got %q", loc)
	}
}

func TestFeed(t *testing.T) {
	db := openTestDB(t)
	seed(t, db)
	srv := newTestServer(t, db, nil)

	rec := get(srv, "/feed.xml")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "application/atom+xml") {
		t.Errorf("unexpected content type %q", ct)
	}

	feed, err := gofeed.NewParser().ParseString(rec.Body.String())
	if err != nil {
		t.Fatalf("parsing feed: %v", err)
	}
	if feed.FeedType != "atom" {
		t.Errorf("expected atom feed, got %q", feed.FeedType)
	}
	if len(feed.Items) != 3 {
		t.Fatalf("expected 3 items, got %d", len(feed.Items))
	}
	first := feed.Items[0]
	if first.Title != "#1 Capitol riot" {
		t.Errorf("unexpected first title %q", first.Title)
	}
	if first.Link != "http://example.com/entry/2" {
		t.Errorf("unexpected link %q", first.Link)
	}
	if first.UpdatedParsed == nil || first.UpdatedParsed.Year() != 2021 {
		t.Errorf("expected updated from start date, got %v", first.UpdatedParsed)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	db := openTestDB(t)
	srv := newTestServer(t, db, nil)

	get(srv, "/catalog")
	rec := get(srv, "/metrics")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	body := rec.Body.String()
	if !strings.Contains(body, `trumpfiles_http_requests_total{code="200",method="GET",route="GET /catalog"} 1`) {
		t.Errorf("expected catalog request counted, got:\n%s", body)
	}

	cfg := config.Default()
	cfg.Server.Metrics = false
	off := newTestServer(t, db, cfg)
	if rec := get(off, "/metrics"); rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 with metrics disabled, got %d", rec.Code)
	}
}

func TestStaticRoute(t *testing.T) {
	srv := newTestServer(t, openTestDB(t), nil)

	rec := get(srv, "/static/style.css")
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "font-sans") {
		t.Error("expected CSS content")
	}
}

func TestBarWidth(t *testing.T) {
	tests := []struct {
		v, max any
		want   string
	}{
		{5, 10, "50.0%"},
		{2.5, 10.0, "25.0%"},
		{12, 10, "100.0%"},
		{3, 0, "0%"},
		{"x", 10, "0%"},
	}
	for _, tt := range tests {
		if got := barWidth(tt.v, tt.max); got != tt.want {
			t.Errorf("barWidth(%v, %v) = %q, want %q", tt.v, tt.max, got, tt.want)
		}
	}
}
