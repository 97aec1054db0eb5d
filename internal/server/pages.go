package server

import (
	"errors"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/TobiSchelling/trumpfiles/internal/aggregate"
	"github.com/TobiSchelling/trumpfiles/internal/catalog"
)

const topRanked = 10

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	entries, err := s.db.GetAllEntries()
	if err != nil {
		log.Printf("Error loading entries: %v", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	top := entries
	if len(top) > topRanked {
		top = top[:topRanked]
	}

	s.render(w, "index.html", map[string]any{
		"Top":        top,
		"Summary":    s.engine.Summarize(entries),
		"Categories": s.engine.CategoryDistribution(entries),
	})
}

func (s *Server) handleCatalog(w http.ResponseWriter, r *http.Request) {
	entries, err := s.db.GetAllEntries()
	if err != nil {
		log.Printf("Error loading entries: %v", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	q := r.URL.Query()
	filter := filterFromQuery(r)
	sortKey := q.Get("sort")
	if !catalog.ValidSortKey(sortKey) {
		sortKey = catalog.SortRank
	}
	perPage := s.cfg.Catalog.PageSize
	if pp, err := strconv.Atoi(q.Get("per_page")); err == nil && pp >= catalog.DefaultPerPage && pp%catalog.DefaultPerPage == 0 {
		perPage = pp
	}
	pageNum, _ := strconv.Atoi(q.Get("page"))

	matched := catalog.Sort(filter.Apply(entries), sortKey)
	page := catalog.Paginate(matched, pageNum, perPage)

	selected := make(map[string]bool, len(filter.Categories))
	for _, c := range filter.Categories {
		selected[c] = true
	}

	s.render(w, "catalog.html", map[string]any{
		"Page":       page,
		"Filter":     filter,
		"Selected":   selected,
		"Sort":       sortKey,
		"Categories": catalog.Categories(entries),
		"Phases":     catalog.Phases(entries),
		"SortKeys":   sortOptions(),
		"PrevURL":    pageURL(q, page.Page-1),
		"NextURL":    pageURL(q, page.Page+1),
	})
}

type sortOption struct {
	Key   string
	Label string
}

func sortOptions() []sortOption {
	opts := []sortOption{
		{catalog.SortRank, "Rank"},
		{catalog.SortNumber, "Entry number"},
		{catalog.SortDate, "Date"},
		{catalog.SortScore, "Composite score"},
	}
	for _, m := range aggregate.AllMetrics {
		opts = append(opts, sortOption{m.String(), m.Label()})
	}
	return opts
}

func pageURL(q url.Values, page int) string {
	v := url.Values{}
	for k, vals := range q {
		v[k] = vals
	}
	v.Set("page", strconv.Itoa(page))
	return "/catalog?" + v.Encode()
}

func (s *Server) handleEntry(w http.ResponseWriter, r *http.Request) {
	n, err := strconv.Atoi(r.PathValue("n"))
	if err != nil {
		http.NotFound(w, r)
		return
	}
	b, err := s.loadEntry(n)
	if err != nil {
		log.Printf("Error loading entry: %v", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	if b == nil {
		http.NotFound(w, r)
		return
	}

	s.render(w, "entry.html", map[string]any{
		"Entry":    *b.Entry,
		"Sources":  b.Sources,
		"Comments": b.Comments,
		"Scores":   b.Scores,
		"Votes":    b.Votes,
		"Metrics":  aggregate.AllMetrics,
		"Flash":    entryFlash(r.URL.Query()),
	})
}

func entryFlash(q url.Values) string {
	switch {
	case q.Get("comment") == "pending":
		return "Thanks! Your comment will appear once it has been approved."
	case q.Get("comment") == "invalid":
		return "Please provide a name and a comment."
	case q.Get("voted") == "1":
		return "Your vote has been recorded."
	case q.Get("voted") == "invalid":
		return "Votes must be between 1 and 10."
	}
	return ""
}

func (s *Server) handleEntryComment(w http.ResponseWriter, r *http.Request) {
	n, err := strconv.Atoi(r.PathValue("n"))
	if err != nil {
		http.NotFound(w, r)
		return
	}
	back := fmt.Sprintf("/entry/%d", n)

	req := commentRequest{
		EntryNumber: n,
		UserName:    r.FormValue("user_name"),
		UserEmail:   r.FormValue("user_email"),
		CommentText: r.FormValue("comment_text"),
	}
	if msg := req.validate(); msg != "" {
		http.Redirect(w, r, back+"?comment=invalid#comments", http.StatusFound)
		return
	}
	_, found, err := s.submitComment(req)
	if err != nil {
		log.Printf("Error submitting comment: %v", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	if !found {
		http.NotFound(w, r)
		return
	}
	http.Redirect(w, r, back+"?comment=pending#comments", http.StatusFound)
}

func (s *Server) handleEntryVote(w http.ResponseWriter, r *http.Request) {
	n, err := strconv.Atoi(r.PathValue("n"))
	if err != nil {
		http.NotFound(w, r)
		return
	}
	back := fmt.Sprintf("/entry/%d", n)

	score, err := strconv.Atoi(r.FormValue("score"))
	if err != nil || score < 1 || score > 10 {
		http.Redirect(w, r, back+"?voted=invalid#votes", http.StatusFound)
		return
	}
	_, found, err := s.castVote(n, voterID(r, r.FormValue("user_id")), score)
	if err != nil {
		log.Printf("Error processing vote: %v", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	if !found {
		http.NotFound(w, r)
		return
	}
	http.Redirect(w, r, back+"?voted=1#votes", http.StatusFound)
}

func (s *Server) handleVisualizer(w http.ResponseWriter, r *http.Request) {
	d, code, err := s.dashboard(r)
	if err != nil {
		if code == http.StatusBadRequest {
			http.Error(w, err.Error(), code)
			return
		}
		log.Printf("Error building dashboard: %v", err)
		http.Error(w, "Internal server error", code)
		return
	}

	s.render(w, "visualizer.html", map[string]any{
		"D":          d,
		"Metrics":    aggregate.AllMetrics,
		"MaxSlice":   maxSlice(d.Categories),
		"MaxPhase":   maxSlice(d.Phases),
		"MaxBucket":  maxBucket(d.Histograms),
		"MaxYear":    maxYear(d.Timeline),
		"A":          d.CrossMetrics[0],
		"B":          d.CrossMetrics[1],
		"HighThresh": aggregate.HighScoreThreshold,
	})
}

func maxSlice(slices []aggregate.Slice) int {
	m := 0
	for _, s := range slices {
		if s.Value > m {
			m = s.Value
		}
	}
	return m
}

func maxYear(timeline []aggregate.YearBucket) int {
	m := 0
	for _, b := range timeline {
		if b.Count > m {
			m = b.Count
		}
	}
	return m
}

func maxBucket(h map[string][]aggregate.Bucket) int {
	m := 0
	for _, buckets := range h {
		for _, b := range buckets {
			if b.Count > m {
				m = b.Count
			}
		}
	}
	return m
}

func (s *Server) handleAdmin(w http.ResponseWriter, r *http.Request) {
	stats, err := s.db.GetStats()
	if err != nil {
		log.Printf("Error loading stats: %v", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	pending, err := s.db.GetPendingComments()
	if err != nil {
		log.Printf("Error loading pending comments: %v", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	importErrors, err := s.db.GetImportErrors(20)
	if err != nil {
		log.Printf("Error loading import errors: %v", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	q := r.URL.Query()
	s.render(w, "admin.html", map[string]any{
		"Stats":        stats,
		"Pending":      pending,
		"ImportErrors": importErrors,
		"Token":        q.Get("token"),
		"Imported":     q.Get("imported"),
		"Skipped":      q.Get("skipped"),
		"Error":        q.Get("error"),
	})
}

// adminRedirect returns to the admin page, carrying the token along when it
// came in the query string.
func adminRedirect(w http.ResponseWriter, r *http.Request, extra url.Values) {
	v := url.Values{}
	for k, vals := range extra {
		v[k] = vals
	}
	if tok := r.FormValue("token"); tok != "" {
		v.Set("token", tok)
	}
	target := "/admin"
	if len(v) > 0 {
		target += "?" + v.Encode()
	}
	http.Redirect(w, r, target, http.StatusFound)
}

func (s *Server) handleApproveComment(w http.ResponseWriter, r *http.Request) {
	ok, err := s.db.ApproveComment(r.PathValue("id"))
	if err != nil {
		log.Printf("Error approving comment: %v", err)
	} else if !ok {
		log.Printf("Comment %s not found", r.PathValue("id"))
	}
	adminRedirect(w, r, nil)
}

func (s *Server) handleDeleteComment(w http.ResponseWriter, r *http.Request) {
	ok, err := s.db.DeleteComment(r.PathValue("id"))
	if err != nil {
		log.Printf("Error deleting comment: %v", err)
	} else if !ok {
		log.Printf("Comment %s not found", r.PathValue("id"))
	}
	adminRedirect(w, r, nil)
}

func (s *Server) handleAdminUpload(w http.ResponseWriter, r *http.Request) {
	data, err := readUpload(w, r)
	if err != nil {
		adminRedirect(w, r, url.Values{"error": {err.Error()}})
		return
	}
	res, err := s.importEntries(data)
	var verrs catalog.ValidationErrors
	switch {
	case errors.As(err, &verrs):
		adminRedirect(w, r, url.Values{"error": {summarizeErrors(verrs, 5)}})
	case err != nil:
		log.Printf("Error uploading entries: %v", err)
		adminRedirect(w, r, url.Values{"error": {"Failed to upload entries"}})
	default:
		adminRedirect(w, r, url.Values{
			"imported": {strconv.Itoa(res.Inserted)},
			"skipped":  {strconv.Itoa(res.Skipped)},
		})
	}
}

// summarizeErrors joins the first max validation messages.
func summarizeErrors(errs catalog.ValidationErrors, max int) string {
	msgs := make([]string, 0, max+1)
	for i, e := range errs {
		if i == max {
			msgs = append(msgs, fmt.Sprintf("and %d more", len(errs)-max))
			break
		}
		msgs = append(msgs, e.Error())
	}
	return strings.Join(msgs, "; ")
}
