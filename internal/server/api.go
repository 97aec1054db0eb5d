package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"strconv"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/TobiSchelling/trumpfiles/internal/aggregate"
	"github.com/TobiSchelling/trumpfiles/internal/catalog"
	"github.com/TobiSchelling/trumpfiles/internal/database"
)

const (
	maxUploadBytes  = 32 << 20
	maxCommentChars = 2000
	adminEntryLimit = 100
)

// entryBundle is everything the entry page and its API show for one entry.
type entryBundle struct {
	Entry    *database.Entry            `json:"entry"`
	Sources  []database.Source          `json:"sources"`
	Comments []database.Comment         `json:"comments"`
	Scores   *database.UserScoreSummary `json:"userScores"`
	Votes    *database.VoteStats        `json:"votes"`
}

// loadEntry reads an entry and its community data in parallel. It returns
// nil when the entry does not exist.
func (s *Server) loadEntry(n int) (*entryBundle, error) {
	b := &entryBundle{}
	var g errgroup.Group
	g.Go(func() (err error) {
		b.Entry, b.Sources, err = s.db.GetEntryWithSources(n)
		return err
	})
	g.Go(func() (err error) {
		b.Comments, err = s.db.GetApprovedComments(n)
		return err
	})
	g.Go(func() (err error) {
		b.Scores, err = s.db.GetUserScoreSummary(n)
		return err
	})
	g.Go(func() (err error) {
		b.Votes, err = s.db.GetVoteStats(n)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("loading entry %d: %w", n, err)
	}
	if b.Entry == nil {
		return nil, nil
	}
	if b.Sources == nil {
		b.Sources = []database.Source{}
	}
	if b.Comments == nil {
		b.Comments = []database.Comment{}
	}
	return b, nil
}

// filterFromQuery reads the catalog filter parameters shared by the page and the API.
func filterFromQuery(r *http.Request) catalog.Filter {
	q := r.URL.Query()
	var cats []string
	for _, c := range q["category"] {
		if c = strings.TrimSpace(c); c != "" {
			cats = append(cats, c)
		}
	}
	return catalog.Filter{
		Search:     q.Get("q"),
		Categories: cats,
		Phase:      q.Get("phase"),
	}
}

func (s *Server) apiEntries(w http.ResponseWriter, r *http.Request) {
	entries, err := s.db.GetAllEntries()
	if err != nil {
		log.Printf("Error loading entries: %v", err)
		writeError(w, http.StatusInternalServerError, "Failed to fetch entries")
		return
	}
	entries = filterFromQuery(r).Apply(entries)
	if key := r.URL.Query().Get("sort"); key != "" {
		entries = catalog.Sort(entries, key)
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) apiEntry(w http.ResponseWriter, r *http.Request) {
	n, err := strconv.Atoi(r.PathValue("n"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid entry number")
		return
	}
	b, err := s.loadEntry(n)
	if err != nil {
		log.Printf("Error fetching entry: %v", err)
		writeError(w, http.StatusInternalServerError, "Failed to fetch entry")
		return
	}
	if b == nil {
		writeError(w, http.StatusNotFound, "Entry not found")
		return
	}
	writeJSON(w, http.StatusOK, b)
}

// crossMetrics resolves the ?a=&b= override of the cross-tab metrics.
func (s *Server) crossMetrics(r *http.Request) ([2]aggregate.Metric, error) {
	pair := s.opts.CrossTab
	for i, key := range []string{"a", "b"} {
		v := r.URL.Query().Get(key)
		if v == "" {
			continue
		}
		m, err := aggregate.ParseMetric(v)
		if err != nil {
			return pair, err
		}
		pair[i] = m
	}
	return pair, nil
}

func (s *Server) dashboard(r *http.Request) (*aggregate.Dashboard, int, error) {
	pair, err := s.crossMetrics(r)
	if err != nil {
		return nil, http.StatusBadRequest, err
	}
	entries, err := s.db.GetAllEntries()
	if err != nil {
		return nil, http.StatusInternalServerError, err
	}
	opts := s.opts
	opts.CrossTab = pair
	d := s.engine.Dashboard(entries, opts)
	return &d, http.StatusOK, nil
}

func (s *Server) apiVisualizerData(w http.ResponseWriter, r *http.Request) {
	d, code, err := s.dashboard(r)
	if err != nil {
		if code == http.StatusBadRequest {
			writeError(w, code, err.Error())
			return
		}
		log.Printf("Error building dashboard: %v", err)
		writeError(w, code, "Failed to fetch visualizer data")
		return
	}
	writeJSON(w, http.StatusOK, d)
}

type commentRequest struct {
	EntryNumber int    `json:"entry_number"`
	UserName    string `json:"user_name"`
	UserEmail   string `json:"user_email"`
	CommentText string `json:"comment_text"`
}

// validate trims the request and returns a user-facing message on failure.
func (c *commentRequest) validate() string {
	c.UserName = strings.TrimSpace(c.UserName)
	c.UserEmail = strings.TrimSpace(c.UserEmail)
	c.CommentText = strings.TrimSpace(c.CommentText)
	switch {
	case c.EntryNumber <= 0:
		return "Invalid entry number"
	case c.UserName == "":
		return "Name is required"
	case c.CommentText == "":
		return "Comment text is required"
	case len([]rune(c.CommentText)) > maxCommentChars:
		return fmt.Sprintf("Comment must be at most %d characters", maxCommentChars)
	}
	return ""
}

// submitComment stores a validated comment. found is false for unknown entries.
func (s *Server) submitComment(c commentRequest) (id string, found bool, err error) {
	ok, err := s.db.EntryExists(c.EntryNumber)
	if err != nil || !ok {
		return "", ok, err
	}
	id, err = s.db.InsertComment(c.EntryNumber, c.UserName, c.UserEmail, c.CommentText)
	return id, true, err
}

func (s *Server) apiComments(w http.ResponseWriter, r *http.Request) {
	var req commentRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}
	if msg := req.validate(); msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}
	id, found, err := s.submitComment(req)
	if err != nil {
		log.Printf("Error submitting comment: %v", err)
		writeError(w, http.StatusInternalServerError, "Internal Server Error")
		return
	}
	if !found {
		writeError(w, http.StatusNotFound, "Entry not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"message": "Comment submitted for review", "id": id})
}

type scoreRequest struct {
	EntryNumber int
	UserID      string
	Scores      map[string]*float64
}

func (s *Server) apiScores(w http.ResponseWriter, r *http.Request) {
	var raw map[string]json.RawMessage
	if err := decodeJSON(r, &raw); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}
	req, msg := parseScoreRequest(raw)
	if msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}

	ok, err := s.db.EntryExists(req.EntryNumber)
	if err != nil {
		log.Printf("Error submitting scores: %v", err)
		writeError(w, http.StatusInternalServerError, "Internal Server Error")
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "Entry not found")
		return
	}

	us := database.UserScore{EntryNumber: req.EntryNumber}
	if req.UserID != "" {
		us.UserID = &req.UserID
	}
	targets := map[aggregate.Metric]**float64{
		aggregate.Danger:           &us.Danger,
		aggregate.Lawlessness:      &us.Lawlessness,
		aggregate.Insanity:         &us.Insanity,
		aggregate.Absurdity:        &us.Absurdity,
		aggregate.Authoritarianism: &us.Authoritarianism,
		aggregate.CredibilityRisk:  &us.CredibilityRisk,
		aggregate.RecencyIntensity: &us.RecencyIntensity,
		aggregate.ImpactScope:      &us.ImpactScope,
	}
	for name, v := range req.Scores {
		m, _ := aggregate.ParseMetric(name)
		*targets[m] = v
	}

	if _, err := s.db.InsertUserScore(us); err != nil {
		log.Printf("Error submitting scores: %v", err)
		writeError(w, http.StatusInternalServerError, "Internal Server Error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Scores submitted successfully"})
}

// parseScoreRequest accepts metric names with or without the "_score"
// suffix. Every supplied score must be a number in [0, 10] and at least one
// must be present.
func parseScoreRequest(raw map[string]json.RawMessage) (scoreRequest, string) {
	req := scoreRequest{Scores: make(map[string]*float64)}
	if v, ok := raw["entry_number"]; ok {
		if err := json.Unmarshal(v, &req.EntryNumber); err != nil {
			return req, "Invalid entry number"
		}
	}
	if req.EntryNumber <= 0 {
		return req, "Invalid entry number"
	}
	if v, ok := raw["user_id"]; ok {
		json.Unmarshal(v, &req.UserID)
	}

	for _, m := range aggregate.AllMetrics {
		// The plain name wins over the "_score" spelling.
		v, ok := raw[m.String()]
		if !ok {
			if v, ok = raw[m.String()+"_score"]; !ok {
				continue
			}
		}
		var f *float64
		if err := json.Unmarshal(v, &f); err != nil {
			return req, fmt.Sprintf("%s must be a number between 0 and 10", m)
		}
		if f == nil {
			continue
		}
		if *f < 0 || *f > 10 {
			return req, fmt.Sprintf("%s must be a number between 0 and 10", m)
		}
		req.Scores[m.String()] = f
	}
	if len(req.Scores) == 0 {
		return req, "At least one score is required"
	}
	return req, ""
}

type voteRequest struct {
	EntryNumber int    `json:"entryNumber"`
	Score       int    `json:"score"`
	UserID      string `json:"userId"`
}

func (s *Server) apiGetVote(w http.ResponseWriter, r *http.Request) {
	n, err := strconv.Atoi(r.URL.Query().Get("entryNumber"))
	if err != nil || n <= 0 {
		writeError(w, http.StatusBadRequest, "Entry number required")
		return
	}
	stats, err := s.db.GetVoteStats(n)
	if err != nil {
		log.Printf("Error fetching votes: %v", err)
		writeError(w, http.StatusInternalServerError, "Failed to fetch votes")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) apiPostVote(w http.ResponseWriter, r *http.Request) {
	var req voteRequest
	if err := decodeJSON(r, &req); err != nil || req.EntryNumber <= 0 || req.Score < 1 || req.Score > 10 {
		writeError(w, http.StatusBadRequest, "Invalid vote data")
		return
	}
	stats, found, err := s.castVote(req.EntryNumber, voterID(r, req.UserID), req.Score)
	if err != nil {
		log.Printf("Error processing vote: %v", err)
		writeError(w, http.StatusInternalServerError, "Failed to process vote")
		return
	}
	if !found {
		writeError(w, http.StatusNotFound, "Entry not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":   true,
		"voteCount": stats.VoteCount,
		"avgScore":  stats.AvgScore,
	})
}

func (s *Server) castVote(n int, voter string, score int) (*database.VoteStats, bool, error) {
	ok, err := s.db.EntryExists(n)
	if err != nil || !ok {
		return nil, ok, err
	}
	if err := s.db.UpsertVote(n, voter, score); err != nil {
		return nil, true, err
	}
	stats, err := s.db.GetVoteStats(n)
	return stats, true, err
}

// voterID identifies a voter: an explicit id, else the first forwarded
// address, else the peer address.
func voterID(r *http.Request, explicit string) string {
	if id := strings.TrimSpace(explicit); id != "" {
		return id
	}
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		if first = strings.TrimSpace(first); first != "" {
			return first
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func (s *Server) apiAdminData(w http.ResponseWriter, r *http.Request) {
	var (
		entries []database.Entry
		stats   *database.Stats
		pending []database.Comment
		errs    []database.ImportError
	)
	var g errgroup.Group
	g.Go(func() (err error) {
		entries, err = s.db.GetAllEntries()
		return err
	})
	g.Go(func() (err error) {
		stats, err = s.db.GetStats()
		return err
	})
	g.Go(func() (err error) {
		pending, err = s.db.GetPendingComments()
		return err
	})
	g.Go(func() (err error) {
		errs, err = s.db.GetImportErrors(20)
		return err
	})
	if err := g.Wait(); err != nil {
		log.Printf("Error fetching admin data: %v", err)
		writeError(w, http.StatusInternalServerError, "Internal Server Error")
		return
	}

	if len(entries) > adminEntryLimit {
		entries = entries[:adminEntryLimit]
	}
	if entries == nil {
		entries = []database.Entry{}
	}
	if pending == nil {
		pending = []database.Comment{}
	}
	if errs == nil {
		errs = []database.ImportError{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"entries":         entries,
		"stats":           stats,
		"pendingComments": pending,
		"importErrors":    errs,
	})
}

// importResult reports an accepted upload.
type importResult struct {
	Success  bool `json:"success"`
	Total    int  `json:"total"`
	Inserted int  `json:"inserted"`
	Skipped  int  `json:"skipped"`
}

// importEntries validates and stores an upload. Validation failures come back
// as catalog.ValidationErrors and nothing is written.
func (s *Server) importEntries(data []byte) (*importResult, error) {
	entries, err := catalog.ParseImport(data)
	if err != nil {
		return nil, err
	}
	inserted, err := s.db.InsertEntries(entries)
	if err != nil {
		if recErr := s.db.RecordImportError(err.Error(), truncate(string(data), 4000)); recErr != nil {
			log.Printf("Error recording import failure: %v", recErr)
		}
		return nil, fmt.Errorf("inserting entries: %w", err)
	}
	s.metrics.imported.Add(float64(inserted))
	return &importResult{Success: true, Total: len(entries), Inserted: inserted, Skipped: len(entries) - inserted}, nil
}

func (s *Server) apiUploadEntries(w http.ResponseWriter, r *http.Request) {
	data, err := readUpload(w, r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	res, err := s.importEntries(data)
	var verrs catalog.ValidationErrors
	switch {
	case errors.As(err, &verrs):
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "Validation failed", "errors": verrs})
	case err != nil:
		log.Printf("Error uploading entries: %v", err)
		writeError(w, http.StatusInternalServerError, "Failed to upload entries")
	default:
		writeJSON(w, http.StatusOK, res)
	}
}

// readUpload returns the uploaded JSON, either the "file" field of a
// multipart form or the raw request body.
func readUpload(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		f, _, err := r.FormFile("file")
		if err != nil {
			return nil, errors.New("No file provided")
		}
		defer f.Close()
		return io.ReadAll(f)
	}
	data, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, errors.New("Failed to read upload")
	}
	if len(data) == 0 {
		return nil, errors.New("No file provided")
	}
	return data, nil
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, 1<<20))
	return dec.Decode(v)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("Error encoding response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
