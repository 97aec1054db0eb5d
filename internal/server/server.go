package server

import (
	"bytes"
	"crypto/subtle"
	"embed"
	"fmt"
	"html/template"
	"io/fs"
	"log"
	"net/http"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/yuin/goldmark"

	"github.com/TobiSchelling/trumpfiles/internal/aggregate"
	"github.com/TobiSchelling/trumpfiles/internal/config"
	"github.com/TobiSchelling/trumpfiles/internal/database"
)

//go:embed templates/*.html
var templateFS embed.FS

//go:embed static/*
var staticFS embed.FS

var md = goldmark.New()

// Server is the HTTP server for the catalog and dashboard.
type Server struct {
	db      *database.DB
	cfg     *config.Config
	engine  aggregate.Engine
	opts    aggregate.Options
	pages   map[string]*template.Template
	mux     *http.ServeMux
	metrics *metrics
}

// New creates a new Server. A nil cfg uses the embedded defaults.
func New(db *database.DB, cfg *config.Config) (*Server, error) {
	if cfg == nil {
		cfg = config.Default()
	}

	funcMap := template.FuncMap{
		"markdown": renderMarkdown,
		"deref": func(s *string) string {
			if s == nil {
				return ""
			}
			return *s
		},
		"score":    formatScore,
		"comma":    func(n int) string { return humanize.Comma(int64(n)) },
		"ordinal":  humanize.Ordinal,
		"percent":  percent,
		"barWidth": barWidth,
		"metrics":  func() []aggregate.Metric { return aggregate.AllMetrics },
		"value": func(m aggregate.Metric, e database.Entry) string {
			v, ok := m.Value(e)
			if !ok {
				return "–"
			}
			return fmt.Sprintf("%.1f", v)
		},
		"avg": func(avgs map[string]float64, key string) string {
			v, ok := avgs[key]
			if !ok {
				return "–"
			}
			return fmt.Sprintf("%.1f", v)
		},
		"add":  func(a, b int) int { return a + b },
		"join": strings.Join,
	}

	// Parse base template first
	base, err := template.New("base.html").Funcs(funcMap).ParseFS(templateFS, "templates/base.html")
	if err != nil {
		return nil, fmt.Errorf("parsing base template: %w", err)
	}

	// Each page gets its own clone of base with its own "title" and "content".
	pageNames := []string{"index.html", "catalog.html", "entry.html", "visualizer.html", "admin.html"}
	pages := make(map[string]*template.Template, len(pageNames))
	for _, name := range pageNames {
		clone, err := base.Clone()
		if err != nil {
			return nil, fmt.Errorf("cloning base for %s: %w", name, err)
		}
		_, err = clone.ParseFS(templateFS, "templates/"+name)
		if err != nil {
			return nil, fmt.Errorf("parsing template %s: %w", name, err)
		}
		pages[name] = clone
	}

	s := &Server{
		db:      db,
		cfg:     cfg,
		engine:  cfg.Engine(),
		opts:    cfg.DashboardOptions(),
		pages:   pages,
		mux:     http.NewServeMux(),
		metrics: newMetrics(prometheus.NewRegistry()),
	}
	s.routes()
	return s, nil
}

// Handler returns the HTTP handler for the server.
func (s *Server) Handler() http.Handler {
	return s.metrics.instrument(s.mux)
}

func (s *Server) routes() {
	staticSub, _ := fs.Sub(staticFS, "static")
	s.mux.Handle("GET /static/", http.StripPrefix("/static/", http.FileServer(http.FS(staticSub))))

	// Pages
	s.mux.HandleFunc("GET /{$}", s.handleIndex)
	s.mux.HandleFunc("GET /catalog", s.handleCatalog)
	s.mux.HandleFunc("GET /entry/{n}", s.handleEntry)
	s.mux.HandleFunc("POST /entry/{n}/comment", s.handleEntryComment)
	s.mux.HandleFunc("POST /entry/{n}/vote", s.handleEntryVote)
	s.mux.HandleFunc("GET /visualizer", s.handleVisualizer)
	s.mux.HandleFunc("GET /admin", s.admin(s.handleAdmin))
	s.mux.HandleFunc("POST /admin/comments/{id}/approve", s.admin(s.handleApproveComment))
	s.mux.HandleFunc("POST /admin/comments/{id}/delete", s.admin(s.handleDeleteComment))
	s.mux.HandleFunc("POST /admin/upload", s.admin(s.handleAdminUpload))
	s.mux.HandleFunc("GET /feed.xml", s.handleFeed)

	// JSON API
	s.mux.HandleFunc("GET /api/entries", s.apiEntries)
	s.mux.HandleFunc("GET /api/entry/{n}", s.apiEntry)
	s.mux.HandleFunc("GET /api/visualizer-data", s.apiVisualizerData)
	s.mux.HandleFunc("POST /api/comments", s.apiComments)
	s.mux.HandleFunc("POST /api/scores", s.apiScores)
	s.mux.HandleFunc("GET /api/user-vote", s.apiGetVote)
	s.mux.HandleFunc("POST /api/user-vote", s.apiPostVote)
	s.mux.HandleFunc("GET /api/admin-data", s.admin(s.apiAdminData))
	s.mux.HandleFunc("POST /api/upload-entries", s.admin(s.apiUploadEntries))

	if s.cfg.Server.Metrics {
		s.mux.Handle("GET /metrics", s.metrics.handler())
	}
}

// admin guards a handler with the configured admin token. Without a token
// the admin routes are open, which suits the default loopback binding.
func (s *Server) admin(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		want := s.cfg.Server.AdminToken
		if want == "" {
			next(w, r)
			return
		}
		got := r.Header.Get("X-Admin-Token")
		if got == "" {
			got = r.URL.Query().Get("token")
		}
		if got == "" {
			got = r.FormValue("token")
		}
		if subtle.ConstantTimeCompare([]byte(got), []byte(want)) != 1 {
			if strings.HasPrefix(r.URL.Path, "/api/") {
				writeError(w, http.StatusUnauthorized, "Unauthorized")
				return
			}
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}

func (s *Server) render(w http.ResponseWriter, name string, data any) {
	tmpl, ok := s.pages[name]
	if !ok {
		log.Printf("Template %s not found", name)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	var buf bytes.Buffer
	if err := tmpl.ExecuteTemplate(&buf, "base.html", data); err != nil {
		log.Printf("Error rendering template %s: %v", name, err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	buf.WriteTo(w)
}

func renderMarkdown(text string) template.HTML {
	var buf bytes.Buffer
	if err := md.Convert([]byte(text), &buf); err != nil {
		return template.HTML(template.HTMLEscapeString(text))
	}
	return template.HTML(buf.String()) //nolint: gosec
}

func formatScore(v *float64) string {
	if v == nil {
		return "–"
	}
	return fmt.Sprintf("%.1f", *v)
}

func percent(part, total int) string {
	if total == 0 {
		return "0%"
	}
	return fmt.Sprintf("%.0f%%", float64(part)*100/float64(total))
}

// barWidth scales v against max into a CSS width percentage. Both accept
// counts or averages.
func barWidth(v, max any) string {
	fv, fm := toFloat(v), toFloat(max)
	if fm <= 0 || fv <= 0 {
		return "0%"
	}
	w := fv * 100 / fm
	if w > 100 {
		w = 100
	}
	return fmt.Sprintf("%.1f%%", w)
}

func toFloat(v any) float64 {
	switch n := v.(type) {
	case int:
		return float64(n)
	case int64:
		return float64(n)
	case float64:
		return n
	}
	return 0
}

// Serve starts the HTTP server on the configured address.
func Serve(db *database.DB, cfg *config.Config) error {
	srv, err := New(db, cfg)
	if err != nil {
		return err
	}

	addr := srv.cfg.Addr()
	log.Printf("Server listening on http://%s", addr)
	return http.ListenAndServe(addr, srv.Handler())
}
