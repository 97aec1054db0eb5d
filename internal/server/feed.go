package server

import (
	"encoding/xml"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/TobiSchelling/trumpfiles/internal/database"
)

const feedSize = 20

type atomFeed struct {
	XMLName xml.Name    `xml:"http://www.w3.org/2005/Atom feed"`
	Title   string      `xml:"title"`
	ID      string      `xml:"id"`
	Updated string      `xml:"updated"`
	Link    []atomLink  `xml:"link"`
	Entries []atomEntry `xml:"entry"`
}

type atomLink struct {
	Href string `xml:"href,attr"`
	Rel  string `xml:"rel,attr,omitempty"`
}

type atomEntry struct {
	Title    string       `xml:"title"`
	ID       string       `xml:"id"`
	Updated  string       `xml:"updated"`
	Link     atomLink     `xml:"link"`
	Summary  string       `xml:"summary"`
	Category atomCategory `xml:"category"`
}

type atomCategory struct {
	Term string `xml:"term,attr"`
}

// handleFeed serves the highest-ranked entries as an Atom feed.
func (s *Server) handleFeed(w http.ResponseWriter, r *http.Request) {
	entries, err := s.db.GetAllEntries()
	if err != nil {
		log.Printf("Error loading entries: %v", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	if len(entries) > feedSize {
		entries = entries[:feedSize]
	}

	out, err := xml.MarshalIndent(buildFeed(baseURL(r), entries, time.Now().UTC()), "", "  ")
	if err != nil {
		log.Printf("Error encoding feed: %v", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/atom+xml; charset=utf-8")
	w.Write([]byte(xml.Header))
	w.Write(out)
}

func buildFeed(base string, entries []database.Entry, now time.Time) atomFeed {
	stamp := now.Format(time.RFC3339)
	feed := atomFeed{
		Title:   "Trump Files: top ranked entries",
		ID:      base + "/",
		Updated: stamp,
		Link: []atomLink{
			{Href: base + "/"},
			{Href: base + "/feed.xml", Rel: "self"},
		},
	}
	for _, e := range entries {
		updated := stamp
		if e.DateStart != nil {
			if t, err := time.Parse("2006-01-02", *e.DateStart); err == nil {
				updated = t.Format(time.RFC3339)
			}
		}
		title := e.Title
		if e.CompositeRank != nil {
			title = fmt.Sprintf("#%d %s", *e.CompositeRank, e.Title)
		}
		feed.Entries = append(feed.Entries, atomEntry{
			Title:    title,
			ID:       fmt.Sprintf("%s/entry/%d", base, e.EntryNumber),
			Updated:  updated,
			Link:     atomLink{Href: fmt.Sprintf("%s/entry/%d", base, e.EntryNumber)},
			Summary:  e.Synopsis,
			Category: atomCategory{Term: e.Category},
		})
	}
	return feed
}

func baseURL(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https" {
		scheme = "https"
	}
	return scheme + "://" + r.Host
}
