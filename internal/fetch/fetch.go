package fetch

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	readability "github.com/go-shiori/go-readability"

	"github.com/TobiSchelling/trumpfiles/internal/database"
)

// maxBody caps how much of a page is read before extraction.
const maxBody = 4 << 20

// Result holds the results of a title resolution run.
type Result struct {
	Resolved int
	Failed   int
	Skipped  int
}

// TitleResolver fills in missing source titles from the linked pages.
type TitleResolver struct {
	db     *database.DB
	client *http.Client
}

// NewTitleResolver creates a new title resolver.
func NewTitleResolver(db *database.DB, timeout time.Duration) *TitleResolver {
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	return &TitleResolver{
		db: db,
		client: &http.Client{
			Timeout: timeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 10 {
					return http.ErrUseLastResponse
				}
				return nil
			},
		},
	}
}

// ResolveMissingTitles visits every source without a title. After an HTTP
// error the remaining links of that domain are skipped for this run.
func (f *TitleResolver) ResolveMissingTitles(ctx context.Context) (*Result, error) {
	sources, err := f.db.GetSourcesNeedingTitle()
	if err != nil {
		return nil, fmt.Errorf("listing sources: %w", err)
	}

	result := &Result{}
	if len(sources) == 0 {
		log.Println("No sources need a title")
		return result, nil
	}

	failedDomains := make(map[string]struct{})

	for _, src := range sources {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		domain := domainOf(src.URL)
		if _, failed := failedDomains[domain]; failed {
			result.Skipped++
			continue
		}

		title, httpErr := f.fetchTitle(ctx, src.URL)
		// An interrupted request says nothing about the link; leave it pending.
		if err := ctx.Err(); err != nil {
			return result, err
		}
		if httpErr != nil {
			f.markFetched(src.ID)
			result.Failed++
			if domain != "" {
				failedDomains[domain] = struct{}{}
			}
			log.Printf("HTTP error for %s (%v), skipping remaining from %s", src.URL, httpErr, domain)
			continue
		}

		if title == "" {
			f.markFetched(src.ID)
			result.Failed++
			log.Printf("No title found at: %s", src.URL)
			continue
		}

		if err := f.db.UpdateSourceTitle(src.ID, title); err != nil {
			return result, fmt.Errorf("storing title for source %d: %w", src.ID, err)
		}
		result.Resolved++
		log.Printf("Entry %d: %s", src.EntryNumber, title)
	}

	log.Printf("Title resolution complete: %d resolved, %d failed, %d skipped",
		result.Resolved, result.Failed, result.Skipped)
	return result, nil
}

func (f *TitleResolver) markFetched(id int64) {
	if err := f.db.MarkSourceFetched(id); err != nil {
		log.Printf("Error marking source %d fetched: %v", id, err)
	}
}

// fetchTitle returns an error only for HTTP status failures. Connection and
// extraction problems yield an empty title so one bad link never blocks its domain.
func (f *TitleResolver) fetchTitle(ctx context.Context, sourceURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, sourceURL, nil)
	if err != nil {
		return "", nil
	}
	req.Header.Set("User-Agent", "trumpfiles/1.0 (source title resolver)")

	resp, err := f.client.Do(req)
	if err != nil {
		return "", nil
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return "", &httpError{code: resp.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return "", nil
	}

	parsedURL, _ := url.Parse(sourceURL)
	article, err := readability.FromReader(strings.NewReader(string(body)), parsedURL)
	if err != nil {
		return "", nil
	}
	return cleanTitle(article.Title), nil
}

func cleanTitle(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func domainOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Host)
}

type httpError struct {
	code int
}

func (e *httpError) Error() string {
	return http.StatusText(e.code)
}
