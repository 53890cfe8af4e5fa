// Package poster finds a background image for a title when the catalog did
// not supply one.
package poster

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"nelculobot/internal/content"
	"nelculobot/pkg/logx"
)

const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/91.0.4472.124 Safari/537.36"

// Searcher returns the image URL of the first search result for query.
type Searcher interface {
	Name() string
	Search(ctx context.Context, query string) (string, error)
}

type Config struct {
	Enabled   bool
	Suffix    string
	UserAgent string
	Timeout   time.Duration
}

// Resolver chooses a poster URL: the item's own poster, else the first hit
// of the configured searchers, else "".
type Resolver struct {
	cfg       Config
	searchers []Searcher
	log       logx.Logger
}

func NewResolver(cfg Config, log logx.Logger, searchers ...Searcher) *Resolver {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Resolver{cfg: cfg, searchers: searchers, log: log.With(logx.String("comp", "poster"))}
}

func (r *Resolver) Resolve(ctx context.Context, it content.Item) string {
	if u := strings.TrimSpace(it.PosterURL); u != "" {
		return u
	}
	if !r.cfg.Enabled || strings.TrimSpace(it.Title) == "" {
		return ""
	}
	query := strings.TrimSpace(it.Title + " " + r.cfg.Suffix)
	for _, s := range r.searchers {
		if s == nil {
			continue
		}
		u, err := r.search(ctx, s, query)
		if err != nil {
			r.log.Warn("poster search failed", logx.String("provider", s.Name()), logx.String("query", query), logx.Err(err))
			continue
		}
		if u != "" {
			r.log.Debug("poster found", logx.String("provider", s.Name()), logx.String("url", u))
			return u
		}
	}
	return ""
}

func (r *Resolver) search(ctx context.Context, s Searcher, query string) (u string, err error) {
	cctx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("panic: %v", rec)
		}
	}()
	return s.Search(cctx, query)
}

// fetchDocument GETs an HTML page and parses it.
func fetchDocument(ctx context.Context, client *http.Client, ua, rawURL string) (*goquery.Document, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	if ua == "" {
		ua = DefaultUserAgent
	}
	req.Header.Set("User-Agent", ua)
	req.Header.Set("Accept-Language", "it-IT,it;q=0.9,en;q=0.8")
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}
	return goquery.NewDocumentFromReader(io.LimitReader(resp.Body, 8<<20))
}

// Endpoints overrides the provider URLs; empty fields use the public sites.
type Endpoints struct {
	Bing string
	TMDB string
}

// NewSearchers builds searchers for the named providers, in order. Unknown
// names are skipped.
func NewSearchers(names []string, ep Endpoints, ua string, client *http.Client) []Searcher {
	var out []Searcher
	for _, n := range names {
		switch strings.ToLower(strings.TrimSpace(n)) {
		case "bing":
			out = append(out, &Bing{Endpoint: ep.Bing, UserAgent: ua, Client: client})
		case "tmdb":
			out = append(out, &TMDBWeb{Endpoint: ep.TMDB, UserAgent: ua, Client: client})
		}
	}
	return out
}
