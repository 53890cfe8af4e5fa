package content

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"nelculobot/pkg/logx"
)

type TMDBConfig struct {
	APIKey      string
	BaseURL     string
	ImageBase   string
	Language    string
	MaxPages    int
	MaxAttempts int
	Timeout     time.Duration
}

// TMDB draws random titles from the popular movie and TV lists of the TMDB
// v3 API.
type TMDB struct {
	cfg     TMDBConfig
	client  *http.Client
	rules   *RuleSet
	breaker *Breaker
	rnd     Rand
	log     logx.Logger
}

type TMDBOption func(*TMDB)

func WithHTTPClient(c *http.Client) TMDBOption { return func(t *TMDB) { t.client = c } }
func WithRand(r Rand) TMDBOption               { return func(t *TMDB) { t.rnd = r } }
func WithLogger(l logx.Logger) TMDBOption      { return func(t *TMDB) { t.log = l } }

func NewTMDB(cfg TMDBConfig, rules *RuleSet, br *Breaker, opts ...TMDBOption) *TMDB {
	cfg.APIKey = strings.TrimSpace(cfg.APIKey)
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.themoviedb.org/3"
	}
	if cfg.ImageBase == "" {
		cfg.ImageBase = "https://image.tmdb.org/t/p/w780"
	}
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = 20
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 50
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	t := &TMDB{cfg: cfg, rules: rules, breaker: br, rnd: DefaultRand(), client: &http.Client{}}
	for _, o := range opts {
		o(t)
	}
	if t.log.IsZero() {
		t.log = logx.Nop()
	}
	t.log = t.log.With(logx.String("source", "tmdb"))
	return t
}

func (t *TMDB) Name() string { return "tmdb" }

func (t *TMDB) Enabled() bool { return t != nil && t.cfg.APIKey != "" }

// record is a movie or a show after normalization.
type record struct {
	Title  string
	Poster string
	Year   int
}

type tmdbPage struct {
	Results []struct {
		Title         string `json:"title"`
		Name          string `json:"name"`
		PosterPath    string `json:"poster_path"`
		ReleaseDate   string `json:"release_date"`
		FirstAirDate  string `json:"first_air_date"`
		OriginalTitle string `json:"original_title"`
		OriginalName  string `json:"original_name"`
	} `json:"results"`
}

type pageKey struct {
	cat  Category
	page int
}

func (t *TMDB) Fetch(ctx context.Context) Result {
	if !t.Enabled() {
		return failed(KindUnavailable, ErrDisabled)
	}
	if ok, until := t.breaker.Allow(); !ok {
		return failed(KindUnavailable, fmt.Errorf("%w until %s", ErrCircuitOpen, until.Format(time.RFC3339)))
	}

	pages := map[pageKey][]record{}
	for attempt := 0; attempt < t.cfg.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return failed(KindTimeout, err)
		}
		key := pageKey{cat: CategoryMovie, page: 1 + t.rnd.IntN(t.cfg.MaxPages)}
		if t.rnd.IntN(2) == 1 {
			key.cat = CategoryShow
		}
		recs, ok := pages[key]
		if !ok {
			var err error
			recs, err = t.fetchPage(ctx, key.cat, key.page)
			t.breaker.Record(err)
			if err != nil {
				return failed(classifyHTTP(ctx, err), err)
			}
			pages[key] = recs
		}
		if len(recs) == 0 {
			continue
		}
		r := recs[t.rnd.IntN(len(recs))]
		if r.Title == "" || t.rules.Denied(r.Title) {
			continue
		}
		if t.rules.skipForAge(r.Year, t.rnd) {
			continue
		}
		it := Item{Title: r.Title, Source: SourceRemote, Category: key.cat, Year: r.Year}
		if r.Poster != "" {
			it.PosterURL = strings.TrimRight(t.cfg.ImageBase, "/") + "/" + strings.TrimLeft(r.Poster, "/")
		}
		t.log.Debug("catalog pick", logx.String("title", it.Title), logx.Int("attempt", attempt+1), logx.Int("page", key.page))
		return found(it)
	}
	return failed(KindRejected, ErrExhausted)
}

func (t *TMDB) fetchPage(ctx context.Context, cat Category, page int) ([]record, error) {
	path := "/movie/popular"
	if cat == CategoryShow {
		path = "/tv/popular"
	}
	q := url.Values{}
	q.Set("api_key", t.cfg.APIKey)
	q.Set("page", strconv.Itoa(page))
	if t.cfg.Language != "" {
		q.Set("language", t.cfg.Language)
	}

	cctx, cancel := context.WithTimeout(ctx, t.cfg.Timeout)
	defer cancel()
	req, err := http.NewRequestWithContext(cctx, http.MethodGet, t.cfg.BaseURL+path+"?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := t.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))
		return nil, fmt.Errorf("tmdb %s page %d: status %d", path, page, resp.StatusCode)
	}

	var body tmdbPage
	if err := json.NewDecoder(io.LimitReader(resp.Body, 4<<20)).Decode(&body); err != nil {
		return nil, fmt.Errorf("tmdb %s page %d: decode: %w", path, page, err)
	}
	out := make([]record, 0, len(body.Results))
	for _, r := range body.Results {
		rec := record{Poster: strings.TrimSpace(r.PosterPath)}
		date := r.ReleaseDate
		if cat == CategoryShow {
			rec.Title = firstNonEmpty(r.Name, r.OriginalName, r.Title)
			date = firstNonEmpty(r.FirstAirDate, r.ReleaseDate)
		} else {
			rec.Title = firstNonEmpty(r.Title, r.OriginalTitle, r.Name)
		}
		rec.Year = parseYear(date)
		out = append(out, rec)
	}
	return out, nil
}

func classifyHTTP(ctx context.Context, err error) ErrorKind {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return KindTimeout
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return KindTimeout
	}
	return KindUnavailable
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

// parseYear reads the leading YYYY of a "YYYY-MM-DD" date.
func parseYear(date string) int {
	date = strings.TrimSpace(date)
	if len(date) < 4 {
		return 0
	}
	y, err := strconv.Atoi(date[:4])
	if err != nil || y <= 0 {
		return 0
	}
	return y
}
