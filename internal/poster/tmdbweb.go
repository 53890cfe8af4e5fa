package poster

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// TMDBWeb scrapes the themoviedb.org search page (no API key needed) and
// upgrades the thumbnail to the original size.
type TMDBWeb struct {
	Endpoint  string
	UserAgent string
	Client    *http.Client
}

var (
	tmdbSelectors = []string{"div.card div.image img.poster", ".results .card img"}
	tmdbSizes     = strings.NewReplacer("w220_and_h330_face", "original", "w94_and_h141_bestv2", "original")
)

func (t *TMDBWeb) Name() string { return "tmdb" }

func (t *TMDBWeb) Search(ctx context.Context, query string) (string, error) {
	endpoint := t.Endpoint
	if endpoint == "" {
		endpoint = "https://www.themoviedb.org/search"
	}
	base, err := url.Parse(endpoint)
	if err != nil {
		return "", err
	}
	q := url.Values{}
	q.Set("query", query)
	doc, err := fetchDocument(ctx, clientOr(t.Client), t.UserAgent, endpoint+"?"+q.Encode())
	if err != nil {
		return "", err
	}
	return firstTMDBPoster(doc, base), nil
}

func firstTMDBPoster(doc *goquery.Document, base *url.URL) string {
	for _, sel := range tmdbSelectors {
		img := doc.Find(sel).First()
		if img.Length() == 0 {
			continue
		}
		src := img.AttrOr("src", "")
		if src == "" {
			src = img.AttrOr("data-src", "")
		}
		if src == "" {
			continue
		}
		ref, err := url.Parse(src)
		if err != nil {
			continue
		}
		return tmdbSizes.Replace(base.ResolveReference(ref).String())
	}
	return ""
}
