package poster

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Bing scrapes the Bing Images result page. Each result anchor carries a JSON
// blob in its "m" attribute whose "murl" is the full-size image.
type Bing struct {
	Endpoint  string
	UserAgent string
	Client    *http.Client
}

func (b *Bing) Name() string { return "bing" }

func (b *Bing) Search(ctx context.Context, query string) (string, error) {
	endpoint := b.Endpoint
	if endpoint == "" {
		endpoint = "https://www.bing.com/images/search"
	}
	q := url.Values{}
	q.Set("q", query)
	q.Set("form", "HDRSC2")
	doc, err := fetchDocument(ctx, clientOr(b.Client), b.UserAgent, endpoint+"?"+q.Encode())
	if err != nil {
		return "", err
	}
	return firstBingImage(doc), nil
}

func firstBingImage(doc *goquery.Document) string {
	var out string
	doc.Find("a.iusc").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		raw, ok := s.Attr("m")
		if !ok {
			return true
		}
		var meta struct {
			MURL string `json:"murl"`
		}
		if json.Unmarshal([]byte(raw), &meta) != nil {
			return true
		}
		if isHTTPURL(meta.MURL) {
			out = meta.MURL
			return false
		}
		return true
	})
	if out != "" {
		return out
	}
	doc.Find("img.mimg").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		for _, attr := range []string{"src", "data-src"} {
			if v, ok := s.Attr(attr); ok && isHTTPURL(v) {
				out = v
				return false
			}
		}
		return true
	})
	return out
}

func isHTTPURL(s string) bool {
	return strings.HasPrefix(s, "https://") || strings.HasPrefix(s, "http://")
}

func clientOr(c *http.Client) *http.Client {
	if c != nil {
		return c
	}
	return http.DefaultClient
}
