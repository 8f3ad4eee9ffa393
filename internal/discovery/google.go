// Package discovery finds profile URLs through a secondary web search engine.
package discovery

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/JakeFAU/company-profile-crawler/internal/crawler"
)

const organizationPrefix = "/organization/"

// Getter issues GET requests against the search engine.
type Getter interface {
	Get(ctx context.Context, path string, params url.Values) (crawler.Response, error)
}

// Google implements crawler.DiscoveryClient against a Google-style results page.
type Google struct {
	client     Getter
	targetHost string
	logger     *zap.Logger
	blocked    atomic.Bool
}

// NewGoogle builds a discovery client. targetHost is the profile site host,
// e.g. www.crunchbase.com.
func NewGoogle(client Getter, targetHost string, logger *zap.Logger) *Google {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Google{client: client, targetHost: strings.ToLower(targetHost), logger: logger}
}

// Query builds the site-restricted query for keyword.
func (g *Google) Query(keyword string) string {
	return fmt.Sprintf("site:%s%s %q", g.targetHost, strings.TrimSuffix(organizationPrefix, "/"), keyword)
}

// Blocked reports whether the last Search hit a captcha or block page.
func (g *Google) Blocked() bool {
	return g.blocked.Load()
}

// Search returns up to maxResults profile URLs for query.
func (g *Google) Search(ctx context.Context, query string, maxResults int) ([]string, error) {
	g.blocked.Store(false)
	params := url.Values{"q": {query}}
	if maxResults > 0 {
		params.Set("num", strconv.Itoa(maxResults))
	}
	resp, err := g.client.Get(ctx, "/search", params)
	if err != nil {
		return nil, fmt.Errorf("search engine request: %w", err)
	}
	if isBlocked(resp) {
		g.blocked.Store(true)
		g.logger.Warn("search engine captcha", zap.String("query", query), zap.Int("status", resp.StatusCode))
		return nil, nil
	}
	if !resp.OK() {
		return nil, fmt.Errorf("search engine returned status %d", resp.StatusCode)
	}
	return g.parseResults(resp.Body, maxResults)
}

func (g *Google) parseResults(body []byte, maxResults int) ([]string, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse search results: %w", err)
	}
	seen := make(map[string]struct{})
	var results []string
	doc.Find("a[href]").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		href, _ := s.Attr("href")
		link, ok := g.profileLink(href)
		if !ok {
			return true
		}
		if _, dup := seen[link]; dup {
			return true
		}
		seen[link] = struct{}{}
		results = append(results, link)
		return maxResults <= 0 || len(results) < maxResults
	})
	return results, nil
}

func (g *Google) profileLink(href string) (string, bool) {
	if strings.HasPrefix(href, "/url?") {
		u, err := url.Parse(href)
		if err != nil {
			return "", false
		}
		href = u.Query().Get("q")
	}
	u, err := url.Parse(href)
	if err != nil || !strings.EqualFold(u.Hostname(), g.targetHost) {
		return "", false
	}
	permalink, ok := Permalink(u.String())
	if !ok {
		return "", false
	}
	scheme := u.Scheme
	if scheme == "" {
		scheme = "https"
	}
	return scheme + "://" + u.Host + organizationPrefix + permalink, true
}

// Permalink extracts the organization permalink from a profile URL.
func Permalink(rawURL string) (string, bool) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", false
	}
	idx := strings.Index(u.Path, organizationPrefix)
	if idx < 0 {
		return "", false
	}
	rest := u.Path[idx+len(organizationPrefix):]
	if slash := strings.IndexByte(rest, '/'); slash >= 0 {
		rest = rest[:slash]
	}
	if rest == "" {
		return "", false
	}
	return rest, true
}

func isBlocked(resp crawler.Response) bool {
	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == http.StatusForbidden {
		return true
	}
	if strings.Contains(resp.URL, "/sorry/") {
		return true
	}
	return bytes.Contains(bytes.ToLower(resp.Body), []byte("unusual traffic"))
}
