package discovery

import (
	"context"
	"errors"
	"net/url"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/company-profile-crawler/internal/crawler"
)

type fakeGetter struct {
	resp   crawler.Response
	err    error
	path   string
	params url.Values
}

func (f *fakeGetter) Get(_ context.Context, path string, params url.Values) (crawler.Response, error) {
	f.path = path
	f.params = params
	return f.resp, f.err
}

const resultsPage = `<html><body>
<a href="/url?q=https://www.crunchbase.com/organization/monzo&sa=U">Monzo</a>
<a href="https://www.crunchbase.com/organization/monzo">Monzo again</a>
<a href="https://www.crunchbase.com/organization/monzo-bank/people?tab=1">Monzo Bank</a>
<a href="https://www.crunchbase.com/person/tom-blomfield">Person</a>
<a href="https://example.com/organization/fake">Other site</a>
<a href="/search?q=next">Next</a>
</body></html>`

func TestSearchParsesAndFiltersResults(t *testing.T) {
	t.Parallel()

	getter := &fakeGetter{resp: crawler.Response{StatusCode: 200, Body: []byte(resultsPage)}}
	g := NewGoogle(getter, "www.crunchbase.com", zap.NewNop())

	got, err := g.Search(context.Background(), g.Query("Monzo"), 5)
	require.NoError(t, err)
	require.False(t, g.Blocked())
	require.Equal(t, []string{
		"https://www.crunchbase.com/organization/monzo",
		"https://www.crunchbase.com/organization/monzo-bank",
	}, got)
	require.Equal(t, "/search", getter.path)
	require.Equal(t, `site:www.crunchbase.com/organization "Monzo"`, getter.params.Get("q"))
	require.Equal(t, "5", getter.params.Get("num"))
}

func TestSearchHonorsMaxResults(t *testing.T) {
	t.Parallel()

	getter := &fakeGetter{resp: crawler.Response{StatusCode: 200, Body: []byte(resultsPage)}}
	g := NewGoogle(getter, "www.crunchbase.com", nil)
	got, err := g.Search(context.Background(), "q", 1)
	require.NoError(t, err)
	require.Len(t, got, 1)
}

func TestSearchReportsBlocked(t *testing.T) {
	t.Parallel()

	cases := map[string]crawler.Response{
		"429":     {StatusCode: 429},
		"sorry":   {StatusCode: 200, URL: "https://www.google.com/sorry/index?continue=x"},
		"message": {StatusCode: 200, Body: []byte("Our systems have detected Unusual Traffic from your network")},
	}
	for name, resp := range cases {
		resp := resp
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			g := NewGoogle(&fakeGetter{resp: resp}, "www.crunchbase.com", nil)
			got, err := g.Search(context.Background(), "q", 5)
			require.NoError(t, err)
			require.Empty(t, got)
			require.True(t, g.Blocked())
		})
	}
}

func TestSearchResetsBlockedFlag(t *testing.T) {
	t.Parallel()

	getter := &fakeGetter{resp: crawler.Response{StatusCode: 429}}
	g := NewGoogle(getter, "www.crunchbase.com", nil)
	_, _ = g.Search(context.Background(), "q", 5)
	require.True(t, g.Blocked())

	getter.resp = crawler.Response{StatusCode: 200, Body: []byte(resultsPage)}
	_, err := g.Search(context.Background(), "q", 5)
	require.NoError(t, err)
	require.False(t, g.Blocked())
}

func TestSearchErrors(t *testing.T) {
	t.Parallel()

	g := NewGoogle(&fakeGetter{err: errors.New("dial")}, "www.crunchbase.com", nil)
	_, err := g.Search(context.Background(), "q", 5)
	require.Error(t, err)

	g = NewGoogle(&fakeGetter{resp: crawler.Response{StatusCode: 500}}, "www.crunchbase.com", nil)
	_, err = g.Search(context.Background(), "q", 5)
	require.Error(t, err)
	require.False(t, g.Blocked())
}

func TestPermalink(t *testing.T) {
	t.Parallel()

	p, ok := Permalink("https://www.crunchbase.com/organization/monzo/company_financials")
	require.True(t, ok)
	require.Equal(t, "monzo", p)

	_, ok = Permalink("https://www.crunchbase.com/organization/")
	require.False(t, ok)
	_, ok = Permalink("https://www.crunchbase.com/person/x")
	require.False(t, ok)
}
