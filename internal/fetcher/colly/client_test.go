package collyfetcher

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gocolly/colly/v2"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/company-profile-crawler/internal/crawler"
)

type recordedRequest struct {
	method string
	path   string
	query  url.Values
	header http.Header
	body   []byte
}

type recorder struct {
	mu       sync.Mutex
	requests []recordedRequest
}

func (r *recorder) handler(status int, body string) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		data, _ := io.ReadAll(req.Body)
		r.mu.Lock()
		r.requests = append(r.requests, recordedRequest{
			method: req.Method,
			path:   req.URL.Path,
			query:  req.URL.Query(),
			header: req.Header.Clone(),
			body:   data,
		})
		r.mu.Unlock()
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}
}

func (r *recorder) last(t *testing.T) recordedRequest {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	require.NotEmpty(t, r.requests)
	return r.requests[len(r.requests)-1]
}

const sampleHAR = `{"log":{"entries":[
 {"request":{"url":"https://www.crunchbase.com/","headers":[
   {"name":":authority","value":"www.crunchbase.com"},
   {"name":"accept","value":"text/html"},
   {"name":"x-capture","value":"root"}]}},
 {"request":{"url":"https://www.crunchbase.com/v4/data/autocompletes?query=x","headers":[
   {"name":"accept","value":"application/json"},
   {"name":"content-length","value":"12"},
   {"name":"x-capture","value":"autocomplete"}]}}
]}}`

func newTestClient(t *testing.T, baseURL string, headers *HeaderSet) *Client {
	t.Helper()
	c, err := New(Config{BaseURL: baseURL, UserAgent: "test-agent", Timeout: 5 * time.Second, Headers: headers}, zap.NewNop())
	require.NoError(t, err)
	return c
}

func TestClientGetResolvesPathAndReplaysHeaders(t *testing.T) {
	t.Parallel()

	rec := &recorder{}
	srv := httptest.NewServer(rec.handler(http.StatusOK, `{"count":1}`))
	defer srv.Close()

	headers, err := ParseHAR(strings.NewReader(sampleHAR))
	require.NoError(t, err)
	c := newTestClient(t, srv.URL, headers)

	resp, err := c.Get(context.Background(), "/v4/data/autocompletes", url.Values{"query": {"Monzo"}, "limit": {"25"}})
	require.NoError(t, err)
	require.True(t, resp.OK())
	require.JSONEq(t, `{"count":1}`, string(resp.Body))

	got := rec.last(t)
	require.Equal(t, http.MethodGet, got.method)
	require.Equal(t, "/v4/data/autocompletes", got.path)
	require.Equal(t, "Monzo", got.query.Get("query"))
	require.Equal(t, "25", got.query.Get("limit"))
	require.Equal(t, "autocomplete", got.header.Get("X-Capture"))
	require.Equal(t, "application/json", got.header.Get("Accept"))
	require.Equal(t, "test-agent", got.header.Get("User-Agent"))
}

func TestClientReturnsErrorStatusesAsResponses(t *testing.T) {
	t.Parallel()

	rec := &recorder{}
	srv := httptest.NewServer(rec.handler(http.StatusForbidden, "Please prove you are human"))
	defer srv.Close()

	c := newTestClient(t, srv.URL, nil)
	resp, err := c.Get(context.Background(), "/organization/monzo", nil)
	require.NoError(t, err)
	require.Equal(t, http.StatusForbidden, resp.StatusCode)
	require.False(t, resp.OK())
	require.Contains(t, string(resp.Body), "prove you are human")
}

func TestClientPostEncodesJSON(t *testing.T) {
	t.Parallel()

	rec := &recorder{}
	srv := httptest.NewServer(rec.handler(http.StatusOK, `{"entities":[]}`))
	defer srv.Close()

	c := newTestClient(t, srv.URL, nil)
	c.SetUserAgent("rotated-agent")
	_, err := c.Post(context.Background(), "v4/data/searches/organizations", map[string]any{"limit": 50})
	require.NoError(t, err)

	got := rec.last(t)
	require.Equal(t, http.MethodPost, got.method)
	require.Equal(t, "/v4/data/searches/organizations", got.path)
	require.Equal(t, "application/json", got.header.Get("Content-Type"))
	require.Equal(t, "rotated-agent", got.header.Get("User-Agent"))
	var body map[string]any
	require.NoError(t, json.Unmarshal(got.body, &body))
	require.EqualValues(t, 50, body["limit"])
}

func TestClientUsesAbsoluteURLsVerbatim(t *testing.T) {
	t.Parallel()

	rec := &recorder{}
	other := httptest.NewServer(rec.handler(http.StatusOK, `{"ip":"203.0.113.7"}`))
	defer other.Close()

	c := newTestClient(t, "https://www.crunchbase.com", nil)
	resp, err := c.Get(context.Background(), other.URL+"/ip?format=json", nil)
	require.NoError(t, err)
	require.Equal(t, "/ip", rec.last(t).path)
	require.Equal(t, "json", rec.last(t).query.Get("format"))
	require.Contains(t, string(resp.Body), "203.0.113.7")
}

func TestClientKeepsCapturedHeadersOnTargetHost(t *testing.T) {
	t.Parallel()

	rec := &recorder{}
	other := httptest.NewServer(rec.handler(http.StatusOK, `{"ip":"203.0.113.7"}`))
	defer other.Close()

	headers, err := ParseHAR(strings.NewReader(`{"log":{"entries":[
	 {"request":{"url":"https://www.crunchbase.com/","headers":[
	   {"name":"cookie","value":"cb_session=SECRET"},
	   {"name":"x-csrf-token","value":"token"}]}}]}}`))
	require.NoError(t, err)
	c := newTestClient(t, "https://www.crunchbase.com", headers)

	_, err = c.Get(context.Background(), other.URL+"/?format=json", nil)
	require.NoError(t, err)

	got := rec.last(t)
	require.Empty(t, got.header.Get("Cookie"))
	require.Empty(t, got.header.Get("X-Csrf-Token"))
	require.Equal(t, "test-agent", got.header.Get("User-Agent"))
}

func TestClientRoutesThroughProxy(t *testing.T) {
	t.Parallel()

	rec := &recorder{}
	proxy := httptest.NewServer(rec.handler(http.StatusOK, "via proxy"))
	defer proxy.Close()

	c := newTestClient(t, "http://target.invalid", nil)
	require.NoError(t, c.SetProxy(proxy.URL))

	resp, err := c.Get(context.Background(), "/organization/monzo", nil)
	require.NoError(t, err)
	require.Equal(t, "via proxy", string(resp.Body))
	require.Equal(t, "/organization/monzo", rec.last(t).path)

	require.Error(t, c.SetProxy("not a proxy"))
	require.NoError(t, c.SetProxy(""))
}

func TestClientHonorsCanceledContext(t *testing.T) {
	t.Parallel()

	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		<-block
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()
	defer close(block)

	c := newTestClient(t, srv.URL, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.Get(ctx, "/slow", nil)
	require.ErrorIs(t, err, context.Canceled)
}

func TestNewRejectsRelativeBaseURL(t *testing.T) {
	t.Parallel()

	_, err := New(Config{BaseURL: "crunchbase"}, nil)
	require.Error(t, err)
}

func TestConfigureCollectorHooks(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, "https://www.crunchbase.com", nil)
	var result crawler.Response
	var fetchErr error

	hooks := &stubHooks{}
	c.configureCollectorHooks(hooks, time.Unix(0, 0), &result, &fetchErr)
	require.NotNil(t, hooks.onResponse)
	require.NotNil(t, hooks.onError)

	u, err := url.Parse("https://www.crunchbase.com/organization/monzo")
	require.NoError(t, err)
	hooks.onResponse(&colly.Response{
		StatusCode: http.StatusCreated,
		Body:       []byte("body"),
		Headers:    &http.Header{"X-Resp": {"ok"}},
		Request:    &colly.Request{URL: u},
	})
	require.Equal(t, http.StatusCreated, result.StatusCode)
	require.Equal(t, "body", string(result.Body))
	require.Equal(t, "ok", result.Headers.Get("X-Resp"))

	hooks.onError(nil, errors.New("boom"))
	require.EqualError(t, fetchErr, "boom")
}

type stubHooks struct {
	onResponse colly.ResponseCallback
	onError    colly.ErrorCallback
}

func (s *stubHooks) OnResponse(cb colly.ResponseCallback) {
	s.onResponse = cb
}

func (s *stubHooks) OnError(cb colly.ErrorCallback) {
	s.onError = cb
}
