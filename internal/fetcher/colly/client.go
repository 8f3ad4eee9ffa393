// Package collyfetcher implements crawler.HTTPClient using gocolly.
package collyfetcher

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/company-profile-crawler/internal/crawler"
)

// ErrNoResponse is returned when colly finished without invoking any callback.
var ErrNoResponse = errors.New("no response received")

// Config controls collector behavior.
type Config struct {
	BaseURL   string
	UserAgent string
	Timeout   time.Duration
	// Headers replays captured request headers; nil sends only the user agent.
	Headers *HeaderSet
}

// Client implements crawler.HTTPClient using the Colly collector.
type Client struct {
	cfg           Config
	base          *url.URL
	logger        *zap.Logger
	baseCollector *colly.Collector

	mu        sync.RWMutex
	proxy     string
	userAgent string
}

type collectorHooks interface {
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// New builds a Client.
func New(cfg Config, logger *zap.Logger) (*Client, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/") + "/")
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("base url %q must be absolute", cfg.BaseURL)
	}

	c := colly.NewCollector(
		colly.Async(false),
		colly.AllowURLRevisit(),
		colly.ParseHTTPErrorResponse(),
	)
	c.WithTransport(newHTTPTransport())
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	c.SetRequestTimeout(timeout)

	return &Client{
		cfg:           cfg,
		base:          base,
		logger:        logger,
		baseCollector: c,
		userAgent:     cfg.UserAgent,
	}, nil
}

// SetProxy routes subsequent requests through rawURL; empty restores the environment proxy.
func (c *Client) SetProxy(rawURL string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		c.baseCollector.SetProxyFunc(http.ProxyFromEnvironment)
		c.proxy = ""
		return nil
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("parse proxy url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("proxy url %q must include scheme and host", rawURL)
	}
	c.baseCollector.SetProxyFunc(http.ProxyURL(u))
	c.proxy = u.Redacted()
	c.logger.Debug("proxy assigned", zap.String("proxy", c.proxy))
	return nil
}

// SetUserAgent overrides the user agent for subsequent requests.
func (c *Client) SetUserAgent(userAgent string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if userAgent != "" {
		c.userAgent = userAgent
	}
}

// Get issues a GET request. Non-2xx responses are returned, not treated as errors.
func (c *Client) Get(ctx context.Context, path string, params url.Values) (crawler.Response, error) {
	target, err := c.resolve(path, params)
	if err != nil {
		return crawler.Response{}, err
	}
	return c.do(ctx, http.MethodGet, target, nil)
}

// Post issues a POST with body encoded as JSON unless it is already []byte.
func (c *Client) Post(ctx context.Context, path string, body any) (crawler.Response, error) {
	target, err := c.resolve(path, nil)
	if err != nil {
		return crawler.Response{}, err
	}
	var payload []byte
	switch b := body.(type) {
	case nil:
	case []byte:
		payload = b
	case string:
		payload = []byte(b)
	default:
		payload, err = json.Marshal(body)
		if err != nil {
			return crawler.Response{}, fmt.Errorf("encode request body: %w", err)
		}
	}
	return c.do(ctx, http.MethodPost, target, payload)
}

func (c *Client) resolve(path string, params url.Values) (*url.URL, error) {
	ref, err := url.Parse(path)
	if err != nil {
		return nil, fmt.Errorf("parse request path %q: %w", path, err)
	}
	target := ref
	if !ref.IsAbs() {
		target = c.base.ResolveReference(ref)
	}
	if len(params) > 0 {
		q := target.Query()
		for key, values := range params {
			for _, v := range values {
				q.Add(key, v)
			}
		}
		target.RawQuery = q.Encode()
	}
	return target, nil
}

func (c *Client) do(ctx context.Context, method string, target *url.URL, payload []byte) (crawler.Response, error) {
	var (
		result   crawler.Response
		fetchErr error
	)
	start := time.Now()
	collector := c.baseCollector.Clone()
	c.configureCollectorHooks(collector, start, &result, &fetchErr)

	hdr := c.requestHeaders(target)
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
		hdr.Set("Content-Type", "application/json")
	}

	if err := c.runCollector(ctx, func() error {
		return collector.Request(method, target.String(), body, nil, hdr)
	}, &fetchErr); err != nil {
		return crawler.Response{}, err
	}
	if result.StatusCode == 0 {
		return crawler.Response{}, fmt.Errorf("%s %s: %w", method, target.Redacted(), ErrNoResponse)
	}
	c.logger.Debug("request completed",
		zap.String("method", method),
		zap.String("url", target.Redacted()),
		zap.Int("status", result.StatusCode),
		zap.Duration("duration", result.Duration),
	)
	return result, nil
}

// requestHeaders replays captured headers for the target site only. Requests
// to other hosts (probe, proxy list) carry just the user agent unless the
// capture holds traffic for that host.
func (c *Client) requestHeaders(target *url.URL) http.Header {
	var hdr http.Header
	if strings.EqualFold(target.Host, c.base.Host) {
		hdr = c.cfg.Headers.For(target.Path)
	} else {
		hdr = c.cfg.Headers.ForHost(target.Host, target.Path)
	}
	c.mu.RLock()
	ua := c.userAgent
	c.mu.RUnlock()
	if ua != "" {
		hdr.Set("User-Agent", ua)
	}
	return hdr
}

func (c *Client) configureCollectorHooks(
	hooks collectorHooks,
	start time.Time,
	result *crawler.Response,
	fetchErr *error,
) {
	hooks.OnResponse(func(r *colly.Response) {
		var headers http.Header
		if r.Headers != nil {
			headers = r.Headers.Clone()
		}
		*result = crawler.Response{
			URL:        r.Request.URL.String(),
			StatusCode: r.StatusCode,
			Headers:    headers,
			Body:       append([]byte(nil), r.Body...),
			Duration:   time.Since(start),
		}
	})

	hooks.OnError(func(_ *colly.Response, err error) {
		*fetchErr = err
	})
}

func (c *Client) runCollector(ctx context.Context, visit func() error, fetchErr *error) error {
	done := make(chan error, 1)
	go func() {
		done <- visit()
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("colly request canceled: %w", ctx.Err())
	case err := <-done:
		if *fetchErr != nil {
			return fmt.Errorf("colly response failed: %w", *fetchErr)
		}
		if err != nil {
			return fmt.Errorf("colly request failed: %w", err)
		}
		return nil
	}
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
