// Package proxy rotates outbound proxies and user agents between tasks.
package proxy

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"math/rand/v2"
	"net/url"
	"os"
	"strings"
	"sync"

	"github.com/JakeFAU/company-profile-crawler/internal/crawler"
)

var defaultUserAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:125.0) Gecko/20100101 Firefox/125.0",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 14_4) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.4 Safari/605.1.15",
}

// Getter fetches the remote proxy list.
type Getter interface {
	Get(ctx context.Context, path string, params url.Values) (crawler.Response, error)
}

// Manager handles the rotation of proxies and user agents.
type Manager struct {
	mu         sync.Mutex
	proxies    []string
	userAgents []string
	randomUA   bool
	fallbackUA string
	intn       func(n int) int
}

// Option customizes a Manager.
type Option func(*Manager)

// WithRandomUserAgents makes UserAgent pick from the built-in desktop list.
func WithRandomUserAgents(enabled bool) Option {
	return func(m *Manager) { m.randomUA = enabled }
}

// WithFallbackUserAgent sets the agent returned when randomization is off.
func WithFallbackUserAgent(ua string) Option {
	return func(m *Manager) { m.fallbackUA = ua }
}

// WithIntn overrides the random index source.
func WithIntn(fn func(n int) int) Option {
	return func(m *Manager) { m.intn = fn }
}

// NewManager builds a Manager with no proxies.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		userAgents: append([]string(nil), defaultUserAgents...),
		intn:       rand.IntN,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// LoadFile reads one proxy URL per line; blank lines and # comments are ignored.
func (m *Manager) LoadFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open proxy list: %w", err)
	}
	defer f.Close() //nolint:errcheck

	return m.Load(f)
}

// LoadURL downloads the proxy list through getter.
func (m *Manager) LoadURL(ctx context.Context, getter Getter, rawURL string) error {
	resp, err := getter.Get(ctx, rawURL, nil)
	if err != nil {
		return fmt.Errorf("download proxy list: %w", err)
	}
	if !resp.OK() {
		return fmt.Errorf("download proxy list: unexpected status %d", resp.StatusCode)
	}
	return m.Load(bytes.NewReader(resp.Body))
}

// Load replaces the proxy list with the entries read from r.
func (m *Manager) Load(r io.Reader) error {
	var proxies []string
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if !strings.Contains(line, "://") {
			line = "http://" + line
		}
		u, err := url.Parse(line)
		if err != nil || u.Host == "" {
			return fmt.Errorf("invalid proxy entry %q", line)
		}
		proxies = append(proxies, line)
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read proxy list: %w", err)
	}
	m.mu.Lock()
	m.proxies = proxies
	m.mu.Unlock()
	return nil
}

// Len returns the number of loaded proxies.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.proxies)
}

// Random returns a random proxy URL, or "" for a direct connection.
func (m *Manager) Random() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.proxies) == 0 {
		return ""
	}
	return m.proxies[m.intn(len(m.proxies))]
}

// UserAgent returns a random desktop user agent when randomization is enabled,
// otherwise the fallback agent.
func (m *Manager) UserAgent() string {
	if !m.randomUA || len(m.userAgents) == 0 {
		return m.fallbackUA
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.userAgents[m.intn(len(m.userAgents))]
}

// Assign gives client a fresh proxy and user agent.
func (m *Manager) Assign(client crawler.HTTPClient) error {
	if err := client.SetProxy(m.Random()); err != nil {
		return fmt.Errorf("assign proxy: %w", err)
	}
	client.SetUserAgent(m.UserAgent())
	return nil
}
