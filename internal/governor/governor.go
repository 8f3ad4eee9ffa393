// Package governor paces requests to the target site, enforces the hourly
// request budget, and absorbs anti-bot challenges with a long cooldown.
package governor

import (
	"bytes"
	"context"
	"crypto/rand"
	"math/big"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/JakeFAU/company-profile-crawler/internal/clock/system"
	"github.com/JakeFAU/company-profile-crawler/internal/crawler"
	"github.com/JakeFAU/company-profile-crawler/internal/metrics"
)

const budgetWindow = time.Hour

// Config holds governor tuning.
type Config struct {
	SearchDelay        time.Duration
	ProfileDelay       time.Duration
	MaxRequestsPerHour int
	BudgetMargin       int
	CooldownMin        time.Duration
	CooldownMax        time.Duration
	ProbeRate          float64
	ProbeURL           string
	ChallengeMarkers   []string
}

// Prober issues the out-of-band identity probe. It must bypass the governor.
type Prober interface {
	Get(ctx context.Context, path string, params url.Values) (crawler.Response, error)
}

// Option customizes a Governor.
type Option func(*Governor)

// WithClock overrides the time source.
func WithClock(c crawler.Clock) Option {
	return func(g *Governor) { g.clock = c }
}

// WithSleeper overrides how the governor blocks.
func WithSleeper(s crawler.Sleeper) Option {
	return func(g *Governor) { g.sleeper = s }
}

// WithRandom overrides the [0,1) source that drives probe sampling.
func WithRandom(fn func() float64) Option {
	return func(g *Governor) { g.random = fn }
}

// WithJitter overrides the cooldown jitter source; fn returns a value in [0, limit).
func WithJitter(fn func(limit time.Duration) time.Duration) Option {
	return func(g *Governor) { g.jitter = fn }
}

// WithProber enables the identity probe.
func WithProber(p Prober) Option {
	return func(g *Governor) { g.prober = p }
}

// Governor implements crawler.Governor. A single instance is shared by every
// component that talks to the target site.
type Governor struct {
	cfg     Config
	logger  *zap.Logger
	clock   crawler.Clock
	sleeper crawler.Sleeper
	prober  Prober
	random  func() float64
	jitter  func(limit time.Duration) time.Duration
	markers [][]byte

	mu          sync.Mutex
	limiters    map[crawler.RequestClass]*rate.Limiter
	windowStart time.Time
	used        int
}

// New creates a Governor.
func New(cfg Config, logger *zap.Logger, opts ...Option) *Governor {
	if logger == nil {
		logger = zap.NewNop()
	}
	g := &Governor{
		cfg:    cfg,
		logger: logger,
		random: randomFloat,
		jitter: randomJitter,
		limiters: map[crawler.RequestClass]*rate.Limiter{
			crawler.ClassSearch:  newLimiter(cfg.SearchDelay),
			crawler.ClassProfile: newLimiter(cfg.ProfileDelay),
		},
	}
	for _, marker := range cfg.ChallengeMarkers {
		marker = strings.TrimSpace(marker)
		if marker != "" {
			g.markers = append(g.markers, []byte(strings.ToLower(marker)))
		}
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.clock == nil {
		g.clock = system.New()
	}
	if g.sleeper == nil {
		g.sleeper = system.NewSleeper()
	}
	return g
}

func newLimiter(delay time.Duration) *rate.Limiter {
	if delay <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Every(delay), 1)
}

// Acquire blocks until a request of the given class may be issued.
func (g *Governor) Acquire(ctx context.Context, class crawler.RequestClass) {
	g.maybeProbe(ctx)

	g.mu.Lock()
	defer g.mu.Unlock()

	g.waitForBudget(ctx)

	limiter, ok := g.limiters[class]
	if !ok {
		limiter = newLimiter(0)
		g.limiters[class] = limiter
	}
	now := g.clock.Now()
	reservation := limiter.ReserveN(now, 1)
	if delay := reservation.DelayFrom(now); delay > 0 {
		metrics.ObserveGovernorWait("pacing", delay)
		g.sleeper.Sleep(ctx, delay)
	}
	g.used++
}

// waitForBudget must be called with g.mu held.
func (g *Governor) waitForBudget(ctx context.Context) {
	now := g.clock.Now()
	if g.windowStart.IsZero() || now.Sub(g.windowStart) >= budgetWindow {
		g.windowStart = now
		g.used = 0
	}
	limit := g.cfg.MaxRequestsPerHour - g.cfg.BudgetMargin
	if g.cfg.MaxRequestsPerHour <= 0 || g.used < limit {
		return
	}
	wait := g.windowStart.Add(budgetWindow).Sub(now)
	g.logger.Warn("hourly request budget exhausted",
		zap.Int("used", g.used),
		zap.Int("max_per_hour", g.cfg.MaxRequestsPerHour),
		zap.Duration("wait", wait),
	)
	metrics.ObserveGovernorWait("budget", wait)
	g.sleeper.Sleep(ctx, wait)
	g.windowStart = g.clock.Now()
	g.used = 0
}

// ReportResponse inspects resp for block signals. When one is found it logs,
// waits out a randomized cooldown and returns true.
func (g *Governor) ReportResponse(ctx context.Context, resp crawler.Response) bool {
	reason := g.challengeReason(resp)
	if reason == "" {
		return false
	}
	cooldown := g.cooldown()
	g.logger.Warn("challenge detected, cooling down",
		zap.String("url", resp.URL),
		zap.Int("status", resp.StatusCode),
		zap.String("reason", reason),
		zap.Duration("cooldown", cooldown),
	)
	metrics.ObserveChallenge()
	metrics.ObserveGovernorWait("cooldown", cooldown)
	g.sleeper.Sleep(ctx, cooldown)
	return true
}

func (g *Governor) challengeReason(resp crawler.Response) string {
	switch resp.StatusCode {
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusTooManyRequests:
		return "rate_limited"
	}
	if len(resp.Body) == 0 || len(g.markers) == 0 {
		return ""
	}
	lower := bytes.ToLower(resp.Body)
	for _, marker := range g.markers {
		if bytes.Contains(lower, marker) {
			return "marker:" + string(marker)
		}
	}
	return ""
}

func (g *Governor) cooldown() time.Duration {
	minWait, maxWait := g.cfg.CooldownMin, g.cfg.CooldownMax
	if maxWait <= minWait {
		return minWait
	}
	return minWait + g.jitter(maxWait-minWait)
}

func (g *Governor) maybeProbe(ctx context.Context) {
	if g.prober == nil || g.cfg.ProbeURL == "" || g.cfg.ProbeRate <= 0 {
		return
	}
	if g.random() >= g.cfg.ProbeRate {
		return
	}
	resp, err := g.prober.Get(ctx, g.cfg.ProbeURL, nil)
	if err != nil {
		g.logger.Debug("identity probe failed", zap.Error(err))
		return
	}
	g.logger.Info("identity probe",
		zap.Int("status", resp.StatusCode),
		zap.ByteString("body", bytes.TrimSpace(resp.Body)),
	)
}

func randomJitter(limit time.Duration) time.Duration {
	if limit <= 0 {
		return 0
	}
	n, err := rand.Int(rand.Reader, big.NewInt(int64(limit)))
	if err != nil {
		return limit / 2
	}
	return time.Duration(n.Int64())
}

func randomFloat() float64 {
	const precision = 1 << 53
	n, err := rand.Int(rand.Reader, big.NewInt(precision))
	if err != nil {
		return 1
	}
	return float64(n.Int64()) / precision
}
