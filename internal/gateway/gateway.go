// Package gateway filters candidates against known profiles and writes accepted
// records to the durable store and the output surface.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/company-profile-crawler/internal/crawler"
	"github.com/JakeFAU/company-profile-crawler/internal/metrics"
)

// ErrInvalidRecord is returned when a record without an id reaches the gateway.
var ErrInvalidRecord = errors.New("record has no id")

// Option customizes a Gateway.
type Option func(*Gateway)

// WithRecentCache consults cache before the durable store and marks keys for ttl after Store.
func WithRecentCache(cache crawler.RecentCache, ttl time.Duration) Option {
	return func(g *Gateway) {
		g.cache = cache
		g.cacheTTL = ttl
	}
}

// WithRefresh makes Emit replace an existing line instead of leaving it untouched.
func WithRefresh(refresh bool) Option {
	return func(g *Gateway) {
		g.refresh = refresh
	}
}

// Gateway keeps the durable store and the output surface in sync.
type Gateway struct {
	store    crawler.Store
	output   crawler.OutputSurface
	cache    crawler.RecentCache
	cacheTTL time.Duration
	refresh  bool
	logger   *zap.Logger
}

// New builds a Gateway.
func New(store crawler.Store, output crawler.OutputSurface, logger *zap.Logger, opts ...Option) *Gateway {
	if logger == nil {
		logger = zap.NewNop()
	}
	g := &Gateway{
		store:  store,
		output: output,
		logger: logger,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Refresh reports whether the gateway supersedes existing output lines.
func (g *Gateway) Refresh() bool {
	return g.refresh
}

// ShouldProcess returns false when a profile keyed by key was discovered at or
// after cutoff. Cache failures fall through to the durable store.
func (g *Gateway) ShouldProcess(ctx context.Context, key string, cutoff time.Time) (bool, error) {
	if key == "" {
		return false, nil
	}
	if g.cache != nil {
		seen, err := g.cache.Seen(ctx, key)
		switch {
		case err != nil:
			g.logger.Warn("recent cache lookup failed", zap.String("key", key), zap.Error(err))
		case seen:
			g.logger.Debug("skipping recently processed candidate", zap.String("key", key), zap.String("source", "cache"))
			metrics.ObserveCandidate("skipped")
			return false, nil
		}
	}
	fresh, err := g.store.FindFresh(ctx, key, cutoff)
	if err != nil {
		return false, fmt.Errorf("find fresh %q: %w", key, err)
	}
	if fresh {
		g.logger.Debug("skipping recently processed candidate", zap.String("key", key), zap.String("source", "store"))
		metrics.ObserveCandidate("skipped")
		return false, nil
	}
	metrics.ObserveCandidate("accepted")
	return true, nil
}

// Store writes or overwrites the durable row for record.ID.
func (g *Gateway) Store(ctx context.Context, record crawler.ProfileRecord) error {
	if !record.Valid() {
		return ErrInvalidRecord
	}
	if err := g.store.UpsertProfile(ctx, record); err != nil {
		return fmt.Errorf("upsert profile %s: %w", record.ID, err)
	}
	metrics.ObserveProfileStored()
	if g.cache != nil {
		for _, key := range []string{record.ID, record.Permalink} {
			if key == "" {
				continue
			}
			if err := g.cache.Mark(ctx, key, g.cacheTTL); err != nil {
				g.logger.Warn("recent cache mark failed", zap.String("key", key), zap.Error(err))
			}
		}
	}
	return nil
}

// Emit writes record to the output surface. At most one line per id exists
// afterwards; in refresh mode the new values supersede the old line.
func (g *Gateway) Emit(record crawler.ProfileRecord) error {
	if !record.Valid() {
		return ErrInvalidRecord
	}
	present, err := g.output.Contains(record.ID)
	if err != nil {
		return fmt.Errorf("check output for %s: %w", record.ID, err)
	}
	switch {
	case present && g.refresh:
		if err := g.output.Replace(record); err != nil {
			return fmt.Errorf("replace output line %s: %w", record.ID, err)
		}
		metrics.ObserveRecordEmitted("replace")
	case present:
		g.logger.Debug("already in output", zap.String("id", record.ID))
		return nil
	default:
		if err := g.output.Append(record); err != nil {
			return fmt.Errorf("append output line %s: %w", record.ID, err)
		}
		metrics.ObserveRecordEmitted("append")
	}
	g.logger.Info("wrote record", zap.String("id", record.ID), zap.String("name", record.Name), zap.String("path", g.output.Path()))
	return nil
}

// Accept stores record and then emits it.
func (g *Gateway) Accept(ctx context.Context, record crawler.ProfileRecord) error {
	if err := g.Store(ctx, record); err != nil {
		return err
	}
	return g.Emit(record)
}
