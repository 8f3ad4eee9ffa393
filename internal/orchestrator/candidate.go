package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/company-profile-crawler/internal/crawler"
	"github.com/JakeFAU/company-profile-crawler/internal/metrics"
	"github.com/JakeFAU/company-profile-crawler/internal/search"
)

var (
	errChallenged = errors.New("profile fetch challenged")
	errNoProfile  = errors.New("page carries no profile")
)

// ProfileEvent is published for every stored profile.
type ProfileEvent struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Keyword      string    `json:"keyword"`
	DiscoveredAt time.Time `json:"discovered_at"`
}

// processCandidate runs dedup, fetch, extract and persist for one hit.
// processed is true once the candidate passed dedup.
func (o *Orchestrator) processCandidate(ctx context.Context, index int, task crawler.InputTask, hit crawler.RawSearchHit) (bool, search.Outcome) {
	logger := o.logger.With(
		zap.Int("task_index", index),
		zap.String("keyword", task.Keyword),
		zap.String("candidate", hit.Key()),
	)
	cutoff := o.deps.Clock.Now().Add(-o.cfg.Interval)
	ok, err := o.deps.Gateway.ShouldProcess(ctx, hit.Key(), cutoff)
	if err != nil {
		logger.Warn("dedup lookup failed", zap.String("phase", "dedup"), zap.Error(err))
		return false, search.Continue
	}
	if !ok {
		return false, search.Continue
	}
	o.update(func(s *Status) { s.Processed++ })

	record, err := o.fetchProfile(ctx, search.ProfilePath(hit))
	switch {
	case errors.Is(err, errChallenged):
		return true, search.Continue
	case errors.Is(err, errNoProfile):
		logger.Info("discarding candidate without profile", zap.String("phase", "extract"))
		metrics.ObserveCandidate("discarded")
		return true, search.Continue
	case err != nil:
		logger.Warn("profile fetch failed", zap.String("phase", "fetch"), zap.Error(err))
		return true, search.Continue
	}
	record.Keyword = task.Keyword
	o.accept(ctx, record, logger)
	return true, search.Continue
}

// fetchProfile downloads and extracts one profile page. Records without an
// id yield errNoProfile.
func (o *Orchestrator) fetchProfile(ctx context.Context, profilePath string) (crawler.ProfileRecord, error) {
	o.deps.Governor.Acquire(ctx, crawler.ClassProfile)
	resp, err := o.deps.Client.Get(ctx, profilePath, nil)
	if err != nil {
		return crawler.ProfileRecord{}, fmt.Errorf("get %s: %w", profilePath, err)
	}
	metrics.ObserveTargetRequest(string(crawler.ClassProfile), resp.StatusCode)
	if o.deps.Governor.ReportResponse(ctx, resp) {
		return crawler.ProfileRecord{}, errChallenged
	}
	if !resp.OK() {
		return crawler.ProfileRecord{}, fmt.Errorf("get %s: status %d", profilePath, resp.StatusCode)
	}
	record, ok, err := o.deps.Extractor.Extract(resp.Body)
	if err != nil {
		return crawler.ProfileRecord{}, fmt.Errorf("extract %s: %w", profilePath, err)
	}
	if !ok || !record.Valid() {
		return crawler.ProfileRecord{}, errNoProfile
	}
	if len(record.Raw) > 0 {
		sum, err := o.deps.Hasher.Hash(record.Raw)
		if err != nil {
			return crawler.ProfileRecord{}, fmt.Errorf("hash %s: %w", profilePath, err)
		}
		record.BlobHash = sum
	}
	record.DiscoveredAt = o.deps.Clock.Now().UTC()
	return record, nil
}

// accept stores, emits and publishes record. Failures are logged.
func (o *Orchestrator) accept(ctx context.Context, record crawler.ProfileRecord, logger *zap.Logger) {
	if err := o.deps.Gateway.Store(ctx, record); err != nil {
		logger.Error("store profile failed", zap.String("phase", "store"), zap.Error(err))
		return
	}
	if err := o.deps.Gateway.Emit(record); err != nil {
		logger.Error("emit profile failed", zap.String("phase", "emit"), zap.Error(err))
	}
	if o.deps.Publisher == nil {
		return
	}
	event := ProfileEvent{
		ID:           record.ID,
		Name:         record.Name,
		Keyword:      record.Keyword,
		DiscoveredAt: record.DiscoveredAt,
	}
	if _, err := o.deps.Publisher.Publish(ctx, o.cfg.Topic, event); err != nil {
		logger.Warn("publish profile event failed", zap.String("phase", "publish"), zap.Error(err))
	}
}

// refreshStale re-fetches every profile older than the interval, in random
// order, overwriting it in place.
func (o *Orchestrator) refreshStale(ctx context.Context, logger *zap.Logger) {
	cutoff := o.deps.Clock.Now().Add(-o.cfg.Interval)
	stale, err := o.deps.Store.ListStale(ctx, cutoff)
	if err != nil {
		logger.Error("list stale profiles failed", zap.String("phase", "refresh"), zap.Error(err))
		return
	}
	o.deps.Shuffle(len(stale), func(i, j int) { stale[i], stale[j] = stale[j], stale[i] })
	logger.Info("refreshing stale profiles", zap.Int("count", len(stale)))

	for i, old := range stale {
		if ctx.Err() != nil {
			return
		}
		recLogger := logger.With(
			zap.Int("refresh_index", i),
			zap.String("id", old.ID),
			zap.String("keyword", old.Keyword),
			zap.String("phase", "refresh"),
		)
		hit := crawler.RawSearchHit{ID: old.ID, Permalink: old.Permalink}
		record, err := o.fetchProfile(ctx, search.ProfilePath(hit))
		if errors.Is(err, errChallenged) {
			continue
		}
		if err != nil {
			recLogger.Warn("refresh fetch failed", zap.Error(err))
			continue
		}
		record.Keyword = old.Keyword
		o.accept(ctx, record, recLogger)
	}
}
