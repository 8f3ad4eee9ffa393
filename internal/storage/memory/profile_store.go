// Package memory provides in-memory stores for development and tests.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/JakeFAU/company-profile-crawler/internal/crawler"
)

// ProfileStore implements crawler.Store in memory.
type ProfileStore struct {
	mu       sync.RWMutex
	profiles map[string]crawler.ProfileRecord
	history  []crawler.HistoryMark
}

// NewProfileStore creates an empty store.
func NewProfileStore() *ProfileStore {
	return &ProfileStore{profiles: make(map[string]crawler.ProfileRecord)}
}

// FindFresh reports whether a profile keyed by id or permalink was discovered at or after since.
func (s *ProfileStore) FindFresh(_ context.Context, key string, since time.Time) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if rec, ok := s.profiles[key]; ok {
		return !rec.DiscoveredAt.Before(since), nil
	}
	for _, rec := range s.profiles {
		if rec.Permalink != "" && rec.Permalink == key && !rec.DiscoveredAt.Before(since) {
			return true, nil
		}
	}
	return false, nil
}

// UpsertProfile writes or overwrites the row for record.ID.
func (s *ProfileStore) UpsertProfile(_ context.Context, record crawler.ProfileRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	record.Raw = append([]byte(nil), record.Raw...)
	s.profiles[record.ID] = record
	return nil
}

// ListStale returns profiles discovered before the cutoff, oldest first.
func (s *ProfileStore) ListStale(_ context.Context, before time.Time) ([]crawler.ProfileRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []crawler.ProfileRecord
	for _, rec := range s.profiles {
		if rec.DiscoveredAt.Before(before) {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].DiscoveredAt.Equal(out[j].DiscoveredAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].DiscoveredAt.Before(out[j].DiscoveredAt)
	})
	return out, nil
}

// Get returns the stored profile for id.
func (s *ProfileStore) Get(id string) (crawler.ProfileRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.profiles[id]
	return rec, ok
}

// Len returns the number of stored profiles.
func (s *ProfileStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.profiles)
}

// InsertHistory records a completed run.
func (s *ProfileStore) InsertHistory(_ context.Context, mark crawler.HistoryMark) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = append(s.history, mark)
	return nil
}

// LatestHistory returns the run with the latest completion time.
func (s *ProfileStore) LatestHistory(_ context.Context) (crawler.HistoryMark, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.history) == 0 {
		return crawler.HistoryMark{}, crawler.ErrNotFound
	}
	latest := s.history[0]
	for _, mark := range s.history[1:] {
		if mark.RunCompletedAt.After(latest.RunCompletedAt) {
			latest = mark
		}
	}
	return latest, nil
}

// Close is a no-op.
func (s *ProfileStore) Close() {}
