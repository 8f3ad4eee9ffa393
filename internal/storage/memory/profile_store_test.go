package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/company-profile-crawler/internal/crawler"
)

func TestFindFreshHonorsCutoff(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	now := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	store := NewProfileStore()
	require.NoError(t, store.UpsertProfile(ctx, crawler.ProfileRecord{
		ID:           "X",
		Permalink:    "monzo",
		DiscoveredAt: now.Add(-2 * time.Hour),
	}))

	fresh, err := store.FindFresh(ctx, "X", now.Add(-24*time.Hour))
	require.NoError(t, err)
	require.True(t, fresh)

	fresh, err = store.FindFresh(ctx, "monzo", now.Add(-24*time.Hour))
	require.NoError(t, err)
	require.True(t, fresh, "permalink lookups match too")

	fresh, err = store.FindFresh(ctx, "X", now.Add(-time.Hour))
	require.NoError(t, err)
	require.False(t, fresh)

	fresh, err = store.FindFresh(ctx, "unknown", time.Time{})
	require.NoError(t, err)
	require.False(t, fresh)
}

func TestUpsertOverwritesAndListStaleOrders(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	base := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	store := NewProfileStore()
	require.NoError(t, store.UpsertProfile(ctx, crawler.ProfileRecord{ID: "b", DiscoveredAt: base.Add(-48 * time.Hour)}))
	require.NoError(t, store.UpsertProfile(ctx, crawler.ProfileRecord{ID: "a", DiscoveredAt: base.Add(-72 * time.Hour)}))
	require.NoError(t, store.UpsertProfile(ctx, crawler.ProfileRecord{ID: "c", DiscoveredAt: base}))
	require.NoError(t, store.UpsertProfile(ctx, crawler.ProfileRecord{ID: "b", Name: "updated", DiscoveredAt: base.Add(-50 * time.Hour)}))
	require.Equal(t, 3, store.Len())

	stale, err := store.ListStale(ctx, base.Add(-24*time.Hour))
	require.NoError(t, err)
	require.Len(t, stale, 2)
	require.Equal(t, "a", stale[0].ID)
	require.Equal(t, "updated", stale[1].Name)

	rec, ok := store.Get("b")
	require.True(t, ok)
	require.Equal(t, "updated", rec.Name)
}

func TestHistory(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewProfileStore()
	_, err := store.LatestHistory(ctx)
	require.ErrorIs(t, err, crawler.ErrNotFound)

	t0 := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, store.InsertHistory(ctx, crawler.HistoryMark{RunID: "2", RunStartedAt: t0, RunCompletedAt: t0.Add(2 * time.Hour)}))
	require.NoError(t, store.InsertHistory(ctx, crawler.HistoryMark{RunID: "1", RunStartedAt: t0, RunCompletedAt: t0.Add(time.Hour)}))

	latest, err := store.LatestHistory(ctx)
	require.NoError(t, err)
	require.Equal(t, "2", latest.RunID)
	store.Close()
}
