package crawler

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseSearchType(t *testing.T) {
	t.Parallel()

	got, err := ParseSearchType(" Location ")
	require.NoError(t, err)
	require.Equal(t, SearchTypeLocation, got)

	got, err = ParseSearchType("")
	require.NoError(t, err)
	require.Equal(t, SearchTypeCompany, got)

	_, err = ParseSearchType("person")
	require.Error(t, err)
}

func TestRawSearchHitKeyPrefersID(t *testing.T) {
	t.Parallel()

	require.Equal(t, "abc-123", RawSearchHit{ID: "abc-123", Permalink: "monzo"}.Key())
	require.Equal(t, "monzo", RawSearchHit{Permalink: "monzo"}.Key())
}

func TestProfileRecordValid(t *testing.T) {
	t.Parallel()

	require.False(t, ProfileRecord{Name: "Monzo"}.Valid())
	require.False(t, ProfileRecord{ID: "  "}.Valid())
	require.True(t, ProfileRecord{ID: "abc-123"}.Valid())
}

func TestResponseOK(t *testing.T) {
	t.Parallel()

	require.True(t, Response{StatusCode: 200}.OK())
	require.False(t, Response{StatusCode: 403}.OK())
}
