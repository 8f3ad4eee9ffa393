package output

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/company-profile-crawler/internal/crawler"
)

func readAll(t *testing.T, path string) [][]string {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close() //nolint:errcheck
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	return rows
}

func record(id, name string) crawler.ProfileRecord {
	return crawler.ProfileRecord{
		ID:           id,
		Name:         name,
		Keyword:      "fintech",
		Description:  "Banking, but better",
		DiscoveredAt: time.Date(2024, 5, 1, 9, 30, 0, 0, time.UTC),
	}
}

func TestHeaderMatchesRowWidth(t *testing.T) {
	t.Parallel()

	require.Len(t, Row(crawler.ProfileRecord{}), len(Header()))
	require.Equal(t, "date found", Header()[0])
	require.Equal(t, "id", Header()[idColumn])
	require.Contains(t, Header(), "name")
}

func TestAppendWritesHeaderOnceAndQuotes(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "nested", "output.csv")
	surface := NewCSVFile(path)
	require.NoError(t, surface.Append(record("abc-123", "Monzo")))
	require.NoError(t, surface.Append(record("def-456", "Starling")))

	rows := readAll(t, path)
	require.Len(t, rows, 3)
	require.Equal(t, Header(), rows[0])
	require.Equal(t, "2024-05-01 09:30:00", rows[1][0])
	require.Equal(t, "Banking, but better", rows[1][8])

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(raw), `"Banking, but better"`)
	require.Equal(t, 1, strings.Count(string(raw), "date found"))
}

func TestAppendIsIdempotentPerID(t *testing.T) {
	t.Parallel()

	surface := NewCSVFile(filepath.Join(t.TempDir(), "output.csv"))
	require.NoError(t, surface.Append(record("abc-123", "Monzo")))
	require.NoError(t, surface.Append(record("abc-123", "Monzo")))

	n, err := surface.Lines()
	require.NoError(t, err)
	require.Equal(t, 1, n)
}

func TestReplaceSupersedesExistingLine(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "output.csv")
	surface := NewCSVFile(path)
	require.NoError(t, surface.Append(record("abc-123", "Monzo")))
	require.NoError(t, surface.Append(record("def-456", "Starling")))
	require.NoError(t, surface.Replace(record("abc-123", "Monzo Bank")))

	rows := readAll(t, path)
	require.Len(t, rows, 3)
	require.Equal(t, "def-456", rows[1][idColumn])
	require.Equal(t, "abc-123", rows[2][idColumn])
	require.Equal(t, "Monzo Bank", rows[2][3])

	ok, err := surface.Contains("abc-123")
	require.NoError(t, err)
	require.True(t, ok)
}

func TestReplaceAppendsWhenAbsent(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "output.csv")
	surface := NewCSVFile(path)
	require.NoError(t, surface.Replace(record("abc-123", "Monzo")))
	rows := readAll(t, path)
	require.Len(t, rows, 2)
}

func TestRecordsWithoutIDAreRejected(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "output.csv")
	surface := NewCSVFile(path)
	require.Error(t, surface.Append(record("  ", "Ghost")))
	require.Error(t, surface.Replace(record("", "Ghost")))
	_, err := os.Stat(path)
	require.True(t, os.IsNotExist(err))
}

func TestContainsOnMissingFile(t *testing.T) {
	t.Parallel()

	ok, err := NewCSVFile(filepath.Join(t.TempDir(), "none.csv")).Contains("abc-123")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestRotate(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "output.csv")
	surface := NewCSVFile(path)
	require.NoError(t, surface.Rotate(), "rotating a missing file is a no-op")

	require.NoError(t, os.WriteFile(path+RotatedSuffix, []byte("stale"), 0o600))
	require.NoError(t, surface.Append(record("abc-123", "Monzo")))
	require.NoError(t, surface.Rotate())

	_, err := os.Stat(path)
	require.True(t, os.IsNotExist(err))
	rows := readAll(t, path+RotatedSuffix)
	require.Equal(t, "abc-123", rows[1][idColumn])
	require.Equal(t, path, surface.Path())
}
