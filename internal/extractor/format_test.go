package extractor

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCompactNumber(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"1500000":       "1.5M",
		"500000000":     "500M",
		"2000":          "2K",
		"1260":          "1.3K",
		"950":           "950",
		"1000000000":    "1B",
		"3200000000000": "3.2T",
		"-2500000":      "-2.5M",
		"":              "",
		"n/a":           "n/a",
	}
	for in, want := range cases {
		require.Equal(t, want, CompactNumber(in), "input %q", in)
	}
}

func TestEmployeeRange(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"c_00011_00050": "11 to 50",
		"c_01001_05000": "1001 to 5000",
		"c_10001_max":   "10001 to max",
		"c_00001_00010": "1 to 10",
		"11_50":         "11 to 50",
		"":              "",
	}
	for in, want := range cases {
		require.Equal(t, want, EmployeeRange(in), "input %q", in)
	}
}
