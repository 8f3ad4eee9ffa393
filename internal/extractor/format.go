package extractor

import (
	"strconv"
	"strings"
)

var compactUnits = []struct {
	threshold float64
	suffix    string
}{
	{1e12, "T"},
	{1e9, "B"},
	{1e6, "M"},
	{1e3, "K"},
}

// CompactNumber renders a numeric string with a magnitude suffix, e.g.
// 1500000 becomes 1.5M. Non-numeric input is returned unchanged.
func CompactNumber(raw string) string {
	raw = strings.TrimSpace(raw)
	value, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return raw
	}
	sign := ""
	if value < 0 {
		sign = "-"
		value = -value
	}
	for _, unit := range compactUnits {
		if value >= unit.threshold {
			return sign + trimDecimal(value/unit.threshold) + unit.suffix
		}
	}
	return sign + trimDecimal(value)
}

func trimDecimal(v float64) string {
	s := strconv.FormatFloat(v, 'f', 1, 64)
	return strings.TrimSuffix(s, ".0")
}

// EmployeeRange normalizes an employee-count bucket such as c_00011_00050
// into "11 to 50".
func EmployeeRange(bucket string) string {
	bucket = strings.TrimSpace(bucket)
	if bucket == "" {
		return ""
	}
	bucket = strings.TrimPrefix(bucket, "c_")
	parts := strings.Split(bucket, "_")
	for i, part := range parts {
		trimmed := strings.TrimLeft(part, "0")
		if trimmed == "" && part != "" {
			trimmed = "0"
		}
		parts[i] = trimmed
	}
	return strings.Join(parts, " to ")
}
