// Package tasks reads the input keyword list.
package tasks

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/JakeFAU/company-profile-crawler/internal/crawler"
)

const (
	keywordColumn    = "keyword"
	searchTypeColumn = "search type"
)

// ErrNoKeywordColumn is returned when the header row lacks a keyword column.
var ErrNoKeywordColumn = errors.New("input has no keyword column")

// LoadFile reads tasks from a CSV file.
func LoadFile(path string) ([]crawler.InputTask, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open input: %w", err)
	}
	defer f.Close() //nolint:errcheck
	return Read(f)
}

// Read parses a CSV with a header row. Rows keep their input order; rows with
// a blank keyword are skipped and a missing search type means company.
func Read(r io.Reader) ([]crawler.InputTask, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read input header: %w", err)
	}
	keywordIdx, typeIdx := -1, -1
	for i, name := range header {
		switch strings.ToLower(strings.TrimSpace(strings.TrimPrefix(name, "\ufeff"))) {
		case keywordColumn:
			keywordIdx = i
		case searchTypeColumn:
			typeIdx = i
		}
	}
	if keywordIdx < 0 {
		return nil, ErrNoKeywordColumn
	}

	var out []crawler.InputTask
	line := 1
	for {
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		line++
		if err != nil {
			return nil, fmt.Errorf("read input line %d: %w", line, err)
		}
		keyword := cell(row, keywordIdx)
		if keyword == "" {
			continue
		}
		searchType, err := crawler.ParseSearchType(cell(row, typeIdx))
		if err != nil {
			return nil, fmt.Errorf("input line %d: %w", line, err)
		}
		out = append(out, crawler.InputTask{Keyword: keyword, SearchType: searchType})
	}
}

func cell(row []string, idx int) string {
	if idx < 0 || idx >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[idx])
}
