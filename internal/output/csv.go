// Package output maintains the delimited output surface: one header line,
// then at most one line per profile id.
package output

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/JakeFAU/company-profile-crawler/internal/crawler"
)

// TimeLayout formats the "date found" column.
const TimeLayout = "2006-01-02 15:04:05"

// RotatedSuffix is appended to the surface when it is rotated away.
const RotatedSuffix = ".old"

type column struct {
	header string
	value  func(crawler.ProfileRecord) string
}

var columns = []column{
	{"date found", func(r crawler.ProfileRecord) string {
		if r.DiscoveredAt.IsZero() {
			return ""
		}
		return r.DiscoveredAt.UTC().Format(TimeLayout)
	}},
	{"id", func(r crawler.ProfileRecord) string { return r.ID }},
	{"keyword", func(r crawler.ProfileRecord) string { return r.Keyword }},
	{"name", func(r crawler.ProfileRecord) string { return r.Name }},
	{"legal name", func(r crawler.ProfileRecord) string { return r.LegalName }},
	{"city", func(r crawler.ProfileRecord) string { return r.City }},
	{"region", func(r crawler.ProfileRecord) string { return r.Region }},
	{"country", func(r crawler.ProfileRecord) string { return r.Country }},
	{"description", func(r crawler.ProfileRecord) string { return r.Description }},
	{"website", func(r crawler.ProfileRecord) string { return r.Website }},
	{"email", func(r crawler.ProfileRecord) string { return r.Email }},
	{"linkedin", func(r crawler.ProfileRecord) string { return r.LinkedIn }},
	{"phone", func(r crawler.ProfileRecord) string { return r.Phone }},
	{"founded", func(r crawler.ProfileRecord) string { return r.Founded }},
	{"operating status", func(r crawler.ProfileRecord) string { return r.OperatingStatus }},
	{"funding status", func(r crawler.ProfileRecord) string { return r.FundingStatus }},
	{"funding type", func(r crawler.ProfileRecord) string { return r.FundingType }},
	{"crunchbase url", func(r crawler.ProfileRecord) string { return r.CrunchbaseURL }},
	{"rank", func(r crawler.ProfileRecord) string { return r.Rank }},
	{"employees", func(r crawler.ProfileRecord) string { return r.Employees }},
	{"number of employees", func(r crawler.ProfileRecord) string { return r.NumberOfEmployees }},
	{"funding total", func(r crawler.ProfileRecord) string { return r.FundingTotal }},
	{"currency", func(r crawler.ProfileRecord) string { return r.Currency }},
	{"funding rounds", func(r crawler.ProfileRecord) string { return r.FundingRounds }},
	{"investors", func(r crawler.ProfileRecord) string { return r.Investors }},
	{"news", func(r crawler.ProfileRecord) string { return r.News }},
}

const idColumn = 1

// Header returns the column names in output order.
func Header() []string {
	out := make([]string, len(columns))
	for i, c := range columns {
		out[i] = c.header
	}
	return out
}

// Row renders record in column order.
func Row(record crawler.ProfileRecord) []string {
	out := make([]string, len(columns))
	for i, c := range columns {
		out[i] = c.value(record)
	}
	return out
}

// CSVFile implements crawler.OutputSurface on a local CSV file.
type CSVFile struct {
	mu   sync.Mutex
	path string
}

// NewCSVFile returns a surface backed by path. The file is created lazily.
func NewCSVFile(path string) *CSVFile {
	return &CSVFile{path: path}
}

// Path returns the file location.
func (f *CSVFile) Path() string {
	return f.path
}

// Contains reports whether a line for id exists.
func (f *CSVFile) Contains(id string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	found := false
	err := f.scan(func(row []string) bool {
		if len(row) > idColumn && row[idColumn] == id {
			found = true
			return false
		}
		return true
	})
	return found, err
}

// Append writes record as a new line, writing the header first when the file
// does not exist yet. A record whose id is already present is not appended.
func (f *CSVFile) Append(record crawler.ProfileRecord) error {
	if !record.Valid() {
		return fmt.Errorf("append record: %w", errMissingID)
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	present := false
	if err := f.scan(func(row []string) bool {
		if len(row) > idColumn && row[idColumn] == record.ID {
			present = true
			return false
		}
		return true
	}); err != nil {
		return err
	}
	if present {
		return nil
	}
	return f.appendRows([][]string{Row(record)})
}

// Replace removes every line for record.ID, then appends record.
func (f *CSVFile) Replace(record crawler.ProfileRecord) error {
	if !record.Valid() {
		return fmt.Errorf("replace record: %w", errMissingID)
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	var kept [][]string
	removed := 0
	if err := f.scan(func(row []string) bool {
		if len(row) > idColumn && row[idColumn] == record.ID {
			removed++
			return true
		}
		kept = append(kept, row)
		return true
	}); err != nil {
		return err
	}
	if removed == 0 {
		return f.appendRows([][]string{Row(record)})
	}
	kept = append(kept, Row(record))
	return f.rewrite(kept)
}

// Rotate moves the existing file to the .old sidecar, discarding a previous sidecar.
func (f *CSVFile) Rotate() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, err := os.Stat(f.path); errors.Is(err, fs.ErrNotExist) {
		return nil
	} else if err != nil {
		return fmt.Errorf("stat output: %w", err)
	}
	rotated := f.path + RotatedSuffix
	if err := os.Remove(rotated); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove rotated output: %w", err)
	}
	if err := os.Rename(f.path, rotated); err != nil {
		return fmt.Errorf("rotate output: %w", err)
	}
	return nil
}

// Lines returns the number of data lines, excluding the header.
func (f *CSVFile) Lines() (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	n := 0
	err := f.scan(func([]string) bool {
		n++
		return true
	})
	return n, err
}

var errMissingID = errors.New("record has no id")

// scan visits every data row; visit returns false to stop early.
func (f *CSVFile) scan(visit func(row []string) bool) error {
	file, err := os.Open(f.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("open output: %w", err)
	}
	defer file.Close() //nolint:errcheck

	reader := csv.NewReader(file)
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true
	header := true
	for {
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read output: %w", err)
		}
		if header {
			header = false
			continue
		}
		if !visit(row) {
			return nil
		}
	}
}

func (f *CSVFile) appendRows(rows [][]string) error {
	if err := os.MkdirAll(filepath.Dir(f.path), 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}
	file, err := os.OpenFile(f.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open output: %w", err)
	}
	info, err := file.Stat()
	if err != nil {
		_ = file.Close()
		return fmt.Errorf("stat output: %w", err)
	}
	w := csv.NewWriter(file)
	if info.Size() == 0 {
		if err := w.Write(Header()); err != nil {
			_ = file.Close()
			return fmt.Errorf("write header: %w", err)
		}
	}
	if err := w.WriteAll(rows); err != nil {
		_ = file.Close()
		return fmt.Errorf("write output: %w", err)
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("close output: %w", err)
	}
	return nil
}

func (f *CSVFile) rewrite(rows [][]string) error {
	tmp, err := os.CreateTemp(filepath.Dir(f.path), filepath.Base(f.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp output: %w", err)
	}
	w := csv.NewWriter(tmp)
	writeErr := w.Write(Header())
	if writeErr == nil {
		writeErr = w.WriteAll(rows)
	}
	if writeErr != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("write output: %w", writeErr)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("close temp output: %w", err)
	}
	if err := os.Rename(tmp.Name(), f.path); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("replace output: %w", err)
	}
	return nil
}
