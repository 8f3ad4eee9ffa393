package crawler

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// SearchType selects how a task keyword is resolved against the target site.
type SearchType string

// Supported search types.
const (
	SearchTypeCompany  SearchType = "company"
	SearchTypeLocation SearchType = "location"
)

// ParseSearchType normalizes a raw search type. Empty input means company.
func ParseSearchType(raw string) (SearchType, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", string(SearchTypeCompany):
		return SearchTypeCompany, nil
	case string(SearchTypeLocation):
		return SearchTypeLocation, nil
	default:
		return "", fmt.Errorf("unknown search type %q", raw)
	}
}

// InputTask is one keyword to discover profiles for.
type InputTask struct {
	Keyword    string
	SearchType SearchType
}

// RawSearchHit is a candidate reference returned by a discovery channel.
// ID is the site UUID when known; search-engine hits only carry a permalink.
type RawSearchHit struct {
	ID        string
	Permalink string
	Name      string
	Rank      int
}

// Key returns the identifier used for dedup lookups.
func (h RawSearchHit) Key() string {
	if h.ID != "" {
		return h.ID
	}
	return h.Permalink
}

// ProfileRecord is the canonical output entity.
type ProfileRecord struct {
	ID           string
	Permalink    string
	Keyword      string
	DiscoveredAt time.Time

	Name              string
	LegalName         string
	City              string
	Region            string
	Country           string
	Description       string
	Website           string
	Email             string
	LinkedIn          string
	Phone             string
	Founded           string
	OperatingStatus   string
	FundingStatus     string
	FundingType       string
	CrunchbaseURL     string
	Rank              string
	Employees         string
	NumberOfEmployees string
	FundingTotal      string
	Currency          string
	FundingRounds     string
	Investors         string
	News              string

	// Raw is the verbatim primary-state blob the fields were mapped from.
	Raw      json.RawMessage
	BlobHash string
}

// Valid reports whether the record may be persisted or emitted.
func (r ProfileRecord) Valid() bool {
	return strings.TrimSpace(r.ID) != ""
}

// HistoryMark records one completed pass over all tasks.
type HistoryMark struct {
	RunID          string    `json:"run_id"`
	RunStartedAt   time.Time `json:"run_started_at"`
	RunCompletedAt time.Time `json:"run_completed_at"`
}

// RequestClass groups requests that share a pacing delay.
type RequestClass string

// Request classes paced by the governor.
const (
	ClassSearch  RequestClass = "search"
	ClassProfile RequestClass = "profile"
)

// Response is the result of one HTTP exchange. Non-2xx statuses are returned
// as responses rather than errors so callers can inspect block signals.
type Response struct {
	URL        string
	StatusCode int
	Headers    http.Header
	Body       []byte
	Duration   time.Duration
}

// OK reports a 2xx status.
func (r Response) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}
