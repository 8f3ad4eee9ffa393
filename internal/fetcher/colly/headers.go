package collyfetcher

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
)

// skippedHeaders are never replayed: the transport computes them per request.
var skippedHeaders = map[string]struct{}{
	"content-length":  {},
	"content-type":    {},
	"host":            {},
	"accept-encoding": {},
	"connection":      {},
}

type harFile struct {
	Log struct {
		Entries []struct {
			Request struct {
				URL     string `json:"url"`
				Headers []struct {
					Name  string `json:"name"`
					Value string `json:"value"`
				} `json:"headers"`
			} `json:"request"`
		} `json:"entries"`
	} `json:"log"`
}

type headerEntry struct {
	host    string
	path    string
	headers http.Header
}

// HeaderSet holds request headers captured from real browser traffic, keyed by host and URL path.
type HeaderSet struct {
	entries []headerEntry
}

// LoadHeaders reads a HAR capture from disk.
func LoadHeaders(path string) (*HeaderSet, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open headers file: %w", err)
	}
	defer f.Close() //nolint:errcheck

	return ParseHAR(f)
}

// ParseHAR decodes a HAR document into a HeaderSet.
func ParseHAR(r io.Reader) (*HeaderSet, error) {
	var har harFile
	if err := json.NewDecoder(r).Decode(&har); err != nil {
		return nil, fmt.Errorf("decode har: %w", err)
	}
	set := &HeaderSet{}
	for _, entry := range har.Log.Entries {
		u, err := url.Parse(entry.Request.URL)
		if err != nil {
			continue
		}
		hdr := http.Header{}
		for _, h := range entry.Request.Headers {
			name := strings.TrimSpace(h.Name)
			if name == "" || strings.HasPrefix(name, ":") {
				continue
			}
			if _, skip := skippedHeaders[strings.ToLower(name)]; skip {
				continue
			}
			hdr.Add(name, h.Value)
		}
		path := u.Path
		if path == "" {
			path = "/"
		}
		set.entries = append(set.entries, headerEntry{host: strings.ToLower(u.Host), path: path, headers: hdr})
	}
	return set, nil
}

// Len returns the number of captured requests.
func (s *HeaderSet) Len() int {
	if s == nil {
		return 0
	}
	return len(s.entries)
}

// For returns a copy of the headers whose captured path is the longest prefix
// of path, falling back to the first captured request.
func (s *HeaderSet) For(path string) http.Header {
	if s == nil || len(s.entries) == 0 {
		return http.Header{}
	}
	best := s.match("", path)
	if best == -1 {
		best = 0
	}
	return s.entries[best].headers.Clone()
}

// ForHost is like For but only considers requests captured against host and
// has no fallback: an unknown host gets no replayed headers.
func (s *HeaderSet) ForHost(host, path string) http.Header {
	if s == nil || host == "" {
		return http.Header{}
	}
	best := s.match(strings.ToLower(host), path)
	if best == -1 {
		return http.Header{}
	}
	return s.entries[best].headers.Clone()
}

func (s *HeaderSet) match(host, path string) int {
	best := -1
	for i, entry := range s.entries {
		if host != "" && entry.host != host {
			continue
		}
		if !strings.HasPrefix(path, entry.path) {
			continue
		}
		if best == -1 || len(entry.path) > len(s.entries[best].path) {
			best = i
		}
	}
	return best
}
