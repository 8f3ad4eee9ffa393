// Package search drives the discovery channels for one task: the secondary
// search engine, target-site autocomplete, and rank-partitioned location
// search with cursor pagination.
package search

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/company-profile-crawler/internal/crawler"
	"github.com/JakeFAU/company-profile-crawler/internal/discovery"
	"github.com/JakeFAU/company-profile-crawler/internal/metrics"
)

// Processor handles one candidate. processed reports whether the candidate
// counted towards the task's result limit (dedup skips do not).
type Processor interface {
	Process(ctx context.Context, task crawler.InputTask, hit crawler.RawSearchHit) (processed bool, outcome Outcome)
}

// ProcessorFunc adapts a function to Processor.
type ProcessorFunc func(ctx context.Context, task crawler.InputTask, hit crawler.RawSearchHit) (bool, Outcome)

// Process calls f.
func (f ProcessorFunc) Process(ctx context.Context, task crawler.InputTask, hit crawler.RawSearchHit) (bool, Outcome) {
	return f(ctx, task, hit)
}

// Config tunes pagination and partitioning.
type Config struct {
	// ResultLimit caps processed candidates per task; non-positive means unlimited.
	ResultLimit    int
	FilterStep     int
	MaxFilterValue int
	PageLimit      int
	PageSize       int
	// RefreshOnly replaces rank partitioning with one founded-since query.
	RefreshOnly       bool
	NewCompaniesSince time.Time
	// UseSecondaryEngine enables the discovery channel for company tasks.
	UseSecondaryEngine  bool
	SecondaryMaxResults int
}

// Searcher runs the discovery channels for a task.
type Searcher struct {
	cfg       Config
	client    crawler.HTTPClient
	governor  crawler.Governor
	discovery crawler.DiscoveryClient
	logger    *zap.Logger
}

// New builds a Searcher. discovery may be nil.
func New(cfg Config, client crawler.HTTPClient, governor crawler.Governor, disc crawler.DiscoveryClient, logger *zap.Logger) *Searcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = 50
	}
	return &Searcher{cfg: cfg, client: client, governor: governor, discovery: disc, logger: logger}
}

// ProfilePath returns the target-site path of a profile page, preferring the
// permalink over the uuid.
func ProfilePath(hit crawler.RawSearchHit) string {
	if hit.Permalink != "" {
		return fmt.Sprintf(profilePathFmt, hit.Permalink)
	}
	return fmt.Sprintf(profilePathFmt, hit.ID)
}

// Run discovers candidates for task and hands them to proc. Company tasks try
// the secondary engine first and fall back to autocomplete; location tasks
// sweep every rank partition.
func (s *Searcher) Run(ctx context.Context, state CrawlState, task crawler.InputTask, proc Processor) (CrawlState, error) {
	if task.SearchType == crawler.SearchTypeLocation {
		return s.Location(ctx, state, task, proc)
	}
	state, outcome := s.Secondary(ctx, state, task, proc)
	if outcome == StopTask {
		return state, nil
	}
	return s.Company(ctx, state, task, proc)
}

// Secondary queries the search engine and processes at most one candidate.
// It returns StopTask once a candidate was handed to proc and StopChannel
// when the channel is disabled, blocked or empty.
func (s *Searcher) Secondary(ctx context.Context, state CrawlState, task crawler.InputTask, proc Processor) (CrawlState, Outcome) {
	if s.discovery == nil || !s.cfg.UseSecondaryEngine {
		return state, StopChannel
	}
	logger := s.taskLogger(state, task, "secondary_search")

	s.governor.Acquire(ctx, crawler.ClassSearch)
	urls, err := s.discovery.Search(ctx, s.discovery.Query(task.Keyword), s.cfg.SecondaryMaxResults)
	if err != nil {
		logger.Warn("secondary search failed", zap.Error(err))
		return state, StopChannel
	}
	if s.discovery.Blocked() {
		logger.Warn("secondary search blocked, falling back to site search")
		return state, StopChannel
	}
	for _, raw := range urls {
		permalink, ok := discovery.Permalink(raw)
		if !ok {
			continue
		}
		logger.Info("secondary search hit", zap.String("permalink", permalink))
		state, _ = s.handle(ctx, state, task, crawler.RawSearchHit{Permalink: permalink}, proc)
		return state, StopTask
	}
	logger.Info("no secondary search results")
	return state, StopChannel
}

// Company resolves the keyword with autocomplete and processes the first
// organization hit.
func (s *Searcher) Company(ctx context.Context, state CrawlState, task crawler.InputTask, proc Processor) (CrawlState, error) {
	hits, outcome, err := s.autocomplete(ctx, state, task, collectionOrganizations)
	if err != nil || outcome != Continue {
		return state, err
	}
	if len(hits) == 0 {
		s.taskLogger(state, task, "autocomplete").Info("no autocomplete results")
		return state, nil
	}
	state, _ = s.handle(ctx, state, task, hits[0], proc)
	return state, nil
}

// Location resolves the keyword to a location and sweeps every partition.
func (s *Searcher) Location(ctx context.Context, state CrawlState, task crawler.InputTask, proc Processor) (CrawlState, error) {
	logger := s.taskLogger(state, task, "location")
	hits, outcome, err := s.autocomplete(ctx, state, task, collectionLocations)
	if err != nil || outcome != Continue {
		return state, err
	}
	if len(hits) == 0 || hits[0].ID == "" {
		logger.Info("location not found")
		return state, nil
	}
	locationID := hits[0].ID

	var since time.Time
	partitions := Partitions(s.cfg.MaxFilterValue, s.cfg.FilterStep)
	if s.cfg.RefreshOnly {
		since = s.cfg.NewCompaniesSince
		partitions = []Partition{{Min: 0, Max: s.cfg.MaxFilterValue - 1}}
	}
	for i, p := range partitions {
		state = state.enterPartition(i, len(partitions), p)
		logger.Info("searching partition",
			zap.Int("filter_index", i+1),
			zap.Int("total_partitions", len(partitions)),
			zap.Int("min_rank", p.Min),
			zap.Int("max_rank", p.Max),
		)
		var outcome Outcome
		state, outcome = s.Partition(ctx, state, task, locationID, since, proc)
		if outcome == StopTask {
			return state, nil
		}
		if ctx.Err() != nil {
			return state, ctx.Err()
		}
	}
	return state, nil
}

// Partition pages through the current partition until it is exhausted. It
// returns StopTask when the task must end and Continue otherwise.
func (s *Searcher) Partition(ctx context.Context, state CrawlState, task crawler.InputTask, locationID string, since time.Time, proc Processor) (CrawlState, Outcome) {
	for {
		var outcome Outcome
		state, outcome = s.Page(ctx, state, task, locationID, since, proc)
		switch outcome {
		case StopTask:
			return state, StopTask
		case StopChannel:
			return state, Continue
		}
		if ctx.Err() != nil {
			return state, StopTask
		}
	}
}

// Page fetches and processes one page of the current partition. It returns
// Continue when another page should be fetched, StopChannel when the
// partition is exhausted or abandoned, and StopTask when the task must end.
func (s *Searcher) Page(ctx context.Context, state CrawlState, task crawler.InputTask, locationID string, since time.Time, proc Processor) (CrawlState, Outcome) {
	logger := s.taskLogger(state, task, "paginate").With(
		zap.Int("filter_index", state.FilterIndex),
		zap.Int("page", state.PageIndex),
	)
	if s.cfg.PageLimit > 0 && state.PageIndex >= s.cfg.PageLimit {
		logger.Warn("page limit reached", zap.Int("page_limit", s.cfg.PageLimit))
		state.Cursor = ""
		return state, StopChannel
	}

	body := newOrganizationQuery(locationID, state, since, s.cfg.PageSize)
	s.governor.Acquire(ctx, crawler.ClassSearch)
	resp, err := s.client.Post(ctx, organizationPath, body)
	if err != nil {
		logger.Warn("search page failed", zap.Error(err))
		return state, StopChannel
	}
	metrics.ObserveTargetRequest(string(crawler.ClassSearch), resp.StatusCode)
	if s.governor.ReportResponse(ctx, resp) {
		return state, StopChannel
	}
	if !resp.OK() {
		logger.Warn("search page returned error status", zap.Int("status", resp.StatusCode))
		return state, StopChannel
	}
	var page organizationResponse
	if err := json.Unmarshal(resp.Body, &page); err != nil {
		logger.Warn("malformed search page", zap.Error(err))
		return state, StopChannel
	}
	state.ReportedTotal = page.Count
	if len(page.Entities) == 0 {
		logger.Debug("partition exhausted", zap.Int("seen", state.PartitionSeen))
		state.Cursor = ""
		return state, StopChannel
	}
	logger.Info("search page", zap.Int("entities", len(page.Entities)), zap.Int("count", page.Count))

	cursor := state.Cursor
	for _, entity := range page.Entities {
		id := entity.UUID
		if id == "" {
			id = entity.Properties.Identifier.UUID
		}
		hit := crawler.RawSearchHit{
			ID:        id,
			Permalink: entity.Properties.Identifier.Permalink,
			Name:      entity.Properties.Identifier.Value,
			Rank:      entity.Properties.Rank,
		}
		state.PartitionSeen++
		if hit.ID == "" && hit.Permalink == "" {
			logger.Debug("entity without identifier skipped", zap.String("name", hit.Name))
		} else {
			var outcome Outcome
			state, outcome = s.handle(ctx, state, task, hit, proc)
			if outcome != Continue {
				return state, outcome
			}
		}
		if state.ReportedTotal > 0 && state.PartitionSeen >= state.ReportedTotal {
			logger.Info("seen every reported result", zap.Int("count", state.ReportedTotal))
			state.Cursor = ""
			return state, StopChannel
		}
		if id != "" {
			state.Cursor = id
		}
	}
	if state.Cursor == cursor {
		// Requesting again with the same after_id would return this page.
		logger.Warn("page has no entity to continue from", zap.Int("entities", len(page.Entities)))
		state.Cursor = ""
		return state, StopChannel
	}
	state.PageIndex++
	return state, Continue
}

// handle passes hit to proc and enforces the task's result limit.
func (s *Searcher) handle(ctx context.Context, state CrawlState, task crawler.InputTask, hit crawler.RawSearchHit, proc Processor) (CrawlState, Outcome) {
	processed, outcome := proc.Process(ctx, task, hit)
	if processed {
		state.ResultsSeen++
	}
	if s.cfg.ResultLimit > 0 && state.ResultsSeen >= s.cfg.ResultLimit {
		s.taskLogger(state, task, "result_limit").Info("result limit reached",
			zap.Int("limit", s.cfg.ResultLimit))
		state.Cursor = ""
		return state, StopTask
	}
	return state, outcome
}

// autocomplete returns the hits for keyword in collection. A challenge yields
// StopTask so the caller abandons the task.
func (s *Searcher) autocomplete(ctx context.Context, state CrawlState, task crawler.InputTask, collection string) ([]crawler.RawSearchHit, Outcome, error) {
	s.governor.Acquire(ctx, crawler.ClassSearch)
	resp, err := s.client.Get(ctx, autocompletePath, autocompleteParams(task.Keyword, collection))
	if err != nil {
		return nil, StopTask, fmt.Errorf("autocomplete %q: %w", task.Keyword, err)
	}
	metrics.ObserveTargetRequest(string(crawler.ClassSearch), resp.StatusCode)
	if s.governor.ReportResponse(ctx, resp) {
		return nil, StopTask, nil
	}
	if !resp.OK() {
		return nil, StopTask, fmt.Errorf("autocomplete %q: status %d", task.Keyword, resp.StatusCode)
	}
	var body autocompleteResponse
	if err := json.Unmarshal(resp.Body, &body); err != nil {
		return nil, StopTask, fmt.Errorf("decode autocomplete %q: %w", task.Keyword, err)
	}
	hits := make([]crawler.RawSearchHit, 0, len(body.Entities))
	for _, e := range body.Entities {
		if e.Identifier.UUID == "" && e.Identifier.Permalink == "" {
			continue
		}
		hits = append(hits, crawler.RawSearchHit{
			ID:        e.Identifier.UUID,
			Permalink: e.Identifier.Permalink,
			Name:      e.Identifier.Value,
		})
	}
	s.taskLogger(state, task, "autocomplete").Debug("autocomplete results",
		zap.String("collection", collection), zap.Int("hits", len(hits)))
	return hits, Continue, nil
}

func (s *Searcher) taskLogger(state CrawlState, task crawler.InputTask, phase string) *zap.Logger {
	return s.logger.With(
		zap.Int("task_index", state.TaskIndex),
		zap.String("keyword", task.Keyword),
		zap.String("phase", phase),
	)
}
