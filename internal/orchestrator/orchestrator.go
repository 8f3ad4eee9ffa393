// Package orchestrator runs the crawl state machine: prepare the output,
// optionally refresh stale profiles, search every input task, record the
// completed run and wait for the next one.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"math/rand/v2"
	"os"
	"path"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/company-profile-crawler/internal/crawler"
	"github.com/JakeFAU/company-profile-crawler/internal/metrics"
	"github.com/JakeFAU/company-profile-crawler/internal/search"
)

// Searcher discovers candidates for one task.
type Searcher interface {
	Run(ctx context.Context, state search.CrawlState, task crawler.InputTask, proc search.Processor) (search.CrawlState, error)
}

// Extractor maps a profile page into a record.
type Extractor interface {
	Extract(body []byte) (crawler.ProfileRecord, bool, error)
}

// Gateway filters candidates and persists accepted records.
type Gateway interface {
	ShouldProcess(ctx context.Context, key string, cutoff time.Time) (bool, error)
	Store(ctx context.Context, record crawler.ProfileRecord) error
	Emit(record crawler.ProfileRecord) error
}

// ProxyAssigner sets a fresh proxy and user agent on a client.
type ProxyAssigner interface {
	Assign(client crawler.HTTPClient) error
}

// Config controls scheduling and run behavior.
type Config struct {
	// Interval is the minimum time between completed runs; it is also the
	// freshness window for already-known profiles.
	Interval time.Duration
	// Margin is added to Interval when scheduling the next run.
	Margin time.Duration
	// Repeat keeps the outer loop running; false is one-shot mode.
	Repeat bool
	// Resume keeps an existing output file; false rotates it aside.
	Resume bool
	// Refresh re-fetches stale profiles before searching.
	Refresh bool
	// Debug bypasses the completed-run guard.
	Debug bool
	// ExportPrefix is the blob path prefix for the post-run export.
	ExportPrefix string
	// Topic labels published profile events.
	Topic string
}

// Deps are the collaborators of an Orchestrator. Proxies, Blobs and
// Publisher are optional.
type Deps struct {
	Tasks     []crawler.InputTask
	Searcher  Searcher
	Client    crawler.HTTPClient
	Governor  crawler.Governor
	Extractor Extractor
	Gateway   Gateway
	Store     crawler.Store
	Output    crawler.OutputSurface
	Proxies   ProxyAssigner
	Blobs     crawler.BlobStore
	Publisher crawler.Publisher
	Hasher    crawler.Hasher
	Clock     crawler.Clock
	Sleeper   crawler.Sleeper
	IDs       crawler.IDGenerator
	// Shuffle orders the refresh sweep; defaults to math/rand/v2.Shuffle.
	Shuffle func(n int, swap func(i, j int))
}

// Orchestrator is the top-level crawl loop. It is single-threaded; only
// Status may be called concurrently.
type Orchestrator struct {
	cfg    Config
	deps   Deps
	logger *zap.Logger

	mu     sync.RWMutex
	status Status
}

// New validates deps and builds an Orchestrator.
func New(cfg Config, deps Deps, logger *zap.Logger) (*Orchestrator, error) {
	switch {
	case deps.Searcher == nil:
		return nil, errors.New("orchestrator requires a searcher")
	case deps.Client == nil:
		return nil, errors.New("orchestrator requires an http client")
	case deps.Governor == nil:
		return nil, errors.New("orchestrator requires a governor")
	case deps.Extractor == nil:
		return nil, errors.New("orchestrator requires an extractor")
	case deps.Gateway == nil:
		return nil, errors.New("orchestrator requires a gateway")
	case deps.Store == nil:
		return nil, errors.New("orchestrator requires a store")
	case deps.Output == nil:
		return nil, errors.New("orchestrator requires an output surface")
	case deps.Hasher == nil || deps.Clock == nil || deps.Sleeper == nil || deps.IDs == nil:
		return nil, errors.New("orchestrator requires hasher, clock, sleeper and id generator")
	}
	if deps.Shuffle == nil {
		deps.Shuffle = rand.Shuffle
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Topic == "" {
		cfg.Topic = "profile.stored"
	}
	return &Orchestrator{
		cfg:    cfg,
		deps:   deps,
		logger: logger,
		status: Status{Phase: PhaseIdle, TaskTotal: len(deps.Tasks)},
	}, nil
}

// RunRepeatedly runs until ctx is canceled, or once when Repeat is false.
// Only setup errors and cancellation end the loop early.
func (o *Orchestrator) RunRepeatedly(ctx context.Context) error {
	for {
		anchor, err := o.RunOnce(ctx)
		if err != nil {
			metrics.ObserveRun("failed")
			return err
		}
		if !o.cfg.Repeat {
			o.logger.Info("one-shot mode, not scheduling another run")
			return nil
		}
		if err := o.waitForNextRun(ctx, anchor); err != nil {
			return err
		}
	}
}

// RunOnce executes one pass over every task unless a run completed within
// the interval. It returns the instant the next run is scheduled from.
func (o *Orchestrator) RunOnce(ctx context.Context) (time.Time, error) {
	runStarted := o.deps.Clock.Now()

	if !o.cfg.Debug {
		done, last, err := o.IsDone(ctx, runStarted)
		if err != nil {
			return time.Time{}, err
		}
		if done {
			o.logger.Info("previous run is recent, skipping",
				zap.Time("last_completed", last.RunCompletedAt),
				zap.Duration("interval", o.cfg.Interval),
			)
			metrics.ObserveRun("skipped")
			return last.RunCompletedAt, nil
		}
	}

	runID, err := o.deps.IDs.NewID()
	if err != nil {
		return time.Time{}, fmt.Errorf("generate run id: %w", err)
	}
	logger := o.logger.With(zap.String("run_id", runID))
	o.update(func(s *Status) {
		s.RunID = runID
		s.RunStartedAt = runStarted
		s.TaskIndex = 0
		s.Keyword = ""
		s.Processed = 0
		s.TaskFailures = 0
		s.NextRunAt = time.Time{}
	})

	o.setPhase(PhasePreparing)
	if err := o.prepare(); err != nil {
		return time.Time{}, err
	}
	if o.cfg.Refresh {
		o.setPhase(PhaseRefreshing)
		o.refreshStale(ctx, logger)
	}

	o.setPhase(PhaseSearching)
	for i, task := range o.deps.Tasks {
		if ctx.Err() != nil {
			return time.Time{}, ctx.Err()
		}
		o.update(func(s *Status) {
			s.TaskIndex = i + 1
			s.Keyword = task.Keyword
		})
		logger.Info("processing task",
			zap.Int("task_index", i),
			zap.Int("task_total", len(o.deps.Tasks)),
			zap.String("keyword", task.Keyword),
			zap.String("search_type", string(task.SearchType)),
		)
		if err := o.runTask(ctx, i, task); err != nil {
			if ctx.Err() != nil {
				return time.Time{}, ctx.Err()
			}
			logger.Error("task failed",
				zap.Int("task_index", i),
				zap.String("keyword", task.Keyword),
				zap.String("phase", "search"),
				zap.Error(err),
			)
			metrics.ObserveTaskFailure()
			o.update(func(s *Status) { s.TaskFailures++ })
		}
	}

	mark := crawler.HistoryMark{
		RunID:          runID,
		RunStartedAt:   runStarted,
		RunCompletedAt: o.deps.Clock.Now(),
	}
	if err := o.deps.Store.InsertHistory(ctx, mark); err != nil {
		logger.Error("record completed run failed", zap.Error(err))
	}
	o.update(func(s *Status) {
		s.Phase = PhaseCompleted
		s.LastRun = &mark
	})
	metrics.ObserveRun("completed")
	logger.Info("run completed", zap.Duration("elapsed", mark.RunCompletedAt.Sub(runStarted)))

	o.export(ctx, runStarted, logger)
	return runStarted, nil
}

// IsDone reports whether the latest completed run is younger than the interval.
func (o *Orchestrator) IsDone(ctx context.Context, now time.Time) (bool, crawler.HistoryMark, error) {
	last, err := o.deps.Store.LatestHistory(ctx)
	if errors.Is(err, crawler.ErrNotFound) {
		return false, crawler.HistoryMark{}, nil
	}
	if err != nil {
		return false, crawler.HistoryMark{}, fmt.Errorf("latest history: %w", err)
	}
	o.update(func(s *Status) { s.LastRun = &last })
	return now.Sub(last.RunCompletedAt) < o.cfg.Interval, last, nil
}

// runTask searches one task. A panic is converted to an error so the
// remaining tasks still run.
func (o *Orchestrator) runTask(ctx context.Context, index int, task crawler.InputTask) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task panicked: %v", r)
		}
	}()
	if o.deps.Proxies != nil {
		if err := o.deps.Proxies.Assign(o.deps.Client); err != nil {
			o.logger.Warn("proxy assignment failed", zap.Int("task_index", index), zap.Error(err))
		}
	}
	proc := search.ProcessorFunc(func(ctx context.Context, task crawler.InputTask, hit crawler.RawSearchHit) (bool, search.Outcome) {
		return o.processCandidate(ctx, index, task, hit)
	})
	_, err = o.deps.Searcher.Run(ctx, search.NewState(index), task, proc)
	return err
}

// prepare creates the output directory and rotates the previous output
// when not resuming.
func (o *Orchestrator) prepare() error {
	dir := filepath.Dir(o.deps.Output.Path())
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}
	if o.cfg.Resume {
		return nil
	}
	if err := o.deps.Output.Rotate(); err != nil {
		return fmt.Errorf("rotate output: %w", err)
	}
	o.logger.Info("rotated previous output", zap.String("path", o.deps.Output.Path()))
	return nil
}

func (o *Orchestrator) waitForNextRun(ctx context.Context, anchor time.Time) error {
	next := anchor.Add(o.cfg.Interval + o.cfg.Margin)
	wait := next.Sub(o.deps.Clock.Now())
	o.update(func(s *Status) {
		s.Phase = PhaseWaiting
		s.NextRunAt = next
	})
	o.logger.Info("waiting for next run", zap.Time("next_run_at", next), zap.Duration("wait", wait))
	if wait > 0 {
		o.deps.Sleeper.Sleep(ctx, wait)
	}
	return ctx.Err()
}

// export copies the output file to the blob store under
// <prefix>/<YYYY-MM-DD>/<basename>.
func (o *Orchestrator) export(ctx context.Context, runStarted time.Time, logger *zap.Logger) {
	if o.deps.Blobs == nil {
		return
	}
	f, err := os.Open(o.deps.Output.Path())
	if errors.Is(err, fs.ErrNotExist) {
		logger.Info("no output to export")
		return
	}
	if err != nil {
		logger.Warn("open output for export failed", zap.Error(err))
		return
	}
	defer f.Close() //nolint:errcheck

	key := path.Join(o.cfg.ExportPrefix, runStarted.UTC().Format(time.DateOnly), filepath.Base(o.deps.Output.Path()))
	uri, err := o.deps.Blobs.PutObject(ctx, key, "text/csv; charset=utf-8", f)
	if err != nil {
		logger.Warn("export output failed", zap.String("key", key), zap.Error(err))
		return
	}
	logger.Info("exported output", zap.String("uri", uri))
}
