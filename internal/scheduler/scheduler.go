// Package scheduler drives the crawl: repeated passes over the query list,
// per-item skip filtering, content fetch, key extraction and validation,
// and durable progress tracking.
package scheduler

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/scanforge/keysweep/internal/checkpoint"
	"github.com/scanforge/keysweep/internal/clock"
	"github.com/scanforge/keysweep/internal/github"
	"github.com/scanforge/keysweep/internal/journal"
	"github.com/scanforge/keysweep/internal/keys"
	"github.com/scanforge/keysweep/internal/metrics"
	"github.com/scanforge/keysweep/internal/pace"
)

// Fetch delay bounds. Content fetches are paced like a polite crawler.
const (
	fetchDelayMin = 1 * time.Second
	fetchDelayMax = 4 * time.Second

	queryBreak = 1 * time.Second
)

// Searcher is the code-search surface the scheduler drives.
type Searcher interface {
	Search(ctx context.Context, query string) (github.Result, error)
	FetchContent(ctx context.Context, item github.Item) (string, bool)
}

// Validator classifies one candidate key.
type Validator interface {
	Validate(ctx context.Context, apiKey string) keys.Outcome
}

// Enqueuer accepts keys for downstream delivery.
type Enqueuer interface {
	AddKeys(keys []string) error
}

// Config carries the scheduler's pacing and filtering knobs.
type Config struct {
	// MaxAge drops items whose repository has not been pushed within it.
	MaxAge          time.Duration
	BlacklistTokens []string
	// CheckpointEvery is the mid-query progress cadence, in items.
	CheckpointEvery int
	QueryBreakEvery int
	LoopSleep       time.Duration
	// ResetQueriesPerPass clears processed_queries after each completed
	// pass so the next pass re-runs the full query list.
	ResetQueriesPerPass bool
}

// Scheduler owns the crawl loop.
type Scheduler struct {
	cfg       Config
	search    Searcher
	validator Validator
	store     *checkpoint.Store
	journal   *journal.Journal
	queue     Enqueuer
	clk       clock.Clock
	sleeper   pace.Sleeper
	logger    *zap.Logger

	totalValid       int
	totalRateLimited int
}

// New wires a scheduler from its collaborators.
func New(cfg Config, search Searcher, validator Validator, store *checkpoint.Store, jr *journal.Journal, queue Enqueuer, clk clock.Clock, sleeper pace.Sleeper, logger *zap.Logger) *Scheduler {
	if cfg.CheckpointEvery <= 0 {
		cfg.CheckpointEvery = 20
	}
	if cfg.QueryBreakEvery <= 0 {
		cfg.QueryBreakEvery = 5
	}
	if cfg.LoopSleep <= 0 {
		cfg.LoopSleep = 10 * time.Second
	}
	if sleeper == nil {
		sleeper = pace.TimerSleeper{}
	}
	return &Scheduler{
		cfg:       cfg,
		search:    search,
		validator: validator,
		store:     store,
		journal:   jr,
		queue:     queue,
		clk:       clk,
		sleeper:   sleeper,
		logger:    logger,
	}
}

// Run crawls until the context ends, then saves one final checkpoint.
func (s *Scheduler) Run(ctx context.Context) error {
	queries, err := s.journal.LoadQueries()
	if err != nil {
		return err
	}
	s.logStartup(len(queries))

	for pass := 1; ; pass++ {
		s.logger.Info("pass starting", zap.Int("pass", pass))

		processedFiles := s.runPass(ctx, queries)

		if ctx.Err() != nil {
			s.finalSave()
			s.logger.Info("scheduler stopped",
				zap.Int("total_valid", s.totalValid),
				zap.Int("total_rate_limited", s.totalRateLimited),
			)
			return nil
		}

		metrics.ObservePassCompleted()
		s.logger.Info("pass complete",
			zap.Int("pass", pass),
			zap.Int("processed_files", processedFiles),
			zap.Int("total_valid", s.totalValid),
			zap.Int("total_rate_limited", s.totalRateLimited),
		)

		if s.cfg.ResetQueriesPerPass {
			if err := s.store.Update(func(cp *checkpoint.Checkpoint) {
				cp.ResetProcessedQueries()
			}); err != nil {
				s.logger.Error("resetting processed queries failed", zap.Error(err))
			}
		}

		s.sleeper.Pause(ctx, s.cfg.LoopSleep)
	}
}

// runPass iterates the query list once and returns the number of items it
// fully processed. Per-query failures are logged, never fatal.
func (s *Scheduler) runPass(ctx context.Context, queries []string) int {
	skips := make(map[string]int)
	processedFiles := 0

	for i, query := range queries {
		if ctx.Err() != nil {
			return processedFiles
		}

		normalized := keys.NormalizeQuery(query)
		var alreadyDone bool
		s.store.View(func(cp *checkpoint.Checkpoint) {
			alreadyDone = cp.IsProcessed(normalized)
		})
		if alreadyDone {
			s.logger.Info("skipping already processed query",
				zap.String("query", query),
				zap.Int("index", i+1),
			)
			continue
		}

		result, err := s.search.Search(ctx, query)
		if err != nil {
			if ctx.Err() != nil {
				return processedFiles
			}
			s.logger.Warn("query failed",
				zap.String("query", query),
				zap.Error(err),
			)
		} else {
			processedFiles += s.processItems(ctx, query, result.Items, skips)
			if ctx.Err() != nil {
				// Interrupted mid-query. The query stays unprocessed so a
				// restart picks it up again.
				return processedFiles
			}
		}

		if err := s.store.Update(func(cp *checkpoint.Checkpoint) {
			cp.MarkProcessed(normalized)
			cp.LastScanTime = s.clk.Now()
		}); err != nil {
			s.logger.Error("checkpoint save failed", zap.Error(err))
		}

		if (i+1)%s.cfg.QueryBreakEvery == 0 {
			s.logger.Info("taking a break between queries", zap.Int("done", i+1))
			s.sleeper.Pause(ctx, queryBreak)
		}
	}

	s.logSkipStats(skips)
	return processedFiles
}

// processItems filters and processes one query's results.
func (s *Scheduler) processItems(ctx context.Context, query string, items []github.Item, skips map[string]int) int {
	processed := 0
	queryValid := 0
	queryRateLimited := 0

	for idx, item := range items {
		if ctx.Err() != nil {
			return processed
		}

		if (idx+1)%s.cfg.CheckpointEvery == 0 {
			s.logger.Info("query progress",
				zap.String("query", query),
				zap.Int("item", idx+1),
				zap.Int("of", len(items)),
				zap.Int("valid", queryValid),
				zap.Int("rate_limited", queryRateLimited),
			)
		}

		if reason := s.skipReason(item); reason != "" {
			skips[reason]++
			metrics.ObserveSkip(reason)
			continue
		}

		valid, rateLimited, completed := s.processItem(ctx, item)
		queryValid += valid
		queryRateLimited += rateLimited
		s.totalValid += valid
		s.totalRateLimited += rateLimited
		if !completed {
			// Interrupted mid-item. Leaving the SHA unmarked lets a
			// restart revalidate every candidate in this file.
			return processed
		}
		processed++

		if err := s.store.Update(func(cp *checkpoint.Checkpoint) {
			cp.MarkScanned(item.SHA)
		}); err != nil {
			s.logger.Error("marking sha scanned failed", zap.Error(err))
		}
		metrics.ObserveItemProcessed()
	}

	if processed > 0 {
		s.logger.Info("query complete",
			zap.String("query", query),
			zap.Int("processed", processed),
			zap.Int("valid", queryValid),
			zap.Int("rate_limited", queryRateLimited),
		)
	} else {
		s.logger.Info("query complete, all items skipped", zap.String("query", query))
	}
	return processed
}

// skipReason applies the item filters in their fixed order and returns the
// first matching reason, or "" when the item should be processed. Skipped
// items are never marked scanned.
func (s *Scheduler) skipReason(item github.Item) string {
	var lastScan time.Time
	var scanned bool
	s.store.View(func(cp *checkpoint.Checkpoint) {
		lastScan = cp.LastScanTime
		scanned = cp.IsScanned(item.SHA)
	})

	if !lastScan.IsZero() && !item.PushedAt.IsZero() && !item.PushedAt.After(lastScan) {
		return "time_filter"
	}
	if scanned {
		return "sha_duplicate"
	}
	if s.cfg.MaxAge > 0 && !item.PushedAt.IsZero() && item.PushedAt.Before(s.clk.Now().Add(-s.cfg.MaxAge)) {
		return "age_filter"
	}
	lowered := strings.ToLower(item.Path)
	for _, token := range s.cfg.BlacklistTokens {
		if strings.Contains(lowered, token) {
			return "doc_filter"
		}
	}
	return ""
}

// processItem fetches one file, extracts candidates and validates them.
// Returns how many keys came back valid and rate-limited, and whether the
// item ran to completion. A false completed means the context ended before
// every candidate was validated; the caller must not mark the SHA scanned.
func (s *Scheduler) processItem(ctx context.Context, item github.Item) (int, int, bool) {
	s.sleeper.Pause(ctx, pace.Between(fetchDelayMin, fetchDelayMax))

	content, ok := s.search.FetchContent(ctx, item)
	if !ok {
		if ctx.Err() != nil {
			return 0, 0, false
		}
		s.logger.Warn("no content for item", zap.String("url", item.HTMLURL))
		return 0, 0, true
	}

	candidates := keys.Extract(content)
	if len(candidates) == 0 {
		return 0, 0, true
	}
	s.logger.Info("found suspected keys",
		zap.Int("count", len(candidates)),
		zap.String("repo", item.RepoFullName),
		zap.String("path", item.Path),
	)

	var valid, rateLimited, deliverable []string
	completed := true
	for _, candidate := range candidates {
		if ctx.Err() != nil {
			completed = false
			break
		}
		outcome := s.validator.Validate(ctx, candidate)
		metrics.ObserveKeyOutcome(outcome.String())

		switch outcome.Kind {
		case keys.KindValid:
			valid = append(valid, candidate)
			s.logger.Info("valid key", zap.String("key", candidate))
		case keys.KindRateLimited:
			rateLimited = append(rateLimited, candidate)
			s.logger.Warn("rate limited key", zap.String("key", candidate))
		default:
			s.logger.Info("dead key", zap.String("outcome", outcome.String()))
		}
		if outcome.Deliverable() {
			deliverable = append(deliverable, candidate)
		}
	}

	finding := journal.Finding{
		RepoName: item.RepoFullName,
		FilePath: item.Path,
		FileURL:  item.HTMLURL,
	}
	if len(valid) > 0 {
		finding.Keys = valid
		if err := s.journal.SaveValidKeys(finding); err != nil {
			s.logger.Error("saving valid keys failed", zap.Error(err))
		}
	}
	if len(rateLimited) > 0 {
		finding.Keys = rateLimited
		if err := s.journal.SaveRateLimitedKeys(finding); err != nil {
			s.logger.Error("saving rate limited keys failed", zap.Error(err))
		}
	}
	if len(deliverable) > 0 {
		if err := s.queue.AddKeys(deliverable); err != nil {
			s.logger.Error("queueing keys for delivery failed", zap.Error(err))
		}
	}

	return len(valid), len(rateLimited), completed
}

func (s *Scheduler) finalSave() {
	if err := s.store.Update(func(cp *checkpoint.Checkpoint) {
		cp.LastScanTime = s.clk.Now()
	}); err != nil {
		s.logger.Error("final checkpoint save failed", zap.Error(err))
	}
}

func (s *Scheduler) logStartup(queryCount int) {
	snapshot := s.store.Snapshot()
	mode := "full"
	if !snapshot.LastScanTime.IsZero() {
		mode = "incremental"
	}
	s.logger.Info("scheduler ready",
		zap.String("scan_mode", mode),
		zap.Int("queries", queryCount),
		zap.Int("scanned_shas", len(snapshot.ScannedSHAs)),
		zap.Int("processed_queries", len(snapshot.ProcessedQueries)),
		zap.Int("balancer_queue", len(snapshot.WaitSendBalancer)),
		zap.Int("gpt_load_queue", len(snapshot.WaitSendGPTLoad)),
	)
}

func (s *Scheduler) logSkipStats(skips map[string]int) {
	total := 0
	for _, n := range skips {
		total += n
	}
	if total == 0 {
		return
	}
	s.logger.Info("skip summary",
		zap.Int("total", total),
		zap.Int("time_filter", skips["time_filter"]),
		zap.Int("sha_duplicate", skips["sha_duplicate"]),
		zap.Int("age_filter", skips["age_filter"]),
		zap.Int("doc_filter", skips["doc_filter"]),
	)
}
