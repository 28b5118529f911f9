// Package refresh sequences the ingest, summarize, and rescore pipeline
// behind a single-flight guard.
package refresh

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/psalt21/signal-scout/internal/collector"
	"github.com/psalt21/signal-scout/internal/jobs"
	"github.com/psalt21/signal-scout/internal/store"
	"github.com/psalt21/signal-scout/internal/summarizer"
)

// DefaultBatchLimit is the maximum number of unscored items handed to
// the summarizer per cycle.
const DefaultBatchLimit = 30

// maxErrorStatusLen bounds how much of an error message reaches the
// user-visible status string.
const maxErrorStatusLen = 45

// Collector supplies candidate items from the configured feeds.
// Per-feed failures are the collector's to absorb; it never errors.
type Collector interface {
	Collect(ctx context.Context, feeds []collector.Feed, maxAge time.Duration) []collector.Item
}

// Summarizer scores a batch of items, one result per input.
type Summarizer interface {
	Summarize(ctx context.Context, items []summarizer.Input, topic string, keywords []string, apiKey string) []summarizer.Result
}

// Rescorer recomputes every scored item's rank.
type Rescorer interface {
	RecomputeAll(ctx context.Context) error
}

// Config carries the orchestrator's refresh parameters. Feeds and
// Keywords can be swapped at runtime via UpdateFeeds when the config
// file changes.
type Config struct {
	Feeds      []collector.Feed
	Topic      string
	Keywords   []string
	MaxItemAge time.Duration
	BatchLimit int

	// APIKey is the out-of-process credential. When empty, the
	// persisted setting is consulted as a fallback.
	APIKey string

	Logger  *slog.Logger
	Metrics *jobs.Metrics
}

// Orchestrator runs the refresh pipeline: collect feeds, insert new
// items, summarize the unscored batch, recompute ranks, publish a
// status line. At most one refresh runs at a time; triggers that
// arrive while one is running are dropped, not queued.
type Orchestrator struct {
	store      store.Store
	collector  Collector
	summarizer Summarizer
	rescorer   Rescorer
	logger     *slog.Logger
	metrics    *jobs.Metrics

	// Single-flight guard. Compare-and-swap, so two triggers cannot
	// both observe "not refreshing" and proceed.
	refreshing atomic.Bool

	cfgMu      sync.RWMutex
	feeds      []collector.Feed
	topic      string
	keywords   []string
	maxItemAge time.Duration
	batchLimit int
	apiKey     string

	statusMu    sync.RWMutex
	status      string
	lastRefresh time.Time
}

// New creates a refresh orchestrator.
func New(st store.Store, col Collector, sum Summarizer, res Rescorer, cfg Config) *Orchestrator {
	if cfg.BatchLimit <= 0 {
		cfg.BatchLimit = DefaultBatchLimit
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Orchestrator{
		store:      st,
		collector:  col,
		summarizer: sum,
		rescorer:   res,
		logger:     cfg.Logger,
		metrics:    cfg.Metrics,
		feeds:      cfg.Feeds,
		topic:      cfg.Topic,
		keywords:   cfg.Keywords,
		maxItemAge: cfg.MaxItemAge,
		batchLimit: cfg.BatchLimit,
		apiKey:     cfg.APIKey,
		status:     "Not yet refreshed",
	}
}

// UpdateFeeds swaps the feed list and keyword set used by subsequent
// cycles. A cycle already in flight keeps the snapshot it started with.
func (o *Orchestrator) UpdateFeeds(feeds []collector.Feed, keywords []string) {
	o.cfgMu.Lock()
	defer o.cfgMu.Unlock()
	o.feeds = feeds
	o.keywords = keywords
}

// Status returns the current status line and the time of the last
// completed refresh (zero if none has completed yet).
func (o *Orchestrator) Status() (string, time.Time) {
	o.statusMu.RLock()
	defer o.statusMu.RUnlock()
	return o.status, o.lastRefresh
}

// Refreshing reports whether a cycle is currently in flight.
func (o *Orchestrator) Refreshing() bool {
	return o.refreshing.Load()
}

func (o *Orchestrator) setStatus(s string) {
	o.statusMu.Lock()
	o.status = s
	o.statusMu.Unlock()
}

// Refresh runs one full cycle. Returns false without doing anything
// when another cycle is already running. The guard is released
// unconditionally, on error paths included.
func (o *Orchestrator) Refresh(ctx context.Context) bool {
	if !o.refreshing.CompareAndSwap(false, true) {
		o.logger.Debug("refresh already running, trigger dropped")
		if o.metrics != nil {
			o.metrics.IncJobsTotal(jobs.JobTypeRefresh, jobs.StatusDropped)
		}
		return false
	}
	defer o.refreshing.Store(false)

	start := time.Now()
	o.setStatus("Refreshing…")
	o.logger.Info("refresh started")

	err := o.runCycle(ctx)

	duration := time.Since(start).Seconds()
	if o.metrics != nil {
		o.metrics.ObserveJobDuration(jobs.JobTypeRefresh, duration)
	}

	if err != nil {
		o.logger.Error("refresh failed", "error", err)
		msg := err.Error()
		// Truncate on a rune boundary; a byte slice could split a
		// multibyte character in the status string.
		if r := []rune(msg); len(r) > maxErrorStatusLen {
			msg = string(r[:maxErrorStatusLen])
		}
		o.setStatus("Refresh failed – " + msg)
		if o.metrics != nil {
			o.metrics.IncJobsTotal(jobs.JobTypeRefresh, jobs.StatusFailure)
			o.metrics.IncJobErrors(jobs.JobTypeRefresh, "pipeline_error")
		}
		return true
	}

	if o.metrics != nil {
		o.metrics.IncJobsTotal(jobs.JobTypeRefresh, jobs.StatusSuccess)
	}
	return true
}

// runCycle executes ingest, summarize, and rescore in order. Any error
// from the store or the rescorer aborts the remaining steps of this
// cycle only.
func (o *Orchestrator) runCycle(ctx context.Context) error {
	o.cfgMu.RLock()
	feeds := o.feeds
	topic := o.topic
	keywords := o.keywords
	maxAge := o.maxItemAge
	batchLimit := o.batchLimit
	o.cfgMu.RUnlock()

	// 1. Collect. Per-feed failures were already absorbed inside the
	// collector.
	candidates := o.collector.Collect(ctx, feeds, maxAge)
	newCount := 0
	for _, c := range candidates {
		inserted, err := o.store.InsertItem(ctx, store.ItemParams{
			URL:       c.URL,
			Title:     c.Title,
			Source:    c.Source,
			Published: c.Published,
			Snippet:   c.Snippet,
		})
		if err != nil {
			return fmt.Errorf("insert item: %w", err)
		}
		if inserted {
			newCount++
		}
	}
	o.logger.Info("fetched items", "fetched", len(candidates), "new", newCount)

	// 2. Summarize the unscored batch, newest first.
	apiKey, err := o.resolveAPIKey(ctx)
	if err != nil {
		return fmt.Errorf("resolve credential: %w", err)
	}
	batch, err := o.store.UnscoredItems(ctx, batchLimit)
	if err != nil {
		return fmt.Errorf("load unscored batch: %w", err)
	}
	if len(batch) > 0 {
		inputs := make([]summarizer.Input, 0, len(batch))
		for _, it := range batch {
			inputs = append(inputs, summarizer.Input{
				ID:      it.ID,
				Title:   it.Title,
				Source:  it.Source,
				Snippet: it.Snippet,
			})
		}
		results := o.summarizer.Summarize(ctx, inputs, topic, keywords, apiKey)
		for _, r := range results {
			err := o.store.SetSummary(ctx, r.ID, store.SummaryParams{
				Summary:   r.Summary,
				Rationale: r.Rationale,
				Tags:      r.Tags,
				Relevance: r.Relevance,
			})
			if err != nil {
				return fmt.Errorf("persist summary for item %d: %w", r.ID, err)
			}
		}
		o.logger.Info("summarized items", "count", len(results))
	}

	// 3. Rescore everything.
	if err := o.rescorer.RecomputeAll(ctx); err != nil {
		return fmt.Errorf("recompute ranks: %w", err)
	}

	// 4. Publish status.
	total, err := o.store.ItemCount(ctx)
	if err != nil {
		return fmt.Errorf("count items: %w", err)
	}
	now := time.Now()
	status := fmt.Sprintf("Updated %s · %d items", now.Format("15:04"), total)
	if apiKey == "" {
		status += " · no-key mode"
	}

	o.statusMu.Lock()
	o.status = status
	o.lastRefresh = now
	o.statusMu.Unlock()

	o.logger.Info("refresh complete", "total_items", total, "no_key_mode", apiKey == "")
	return nil
}

// resolveAPIKey returns the credential: the out-of-process value wins,
// the persisted setting is the fallback. The value is never logged.
func (o *Orchestrator) resolveAPIKey(ctx context.Context) (string, error) {
	o.cfgMu.RLock()
	key := o.apiKey
	o.cfgMu.RUnlock()
	if key != "" {
		return key, nil
	}
	return o.store.GetSetting(ctx, store.SettingLLMAPIKey)
}
