// Package scoring computes rank values for scored items from the
// current preference weights and recomputes them across the whole
// item set.
package scoring

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/psalt21/signal-scout/internal/store"
)

// Rank computes the ordering score for one item:
//
//	rank = relevance + Σ tag weights + source weight
//
// Relevance is the 0-100 estimate assigned at summarization time;
// tag and source weights are the bounded feedback accumulators.
// Deterministic given its inputs.
func Rank(relevance int, tagWeights []float64, sourceWeight float64) float64 {
	rank := float64(relevance) + sourceWeight
	for _, w := range tagWeights {
		rank += w
	}
	return rank
}

// Engine recomputes and persists rank values through the store.
type Engine struct {
	store  store.Store
	logger *slog.Logger
}

// NewEngine creates a scoring engine backed by the given store.
func NewEngine(st store.Store, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{store: st, logger: logger}
}

// RecomputeAll recalculates the rank of every scored item from the
// current weights and persists it. It is a full recompute on every
// trigger, not an incremental delta: cost is linear in scored items
// times average tag count, which is fine at the item counts this
// service holds. Idempotent: calling twice without intervening writes
// yields identical ranks.
func (e *Engine) RecomputeAll(ctx context.Context) error {
	items, err := e.store.ScoredItems(ctx)
	if err != nil {
		return fmt.Errorf("load scored items: %w", err)
	}

	for _, it := range items {
		tagWeights := make([]float64, 0, len(it.Tags))
		for _, tag := range it.Tags {
			w, err := e.store.TagWeight(ctx, tag)
			if err != nil {
				return fmt.Errorf("tag weight %q: %w", tag, err)
			}
			tagWeights = append(tagWeights, w)
		}
		sourceWeight, err := e.store.SourceWeight(ctx, it.Source)
		if err != nil {
			return fmt.Errorf("source weight %q: %w", it.Source, err)
		}

		rank := Rank(it.Relevance, tagWeights, sourceWeight)
		if err := e.store.SetRank(ctx, it.ID, rank); err != nil {
			return fmt.Errorf("set rank for item %d: %w", it.ID, err)
		}
	}

	e.logger.Debug("recomputed ranks", "items", len(items))
	return nil
}
