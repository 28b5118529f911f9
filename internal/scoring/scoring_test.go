package scoring

import (
	"context"
	"math"
	"testing"

	"github.com/psalt21/signal-scout/internal/store"
)

// TestRank tests the rank formula.
func TestRank(t *testing.T) {
	tests := []struct {
		name         string
		relevance    int
		tagWeights   []float64
		sourceWeight float64
		expected     float64
	}{
		{
			name:         "relevance with tag and source bonuses",
			relevance:    50,
			tagWeights:   []float64{3, -1},
			sourceWeight: 2,
			expected:     54,
		},
		{
			name:         "no tags contributes relevance plus source only",
			relevance:    70,
			tagWeights:   nil,
			sourceWeight: -2,
			expected:     68,
		},
		{
			name:         "unknown tags and source default to zero",
			relevance:    40,
			tagWeights:   []float64{0, 0},
			sourceWeight: 0,
			expected:     40,
		},
		{
			name:         "all negative weights can push below relevance",
			relevance:    10,
			tagWeights:   []float64{-10, -10},
			sourceWeight: -10,
			expected:     -20,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Rank(tt.relevance, tt.tagWeights, tt.sourceWeight)
			if math.Abs(got-tt.expected) > 0.0001 {
				t.Errorf("expected %v, got %v", tt.expected, got)
			}
		})
	}
}

func setupScoredItem(t *testing.T, s store.Store, url string, tags []string, relevance int) int64 {
	t.Helper()
	ctx := context.Background()
	if _, err := s.InsertItem(ctx, store.ItemParams{URL: url, Title: url, Source: "Feed"}); err != nil {
		t.Fatalf("insert: %v", err)
	}
	items, err := s.UnscoredItems(ctx, 100)
	if err != nil {
		t.Fatalf("unscored: %v", err)
	}
	id := items[0].ID
	if err := s.SetSummary(ctx, id, store.SummaryParams{Summary: "s", Tags: tags, Relevance: relevance}); err != nil {
		t.Fatalf("set summary: %v", err)
	}
	return id
}

// TestRecomputeAll_Idempotent verifies that recomputing twice with no
// intervening writes yields identical rank values.
func TestRecomputeAll_Idempotent(t *testing.T) {
	s := store.NewInMemoryStore()
	ctx := context.Background()

	id := setupScoredItem(t, s, "https://example.com/i", []string{"go", "news"}, 60)
	if err := s.RecordFeedback(ctx, id, 1); err != nil {
		t.Fatalf("vote: %v", err)
	}

	engine := NewEngine(s, nil)
	if err := engine.RecomputeAll(ctx); err != nil {
		t.Fatalf("first recompute: %v", err)
	}
	first, err := s.RankedItems(ctx, 10)
	if err != nil {
		t.Fatalf("ranked: %v", err)
	}

	if err := engine.RecomputeAll(ctx); err != nil {
		t.Fatalf("second recompute: %v", err)
	}
	second, err := s.RankedItems(ctx, 10)
	if err != nil {
		t.Fatalf("ranked: %v", err)
	}

	for i := range first {
		if first[i].Rank != second[i].Rank {
			t.Errorf("item %d rank changed without writes: %v -> %v",
				first[i].ID, first[i].Rank, second[i].Rank)
		}
	}
}

// TestRecomputeAll_VoteShiftsRank verifies that one +1 vote on an item
// with one tag moves its rank by exactly 2 (tag +1, source +1).
func TestRecomputeAll_VoteShiftsRank(t *testing.T) {
	s := store.NewInMemoryStore()
	ctx := context.Background()

	id := setupScoredItem(t, s, "https://example.com/v", []string{"t"}, 50)
	engine := NewEngine(s, nil)

	if err := engine.RecomputeAll(ctx); err != nil {
		t.Fatalf("recompute: %v", err)
	}
	before, err := s.RankedItems(ctx, 10)
	if err != nil {
		t.Fatalf("ranked: %v", err)
	}

	if err := s.RecordFeedback(ctx, id, 1); err != nil {
		t.Fatalf("vote: %v", err)
	}
	if err := engine.RecomputeAll(ctx); err != nil {
		t.Fatalf("recompute: %v", err)
	}
	after, err := s.RankedItems(ctx, 10)
	if err != nil {
		t.Fatalf("ranked: %v", err)
	}

	if diff := after[0].Rank - before[0].Rank; diff != 2 {
		t.Errorf("expected rank to increase by exactly 2, got %v", diff)
	}
}

// TestRecomputeAll_SkipsUnscored verifies that unscored items are left
// untouched by the recompute pass.
func TestRecomputeAll_SkipsUnscored(t *testing.T) {
	s := store.NewInMemoryStore()
	ctx := context.Background()

	if _, err := s.InsertItem(ctx, store.ItemParams{URL: "https://example.com/u", Title: "u", Source: "Feed"}); err != nil {
		t.Fatalf("insert: %v", err)
	}

	engine := NewEngine(s, nil)
	if err := engine.RecomputeAll(ctx); err != nil {
		t.Fatalf("recompute: %v", err)
	}

	items, err := s.UnscoredItems(ctx, 10)
	if err != nil {
		t.Fatalf("unscored: %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("expected 1 unscored item, got %d", len(items))
	}
	if items[0].Rank != 50 {
		t.Errorf("unscored item rank should keep its default, got %v", items[0].Rank)
	}
}
