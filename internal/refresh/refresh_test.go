package refresh

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/psalt21/signal-scout/internal/collector"
	"github.com/psalt21/signal-scout/internal/scoring"
	"github.com/psalt21/signal-scout/internal/store"
	"github.com/psalt21/signal-scout/internal/summarizer"
)

// fakeCollector returns a fixed set of items, optionally blocking
// until released so tests can hold a cycle open.
type fakeCollector struct {
	items   []collector.Item
	block   chan struct{}
	started chan struct{}
}

func (f *fakeCollector) Collect(ctx context.Context, feeds []collector.Feed, maxAge time.Duration) []collector.Item {
	if f.started != nil {
		close(f.started)
	}
	if f.block != nil {
		<-f.block
	}
	return f.items
}

// fakeSummarizer scores every input with a fixed relevance and no tags.
type fakeSummarizer struct {
	relevance int
	calls     int
}

func (f *fakeSummarizer) Summarize(ctx context.Context, items []summarizer.Input, topic string, keywords []string, apiKey string) []summarizer.Result {
	f.calls++
	results := make([]summarizer.Result, 0, len(items))
	for _, it := range items {
		results = append(results, summarizer.Result{
			ID:        it.ID,
			Summary:   "summary of " + it.Title,
			Rationale: "because",
			Relevance: f.relevance,
		})
	}
	return results
}

type failingRescorer struct{ err error }

func (f *failingRescorer) RecomputeAll(ctx context.Context) error { return f.err }

func newTestOrchestrator(st store.Store, col Collector, sum Summarizer, res Rescorer) *Orchestrator {
	return New(st, col, sum, res, Config{
		Feeds:      []collector.Feed{{Name: "Test", URL: "https://example.com/feed"}},
		Topic:      "testing",
		Keywords:   []string{"x"},
		MaxItemAge: 7 * 24 * time.Hour,
	})
}

// TestRefresh_FullCycle runs collect → summarize → rescore and checks
// the resulting store state and status line.
func TestRefresh_FullCycle(t *testing.T) {
	st := store.NewInMemoryStore()
	col := &fakeCollector{items: []collector.Item{
		{Title: "one", URL: "https://example.com/1", Source: "Test", Published: time.Now()},
		{Title: "two", URL: "https://example.com/2", Source: "Test", Published: time.Now()},
	}}
	sum := &fakeSummarizer{relevance: 70}
	o := newTestOrchestrator(st, col, sum, scoring.NewEngine(st, nil))

	if ran := o.Refresh(context.Background()); !ran {
		t.Fatal("refresh should have run")
	}

	items, err := st.RankedItems(context.Background(), 10)
	if err != nil {
		t.Fatalf("ranked items: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("expected 2 scored items, got %d", len(items))
	}
	for _, it := range items {
		if it.Rank != 70 {
			t.Errorf("item %d rank: expected 70, got %v", it.ID, it.Rank)
		}
	}

	status, last := o.Status()
	if !strings.HasPrefix(status, "Updated ") {
		t.Errorf("unexpected status %q", status)
	}
	if !strings.Contains(status, "2 items") {
		t.Errorf("status should report total item count, got %q", status)
	}
	if !strings.Contains(status, "no-key mode") {
		t.Errorf("status should flag missing credential, got %q", status)
	}
	if last.IsZero() {
		t.Error("last refresh time should be set")
	}
	if o.Refreshing() {
		t.Error("guard should be released after the cycle")
	}
}

// TestRefresh_SingleFlight triggers a second refresh while the first
// is blocked inside the collector; the second must be dropped.
func TestRefresh_SingleFlight(t *testing.T) {
	st := store.NewInMemoryStore()
	col := &fakeCollector{
		block:   make(chan struct{}),
		started: make(chan struct{}),
	}
	sum := &fakeSummarizer{relevance: 50}
	o := newTestOrchestrator(st, col, sum, scoring.NewEngine(st, nil))

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if ran := o.Refresh(context.Background()); !ran {
			t.Error("first refresh should have run")
		}
	}()

	<-col.started
	if !o.Refreshing() {
		t.Error("orchestrator should report refreshing while a cycle is held open")
	}
	if ran := o.Refresh(context.Background()); ran {
		t.Error("second trigger during a running cycle should be dropped")
	}

	close(col.block)
	wg.Wait()

	// With the cycle finished a new trigger runs again.
	col.block = nil
	col.started = nil
	if ran := o.Refresh(context.Background()); !ran {
		t.Error("refresh after completion should run")
	}
}

// TestRefresh_ErrorPublishesTruncatedStatus verifies a pipeline error
// aborts the cycle, surfaces a truncated status, and releases the guard.
func TestRefresh_ErrorPublishesTruncatedStatus(t *testing.T) {
	st := store.NewInMemoryStore()
	col := &fakeCollector{items: []collector.Item{
		{Title: "one", URL: "https://example.com/1", Source: "Test", Published: time.Now()},
	}}
	sum := &fakeSummarizer{relevance: 50}
	longErr := errors.New(strings.Repeat("database exploded in a very verbose way ", 4))
	o := newTestOrchestrator(st, col, sum, &failingRescorer{err: longErr})

	if ran := o.Refresh(context.Background()); !ran {
		t.Fatal("refresh should have run (and failed)")
	}

	status, last := o.Status()
	if !strings.HasPrefix(status, "Refresh failed – ") {
		t.Errorf("unexpected status %q", status)
	}
	if got := len(strings.TrimPrefix(status, "Refresh failed – ")); got > 45 {
		t.Errorf("error portion of status should be truncated to 45 chars, got %d", got)
	}
	if !last.IsZero() {
		t.Error("failed cycle must not count as a completed refresh")
	}
	if o.Refreshing() {
		t.Error("guard must be released on the error path")
	}

	// The failure is not sticky: the next trigger gets a fresh attempt.
	if ran := o.Refresh(context.Background()); !ran {
		t.Error("next trigger after a failure should run")
	}
}

// TestRefresh_ErrorStatusTruncatesOnRuneBoundary verifies truncation
// never splits a multibyte character in the status string.
func TestRefresh_ErrorStatusTruncatesOnRuneBoundary(t *testing.T) {
	st := store.NewInMemoryStore()
	col := &fakeCollector{items: []collector.Item{
		{Title: "one", URL: "https://example.com/1", Source: "Test", Published: time.Now()},
	}}
	sum := &fakeSummarizer{relevance: 50}
	wideErr := errors.New(strings.Repeat("schéma cassé ", 10))
	o := newTestOrchestrator(st, col, sum, &failingRescorer{err: wideErr})

	o.Refresh(context.Background())

	status, _ := o.Status()
	if !utf8.ValidString(status) {
		t.Fatalf("status contains a split rune: %q", status)
	}
	portion := strings.TrimPrefix(status, "Refresh failed – ")
	if got := utf8.RuneCountInString(portion); got > 45 {
		t.Errorf("error portion should be at most 45 runes, got %d", got)
	}
}

// TestRefresh_DedupAcrossCycles verifies re-collected URLs are not
// double-counted or re-summarized.
func TestRefresh_DedupAcrossCycles(t *testing.T) {
	st := store.NewInMemoryStore()
	col := &fakeCollector{items: []collector.Item{
		{Title: "one", URL: "https://example.com/1", Source: "Test", Published: time.Now()},
	}}
	sum := &fakeSummarizer{relevance: 50}
	o := newTestOrchestrator(st, col, sum, scoring.NewEngine(st, nil))

	o.Refresh(context.Background())
	o.Refresh(context.Background())

	count, err := st.ItemCount(context.Background())
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 1 {
		t.Errorf("expected 1 item after two cycles, got %d", count)
	}
	// Second cycle had an empty unscored batch, so the summarizer ran once.
	if sum.calls != 1 {
		t.Errorf("expected 1 summarizer call, got %d", sum.calls)
	}
}

// TestRefresh_UsesStoredCredentialFallback verifies the persisted
// setting is used when no out-of-process key is configured.
func TestRefresh_UsesStoredCredentialFallback(t *testing.T) {
	st := store.NewInMemoryStore()
	if err := st.SetSetting(context.Background(), store.SettingLLMAPIKey, "sk-stored"); err != nil {
		t.Fatalf("set setting: %v", err)
	}
	col := &fakeCollector{items: []collector.Item{
		{Title: "one", URL: "https://example.com/1", Source: "Test", Published: time.Now()},
	}}
	sum := &fakeSummarizer{relevance: 50}
	o := newTestOrchestrator(st, col, sum, scoring.NewEngine(st, nil))

	o.Refresh(context.Background())

	status, _ := o.Status()
	if strings.Contains(status, "no-key mode") {
		t.Errorf("stored credential should prevent no-key mode, got %q", status)
	}
}

func TestUpdateFeeds_AffectsNextCycle(t *testing.T) {
	st := store.NewInMemoryStore()
	var sawFeeds []collector.Feed
	col := collectorFunc(func(ctx context.Context, feeds []collector.Feed, maxAge time.Duration) []collector.Item {
		sawFeeds = feeds
		return nil
	})
	sum := &fakeSummarizer{}
	o := newTestOrchestrator(st, col, sum, scoring.NewEngine(st, nil))

	o.UpdateFeeds([]collector.Feed{{Name: "Swapped", URL: "https://example.com/new"}}, []string{"y"})
	o.Refresh(context.Background())

	if len(sawFeeds) != 1 || sawFeeds[0].Name != "Swapped" {
		t.Errorf("expected swapped feed list, got %+v", sawFeeds)
	}
}

type collectorFunc func(ctx context.Context, feeds []collector.Feed, maxAge time.Duration) []collector.Item

func (f collectorFunc) Collect(ctx context.Context, feeds []collector.Feed, maxAge time.Duration) []collector.Item {
	return f(ctx, feeds, maxAge)
}
