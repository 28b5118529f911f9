package store

import (
	"context"
	"sort"
	"sync"
	"time"
)

// InMemoryStore is an in-memory implementation of Store for testing.
// It mirrors the SQLite implementation's semantics, including URL
// dedup, weight clamping, and ranked-read ordering.
type InMemoryStore struct {
	mu            sync.Mutex
	items         map[int64]*Item
	urls          map[string]int64
	feedback      []FeedbackEvent
	tagWeights    map[string]float64
	sourceWeights map[string]float64
	settings      map[string]string
	nextItemID    int64
	nextEventID   int64
	now           func() time.Time
}

// NewInMemoryStore creates an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		items:         make(map[int64]*Item),
		urls:          make(map[string]int64),
		tagWeights:    make(map[string]float64),
		sourceWeights: make(map[string]float64),
		settings:      make(map[string]string),
		nextItemID:    1,
		nextEventID:   1,
		now:           time.Now,
	}
}

// SetClock overrides the clock used for creation timestamps. Tests use
// this to control ranked-read tiebreaks.
func (s *InMemoryStore) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// InsertItem implements Store.
func (s *InMemoryStore) InsertItem(_ context.Context, p ItemParams) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.urls[p.URL]; exists {
		return false, nil
	}
	id := s.nextItemID
	s.nextItemID++
	s.items[id] = &Item{
		ID:        id,
		URL:       p.URL,
		Title:     p.Title,
		Source:    p.Source,
		Published: p.Published,
		Snippet:   p.Snippet,
		Relevance: 50,
		Rank:      50,
		CreatedAt: s.now(),
	}
	s.urls[p.URL] = id
	return true, nil
}

// UnscoredItems implements Store.
func (s *InMemoryStore) UnscoredItems(_ context.Context, limit int) ([]Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []Item
	for _, it := range s.items {
		if !it.Scored {
			out = append(out, *it)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// SetSummary implements Store.
func (s *InMemoryStore) SetSummary(_ context.Context, itemID int64, p SummaryParams) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	it, ok := s.items[itemID]
	if !ok {
		return ErrItemNotFound
	}
	it.Summary = p.Summary
	it.Rationale = p.Rationale
	it.Tags = capTags(p.Tags)
	it.Relevance = clampRelevance(p.Relevance)
	it.Scored = true
	return nil
}

// ScoredItems implements Store.
func (s *InMemoryStore) ScoredItems(_ context.Context) ([]Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []Item
	for _, it := range s.items {
		if it.Scored {
			out = append(out, *it)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// SetRank implements Store.
func (s *InMemoryStore) SetRank(_ context.Context, itemID int64, rank float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if it, ok := s.items[itemID]; ok {
		it.Rank = rank
	}
	return nil
}

// RankedItems implements Store.
func (s *InMemoryStore) RankedItems(_ context.Context, limit int) ([]Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []Item
	for _, it := range s.items {
		if !it.Scored {
			continue
		}
		copied := *it
		copied.UserVote = s.latestVoteLocked(it.ID)
		out = append(out, copied)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Rank != out[j].Rank {
			return out[i].Rank > out[j].Rank
		}
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *InMemoryStore) latestVoteLocked(itemID int64) int {
	for i := len(s.feedback) - 1; i >= 0; i-- {
		if s.feedback[i].ItemID == itemID {
			return s.feedback[i].Vote
		}
	}
	return 0
}

// RecordFeedback implements Store.
func (s *InMemoryStore) RecordFeedback(_ context.Context, itemID int64, vote int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	it, ok := s.items[itemID]
	if !ok {
		return ErrItemNotFound
	}
	s.feedback = append(s.feedback, FeedbackEvent{
		ID:        s.nextEventID,
		ItemID:    itemID,
		Vote:      vote,
		CreatedAt: s.now(),
	})
	s.nextEventID++
	for _, tag := range it.Tags {
		s.tagWeights[tag] = clampWeight(s.tagWeights[tag] + float64(vote))
	}
	s.sourceWeights[it.Source] = clampWeight(s.sourceWeights[it.Source] + float64(vote))
	return nil
}

// TagWeight implements Store.
func (s *InMemoryStore) TagWeight(_ context.Context, tag string) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tagWeights[tag], nil
}

// SourceWeight implements Store.
func (s *InMemoryStore) SourceWeight(_ context.Context, source string) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sourceWeights[source], nil
}

// GetSetting implements Store.
func (s *InMemoryStore) GetSetting(_ context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.settings[key], nil
}

// SetSetting implements Store.
func (s *InMemoryStore) SetSetting(_ context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings[key] = value
	return nil
}

// ItemCount implements Store.
func (s *InMemoryStore) ItemCount(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items), nil
}

// Close implements Store.
func (s *InMemoryStore) Close() error { return nil }
