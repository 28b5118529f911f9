// Package store provides the durable keyed state for the digest service:
// feed items, feedback events, preference weights, and settings.
package store

import (
	"errors"
	"time"
)

// Common errors for store operations.
var (
	ErrItemNotFound = errors.New("item not found")
)

// Weight bounds for tag and source preference accumulators.
const (
	MinWeight = -10.0
	MaxWeight = 10.0
)

// MaxTags is the maximum number of tags persisted per item.
const MaxTags = 6

// SettingLLMAPIKey is the settings key holding the operator-supplied
// LLM credential. An out-of-process value (env or config file) takes
// precedence over this stored fallback.
const SettingLLMAPIKey = "llm_api_key"

// Item represents a single ingested feed entry. An item is created
// unscored by ingestion, becomes scored exactly once when a summary is
// attached, and keeps its rank up to date through full recompute passes.
type Item struct {
	ID        int64     `json:"id"`
	URL       string    `json:"url"`
	Title     string    `json:"title"`
	Source    string    `json:"source"`
	Published time.Time `json:"published_at"`
	Snippet   string    `json:"snippet,omitempty"`
	Summary   string    `json:"summary,omitempty"`
	Rationale string    `json:"rationale,omitempty"`
	Tags      []string  `json:"tags,omitempty"`
	Relevance int       `json:"relevance"`
	Rank      float64   `json:"rank"`
	Scored    bool      `json:"scored"`
	CreatedAt time.Time `json:"created_at"`

	// UserVote is the most recent vote recorded against this item
	// (+1, -1, or 0 when never voted). Populated on ranked reads only;
	// it is a read-side annotation, not a scoring input.
	UserVote int `json:"user_vote"`
}

// FeedbackEvent is one recorded vote. Events are append-only.
type FeedbackEvent struct {
	ID        int64     `json:"id"`
	ItemID    int64     `json:"item_id"`
	Vote      int       `json:"vote"`
	CreatedAt time.Time `json:"created_at"`
}

// ItemParams holds the fields supplied by ingestion when inserting an item.
type ItemParams struct {
	URL       string
	Title     string
	Source    string
	Published time.Time
	Snippet   string
}

// SummaryParams holds the fields attached to an item by summarization.
// Tags beyond MaxTags are discarded and Relevance is clamped to [0, 100]
// before persisting.
type SummaryParams struct {
	Summary   string
	Rationale string
	Tags      []string
	Relevance int
}

// clampWeight bounds a preference weight to [MinWeight, MaxWeight].
func clampWeight(w float64) float64 {
	if w < MinWeight {
		return MinWeight
	}
	if w > MaxWeight {
		return MaxWeight
	}
	return w
}

// clampRelevance bounds a relevance estimate to [0, 100].
func clampRelevance(r int) int {
	if r < 0 {
		return 0
	}
	if r > 100 {
		return 100
	}
	return r
}

// capTags returns at most MaxTags tags.
func capTags(tags []string) []string {
	if len(tags) > MaxTags {
		return tags[:MaxTags]
	}
	return tags
}
