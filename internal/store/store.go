package store

import "context"

// Store defines the persistence operations used by the digest service.
// The store is the sole writer of all persisted state; every other
// component reads and writes through it and holds no private copies
// across calls. Implementations serialize every operation against
// every other (the store behaves as a monitor).
type Store interface {
	// InsertItem inserts a new unscored item. Items are deduplicated by
	// URL: inserting a duplicate is a no-op and returns false. Returns
	// true when the item was newly inserted.
	InsertItem(ctx context.Context, p ItemParams) (bool, error)

	// UnscoredItems returns up to limit items that have not been
	// summarized yet, most recently created first.
	UnscoredItems(ctx context.Context, limit int) ([]Item, error)

	// SetSummary attaches summarization output to an item and marks it
	// scored. Tags are capped at MaxTags and relevance is clamped to
	// [0, 100].
	SetSummary(ctx context.Context, itemID int64, p SummaryParams) error

	// ScoredItems returns every scored item.
	ScoredItems(ctx context.Context) ([]Item, error)

	// SetRank persists a recomputed rank value for an item.
	SetRank(ctx context.Context, itemID int64, rank float64) error

	// RankedItems returns up to limit scored items ordered by rank
	// descending, creation time descending on ties. Each item carries
	// its most recent vote in UserVote.
	RankedItems(ctx context.Context, limit int) ([]Item, error)

	// RecordFeedback appends a feedback event for an item and adjusts
	// the weights of each of the item's tags and of its source by vote,
	// clamped to [MinWeight, MaxWeight]. The whole operation is a
	// single transaction: if the item does not exist it returns
	// ErrItemNotFound and nothing is persisted.
	RecordFeedback(ctx context.Context, itemID int64, vote int) error

	// TagWeight returns the preference weight for a tag, 0 if unseen.
	TagWeight(ctx context.Context, tag string) (float64, error)

	// SourceWeight returns the preference weight for a source, 0 if unseen.
	SourceWeight(ctx context.Context, source string) (float64, error)

	// GetSetting returns the value for a settings key, "" if unset.
	GetSetting(ctx context.Context, key string) (string, error)

	// SetSetting stores a settings value, replacing any previous one.
	SetSetting(ctx context.Context, key, value string) error

	// ItemCount returns the total number of items, scored or not.
	ItemCount(ctx context.Context) (int, error)

	// Close releases the underlying storage.
	Close() error
}
