// Package feedback records user votes and folds them into the
// tag and source preference weights.
package feedback

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/psalt21/signal-scout/internal/store"
)

// ErrInvalidVote is returned when a vote is not exactly +1 or -1.
var ErrInvalidVote = errors.New("vote must be +1 or -1")

// Processor validates and records feedback votes. It does not trigger
// rescoring itself; the caller decides when to recompute, which keeps
// the write and the recompute separately testable and lets batched
// callers defer the recompute.
type Processor struct {
	store  store.Store
	logger *slog.Logger
}

// NewProcessor creates a feedback processor backed by the given store.
func NewProcessor(st store.Store, logger *slog.Logger) *Processor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Processor{store: st, logger: logger}
}

// RecordVote appends a feedback event for the item and adjusts the
// weights of each of the item's tags and of its source by vote,
// clamped to the weight bounds. Returns ErrInvalidVote for any vote
// other than +1/-1 (nothing is mutated) and store.ErrItemNotFound when
// the item does not exist (the event is rolled back with the rest).
func (p *Processor) RecordVote(ctx context.Context, itemID int64, vote int) error {
	if vote != 1 && vote != -1 {
		return fmt.Errorf("%w: got %d", ErrInvalidVote, vote)
	}

	if err := p.store.RecordFeedback(ctx, itemID, vote); err != nil {
		return err
	}

	p.logger.Info("recorded vote", "item_id", itemID, "vote", vote)
	return nil
}
