// Package collector fetches candidate items from RSS/Atom feeds.
package collector

import (
	"context"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"
)

// MaxSnippetLength bounds the snippet text kept per item.
const MaxSnippetLength = 500

// DefaultFeedTimeout bounds a single feed fetch so one unreachable
// feed cannot stall the whole refresh cycle.
const DefaultFeedTimeout = 15 * time.Second

// Feed describes one feed to poll.
type Feed struct {
	Name string `koanf:"name" json:"name"`
	URL  string `koanf:"url" json:"url"`
}

// Item is one candidate entry returned from a feed.
type Item struct {
	Title     string
	URL       string
	Source    string
	Published time.Time
	Snippet   string
}

// Collector fetches and filters feed entries.
type Collector struct {
	timeout time.Duration
	logger  *slog.Logger
}

// New creates a collector with the given per-feed timeout.
// A zero timeout falls back to DefaultFeedTimeout.
func New(timeout time.Duration, logger *slog.Logger) *Collector {
	if timeout <= 0 {
		timeout = DefaultFeedTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Collector{timeout: timeout, logger: logger}
}

// Collect fetches every feed and returns entries published within
// maxAge. Failures are strictly per-feed: a feed that cannot be
// fetched or parsed is logged and skipped, never surfaced to the
// caller. Entries without a title or link are dropped; entries without
// a usable publish date are kept and stamped with the current time.
func (c *Collector) Collect(ctx context.Context, feeds []Feed, maxAge time.Duration) []Item {
	cutoff := time.Now().UTC().Add(-maxAge)
	var items []Item

	for _, f := range feeds {
		entries, err := c.fetchFeed(ctx, f, cutoff)
		if err != nil {
			c.logger.Warn("failed to fetch feed", "feed", f.Name, "error", err)
			continue
		}
		items = append(items, entries...)
	}
	return items
}

func (c *Collector) fetchFeed(ctx context.Context, f Feed, cutoff time.Time) ([]Item, error) {
	feedCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	parsed, err := gofeed.NewParser().ParseURLWithContext(f.URL, feedCtx)
	if err != nil {
		return nil, err
	}

	var items []Item
	for _, entry := range parsed.Items {
		published, hasDate := entryDate(entry)
		if hasDate && published.Before(cutoff) {
			continue
		}
		if !hasDate {
			published = time.Now().UTC()
		}

		title := strings.TrimSpace(entry.Title)
		link := strings.TrimSpace(entry.Link)
		if title == "" || link == "" {
			continue
		}

		snippet := entry.Description
		if snippet == "" {
			snippet = entry.Content
		}
		snippet = StripHTML(snippet)
		if len(snippet) > MaxSnippetLength {
			snippet = snippet[:MaxSnippetLength]
		}

		items = append(items, Item{
			Title:     title,
			URL:       link,
			Source:    f.Name,
			Published: published,
			Snippet:   snippet,
		})
	}
	return items, nil
}

// entryDate extracts the best available timestamp from a feed entry.
func entryDate(entry *gofeed.Item) (time.Time, bool) {
	if entry.PublishedParsed != nil {
		return entry.PublishedParsed.UTC(), true
	}
	if entry.UpdatedParsed != nil {
		return entry.UpdatedParsed.UTC(), true
	}
	return time.Time{}, false
}

var (
	htmlTagRe    = regexp.MustCompile(`<[^>]+>`)
	whitespaceRe = regexp.MustCompile(`\s+`)
)

// StripHTML removes HTML tags and collapses whitespace.
func StripHTML(text string) string {
	text = htmlTagRe.ReplaceAllString(text, " ")
	return strings.TrimSpace(whitespaceRe.ReplaceAllString(text, " "))
}
