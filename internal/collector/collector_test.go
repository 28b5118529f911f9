package collector

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func rssDoc(entries string) string {
	return `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0"><channel><title>Test Feed</title>` + entries + `</channel></rss>`
}

func rssEntry(title, link, pubDate, description string) string {
	return fmt.Sprintf(
		`<item><title>%s</title><link>%s</link><pubDate>%s</pubDate><description>%s</description></item>`,
		title, link, pubDate, description)
}

func feedServer(t *testing.T, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/rss+xml")
		fmt.Fprint(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestCollect_ParsesEntries(t *testing.T) {
	recent := time.Now().UTC().Add(-time.Hour).Format(time.RFC1123Z)
	srv := feedServer(t, rssDoc(
		rssEntry("Shipping faster", "https://example.com/1", recent, "<p>Some  <b>HTML</b> body</p>"),
	))

	c := New(0, nil)
	items := c.Collect(context.Background(), []Feed{{Name: "Test", URL: srv.URL}}, 7*24*time.Hour)

	if len(items) != 1 {
		t.Fatalf("expected 1 item, got %d", len(items))
	}
	it := items[0]
	if it.Title != "Shipping faster" {
		t.Errorf("title: got %q", it.Title)
	}
	if it.Source != "Test" {
		t.Errorf("source: got %q", it.Source)
	}
	if it.Snippet != "Some HTML body" {
		t.Errorf("snippet should be stripped and collapsed, got %q", it.Snippet)
	}
}

// TestCollect_FiltersByAge verifies entries older than the max age are
// dropped while recent ones are kept.
func TestCollect_FiltersByAge(t *testing.T) {
	recent := time.Now().UTC().Add(-time.Hour).Format(time.RFC1123Z)
	stale := time.Now().UTC().Add(-30 * 24 * time.Hour).Format(time.RFC1123Z)
	srv := feedServer(t, rssDoc(
		rssEntry("recent", "https://example.com/recent", recent, "")+
			rssEntry("stale", "https://example.com/stale", stale, ""),
	))

	c := New(0, nil)
	items := c.Collect(context.Background(), []Feed{{Name: "Test", URL: srv.URL}}, 7*24*time.Hour)

	if len(items) != 1 {
		t.Fatalf("expected 1 item after age filter, got %d", len(items))
	}
	if items[0].Title != "recent" {
		t.Errorf("expected the recent entry, got %q", items[0].Title)
	}
}

// TestCollect_PerFeedFailureIsAbsorbed verifies one broken feed does
// not abort collection from the others.
func TestCollect_PerFeedFailureIsAbsorbed(t *testing.T) {
	recent := time.Now().UTC().Add(-time.Hour).Format(time.RFC1123Z)
	good := feedServer(t, rssDoc(rssEntry("ok", "https://example.com/ok", recent, "")))
	broken := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	t.Cleanup(broken.Close)

	c := New(0, nil)
	items := c.Collect(context.Background(), []Feed{
		{Name: "Broken", URL: broken.URL},
		{Name: "Good", URL: good.URL},
	}, 7*24*time.Hour)

	if len(items) != 1 {
		t.Fatalf("expected 1 item from the working feed, got %d", len(items))
	}
	if items[0].Source != "Good" {
		t.Errorf("expected item from Good feed, got %q", items[0].Source)
	}
}

func TestCollect_SkipsEntriesWithoutTitleOrLink(t *testing.T) {
	recent := time.Now().UTC().Add(-time.Hour).Format(time.RFC1123Z)
	srv := feedServer(t, rssDoc(
		rssEntry("", "https://example.com/notitle", recent, "")+
			rssEntry("has title", "https://example.com/ok", recent, ""),
	))

	c := New(0, nil)
	items := c.Collect(context.Background(), []Feed{{Name: "Test", URL: srv.URL}}, 7*24*time.Hour)

	if len(items) != 1 {
		t.Fatalf("expected 1 valid item, got %d", len(items))
	}
}

func TestStripHTML(t *testing.T) {
	tests := []struct {
		name     string
		in       string
		expected string
	}{
		{name: "plain text untouched", in: "hello world", expected: "hello world"},
		{name: "tags removed", in: "<p>hello <a href='x'>world</a></p>", expected: "hello world"},
		{name: "whitespace collapsed", in: "a\n\n  b\t c", expected: "a b c"},
		{name: "empty", in: "", expected: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := StripHTML(tt.in); got != tt.expected {
				t.Errorf("expected %q, got %q", tt.expected, got)
			}
		})
	}
}
