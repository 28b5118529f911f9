package validate

import (
	"errors"
	"net"
	"strings"
	"testing"
)

func mustParseIP(t *testing.T, s string) net.IP {
	t.Helper()
	ip := net.ParseIP(s)
	if ip == nil {
		t.Fatalf("bad test address %q", s)
	}
	return ip
}

func TestFeedURL(t *testing.T) {
	tests := []struct {
		name    string
		url     string
		wantErr error
	}{
		{"valid https", "https://example.com/feed.xml", nil},
		{"valid http", "http://example.com/rss", nil},
		{"trims whitespace", "  https://example.com/feed  ", nil},
		{"empty", "", ErrEmpty},
		{"blank", "   ", ErrEmpty},
		{"ftp scheme", "ftp://example.com/feed", ErrDisallowedScheme},
		{"no scheme", "example.com/feed", ErrDisallowedScheme},
		{"missing hostname", "https:///feed", ErrInvalidURL},
		{"localhost", "http://localhost:8080/feed", ErrSSRFRisk},
		{"too long", "https://example.com/" + strings.Repeat("a", 2048), ErrStringTooLong},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := FeedURL(tt.url)
			if tt.wantErr == nil {
				if err != nil {
					t.Errorf("FeedURL(%q): unexpected error %v", tt.url, err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("FeedURL(%q): expected %v, got %v", tt.url, tt.wantErr, err)
			}
		})
	}
}

func TestIsPrivateIP(t *testing.T) {
	tests := []struct {
		addr    string
		private bool
	}{
		{"127.0.0.1", true},
		{"10.1.2.3", true},
		{"172.16.0.1", true},
		{"172.32.0.1", false},
		{"192.168.1.1", true},
		{"169.254.0.1", true},
		{"8.8.8.8", false},
		{"fc00::1", true},
		{"2001:4860:4860::8888", false},
	}

	for _, tt := range tests {
		t.Run(tt.addr, func(t *testing.T) {
			if got := isPrivateIP(mustParseIP(t, tt.addr)); got != tt.private {
				t.Errorf("isPrivateIP(%s) = %v, expected %v", tt.addr, got, tt.private)
			}
		})
	}
}

func TestNonEmptyString(t *testing.T) {
	if _, err := NonEmptyString("  ", 10); !errors.Is(err, ErrEmpty) {
		t.Errorf("expected ErrEmpty, got %v", err)
	}
	if _, err := NonEmptyString(strings.Repeat("k", 11), 10); !errors.Is(err, ErrStringTooLong) {
		t.Errorf("expected ErrStringTooLong, got %v", err)
	}
	got, err := NonEmptyString("  sk-abc  ", 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "sk-abc" {
		t.Errorf("expected trimmed value, got %q", got)
	}
}
