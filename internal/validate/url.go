package validate

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
)

// URL validation errors
var (
	ErrInvalidURL       = errors.New("invalid URL format")
	ErrDisallowedScheme = errors.New("URL scheme not allowed")
	ErrSSRFRisk         = errors.New("URL poses SSRF risk")
)

// URLConstraints defines validation constraints for URLs.
type URLConstraints struct {
	AllowedSchemes []string // e.g., []string{"https", "http"}
	BlockPrivate   bool     // Whether to block private/local IP addresses (SSRF protection)
	MaxLength      int      // Maximum URL length (0 = no limit)
}

// FeedURLConstraints covers feed URLs from the config file. Feeds live
// on the public web over HTTP or HTTPS; anything resolving to a private
// address is rejected.
var FeedURLConstraints = URLConstraints{
	AllowedSchemes: []string{"https", "http"},
	BlockPrivate:   true,
	MaxLength:      2048,
}

// URL validates a URL against the given constraints.
// Returns the validated URL string and an error if validation fails.
func URL(urlStr string, constraints URLConstraints) (string, error) {
	urlStr = strings.TrimSpace(urlStr)

	if urlStr == "" {
		return "", ErrEmpty
	}
	if constraints.MaxLength > 0 && len(urlStr) > constraints.MaxLength {
		return "", fmt.Errorf("%w: URL exceeds %d characters", ErrStringTooLong, constraints.MaxLength)
	}

	parsedURL, err := url.Parse(urlStr)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}

	if len(constraints.AllowedSchemes) > 0 {
		schemeAllowed := false
		for _, scheme := range constraints.AllowedSchemes {
			if parsedURL.Scheme == scheme {
				schemeAllowed = true
				break
			}
		}
		if !schemeAllowed {
			return "", fmt.Errorf("%w: got %q, allowed: %v", ErrDisallowedScheme, parsedURL.Scheme, constraints.AllowedSchemes)
		}
	}

	hostname := parsedURL.Hostname()
	if hostname == "" {
		return "", fmt.Errorf("%w: missing hostname", ErrInvalidURL)
	}

	if constraints.BlockPrivate {
		if err := checkSSRF(hostname); err != nil {
			return "", err
		}
	}

	return urlStr, nil
}

// FeedURL validates a feed URL from configuration.
func FeedURL(urlStr string) (string, error) {
	return URL(urlStr, FeedURLConstraints)
}

// checkSSRF checks if a hostname could be used for SSRF attacks.
// Blocks localhost, private IPs, link-local addresses, etc.
func checkSSRF(hostname string) error {
	lower := strings.ToLower(hostname)
	if lower == "localhost" || lower == "localhost.localdomain" {
		return fmt.Errorf("%w: localhost not allowed", ErrSSRFRisk)
	}

	ips, err := net.LookupIP(hostname)
	if err != nil {
		// Unresolvable hostnames pass here; the fetch itself will
		// surface the DNS failure.
		return nil
	}

	for _, ip := range ips {
		if isPrivateIP(ip) {
			return fmt.Errorf("%w: private IP address %s", ErrSSRFRisk, ip.String())
		}
	}

	return nil
}

// isPrivateIP checks if an IP address is private, loopback, or link-local.
func isPrivateIP(ip net.IP) bool {
	if ip.IsLoopback() {
		return true
	}
	if ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() {
		return true
	}

	if ip4 := ip.To4(); ip4 != nil {
		// 10.0.0.0/8
		if ip4[0] == 10 {
			return true
		}
		// 172.16.0.0/12
		if ip4[0] == 172 && ip4[1] >= 16 && ip4[1] <= 31 {
			return true
		}
		// 192.168.0.0/16
		if ip4[0] == 192 && ip4[1] == 168 {
			return true
		}
		// 169.254.0.0/16 (link-local)
		if ip4[0] == 169 && ip4[1] == 254 {
			return true
		}
	}

	// fc00::/7 (unique local addresses)
	if ip.To4() == nil && len(ip) == 16 && (ip[0]&0xfe) == 0xfc {
		return true
	}

	return false
}
