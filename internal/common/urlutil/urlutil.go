// Package urlutil provides URL helpers shared by the batch runner,
// artifact store and query layer.
package urlutil

import (
	"net/url"
	"strings"
)

// ExtractHost extracts and lowercases the host from a URL string.
// Returns empty string if URL is invalid or has no host.
func ExtractHost(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return strings.ToLower(parsed.Host)
}

// ExtractHostname extracts the hostname from a host string, removing the
// port if present. Handles bracketed IPv6 literals without mangling them.
func ExtractHostname(host string) string {
	if strings.HasPrefix(host, "[") {
		if bracketIdx := strings.Index(host, "]"); bracketIdx != -1 {
			return host[:bracketIdx+1]
		}
		return host
	}
	if idx := strings.LastIndex(host, ":"); idx != -1 && strings.Count(host, ":") == 1 {
		return host[:idx]
	}
	return host
}

// ExtractDomain derives the bare hostname from a full URL: host extracted
// and lowercased, then the port stripped. Empty when the URL has no host.
func ExtractDomain(rawURL string) string {
	return ExtractHostname(ExtractHost(rawURL))
}

// HasHTTPScheme reports whether the URL starts with http:// or https://.
// Batch input lines must satisfy this; URLs are otherwise used verbatim.
func HasHTTPScheme(rawURL string) bool {
	return strings.HasPrefix(rawURL, "http://") || strings.HasPrefix(rawURL, "https://")
}

// unsafeDirChars are the characters replaced by '_' when a URL is embedded
// in an artifact directory name.
const unsafeDirChars = ":/?#[]@!$&'()*+,;="

// SanitizeForDir converts a URL into the form used inside artifact
// directory names: scheme prefix stripped, trailing slash stripped, and
// every path-hostile character replaced with '_'.
func SanitizeForDir(rawURL string) string {
	s := strings.TrimPrefix(rawURL, "https://")
	s = strings.TrimPrefix(s, "http://")
	s = strings.TrimSuffix(s, "/")

	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if strings.ContainsRune(unsafeDirChars, r) {
			b.WriteRune('_')
		} else {
			b.WriteRune(r)
		}
	}
	return b.String()
}
