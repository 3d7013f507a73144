// Package util provides small string helpers shared by the server packages.
package util

import "strings"

// SafeTruncate returns at most the first maxLen bytes of s. A negative
// maxLen yields "". Used when logging states, codes and token prefixes.
//
//	SafeTruncate("very-long-token-abc123", 8) // "very-lon"
func SafeTruncate(s string, maxLen int) string {
	if maxLen < 0 {
		return ""
	}
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen]
}

// NormalizeURL removes trailing slashes so a base URL can be joined with a path.
func NormalizeURL(url string) string {
	return strings.TrimRight(url, "/")
}

// JoinURL appends path to base, producing exactly one slash between them.
//
//	JoinURL("http://localhost:8000/", "/auth/callback") // "http://localhost:8000/auth/callback"
func JoinURL(base, path string) string {
	return NormalizeURL(base) + "/" + strings.TrimLeft(path, "/")
}

// SplitScope splits a space-delimited OAuth scope string, dropping empty entries.
func SplitScope(scope string) []string {
	return strings.Fields(scope)
}
