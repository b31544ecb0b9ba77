// Package utils provides small shared helpers: logging setup, vector math,
// text truncation, and deterministic hashing for test doubles.
package utils

// Truncate shortens s to at most maxLen bytes, appending "..." when anything
// was cut. Non-positive maxLen disables truncation.
func Truncate(s string, maxLen int) string {
	if maxLen <= 0 || len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
