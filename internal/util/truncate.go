// Package util holds small string helpers shared by the Graph client and the CLI.
package util

import "fmt"

// MaxErrorBodyLen bounds provider response bodies kept in errors and logs.
const MaxErrorBodyLen = 512

// TruncateLog cuts s to maxLen bytes and notes the original size, for
// response bodies that end up in errors and logs.
func TruncateLog(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + fmt.Sprintf("... [truncated, %d bytes total]", len(s))
}

// TruncateBytes is TruncateLog for a response body with MaxErrorBodyLen.
func TruncateBytes(b []byte) string {
	return TruncateLog(string(b), MaxErrorBodyLen)
}

// Ellipsis shortens s to at most maxLen runes for table cells.
func Ellipsis(s string, maxLen int) string {
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return string(r[:maxLen])
	}
	return string(r[:maxLen-3]) + "..."
}
