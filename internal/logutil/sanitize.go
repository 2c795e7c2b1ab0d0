package logutil

import "strings"

// maxLogValueLen bounds user-provided values embedded in log lines.
const maxLogValueLen = 256

// SanitizeForLog removes newlines and control characters from user-provided
// strings so a remote path or hostname cannot forge extra log entries.
func SanitizeForLog(s string) string {
	var result strings.Builder
	result.Grow(len(s))
	for _, r := range s {
		switch {
		case r == '\n' || r == '\r' || r == '\t':
			result.WriteByte(' ')
		case r < 32 || r == 0x7f:
			// dropped
		default:
			result.WriteRune(r)
		}
	}
	return Truncate(result.String(), maxLogValueLen)
}

// Truncate shortens s to at most n bytes, marking the cut with "...".
func Truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	if n <= 3 {
		return s[:n]
	}
	return s[:n-3] + "..."
}
