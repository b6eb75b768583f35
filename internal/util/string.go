// Copyright (c) 2025-2026 loopmaster303
// SPDX-License-Identifier: AGPL-3.0-or-later

package util

import "strings"

// UNICODE: rune-based truncation keeps multi-byte characters intact.

// TruncateRunes truncates s to at most maxLen runes, appending "..."
// when truncation occurs. The ellipsis counts toward the limit.
func TruncateRunes(s string, maxLen int) string {
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return string(runes[:maxLen])
	}
	return string(runes[:maxLen-3]) + "..."
}

// TruncateRunesNoEllipsis truncates s to at most maxLen runes without
// adding any suffix.
func TruncateRunesNoEllipsis(s string, maxLen int) string {
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen])
}

// FirstWords returns the first maxWords whitespace-separated words of s,
// with suffix appended when words were dropped.
func FirstWords(s string, maxWords int, suffix string) string {
	fields := strings.Fields(s)
	if len(fields) <= maxWords {
		return strings.Join(fields, " ")
	}
	return strings.Join(fields[:maxWords], " ") + suffix
}
