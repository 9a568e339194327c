package engine

import (
	"html"
	"strings"
	"unicode/utf8"

	"github.com/anatolykoptev/go-kit/strutil"
)

// Telegram message size limits, in characters.
const (
	CaptionLimit = 1024
	MessageLimit = 4096
)

// Hashtag turns a display name or tag into a single hashtag token.
func Hashtag(s string) string {
	return "#" + strings.ReplaceAll(strings.TrimSpace(s), " ", "_")
}

// EscapeHTML escapes text for Telegram's HTML parse mode.
func EscapeHTML(s string) string {
	return html.EscapeString(s)
}

// ContainsAny reports whether s contains any of the words (case-sensitive).
func ContainsAny(s string, words []string) bool {
	for _, w := range words {
		if w != "" && strings.Contains(s, w) {
			return true
		}
	}
	return false
}

// TruncateRunes caps s at limit runes, appending suffix if truncated.
// Pass suffix="" for no suffix. Safe for UTF-8 (CJK, emoji).
func TruncateRunes(s string, limit int, suffix string) string {
	return strutil.TruncateWith(s, limit, suffix)
}

// RuneLen is the length Telegram counts against its limits.
func RuneLen(s string) int {
	return utf8.RuneCountInString(s)
}
