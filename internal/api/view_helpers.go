package api

import (
	"strings"
	"time"
	"unicode/utf8"
)

// ParseTime parses an API timestamp. Unparseable values yield the zero time.
func ParseTime(value string) time.Time {
	if value == "" {
		return time.Time{}
	}
	if t, err := time.Parse(dateTimeFormat, value); err == nil {
		return t
	}
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t
	}
	return time.Time{}
}

// PromptPreview collapses whitespace and truncates s to at most width runes
// for table display.
func PromptPreview(s string, width int) string {
	s = strings.Join(strings.Fields(s), " ")
	if width <= 0 || utf8.RuneCountInString(s) <= width {
		return s
	}
	if width <= 3 {
		return string([]rune(s)[:width])
	}
	return string([]rune(s)[:width-3]) + "..."
}

// ShortID returns the first eight characters of a job id.
func ShortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
