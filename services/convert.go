package services

import (
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"
)

// Safe conversions for extractor output. Values arrive as whatever type the
// JSON decoder produced (string, float64, nil), under whatever key alias the
// model chose. Every conversion is total: bad input yields a zero value,
// never a panic.

var digitsRe = regexp.MustCompile(`\d+`)

// dateLayouts cover the formats seen on record PDFs, including the Korean
// long form.
var dateLayouts = []string{
	"2006-01-02",
	"2006/01/02",
	"2006.01.02",
	"2006년 01월 02일",
	"2006년 1월 2일",
}

// pick returns the first value present in m under any of the given key
// aliases. Aliases exist because the model names fields inconsistently
// ("grade" one run, "학년" the next).
func pick(m map[string]any, aliases ...string) (any, bool) {
	for _, k := range aliases {
		if v, ok := m[k]; ok && v != nil {
			return v, true
		}
	}
	return nil, false
}

// toSafeString renders any scalar as a trimmed string, truncated to maxLen
// (0 means unlimited).
func toSafeString(v any, maxLen int) string {
	var s string
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		s = strings.TrimSpace(t)
	case float64:
		if t == float64(int64(t)) {
			s = fmt.Sprintf("%d", int64(t))
		} else {
			s = fmt.Sprintf("%g", t)
		}
	case bool:
		s = fmt.Sprintf("%t", t)
	default:
		s = strings.TrimSpace(fmt.Sprintf("%v", t))
	}

	if maxLen > 0 && len(s) > maxLen {
		// Truncate at a rune boundary; Korean text is multibyte.
		cut := maxLen
		for cut > 0 && !utf8.RuneStart(s[cut]) {
			cut--
		}
		s = s[:cut]
	}
	return s
}

// cleanText collapses newlines and runs of whitespace into single spaces.
func cleanText(v any) string {
	s := toSafeString(v, 0)
	if s == "" {
		return ""
	}
	s = strings.ReplaceAll(s, "\n", " ")
	s = strings.ReplaceAll(s, "\r", " ")
	return strings.Join(strings.Fields(s), " ")
}

// toSafeInt extracts an integer, digging digits out of strings like
// "B(190)" the way the record PDFs embed them. ok is false when no number
// is present at all.
func toSafeInt(v any) (int, bool) {
	switch t := v.(type) {
	case float64:
		return int(t), true
	case int:
		return t, true
	case string:
		s := strings.TrimSpace(t)
		if s == "" {
			return 0, false
		}
		if m := digitsRe.FindString(s); m != "" {
			n := 0
			for _, c := range m {
				n = n*10 + int(c-'0')
			}
			return n, true
		}
	}
	return 0, false
}

// toSafeDate parses the date formats the PDFs use; nil when unparseable.
func toSafeDate(v any) *time.Time {
	s := toSafeString(v, 0)
	if s == "" {
		return nil
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return &t
		}
	}
	return nil
}
