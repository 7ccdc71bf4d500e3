package normalize

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	MaxTitleRunes = 256
	MaxBodyRunes  = 2048
	Ellipsis      = "…"
)

// Clean makes s valid UTF-8 and drops control characters other than newline and tab.
func Clean(s string) string {
	s = strings.ToValidUTF8(s, "")
	return strings.Map(func(r rune) rune {
		if r == '\n' || r == '\t' {
			return r
		}
		if unicode.IsControl(r) || r == utf8.RuneError {
			return -1
		}
		return r
	}, s)
}

// TruncateTitle cuts s to MaxTitleRunes, ending with Ellipsis when cut.
func TruncateTitle(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	if utf8.RuneCountInString(s) <= MaxTitleRunes {
		return s
	}
	r := []rune(s)
	return strings.TrimRightFunc(string(r[:MaxTitleRunes-1]), unicode.IsSpace) + Ellipsis
}

// TruncateBody cuts s to at most limit runes on a space boundary, ending with Ellipsis when cut.
func TruncateBody(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	r := []rune(s)[:limit-1]
	cut := len(r)
	for i := len(r) - 1; i > 0; i-- {
		if unicode.IsSpace(r[i]) {
			cut = i
			break
		}
	}
	return strings.TrimRightFunc(string(r[:cut]), unicode.IsSpace) + Ellipsis
}
