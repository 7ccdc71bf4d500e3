package normalize

import (
	"strings"
	"time"
)

// North American zone abbreviations that Go cannot resolve on its own. CST
// and MST are left out: they also name zones in China, Cuba and Malaysia.
var zoneOffsets = map[string]string{
	"EDT": "-0400",
	"EST": "-0500",
	"CDT": "-0500",
	"MDT": "-0600",
	"PDT": "-0700",
	"PST": "-0800",
}

var numericLayouts = []string{
	"Mon, 2 Jan 2006 15:04:05 -0700",
	"Mon, 2 Jan 2006 15:04 -0700",
	"2 Jan 2006 15:04:05 -0700",
	"Monday, 2 Jan 2006 15:04:05 -0700",
	"Mon, 2 January 2006 15:04:05 -0700",
	"2006-01-02 15:04:05 -0700",
}

// ParseTimestamp resolves an item date. raw is the date as written in the
// document and parsed is the parser's own interpretation, if any. Dates
// written with a known zone abbreviation are re-read with its fixed offset.
func ParseTimestamp(raw string, parsed *time.Time) (time.Time, bool) {
	if t, ok := parseAbbreviated(raw); ok {
		return t.UTC(), true
	}
	if parsed != nil && !parsed.IsZero() {
		return parsed.UTC(), true
	}
	return time.Time{}, false
}

func parseAbbreviated(raw string) (time.Time, bool) {
	fields := strings.Fields(raw)
	if len(fields) < 2 {
		return time.Time{}, false
	}
	offset, ok := zoneOffsets[strings.ToUpper(fields[len(fields)-1])]
	if !ok {
		return time.Time{}, false
	}
	fields[len(fields)-1] = offset
	s := strings.Join(fields, " ")
	for _, layout := range numericLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
