package models

import (
	"database/sql"
	"time"
)

type FeedState struct {
	SourceKey   string `gorm:"primaryKey"`
	LastChecked time.Time
	TTLMinutes  sql.NullInt64
}

// FeedSchedule is one row of the poller's schedule: a distinct feed and its state, if any.
type FeedSchedule struct {
	SourceKey   string
	LastChecked sql.NullTime
	TTLMinutes  sql.NullInt64
}

// Due reports whether the feed may be fetched at now. A TTL of zero is ignored.
func (fs FeedSchedule) Due(now time.Time) bool {
	if !fs.LastChecked.Valid || !fs.TTLMinutes.Valid || fs.TTLMinutes.Int64 <= 0 {
		return true
	}
	next := fs.LastChecked.Time.Add(time.Duration(fs.TTLMinutes.Int64) * time.Minute)
	return !now.Before(next)
}
