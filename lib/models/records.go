package models

import "time"

type DedupRecord struct {
	SourceKey string    `gorm:"primaryKey"`
	ItemID    string    `gorm:"primaryKey"`
	SeenAt    time.Time `gorm:"index;not null"`
}

type ErrorRecord struct {
	ID        uint      `gorm:"primaryKey"`
	Timestamp time.Time `gorm:"index;not null"`
	SourceKey string    `gorm:"index"`
	Kind      ErrorKind `gorm:"not null"`
	Message   string
}

// Tables lists every persisted model, in migration order.
func Tables() []any {
	return []any{
		&Subscription{},
		&FeedState{},
		&DedupRecord{},
		&ErrorRecord{},
	}
}
