package models

import (
	"time"
)

// SubscriptionOptions are per-subscription filter hints. Feeds ignore them.
type SubscriptionOptions struct {
	IncludeRetweets bool     `json:"include_retweets,omitempty"`
	IncludeReplies  bool     `json:"include_replies,omitempty"`
	Keywords        []string `json:"keywords,omitempty"`
}

type Subscription struct {
	SinkID     string              `gorm:"primaryKey"`
	SourceKey  string              `gorm:"primaryKey"`
	SourceKind SourceKind          `gorm:"index:idx_kind_source;not null"`
	Options    SubscriptionOptions `gorm:"serializer:json"`
	CreatedAt  time.Time           `gorm:"index"`
}

type Subscriptions []Subscription

// SinkIDs returns the sink of every subscription, in order.
func (subs Subscriptions) SinkIDs() []string {
	out := make([]string, len(subs))
	for i, s := range subs {
		out[i] = s.SinkID
	}
	return out
}
