package models

import "time"

// Indices are [start, end) code point offsets into StreamEvent.Text.
type Indices [2]int

type URLEntity struct {
	URL         string
	ExpandedURL string
	Indices     Indices
}

type HashtagEntity struct {
	Text    string
	Indices Indices
}

type MentionEntity struct {
	ScreenName string
	ID         string
	Indices    Indices
}

type Entities struct {
	URLs     []URLEntity
	Hashtags []HashtagEntity
	Mentions []MentionEntity
}

type MediaKind string

const (
	MediaPhoto       MediaKind = "photo"
	MediaVideo       MediaKind = "video"
	MediaAnimatedGIF MediaKind = "animated_gif"
)

type Media struct {
	ID          string
	Kind        MediaKind
	MediaURL    string
	URL         string // placeholder token as it appears in the text
	ExpandedURL string
}

// StreamEvent is one status delivered by the upstream filter stream.
type StreamEvent struct {
	ID                string
	AuthorID          string
	AuthorHandle      string
	AuthorAvatar      string
	Text              string
	Entities          Entities
	InReplyTo         string
	RetweetOf         string
	Media             []Media
	CreatedAt         time.Time
	PossiblySensitive bool
}
