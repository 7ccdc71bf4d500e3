package streamer

import (
	"time"

	"github.com/fiffu/feedrelay/lib/models"
)

// createdAtLayout is the timestamp format of tweet-shaped payloads.
const createdAtLayout = time.RubyDate

type filterRequest struct {
	Action string   `json:"action"`
	Follow []string `json:"follow"`
}

// frame is either a status or a control message.
type frame struct {
	Type       string `json:"type,omitempty"`
	RetryAfter int    `json:"retry_after,omitempty"`
	Reason     string `json:"reason,omitempty"`

	IDStr             string        `json:"id_str"`
	Text              string        `json:"text"`
	CreatedAt         string        `json:"created_at"`
	User              wireUser      `json:"user"`
	InReplyToStatusID *string       `json:"in_reply_to_status_id_str"`
	RetweetedStatus   *wireStatus   `json:"retweeted_status"`
	PossiblySensitive bool          `json:"possibly_sensitive"`
	Truncated         bool          `json:"truncated"`
	Entities          wireEntities  `json:"entities"`
	ExtendedEntities  *wireMediaSet `json:"extended_entities"`
	ExtendedTweet     *wireExtended `json:"extended_tweet"`
}

type wireUser struct {
	IDStr           string `json:"id_str"`
	ScreenName      string `json:"screen_name"`
	ProfileImageURL string `json:"profile_image_url_https"`
}

type wireStatus struct {
	IDStr string `json:"id_str"`
}

type wireExtended struct {
	FullText         string        `json:"full_text"`
	Entities         wireEntities  `json:"entities"`
	ExtendedEntities *wireMediaSet `json:"extended_entities"`
}

type wireEntities struct {
	URLs     []wireURL     `json:"urls"`
	Hashtags []wireHashtag `json:"hashtags"`
	Mentions []wireMention `json:"user_mentions"`
	Media    []wireMedia   `json:"media"`
}

type wireMediaSet struct {
	Media []wireMedia `json:"media"`
}

type wireURL struct {
	URL         string         `json:"url"`
	ExpandedURL string         `json:"expanded_url"`
	Indices     models.Indices `json:"indices"`
}

type wireHashtag struct {
	Text    string         `json:"text"`
	Indices models.Indices `json:"indices"`
}

type wireMention struct {
	ScreenName string         `json:"screen_name"`
	IDStr      string         `json:"id_str"`
	Indices    models.Indices `json:"indices"`
}

type wireMedia struct {
	IDStr         string `json:"id_str"`
	Type          string `json:"type"`
	MediaURLHTTPS string `json:"media_url_https"`
	URL           string `json:"url"`
	ExpandedURL   string `json:"expanded_url"`
}

func (f *frame) isStatus() bool {
	return f.Type == "" && f.IDStr != ""
}

// event converts a status frame. Extended payloads win over truncated ones.
func (f *frame) event() *models.StreamEvent {
	text, entities, media := f.Text, f.Entities, f.ExtendedEntities
	if f.ExtendedTweet != nil && f.ExtendedTweet.FullText != "" {
		text, entities, media = f.ExtendedTweet.FullText, f.ExtendedTweet.Entities, f.ExtendedTweet.ExtendedEntities
	}

	ev := &models.StreamEvent{
		ID:                f.IDStr,
		AuthorID:          f.User.IDStr,
		AuthorHandle:      f.User.ScreenName,
		AuthorAvatar:      f.User.ProfileImageURL,
		Text:              text,
		PossiblySensitive: f.PossiblySensitive,
	}
	if f.InReplyToStatusID != nil {
		ev.InReplyTo = *f.InReplyToStatusID
	}
	if f.RetweetedStatus != nil {
		ev.RetweetOf = f.RetweetedStatus.IDStr
	}
	if t, err := time.Parse(createdAtLayout, f.CreatedAt); err == nil {
		ev.CreatedAt = t.UTC()
	}

	for _, u := range entities.URLs {
		ev.Entities.URLs = append(ev.Entities.URLs, models.URLEntity{URL: u.URL, ExpandedURL: u.ExpandedURL, Indices: u.Indices})
	}
	for _, h := range entities.Hashtags {
		ev.Entities.Hashtags = append(ev.Entities.Hashtags, models.HashtagEntity{Text: h.Text, Indices: h.Indices})
	}
	for _, m := range entities.Mentions {
		ev.Entities.Mentions = append(ev.Entities.Mentions, models.MentionEntity{ScreenName: m.ScreenName, ID: m.IDStr, Indices: m.Indices})
	}

	wm := entities.Media
	if media != nil && len(media.Media) > 0 {
		wm = media.Media
	}
	for _, m := range wm {
		ev.Media = append(ev.Media, models.Media{
			ID:          m.IDStr,
			Kind:        models.MediaKind(m.Type),
			MediaURL:    m.MediaURLHTTPS,
			URL:         m.URL,
			ExpandedURL: m.ExpandedURL,
		})
	}
	return ev
}
