package normalize

import (
	"html"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/fiffu/feedrelay/lib/models"
)

const variationSelector16 = "\uFE0F"

// NormalizeEvent renders a stream event for one subscription. It reports
// false when the subscription's filters exclude the event.
func NormalizeEvent(ev models.StreamEvent, opts models.SubscriptionOptions, webBase string) (entry models.NotificationEntry, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			entry, ok = models.NotificationEntry{}, false
		}
	}()

	if ev.ID == "" || ev.AuthorID == "" {
		return entry, false
	}
	if ev.InReplyTo != "" && !opts.IncludeReplies {
		return entry, false
	}
	if ev.RetweetOf != "" && !opts.IncludeRetweets {
		return entry, false
	}
	if !matchesKeywords(ev.Text, opts.Keywords) {
		return entry, false
	}

	webBase = strings.TrimRight(webBase, "/")
	handle := strings.TrimPrefix(ev.AuthorHandle, "@")

	var thumbnail string
	if !ev.PossiblySensitive {
		for _, m := range ev.Media {
			if m.Kind == models.MediaPhoto && WebURL(m.MediaURL) {
				thumbnail = m.MediaURL
				break
			}
		}
	}

	body := expandEntities(ev, webBase, thumbnail != "")
	body = html.UnescapeString(body)
	body = strings.ReplaceAll(body, variationSelector16, "")
	body = TruncateBody(strings.TrimSpace(Clean(body)), MaxBodyRunes)

	ts := ev.CreatedAt
	if ts.IsZero() {
		ts = time.Now()
	}

	entry = models.NotificationEntry{
		SourceKind:  models.SourceStream,
		SourceKey:   ev.AuthorID,
		ItemID:      ev.ID,
		Title:       TruncateTitle("@" + handle),
		Body:        body,
		Thumbnail:   thumbnail,
		OriginName:  "@" + handle,
		Timestamp:   ts.UTC(),
		Attachments: mediaAttachments(ev.Media),
	}
	if link := webBase + "/" + url.PathEscape(handle) + "/status/" + url.PathEscape(ev.ID); handle != "" && WebURL(link) {
		entry.Link = link
	}
	if WebURL(ev.AuthorAvatar) {
		entry.FooterIcon = ev.AuthorAvatar
	}
	return entry, true
}

func matchesKeywords(text string, keywords []string) bool {
	if len(keywords) == 0 {
		return true
	}
	text = strings.ToLower(text)
	for _, kw := range keywords {
		if kw = strings.ToLower(strings.TrimSpace(kw)); kw != "" && strings.Contains(text, kw) {
			return true
		}
	}
	return false
}

type replacement struct {
	span  models.Indices // code points; {-1, -1} when unknown
	token string
	repl  string
	link  string // when set, the matched text is wrapped as a markdown link
}

var noSpan = models.Indices{-1, -1}

// expandEntities rewrites entity spans in the text. A span is trusted when
// the text at its indices matches the token case-insensitively; otherwise the
// token is searched for forward from the previous replacement.
func expandEntities(ev models.StreamEvent, webBase string, dropPhotos bool) string {
	var reps []replacement
	for _, u := range ev.Entities.URLs {
		if u.URL != "" && u.ExpandedURL != "" {
			reps = append(reps, replacement{span: u.Indices, token: u.URL, repl: u.ExpandedURL})
		}
	}
	for _, h := range ev.Entities.Hashtags {
		if h.Text != "" {
			link := webBase + "/hashtag/" + url.PathEscape(h.Text)
			reps = append(reps, replacement{span: h.Indices, token: "#" + h.Text, link: link})
		}
	}
	for _, m := range ev.Entities.Mentions {
		if m.ScreenName != "" {
			link := webBase + "/" + url.PathEscape(m.ScreenName)
			reps = append(reps, replacement{span: m.Indices, token: "@" + m.ScreenName, link: link})
		}
	}
	seen := map[string]bool{}
	for _, m := range ev.Media {
		if m.URL == "" || seen[m.URL] {
			continue
		}
		seen[m.URL] = true
		repl := m.ExpandedURL
		if dropPhotos && m.Kind == models.MediaPhoto {
			repl = ""
		}
		reps = append(reps, replacement{span: noSpan, token: m.URL, repl: repl})
	}

	text := ev.Text
	offsets := runeOffsets(text)
	bounds := make([][2]int, len(reps))
	for i, r := range reps {
		bounds[i] = [2]int{-1, -1}
		s, e := r.span[0], r.span[1]
		if s >= 0 && s < e && e < len(offsets) {
			if bs, be := offsets[s], offsets[e]; strings.EqualFold(text[bs:be], r.token) {
				bounds[i] = [2]int{bs, be}
			}
		}
	}

	// Indexed spans go in text order; unindexed ones (media placeholders
	// trail the text) are searched for after them.
	order := make([]int, len(reps))
	keys := make([]int, len(reps))
	for i := range order {
		order[i] = i
		keys[i] = sortKey(bounds[i], reps[i].span, len(offsets))
	}
	sort.SliceStable(order, func(a, b int) bool { return keys[order[a]] < keys[order[b]] })

	var out strings.Builder
	cursor := 0
	for _, i := range order {
		r := reps[i]
		start, end := bounds[i][0], bounds[i][1]
		if start < cursor {
			pos := indexFold(text[cursor:], r.token)
			if pos < 0 {
				continue
			}
			start, end = cursor+pos, cursor+pos+len(r.token)
		}
		out.WriteString(text[cursor:start])
		if r.link != "" {
			out.WriteString("[" + text[start:end] + "](" + r.link + ")")
		} else {
			out.WriteString(r.repl)
		}
		cursor = end
	}
	out.WriteString(text[cursor:])
	return out.String()
}

// runeOffsets maps each code point index of s, plus one past the end, to its
// byte offset.
func runeOffsets(s string) []int {
	offsets := make([]int, 0, len(s)+1)
	for i := range s {
		offsets = append(offsets, i)
	}
	return append(offsets, len(s))
}

func sortKey(bound [2]int, span models.Indices, n int) int {
	if bound[0] >= 0 {
		return span[0]
	}
	if span[0] >= 0 && span[0] < n {
		return span[0]
	}
	return n
}

// indexFold is a case-insensitive strings.Index that only matches at rune
// starts.
func indexFold(s, token string) int {
	for i := range s {
		if len(s)-i < len(token) {
			break
		}
		if strings.EqualFold(s[i:i+len(token)], token) {
			return i
		}
	}
	return -1
}

func mediaAttachments(media []models.Media) []models.Attachment {
	var out []models.Attachment
	for _, m := range media {
		if !WebURL(m.MediaURL) {
			continue
		}
		kind := models.AttachmentOther
		switch m.Kind {
		case models.MediaPhoto:
			kind = models.AttachmentImage
		case models.MediaVideo:
			kind = models.AttachmentVideo
		case models.MediaAnimatedGIF:
			kind = models.AttachmentAnimation
		}
		out = append(out, models.Attachment{URL: m.MediaURL, Kind: kind})
	}
	return out
}
