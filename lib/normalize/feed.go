package normalize

import (
	"bytes"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/fiffu/feedrelay/lib/models"
	"github.com/mmcdole/gofeed"
	ext "github.com/mmcdole/gofeed/extensions"
	"github.com/mmcdole/gofeed/rss"
)

// ErrNotFeed is returned for documents that are neither RSS, Atom nor JSON Feed.
var ErrNotFeed = errors.New("document is not a feed")

// Item ids longer than this are replaced by their hash in the dedup ledger.
const maxItemIDLength = 512

// FeedDocument is a parsed feed and its normalized items, in document order.
type FeedDocument struct {
	Title      string
	Link       string
	Icon       string
	TTLMinutes *int
	Entries    []models.NotificationEntry

	// Skipped counts items dropped for lacking both id and link.
	Skipped int
	// Faults holds one error per item that could not be normalized.
	Faults []error
}

// ParseFeed parses body as a feed fetched from sourceKey. Items are
// normalized independently, so one broken item never drops the others.
func ParseFeed(sourceKey string, body []byte, now time.Time) (*FeedDocument, error) {
	feedType := gofeed.DetectFeedType(bytes.NewReader(body))
	if feedType == gofeed.FeedTypeUnknown {
		return nil, ErrNotFeed
	}
	feed, err := gofeed.NewParser().Parse(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("parse feed: %w", err)
	}

	base, _ := url.Parse(sourceKey)
	if WebURL(feed.Link) {
		base, _ = url.Parse(feed.Link)
	}

	doc := &FeedDocument{
		Title: TruncateTitle(Clean(feed.Title)),
		Link:  resolveURL(base, feed.Link),
		Icon:  feedIcon(feed, base),
	}
	if feedType == gofeed.FeedTypeRSS {
		doc.TTLMinutes = rssTTL(body)
	}

	origin := doc.Title
	if origin == "" {
		origin = sourceKey
	}

	for i, item := range feed.Items {
		entry, ok, err := normalizeItem(sourceKey, origin, doc.Icon, base, item, now)
		switch {
		case err != nil:
			doc.Faults = append(doc.Faults, fmt.Errorf("item %d: %w", i, err))
		case !ok:
			doc.Skipped++
		default:
			doc.Entries = append(doc.Entries, entry)
		}
	}
	return doc, nil
}

func rssTTL(body []byte) *int {
	feed, err := (&rss.Parser{}).Parse(bytes.NewReader(body))
	if err != nil || feed == nil {
		return nil
	}
	ttl, err := strconv.Atoi(strings.TrimSpace(feed.TTL))
	if err != nil || ttl < 0 {
		return nil
	}
	return &ttl
}

func feedIcon(feed *gofeed.Feed, base *url.URL) string {
	if feed.Image != nil {
		if u := resolveURL(base, feed.Image.URL); u != "" {
			return u
		}
	}
	if feed.ITunesExt != nil {
		if u := resolveURL(base, feed.ITunesExt.Image); u != "" {
			return u
		}
	}
	for _, thumb := range feed.Extensions["media"]["thumbnail"] {
		if u := resolveURL(base, thumb.Attrs["url"]); u != "" {
			return u
		}
	}
	return ""
}

func normalizeItem(sourceKey, origin, icon string, base *url.URL, item *gofeed.Item, now time.Time) (entry models.NotificationEntry, ok bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			ok, err = false, fmt.Errorf("%w: %v", errMalformedItem, r)
		}
	}()
	if item == nil {
		return entry, false, nil
	}

	id := strings.TrimSpace(item.GUID)
	if id == "" {
		id = strings.TrimSpace(item.Link)
	}
	if id == "" {
		return entry, false, nil
	}
	if len(id) > maxItemIDLength {
		id = "xxh64:" + strconv.FormatUint(xxhash.Sum64String(id), 16)
	}

	content := item.Description
	if strings.TrimSpace(StripHTML(content)) == "" {
		content = item.Content
	}

	entry = models.NotificationEntry{
		SourceKind:  models.SourceFeed,
		SourceKey:   sourceKey,
		ItemID:      id,
		Title:       TruncateTitle(Clean(item.Title)),
		Body:        TruncateBody(Clean(StripHTML(content)), MaxBodyRunes),
		Link:        resolveURL(base, item.Link),
		Thumbnail:   thumbnail(item, base),
		FooterIcon:  icon,
		OriginName:  origin,
		Timestamp:   itemTimestamp(item, now),
		Attachments: attachments(item, base),
	}
	return entry, true, nil
}

var errMalformedItem = errors.New("malformed item")

func itemTimestamp(item *gofeed.Item, now time.Time) time.Time {
	if t, ok := ParseTimestamp(item.Published, item.PublishedParsed); ok {
		return t
	}
	if t, ok := ParseTimestamp(item.Updated, item.UpdatedParsed); ok {
		return t
	}
	return now.UTC()
}

// thumbnail walks the probes in priority order and returns the first usable URL.
func thumbnail(item *gofeed.Item, base *url.URL) string {
	probes := []func() string{
		func() string { return firstAttr(mediaElements(item, "thumbnail"), "url", nil) },
		func() string {
			return firstAttr(mediaElements(item, "content"), "url", func(e ext.Extension) bool {
				return e.Attrs["medium"] == "image"
			})
		},
		func() string {
			if item.Image != nil && item.Image.URL != "" {
				return item.Image.URL
			}
			for _, enc := range item.Enclosures {
				if enc != nil && strings.HasPrefix(enc.Type, "image/") {
					return enc.URL
				}
			}
			return ""
		},
		func() string { return FirstImage(item.Content) },
		func() string { return firstAttr(mediaElements(item, "content"), "url", nil) },
		func() string { return FirstImage(item.Description) },
	}
	for _, probe := range probes {
		if u := resolveURL(base, probe()); u != "" {
			return u
		}
	}
	return ""
}

func mediaElements(item *gofeed.Item, name string) []ext.Extension {
	media := item.Extensions["media"]
	if media == nil {
		return nil
	}
	elems := append([]ext.Extension(nil), media[name]...)
	for _, group := range media["group"] {
		elems = append(elems, group.Children[name]...)
	}
	return elems
}

func firstAttr(elems []ext.Extension, attr string, match func(ext.Extension) bool) string {
	for _, e := range elems {
		if match != nil && !match(e) {
			continue
		}
		if v := strings.TrimSpace(e.Attrs[attr]); v != "" {
			return v
		}
	}
	return ""
}

func attachments(item *gofeed.Item, base *url.URL) []models.Attachment {
	var out []models.Attachment
	for _, enc := range item.Enclosures {
		if enc == nil {
			continue
		}
		if u := resolveURL(base, enc.URL); u != "" {
			out = append(out, models.Attachment{URL: u, Kind: attachmentKind(enc.Type)})
		}
	}
	return out
}

func attachmentKind(mimeType string) models.AttachmentKind {
	switch {
	case mimeType == "image/gif":
		return models.AttachmentAnimation
	case strings.HasPrefix(mimeType, "image/"):
		return models.AttachmentImage
	case strings.HasPrefix(mimeType, "video/"):
		return models.AttachmentVideo
	default:
		return models.AttachmentOther
	}
}
