package normalize

import (
	"fmt"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2024, 6, 5, 0, 0, 0, 0, time.UTC)

const rssDoc = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0" xmlns:media="http://search.yahoo.com/mrss/">
<channel>
  <title>Example Feed</title>
  <link>https://x.example/</link>
  <ttl>15</ttl>
  <image><url>/icon.png</url><title>Example</title><link>https://x.example/</link></image>
  <item>
    <guid>a</guid>
    <title>Hello</title>
    <link>https://x.example/a</link>
    <description>&lt;p&gt;First &lt;b&gt;para&lt;/b&gt;&lt;/p&gt;&lt;p&gt;Second&lt;/p&gt;&lt;img src="/img/a.png"&gt;</description>
    <pubDate>Tue, 4 Jun 2024 10:00:00 EDT</pubDate>
  </item>
  <item>
    <title>Link only</title>
    <link>https://x.example/b</link>
    <media:content url="https://cdn.example/b-full.jpg" medium="image"/>
    <media:thumbnail url="https://cdn.example/b.jpg"/>
  </item>
  <item>
    <title>No id</title>
    <description>nothing to see</description>
  </item>
</channel>
</rss>`

const atomDoc = `<?xml version="1.0" encoding="utf-8"?>
<feed xmlns="http://www.w3.org/2005/Atom">
  <title>Atom Example</title>
  <link href="https://blog.example/"/>
  <logo>https://blog.example/logo.png</logo>
  <id>urn:blog</id>
  <updated>2024-06-04T10:00:00Z</updated>
  <entry>
    <id>urn:1</id>
    <title>Entry</title>
    <link href="https://blog.example/1"/>
    <updated>2024-06-04T10:00:00Z</updated>
    <content type="html">&lt;p&gt;Hi &lt;img src="pic.png"&gt;&lt;/p&gt;</content>
  </entry>
</feed>`

func rssWithItems(items ...string) []byte {
	return []byte(`<?xml version="1.0"?><rss version="2.0"><channel><title>T</title><link>https://x.example/</link>` +
		strings.Join(items, "") + `</channel></rss>`)
}

func TestParseFeed_RSS(t *testing.T) {
	doc, err := ParseFeed("https://x.example/feed.rss", []byte(rssDoc), testNow)
	require.NoError(t, err)

	require.NotNil(t, doc.TTLMinutes)
	assert.Equal(t, 15, *doc.TTLMinutes)
	assert.Equal(t, "Example Feed", doc.Title)
	assert.Equal(t, "https://x.example/icon.png", doc.Icon)
	assert.Equal(t, 1, doc.Skipped)
	assert.Empty(t, doc.Faults)
	require.Len(t, doc.Entries, 2)

	a := doc.Entries[0]
	assert.Equal(t, "a", a.ItemID)
	assert.Equal(t, "Hello", a.Title)
	assert.Equal(t, "https://x.example/a", a.Link)
	assert.Equal(t, "First para\n\nSecond", a.Body)
	assert.Equal(t, "https://x.example/img/a.png", a.Thumbnail)
	assert.Equal(t, "https://x.example/icon.png", a.FooterIcon)
	assert.Equal(t, "Example Feed", a.OriginName)
	assert.Equal(t, time.Date(2024, 6, 4, 14, 0, 0, 0, time.UTC), a.Timestamp)

	b := doc.Entries[1]
	assert.Equal(t, "https://x.example/b", b.ItemID, "falls back to link")
	assert.Equal(t, "https://cdn.example/b.jpg", b.Thumbnail, "media:thumbnail wins")
	assert.Equal(t, testNow, b.Timestamp)
}

func TestParseFeed_Atom(t *testing.T) {
	doc, err := ParseFeed("https://blog.example/atom.xml", []byte(atomDoc), testNow)
	require.NoError(t, err)

	assert.Nil(t, doc.TTLMinutes)
	assert.Equal(t, "https://blog.example/logo.png", doc.Icon)
	require.Len(t, doc.Entries, 1)

	e := doc.Entries[0]
	assert.Equal(t, "urn:1", e.ItemID)
	assert.Equal(t, "Hi", e.Body)
	assert.Equal(t, "https://blog.example/pic.png", e.Thumbnail)
	assert.Equal(t, time.Date(2024, 6, 4, 10, 0, 0, 0, time.UTC), e.Timestamp)
}

func TestParseFeed_NotAFeed(t *testing.T) {
	_, err := ParseFeed("https://x.example/", []byte("<html><head><title>Hi</title></head></html>"), testNow)
	assert.ErrorIs(t, err, ErrNotFeed)
}

func TestParseFeed_HugeLink(t *testing.T) {
	link := "https://x.example/" + strings.Repeat("a", 1<<20)
	body := rssWithItems(fmt.Sprintf(`<item><title>Big</title><link>%s</link></item>`, link))

	doc, err := ParseFeed("https://x.example/feed.rss", body, testNow)
	require.NoError(t, err)
	require.Len(t, doc.Entries, 1)
	e := doc.Entries[0]
	assert.Empty(t, e.Link)
	assert.True(t, strings.HasPrefix(e.ItemID, "xxh64:"))
	assert.LessOrEqual(t, len(e.ItemID), maxItemIDLength)
}

func TestParseFeed_LongBodyIsTruncated(t *testing.T) {
	long := strings.Repeat("lorem ipsum ", 10*1024/12+1)
	body := rssWithItems(fmt.Sprintf(`<item><guid>x</guid><description>%s</description></item>`, long))

	doc, err := ParseFeed("https://x.example/feed.rss", body, testNow)
	require.NoError(t, err)
	require.Len(t, doc.Entries, 1)
	got := doc.Entries[0].Body
	assert.LessOrEqual(t, utf8.RuneCountInString(got), MaxBodyRunes)
	assert.True(t, strings.HasSuffix(got, Ellipsis))
	assert.True(t, strings.HasSuffix(got, "ipsum"+Ellipsis) || strings.HasSuffix(got, "lorem"+Ellipsis), "cut on a word boundary")
}

func TestParseFeed_MalformedFieldsDegrade(t *testing.T) {
	body := rssWithItems(
		`<item><guid>1</guid><link>javascript:alert(1)</link><enclosure url="ftp://x/y.png" type="image/png"/></item>`,
		`<item><guid>2</guid><title>ok</title><pubDate>not a date</pubDate></item>`,
	)
	doc, err := ParseFeed("https://x.example/feed.rss", body, testNow)
	require.NoError(t, err)
	require.Len(t, doc.Entries, 2)
	assert.Empty(t, doc.Entries[0].Link)
	assert.Empty(t, doc.Entries[0].Thumbnail)
	assert.Empty(t, doc.Entries[0].Attachments)
	assert.Equal(t, testNow, doc.Entries[1].Timestamp)
}

func TestParseFeed_Enclosures(t *testing.T) {
	body := []byte(`<?xml version="1.0" encoding="utf-8"?>
<feed xmlns="http://www.w3.org/2005/Atom">
  <title>Media</title>
  <id>urn:media</id>
  <entry>
    <id>urn:m1</id>
    <title>Clip</title>
    <link rel="enclosure" type="video/mp4" href="https://cdn.example/a.mp4"/>
    <link rel="enclosure" type="image/gif" href="https://cdn.example/b.gif"/>
  </entry>
</feed>`)
	doc, err := ParseFeed("https://x.example/feed.atom", body, testNow)
	require.NoError(t, err)
	require.Len(t, doc.Entries, 1)
	e := doc.Entries[0]
	require.Len(t, e.Attachments, 2)
	assert.Equal(t, "video", string(e.Attachments[0].Kind))
	assert.Equal(t, "animation", string(e.Attachments[1].Kind))
	assert.Equal(t, "https://cdn.example/b.gif", e.Thumbnail, "image enclosure")
	assert.Equal(t, "Media", e.OriginName)
}

func TestParseTimestamp(t *testing.T) {
	for _, tc := range []struct {
		raw  string
		want time.Time
	}{
		{"Tue, 04 Jun 2024 10:00:00 EST", time.Date(2024, 6, 4, 15, 0, 0, 0, time.UTC)},
		{"Tue, 4 Jun 2024 10:00:00 EDT", time.Date(2024, 6, 4, 14, 0, 0, 0, time.UTC)},
		{"Tue, 4 Jun 2024 10:00 PDT", time.Date(2024, 6, 4, 17, 0, 0, 0, time.UTC)},
	} {
		got, ok := ParseTimestamp(tc.raw, nil)
		require.True(t, ok, tc.raw)
		assert.Equal(t, tc.want, got, tc.raw)
	}

	parsed := time.Date(2024, 1, 1, 0, 0, 0, 0, time.FixedZone("X", 3600))
	got, ok := ParseTimestamp("2024-01-01T00:00:00+01:00", &parsed)
	require.True(t, ok)
	assert.Equal(t, time.UTC, got.Location())

	_, ok = ParseTimestamp("", nil)
	assert.False(t, ok)

	_, ok = ParseTimestamp("Tue, 4 Jun 2024 10:00:00 CST", nil)
	assert.False(t, ok, "CST is ambiguous")
	got, ok = ParseTimestamp("Tue, 4 Jun 2024 10:00:00 CST", &parsed)
	require.True(t, ok)
	assert.Equal(t, parsed.UTC(), got, "falls back to the parser's reading")
}
