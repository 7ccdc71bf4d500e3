package senders

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/fiffu/feedrelay/config"
	"github.com/fiffu/feedrelay/lib/models"
	"github.com/fiffu/feedrelay/lib/store"
	"github.com/fiffu/feedrelay/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type fakeSender struct {
	mu    sync.Mutex
	calls []models.NotificationEntry
	reply func(call int, entry *models.NotificationEntry) error
}

func (f *fakeSender) Send(ctx context.Context, target string, entry *models.NotificationEntry) error {
	f.mu.Lock()
	f.calls = append(f.calls, *entry)
	n := len(f.calls)
	f.mu.Unlock()
	if f.reply == nil {
		return nil
	}
	return f.reply(n, entry)
}

func (f *fakeSender) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func fail(outcome Outcome) error {
	return &DeliveryError{Outcome: outcome, Platform: "fake", Err: errors.New(outcome.String())}
}

func newTestGateway(t *testing.T, sender Sender) (*Gateway, *gorm.DB) {
	cfg := config.Default()
	cfg.DefaultSinkPlatform = "fake"
	cfg.Dispatch.RetryInitial = time.Millisecond
	cfg.Dispatch.DeliverTimeout = time.Second

	db := testutil.NewDB(t)
	journal := store.NewJournal(db, zap.NewNop())
	return NewGateway(cfg, zap.NewNop(), Registry{"fake": sender}, journal), db
}

func journalKinds(t *testing.T, db *gorm.DB) []models.ErrorKind {
	var recs []models.ErrorRecord
	require.NoError(t, db.Order("id").Find(&recs).Error)
	kinds := make([]models.ErrorKind, len(recs))
	for i, r := range recs {
		kinds[i] = r.Kind
	}
	return kinds
}

func testEntry() models.NotificationEntry {
	return models.NotificationEntry{
		SourceKind: models.SourceFeed,
		SourceKey:  "https://x/y.rss",
		ItemID:     "a",
		Title:      "Hello",
		Link:       "https://x/a",
	}
}

func TestGateway_Ok(t *testing.T) {
	sender := &fakeSender{}
	gw, _ := newTestGateway(t, sender)

	assert.Equal(t, Ok, gw.Deliver(context.Background(), "S1", testEntry()))
	assert.Equal(t, 1, sender.count())
}

func TestGateway_TransientRetriesThenSucceeds(t *testing.T) {
	sender := &fakeSender{reply: func(call int, _ *models.NotificationEntry) error {
		if call < 3 {
			return fail(Transient)
		}
		return nil
	}}
	gw, db := newTestGateway(t, sender)

	assert.Equal(t, Ok, gw.Deliver(context.Background(), "S1", testEntry()))
	assert.Equal(t, 3, sender.count())
	assert.Empty(t, journalKinds(t, db))
}

func TestGateway_TransientGivesUpAfterThreeRetries(t *testing.T) {
	sender := &fakeSender{reply: func(int, *models.NotificationEntry) error { return fail(Transient) }}
	gw, db := newTestGateway(t, sender)

	assert.Equal(t, Transient, gw.Deliver(context.Background(), "S1", testEntry()))
	assert.Equal(t, 4, sender.count())
	assert.Equal(t, []models.ErrorKind{models.KindTransient}, journalKinds(t, db))
}

func TestGateway_RejectedIsSanitizedAndRetriedOnce(t *testing.T) {
	sender := &fakeSender{reply: func(_ int, e *models.NotificationEntry) error {
		if e.Thumbnail != "" {
			return fail(Rejected)
		}
		return nil
	}}
	gw, db := newTestGateway(t, sender)

	entry := testEntry()
	entry.Thumbnail = "ftp://bad"
	assert.Equal(t, Ok, gw.Deliver(context.Background(), "S1", entry))
	require.Equal(t, 2, sender.count())
	assert.Empty(t, sender.calls[1].Thumbnail)
	assert.Equal(t, "https://x/a", sender.calls[1].Link)
	assert.Empty(t, journalKinds(t, db))
}

func TestGateway_RejectedTwiceIsJournaled(t *testing.T) {
	sender := &fakeSender{reply: func(int, *models.NotificationEntry) error { return fail(Rejected) }}
	gw, db := newTestGateway(t, sender)

	assert.Equal(t, Rejected, gw.Deliver(context.Background(), "S1", testEntry()))
	assert.Equal(t, 2, sender.count())
	assert.Equal(t, []models.ErrorKind{models.KindSinkRejected}, journalKinds(t, db))
}

func TestGateway_SinkGoneFiresHooks(t *testing.T) {
	sender := &fakeSender{reply: func(int, *models.NotificationEntry) error { return fail(SinkGone) }}
	gw, _ := newTestGateway(t, sender)

	var gone []string
	gw.OnSinkGone(func(_ context.Context, sinkID string) { gone = append(gone, sinkID) })

	assert.Equal(t, SinkGone, gw.Deliver(context.Background(), "fake:S1", testEntry()))
	assert.Equal(t, 1, sender.count(), "gone sinks are not retried")
	assert.Equal(t, []string{"fake:S1"}, gone)
}

func TestGateway_UnknownPlatform(t *testing.T) {
	gw, db := newTestGateway(t, &fakeSender{})
	gw.defaultPlatform = "pager"

	assert.Equal(t, Rejected, gw.Deliver(context.Background(), "S1", testEntry()))
	assert.Equal(t, []models.ErrorKind{models.KindSinkRejected}, journalKinds(t, db))
}

func TestRegistry_Resolve(t *testing.T) {
	reg := Registry{"discord": &fakeSender{}, "email": &fakeSender{}}

	platform, target, _, ok := reg.Resolve("email:someone@example.com", "discord")
	assert.True(t, ok)
	assert.Equal(t, "email", platform)
	assert.Equal(t, "someone@example.com", target)

	platform, target, _, ok = reg.Resolve("123/abc", "discord")
	assert.True(t, ok)
	assert.Equal(t, "discord", platform)
	assert.Equal(t, "123/abc", target)

	platform, target, _, _ = reg.Resolve("https://discord.com/api/webhooks/1/x", "discord")
	assert.Equal(t, "discord", platform)
	assert.Equal(t, "https://discord.com/api/webhooks/1/x", target)
}

func TestSanitize(t *testing.T) {
	entry := testEntry()
	entry.Link = "not a url"
	entry.Thumbnail = "ftp://bad"
	entry.FooterIcon = "https://ok/icon.png"
	entry.Attachments = []models.Attachment{{URL: "data:x", Kind: models.AttachmentImage}, {URL: "https://ok/a.png", Kind: models.AttachmentImage}}

	got, changed := Sanitize(entry)
	assert.True(t, changed)
	assert.Empty(t, got.Link)
	assert.Empty(t, got.Thumbnail)
	assert.Equal(t, "https://ok/icon.png", got.FooterIcon)
	assert.Len(t, got.Attachments, 1)

	_, changed = Sanitize(testEntry())
	assert.False(t, changed)
}

func TestOutcomeOf(t *testing.T) {
	assert.Equal(t, Ok, OutcomeOf(nil))
	assert.Equal(t, Transient, OutcomeOf(errors.New("boom")))
	assert.Equal(t, SinkGone, OutcomeOf(fail(SinkGone)))
	assert.Equal(t, "sink_gone", SinkGone.String())
}
