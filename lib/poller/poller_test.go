package poller

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fiffu/feedrelay/config"
	"github.com/fiffu/feedrelay/lib/fetcher"
	"github.com/fiffu/feedrelay/lib/models"
	"github.com/fiffu/feedrelay/lib/store"
	"github.com/fiffu/feedrelay/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type submission struct {
	sinkID string
	entry  models.NotificationEntry
}

type fakeSubmitter struct {
	mu     sync.Mutex
	calls  []submission
	before func()
}

func (f *fakeSubmitter) Submit(ctx context.Context, sinkID string, entry models.NotificationEntry) error {
	if f.before != nil {
		f.before()
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, submission{sinkID, entry})
	return nil
}

func (f *fakeSubmitter) taken() []submission {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := f.calls
	f.calls = nil
	return out
}

type fixture struct {
	poller *Poller
	subs   *store.Subscriptions
	states *store.FeedStates
	sink   *fakeSubmitter
	db     *gorm.DB
	clock  time.Time
}

func newFixture(t *testing.T) *fixture {
	cfg := config.Default()
	cfg.Poller.TickInterval = time.Hour
	cfg.Poller.TransientPause = 0
	cfg.Poller.ServerErrorBackoff = 0

	db := testutil.NewDB(t)
	log := zap.NewNop()
	f := &fixture{
		subs:   store.NewSubscriptions(db, log),
		states: store.NewFeedStates(db),
		sink:   &fakeSubmitter{},
		db:     db,
		clock:  time.Now().UTC().Truncate(time.Second),
	}
	f.poller = New(cfg, log, f.subs, f.states,
		store.NewLedger(db, log, 0), store.NewJournal(db, log),
		fetcher.NewFetcher(cfg, http.DefaultTransport), f.sink)
	f.poller.now = func() time.Time { return f.clock }
	return f
}

func (f *fixture) subscribe(t *testing.T, sinkID, feedURL string) {
	_, err := f.subs.Add(context.Background(), sinkID, models.SourceFeed, feedURL, models.SubscriptionOptions{})
	require.NoError(t, err)
}

func (f *fixture) cycle(t *testing.T) *pollMetrics {
	schedule, err := f.states.Schedule(context.Background())
	require.NoError(t, err)
	return f.poller.pollFeeds(context.Background(), schedule, f.clock)
}

func (f *fixture) journal(t *testing.T) []models.ErrorKind {
	var recs []models.ErrorRecord
	require.NoError(t, f.db.Order("id").Find(&recs).Error)
	kinds := make([]models.ErrorKind, len(recs))
	for i, r := range recs {
		kinds[i] = r.Kind
	}
	return kinds
}

func rss(ttl string, items ...string) string {
	if ttl != "" {
		ttl = "<ttl>" + ttl + "</ttl>"
	}
	return `<?xml version="1.0"?><rss version="2.0"><channel><title>X</title><link>https://x/</link>` +
		ttl + strings.Join(items, "") + `</channel></rss>`
}

func item(guid, title, link string) string {
	return fmt.Sprintf(`<item><guid>%s</guid><title>%s</title><link>%s</link></item>`, guid, title, link)
}

type feedServer struct {
	*httptest.Server
	hits atomic.Int32
	mu   sync.Mutex
	body string
	code int
}

func newFeedServer(t *testing.T, body string) *feedServer {
	fs := &feedServer{body: body, code: http.StatusOK}
	fs.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fs.hits.Add(1)
		fs.mu.Lock()
		defer fs.mu.Unlock()
		w.Header().Set("Content-Type", "application/rss+xml")
		w.WriteHeader(fs.code)
		w.Write([]byte(fs.body))
	}))
	t.Cleanup(fs.Close)
	return fs
}

func (fs *feedServer) serve(code int, body string) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.code, fs.body = code, body
}

func TestPoller_NewFeedOneEntry(t *testing.T) {
	f := newFixture(t)
	srv := newFeedServer(t, rss("", item("a", "Hello", "https://x/a")))
	feedURL := srv.URL + "/y.rss"
	f.subscribe(t, "S1", feedURL)

	m := f.cycle(t)
	assert.Equal(t, 1, m.dispatched)

	calls := f.sink.taken()
	require.Len(t, calls, 1)
	assert.Equal(t, "S1", calls[0].sinkID)
	assert.Equal(t, "a", calls[0].entry.ItemID)
	assert.Equal(t, "Hello", calls[0].entry.Title)
	assert.Equal(t, feedURL, calls[0].entry.SourceKey)

	state, err := f.states.Get(context.Background(), feedURL)
	require.NoError(t, err)
	assert.Equal(t, f.clock, state.LastChecked.UTC())
}

func TestPoller_ReplayDispatchesNothing(t *testing.T) {
	f := newFixture(t)
	srv := newFeedServer(t, rss("", item("a", "Hello", "https://x/a")))
	feedURL := srv.URL + "/y.rss"
	f.subscribe(t, "S1", feedURL)

	f.cycle(t)
	require.Len(t, f.sink.taken(), 1)

	f.clock = f.clock.Add(30 * time.Second)
	f.cycle(t)
	assert.Empty(t, f.sink.taken())
	assert.EqualValues(t, 2, srv.hits.Load())

	state, err := f.states.Get(context.Background(), feedURL)
	require.NoError(t, err)
	assert.Equal(t, f.clock, state.LastChecked.UTC())
}

func TestPoller_TwoSinksOneFeed(t *testing.T) {
	f := newFixture(t)
	srv := newFeedServer(t, rss("", item("b", "B", "https://x/b")))
	feedURL := srv.URL + "/y.rss"
	f.subscribe(t, "S1", feedURL)
	f.subscribe(t, "S2", feedURL)

	f.cycle(t)
	calls := f.sink.taken()
	require.Len(t, calls, 2)
	sinks := []string{calls[0].sinkID, calls[1].sinkID}
	assert.ElementsMatch(t, []string{"S1", "S2"}, sinks)
	assert.EqualValues(t, 1, srv.hits.Load(), "one fetch per feed")
}

func TestPoller_SourceOrderPreserved(t *testing.T) {
	f := newFixture(t)
	srv := newFeedServer(t, rss("",
		item("3", "third", "https://x/3"),
		item("2", "second", "https://x/2"),
		item("1", "first", "https://x/1"),
	))
	f.subscribe(t, "S1", srv.URL)

	f.cycle(t)
	var ids []string
	for _, c := range f.sink.taken() {
		ids = append(ids, c.entry.ItemID)
	}
	assert.Equal(t, []string{"3", "2", "1"}, ids)
}

func TestPoller_TTLWindow(t *testing.T) {
	f := newFixture(t)
	srv := newFeedServer(t, rss("10", item("a", "A", "https://x/a")))
	f.subscribe(t, "S1", srv.URL)

	t0 := f.clock
	f.cycle(t)
	f.clock = t0.Add(9 * time.Minute)
	m := f.cycle(t)
	assert.EqualValues(t, 1, srv.hits.Load())
	assert.Equal(t, 1, m.skipped)

	f.clock = t0.Add(10 * time.Minute)
	f.cycle(t)
	assert.EqualValues(t, 2, srv.hits.Load())
}

func TestPoller_ZeroTTLIsIgnored(t *testing.T) {
	f := newFixture(t)
	srv := newFeedServer(t, rss("0"))
	f.subscribe(t, "S1", srv.URL)

	f.cycle(t)
	f.clock = f.clock.Add(time.Second)
	f.cycle(t)
	assert.EqualValues(t, 2, srv.hits.Load())
}

func TestPoller_TransientKeepsLastChecked(t *testing.T) {
	f := newFixture(t)
	srv := httptest.NewServer(http.NotFoundHandler())
	feedURL := srv.URL + "/gone.rss"
	srv.Close()
	f.subscribe(t, "S1", feedURL)

	m := f.cycle(t)
	assert.Equal(t, 1, m.errored)
	assert.Equal(t, []models.ErrorKind{models.KindTransient}, f.journal(t))

	_, err := f.states.Get(context.Background(), feedURL)
	assert.True(t, errors.Is(err, gorm.ErrRecordNotFound))
}

func TestPoller_HTTPErrorsTouchFeedState(t *testing.T) {
	for _, tc := range []struct {
		code int
		kind models.ErrorKind
	}{
		{http.StatusNotFound, models.KindClientError},
		{http.StatusBadGateway, models.KindServerError},
	} {
		t.Run(string(tc.kind), func(t *testing.T) {
			f := newFixture(t)
			srv := newFeedServer(t, "")
			srv.serve(tc.code, "nope")
			f.subscribe(t, "S1", srv.URL)

			f.cycle(t)
			assert.Equal(t, []models.ErrorKind{tc.kind}, f.journal(t))

			state, err := f.states.Get(context.Background(), srv.URL)
			require.NoError(t, err)
			assert.Equal(t, f.clock, state.LastChecked.UTC())
		})
	}
}

func TestPoller_NotAFeedIsJournaled(t *testing.T) {
	f := newFixture(t)
	srv := newFeedServer(t, "<html><head><title>hi</title></head></html>")
	f.subscribe(t, "S1", srv.URL)

	f.cycle(t)
	assert.Equal(t, []models.ErrorKind{models.KindMalformed}, f.journal(t))
	_, err := f.states.Get(context.Background(), srv.URL)
	assert.True(t, errors.Is(err, gorm.ErrRecordNotFound))
}

func TestPoller_ItemWithoutIDOrLinkIsDropped(t *testing.T) {
	f := newFixture(t)
	srv := newFeedServer(t, rss("",
		`<item><title>orphan</title></item>`,
		item("ok", "OK", "https://x/ok"),
	))
	f.subscribe(t, "S1", srv.URL)

	f.cycle(t)
	calls := f.sink.taken()
	require.Len(t, calls, 1)
	assert.Equal(t, "ok", calls[0].entry.ItemID)
	assert.Empty(t, f.journal(t))
}

func TestPoller_LastCheckedNeverMovesBack(t *testing.T) {
	f := newFixture(t)
	srv := newFeedServer(t, rss(""))
	f.subscribe(t, "S1", srv.URL)

	t0 := f.clock
	f.cycle(t)
	f.clock = t0.Add(-time.Hour)
	f.cycle(t)

	state, err := f.states.Get(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, t0, state.LastChecked.UTC())
}

func TestPoller_SubscriptionWakesIdleLoop(t *testing.T) {
	f := newFixture(t)
	srv := newFeedServer(t, rss("", item("a", "Hello", "https://x/a")))

	f.poller.Start()
	defer f.poller.Stop()

	f.subscribe(t, "S1", srv.URL)
	assert.Eventually(t, func() bool {
		f.sink.mu.Lock()
		defer f.sink.mu.Unlock()
		return len(f.sink.calls) == 1
	}, 2*time.Second, 5*time.Millisecond)
}

func TestPoller_ShutdownFinishesCurrentEntry(t *testing.T) {
	f := newFixture(t)
	srv := newFeedServer(t, rss("", item("a", "A", "https://x/a"), item("b", "B", "https://x/b")))
	f.subscribe(t, "S1", srv.URL)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.sink.before = cancel

	schedule, err := f.states.Schedule(context.Background())
	require.NoError(t, err)
	f.poller.pollFeeds(ctx, schedule, f.clock)

	calls := f.sink.taken()
	require.Len(t, calls, 1)
	assert.Equal(t, "a", calls[0].entry.ItemID)

	var seen int64
	require.NoError(t, f.db.Model(&models.DedupRecord{}).Count(&seen).Error)
	assert.EqualValues(t, 1, seen, "b stays unseen for the next poll")

	state, err := f.states.Get(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, f.clock, state.LastChecked.UTC())

	f.sink.before = nil
	f.cycle(t)
	calls = f.sink.taken()
	require.Len(t, calls, 1)
	assert.Equal(t, "b", calls[0].entry.ItemID)
}
